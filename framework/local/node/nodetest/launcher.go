// Package nodetest provides a node launcher that serves fake node APIs instead of spawning processes.
package nodetest

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"sync"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/hoprnet/localcluster/framework/local/api"
	"github.com/hoprnet/localcluster/framework/local/api/apitest"
	"github.com/hoprnet/localcluster/framework/local/internal"
	"github.com/hoprnet/localcluster/framework/local/node"
	"github.com/stretchr/testify/require"
)

// Launcher serves an apitest.FakeNode on the API port of every launched node. Each fake requires
// the API token found in the node arguments. Launched fakes see each other as connected peers
// unless Isolated is set.
type Launcher struct {
	// Isolated stops fakes from reporting each other as peers.
	Isolated bool
	// Configure, if set, adjusts a fake before it starts serving.
	Configure func(spec node.LaunchSpec, fake *apitest.FakeNode)
	// Fail makes every launch fail with this error.
	Fail error

	mu       sync.Mutex
	fakes    map[string]*apitest.FakeNode
	launches map[string]node.LaunchSpec
}

var _ node.Launcher = (*Launcher)(nil)

// Address returns the chain address reported by the fake of the named node.
func Address(name string) common.Address {
	return common.BytesToAddress(crypto.Keccak256([]byte(name)))
}

func (l *Launcher) Launch(_ context.Context, spec node.LaunchSpec) (node.Process, error) {
	if l.Fail != nil {
		return nil, l.Fail
	}

	token := internal.ParseCommandLineArgs(spec.Args)["api-token"]
	fake := apitest.NewFakeNode(Address(spec.Name).Hex(), token)
	if l.Configure != nil {
		l.Configure(spec, fake)
	}

	lis, err := net.Listen("tcp", fmt.Sprintf("127.0.0.1:%d", spec.Ports.API))
	if err != nil {
		return nil, err
	}
	srv := &http.Server{Handler: fake}
	go func() { _ = srv.Serve(lis) }()

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.fakes == nil {
		l.fakes = make(map[string]*apitest.FakeNode)
		l.launches = make(map[string]node.LaunchSpec)
	}
	l.fakes[spec.Name] = fake
	l.launches[spec.Name] = spec
	if !l.Isolated {
		l.meshLocked()
	}
	return &process{srv: srv, port: spec.Ports.API}, nil
}

// meshLocked makes every fake report every other fake as a peer of full quality.
func (l *Launcher) meshLocked() {
	for name, fake := range l.fakes {
		var peers []api.Peer
		for other := range l.fakes {
			if other != name {
				peers = append(peers, api.Peer{Address: Address(other).Hex(), Quality: 1})
			}
		}
		fake.SetPeers(peers...)
	}
}

// Fake returns the fake serving the named node, nil if it was never launched.
func (l *Launcher) Fake(name string) *apitest.FakeNode {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.fakes[name]
}

// Spec returns the launch spec of the named node.
func (l *Launcher) Spec(name string) (node.LaunchSpec, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	spec, ok := l.launches[name]
	return spec, ok
}

// Launched returns how many nodes were launched.
func (l *Launcher) Launched() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.fakes)
}

type process struct {
	srv  *http.Server
	port int
}

// Pid returns the API port so log lines stay distinguishable.
func (p *process) Pid() int { return p.port }

func (p *process) Kill() error { return p.srv.Close() }

// FreeBasePort returns a base port whose band of 3*size+1 ports is currently unused.
func FreeBasePort(t testing.TB, size int) int {
	t.Helper()
	for attempt := 0; attempt < 20; attempt++ {
		lis, err := net.Listen("tcp", "127.0.0.1:0")
		require.NoError(t, err)
		base := lis.Addr().(*net.TCPAddr).Port
		require.NoError(t, lis.Close())

		if base+3*size < 65535 && bandFree(base, 3*size+1) {
			return base
		}
	}
	t.Fatal("no free port band found")
	return 0
}

func bandFree(base, n int) bool {
	for p := base; p < base+n; p++ {
		lis, err := net.Listen("tcp", fmt.Sprintf("127.0.0.1:%d", p))
		if err != nil {
			return false
		}
		_ = lis.Close()
	}
	return true
}
