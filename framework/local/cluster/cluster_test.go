package cluster

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/hoprnet/localcluster/framework/local/api"
	"github.com/hoprnet/localcluster/framework/local/api/apitest"
	"github.com/hoprnet/localcluster/framework/local/node"
	"github.com/hoprnet/localcluster/framework/local/node/nodetest"
	"github.com/hoprnet/localcluster/framework/types"
	"github.com/stretchr/testify/require"
	"go.uber.org/multierr"
	"go.uber.org/zap/zaptest"
)

func localDefinitions(networks ...string) []Definition {
	defs := make([]Definition, len(networks))
	for i, nw := range networks {
		defs[i] = Definition{Network: nw, Host: "127.0.0.1", ConfigFile: "barebone.cfg.yaml"}
		if i%2 == 0 {
			defs[i].APIToken = DefaultAPIToken
		}
	}
	return defs
}

func testConfig(t *testing.T, size int, launcher node.Launcher) Config {
	return Config{
		Logger:   zaptest.NewLogger(t),
		Dir:      t.TempDir(),
		BasePort: nodetest.FreeBasePort(t, size),
		Launcher: launcher,
		Password: "e2e-test",
		Timeout:  5 * time.Second,
		Seed:     42,
	}
}

type countingFunder struct{ calls atomic.Int32 }

func (f *countingFunder) Fund(context.Context) error {
	f.calls.Add(1)
	return nil
}

func TestNew(t *testing.T) {
	cfg := Config{Logger: zaptest.NewLogger(t), Dir: t.TempDir(), BasePort: 10000}

	t.Run("size is clamped to the definitions", func(t *testing.T) {
		c, err := New(cfg, DefaultDefinitions(), 10)
		require.NoError(t, err)
		require.Equal(t, 6, c.Size())
		require.Equal(t, []string{"1", "2", "3", "4", "5", "6"}, c.Keys())
	})

	t.Run("size below one becomes one", func(t *testing.T) {
		c, err := New(cfg, DefaultDefinitions(), 0)
		require.NoError(t, err)
		require.Equal(t, 1, c.Size())
		require.NotNil(t, c.Node("1"))
		require.Nil(t, c.Node("2"))
	})

	t.Run("ports are disjoint", func(t *testing.T) {
		for size := 1; size <= 6; size++ {
			c, err := New(cfg, DefaultDefinitions(), size)
			require.NoError(t, err)

			seen := make(map[int]bool)
			for _, n := range c.Nodes() {
				p := n.Ports()
				require.Equal(t, types.PortsAssigned, n.State())
				require.Equal(t, 10000, p.Chain)
				for _, port := range []int{p.API, p.P2P} {
					require.False(t, seen[port], "size %d: port %d reused", size, port)
					seen[port] = true
				}
			}
		}
	})

	t.Run("definitions are applied by position", func(t *testing.T) {
		c, err := New(cfg, DefaultDefinitions(), 6)
		require.NoError(t, err)
		require.Empty(t, c.Node("2").APIToken())
		require.Equal(t, "default.cfg.yaml", c.Node("5").ConfigFile())
		require.Equal(t, "barebone-lower-win-prob.cfg.yaml", c.Node("6").ConfigFile())
	})

	t.Run("no definitions", func(t *testing.T) {
		_, err := New(cfg, nil, 3)
		require.ErrorIs(t, err, types.ErrConfiguration)
	})

	t.Run("bad base port", func(t *testing.T) {
		bad := cfg
		bad.BasePort = 0
		_, err := New(bad, DefaultDefinitions(), 3)
		require.ErrorIs(t, err, types.ErrConfiguration)
	})
}

func TestLoadDefinitions(t *testing.T) {
	dir := t.TempDir()
	write := func(name, content string) string {
		path := filepath.Join(dir, name)
		require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
		return path
	}

	t.Run("valid", func(t *testing.T) {
		defs, err := LoadDefinitions(write("ok.toml", `
[[node]]
network = "anvil-localhost"
host = "127.0.0.1"
api_token = "secret"
config_file = "barebone.cfg.yaml"

[[node]]
network = "anvil-localhost"
`))
		require.NoError(t, err)
		require.Equal(t, []Definition{
			{Network: "anvil-localhost", Host: "127.0.0.1", APIToken: "secret", ConfigFile: "barebone.cfg.yaml"},
			{Network: "anvil-localhost", Host: "localhost"},
		}, defs)
	})

	for name, content := range map[string]string{
		"empty.toml":   ``,
		"unknown.toml": "[[node]]\nnetwork = \"a\"\nport = 3\n",
		"nonet.toml":   "[[node]]\nhost = \"localhost\"\n",
		"broken.toml":  "[[node]\n",
	} {
		t.Run(name, func(t *testing.T) {
			_, err := LoadDefinitions(write(name, content))
			require.ErrorIs(t, err, types.ErrConfiguration)
		})
	}
}

func TestConfigFiles(t *testing.T) {
	require.Equal(t,
		[]string{"barebone.cfg.yaml", "default.cfg.yaml", "barebone-lower-win-prob.cfg.yaml"},
		ConfigFiles(DefaultDefinitions()),
	)
	require.Empty(t, ConfigFiles([]Definition{{Network: "a"}}))
}

func TestRandomDistinctPairs(t *testing.T) {
	cfg := Config{BasePort: 10000, Seed: 7}
	a, err := New(cfg, DefaultDefinitions(), 4)
	require.NoError(t, err)
	b, err := New(cfg, DefaultDefinitions(), 4)
	require.NoError(t, err)

	pairsA, err := a.RandomDistinctPairs(a.Keys(), 5)
	require.NoError(t, err)
	pairsB, err := b.RandomDistinctPairs(b.Keys(), 5)
	require.NoError(t, err)
	require.Equal(t, pairsA, pairsB)

	seen := make(map[[2]string]bool)
	for _, p := range pairsA {
		require.NotEqual(t, p[0], p[1])
		require.False(t, seen[p])
		seen[p] = true
	}

	all, err := a.RandomDistinctPairs(a.Keys(), 12)
	require.NoError(t, err)
	require.Len(t, all, 12)

	_, err = a.RandomDistinctPairs(a.Keys(), 13)
	require.ErrorIs(t, err, types.ErrConfiguration)
}

func TestSharedBringup(t *testing.T) {
	ctx := context.Background()
	launcher := &nodetest.Launcher{}
	c, err := New(testConfig(t, 4, launcher), localDefinitions("a", "a", "a", "a"), 4)
	require.NoError(t, err)
	defer c.CleanUp(true)

	funder := &countingFunder{}
	require.NoError(t, c.SharedBringup(ctx, funder))
	require.EqualValues(t, 1, funder.calls.Load())
	require.Equal(t, 4, launcher.Launched())

	for _, n := range c.Nodes() {
		require.Equal(t, types.Connected, n.State())
		require.Equal(t, nodetest.Address(n.Name()), n.ChainAddress())
	}

	t.Run("connect peers", func(t *testing.T) {
		require.NoError(t, c.ConnectPeers(ctx, "1000"))
		for _, n := range c.Nodes() {
			require.Len(t, launcher.Fake(n.Name()).Channels(), 3)
			require.NotContains(t, launcher.Fake(n.Name()).Channels(), n.ChainAddress().Hex())
		}
	})

	t.Run("channel failures are aggregated", func(t *testing.T) {
		c.Node("3").CleanUp(false)
		err := c.ConnectPeers(ctx, "1000")
		require.Error(t, err)
		require.Len(t, multierr.Errors(err), 3)
	})
}

func TestSharedBringupPerNetwork(t *testing.T) {
	launcher := &nodetest.Launcher{
		Isolated: true,
		Configure: func(spec node.LaunchSpec, fake *apitest.FakeNode) {
			switch spec.Name {
			case "hopr-node_1":
				fake.SetPeers(api.Peer{Address: nodetest.Address("hopr-node_2").Hex(), Quality: 0.5})
			case "hopr-node_2":
				fake.SetPeers(api.Peer{Address: nodetest.Address("hopr-node_1").Hex(), Quality: 1})
			}
		},
	}
	c, err := New(testConfig(t, 3, launcher), localDefinitions("a", "a", "b"), 3)
	require.NoError(t, err)
	defer c.CleanUp(true)

	require.NoError(t, c.SharedBringup(context.Background(), nil))
	for _, n := range c.Nodes() {
		require.Equal(t, types.Connected, n.State())
	}
}

func TestSharedBringupFailures(t *testing.T) {
	t.Run("a node never becomes ready", func(t *testing.T) {
		launcher := &nodetest.Launcher{
			Configure: func(spec node.LaunchSpec, fake *apitest.FakeNode) {
				if spec.Name == "hopr-node_2" {
					fake.SetReady(false)
				}
			},
		}
		cfg := testConfig(t, 3, launcher)
		cfg.Timeout = time.Second
		c, err := New(cfg, localDefinitions("a", "a", "a"), 3)
		require.NoError(t, err)
		defer c.CleanUp(true)

		funder := &countingFunder{}
		err = c.SharedBringup(context.Background(), funder)
		require.ErrorIs(t, err, types.ErrTimeout)
		require.EqualValues(t, 1, funder.calls.Load())
		for _, n := range c.Nodes() {
			require.NotEqual(t, types.Connected, n.State())
		}
		require.Equal(t, types.Starting, c.Node("2").State())
	})

	t.Run("peers never converge", func(t *testing.T) {
		cfg := testConfig(t, 2, &nodetest.Launcher{Isolated: true})
		cfg.Timeout = 500 * time.Millisecond
		c, err := New(cfg, localDefinitions("a", "a"), 2)
		require.NoError(t, err)
		defer c.CleanUp(true)

		err = c.SharedBringup(context.Background(), nil)
		require.ErrorIs(t, err, types.ErrTimeout)
		for _, n := range c.Nodes() {
			require.Equal(t, types.Ready, n.State())
		}
	})

	t.Run("node fails to launch", func(t *testing.T) {
		launchErr := errors.New("exec format error")
		c, err := New(testConfig(t, 2, &nodetest.Launcher{Fail: launchErr}), localDefinitions("a", "a"), 2)
		require.NoError(t, err)

		err = c.SharedBringup(context.Background(), &countingFunder{})
		require.ErrorIs(t, err, launchErr)
		require.Equal(t, types.PortsAssigned, c.Node("1").State())
	})

	t.Run("node reports no address", func(t *testing.T) {
		launcher := &nodetest.Launcher{
			Configure: func(spec node.LaunchSpec, fake *apitest.FakeNode) { fake.SetAddress("") },
		}
		c, err := New(testConfig(t, 2, launcher), localDefinitions("a", "a"), 2)
		require.NoError(t, err)
		defer c.CleanUp(true)

		err = c.SharedBringup(context.Background(), nil)
		require.ErrorIs(t, err, types.ErrProvisioning)
	})
}
