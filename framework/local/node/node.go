// Package node manages a single relay node process of a local cluster.
package node

import (
	"fmt"
	"path/filepath"
	"strconv"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/hoprnet/localcluster/framework/local/api"
	"github.com/hoprnet/localcluster/framework/types"
	"go.uber.org/zap"
)

const (
	// DefaultPrefix names identity, env, log and data files of every node.
	DefaultPrefix = "hopr-node"
	// DefaultBin is the node binary looked up in PATH.
	DefaultBin = "hoprd"
	// maxPort is the highest usable TCP port.
	maxPort = 65535
)

// Config describes one node of the cluster.
type Config struct {
	Logger *zap.Logger
	// ID is the 1-based position of the node in the cluster definition list.
	ID      int
	Network string
	Host    string
	// APIToken protects the node API. Empty disables API authentication.
	APIToken string
	// ConfigFile is the name of the node config template inside Dir, if any.
	ConfigFile string
	// Dir is the fixtures directory holding identities, env files, logs and data.
	Dir      string
	Prefix   string
	BasePort int
	// NAT sets HOPRD_NAT=true in the node environment.
	NAT      bool
	Bin      string
	Launcher Launcher
}

// Node is a single relay node. All methods are safe for concurrent use.
type Node struct {
	cfg    Config
	logger *zap.Logger

	mu        sync.Mutex
	state     types.NodeState
	ports     types.NodePorts
	chainAddr common.Address
	safe      common.Address
	module    common.Address
	proc      Process
	client    *api.Client
}

// New returns an unconfigured node. Call Prepare before anything else.
func New(cfg Config) *Node {
	if cfg.Prefix == "" {
		cfg.Prefix = DefaultPrefix
	}
	if cfg.Bin == "" {
		cfg.Bin = DefaultBin
	}
	if cfg.Host == "" {
		cfg.Host = "localhost"
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Launcher == nil {
		cfg.Launcher = ExecLauncher{}
	}
	return &Node{
		cfg:    cfg,
		logger: cfg.Logger.With(zap.String("component", "node"), zap.Int("i", cfg.ID)),
	}
}

// Prepare assigns the node its ports. For a cluster of the given size, with base port b
// and node id i, the API port is b+i, the p2p port b+size+i and the console port b+2*size+i.
// The chain listens on b itself. Prepare is idempotent.
func (n *Node) Prepare(size int) error {
	if n.cfg.ID < 1 || n.cfg.ID > size {
		return fmt.Errorf("%w: node id %d outside cluster of size %d", types.ErrConfiguration, n.cfg.ID, size)
	}
	if n.cfg.BasePort < 1 || n.cfg.BasePort+3*size > maxPort {
		return fmt.Errorf("%w: base port %d cannot hold %d nodes", types.ErrConfiguration, n.cfg.BasePort, size)
	}

	ports := types.NodePorts{
		Chain:   n.cfg.BasePort,
		API:     n.cfg.BasePort + n.cfg.ID,
		P2P:     n.cfg.BasePort + size + n.cfg.ID,
		Console: n.cfg.BasePort + 2*size + n.cfg.ID,
	}

	n.mu.Lock()
	defer n.mu.Unlock()
	n.ports = ports
	n.client = api.New(fmt.Sprintf("http://%s:%d", n.cfg.Host, ports.API), n.cfg.APIToken)
	n.advance(types.PortsAssigned)
	return nil
}

// advance moves the node forward to s. Backward moves are ignored. Callers hold mu.
func (n *Node) advance(s types.NodeState) {
	if s <= n.state {
		return
	}
	n.logger.Debug("state change", zap.Stringer("from", n.state), zap.Stringer("to", s))
	n.state = s
}

// MarkConnected records that the node sees all of its required peers.
func (n *Node) MarkConnected() {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.advance(types.Connected)
}

func (n *Node) State() types.NodeState {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.state
}

func (n *Node) Ports() types.NodePorts {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.ports
}

func (n *Node) ID() int { return n.cfg.ID }

// Key is the cluster map key of the node.
func (n *Node) Key() string { return strconv.Itoa(n.cfg.ID) }

func (n *Node) Network() string { return n.cfg.Network }

func (n *Node) Host() string { return n.cfg.Host }

func (n *Node) APIToken() string { return n.cfg.APIToken }

func (n *Node) ConfigFile() string { return n.cfg.ConfigFile }

// Name is the file stem shared by all files of the node, e.g. "hopr-node_3".
func (n *Node) Name() string { return fmt.Sprintf("%s_%d", n.cfg.Prefix, n.cfg.ID) }

func (n *Node) IdentityPath() string { return filepath.Join(n.cfg.Dir, n.Name()+".id") }

func (n *Node) EnvPath() string { return filepath.Join(n.cfg.Dir, n.Name()+".env") }

func (n *Node) DataDir() string { return filepath.Join(n.cfg.Dir, n.Name()) }

// LogPath returns the log file of the node; a non-empty tag distinguishes reruns.
func (n *Node) LogPath(tag string) string {
	if tag == "" {
		return filepath.Join(n.cfg.Dir, n.Name()+".log")
	}
	return filepath.Join(n.cfg.Dir, fmt.Sprintf("%s-%s.log", n.Name(), tag))
}

// ChainAddress is the native address reported by the node, zero until FetchChainAddress succeeds.
func (n *Node) ChainAddress() common.Address {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.chainAddr
}

func (n *Node) SafeAddress() common.Address {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.safe
}

func (n *Node) ModuleAddress() common.Address {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.module
}

// API returns the client of the node API, nil before Prepare.
func (n *Node) API() *api.Client {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.client
}

func (n *Node) String() string {
	return fmt.Sprintf("%s(api=%d, p2p=%d)", n.Name(), n.Ports().API, n.Ports().P2P)
}
