// Package cluster groups the nodes of a local test network and drives their shared bring-up.
package cluster

import (
	"fmt"
	"math/rand"
	"sort"
	"time"

	"github.com/hoprnet/localcluster/framework/local/node"
	"github.com/hoprnet/localcluster/framework/types"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// DefaultTimeout bounds the started and ready phases; peer convergence gets twice as long.
const DefaultTimeout = 60 * time.Second

// Config holds everything the nodes of a cluster share.
type Config struct {
	Logger *zap.Logger
	// Dir is the fixtures directory of the suite.
	Dir      string
	Prefix   string
	BasePort int
	NAT      bool
	// Bin is the node binary.
	Bin      string
	Launcher node.Launcher

	Password string
	// ProtocolConfig and ChainConfig are file paths inside Dir.
	ProtocolConfig string
	ChainConfig    string
	// WorkDir is the working directory of node processes.
	WorkDir string
	// Tag is appended to node log file names.
	Tag     string
	Timeout time.Duration
	// Seed drives Rand. Zero draws a random seed.
	Seed int64
}

// Cluster is a set of nodes keyed by their id, "1" to "n".
type Cluster struct {
	cfg    Config
	logger *zap.Logger
	nodes  map[string]*node.Node
	rng    *rand.Rand
}

// New builds a cluster of the first size definitions and assigns every node its ports.
// A size outside [1, len(defs)] is clamped with a warning.
func New(cfg Config, defs []Definition, size int) (*Cluster, error) {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.Seed == 0 {
		cfg.Seed = time.Now().UnixNano()
	}
	logger := cfg.Logger.With(zap.String("component", "cluster"))

	if len(defs) == 0 {
		return nil, fmt.Errorf("%w: no node definitions", types.ErrConfiguration)
	}
	if size > len(defs) {
		logger.Warn("cluster size exceeds node definitions, clamping", zap.Int("requested", size), zap.Int("size", len(defs)))
		size = len(defs)
	}
	if size < 1 {
		logger.Warn("cluster size below one, clamping", zap.Int("requested", size))
		size = 1
	}

	c := &Cluster{
		cfg:    cfg,
		logger: logger,
		nodes:  make(map[string]*node.Node, size),
		rng:    rand.New(rand.NewSource(cfg.Seed)),
	}
	for i, d := range defs[:size] {
		n := node.New(node.Config{
			Logger:     cfg.Logger,
			ID:         i + 1,
			Network:    d.Network,
			Host:       d.Host,
			APIToken:   d.APIToken,
			ConfigFile: d.ConfigFile,
			Dir:        cfg.Dir,
			Prefix:     cfg.Prefix,
			BasePort:   cfg.BasePort,
			NAT:        cfg.NAT,
			Bin:        cfg.Bin,
			Launcher:   cfg.Launcher,
		})
		if err := n.Prepare(size); err != nil {
			return nil, err
		}
		c.nodes[n.Key()] = n
	}
	return c, nil
}

func (c *Cluster) Size() int { return len(c.nodes) }

// Node returns the node with the given key, nil if there is none.
func (c *Cluster) Node(key string) *node.Node { return c.nodes[key] }

// Nodes returns all nodes ordered by id.
func (c *Cluster) Nodes() []*node.Node {
	out := make([]*node.Node, 0, len(c.nodes))
	for _, n := range c.nodes {
		out = append(out, n)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID() < out[j].ID() })
	return out
}

// Keys returns the node keys ordered by id.
func (c *Cluster) Keys() []string {
	keys := make([]string, 0, len(c.nodes))
	for _, n := range c.Nodes() {
		keys = append(keys, n.Key())
	}
	return keys
}

func (c *Cluster) Seed() int64 { return c.cfg.Seed }

// Rand is the random source seeded with Seed. It is not safe for concurrent use.
func (c *Cluster) Rand() *rand.Rand { return c.rng }

func (c *Cluster) BasePort() int { return c.cfg.BasePort }

func (c *Cluster) Dir() string { return c.cfg.Dir }

func (c *Cluster) ProtocolConfig() string { return c.cfg.ProtocolConfig }

func (c *Cluster) ChainConfig() string { return c.cfg.ChainConfig }

// RandomDistinctPairs draws count distinct ordered pairs of different keys using the cluster seed.
func (c *Cluster) RandomDistinctPairs(keys []string, count int) ([][2]string, error) {
	var pairs [][2]string
	for _, l := range keys {
		for _, r := range keys {
			if l != r {
				pairs = append(pairs, [2]string{l, r})
			}
		}
	}
	if count < 0 || count > len(pairs) {
		return nil, fmt.Errorf("%w: cannot draw %d pairs out of %d", types.ErrConfiguration, count, len(pairs))
	}

	out := make([][2]string, count)
	for i, p := range c.rng.Perm(len(pairs))[:count] {
		out[i] = pairs[p]
	}
	return out, nil
}

// CleanUp tears every node down. Failures are logged by the nodes and never stop the others.
func (c *Cluster) CleanUp(removeData bool) {
	c.logger.Info("tearing down cluster", zap.Int("nodes", c.Size()))
	var g errgroup.Group
	for _, n := range c.Nodes() {
		n := n
		g.Go(func() error {
			n.CleanUp(removeData)
			return nil
		})
	}
	_ = g.Wait()
}
