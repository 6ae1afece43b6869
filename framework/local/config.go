// Package local brings a complete local test cluster up and down: the anvil chain, contract
// provisioning, node processes and the optional on-disk snapshot.
package local

import (
	"path/filepath"
	"time"

	"github.com/hoprnet/localcluster/framework/local/cluster"
	"github.com/hoprnet/localcluster/framework/local/node"
	"go.uber.org/zap"
)

const (
	// DefaultRoot holds the fixtures of every suite.
	DefaultRoot = "/tmp/hopr-smoke-test"
	// DefaultPassword decrypts the pre-generated identities.
	DefaultPassword = "e2e-test"
	// DefaultIdentityPrefix selects the identities funded by the faucet.
	DefaultIdentityPrefix = "hopr"
	// DefaultSettleDelay lets contract deployments finalise before nodes start.
	DefaultSettleDelay = 5 * time.Second
	// OpenChannelFundingValue is the amount used when opening channels between all nodes.
	OpenChannelFundingValue = "1000"
)

// Config describes where a cluster lives and which tools it is built with.
type Config struct {
	Logger *zap.Logger
	// Suite names the fixtures directory under Root.
	Suite string
	Root  string
	// RepoRoot is the checkout providing scripts/, ethereum/contracts and the test fixtures.
	RepoRoot string
	BasePort int
	Size     int
	// Definitions default to cluster.DefaultDefinitions.
	Definitions []cluster.Definition
	Network     string

	IdentitiesDir          string
	ConfigTemplatesDir     string
	ProtocolConfigTemplate string
	DeploymentsFile        string
	ContractsRoot          string

	Password       string
	IdentityPrefix string
	NodeBin        string
	HopliBin       string
	ChainScript    string
	KillCommand    []string
	// Launcher starts node processes, node.ExecLauncher by default.
	Launcher node.Launcher

	Timeout     time.Duration
	SettleDelay time.Duration
	// Seed drives the random choices of the tests. Zero draws one.
	Seed int64
	// Tag is appended to node log file names.
	Tag string
}

// Flags toggle optional behaviour of a bring-up.
type Flags struct {
	// Snapshot reuses a usable snapshot, or creates one after a fresh bring-up.
	Snapshot bool
	// Interactive keeps the cluster running until the context ends, then tears it down.
	Interactive bool
	// SkipFunding leaves out the faucet step of a fresh bring-up.
	SkipFunding bool
	NAT         bool
	// Proxy starts the chain behind an RPC proxy.
	Proxy bool
}

// DefaultConfig returns the configuration of the reference six node cluster for suite.
func DefaultConfig(logger *zap.Logger, suite string, basePort int) Config {
	return Config{
		Logger:   logger,
		Suite:    suite,
		BasePort: basePort,
		Size:     len(cluster.DefaultDefinitions()),
	}.withDefaults()
}

func (c Config) withDefaults() Config {
	if c.Logger == nil {
		c.Logger = zap.NewNop()
	}
	if c.Root == "" {
		c.Root = DefaultRoot
	}
	if c.RepoRoot == "" {
		c.RepoRoot = "."
	}
	if len(c.Definitions) == 0 {
		c.Definitions = cluster.DefaultDefinitions()
	}
	if c.Size == 0 {
		c.Size = len(c.Definitions)
	}
	if c.Network == "" {
		c.Network = cluster.DefaultNetwork
	}
	if c.IdentitiesDir == "" {
		c.IdentitiesDir = filepath.Join(c.RepoRoot, "tests", "identities")
	}
	if c.ConfigTemplatesDir == "" {
		c.ConfigTemplatesDir = filepath.Join(c.RepoRoot, "tests")
	}
	if c.ProtocolConfigTemplate == "" {
		c.ProtocolConfigTemplate = filepath.Join(c.RepoRoot, "scripts", "protocol-config-anvil.json")
	}
	if c.DeploymentsFile == "" {
		c.DeploymentsFile = filepath.Join(c.RepoRoot, "ethereum", "contracts", "contracts-addresses.json")
	}
	if c.ContractsRoot == "" {
		c.ContractsRoot = "./ethereum/contracts"
	}
	if c.Password == "" {
		c.Password = DefaultPassword
	}
	if c.IdentityPrefix == "" {
		c.IdentityPrefix = DefaultIdentityPrefix
	}
	if c.Timeout <= 0 {
		c.Timeout = cluster.DefaultTimeout
	}
	if c.SettleDelay == 0 {
		c.SettleDelay = DefaultSettleDelay
	}
	return c
}

// FixturesDir is the directory holding identities, configs, logs and node data of the suite.
func (c Config) FixturesDir() string { return filepath.Join(c.Root, c.Suite) }

func (c Config) protocolConfigPath() string {
	return filepath.Join(c.FixturesDir(), "protocol-config.json")
}
