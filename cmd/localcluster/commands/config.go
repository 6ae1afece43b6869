package commands

import (
	"time"

	"github.com/hoprnet/localcluster/framework/local"
	"github.com/hoprnet/localcluster/framework/local/cluster"
	"go.uber.org/zap"
)

// CLIConfig collects the flags, environment variables and config file values of all commands.
type CLIConfig struct {
	Suite        string        `mapstructure:"suite"`
	Root         string        `mapstructure:"root"`
	Repo         string        `mapstructure:"repo"`
	BasePort     int           `mapstructure:"base-port"`
	Size         int           `mapstructure:"size"`
	Definitions  string        `mapstructure:"definitions"`
	NodeBin      string        `mapstructure:"node-bin"`
	HopliBin     string        `mapstructure:"hopli-bin"`
	Timeout      time.Duration `mapstructure:"timeout"`
	Seed         int64         `mapstructure:"seed"`
	Tag          string        `mapstructure:"tag"`
	Snapshot     bool          `mapstructure:"snapshot"`
	Interactive  bool          `mapstructure:"interactive"`
	SkipFunding  bool          `mapstructure:"skip-funding"`
	NAT          bool          `mapstructure:"nat"`
	Proxy        bool          `mapstructure:"proxy"`
	ConnectPeers bool          `mapstructure:"connect-peers"`
	LogLevel     string        `mapstructure:"log-level"`
}

// NewDefaultCLIConfig creates a CLIConfig with default values.
func NewDefaultCLIConfig() *CLIConfig {
	return &CLIConfig{
		Suite:       "local",
		Root:        local.DefaultRoot,
		Repo:        ".",
		BasePort:    3000,
		Size:        len(cluster.DefaultDefinitions()),
		Timeout:     cluster.DefaultTimeout,
		Snapshot:    true,
		Interactive: true,
		LogLevel:    "info",
	}
}

func (c *CLIConfig) definitions() ([]cluster.Definition, error) {
	if c.Definitions == "" {
		return cluster.DefaultDefinitions(), nil
	}
	return cluster.LoadDefinitions(c.Definitions)
}

// localConfig converts the CLI values into the orchestrator configuration.
func (c *CLIConfig) localConfig(logger *zap.Logger) (local.Config, local.Flags, error) {
	defs, err := c.definitions()
	if err != nil {
		return local.Config{}, local.Flags{}, err
	}

	cfg := local.Config{
		Logger:      logger,
		Suite:       c.Suite,
		Root:        c.Root,
		RepoRoot:    c.Repo,
		BasePort:    c.BasePort,
		Size:        c.Size,
		Definitions: defs,
		NodeBin:     c.NodeBin,
		HopliBin:    c.HopliBin,
		Timeout:     c.Timeout,
		Seed:        c.Seed,
		Tag:         c.Tag,
	}
	flags := local.Flags{
		Snapshot:    c.Snapshot,
		Interactive: c.Interactive,
		SkipFunding: c.SkipFunding,
		NAT:         c.NAT,
		Proxy:       c.Proxy,
	}
	return cfg, flags, nil
}
