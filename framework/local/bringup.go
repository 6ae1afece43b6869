package local

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/hoprnet/localcluster/framework/local/chain"
	"github.com/hoprnet/localcluster/framework/local/cluster"
	"github.com/hoprnet/localcluster/framework/local/hopli"
	"github.com/hoprnet/localcluster/framework/local/internal"
	"github.com/hoprnet/localcluster/framework/local/node"
	"github.com/hoprnet/localcluster/framework/local/snapshot"
	"github.com/hoprnet/localcluster/framework/types"
	"go.uber.org/zap"
)

// Bringup starts the chain and a fully connected cluster as described by cfg.
//
// Without a usable snapshot the chain is started fresh, contracts are mirrored, safes are created
// and the nodes are brought up with funding. With snapshots enabled that cluster is then stopped,
// saved, and started again from the saved state, which is also the path taken when a usable
// snapshot already exists.
//
// On failure everything started so far is torn down and no cluster is returned. In interactive
// mode Bringup blocks until ctx ends, tears the cluster down and returns nil values.
func Bringup(ctx context.Context, cfg Config, flags Flags) (*cluster.Cluster, *chain.Chain, error) {
	cfg = cfg.withDefaults()
	logger := cfg.Logger.With(zap.String("component", "local"), zap.String("suite", cfg.Suite))

	if cfg.Seed == 0 {
		cfg.Seed = time.Now().UnixNano()
	}
	logger.Info("using random seed", zap.Int64("seed", cfg.Seed))

	dir := cfg.FixturesDir()
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, nil, fmt.Errorf("%w: create fixtures dir: %v", types.ErrIO, err)
	}
	logger.Info("setting up suite", zap.String("dir", dir), zap.Int("chain_port", cfg.BasePort))

	ch := newChain(cfg, flags)
	c, err := newCluster(cfg, flags)
	if err != nil {
		return nil, nil, err
	}

	ch.Kill(ctx)

	snap := snapshot.New(cfg.Logger, c, cfg.BasePort)
	reuse := flags.Snapshot && snap.Usable()

	if err := cleanupData(dir, node.DefaultPrefix); err != nil {
		return nil, nil, err
	}

	if !reuse {
		logger.Info("starting fresh cluster")
		if err := fresh(ctx, cfg, flags, c, ch); err != nil {
			Teardown(c, ch)
			return nil, nil, err
		}
		if !flags.Snapshot {
			return ready(ctx, logger, flags, c, ch)
		}

		logger.Info("taking snapshot")
		c.CleanUp(false)
		ch.Kill(ctx)
		if err := snap.Create(ch.StateFile()); err != nil {
			Teardown(c, ch)
			return nil, nil, err
		}

		if c, err = newCluster(cfg, flags); err != nil {
			Teardown(nil, ch)
			return nil, nil, err
		}
	} else {
		logger.Info("reusing snapshot", zap.String("dir", snap.Dir()))
		if err := snap.Reuse(); err != nil {
			Teardown(c, ch)
			return nil, nil, err
		}
	}

	if err := load(ctx, cfg, c, ch); err != nil {
		Teardown(c, ch)
		return nil, nil, err
	}
	return ready(ctx, logger, flags, c, ch)
}

func ready(ctx context.Context, logger *zap.Logger, flags Flags, c *cluster.Cluster, ch *chain.Chain) (*cluster.Cluster, *chain.Chain, error) {
	logger.Info("cluster ready", zap.Int("nodes", c.Size()))
	for _, n := range c.Nodes() {
		logger.Info("node",
			zap.String("name", n.Name()),
			zap.String("api", n.API().BaseURL),
			zap.Int("p2p", n.Ports().P2P),
			zap.Stringer("address", n.ChainAddress()),
		)
	}
	if !flags.Interactive {
		return c, ch, nil
	}

	logger.Info("running until interrupted")
	<-ctx.Done()
	Teardown(c, ch)
	return nil, nil, nil
}

// Teardown stops all nodes and the chain. Either may be nil. Failures are logged only.
func Teardown(c *cluster.Cluster, ch *chain.Chain) {
	if c != nil {
		c.CleanUp(false)
	}
	if ch != nil {
		ch.Kill(context.Background())
	}
}

func newChain(cfg Config, flags Flags) *chain.Chain {
	dir := cfg.FixturesDir()
	ccfg := chain.DefaultConfig(cfg.Logger)
	if cfg.ChainScript != "" {
		ccfg.Script = cfg.ChainScript
	}
	if cfg.KillCommand != nil {
		ccfg.KillCommand = cfg.KillCommand
	}
	ccfg.ScriptDir = filepath.Join(cfg.RepoRoot, "scripts")
	ccfg.KillDir = cfg.RepoRoot
	ccfg.LogFile = filepath.Join(dir, "anvil.log")
	ccfg.ConfigFile = filepath.Join(dir, "anvil.cfg")
	ccfg.StateFile = filepath.Join(dir, snapshot.StateFileName)
	ccfg.Port = cfg.BasePort
	ccfg.Proxy = flags.Proxy
	return chain.New(ccfg)
}

func newCluster(cfg Config, flags Flags) (*cluster.Cluster, error) {
	return cluster.New(cluster.Config{
		Logger:         cfg.Logger,
		Dir:            cfg.FixturesDir(),
		BasePort:       cfg.BasePort,
		NAT:            flags.NAT,
		Bin:            cfg.NodeBin,
		Launcher:       cfg.Launcher,
		Password:       cfg.Password,
		ProtocolConfig: cfg.protocolConfigPath(),
		ChainConfig:    filepath.Join(cfg.FixturesDir(), "anvil.cfg"),
		WorkDir:        cfg.RepoRoot,
		Tag:            cfg.Tag,
		Timeout:        cfg.Timeout,
		Seed:           cfg.Seed,
	}, cfg.Definitions, cfg.Size)
}

func fresh(ctx context.Context, cfg Config, flags Flags, c *cluster.Cluster, ch *chain.Chain) error {
	if err := ch.Run(ctx, chain.Fresh); err != nil {
		return err
	}

	if err := internal.CopyFile(cfg.ProtocolConfigTemplate, cfg.protocolConfigPath()); err != nil {
		return fmt.Errorf("%w: copy protocol config: %v", types.ErrIO, err)
	}
	if err := chain.MirrorContracts(cfg.protocolConfigPath(), cfg.DeploymentsFile, cfg.Network, cfg.Network); err != nil {
		return err
	}

	if err := copyIdentities(cfg, c); err != nil {
		return err
	}

	key, err := ch.PrivateKey(0)
	if err != nil {
		return err
	}
	provisioner := hopli.New(hopli.Config{
		Logger:         cfg.Logger,
		Bin:            cfg.HopliBin,
		Dir:            cfg.RepoRoot,
		Network:        cfg.Network,
		ContractsRoot:  cfg.ContractsRoot,
		ProviderURL:    ch.RPCURL(),
		Password:       cfg.Password,
		PrivateKey:     key,
		IdentityDir:    cfg.FixturesDir(),
		IdentityPrefix: cfg.IdentityPrefix,
	})
	for _, n := range c.Nodes() {
		if err := n.CreateLocalSafe(ctx, provisioner); err != nil {
			return err
		}
	}

	if err := settle(ctx, cfg.SettleDelay); err != nil {
		return err
	}

	var funder cluster.Funder
	if !flags.SkipFunding {
		funder = provisioner
	}
	return c.SharedBringup(ctx, funder)
}

func load(ctx context.Context, cfg Config, c *cluster.Cluster, ch *chain.Chain) error {
	if err := ch.Run(ctx, chain.Load); err != nil {
		return err
	}
	if err := copyIdentities(cfg, c); err != nil {
		return err
	}
	for _, n := range c.Nodes() {
		if err := n.LoadAddresses(); err != nil {
			return err
		}
	}
	if err := settle(ctx, cfg.SettleDelay); err != nil {
		return err
	}
	return c.SharedBringup(ctx, nil)
}

func settle(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}
