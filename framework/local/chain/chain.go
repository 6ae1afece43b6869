// Package chain controls the local anvil chain shared by all nodes of a cluster.
package chain

import (
	"context"
	"crypto/ecdsa"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/hoprnet/localcluster/framework/local/internal"
	"github.com/hoprnet/localcluster/framework/types"
	"go.uber.org/zap"
)

// Mode selects how the chain state is initialised.
type Mode int

const (
	// Fresh deploys the contracts on an empty chain and dumps the state on shutdown.
	Fresh Mode = iota
	// Load restores a previously dumped state.
	Load
)

func (m Mode) String() string {
	if m == Load {
		return "load"
	}
	return "fresh"
}

// Config describes the chain process and the files it reads and writes.
type Config struct {
	Logger *zap.Logger
	// Script starts the chain, deploys contracts and returns once the chain is up.
	Script string
	// ScriptDir is the working directory of Script.
	ScriptDir string
	// KillCommand stops the chain; "port=<port>" is appended.
	KillCommand []string
	// KillDir is the working directory of KillCommand.
	KillDir    string
	LogFile    string
	ConfigFile string
	StateFile  string
	Port       int
	// Proxy starts an RPC proxy in front of the chain.
	Proxy bool
}

// DefaultConfig returns the configuration used by the repository scripts.
func DefaultConfig(logger *zap.Logger) Config {
	return Config{
		Logger:      logger,
		Script:      "./run-local-anvil.sh",
		KillCommand: []string{"make", "kill-anvil"},
	}
}

// Chain is a handle on the local chain process.
type Chain struct {
	cfg    Config
	logger *zap.Logger
}

func New(cfg Config) *Chain {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return &Chain{
		cfg:    cfg,
		logger: cfg.Logger.With(zap.String("component", "chain"), zap.Int("port", cfg.Port)),
	}
}

func (c *Chain) Port() int { return c.cfg.Port }

func (c *Chain) StateFile() string { return c.cfg.StateFile }

func (c *Chain) ConfigFile() string { return c.cfg.ConfigFile }

// RPCURL is the JSON-RPC endpoint nodes and tools connect to.
func (c *Chain) RPCURL() string { return fmt.Sprintf("http://127.0.0.1:%d", c.cfg.Port) }

// Args returns the control script arguments for mode.
func (c *Chain) Args(mode Mode) []string {
	var args []string
	if mode == Load {
		args = append(args, "-s")
	}
	args = append(args,
		"-l", c.cfg.LogFile,
		"-c", c.cfg.ConfigFile,
		"-p", strconv.Itoa(c.cfg.Port),
	)
	if mode == Load {
		args = append(args, "-ls", c.cfg.StateFile)
	} else {
		args = append(args, "-ds", c.cfg.StateFile)
	}
	if c.cfg.Proxy {
		args = append(args, "-x")
	}
	return args
}

// Run starts the chain and blocks until the control script returns.
func (c *Chain) Run(ctx context.Context, mode Mode) error {
	c.logger.Info("starting chain", zap.Stringer("mode", mode), zap.String("state", c.cfg.StateFile))
	_, err := internal.Run(ctx, c.logger, internal.Command{
		Bin:  c.cfg.Script,
		Args: c.Args(mode),
		Dir:  c.cfg.ScriptDir,
	})
	if err != nil {
		return fmt.Errorf("start chain (%s): %w", mode, err)
	}

	if height, err := c.BlockNumber(ctx); err != nil {
		c.logger.Warn("chain started but head is unknown", zap.Error(err))
	} else {
		c.logger.Info("chain started", zap.Uint64("height", height))
	}
	return nil
}

// Kill stops whatever chain listens on the configured port. Errors are logged only.
func (c *Chain) Kill(ctx context.Context) {
	if len(c.cfg.KillCommand) == 0 {
		return
	}
	args := append(append([]string(nil), c.cfg.KillCommand[1:]...), fmt.Sprintf("port=%d", c.cfg.Port))
	_, err := internal.Run(ctx, c.logger, internal.Command{
		Bin:  c.cfg.KillCommand[0],
		Args: args,
		Dir:  c.cfg.KillDir,
	})
	if err != nil {
		c.logger.Warn("failed to stop chain", zap.Error(err))
		return
	}
	c.logger.Info("chain stopped")
}

// BlockNumber returns the current head of the chain.
func (c *Chain) BlockNumber(ctx context.Context) (uint64, error) {
	client, err := ethclient.DialContext(ctx, c.RPCURL())
	if err != nil {
		return 0, err
	}
	defer client.Close()
	return client.BlockNumber(ctx)
}

type chainConfig struct {
	PrivateKeys []string `json:"private_keys"`
}

// PrivateKey returns the funded account key at pos from the chain config file.
func (c *Chain) PrivateKey(pos int) (string, error) {
	bz, err := os.ReadFile(c.cfg.ConfigFile)
	if err != nil {
		return "", fmt.Errorf("%w: read chain config: %v", types.ErrIO, err)
	}

	var cfg chainConfig
	if err := json.Unmarshal(bz, &cfg); err != nil {
		return "", fmt.Errorf("%w: parse %s: %v", types.ErrConfiguration, c.cfg.ConfigFile, err)
	}
	if pos < 0 || pos >= len(cfg.PrivateKeys) {
		return "", fmt.Errorf("%w: no private key at position %d in %s", types.ErrConfiguration, pos, c.cfg.ConfigFile)
	}

	key := cfg.PrivateKeys[pos]
	if _, err := parseKey(key); err != nil {
		return "", fmt.Errorf("%w: private key %d: %v", types.ErrConfiguration, pos, err)
	}
	return key, nil
}

func parseKey(hexKey string) (*ecdsa.PrivateKey, error) {
	return crypto.HexToECDSA(strings.TrimPrefix(hexKey, "0x"))
}
