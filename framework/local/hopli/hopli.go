// Package hopli wraps the provisioning CLI that creates and funds on-chain safes for node identities.
package hopli

import (
	"context"
	"fmt"

	"github.com/hoprnet/localcluster/framework/local/internal"
	"go.uber.org/zap"
)

// Config holds the parameters shared by every provisioning call.
type Config struct {
	Logger *zap.Logger
	// Bin is the provisioning binary, "hopli" by default.
	Bin string
	// Dir is the working directory the binary runs in.
	Dir           string
	Network       string
	ContractsRoot string
	ProviderURL   string
	// Password decrypts the identity files.
	Password string
	// PrivateKey is the funded deployer key of the local chain.
	PrivateKey string
	// IdentityDir and IdentityPrefix select the identities funded by Fund.
	IdentityDir    string
	IdentityPrefix string
	// SafeHoprAmount and SafeNativeAmount fund a newly created safe.
	SafeHoprAmount   string
	SafeNativeAmount string
	// FaucetNativeAmount is sent to every node address by Fund.
	FaucetNativeAmount string
}

// Client invokes the provisioning binary.
type Client struct {
	cfg    Config
	logger *zap.Logger
}

// New returns a client for cfg, filling unset amounts and binary with the local defaults.
func New(cfg Config) *Client {
	if cfg.Bin == "" {
		cfg.Bin = "hopli"
	}
	if cfg.SafeHoprAmount == "" {
		cfg.SafeHoprAmount = "100000.0"
	}
	if cfg.SafeNativeAmount == "" {
		cfg.SafeNativeAmount = "10.0"
	}
	if cfg.FaucetNativeAmount == "" {
		cfg.FaucetNativeAmount = "10.0"
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return &Client{cfg: cfg, logger: cfg.Logger.With(zap.String("component", "hopli"))}
}

func (c *Client) env() []string {
	return []string{
		"ETHERSCAN_API_KEY=anykey",
		"IDENTITY_PASSWORD=" + c.cfg.Password,
		"MANAGER_PRIVATE_KEY=" + c.cfg.PrivateKey,
		"PRIVATE_KEY=" + c.cfg.PrivateKey,
	}
}

// CreateSafeModule creates and funds a safe plus node module bound to the identity at identityPath
// and returns the addresses reported by the tool.
func (c *Client) CreateSafeModule(ctx context.Context, identityPath string) (SafeModule, error) {
	out, err := internal.Run(ctx, c.logger, internal.Command{
		Bin: c.cfg.Bin,
		Args: []string{
			"safe-module", "create",
			"--network", c.cfg.Network,
			"--identity-from-path", identityPath,
			"--contracts-root", c.cfg.ContractsRoot,
			"--hopr-amount", c.cfg.SafeHoprAmount,
			"--native-amount", c.cfg.SafeNativeAmount,
			"--provider-url", c.cfg.ProviderURL,
		},
		Env: c.env(),
		Dir: c.cfg.Dir,
	})
	if err != nil {
		return SafeModule{}, fmt.Errorf("create safe and module for %s: %w", identityPath, err)
	}

	res, err := ParseSafeModuleOutput(out)
	if err != nil {
		return SafeModule{}, fmt.Errorf("create safe and module for %s: %w", identityPath, err)
	}
	c.logger.Info("created safe and module",
		zap.String("identity", identityPath),
		zap.Stringer("safe", res.Safe),
		zap.Stringer("module", res.Module),
	)
	return res, nil
}

// Fund sends native tokens to every identity matching IdentityPrefix in IdentityDir.
func (c *Client) Fund(ctx context.Context) error {
	_, err := internal.Run(ctx, c.logger, internal.Command{
		Bin: c.cfg.Bin,
		Args: []string{
			"faucet",
			"--network", c.cfg.Network,
			"--identity-prefix", c.cfg.IdentityPrefix,
			"--identity-directory", c.cfg.IdentityDir,
			"--contracts-root", c.cfg.ContractsRoot,
			"--hopr-amount", "0.0",
			"--native-amount", c.cfg.FaucetNativeAmount,
			"--provider-url", c.cfg.ProviderURL,
		},
		Env: c.env(),
		Dir: c.cfg.Dir,
	})
	if err != nil {
		return fmt.Errorf("fund identities: %w", err)
	}
	return nil
}
