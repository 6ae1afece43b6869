package node

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/hoprnet/localcluster/framework/local/hopli"
	"github.com/hoprnet/localcluster/framework/types"
	"github.com/subosito/gotenv"
	"go.uber.org/zap"
)

const (
	safeAddressKey   = "HOPRD_SAFE_ADDRESS"
	moduleAddressKey = "HOPRD_MODULE_ADDRESS"
)

// SafeCreator creates the on-chain safe and module of a node identity.
type SafeCreator interface {
	CreateSafeModule(ctx context.Context, identityPath string) (hopli.SafeModule, error)
}

var _ SafeCreator = (*hopli.Client)(nil)

// CreateLocalSafe provisions the safe and module of the node and persists them to the env file.
// Nothing is written unless both addresses were obtained.
func (n *Node) CreateLocalSafe(ctx context.Context, creator SafeCreator) error {
	res, err := creator.CreateSafeModule(ctx, n.IdentityPath())
	if err != nil {
		return fmt.Errorf("create safe for %s: %w", n.Name(), err)
	}

	env := gotenv.Env{
		safeAddressKey:   res.Safe.Hex(),
		moduleAddressKey: res.Module.Hex(),
	}
	if err := gotenv.Write(env, n.EnvPath()); err != nil {
		return fmt.Errorf("%w: write %s: %v", types.ErrIO, n.EnvPath(), err)
	}

	n.setAddresses(res.Safe, res.Module)
	n.logger.Info("created local safe", zap.Stringer("safe", res.Safe), zap.Stringer("module", res.Module))
	return nil
}

// LoadAddresses reads the safe and module addresses back from the env file.
func (n *Node) LoadAddresses() error {
	env, err := gotenv.Read(n.EnvPath())
	if err != nil {
		return fmt.Errorf("%w: read %s: %v", types.ErrProvisioning, n.EnvPath(), err)
	}

	safe, err := envAddress(env, safeAddressKey)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", types.ErrProvisioning, n.EnvPath(), err)
	}
	module, err := envAddress(env, moduleAddressKey)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", types.ErrProvisioning, n.EnvPath(), err)
	}

	n.setAddresses(safe, module)
	return nil
}

func envAddress(env gotenv.Env, key string) (common.Address, error) {
	v, ok := env[key]
	if !ok || v == "" {
		return common.Address{}, fmt.Errorf("%s not set", key)
	}
	if !common.IsHexAddress(v) {
		return common.Address{}, fmt.Errorf("%s=%q is not an address", key, v)
	}
	return common.HexToAddress(v), nil
}

func (n *Node) setAddresses(safe, module common.Address) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.safe = safe
	n.module = module
}
