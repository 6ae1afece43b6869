package hopli

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/hoprnet/localcluster/framework/types"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

// writeScript creates an executable shell script standing in for the provisioning binary.
func writeScript(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "hopli")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+body+"\n"), 0o755))
	return path
}

func TestCreateSafeModule(t *testing.T) {
	ctx := context.Background()
	argsFile := filepath.Join(t.TempDir(), "args")

	bin := writeScript(t, `echo "$@" > `+argsFile+`
echo "IDENTITY_PASSWORD=$IDENTITY_PASSWORD" >> `+argsFile+`
echo "safe `+safeAddr+`"
echo "node_module `+moduleAddr+`"`)

	c := New(Config{
		Logger:        zaptest.NewLogger(t),
		Bin:           bin,
		Network:       "anvil-localhost",
		ContractsRoot: "./ethereum/contracts",
		ProviderURL:   "http://127.0.0.1:3000",
		Password:      "e2e-test",
		PrivateKey:    "0xabc",
	})

	res, err := c.CreateSafeModule(ctx, "/tmp/hopr-node_1.id")
	require.NoError(t, err)
	require.Equal(t, common.HexToAddress(safeAddr), res.Safe)
	require.Equal(t, common.HexToAddress(moduleAddr), res.Module)

	bz, err := os.ReadFile(argsFile)
	require.NoError(t, err)
	recorded := string(bz)
	require.True(t, strings.HasPrefix(recorded, "safe-module create --network anvil-localhost --identity-from-path /tmp/hopr-node_1.id"))
	require.Contains(t, recorded, "--provider-url http://127.0.0.1:3000")
	require.Contains(t, recorded, "IDENTITY_PASSWORD=e2e-test")
}

func TestCreateSafeModuleFailures(t *testing.T) {
	ctx := context.Background()

	t.Run("tool exits non-zero", func(t *testing.T) {
		c := New(Config{Logger: zaptest.NewLogger(t), Bin: writeScript(t, "echo nope; exit 1")})
		_, err := c.CreateSafeModule(ctx, "id")
		require.ErrorIs(t, err, types.ErrProcess)
	})

	t.Run("tool succeeds without reporting a module", func(t *testing.T) {
		c := New(Config{Logger: zaptest.NewLogger(t), Bin: writeScript(t, "echo safe "+safeAddr)})
		_, err := c.CreateSafeModule(ctx, "id")
		require.ErrorIs(t, err, types.ErrProvisioning)
	})
}

func TestFund(t *testing.T) {
	argsFile := filepath.Join(t.TempDir(), "args")
	c := New(Config{
		Logger:         zaptest.NewLogger(t),
		Bin:            writeScript(t, `echo "$@" > `+argsFile),
		IdentityDir:    "/tmp/suite",
		IdentityPrefix: "hopr",
	})
	require.NoError(t, c.Fund(context.Background()))

	bz, err := os.ReadFile(argsFile)
	require.NoError(t, err)
	require.Contains(t, string(bz), "faucet")
	require.Contains(t, string(bz), "--identity-prefix hopr --identity-directory /tmp/suite")
	require.Contains(t, string(bz), "--native-amount 10.0")
}
