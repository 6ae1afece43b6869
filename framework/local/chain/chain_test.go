package chain

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/hoprnet/localcluster/framework/types"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

const anvilKey = "0xac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80"

func testConfig(t *testing.T) Config {
	dir := t.TempDir()
	cfg := DefaultConfig(zaptest.NewLogger(t))
	cfg.ScriptDir = dir
	cfg.KillDir = dir
	cfg.LogFile = filepath.Join(dir, "anvil.log")
	cfg.ConfigFile = filepath.Join(dir, "anvil.cfg")
	cfg.StateFile = filepath.Join(dir, "anvil.state.json")
	// nothing listens here, the head query after start fails fast
	cfg.Port = 1
	return cfg
}

func writeScript(t *testing.T, dir, name, body string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+body+"\n"), 0o755))
	return path
}

func TestArgs(t *testing.T) {
	cfg := testConfig(t)
	cfg.Port = 3000
	c := New(cfg)

	require.Equal(t, []string{"-l", cfg.LogFile, "-c", cfg.ConfigFile, "-p", "3000", "-ds", cfg.StateFile}, c.Args(Fresh))
	require.Equal(t, []string{"-s", "-l", cfg.LogFile, "-c", cfg.ConfigFile, "-p", "3000", "-ls", cfg.StateFile}, c.Args(Load))

	cfg.Proxy = true
	require.Equal(t, "-x", New(cfg).Args(Load)[9])
	require.Equal(t, "http://127.0.0.1:3000", c.RPCURL())
}

func TestRun(t *testing.T) {
	ctx := context.Background()

	t.Run("script succeeds", func(t *testing.T) {
		cfg := testConfig(t)
		record := filepath.Join(cfg.ScriptDir, "args")
		cfg.Script = writeScript(t, cfg.ScriptDir, "run-local-anvil.sh", `echo "$@" > `+record+`
printf '\033[32mdeployed\033[0m\n'`)

		require.NoError(t, New(cfg).Run(ctx, Load))
		bz, err := os.ReadFile(record)
		require.NoError(t, err)
		require.True(t, strings.HasPrefix(string(bz), "-s -l "))
	})

	t.Run("script fails", func(t *testing.T) {
		cfg := testConfig(t)
		cfg.Script = writeScript(t, cfg.ScriptDir, "run-local-anvil.sh", "echo port in use; exit 2")
		require.ErrorIs(t, New(cfg).Run(ctx, Fresh), types.ErrProcess)
	})
}

func TestKill(t *testing.T) {
	cfg := testConfig(t)
	record := filepath.Join(cfg.KillDir, "killed")
	cfg.KillCommand = []string{writeScript(t, cfg.KillDir, "kill", `echo "$@" > `+record), "kill-anvil"}
	cfg.Port = 3100
	New(cfg).Kill(context.Background())

	bz, err := os.ReadFile(record)
	require.NoError(t, err)
	require.Equal(t, "kill-anvil port=3100", strings.TrimSpace(string(bz)))

	// failures are swallowed
	cfg.KillCommand = []string{writeScript(t, cfg.KillDir, "kill-fail", "exit 1")}
	New(cfg).Kill(context.Background())
}

func TestPrivateKey(t *testing.T) {
	cfg := testConfig(t)
	c := New(cfg)

	_, err := c.PrivateKey(0)
	require.ErrorIs(t, err, types.ErrIO)

	require.NoError(t, os.WriteFile(cfg.ConfigFile, []byte(`{"private_keys":["`+anvilKey+`","0xnothex"]}`), 0o644))

	key, err := c.PrivateKey(0)
	require.NoError(t, err)
	require.Equal(t, anvilKey, key)

	_, err = c.PrivateKey(1)
	require.ErrorIs(t, err, types.ErrConfiguration)

	_, err = c.PrivateKey(2)
	require.ErrorIs(t, err, types.ErrConfiguration)
}

func TestMirrorContracts(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "contracts-addresses.json")
	dst := filepath.Join(dir, "protocol-config.json")

	require.NoError(t, os.WriteFile(src, []byte(`{
  "networks": {
    "anvil-localhost": {
      "environment_type": "local",
      "indexer_start_block_number": 42,
      "addresses": {"token": "0x01", "channels": "0x02"},
      "stake_season": 7
    }
  }
}`), 0o644))
	require.NoError(t, os.WriteFile(dst, []byte(`{
  "networks": {
    "anvil-localhost": {
      "chain": "anvil",
      "tx_polling_interval": 1000,
      "environment_type": "production",
      "indexer_start_block_number": 12345678901234567890,
      "addresses": {"stale": "0xff"}
    },
    "other": {"chain": "gnosis"}
  },
  "chains": {"anvil": {"block_time": 5000}}
}`), 0o644))

	require.NoError(t, MirrorContracts(dst, src, "anvil-localhost", "anvil-localhost"))
	first, err := os.ReadFile(dst)
	require.NoError(t, err)

	var got struct {
		Networks map[string]map[string]any `json:"networks"`
		Chains   map[string]any            `json:"chains"`
	}
	require.NoError(t, json.Unmarshal(first, &got))

	network := got.Networks["anvil-localhost"]
	require.Equal(t, "local", network["environment_type"])
	require.EqualValues(t, 1, network["indexer_start_block_number"])
	require.Equal(t, map[string]any{"token": "0x01", "channels": "0x02"}, network["addresses"])
	require.Equal(t, "anvil", network["chain"])
	require.EqualValues(t, 1000, network["tx_polling_interval"])
	require.NotContains(t, network, "stake_season")
	require.Equal(t, map[string]any{"chain": "gnosis"}, got.Networks["other"])
	require.Contains(t, got.Chains, "anvil")

	// keys are sorted
	require.Less(t, strings.Index(string(first), `"chains"`), strings.Index(string(first), `"networks"`))
	require.Less(t, strings.Index(string(first), `"channels"`), strings.Index(string(first), `"token"`))

	t.Run("idempotent", func(t *testing.T) {
		require.NoError(t, MirrorContracts(dst, src, "anvil-localhost", "anvil-localhost"))
		second, err := os.ReadFile(dst)
		require.NoError(t, err)
		require.Equal(t, string(first), string(second))
	})

	t.Run("unknown networks", func(t *testing.T) {
		require.ErrorIs(t, MirrorContracts(dst, src, "missing", "anvil-localhost"), types.ErrConfiguration)
		require.ErrorIs(t, MirrorContracts(dst, src, "anvil-localhost", "missing"), types.ErrConfiguration)
	})

	t.Run("missing files", func(t *testing.T) {
		require.ErrorIs(t, MirrorContracts(dst, filepath.Join(dir, "nope.json"), "a", "b"), types.ErrIO)
		require.ErrorIs(t, MirrorContracts(filepath.Join(dir, "nope.json"), src, "anvil-localhost", "b"), types.ErrIO)
	})
}
