package commands

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// EnvPrefix prefixes the environment variables overriding flags, e.g. LOCALCLUSTER_BASE_PORT.
const EnvPrefix = "LOCALCLUSTER"

// NewRootCmd returns the localcluster command with all subcommands attached.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "localcluster",
		Short:         "Run a local relay node cluster on top of an anvil chain",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	defaults := NewDefaultCLIConfig()
	cmd.PersistentFlags().String("config", "", "Config file (toml, yaml or json) with flag values")
	cmd.PersistentFlags().String("log-level", defaults.LogLevel, "debug, info, warn or error")
	cmd.PersistentFlags().String("suite", defaults.Suite, "Suite name, the fixtures live in <root>/<suite>")
	cmd.PersistentFlags().String("root", defaults.Root, "Parent directory of all suite fixtures")
	cmd.PersistentFlags().Int("base-port", defaults.BasePort, "Chain port; node ports are allocated above it")
	cmd.PersistentFlags().Int("size", defaults.Size, "Number of nodes")
	cmd.PersistentFlags().String("definitions", "", "TOML file with [[node]] definitions")

	cmd.AddCommand(NewUpCmd(), NewStatusCmd(), VersionCmd)
	return cmd
}

// loadConfig binds the flags of cmd into a fresh viper instance, reads the optional config file
// and environment, and decodes the result.
func loadConfig(cmd *cobra.Command) (*CLIConfig, error) {
	v := viper.New()
	// cmd.Flags() includes flags from this command and all persistent flags from the parent
	if err := v.BindPFlags(cmd.Flags()); err != nil {
		return nil, err
	}
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	if path := flagString(cmd.Flags(), "config"); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("read config %s: %w", path, err)
			}
		}
	}

	conf := NewDefaultCLIConfig()
	if err := v.Unmarshal(conf); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	return conf, nil
}

func flagString(fs *pflag.FlagSet, name string) string {
	s, _ := fs.GetString(name)
	return s
}

// newLogger builds a console logger at the given level.
func newLogger(level string) (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", level, err)
	}
	cfg := zap.NewDevelopmentConfig()
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	cfg.DisableStacktrace = lvl > zapcore.DebugLevel
	return cfg.Build()
}
