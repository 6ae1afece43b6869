package commands

import (
	"fmt"
	"io"
	"os/signal"
	"syscall"
	"text/tabwriter"

	"github.com/hoprnet/localcluster/framework/local"
	"github.com/hoprnet/localcluster/framework/local/cluster"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// NewUpCmd returns the command that brings a cluster up.
func NewUpCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "up",
		Short: "Start the chain and a fully connected cluster",
		Long: `Start the chain and all nodes, reusing or creating a snapshot.

In interactive mode the cluster runs until interrupted and is torn down on exit.
Otherwise the processes keep running after the command returns.`,
		RunE: runUp,
	}
	AddUpFlags(cmd)
	return cmd
}

// AddUpFlags adds the flags of the up command.
func AddUpFlags(cmd *cobra.Command) {
	defaults := NewDefaultCLIConfig()
	cmd.Flags().String("repo", defaults.Repo, "Repository checkout providing scripts and fixtures")
	cmd.Flags().String("node-bin", "", "Node binary")
	cmd.Flags().String("hopli-bin", "", "Provisioning tool binary")
	cmd.Flags().Duration("timeout", defaults.Timeout, "Timeout of each bring-up phase")
	cmd.Flags().Int64("seed", 0, "Random seed, zero draws one")
	cmd.Flags().String("tag", "", "Suffix of node log files")
	cmd.Flags().Bool("snapshot", defaults.Snapshot, "Reuse or create a snapshot")
	cmd.Flags().Bool("interactive", defaults.Interactive, "Keep running until interrupted")
	cmd.Flags().Bool("skip-funding", false, "Do not fund nodes from the faucet")
	cmd.Flags().Bool("nat", false, "Announce nodes as being behind NAT")
	cmd.Flags().Bool("proxy", false, "Start the chain behind an RPC proxy")
	cmd.Flags().Bool("connect-peers", false, "Open channels between all nodes once the cluster is up")
}

func runUp(cmd *cobra.Command, _ []string) error {
	conf, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	logger, err := newLogger(conf.LogLevel)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, flags, err := conf.localConfig(logger)
	if err != nil {
		return err
	}
	// channels have to be opened before an interactive bring-up blocks
	interactive := flags.Interactive
	if conf.ConnectPeers {
		flags.Interactive = false
	}

	c, ch, err := local.Bringup(ctx, cfg, flags)
	if err != nil {
		return err
	}
	if c == nil {
		return nil
	}

	if conf.ConnectPeers {
		logger.Info("opening channels between all nodes")
		if err := c.ConnectPeers(ctx, local.OpenChannelFundingValue); err != nil {
			local.Teardown(c, ch)
			return err
		}
	}

	printSummary(cmd.OutOrStdout(), c, ch.RPCURL())
	if !interactive {
		return nil
	}

	logger.Info("running until interrupted", zap.Int64("seed", c.Seed()))
	<-ctx.Done()
	local.Teardown(c, ch)
	return nil
}

func printSummary(out io.Writer, c *cluster.Cluster, rpcURL string) {
	fmt.Fprintf(out, "chain: %s\nseed:  %d\n\n", rpcURL, c.Seed())
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "NODE\tNETWORK\tAPI\tP2P\tADDRESS\tSAFE")
	for _, n := range c.Nodes() {
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\t%s\n",
			n.Name(), n.Network(), n.API().BaseURL, n.Ports().P2P, n.ChainAddress().Hex(), n.SafeAddress().Hex())
	}
	_ = w.Flush()
}
