package commands

import (
	"context"
	"fmt"
	"io"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/hoprnet/localcluster/framework/local/cluster"
	"github.com/hoprnet/localcluster/framework/local/node"
	"github.com/spf13/cobra"
	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"
)

const probeTimeout = 2 * time.Second

// NodeStatus is the result of probing a single node.
type NodeStatus struct {
	Name     string
	API      string
	Started  bool
	Ready    bool
	Peers    int
	Families int
	Err      error
}

// NewStatusCmd returns the command that probes the nodes of a running cluster.
func NewStatusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show health, peers and metrics of a running cluster",
		RunE:  runStatus,
	}
	return cmd
}

func runStatus(cmd *cobra.Command, _ []string) error {
	conf, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	logger, err := newLogger(conf.LogLevel)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	cfg, _, err := conf.localConfig(logger)
	if err != nil {
		return err
	}
	c, err := cluster.New(cluster.Config{
		Logger:   logger,
		Dir:      cfg.FixturesDir(),
		BasePort: cfg.BasePort,
	}, cfg.Definitions, cfg.Size)
	if err != nil {
		return err
	}

	statuses := Probe(cmd.Context(), c)
	printStatus(cmd.OutOrStdout(), statuses)

	var errs error
	for _, s := range statuses {
		if s.Err != nil {
			errs = multierr.Append(errs, fmt.Errorf("%s: %w", s.Name, s.Err))
		}
	}
	return errs
}

// Probe queries every node of c once, concurrently.
func Probe(ctx context.Context, c *cluster.Cluster) []NodeStatus {
	nodes := c.Nodes()
	out := make([]NodeStatus, len(nodes))

	var g errgroup.Group
	for i, n := range nodes {
		i, n := i, n
		g.Go(func() error {
			out[i] = probeNode(ctx, n)
			return nil
		})
	}
	_ = g.Wait()

	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func probeNode(ctx context.Context, n *node.Node) NodeStatus {
	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	client := n.API()
	s := NodeStatus{Name: n.Name(), API: client.BaseURL}
	if s.Err = client.Started(ctx); s.Err != nil {
		return s
	}
	s.Started = true
	if s.Err = client.Ready(ctx); s.Err != nil {
		return s
	}
	s.Ready = true

	peers, err := client.Peers(ctx)
	if err != nil {
		s.Err = err
		return s
	}
	s.Peers = len(peers)

	families, err := client.Metrics(ctx)
	if err != nil {
		s.Err = err
		return s
	}
	s.Families = len(families)
	return s
}

func printStatus(out io.Writer, statuses []NodeStatus) {
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "NODE\tAPI\tSTARTED\tREADY\tPEERS\tMETRICS\tERROR")
	for _, s := range statuses {
		errText := "-"
		if s.Err != nil {
			errText = s.Err.Error()
		}
		fmt.Fprintf(w, "%s\t%s\t%t\t%t\t%d\t%d\t%s\n", s.Name, s.API, s.Started, s.Ready, s.Peers, s.Families, errText)
	}
	_ = w.Flush()
}
