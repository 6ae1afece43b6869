package cluster

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/hoprnet/localcluster/framework/local/node"
	"github.com/hoprnet/localcluster/framework/types"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Funder funds the identities of all nodes.
type Funder interface {
	Fund(ctx context.Context) error
}

// SharedBringup starts every node and waits until the whole cluster is connected:
// nodes are set up one by one, then all must report started, get funded when funder is not nil,
// report ready, expose their chain address and finally see every other node of their network.
// Any failure aborts the bring-up and no node is marked connected.
func (c *Cluster) SharedBringup(ctx context.Context, funder Funder) error {
	nodes := c.Nodes()

	c.logger.Info("setting up nodes", zap.Int("nodes", len(nodes)))
	for _, n := range nodes {
		err := n.Setup(ctx, node.SetupConfig{
			Password:       c.cfg.Password,
			ProtocolConfig: c.cfg.ProtocolConfig,
			Dir:            c.cfg.WorkDir,
			Tag:            c.cfg.Tag,
		})
		if err != nil {
			return err
		}
	}

	c.logger.Info("waiting for nodes to start", zap.Duration("timeout", c.cfg.Timeout))
	if err := c.phase(ctx, "started", c.cfg.Timeout, nodes, (*node.Node).Started); err != nil {
		return err
	}

	if funder != nil {
		c.logger.Info("funding nodes")
		if err := funder.Fund(ctx); err != nil {
			return fmt.Errorf("fund nodes: %w", err)
		}
	}

	c.logger.Info("waiting for nodes to be ready", zap.Duration("timeout", c.cfg.Timeout))
	if err := c.phase(ctx, "ready", c.cfg.Timeout, nodes, (*node.Node).Ready); err != nil {
		return err
	}

	for _, n := range nodes {
		addr, err := n.FetchChainAddress(ctx)
		if err != nil {
			return err
		}
		c.logger.Debug("node address", zap.String("node", n.Name()), zap.Stringer("address", addr))
	}

	peersTimeout := 2 * c.cfg.Timeout
	c.logger.Info("waiting for nodes to connect to all peers", zap.Duration("timeout", peersTimeout))
	err := c.phase(ctx, "peers", peersTimeout, nodes, func(n *node.Node, ctx context.Context) error {
		return n.AllPeersConnected(ctx, c.requiredPeers(n))
	})
	if err != nil {
		return err
	}

	for _, n := range nodes {
		n.MarkConnected()
	}
	c.logger.Info("all nodes connected")
	return nil
}

// requiredPeers returns the chain addresses of all other nodes on the network of n.
func (c *Cluster) requiredPeers(n *node.Node) []common.Address {
	var peers []common.Address
	for _, other := range c.Nodes() {
		if other.ID() != n.ID() && other.Network() == n.Network() {
			peers = append(peers, other.ChainAddress())
		}
	}
	return peers
}

// phase runs fn for every node concurrently under a shared timeout. The first failure cancels the others.
func (c *Cluster) phase(ctx context.Context, name string, timeout time.Duration, nodes []*node.Node, fn func(*node.Node, context.Context) error) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	g, gctx := errgroup.WithContext(ctx)
	for _, n := range nodes {
		n := n
		g.Go(func() error {
			if err := fn(n, gctx); err != nil {
				c.logger.Error("node failed", zap.String("phase", name), zap.String("node", n.Name()), zap.Error(err))
				return err
			}
			return nil
		})
	}

	err := g.Wait()
	if err == nil {
		return nil
	}
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%w: %s phase did not complete within %s: %v", types.ErrTimeout, name, timeout, err)
	}
	return fmt.Errorf("%s phase: %w", name, err)
}

// ConnectPeers opens a channel of the given amount from every node to every other node.
// All channels are attempted; failures are combined into the returned error and nothing is rolled back.
func (c *Cluster) ConnectPeers(ctx context.Context, amount string) error {
	var (
		mu   sync.Mutex
		errs error
		g    errgroup.Group
	)

	nodes := c.Nodes()
	for _, src := range nodes {
		for _, dst := range nodes {
			if src.ID() == dst.ID() {
				continue
			}
			src, dst := src, dst
			g.Go(func() error {
				id, err := src.OpenChannel(ctx, dst.ChainAddress(), amount)
				mu.Lock()
				defer mu.Unlock()
				if err != nil {
					errs = multierr.Append(errs, err)
					return nil
				}
				c.logger.Debug("channel opened", zap.String("from", src.Name()), zap.String("to", dst.Name()), zap.String("channel", id))
				return nil
			})
		}
	}
	_ = g.Wait()

	if errs != nil {
		c.logger.Warn("some channels failed to open", zap.Int("failures", len(multierr.Errors(errs))))
	}
	return errs
}
