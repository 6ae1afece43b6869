package node

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/avast/retry-go/v4"
	"github.com/ethereum/go-ethereum/common"
	"github.com/hoprnet/localcluster/framework/local/api"
	"github.com/hoprnet/localcluster/framework/types"
	dto "github.com/prometheus/client_model/go"
	"go.uber.org/zap"
)

// MinPeerQuality is the lowest quality at which a peer counts as connected.
const MinPeerQuality = 0.1

func (n *Node) apiClient() (*api.Client, error) {
	c := n.API()
	if c == nil {
		return nil, fmt.Errorf("%w: %s has no ports assigned", types.ErrConfiguration, n.Name())
	}
	return c, nil
}

// Started blocks until the node answers its startedz probe or ctx ends.
func (n *Node) Started(ctx context.Context) error {
	c, err := n.apiClient()
	if err != nil {
		return err
	}
	if err := c.WaitFor(ctx, "/startedz"); err != nil {
		return fmt.Errorf("%s not started: %w", n.Name(), err)
	}
	n.logger.Debug("node started")
	return nil
}

// Ready blocks until the node answers its readyz probe or ctx ends.
func (n *Node) Ready(ctx context.Context) error {
	c, err := n.apiClient()
	if err != nil {
		return err
	}
	if err := c.WaitFor(ctx, "/readyz"); err != nil {
		return fmt.Errorf("%s not ready: %w", n.Name(), err)
	}

	n.mu.Lock()
	n.advance(types.Ready)
	n.mu.Unlock()
	n.logger.Info("node ready")
	return nil
}

// FetchChainAddress reads and records the native address of the node.
func (n *Node) FetchChainAddress(ctx context.Context) (common.Address, error) {
	c, err := n.apiClient()
	if err != nil {
		return common.Address{}, err
	}
	addrs, err := c.Addresses(ctx)
	if err != nil {
		return common.Address{}, fmt.Errorf("%w: %s addresses: %v", types.ErrProvisioning, n.Name(), err)
	}
	if !common.IsHexAddress(addrs.Native) {
		return common.Address{}, fmt.Errorf("%w: %s reported no chain address", types.ErrProvisioning, n.Name())
	}

	addr := common.HexToAddress(addrs.Native)
	n.mu.Lock()
	n.chainAddr = addr
	n.mu.Unlock()
	return addr, nil
}

// MissingPeers returns the required addresses that are not connected with at least MinPeerQuality.
// Addresses are compared case-insensitively.
func MissingPeers(required []common.Address, connected []api.Peer) []common.Address {
	seen := make(map[common.Address]struct{}, len(connected))
	for _, p := range connected {
		if p.Quality < MinPeerQuality || !common.IsHexAddress(p.Address) {
			continue
		}
		seen[common.HexToAddress(p.Address)] = struct{}{}
	}

	var missing []common.Address
	for _, r := range required {
		if _, ok := seen[r]; !ok {
			missing = append(missing, r)
		}
	}
	sort.Slice(missing, func(i, j int) bool { return missing[i].Cmp(missing[j]) < 0 })
	return missing
}

// AllPeersConnected polls the peers of the node every api.PollInterval until every required address
// is connected. It has no deadline of its own.
func (n *Node) AllPeersConnected(ctx context.Context, required []common.Address) error {
	c, err := n.apiClient()
	if err != nil {
		return err
	}

	err = retry.Do(
		func() error {
			peers, err := c.Peers(ctx)
			if err != nil {
				return err
			}
			if missing := MissingPeers(required, peers); len(missing) > 0 {
				return fmt.Errorf("missing peers: %s", joinAddresses(missing))
			}
			return nil
		},
		retry.Context(ctx),
		retry.Attempts(0),
		retry.Delay(api.PollInterval),
		retry.DelayType(retry.FixedDelay),
		retry.WrapContextErrorWithLastError(true),
	)
	if err != nil {
		return fmt.Errorf("%s peers: %w", n.Name(), err)
	}
	n.logger.Debug("all peers connected", zap.Int("peers", len(required)))
	return nil
}

func joinAddresses(addrs []common.Address) string {
	s := make([]string, len(addrs))
	for i, a := range addrs {
		s[i] = a.Hex()
	}
	return strings.Join(s, ",")
}

// Metrics returns the parsed Prometheus metrics of the node.
func (n *Node) Metrics(ctx context.Context) (map[string]*dto.MetricFamily, error) {
	c, err := n.apiClient()
	if err != nil {
		return nil, err
	}
	return c.Metrics(ctx)
}

// OpenChannel opens a channel from this node towards dst and returns its id.
func (n *Node) OpenChannel(ctx context.Context, dst common.Address, amount string) (string, error) {
	c, err := n.apiClient()
	if err != nil {
		return "", err
	}
	res, err := c.OpenChannel(ctx, dst.Hex(), amount)
	if err != nil {
		return "", fmt.Errorf("%s open channel to %s: %w", n.Name(), dst.Hex(), err)
	}
	n.logger.Debug("opened channel", zap.String("destination", dst.Hex()), zap.String("channel", res.ChannelID))
	return res.ChannelID, nil
}

// CloseChannel closes the channel with the given id.
func (n *Node) CloseChannel(ctx context.Context, channelID string) error {
	c, err := n.apiClient()
	if err != nil {
		return err
	}
	if err := c.CloseChannel(ctx, channelID); err != nil {
		return fmt.Errorf("%s close channel %s: %w", n.Name(), channelID, err)
	}
	return nil
}
