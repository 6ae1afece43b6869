// Package api is a thin HTTP client for the node REST API consumed by the local cluster.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/avast/retry-go/v4"
	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/common/expfmt"
)

const (
	apiPrefix = "/api/v4/"

	// PollInterval is the fixed delay between two readiness or peer polls.
	PollInterval = 500 * time.Millisecond
	// probeTimeout bounds a single readiness request.
	probeTimeout = 300 * time.Millisecond
)

// Client talks to a single node API, e.g. http://127.0.0.1:3001.
type Client struct {
	BaseURL string
	token   string
	client  *http.Client
}

// New returns a client for baseURL. An empty token sends no Authorization header.
func New(baseURL, token string) *Client {
	return &Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		client:  &http.Client{Timeout: 10 * time.Second},
	}
}

// Peer is a connected peer as reported by the node.
type Peer struct {
	Address string  `json:"address"`
	Quality float64 `json:"quality"`
}

type peersResponse struct {
	Connected []Peer `json:"connected"`
}

// Addresses holds the on-chain address of a node.
type Addresses struct {
	Native string `json:"native"`
}

type openChannelRequest struct {
	Destination string `json:"destination"`
	Amount      string `json:"amount"`
}

// OpenedChannel is the result of opening a channel.
type OpenedChannel struct {
	ChannelID       string `json:"channelId"`
	TransactionHash string `json:"transactionHash"`
}

// Started performs a single startedz probe.
func (c *Client) Started(ctx context.Context) error { return c.probe(ctx, "/startedz") }

// Ready performs a single readyz probe.
func (c *Client) Ready(ctx context.Context) error { return c.probe(ctx, "/readyz") }

// WaitFor polls a readiness path such as "/readyz" every PollInterval until it answers
// 200 OK. It has no deadline of its own and returns the context error once ctx ends.
func (c *Client) WaitFor(ctx context.Context, path string) error {
	return retry.Do(
		func() error { return c.probe(ctx, path) },
		retry.Context(ctx),
		retry.Attempts(0),
		retry.Delay(PollInterval),
		retry.DelayType(retry.FixedDelay),
		retry.LastErrorOnly(true),
	)
}

func (c *Client) probe(ctx context.Context, path string) error {
	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+path, http.NoBody)
	if err != nil {
		return retry.Unrecoverable(err)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%s returned %d", path, resp.StatusCode)
	}
	return nil
}

// Peers returns the peers the node is currently connected to.
func (c *Client) Peers(ctx context.Context) ([]Peer, error) {
	var res peersResponse
	if err := c.call(ctx, http.MethodGet, "node/peers", nil, &res); err != nil {
		return nil, err
	}
	return res.Connected, nil
}

// Addresses returns the node's on-chain address.
func (c *Client) Addresses(ctx context.Context) (Addresses, error) {
	var res Addresses
	if err := c.call(ctx, http.MethodGet, "account/addresses", nil, &res); err != nil {
		return Addresses{}, err
	}
	return res, nil
}

// OpenChannel opens a funded channel towards destination.
func (c *Client) OpenChannel(ctx context.Context, destination, amount string) (OpenedChannel, error) {
	var res OpenedChannel
	body := openChannelRequest{Destination: destination, Amount: amount}
	if err := c.call(ctx, http.MethodPost, "channels", body, &res); err != nil {
		return OpenedChannel{}, err
	}
	return res, nil
}

// CloseChannel closes the channel with the given id.
func (c *Client) CloseChannel(ctx context.Context, channelID string) error {
	return c.call(ctx, http.MethodDelete, "channels/"+channelID, nil, nil)
}

// Metrics fetches the Prometheus text metrics of the node and parses them into metric families.
func (c *Client) Metrics(ctx context.Context) (map[string]*dto.MetricFamily, error) {
	req, err := c.newRequest(ctx, http.MethodGet, "node/metrics", nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("metrics request failed (%d): %s", resp.StatusCode, string(body))
	}

	var parser expfmt.TextParser
	families, err := parser.TextToMetricFamilies(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("parse metrics: %w", err)
	}
	return families, nil
}

func (c *Client) newRequest(ctx context.Context, method, endpoint string, body any) (*http.Request, error) {
	var rd io.Reader = http.NoBody
	if body != nil {
		bz, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal request: %w", err)
		}
		rd = bytes.NewReader(bz)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+apiPrefix+endpoint, rd)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	return req, nil
}

// call performs a JSON request; out may be nil when the response body is irrelevant.
func (c *Client) call(ctx context.Context, method, endpoint string, body, out any) error {
	req, err := c.newRequest(ctx, method, endpoint, body)
	if err != nil {
		return err
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		bz, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("%s %s failed (%d): %s", method, endpoint, resp.StatusCode, strings.TrimSpace(string(bz)))
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", endpoint, err)
	}
	return nil
}
