// Package apitest provides an in-memory node API for tests.
package apitest

import (
	"encoding/json"
	"net/http"
	"strings"
	"sync"

	"github.com/hoprnet/localcluster/framework/local/api"
)

// FakeNode serves the subset of the node API used by the local cluster.
// Readiness flags, peers and the reported address can be changed while it is serving.
type FakeNode struct {
	mu       sync.Mutex
	token    string
	started  bool
	ready    bool
	address  string
	peers    []api.Peer
	channels []string
	metrics  string
	requests map[string]int
}

// NewFakeNode returns a fake node that is started and ready, reports address and requires token
// (an empty token disables authentication).
func NewFakeNode(address, token string) *FakeNode {
	return &FakeNode{
		token:    token,
		started:  true,
		ready:    true,
		address:  address,
		metrics:  "# TYPE hopr_up gauge\nhopr_up 1\n",
		requests: make(map[string]int),
	}
}

func (f *FakeNode) SetStarted(v bool) { f.mu.Lock(); f.started = v; f.mu.Unlock() }
func (f *FakeNode) SetReady(v bool) { f.mu.Lock(); f.ready = v; f.mu.Unlock() }
func (f *FakeNode) SetAddress(a string) { f.mu.Lock(); f.address = a; f.mu.Unlock() }

// SetPeers replaces the connected peer list.
func (f *FakeNode) SetPeers(peers ...api.Peer) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.peers = append([]api.Peer(nil), peers...)
}

// SetMetrics replaces the Prometheus text exposition served on the metrics endpoint.
func (f *FakeNode) SetMetrics(text string) { f.mu.Lock(); f.metrics = text; f.mu.Unlock() }

// Channels returns the destinations of every channel opened so far.
func (f *FakeNode) Channels() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.channels...)
}

// Requests returns how many times path was requested.
func (f *FakeNode) Requests(path string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.requests[path]
}

func (f *FakeNode) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests[r.URL.Path]++

	switch r.URL.Path {
	case "/startedz":
		writeStatus(w, f.started)
		return
	case "/readyz":
		writeStatus(w, f.ready)
		return
	}

	if f.token != "" && r.Header.Get("Authorization") != "Bearer "+f.token {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	switch {
	case r.URL.Path == "/api/v4/account/addresses":
		if f.address == "" {
			http.Error(w, "no address", http.StatusServiceUnavailable)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"native": f.address})
	case r.URL.Path == "/api/v4/node/peers":
		writeJSON(w, http.StatusOK, map[string]any{"connected": f.peers})
	case r.URL.Path == "/api/v4/node/metrics":
		w.Header().Set("Content-Type", "text/plain; version=0.0.4")
		_, _ = w.Write([]byte(f.metrics))
	case r.URL.Path == "/api/v4/channels" && r.Method == http.MethodPost:
		var body struct {
			Destination string `json:"destination"`
			Amount      string `json:"amount"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		f.channels = append(f.channels, body.Destination)
		writeJSON(w, http.StatusCreated, map[string]string{"channelId": "0x" + strings.TrimPrefix(body.Destination, "0x"), "transactionHash": "0x01"})
	case strings.HasPrefix(r.URL.Path, "/api/v4/channels/") && r.Method == http.MethodDelete:
		w.WriteHeader(http.StatusNoContent)
	default:
		http.NotFound(w, r)
	}
}

func writeStatus(w http.ResponseWriter, ok bool) {
	if ok {
		w.WriteHeader(http.StatusOK)
		return
	}
	w.WriteHeader(http.StatusPreconditionFailed)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
