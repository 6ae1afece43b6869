// Package snapshot saves a provisioned cluster to disk and restores it, so later runs skip
// contract deployment and safe creation.
package snapshot

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"time"

	"github.com/hoprnet/localcluster/framework/local/cluster"
	"github.com/hoprnet/localcluster/framework/local/internal"
	"github.com/hoprnet/localcluster/framework/local/node"
	"github.com/hoprnet/localcluster/framework/types"
	"go.uber.org/zap"
)

const (
	// DirName is the snapshot directory inside the fixtures directory.
	DirName = "snapshot"
	// StateFileName is the dumped chain state.
	StateFileName = "anvil.state.json"
	// ProtocolConfigName is used when the cluster names no protocol config.
	ProtocolConfigName = "protocol-config.json"
)

// dbFiles are the database files of a node, relative to its data directory.
var dbFiles = []string{
	"hopr_index.db",
	"hopr_index.db-shm",
	"hopr_index.db-wal",
	"hopr_logs.db",
	"hopr_logs.db-shm",
	"hopr_logs.db-wal",
}

// Snapshot is the on-disk copy of a cluster.
type Snapshot struct {
	logger    *zap.Logger
	cluster   *cluster.Cluster
	chainPort int
}

func New(logger *zap.Logger, c *cluster.Cluster, chainPort int) *Snapshot {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Snapshot{
		logger:    logger.With(zap.String("component", "snapshot")),
		cluster:   c,
		chainPort: chainPort,
	}
}

// Dir is the directory holding the snapshot.
func (s *Snapshot) Dir() string { return filepath.Join(s.cluster.Dir(), DirName) }

func (s *Snapshot) clusterFiles() []string {
	files := []string{StateFileName}
	for _, n := range s.cluster.Nodes() {
		if f := n.ConfigFile(); f != "" && !slices.Contains(files, f) {
			files = append(files, f)
		}
	}
	protocol := ProtocolConfigName
	if p := s.cluster.ProtocolConfig(); p != "" {
		protocol = filepath.Base(p)
	}
	return append(files, protocol)
}

func nodeFiles(n *node.Node) []string {
	files := make([]string, 0, len(dbFiles)+2)
	for _, f := range dbFiles {
		files = append(files, filepath.Join(n.Name(), "db", f))
	}
	return append(files, n.Name()+".id", n.Name()+".env")
}

// RequiredFiles lists every file of a complete snapshot, relative to Dir.
func (s *Snapshot) RequiredFiles() []string {
	files := s.clusterFiles()
	for _, n := range s.cluster.Nodes() {
		files = append(files, nodeFiles(n)...)
	}
	return files
}

// Usable reports whether every required file is present. File contents are not checked.
func (s *Snapshot) Usable() bool {
	for _, f := range s.RequiredFiles() {
		if !internal.Exists(filepath.Join(s.Dir(), f)) {
			s.logger.Info("snapshot not usable", zap.String("missing", f))
			return false
		}
	}
	return true
}

// Create replaces the snapshot with the current cluster files and the chain state at chainStateFile.
// Nodes and chain are expected to be stopped.
func (s *Snapshot) Create(chainStateFile string) error {
	if s.chainListening() {
		s.logger.Warn("chain still accepts connections, its state dump may be incomplete", zap.Int("port", s.chainPort))
	}

	dir := s.Dir()
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("%w: remove old snapshot: %v", types.ErrIO, err)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("%w: create snapshot dir: %v", types.ErrIO, err)
	}

	if err := copyFile(chainStateFile, filepath.Join(dir, StateFileName)); err != nil {
		return err
	}
	for _, f := range s.clusterFiles()[1:] {
		if err := copyFile(filepath.Join(s.cluster.Dir(), f), filepath.Join(dir, f)); err != nil {
			return err
		}
	}

	for _, n := range s.cluster.Nodes() {
		if err := os.MkdirAll(filepath.Join(dir, n.Name(), "db"), 0o755); err != nil {
			return fmt.Errorf("%w: %v", types.ErrIO, err)
		}
		for _, f := range nodeFiles(n) {
			if err := copyFile(filepath.Join(s.cluster.Dir(), f), filepath.Join(dir, f)); err != nil {
				return err
			}
		}
	}

	s.logger.Info("snapshot created", zap.String("dir", dir), zap.Int("nodes", s.cluster.Size()))
	return nil
}

// Reuse copies the snapshot back into the fixtures directory. Node databases are replaced as a whole.
func (s *Snapshot) Reuse() error {
	dir := s.Dir()
	for _, f := range s.clusterFiles() {
		if err := copyFile(filepath.Join(dir, f), filepath.Join(s.cluster.Dir(), f)); err != nil {
			return err
		}
	}

	for _, n := range s.cluster.Nodes() {
		dbDir := filepath.Join(n.DataDir(), "db")
		if err := os.RemoveAll(dbDir); err != nil {
			return fmt.Errorf("%w: remove %s: %v", types.ErrIO, dbDir, err)
		}
		if err := os.MkdirAll(dbDir, 0o755); err != nil {
			return fmt.Errorf("%w: create %s: %v", types.ErrIO, dbDir, err)
		}
		for _, f := range nodeFiles(n) {
			if err := copyFile(filepath.Join(dir, f), filepath.Join(s.cluster.Dir(), f)); err != nil {
				return err
			}
		}
	}

	s.logger.Info("snapshot restored", zap.String("dir", dir), zap.Int("nodes", s.cluster.Size()))
	return nil
}

func (s *Snapshot) chainListening() bool {
	conn, err := net.DialTimeout("tcp", net.JoinHostPort("127.0.0.1", strconv.Itoa(s.chainPort)), 200*time.Millisecond)
	if err != nil {
		return false
	}
	_ = conn.Close()
	return true
}

// copyFile replaces dst with a copy of src.
func copyFile(src, dst string) error {
	if err := internal.CopyFile(src, dst); err != nil {
		return fmt.Errorf("%w: %v", types.ErrIO, err)
	}
	return nil
}
