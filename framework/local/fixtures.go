package local

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/hoprnet/localcluster/framework/local/cluster"
	"github.com/hoprnet/localcluster/framework/local/internal"
	"github.com/hoprnet/localcluster/framework/local/node"
	"github.com/hoprnet/localcluster/framework/types"
	"gopkg.in/yaml.v3"
)

// cleanupData removes the data directories of all nodes in dir.
func cleanupData(dir, prefix string) error {
	matches, err := filepath.Glob(filepath.Join(dir, prefix+"_*"))
	if err != nil {
		return fmt.Errorf("%w: %v", types.ErrIO, err)
	}
	for _, m := range matches {
		info, err := os.Stat(m)
		if err != nil || !info.IsDir() {
			continue
		}
		if err := os.RemoveAll(m); err != nil {
			return fmt.Errorf("%w: remove %s: %v", types.ErrIO, m, err)
		}
	}
	return nil
}

// copyIdentities replaces identities and logs of previous runs with the pre-generated identities
// of every node, and copies the config templates next to them.
func copyIdentities(cfg Config, c *cluster.Cluster) error {
	dir := cfg.FixturesDir()
	for _, pattern := range []string{node.DefaultPrefix + "*.id", node.DefaultPrefix + "_*.log"} {
		if _, err := internal.RemoveGlob(filepath.Join(dir, pattern)); err != nil {
			return fmt.Errorf("%w: %v", types.ErrIO, err)
		}
	}

	for _, n := range c.Nodes() {
		src := filepath.Join(cfg.IdentitiesDir, filepath.Base(n.IdentityPath()))
		if err := internal.CopyFile(src, n.IdentityPath()); err != nil {
			return fmt.Errorf("%w: copy identity: %v", types.ErrIO, err)
		}
	}

	templates, err := filepath.Glob(filepath.Join(cfg.ConfigTemplatesDir, "*.cfg.yaml"))
	if err != nil {
		return fmt.Errorf("%w: %v", types.ErrIO, err)
	}
	for _, t := range templates {
		if err := validateTemplate(t); err != nil {
			return err
		}
		if err := internal.CopyInto(t, dir); err != nil {
			return fmt.Errorf("%w: copy config template: %v", types.ErrIO, err)
		}
	}

	for _, n := range c.Nodes() {
		if f := n.ConfigFile(); f != "" && !internal.Exists(filepath.Join(dir, f)) {
			return fmt.Errorf("%w: %s uses missing config template %s", types.ErrConfiguration, n.Name(), f)
		}
	}
	return nil
}

// validateTemplate rejects node config templates that are not a YAML mapping.
func validateTemplate(path string) error {
	bz, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("%w: %v", types.ErrIO, err)
	}
	var doc map[string]any
	if err := yaml.Unmarshal(bz, &doc); err != nil {
		return fmt.Errorf("%w: config template %s: %v", types.ErrConfiguration, filepath.Base(path), err)
	}
	return nil
}
