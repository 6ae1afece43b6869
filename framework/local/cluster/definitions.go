package cluster

import (
	"fmt"

	"github.com/BurntSushi/toml"
	"github.com/hoprnet/localcluster/framework/types"
)

const (
	// DefaultNetwork is the network every default node joins.
	DefaultNetwork = "anvil-localhost"
	// DefaultAPIToken protects the API of the default nodes that use authentication.
	DefaultAPIToken = "e2e-API-token^^"
)

// Definition describes one node. Its position in a definition list is its id.
type Definition struct {
	Network  string `toml:"network"`
	Host     string `toml:"host"`
	APIToken string `toml:"api_token"`
	// ConfigFile is the node config template, e.g. "barebone.cfg.yaml".
	ConfigFile string `toml:"config_file"`
}

// DefaultDefinitions returns the six node reference cluster. Node 2 runs without API authentication,
// node 5 uses the default strategies and node 6 a lower outgoing winning probability.
func DefaultDefinitions() []Definition {
	return []Definition{
		{Network: DefaultNetwork, Host: "localhost", APIToken: DefaultAPIToken, ConfigFile: "barebone.cfg.yaml"},
		{Network: DefaultNetwork, Host: "127.0.0.1", ConfigFile: "barebone.cfg.yaml"},
		{Network: DefaultNetwork, Host: "localhost", APIToken: DefaultAPIToken, ConfigFile: "barebone.cfg.yaml"},
		{Network: DefaultNetwork, Host: "127.0.0.1", APIToken: DefaultAPIToken, ConfigFile: "barebone.cfg.yaml"},
		{Network: DefaultNetwork, Host: "localhost", APIToken: DefaultAPIToken, ConfigFile: "default.cfg.yaml"},
		{Network: DefaultNetwork, Host: "127.0.0.1", APIToken: DefaultAPIToken, ConfigFile: "barebone-lower-win-prob.cfg.yaml"},
	}
}

type definitionsFile struct {
	Nodes []Definition `toml:"node"`
}

// LoadDefinitions reads node definitions from a TOML file of [[node]] tables.
func LoadDefinitions(path string) ([]Definition, error) {
	var f definitionsFile
	md, err := toml.DecodeFile(path, &f)
	if err != nil {
		return nil, fmt.Errorf("%w: read definitions %s: %v", types.ErrConfiguration, path, err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return nil, fmt.Errorf("%w: unknown keys in %s: %v", types.ErrConfiguration, path, undecoded)
	}
	if len(f.Nodes) == 0 {
		return nil, fmt.Errorf("%w: no nodes defined in %s", types.ErrConfiguration, path)
	}
	for i, d := range f.Nodes {
		if d.Network == "" {
			return nil, fmt.Errorf("%w: node %d in %s has no network", types.ErrConfiguration, i+1, path)
		}
		if d.Host == "" {
			f.Nodes[i].Host = "localhost"
		}
	}
	return f.Nodes, nil
}

// ConfigFiles returns the distinct config templates referenced by defs, in order of first use.
func ConfigFiles(defs []Definition) []string {
	seen := make(map[string]bool)
	var files []string
	for _, d := range defs {
		if d.ConfigFile == "" || seen[d.ConfigFile] {
			continue
		}
		seen[d.ConfigFile] = true
		files = append(files, d.ConfigFile)
	}
	return files
}
