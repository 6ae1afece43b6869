package hopli

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/hoprnet/localcluster/framework/types"
)

const (
	safePrefix       = "safe "
	modulePrefix     = "node_module "
	identitiesPrefix = "Identity addresses:"
)

// SafeModule is the result of a safe-module creation.
type SafeModule struct {
	Safe   common.Address
	Module common.Address
	// Identities lists the node addresses the safe was created for, when reported.
	Identities []common.Address
}

// ParseSafeModuleOutput extracts the safe, module and identity addresses from the tool output.
// The tool prints one result per line, prefixed "safe 0x..", "node_module 0x.." and
// "Identity addresses: [0x.., ..]"; all other lines are ignored. A missing or malformed safe or
// module address is a types.ErrProvisioning.
func ParseSafeModuleOutput(lines []string) (SafeModule, error) {
	var (
		res                  SafeModule
		haveSafe, haveModule bool
	)

	for _, raw := range lines {
		line := strings.TrimSpace(raw)
		switch {
		case strings.HasPrefix(line, safePrefix):
			addr, err := parseAddress(strings.TrimPrefix(line, safePrefix))
			if err != nil {
				return SafeModule{}, fmt.Errorf("%w: safe: %v", types.ErrProvisioning, err)
			}
			res.Safe, haveSafe = addr, true
		case strings.HasPrefix(line, modulePrefix):
			addr, err := parseAddress(strings.TrimPrefix(line, modulePrefix))
			if err != nil {
				return SafeModule{}, fmt.Errorf("%w: node_module: %v", types.ErrProvisioning, err)
			}
			res.Module, haveModule = addr, true
		case strings.HasPrefix(line, identitiesPrefix):
			ids, err := parseAddressList(strings.TrimPrefix(line, identitiesPrefix))
			if err != nil {
				return SafeModule{}, fmt.Errorf("%w: identity addresses: %v", types.ErrProvisioning, err)
			}
			res.Identities = ids
		}
	}

	if !haveSafe {
		return SafeModule{}, fmt.Errorf("%w: no safe address in output", types.ErrProvisioning)
	}
	if !haveModule {
		return SafeModule{}, fmt.Errorf("%w: no node_module address in output", types.ErrProvisioning)
	}
	return res, nil
}

func parseAddress(s string) (common.Address, error) {
	s = strings.Trim(strings.TrimSpace(s), `"'`)
	if !common.IsHexAddress(s) {
		return common.Address{}, fmt.Errorf("invalid address %q", s)
	}
	return common.HexToAddress(s), nil
}

func parseAddressList(s string) ([]common.Address, error) {
	s = strings.TrimSpace(s)
	s = strings.TrimSuffix(strings.TrimPrefix(s, "["), "]")

	var out []common.Address
	for _, part := range strings.Split(s, ",") {
		if strings.TrimSpace(part) == "" {
			continue
		}
		addr, err := parseAddress(part)
		if err != nil {
			return nil, err
		}
		out = append(out, addr)
	}
	return out, nil
}
