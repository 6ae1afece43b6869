package chain

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/hoprnet/localcluster/framework/types"
)

// IndexerStartBlock is the block nodes start indexing from on a local chain.
const IndexerStartBlock = 1

// NetworkContracts is the deployment data mirrored from a deployments summary into a protocol config.
type NetworkContracts struct {
	EnvironmentType string                     `json:"environment_type"`
	Addresses       map[string]json.RawMessage `json:"addresses"`
}

type deployments struct {
	Networks map[string]NetworkContracts `json:"networks"`
}

// MirrorContracts copies environment type and contract addresses of srcNetwork in the deployments
// file src into the dstNetwork entry of the protocol config dst, and resets its indexer start block.
// All other content of dst is preserved. dst is rewritten with sorted keys, so repeated runs
// produce identical files.
func MirrorContracts(dst, src, srcNetwork, dstNetwork string) error {
	srcData, err := os.ReadFile(src)
	if err != nil {
		return fmt.Errorf("%w: read deployments: %v", types.ErrIO, err)
	}
	var deployed deployments
	if err := json.Unmarshal(srcData, &deployed); err != nil {
		return fmt.Errorf("%w: parse %s: %v", types.ErrConfiguration, src, err)
	}
	contracts, ok := deployed.Networks[srcNetwork]
	if !ok {
		return fmt.Errorf("%w: network %q not in %s", types.ErrConfiguration, srcNetwork, src)
	}

	dstData, err := os.ReadFile(dst)
	if err != nil {
		return fmt.Errorf("%w: read protocol config: %v", types.ErrIO, err)
	}
	protocol, err := decodeObject(dstData)
	if err != nil {
		return fmt.Errorf("%w: parse %s: %v", types.ErrConfiguration, dst, err)
	}
	networks, ok := protocol["networks"].(map[string]any)
	if !ok {
		return fmt.Errorf("%w: %s has no networks", types.ErrConfiguration, dst)
	}
	network, ok := networks[dstNetwork].(map[string]any)
	if !ok {
		return fmt.Errorf("%w: network %q not in %s", types.ErrConfiguration, dstNetwork, dst)
	}

	addresses := make(map[string]any, len(contracts.Addresses))
	for name, raw := range contracts.Addresses {
		v, err := decodeValue(raw)
		if err != nil {
			return fmt.Errorf("%w: address %s: %v", types.ErrConfiguration, name, err)
		}
		addresses[name] = v
	}
	network["environment_type"] = contracts.EnvironmentType
	network["indexer_start_block_number"] = IndexerStartBlock
	network["addresses"] = addresses

	// maps marshal with sorted keys at every level
	out, err := json.MarshalIndent(protocol, "", "  ")
	if err != nil {
		return err
	}
	if err := os.WriteFile(dst, append(out, '\n'), 0o644); err != nil {
		return fmt.Errorf("%w: write protocol config: %v", types.ErrIO, err)
	}
	return nil
}

func decodeObject(data []byte) (map[string]any, error) {
	v, err := decodeValue(data)
	if err != nil {
		return nil, err
	}
	obj, ok := v.(map[string]any)
	if !ok {
		return nil, errors.New("not a JSON object")
	}
	return obj, nil
}

func decodeValue(data []byte) (any, error) {
	var out any
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&out); err != nil {
		return nil, err
	}
	return out, nil
}
