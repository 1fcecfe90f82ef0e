// Package registry implements pkg/resolver's RegistryReader against the
// live on-chain name registry, riding pkg/ethprovider's pool exactly the way
// any other eth_call caller would (§4.2, §4.3 "On-demand lookup"). Uses a
// hand-written ABI encoding (abi.JSON of an inline fragment, then
// Pack/Unpack) rather than a generated binding, since the registry contract
// here has no bundled artifact to bind against.
package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"

	"github.com/meshkernel/node/pkg/indexer"
)

// registryABI is the minimal read surface the resolver needs: confirm a
// namehash was minted, and read one note's raw bytes. The mint/note
// namehash scheme itself is computed client-side (NameToNamehash) rather
// than sent as a string, matching how the indexer only ever sees namehashes
// in Mint/Note event logs (§4.3 "Event model").
const registryABIJSON = `[
	{"type":"function","name":"exists","stateMutability":"view",
	 "inputs":[{"name":"namehash","type":"bytes32"}],
	 "outputs":[{"name":"","type":"bool"}]},
	{"type":"function","name":"readNote","stateMutability":"view",
	 "inputs":[{"name":"parent","type":"bytes32"},{"name":"label","type":"string"}],
	 "outputs":[{"name":"","type":"bytes"}]}
]`

var registryABI = mustParseABI(registryABIJSON)

func mustParseABI(raw string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(raw))
	if err != nil {
		panic(fmt.Sprintf("registry: invalid embedded ABI: %v", err))
	}
	return parsed
}

// Caller is the subset of *ethprovider.Pool a Client needs: an eth_call
// request/response round trip.
type Caller interface {
	Request(ctx context.Context, sourceNode, method string, params json.RawMessage) (json.RawMessage, error)
}

// Client is a RegistryReader backed by a live eth_call against the
// registry contract address, issued through the node's own provider pool.
type Client struct {
	contract common.Address
	selfNode string
	pool     Caller
}

// New returns a Client that issues eth_call requests on behalf of selfNode
// (the "local" caller identity pool.Request attributes the request to).
func New(contract common.Address, selfNode string, pool Caller) *Client {
	return &Client{contract: contract, selfNode: selfNode, pool: pool}
}

// NameToNamehash computes the deterministic namehash for a dotted name,
// folding labels right-to-left from indexer.RootNamehash (GLOSSARY
// "Namehash"). The registry's top-level label is "os", already folded into
// RootNamehash by the indexer at construction, so a trailing ".os" suffix
// is dropped rather than hashed again.
func NameToNamehash(name string) indexer.Namehash {
	labels := strings.Split(name, ".")
	if len(labels) > 0 && labels[len(labels)-1] == "os" {
		labels = labels[:len(labels)-1]
	}
	hash := indexer.RootNamehash
	for i := len(labels) - 1; i >= 0; i-- {
		if labels[i] == "" {
			continue
		}
		hash = indexer.ComputeNamehash(hash, labels[i])
	}
	return hash
}

// Get resolves name to its namehash, confirming on-chain that it was
// actually minted (§4.3 "On-demand lookup": "a synchronous get(name) against
// the registry").
func (c *Client) Get(ctx context.Context, name string) (indexer.Namehash, bool, error) {
	hash := NameToNamehash(name)

	calldata, err := registryABI.Pack("exists", [32]byte(hash))
	if err != nil {
		return indexer.Namehash{}, false, fmt.Errorf("registry: pack exists(%s): %w", name, err)
	}
	raw, err := c.call(ctx, calldata)
	if err != nil {
		return indexer.Namehash{}, false, err
	}
	if len(raw) == 0 {
		return indexer.Namehash{}, false, nil
	}

	out, err := registryABI.Unpack("exists", raw)
	if err != nil {
		return indexer.Namehash{}, false, fmt.Errorf("registry: unpack exists(%s): %w", name, err)
	}
	found, ok := out[0].(bool)
	if !ok || !found {
		return indexer.Namehash{}, false, nil
	}
	return hash, true, nil
}

// ReadNote reads one note's raw bytes under parent, per §4.3's four
// well-known labels plus ~routers.
func (c *Client) ReadNote(ctx context.Context, parent indexer.Namehash, label string) ([]byte, bool, error) {
	calldata, err := registryABI.Pack("readNote", [32]byte(parent), label)
	if err != nil {
		return nil, false, fmt.Errorf("registry: pack readNote(%s): %w", label, err)
	}
	raw, err := c.call(ctx, calldata)
	if err != nil {
		return nil, false, err
	}
	if len(raw) == 0 {
		return nil, false, nil
	}

	out, err := registryABI.Unpack("readNote", raw)
	if err != nil {
		return nil, false, fmt.Errorf("registry: unpack readNote(%s): %w", label, err)
	}
	data, ok := out[0].([]byte)
	if !ok || len(data) == 0 {
		return nil, false, nil
	}
	return data, true, nil
}

// call issues the eth_call and returns the decoded return data, or nil if
// the node answered with the empty-result convention for "no such record".
func (c *Client) call(ctx context.Context, calldata []byte) ([]byte, error) {
	callObj := map[string]interface{}{
		"to":   c.contract.Hex(),
		"data": hexutil.Encode(calldata),
	}
	params, err := json.Marshal([]interface{}{callObj, "latest"})
	if err != nil {
		return nil, fmt.Errorf("registry: marshal eth_call params: %w", err)
	}

	result, err := c.pool.Request(ctx, c.selfNode, "eth_call", params)
	if err != nil {
		return nil, fmt.Errorf("registry: eth_call failed: %w", err)
	}

	var hexResult string
	if err := json.Unmarshal(result, &hexResult); err != nil {
		return nil, fmt.Errorf("registry: malformed eth_call result: %w", err)
	}
	if hexResult == "" || hexResult == "0x" {
		return nil, nil
	}
	return hexutil.Decode(hexResult)
}
