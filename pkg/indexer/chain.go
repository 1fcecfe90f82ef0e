package indexer

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
)

// MintEventSignature and NoteEventSignature are the registry contract's
// event topic0 values, computed once at package init from the canonical
// Solidity event signatures.
var (
	MintEventSignature = crypto.Keccak256Hash([]byte("Mint(bytes32,bytes32,bytes)"))
	NoteEventSignature = crypto.Keccak256Hash([]byte("Note(bytes32,bytes32,bytes)"))
)

// ChainClient is the indexer's view of the registry's chain access: filter
// logs in a range, and subscribe to new ones. Implemented in production by
// pkg/ethprovider.PoolChainClient, so the indexer's reads inherit the
// provider pool's ordering, health tracking, and failover rather than
// talking to one fixed RPC endpoint; narrowed here so the indexer can be
// driven by a fake in tests.
type ChainClient interface {
	BlockNumber(ctx context.Context) (uint64, error)
	FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error)
	SubscribeFilterLogs(ctx context.Context, q ethereum.FilterQuery, ch chan<- types.Log) (ethereum.Subscription, error)
}

// filterQuery builds the Mint/Note filter for the registry contract,
// covering fromBlock..toBlock (toBlock nil means "to chain head").
func filterQuery(registry common.Address, fromBlock uint64, toBlock *uint64) ethereum.FilterQuery {
	q := ethereum.FilterQuery{
		Addresses: []common.Address{registry},
		Topics:    [][]common.Hash{{MintEventSignature, NoteEventSignature}},
		FromBlock: blockBig(fromBlock),
	}
	if toBlock != nil {
		q.ToBlock = blockBig(*toBlock)
	}
	return q
}

// decodeLog turns a raw types.Log into a Mint or a Note, or an error if its
// topic0 does not match either known signature or its topic layout is
// malformed.
func decodeLog(l types.Log) (mint *Mint, note *Note, err error) {
	if len(l.Topics) < 2 {
		return nil, nil, fmt.Errorf("log at block %d has too few topics", l.BlockNumber)
	}
	switch l.Topics[0] {
	case MintEventSignature:
		if len(l.Topics) < 3 {
			return nil, nil, fmt.Errorf("mint log at block %d missing child_hash topic", l.BlockNumber)
		}
		return &Mint{
			ParentHash: l.Topics[1],
			ChildHash:  l.Topics[2],
			Label:      decodeLabel(l.Data),
			Block:      l.BlockNumber,
		}, nil, nil
	case NoteEventSignature:
		if len(l.Topics) < 3 {
			return nil, nil, fmt.Errorf("note log at block %d missing note_label topic", l.BlockNumber)
		}
		return nil, &Note{
			ParentHash: l.Topics[1],
			NoteLabel:  decodeLabel(l.Topics[2].Bytes()),
			Data:       l.Data,
			Block:      l.BlockNumber,
		}, nil
	default:
		return nil, nil, fmt.Errorf("unrecognized event topic %s at block %d", l.Topics[0], l.BlockNumber)
	}
}

// decodeLabel trims trailing NUL padding from a bytes32-packed ASCII label.
func decodeLabel(data []byte) string {
	end := len(data)
	for end > 0 && data[end-1] == 0 {
		end--
	}
	return string(data[:end])
}

func blockBig(b uint64) *big.Int {
	return new(big.Int).SetUint64(b)
}
