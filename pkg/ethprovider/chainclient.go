package ethprovider

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
)

// chainClientPollInterval is how often PoolChainClient re-polls eth_getLogs
// to stand in for a live eth_subscribe("logs") push, mirroring
// pkg/sysproc's EthActionSubscribeLogs poll loop (§4.2, §8 "Subscription
// liveness"): the pool exposes no persistent push transport, so both the
// indexer's internal watch and the bus-facing subscription action poll.
const chainClientPollInterval = 4 * time.Second

// PoolChainClient adapts a *Pool to indexer.ChainClient and cacher.ChainClient,
// so the indexer and cacher inherit the pool's provider ordering, health
// tracking, and failover (§2 "Indexer and cacher are themselves processes
// addressed the same way; they issue subscription requests into the
// provider pool") instead of talking to one fixed RPC endpoint directly.
type PoolChainClient struct {
	pool       *Pool
	sourceNode string
}

// NewPoolChainClient builds a PoolChainClient that issues every request as
// sourceNode (the node's own identity, so pool access control always
// admits it).
func NewPoolChainClient(pool *Pool, sourceNode string) *PoolChainClient {
	return &PoolChainClient{pool: pool, sourceNode: sourceNode}
}

// BlockNumber implements ChainClient.
func (c *PoolChainClient) BlockNumber(ctx context.Context) (uint64, error) {
	raw, err := c.pool.Request(ctx, c.sourceNode, "eth_blockNumber", nil)
	if err != nil {
		return 0, err
	}
	var result hexutil.Uint64
	if err := json.Unmarshal(raw, &result); err != nil {
		return 0, fmt.Errorf("decode eth_blockNumber result: %w", err)
	}
	return uint64(result), nil
}

// FilterLogs implements ChainClient.
func (c *PoolChainClient) FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error) {
	params, err := toFilterLogsParams(q)
	if err != nil {
		return nil, fmt.Errorf("encode eth_getLogs params: %w", err)
	}
	raw, err := c.pool.Request(ctx, c.sourceNode, "eth_getLogs", params)
	if err != nil {
		return nil, err
	}
	var logs []types.Log
	if err := json.Unmarshal(raw, &logs); err != nil {
		return nil, fmt.Errorf("decode eth_getLogs result: %w", err)
	}
	return logs, nil
}

// SubscribeFilterLogs implements ChainClient with a polling stand-in: there
// is no persistent push transport behind the pool, so new logs are found by
// re-running FilterLogs from the last seen block on chainClientPollInterval.
func (c *PoolChainClient) SubscribeFilterLogs(ctx context.Context, q ethereum.FilterQuery, ch chan<- types.Log) (ethereum.Subscription, error) {
	subCtx, cancel := context.WithCancel(ctx)
	errCh := make(chan error, 1)
	go c.pollLogs(subCtx, q, ch, errCh)
	return &pollSubscription{cancel: cancel, errCh: errCh}, nil
}

func (c *PoolChainClient) pollLogs(ctx context.Context, q ethereum.FilterQuery, ch chan<- types.Log, errCh chan<- error) {
	ticker := time.NewTicker(chainClientPollInterval)
	defer ticker.Stop()

	from := q.FromBlock
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			head, err := c.BlockNumber(ctx)
			if err != nil {
				continue
			}
			query := q
			query.FromBlock = from
			query.ToBlock = new(big.Int).SetUint64(head)
			logs, err := c.FilterLogs(ctx, query)
			if err != nil {
				continue
			}
			for _, l := range logs {
				select {
				case ch <- l:
				case <-ctx.Done():
					return
				}
			}
			from = new(big.Int).SetUint64(head + 1)
		}
	}
}

// pollSubscription satisfies ethereum.Subscription over a poll loop's
// lifetime, in place of a real transport subscription handle.
type pollSubscription struct {
	cancel context.CancelFunc
	errCh  chan error
}

func (s *pollSubscription) Unsubscribe() {
	s.cancel()
}

func (s *pollSubscription) Err() <-chan error {
	return s.errCh
}

// toFilterLogsParams builds eth_getLogs's single positional object
// argument, mirroring go-ethereum's own ethclient wire encoding for
// FilterQuery (fromBlock/toBlock/address/topics, blockHash taking
// precedence over a range when set).
func toFilterLogsParams(q ethereum.FilterQuery) (json.RawMessage, error) {
	arg := make(map[string]interface{})

	if q.BlockHash != nil {
		arg["blockHash"] = *q.BlockHash
	} else {
		arg["fromBlock"] = toBlockNumArg(q.FromBlock)
		arg["toBlock"] = toBlockNumArg(q.ToBlock)
	}
	if len(q.Addresses) == 1 {
		arg["address"] = q.Addresses[0]
	} else if len(q.Addresses) > 1 {
		arg["address"] = q.Addresses
	}
	if len(q.Topics) > 0 {
		arg["topics"] = q.Topics
	}

	return json.Marshal([]interface{}{arg})
}

func toBlockNumArg(number *big.Int) string {
	if number == nil {
		return "latest"
	}
	return hexutil.EncodeBig(number)
}
