package cacher

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// produceBatch implements §4.4 "Batch production" steps 1-7: query head,
// fetch the next window of logs with bounded retry, sign and write the
// cache file (or record an empty batch), append to the manifest, rewrite
// it atomically, and advance the checkpoint.
func (c *Cacher) produceBatch(ctx context.Context) error {
	head, err := c.chain.BlockNumber(ctx)
	if err != nil {
		return fmt.Errorf("query chain head: %w", err)
	}

	c.mu.RLock()
	last := c.lastCachedBlock
	c.mu.RUnlock()

	if last >= head {
		return nil
	}

	from := last + 1
	to := from + batchSize - 1
	if to > head {
		to = head
	}

	logs, err := c.fetchLogsWithRetry(ctx, from, to)
	if err != nil {
		return fmt.Errorf("fetch logs [%d,%d]: %w", from, to, err)
	}

	item, err := c.writeBatch(from, to, logs)
	if err != nil {
		return fmt.Errorf("write batch [%d,%d]: %w", from, to, err)
	}

	c.mu.Lock()
	c.manifest.Items[item.FileName] = item
	manifestSnapshot := c.manifest.clone()
	c.mu.Unlock()

	if err := saveManifestToDisk(c.driveDir, manifestSnapshot); err != nil {
		return fmt.Errorf("persist manifest: %w", err)
	}

	c.mu.Lock()
	c.lastCachedBlock = to
	c.mu.Unlock()
	if err := saveState(c.db, persistentState{ChainID: c.chainID, ProtocolVersion: c.protocolVersion, LastCachedBlock: to, Peers: c.peers}); err != nil {
		return fmt.Errorf("persist checkpoint: %w", err)
	}

	c.logger.Debug().Uint64("from", from).Uint64("to", to).Int("logs", len(logs)).Msg("batch produced")
	return nil
}

func (c *Cacher) fetchLogsWithRetry(ctx context.Context, from, to uint64) ([]types.Log, error) {
	var lastErr error
	for attempt := 0; attempt < maxLogRetries; attempt++ {
		logs, err := c.chain.FilterLogs(ctx, ethereum.FilterQuery{
			FromBlock: new(big.Int).SetUint64(from),
			ToBlock:   new(big.Int).SetUint64(to),
			Addresses: []common.Address{common.HexToAddress(c.registryAddr)},
		})
		if err == nil {
			return logs, nil
		}
		lastErr = err
		select {
		case <-time.After(logRetryDelay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return nil, lastErr
}

// writeBatch signs and persists one batch, recording an empty entry per
// §4.4 step 5 when there were no logs in range.
func (c *Cacher) writeBatch(from, to uint64, logs []types.Log) (ManifestItem, error) {
	if len(logs) == 0 {
		return ManifestItem{FileName: "", FromBlock: from, ToBlock: to, IsEmpty: true}, nil
	}

	logsJSON, err := marshalLogs(logs)
	if err != nil {
		return ManifestItem{}, err
	}
	hash := signingHash(logsJSON, from, to)
	cache := LogCache{
		Metadata: LogMetadata{
			FromBlock:   from,
			ToBlock:     to,
			TimeCreated: nowISO8601(),
			CreatedBy:   c.selfNode,
			Signature:   signWithNetKey(c.netPriv, hash),
		},
		Logs: logs,
	}

	fileBytes, err := marshalCache(cache)
	if err != nil {
		return ManifestItem{}, err
	}
	filename := deterministicFilename(time.Now().Unix(), c.chainID, from, to, c.protocolVersion)
	if err := writeCacheFile(c.driveDir, filename, fileBytes); err != nil {
		return ManifestItem{}, err
	}

	return ManifestItem{
		FileName:  filename,
		FileHash:  fileHash(fileBytes),
		FromBlock: from,
		ToBlock:   to,
	}, nil
}
