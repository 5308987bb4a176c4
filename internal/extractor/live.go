package extractor

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/manifest-network/aexplorer/internal/utils"
)

// maxReorgDepth bounds how many persisted generations a single reorg check may rewind.
const maxReorgDepth = 32

// extractLiveGenerations monitors the chain and processes new generations as they are produced.
func (e *Extractor) extractLiveGenerations(ctx context.Context, next uint64) error {
	ticker := time.NewTicker(time.Duration(e.cfg.BlockTime) * time.Second)
	defer ticker.Stop()

	for {
		var latestHeight uint64
		err := utils.WithRetry(ctx, e.cfg.MaxRetries, func() error {
			var err error
			latestHeight, err = e.source.FetchHeight(ctx)
			return err
		})
		if ctx.Err() != nil {
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to get latest height: %w", err)
		}

		if latestHeight >= next {
			next, err = e.rewindOnReorg(ctx, next)
			if err != nil {
				return err
			}
			if err := e.extractGenerations(ctx, next, latestHeight); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				return fmt.Errorf("failed to process generations: %w", err)
			}
			next = latestHeight + 1
		}

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// rewindOnReorg compares the latest persisted key-block with the node's key-block at the
// same height and drops persisted generations until they agree. It returns the height to
// resume extraction from.
func (e *Extractor) rewindOnReorg(ctx context.Context, next uint64) (uint64, error) {
	for depth := 0; depth < maxReorgDepth; depth++ {
		latest, err := e.output.GetLatestGeneration(ctx)
		if err != nil {
			return 0, fmt.Errorf("failed to get latest generation from output: %w", err)
		}
		if latest == nil || latest.KeyBlock == nil {
			return next, nil
		}

		height := latest.Height()
		block, err := e.source.GetBlockFromHeight(ctx, height)
		if err != nil {
			return 0, fmt.Errorf("failed to get key-block %d: %w", height, err)
		}
		if block.Hash == latest.KeyBlock.Hash {
			return next, nil
		}

		slog.Warn("Chain reorganization detected", "height", height, "persisted", latest.KeyBlock.Hash, "node", block.Hash)
		if err := e.output.DeleteGenerationsFrom(ctx, height); err != nil {
			return 0, err
		}
		e.source.EvictGenerations(height, math.MaxUint64)
		if height < next {
			next = height
		}
	}
	return next, nil
}
