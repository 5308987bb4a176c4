package store

import (
	"context"
	"strconv"

	"github.com/manifest-network/aexplorer/internal/client"
	"github.com/manifest-network/aexplorer/internal/models"
	"github.com/manifest-network/aexplorer/internal/utils"
)

// FetchHeight refreshes the chain height. An unchanged height is returned without a write.
func (s *Store) FetchHeight(ctx context.Context) (uint64, error) {
	api, err := s.client()
	if err != nil {
		return 0, err
	}
	height, err := api.Height(ctx)
	if err != nil {
		return 0, err
	}

	s.mu.Lock()
	if s.state.Height == height {
		s.mu.Unlock()
		s.skipped(MutationSetHeight)
		return height, nil
	}
	s.state.Height = height
	size := len(s.state.Generations)
	s.mu.Unlock()

	s.committed(MutationSetHeight, height, size)
	return height, nil
}

// GetBlockFromHash fetches a key-block, or a micro-block with its transactions, by hash.
func (s *Store) GetBlockFromHash(ctx context.Context, hash string) (*models.Block, error) {
	api, err := s.client()
	if err != nil {
		return nil, err
	}

	var block *models.Block
	if utils.IsKeyBlockHash(hash) {
		block, err = api.GetKeyBlockByHash(ctx, hash)
		if err != nil {
			return nil, err
		}
	} else {
		block, err = api.GetMicroBlockHeaderByHash(ctx, hash)
		if err != nil {
			return nil, err
		}
		txs, err := api.GetMicroBlockTransactionsByHash(ctx, hash)
		if err != nil {
			return nil, err
		}
		block.Transactions = txs
	}

	return s.setBlock(block), nil
}

// GetBlockFromHeight fetches the key-block at height.
func (s *Store) GetBlockFromHeight(ctx context.Context, height uint64) (*models.Block, error) {
	api, err := s.client()
	if err != nil {
		return nil, err
	}
	block, err := api.GetKeyBlockByHeight(ctx, height)
	if err != nil {
		return nil, err
	}
	return s.setBlock(block), nil
}

func (s *Store) setBlock(block *models.Block) *models.Block {
	s.mu.Lock()
	if deepEqual(s.state.Block, block) {
		cached := s.state.Block
		s.mu.Unlock()
		s.skipped(MutationSetBlock)
		return cached
	}
	s.state.Block = block
	size := len(s.state.Generations)
	s.mu.Unlock()

	s.committed(MutationSetBlock, block, size)
	return block
}

// GetGenerationFromHash fetches a generation with all of its micro-blocks and transactions.
func (s *Store) GetGenerationFromHash(ctx context.Context, hash string) (*models.Generation, error) {
	api, err := s.client()
	if err != nil {
		return nil, err
	}
	generation, err := api.GetGenerationByHash(ctx, hash)
	if err != nil {
		return nil, err
	}
	if err := s.attachMicroBlocks(ctx, api, generation); err != nil {
		return nil, err
	}

	s.mu.Lock()
	if deepEqual(s.state.Generation, generation) {
		cached := s.state.Generation
		s.mu.Unlock()
		s.skipped(MutationSetGeneration)
		return cached, nil
	}
	s.state.Generation = generation
	size := len(s.state.Generations)
	s.mu.Unlock()

	s.committed(MutationSetGeneration, generation, size)
	return generation, nil
}

// GetGenerationFromHeight returns the indexed generation at height, fetching it only when absent.
// Concurrent calls for the same height share one fetch. The shared fetch is not tied to any
// single caller's cancellation; each caller stops waiting when its own ctx is done.
func (s *Store) GetGenerationFromHeight(ctx context.Context, height uint64) (*models.Generation, error) {
	if cached, ok := s.CachedGeneration(height); ok {
		s.metrics.GenerationCacheHits.Inc()
		return cached, nil
	}

	flightCtx := context.WithoutCancel(ctx)
	results := s.inflight.DoChan(strconv.FormatUint(height, 10), func() (interface{}, error) {
		if cached, ok := s.CachedGeneration(height); ok {
			s.metrics.GenerationCacheHits.Inc()
			return cached, nil
		}
		return s.fetchGenerationAtHeight(flightCtx, height)
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-results:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*models.Generation), nil
	}
}

func (s *Store) fetchGenerationAtHeight(ctx context.Context, height uint64) (*models.Generation, error) {
	api, err := s.client()
	if err != nil {
		return nil, err
	}
	generation, err := api.GetGenerationByHeight(ctx, height)
	if err != nil {
		return nil, err
	}
	if err := s.attachMicroBlocks(ctx, api, generation); err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.state.Generations[height] = generation
	unchanged := deepEqual(s.state.Generation, generation)
	if !unchanged {
		s.state.Generation = generation
	}
	size := len(s.state.Generations)
	s.mu.Unlock()

	s.committed(MutationSetGenerations, generation, size)
	if unchanged {
		s.skipped(MutationSetGeneration)
	} else {
		s.committed(MutationSetGeneration, generation, size)
	}
	return generation, nil
}

// attachMicroBlocks fetches every micro-block header and its transactions in parallel
// and records the generation's transaction count.
func (s *Store) attachMicroBlocks(ctx context.Context, api client.NodeAPI, generation *models.Generation) error {
	detailed := make([]*models.Block, len(generation.MicroBlocks))
	eg, egCtx := s.group(ctx)
	for i, hash := range generation.MicroBlocks {
		eg.Go(func() error {
			microBlock, err := api.GetMicroBlockHeaderByHash(egCtx, hash)
			if err != nil {
				return err
			}
			txs, err := api.GetMicroBlockTransactionsByHash(egCtx, hash)
			if err != nil {
				return err
			}
			microBlock.Transactions = txs
			detailed[i] = microBlock
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return err
	}
	generation.MicroBlocksDetailed = detailed
	generation.NumTransactions = generation.CountTransactions()
	return nil
}

// GetLatestBlocks refreshes the height and replaces the block list with the size latest key-blocks.
// A non-positive size returns the cached list untouched.
func (s *Store) GetLatestBlocks(ctx context.Context, size int) ([]*models.Block, error) {
	if size <= 0 {
		return s.cachedBlocks(), nil
	}
	height, err := s.FetchHeight(ctx)
	if err != nil {
		return nil, err
	}
	blocks, err := s.keyBlocksDownFrom(ctx, height, size)
	if err != nil {
		return nil, err
	}

	s.commit(MutationSetBlocks, blocks, func(st *State) {
		st.Blocks = blocks
	})
	return blocks, nil
}

// AddBlocksByHeightAndSize appends the size key-blocks ending at height to the block list.
// A non-positive size returns the cached list untouched.
func (s *Store) AddBlocksByHeightAndSize(ctx context.Context, height uint64, size int) ([]*models.Block, error) {
	if size <= 0 {
		return s.cachedBlocks(), nil
	}
	blocks, err := s.keyBlocksDownFrom(ctx, height, size)
	if err != nil {
		return nil, err
	}

	s.commit(MutationAddBlocks, blocks, func(st *State) {
		st.Blocks = append(st.Blocks, blocks...)
	})
	return blocks, nil
}

// GetLatestGenerations refreshes the height and loads the size latest generations through the height index.
// A non-positive size returns the indexed generations, highest first.
func (s *Store) GetLatestGenerations(ctx context.Context, size int) ([]*models.Generation, error) {
	if size <= 0 {
		return s.generationsByHeight(), nil
	}
	height, err := s.FetchHeight(ctx)
	if err != nil {
		return nil, err
	}

	heights := utils.HeightsDownFrom(height, size)
	generations := make([]*models.Generation, len(heights))
	eg, egCtx := s.group(ctx)
	for i, h := range heights {
		eg.Go(func() error {
			generation, err := s.GetGenerationFromHeight(egCtx, h)
			generations[i] = generation
			return err
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}
	return generations, nil
}

func (s *Store) keyBlocksDownFrom(ctx context.Context, height uint64, size int) ([]*models.Block, error) {
	api, err := s.client()
	if err != nil {
		return nil, err
	}
	heights := utils.HeightsDownFrom(height, size)
	blocks := make([]*models.Block, len(heights))
	eg, egCtx := s.group(ctx)
	for i, h := range heights {
		eg.Go(func() error {
			block, err := api.GetKeyBlockByHeight(egCtx, h)
			blocks[i] = block
			return err
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}
	return blocks, nil
}

func (s *Store) cachedBlocks() []*models.Block {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]*models.Block(nil), s.state.Blocks...)
}

// EvictGenerations drops indexed generations with from <= height <= to so they are fetched again.
func (s *Store) EvictGenerations(from, to uint64) int {
	evicted := 0
	s.commit(MutationEvictGenerations, [2]uint64{from, to}, func(st *State) {
		for h := range st.Generations {
			if h >= from && h <= to {
				delete(st.Generations, h)
				evicted++
			}
		}
	})
	return evicted
}
