package output

import (
	"context"

	"github.com/manifest-network/aexplorer/internal/models"
)

type OutputHandler interface {
	// WriteGeneration writes a generation and the transactions of its micro-blocks to the output.
	WriteGeneration(ctx context.Context, generation *models.Generation) error

	// GetLatestGeneration returns the highest generation in the output, or nil when empty.
	GetLatestGeneration(ctx context.Context) (*models.Generation, error)

	// GetEarliestGeneration returns the lowest generation in the output, or nil when empty.
	GetEarliestGeneration(ctx context.Context) (*models.Generation, error)

	// GetMissingGenerationHeights returns the heights missing between the earliest and latest generation.
	GetMissingGenerationHeights(ctx context.Context) ([]uint64, error)

	// DeleteGenerationsFrom removes every generation at or above height, e.g. after a reorg.
	DeleteGenerationsFrom(ctx context.Context, height uint64) error

	// Close closes the output handler.
	Close() error
}
