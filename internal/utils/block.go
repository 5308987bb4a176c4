package utils

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/manifest-network/aexplorer/internal/models"
	"github.com/pkg/errors"
)

// BlockID is a parsed block or generation identifier: either a hash or a height.
type BlockID struct {
	Hash     string
	Height   uint64
	IsHeight bool
}

// IsKeyBlockHash reports whether hash carries the key-block prefix.
// Anything else is treated as a micro-block hash.
func IsKeyBlockHash(hash string) bool {
	return strings.HasPrefix(hash, models.KeyBlockPrefix)
}

// ParseBlockID interprets id as a decimal height when it is all digits, as a hash otherwise.
func ParseBlockID(id string) (BlockID, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return BlockID{}, fmt.Errorf("block id is empty")
	}
	if isDigits(id) {
		height, err := strconv.ParseUint(id, 10, 64)
		if err != nil {
			return BlockID{}, errors.WithMessage(err, "error parsing height")
		}
		return BlockID{Height: height, IsHeight: true}, nil
	}
	return BlockID{Hash: id}, nil
}

func isDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// HeightsDownFrom returns top, top-1, ... for size entries, stopping at genesis (height 0).
func HeightsDownFrom(top uint64, size int) []uint64 {
	if size <= 0 {
		return nil
	}
	if uint64(size-1) > top {
		size = int(top) + 1
	}
	heights := make([]uint64, size)
	for i := range heights {
		heights[i] = top - uint64(i)
	}
	return heights
}

// WithRetry calls fn up to maxRetries+1 times with a linear backoff, stopping early on ctx cancellation.
func WithRetry(ctx context.Context, maxRetries uint, fn func() error) error {
	var err error
	for attempt := uint(0); attempt <= maxRetries; attempt++ {
		if err = fn(); err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if attempt < maxRetries {
			slog.Debug("Retrying", "attempt", attempt+1, "error", err)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(time.Duration(attempt+1) * retryBackoff):
			}
		}
	}
	return fmt.Errorf("failed after %d retries: %w", maxRetries, err)
}

var retryBackoff = 500 * time.Millisecond
