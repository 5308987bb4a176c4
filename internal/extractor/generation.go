package extractor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/manifest-network/aexplorer/internal/config"
	"github.com/manifest-network/aexplorer/internal/metrics"
	"github.com/manifest-network/aexplorer/internal/models"
	"github.com/manifest-network/aexplorer/internal/output"
	"github.com/manifest-network/aexplorer/internal/utils"
	"github.com/schollz/progressbar/v3"
	"golang.org/x/sync/errgroup"
)

// Source is the part of the store the extractor reads from.
type Source interface {
	FetchHeight(ctx context.Context) (uint64, error)
	GetGenerationFromHeight(ctx context.Context, height uint64) (*models.Generation, error)
	GetBlockFromHeight(ctx context.Context, height uint64) (*models.Block, error)
	EvictGenerations(from, to uint64) int
}

type Extractor struct {
	source  Source
	output  output.OutputHandler
	cfg     config.ExtractConfig
	metrics *metrics.Metrics
	// showProgress renders a progress bar on ranges; disabled in tests.
	showProgress bool
}

func New(source Source, out output.OutputHandler, cfg config.ExtractConfig, m *metrics.Metrics) *Extractor {
	return &Extractor{source: source, output: out, cfg: cfg, metrics: m, showProgress: true}
}

// Run backfills the configured range, then follows the chain when live monitoring is enabled.
func (e *Extractor) Run(ctx context.Context) error {
	start, stop, err := e.resolveRange(ctx)
	if err != nil {
		return err
	}

	if !e.cfg.ReIndex {
		if err := e.processMissingGenerations(ctx); err != nil {
			return err
		}
	}

	if start <= stop {
		if err := e.extractGenerations(ctx, start, stop); err != nil {
			return err
		}
	} else {
		slog.Info("Output is up to date", "height", stop)
	}

	if e.cfg.LiveMonitoring {
		next := stop + 1
		if start > next {
			next = start
		}
		return e.extractLiveGenerations(ctx, next)
	}
	return nil
}

// resolveRange picks the heights to backfill: from the configured start, or one past the
// latest persisted generation, up to the configured stop or the current chain height.
func (e *Extractor) resolveRange(ctx context.Context) (uint64, uint64, error) {
	start := e.cfg.Start
	if start == 0 && !e.cfg.ReIndex {
		latest, err := e.output.GetLatestGeneration(ctx)
		if err != nil {
			return 0, 0, fmt.Errorf("failed to get latest generation from output: %w", err)
		}
		if latest != nil {
			earliest, err := e.output.GetEarliestGeneration(ctx)
			if err != nil {
				return 0, 0, fmt.Errorf("failed to get earliest generation from output: %w", err)
			}
			start = latest.Height() + 1
			slog.Info("Resuming extraction", "height", start, "persisted", fmt.Sprintf("[%d, %d]", earliest.Height(), latest.Height()))
		}
	}

	stop := e.cfg.Stop
	if stop == 0 {
		height, err := e.source.FetchHeight(ctx)
		if err != nil {
			return 0, 0, fmt.Errorf("failed to get chain height: %w", err)
		}
		stop = height
	}
	return start, stop, nil
}

// extractGenerations extracts generations in [start, stop] and writes them to the output.
func (e *Extractor) extractGenerations(ctx context.Context, start, stop uint64) error {
	displayProgress := e.showProgress && start != stop
	if start != stop {
		slog.Info("Extracting generations", "range", fmt.Sprintf("[%d, %d]", start, stop))
	} else {
		slog.Info("Extracting generation", "height", start)
	}
	var bar *progressbar.ProgressBar
	if displayProgress {
		bar = progressbar.NewOptions64(
			int64(stop-start+1),
			progressbar.OptionClearOnFinish(),
			progressbar.OptionSetDescription("Processing generations..."),
			progressbar.OptionShowCount(),
			progressbar.OptionShowIts(),
			progressbar.OptionSetTheme(progressbar.Theme{
				Saucer:        "=",
				SaucerHead:    ">",
				SaucerPadding: " ",
				BarStart:      "[",
				BarEnd:        "]",
			}),
		)
		if err := bar.RenderBlank(); err != nil {
			return fmt.Errorf("failed to render progress bar: %w", err)
		}
	}

	if err := e.processGenerations(ctx, start, stop, bar); err != nil {
		return fmt.Errorf("failed to process generations: %w", err)
	}

	if bar != nil {
		if err := bar.Finish(); err != nil {
			return fmt.Errorf("failed to finish progress bar: %w", err)
		}
	}
	return nil
}

// processMissingGenerations re-fetches holes left in the output by earlier runs.
func (e *Extractor) processMissingGenerations(ctx context.Context) error {
	missing, err := e.output.GetMissingGenerationHeights(ctx)
	if err != nil {
		return fmt.Errorf("failed to get missing generation heights: %w", err)
	}

	if len(missing) > 0 {
		slog.Warn("Missing generations detected", "count", len(missing))
		for _, height := range missing {
			if err := e.processSingleGenerationWithRetry(ctx, height); err != nil {
				return fmt.Errorf("failed to process missing generation %d: %w", height, err)
			}
		}
	}
	return nil
}

// processGenerations processes generations in parallel using goroutines.
func (e *Extractor) processGenerations(ctx context.Context, start, stop uint64, bar *progressbar.ProgressBar) error {
	eg, egCtx := errgroup.WithContext(ctx)
	sem := make(chan struct{}, e.cfg.MaxConcurrency)

	for height := start; height <= stop; height++ {
		if egCtx.Err() != nil {
			slog.Info("Processing cancelled")
			break
		}

		sem <- struct{}{}
		eg.Go(func() error {
			defer func() { <-sem }()

			if err := e.processSingleGenerationWithRetry(egCtx, height); err != nil {
				if !errors.Is(err, context.Canceled) {
					slog.Error("Generation processing error", "height", height, "error", err)
				}
				return fmt.Errorf("failed to process generation %d: %w", height, err)
			}

			if bar != nil {
				if err := bar.Add(1); err != nil {
					slog.Warn("Failed to update progress bar", "error", err)
				}
			}
			return nil
		})

		// guard against an overflow when stop is the largest uint64
		if height == stop {
			break
		}
	}

	if err := eg.Wait(); err != nil {
		return fmt.Errorf("error while fetching generations: %w", err)
	}
	return ctx.Err()
}

// processSingleGenerationWithRetry fetches a generation through the store and writes it to the output.
// Written heights are evicted from the store's index so a long backfill doesn't hold the whole chain in memory.
func (e *Extractor) processSingleGenerationWithRetry(ctx context.Context, height uint64) error {
	err := utils.WithRetry(ctx, e.cfg.MaxRetries, func() error {
		generation, err := e.source.GetGenerationFromHeight(ctx, height)
		if err != nil {
			return fmt.Errorf("failed to get generation: %w", err)
		}
		if err := e.output.WriteGeneration(ctx, generation); err != nil {
			return fmt.Errorf("failed to write generation: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}
	e.source.EvictGenerations(height, height)
	if e.metrics != nil {
		e.metrics.ExtractedGenerations.Inc()
	}
	return nil
}
