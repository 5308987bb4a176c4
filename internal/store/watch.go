package store

import (
	"context"
	"log/slog"
	"sync"

	"github.com/olebedev/emitter"
)

// DefaultLatestGenerations is how many generations a base-URL change reloads.
const DefaultLatestGenerations = 10

// Watch subscribes to base-URL changes and, on each change, refreshes the height and the
// latest generations against the current endpoint. Changes queued during a refresh collapse
// into one. The subscription is registered before Watch returns; the returned
// channel is closed once ctx is done and the watcher has stopped.
func (s *Store) Watch(ctx context.Context, latest int) <-chan struct{} {
	if latest <= 0 {
		latest = DefaultLatestGenerations
	}
	ch, unsubscribe := s.Subscribe(TopicBaseURL)
	done := make(chan struct{})

	go func() {
		defer close(done)
		defer unsubscribe()
		for {
			select {
			case <-ctx.Done():
				return
			case _, ok := <-ch:
				if !ok {
					return
				}
				if !drain(ch) {
					return
				}
				slog.Info("Refreshing chain state", "node", s.BaseURL())
				s.refresh(ctx, latest)
			}
		}
	}()
	return done
}

// drain discards queued events so a burst of changes triggers a single refresh.
// It reports false once the channel is closed.
func drain(ch <-chan emitter.Event) bool {
	for {
		select {
		case _, ok := <-ch:
			if !ok {
				return false
			}
		default:
			return true
		}
	}
}

func (s *Store) refresh(ctx context.Context, latest int) {
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		if _, err := s.FetchHeight(ctx); err != nil {
			slog.Error("Failed to refresh height", "error", err)
		}
	}()
	go func() {
		defer wg.Done()
		if _, err := s.GetLatestGenerations(ctx, latest); err != nil {
			slog.Error("Failed to refresh latest generations", "error", err)
		}
	}()
	wg.Wait()
}
