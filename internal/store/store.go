// Package store holds the explorer's cached chain state and the operations that fill it.
//
// Every operation fetches from the node first and only then commits a single named mutation,
// so a failed fetch never leaves partially written state behind. Singletons (height, block,
// generation) are only overwritten when the fetched value differs from the cached one.
package store

import (
	"context"
	"log/slog"
	"sort"
	"sync"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/jinzhu/copier"
	"github.com/manifest-network/aexplorer/internal/client"
	"github.com/manifest-network/aexplorer/internal/metrics"
	"github.com/manifest-network/aexplorer/internal/models"
	"github.com/olebedev/emitter"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"
)

// Mutation names a state write.
type Mutation string

const (
	MutationSetNodeStatus    Mutation = "setNodeStatus"
	MutationChangeBaseURL    Mutation = "changeBaseUrl"
	MutationSetHeight        Mutation = "setHeight"
	MutationSetBlock         Mutation = "setBlock"
	MutationSetBlocks        Mutation = "setBlocks"
	MutationAddBlocks        Mutation = "addBlocks"
	MutationSetGeneration    Mutation = "setGeneration"
	MutationSetGenerations   Mutation = "setGenerations"
	MutationEvictGenerations Mutation = "evictGenerations"
)

// Event topics.
const (
	TopicMutation = "mutation:"
	TopicBaseURL  = "state:base_url"
)

const eventBufferSize = 8

// State is the cached state tree.
type State struct {
	NodeStatus  models.NodeStatus             `json:"node_status"`
	BaseURL     string                        `json:"base_url"`
	Height      uint64                        `json:"height"`
	Block       *models.Block                 `json:"block"`
	Blocks      []*models.Block               `json:"blocks"`
	Generation  *models.Generation            `json:"generation"`
	Generations map[uint64]*models.Generation `json:"generations"`
}

type Options struct {
	BaseURL string
	Clients client.Source
	Metrics *metrics.Metrics
	// MaxConcurrency bounds the fan-out of a single operation; zero means unbounded.
	MaxConcurrency int
}

type Store struct {
	mu    sync.RWMutex
	state State

	clients        client.Source
	metrics        *metrics.Metrics
	events         *emitter.Emitter
	inflight       singleflight.Group
	loading        loading
	maxConcurrency int
}

func New(opts Options) *Store {
	m := opts.Metrics
	if m == nil {
		m = metrics.New(prometheus.NewRegistry())
	}
	return &Store{
		state: State{
			BaseURL:     client.NormalizeBaseURL(opts.BaseURL),
			Generations: map[uint64]*models.Generation{},
		},
		clients:        opts.Clients,
		metrics:        m,
		events:         emitter.New(eventBufferSize),
		loading:        loading{active: map[string]int{}},
		maxConcurrency: opts.MaxConcurrency,
	}
}

// State returns a deep copy of the state tree.
func (s *Store) State() (State, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out State
	if err := copier.CopyWithOption(&out, &s.state, copier.Option{DeepCopy: true}); err != nil {
		return State{}, err
	}
	return out, nil
}

// BaseURL returns the node endpoint currently in use.
func (s *Store) BaseURL() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.BaseURL
}

// Height returns the cached chain height.
func (s *Store) Height() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.Height
}

// CachedGeneration returns the generation indexed at height, if any.
func (s *Store) CachedGeneration(height uint64) (*models.Generation, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	g, ok := s.state.Generations[height]
	return g, ok
}

// Subscribe returns a channel receiving every event whose topic matches pattern
// (e.g. TopicMutation+"*"). Events arriving while the channel buffer is full are dropped,
// so a slow reader never holds up a commit. Call the returned func to unsubscribe.
func (s *Store) Subscribe(pattern string) (<-chan emitter.Event, func()) {
	ch := s.events.On(pattern, emitter.Skip)
	return ch, func() { s.events.Off(pattern, ch) }
}

// IsLoading reports whether the named operation is in progress.
func (s *Store) IsLoading(name string) bool {
	return s.loading.isActive(name)
}

func (s *Store) client() (client.NodeAPI, error) {
	return s.clients.Get(s.BaseURL())
}

func (s *Store) group(ctx context.Context) (*errgroup.Group, context.Context) {
	eg, egCtx := errgroup.WithContext(ctx)
	if s.maxConcurrency > 0 {
		eg.SetLimit(s.maxConcurrency)
	}
	return eg, egCtx
}

// commit applies a mutation under the write lock and publishes it.
func (s *Store) commit(m Mutation, payload interface{}, apply func(*State)) {
	s.mu.Lock()
	apply(&s.state)
	size := len(s.state.Generations)
	s.mu.Unlock()
	s.committed(m, payload, size)
}

func (s *Store) committed(m Mutation, payload interface{}, generations int) {
	s.metrics.Mutations.WithLabelValues(string(m)).Inc()
	s.metrics.GenerationCacheSize.Set(float64(generations))
	slog.Debug("Committed mutation", "mutation", m)
	s.events.Emit(TopicMutation+string(m), payload)
}

func (s *Store) skipped(m Mutation) {
	s.metrics.SkippedWrites.WithLabelValues(string(m)).Inc()
	slog.Debug("Skipped unchanged write", "mutation", m)
}

var equalOpts = []cmp.Option{cmpopts.EquateEmpty()}

func deepEqual(a, b interface{}) bool {
	return cmp.Equal(a, b, equalOpts...)
}

// generationsByHeight lists the indexed generations, highest first.
func (s *Store) generationsByHeight() []*models.Generation {
	s.mu.RLock()
	defer s.mu.RUnlock()
	heights := make([]uint64, 0, len(s.state.Generations))
	for h := range s.state.Generations {
		heights = append(heights, h)
	}
	sort.Slice(heights, func(i, j int) bool { return heights[i] > heights[j] })
	out := make([]*models.Generation, len(heights))
	for i, h := range heights {
		out[i] = s.state.Generations[h]
	}
	return out
}

type loading struct {
	mu     sync.Mutex
	active map[string]int
}

func (l *loading) start(name string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.active[name]++
}

func (l *loading) end(name string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.active[name] <= 1 {
		delete(l.active, name)
		return
	}
	l.active[name]--
}

func (l *loading) isActive(name string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.active[name] > 0
}
