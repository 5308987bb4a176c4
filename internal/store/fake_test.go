package store

import (
	"context"
	"fmt"
	"sync"

	"github.com/manifest-network/aexplorer/internal/client"
	"github.com/manifest-network/aexplorer/internal/metrics"
	"github.com/manifest-network/aexplorer/internal/models"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

// fakeNode is an in-memory NodeAPI that counts calls per method.
type fakeNode struct {
	mu sync.Mutex

	height      uint64
	top         *models.TopBlock
	version     *models.NodeVersion
	keyBlocks   map[string]*models.Block
	microBlocks map[string]*models.Block
	txs         map[string][]*models.Transaction
	generations map[string]*models.Generation
	failures    map[string]error
	gates       map[string]chan struct{}
	calls       map[string]int
}

func newFakeNode() *fakeNode {
	return &fakeNode{
		keyBlocks:   map[string]*models.Block{},
		microBlocks: map[string]*models.Block{},
		txs:         map[string][]*models.Transaction{},
		generations: map[string]*models.Generation{},
		failures:    map[string]error{},
		gates:       map[string]chan struct{}{},
		calls:       map[string]int{},
	}
}

// record counts a call and, when the method is gated, holds it until the gate opens or ctx is done.
func (f *fakeNode) record(ctx context.Context, method string) error {
	f.mu.Lock()
	f.calls[method]++
	err := f.failures[method]
	gate := f.gates[method]
	f.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return err
}

// hold gates method until the returned func is called.
func (f *fakeNode) hold(method string) func() {
	gate := make(chan struct{})
	f.mu.Lock()
	f.gates[method] = gate
	f.mu.Unlock()
	var once sync.Once
	return func() { once.Do(func() { close(gate) }) }
}

func (f *fakeNode) count(method string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[method]
}

func (f *fakeNode) total() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		n += c
	}
	return n
}

func (f *fakeNode) setHeight(h uint64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.height = h
}

func (f *fakeNode) fail(method string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failures[method] = err
}

func notFound(method, key string) error {
	return &client.APIError{Method: method, Path: key, StatusCode: 404, Reason: "not found"}
}

// addKeyBlock registers a key-block reachable by hash and height.
func (f *fakeNode) addKeyBlock(height uint64) *models.Block {
	b := &models.Block{Hash: fmt.Sprintf("kh_%d", height), Height: height, Miner: "ak_miner"}
	f.keyBlocks[b.Hash] = b
	f.keyBlocks[fmt.Sprint(height)] = b
	return b
}

// addGeneration registers a generation at height with one micro-block per entry of txCounts.
func (f *fakeNode) addGeneration(height uint64, txCounts ...int) {
	kb := f.addKeyBlock(height)
	gen := &models.Generation{KeyBlock: kb, MicroBlocks: []string{}}
	for i, n := range txCounts {
		hash := fmt.Sprintf("mh_%d_%d", height, i)
		f.microBlocks[hash] = &models.Block{Hash: hash, Height: height, PrevKeyHash: kb.Hash}
		txs := make([]*models.Transaction, n)
		for j := range txs {
			txs[j] = &models.Transaction{Hash: fmt.Sprintf("th_%d_%d_%d", height, i, j), BlockHash: hash, BlockHeight: height}
		}
		f.txs[hash] = txs
		gen.MicroBlocks = append(gen.MicroBlocks, hash)
	}
	f.generations[kb.Hash] = gen
	f.generations[fmt.Sprint(height)] = gen
}

func cloneBlock(b *models.Block) *models.Block {
	c := *b
	return &c
}

func cloneGeneration(g *models.Generation) *models.Generation {
	return &models.Generation{
		KeyBlock:    cloneBlock(g.KeyBlock),
		MicroBlocks: append([]string(nil), g.MicroBlocks...),
	}
}

func (f *fakeNode) Height(ctx context.Context) (uint64, error) {
	if err := f.record(ctx, "height"); err != nil {
		return 0, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.height, nil
}

func (f *fakeNode) GetTop(ctx context.Context) (*models.TopBlock, error) {
	if err := f.record(ctx, "getTop"); err != nil {
		return nil, err
	}
	return f.top, nil
}

func (f *fakeNode) GetVersion(ctx context.Context) (*models.NodeVersion, error) {
	if err := f.record(ctx, "getVersion"); err != nil {
		return nil, err
	}
	return f.version, nil
}

func (f *fakeNode) GetKeyBlockByHash(ctx context.Context, hash string) (*models.Block, error) {
	if err := f.record(ctx, "getKeyBlockByHash"); err != nil {
		return nil, err
	}
	b, ok := f.keyBlocks[hash]
	if !ok {
		return nil, notFound("getKeyBlockByHash", hash)
	}
	return cloneBlock(b), nil
}

func (f *fakeNode) GetKeyBlockByHeight(ctx context.Context, height uint64) (*models.Block, error) {
	if err := f.record(ctx, "getKeyBlockByHeight"); err != nil {
		return nil, err
	}
	b, ok := f.keyBlocks[fmt.Sprint(height)]
	if !ok {
		return nil, notFound("getKeyBlockByHeight", fmt.Sprint(height))
	}
	return cloneBlock(b), nil
}

func (f *fakeNode) GetMicroBlockHeaderByHash(ctx context.Context, hash string) (*models.Block, error) {
	if err := f.record(ctx, "getMicroBlockHeaderByHash"); err != nil {
		return nil, err
	}
	b, ok := f.microBlocks[hash]
	if !ok {
		return nil, notFound("getMicroBlockHeaderByHash", hash)
	}
	return cloneBlock(b), nil
}

func (f *fakeNode) GetMicroBlockTransactionsByHash(ctx context.Context, hash string) ([]*models.Transaction, error) {
	if err := f.record(ctx, "getMicroBlockTransactionsByHash"); err != nil {
		return nil, err
	}
	txs, ok := f.txs[hash]
	if !ok {
		return nil, notFound("getMicroBlockTransactionsByHash", hash)
	}
	return append([]*models.Transaction{}, txs...), nil
}

func (f *fakeNode) GetGenerationByHash(ctx context.Context, hash string) (*models.Generation, error) {
	if err := f.record(ctx, "getGenerationByHash"); err != nil {
		return nil, err
	}
	g, ok := f.generations[hash]
	if !ok {
		return nil, notFound("getGenerationByHash", hash)
	}
	return cloneGeneration(g), nil
}

func (f *fakeNode) GetGenerationByHeight(ctx context.Context, height uint64) (*models.Generation, error) {
	if err := f.record(ctx, "getGenerationByHeight"); err != nil {
		return nil, err
	}
	g, ok := f.generations[fmt.Sprint(height)]
	if !ok {
		return nil, notFound("getGenerationByHeight", fmt.Sprint(height))
	}
	return cloneGeneration(g), nil
}

// fakeSource serves one fakeNode per base URL.
type fakeSource struct {
	mu    sync.Mutex
	nodes map[string]*fakeNode
}

func (s *fakeSource) Get(baseURL string) (client.NodeAPI, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	node, ok := s.nodes[baseURL]
	if !ok {
		return nil, fmt.Errorf("no node at %s", baseURL)
	}
	return node, nil
}

const testURL = "http://node.test:3013"

func newTestStore(node *fakeNode) (*Store, *metrics.Metrics) {
	m := metrics.New(prometheus.NewRegistry())
	s := New(Options{
		BaseURL: testURL,
		Clients: &fakeSource{nodes: map[string]*fakeNode{testURL: node}},
		Metrics: m,
	})
	return s, m
}

func mutations(m *metrics.Metrics, name Mutation) float64 {
	return testutil.ToFloat64(m.Mutations.WithLabelValues(string(name)))
}

var allMutations = []Mutation{
	MutationSetNodeStatus,
	MutationChangeBaseURL,
	MutationSetHeight,
	MutationSetBlock,
	MutationSetBlocks,
	MutationAddBlocks,
	MutationSetGeneration,
	MutationSetGenerations,
	MutationEvictGenerations,
}

func sumMutations(m *metrics.Metrics) float64 {
	total := 0.0
	for _, name := range allMutations {
		total += mutations(m, name)
	}
	return total
}
