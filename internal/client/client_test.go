package client

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/manifest-network/aexplorer/internal/metrics"
	"github.com/manifest-network/aexplorer/internal/utils"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestNode(t *testing.T, routes map[string]string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, ok := routes[r.URL.Path]
		w.Header().Set("Content-Type", "application/json")
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"reason":"Block not found"}`))
			return
		}
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestClientEndpoints(t *testing.T) {
	srv := newTestNode(t, map[string]string{
		"/v2/key-blocks/current/height":           `{"height": 4242}`,
		"/v2/blocks/top":                          `{"key_block": {"hash": "kh_top", "height": 4242}}`,
		"/v2/version":                             `{"genesis_hash": "kh_gen", "revision": "abc", "version": "5.0.0"}`,
		"/v2/key-blocks/hash/kh_1":                `{"hash": "kh_1", "height": 1, "miner": "ak_m"}`,
		"/v2/key-blocks/height/7":                 `{"hash": "kh_7", "height": 7}`,
		"/v2/micro-blocks/hash/mh_1/header":       `{"hash": "mh_1", "height": 7, "pof_hash": "no_fraud"}`,
		"/v2/micro-blocks/hash/mh_1/transactions": `{"transactions": [{"hash": "th_1", "block_hash": "mh_1", "block_height": 7, "signatures": ["sg_1"], "tx": {"type": "SpendTx"}}]}`,
		"/v2/micro-blocks/hash/mh_2/transactions": `{"transactions": []}`,
		"/v2/generations/hash/kh_7":               `{"key_block": {"hash": "kh_7", "height": 7}, "micro_blocks": ["mh_1"]}`,
		"/v2/generations/height/7":                `{"key_block": {"hash": "kh_7", "height": 7}, "micro_blocks": ["mh_1", "mh_2"]}`,
	})
	ctx := context.Background()
	c := New(srv.URL, Options{})

	height, err := c.Height(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(4242), height)

	top, err := c.GetTop(ctx)
	require.NoError(t, err)
	require.NotNil(t, top.KeyBlock)
	assert.Nil(t, top.MicroBlock)
	assert.Equal(t, "kh_top", top.KeyBlock.Hash)

	version, err := c.GetVersion(ctx)
	require.NoError(t, err)
	assert.Equal(t, "5.0.0", version.Version)

	kb, err := c.GetKeyBlockByHash(ctx, "kh_1")
	require.NoError(t, err)
	assert.Equal(t, "ak_m", kb.Miner)
	assert.True(t, utils.IsKeyBlockHash(kb.Hash))

	kb, err = c.GetKeyBlockByHeight(ctx, 7)
	require.NoError(t, err)
	assert.Equal(t, "kh_7", kb.Hash)

	mb, err := c.GetMicroBlockHeaderByHash(ctx, "mh_1")
	require.NoError(t, err)
	assert.Equal(t, "no_fraud", mb.PofHash)
	assert.False(t, utils.IsKeyBlockHash(mb.Hash))

	txs, err := c.GetMicroBlockTransactionsByHash(ctx, "mh_1")
	require.NoError(t, err)
	require.Len(t, txs, 1)
	assert.Equal(t, "th_1", txs[0].Hash)
	assert.JSONEq(t, `{"type": "SpendTx"}`, string(txs[0].Tx))

	txs, err = c.GetMicroBlockTransactionsByHash(ctx, "mh_2")
	require.NoError(t, err)
	assert.NotNil(t, txs)
	assert.Empty(t, txs)

	gen, err := c.GetGenerationByHash(ctx, "kh_7")
	require.NoError(t, err)
	assert.Equal(t, []string{"mh_1"}, gen.MicroBlocks)

	gen, err = c.GetGenerationByHeight(ctx, 7)
	require.NoError(t, err)
	assert.Equal(t, uint64(7), gen.Height())
	assert.Len(t, gen.MicroBlocks, 2)
}

func TestClientNotFound(t *testing.T) {
	srv := newTestNode(t, map[string]string{})
	c := New(srv.URL, Options{})

	_, err := c.GetKeyBlockByHash(context.Background(), "kh_missing")
	require.Error(t, err)
	assert.True(t, IsNotFound(err))

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusNotFound, apiErr.StatusCode)
	assert.Equal(t, "Block not found", apiErr.Reason)
	assert.Contains(t, err.Error(), "getKeyBlockByHash")
}

func TestClientTransportError(t *testing.T) {
	srv := newTestNode(t, map[string]string{})
	srv.Close()
	c := New(srv.URL, Options{})

	_, err := c.Height(context.Background())
	require.Error(t, err)
	assert.False(t, IsNotFound(err))
	assert.Contains(t, err.Error(), "request height failed")
}

func TestClientMetrics(t *testing.T) {
	srv := newTestNode(t, map[string]string{
		"/v2/key-blocks/current/height": `{"height": 1}`,
	})
	m := metrics.New(prometheus.NewRegistry())
	c := New(srv.URL, Options{Metrics: m})

	_, err := c.Height(context.Background())
	require.NoError(t, err)
	_, err = c.GetVersion(context.Background())
	require.Error(t, err)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.ClientRequests.WithLabelValues("height", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ClientRequests.WithLabelValues("getVersion", "error")))
}
