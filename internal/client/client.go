// Package client talks to the node HTTP API.
package client

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/manifest-network/aexplorer/internal/metrics"
	"github.com/manifest-network/aexplorer/internal/models"
	"github.com/pkg/errors"
)

const (
	heightPath             = "/v2/key-blocks/current/height"
	topPath                = "/v2/blocks/top"
	versionPath            = "/v2/version"
	keyBlockByHashPath     = "/v2/key-blocks/hash/{hash}"
	keyBlockByHeightPath   = "/v2/key-blocks/height/{height}"
	microBlockHeaderPath   = "/v2/micro-blocks/hash/{hash}/header"
	microBlockTxsPath      = "/v2/micro-blocks/hash/{hash}/transactions"
	generationByHashPath   = "/v2/generations/hash/{hash}"
	generationByHeightPath = "/v2/generations/height/{height}"
)

// NodeAPI is the subset of the node API used by the explorer.
type NodeAPI interface {
	Height(ctx context.Context) (uint64, error)
	GetTop(ctx context.Context) (*models.TopBlock, error)
	GetVersion(ctx context.Context) (*models.NodeVersion, error)
	GetKeyBlockByHash(ctx context.Context, hash string) (*models.Block, error)
	GetKeyBlockByHeight(ctx context.Context, height uint64) (*models.Block, error)
	GetMicroBlockHeaderByHash(ctx context.Context, hash string) (*models.Block, error)
	GetMicroBlockTransactionsByHash(ctx context.Context, hash string) ([]*models.Transaction, error)
	GetGenerationByHash(ctx context.Context, hash string) (*models.Generation, error)
	GetGenerationByHeight(ctx context.Context, height uint64) (*models.Generation, error)
}

// Options configures the HTTP transport of a Client.
type Options struct {
	Timeout    time.Duration
	RetryCount int
	Metrics    *metrics.Metrics
}

// APIError is returned when the node answers with a non-2xx status.
type APIError struct {
	Method     string
	Path       string
	StatusCode int
	Reason     string
}

func (e *APIError) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("%s %s: node returned status %d", e.Method, e.Path, e.StatusCode)
	}
	return fmt.Sprintf("%s %s: node returned status %d: %s", e.Method, e.Path, e.StatusCode, e.Reason)
}

type nodeError struct {
	Reason string `json:"reason"`
}

type heightResponse struct {
	Height uint64 `json:"height"`
}

type transactionsResponse struct {
	Transactions []*models.Transaction `json:"transactions"`
}

// Client is a NodeAPI bound to one base URL.
type Client struct {
	BaseURL string
	rest    *resty.Client
	metrics *metrics.Metrics
}

var _ NodeAPI = (*Client)(nil)

func New(baseURL string, opts Options) *Client {
	rest := resty.New().
		SetBaseURL(baseURL).
		SetHeader("Accept", "application/json").
		SetRetryCount(opts.RetryCount)
	if opts.Timeout > 0 {
		rest.SetTimeout(opts.Timeout)
	}
	return &Client{BaseURL: baseURL, rest: rest, metrics: opts.Metrics}
}

// get issues a GET request and decodes the JSON body into result.
func (c *Client) get(ctx context.Context, method, path string, params map[string]string, result interface{}) error {
	start := time.Now()
	resp, err := c.rest.R().
		SetContext(ctx).
		SetPathParams(params).
		SetResult(result).
		SetError(&nodeError{}).
		Get(path)
	c.observe(method, start, err == nil && !resp.IsError())
	if err != nil {
		return errors.WithMessagef(err, "request %s failed", method)
	}
	if resp.IsError() {
		apiErr := &APIError{Method: method, Path: resp.Request.URL, StatusCode: resp.StatusCode()}
		if ne, ok := resp.Error().(*nodeError); ok && ne != nil {
			apiErr.Reason = ne.Reason
		}
		return apiErr
	}
	return nil
}

func (c *Client) observe(method string, start time.Time, ok bool) {
	if c.metrics == nil {
		return
	}
	outcome := "success"
	if !ok {
		outcome = "error"
	}
	c.metrics.ClientRequests.WithLabelValues(method, outcome).Inc()
	c.metrics.ClientLatency.WithLabelValues(method).Observe(time.Since(start).Seconds())
}

func (c *Client) Height(ctx context.Context) (uint64, error) {
	var out heightResponse
	if err := c.get(ctx, "height", heightPath, nil, &out); err != nil {
		return 0, err
	}
	return out.Height, nil
}

func (c *Client) GetTop(ctx context.Context) (*models.TopBlock, error) {
	var out models.TopBlock
	if err := c.get(ctx, "getTop", topPath, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) GetVersion(ctx context.Context) (*models.NodeVersion, error) {
	var out models.NodeVersion
	if err := c.get(ctx, "getVersion", versionPath, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) GetKeyBlockByHash(ctx context.Context, hash string) (*models.Block, error) {
	var out models.Block
	if err := c.get(ctx, "getKeyBlockByHash", keyBlockByHashPath, map[string]string{"hash": hash}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) GetKeyBlockByHeight(ctx context.Context, height uint64) (*models.Block, error) {
	var out models.Block
	params := map[string]string{"height": strconv.FormatUint(height, 10)}
	if err := c.get(ctx, "getKeyBlockByHeight", keyBlockByHeightPath, params, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) GetMicroBlockHeaderByHash(ctx context.Context, hash string) (*models.Block, error) {
	var out models.Block
	if err := c.get(ctx, "getMicroBlockHeaderByHash", microBlockHeaderPath, map[string]string{"hash": hash}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) GetMicroBlockTransactionsByHash(ctx context.Context, hash string) ([]*models.Transaction, error) {
	var out transactionsResponse
	if err := c.get(ctx, "getMicroBlockTransactionsByHash", microBlockTxsPath, map[string]string{"hash": hash}, &out); err != nil {
		return nil, err
	}
	if out.Transactions == nil {
		out.Transactions = []*models.Transaction{}
	}
	return out.Transactions, nil
}

func (c *Client) GetGenerationByHash(ctx context.Context, hash string) (*models.Generation, error) {
	var out models.Generation
	if err := c.get(ctx, "getGenerationByHash", generationByHashPath, map[string]string{"hash": hash}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) GetGenerationByHeight(ctx context.Context, height uint64) (*models.Generation, error) {
	var out models.Generation
	params := map[string]string{"height": strconv.FormatUint(height, 10)}
	if err := c.get(ctx, "getGenerationByHeight", generationByHeightPath, params, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// IsNotFound reports whether err is a node 404.
func IsNotFound(err error) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode == 404
	}
	return false
}
