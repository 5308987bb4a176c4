package client

import (
	"fmt"
	"net/url"
	"strings"

	lru "github.com/hashicorp/golang-lru"
)

const defaultAccessorSize = 16

// Source hands out a NodeAPI for a base URL.
type Source interface {
	Get(baseURL string) (NodeAPI, error)
}

// Accessor lazily constructs one Client per base URL and memoizes it.
type Accessor struct {
	opts    Options
	clients *lru.Cache
}

var _ Source = (*Accessor)(nil)

func NewAccessor(size int, opts Options) (*Accessor, error) {
	if size <= 0 {
		size = defaultAccessorSize
	}
	cache, err := lru.New(size)
	if err != nil {
		return nil, fmt.Errorf("failed to create client cache: %w", err)
	}
	return &Accessor{opts: opts, clients: cache}, nil
}

// Get returns the memoized client for baseURL, creating it on first use.
func (a *Accessor) Get(baseURL string) (NodeAPI, error) {
	key := NormalizeBaseURL(baseURL)
	if c, ok := a.clients.Get(key); ok {
		return c.(*Client), nil
	}
	if err := ValidateBaseURL(key); err != nil {
		return nil, err
	}
	c := New(key, a.opts)
	a.clients.Add(key, c)
	return c, nil
}

// NormalizeBaseURL strips trailing slashes so equivalent endpoints share one key.
func NormalizeBaseURL(baseURL string) string {
	return strings.TrimRight(baseURL, "/")
}

// ValidateBaseURL checks that baseURL is an absolute http(s) URL.
func ValidateBaseURL(baseURL string) error {
	if baseURL == "" {
		return fmt.Errorf("base URL is empty")
	}
	u, err := url.Parse(baseURL)
	if err != nil {
		return fmt.Errorf("invalid base URL %q: %w", baseURL, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("invalid base URL %q: scheme must be http or https", baseURL)
	}
	if u.Host == "" {
		return fmt.Errorf("invalid base URL %q: missing host", baseURL)
	}
	return nil
}
