// Package api exposes the store's fetch operations to the explorer front end over HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/manifest-network/aexplorer/internal/client"
	"github.com/manifest-network/aexplorer/internal/models"
	"github.com/manifest-network/aexplorer/internal/store"
	"github.com/manifest-network/aexplorer/internal/utils"
	"github.com/olebedev/emitter"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
)

// Store is the set of operations served by the API.
type Store interface {
	GetNodeStatus(ctx context.Context) (models.NodeStatus, error)
	FetchHeight(ctx context.Context) (uint64, error)
	GetBlockFromHash(ctx context.Context, hash string) (*models.Block, error)
	GetBlockFromHeight(ctx context.Context, height uint64) (*models.Block, error)
	GetGenerationFromHash(ctx context.Context, hash string) (*models.Generation, error)
	GetGenerationFromHeight(ctx context.Context, height uint64) (*models.Generation, error)
	GetLatestBlocks(ctx context.Context, size int) ([]*models.Block, error)
	AddBlocksByHeightAndSize(ctx context.Context, height uint64, size int) ([]*models.Block, error)
	GetLatestGenerations(ctx context.Context, size int) ([]*models.Generation, error)
	BaseURL() string
	ChangeBaseURL(baseURL string) error
	State() (store.State, error)
	IsLoading(name string) bool
	Subscribe(pattern string) (<-chan emitter.Event, func())
}

// loadingOperations are reported by GET /api/state.
var loadingOperations = []string{store.LoadingNodeStatus}

const maxBatchSize = 100

type Server struct {
	store  Store
	router *mux.Router
}

// NewServer wires the routes. gatherer may be nil to disable /metrics.
func NewServer(store Store, gatherer prometheus.Gatherer) *Server {
	s := &Server{store: store, router: mux.NewRouter()}
	s.setupRoutes(gatherer)
	return s
}

func (s *Server) setupRoutes(gatherer prometheus.Gatherer) {
	r := s.router.PathPrefix("/api").Subrouter()
	r.HandleFunc("/status", s.getStatus).Methods(http.MethodGet)
	r.HandleFunc("/height", s.getHeight).Methods(http.MethodGet)
	r.HandleFunc("/blocks", s.getBlocks).Methods(http.MethodGet)
	r.HandleFunc("/blocks/{id}", s.getBlock).Methods(http.MethodGet)
	r.HandleFunc("/generations", s.getGenerations).Methods(http.MethodGet)
	r.HandleFunc("/generations/{id}", s.getGeneration).Methods(http.MethodGet)
	r.HandleFunc("/state", s.getState).Methods(http.MethodGet)
	r.HandleFunc("/events", s.streamEvents).Methods(http.MethodGet)
	r.HandleFunc("/state/base-url", s.getBaseURL).Methods(http.MethodGet)
	r.HandleFunc("/state/base-url", s.putBaseURL).Methods(http.MethodPut)

	if gatherer != nil {
		s.router.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})).Methods(http.MethodGet)
	}
}

// Handler returns the router wrapped with CORS handling for the given origins.
func (s *Server) Handler(allowedOrigins []string) http.Handler {
	c := cors.New(cors.Options{
		AllowedOrigins: allowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPut, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type"},
	})
	return c.Handler(s.router)
}

// ListenAndServe serves until ctx is done, then shuts down gracefully.
// Request contexts derive from ctx so open event streams end on shutdown.
func (s *Server) ListenAndServe(ctx context.Context, addr string, allowedOrigins []string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(allowedOrigins),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("HTTP API listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("HTTP server failed: %w", err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("failed to shut down HTTP server: %w", err)
		}
		return nil
	}
}

func (s *Server) getStatus(w http.ResponseWriter, r *http.Request) {
	status, err := s.store.GetNodeStatus(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, status)
}

func (s *Server) getHeight(w http.ResponseWriter, r *http.Request) {
	height, err := s.store.FetchHeight(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, map[string]uint64{"height": height})
}

func (s *Server) getBlock(w http.ResponseWriter, r *http.Request) {
	id, err := utils.ParseBlockID(mux.Vars(r)["id"])
	if err != nil {
		s.writeError(w, badRequest(err))
		return
	}
	var block *models.Block
	if id.IsHeight {
		block, err = s.store.GetBlockFromHeight(r.Context(), id.Height)
	} else {
		block, err = s.store.GetBlockFromHash(r.Context(), id.Hash)
	}
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, block)
}

func (s *Server) getGeneration(w http.ResponseWriter, r *http.Request) {
	id, err := utils.ParseBlockID(mux.Vars(r)["id"])
	if err != nil {
		s.writeError(w, badRequest(err))
		return
	}
	var generation *models.Generation
	if id.IsHeight {
		generation, err = s.store.GetGenerationFromHeight(r.Context(), id.Height)
	} else {
		generation, err = s.store.GetGenerationFromHash(r.Context(), id.Hash)
	}
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, generation)
}

// getBlocks serves the latest blocks, or a range ending at ?height= when given.
func (s *Server) getBlocks(w http.ResponseWriter, r *http.Request) {
	size, err := sizeParam(r)
	if err != nil {
		s.writeError(w, badRequest(err))
		return
	}

	var blocks []*models.Block
	if h := r.URL.Query().Get("height"); h != "" {
		height, perr := strconv.ParseUint(h, 10, 64)
		if perr != nil {
			s.writeError(w, badRequest(fmt.Errorf("invalid height %q", h)))
			return
		}
		blocks, err = s.store.AddBlocksByHeightAndSize(r.Context(), height, size)
	} else {
		blocks, err = s.store.GetLatestBlocks(r.Context(), size)
	}
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, emptyIfNil(blocks))
}

func (s *Server) getGenerations(w http.ResponseWriter, r *http.Request) {
	size, err := sizeParam(r)
	if err != nil {
		s.writeError(w, badRequest(err))
		return
	}
	generations, err := s.store.GetLatestGenerations(r.Context(), size)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if generations == nil {
		generations = []*models.Generation{}
	}
	s.writeJSON(w, generations)
}

type stateBody struct {
	State   store.State     `json:"state"`
	Loading map[string]bool `json:"loading"`
}

func (s *Server) getState(w http.ResponseWriter, r *http.Request) {
	state, err := s.store.State()
	if err != nil {
		s.writeErrorCode(w, http.StatusInternalServerError, fmt.Errorf("failed to snapshot state: %w", err))
		return
	}
	loading := make(map[string]bool, len(loadingOperations))
	for _, name := range loadingOperations {
		loading[name] = s.store.IsLoading(name)
	}
	s.writeJSON(w, stateBody{State: state, Loading: loading})
}

type mutationEvent struct {
	Mutation string `json:"mutation"`
}

// streamEvents pushes the name of every committed mutation as a server-sent event.
func (s *Server) streamEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		s.writeErrorCode(w, http.StatusInternalServerError, errors.New("streaming unsupported"))
		return
	}

	events, unsubscribe := s.store.Subscribe(store.TopicMutation + "*")
	defer unsubscribe()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			data, err := json.Marshal(mutationEvent{Mutation: strings.TrimPrefix(ev.OriginalTopic, store.TopicMutation)})
			if err != nil {
				slog.Warn("Failed to encode event", "error", err)
				continue
			}
			if _, err := fmt.Fprintf(w, "event: mutation\ndata: %s\n\n", data); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

type baseURLBody struct {
	URL string `json:"url"`
}

func (s *Server) getBaseURL(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, baseURLBody{URL: s.store.BaseURL()})
}

func (s *Server) putBaseURL(w http.ResponseWriter, r *http.Request) {
	var body baseURLBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		s.writeError(w, badRequest(fmt.Errorf("invalid request body: %w", err)))
		return
	}
	if err := s.store.ChangeBaseURL(body.URL); err != nil {
		s.writeError(w, badRequest(err))
		return
	}
	s.writeJSON(w, baseURLBody{URL: s.store.BaseURL()})
}

func sizeParam(r *http.Request) (int, error) {
	raw := r.URL.Query().Get("size")
	if raw == "" {
		return 0, nil
	}
	size, err := strconv.Atoi(raw)
	if err != nil || size < 0 || size > maxBatchSize {
		return 0, fmt.Errorf("size must be between 0 and %d", maxBatchSize)
	}
	return size, nil
}

func emptyIfNil(blocks []*models.Block) []*models.Block {
	if blocks == nil {
		return []*models.Block{}
	}
	return blocks
}

type requestError struct{ err error }

func (e requestError) Error() string { return e.err.Error() }
func (e requestError) Unwrap() error { return e.err }

func badRequest(err error) error { return requestError{err: err} }

func statusFor(err error) int {
	var reqErr requestError
	switch {
	case errors.As(err, &reqErr):
		return http.StatusBadRequest
	case client.IsNotFound(err):
		return http.StatusNotFound
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusBadGateway
	}
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	s.writeErrorCode(w, statusFor(err), err)
}

func (s *Server) writeErrorCode(w http.ResponseWriter, code int, err error) {
	if code >= http.StatusInternalServerError {
		slog.Error("Request failed", "status", code, "error", err)
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if encErr := json.NewEncoder(w).Encode(map[string]string{"error": err.Error()}); encErr != nil {
		slog.Warn("Failed to write error response", "error", encErr)
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("Failed to write response", "error", err)
	}
}
