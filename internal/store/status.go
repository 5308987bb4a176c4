package store

import (
	"context"
	"log/slog"

	"github.com/manifest-network/aexplorer/internal/client"
	"github.com/manifest-network/aexplorer/internal/models"
)

// LoadingNodeStatus names the loading operation tracked around GetNodeStatus.
const LoadingNodeStatus = "getNodeStatus"

// GetNodeStatus fetches the chain top and the node version concurrently and stores the pair.
func (s *Store) GetNodeStatus(ctx context.Context) (models.NodeStatus, error) {
	s.loading.start(LoadingNodeStatus)
	defer s.loading.end(LoadingNodeStatus)

	api, err := s.client()
	if err != nil {
		return models.NodeStatus{}, err
	}

	var status models.NodeStatus
	eg, egCtx := s.group(ctx)
	eg.Go(func() error {
		top, err := api.GetTop(egCtx)
		status.Top = top
		return err
	})
	eg.Go(func() error {
		version, err := api.GetVersion(egCtx)
		status.Version = version
		return err
	})
	if err := eg.Wait(); err != nil {
		return models.NodeStatus{}, err
	}

	s.commit(MutationSetNodeStatus, status, func(st *State) {
		st.NodeStatus = status
	})
	return status, nil
}

// ChangeBaseURL switches the node endpoint. Trailing slashes are ignored; an unchanged
// endpoint is neither committed nor published to watchers.
func (s *Store) ChangeBaseURL(baseURL string) error {
	if err := client.ValidateBaseURL(baseURL); err != nil {
		return err
	}
	baseURL = client.NormalizeBaseURL(baseURL)

	s.mu.Lock()
	previous := s.state.BaseURL
	if previous == baseURL {
		s.mu.Unlock()
		s.skipped(MutationChangeBaseURL)
		return nil
	}
	s.state.BaseURL = baseURL
	size := len(s.state.Generations)
	s.mu.Unlock()

	s.committed(MutationChangeBaseURL, baseURL, size)
	slog.Info("Node endpoint changed", "from", previous, "to", baseURL)
	s.events.Emit(TopicBaseURL, baseURL)
	return nil
}
