package store

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/peerflow/matchengine/pkg/errors"
	"github.com/peerflow/matchengine/pkg/models"
)

// MemoryStore is the non-durable Store used in tests and single-run setups.
type MemoryStore struct {
	mu      sync.RWMutex
	items   map[uuid.UUID]models.QueueItem
	matches map[uuid.UUID]models.MatchResult
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		items:   make(map[uuid.UUID]models.QueueItem),
		matches: make(map[uuid.UUID]models.MatchResult),
	}
}

func (s *MemoryStore) PutItem(_ context.Context, item *models.QueueItem) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items[item.ID] = *item
	return nil
}

func (s *MemoryStore) GetItem(_ context.Context, id uuid.UUID) (*models.QueueItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	item, ok := s.items[id]
	if !ok {
		return nil, errors.NewNotFound("item", id)
	}
	out := item
	return &out, nil
}

func (s *MemoryStore) ListItems(_ context.Context, filter *models.ItemFilter) ([]models.QueueItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]models.QueueItem, 0, len(s.items))
	for _, item := range s.items {
		it := item
		if filter == nil || filter.Matches(&it) {
			out = append(out, it)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if filter != nil && filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (s *MemoryStore) PutMatch(_ context.Context, match *models.MatchResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.matches[match.ID] = *match
	return nil
}

func (s *MemoryStore) GetMatch(_ context.Context, id uuid.UUID) (*models.MatchResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	match, ok := s.matches[id]
	if !ok {
		return nil, errors.NewNotFound("match", id)
	}
	out := match
	return &out, nil
}

func (s *MemoryStore) ListMatches(_ context.Context, filter *models.MatchFilter) ([]models.MatchResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]models.MatchResult, 0, len(s.matches))
	for _, match := range s.matches {
		if filter != nil && filter.Status != "" && match.Status != filter.Status {
			continue
		}
		out = append(out, match)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if filter != nil && filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (s *MemoryStore) LoadOpen(_ context.Context) ([]models.QueueItem, []models.MatchResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var items []models.QueueItem
	for _, item := range s.items {
		if item.Status == models.ItemPending {
			items = append(items, item)
		}
	}
	var matches []models.MatchResult
	for _, match := range s.matches {
		if !match.Status.Terminal() {
			matches = append(matches, match)
		}
	}
	return items, matches, nil
}

func (s *MemoryStore) Close() error { return nil }
