// Package store provides durable storage for queue items and match results.
// The engine only depends on the Store interface; the in-memory implementation
// backs tests and the badger implementation survives process restart.
package store

import (
	"context"

	"github.com/google/uuid"

	"github.com/peerflow/matchengine/pkg/models"
)

// Store persists queue items and match results. Implementations must make
// LoadOpen return every record the pending pool needs to rebuild its index:
// pending items plus matches that are not yet terminal.
type Store interface {
	PutItem(ctx context.Context, item *models.QueueItem) error
	GetItem(ctx context.Context, id uuid.UUID) (*models.QueueItem, error)
	ListItems(ctx context.Context, filter *models.ItemFilter) ([]models.QueueItem, error)

	PutMatch(ctx context.Context, match *models.MatchResult) error
	GetMatch(ctx context.Context, id uuid.UUID) (*models.MatchResult, error)
	ListMatches(ctx context.Context, filter *models.MatchFilter) ([]models.MatchResult, error)

	// LoadOpen returns all pending items and all non-terminal matches for
	// startup replay.
	LoadOpen(ctx context.Context) ([]models.QueueItem, []models.MatchResult, error)

	Close() error
}
