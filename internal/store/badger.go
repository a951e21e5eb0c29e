package store

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/dgraph-io/badger/v3"
	"github.com/google/uuid"

	"github.com/peerflow/matchengine/pkg/errors"
	"github.com/peerflow/matchengine/pkg/models"
)

var (
	itemPrefix  = []byte("item:")
	matchPrefix = []byte("match:")
)

// BadgerStore is the durable Store backed by an embedded BadgerDB.
type BadgerStore struct {
	db *badger.DB
}

// NewBadgerStore opens (or creates) the store at path.
func NewBadgerStore(path string) (*BadgerStore, error) {
	opts := badger.DefaultOptions(path)
	opts.Logger = nil
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger store: %w", err)
	}
	return &BadgerStore{db: db}, nil
}

func itemKey(id uuid.UUID) []byte  { return append(append([]byte{}, itemPrefix...), id.String()...) }
func matchKey(id uuid.UUID) []byte { return append(append([]byte{}, matchPrefix...), id.String()...) }

func (s *BadgerStore) PutItem(_ context.Context, item *models.QueueItem) error {
	val, err := json.Marshal(item)
	if err != nil {
		return err
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(itemKey(item.ID), val)
	})
}

func (s *BadgerStore) GetItem(_ context.Context, id uuid.UUID) (*models.QueueItem, error) {
	var item models.QueueItem
	err := s.db.View(func(txn *badger.Txn) error {
		entry, err := txn.Get(itemKey(id))
		if err != nil {
			return err
		}
		return entry.Value(func(v []byte) error {
			return json.Unmarshal(v, &item)
		})
	})
	if err == badger.ErrKeyNotFound {
		return nil, errors.NewNotFound("item", id)
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

func (s *BadgerStore) ListItems(_ context.Context, filter *models.ItemFilter) ([]models.QueueItem, error) {
	var out []models.QueueItem
	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		for it.Seek(itemPrefix); it.ValidForPrefix(itemPrefix); it.Next() {
			var item models.QueueItem
			if err := it.Item().Value(func(v []byte) error {
				return json.Unmarshal(v, &item)
			}); err != nil {
				return err
			}
			if filter == nil || filter.Matches(&item) {
				out = append(out, item)
			}
			if filter != nil && filter.Limit > 0 && len(out) >= filter.Limit {
				break
			}
		}
		return nil
	})
	return out, err
}

func (s *BadgerStore) PutMatch(_ context.Context, match *models.MatchResult) error {
	val, err := json.Marshal(match)
	if err != nil {
		return err
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(matchKey(match.ID), val)
	})
}

func (s *BadgerStore) GetMatch(_ context.Context, id uuid.UUID) (*models.MatchResult, error) {
	var match models.MatchResult
	err := s.db.View(func(txn *badger.Txn) error {
		entry, err := txn.Get(matchKey(id))
		if err != nil {
			return err
		}
		return entry.Value(func(v []byte) error {
			return json.Unmarshal(v, &match)
		})
	})
	if err == badger.ErrKeyNotFound {
		return nil, errors.NewNotFound("match", id)
	}
	if err != nil {
		return nil, err
	}
	return &match, nil
}

func (s *BadgerStore) ListMatches(_ context.Context, filter *models.MatchFilter) ([]models.MatchResult, error) {
	var out []models.MatchResult
	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		for it.Seek(matchPrefix); it.ValidForPrefix(matchPrefix); it.Next() {
			var match models.MatchResult
			if err := it.Item().Value(func(v []byte) error {
				return json.Unmarshal(v, &match)
			}); err != nil {
				return err
			}
			if filter != nil && filter.Status != "" && match.Status != filter.Status {
				continue
			}
			out = append(out, match)
			if filter != nil && filter.Limit > 0 && len(out) >= filter.Limit {
				break
			}
		}
		return nil
	})
	return out, err
}

func (s *BadgerStore) LoadOpen(ctx context.Context) ([]models.QueueItem, []models.MatchResult, error) {
	items, err := s.ListItems(ctx, &models.ItemFilter{Status: models.ItemPending})
	if err != nil {
		return nil, nil, err
	}
	all, err := s.ListMatches(ctx, nil)
	if err != nil {
		return nil, nil, err
	}
	var matches []models.MatchResult
	for _, m := range all {
		if !m.Status.Terminal() {
			matches = append(matches, m)
		}
	}
	return items, matches, nil
}

func (s *BadgerStore) Close() error {
	return s.db.Close()
}
