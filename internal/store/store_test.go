package store

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/peerflow/matchengine/pkg/errors"
	"github.com/peerflow/matchengine/pkg/models"
)

func testItem(status models.ItemStatus) *models.QueueItem {
	return &models.QueueItem{
		ID:            uuid.New(),
		Direction:     models.DirectionDeposit,
		AccountID:     uuid.New(),
		Amount:        decimal.RequireFromString("100.50"),
		PaymentMethod: "bank",
		Status:        status,
		CreatedAt:     time.Now().UTC().Truncate(time.Millisecond),
	}
}

// storeUnderTest runs the shared contract against both implementations.
func storeUnderTest(t *testing.T, name string, s Store) {
	t.Helper()
	ctx := context.Background()

	t.Run(name+"/item_roundtrip", func(t *testing.T) {
		item := testItem(models.ItemPending)
		require.NoError(t, s.PutItem(ctx, item))

		got, err := s.GetItem(ctx, item.ID)
		require.NoError(t, err)
		assert.Equal(t, item.ID, got.ID)
		assert.True(t, item.Amount.Equal(got.Amount))

		var nf *errors.NotFoundError
		_, err = s.GetItem(ctx, uuid.New())
		require.Error(t, err)
		assert.True(t, errors.As(err, &nf))
	})

	t.Run(name+"/list_items_filtered", func(t *testing.T) {
		pending := testItem(models.ItemPending)
		done := testItem(models.ItemCompleted)
		require.NoError(t, s.PutItem(ctx, pending))
		require.NoError(t, s.PutItem(ctx, done))

		got, err := s.ListItems(ctx, &models.ItemFilter{Status: models.ItemCompleted})
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.Equal(t, done.ID, got[0].ID)
	})

	t.Run(name+"/match_roundtrip", func(t *testing.T) {
		match := &models.MatchResult{
			ID:           uuid.New(),
			WithdrawalID: uuid.New(),
			DepositID:    uuid.New(),
			Amount:       decimal.NewFromInt(75),
			MatchScore:   100,
			Status:       models.MatchPending,
			CreatedAt:    time.Now().UTC(),
		}
		require.NoError(t, s.PutMatch(ctx, match))

		got, err := s.GetMatch(ctx, match.ID)
		require.NoError(t, err)
		assert.Equal(t, match.WithdrawalID, got.WithdrawalID)
		assert.Equal(t, models.MatchPending, got.Status)
	})
}

func TestMemoryStore(t *testing.T) {
	s := NewMemoryStore()
	defer s.Close()
	storeUnderTest(t, "memory", s)
}

func TestBadgerStore(t *testing.T) {
	s, err := NewBadgerStore(t.TempDir())
	require.NoError(t, err)
	defer s.Close()
	storeUnderTest(t, "badger", s)
}

func TestBadgerStoreLoadOpenSurvivesReopen(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	s, err := NewBadgerStore(dir)
	require.NoError(t, err)

	pending := testItem(models.ItemPending)
	completedItem := testItem(models.ItemCompleted)
	openMatch := &models.MatchResult{
		ID:           uuid.New(),
		WithdrawalID: uuid.New(),
		DepositID:    uuid.New(),
		Amount:       decimal.NewFromInt(10),
		Status:       models.MatchProcessing,
		CreatedAt:    time.Now().UTC(),
	}
	doneMatch := &models.MatchResult{
		ID:           uuid.New(),
		WithdrawalID: uuid.New(),
		DepositID:    uuid.New(),
		Amount:       decimal.NewFromInt(10),
		Status:       models.MatchCompleted,
		CreatedAt:    time.Now().UTC(),
	}
	require.NoError(t, s.PutItem(ctx, pending))
	require.NoError(t, s.PutItem(ctx, completedItem))
	require.NoError(t, s.PutMatch(ctx, openMatch))
	require.NoError(t, s.PutMatch(ctx, doneMatch))
	require.NoError(t, s.Close())

	s, err = NewBadgerStore(dir)
	require.NoError(t, err)
	defer s.Close()

	items, matches, err := s.LoadOpen(ctx)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, pending.ID, items[0].ID)
	require.Len(t, matches, 1)
	assert.Equal(t, openMatch.ID, matches[0].ID)
}
