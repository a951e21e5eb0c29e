package queue

import (
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/peerflow/matchengine/pkg/models"
)

func newItem(dir models.Direction, priority int, createdAt time.Time) *models.QueueItem {
	return &models.QueueItem{
		ID:            uuid.New(),
		Direction:     dir,
		AccountID:     uuid.New(),
		Amount:        decimal.NewFromInt(100),
		PaymentMethod: "bank",
		Priority:      priority,
		BasePriority:  priority,
		Status:        models.ItemPending,
		CreatedAt:     createdAt,
	}
}

func TestPoolInsertRemoveGet(t *testing.T) {
	p := NewPool()
	item := newItem(models.DirectionDeposit, 0, time.Now())

	require.NoError(t, p.Insert(item))
	assert.Error(t, p.Insert(item), "duplicate insert must fail")

	got, ok := p.Get(item.ID)
	require.True(t, ok)
	assert.Equal(t, item.ID, got.ID)
	assert.Equal(t, 1, p.Len(models.DirectionDeposit))
	assert.Equal(t, 0, p.Len(models.DirectionWithdrawal))

	removed, ok := p.Remove(item.ID)
	require.True(t, ok)
	assert.Equal(t, item.ID, removed.ID)
	_, ok = p.Get(item.ID)
	assert.False(t, ok)

	_, ok = p.Remove(item.ID)
	assert.False(t, ok, "second remove must report missing")
}

func TestPoolScanOrdering(t *testing.T) {
	p := NewPool()
	base := time.Now()

	older := newItem(models.DirectionDeposit, 0, base)
	newer := newItem(models.DirectionDeposit, 0, base.Add(time.Second))
	highPrio := newItem(models.DirectionDeposit, 5, base.Add(2*time.Second))

	// Insertion order deliberately differs from scan order.
	require.NoError(t, p.Insert(newer))
	require.NoError(t, p.Insert(highPrio))
	require.NoError(t, p.Insert(older))

	got := p.Scan(models.DirectionDeposit, nil)
	require.Len(t, got, 3)
	assert.Equal(t, highPrio.ID, got[0].ID, "higher priority first")
	assert.Equal(t, older.ID, got[1].ID, "oldest first within equal priority")
	assert.Equal(t, newer.ID, got[2].ID)
}

func TestPoolScanPredicate(t *testing.T) {
	p := NewPool()
	bank := newItem(models.DirectionWithdrawal, 0, time.Now())
	cash := newItem(models.DirectionWithdrawal, 0, time.Now())
	cash.PaymentMethod = "cash"
	require.NoError(t, p.Insert(bank))
	require.NoError(t, p.Insert(cash))

	got := p.Scan(models.DirectionWithdrawal, func(it *models.QueueItem) bool {
		return it.PaymentMethod == "cash"
	})
	require.Len(t, got, 1)
	assert.Equal(t, cash.ID, got[0].ID)
}

func TestPoolRemovePairAtomic(t *testing.T) {
	p := NewPool()
	w := newItem(models.DirectionWithdrawal, 0, time.Now())
	d := newItem(models.DirectionDeposit, 0, time.Now())
	require.NoError(t, p.Insert(w))
	require.NoError(t, p.Insert(d))

	// Missing counterparty leaves the present side in the pool.
	_, _, ok := p.RemovePair(w.ID, uuid.New())
	assert.False(t, ok)
	_, present := p.Get(w.ID)
	assert.True(t, present)

	gw, gd, ok := p.RemovePair(w.ID, d.ID)
	require.True(t, ok)
	assert.Equal(t, w.ID, gw.ID)
	assert.Equal(t, d.ID, gd.ID)
	assert.Equal(t, 0, p.Len(models.DirectionWithdrawal))
	assert.Equal(t, 0, p.Len(models.DirectionDeposit))
}

func TestPoolConcurrentInsertRemove(t *testing.T) {
	p := NewPool()
	const n = 200

	var wg sync.WaitGroup
	ids := make([]uuid.UUID, n)
	for i := 0; i < n; i++ {
		item := newItem(models.DirectionDeposit, i%7, time.Now())
		ids[i] = item.ID
		wg.Add(1)
		go func(it *models.QueueItem) {
			defer wg.Done()
			require.NoError(t, p.Insert(it))
		}(item)
	}
	wg.Wait()
	assert.Equal(t, n, p.Len(models.DirectionDeposit))

	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(id uuid.UUID) {
			defer wg.Done()
			_, ok := p.Remove(id)
			assert.True(t, ok)
		}(ids[i])
	}
	wg.Wait()
	assert.Equal(t, 0, p.Len(models.DirectionDeposit))
}

func TestPoolExpiredBefore(t *testing.T) {
	p := NewPool()
	old := newItem(models.DirectionDeposit, 0, time.Now().Add(-2*time.Hour))
	fresh := newItem(models.DirectionDeposit, 0, time.Now())
	require.NoError(t, p.Insert(old))
	require.NoError(t, p.Insert(fresh))

	expired := p.ExpiredBefore(time.Now().Add(-time.Hour))
	require.Len(t, expired, 1)
	assert.Equal(t, old.ID, expired[0].ID)
}
