// Package queue implements the pending pool: the concurrent-safe in-memory
// index of unmatched queue items, ordered for candidate scanning.
package queue

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/tidwall/btree"

	"github.com/peerflow/matchengine/pkg/errors"
	"github.com/peerflow/matchengine/pkg/models"
)

// itemLess orders candidates: priority descending, then age (oldest first),
// then ID for a stable total order. Score-aware selection happens lazily in
// the matcher; this index only encodes the priority/FIFO tie-break.
func itemLess(a, b *models.QueueItem) bool {
	if a.Priority != b.Priority {
		return a.Priority > b.Priority
	}
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.Before(b.CreatedAt)
	}
	return a.ID.String() < b.ID.String()
}

// Pool holds pending queue items per direction. Insert and Remove are atomic
// with respect to Scan: a scanner never observes a half-applied mutation.
//
// Items are keyed in the btree by (priority, createdAt, id); callers must not
// mutate Priority while an item is held by the pool. Remove first, mutate,
// re-insert.
type Pool struct {
	mu   sync.RWMutex
	byID map[uuid.UUID]*models.QueueItem
	idx  map[models.Direction]*btree.BTreeG[*models.QueueItem]
}

// NewPool creates an empty pending pool.
func NewPool() *Pool {
	return &Pool{
		byID: make(map[uuid.UUID]*models.QueueItem),
		idx: map[models.Direction]*btree.BTreeG[*models.QueueItem]{
			models.DirectionWithdrawal: btree.NewBTreeG(itemLess),
			models.DirectionDeposit:    btree.NewBTreeG(itemLess),
		},
	}
}

// Insert adds a pending item to the pool.
func (p *Pool) Insert(item *models.QueueItem) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, ok := p.byID[item.ID]; ok {
		return errors.NewConflict(item.ID, string(item.Status), "insert")
	}
	p.byID[item.ID] = item
	p.idx[item.Direction].Set(item)
	return nil
}

// Remove takes an item out of the pool, returning it if present.
func (p *Pool) Remove(id uuid.UUID) (*models.QueueItem, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.removeLocked(id)
}

func (p *Pool) removeLocked(id uuid.UUID) (*models.QueueItem, bool) {
	item, ok := p.byID[id]
	if !ok {
		return nil, false
	}
	delete(p.byID, id)
	p.idx[item.Direction].Delete(item)
	return item, true
}

// RemovePair removes both sides of a declared match in one critical section.
// Either both items are removed or, if one is missing, neither is.
func (p *Pool) RemovePair(a, b uuid.UUID) (*models.QueueItem, *models.QueueItem, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	ia, ok := p.byID[a]
	if !ok {
		return nil, nil, false
	}
	ib, ok := p.byID[b]
	if !ok {
		return nil, nil, false
	}
	p.removeLocked(a)
	p.removeLocked(b)
	return ia, ib, true
}

// Get returns the pooled item with the given id.
func (p *Pool) Get(id uuid.UUID) (*models.QueueItem, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	item, ok := p.byID[id]
	return item, ok
}

// Scan visits direction's items in index order and returns those accepted by
// the predicate. A nil predicate accepts everything.
func (p *Pool) Scan(dir models.Direction, pred func(*models.QueueItem) bool) []*models.QueueItem {
	p.mu.RLock()
	defer p.mu.RUnlock()

	var out []*models.QueueItem
	p.idx[dir].Scan(func(item *models.QueueItem) bool {
		if pred == nil || pred(item) {
			out = append(out, item)
		}
		return true
	})
	return out
}

// Len returns the number of pooled items for a direction.
func (p *Pool) Len(dir models.Direction) int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.idx[dir].Len()
}

// Depths returns both pool depths in one lock acquisition.
func (p *Pool) Depths() (withdrawals, deposits int) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.idx[models.DirectionWithdrawal].Len(), p.idx[models.DirectionDeposit].Len()
}

// ExpiredBefore returns items created before the cutoff, for the TTL sweep.
func (p *Pool) ExpiredBefore(cutoff time.Time) []*models.QueueItem {
	p.mu.RLock()
	defer p.mu.RUnlock()

	var out []*models.QueueItem
	for _, item := range p.byID {
		if item.CreatedAt.Before(cutoff) {
			out = append(out, item)
		}
	}
	return out
}

// Items returns copies of all pooled items that pass the filter, for the
// Query API. Copies keep readers isolated from in-place engine mutation.
func (p *Pool) Items(filter *models.ItemFilter) []models.QueueItem {
	p.mu.RLock()
	defer p.mu.RUnlock()

	var out []models.QueueItem
	for _, dir := range []models.Direction{models.DirectionWithdrawal, models.DirectionDeposit} {
		if filter != nil && filter.Direction != "" && filter.Direction != dir {
			continue
		}
		p.idx[dir].Scan(func(item *models.QueueItem) bool {
			if filter == nil || filter.Matches(item) {
				out = append(out, *item)
			}
			return true
		})
	}
	return out
}
