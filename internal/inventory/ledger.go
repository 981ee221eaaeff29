// internal/inventory/ledger.go
package inventory

import (
	"errors"
	"fmt"
	"sync"
)

var (
	ErrUnknownItem     = errors.New("item is not tracked by the ledger")
	ErrReleaseOverflow = errors.New("release would exceed total copies")
)

// CommitFunc persists new counters for an item. It runs while the item
// is locked, so commits for one item are applied in counter order.
type CommitFunc func(total, available int) error

// counter holds the copy counts for a single item. Invariant:
// 0 <= available <= total.
type counter struct {
	mu        sync.Mutex
	total     int
	available int
}

// Ledger owns the available/total copy counters for catalog items. It is
// the single choke point for every decrement and increment in the
// circulation flow: reservations must go through TryReserve, returns and
// compensations through Release.
type Ledger struct {
	mu    sync.RWMutex
	items map[string]*counter
}

func NewLedger() *Ledger {
	return &Ledger{items: make(map[string]*counter)}
}

// Sync reconciles an item with a fresh catalog read. Unknown items are
// inserted with the fetched counters. For tracked items a changed total
// means a catalog edit happened behind the ledger's back: the total
// delta is folded into the available count, so the edit takes effect
// without clobbering in-flight reservations. A read with an unchanged
// total is ignored, since the available count in it may be stale.
func (l *Ledger) Sync(key string, total, available int) {
	if available < 0 {
		available = 0
	}
	if available > total {
		available = total
	}

	l.mu.Lock()
	c, ok := l.items[key]
	if !ok {
		l.items[key] = &counter{total: total, available: available}
		l.mu.Unlock()
		return
	}
	l.mu.Unlock()

	c.mu.Lock()
	defer c.mu.Unlock()
	if total == c.total {
		return
	}
	delta := total - c.total
	c.total = total
	c.available += delta
	if c.available < 0 {
		c.available = 0
	}
	if c.available > c.total {
		c.available = c.total
	}
}

// TryReserve atomically claims one copy of the item: it returns false
// with no mutation when no copy is free, true after decrementing
// otherwise. Two concurrent callers can never both claim the last copy.
// A non-nil commit is invoked with the decremented counters while the
// item stays locked; a commit error rolls the decrement back.
func (l *Ledger) TryReserve(key string, commit CommitFunc) (bool, error) {
	c, err := l.lookup(key)
	if err != nil {
		return false, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.available <= 0 {
		return false, nil
	}
	c.available--

	if commit != nil {
		if err := commit(c.total, c.available); err != nil {
			c.available++
			return false, fmt.Errorf("commit reservation: %w", err)
		}
	}
	return true, nil
}

// Release returns one copy of the item to the pool. Releasing beyond the
// total indicates a caller bug and is reported as ErrReleaseOverflow with
// no mutation. As with TryReserve, a non-nil commit runs under the item
// lock and rolls the increment back on error.
func (l *Ledger) Release(key string, commit CommitFunc) error {
	c, err := l.lookup(key)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.available >= c.total {
		return fmt.Errorf("%w: item %q", ErrReleaseOverflow, key)
	}
	c.available++

	if commit != nil {
		if err := commit(c.total, c.available); err != nil {
			c.available--
			return fmt.Errorf("commit release: %w", err)
		}
	}
	return nil
}

// Counts reports the tracked counters for an item.
func (l *Ledger) Counts(key string) (total, available int, ok bool) {
	c, err := l.lookup(key)
	if err != nil {
		return 0, 0, false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.total, c.available, true
}

func (l *Ledger) lookup(key string) (*counter, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	c, ok := l.items[key]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownItem, key)
	}
	return c, nil
}
