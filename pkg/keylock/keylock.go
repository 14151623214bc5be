// Package keylock serializes work per key. Entries exist only while a key
// is held or waited on, so the table does not grow with the number of
// distinct keys ever seen.
package keylock

import (
	"context"

	"github.com/puzpuzpuz/xsync/v3"
)

type entry struct {
	sem  chan struct{}
	refs int // guarded by the map bucket lock inside Compute
}

// Table is a set of per-key mutexes. The zero value is not usable; call New.
type Table struct {
	locks *xsync.MapOf[string, *entry]
}

func New() *Table {
	return &Table{locks: xsync.NewMapOf[string, *entry]()}
}

// Lock blocks until key is held or ctx is done. On success the returned func
// releases the key and must be called exactly once.
func (t *Table) Lock(ctx context.Context, key string) (func(), error) {
	e := t.acquire(key)

	select {
	case e.sem <- struct{}{}:
		return func() {
			<-e.sem
			t.release(key)
		}, nil
	case <-ctx.Done():
		t.release(key)
		return nil, ctx.Err()
	}
}

// Len returns the number of keys currently held or waited on.
func (t *Table) Len() int {
	return t.locks.Size()
}

func (t *Table) acquire(key string) *entry {
	e, _ := t.locks.Compute(key, func(old *entry, loaded bool) (*entry, bool) {
		if !loaded {
			old = &entry{sem: make(chan struct{}, 1)}
		}
		old.refs++
		return old, false
	})
	return e
}

func (t *Table) release(key string) {
	t.locks.Compute(key, func(old *entry, loaded bool) (*entry, bool) {
		if !loaded {
			return nil, true
		}
		old.refs--
		return old, old.refs <= 0
	})
}
