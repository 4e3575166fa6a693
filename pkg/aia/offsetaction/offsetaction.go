// Package offsetaction implements the offset-action queue shared by the
// speaker and UX managers: callbacks
// scheduled to fire once the reader passes a given byte offset, fired in
// non-decreasing offset order regardless of registration order, and all
// invalidated together on local stop (barge-in).
package offsetaction

import (
	"sort"
	"sync"
)

// Callback receives valid=true when fired in due course, or valid=false
// when invalidated by a local stop before its offset was reached.
type Callback func(valid bool)

// Handle identifies a scheduled action for Cancel.
type Handle uint64

type entry struct {
	handle Handle
	offset uint64
	cb     Callback
}

// Queue is a mutex-guarded list of pending offset actions, kept sorted by
// offset.
type Queue struct {
	mu      sync.Mutex
	entries []entry
	nextID  Handle
}

// InvokeAtOffset schedules cb to fire once FireDue is called with a
// current offset >= offset. Returns a handle usable with Cancel.
func (q *Queue) InvokeAtOffset(offset uint64, cb Callback) Handle {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.nextID++
	h := q.nextID
	q.entries = append(q.entries, entry{handle: h, offset: offset, cb: cb})
	sort.SliceStable(q.entries, func(i, j int) bool {
		return q.entries[i].offset < q.entries[j].offset
	})
	return h
}

// Cancel removes a pending action without firing it. A no-op if the
// handle already fired or was invalidated.
func (q *Queue) Cancel(h Handle) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for i, e := range q.entries {
		if e.handle == h {
			q.entries = append(q.entries[:i], q.entries[i+1:]...)
			return
		}
	}
}

// FireDue fires, in offset order, every action whose offset has been
// reached, then frees them. The callbacks are invoked outside the lock so
// a handler may itself call InvokeAtOffset or Cancel without deadlocking.
func (q *Queue) FireDue(currentOffset uint64) {
	q.mu.Lock()
	i := 0
	for i < len(q.entries) && q.entries[i].offset <= currentOffset {
		i++
	}
	due := q.entries[:i]
	q.entries = q.entries[i:]
	q.mu.Unlock()

	for _, e := range due {
		e.cb(true)
	}
}

// InvalidateAll fires every pending action with valid=false and clears the
// queue, per the local-stop (barge-in) contract.
func (q *Queue) InvalidateAll() {
	q.mu.Lock()
	pending := q.entries
	q.entries = nil
	q.mu.Unlock()

	for _, e := range pending {
		e.cb(false)
	}
}
