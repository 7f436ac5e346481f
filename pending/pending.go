// Package pending correlates escalated permission requests with the human
// decisions that complete them.
package pending

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"
)

var (
	// ErrNotFound is returned by Resolve for an unknown or already
	// completed id.
	ErrNotFound = errors.New("pending: no such request")

	// ErrCancelled is returned by Wait when the escalation was cancelled
	// before a decision arrived.
	ErrCancelled = errors.New("pending: request cancelled")
)

// Table maps escalation ids to single-use response slots. The zero value is
// not usable; call NewTable. A Table is shared by all sessions in a process.
type Table struct {
	mu    sync.Mutex
	slots map[string]chan string
}

// NewTable returns an empty Table.
func NewTable() *Table {
	return &Table{slots: make(map[string]chan string)}
}

// Escalation is the waiter end of one slot.
type Escalation struct {
	ID    string
	slot  chan string
	table *Table
}

// Create registers a new slot under a fresh random id.
func (t *Table) Create() *Escalation {
	id := uuid.NewString()
	slot := make(chan string, 1)

	t.mu.Lock()
	t.slots[id] = slot
	t.mu.Unlock()

	return &Escalation{ID: id, slot: slot, table: t}
}

// take removes and returns the slot for id.
func (t *Table) take(id string) (chan string, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	slot, ok := t.slots[id]
	if ok {
		delete(t.slots, id)
	}
	return slot, ok
}

// Resolve completes the escalation id with optionID. Each id resolves at
// most once; later calls return ErrNotFound.
func (t *Table) Resolve(id, optionID string) error {
	slot, ok := t.take(id)
	if !ok {
		return ErrNotFound
	}
	// Buffered and owned exclusively after take: never blocks.
	slot <- optionID
	return nil
}

// Cancel removes id without a decision; its waiter observes ErrCancelled.
// Reports whether id was pending.
func (t *Table) Cancel(id string) bool {
	slot, ok := t.take(id)
	if ok {
		close(slot)
	}
	return ok
}

// Len returns the number of outstanding escalations.
func (t *Table) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.slots)
}

// Wait blocks until the escalation is resolved, cancelled, or ctx is done.
// On ctx expiry the entry is removed so a late Resolve gets ErrNotFound.
func (e *Escalation) Wait(ctx context.Context) (string, error) {
	select {
	case v, ok := <-e.slot:
		if !ok {
			return "", ErrCancelled
		}
		return v, nil
	case <-ctx.Done():
		if e.table.Cancel(e.ID) {
			return "", ErrCancelled
		}
		// Lost the race to Resolve or Cancel; the slot is already settled.
		v, ok := <-e.slot
		if !ok {
			return "", ErrCancelled
		}
		return v, nil
	}
}

// Cancel is shorthand for e's table Cancel(e.ID).
func (e *Escalation) Cancel() bool { return e.table.Cancel(e.ID) }
