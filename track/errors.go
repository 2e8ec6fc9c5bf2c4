package track

import (
	"container/list"
	"fmt"
	"sync"

	"github.com/joshuapare/safetynet/internal/gid"
	"github.com/joshuapare/safetynet/pkg/types"
)

// DefaultLastErrorCap is the number of goroutines whose last error is kept
// when no WithLastErrorCap option is given.
const DefaultLastErrorCap = 1024

// fail records code as the caller's last error and returns it wrapped with op.
func (t *Tracker) fail(op string, code types.Code) error {
	t.setLastError(code)
	return fmt.Errorf("track: %s: %w", op, code)
}

// failCause is fail with the underlying error kept in the chain.
func (t *Tracker) failCause(op string, code types.Code, cause error) error {
	t.setLastError(code)
	return fmt.Errorf("track: %s: %w: %w", op, code, cause)
}

// LastError returns the last failure code recorded for the calling goroutine,
// or types.OK. Successful calls do not clear it.
//
// Slots are keyed by goroutine id and goroutine ids are never reused, so a
// goroutine that reads its error should call ResetLastError before it exits.
// Slots left behind are bounded: once more goroutines hold one than the cap
// set by WithLastErrorCap, the least recently written slot is dropped and its
// goroutine reads types.OK again. Close drops every slot.
func (t *Tracker) LastError() types.Code {
	return t.lastErr.load(gid.Current())
}

// ResetLastError clears the calling goroutine's last error.
func (t *Tracker) ResetLastError() {
	t.lastErr.remove(gid.Current())
}

func (t *Tracker) setLastError(code types.Code) {
	if code == types.OK {
		return
	}
	t.lastErr.store(gid.Current(), code)
}

type lastErrEntry struct {
	owner gid.ID
	code  types.Code
}

// lastErrors maps goroutines to their last error code, evicting the least
// recently written entry past capacity.
type lastErrors struct {
	mu       sync.Mutex
	capacity int
	items    map[gid.ID]*list.Element
	order    *list.List // front = most recently written
}

func newLastErrors(capacity int) *lastErrors {
	if capacity <= 0 {
		capacity = DefaultLastErrorCap
	}
	return &lastErrors{
		capacity: capacity,
		items:    make(map[gid.ID]*list.Element),
		order:    list.New(),
	}
}

func (c *lastErrors) load(owner gid.ID) types.Code {
	c.mu.Lock()
	defer c.mu.Unlock()
	if elem, ok := c.items[owner]; ok {
		return elem.Value.(*lastErrEntry).code
	}
	return types.OK
}

func (c *lastErrors) store(owner gid.ID, code types.Code) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if elem, ok := c.items[owner]; ok {
		elem.Value.(*lastErrEntry).code = code
		c.order.MoveToFront(elem)
		return
	}
	for c.order.Len() >= c.capacity {
		oldest := c.order.Back()
		c.order.Remove(oldest)
		delete(c.items, oldest.Value.(*lastErrEntry).owner)
	}
	c.items[owner] = c.order.PushFront(&lastErrEntry{owner: owner, code: code})
}

func (c *lastErrors) remove(owner gid.ID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if elem, ok := c.items[owner]; ok {
		c.order.Remove(elem)
		delete(c.items, owner)
	}
}

func (c *lastErrors) reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	clear(c.items)
	c.order.Init()
}

func (c *lastErrors) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}
