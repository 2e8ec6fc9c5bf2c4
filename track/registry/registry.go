package registry

import (
	"fmt"
	"math"

	"github.com/joshuapare/safetynet/internal/gid"
	"github.com/joshuapare/safetynet/internal/lockx"
	"github.com/joshuapare/safetynet/pkg/types"
)

const (
	chunkShift = 8
	chunkSize  = 1 << chunkShift
	chunkMask  = chunkSize - 1

	noLink     = math.MaxUint32
	maxEntries = noLink - 1

	headIndex = 0
)

// EvictFunc is called with the lock held for every record about to be removed,
// before the record is destroyed.
type EvictFunc func(h Handle, b *Block)

// FatalFunc reports a bookkeeping failure. It returns true when the condition
// was suppressed and the caller should fail the operation instead of stopping.
type FatalFunc func(code types.Code) bool

// Visitor is called by ForEach for each record in chain order. Returning false
// stops the walk.
type Visitor func(h Handle, b *Block, index int) bool

// Registry is the ordered set of tracked blocks.
type Registry struct {
	mu *lockx.Mutex

	chunks []*[chunkSize]entry
	used   uint32   // arena high-water mark, head included
	free   []uint32 // recycled arena slots
	limit  uint32

	first, last uint32 // physical bounds, headIndex when empty
	length      int
	lastAccess  Handle // diagnostics only

	onRemove EvictFunc
	fatal    FatalFunc
}

// New returns an empty registry guarded by mu.
func New(mu *lockx.Mutex) *Registry {
	r := &Registry{
		mu:     mu,
		chunks: []*[chunkSize]entry{new([chunkSize]entry)},
		used:   1,
		limit:  maxEntries,
		first:  headIndex,
		last:   headIndex,
		fatal:  func(code types.Code) bool { panic(code) },
	}
	head := r.at(headIndex)
	head.head = true
	head.live = true
	head.prev, head.next = noLink, noLink
	head.Owner = gid.Current()
	return r
}

// SetEvictor installs the hook that removes records from the fast cache.
func (r *Registry) SetEvictor(fn EvictFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onRemove = fn
}

// SetFatal installs the bookkeeping-failure handler.
func (r *Registry) SetFatal(fn FatalFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if fn != nil {
		r.fatal = fn
	}
}

// Mutex returns the lock shared by the registry and its collaborators.
func (r *Registry) Mutex() *lockx.Mutex { return r.mu }

func (r *Registry) at(idx uint32) *entry {
	return &r.chunks[idx>>chunkShift][idx&chunkMask]
}

func (r *Registry) resolve(h Handle) (*entry, bool) {
	if h.index == headIndex || h.index >= r.used {
		return nil, false
	}
	e := r.at(h.index)
	if !e.live || e.gen != h.gen {
		return nil, false
	}
	return e, true
}

func (r *Registry) handle(idx uint32) Handle {
	return Handle{index: idx, gen: r.at(idx).gen}
}

func (r *Registry) claim() (uint32, bool) {
	if n := len(r.free); n > 0 {
		idx := r.free[n-1]
		r.free = r.free[:n-1]
		return idx, true
	}
	if r.used >= r.limit {
		return 0, false
	}
	idx := r.used
	if int(idx>>chunkShift) >= len(r.chunks) {
		r.chunks = append(r.chunks, new([chunkSize]entry))
	}
	r.used++
	r.at(idx).gen = 1
	return idx, true
}

// Push appends a record at the physical tail.
func (r *Registry) Push(addr Addr, data []byte, size uint64, owner gid.ID) (Handle, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	idx, ok := r.claim()
	if !ok {
		r.fatal(types.ErrCatastrophic)
		return Handle{}, fmt.Errorf("registry: push %s: %w", addr, types.ErrCatastrophic)
	}

	e := r.at(idx)
	e.Block = Block{Addr: addr, Data: data, Size: size, Owner: owner}
	e.live = true
	e.prev = r.last
	e.next = noLink
	r.at(r.last).next = idx
	if r.first == headIndex {
		r.first = idx
	}
	r.last = idx
	r.length++
	return Handle{index: idx, gen: e.gen}, nil
}

// Peek returns the physical tail.
func (r *Registry) Peek() (Handle, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.last == headIndex {
		return Handle{}, false
	}
	return r.handle(r.last), true
}

// Pop removes the physical tail. It is a no-op on an empty registry.
func (r *Registry) Pop() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.last == headIndex {
		return false
	}
	r.unlink(r.last)
	return true
}

// Remove unlinks and destroys the record h names.
func (r *Registry) Remove(h Handle) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.resolve(h); !ok {
		return false
	}
	r.unlink(h.index)
	return true
}

// RemoveByPointer removes the first record tracking addr.
func (r *Registry) RemoveByPointer(addr Addr) bool {
	if addr == 0 {
		return false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	idx, ok := r.find(func(b *Block) bool { return b.Addr == addr })
	if !ok {
		return false
	}
	r.unlink(idx)
	return true
}

func (r *Registry) unlink(idx uint32) {
	e := r.at(idx)
	h := Handle{index: idx, gen: e.gen}
	if r.onRemove != nil {
		r.onRemove(h, &e.Block)
	}

	r.at(e.prev).next = e.next
	if e.next != noLink {
		r.at(e.next).prev = e.prev
	}
	if r.last == idx {
		r.last = e.prev
	}
	if r.first == idx {
		if e.next != noLink {
			r.first = e.next
		} else {
			r.first = headIndex
		}
	}
	r.length--
	if r.lastAccess == h {
		r.lastAccess = Handle{}
	}

	e.Block = Block{}
	e.live = false
	e.prev, e.next = noLink, noLink
	e.gen++
	if e.gen == 0 {
		e.gen = 1
	}
	r.free = append(r.free, idx)
}

// find scans the chain for the first record matching pred. The lock must be held.
func (r *Registry) find(pred func(b *Block) bool) (uint32, bool) {
	for idx := r.first; idx != headIndex && idx != noLink; idx = r.at(idx).next {
		if pred(&r.at(idx).Block) {
			return idx, true
		}
	}
	return 0, false
}

func (r *Registry) hit(idx uint32) Handle {
	e := r.at(idx)
	e.Touch()
	h := Handle{index: idx, gen: e.gen}
	r.lastAccess = h
	return h
}

// GetByPointer returns the record tracking addr and counts the hit.
func (r *Registry) GetByPointer(addr Addr) (Handle, bool) {
	if addr == 0 {
		return Handle{}, false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	idx, ok := r.find(func(b *Block) bool { return b.Addr == addr })
	if !ok {
		return Handle{}, false
	}
	return r.hit(idx), true
}

// HasPointer reports whether addr is tracked without counting a hit.
func (r *Registry) HasPointer(addr Addr) bool {
	if addr == 0 {
		return false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	idx, ok := r.find(func(b *Block) bool { return b.Addr == addr })
	if ok {
		r.lastAccess = r.handle(idx)
	}
	return ok
}

// GetByTag returns the first record carrying tag and counts the hit.
func (r *Registry) GetByTag(tag uint16) (Handle, bool) {
	if tag == 0 {
		return Handle{}, false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	idx, ok := r.find(func(b *Block) bool { return b.Tag == tag })
	if !ok {
		return Handle{}, false
	}
	return r.hit(idx), true
}

// GetByIndex returns the record at chain position i and counts the hit.
func (r *Registry) GetByIndex(i int) (Handle, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if i < 0 || i >= r.length {
		return Handle{}, false
	}
	pos := 0
	idx, _ := r.find(func(*Block) bool {
		pos++
		return pos-1 == i
	})
	return r.hit(idx), true
}

// Block resolves h. The pointer may only be used while the lock is held.
func (r *Registry) Block(h Handle) (*Block, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.resolve(h)
	if !ok {
		return nil, false
	}
	return &e.Block, true
}

// Snapshot returns a copy of the record h names.
func (r *Registry) Snapshot(h Handle) (Block, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.resolve(h)
	if !ok {
		return Block{}, false
	}
	return e.Block, true
}

// Links returns the chain neighbors of h. A zero Handle stands for the
// sentinel head or the end of the chain.
func (r *Registry) Links(h Handle) (prev, next Handle, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.resolve(h)
	if !ok {
		return Handle{}, Handle{}, false
	}
	if e.prev != headIndex && e.prev != noLink {
		prev = r.handle(e.prev)
	}
	if e.next != noLink {
		next = r.handle(e.next)
	}
	return prev, next, true
}

// ForEach visits every record in chain order while holding the lock.
//
// The visitor may remove the record it was handed. Any other structural
// change made from inside the visitor ends the walk early.
func (r *Registry) ForEach(fn Visitor) {
	r.mu.Lock()
	defer r.mu.Unlock()

	i := 0
	for idx := r.first; idx != headIndex && idx != noLink; i++ {
		e := r.at(idx)
		var next Handle
		if e.next != noLink {
			next = r.handle(e.next)
		}
		if !fn(Handle{index: idx, gen: e.gen}, &e.Block, i) {
			return
		}
		if next.IsZero() {
			return
		}
		if _, ok := r.resolve(next); !ok {
			return
		}
		idx = next.index
	}
}

// Len returns the number of tracked records.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.length
}

// First returns the physical head of the chain.
func (r *Registry) First() (Handle, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.first == headIndex {
		return Handle{}, false
	}
	return r.handle(r.first), true
}

// LastAccess returns the most recently looked-up record if it is still live.
func (r *Registry) LastAccess() (Handle, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.resolve(r.lastAccess); !ok {
		return Handle{}, false
	}
	return r.lastAccess, true
}

// Reset removes every record, running the evictor for each.
func (r *Registry) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for r.last != headIndex {
		r.unlink(r.last)
	}
}

// Validate walks the chain and checks links, bounds, length and address
// uniqueness.
func (r *Registry) Validate() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	head := r.at(headIndex)
	if r.length == 0 {
		if r.first != headIndex || r.last != headIndex || head.next != noLink {
			return ErrBadBounds
		}
		return nil
	}
	if head.next != r.first || r.at(r.first).prev != headIndex {
		return ErrBadBounds
	}

	seen := make(map[Addr]struct{}, r.length)
	n := 0
	prev := uint32(headIndex)
	idx := r.first
	for idx != noLink {
		e := r.at(idx)
		if !e.live || e.head {
			return fmt.Errorf("%w: slot %d is not a live record", ErrBrokenChain, idx)
		}
		if e.prev != prev {
			return fmt.Errorf("%w: slot %d prev=%d want %d", ErrBrokenChain, idx, e.prev, prev)
		}
		if e.Addr != 0 {
			if _, dup := seen[e.Addr]; dup {
				return fmt.Errorf("%w: %s", ErrDuplicateAddr, e.Addr)
			}
			seen[e.Addr] = struct{}{}
		}
		n++
		if n > r.length {
			return ErrLengthMismatch
		}
		prev = idx
		idx = e.next
	}
	if prev != r.last {
		return ErrBadBounds
	}
	if n != r.length {
		return fmt.Errorf("%w: walked %d, stored %d", ErrLengthMismatch, n, r.length)
	}
	return nil
}
