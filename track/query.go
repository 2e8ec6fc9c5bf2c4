package track

import (
	"fmt"

	"github.com/joshuapare/safetynet/internal/checksum"
	"github.com/joshuapare/safetynet/pkg/types"
	"github.com/joshuapare/safetynet/track/registry"
)

// BlockInfo is a copy of one block's metadata.
type BlockInfo struct {
	Addr    Addr
	Size    uint64
	Owner   Owner
	Tag     uint16
	Cached  bool
	Weight  uint8
	Adopted bool
}

func infoOf(b *registry.Block) BlockInfo {
	return BlockInfo{
		Addr:    b.Addr,
		Size:    b.Size,
		Owner:   b.Owner,
		Tag:     b.Tag,
		Cached:  b.Cached,
		Weight:  b.Weight,
		Adopted: b.Adopted,
	}
}

// lookup resolves addr through the cache, then the registry. Caller holds mu.
func (t *Tracker) lookup(op string, addr Addr) (*registry.Block, registry.Handle, error) {
	if addr == 0 {
		return nil, registry.Handle{}, t.fail(op, types.ErrNullPtr)
	}
	h, ok := t.mgr.Find(addr)
	if !ok {
		return nil, registry.Handle{}, t.fail(op, types.ErrNoAddrFound)
	}
	b, _ := t.reg.Block(h)
	return b, h, nil
}

// QuerySize returns the tracked size of addr.
func (t *Tracker) QuerySize(addr Addr) (uint64, error) {
	id := t.enter()
	defer t.leave(id)
	t.maintain()
	b, _, err := t.lookup("query size", addr)
	if err != nil {
		return 0, err
	}
	return b.Size, nil
}

// QueryOwner returns the goroutine that allocated or last registered addr.
func (t *Tracker) QueryOwner(addr Addr) (Owner, error) {
	id := t.enter()
	defer t.leave(id)
	t.maintain()
	b, _, err := t.lookup("query owner", addr)
	if err != nil {
		return NoOwner, err
	}
	return b.Owner, nil
}

// IsTracked reports whether addr is tracked. It does not count as a lookup
// hit.
func (t *Tracker) IsTracked(addr Addr) (bool, error) {
	id := t.enter()
	defer t.leave(id)
	t.maintain()
	if addr == 0 {
		return false, t.fail("is tracked", types.ErrNullPtr)
	}
	return t.reg.HasPointer(addr), nil
}

// Metadata returns a copy of addr's record.
func (t *Tracker) Metadata(addr Addr) (BlockInfo, error) {
	id := t.enter()
	defer t.leave(id)
	t.maintain()
	b, _, err := t.lookup("metadata", addr)
	if err != nil {
		return BlockInfo{}, err
	}
	return infoOf(b), nil
}

// LookupByPointer returns the tracked size and bytes of addr. Data is nil for
// blocks registered without a size.
func (t *Tracker) LookupByPointer(addr Addr) (uint64, []byte, error) {
	id := t.enter()
	defer t.leave(id)
	b, _, err := t.lookup("lookup", addr)
	if err != nil {
		return 0, nil, err
	}
	return b.Size, b.Data, nil
}

// -----------------------------------------------------------------------------
// Tags
// -----------------------------------------------------------------------------

// SetTag labels addr with tag. Tags 0 through 20 are reserved.
func (t *Tracker) SetTag(addr Addr, tag uint16) error {
	id := t.enter()
	defer t.leave(id)
	t.maintain()

	const op = "set tag"
	if addr == 0 {
		return t.fail(op, types.ErrNullPtr)
	}
	if !registry.ValidTag(tag) {
		return t.fail(op, types.ErrBadBlockID)
	}
	b, _, err := t.lookup(op, addr)
	if err != nil {
		return err
	}
	b.Tag = tag
	return nil
}

// Tag returns addr's tag, 0 when unset.
func (t *Tracker) Tag(addr Addr) (uint16, error) {
	id := t.enter()
	defer t.leave(id)
	t.maintain()
	b, _, err := t.lookup("tag", addr)
	if err != nil {
		return 0, err
	}
	return b.Tag, nil
}

// LookupTag returns the address of the first block carrying tag.
func (t *Tracker) LookupTag(tag uint16) (Addr, error) {
	id := t.enter()
	defer t.leave(id)
	t.maintain()

	const op = "lookup tag"
	if !registry.ValidTag(tag) {
		return 0, t.fail(op, types.ErrBadBlockID)
	}
	h, ok := t.mgr.FindByTag(tag)
	if !ok {
		return 0, t.fail(op, types.ErrNoAddrFound)
	}
	b, _ := t.reg.Block(h)
	return b.Addr, nil
}

// -----------------------------------------------------------------------------
// Usage
// -----------------------------------------------------------------------------

// ThreadUsage sums the sizes of blocks owned by owner.
func (t *Tracker) ThreadUsage(owner Owner) uint64 {
	id := t.enter()
	defer t.leave(id)
	t.maintain()
	var sum uint64
	t.reg.ForEach(func(_ registry.Handle, b *registry.Block, _ int) bool {
		if b.Owner == owner {
			sum += b.Size
		}
		return true
	})
	return sum
}

// TotalUsage returns the bytes currently tracked.
func (t *Tracker) TotalUsage() uint64 {
	return t.mgr.Usage()
}

// Len returns the number of tracked blocks.
func (t *Tracker) Len() int {
	return t.reg.Len()
}

// Blocks returns every tracked block in allocation order.
func (t *Tracker) Blocks() []BlockInfo {
	id := t.enter()
	defer t.leave(id)
	out := make([]BlockInfo, 0, t.reg.Len())
	t.reg.ForEach(func(_ registry.Handle, b *registry.Block, _ int) bool {
		out = append(out, infoOf(b))
		return true
	})
	return out
}

// Checksum mixes the tracked bytes of addr into a 64-bit value.
func (t *Tracker) Checksum(addr Addr) (uint64, error) {
	id := t.enter()
	defer t.leave(id)
	t.maintain()

	const op = "checksum"
	b, _, err := t.lookup(op, addr)
	if err != nil {
		return 0, err
	}
	if b.Size == 0 || uint64(len(b.Data)) < b.Size {
		return 0, t.fail(op, types.ErrBadSize)
	}
	return checksum.Sum(b.Data[:b.Size]), nil
}

// Validate checks the registry chain, cache coherence and that usage equals
// the sum of tracked sizes.
func (t *Tracker) Validate() error {
	id := t.enter()
	defer t.leave(id)
	if err := t.reg.Validate(); err != nil {
		return err
	}
	if err := t.mgr.CheckCoherence(); err != nil {
		return err
	}
	var sum uint64
	t.reg.ForEach(func(_ registry.Handle, b *registry.Block, _ int) bool {
		sum += b.Size
		return true
	})
	if usage := t.mgr.Usage(); usage != sum {
		return fmt.Errorf("track: usage %d does not match tracked sizes %d", usage, sum)
	}
	return nil
}
