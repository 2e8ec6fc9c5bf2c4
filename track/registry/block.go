package registry

import (
	"fmt"
	"math"
	"unsafe"

	"github.com/joshuapare/safetynet/internal/gid"
)

// Addr is the address of the first byte of a tracked block. Zero is the null address.
type Addr uintptr

// AddrOf returns the address of buf's backing array, or 0 for a nil slice.
func AddrOf(buf []byte) Addr {
	if buf == nil {
		return 0
	}
	return Addr(uintptr(unsafe.Pointer(unsafe.SliceData(buf))))
}

func (a Addr) String() string { return fmt.Sprintf("%#x", uintptr(a)) }

const (
	// MinTag is the smallest assignable tag; 0 through 20 are reserved.
	MinTag = 21

	// MaxWeight is where the per-block hit counter saturates.
	MaxWeight = math.MaxUint8
)

// ValidTag reports whether tag may be assigned to a block.
func ValidTag(tag uint16) bool { return tag >= MinTag }

// Block is the bookkeeping record of one live allocation. The registry owns the
// record; it never owns the bytes Data refers to.
type Block struct {
	Addr    Addr   // address being tracked
	Data    []byte // tracked bytes; nil when registered without a size
	Size    uint64 // byte length, updated on reallocation
	Owner   gid.ID // goroutine that created or last registered the block
	Tag     uint16 // optional label, 0 when unset
	Cached  bool   // true while a fast-cache slot references this record
	Weight  uint8  // saturating hit counter used by cache maintenance
	Adopted bool   // registered rather than allocated by the provider
}

// Touch records one lookup hit.
func (b *Block) Touch() {
	if b.Weight < MaxWeight {
		b.Weight++
	}
}

// Handle addresses a record in the registry arena. The zero Handle is invalid.
type Handle struct {
	index uint32
	gen   uint32
}

// IsZero reports whether h is the invalid zero Handle.
func (h Handle) IsZero() bool { return h.index == 0 }

// Index returns the arena slot of h, used only for diagnostics output.
func (h Handle) Index() uint32 { return h.index }

func (h Handle) String() string {
	if h.IsZero() {
		return "#nil"
	}
	return fmt.Sprintf("#%d.%d", h.index, h.gen)
}

// entry is one arena slot: the public record plus chain links.
type entry struct {
	Block
	prev, next uint32
	gen        uint32
	live       bool
	head       bool
}
