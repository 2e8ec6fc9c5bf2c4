// Package provider supplies the raw memory that a tracker hands out.
//
// A Provider knows nothing about tracking; it only allocates, resizes and
// releases byte slices. Heap draws from the Go heap. Mmap maps anonymous pages
// outside the Go heap on Unix systems and falls back to Heap elsewhere.
package provider

import (
	"errors"
	"math/bits"
)

var (
	// ErrBadSize indicates a zero, negative or overflowing request.
	ErrBadSize = errors.New("provider: invalid size")

	// ErrNotOwned indicates a slice this provider did not hand out.
	ErrNotOwned = errors.New("provider: memory not owned by provider")
)

// Provider is the raw-memory capability behind a tracker.
type Provider interface {
	// Provide returns size bytes with unspecified contents.
	Provide(size int) ([]byte, error)
	// Resize returns a block of newSize bytes holding the old contents up to
	// the smaller length. buf must not be used after a successful call.
	Resize(buf []byte, newSize int) ([]byte, error)
	// Zeroed returns count*size zeroed bytes.
	Zeroed(count, size int) ([]byte, error)
	// Release gives buf back.
	Release(buf []byte) error
}

// ZeroedSize returns count*size, or false when either is non-positive or the
// product overflows an int.
func ZeroedSize(count, size int) (int, bool) {
	if count <= 0 || size <= 0 {
		return 0, false
	}
	hi, lo := bits.Mul64(uint64(count), uint64(size))
	if hi != 0 || lo > uint64(maxInt) {
		return 0, false
	}
	return int(lo), true
}

const maxInt = int(^uint(0) >> 1)

// Heap allocates from the Go heap. Released memory is reclaimed by the
// garbage collector once no references remain.
type Heap struct{}

// NewHeap returns a Go-heap provider.
func NewHeap() Heap { return Heap{} }

func (Heap) Provide(size int) ([]byte, error) {
	if size <= 0 {
		return nil, ErrBadSize
	}
	return make([]byte, size), nil
}

func (h Heap) Resize(buf []byte, newSize int) ([]byte, error) {
	if newSize <= 0 {
		return nil, ErrBadSize
	}
	if newSize <= cap(buf) {
		return buf[:newSize], nil
	}
	out := make([]byte, newSize)
	copy(out, buf)
	return out, nil
}

func (Heap) Zeroed(count, size int) ([]byte, error) {
	n, ok := ZeroedSize(count, size)
	if !ok {
		return nil, ErrBadSize
	}
	return make([]byte, n), nil
}

func (Heap) Release([]byte) error { return nil }

// New returns the provider registered under name: "heap" (or "") and "mmap".
func New(name string) (Provider, error) {
	switch name {
	case "", "heap":
		return NewHeap(), nil
	case "mmap":
		return NewMmap(), nil
	default:
		return nil, errors.New("provider: unknown provider " + `"` + name + `"`)
	}
}
