//go:build !unix

package provider

// Mmap falls back to the Go heap where anonymous mappings are unavailable.
type Mmap struct{ Heap }

// NewMmap returns a heap-backed provider on platforms without mmap.
func NewMmap() Mmap { return Mmap{} }
