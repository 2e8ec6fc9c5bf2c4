//go:build unix

package provider

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// Mmap hands out anonymous private mappings. Every block is its own mapping,
// so Release must be given the slice Provide or Resize returned.
type Mmap struct{}

// NewMmap returns an anonymous-mapping provider.
func NewMmap() Mmap { return Mmap{} }

func (Mmap) Provide(size int) ([]byte, error) {
	if size <= 0 {
		return nil, ErrBadSize
	}
	buf, err := unix.Mmap(-1, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_ANON|unix.MAP_PRIVATE)
	if err != nil {
		return nil, fmt.Errorf("provider: mmap %d bytes: %w", size, err)
	}
	return buf, nil
}

func (m Mmap) Resize(buf []byte, newSize int) ([]byte, error) {
	if newSize <= 0 {
		return nil, ErrBadSize
	}
	out, err := m.Provide(newSize)
	if err != nil {
		return nil, err
	}
	copy(out, buf)
	if err := m.Release(buf); err != nil {
		_ = unix.Munmap(out)
		return nil, err
	}
	return out, nil
}

// Zeroed relies on anonymous mappings being zero-filled by the kernel.
func (m Mmap) Zeroed(count, size int) ([]byte, error) {
	n, ok := ZeroedSize(count, size)
	if !ok {
		return nil, ErrBadSize
	}
	return m.Provide(n)
}

func (Mmap) Release(buf []byte) error {
	if buf == nil {
		return nil
	}
	if err := unix.Munmap(buf); err != nil {
		return fmt.Errorf("provider: munmap: %w", ErrNotOwned)
	}
	return nil
}
