//go:build unix

package mmfile

import (
	"errors"
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// Map maps the file at path into memory and returns its contents.
func Map(path string) ([]byte, func() error, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, err
	}
	defer f.Close() // safe before return; mapping keeps pages alive

	info, err := f.Stat()
	if err != nil {
		return nil, nil, err
	}
	size := info.Size()
	if size == 0 {
		return []byte{}, func() error { return nil }, nil
	}
	if size > int64(^uint(0)>>1) {
		return nil, nil, fmt.Errorf("mmfile: file too large to map (%d bytes)", size)
	}
	data, err := unix.Mmap(int(f.Fd()), 0, int(size), unix.PROT_READ, unix.MAP_SHARED)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %w", ErrMap, err)
	}
	return data, unmapOnce(data), nil
}

// Create makes a new file of exactly size bytes and maps it read-write.
// It fails with ErrExists when path is already present.
func Create(path string, size int) (*Writable, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		if errors.Is(err, os.ErrExist) {
			return nil, fmt.Errorf("%w: %s", ErrExists, path)
		}
		return nil, err
	}
	if err := unix.Ftruncate(int(f.Fd()), int64(size)); err != nil {
		f.Close()
		return nil, fmt.Errorf("%w: %w", ErrTruncate, err)
	}
	if size == 0 {
		return &Writable{Data: []byte{}, sync: f.Sync, close: f.Close}, nil
	}
	data, err := unix.Mmap(int(f.Fd()), 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("%w: %w", ErrMap, err)
	}
	unmap := unmapOnce(data)
	return &Writable{
		Data: data,
		sync: func() error {
			if err := unix.Msync(data, unix.MS_SYNC); err != nil {
				return fmt.Errorf("%w: %w", ErrSync, err)
			}
			return nil
		},
		close: func() error {
			uerr := unmap()
			cerr := f.Close()
			if uerr != nil {
				return fmt.Errorf("%w: %w", ErrUnmap, uerr)
			}
			return cerr
		},
	}, nil
}

func unmapOnce(data []byte) func() error {
	return func() error {
		if data == nil {
			return nil
		}
		err := unix.Munmap(data)
		data = nil
		if errors.Is(err, unix.EINVAL) {
			// Treat double-unmap as no-op for callers.
			return nil
		}
		return err
	}
}
