//go:build !unix

package mmfile

import (
	"errors"
	"fmt"
	"os"
)

// Map reads the entire file when mmap is not available.
func Map(path string) ([]byte, func() error, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, func() error { return nil }, err
	}
	return data, func() error { return nil }, nil
}

// Create buffers writes in memory and writes them out on Sync.
func Create(path string, size int) (*Writable, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		if errors.Is(err, os.ErrExist) {
			return nil, fmt.Errorf("%w: %s", ErrExists, path)
		}
		return nil, err
	}
	if err := f.Truncate(int64(size)); err != nil {
		f.Close()
		return nil, fmt.Errorf("%w: %w", ErrTruncate, err)
	}
	data := make([]byte, size)
	return &Writable{
		Data: data,
		sync: func() error {
			if _, err := f.WriteAt(data, 0); err != nil {
				return fmt.Errorf("%w: %w", ErrSync, err)
			}
			if err := f.Sync(); err != nil {
				return fmt.Errorf("%w: %w", ErrSync, err)
			}
			return nil
		},
		close: f.Close,
	}, nil
}
