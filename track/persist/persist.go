// Package persist copies tracked blocks to files and files back into tracked
// memory.
package persist

import (
	"errors"
	"fmt"
	"os"

	"github.com/joshuapare/safetynet/internal/mmfile"
	"github.com/joshuapare/safetynet/pkg/types"
	"github.com/joshuapare/safetynet/track"
)

// Source is what Dump needs from a tracker.
type Source interface {
	LookupByPointer(addr track.Addr) (uint64, []byte, error)
}

// Sink is what Mount needs from a tracker.
type Sink interface {
	Allocate(size int) ([]byte, error)
}

// Dump writes the tracked bytes of addr to a new file at path. It refuses to
// overwrite an existing file.
func Dump(src Source, path string, addr track.Addr) error {
	if path == "" || addr == 0 {
		return fmt.Errorf("persist: dump: %w", types.ErrNullPtr)
	}
	size, data, err := src.LookupByPointer(addr)
	if err != nil {
		return fmt.Errorf("persist: dump: %w", err)
	}
	if size == 0 || uint64(len(data)) < size {
		return fmt.Errorf("persist: dump %s: %w", addr, types.ErrBadSize)
	}

	w, err := mmfile.Create(path, int(size))
	if err != nil {
		return fmt.Errorf("persist: dump %s: %w", path, codeFor(err))
	}
	copy(w.Data, data[:size])
	if err := w.Sync(); err != nil {
		_ = w.Close()
		return fmt.Errorf("persist: dump %s: %w", path, codeFor(err))
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("persist: dump %s: %w", path, codeFor(err))
	}
	return nil
}

// Mount reads the file at path into a block allocated from dst and returns it.
func Mount(dst Sink, path string) ([]byte, error) {
	if path == "" {
		return nil, fmt.Errorf("persist: mount: %w", types.ErrNullPtr)
	}
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("persist: mount %s: %w", path, types.ErrFileNotExist)
		}
		return nil, fmt.Errorf("persist: mount %s: %w: %w", path, types.ErrFileIO, err)
	}

	data, cleanup, err := mmfile.Map(path)
	if err != nil {
		return nil, fmt.Errorf("persist: mount %s: %w", path, codeFor(err))
	}
	defer cleanup()
	if len(data) == 0 {
		return nil, fmt.Errorf("persist: mount %s: %w", path, types.ErrBadSize)
	}

	buf, err := dst.Allocate(len(data))
	if err != nil {
		return nil, fmt.Errorf("persist: mount %s: %w", path, err)
	}
	copy(buf, data)
	return buf, nil
}

// codeFor maps file-mapping failures to their error codes, keeping the cause.
func codeFor(err error) error {
	var code types.Code
	switch {
	case errors.Is(err, mmfile.ErrExists):
		code = types.ErrDumpPreexist
	case errors.Is(err, mmfile.ErrTruncate):
		code = types.ErrFtruncFailed
	case errors.Is(err, mmfile.ErrMap):
		code = types.ErrMmapFailed
	case errors.Is(err, mmfile.ErrSync):
		code = types.ErrMsyncFailed
	case errors.Is(err, mmfile.ErrUnmap):
		code = types.ErrMunmapFailed
	default:
		code = types.ErrFileIO
	}
	return fmt.Errorf("%w: %w", code, err)
}
