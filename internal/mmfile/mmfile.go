// Package mmfile provides platform-specific helpers for memory-mapping files
// that back dumped or mounted blocks.
package mmfile

import "errors"

// Stage errors let callers tell which system call failed.
var (
	ErrExists   = errors.New("mmfile: file already exists")
	ErrTruncate = errors.New("mmfile: ftruncate failed")
	ErrMap      = errors.New("mmfile: mmap failed")
	ErrSync     = errors.New("mmfile: msync failed")
	ErrUnmap    = errors.New("mmfile: munmap failed")
)

// Writable is a file mapped read-write for the length given to Create.
// Writes go to Data; Sync flushes them and Close unmaps and closes the file.
type Writable struct {
	Data []byte

	sync  func() error
	close func() error
}

// Sync flushes Data to the backing file.
func (w *Writable) Sync() error {
	if w.sync == nil {
		return nil
	}
	return w.sync()
}

// Close releases the mapping. It is safe to call more than once.
func (w *Writable) Close() error {
	if w.close == nil {
		return nil
	}
	fn := w.close
	w.close = nil
	w.sync = nil
	w.Data = nil
	return fn()
}
