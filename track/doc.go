// Package track is the public face of safetynet: a tracking wrapper around a
// raw memory provider.
//
// A Tracker records every live block it hands out (address, size, owning
// goroutine and an optional tag), answers queries about them, enforces an
// optional global allocation ceiling and keeps its bookkeeping consistent under
// concurrent use.
//
// # Layers
//
//   - registry: arena of block records in allocation order
//   - manager: five-slot fast cache and usage accounting
//   - crash: fatal-condition reporter with an optional trap
//   - provider: where the bytes come from (Go heap or anonymous mmap)
//
// All four share one lockx.Mutex. Every Tracker method holds it for its whole
// duration, including the provider call, so the ceiling check and the usage
// update happen in one critical section.
//
// # Errors
//
// Recoverable failures return an error wrapping a types.Code and also store
// that code in the calling goroutine's last-error slot (see LastError). Fatal
// conditions go to the crash reporter, which terminates the process unless a
// trap suppresses it.
//
// # Example
//
//	t, err := track.New(track.WithLimit(1 << 20))
//	if err != nil {
//		return err
//	}
//	defer t.Close()
//
//	buf, err := t.Allocate(4096)
//	if err != nil {
//		return err
//	}
//	_ = t.SetTag(track.AddrOf(buf), 42)
//	return t.Free(buf)
package track
