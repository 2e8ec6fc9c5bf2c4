// Package gid reports the identity of the calling goroutine.
//
// Goroutines are the unit of concurrency in Go, so safetynet uses the goroutine
// id wherever a thread identity is required: block ownership, lock ownership and
// per-caller last-error slots.
package gid

import (
	"bytes"
	"runtime"
	"strconv"
)

// ID identifies a live goroutine. The zero value never names a goroutine.
type ID uint64

// None is the zero ID.
const None ID = 0

var goroutinePrefix = []byte("goroutine ")

// Current returns the id of the calling goroutine.
func Current() ID {
	var buf [64]byte
	n := runtime.Stack(buf[:], false)
	// Stack header: "goroutine 123 [running]:"
	b := bytes.TrimPrefix(buf[:n], goroutinePrefix)
	if i := bytes.IndexByte(b, ' '); i > 0 {
		b = b[:i]
	}
	id, err := strconv.ParseUint(string(b), 10, 64)
	if err != nil {
		return None
	}
	return ID(id)
}

func (id ID) String() string {
	return strconv.FormatUint(uint64(id), 10)
}
