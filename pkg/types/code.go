package types

import (
	"errors"
	"fmt"
)

// -----------------------------------------------------------------------------
// Error Codes (stable numeric values for programmatic handling)
// -----------------------------------------------------------------------------

// Code is a tracker error code. The zero value is OK.
//
// Code implements error so it can be wrapped with %w and matched with
// errors.Is / errors.As. Numeric values are stable and double as the process
// exit status when a fatal condition terminates the program.
type Code uint8

const (
	OK               Code = 0   // no error
	ErrNullPtr       Code = 5   // null address passed to a function
	ErrNoSize        Code = 10  // block has no size metadata
	ErrBadSize       Code = 15  // invalid size
	ErrBadAlloc      Code = 20  // raw provider failed to allocate
	ErrNoAddrFound   Code = 30  // address is not tracked
	ErrNoTidFound    Code = 35  // owner identity not found
	ErrBadBlockID    Code = 40  // tag not above the reserved range
	ErrDumpPreexist  Code = 45  // dump target already exists
	ErrMsyncFailed   Code = 50  // msync failed
	ErrMmapFailed    Code = 55  // mmap failed
	ErrMunmapFailed  Code = 60  // munmap failed
	ErrFtruncFailed  Code = 65  // ftruncate failed
	ErrFileNotExist  Code = 70  // file does not exist
	ErrAllocLimitHit Code = 75  // allocation ceiling reached
	WarnDoubleFree   Code = 80  // deallocation of an untracked address
	ErrFileIO        Code = 85  // file read/write failed
	ErrSysFail       Code = 90  // generic system failure
	ErrCatastrophic  Code = 100 // bookkeeping failure, no recovery
)

type codeInfo struct {
	name string
	msg  string
}

var codeTable = map[Code]codeInfo{
	OK:               {"SN_ERR_OK", "everything is AOK"},
	ErrNullPtr:       {"SN_ERR_NULL_PTR", "Null-Pointer provided to function"},
	ErrNoSize:        {"SN_ERR_NO_SIZE", "no size Metadata Provided or available"},
	ErrBadSize:       {"SN_ERR_BAD_SIZE", "Invalid size provided"},
	ErrBadAlloc:      {"SN_ERR_BAD_ALLOC", "raw allocator returned no memory"},
	ErrNoAddrFound:   {"SN_ERR_NO_ADDER_FOUND", "no address provided or available"},
	ErrNoTidFound:    {"SN_ERR_NO_TID_FOUND", "No tid found in system"},
	ErrBadBlockID:    {"SN_ERR_BAD_BLOCK_ID", "block id is not above 20"},
	ErrDumpPreexist:  {"SN_ERR_DUMP_FILE_PREEXIST", "Dump file path provided already exists"},
	ErrMsyncFailed:   {"SN_ERR_MSYNC_CALL_FAILED", "posix call to MSYNC failed"},
	ErrMmapFailed:    {"SN_ERR_MMAP_CALL_FAILED", "posix call to mmap failed"},
	ErrMunmapFailed:  {"SN_ERR_MUNMAP_CALL_FAILED", "posix call to munmap failed"},
	ErrFtruncFailed:  {"SN_ERR_FTRUNCATE_CALL_FAILED", "posix call to FTRUNCATE failed"},
	ErrFileNotExist:  {"SN_ERR_FILE_NOT_EXIST", "file Does not exist"},
	ErrAllocLimitHit: {"SN_ERR_ALLOC_LIMIT_HIT", "User defined alloc limit has been hit"},
	WarnDoubleFree:   {"SN_WARN_DUB_FREE", "Possible double free, but not found in registry"},
	ErrFileIO:        {"SN_ERR_FILE_IO", "file read or write failed"},
	ErrSysFail:       {"SN_ERR_SYS_FAIL", "generic system failure"},
	ErrCatastrophic:  {"SN_ERR_CATASTROPHIC", "bookkeeping failure, cannot continue"},
}

// Name returns the stable identifier of the code, e.g. "SN_ERR_BAD_SIZE".
func (c Code) Name() string {
	if info, ok := codeTable[c]; ok {
		return info.name
	}
	return "SN_SOFT_FAKE_ERR_UNKNOWN"
}

// Message returns the human-readable description of the code.
func (c Code) Message() string {
	if info, ok := codeTable[c]; ok {
		return info.msg
	}
	return "Unknown error"
}

func (c Code) Error() string {
	return fmt.Sprintf("%s (%d): %s", c.Name(), uint8(c), c.Message())
}

// IsWarning reports whether the code flags a suspicious but recoverable condition.
func (c Code) IsWarning() bool { return c == WarnDoubleFree }

// IsFatal reports whether the code belongs to the process-abort class.
func (c Code) IsFatal() bool { return c == ErrCatastrophic || c == ErrSysFail }

// CodeOf extracts the Code wrapped in err. It returns OK for a nil error and
// ErrSysFail for errors that carry no Code.
func CodeOf(err error) Code {
	if err == nil {
		return OK
	}
	var c Code
	if errors.As(err, &c) {
		return c
	}
	return ErrSysFail
}
