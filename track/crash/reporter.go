// Package crash reports process-fatal tracker conditions.
//
// A Reporter prints the error code, its name and message, the calling
// goroutine, the last-accessed block and, when enabled, the fast cache slots
// and a full registry dump. It then terminates the process with the code as
// the exit status unless an installed Trap suppresses termination.
//
// The reporter only reads tracker state. When another goroutine holds the
// shared lock, or the failure is lock-related, dumps are skipped rather than
// waiting on that lock.
package crash

import (
	"errors"
	"fmt"
	"io"
	"os"
	"runtime"
	"sync"

	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/joshuapare/safetynet/internal/gid"
	"github.com/joshuapare/safetynet/internal/lockx"
	"github.com/joshuapare/safetynet/pkg/types"
	"github.com/joshuapare/safetynet/track/manager"
	"github.com/joshuapare/safetynet/track/registry"
)

// ErrTrapSet is returned when a second trap is installed.
var ErrTrapSet = errors.New("crash: trap already installed")

// Location identifies the code that raised a fatal condition.
type Location struct {
	File string
	Line int
	Func string
}

func (l Location) String() string {
	return fmt.Sprintf("%s:%d(%s)", l.File, l.Line, l.Func)
}

// Trap may intercept a fatal condition. Returning true suppresses termination.
type Trap func(code types.Code, loc Location) bool

// Options selects what a crash report includes.
type Options struct {
	DumpCache    bool // print every occupied fast-cache slot
	DumpRegistry bool // print every tracked block
}

// Reporter prints crash reports for one tracker.
type Reporter struct {
	mu   *lockx.Mutex
	reg  *registry.Registry
	mgr  *manager.Manager
	opts Options

	out  io.Writer
	exit func(code int)

	trapMu sync.Mutex
	trap   Trap
}

// New returns a Reporter writing to stderr and exiting through os.Exit.
func New(reg *registry.Registry, mgr *manager.Manager, opts Options) *Reporter {
	return &Reporter{
		mu:   reg.Mutex(),
		reg:  reg,
		mgr:  mgr,
		opts: opts,
		out:  os.Stderr,
		exit: os.Exit,
	}
}

// SetOutput redirects reports to w.
func (r *Reporter) SetOutput(w io.Writer) { r.out = w }

// SetExit replaces the termination function.
func (r *Reporter) SetExit(fn func(code int)) { r.exit = fn }

// SetOptions changes what reports include.
func (r *Reporter) SetOptions(opts Options) { r.opts = opts }

// SetTrap installs the crash trap. Only one trap may be installed.
func (r *Reporter) SetTrap(trap Trap) error {
	r.trapMu.Lock()
	defer r.trapMu.Unlock()
	if r.trap != nil {
		return ErrTrapSet
	}
	r.trap = trap
	return nil
}

// Fatal reports code raised by its caller. It returns true only when the trap
// suppressed termination.
func (r *Reporter) Fatal(code types.Code) bool {
	return r.FatalAt(code, Caller(1))
}

// FatalAt reports code raised at loc.
func (r *Reporter) FatalAt(code types.Code, loc Location) bool {
	r.trapMu.Lock()
	trap := r.trap
	r.trapMu.Unlock()
	if trap != nil && trap(code, loc) {
		return true
	}

	r.Report(r.out, code, loc)
	r.exit(int(code))
	return false
}

// Report writes a crash report for code to w without terminating.
func (r *Reporter) Report(w io.Writer, code types.Code, loc Location) {
	p := message.NewPrinter(language.English)

	fmt.Fprintf(w, "Crash in safetynet/%s :-(\n\n", loc)
	fmt.Fprintf(w, "ERROR: %d\n", uint8(code))
	fmt.Fprintf(w, "ERROR_NAME: %s\n", code.Name())
	fmt.Fprintf(w, "ERROR_MSG: %s\n", code.Message())
	fmt.Fprintf(w, "crash on goroutine %s\n\n", gid.Current())

	if code == types.ErrCatastrophic {
		return
	}
	if !r.mu.TryLock() {
		fmt.Fprintf(w, "tracker lock held by goroutine %s, state not dumped\n", r.mu.Owner())
		return
	}
	defer r.mu.Unlock()

	fmt.Fprintf(w, "Memory tracking state:\n")
	p.Fprintf(w, "tracked blocks: %d\n", r.reg.Len())
	p.Fprintf(w, "memory usage: %d bytes\n", r.mgr.Usage())
	if limit := r.mgr.Limit(); limit != manager.NoLimit {
		p.Fprintf(w, "alloc limit: %d bytes\n", limit)
	}
	fmt.Fprintf(w, "fast caching: %t\n", r.mgr.Enabled())
	fmt.Fprintf(w, "fast caching lock: %t\n", r.mgr.Locked())

	fmt.Fprintf(w, "\nlast_access_node:\n")
	if h, ok := r.reg.LastAccess(); ok {
		r.printBlock(w, p, h)
	} else {
		fmt.Fprintf(w, "NODE IS NULL\n")
	}

	if code == types.ErrSysFail {
		return
	}

	if r.opts.DumpCache {
		fmt.Fprintf(w, "\n")
		occupied := make(map[int]manager.SlotView, manager.CacheSlots)
		for _, s := range r.mgr.Slots() {
			occupied[s.Index] = s
		}
		for i := range manager.CacheSlots {
			s, ok := occupied[i]
			if !ok {
				fmt.Fprintf(w, "fast_cache[%d] = NULL\n", i)
				continue
			}
			fmt.Fprintf(w, "\nfast_cache[%d]:\n", i)
			r.printBlock(w, p, s.Handle)
		}
	}

	if r.opts.DumpRegistry {
		fmt.Fprintf(w, "\nnodes:\n")
		r.reg.ForEach(func(h registry.Handle, _ *registry.Block, i int) bool {
			fmt.Fprintf(w, "node: %d\n", i)
			r.printBlock(w, p, h)
			fmt.Fprintf(w, "\n")
			return true
		})
	}
}

func (r *Reporter) printBlock(w io.Writer, p *message.Printer, h registry.Handle) {
	b, ok := r.reg.Snapshot(h)
	if !ok {
		fmt.Fprintf(w, "NODE IS NULL\n")
		return
	}
	prev, next, _ := r.reg.Links(h)
	fmt.Fprintf(w, "node%s\n", h)
	fmt.Fprintf(w, "previous: %s\n", prev)
	fmt.Fprintf(w, "data: %s\n", b.Addr)
	p.Fprintf(w, "size: %d\n", b.Size)
	fmt.Fprintf(w, "owner: %s\n", b.Owner)
	fmt.Fprintf(w, "tag: %d\n", b.Tag)
	fmt.Fprintf(w, "cached: %t\n", b.Cached)
	fmt.Fprintf(w, "adopted: %t\n", b.Adopted)
	fmt.Fprintf(w, "next: %s\n", next)
	fmt.Fprintf(w, "weight: %#x\n", b.Weight)
}

// Caller returns the location skip frames above the function calling Caller.
func Caller(skip int) Location {
	pc, file, line, ok := runtime.Caller(skip + 1)
	if !ok {
		return Location{File: "unknown"}
	}
	loc := Location{File: file, Line: line}
	if fn := runtime.FuncForPC(pc); fn != nil {
		loc.Func = fn.Name()
	}
	return loc
}
