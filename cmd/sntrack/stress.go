package main

import (
	"errors"
	"fmt"
	"sync"

	"github.com/spf13/cobra"
	"github.com/uber-go/tally"

	"github.com/joshuapare/safetynet/pkg/types"
	"github.com/joshuapare/safetynet/track"
)

var (
	stressGoroutines int
	stressBlocks     int
	stressSize       int
	stressLimit      uint64
	stressValidate   bool
)

func init() {
	cmd := newStressCmd()
	cmd.Flags().IntVar(&stressGoroutines, "goroutines", 4, "Concurrent workers")
	cmd.Flags().IntVar(&stressBlocks, "blocks", 1000, "Blocks allocated per worker")
	cmd.Flags().IntVar(&stressSize, "size", 64, "Largest block size in bytes")
	cmd.Flags().Uint64Var(&stressLimit, "limit", 0, "Allocation ceiling in bytes (0 = config value)")
	cmd.Flags().BoolVar(&stressValidate, "validate", false, "Check tracker invariants after the run")
	rootCmd.AddCommand(cmd)
}

func newStressCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stress",
		Short: "Run a concurrent allocate/free workload",
		Long: `The stress command starts several goroutines that allocate, tag, query
and free blocks through one tracker, then reports what is still tracked.

Every worker frees every other block it allocated, so half of the blocks
remain tracked at the end of the run.

Example:
  sntrack stress --goroutines 8 --blocks 5000
  sntrack stress --limit 65536 --validate --json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStress()
		},
	}
	return cmd
}

// StressResult is the outcome of one stress run.
type StressResult struct {
	Goroutines    int    `json:"goroutines"`
	Blocks        int    `json:"blocks_per_goroutine"`
	Tracked       int    `json:"tracked_blocks"`
	Usage         uint64 `json:"memory_usage"`
	CacheSlots    int    `json:"cache_slots"`
	Allocations   int64  `json:"allocations"`
	Deallocations int64  `json:"deallocations"`
	LimitHits     int64  `json:"limit_hits"`
	Valid         *bool  `json:"valid,omitempty"`
}

// validateTracker checks the tracker invariants after a run. Tests replace it
// to simulate a corrupted run.
var validateTracker = func(t *track.Tracker) error {
	if err := t.Validate(); err != nil {
		return fmt.Errorf("invariant check failed: %w", err)
	}
	return nil
}

func runStress() error {
	if stressGoroutines <= 0 || stressBlocks <= 0 || stressSize <= 0 {
		return errors.New("--goroutines, --blocks and --size must be positive")
	}

	scope := tally.NewTestScope("", nil)
	t, err := newTracker(scope, track.WithFreeOnClose(true))
	if err != nil {
		return err
	}
	defer t.Close()
	if stressLimit > 0 {
		t.SetAllocLimit(stressLimit)
	}

	printVerbose("Running %d workers x %d blocks\n", stressGoroutines, stressBlocks)

	var wg sync.WaitGroup
	errs := make([]error, stressGoroutines)
	for w := range stressGoroutines {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs[w] = stressWorker(t, w)
		}()
	}
	wg.Wait()
	if err := errors.Join(errs...); err != nil {
		return err
	}

	counters := scope.Snapshot().Counters()
	count := func(name string) int64 {
		if c, ok := counters[name+"+"]; ok {
			return c.Value()
		}
		return 0
	}
	res := StressResult{
		Goroutines:    stressGoroutines,
		Blocks:        stressBlocks,
		Tracked:       t.Len(),
		Usage:         t.TotalUsage(),
		CacheSlots:    len(t.CacheSlots()),
		Allocations:   count("allocations"),
		Deallocations: count("deallocations"),
		LimitHits:     count("limit_hits"),
	}
	var verr error
	if stressValidate {
		verr = validateTracker(t)
		ok := verr == nil
		res.Valid = &ok
	}

	if jsonOut {
		if err := printJSON(res); err != nil {
			return err
		}
		return verr
	}
	printInfo("goroutines:     %d\n", res.Goroutines)
	printInfo("blocks/worker:  %d\n", res.Blocks)
	printInfo("tracked blocks: %d\n", res.Tracked)
	printInfo("memory usage:   %d bytes\n", res.Usage)
	printInfo("cache slots:    %d\n", res.CacheSlots)
	printInfo("allocations:    %d\n", res.Allocations)
	printInfo("deallocations:  %d\n", res.Deallocations)
	printInfo("limit hits:     %d\n", res.LimitHits)
	if res.Valid != nil {
		printInfo("valid:          %t\n", *res.Valid)
	}
	return verr
}

// stressWorker allocates, tags and queries its blocks, then frees every other
// one. A hit allocation ceiling skips the block rather than failing the run.
func stressWorker(t *track.Tracker, worker int) error {
	bufs := make([][]byte, 0, stressBlocks)
	for i := range stressBlocks {
		buf, err := t.Allocate(i%stressSize + 1)
		if errors.Is(err, types.ErrAllocLimitHit) {
			continue
		}
		if err != nil {
			return fmt.Errorf("worker %d: %w", worker, err)
		}
		bufs = append(bufs, buf)
	}
	for i, buf := range bufs {
		addr := track.AddrOf(buf)
		if i%16 == 0 {
			if err := t.SetTag(addr, uint16(100+worker)); err != nil {
				return fmt.Errorf("worker %d: %w", worker, err)
			}
		}
		if _, err := t.QuerySize(addr); err != nil {
			return fmt.Errorf("worker %d: %w", worker, err)
		}
	}
	for i := 0; i < len(bufs); i += 2 {
		if err := t.Free(bufs[i]); err != nil {
			return fmt.Errorf("worker %d: %w", worker, err)
		}
	}
	return nil
}
