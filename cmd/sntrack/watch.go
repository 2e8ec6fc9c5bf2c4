package main

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/atotto/clipboard"
	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	overlay "github.com/rmhubbert/bubbletea-overlay"
	"github.com/spf13/cobra"

	"github.com/joshuapare/safetynet/internal/logger"
	"github.com/joshuapare/safetynet/pkg/types"
	"github.com/joshuapare/safetynet/track"
)

var (
	watchWorkers  int
	watchSize     int
	watchInterval time.Duration
)

func init() {
	cmd := newWatchCmd()
	cmd.Flags().IntVar(&watchWorkers, "workers", 2, "Background workers allocating and freeing")
	cmd.Flags().IntVar(&watchSize, "size", 256, "Largest block size in bytes")
	cmd.Flags().DurationVar(&watchInterval, "interval", 250*time.Millisecond, "Refresh interval")
	rootCmd.AddCommand(cmd)
}

func newWatchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Watch a live tracker in an interactive view",
		Long: `The watch command runs a background allocate/free workload and shows the
tracker state as it changes: tracked blocks, usage, the fast cache slots and
the goroutines owning the most memory.

Example:
  sntrack watch
  sntrack watch --workers 8 --interval 100ms`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWatch()
		},
	}
	return cmd
}

func runWatch() error {
	if watchWorkers <= 0 || watchSize <= 0 || watchInterval <= 0 {
		return errors.New("--workers, --size and --interval must be positive")
	}

	t, err := newTracker(nil, track.WithFreeOnClose(true))
	if err != nil {
		return err
	}
	defer t.Close()

	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	for w := range watchWorkers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			watchWorker(ctx, t, w)
		}()
	}

	_, err = tea.NewProgram(newWatchModel(t, watchInterval, cancel), tea.WithAltScreen()).Run()
	cancel()
	wg.Wait()
	return err
}

// watchWorker keeps a window of live blocks, freeing the oldest as new ones
// arrive, until ctx is cancelled.
func watchWorker(ctx context.Context, t *track.Tracker, worker int) {
	const window = 64
	ring := make([][]byte, 0, window)
	for i := 0; ; i++ {
		select {
		case <-ctx.Done():
			return
		case <-time.After(time.Millisecond):
		}

		if len(ring) == window {
			if err := t.Free(ring[0]); err != nil {
				logger.Warn("watch worker free failed", "worker", worker, "err", err)
			}
			ring = ring[1:]
		}
		buf, err := t.Allocate(i%watchSize + 1)
		if errors.Is(err, types.ErrAllocLimitHit) {
			continue
		}
		if err != nil {
			logger.Warn("watch worker allocate failed", "worker", worker, "err", err)
			continue
		}
		ring = append(ring, buf)
		if i%8 == 0 {
			_, _ = t.QuerySize(track.AddrOf(buf))
		}
	}
}

// ownerUsage is the memory held by one goroutine.
type ownerUsage struct {
	Owner track.Owner
	Bytes uint64
}

// watchSnapshot is one refresh of the watched tracker.
type watchSnapshot struct {
	Taken        time.Time
	Tracked      int
	Usage        uint64
	Limit        uint64
	CacheEnabled bool
	CacheLocked  bool
	Slots        []cacheSlot
	TopOwners    []ownerUsage
}

type cacheSlot struct {
	Index  int
	Addr   track.Addr
	Size   uint64
	Weight uint8
}

const topOwners = 5

func takeSnapshot(t *track.Tracker, now time.Time) watchSnapshot {
	s := watchSnapshot{
		Taken:   now,
		Tracked: t.Len(),
		Usage:   t.TotalUsage(),
		Limit:   t.AllocLimit(),
	}
	s.CacheEnabled, s.CacheLocked = t.CacheState()
	for _, v := range t.CacheSlots() {
		s.Slots = append(s.Slots, cacheSlot{Index: v.Index, Addr: v.Key, Size: v.Block.Size, Weight: v.Block.Weight})
	}

	byOwner := map[track.Owner]uint64{}
	for _, b := range t.Blocks() {
		byOwner[b.Owner] += b.Size
	}
	for owner, n := range byOwner {
		s.TopOwners = append(s.TopOwners, ownerUsage{Owner: owner, Bytes: n})
	}
	sort.Slice(s.TopOwners, func(i, j int) bool {
		if s.TopOwners[i].Bytes != s.TopOwners[j].Bytes {
			return s.TopOwners[i].Bytes > s.TopOwners[j].Bytes
		}
		return s.TopOwners[i].Owner < s.TopOwners[j].Owner
	})
	if len(s.TopOwners) > topOwners {
		s.TopOwners = s.TopOwners[:topOwners]
	}
	return s
}

// String renders the snapshot as plain text for the clipboard.
func (s watchSnapshot) String() string {
	var b strings.Builder
	printer.Fprintf(&b, "tracked blocks: %d\n", s.Tracked)
	printer.Fprintf(&b, "memory usage: %d bytes\n", s.Usage)
	if s.Limit > 0 {
		printer.Fprintf(&b, "alloc limit: %d bytes\n", s.Limit)
	}
	fmt.Fprintf(&b, "fast caching: %t\n", s.CacheEnabled)
	fmt.Fprintf(&b, "fast caching lock: %t\n", s.CacheLocked)
	for _, c := range s.Slots {
		printer.Fprintf(&b, "fast_cache[%d] = %s size=%d weight=%d\n", c.Index, c.Addr, c.Size, c.Weight)
	}
	for _, o := range s.TopOwners {
		printer.Fprintf(&b, "goroutine %s: %d bytes\n", o.Owner, o.Bytes)
	}
	return b.String()
}

type tickMsg time.Time

// watchModel is the bubbletea model of the watch view.
type watchModel struct {
	t        *track.Tracker
	keys     KeyMap
	help     help.Model
	interval time.Duration
	stop     func()

	snap     watchSnapshot
	status   string
	showHelp bool
	width    int
}

func newWatchModel(t *track.Tracker, interval time.Duration, stop func()) watchModel {
	if stop == nil {
		stop = func() {}
	}
	return watchModel{
		t:        t,
		keys:     DefaultKeyMap(),
		help:     help.New(),
		interval: interval,
		stop:     stop,
		snap:     takeSnapshot(t, time.Now()),
	}
}

func (m watchModel) tick() tea.Cmd {
	return tea.Tick(m.interval, func(now time.Time) tea.Msg { return tickMsg(now) })
}

// Init starts the refresh loop
func (m watchModel) Init() tea.Cmd {
	return m.tick()
}

// Update handles refresh ticks and key presses
func (m watchModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.help.Width = msg.Width
		return m, nil

	case tickMsg:
		m.snap = takeSnapshot(m.t, time.Time(msg))
		return m, m.tick()

	case tea.KeyMsg:
		if m.showHelp && !key.Matches(msg, m.keys.Quit) {
			m.showHelp = false
			return m, nil
		}
		switch {
		case key.Matches(msg, m.keys.Quit):
			m.stop()
			return m, tea.Quit
		case key.Matches(msg, m.keys.Help):
			m.showHelp = true
		case key.Matches(msg, m.keys.ClearCache):
			m.t.ClearCache()
			m.status = "Cache cleared"
		case key.Matches(msg, m.keys.LockCache):
			if _, locked := m.t.CacheState(); locked {
				m.t.UnlockCache()
				m.status = "Cache unlocked"
			} else {
				m.t.LockCache()
				m.status = "Cache locked"
			}
		case key.Matches(msg, m.keys.ToggleCache):
			if enabled, _ := m.t.CacheState(); enabled {
				m.t.DisableCache()
				m.status = "Cache disabled"
			} else {
				m.t.EnableCache()
				m.status = "Cache enabled"
			}
		case key.Matches(msg, m.keys.Maintain):
			m.t.RunMaintenance()
			m.status = "Maintenance sweep done"
		case key.Matches(msg, m.keys.Copy):
			if err := clipboard.WriteAll(m.snap.String()); err != nil {
				m.status = fmt.Sprintf("Copy failed: %v", err)
			} else {
				m.status = "Copied snapshot"
			}
		}
		m.snap = takeSnapshot(m.t, time.Now())
		return m, nil
	}
	return m, nil
}

// View renders the dashboard, with the help pane on top when requested
func (m watchModel) View() string {
	main := lipgloss.JoinVertical(
		lipgloss.Left,
		headerStyle.Render("safetynet tracker"),
		lipgloss.JoinHorizontal(lipgloss.Top, m.renderState(), " ", m.renderCache()),
		m.renderOwners(),
		m.renderStatus(),
	)
	if !m.showHelp {
		return main
	}
	fg := staticView(helpPaneStyle.Render(m.help.FullHelpView(m.keys.FullHelp())))
	return overlay.New(fg, staticView(main), overlay.Center, overlay.Center, 0, 0).View()
}

func (m watchModel) renderState() string {
	row := func(label, value string) string {
		return labelStyle.Render(label) + value
	}
	onOff := func(v bool, on, off string) string {
		if v {
			return onStyle.Render(on)
		}
		return offStyle.Render(off)
	}
	limit := "none"
	if m.snap.Limit > 0 {
		limit = printer.Sprintf("%d bytes", m.snap.Limit)
	}
	return paneStyle.Render(strings.Join([]string{
		row("tracked blocks", printer.Sprintf("%d", m.snap.Tracked)),
		row("memory usage", printer.Sprintf("%d bytes", m.snap.Usage)),
		row("alloc limit", limit),
		row("fast cache", onOff(m.snap.CacheEnabled, "enabled", "disabled")),
		row("cache lock", onOff(!m.snap.CacheLocked, "open", "locked")),
	}, "\n"))
}

func (m watchModel) renderCache() string {
	lines := []string{tableHeaderStyle.Render(fmt.Sprintf("%-4s %-16s %8s %6s", "slot", "addr", "size", "weight"))}
	occupied := map[int]cacheSlot{}
	for _, s := range m.snap.Slots {
		occupied[s.Index] = s
	}
	for i := range 5 {
		s, ok := occupied[i]
		if !ok {
			lines = append(lines, fmt.Sprintf("%-4d %-16s %8s %6s", i, "-", "-", "-"))
			continue
		}
		lines = append(lines, fmt.Sprintf("%-4d %-16s %8d %6d", i, s.Addr, s.Size, s.Weight))
	}
	return paneStyle.Render(strings.Join(lines, "\n"))
}

func (m watchModel) renderOwners() string {
	lines := []string{tableHeaderStyle.Render("top owners")}
	if len(m.snap.TopOwners) == 0 {
		lines = append(lines, "no tracked blocks")
	}
	for _, o := range m.snap.TopOwners {
		lines = append(lines, printer.Sprintf("goroutine %-8s %d bytes", o.Owner, o.Bytes))
	}
	return paneStyle.Render(strings.Join(lines, "\n"))
}

func (m watchModel) renderStatus() string {
	line := m.help.View(m.keys)
	if m.status != "" {
		line = m.status + "  " + line
	}
	return statusStyle.Render(line)
}

// staticView adapts a rendered string to tea.Model for overlay composition.
type staticView string

func (v staticView) Init() tea.Cmd                       { return nil }
func (v staticView) Update(tea.Msg) (tea.Model, tea.Cmd) { return v, nil }
func (v staticView) View() string                        { return string(v) }
