package track

import (
	"io"
	"log/slog"
	"os"

	"github.com/uber-go/tally"

	"github.com/joshuapare/safetynet/internal/config"
	"github.com/joshuapare/safetynet/internal/logger"
	"github.com/joshuapare/safetynet/track/crash"
	"github.com/joshuapare/safetynet/track/provider"
)

// Option configures a Tracker.
type Option func(*settings)

type settings struct {
	cfg      config.Config
	prov     provider.Provider
	log      *slog.Logger
	scope    tally.Scope
	trap     crash.Trap
	crashOut io.Writer
	exit     func(code int)

	lastErrCap int
}

func defaultSettings() settings {
	return settings{
		cfg:      config.Default(),
		scope:    tally.NoopScope,
		crashOut: os.Stderr,
		exit:     os.Exit,

		lastErrCap: DefaultLastErrorCap,
	}
}

// WithConfig replaces the whole configuration. Put it before options that
// adjust single knobs.
func WithConfig(cfg config.Config) Option {
	return func(s *settings) { s.cfg = cfg }
}

// WithProvider overrides the provider named in the configuration.
func WithProvider(p provider.Provider) Option {
	return func(s *settings) { s.prov = p }
}

// WithLogger sets the logger. The default is logger.L.
func WithLogger(l *slog.Logger) Option {
	return func(s *settings) { s.log = l }
}

// WithMetrics reports counters and gauges to scope.
func WithMetrics(scope tally.Scope) Option {
	return func(s *settings) {
		if scope != nil {
			s.scope = scope
		}
	}
}

// WithLimit sets the allocation ceiling in bytes. Zero means unlimited.
func WithLimit(limit uint64) Option {
	return func(s *settings) { s.cfg.AllocLimit = limit }
}

// WithFreeOnClose makes Close release every block still tracked.
func WithFreeOnClose(enabled bool) Option {
	return func(s *settings) { s.cfg.FreeOnClose = enabled }
}

// WithMaintenanceEvery runs the cache maintenance sweep on every nth query,
// tag or register call. Zero turns the sweep off.
func WithMaintenanceEvery(n int) Option {
	return func(s *settings) { s.cfg.MaintenanceEvery = n }
}

// WithLastErrorCap bounds how many goroutines keep a last-error slot.
// Values below 1 keep DefaultLastErrorCap.
func WithLastErrorCap(n int) Option {
	return func(s *settings) {
		if n > 0 {
			s.lastErrCap = n
		}
	}
}

// WithTrap installs the crash trap at construction.
func WithTrap(trap crash.Trap) Option {
	return func(s *settings) { s.trap = trap }
}

// WithCrashOutput sends crash reports to w instead of stderr.
func WithCrashOutput(w io.Writer) Option {
	return func(s *settings) {
		if w != nil {
			s.crashOut = w
		}
	}
}

// WithExit replaces os.Exit as the crash termination function.
func WithExit(fn func(code int)) Option {
	return func(s *settings) {
		if fn != nil {
			s.exit = fn
		}
	}
}

func (s *settings) logger() *slog.Logger {
	if s.log != nil {
		return s.log
	}
	return logger.L
}
