// Package quota enforces a fixed per-client request allowance over a
// rolling window that starts at the client's first counted request.
package quota

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/goodtune/promptrelay/internal/metrics"
	"github.com/goodtune/promptrelay/internal/storage"
	"github.com/rs/zerolog"
)

const (
	// DefaultDailyLimit is the number of requests a client may make per window
	DefaultDailyLimit = 3

	// DefaultWindow is the length of a quota window
	DefaultWindow = 24 * time.Hour
)

// Decision is the outcome of a quota check.
type Decision int

const (
	Denied Decision = iota
	Allowed
)

func (d Decision) String() string {
	if d == Allowed {
		return "allowed"
	}
	return "denied"
}

// state is the derived condition of one client's record at a point in time.
type state int

const (
	stateNoRecord state = iota
	stateUnderLimit
	stateAtLimit
	stateExpired
)

func (s state) String() string {
	switch s {
	case stateNoRecord:
		return "no-record"
	case stateUnderLimit:
		return "under-limit"
	case stateAtLimit:
		return "at-limit"
	case stateExpired:
		return "expired"
	default:
		return "unknown"
	}
}

// Config holds limiter configuration
type Config struct {
	DailyLimit      int
	Window          time.Duration
	AllowPrivileged bool
}

// Report describes a client's consumption in the current window.
type Report struct {
	ClientID  string
	Used      int
	Limit     int
	Remaining int
	ResetTime time.Time // zero when no window is open
}

// Limiter owns the in-memory usage map and serializes every
// read-modify-write against it, including the write-through to the store.
type Limiter struct {
	store   storage.UsageStore
	records map[string]storage.UsageRecord
	cfg     Config
	clock   Clock
	logger  zerolog.Logger
	mu      sync.Mutex
}

// NewLimiter creates a limiter and loads persisted usage from store. A
// failed load is logged and the limiter starts with no records.
func NewLimiter(ctx context.Context, store storage.UsageStore, cfg Config, logger zerolog.Logger) *Limiter {
	if cfg.DailyLimit <= 0 {
		cfg.DailyLimit = DefaultDailyLimit
	}
	if cfg.Window <= 0 {
		cfg.Window = DefaultWindow
	}

	l := &Limiter{
		store:  store,
		cfg:    cfg,
		clock:  RealClock{},
		logger: logger.With().Str("component", "quota").Logger(),
	}

	records, err := store.Load(ctx)
	if err != nil {
		metrics.UsageStoreErrors.WithLabelValues("load").Inc()
		l.logger.Error().Err(err).Msg("Failed to load usage records, starting empty")
	}
	if records == nil {
		records = make(map[string]storage.UsageRecord)
	}
	l.records = records
	metrics.TrackedClients.Set(float64(len(records)))

	l.logger.Info().
		Int("clients", len(records)).
		Int("daily_limit", cfg.DailyLimit).
		Dur("window", cfg.Window).
		Msg("Quota limiter ready")

	return l
}

// SetClock replaces the time source. Intended for tests.
func (l *Limiter) SetClock(c Clock) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.clock = c
}

// Limit returns the configured per-window allowance.
func (l *Limiter) Limit() int {
	return l.cfg.DailyLimit
}

func (l *Limiter) stateOf(rec storage.UsageRecord, ok bool, now time.Time) state {
	switch {
	case !ok:
		return stateNoRecord
	case rec.Expired(now):
		return stateExpired
	case rec.Count >= l.cfg.DailyLimit:
		return stateAtLimit
	default:
		return stateUnderLimit
	}
}

// CheckAndConsume decides whether clientID may make a request and, when
// allowed, charges it against the client's window before returning.
// Privileged requests bypass tracking entirely unless the limiter was
// configured to ignore the flag.
func (l *Limiter) CheckAndConsume(ctx context.Context, clientID string, privileged bool) Decision {
	if privileged && l.cfg.AllowPrivileged {
		metrics.QuotaDecisions.WithLabelValues("privileged").Inc()
		l.logger.Debug().Str("client", clientID).Msg("Privileged request bypasses quota")
		return Allowed
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.clock.Now()
	rec, ok := l.records[clientID]
	st := l.stateOf(rec, ok, now)

	switch st {
	case stateAtLimit:
		metrics.QuotaDecisions.WithLabelValues("denied").Inc()
		l.logger.Info().
			Str("client", clientID).
			Int("count", rec.Count).
			Time("reset_time", rec.ResetTime).
			Msg("Quota exceeded")
		return Denied

	case stateNoRecord, stateExpired:
		rec = storage.UsageRecord{Count: 1, ResetTime: now.Add(l.cfg.Window)}

	case stateUnderLimit:
		rec.Count++
	}

	l.records[clientID] = rec
	metrics.TrackedClients.Set(float64(len(l.records)))
	metrics.QuotaDecisions.WithLabelValues("allowed").Inc()

	// The request already counts; a failed write only loses durability.
	if err := l.store.Put(context.WithoutCancel(ctx), clientID, rec); err != nil {
		metrics.UsageStoreErrors.WithLabelValues("put").Inc()
		l.logger.Error().Err(err).Str("client", clientID).Msg("Failed to persist usage record")
	}

	l.logger.Debug().
		Str("client", clientID).
		Str("state", st.String()).
		Int("count", rec.Count).
		Time("reset_time", rec.ResetTime).
		Msg("Quota charged")

	return Allowed
}

// Usage reports clientID's consumption without modifying anything.
func (l *Limiter) Usage(clientID string) Report {
	l.mu.Lock()
	defer l.mu.Unlock()

	report := Report{
		ClientID:  clientID,
		Limit:     l.cfg.DailyLimit,
		Remaining: l.cfg.DailyLimit,
	}

	rec, ok := l.records[clientID]
	switch l.stateOf(rec, ok, l.clock.Now()) {
	case stateUnderLimit, stateAtLimit:
		report.Used = rec.Count
		report.Remaining = max(l.cfg.DailyLimit-rec.Count, 0)
		report.ResetTime = rec.ResetTime
	}

	return report
}

// Prune removes records whose window has closed and returns how many were
// dropped. An expired record behaves exactly like a missing one, so this
// never changes a future decision.
func (l *Limiter) Prune(ctx context.Context) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.clock.Now()
	pruned := 0
	for id, rec := range l.records {
		if !rec.Expired(now) {
			continue
		}
		delete(l.records, id)
		pruned++

		if err := l.store.Delete(ctx, id); err != nil && !errors.Is(err, storage.ErrNotFound) {
			metrics.UsageStoreErrors.WithLabelValues("delete").Inc()
			l.logger.Error().Err(err).Str("client", id).Msg("Failed to delete expired usage record")
		}
	}

	metrics.TrackedClients.Set(float64(len(l.records)))
	metrics.RecordsPruned.Add(float64(pruned))
	return pruned
}

// Snapshot returns a copy of every tracked record.
func (l *Limiter) Snapshot() map[string]storage.UsageRecord {
	l.mu.Lock()
	defer l.mu.Unlock()
	return storage.CloneRecords(l.records)
}

// Flush writes the full in-memory mapping back to the store. It is called
// on shutdown so backends that lost individual writes catch up.
func (l *Limiter) Flush(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.store.Save(ctx, l.records); err != nil {
		metrics.UsageStoreErrors.WithLabelValues("save").Inc()
		return err
	}
	return nil
}
