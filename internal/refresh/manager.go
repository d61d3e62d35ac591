// Package refresh keeps the served schema snapshot in sync with the database
// catalog. A background loop fingerprints the catalog, rebuilds the snapshot
// when the fingerprint moves, and swaps it in atomically. In-flight requests
// keep resolving against the snapshot they started with.
package refresh

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"relgraph/internal/catalog"
	"relgraph/internal/dbexec"
	"relgraph/internal/executor"
	"relgraph/internal/logging"
	"relgraph/internal/observability"
	"relgraph/internal/schema"
)

// Config controls snapshot construction and refresh behavior.
type Config struct {
	DB       *sql.DB
	Database string

	Build   schema.Options
	Handler schema.HandlerOptions

	// MinInterval is the poll interval right after a change or an error;
	// the interval backs off toward MaxInterval while the catalog is quiet.
	MinInterval time.Duration
	MaxInterval time.Duration

	Logger  *logging.Logger
	Metrics *observability.RefreshMetrics
}

// Manager maintains the active snapshot and its HTTP handler.
type Manager struct {
	db          *sql.DB
	database    string
	buildOpts   schema.Options
	handlerOpts schema.HandlerOptions
	minInterval time.Duration
	maxInterval time.Duration
	logger      *logging.Logger
	metrics     *observability.RefreshMetrics

	active  atomic.Value // *state
	version atomic.Uint64
	kick    chan struct{}
	wg      sync.WaitGroup
}

type state struct {
	snap        *schema.Snapshot
	handler     http.Handler
	fingerprint fingerprintDetails
}

// NewManager introspects the catalog, builds the initial snapshot, and returns
// a manager ready to serve. Startup fails when the first build fails; there is
// no older snapshot to fall back to.
func NewManager(ctx context.Context, cfg Config) (*Manager, error) {
	if cfg.DB == nil {
		return nil, fmt.Errorf("refresh manager requires a database handle")
	}
	if cfg.Logger == nil {
		cfg.Logger = &logging.Logger{Logger: slog.Default()}
	}

	minInterval := cfg.MinInterval
	maxInterval := cfg.MaxInterval
	if minInterval <= 0 {
		minInterval = 30 * time.Second
	}
	if maxInterval <= 0 {
		maxInterval = 5 * time.Minute
	}
	if maxInterval < minInterval {
		maxInterval = minInterval
	}

	m := &Manager{
		db:          cfg.DB,
		database:    cfg.Database,
		buildOpts:   cfg.Build,
		handlerOpts: cfg.Handler,
		minInterval: minInterval,
		maxInterval: maxInterval,
		logger:      cfg.Logger.WithComponent("schema_refresh"),
		metrics:     cfg.Metrics,
		kick:        make(chan struct{}, 1),
	}
	if m.buildOpts.Logger == nil {
		m.buildOpts.Logger = m.logger.Logger
	}

	start := time.Now()
	fingerprint, err := m.computeFingerprint(ctx)
	if err != nil {
		m.logger.Warn("initial fingerprint failed", slog.String("error", err.Error()))
	}

	st, err := m.buildState(ctx, fingerprint)
	if err != nil {
		m.recordRefresh(ctx, time.Since(start), false, err, "startup")
		return nil, err
	}
	m.active.Store(st)
	m.recordRefresh(ctx, time.Since(start), true, nil, "startup")
	return m, nil
}

// Start begins the background refresh loop. The loop stops when ctx is
// canceled.
func (m *Manager) Start(ctx context.Context) {
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		m.refreshLoop(ctx)
	}()
}

// Wait blocks until the refresh loop exits or ctx is canceled.
func (m *Manager) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Snapshot returns the active snapshot, or nil before the first build.
func (m *Manager) Snapshot() *schema.Snapshot {
	if st := m.currentState(); st != nil {
		return st.snap
	}
	return nil
}

// Handler returns the handler bound to the active snapshot.
func (m *Manager) Handler() http.Handler {
	if st := m.currentState(); st != nil && st.handler != nil {
		return st.handler
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "schema not ready", http.StatusServiceUnavailable)
	})
}

// ServeHTTP dispatches to whichever snapshot is active at request time, so a
// mounted Manager picks up hot swaps without remounting.
func (m *Manager) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	m.Handler().ServeHTTP(w, r)
}

// NotifyCatalogChanged signals the refresh loop to check the catalog now
// instead of waiting out the poll interval. Signals arriving while a check is
// already pending coalesce. In-flight requests keep resolving against the
// snapshot they started with.
func (m *Manager) NotifyCatalogChanged() {
	select {
	case m.kick <- struct{}{}:
	default:
	}
}

// RefreshNow forces a rebuild and swap regardless of the fingerprint. The
// previous snapshot stays active when the rebuild fails.
func (m *Manager) RefreshNow(ctx context.Context) error {
	start := time.Now()
	fingerprint, err := m.computeFingerprint(ctx)
	if err != nil {
		m.recordRefresh(ctx, time.Since(start), false, err, "manual")
		return err
	}

	st, err := m.buildState(ctx, fingerprint)
	if err != nil {
		m.recordRefresh(ctx, time.Since(start), false, err, "manual")
		return err
	}
	m.active.Store(st)
	m.recordRefresh(ctx, time.Since(start), true, nil, "manual")
	return nil
}

func (m *Manager) currentState() *state {
	st, _ := m.active.Load().(*state)
	return st
}

func (m *Manager) refreshLoop(ctx context.Context) {
	interval := m.minInterval
	timer := time.NewTimer(interval)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			m.logger.Info("schema refresh stopped")
			return
		case <-m.kick:
			m.refreshOnce(ctx, &interval, "notify")
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			timer.Reset(interval)
		case <-timer.C:
			m.refreshOnce(ctx, &interval, "poll")
			timer.Reset(interval)
		}
	}
}

func (m *Manager) refreshOnce(ctx context.Context, interval *time.Duration, trigger string) {
	start := time.Now()
	fingerprint, err := m.computeFingerprint(ctx)
	if err != nil {
		m.logger.Warn("fingerprint check failed", slog.String("error", err.Error()))
		m.recordRefresh(ctx, time.Since(start), false, err, trigger)
		*interval = m.minInterval
		return
	}

	current := m.currentState()
	if current != nil && fingerprint.Value == current.fingerprint.Value {
		m.recordRefresh(ctx, time.Since(start), false, nil, trigger)
		*interval = nextInterval(*interval, m.minInterval, m.maxInterval)
		return
	}

	// The component diff tells operators whether the rebuild came from
	// tables, columns, keys, or indexes.
	var previousComponents map[string]string
	if current != nil {
		previousComponents = current.fingerprint.Components
	}
	m.logger.Info("catalog change detected, rebuilding",
		slog.String("fingerprint", fingerprint.Value),
		slog.String("fingerprint_mode", fingerprint.Mode),
		slog.Any("changed_components", changedComponents(previousComponents, fingerprint.Components)),
	)

	st, err := m.buildState(ctx, fingerprint)
	if err != nil {
		m.logger.Error("schema rebuild failed, keeping previous snapshot",
			slog.String("error", err.Error()))
		m.recordRefresh(ctx, time.Since(start), false, err, trigger)
		*interval = m.minInterval
		return
	}

	m.active.Store(st)
	*interval = m.minInterval
	m.recordRefresh(ctx, time.Since(start), true, nil, trigger)
	m.logger.Info("schema swap complete",
		slog.Uint64("version", st.snap.Version),
		slog.String("fingerprint", st.fingerprint.Value),
	)
}

func (m *Manager) buildState(ctx context.Context, fingerprint fingerprintDetails) (*state, error) {
	start := time.Now()
	queryer := dbexec.NewPoolExecutor(m.db)

	graph, err := catalog.Introspect(ctx, queryer, m.database)
	if err != nil {
		return nil, err
	}
	for _, diag := range graph.Diagnostics {
		m.logger.Warn("catalog diagnostic",
			slog.String("table", diag.Table),
			slog.String("detail", diag.Detail))
	}

	exec := executor.New(queryer, m.buildOpts.Logger)
	snap, err := schema.Build(graph, exec, m.buildOpts)
	if err != nil {
		return nil, err
	}
	snap.Version = m.version.Add(1)

	m.logger.Info("schema snapshot built",
		slog.Uint64("version", snap.Version),
		slog.Int("tables", len(graph.Tables)),
		slog.Duration("duration", time.Since(start)),
	)

	return &state{
		snap:        snap,
		handler:     schema.NewHandler(snap, m.handlerOpts),
		fingerprint: fingerprint,
	}, nil
}

func (m *Manager) computeFingerprint(ctx context.Context) (fingerprintDetails, error) {
	details, err := structuralFingerprint(ctx, m.db, m.database)
	if err == nil {
		return details, nil
	}

	// Fallback keeps drift detection alive when structural metadata is not
	// readable, at the cost of missing some in-place alterations.
	m.logger.Warn("structural fingerprint failed, trying lightweight fallback",
		slog.String("error", err.Error()))
	fallback, fallbackErr := lightweightFingerprint(ctx, m.db, m.database)
	if fallbackErr != nil {
		return fingerprintDetails{Mode: fingerprintUnknown},
			fmt.Errorf("compute fingerprint: structural: %w; lightweight: %v", err, fallbackErr)
	}
	return fallback, nil
}

func (m *Manager) recordRefresh(ctx context.Context, duration time.Duration, changed bool, err error, trigger string) {
	m.metrics.RecordRefresh(ctx, duration, changed, err, trigger)
}

func nextInterval(current, minInterval, maxInterval time.Duration) time.Duration {
	if current < minInterval {
		return minInterval
	}
	next := current + current/2
	if next > maxInterval {
		return maxInterval
	}
	return next
}
