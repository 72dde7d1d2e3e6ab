package orchestration

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/deliverydevs/punchsync/internal/connector/biotime"
	"github.com/deliverydevs/punchsync/internal/connector/zkdevice"
	"github.com/deliverydevs/punchsync/internal/ledger"
	"github.com/deliverydevs/punchsync/internal/lease"
	"github.com/deliverydevs/punchsync/internal/punch"
)

// =============================================================================
// RUN COORDINATOR
// =============================================================================

// defaultWindowBack is how far the first-ever run reaches back when no
// watermark exists yet.
const defaultWindowBack = time.Hour

// deviceDialTimeout bounds the direct-device TCP handshake.
const deviceDialTimeout = 10 * time.Second

// TransactionSource fetches punch transactions for a time window.
// *biotime.Client is the production implementation.
type TransactionSource interface {
	FetchTransactions(ctx context.Context, start, end time.Time) ([]punch.Raw, error)
}

// DeviceSession reads attendance straight off a device.
// *zkdevice.Session is the production implementation.
type DeviceSession interface {
	AttendanceLog() ([]zkdevice.Attendance, error)
	Disconnect() error
}

// RunSummary describes one completed (or skipped) sync run.
type RunSummary struct {
	RunID string
	Mode  string // "api" or "device"

	WindowStart time.Time
	WindowEnd   time.Time

	Fetched    int
	Inserted   int
	Duplicates int
	Stale      int
	Rejected   int

	Skipped    bool
	SkipReason string
}

// Coordinator owns a full sync run: lease, window, fetch, ingest,
// watermark. The source factories are swappable so tests can run the
// whole pipeline against fakes.
type Coordinator struct {
	Config    ledger.ConfigStore
	Directory ledger.EmployeeDirectory
	Checkins  ledger.CheckinStore
	Leases    lease.Store
	Log       *logrus.Logger

	// Now is the clock source; tests pin it.
	Now func() time.Time

	// NewTransactionSource builds the API client for a run.
	NewTransactionSource func(cfg *ledger.SyncConfig) (TransactionSource, error)

	// NewDeviceSession opens a device connection for a run.
	NewDeviceSession func(cfg *ledger.SyncConfig) (DeviceSession, error)
}

// NewCoordinator wires a coordinator against a ledger store and lease
// store with the production source factories.
func NewCoordinator(store ledger.Store, leases lease.Store, log *logrus.Logger) *Coordinator {
	c := &Coordinator{
		Config:    store,
		Directory: store,
		Checkins:  store,
		Leases:    leases,
		Log:       log,
	}
	c.NewTransactionSource = func(cfg *ledger.SyncConfig) (TransactionSource, error) {
		return biotime.New(&biotime.Config{
			ServerIP:   cfg.ServerIP,
			ServerPort: cfg.ServerPort,
			Token:      cfg.Token,
			Log:        log,
		})
	}
	c.NewDeviceSession = func(cfg *ledger.SyncConfig) (DeviceSession, error) {
		return zkdevice.Dial(cfg.ServerIP, cfg.ServerPort, deviceDialTimeout)
	}
	return c
}

func (c *Coordinator) now() time.Time {
	if c.Now != nil {
		return c.Now()
	}
	return time.Now()
}

func (c *Coordinator) log() *logrus.Logger {
	if c.Log != nil {
		return c.Log
	}
	return logrus.StandardLogger()
}

func (c *Coordinator) ingestor() *Ingestor {
	return &Ingestor{
		Directory: c.Directory,
		Checkins:  c.Checkins,
		Log:       c.Log,
		Now:       c.Now,
	}
}

// Run performs one sync run end to end. The mode is chosen from the
// configured port: the device well-known port selects the direct
// protocol, anything else the REST API.
func (c *Coordinator) Run(ctx context.Context) (*RunSummary, error) {
	cfg, err := c.Config.Get(ctx)
	if err != nil {
		return nil, fmt.Errorf("load sync config: %w", err)
	}

	runID := uuid.NewString()
	if cfg.DeviceMode() {
		return c.runDevice(ctx, cfg, runID)
	}
	return c.runAPI(ctx, cfg, runID)
}

func (c *Coordinator) runAPI(ctx context.Context, cfg *ledger.SyncConfig, runID string) (*RunSummary, error) {
	summary := &RunSummary{RunID: runID, Mode: "api"}
	log := c.log().WithFields(logrus.Fields{"run_id": runID, "mode": summary.Mode})

	acquired, err := c.Leases.Acquire(ctx, lease.APISyncLock, lease.RunLockTTL)
	if err != nil {
		return summary, fmt.Errorf("acquire sync lease: %w", err)
	}
	if !acquired {
		summary.Skipped = true
		summary.SkipReason = "another sync run is in progress"
		log.Info("sync already running, skipping")
		return summary, nil
	}
	// Release on a fresh context so a canceled run still frees the lease.
	defer func() {
		if rerr := c.Leases.Release(context.Background(), lease.APISyncLock); rerr != nil {
			log.WithError(rerr).Warn("failed to release sync lease")
		}
	}()

	if !cfg.EnableSync {
		return summary, ErrSyncDisabled
	}
	if cfg.Token == "" {
		return summary, ErrTokenMissing
	}

	now := c.now()
	start := now.Add(-defaultWindowBack)
	if cfg.LastSync != nil {
		start = *cfg.LastSync
	}
	summary.WindowStart = start
	summary.WindowEnd = now

	source, err := c.NewTransactionSource(cfg)
	if err != nil {
		return summary, fmt.Errorf("build transaction source: %w", err)
	}

	txns, fetchErr := source.FetchTransactions(ctx, start, now)
	if fetchErr != nil {
		// Whatever pages did arrive still get ingested; the window is
		// not retried, the next run covers onward from the watermark.
		log.WithError(fetchErr).Warn("transaction fetch incomplete, ingesting partial results")
	}
	summary.Fetched = len(txns)

	report := c.ingestor().IngestTransactions(ctx, txns)
	summary.fill(report)

	if err := c.Config.Advance(ctx, now, int64(report.Inserted())); err != nil {
		return summary, fmt.Errorf("advance watermark: %w", err)
	}

	log.WithFields(summary.fields()).Info("sync run complete")
	return summary, nil
}

func (c *Coordinator) runDevice(ctx context.Context, cfg *ledger.SyncConfig, runID string) (*RunSummary, error) {
	summary := &RunSummary{RunID: runID, Mode: "device"}
	log := c.log().WithFields(logrus.Fields{"run_id": runID, "mode": summary.Mode})

	if cfg.ServerPort != zkdevice.DefaultPort {
		return summary, fmt.Errorf("device mode requires port %d, got %d", zkdevice.DefaultPort, cfg.ServerPort)
	}

	acquired, err := c.Leases.Acquire(ctx, lease.DeviceSyncLock, lease.RunLockTTL)
	if err != nil {
		return summary, fmt.Errorf("acquire device sync lease: %w", err)
	}
	if !acquired {
		summary.Skipped = true
		summary.SkipReason = "another device sync run is in progress"
		log.Info("device sync already running, skipping")
		return summary, nil
	}
	defer func() {
		if rerr := c.Leases.Release(context.Background(), lease.DeviceSyncLock); rerr != nil {
			log.WithError(rerr).Warn("failed to release device sync lease")
		}
	}()

	if !cfg.EnableSync {
		return summary, ErrSyncDisabled
	}

	session, err := c.NewDeviceSession(cfg)
	if err != nil {
		return summary, fmt.Errorf("connect to device %s:%d: %w", cfg.ServerIP, cfg.ServerPort, err)
	}
	defer func() {
		if derr := session.Disconnect(); derr != nil {
			log.WithError(derr).Warn("device disconnect failed")
		}
	}()

	records, err := session.AttendanceLog()
	if err != nil {
		// No partial reads over the device protocol; the watermark
		// stays put and the next run retries.
		return summary, fmt.Errorf("read attendance log: %w", err)
	}
	summary.Fetched = len(records)

	now := c.now()
	summary.WindowEnd = now

	deviceID := fmt.Sprintf("%s:%d", cfg.ServerIP, cfg.ServerPort)
	report := c.ingestor().IngestAttendance(ctx, records, deviceID)
	summary.fill(report)

	if err := c.Config.Advance(ctx, now, int64(report.Inserted())); err != nil {
		return summary, fmt.Errorf("advance watermark: %w", err)
	}

	log.WithFields(summary.fields()).Info("device sync run complete")
	return summary, nil
}

// RunScheduled is the scheduler entry point: it never propagates a
// failure, because one bad run must not take the scheduler down.
func (c *Coordinator) RunScheduled(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			c.log().WithField("panic", r).Error("sync run panicked")
		}
	}()

	summary, err := c.Run(ctx)
	if err != nil {
		c.log().WithError(err).Error("sync run failed")
	}
	_ = summary
}

// Tick is the per-minute scheduler hook: it consults the configured
// cadence and runs only when a run is due. Disabled sync is silent
// here, unlike a manual trigger.
func (c *Coordinator) Tick(ctx context.Context) {
	cfg, err := c.Config.Get(ctx)
	if err != nil {
		c.log().WithError(err).Error("failed to load sync config")
		return
	}
	if !cfg.EnableSync {
		return
	}

	gate := &Gate{Leases: c.Leases, Now: c.Now}
	due, err := gate.ShouldRun(ctx, cfg.Interval())
	if err != nil {
		c.log().WithError(err).Error("scheduling gate failed")
		return
	}
	if !due {
		return
	}
	c.RunScheduled(ctx)
}

func (s *RunSummary) fill(report *Report) {
	s.Inserted = report.Inserted()
	s.Duplicates = report.Duplicates()
	s.Stale = report.Stale()
	s.Rejected = report.Rejected()
}

func (s *RunSummary) fields() logrus.Fields {
	return logrus.Fields{
		"fetched":    s.Fetched,
		"inserted":   s.Inserted,
		"duplicates": s.Duplicates,
		"stale":      s.Stale,
		"rejected":   s.Rejected,
	}
}
