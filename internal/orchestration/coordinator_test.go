package orchestration

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/deliverydevs/punchsync/internal/connector/zkdevice"
	"github.com/deliverydevs/punchsync/internal/ledger"
	"github.com/deliverydevs/punchsync/internal/lease"
	"github.com/deliverydevs/punchsync/internal/punch"
)

// fakeSource is a canned TransactionSource that records the window it
// was asked for.
type fakeSource struct {
	txns  []punch.Raw
	err   error
	calls int
	start time.Time
	end   time.Time
}

func (f *fakeSource) FetchTransactions(ctx context.Context, start, end time.Time) ([]punch.Raw, error) {
	f.calls++
	f.start, f.end = start, end
	return f.txns, f.err
}

// fakeSession is a canned DeviceSession.
type fakeSession struct {
	records      []zkdevice.Attendance
	err          error
	disconnected bool
}

func (f *fakeSession) AttendanceLog() ([]zkdevice.Attendance, error) { return f.records, f.err }
func (f *fakeSession) Disconnect() error {
	f.disconnected = true
	return nil
}

func newTestCoordinator(t *testing.T, cfg *ledger.SyncConfig) (*Coordinator, *ledger.MemoryStore, *lease.MemoryStore, *fakeSource) {
	t.Helper()
	store := ledger.NewMemoryStore()
	store.AddEmployee(ledger.Employee{Name: "HR-EMP-00001", Code: "E001"})
	store.AddEmployee(ledger.Employee{Name: "HR-EMP-00002", Code: "E002"})
	require.NoError(t, store.Put(context.Background(), cfg))

	leases := lease.NewMemoryStore()
	leases.Now = func() time.Time { return testNow }

	source := &fakeSource{}
	coord := NewCoordinator(store, leases, quietLogger())
	coord.Now = func() time.Time { return testNow }
	coord.NewTransactionSource = func(*ledger.SyncConfig) (TransactionSource, error) {
		return source, nil
	}
	return coord, store, leases, source
}

func apiConfig() *ledger.SyncConfig {
	return &ledger.SyncConfig{
		ServerIP:   "biotime.example.com",
		ServerPort: 8081,
		Token:      "secret",
		EnableSync: true,
	}
}

func TestCoordinator_APIRun(t *testing.T) {
	coord, store, _, source := newTestCoordinator(t, apiConfig())
	source.txns = []punch.Raw{
		{"emp_code": "E001", "punch_time": punch.FormatTime(testNow.Add(-30 * time.Minute)), "punch_state": "0"},
		{"emp_code": "E002", "punch_time": punch.FormatTime(testNow.Add(-20 * time.Minute)), "punch_state": "1"},
	}

	summary, err := coord.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, "api", summary.Mode)
	assert.False(t, summary.Skipped)
	assert.Equal(t, 2, summary.Fetched)
	assert.Equal(t, 2, summary.Inserted)
	assert.NotEmpty(t, summary.RunID)

	// First run with no watermark reaches back one hour.
	assert.True(t, source.start.Equal(testNow.Add(-time.Hour)))
	assert.True(t, source.end.Equal(testNow))

	cfg, err := store.Get(context.Background())
	require.NoError(t, err)
	require.NotNil(t, cfg.LastSync)
	assert.True(t, cfg.LastSync.Equal(testNow))
	assert.EqualValues(t, 2, cfg.TotalSynced)
}

func TestCoordinator_CounterCountsOnlyNewInserts(t *testing.T) {
	coord, store, _, source := newTestCoordinator(t, apiConfig())
	source.txns = []punch.Raw{
		{"emp_code": "E001", "punch_time": punch.FormatTime(testNow.Add(-30 * time.Minute))},
	}

	_, err := coord.Run(context.Background())
	require.NoError(t, err)

	// Same transaction again: a duplicate, so the counter stays put.
	_, err = coord.Run(context.Background())
	require.NoError(t, err)

	cfg, _ := store.Get(context.Background())
	assert.EqualValues(t, 1, cfg.TotalSynced)
	assert.Len(t, store.Checkins(), 1)
}

func TestCoordinator_WindowStartsAtWatermark(t *testing.T) {
	cfg := apiConfig()
	watermark := testNow.Add(-7 * time.Minute)
	coord, store, _, source := newTestCoordinator(t, cfg)
	require.NoError(t, store.Advance(context.Background(), watermark, 0))

	_, err := coord.Run(context.Background())
	require.NoError(t, err)

	assert.True(t, source.start.Equal(watermark))
	assert.True(t, source.end.Equal(testNow))
}

func TestCoordinator_SkipsWhenLockHeld(t *testing.T) {
	coord, _, leases, source := newTestCoordinator(t, apiConfig())

	held, err := leases.Acquire(context.Background(), lease.APISyncLock, lease.RunLockTTL)
	require.NoError(t, err)
	require.True(t, held)

	summary, err := coord.Run(context.Background())
	require.NoError(t, err)
	assert.True(t, summary.Skipped)
	assert.Equal(t, 0, source.calls)
}

func TestCoordinator_ReleasesLockAfterRun(t *testing.T) {
	coord, _, leases, _ := newTestCoordinator(t, apiConfig())

	_, err := coord.Run(context.Background())
	require.NoError(t, err)

	ok, err := leases.Acquire(context.Background(), lease.APISyncLock, lease.RunLockTTL)
	require.NoError(t, err)
	assert.True(t, ok, "lease must be free once the run finishes")
}

func TestCoordinator_DisabledSync(t *testing.T) {
	cfg := apiConfig()
	cfg.EnableSync = false
	coord, _, leases, source := newTestCoordinator(t, cfg)

	_, err := coord.Run(context.Background())
	assert.ErrorIs(t, err, ErrSyncDisabled)
	assert.Equal(t, 0, source.calls)

	// Even a refused run must not leave the lease held.
	ok, _ := leases.Acquire(context.Background(), lease.APISyncLock, lease.RunLockTTL)
	assert.True(t, ok)
}

func TestCoordinator_MissingToken(t *testing.T) {
	cfg := apiConfig()
	cfg.Token = ""
	coord, store, _, _ := newTestCoordinator(t, cfg)

	_, err := coord.Run(context.Background())
	assert.ErrorIs(t, err, ErrTokenMissing)

	got, _ := store.Get(context.Background())
	assert.Nil(t, got.LastSync, "a refused run must not advance the watermark")
}

func TestCoordinator_PartialFetchStillIngestsAndAdvances(t *testing.T) {
	coord, store, _, source := newTestCoordinator(t, apiConfig())
	source.txns = []punch.Raw{
		{"emp_code": "E001", "punch_time": punch.FormatTime(testNow.Add(-30 * time.Minute))},
	}
	source.err = errors.New("page 3: connection reset")

	summary, err := coord.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Inserted)

	cfg, _ := store.Get(context.Background())
	require.NotNil(t, cfg.LastSync)
	assert.True(t, cfg.LastSync.Equal(testNow))
}

func TestCoordinator_EmptyWindowStillAdvances(t *testing.T) {
	coord, store, _, _ := newTestCoordinator(t, apiConfig())

	summary, err := coord.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, summary.Fetched)

	cfg, _ := store.Get(context.Background())
	require.NotNil(t, cfg.LastSync)
	assert.True(t, cfg.LastSync.Equal(testNow))
}

func deviceConfig() *ledger.SyncConfig {
	return &ledger.SyncConfig{
		ServerIP:   "10.0.0.5",
		ServerPort: zkdevice.DefaultPort,
		EnableSync: true,
	}
}

func TestCoordinator_DeviceRun(t *testing.T) {
	coord, store, _, source := newTestCoordinator(t, deviceConfig())
	session := &fakeSession{records: []zkdevice.Attendance{
		{UserID: "E001", Timestamp: testNow.Add(-15 * time.Minute), Punch: 0},
		{UserID: "E002", Timestamp: testNow.Add(-14 * time.Minute), Punch: 1},
	}}
	coord.NewDeviceSession = func(*ledger.SyncConfig) (DeviceSession, error) {
		return session, nil
	}

	summary, err := coord.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, "device", summary.Mode)
	assert.Equal(t, 2, summary.Inserted)
	assert.True(t, session.disconnected)
	assert.Equal(t, 0, source.calls, "device mode must not touch the API")

	checkins := store.Checkins()
	require.Len(t, checkins, 2)
	assert.Equal(t, "10.0.0.5:4370", checkins[0].DeviceID)

	cfg, _ := store.Get(context.Background())
	require.NotNil(t, cfg.LastSync)
	assert.True(t, cfg.LastSync.Equal(testNow))
}

func TestCoordinator_DeviceReadFailureKeepsWatermark(t *testing.T) {
	coord, store, leases, _ := newTestCoordinator(t, deviceConfig())
	coord.NewDeviceSession = func(*ledger.SyncConfig) (DeviceSession, error) {
		return &fakeSession{err: errors.New("read timeout")}, nil
	}

	_, err := coord.Run(context.Background())
	require.Error(t, err)

	cfg, _ := store.Get(context.Background())
	assert.Nil(t, cfg.LastSync)

	ok, _ := leases.Acquire(context.Background(), lease.DeviceSyncLock, lease.RunLockTTL)
	assert.True(t, ok, "lease must be released on failure")
}

func TestCoordinator_DeviceDialFailure(t *testing.T) {
	coord, _, _, _ := newTestCoordinator(t, deviceConfig())
	coord.NewDeviceSession = func(*ledger.SyncConfig) (DeviceSession, error) {
		return nil, errors.New("connection refused")
	}

	_, err := coord.Run(context.Background())
	assert.ErrorContains(t, err, "connection refused")
}

func TestCoordinator_TickRespectsDisable(t *testing.T) {
	cfg := apiConfig()
	cfg.EnableSync = false
	coord, _, _, source := newTestCoordinator(t, cfg)

	coord.Tick(context.Background())
	assert.Equal(t, 0, source.calls)
}

func TestCoordinator_TickRuns(t *testing.T) {
	coord, store, _, source := newTestCoordinator(t, apiConfig())

	coord.Tick(context.Background())
	assert.Equal(t, 1, source.calls)

	cfg, _ := store.Get(context.Background())
	require.NotNil(t, cfg.LastSync)
}
