// Package ledger is the host HR system collaborator: employee lookup,
// checkin existence/insert, and the persisted sync configuration
// singleton. The ingestion pipeline treats it as a synchronous store.
package ledger

import (
	"context"
	"time"

	"github.com/deliverydevs/punchsync/internal/connector/zkdevice"
)

// =============================================================================
// TYPES
// =============================================================================

// Employee is a ledger employee row. Code is the primary employee
// identifier; UserID and DeviceID are alternate identifiers a device
// may report instead.
type Employee struct {
	Name     string // ledger document name / primary key
	Code     string // employee code
	UserID   string // external user id
	DeviceID string // attendance device id
}

// Checkin is one persisted punch. Uniqueness over (Employee, Time,
// LogType, DeviceID) is an application invariant enforced by
// check-then-insert, not a storage constraint.
type Checkin struct {
	Employee string
	Time     time.Time
	LogType  string // IN | OUT
	DeviceID string
}

// SyncConfig is the persisted configuration singleton. The run
// coordinator mutates only LastSync and TotalSynced; everything else
// is operator-managed.
type SyncConfig struct {
	ServerIP        string
	ServerPort      int
	Username        string
	Password        string
	Token           string
	EnableSync      bool
	IntervalSeconds int
	LastSync        *time.Time
	TotalSynced     int64
}

// DefaultIntervalSeconds applies when no interval is configured.
const DefaultIntervalSeconds = 300

// Interval returns the configured sync cadence.
func (c *SyncConfig) Interval() time.Duration {
	secs := c.IntervalSeconds
	if secs <= 0 {
		secs = DefaultIntervalSeconds
	}
	return time.Duration(secs) * time.Second
}

// DeviceMode reports whether the configured port selects the direct
// device protocol instead of the REST API.
func (c *SyncConfig) DeviceMode() bool {
	return c.ServerPort == zkdevice.DefaultPort
}

// =============================================================================
// STORE INTERFACES
// =============================================================================

// EmployeeDirectory resolves device-reported subject codes to ledger
// employees.
type EmployeeDirectory interface {
	// FindByCode tries the employee code, then the external user id,
	// then the attendance device id. Returns "" (and no error) when
	// nothing matches.
	FindByCode(ctx context.Context, code string) (string, error)
}

// CheckinStore persists punches.
type CheckinStore interface {
	// Exists reports whether an exactly-matching checkin is already
	// recorded.
	Exists(ctx context.Context, c Checkin) (bool, error)

	// Insert records a new checkin. Attendance derivation is not
	// triggered; this pipeline records raw punches only.
	Insert(ctx context.Context, c Checkin) error
}

// ConfigStore persists the SyncConfig singleton.
type ConfigStore interface {
	// Get returns the current configuration, or a default-valued
	// config when none has been stored yet.
	Get(ctx context.Context) (*SyncConfig, error)

	// Put replaces the stored configuration, preserving the sync
	// state (watermark, counter) already on record.
	Put(ctx context.Context, cfg *SyncConfig) error

	// Advance moves the watermark and adds newly-inserted records to
	// the cumulative counter in one update.
	Advance(ctx context.Context, watermark time.Time, added int64) error
}

// Store bundles the three collaborator roles a full ledger backend
// provides.
type Store interface {
	EmployeeDirectory
	CheckinStore
	ConfigStore
	Close() error
}
