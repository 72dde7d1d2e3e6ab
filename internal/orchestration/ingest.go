package orchestration

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/deliverydevs/punchsync/internal/connector/zkdevice"
	"github.com/deliverydevs/punchsync/internal/ledger"
	"github.com/deliverydevs/punchsync/internal/punch"
)

// =============================================================================
// DEDUPLICATING INGESTOR
// =============================================================================

const (
	// futureSkew is the maximum tolerated clock drift. Punches further
	// in the future than this are rejected as corrupt timestamps.
	futureSkew = 5 * time.Minute

	// staleAfter is the retention horizon. Punches older than this are
	// historical backfill noise and are skipped without complaint.
	staleAfter = 90 * 24 * time.Hour

	// fallbackDeviceAlias labels punches whose source reported no
	// device identity at all.
	fallbackDeviceAlias = "ZKTeco Device"
)

// Ingestor validates punch records and writes them to the ledger
// exactly once. A batch never aborts: each record gets its own Result
// and a bad record only affects itself.
type Ingestor struct {
	Directory ledger.EmployeeDirectory
	Checkins  ledger.CheckinStore
	Log       *logrus.Logger

	// Now is the clock used by the future/stale guards; tests pin it.
	Now func() time.Time
}

func (ing *Ingestor) now() time.Time {
	if ing.Now != nil {
		return ing.Now()
	}
	return time.Now()
}

func (ing *Ingestor) log() *logrus.Logger {
	if ing.Log != nil {
		return ing.Log
	}
	return logrus.StandardLogger()
}

// IngestTransactions processes a batch of REST API transactions.
func (ing *Ingestor) IngestTransactions(ctx context.Context, txns []punch.Raw) *Report {
	report := &Report{}
	for _, txn := range txns {
		res := ing.ingestTransaction(ctx, txn)
		report.add(res)
		ing.logResult(res)
	}
	return report
}

func (ing *Ingestor) ingestTransaction(ctx context.Context, txn punch.Raw) Result {
	empCode := punch.EmpCode(txn)
	if empCode == "" {
		return Result{Outcome: OutcomeRejected, Err: fmt.Errorf("transaction has no emp_code")}
	}
	punchTime, err := punch.PunchTime(txn)
	if err != nil {
		return Result{Outcome: OutcomeRejected, EmpCode: empCode, Err: err}
	}
	return ing.ingestOne(ctx, empCode, punchTime, punch.Direction(txn), apiDeviceID(txn))
}

// IngestAttendance processes a batch of records read straight off a
// device. deviceID identifies the device, conventionally "ip:port".
func (ing *Ingestor) IngestAttendance(ctx context.Context, records []zkdevice.Attendance, deviceID string) *Report {
	report := &Report{}
	for _, rec := range records {
		res := ing.ingestAttendance(ctx, rec, deviceID)
		report.add(res)
		ing.logResult(res)
	}
	return report
}

func (ing *Ingestor) ingestAttendance(ctx context.Context, rec zkdevice.Attendance, deviceID string) Result {
	empCode := strings.TrimSpace(rec.UserID)
	if empCode == "" {
		return Result{Outcome: OutcomeRejected, Err: fmt.Errorf("attendance record has no user id")}
	}
	if rec.Timestamp.IsZero() {
		return Result{Outcome: OutcomeRejected, EmpCode: empCode, Err: fmt.Errorf("attendance record has no timestamp")}
	}
	return ing.ingestOne(ctx, empCode, rec.Timestamp, punch.DirectionFromFlag(rec.Punch), deviceID)
}

// ingestOne is the shared per-record pipeline: resolve the employee,
// apply the time guards, then check-then-insert.
func (ing *Ingestor) ingestOne(ctx context.Context, empCode string, punchTime time.Time, logType, deviceID string) Result {
	res := Result{EmpCode: empCode, Time: punchTime, LogType: logType, DeviceID: deviceID}

	employee, err := ing.Directory.FindByCode(ctx, empCode)
	if err != nil {
		res.Outcome = OutcomeRejected
		res.Err = fmt.Errorf("employee lookup %q: %w", empCode, err)
		return res
	}
	if employee == "" {
		res.Outcome = OutcomeRejected
		res.Err = fmt.Errorf("no employee for code %q", empCode)
		return res
	}

	now := ing.now()
	if punchTime.After(now.Add(futureSkew)) {
		res.Outcome = OutcomeRejected
		res.Err = fmt.Errorf("punch time %s is in the future", punch.FormatTime(punchTime))
		return res
	}
	if punchTime.Before(now.Add(-staleAfter)) {
		res.Outcome = OutcomeStale
		return res
	}

	checkin := ledger.Checkin{
		Employee: employee,
		Time:     punchTime,
		LogType:  logType,
		DeviceID: deviceID,
	}
	exists, err := ing.Checkins.Exists(ctx, checkin)
	if err != nil {
		res.Outcome = OutcomeRejected
		res.Err = fmt.Errorf("checkin lookup: %w", err)
		return res
	}
	if exists {
		res.Outcome = OutcomeDuplicate
		return res
	}
	if err := ing.Checkins.Insert(ctx, checkin); err != nil {
		res.Outcome = OutcomeRejected
		res.Err = fmt.Errorf("checkin insert: %w", err)
		return res
	}
	res.Outcome = OutcomeInserted
	return res
}

func (ing *Ingestor) logResult(res Result) {
	switch res.Outcome {
	case OutcomeRejected:
		ing.log().WithFields(logrus.Fields{
			"emp_code": res.EmpCode,
			"error":    res.Err,
		}).Warn("punch rejected")
	case OutcomeStale:
		ing.log().WithFields(logrus.Fields{
			"emp_code":   res.EmpCode,
			"punch_time": res.Time,
		}).Debug("stale punch skipped")
	}
}

// apiDeviceID renders the device identity of an API transaction:
// "{alias} (Source-{id})" when the source assigned the record an id,
// the bare alias otherwise.
func apiDeviceID(txn punch.Raw) string {
	alias := punch.DeviceAlias(txn)
	if alias == "" {
		alias = fallbackDeviceAlias
	}
	if id := punch.SourceID(txn); id != "" {
		return fmt.Sprintf("%s (Source-%s)", alias, id)
	}
	return alias
}
