package orchestration

import "time"

// =============================================================================
// PER-RECORD RESULTS
// =============================================================================

// Outcome classifies what happened to one record during ingestion.
type Outcome int

const (
	// OutcomeInserted: a new checkin row was created.
	OutcomeInserted Outcome = iota

	// OutcomeDuplicate: an equivalent checkin already existed. This is
	// a success, not an error: re-feeding the same record is a no-op.
	OutcomeDuplicate

	// OutcomeStale: the punch is older than the retention window and
	// was skipped silently.
	OutcomeStale

	// OutcomeRejected: the record failed validation or processing and
	// was skipped. Rejected records are not retried.
	OutcomeRejected
)

func (o Outcome) String() string {
	switch o {
	case OutcomeInserted:
		return "inserted"
	case OutcomeDuplicate:
		return "duplicate"
	case OutcomeStale:
		return "stale"
	case OutcomeRejected:
		return "rejected"
	default:
		return "unknown"
	}
}

// Result is the outcome of ingesting one punch record.
type Result struct {
	Outcome  Outcome
	EmpCode  string
	Time     time.Time
	LogType  string
	DeviceID string
	Err      error
}

// Report aggregates the per-record results of one ingestion batch.
// Counts are derived from the result list rather than kept as
// side-effecting counters.
type Report struct {
	Results []Result
}

func (r *Report) add(res Result) {
	r.Results = append(r.Results, res)
}

// Count returns the number of results with the given outcome.
func (r *Report) Count(outcome Outcome) int {
	n := 0
	for _, res := range r.Results {
		if res.Outcome == outcome {
			n++
		}
	}
	return n
}

// Inserted is the number of newly-created checkins. Only these advance
// the cumulative sync counter.
func (r *Report) Inserted() int { return r.Count(OutcomeInserted) }

// Duplicates is the number of records already on ledger.
func (r *Report) Duplicates() int { return r.Count(OutcomeDuplicate) }

// Stale is the number of records skipped by the retention guard.
func (r *Report) Stale() int { return r.Count(OutcomeStale) }

// Rejected is the number of records that failed validation or
// processing.
func (r *Report) Rejected() int { return r.Count(OutcomeRejected) }

// Processed is the total number of records examined.
func (r *Report) Processed() int { return len(r.Results) }
