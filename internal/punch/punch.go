// Package punch models raw punch events as they arrive from ZKTeco
// sources and classifies their direction.
//
// The BioTime API and the device firmware populate fields
// inconsistently across models, so a raw punch is kept as a loose
// key/value record until the ingestor normalizes it.
package punch

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Raw represents a single punch transaction as key-value pairs.
type Raw = map[string]any

// TimeLayout is the naive local timestamp format used by the BioTime
// API for both query windows and punch_time values.
const TimeLayout = "2006-01-02 15:04:05"

// =============================================================================
// FIELD ACCESS
// =============================================================================

// String returns the named field as a trimmed string, or "" if the
// field is absent or not representable as a string.
func String(fields Raw, key string) string {
	val, ok := fields[key]
	if !ok || val == nil {
		return ""
	}
	switch v := val.(type) {
	case string:
		return strings.TrimSpace(v)
	case float64:
		// JSON numbers decode as float64; ids are integral in practice.
		if v == float64(int64(v)) {
			return strconv.FormatInt(int64(v), 10)
		}
		return strconv.FormatFloat(v, 'f', -1, 64)
	case int:
		return strconv.Itoa(v)
	case int64:
		return strconv.FormatInt(v, 10)
	case bool:
		return strconv.FormatBool(v)
	default:
		return strings.TrimSpace(fmt.Sprintf("%v", v))
	}
}

// Int returns the named field parsed as an integer. The second return
// value reports whether the parse succeeded.
func Int(fields Raw, key string) (int, bool) {
	val, ok := fields[key]
	if !ok || val == nil {
		return 0, false
	}
	return asInt(val)
}

func asInt(val any) (int, bool) {
	switch v := val.(type) {
	case int:
		return v, true
	case int64:
		return int(v), true
	case float64:
		if v != float64(int64(v)) {
			return 0, false
		}
		return int(v), true
	case string:
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return 0, false
		}
		return n, true
	default:
		return 0, false
	}
}

// EmpCode returns the subject (employee) code of a raw transaction.
func EmpCode(fields Raw) string {
	return String(fields, "emp_code")
}

// SourceID returns the source-assigned unique id, if any.
func SourceID(fields Raw) string {
	return String(fields, "id")
}

// DeviceAlias returns the originating device identifier, preferring
// the terminal alias over the serial number.
func DeviceAlias(fields Raw) string {
	if alias := String(fields, "terminal_alias"); alias != "" {
		return alias
	}
	return String(fields, "terminal_sn")
}

// PunchTime parses the punch_time field. It accepts the BioTime naive
// layout first and falls back to RFC 3339 for servers that return
// timezone-qualified timestamps.
func PunchTime(fields Raw) (time.Time, error) {
	raw := String(fields, "punch_time")
	if raw == "" {
		return time.Time{}, fmt.Errorf("punch_time missing")
	}
	return ParseTime(raw)
}

// ParseTime parses a punch timestamp string.
func ParseTime(raw string) (time.Time, error) {
	if t, err := time.ParseInLocation(TimeLayout, raw, time.Local); err == nil {
		return t, nil
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t, nil
	}
	return time.Time{}, fmt.Errorf("unparseable punch time %q", raw)
}

// FormatTime renders a timestamp in the BioTime naive layout.
func FormatTime(t time.Time) string {
	return t.Format(TimeLayout)
}
