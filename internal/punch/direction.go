package punch

import "strings"

// Directions recognized by the classifier.
const (
	DirectionIn  = "IN"
	DirectionOut = "OUT"
)

// Localized punch_state_display variants observed in the field
// (Urdu locale firmware).
const (
	displayOutUrdu = "چیک آؤٹ"
	displayInUrdu  = "چیک ان"
)

// Direction classifies a raw punch as IN or OUT.
//
// Device firmware populates direction fields inconsistently across
// models, so the rules are tried in priority order and the first one
// that applies wins. A parse failure on one rule falls through to the
// next. The function is total: it always returns IN or OUT.
func Direction(fields Raw) string {
	// 1. Numeric punch_state.
	if state, ok := Int(fields, "punch_state"); ok {
		if state == 1 {
			return DirectionOut
		}
		return DirectionIn
	}

	// 2. Textual punch_state_display, including localized variants.
	// The OUT check runs first: "check out" contains neither in-token.
	if display := strings.ToLower(String(fields, "punch_state_display")); display != "" {
		if strings.Contains(display, "out") || strings.Contains(display, displayOutUrdu) {
			return DirectionOut
		}
		if strings.Contains(display, "in") || strings.Contains(display, displayInUrdu) {
			return DirectionIn
		}
	}

	// 3. Explicit log_type tag.
	switch strings.ToUpper(String(fields, "log_type")) {
	case DirectionIn:
		return DirectionIn
	case DirectionOut:
		return DirectionOut
	}

	// 4. Device-native punch flag.
	if flag, ok := Int(fields, "punch"); ok {
		if flag == 1 {
			return DirectionOut
		}
		return DirectionIn
	}

	// 5. Default.
	return DirectionIn
}

// DirectionFromFlag classifies a device-native punch flag, used for
// attendance records read directly off the device buffer.
func DirectionFromFlag(flag int) string {
	if flag == 1 {
		return DirectionOut
	}
	return DirectionIn
}
