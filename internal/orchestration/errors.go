package orchestration

import "errors"

var (
	// ErrSyncDisabled is returned when a run is attempted while sync is
	// administratively disabled.
	ErrSyncDisabled = errors.New("sync is disabled in configuration")

	// ErrTokenMissing is returned when API mode has no access token to
	// authenticate with.
	ErrTokenMissing = errors.New("no API token configured")
)
