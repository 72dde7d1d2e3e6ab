// Package http provides the shared HTTP plumbing for remote punch
// sources: a rate-limited client with fixed timeouts and pluggable
// authentication strategies.
//
// Requests are deliberately not retried. A failed call ends the fetch
// attempt; the next scheduled sync run is the retry mechanism.
package http
