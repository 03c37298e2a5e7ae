// Package errs defines the daemon's error-kind enumeration (spec §7) as
// sentinel errors. Components wrap a sentinel with fmt.Errorf("...: %w",
// Sentinel) and callers discriminate with errors.Is.
package errs

import "errors"

var (
	// ErrPrivilegeDenied: startup only, fatal.
	ErrPrivilegeDenied = errors.New("privilege denied")
	// ErrConfigInvalid: startup only, fatal.
	ErrConfigInvalid = errors.New("configuration invalid")
	// ErrStoreUnavailable: fatal at startup, logged-and-retried from the heartbeat.
	ErrStoreUnavailable = errors.New("store unavailable")
	// ErrStoreBusy: store serialization timed out.
	ErrStoreBusy = errors.New("store busy")
	// ErrFirewallUnavailable: firewall tool missing or returned nonzero on create/link.
	ErrFirewallUnavailable = errors.New("firewall unavailable")
	// ErrModuleInvalid: a single module descriptor was rejected; startup continues.
	ErrModuleInvalid = errors.New("module invalid")
	// ErrTailerFailed: a follower died; its worker exits.
	ErrTailerFailed = errors.New("tailer failed")
	// ErrHQUnavailable: transport-level failure talking to HQ (timeout, connection
	// error, 404/503, or an undecodable body). The caller retries next heartbeat.
	ErrHQUnavailable = errors.New("hq unavailable")
	// ErrHQRejected: HQ replied with its own error envelope (error: true). The
	// caller does not retry, to avoid poisoning the report queue.
	ErrHQRejected = errors.New("hq rejected report")
)
