// Package service holds the loyalty core: the visit state machine and its
// quarantine gate, the ledger updater, bulk moderation, reward redemption and
// the automation dedup scheduler.  It talks to storage only through the
// repository interfaces.
package service

import "errors"

var (
	// ErrValidation marks a malformed request; nothing was written.
	ErrValidation = errors.New("validation failed")
	// ErrForbidden marks a caller that does not own the merchant.
	ErrForbidden = errors.New("forbidden")
	// ErrNotFound marks a missing, foreign or already moderated target.  It
	// usually means another moderator handled the visit first.
	ErrNotFound = errors.New("not found")
	// ErrPersistence marks a failed write.  Any partial effect has been
	// compensated before it is returned.
	ErrPersistence = errors.New("persistence failure")
	// ErrNotReady is returned when redeeming a reward that is not available.
	ErrNotReady = errors.New("reward not ready")
	// ErrSweepRunning is returned when another automation sweep holds the lock.
	ErrSweepRunning = errors.New("automation sweep already running")
)
