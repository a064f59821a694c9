/**
 * @description
 * This file defines the business error taxonomy surfaced by the escrow core.
 * Every error aborts its operation with no partial state change; the API layer
 * maps these sentinels onto HTTP status codes. Not-found conditions come from
 * the store package (store.ErrRemittanceNotFound) so the repository keeps
 * ownership of data-level errors, matching the split used elsewhere in the
 * codebase.
 */

package app

import "errors"

var (
	// ErrAlreadyInitialized is returned when initialize is called after the
	// platform config has been persisted. Initialization succeeds exactly once.
	ErrAlreadyInitialized = errors.New("platform already initialized")

	// ErrNotInitialized is returned by any mutating operation that runs before
	// initialize has created the platform config.
	ErrNotInitialized = errors.New("platform not initialized")

	// ErrInvalidConfiguration is returned for a fee rate outside 0-10000 bps or
	// other malformed configuration input.
	ErrInvalidConfiguration = errors.New("invalid platform configuration")

	// ErrInvalidAmount is returned for a principal of zero or less.
	ErrInvalidAmount = errors.New("principal must be positive")

	// ErrAgentNotRegistered is returned when a remittance names an agent absent
	// from the registry.
	ErrAgentNotRegistered = errors.New("agent is not registered")

	// ErrUnauthorized is returned when the caller's proven identity does not
	// match the identity the operation requires.
	ErrUnauthorized = errors.New("caller identity does not match required identity")

	// ErrInvalidStatus is returned when a terminal transition is attempted on a
	// remittance that is not pending.
	ErrInvalidStatus = errors.New("remittance is not in a pending state")

	// ErrOverflow is returned when fee or limit arithmetic cannot be
	// represented in int64. The operation rejects rather than truncating.
	ErrOverflow = errors.New("amount arithmetic overflows")

	// ErrTransferFailed wraps a decline from the value-transfer collaborator.
	// On confirm and cancel the condition is recoverable: the remittance stays
	// pending and the call may be retried.
	ErrTransferFailed = errors.New("value transfer failed")

	// ErrDailySendLimitExceeded is returned when a new remittance would push the
	// sender's rolling 24-hour volume over the configured daily limit.
	ErrDailySendLimitExceeded = errors.New("daily send limit exceeded")
)
