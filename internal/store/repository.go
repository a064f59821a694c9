/**
 * @description
 * This file defines the `Repository` interface, which specifies the contract for
 * all persistence operations required by the escrow-service. The interface
 * decouples the escrow core from the storage implementation (PostgreSQL in
 * production, in-memory in tests and degraded bootstrap), keeping the core
 * written against a generic keyed store with strong consistency.
 *
 * The mutation methods suffixed `Atomic` commit every write of one escrow
 * operation in a single transaction, so an operation either fully commits or
 * leaves no trace. The core stages all fallible work (validation, the external
 * value transfer) before calling them.
 *
 * @dependencies
 * - context, time: Standard Go libraries.
 * - internal/domain: For the service's domain models.
 */

package store

import (
	"context"
	"errors"
	"time"

	"github.com/swiftremit/escrow-service/internal/domain"
)

var (
	ErrConfigNotFound       = errors.New("platform config not found")
	ErrConfigAlreadyExists  = errors.New("platform config already exists")
	ErrRemittanceNotFound   = errors.New("remittance not found")
	ErrRemittanceNotPending = errors.New("remittance is not pending")
	ErrInsufficientCustody  = errors.New("custody balance below requested debit")
	ErrInsufficientAccrual  = errors.New("accumulated fees below requested withdrawal")
)

// Repository defines the set of methods for interacting with persistent state.
type Repository interface {
	// Platform config singleton
	GetPlatformConfig(ctx context.Context) (*domain.PlatformConfig, error)
	CreatePlatformConfig(ctx context.Context, cfg *domain.PlatformConfig) error
	UpdateFeeBps(ctx context.Context, feeBps int64) error
	UpdateDailyLimit(ctx context.Context, limit int64) error

	// Agent registry. Add and Remove are idempotent: repeating either with the
	// same address is a successful no-op.
	AddAgent(ctx context.Context, agent string) error
	RemoveAgent(ctx context.Context, agent string) error
	IsAgentRegistered(ctx context.Context, agent string) (bool, error)

	// Remittance ledger. CreateRemittanceAtomic allocates the next sequence id
	// (strictly increasing from 1, never reused), inserts the pending record,
	// and credits the custody pool with the principal in one transaction.
	CreateRemittanceAtomic(ctx context.Context, r *domain.Remittance) (int64, error)
	GetRemittance(ctx context.Context, id int64) (*domain.Remittance, error)
	// CompleteRemittanceAtomic moves pending -> completed, accrues the fee, and
	// debits the payout from custody. Fails with ErrRemittanceNotPending if the
	// row is already terminal.
	CompleteRemittanceAtomic(ctx context.Context, id int64, fee, payout int64) error
	// CancelRemittanceAtomic moves pending -> cancelled and debits the full
	// principal from custody.
	CancelRemittanceAtomic(ctx context.Context, id int64, principal int64) error

	// Fee accumulator and custody pool
	GetAccumulatedFees(ctx context.Context) (int64, error)
	// WithdrawFeesAtomic deducts the withdrawn amount from both the accumulator
	// and the custody pool.
	WithdrawFeesAtomic(ctx context.Context, amount int64) error
	GetCustodyBalance(ctx context.Context) (int64, error)
	SumPendingPrincipal(ctx context.Context) (int64, error)

	// Daily send limit window
	SumSenderPrincipalSince(ctx context.Context, sender string, since time.Time) (int64, error)
}
