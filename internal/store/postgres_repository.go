/**
 * @description
 * This file provides the PostgreSQL implementation of the `Repository` interface.
 * It contains all the SQL needed for the platform config singleton, the agent
 * registry, the remittance ledger, the fee accumulator, and the pooled custody
 * balance.
 *
 * The fee accumulator and custody balance live in a single-row `escrow_totals`
 * table; every Atomic method updates it inside the same transaction that flips
 * the remittance status, which is what makes the conservation invariant hold
 * across crashes.
 *
 * @dependencies
 * - context, errors, fmt, time: Standard Go libraries.
 * - github.com/jackc/pgx/v5: The PostgreSQL driver for database operations.
 * - internal/domain: Contains the domain models used for data transfer.
 */

package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/swiftremit/escrow-service/internal/domain"
)

// PostgresRepository is a concrete implementation of the Repository interface for PostgreSQL.
type PostgresRepository struct {
	db *pgxpool.Pool
}

// NewPostgresRepository creates a new instance of PostgresRepository.
func NewPostgresRepository(db *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// GetPlatformConfig loads the config singleton.
func (r *PostgresRepository) GetPlatformConfig(ctx context.Context) (*domain.PlatformConfig, error) {
	var cfg domain.PlatformConfig
	query := `
		SELECT admin, settlement_asset, custody_account, fee_bps, daily_limit, initialized, created_at, updated_at
		FROM platform_config
		WHERE id = 1
	`
	err := r.db.QueryRow(ctx, query).Scan(
		&cfg.Admin, &cfg.SettlementAsset, &cfg.CustodyAccount,
		&cfg.FeeBps, &cfg.DailyLimit, &cfg.Initialized, &cfg.CreatedAt, &cfg.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrConfigNotFound
		}
		return nil, err
	}
	return &cfg, nil
}

// CreatePlatformConfig persists the config singleton exactly once. A second
// call fails with ErrConfigAlreadyExists and leaves the original row untouched.
func (r *PostgresRepository) CreatePlatformConfig(ctx context.Context, cfg *domain.PlatformConfig) error {
	query := `
		INSERT INTO platform_config (id, admin, settlement_asset, custody_account, fee_bps, daily_limit, initialized, created_at, updated_at)
		VALUES (1, $1, $2, $3, $4, $5, TRUE, NOW(), NOW())
		ON CONFLICT (id) DO NOTHING
	`
	tag, err := r.db.Exec(ctx, query, cfg.Admin, cfg.SettlementAsset, cfg.CustodyAccount, cfg.FeeBps, cfg.DailyLimit)
	if err != nil {
		return fmt.Errorf("failed to insert platform config: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrConfigAlreadyExists
	}
	// Seed the totals row alongside the config so later arithmetic updates
	// never have to upsert.
	_, err = r.db.Exec(ctx, `
		INSERT INTO escrow_totals (id, custody_balance, accumulated_fees)
		VALUES (1, 0, 0)
		ON CONFLICT (id) DO NOTHING
	`)
	if err != nil {
		return fmt.Errorf("failed to seed escrow totals: %w", err)
	}
	return nil
}

// UpdateFeeBps replaces the platform fee rate. Existing remittances keep the
// fee snapshotted at their creation.
func (r *PostgresRepository) UpdateFeeBps(ctx context.Context, feeBps int64) error {
	tag, err := r.db.Exec(ctx, `UPDATE platform_config SET fee_bps = $1, updated_at = NOW() WHERE id = 1`, feeBps)
	if err != nil {
		return fmt.Errorf("failed to update fee bps: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrConfigNotFound
	}
	return nil
}

// UpdateDailyLimit replaces the per-sender rolling daily send limit.
func (r *PostgresRepository) UpdateDailyLimit(ctx context.Context, limit int64) error {
	tag, err := r.db.Exec(ctx, `UPDATE platform_config SET daily_limit = $1, updated_at = NOW() WHERE id = 1`, limit)
	if err != nil {
		return fmt.Errorf("failed to update daily limit: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrConfigNotFound
	}
	return nil
}

// AddAgent inserts an agent address into the registry. Re-adding is a no-op.
func (r *PostgresRepository) AddAgent(ctx context.Context, agent string) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO agents (address, registered_at)
		VALUES ($1, NOW())
		ON CONFLICT (address) DO NOTHING
	`, agent)
	if err != nil {
		return fmt.Errorf("failed to register agent: %w", err)
	}
	return nil
}

// RemoveAgent deletes an agent address. Removing an absent agent is a no-op.
func (r *PostgresRepository) RemoveAgent(ctx context.Context, agent string) error {
	_, err := r.db.Exec(ctx, `DELETE FROM agents WHERE address = $1`, agent)
	if err != nil {
		return fmt.Errorf("failed to remove agent: %w", err)
	}
	return nil
}

// IsAgentRegistered reports whether an address is in the registry.
func (r *PostgresRepository) IsAgentRegistered(ctx context.Context, agent string) (bool, error) {
	var registered bool
	err := r.db.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM agents WHERE address = $1)`, agent).Scan(&registered)
	if err != nil {
		return false, err
	}
	return registered, nil
}

// CreateRemittanceAtomic inserts the pending remittance and credits the custody
// pool in one transaction. The BIGSERIAL id column guarantees strictly
// increasing ids in commit order; ids are never reused because rows are never
// deleted.
func (r *PostgresRepository) CreateRemittanceAtomic(ctx context.Context, rem *domain.Remittance) (int64, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	var id int64
	insertQuery := `
		INSERT INTO remittances (sender, agent, principal, fee, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $6)
		RETURNING id
	`
	err = tx.QueryRow(ctx, insertQuery, rem.Sender, rem.Agent, rem.Principal, rem.Fee, rem.Status, rem.CreatedAt).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("failed to insert remittance: %w", err)
	}

	_, err = tx.Exec(ctx, `UPDATE escrow_totals SET custody_balance = custody_balance + $1 WHERE id = 1`, rem.Principal)
	if err != nil {
		return 0, fmt.Errorf("failed to credit custody pool: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("failed to commit remittance creation: %w", err)
	}
	rem.ID = id
	return id, nil
}

// GetRemittance loads one remittance by id.
func (r *PostgresRepository) GetRemittance(ctx context.Context, id int64) (*domain.Remittance, error) {
	var rem domain.Remittance
	query := `
		SELECT id, sender, agent, principal, fee, status, created_at, updated_at
		FROM remittances
		WHERE id = $1
	`
	err := r.db.QueryRow(ctx, query, id).Scan(
		&rem.ID, &rem.Sender, &rem.Agent, &rem.Principal, &rem.Fee, &rem.Status, &rem.CreatedAt, &rem.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrRemittanceNotFound
		}
		return nil, err
	}
	return &rem, nil
}

// CompleteRemittanceAtomic flips pending -> completed, accrues the fee, and
// debits the payout from the custody pool in one transaction.
func (r *PostgresRepository) CompleteRemittanceAtomic(ctx context.Context, id int64, fee, payout int64) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := lockPendingRemittance(ctx, tx, id); err != nil {
		return err
	}

	_, err = tx.Exec(ctx, `UPDATE remittances SET status = $1, updated_at = NOW() WHERE id = $2`, domain.StatusCompleted, id)
	if err != nil {
		return fmt.Errorf("failed to mark remittance completed: %w", err)
	}

	totalsQuery := `
		UPDATE escrow_totals
		SET custody_balance = custody_balance - $1, accumulated_fees = accumulated_fees + $2
		WHERE id = 1 AND custody_balance >= $1
	`
	tag, err := tx.Exec(ctx, totalsQuery, payout, fee)
	if err != nil {
		return fmt.Errorf("failed to settle escrow totals: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrInsufficientCustody
	}

	return tx.Commit(ctx)
}

// CancelRemittanceAtomic flips pending -> cancelled and debits the full
// principal from the custody pool in one transaction.
func (r *PostgresRepository) CancelRemittanceAtomic(ctx context.Context, id int64, principal int64) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := lockPendingRemittance(ctx, tx, id); err != nil {
		return err
	}

	_, err = tx.Exec(ctx, `UPDATE remittances SET status = $1, updated_at = NOW() WHERE id = $2`, domain.StatusCancelled, id)
	if err != nil {
		return fmt.Errorf("failed to mark remittance cancelled: %w", err)
	}

	tag, err := tx.Exec(ctx, `
		UPDATE escrow_totals
		SET custody_balance = custody_balance - $1
		WHERE id = 1 AND custody_balance >= $1
	`, principal)
	if err != nil {
		return fmt.Errorf("failed to debit custody pool: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrInsufficientCustody
	}

	return tx.Commit(ctx)
}

// lockPendingRemittance takes a row lock and validates the status guard shared
// by the two terminal transitions.
func lockPendingRemittance(ctx context.Context, tx pgx.Tx, id int64) error {
	var status domain.RemittanceStatus
	err := tx.QueryRow(ctx, `SELECT status FROM remittances WHERE id = $1 FOR UPDATE`, id).Scan(&status)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrRemittanceNotFound
		}
		return fmt.Errorf("failed to lock remittance: %w", err)
	}
	if status != domain.StatusPending {
		return ErrRemittanceNotPending
	}
	return nil
}

// GetAccumulatedFees returns the current fee accumulator value.
func (r *PostgresRepository) GetAccumulatedFees(ctx context.Context) (int64, error) {
	var fees int64
	err := r.db.QueryRow(ctx, `SELECT accumulated_fees FROM escrow_totals WHERE id = 1`).Scan(&fees)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, nil
		}
		return 0, err
	}
	return fees, nil
}

// WithdrawFeesAtomic deducts a completed withdrawal from the accumulator and
// the custody pool together.
func (r *PostgresRepository) WithdrawFeesAtomic(ctx context.Context, amount int64) error {
	tag, err := r.db.Exec(ctx, `
		UPDATE escrow_totals
		SET accumulated_fees = accumulated_fees - $1, custody_balance = custody_balance - $1
		WHERE id = 1 AND accumulated_fees >= $1 AND custody_balance >= $1
	`, amount)
	if err != nil {
		return fmt.Errorf("failed to withdraw fees: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrInsufficientAccrual
	}
	return nil
}

// GetCustodyBalance returns the tracked pooled custody balance.
func (r *PostgresRepository) GetCustodyBalance(ctx context.Context) (int64, error) {
	var balance int64
	err := r.db.QueryRow(ctx, `SELECT custody_balance FROM escrow_totals WHERE id = 1`).Scan(&balance)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, nil
		}
		return 0, err
	}
	return balance, nil
}

// SumPendingPrincipal totals the principal of all pending remittances.
func (r *PostgresRepository) SumPendingPrincipal(ctx context.Context) (int64, error) {
	var total int64
	err := r.db.QueryRow(ctx, `
		SELECT COALESCE(SUM(principal), 0) FROM remittances WHERE status = $1
	`, domain.StatusPending).Scan(&total)
	if err != nil {
		return 0, err
	}
	return total, nil
}

// SumSenderPrincipalSince totals a sender's created principal inside the
// rolling daily-limit window. Cancelled remittances still count: the limit
// bounds send attempts, not settled volume.
func (r *PostgresRepository) SumSenderPrincipalSince(ctx context.Context, sender string, since time.Time) (int64, error) {
	var total int64
	err := r.db.QueryRow(ctx, `
		SELECT COALESCE(SUM(principal), 0) FROM remittances WHERE sender = $1 AND created_at > $2
	`, sender, since).Scan(&total)
	if err != nil {
		return 0, err
	}
	return total, nil
}
