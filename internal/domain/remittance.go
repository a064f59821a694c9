/**
 * @description
 * This file defines the core domain models for the escrow-service. These structs
 * represent the entities persisted by the remittance ledger and the DTOs used by
 * the API layer.
 *
 * @notes
 * - Amounts are stored as `int64` in the settlement asset's minor units, which
 *   avoids floating-point inaccuracies with financial data. The core performs no
 *   decimal scaling.
 * - Identities are opaque settlement-network addresses. The service never
 *   verifies signatures itself; the auth substrate proves control of an address
 *   and the core only compares addresses.
 */

package domain

import "time"

// RemittanceStatus is the lifecycle state of a remittance.
// Completed and Cancelled are terminal; there are no other transitions.
type RemittanceStatus string

const (
	StatusPending   RemittanceStatus = "pending"
	StatusCompleted RemittanceStatus = "completed"
	StatusCancelled RemittanceStatus = "cancelled"
)

// Terminal reports whether the status admits no further transition.
func (s RemittanceStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

// Remittance is the central ledger record: one sender-to-agent transfer request
// with its escrowed principal, the platform fee snapshotted at creation, and a
// status. Rows are never deleted; terminal remittances remain queryable as an
// audit trail.
type Remittance struct {
	ID        int64            `json:"id"`
	Sender    string           `json:"sender"`
	Agent     string           `json:"agent"`
	Principal int64            `json:"principal"` // minor units
	Fee       int64            `json:"fee"`       // minor units, immutable after creation
	Status    RemittanceStatus `json:"status"`
	CreatedAt time.Time        `json:"created_at"`
	UpdatedAt time.Time        `json:"updated_at"`
}

// PlatformConfig is the one-time administrative configuration singleton.
// Created exactly once by initialize; only FeeBps and DailyLimit are mutable
// afterwards, and only by the admin.
type PlatformConfig struct {
	Admin           string    `json:"admin"`
	SettlementAsset string    `json:"settlement_asset"`
	CustodyAccount  string    `json:"custody_account"`
	FeeBps          int64     `json:"fee_bps"`     // basis points, 0-10000 inclusive
	DailyLimit      int64     `json:"daily_limit"` // minor units per sender per rolling 24h; 0 disables
	Initialized     bool      `json:"initialized"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// CustodySnapshot is the reconciliation view of the pooled custody balance.
// Invariant: PendingPrincipal + AccumulatedFees <= CustodyBalance, with
// equality when nobody gifts value to the custody account out of band.
type CustodySnapshot struct {
	CustodyBalance   int64 `json:"custody_balance"`
	PendingPrincipal int64 `json:"pending_principal"`
	AccumulatedFees  int64 `json:"accumulated_fees"`
}

// CreateRemittanceRequest is the DTO for incoming remittance creation requests.
type CreateRemittanceRequest struct {
	Sender    string `json:"sender"`
	Agent     string `json:"agent"`
	Principal int64  `json:"principal"` // minor units
}

// InitializeRequest is the DTO for the one-time platform initialization call.
type InitializeRequest struct {
	Admin           string `json:"admin"`
	SettlementAsset string `json:"settlement_asset"`
	CustodyAccount  string `json:"custody_account"`
	FeeBps          int64  `json:"fee_bps"`
}

// RegisterAgentRequest is the DTO for registering a payout agent.
type RegisterAgentRequest struct {
	Agent string `json:"agent"`
}

// UpdateFeeRequest is the DTO for changing the platform fee rate.
type UpdateFeeRequest struct {
	FeeBps int64 `json:"fee_bps"`
}

// UpdateDailyLimitRequest is the DTO for changing the per-sender daily limit.
type UpdateDailyLimitRequest struct {
	DailyLimit int64 `json:"daily_limit"` // minor units; 0 disables the check
}

// WithdrawFeesRequest is the DTO for sweeping accumulated fees to a recipient.
type WithdrawFeesRequest struct {
	Recipient string `json:"recipient"`
}
