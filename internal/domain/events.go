package domain

import (
	"time"

	"github.com/google/uuid"
)

// Routing keys for escrow lifecycle events published to the topic exchange.
const (
	EventCreated   = "escrow.created"
	EventCompleted = "escrow.completed"
	EventCancelled = "escrow.cancelled"
	EventAgentReg  = "escrow.agent_reg"
	EventAgentRem  = "escrow.agent_rem"
	EventFeeUpd    = "escrow.fee_upd"
	EventLimitUpd  = "escrow.limit_upd"
	EventFeesWith  = "escrow.fees_with"
)

// RemittanceCreatedEvent is emitted after a remittance has been recorded and
// its principal escrowed.
type RemittanceCreatedEvent struct {
	EventID      uuid.UUID `json:"event_id"`
	RemittanceID int64     `json:"remittance_id"`
	Sender       string    `json:"sender"`
	Agent        string    `json:"agent"`
	Principal    int64     `json:"principal"`
	Fee          int64     `json:"fee"`
	OccurredAt   time.Time `json:"occurred_at"`
}

// RemittanceCompletedEvent is emitted after an agent confirms fiat disbursement
// and the payout has been released from custody.
type RemittanceCompletedEvent struct {
	EventID      uuid.UUID `json:"event_id"`
	RemittanceID int64     `json:"remittance_id"`
	Agent        string    `json:"agent"`
	Payout       int64     `json:"payout"`
	OccurredAt   time.Time `json:"occurred_at"`
}

// RemittanceCancelledEvent is emitted after a sender cancels a pending
// remittance and the full principal has been refunded.
type RemittanceCancelledEvent struct {
	EventID      uuid.UUID `json:"event_id"`
	RemittanceID int64     `json:"remittance_id"`
	Sender       string    `json:"sender"`
	Refund       int64     `json:"refund"`
	OccurredAt   time.Time `json:"occurred_at"`
}

// AgentRegistryEvent is emitted when an agent is added to or removed from the
// registry.
type AgentRegistryEvent struct {
	EventID    uuid.UUID `json:"event_id"`
	Agent      string    `json:"agent"`
	OccurredAt time.Time `json:"occurred_at"`
}

// FeeUpdatedEvent is emitted when the admin changes the platform fee rate.
type FeeUpdatedEvent struct {
	EventID    uuid.UUID `json:"event_id"`
	FeeBps     int64     `json:"fee_bps"`
	OccurredAt time.Time `json:"occurred_at"`
}

// DailyLimitUpdatedEvent is emitted when the admin changes the per-sender
// daily send limit.
type DailyLimitUpdatedEvent struct {
	EventID    uuid.UUID `json:"event_id"`
	DailyLimit int64     `json:"daily_limit"`
	OccurredAt time.Time `json:"occurred_at"`
}

// FeesWithdrawnEvent is emitted after accumulated fees have been swept to a
// recipient.
type FeesWithdrawnEvent struct {
	EventID    uuid.UUID `json:"event_id"`
	Recipient  string    `json:"recipient"`
	Amount     int64     `json:"amount"`
	OccurredAt time.Time `json:"occurred_at"`
}
