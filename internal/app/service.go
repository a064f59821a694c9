/**
 * @description
 * This file contains the core business logic for the escrow-service. The
 * `Service` struct implements the remittance lifecycle state machine and its
 * ledger accounting: platform initialization, the agent registry, fee
 * accumulation, and the create/confirm/cancel transitions, coordinating between
 * the repository, the custody value-transfer collaborator, and the message
 * broker.
 *
 * Key properties:
 * - Every public operation is one atomic unit: authorize, validate, perform the
 *   external value transfer, then commit all storage writes in a single
 *   repository transaction. A failure at any stage leaves no partial state.
 * - Operations are serialized by a single mutex, so remittance ids are
 *   allocated in call-admission order and no two operations interleave.
 * - Authorization is a plain identity comparison against the threaded Proof;
 *   cryptographic verification belongs to the auth substrate, never the core.
 *
 * @dependencies
 * - context, errors, fmt, log, math, sync, time: Standard Go libraries.
 * - github.com/google/uuid: Event ids for published notifications.
 * - internal/domain, internal/store: Domain models and data access.
 * - pkg/rabbitmq: Event publishing.
 */

package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/swiftremit/escrow-service/internal/domain"
	"github.com/swiftremit/escrow-service/internal/store"
	"github.com/swiftremit/escrow-service/pkg/rabbitmq"
)

const (
	// MaxFeeBps is the inclusive upper bound of the platform fee rate, 100%.
	MaxFeeBps = 10000

	eventsExchange = "swiftremit.events"
	dailyLimitSpan = 24 * time.Hour
	feeBpsDivisor  = 10000
)

// Proof represents a caller identity already verified by the auth substrate.
// The core only ever compares Address against an expected identity.
type Proof struct {
	Address string
}

// ValueTransferrer moves settlement-asset value between two holder identities
// and may decline (insufficient balance, missing approval). Implemented by
// pkg/custodyclient in production and by fakes in tests.
type ValueTransferrer interface {
	Transfer(ctx context.Context, from, to string, amount int64, reference string) error
}

// Service provides the core business logic for the remittance escrow.
type Service struct {
	mu            sync.Mutex
	repo          store.Repository
	custody       ValueTransferrer
	eventProducer rabbitmq.Publisher
	now           func() time.Time
}

// NewService creates a new escrow service instance. producer may be nil when
// the broker is unavailable; events are then skipped.
func NewService(repo store.Repository, custody ValueTransferrer, producer rabbitmq.Publisher) *Service {
	return &Service{
		repo:          repo,
		custody:       custody,
		eventProducer: producer,
		now:           func() time.Time { return time.Now().UTC() },
	}
}

// Initialize persists the one-time platform configuration. It must succeed
// exactly once per deployment; a second call fails with ErrAlreadyInitialized
// and leaves the original config untouched.
func (s *Service) Initialize(ctx context.Context, req domain.InitializeRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if req.FeeBps < 0 || req.FeeBps > MaxFeeBps {
		return ErrInvalidConfiguration
	}
	if req.Admin == "" || req.SettlementAsset == "" || req.CustodyAccount == "" {
		return ErrInvalidConfiguration
	}

	cfg := &domain.PlatformConfig{
		Admin:           req.Admin,
		SettlementAsset: req.SettlementAsset,
		CustodyAccount:  req.CustodyAccount,
		FeeBps:          req.FeeBps,
	}
	if err := s.repo.CreatePlatformConfig(ctx, cfg); err != nil {
		if errors.Is(err, store.ErrConfigAlreadyExists) {
			return ErrAlreadyInitialized
		}
		return fmt.Errorf("failed to persist platform config: %w", err)
	}

	log.Printf("level=info component=escrow op=initialize admin=%s asset=%s fee_bps=%d", req.Admin, req.SettlementAsset, req.FeeBps)
	return nil
}

// UpdateFee replaces the platform fee rate. Admin only. Pending remittances
// keep the fee snapshotted at their creation.
func (s *Service) UpdateFee(ctx context.Context, proof Proof, newFeeBps int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cfg, err := s.loadConfig(ctx)
	if err != nil {
		return err
	}
	if proof.Address != cfg.Admin {
		return ErrUnauthorized
	}
	if newFeeBps < 0 || newFeeBps > MaxFeeBps {
		return ErrInvalidConfiguration
	}

	if err := s.repo.UpdateFeeBps(ctx, newFeeBps); err != nil {
		return fmt.Errorf("failed to update fee bps: %w", err)
	}

	s.publish(ctx, domain.EventFeeUpd, domain.FeeUpdatedEvent{
		EventID:    uuid.New(),
		FeeBps:     newFeeBps,
		OccurredAt: s.now(),
	})
	return nil
}

// SetDailyLimit replaces the per-sender rolling 24-hour send limit. Admin only.
// A limit of zero disables the check.
func (s *Service) SetDailyLimit(ctx context.Context, proof Proof, limit int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cfg, err := s.loadConfig(ctx)
	if err != nil {
		return err
	}
	if proof.Address != cfg.Admin {
		return ErrUnauthorized
	}
	if limit < 0 {
		return ErrInvalidConfiguration
	}

	if err := s.repo.UpdateDailyLimit(ctx, limit); err != nil {
		return fmt.Errorf("failed to update daily limit: %w", err)
	}

	s.publish(ctx, domain.EventLimitUpd, domain.DailyLimitUpdatedEvent{
		EventID:    uuid.New(),
		DailyLimit: limit,
		OccurredAt: s.now(),
	})
	return nil
}

// RegisterAgent adds an identity to the payout agent registry. Admin only.
// Re-registering an already-present agent is a successful no-op.
func (s *Service) RegisterAgent(ctx context.Context, proof Proof, agent string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cfg, err := s.loadConfig(ctx)
	if err != nil {
		return err
	}
	if proof.Address != cfg.Admin {
		return ErrUnauthorized
	}
	if agent == "" {
		return ErrInvalidConfiguration
	}

	if err := s.repo.AddAgent(ctx, agent); err != nil {
		return fmt.Errorf("failed to register agent: %w", err)
	}

	s.publish(ctx, domain.EventAgentReg, domain.AgentRegistryEvent{
		EventID:    uuid.New(),
		Agent:      agent,
		OccurredAt: s.now(),
	})
	return nil
}

// RemoveAgent deletes an identity from the registry. Admin only. Removing an
// absent agent is a successful no-op. Existing remittances naming the agent are
// unaffected; the registry gates creation only.
func (s *Service) RemoveAgent(ctx context.Context, proof Proof, agent string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cfg, err := s.loadConfig(ctx)
	if err != nil {
		return err
	}
	if proof.Address != cfg.Admin {
		return ErrUnauthorized
	}

	if err := s.repo.RemoveAgent(ctx, agent); err != nil {
		return fmt.Errorf("failed to remove agent: %w", err)
	}

	s.publish(ctx, domain.EventAgentRem, domain.AgentRegistryEvent{
		EventID:    uuid.New(),
		Agent:      agent,
		OccurredAt: s.now(),
	})
	return nil
}

// CreateRemittance escrows a sender's principal and records a new pending
// remittance. The caller must prove the sender identity. The fee is computed
// from the current platform rate and snapshotted on the record; the escrow
// deposit must clear before anything is persisted.
func (s *Service) CreateRemittance(ctx context.Context, proof Proof, req domain.CreateRemittanceRequest) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if proof.Address != req.Sender {
		return 0, ErrUnauthorized
	}
	if req.Principal <= 0 {
		return 0, ErrInvalidAmount
	}

	cfg, err := s.loadConfig(ctx)
	if err != nil {
		return 0, err
	}

	registered, err := s.repo.IsAgentRegistered(ctx, req.Agent)
	if err != nil {
		return 0, fmt.Errorf("failed to check agent registry: %w", err)
	}
	if !registered {
		return 0, ErrAgentNotRegistered
	}

	createdAt := s.now()
	if err := s.checkDailySendLimit(ctx, cfg, req.Sender, req.Principal, createdAt); err != nil {
		return 0, err
	}

	fee, err := computeFee(req.Principal, cfg.FeeBps)
	if err != nil {
		return 0, err
	}

	// Escrow deposit: all storage writes wait until the transfer has cleared.
	if err := s.custody.Transfer(ctx, req.Sender, cfg.CustodyAccount, req.Principal, "escrow deposit"); err != nil {
		return 0, fmt.Errorf("%w: %v", ErrTransferFailed, err)
	}

	rem := &domain.Remittance{
		Sender:    req.Sender,
		Agent:     req.Agent,
		Principal: req.Principal,
		Fee:       fee,
		Status:    domain.StatusPending,
		CreatedAt: createdAt,
	}
	id, err := s.repo.CreateRemittanceAtomic(ctx, rem)
	if err != nil {
		// The deposit already cleared; return it so no value is stranded.
		if refundErr := s.custody.Transfer(ctx, cfg.CustodyAccount, req.Sender, req.Principal, "escrow deposit reversal"); refundErr != nil {
			log.Printf("level=error component=escrow op=create_remittance msg=\"CRITICAL: deposit reversal failed after commit failure\" sender=%s amount=%d err=%v", req.Sender, req.Principal, refundErr)
		}
		return 0, fmt.Errorf("failed to record remittance: %w", err)
	}

	log.Printf("level=info component=escrow op=create_remittance id=%d sender=%s agent=%s principal=%d fee=%d", id, req.Sender, req.Agent, req.Principal, fee)

	s.publish(ctx, domain.EventCreated, domain.RemittanceCreatedEvent{
		EventID:      uuid.New(),
		RemittanceID: id,
		Sender:       req.Sender,
		Agent:        req.Agent,
		Principal:    req.Principal,
		Fee:          fee,
		OccurredAt:   createdAt,
	})
	return id, nil
}

// ConfirmPayout settles a pending remittance: the recorded agent (and only that
// agent) confirms fiat disbursement, the payout (principal minus fee) is
// released from custody to the agent, and the fee accrues to the accumulator.
// A declined payout transfer leaves the remittance pending and retryable.
func (s *Service) ConfirmPayout(ctx context.Context, proof Proof, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cfg, err := s.loadConfig(ctx)
	if err != nil {
		return err
	}

	rem, err := s.repo.GetRemittance(ctx, id)
	if err != nil {
		return err
	}
	if proof.Address != rem.Agent {
		return ErrUnauthorized
	}
	if rem.Status != domain.StatusPending {
		return ErrInvalidStatus
	}

	payout := rem.Principal - rem.Fee
	if err := s.custody.Transfer(ctx, cfg.CustodyAccount, rem.Agent, payout, fmt.Sprintf("remittance %d payout", id)); err != nil {
		return fmt.Errorf("%w: %v", ErrTransferFailed, err)
	}

	if err := s.repo.CompleteRemittanceAtomic(ctx, id, rem.Fee, payout); err != nil {
		if reverseErr := s.custody.Transfer(ctx, rem.Agent, cfg.CustodyAccount, payout, fmt.Sprintf("remittance %d payout reversal", id)); reverseErr != nil {
			log.Printf("level=error component=escrow op=confirm_payout msg=\"CRITICAL: payout reversal failed after commit failure\" id=%d agent=%s amount=%d err=%v", id, rem.Agent, payout, reverseErr)
		}
		if errors.Is(err, store.ErrRemittanceNotPending) {
			return ErrInvalidStatus
		}
		return fmt.Errorf("failed to complete remittance: %w", err)
	}

	log.Printf("level=info component=escrow op=confirm_payout id=%d agent=%s payout=%d fee=%d", id, rem.Agent, payout, rem.Fee)

	s.publish(ctx, domain.EventCompleted, domain.RemittanceCompletedEvent{
		EventID:      uuid.New(),
		RemittanceID: id,
		Agent:        rem.Agent,
		Payout:       payout,
		OccurredAt:   s.now(),
	})
	return nil
}

// CancelRemittance refunds a pending remittance in full to its sender. The
// caller must prove the sender identity; the fee is not retained on
// cancellation. A declined refund transfer leaves the remittance pending and
// retryable.
func (s *Service) CancelRemittance(ctx context.Context, proof Proof, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cfg, err := s.loadConfig(ctx)
	if err != nil {
		return err
	}

	rem, err := s.repo.GetRemittance(ctx, id)
	if err != nil {
		return err
	}
	if proof.Address != rem.Sender {
		return ErrUnauthorized
	}
	if rem.Status != domain.StatusPending {
		return ErrInvalidStatus
	}

	if err := s.custody.Transfer(ctx, cfg.CustodyAccount, rem.Sender, rem.Principal, fmt.Sprintf("remittance %d refund", id)); err != nil {
		return fmt.Errorf("%w: %v", ErrTransferFailed, err)
	}

	if err := s.repo.CancelRemittanceAtomic(ctx, id, rem.Principal); err != nil {
		if reverseErr := s.custody.Transfer(ctx, rem.Sender, cfg.CustodyAccount, rem.Principal, fmt.Sprintf("remittance %d refund reversal", id)); reverseErr != nil {
			log.Printf("level=error component=escrow op=cancel_remittance msg=\"CRITICAL: refund reversal failed after commit failure\" id=%d sender=%s amount=%d err=%v", id, rem.Sender, rem.Principal, reverseErr)
		}
		if errors.Is(err, store.ErrRemittanceNotPending) {
			return ErrInvalidStatus
		}
		return fmt.Errorf("failed to cancel remittance: %w", err)
	}

	log.Printf("level=info component=escrow op=cancel_remittance id=%d sender=%s refund=%d", id, rem.Sender, rem.Principal)

	s.publish(ctx, domain.EventCancelled, domain.RemittanceCancelledEvent{
		EventID:      uuid.New(),
		RemittanceID: id,
		Sender:       rem.Sender,
		Refund:       rem.Principal,
		OccurredAt:   s.now(),
	})
	return nil
}

// WithdrawFees sweeps the accumulated platform fees to a recipient. Admin only.
// A zero accumulator is a valid no-op that transfers nothing; the returned
// amount is what was actually withdrawn. Escrowed principal of pending
// remittances is never touched.
func (s *Service) WithdrawFees(ctx context.Context, proof Proof, recipient string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cfg, err := s.loadConfig(ctx)
	if err != nil {
		return 0, err
	}
	if proof.Address != cfg.Admin {
		return 0, ErrUnauthorized
	}
	if recipient == "" {
		return 0, ErrInvalidConfiguration
	}

	amount, err := s.repo.GetAccumulatedFees(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to read accumulated fees: %w", err)
	}
	if amount == 0 {
		return 0, nil
	}

	if err := s.custody.Transfer(ctx, cfg.CustodyAccount, recipient, amount, "fee withdrawal"); err != nil {
		return 0, fmt.Errorf("%w: %v", ErrTransferFailed, err)
	}

	if err := s.repo.WithdrawFeesAtomic(ctx, amount); err != nil {
		if reverseErr := s.custody.Transfer(ctx, recipient, cfg.CustodyAccount, amount, "fee withdrawal reversal"); reverseErr != nil {
			log.Printf("level=error component=escrow op=withdraw_fees msg=\"CRITICAL: withdrawal reversal failed after commit failure\" recipient=%s amount=%d err=%v", recipient, amount, reverseErr)
		}
		return 0, fmt.Errorf("failed to commit fee withdrawal: %w", err)
	}

	log.Printf("level=info component=escrow op=withdraw_fees recipient=%s amount=%d", recipient, amount)

	s.publish(ctx, domain.EventFeesWith, domain.FeesWithdrawnEvent{
		EventID:    uuid.New(),
		Recipient:  recipient,
		Amount:     amount,
		OccurredAt: s.now(),
	})
	return amount, nil
}

// GetRemittance returns the full remittance record for an id.
func (s *Service) GetRemittance(ctx context.Context, id int64) (*domain.Remittance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.repo.GetRemittance(ctx, id)
}

// GetAccumulatedFees returns the current fee accumulator value.
func (s *Service) GetAccumulatedFees(ctx context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.repo.GetAccumulatedFees(ctx)
}

// GetPlatformFeeBps returns the current platform fee rate.
func (s *Service) GetPlatformFeeBps(ctx context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cfg, err := s.loadConfig(ctx)
	if err != nil {
		return 0, err
	}
	return cfg.FeeBps, nil
}

// IsAgentRegistered reports whether an identity is a registered payout agent.
func (s *Service) IsAgentRegistered(ctx context.Context, agent string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.repo.IsAgentRegistered(ctx, agent)
}

// CustodySnapshot returns the reconciliation view used to check the
// conservation invariant: pending principal plus accumulated fees never
// exceeds the custody balance.
func (s *Service) CustodySnapshot(ctx context.Context) (*domain.CustodySnapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	custody, err := s.repo.GetCustodyBalance(ctx)
	if err != nil {
		return nil, err
	}
	pending, err := s.repo.SumPendingPrincipal(ctx)
	if err != nil {
		return nil, err
	}
	fees, err := s.repo.GetAccumulatedFees(ctx)
	if err != nil {
		return nil, err
	}
	return &domain.CustodySnapshot{
		CustodyBalance:   custody,
		PendingPrincipal: pending,
		AccumulatedFees:  fees,
	}, nil
}

// loadConfig fetches the platform config, translating absence into the
// NotInitialized business error.
func (s *Service) loadConfig(ctx context.Context) (*domain.PlatformConfig, error) {
	cfg, err := s.repo.GetPlatformConfig(ctx)
	if err != nil {
		if errors.Is(err, store.ErrConfigNotFound) {
			return nil, ErrNotInitialized
		}
		return nil, fmt.Errorf("failed to load platform config: %w", err)
	}
	return cfg, nil
}

// checkDailySendLimit enforces the rolling 24-hour per-sender volume cap when
// one is configured.
func (s *Service) checkDailySendLimit(ctx context.Context, cfg *domain.PlatformConfig, sender string, principal int64, at time.Time) error {
	if cfg.DailyLimit <= 0 {
		return nil
	}

	sent, err := s.repo.SumSenderPrincipalSince(ctx, sender, at.Add(-dailyLimitSpan))
	if err != nil {
		return fmt.Errorf("failed to sum daily window: %w", err)
	}
	if sent > math.MaxInt64-principal {
		return ErrOverflow
	}
	if sent+principal > cfg.DailyLimit {
		return ErrDailySendLimitExceeded
	}
	return nil
}

// computeFee calculates floor(principal * feeBps / 10000), rejecting inputs
// whose intermediate product is unrepresentable in int64.
func computeFee(principal, feeBps int64) (int64, error) {
	if feeBps == 0 {
		return 0, nil
	}
	if principal > math.MaxInt64/feeBps {
		return 0, ErrOverflow
	}
	return principal * feeBps / feeBpsDivisor, nil
}

// publish emits a lifecycle event, logging and moving on when the broker is
// unavailable. Event delivery is fire-and-forget and never fails an operation.
func (s *Service) publish(ctx context.Context, routingKey string, body interface{}) {
	if s.eventProducer == nil {
		return
	}
	if err := s.eventProducer.Publish(ctx, eventsExchange, routingKey, body); err != nil {
		log.Printf("level=warn component=escrow msg=\"event publish failed\" routing_key=%s err=%v", routingKey, err)
	}
}
