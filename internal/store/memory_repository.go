/**
 * @description
 * This file provides an in-memory implementation of the `Repository` interface.
 * It backs the service's test suite and the degraded bootstrap mode used when
 * no DATABASE_URL is configured (local development). Semantics mirror the
 * PostgreSQL implementation exactly, including idempotent registry mutations
 * and the guarded totals arithmetic.
 */

package store

import (
	"context"
	"sync"
	"time"

	"github.com/swiftremit/escrow-service/internal/domain"
)

// MemoryRepository is a concrete in-memory implementation of the Repository interface.
type MemoryRepository struct {
	mu sync.Mutex

	config      *domain.PlatformConfig
	agents      map[string]struct{}
	remittances map[int64]*domain.Remittance
	nextID      int64

	custodyBalance  int64
	accumulatedFees int64
}

// NewMemoryRepository creates an empty in-memory repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		agents:      make(map[string]struct{}),
		remittances: make(map[int64]*domain.Remittance),
		nextID:      1,
	}
}

func (m *MemoryRepository) GetPlatformConfig(ctx context.Context) (*domain.PlatformConfig, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.config == nil {
		return nil, ErrConfigNotFound
	}
	cfg := *m.config
	return &cfg, nil
}

func (m *MemoryRepository) CreatePlatformConfig(ctx context.Context, cfg *domain.PlatformConfig) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.config != nil {
		return ErrConfigAlreadyExists
	}
	stored := *cfg
	now := time.Now().UTC()
	stored.Initialized = true
	stored.CreatedAt = now
	stored.UpdatedAt = now
	m.config = &stored
	return nil
}

func (m *MemoryRepository) UpdateFeeBps(ctx context.Context, feeBps int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.config == nil {
		return ErrConfigNotFound
	}
	m.config.FeeBps = feeBps
	m.config.UpdatedAt = time.Now().UTC()
	return nil
}

func (m *MemoryRepository) UpdateDailyLimit(ctx context.Context, limit int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.config == nil {
		return ErrConfigNotFound
	}
	m.config.DailyLimit = limit
	m.config.UpdatedAt = time.Now().UTC()
	return nil
}

func (m *MemoryRepository) AddAgent(ctx context.Context, agent string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.agents[agent] = struct{}{}
	return nil
}

func (m *MemoryRepository) RemoveAgent(ctx context.Context, agent string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.agents, agent)
	return nil
}

func (m *MemoryRepository) IsAgentRegistered(ctx context.Context, agent string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.agents[agent]
	return ok, nil
}

func (m *MemoryRepository) CreateRemittanceAtomic(ctx context.Context, r *domain.Remittance) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := m.nextID
	m.nextID++

	stored := *r
	stored.ID = id
	stored.UpdatedAt = stored.CreatedAt
	m.remittances[id] = &stored
	m.custodyBalance += stored.Principal

	r.ID = id
	return id, nil
}

func (m *MemoryRepository) GetRemittance(ctx context.Context, id int64) (*domain.Remittance, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rem, ok := m.remittances[id]
	if !ok {
		return nil, ErrRemittanceNotFound
	}
	out := *rem
	return &out, nil
}

func (m *MemoryRepository) CompleteRemittanceAtomic(ctx context.Context, id int64, fee, payout int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rem, ok := m.remittances[id]
	if !ok {
		return ErrRemittanceNotFound
	}
	if rem.Status != domain.StatusPending {
		return ErrRemittanceNotPending
	}
	if m.custodyBalance < payout {
		return ErrInsufficientCustody
	}
	rem.Status = domain.StatusCompleted
	rem.UpdatedAt = time.Now().UTC()
	m.custodyBalance -= payout
	m.accumulatedFees += fee
	return nil
}

func (m *MemoryRepository) CancelRemittanceAtomic(ctx context.Context, id int64, principal int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rem, ok := m.remittances[id]
	if !ok {
		return ErrRemittanceNotFound
	}
	if rem.Status != domain.StatusPending {
		return ErrRemittanceNotPending
	}
	if m.custodyBalance < principal {
		return ErrInsufficientCustody
	}
	rem.Status = domain.StatusCancelled
	rem.UpdatedAt = time.Now().UTC()
	m.custodyBalance -= principal
	return nil
}

func (m *MemoryRepository) GetAccumulatedFees(ctx context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.accumulatedFees, nil
}

func (m *MemoryRepository) WithdrawFeesAtomic(ctx context.Context, amount int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.accumulatedFees < amount || m.custodyBalance < amount {
		return ErrInsufficientAccrual
	}
	m.accumulatedFees -= amount
	m.custodyBalance -= amount
	return nil
}

func (m *MemoryRepository) GetCustodyBalance(ctx context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.custodyBalance, nil
}

func (m *MemoryRepository) SumPendingPrincipal(ctx context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var total int64
	for _, rem := range m.remittances {
		if rem.Status == domain.StatusPending {
			total += rem.Principal
		}
	}
	return total, nil
}

func (m *MemoryRepository) SumSenderPrincipalSince(ctx context.Context, sender string, since time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var total int64
	for _, rem := range m.remittances {
		if rem.Sender == sender && rem.CreatedAt.After(since) {
			total += rem.Principal
		}
	}
	return total, nil
}
