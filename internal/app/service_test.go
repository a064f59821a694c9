package app

import (
	"context"
	"errors"
	"fmt"
	"math"
	"testing"
	"time"

	"github.com/swiftremit/escrow-service/internal/domain"
	"github.com/swiftremit/escrow-service/internal/store"
)

const (
	testAdmin   = "GADMIN"
	testSender  = "GSENDER"
	testAgent   = "GAGENT"
	testCustody = "GCUSTODY"
	testAsset   = "USDC"
)

// fakeLedger is an in-memory ValueTransferrer. It tracks balances per address
// and can be told to decline the next transfer.
type fakeLedger struct {
	balances  map[string]int64
	transfers []fakeTransfer
	failNext  error
}

type fakeTransfer struct {
	from, to, reference string
	amount              int64
}

func newFakeLedger() *fakeLedger {
	return &fakeLedger{balances: map[string]int64{
		testSender:  10_000_000,
		testCustody: 0,
		testAgent:   0,
	}}
}

func (f *fakeLedger) Transfer(ctx context.Context, from, to string, amount int64, reference string) error {
	if f.failNext != nil {
		err := f.failNext
		f.failNext = nil
		return err
	}
	f.balances[from] -= amount
	f.balances[to] += amount
	f.transfers = append(f.transfers, fakeTransfer{from: from, to: to, amount: amount, reference: reference})
	return nil
}

// recordingPublisher captures published events for assertions.
type recordingPublisher struct {
	routingKeys []string
}

func (p *recordingPublisher) Publish(ctx context.Context, exchange, routingKey string, body interface{}) error {
	p.routingKeys = append(p.routingKeys, routingKey)
	return nil
}

func (p *recordingPublisher) Close() {}

func newTestService(t *testing.T) (*Service, *fakeLedger, *recordingPublisher) {
	t.Helper()
	ledger := newFakeLedger()
	publisher := &recordingPublisher{}
	svc := NewService(store.NewMemoryRepository(), ledger, publisher)
	return svc, ledger, publisher
}

// initializePlatform performs the standard test setup: initialize at 250 bps
// and register the default agent.
func initializePlatform(t *testing.T, svc *Service) {
	t.Helper()
	ctx := context.Background()
	err := svc.Initialize(ctx, domain.InitializeRequest{
		Admin:           testAdmin,
		SettlementAsset: testAsset,
		CustodyAccount:  testCustody,
		FeeBps:          250,
	})
	if err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}
	if err := svc.RegisterAgent(ctx, Proof{Address: testAdmin}, testAgent); err != nil {
		t.Fatalf("RegisterAgent failed: %v", err)
	}
}

func TestInitialize(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	req := domain.InitializeRequest{
		Admin:           testAdmin,
		SettlementAsset: testAsset,
		CustodyAccount:  testCustody,
		FeeBps:          250,
	}
	if err := svc.Initialize(ctx, req); err != nil {
		t.Fatalf("first Initialize failed: %v", err)
	}

	if err := svc.Initialize(ctx, req); !errors.Is(err, ErrAlreadyInitialized) {
		t.Fatalf("expected ErrAlreadyInitialized on second call, got %v", err)
	}

	feeBps, err := svc.GetPlatformFeeBps(ctx)
	if err != nil {
		t.Fatalf("GetPlatformFeeBps failed: %v", err)
	}
	if feeBps != 250 {
		t.Fatalf("expected fee 250 bps, got %d", feeBps)
	}
}

func TestInitializeRejectsInvalidConfiguration(t *testing.T) {
	tests := []struct {
		name string
		req  domain.InitializeRequest
	}{
		{"fee above 100 percent", domain.InitializeRequest{Admin: testAdmin, SettlementAsset: testAsset, CustodyAccount: testCustody, FeeBps: 10001}},
		{"negative fee", domain.InitializeRequest{Admin: testAdmin, SettlementAsset: testAsset, CustodyAccount: testCustody, FeeBps: -1}},
		{"missing admin", domain.InitializeRequest{SettlementAsset: testAsset, CustodyAccount: testCustody, FeeBps: 250}},
		{"missing asset", domain.InitializeRequest{Admin: testAdmin, CustodyAccount: testCustody, FeeBps: 250}},
		{"missing custody account", domain.InitializeRequest{Admin: testAdmin, SettlementAsset: testAsset, FeeBps: 250}},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			svc, _, _ := newTestService(t)
			if err := svc.Initialize(context.Background(), tc.req); !errors.Is(err, ErrInvalidConfiguration) {
				t.Fatalf("expected ErrInvalidConfiguration, got %v", err)
			}
		})
	}
}

func TestOperationsRequireInitialization(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()
	proof := Proof{Address: testAdmin}

	if err := svc.RegisterAgent(ctx, proof, testAgent); !errors.Is(err, ErrNotInitialized) {
		t.Fatalf("RegisterAgent: expected ErrNotInitialized, got %v", err)
	}
	if err := svc.UpdateFee(ctx, proof, 100); !errors.Is(err, ErrNotInitialized) {
		t.Fatalf("UpdateFee: expected ErrNotInitialized, got %v", err)
	}
	_, err := svc.CreateRemittance(ctx, Proof{Address: testSender}, domain.CreateRemittanceRequest{
		Sender: testSender, Agent: testAgent, Principal: 1000,
	})
	if !errors.Is(err, ErrNotInitialized) {
		t.Fatalf("CreateRemittance: expected ErrNotInitialized, got %v", err)
	}
	if _, err := svc.WithdrawFees(ctx, proof, testAdmin); !errors.Is(err, ErrNotInitialized) {
		t.Fatalf("WithdrawFees: expected ErrNotInitialized, got %v", err)
	}
}

func TestAgentRegistry(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()
	initializePlatform(t, svc)

	registered, err := svc.IsAgentRegistered(ctx, testAgent)
	if err != nil || !registered {
		t.Fatalf("expected agent registered, got %v err=%v", registered, err)
	}

	// Re-registering is a no-op, not an error.
	if err := svc.RegisterAgent(ctx, Proof{Address: testAdmin}, testAgent); err != nil {
		t.Fatalf("re-register failed: %v", err)
	}

	if err := svc.RemoveAgent(ctx, Proof{Address: testAdmin}, testAgent); err != nil {
		t.Fatalf("RemoveAgent failed: %v", err)
	}
	registered, err = svc.IsAgentRegistered(ctx, testAgent)
	if err != nil || registered {
		t.Fatalf("expected agent removed, got %v err=%v", registered, err)
	}

	// Removing an absent agent is also a no-op.
	if err := svc.RemoveAgent(ctx, Proof{Address: testAdmin}, testAgent); err != nil {
		t.Fatalf("remove of absent agent failed: %v", err)
	}
}

func TestAgentRegistryRequiresAdmin(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()
	initializePlatform(t, svc)

	intruder := Proof{Address: "GINTRUDER"}
	if err := svc.RegisterAgent(ctx, intruder, "GNEWAGENT"); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("RegisterAgent: expected ErrUnauthorized, got %v", err)
	}
	if err := svc.RemoveAgent(ctx, intruder, testAgent); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("RemoveAgent: expected ErrUnauthorized, got %v", err)
	}

	registered, _ := svc.IsAgentRegistered(ctx, testAgent)
	if !registered {
		t.Fatal("registry must be unchanged after unauthorized calls")
	}
}

func TestUpdateFee(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()
	initializePlatform(t, svc)

	if err := svc.UpdateFee(ctx, Proof{Address: "GINTRUDER"}, 100); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
	if err := svc.UpdateFee(ctx, Proof{Address: testAdmin}, 10001); !errors.Is(err, ErrInvalidConfiguration) {
		t.Fatalf("expected ErrInvalidConfiguration, got %v", err)
	}

	if err := svc.UpdateFee(ctx, Proof{Address: testAdmin}, 500); err != nil {
		t.Fatalf("UpdateFee failed: %v", err)
	}
	feeBps, _ := svc.GetPlatformFeeBps(ctx)
	if feeBps != 500 {
		t.Fatalf("expected fee 500 bps, got %d", feeBps)
	}
}

func TestFeeSnapshotSurvivesRateChange(t *testing.T) {
	svc, ledger, _ := newTestService(t)
	ctx := context.Background()
	initializePlatform(t, svc)

	id, err := svc.CreateRemittance(ctx, Proof{Address: testSender}, domain.CreateRemittanceRequest{
		Sender: testSender, Agent: testAgent, Principal: 1000,
	})
	if err != nil {
		t.Fatalf("CreateRemittance failed: %v", err)
	}

	// Rate change after creation must not affect the pending remittance.
	if err := svc.UpdateFee(ctx, Proof{Address: testAdmin}, 1000); err != nil {
		t.Fatalf("UpdateFee failed: %v", err)
	}

	if err := svc.ConfirmPayout(ctx, Proof{Address: testAgent}, id); err != nil {
		t.Fatalf("ConfirmPayout failed: %v", err)
	}

	if ledger.balances[testAgent] != 975 {
		t.Fatalf("expected payout 975 at the snapshotted 250 bps, agent got %d", ledger.balances[testAgent])
	}
	fees, _ := svc.GetAccumulatedFees(ctx)
	if fees != 25 {
		t.Fatalf("expected accumulated fees 25, got %d", fees)
	}
}

func TestCreateRemittance(t *testing.T) {
	svc, ledger, publisher := newTestService(t)
	ctx := context.Background()
	initializePlatform(t, svc)

	id, err := svc.CreateRemittance(ctx, Proof{Address: testSender}, domain.CreateRemittanceRequest{
		Sender: testSender, Agent: testAgent, Principal: 1000,
	})
	if err != nil {
		t.Fatalf("CreateRemittance failed: %v", err)
	}
	if id != 1 {
		t.Fatalf("expected first remittance id 1, got %d", id)
	}

	rem, err := svc.GetRemittance(ctx, id)
	if err != nil {
		t.Fatalf("GetRemittance failed: %v", err)
	}
	if rem.Status != domain.StatusPending {
		t.Fatalf("expected pending, got %s", rem.Status)
	}
	if rem.Fee != 25 {
		t.Fatalf("expected fee 25 for 1000 at 250 bps, got %d", rem.Fee)
	}
	if rem.Sender != testSender || rem.Agent != testAgent || rem.Principal != 1000 {
		t.Fatalf("remittance record mismatch: %+v", rem)
	}

	if ledger.balances[testCustody] != 1000 {
		t.Fatalf("expected custody balance 1000, got %d", ledger.balances[testCustody])
	}

	found := false
	for _, key := range publisher.routingKeys {
		if key == domain.EventCreated {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected %s event, got %v", domain.EventCreated, publisher.routingKeys)
	}
}

func TestCreateRemittanceValidation(t *testing.T) {
	svc, ledger, _ := newTestService(t)
	ctx := context.Background()
	initializePlatform(t, svc)

	_, err := svc.CreateRemittance(ctx, Proof{Address: testSender}, domain.CreateRemittanceRequest{
		Sender: testSender, Agent: testAgent, Principal: 0,
	})
	if !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("zero principal: expected ErrInvalidAmount, got %v", err)
	}

	_, err = svc.CreateRemittance(ctx, Proof{Address: testSender}, domain.CreateRemittanceRequest{
		Sender: testSender, Agent: testAgent, Principal: -5,
	})
	if !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("negative principal: expected ErrInvalidAmount, got %v", err)
	}

	_, err = svc.CreateRemittance(ctx, Proof{Address: testSender}, domain.CreateRemittanceRequest{
		Sender: testSender, Agent: "GUNKNOWN", Principal: 1000,
	})
	if !errors.Is(err, ErrAgentNotRegistered) {
		t.Fatalf("unknown agent: expected ErrAgentNotRegistered, got %v", err)
	}

	_, err = svc.CreateRemittance(ctx, Proof{Address: "GINTRUDER"}, domain.CreateRemittanceRequest{
		Sender: testSender, Agent: testAgent, Principal: 1000,
	})
	if !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("mismatched caller: expected ErrUnauthorized, got %v", err)
	}

	if len(ledger.transfers) != 0 {
		t.Fatalf("no transfers may happen on rejected creations, got %d", len(ledger.transfers))
	}
}

func TestCreateRemittanceDepositDeclined(t *testing.T) {
	svc, ledger, _ := newTestService(t)
	ctx := context.Background()
	initializePlatform(t, svc)

	ledger.failNext = errors.New("insufficient balance")
	_, err := svc.CreateRemittance(ctx, Proof{Address: testSender}, domain.CreateRemittanceRequest{
		Sender: testSender, Agent: testAgent, Principal: 1000,
	})
	if !errors.Is(err, ErrTransferFailed) {
		t.Fatalf("expected ErrTransferFailed, got %v", err)
	}

	// Nothing may be recorded; a retry allocates id 1.
	if _, err := svc.GetRemittance(ctx, 1); !errors.Is(err, store.ErrRemittanceNotFound) {
		t.Fatalf("expected no remittance recorded, got %v", err)
	}
	id, err := svc.CreateRemittance(ctx, Proof{Address: testSender}, domain.CreateRemittanceRequest{
		Sender: testSender, Agent: testAgent, Principal: 1000,
	})
	if err != nil {
		t.Fatalf("retry failed: %v", err)
	}
	if id != 1 {
		t.Fatalf("expected retry to allocate id 1, got %d", id)
	}
}

func TestConfirmPayout(t *testing.T) {
	svc, ledger, publisher := newTestService(t)
	ctx := context.Background()
	initializePlatform(t, svc)

	id, err := svc.CreateRemittance(ctx, Proof{Address: testSender}, domain.CreateRemittanceRequest{
		Sender: testSender, Agent: testAgent, Principal: 1000,
	})
	if err != nil {
		t.Fatalf("CreateRemittance failed: %v", err)
	}

	if err := svc.ConfirmPayout(ctx, Proof{Address: testAgent}, id); err != nil {
		t.Fatalf("ConfirmPayout failed: %v", err)
	}

	rem, _ := svc.GetRemittance(ctx, id)
	if rem.Status != domain.StatusCompleted {
		t.Fatalf("expected completed, got %s", rem.Status)
	}
	if ledger.balances[testAgent] != 975 {
		t.Fatalf("expected agent balance 975, got %d", ledger.balances[testAgent])
	}
	if ledger.balances[testCustody] != 25 {
		t.Fatalf("expected custody to retain the 25 fee, got %d", ledger.balances[testCustody])
	}
	fees, _ := svc.GetAccumulatedFees(ctx)
	if fees != 25 {
		t.Fatalf("expected accumulated fees 25, got %d", fees)
	}

	found := false
	for _, key := range publisher.routingKeys {
		if key == domain.EventCompleted {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected %s event, got %v", domain.EventCompleted, publisher.routingKeys)
	}
}

func TestConfirmPayoutGuards(t *testing.T) {
	svc, ledger, _ := newTestService(t)
	ctx := context.Background()
	initializePlatform(t, svc)

	id, err := svc.CreateRemittance(ctx, Proof{Address: testSender}, domain.CreateRemittanceRequest{
		Sender: testSender, Agent: testAgent, Principal: 1000,
	})
	if err != nil {
		t.Fatalf("CreateRemittance failed: %v", err)
	}

	// Only the recorded agent may confirm; even the admin cannot.
	if err := svc.ConfirmPayout(ctx, Proof{Address: testAdmin}, id); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
	if err := svc.ConfirmPayout(ctx, Proof{Address: testSender}, id); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
	rem, _ := svc.GetRemittance(ctx, id)
	if rem.Status != domain.StatusPending {
		t.Fatalf("status must be unchanged after unauthorized confirm, got %s", rem.Status)
	}
	if ledger.balances[testAgent] != 0 {
		t.Fatalf("no payout may move on unauthorized confirm, agent has %d", ledger.balances[testAgent])
	}

	if err := svc.ConfirmPayout(ctx, Proof{Address: testAgent}, id); err != nil {
		t.Fatalf("ConfirmPayout failed: %v", err)
	}
	if err := svc.ConfirmPayout(ctx, Proof{Address: testAgent}, id); !errors.Is(err, ErrInvalidStatus) {
		t.Fatalf("second confirm: expected ErrInvalidStatus, got %v", err)
	}
	if ledger.balances[testAgent] != 975 {
		t.Fatalf("double confirm must not double pay, agent has %d", ledger.balances[testAgent])
	}

	if err := svc.ConfirmPayout(ctx, Proof{Address: testAgent}, 99); !errors.Is(err, store.ErrRemittanceNotFound) {
		t.Fatalf("expected ErrRemittanceNotFound, got %v", err)
	}
}

func TestConfirmPayoutTransferDeclinedIsRetryable(t *testing.T) {
	svc, ledger, _ := newTestService(t)
	ctx := context.Background()
	initializePlatform(t, svc)

	id, err := svc.CreateRemittance(ctx, Proof{Address: testSender}, domain.CreateRemittanceRequest{
		Sender: testSender, Agent: testAgent, Principal: 1000,
	})
	if err != nil {
		t.Fatalf("CreateRemittance failed: %v", err)
	}

	ledger.failNext = errors.New("custody api unavailable")
	if err := svc.ConfirmPayout(ctx, Proof{Address: testAgent}, id); !errors.Is(err, ErrTransferFailed) {
		t.Fatalf("expected ErrTransferFailed, got %v", err)
	}

	rem, _ := svc.GetRemittance(ctx, id)
	if rem.Status != domain.StatusPending {
		t.Fatalf("remittance must stay pending after declined payout, got %s", rem.Status)
	}

	if err := svc.ConfirmPayout(ctx, Proof{Address: testAgent}, id); err != nil {
		t.Fatalf("retry failed: %v", err)
	}
	if ledger.balances[testAgent] != 975 {
		t.Fatalf("expected agent balance 975 after retry, got %d", ledger.balances[testAgent])
	}
}

func TestCancelRemittance(t *testing.T) {
	svc, ledger, publisher := newTestService(t)
	ctx := context.Background()
	initializePlatform(t, svc)

	senderBefore := ledger.balances[testSender]
	id, err := svc.CreateRemittance(ctx, Proof{Address: testSender}, domain.CreateRemittanceRequest{
		Sender: testSender, Agent: testAgent, Principal: 1000,
	})
	if err != nil {
		t.Fatalf("CreateRemittance failed: %v", err)
	}

	if err := svc.CancelRemittance(ctx, Proof{Address: testSender}, id); err != nil {
		t.Fatalf("CancelRemittance failed: %v", err)
	}

	rem, _ := svc.GetRemittance(ctx, id)
	if rem.Status != domain.StatusCancelled {
		t.Fatalf("expected cancelled, got %s", rem.Status)
	}
	// Refund is the full principal; the fee is not retained.
	if ledger.balances[testSender] != senderBefore {
		t.Fatalf("expected full refund to %d, sender has %d", senderBefore, ledger.balances[testSender])
	}
	fees, _ := svc.GetAccumulatedFees(ctx)
	if fees != 0 {
		t.Fatalf("cancellation must not accrue fees, got %d", fees)
	}

	found := false
	for _, key := range publisher.routingKeys {
		if key == domain.EventCancelled {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected %s event, got %v", domain.EventCancelled, publisher.routingKeys)
	}
}

func TestCancelRemittanceGuards(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()
	initializePlatform(t, svc)

	id, err := svc.CreateRemittance(ctx, Proof{Address: testSender}, domain.CreateRemittanceRequest{
		Sender: testSender, Agent: testAgent, Principal: 1000,
	})
	if err != nil {
		t.Fatalf("CreateRemittance failed: %v", err)
	}

	if err := svc.CancelRemittance(ctx, Proof{Address: testAgent}, id); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("agent cancel: expected ErrUnauthorized, got %v", err)
	}
	if err := svc.CancelRemittance(ctx, Proof{Address: testAdmin}, id); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("admin cancel: expected ErrUnauthorized, got %v", err)
	}

	if err := svc.ConfirmPayout(ctx, Proof{Address: testAgent}, id); err != nil {
		t.Fatalf("ConfirmPayout failed: %v", err)
	}
	if err := svc.CancelRemittance(ctx, Proof{Address: testSender}, id); !errors.Is(err, ErrInvalidStatus) {
		t.Fatalf("cancel after confirm: expected ErrInvalidStatus, got %v", err)
	}
}

func TestWithdrawFees(t *testing.T) {
	svc, ledger, publisher := newTestService(t)
	ctx := context.Background()
	initializePlatform(t, svc)

	id, err := svc.CreateRemittance(ctx, Proof{Address: testSender}, domain.CreateRemittanceRequest{
		Sender: testSender, Agent: testAgent, Principal: 1000,
	})
	if err != nil {
		t.Fatalf("CreateRemittance failed: %v", err)
	}
	if err := svc.ConfirmPayout(ctx, Proof{Address: testAgent}, id); err != nil {
		t.Fatalf("ConfirmPayout failed: %v", err)
	}

	if _, err := svc.WithdrawFees(ctx, Proof{Address: "GINTRUDER"}, "GTREASURY"); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}

	amount, err := svc.WithdrawFees(ctx, Proof{Address: testAdmin}, "GTREASURY")
	if err != nil {
		t.Fatalf("WithdrawFees failed: %v", err)
	}
	if amount != 25 {
		t.Fatalf("expected withdrawal of 25, got %d", amount)
	}
	if ledger.balances["GTREASURY"] != 25 {
		t.Fatalf("expected treasury balance 25, got %d", ledger.balances["GTREASURY"])
	}
	fees, _ := svc.GetAccumulatedFees(ctx)
	if fees != 0 {
		t.Fatalf("expected accumulator reset to 0, got %d", fees)
	}

	// Second withdrawal is a valid no-op: no transfer, no event.
	transfersBefore := len(ledger.transfers)
	eventsBefore := len(publisher.routingKeys)
	amount, err = svc.WithdrawFees(ctx, Proof{Address: testAdmin}, "GTREASURY")
	if err != nil {
		t.Fatalf("zero withdrawal failed: %v", err)
	}
	if amount != 0 {
		t.Fatalf("expected zero withdrawal, got %d", amount)
	}
	if len(ledger.transfers) != transfersBefore {
		t.Fatal("zero withdrawal must not transfer")
	}
	if len(publisher.routingKeys) != eventsBefore {
		t.Fatal("zero withdrawal must not publish an event")
	}
}

func TestWithdrawFeesNeverTouchesEscrowedPrincipal(t *testing.T) {
	svc, ledger, _ := newTestService(t)
	ctx := context.Background()
	initializePlatform(t, svc)

	// One completed remittance accrues 25; one stays pending with 2000 escrowed.
	id, _ := svc.CreateRemittance(ctx, Proof{Address: testSender}, domain.CreateRemittanceRequest{
		Sender: testSender, Agent: testAgent, Principal: 1000,
	})
	if err := svc.ConfirmPayout(ctx, Proof{Address: testAgent}, id); err != nil {
		t.Fatalf("ConfirmPayout failed: %v", err)
	}
	if _, err := svc.CreateRemittance(ctx, Proof{Address: testSender}, domain.CreateRemittanceRequest{
		Sender: testSender, Agent: testAgent, Principal: 2000,
	}); err != nil {
		t.Fatalf("CreateRemittance failed: %v", err)
	}

	amount, err := svc.WithdrawFees(ctx, Proof{Address: testAdmin}, "GTREASURY")
	if err != nil {
		t.Fatalf("WithdrawFees failed: %v", err)
	}
	if amount != 25 {
		t.Fatalf("expected only the 25 fee withdrawn, got %d", amount)
	}
	if ledger.balances[testCustody] != 2000 {
		t.Fatalf("pending principal must remain in custody, got %d", ledger.balances[testCustody])
	}
}

func TestMultipleRemittances(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()
	initializePlatform(t, svc)

	first, err := svc.CreateRemittance(ctx, Proof{Address: testSender}, domain.CreateRemittanceRequest{
		Sender: testSender, Agent: testAgent, Principal: 1000,
	})
	if err != nil {
		t.Fatalf("first CreateRemittance failed: %v", err)
	}
	second, err := svc.CreateRemittance(ctx, Proof{Address: testSender}, domain.CreateRemittanceRequest{
		Sender: testSender, Agent: testAgent, Principal: 2000,
	})
	if err != nil {
		t.Fatalf("second CreateRemittance failed: %v", err)
	}
	if first != 1 || second != 2 {
		t.Fatalf("expected ids 1 and 2, got %d and %d", first, second)
	}

	if err := svc.ConfirmPayout(ctx, Proof{Address: testAgent}, first); err != nil {
		t.Fatalf("confirm first failed: %v", err)
	}
	if err := svc.ConfirmPayout(ctx, Proof{Address: testAgent}, second); err != nil {
		t.Fatalf("confirm second failed: %v", err)
	}

	fees, _ := svc.GetAccumulatedFees(ctx)
	if fees != 75 {
		t.Fatalf("expected 25+50=75 accumulated fees, got %d", fees)
	}
}

func TestLargeAmountRoundTrip(t *testing.T) {
	svc, ledger, _ := newTestService(t)
	ctx := context.Background()
	initializePlatform(t, svc)

	const principal = 1_000_000
	senderBefore := ledger.balances[testSender]

	id, err := svc.CreateRemittance(ctx, Proof{Address: testSender}, domain.CreateRemittanceRequest{
		Sender: testSender, Agent: testAgent, Principal: principal,
	})
	if err != nil {
		t.Fatalf("CreateRemittance failed: %v", err)
	}
	if err := svc.CancelRemittance(ctx, Proof{Address: testSender}, id); err != nil {
		t.Fatalf("CancelRemittance failed: %v", err)
	}
	if ledger.balances[testSender] != senderBefore {
		t.Fatalf("cancel must refund exactly %d, sender delta %d", principal, ledger.balances[testSender]-senderBefore)
	}

	id, err = svc.CreateRemittance(ctx, Proof{Address: testSender}, domain.CreateRemittanceRequest{
		Sender: testSender, Agent: testAgent, Principal: principal,
	})
	if err != nil {
		t.Fatalf("CreateRemittance failed: %v", err)
	}
	if err := svc.ConfirmPayout(ctx, Proof{Address: testAgent}, id); err != nil {
		t.Fatalf("ConfirmPayout failed: %v", err)
	}

	fees, _ := svc.GetAccumulatedFees(ctx)
	if ledger.balances[testAgent] != 975_000 || fees != 25_000 {
		t.Fatalf("expected 975000/25000 split, got payout %d fees %d", ledger.balances[testAgent], fees)
	}
	if ledger.balances[testAgent]+fees != principal {
		t.Fatalf("payout plus fee must equal principal, got %d", ledger.balances[testAgent]+fees)
	}
}

func TestComputeFee(t *testing.T) {
	tests := []struct {
		name      string
		principal int64
		feeBps    int64
		want      int64
		wantErr   error
	}{
		{"standard rate", 1000, 250, 25, nil},
		{"five percent", 10000, 500, 500, nil},
		{"zero rate", 1000, 0, 0, nil},
		{"floors fractional fee", 999, 250, 24, nil},
		{"tiny principal floors to zero", 3, 250, 0, nil},
		{"full rate", 1000, 10000, 1000, nil},
		{"one basis point", 10000, 1, 1, nil},
		{"overflow", math.MaxInt64/250 + 1, 250, 0, ErrOverflow},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := computeFee(tc.principal, tc.feeBps)
			if !errors.Is(err, tc.wantErr) {
				t.Fatalf("expected err %v, got %v", tc.wantErr, err)
			}
			if got != tc.want {
				t.Fatalf("computeFee(%d, %d) = %d, want %d", tc.principal, tc.feeBps, got, tc.want)
			}
		})
	}
}

func TestCreateRemittanceOverflow(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()
	initializePlatform(t, svc)

	_, err := svc.CreateRemittance(ctx, Proof{Address: testSender}, domain.CreateRemittanceRequest{
		Sender: testSender, Agent: testAgent, Principal: math.MaxInt64/250 + 1,
	})
	if !errors.Is(err, ErrOverflow) {
		t.Fatalf("expected ErrOverflow, got %v", err)
	}
}

func TestZeroFeePlatform(t *testing.T) {
	svc, ledger, _ := newTestService(t)
	ctx := context.Background()

	err := svc.Initialize(ctx, domain.InitializeRequest{
		Admin:           testAdmin,
		SettlementAsset: testAsset,
		CustodyAccount:  testCustody,
		FeeBps:          0,
	})
	if err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}
	if err := svc.RegisterAgent(ctx, Proof{Address: testAdmin}, testAgent); err != nil {
		t.Fatalf("RegisterAgent failed: %v", err)
	}

	id, err := svc.CreateRemittance(ctx, Proof{Address: testSender}, domain.CreateRemittanceRequest{
		Sender: testSender, Agent: testAgent, Principal: 1000,
	})
	if err != nil {
		t.Fatalf("CreateRemittance failed: %v", err)
	}
	if err := svc.ConfirmPayout(ctx, Proof{Address: testAgent}, id); err != nil {
		t.Fatalf("ConfirmPayout failed: %v", err)
	}

	if ledger.balances[testAgent] != 1000 {
		t.Fatalf("expected full principal paid out at zero fee, got %d", ledger.balances[testAgent])
	}

	amount, err := svc.WithdrawFees(ctx, Proof{Address: testAdmin}, "GTREASURY")
	if err != nil {
		t.Fatalf("zero withdrawal failed: %v", err)
	}
	if amount != 0 {
		t.Fatalf("expected nothing to withdraw, got %d", amount)
	}
}

func TestDailySendLimit(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()
	initializePlatform(t, svc)

	if err := svc.SetDailyLimit(ctx, Proof{Address: "GINTRUDER"}, 1500); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
	if err := svc.SetDailyLimit(ctx, Proof{Address: testAdmin}, -1); !errors.Is(err, ErrInvalidConfiguration) {
		t.Fatalf("expected ErrInvalidConfiguration, got %v", err)
	}
	if err := svc.SetDailyLimit(ctx, Proof{Address: testAdmin}, 1500); err != nil {
		t.Fatalf("SetDailyLimit failed: %v", err)
	}

	if _, err := svc.CreateRemittance(ctx, Proof{Address: testSender}, domain.CreateRemittanceRequest{
		Sender: testSender, Agent: testAgent, Principal: 1000,
	}); err != nil {
		t.Fatalf("first remittance within limit failed: %v", err)
	}

	_, err := svc.CreateRemittance(ctx, Proof{Address: testSender}, domain.CreateRemittanceRequest{
		Sender: testSender, Agent: testAgent, Principal: 1000,
	})
	if !errors.Is(err, ErrDailySendLimitExceeded) {
		t.Fatalf("expected ErrDailySendLimitExceeded, got %v", err)
	}

	// A different sender has its own window.
	if _, err := svc.CreateRemittance(ctx, Proof{Address: "GOTHER"}, domain.CreateRemittanceRequest{
		Sender: "GOTHER", Agent: testAgent, Principal: 1000,
	}); err != nil {
		t.Fatalf("other sender blocked unexpectedly: %v", err)
	}
}

func TestDailySendLimitWindowExpires(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()
	initializePlatform(t, svc)

	if err := svc.SetDailyLimit(ctx, Proof{Address: testAdmin}, 1500); err != nil {
		t.Fatalf("SetDailyLimit failed: %v", err)
	}

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return base }

	if _, err := svc.CreateRemittance(ctx, Proof{Address: testSender}, domain.CreateRemittanceRequest{
		Sender: testSender, Agent: testAgent, Principal: 1000,
	}); err != nil {
		t.Fatalf("CreateRemittance failed: %v", err)
	}

	// 25 hours later the first send has aged out of the rolling window.
	svc.now = func() time.Time { return base.Add(25 * time.Hour) }
	if _, err := svc.CreateRemittance(ctx, Proof{Address: testSender}, domain.CreateRemittanceRequest{
		Sender: testSender, Agent: testAgent, Principal: 1000,
	}); err != nil {
		t.Fatalf("remittance after window expiry failed: %v", err)
	}
}

func TestDailySendLimitDisabledByZero(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()
	initializePlatform(t, svc)

	if err := svc.SetDailyLimit(ctx, Proof{Address: testAdmin}, 1500); err != nil {
		t.Fatalf("SetDailyLimit failed: %v", err)
	}
	if err := svc.SetDailyLimit(ctx, Proof{Address: testAdmin}, 0); err != nil {
		t.Fatalf("SetDailyLimit to zero failed: %v", err)
	}

	for i := 0; i < 3; i++ {
		if _, err := svc.CreateRemittance(ctx, Proof{Address: testSender}, domain.CreateRemittanceRequest{
			Sender: testSender, Agent: testAgent, Principal: 1000,
		}); err != nil {
			t.Fatalf("remittance %d with disabled limit failed: %v", i+1, err)
		}
	}
}

func TestCustodySnapshotConservation(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()
	initializePlatform(t, svc)

	assertConserved := func(stage string) {
		t.Helper()
		snap, err := svc.CustodySnapshot(ctx)
		if err != nil {
			t.Fatalf("%s: CustodySnapshot failed: %v", stage, err)
		}
		if snap.PendingPrincipal+snap.AccumulatedFees > snap.CustodyBalance {
			t.Fatalf("%s: conservation violated: pending %d + fees %d > custody %d",
				stage, snap.PendingPrincipal, snap.AccumulatedFees, snap.CustodyBalance)
		}
	}

	assertConserved("initial")

	ids := make([]int64, 0, 3)
	for i := 0; i < 3; i++ {
		id, err := svc.CreateRemittance(ctx, Proof{Address: testSender}, domain.CreateRemittanceRequest{
			Sender: testSender, Agent: testAgent, Principal: int64(1000 * (i + 1)),
		})
		if err != nil {
			t.Fatalf("CreateRemittance failed: %v", err)
		}
		ids = append(ids, id)
		assertConserved(fmt.Sprintf("after create %d", i+1))
	}

	if err := svc.ConfirmPayout(ctx, Proof{Address: testAgent}, ids[0]); err != nil {
		t.Fatalf("ConfirmPayout failed: %v", err)
	}
	assertConserved("after confirm")

	if err := svc.CancelRemittance(ctx, Proof{Address: testSender}, ids[1]); err != nil {
		t.Fatalf("CancelRemittance failed: %v", err)
	}
	assertConserved("after cancel")

	if _, err := svc.WithdrawFees(ctx, Proof{Address: testAdmin}, "GTREASURY"); err != nil {
		t.Fatalf("WithdrawFees failed: %v", err)
	}
	snap, err := svc.CustodySnapshot(ctx)
	if err != nil {
		t.Fatalf("CustodySnapshot failed: %v", err)
	}
	// Only the third remittance's principal remains in custody.
	if snap.PendingPrincipal != 3000 || snap.AccumulatedFees != 0 || snap.CustodyBalance != 3000 {
		t.Fatalf("unexpected final snapshot: %+v", snap)
	}
}

// failingRepo declines one atomic commit so the compensating transfer path can
// be observed.
type failingRepo struct {
	store.Repository
	failCreate  bool
	failConfirm bool
}

func (f *failingRepo) CreateRemittanceAtomic(ctx context.Context, r *domain.Remittance) (int64, error) {
	if f.failCreate {
		f.failCreate = false
		return 0, errors.New("connection reset")
	}
	return f.Repository.CreateRemittanceAtomic(ctx, r)
}

func (f *failingRepo) CompleteRemittanceAtomic(ctx context.Context, id int64, fee, payout int64) error {
	if f.failConfirm {
		f.failConfirm = false
		return errors.New("connection reset")
	}
	return f.Repository.CompleteRemittanceAtomic(ctx, id, fee, payout)
}

func TestCommitFailureReversesDeposit(t *testing.T) {
	ledger := newFakeLedger()
	repo := &failingRepo{Repository: store.NewMemoryRepository()}
	svc := NewService(repo, ledger, nil)
	ctx := context.Background()
	initializePlatform(t, svc)

	senderBefore := ledger.balances[testSender]
	repo.failCreate = true
	_, err := svc.CreateRemittance(ctx, Proof{Address: testSender}, domain.CreateRemittanceRequest{
		Sender: testSender, Agent: testAgent, Principal: 1000,
	})
	if err == nil || errors.Is(err, ErrTransferFailed) {
		t.Fatalf("expected a storage error, got %v", err)
	}

	if ledger.balances[testSender] != senderBefore {
		t.Fatalf("deposit must be reversed after commit failure, sender delta %d", ledger.balances[testSender]-senderBefore)
	}
	if ledger.balances[testCustody] != 0 {
		t.Fatalf("custody must hold nothing after reversal, got %d", ledger.balances[testCustody])
	}
}

func TestCommitFailureReversesPayout(t *testing.T) {
	ledger := newFakeLedger()
	repo := &failingRepo{Repository: store.NewMemoryRepository()}
	svc := NewService(repo, ledger, nil)
	ctx := context.Background()
	initializePlatform(t, svc)

	id, err := svc.CreateRemittance(ctx, Proof{Address: testSender}, domain.CreateRemittanceRequest{
		Sender: testSender, Agent: testAgent, Principal: 1000,
	})
	if err != nil {
		t.Fatalf("CreateRemittance failed: %v", err)
	}

	repo.failConfirm = true
	if err := svc.ConfirmPayout(ctx, Proof{Address: testAgent}, id); err == nil {
		t.Fatal("expected a storage error")
	}

	if ledger.balances[testAgent] != 0 {
		t.Fatalf("payout must be reversed after commit failure, agent has %d", ledger.balances[testAgent])
	}
	rem, _ := svc.GetRemittance(ctx, id)
	if rem.Status != domain.StatusPending {
		t.Fatalf("remittance must stay pending, got %s", rem.Status)
	}

	if err := svc.ConfirmPayout(ctx, Proof{Address: testAgent}, id); err != nil {
		t.Fatalf("retry failed: %v", err)
	}
}
