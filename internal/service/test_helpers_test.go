package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/ayo6706/branch-transactions/internal/domain"
	"github.com/ayo6706/branch-transactions/internal/repository"
	"github.com/jonboulle/clockwork"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const testSignature = "data:image/png;base64,iVBORw0KGgoAAAANSUhEUgAAAAEAAAABCAYAAAAfFcSJAAAADUlEQVR4nGNgYGD4DwABBAEAwS2OUAAAAABJRU5ErkJggg=="

type recordedEvent struct {
	topic   string
	payload any
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []recordedEvent
}

func (p *recordingPublisher) Publish(_ context.Context, topic string, payload any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, recordedEvent{topic: topic, payload: payload})
}

func (p *recordingPublisher) Topics() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.events))
	for _, e := range p.events {
		out = append(out, e.topic)
	}
	return out
}

type approvalFixture struct {
	store  *repository.MemoryStore
	svc    *ApprovalService
	events *recordingPublisher
	clock  *clockwork.FakeClock
}

func newApprovalFixture(t *testing.T, opts ...ApprovalOption) *approvalFixture {
	t.Helper()
	store := repository.NewMemoryStore()
	events := &recordingPublisher{}
	clock := clockwork.NewFakeClockAt(time.Date(2026, 3, 2, 9, 30, 0, 0, time.UTC))
	opts = append([]ApprovalOption{WithApprovalEvents(events), WithApprovalClock(clock)}, opts...)
	svc := NewApprovalService(store, NewAuditService(store), NewSignatureBinder("test-binding-key"), zap.NewNop(), opts...)
	return &approvalFixture{store: store, svc: svc, events: events, clock: clock}
}

func createRequest(voucher string, amountETB string, segment string) CreateWorkflowRequest {
	amount := decimal.RequireFromString(amountETB)
	outcome := domain.NewApprovalEvaluator().Evaluate(domain.ApprovalInput{
		Type: domain.TxFundTransfer, Amount: amount, Currency: domain.BaseCurrency, Segment: segment,
	})
	return CreateWorkflowRequest{
		VoucherID:        voucher,
		TransactionType:  domain.TxFundTransfer,
		AmountETB:        outcome.AmountETB,
		OriginalAmount:   amount,
		OriginalCurrency: domain.BaseCurrency,
		Segment:          segment,
		Outcome:          outcome,
		CreatedBy:        "0911000001",
	}
}
