package service

import (
	"context"
	"sync"

	"storefront_gateway/internal/adapter"
	"storefront_gateway/internal/messaging"
	"storefront_gateway/types"
)

// Mock для IdentityVerifier
type mockIdentityVerifier struct {
	verifyFunc func(ctx context.Context, claim types.VerificationClaim) (*adapter.IdentityVerdict, error)
	calls      int
}

func (m *mockIdentityVerifier) Verify(ctx context.Context, claim types.VerificationClaim) (*adapter.IdentityVerdict, error) {
	m.calls++
	if m.verifyFunc != nil {
		return m.verifyFunc(ctx, claim)
	}
	return &adapter.IdentityVerdict{Valid: true}, nil
}

// Mock для PaymentStatusAuthority; безопасен для конкурентных вызовов
type mockPaymentAuthority struct {
	mu              sync.Mutex
	transactionFunc func(ctx context.Context, transactionID string) (*adapter.Transaction, error)
	calls           int
}

func (m *mockPaymentAuthority) Transaction(ctx context.Context, transactionID string) (*adapter.Transaction, error) {
	m.mu.Lock()
	m.calls++
	m.mu.Unlock()
	if m.transactionFunc != nil {
		return m.transactionFunc(ctx, transactionID)
	}
	return &adapter.Transaction{ID: transactionID, Status: adapter.TransactionStatusMined}, nil
}

func (m *mockPaymentAuthority) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// Mock для NATSClient
type mockNATSClient struct {
	mu                 sync.Mutex
	settled            []*types.PaymentReference
	verified           []*types.VerificationResult
	publishSettledErr  error
	publishVerifiedErr error
}

func (m *mockNATSClient) PublishPaymentSettled(ctx context.Context, ref *types.PaymentReference) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.settled = append(m.settled, ref)
	return m.publishSettledErr
}

func (m *mockNATSClient) PublishIdentityVerified(ctx context.Context, result *types.VerificationResult) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.verified = append(m.verified, result)
	return m.publishVerifiedErr
}

func (m *mockNATSClient) SubscribePaymentSettled(ctx context.Context, handler func(*messaging.PaymentSettledMessage)) error {
	return nil
}

func (m *mockNATSClient) Close() {}

func (m *mockNATSClient) settledCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.settled)
}

// Mock для ReferenceRepository
type mockReferenceRepository struct {
	createFunc     func(ctx context.Context, intent types.PaymentIntent) (*types.PaymentReference, error)
	getFunc        func(ctx context.Context, id string) (*types.PaymentReference, error)
	transitionFunc func(ctx context.Context, id string, state types.ReferenceState, transactionID string) (*types.PaymentReference, error)
}

func (m *mockReferenceRepository) Create(ctx context.Context, intent types.PaymentIntent) (*types.PaymentReference, error) {
	if m.createFunc != nil {
		return m.createFunc(ctx, intent)
	}
	return nil, nil
}

func (m *mockReferenceRepository) Get(ctx context.Context, id string) (*types.PaymentReference, error) {
	if m.getFunc != nil {
		return m.getFunc(ctx, id)
	}
	return nil, nil
}

func (m *mockReferenceRepository) Transition(ctx context.Context, id string, state types.ReferenceState, transactionID string) (*types.PaymentReference, error) {
	if m.transitionFunc != nil {
		return m.transitionFunc(ctx, id, state, transactionID)
	}
	return nil, nil
}
