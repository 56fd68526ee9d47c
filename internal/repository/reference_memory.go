package repository

import (
	"context"
	"sync"
	"time"

	"storefront_gateway/internal/apperr"
	"storefront_gateway/types"

	"go.uber.org/zap"
)

// memoryReferenceRepository хранилище в памяти процесса. Годится для одного инстанса и тестов.
type memoryReferenceRepository struct {
	mu     sync.Mutex
	refs   map[string]types.PaymentReference
	byTxID map[string]string
	now    func() time.Time
	logger *zap.Logger
}

func NewMemoryReferenceRepository(logger *zap.Logger) ReferenceRepository {
	return &memoryReferenceRepository{
		refs:   make(map[string]types.PaymentReference),
		byTxID: make(map[string]string),
		now:    time.Now,
		logger: logger,
	}
}

func (r *memoryReferenceRepository) Create(ctx context.Context, intent types.PaymentIntent) (*types.PaymentReference, error) {
	id, err := NewReferenceID()
	if err != nil {
		return nil, apperr.Wrap(apperr.KindStoreUnavailable, apperr.ReasonNone, err, "failed to generate reference id")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.refs[id]; exists {
		return nil, apperr.Newf(apperr.KindStoreUnavailable, "reference id collision: %s", id)
	}

	ref := types.PaymentReference{
		ID:        id,
		State:     types.ReferenceStatePending,
		Intent:    intent,
		CreatedAt: r.now().UTC(),
	}
	r.refs[id] = ref

	r.logger.Debug("reference created", zap.String("reference_id", id))
	return &ref, nil
}

func (r *memoryReferenceRepository) Get(ctx context.Context, id string) (*types.PaymentReference, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	ref, ok := r.refs[id]
	if !ok {
		return nil, notFound(id)
	}
	return &ref, nil
}

func (r *memoryReferenceRepository) Transition(ctx context.Context, id string, state types.ReferenceState, transactionID string) (*types.PaymentReference, error) {
	if err := validateTransition(id, state, transactionID); err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	ref, ok := r.refs[id]
	if !ok {
		return nil, notFound(id)
	}
	if ref.State != types.ReferenceStatePending {
		return nil, alreadyFinalized(id)
	}
	if owner, taken := r.byTxID[transactionID]; taken && owner != id {
		return nil, transactionReused(transactionID)
	}

	finalizedAt := r.now().UTC()
	ref.State = state
	ref.TransactionID = transactionID
	ref.FinalizedAt = &finalizedAt
	r.refs[id] = ref
	r.byTxID[transactionID] = id

	r.logger.Debug("reference finalized",
		zap.String("reference_id", id),
		zap.String("state", string(state)),
		zap.String("transaction_id", transactionID))
	return &ref, nil
}
