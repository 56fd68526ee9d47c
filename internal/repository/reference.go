package repository

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"

	"storefront_gateway/internal/apperr"
	"storefront_gateway/types"
)

// ReferenceRepository хранилище платёжных ссылок.
//
// Transition выполняется как compare-and-swap по state == pending: из нескольких
// конкурентных вызовов для одного id успешен ровно один, остальные получают
// apperr.KindAlreadyFinalized. Координация между инстансами идёт только через хранилище.
type ReferenceRepository interface {
	Create(ctx context.Context, intent types.PaymentIntent) (*types.PaymentReference, error)
	Get(ctx context.Context, id string) (*types.PaymentReference, error)
	Transition(ctx context.Context, id string, state types.ReferenceState, transactionID string) (*types.PaymentReference, error)
}

// referenceIDBytes 128 бит энтропии
const referenceIDBytes = 16

// NewReferenceID генерирует непредсказуемый идентификатор ссылки (32 hex-символа)
func NewReferenceID() (string, error) {
	buf := make([]byte, referenceIDBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to read random bytes: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

func validateTransition(id string, state types.ReferenceState, transactionID string) error {
	if id == "" {
		return apperr.New(apperr.KindInvalidRequest, "reference id cannot be empty")
	}
	if !state.IsFinal() {
		return apperr.Newf(apperr.KindInvalidRequest, "cannot transition reference to %q", state)
	}
	if transactionID == "" {
		return apperr.New(apperr.KindInvalidRequest, "transaction id cannot be empty")
	}
	return nil
}

func notFound(id string) error {
	return apperr.Newf(apperr.KindUnknownReference, "reference %s not found", id)
}

func alreadyFinalized(id string) error {
	return apperr.Newf(apperr.KindAlreadyFinalized, "reference %s is already finalized", id)
}

func transactionReused(transactionID string) error {
	return apperr.Newf(apperr.KindTransactionReused, "transaction %s is already bound to another reference", transactionID)
}
