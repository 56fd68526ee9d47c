// Package apperr описывает классифицированные ошибки протокола проверки и оплаты.
// Сервисы возвращают наружу только *Error, чтобы вызывающая сторона никогда не
// трактовала неизвестный сбой как возможный успех.
package apperr

import (
	"context"
	"errors"
	"fmt"
)

// Kind класс отказа
type Kind string

const (
	KindUnknownReference           Kind = "unknown_reference"
	KindAlreadyFinalized           Kind = "already_finalized"
	KindExpired                    Kind = "expired"
	KindPaymentFailed              Kind = "payment_failed"
	KindActionMismatch             Kind = "action_mismatch"
	KindVerifierUnreachable        Kind = "verifier_unreachable"
	KindStatusAuthorityUnreachable Kind = "status_authority_unreachable"
	KindStoreUnavailable           Kind = "store_unavailable"
	KindInvalidRequest             Kind = "invalid_request"
	KindProofRejected              Kind = "proof_rejected"
	KindInsufficientLevel          Kind = "insufficient_verification_level"
	KindTransactionReused          Kind = "transaction_reused"
	KindInternal                   Kind = "internal"
)

// Reason нормализованная причина сбоя внешнего вызова
type Reason string

const (
	ReasonNone        Reason = ""
	ReasonUnreachable Reason = "unreachable"
	ReasonRejected    Reason = "rejected"
	ReasonTimeout     Reason = "timeout"
)

// Error ошибка с классом и причиной
type Error struct {
	Kind    Kind
	Reason  Reason
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// New создаёт ошибку без причины
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Newf создаёт ошибку с форматированным сообщением
func Newf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap оборачивает err. Истёкший дедлайн контекста всегда даёт ReasonTimeout.
func Wrap(kind Kind, reason Reason, err error, message string) *Error {
	if errors.Is(err, context.DeadlineExceeded) {
		reason = ReasonTimeout
	}
	return &Error{Kind: kind, Reason: reason, Message: message, Err: err}
}

// KindOf возвращает класс ошибки или KindInternal для неклассифицированных
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// ReasonOf возвращает причину ошибки
func ReasonOf(err error) Reason {
	var e *Error
	if errors.As(err, &e) {
		return e.Reason
	}
	return ReasonNone
}

// Is сообщает, что err принадлежит классу kind
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}
