package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"storefront_gateway/internal/adapter"
	"storefront_gateway/internal/apperr"
	"storefront_gateway/internal/messaging"
	"storefront_gateway/internal/metrics"
	"storefront_gateway/internal/repository"
	"storefront_gateway/types"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const DefaultReferenceTTL = time.Hour

// PaymentService двухфазный протокол оплаты: выпуск ссылки и подтверждение по
// авторитетному статусу транзакции. Статус, присланный клиентом, не учитывается.
type PaymentService interface {
	IssueReference(ctx context.Context) (*types.PaymentReference, error)
	Confirm(ctx context.Context, referenceID, transactionID string) (*types.PaymentReference, error)
	GetReference(ctx context.Context, id string) (*types.PaymentReference, error)
}

type PaymentConfig struct {
	// ReferenceTTL окно, в течение которого ссылку можно подтвердить
	ReferenceTTL time.Duration
	// Intent параметры товара, привязываемые к каждой ссылке
	Intent types.PaymentIntent
	// Now источник времени; по умолчанию time.Now
	Now func() time.Time
}

type paymentService struct {
	cfg       PaymentConfig
	repo      repository.ReferenceRepository
	authority adapter.PaymentStatusAuthority
	events    messaging.NATSClient
	metrics   *metrics.Metrics
	logger    *zap.Logger
}

func NewPaymentService(cfg PaymentConfig, repo repository.ReferenceRepository, authority adapter.PaymentStatusAuthority, events messaging.NATSClient, m *metrics.Metrics, logger *zap.Logger) PaymentService {
	if cfg.ReferenceTTL <= 0 {
		cfg.ReferenceTTL = DefaultReferenceTTL
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	return &paymentService{
		cfg:       cfg,
		repo:      repo,
		authority: authority,
		events:    events,
		metrics:   m,
		logger:    logger,
	}
}

func (s *paymentService) IssueReference(ctx context.Context) (*types.PaymentReference, error) {
	ref, err := s.repo.Create(ctx, s.cfg.Intent)
	if err != nil {
		s.logger.Error("failed to issue reference", zap.Error(err))
		return nil, err
	}

	s.metrics.ReferenceIssued()
	s.logger.Info("payment reference issued", zap.String("reference_id", ref.ID))
	return ref, nil
}

func (s *paymentService) GetReference(ctx context.Context, id string) (*types.PaymentReference, error) {
	if id == "" {
		return nil, apperr.New(apperr.KindInvalidRequest, "reference id cannot be empty")
	}
	return s.repo.Get(ctx, id)
}

func (s *paymentService) Confirm(ctx context.Context, referenceID, transactionID string) (*types.PaymentReference, error) {
	// Обрыв клиента не прерывает подтверждение: вызов сервиса статусов ограничен
	// собственным таймаутом адаптера, а переход в хранилище должен дойти до конца
	ctx = context.WithoutCancel(ctx)

	ref, err := s.confirm(ctx, referenceID, transactionID)

	outcome := "confirmed"
	if err != nil {
		outcome = string(apperr.KindOf(err))
	}
	s.metrics.ConfirmationOutcome(outcome)

	return ref, err
}

func (s *paymentService) confirm(ctx context.Context, referenceID, transactionID string) (*types.PaymentReference, error) {
	if referenceID == "" || transactionID == "" {
		return nil, apperr.New(apperr.KindInvalidRequest, "reference and transaction id are required")
	}

	ref, err := s.repo.Get(ctx, referenceID)
	if err != nil {
		s.logger.Info("confirmation for unknown reference", zap.String("reference_id", referenceID), zap.Error(err))
		return nil, err
	}

	// Повторное подтверждение ничего не делает и не обращается к внешнему сервису
	if ref.State.IsFinal() {
		return nil, apperr.Newf(apperr.KindAlreadyFinalized, "reference %s is already %s", ref.ID, ref.State)
	}

	if age := s.cfg.Now().Sub(ref.CreatedAt); age > s.cfg.ReferenceTTL {
		s.logger.Info("confirmation for expired reference",
			zap.String("reference_id", ref.ID),
			zap.Duration("age", age))
		return nil, apperr.Newf(apperr.KindExpired, "reference %s expired", ref.ID)
	}

	// Внешний вызов выполняется до перехода состояния и без блокировок в хранилище
	tx, err := s.authority.Transaction(ctx, transactionID)
	if err != nil {
		if apperr.KindOf(err) == apperr.KindInternal {
			err = apperr.Wrap(apperr.KindStatusAuthorityUnreachable, apperr.ReasonUnreachable, err, "transaction lookup failed")
		}
		s.logger.Warn("transaction status unavailable",
			zap.String("reference_id", ref.ID),
			zap.String("transaction_id", transactionID),
			zap.Error(err))
		return nil, err
	}

	var failure string
	if tx.Failed() {
		failure = fmt.Sprintf("authority reports transaction %s", tx.Status)
	} else {
		failure = bindingMismatch(ref, tx)
	}

	if failure != "" {
		failed, err := s.finalize(ctx, ref.ID, types.ReferenceStateFailed, transactionID)
		if err != nil {
			return nil, err
		}
		s.logger.Info("payment failed",
			zap.String("reference_id", ref.ID),
			zap.String("transaction_id", transactionID),
			zap.String("reason", failure))
		return failed, apperr.Newf(apperr.KindPaymentFailed, "payment for reference %s failed: %s", ref.ID, failure)
	}

	confirmed, err := s.finalize(ctx, ref.ID, types.ReferenceStateConfirmed, transactionID)
	if err != nil {
		return nil, err
	}

	s.logger.Info("payment confirmed",
		zap.String("reference_id", confirmed.ID),
		zap.String("transaction_id", transactionID),
		zap.String("transaction_status", tx.Status))
	return confirmed, nil
}

// finalize выполняет CAS-переход и только после успеха публикует событие
func (s *paymentService) finalize(ctx context.Context, id string, state types.ReferenceState, transactionID string) (*types.PaymentReference, error) {
	ref, err := s.repo.Transition(ctx, id, state, transactionID)
	if err != nil {
		s.logger.Info("reference transition rejected",
			zap.String("reference_id", id),
			zap.String("state", string(state)),
			zap.String("kind", string(apperr.KindOf(err))))
		return nil, err
	}

	if err := s.events.PublishPaymentSettled(ctx, ref); err != nil {
		s.logger.Error("failed to publish payment settled event", zap.Error(err), zap.String("reference_id", id))
	}

	return ref, nil
}

// bindingMismatch сверяет поля, которые сообщил сервис статусов, с параметрами ссылки.
// Поля, которых нет в ответе, не проверяются.
func bindingMismatch(ref *types.PaymentReference, tx *adapter.Transaction) string {
	if tx.Reference != "" && tx.Reference != ref.ID {
		return fmt.Sprintf("transaction belongs to reference %s", tx.Reference)
	}

	intent := ref.Intent
	if intent.Recipient != "" && tx.Recipient != "" && !sameAddress(intent.Recipient, tx.Recipient) {
		return fmt.Sprintf("recipient %s does not match %s", tx.Recipient, intent.Recipient)
	}

	if intent.Token != "" && tx.Token != "" && !sameToken(intent.Token, tx.Token) {
		return fmt.Sprintf("token %s does not match %s", tx.Token, intent.Token)
	}

	if intent.Amount.IsPositive() && tx.TokenAmount != "" {
		reported, err := decimal.NewFromString(tx.TokenAmount)
		if err != nil {
			return fmt.Sprintf("invalid token amount %q", tx.TokenAmount)
		}
		if expected := intent.TokenAmount(); !reported.Equal(expected) {
			return fmt.Sprintf("token amount %s does not match %s", reported, expected)
		}
	}

	return ""
}

func sameAddress(a, b string) bool {
	if common.IsHexAddress(a) && common.IsHexAddress(b) {
		return common.HexToAddress(a) == common.HexToAddress(b)
	}
	return strings.EqualFold(a, b)
}

// sameToken сравнивает символы без учёта регистра; USDC.e и USDCE считаются USDC
func sameToken(a, b string) bool {
	normalize := func(s string) string {
		s = strings.ToUpper(strings.TrimSpace(s))
		if s == "USDCE" || s == "USDC.E" {
			return "USDC"
		}
		return s
	}
	return normalize(a) == normalize(b)
}
