package messaging

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"storefront_gateway/types"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

const (
	SubjectPaymentSettled   = "payment.settled"
	SubjectIdentityVerified = "identity.verified"
)

type NATSClient interface {
	PublishPaymentSettled(ctx context.Context, ref *types.PaymentReference) error
	PublishIdentityVerified(ctx context.Context, result *types.VerificationResult) error
	SubscribePaymentSettled(ctx context.Context, handler func(*PaymentSettledMessage)) error
	Close()
}

// natsConnection подмножество nats.Conn
type natsConnection interface {
	Publish(subj string, data []byte) error
	Subscribe(subj string, cb nats.MsgHandler) (*nats.Subscription, error)
	Close()
}

type natsClient struct {
	conn   natsConnection
	logger *zap.Logger
}

func NewNATSClient(url string, logger *zap.Logger) (NATSClient, error) {
	conn, err := nats.Connect(url, nats.Name("storefront-gateway"))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	logger.Info("connected to NATS", zap.String("url", url))
	return &natsClient{
		conn:   conn,
		logger: logger,
	}, nil
}

// PaymentSettledMessage событие о финализации платёжной ссылки.
// Публикуется только после успешного перехода состояния в хранилище.
type PaymentSettledMessage struct {
	EventID       string    `json:"event_id"`
	ReferenceID   string    `json:"reference_id"`
	TransactionID string    `json:"transaction_id"`
	State         string    `json:"state"`
	Recipient     string    `json:"recipient,omitempty"`
	Token         string    `json:"token,omitempty"`
	Amount        string    `json:"amount,omitempty"`
	FinalizedAt   time.Time `json:"finalized_at"`
}

type IdentityVerifiedMessage struct {
	EventID           string    `json:"event_id"`
	Action            string    `json:"action"`
	NullifierHash     string    `json:"nullifier_hash"`
	VerificationLevel string    `json:"verification_level"`
	VerifiedAt        time.Time `json:"verified_at"`
}

func (c *natsClient) PublishPaymentSettled(ctx context.Context, ref *types.PaymentReference) error {
	finalizedAt := time.Now().UTC()
	if ref.FinalizedAt != nil {
		finalizedAt = *ref.FinalizedAt
	}

	msg := PaymentSettledMessage{
		EventID:       uuid.NewString(),
		ReferenceID:   ref.ID,
		TransactionID: ref.TransactionID,
		State:         string(ref.State),
		Recipient:     ref.Intent.Recipient,
		Token:         ref.Intent.Token,
		Amount:        ref.Intent.Amount.String(),
		FinalizedAt:   finalizedAt,
	}

	if err := c.publish(SubjectPaymentSettled, msg); err != nil {
		c.logger.Error("failed to publish payment settled", zap.Error(err), zap.String("reference_id", ref.ID))
		return fmt.Errorf("failed to publish payment settled: %w", err)
	}

	c.logger.Info("payment settled published", zap.String("reference_id", ref.ID), zap.String("state", msg.State))
	return nil
}

func (c *natsClient) PublishIdentityVerified(ctx context.Context, result *types.VerificationResult) error {
	msg := IdentityVerifiedMessage{
		EventID:           uuid.NewString(),
		Action:            result.Action,
		NullifierHash:     result.NullifierHash,
		VerificationLevel: string(result.VerificationLevel),
		VerifiedAt:        time.Now().UTC(),
	}

	if err := c.publish(SubjectIdentityVerified, msg); err != nil {
		c.logger.Error("failed to publish identity verified", zap.Error(err), zap.String("action", result.Action))
		return fmt.Errorf("failed to publish identity verified: %w", err)
	}

	c.logger.Debug("identity verified published", zap.String("action", result.Action))
	return nil
}

func (c *natsClient) publish(subject string, msg any) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}
	return c.conn.Publish(subject, data)
}

func (c *natsClient) SubscribePaymentSettled(ctx context.Context, handler func(*PaymentSettledMessage)) error {
	_, err := c.conn.Subscribe(SubjectPaymentSettled, func(msg *nats.Msg) {
		var settled PaymentSettledMessage
		if err := json.Unmarshal(msg.Data, &settled); err != nil {
			c.logger.Error("failed to unmarshal payment settled message", zap.Error(err))
			return
		}

		handler(&settled)
		c.logger.Debug("payment settled message processed", zap.String("reference_id", settled.ReferenceID), zap.String("state", settled.State))
	})

	if err != nil {
		c.logger.Error("failed to subscribe to payment settled", zap.Error(err))
		return fmt.Errorf("failed to subscribe to payment settled: %w", err)
	}

	c.logger.Info("subscribed to payment settled messages")
	return nil
}

func (c *natsClient) Close() {
	if c.conn != nil {
		c.conn.Close()
		c.logger.Info("NATS connection closed")
	}
}

// noopClient используется, когда NATS не настроен
type noopClient struct {
	logger *zap.Logger
}

func NewNoopClient(logger *zap.Logger) NATSClient {
	return &noopClient{logger: logger}
}

func (c *noopClient) PublishPaymentSettled(ctx context.Context, ref *types.PaymentReference) error {
	c.logger.Debug("event publishing disabled", zap.String("subject", SubjectPaymentSettled), zap.String("reference_id", ref.ID))
	return nil
}

func (c *noopClient) PublishIdentityVerified(ctx context.Context, result *types.VerificationResult) error {
	return nil
}

func (c *noopClient) SubscribePaymentSettled(ctx context.Context, handler func(*PaymentSettledMessage)) error {
	return nil
}

func (c *noopClient) Close() {}
