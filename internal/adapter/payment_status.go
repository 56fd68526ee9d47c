package adapter

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"storefront_gateway/internal/apperr"
	"storefront_gateway/internal/metrics"

	"go.uber.org/zap"
)

const paymentAuthority = "payment_status"

const (
	TransactionStatusPending = "pending"
	TransactionStatusMined   = "mined"
	TransactionStatusFailed  = "failed"
	// TransactionStatusUnknown сервис не знает такую транзакцию (404)
	TransactionStatusUnknown = "unknown"
)

// Transaction нормализованный ответ сервиса статусов транзакций
type Transaction struct {
	ID          string
	Hash        string
	Status      string
	Reference   string
	Recipient   string
	Token       string
	TokenAmount string
}

// Failed сообщает, что сервис явно сообщил о неудаче или не знает транзакцию.
// Любой другой статус, включая пустой, считается успешным.
func (t *Transaction) Failed() bool {
	return t.Status == TransactionStatusFailed || t.Status == TransactionStatusUnknown
}

// PaymentStatusAuthority получает авторитетный статус транзакции
type PaymentStatusAuthority interface {
	Transaction(ctx context.Context, transactionID string) (*Transaction, error)
}

type paymentStatusAuthority struct {
	worldClient
}

func NewPaymentStatusAuthority(cfg Config, m *metrics.Metrics, logger *zap.Logger) PaymentStatusAuthority {
	return &paymentStatusAuthority{worldClient: newWorldClient(cfg, m, logger)}
}

type transactionResponse struct {
	TransactionID     string `json:"transactionId"`
	TransactionHash   string `json:"transactionHash"`
	TransactionStatus string `json:"transactionStatus"`
	Status            string `json:"status"`
	Reference         string `json:"reference"`
	RecipientAddress  string `json:"recipientAddress"`
	InputToken        string `json:"inputToken"`
	InputTokenAmount  string `json:"inputTokenAmount"`
}

func (a *paymentStatusAuthority) Transaction(ctx context.Context, transactionID string) (*Transaction, error) {
	query := url.Values{"app_id": []string{a.appID}}
	endpoint := fmt.Sprintf("%s/api/v2/minikit/transaction/%s?%s", a.baseURL, url.PathEscape(transactionID), query.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindStatusAuthorityUnreachable, apperr.ReasonNone, err, "failed to create transaction request")
	}
	req.Header.Set("Authorization", "Bearer "+a.apiKey)

	status, body, err := a.do(ctx, paymentAuthority, req)
	if err != nil {
		a.logger.Warn("payment status authority unreachable", zap.Error(err), zap.String("transaction_id", transactionID))
		return nil, apperr.Wrap(apperr.KindStatusAuthorityUnreachable, transportReason(err), err, "transaction request failed")
	}

	if status == http.StatusNotFound {
		a.logger.Info("transaction unknown to authority", zap.String("transaction_id", transactionID))
		return &Transaction{ID: transactionID, Status: TransactionStatusUnknown}, nil
	}

	if !isSuccess(status) {
		a.logger.Warn("payment status authority returned error status",
			zap.Int("status", status),
			zap.String("transaction_id", transactionID),
			zap.String("body", truncate(body)))
		return nil, apperr.Wrap(apperr.KindStatusAuthorityUnreachable, statusReason(status),
			fmt.Errorf("status %d: %s", status, truncate(body)), "payment status authority rejected request")
	}

	var resp transactionResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, apperr.Wrap(apperr.KindStatusAuthorityUnreachable, apperr.ReasonUnreachable, err, "failed to decode transaction response")
	}

	txStatus := resp.TransactionStatus
	if txStatus == "" {
		txStatus = resp.Status
	}

	id := resp.TransactionID
	if id == "" {
		id = transactionID
	}

	return &Transaction{
		ID:          id,
		Hash:        resp.TransactionHash,
		Status:      strings.ToLower(strings.TrimSpace(txStatus)),
		Reference:   resp.Reference,
		Recipient:   resp.RecipientAddress,
		Token:       resp.InputToken,
		TokenAmount: resp.InputTokenAmount,
	}, nil
}
