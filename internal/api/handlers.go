package api

import (
	"net/http"

	"storefront_gateway/internal/apperr"
	"storefront_gateway/types"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type verifyRequest struct {
	Payload struct {
		Proof             string `json:"proof"`
		MerkleRoot        string `json:"merkle_root"`
		NullifierHash     string `json:"nullifier_hash"`
		VerificationLevel string `json:"verification_level"`
	} `json:"payload"`
	Action string `json:"action"`
	Signal string `json:"signal"`
}

type verifyResponse struct {
	Success           bool   `json:"success"`
	NullifierHash     string `json:"nullifier_hash"`
	VerificationLevel string `json:"verification_level"`
}

func (h *Handler) Verify(c *gin.Context) {
	var req verifyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, apperr.Wrap(apperr.KindInvalidRequest, apperr.ReasonNone, err, "malformed verify request"), nil)
		return
	}

	result, err := h.verificationService.Verify(c.Request.Context(), types.VerificationClaim{
		Action: req.Action,
		Signal: req.Signal,
		Proof: types.WorldIDProof{
			Proof:             req.Payload.Proof,
			MerkleRoot:        req.Payload.MerkleRoot,
			NullifierHash:     req.Payload.NullifierHash,
			VerificationLevel: types.VerificationLevel(req.Payload.VerificationLevel),
		},
	})
	if err != nil {
		writeError(c, err, nil)
		return
	}

	c.JSON(http.StatusOK, verifyResponse{
		Success:           true,
		NullifierHash:     result.NullifierHash,
		VerificationLevel: string(result.VerificationLevel),
	})
}

// tokenAmount сумма в минимальных единицах токена, как её ждёт кошелёк
type tokenAmount struct {
	Symbol      string `json:"symbol"`
	TokenAmount string `json:"token_amount"`
}

type initiatePaymentResponse struct {
	ID          string        `json:"id"`
	To          string        `json:"to"`
	Tokens      []tokenAmount `json:"tokens"`
	Description string        `json:"description"`
}

func (h *Handler) InitiatePayment(c *gin.Context) {
	ref, err := h.paymentService.IssueReference(c.Request.Context())
	if err != nil {
		writeError(c, err, nil)
		return
	}

	c.JSON(http.StatusOK, initiatePaymentResponse{
		ID: ref.ID,
		To: ref.Intent.Recipient,
		Tokens: []tokenAmount{{
			Symbol:      ref.Intent.Token,
			TokenAmount: ref.Intent.TokenAmount().String(),
		}},
		Description: ref.Intent.Description,
	})
}

type confirmPaymentRequest struct {
	Payload struct {
		Reference     string `json:"reference"`
		TransactionID string `json:"transaction_id"`
		// Status подсказка клиента; только логируется
		Status string `json:"status"`
	} `json:"payload"`
}

type confirmPaymentResponse struct {
	Success   bool                    `json:"success"`
	Reference *types.PaymentReference `json:"reference"`
}

func (h *Handler) ConfirmPayment(c *gin.Context) {
	var req confirmPaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, apperr.Wrap(apperr.KindInvalidRequest, apperr.ReasonNone, err, "malformed confirm request"), nil)
		return
	}

	h.logger.Info("payment confirmation requested",
		zap.String("request_id", getRequestID(c)),
		zap.String("reference_id", req.Payload.Reference),
		zap.String("transaction_id", req.Payload.TransactionID),
		zap.String("client_status", req.Payload.Status))

	ref, err := h.paymentService.Confirm(c.Request.Context(), req.Payload.Reference, req.Payload.TransactionID)
	if err != nil {
		// ref непустой только для payment_failed
		writeError(c, err, ref)
		return
	}

	c.JSON(http.StatusOK, confirmPaymentResponse{Success: true, Reference: ref})
}

func (h *Handler) GetPayment(c *gin.Context) {
	ref, err := h.paymentService.GetReference(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err, nil)
		return
	}

	c.JSON(http.StatusOK, ref)
}
