package adapter

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"net/url"

	"storefront_gateway/internal/apperr"
	"storefront_gateway/internal/metrics"
	"storefront_gateway/types"

	"github.com/ethereum/go-ethereum/crypto"
	"go.uber.org/zap"
)

const identityAuthority = "identity"

// IdentityVerdict нормализованный ответ сервиса проверки доказательств
type IdentityVerdict struct {
	Valid         bool
	Code          string
	Detail        string
	NullifierHash string
}

// IdentityVerifier проверяет доказательство World ID во внешнем сервисе
type IdentityVerifier interface {
	Verify(ctx context.Context, claim types.VerificationClaim) (*IdentityVerdict, error)
}

type identityVerifier struct {
	worldClient
}

func NewIdentityVerifier(cfg Config, m *metrics.Metrics, logger *zap.Logger) IdentityVerifier {
	return &identityVerifier{worldClient: newWorldClient(cfg, m, logger)}
}

type verifyRequest struct {
	NullifierHash     string `json:"nullifier_hash"`
	MerkleRoot        string `json:"merkle_root"`
	Proof             string `json:"proof"`
	VerificationLevel string `json:"verification_level"`
	Action            string `json:"action"`
	SignalHash        string `json:"signal_hash,omitempty"`
}

type verifyResponse struct {
	Success       bool   `json:"success"`
	Action        string `json:"action"`
	NullifierHash string `json:"nullifier_hash"`
	Code          string `json:"code"`
	Detail        string `json:"detail"`
}

func (v *identityVerifier) Verify(ctx context.Context, claim types.VerificationClaim) (*IdentityVerdict, error) {
	reqBody := verifyRequest{
		NullifierHash:     claim.Proof.NullifierHash,
		MerkleRoot:        claim.Proof.MerkleRoot,
		Proof:             claim.Proof.Proof,
		VerificationLevel: string(claim.Proof.VerificationLevel),
		Action:            claim.Action,
	}
	if claim.Signal != "" {
		reqBody.SignalHash = SignalHash(claim.Signal)
	}

	body, err := json.Marshal(reqBody)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindVerifierUnreachable, apperr.ReasonNone, err, "failed to marshal verify request")
	}

	endpoint := fmt.Sprintf("%s/api/v2/verify/%s", v.baseURL, url.PathEscape(v.appID))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, apperr.Wrap(apperr.KindVerifierUnreachable, apperr.ReasonNone, err, "failed to create verify request")
	}
	req.Header.Set("Content-Type", "application/json")

	status, respBody, err := v.do(ctx, identityAuthority, req)
	if err != nil {
		v.logger.Warn("identity authority unreachable", zap.Error(err), zap.String("action", claim.Action))
		return nil, apperr.Wrap(apperr.KindVerifierUnreachable, transportReason(err), err, "verify request failed")
	}

	if !isSuccess(status) {
		v.logger.Warn("identity authority returned error status",
			zap.Int("status", status),
			zap.String("action", claim.Action),
			zap.String("body", truncate(respBody)))
		return nil, apperr.Wrap(apperr.KindVerifierUnreachable, statusReason(status),
			fmt.Errorf("status %d: %s", status, truncate(respBody)), "identity authority rejected request")
	}

	var resp verifyResponse
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return nil, apperr.Wrap(apperr.KindVerifierUnreachable, apperr.ReasonUnreachable, err, "failed to decode verify response")
	}

	// Успех для чужого действия не засчитывается
	if resp.Success && resp.Action != "" && resp.Action != claim.Action {
		v.logger.Warn("identity authority confirmed another action",
			zap.String("action", claim.Action),
			zap.String("confirmed_action", resp.Action))
		return nil, apperr.Newf(apperr.KindActionMismatch, "authority confirmed action %q, expected %q", resp.Action, claim.Action)
	}

	return &IdentityVerdict{
		Valid:         resp.Success,
		Code:          resp.Code,
		Detail:        resp.Detail,
		NullifierHash: resp.NullifierHash,
	}, nil
}

// SignalHash хэширует сигнал так же, как World ID: keccak256, сдвинутый на 8 бит
// вправо, чтобы попасть в поле SNARK-схемы.
func SignalHash(signal string) string {
	hash := new(big.Int).SetBytes(crypto.Keccak256([]byte(signal)))
	hash.Rsh(hash, 8)
	return fmt.Sprintf("0x%064x", hash)
}
