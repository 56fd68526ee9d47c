package service

import (
	"context"

	"storefront_gateway/internal/adapter"
	"storefront_gateway/internal/apperr"
	"storefront_gateway/internal/messaging"
	"storefront_gateway/internal/metrics"
	"storefront_gateway/types"

	"go.uber.org/zap"
)

// VerificationService пропускает доказательство World ID к внешнему сервису для
// одного защищённого действия. Состояние «пользователь проверен» не хранит.
type VerificationService interface {
	Verify(ctx context.Context, claim types.VerificationClaim) (*types.VerificationResult, error)
}

type VerificationConfig struct {
	// Action действие, которое защищает сервис
	Action string
	// RequiredLevel минимальный уровень проверки; пустой не ограничивает
	RequiredLevel types.VerificationLevel
}

type verificationService struct {
	cfg      VerificationConfig
	verifier adapter.IdentityVerifier
	events   messaging.NATSClient
	metrics  *metrics.Metrics
	logger   *zap.Logger
}

func NewVerificationService(cfg VerificationConfig, verifier adapter.IdentityVerifier, events messaging.NATSClient, m *metrics.Metrics, logger *zap.Logger) VerificationService {
	return &verificationService{
		cfg:      cfg,
		verifier: verifier,
		events:   events,
		metrics:  m,
		logger:   logger,
	}
}

func (s *verificationService) Verify(ctx context.Context, claim types.VerificationClaim) (*types.VerificationResult, error) {
	result, err := s.verify(ctx, claim)
	if err != nil {
		s.metrics.VerificationOutcome(string(apperr.KindOf(err)))
		s.logger.Info("verification rejected",
			zap.String("action", claim.Action),
			zap.String("kind", string(apperr.KindOf(err))),
			zap.String("reason", string(apperr.ReasonOf(err))),
			zap.Error(err))
		return nil, err
	}

	s.metrics.VerificationOutcome("accepted")
	s.logger.Info("verification accepted",
		zap.String("action", result.Action),
		zap.String("verification_level", string(result.VerificationLevel)))

	if err := s.events.PublishIdentityVerified(ctx, result); err != nil {
		s.logger.Warn("failed to publish identity verified event", zap.Error(err))
	}

	return result, nil
}

func (s *verificationService) verify(ctx context.Context, claim types.VerificationClaim) (*types.VerificationResult, error) {
	// Доказательство для другого действия не принимается ни при каких условиях
	if claim.Action != s.cfg.Action {
		return nil, apperr.Newf(apperr.KindActionMismatch, "proof is for action %q, expected %q", claim.Action, s.cfg.Action)
	}

	if claim.Proof.Proof == "" || claim.Proof.MerkleRoot == "" || claim.Proof.NullifierHash == "" {
		return nil, apperr.New(apperr.KindInvalidRequest, "proof, merkle_root and nullifier_hash are required")
	}

	if s.cfg.RequiredLevel != "" && !claim.Proof.VerificationLevel.Satisfies(s.cfg.RequiredLevel) {
		return nil, apperr.Newf(apperr.KindInsufficientLevel, "verification level %q does not satisfy %q",
			claim.Proof.VerificationLevel, s.cfg.RequiredLevel)
	}

	verdict, err := s.verifier.Verify(ctx, claim)
	if err != nil {
		if apperr.KindOf(err) == apperr.KindInternal {
			return nil, apperr.Wrap(apperr.KindVerifierUnreachable, apperr.ReasonUnreachable, err, "identity verification failed")
		}
		return nil, err
	}

	if !verdict.Valid {
		return nil, apperr.Newf(apperr.KindProofRejected, "proof rejected by authority: %s %s", verdict.Code, verdict.Detail)
	}

	nullifier := verdict.NullifierHash
	if nullifier == "" {
		nullifier = claim.Proof.NullifierHash
	}

	return &types.VerificationResult{
		Action:            claim.Action,
		NullifierHash:     nullifier,
		VerificationLevel: claim.Proof.VerificationLevel,
	}, nil
}
