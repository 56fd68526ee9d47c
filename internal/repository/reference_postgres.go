package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"storefront_gateway/internal/apperr"
	"storefront_gateway/types"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const (
	pgUniqueViolation       = "23505"
	transactionIDConstraint = "payment_references_transaction_id_key"
	referenceColumns        = `id, state, recipient, token, amount::text, description, COALESCE(transaction_id, ''), created_at, finalized_at`
)

// dbPool подмножество pgxpool.Pool, которое использует репозиторий
type dbPool interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type postgresReferenceRepository struct {
	db     dbPool
	logger *zap.Logger
}

func NewPostgresReferenceRepository(db dbPool, logger *zap.Logger) ReferenceRepository {
	return &postgresReferenceRepository{
		db:     db,
		logger: logger,
	}
}

func (r *postgresReferenceRepository) Create(ctx context.Context, intent types.PaymentIntent) (*types.PaymentReference, error) {
	id, err := NewReferenceID()
	if err != nil {
		return nil, apperr.Wrap(apperr.KindStoreUnavailable, apperr.ReasonNone, err, "failed to generate reference id")
	}

	query := `
		INSERT INTO payment_references (id, state, recipient, token, amount, description)
		VALUES ($1, $2, $3, $4, $5::numeric, $6)
		RETURNING created_at
	`

	var createdAt time.Time
	err = r.db.QueryRow(ctx, query, id, string(types.ReferenceStatePending),
		intent.Recipient, intent.Token, intent.Amount.String(), intent.Description).Scan(&createdAt)
	if err != nil {
		r.logger.Error("failed to create reference", zap.Error(err))
		return nil, apperr.Wrap(apperr.KindStoreUnavailable, apperr.ReasonUnreachable, err, "failed to create reference")
	}

	return &types.PaymentReference{
		ID:        id,
		State:     types.ReferenceStatePending,
		Intent:    intent,
		CreatedAt: createdAt,
	}, nil
}

func (r *postgresReferenceRepository) Get(ctx context.Context, id string) (*types.PaymentReference, error) {
	query := `SELECT ` + referenceColumns + ` FROM payment_references WHERE id = $1`

	ref, err := scanReference(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, notFound(id)
		}
		r.logger.Error("failed to get reference", zap.Error(err), zap.String("reference_id", id))
		return nil, apperr.Wrap(apperr.KindStoreUnavailable, apperr.ReasonUnreachable, err, "failed to get reference")
	}

	return ref, nil
}

func (r *postgresReferenceRepository) Transition(ctx context.Context, id string, state types.ReferenceState, transactionID string) (*types.PaymentReference, error) {
	if err := validateTransition(id, state, transactionID); err != nil {
		return nil, err
	}

	// Условие state = 'pending' делает UPDATE атомарным compare-and-swap
	query := `
		UPDATE payment_references
		SET state = $2, transaction_id = $3, finalized_at = now()
		WHERE id = $1 AND state = 'pending'
		RETURNING ` + referenceColumns

	ref, err := scanReference(r.db.QueryRow(ctx, query, id, string(state), transactionID))
	if err == nil {
		return ref, nil
	}

	if errors.Is(err, pgx.ErrNoRows) {
		// Строки нет или она уже не pending: различаем повторным чтением
		if _, getErr := r.Get(ctx, id); getErr != nil {
			return nil, getErr
		}
		return nil, alreadyFinalized(id)
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation && pgErr.ConstraintName == transactionIDConstraint {
		return nil, transactionReused(transactionID)
	}

	r.logger.Error("failed to transition reference", zap.Error(err), zap.String("reference_id", id))
	return nil, apperr.Wrap(apperr.KindStoreUnavailable, apperr.ReasonUnreachable, err, "failed to transition reference")
}

func scanReference(row pgx.Row) (*types.PaymentReference, error) {
	var (
		ref         types.PaymentReference
		state       string
		amount      string
		finalizedAt *time.Time
	)

	err := row.Scan(&ref.ID, &state, &ref.Intent.Recipient, &ref.Intent.Token, &amount,
		&ref.Intent.Description, &ref.TransactionID, &ref.CreatedAt, &finalizedAt)
	if err != nil {
		return nil, err
	}

	ref.State = types.ReferenceState(state)
	ref.FinalizedAt = finalizedAt
	ref.Intent.Amount, err = decimal.NewFromString(amount)
	if err != nil {
		return nil, fmt.Errorf("invalid amount %q for reference %s: %w", amount, ref.ID, err)
	}

	return &ref, nil
}
