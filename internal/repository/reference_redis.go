package repository

import (
	"context"
	"fmt"
	"time"

	"storefront_gateway/internal/apperr"
	"storefront_gateway/types"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const (
	referenceKeyPrefix   = "payref:"
	transactionKeyPrefix = "paytx:"
)

// KEYS[1] ключ ссылки; ARGV: id, recipient, token, amount, description, created_at
const createReferenceScript = `
if redis.call('EXISTS', KEYS[1]) == 1 then
	return 0
end
redis.call('HSET', KEYS[1],
	'id', ARGV[1], 'state', 'pending',
	'recipient', ARGV[2], 'token', ARGV[3], 'amount', ARGV[4],
	'description', ARGV[5], 'created_at', ARGV[6])
return 1
`

// KEYS[1] ключ ссылки, KEYS[2] ключ транзакции; ARGV: state, transaction_id, finalized_at, reference id.
// При успехе возвращает хеш ссылки после записи, иначе код отказа.
const transitionReferenceScript = `
local state = redis.call('HGET', KEYS[1], 'state')
if not state then
	return -1
end
if state ~= 'pending' then
	return 0
end
if redis.call('SETNX', KEYS[2], ARGV[4]) == 0 then
	return -2
end
redis.call('HSET', KEYS[1], 'state', ARGV[1], 'transaction_id', ARGV[2], 'finalized_at', ARGV[3])
return redis.call('HGETALL', KEYS[1])
`

// redisClient подмножество *redis.Client, которое использует репозиторий
type redisClient interface {
	Eval(ctx context.Context, script string, keys []string, args ...interface{}) *redis.Cmd
	HGetAll(ctx context.Context, key string) *redis.MapStringStringCmd
}

type redisReferenceRepository struct {
	client redisClient
	now    func() time.Time
	logger *zap.Logger
}

func NewRedisReferenceRepository(client redisClient, logger *zap.Logger) ReferenceRepository {
	return &redisReferenceRepository{
		client: client,
		now:    time.Now,
		logger: logger,
	}
}

func (r *redisReferenceRepository) Create(ctx context.Context, intent types.PaymentIntent) (*types.PaymentReference, error) {
	id, err := NewReferenceID()
	if err != nil {
		return nil, apperr.Wrap(apperr.KindStoreUnavailable, apperr.ReasonNone, err, "failed to generate reference id")
	}

	createdAt := r.now().UTC()
	created, err := r.client.Eval(ctx, createReferenceScript, []string{referenceKeyPrefix + id},
		id, intent.Recipient, intent.Token, intent.Amount.String(), intent.Description,
		createdAt.Format(time.RFC3339Nano)).Int()
	if err != nil {
		r.logger.Error("failed to create reference", zap.Error(err))
		return nil, apperr.Wrap(apperr.KindStoreUnavailable, apperr.ReasonUnreachable, err, "failed to create reference")
	}
	if created != 1 {
		return nil, apperr.Newf(apperr.KindStoreUnavailable, "reference id collision: %s", id)
	}

	return &types.PaymentReference{
		ID:        id,
		State:     types.ReferenceStatePending,
		Intent:    intent,
		CreatedAt: createdAt,
	}, nil
}

func (r *redisReferenceRepository) Get(ctx context.Context, id string) (*types.PaymentReference, error) {
	fields, err := r.client.HGetAll(ctx, referenceKeyPrefix+id).Result()
	if err != nil {
		r.logger.Error("failed to get reference", zap.Error(err), zap.String("reference_id", id))
		return nil, apperr.Wrap(apperr.KindStoreUnavailable, apperr.ReasonUnreachable, err, "failed to get reference")
	}
	if len(fields) == 0 {
		return nil, notFound(id)
	}

	ref, err := parseReferenceHash(fields)
	if err != nil {
		r.logger.Error("corrupted reference record", zap.Error(err), zap.String("reference_id", id))
		return nil, apperr.Wrap(apperr.KindStoreUnavailable, apperr.ReasonNone, err, "corrupted reference record")
	}
	return ref, nil
}

func (r *redisReferenceRepository) Transition(ctx context.Context, id string, state types.ReferenceState, transactionID string) (*types.PaymentReference, error) {
	if err := validateTransition(id, state, transactionID); err != nil {
		return nil, err
	}

	keys := []string{referenceKeyPrefix + id, transactionKeyPrefix + transactionID}
	reply, err := r.client.Eval(ctx, transitionReferenceScript, keys,
		string(state), transactionID, r.now().UTC().Format(time.RFC3339Nano), id).Result()
	if err != nil {
		r.logger.Error("failed to transition reference", zap.Error(err), zap.String("reference_id", id))
		return nil, apperr.Wrap(apperr.KindStoreUnavailable, apperr.ReasonUnreachable, err, "failed to transition reference")
	}

	switch v := reply.(type) {
	case []interface{}:
		ref, err := parseTransitionReply(v)
		if err == nil {
			return ref, nil
		}
		r.logger.Error("corrupted reference record", zap.Error(err), zap.String("reference_id", id))
		return nil, apperr.Wrap(apperr.KindStoreUnavailable, apperr.ReasonNone, err, "corrupted reference record")
	case int64:
		switch v {
		case 0:
			return nil, alreadyFinalized(id)
		case -1:
			return nil, notFound(id)
		case -2:
			return nil, transactionReused(transactionID)
		}
	}

	return nil, apperr.Newf(apperr.KindStoreUnavailable, "unexpected transition result %v", reply)
}

func parseTransitionReply(reply []interface{}) (*types.PaymentReference, error) {
	fields, err := hashReplyFields(reply)
	if err != nil {
		return nil, err
	}
	return parseReferenceHash(fields)
}

// hashReplyFields разбирает плоский ответ HGETALL из Lua-скрипта
func hashReplyFields(reply []interface{}) (map[string]string, error) {
	if len(reply)%2 != 0 {
		return nil, fmt.Errorf("odd number of hash elements: %d", len(reply))
	}

	fields := make(map[string]string, len(reply)/2)
	for i := 0; i < len(reply); i += 2 {
		key, ok := reply[i].(string)
		if !ok {
			return nil, fmt.Errorf("unexpected hash key type %T", reply[i])
		}
		value, ok := reply[i+1].(string)
		if !ok {
			return nil, fmt.Errorf("unexpected hash value type %T", reply[i+1])
		}
		fields[key] = value
	}
	return fields, nil
}

func parseReferenceHash(fields map[string]string) (*types.PaymentReference, error) {
	createdAt, err := time.Parse(time.RFC3339Nano, fields["created_at"])
	if err != nil {
		return nil, fmt.Errorf("invalid created_at: %w", err)
	}

	amount := decimal.Zero
	if raw := fields["amount"]; raw != "" {
		amount, err = decimal.NewFromString(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid amount: %w", err)
		}
	}

	ref := &types.PaymentReference{
		ID:    fields["id"],
		State: types.ReferenceState(fields["state"]),
		Intent: types.PaymentIntent{
			Recipient:   fields["recipient"],
			Token:       fields["token"],
			Amount:      amount,
			Description: fields["description"],
		},
		TransactionID: fields["transaction_id"],
		CreatedAt:     createdAt,
	}

	if raw := fields["finalized_at"]; raw != "" {
		finalizedAt, err := time.Parse(time.RFC3339Nano, raw)
		if err != nil {
			return nil, fmt.Errorf("invalid finalized_at: %w", err)
		}
		ref.FinalizedAt = &finalizedAt
	}

	return ref, nil
}
