package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"storefront_gateway/internal/adapter"
	"storefront_gateway/internal/apperr"
	"storefront_gateway/internal/metrics"
	"storefront_gateway/internal/repository"
	"storefront_gateway/types"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

const testRecipient = "0x6B175474E89094C44Da98b954EedeAC495271d0F"

func testIntent() types.PaymentIntent {
	return types.PaymentIntent{
		Recipient:   testRecipient,
		Token:       "USDC",
		Amount:      decimal.RequireFromString("0.5"),
		Description: "World Chain T-Shirt",
	}
}

func statusAuthority(statuses map[string]string) *mockPaymentAuthority {
	return &mockPaymentAuthority{
		transactionFunc: func(ctx context.Context, transactionID string) (*adapter.Transaction, error) {
			status, ok := statuses[transactionID]
			if !ok {
				status = adapter.TransactionStatusUnknown
			}
			return &adapter.Transaction{ID: transactionID, Status: status}, nil
		},
	}
}

type paymentFixture struct {
	service   PaymentService
	repo      repository.ReferenceRepository
	authority *mockPaymentAuthority
	events    *mockNATSClient
}

func newPaymentFixture(t *testing.T, authority *mockPaymentAuthority, now func() time.Time) *paymentFixture {
	t.Helper()
	logger := zaptest.NewLogger(t)
	repo := repository.NewMemoryReferenceRepository(logger)
	events := &mockNATSClient{}

	service := NewPaymentService(PaymentConfig{
		Intent: testIntent(),
		Now:    now,
	}, repo, authority, events, metrics.New(), logger)

	return &paymentFixture{service: service, repo: repo, authority: authority, events: events}
}

func TestIssueReference(t *testing.T) {
	f := newPaymentFixture(t, statusAuthority(nil), nil)
	ctx := context.Background()

	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		ref, err := f.service.IssueReference(ctx)
		require.NoError(t, err)
		assert.Len(t, ref.ID, 32)
		assert.Equal(t, types.ReferenceStatePending, ref.State)
		assert.Empty(t, ref.TransactionID)
		assert.Equal(t, testRecipient, ref.Intent.Recipient)
		assert.False(t, seen[ref.ID], "duplicate reference id %s", ref.ID)
		seen[ref.ID] = true
	}
	assert.Zero(t, f.authority.callCount())
}

func TestConfirmScenario(t *testing.T) {
	f := newPaymentFixture(t, statusAuthority(map[string]string{
		"tx_ok":  adapter.TransactionStatusMined,
		"tx_bad": adapter.TransactionStatusFailed,
	}), nil)
	ctx := context.Background()

	refA, err := f.service.IssueReference(ctx)
	require.NoError(t, err)
	refB, err := f.service.IssueReference(ctx)
	require.NoError(t, err)
	require.NotEqual(t, refA.ID, refB.ID)

	confirmed, err := f.service.Confirm(ctx, refA.ID, "tx_ok")
	require.NoError(t, err)
	assert.Equal(t, types.ReferenceStateConfirmed, confirmed.State)
	assert.Equal(t, "tx_ok", confirmed.TransactionID)
	assert.NotNil(t, confirmed.FinalizedAt)

	failed, err := f.service.Confirm(ctx, refB.ID, "tx_bad")
	assert.True(t, apperr.Is(err, apperr.KindPaymentFailed), "got %v", err)
	require.NotNil(t, failed)
	assert.Equal(t, types.ReferenceStateFailed, failed.State)

	callsBefore := f.authority.callCount()
	_, err = f.service.Confirm(ctx, refA.ID, "tx_other")
	assert.True(t, apperr.Is(err, apperr.KindAlreadyFinalized), "got %v", err)
	assert.Equal(t, callsBefore, f.authority.callCount(), "finalized reference must not query the authority")

	stored, err := f.service.GetReference(ctx, refA.ID)
	require.NoError(t, err)
	assert.Equal(t, types.ReferenceStateConfirmed, stored.State)
	assert.Equal(t, "tx_ok", stored.TransactionID)

	assert.Equal(t, 2, f.events.settledCount())
}

func TestConfirmUnknownReference(t *testing.T) {
	f := newPaymentFixture(t, statusAuthority(nil), nil)
	ctx := context.Background()

	_, err := f.service.Confirm(ctx, "zzz", "tx_ok")
	assert.True(t, apperr.Is(err, apperr.KindUnknownReference), "got %v", err)

	_, err = f.service.GetReference(ctx, "zzz")
	assert.True(t, apperr.Is(err, apperr.KindUnknownReference), "no reference must be created implicitly")
	assert.Zero(t, f.authority.callCount())
}

func TestConfirmInvalidInput(t *testing.T) {
	f := newPaymentFixture(t, statusAuthority(nil), nil)

	_, err := f.service.Confirm(context.Background(), "", "tx_ok")
	assert.True(t, apperr.Is(err, apperr.KindInvalidRequest))

	_, err = f.service.Confirm(context.Background(), "abc", "")
	assert.True(t, apperr.Is(err, apperr.KindInvalidRequest))
}

func TestConfirmExpiredReference(t *testing.T) {
	var mu sync.Mutex
	offset := time.Duration(0)
	now := func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return time.Now().Add(offset)
	}

	f := newPaymentFixture(t, statusAuthority(map[string]string{"tx_ok": adapter.TransactionStatusMined}), now)
	ctx := context.Background()

	ref, err := f.service.IssueReference(ctx)
	require.NoError(t, err)

	mu.Lock()
	offset = 2 * time.Hour
	mu.Unlock()

	_, err = f.service.Confirm(ctx, ref.ID, "tx_ok")
	assert.True(t, apperr.Is(err, apperr.KindExpired), "got %v", err)
	assert.Zero(t, f.authority.callCount())

	stored, err := f.service.GetReference(ctx, ref.ID)
	require.NoError(t, err)
	assert.Equal(t, types.ReferenceStatePending, stored.State)
}

func TestConfirmAuthorityUnreachable(t *testing.T) {
	tests := []struct {
		name         string
		err          error
		expectedKind apperr.Kind
	}{
		{
			name:         "classified_timeout",
			err:          apperr.Wrap(apperr.KindStatusAuthorityUnreachable, apperr.ReasonTimeout, context.DeadlineExceeded, "transaction request failed"),
			expectedKind: apperr.KindStatusAuthorityUnreachable,
		},
		{
			name:         "unclassified_error",
			err:          errors.New("connection reset"),
			expectedKind: apperr.KindStatusAuthorityUnreachable,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			authority := &mockPaymentAuthority{
				transactionFunc: func(ctx context.Context, transactionID string) (*adapter.Transaction, error) {
					return nil, tt.err
				},
			}
			f := newPaymentFixture(t, authority, nil)
			ctx := context.Background()

			ref, err := f.service.IssueReference(ctx)
			require.NoError(t, err)

			_, err = f.service.Confirm(ctx, ref.ID, "tx_ok")
			assert.True(t, apperr.Is(err, tt.expectedKind), "got %v", err)

			stored, err := f.service.GetReference(ctx, ref.ID)
			require.NoError(t, err)
			assert.Equal(t, types.ReferenceStatePending, stored.State)
			assert.Zero(t, f.events.settledCount())
		})
	}
}

func TestConfirmUnknownTransactionFails(t *testing.T) {
	f := newPaymentFixture(t, statusAuthority(nil), nil)
	ctx := context.Background()

	ref, err := f.service.IssueReference(ctx)
	require.NoError(t, err)

	failed, err := f.service.Confirm(ctx, ref.ID, "tx_never_seen")
	assert.True(t, apperr.Is(err, apperr.KindPaymentFailed), "got %v", err)
	require.NotNil(t, failed)
	assert.Equal(t, types.ReferenceStateFailed, failed.State)
}

func TestConfirmBindingMismatch(t *testing.T) {
	tests := []struct {
		name        string
		tx          func(refID string) *adapter.Transaction
		expectState types.ReferenceState
	}{
		{
			name: "matching_fields",
			tx: func(refID string) *adapter.Transaction {
				return &adapter.Transaction{
					Status:      adapter.TransactionStatusMined,
					Reference:   refID,
					Recipient:   "0x6b175474e89094c44da98b954eedeac495271d0f",
					Token:       "usdce",
					TokenAmount: "500000",
				}
			},
			expectState: types.ReferenceStateConfirmed,
		},
		{
			name: "other_reference",
			tx: func(refID string) *adapter.Transaction {
				return &adapter.Transaction{Status: adapter.TransactionStatusMined, Reference: "another"}
			},
			expectState: types.ReferenceStateFailed,
		},
		{
			name: "other_recipient",
			tx: func(refID string) *adapter.Transaction {
				return &adapter.Transaction{Status: adapter.TransactionStatusMined, Recipient: "0x0000000000000000000000000000000000000001"}
			},
			expectState: types.ReferenceStateFailed,
		},
		{
			name: "other_token",
			tx: func(refID string) *adapter.Transaction {
				return &adapter.Transaction{Status: adapter.TransactionStatusMined, Token: "WLD"}
			},
			expectState: types.ReferenceStateFailed,
		},
		{
			name: "underpaid",
			tx: func(refID string) *adapter.Transaction {
				return &adapter.Transaction{Status: adapter.TransactionStatusMined, TokenAmount: "499999"}
			},
			expectState: types.ReferenceStateFailed,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var refID string
			authority := &mockPaymentAuthority{
				transactionFunc: func(ctx context.Context, transactionID string) (*adapter.Transaction, error) {
					tx := tt.tx(refID)
					tx.ID = transactionID
					return tx, nil
				},
			}
			f := newPaymentFixture(t, authority, nil)
			ctx := context.Background()

			ref, err := f.service.IssueReference(ctx)
			require.NoError(t, err)
			refID = ref.ID

			result, err := f.service.Confirm(ctx, ref.ID, "tx_1")
			if tt.expectState == types.ReferenceStateConfirmed {
				require.NoError(t, err)
			} else {
				assert.True(t, apperr.Is(err, apperr.KindPaymentFailed), "got %v", err)
			}
			require.NotNil(t, result)
			assert.Equal(t, tt.expectState, result.State)
		})
	}
}

func TestConfirmConcurrent(t *testing.T) {
	f := newPaymentFixture(t, statusAuthority(map[string]string{"tx_ok": adapter.TransactionStatusMined}), nil)
	ctx := context.Background()

	ref, err := f.service.IssueReference(ctx)
	require.NoError(t, err)

	const workers = 16
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
		finalized int
		other     []error
	)

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.service.Confirm(ctx, ref.ID, "tx_ok")

			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				succeeded++
			case apperr.Is(err, apperr.KindAlreadyFinalized):
				finalized++
			default:
				other = append(other, err)
			}
		}()
	}
	wg.Wait()

	assert.Empty(t, other)
	assert.Equal(t, 1, succeeded)
	assert.Equal(t, workers-1, finalized)
	assert.Equal(t, 1, f.events.settledCount())
}

func TestConfirmStoreUnavailable(t *testing.T) {
	created := time.Now()
	repo := &mockReferenceRepository{
		getFunc: func(ctx context.Context, id string) (*types.PaymentReference, error) {
			return &types.PaymentReference{ID: id, State: types.ReferenceStatePending, Intent: testIntent(), CreatedAt: created}, nil
		},
		transitionFunc: func(ctx context.Context, id string, state types.ReferenceState, transactionID string) (*types.PaymentReference, error) {
			return nil, apperr.New(apperr.KindStoreUnavailable, "connection refused")
		},
	}
	events := &mockNATSClient{}
	service := NewPaymentService(PaymentConfig{Intent: testIntent()}, repo,
		statusAuthority(map[string]string{"tx_ok": adapter.TransactionStatusMined}), events, nil, zaptest.NewLogger(t))

	_, err := service.Confirm(context.Background(), "abc", "tx_ok")
	assert.True(t, apperr.Is(err, apperr.KindStoreUnavailable), "got %v", err)
	assert.Zero(t, events.settledCount())
}

func TestConfirmPublishFailureKeepsResult(t *testing.T) {
	f := newPaymentFixture(t, statusAuthority(map[string]string{"tx_ok": adapter.TransactionStatusMined}), nil)
	f.events.publishSettledErr = errors.New("nats down")
	ctx := context.Background()

	ref, err := f.service.IssueReference(ctx)
	require.NoError(t, err)

	confirmed, err := f.service.Confirm(ctx, ref.ID, "tx_ok")
	require.NoError(t, err)
	assert.Equal(t, types.ReferenceStateConfirmed, confirmed.State)
}

func TestSameToken(t *testing.T) {
	assert.True(t, sameToken("USDC", "usdc"))
	assert.True(t, sameToken("USDC.e", "USDC"))
	assert.True(t, sameToken("USDCE", "usdc.e"))
	assert.False(t, sameToken("WLD", "USDC"))
}

// cancelAwareRepository отказывает, если операция пришла с отменённым контекстом
type cancelAwareRepository struct {
	repository.ReferenceRepository
}

func (r *cancelAwareRepository) Transition(ctx context.Context, id string, state types.ReferenceState, transactionID string) (*types.PaymentReference, error) {
	if err := ctx.Err(); err != nil {
		return nil, apperr.Wrap(apperr.KindStoreUnavailable, apperr.ReasonNone, err, "transition aborted")
	}
	return r.ReferenceRepository.Transition(ctx, id, state, transactionID)
}

func TestConfirmSurvivesClientDisconnect(t *testing.T) {
	logger := zaptest.NewLogger(t)
	repo := &cancelAwareRepository{ReferenceRepository: repository.NewMemoryReferenceRepository(logger)}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	authority := &mockPaymentAuthority{
		transactionFunc: func(lookupCtx context.Context, transactionID string) (*adapter.Transaction, error) {
			// Клиент отключается, пока идёт запрос статуса
			cancel()
			if err := lookupCtx.Err(); err != nil {
				return nil, apperr.Wrap(apperr.KindStatusAuthorityUnreachable, apperr.ReasonUnreachable, err, "transaction request failed")
			}
			return &adapter.Transaction{ID: transactionID, Status: adapter.TransactionStatusMined}, nil
		},
	}
	events := &mockNATSClient{}
	service := NewPaymentService(PaymentConfig{Intent: testIntent()}, repo, authority, events, nil, logger)

	ref, err := service.IssueReference(context.Background())
	require.NoError(t, err)

	confirmed, err := service.Confirm(ctx, ref.ID, "tx_ok")
	require.NoError(t, err)
	assert.Equal(t, types.ReferenceStateConfirmed, confirmed.State)
	assert.Error(t, ctx.Err())

	stored, err := service.GetReference(context.Background(), ref.ID)
	require.NoError(t, err)
	assert.Equal(t, types.ReferenceStateConfirmed, stored.State)
	assert.Equal(t, "tx_ok", stored.TransactionID)
	assert.Equal(t, 1, events.settledCount())
}

func TestConfirmConcurrentDistinctTransactions(t *testing.T) {
	tests := []struct {
		name   string
		status func(i int) string
	}{
		{
			name:   "all_mined",
			status: func(i int) string { return adapter.TransactionStatusMined },
		},
		{
			name: "mined_and_failed",
			status: func(i int) string {
				if i%2 == 0 {
					return adapter.TransactionStatusMined
				}
				return adapter.TransactionStatusFailed
			},
		},
	}

	const workers = 16

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			statuses := make(map[string]string, workers)
			for i := 0; i < workers; i++ {
				statuses[fmt.Sprintf("tx_%d", i)] = tt.status(i)
			}
			f := newPaymentFixture(t, statusAuthority(statuses), nil)
			ctx := context.Background()

			ref, err := f.service.IssueReference(ctx)
			require.NoError(t, err)

			var (
				wg        sync.WaitGroup
				mu        sync.Mutex
				winners   []*types.PaymentReference
				finalized int
				other     []error
			)

			for i := 0; i < workers; i++ {
				wg.Add(1)
				go func(txID string) {
					defer wg.Done()
					result, err := f.service.Confirm(ctx, ref.ID, txID)

					mu.Lock()
					defer mu.Unlock()
					switch {
					case err == nil, apperr.Is(err, apperr.KindPaymentFailed):
						winners = append(winners, result)
					case apperr.Is(err, apperr.KindAlreadyFinalized):
						finalized++
					default:
						other = append(other, err)
					}
				}(fmt.Sprintf("tx_%d", i))
			}
			wg.Wait()

			assert.Empty(t, other)
			require.Len(t, winners, 1)
			assert.Equal(t, workers-1, finalized)

			winner := winners[0]
			require.NotNil(t, winner)
			stored, err := f.service.GetReference(ctx, ref.ID)
			require.NoError(t, err)
			assert.Equal(t, winner.TransactionID, stored.TransactionID)
			assert.Equal(t, winner.State, stored.State)

			expectedState := types.ReferenceStateConfirmed
			if statuses[winner.TransactionID] == adapter.TransactionStatusFailed {
				expectedState = types.ReferenceStateFailed
			}
			assert.Equal(t, expectedState, stored.State)
			assert.Equal(t, 1, f.events.settledCount())
		})
	}
}
