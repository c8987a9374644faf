package jobs

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"palomas/models"
	"palomas/service"
)

var testNow = time.Date(2025, 3, 14, 12, 0, 0, 0, time.UTC)

type mockLedgerService struct {
	mock.Mock
}

func (m *mockLedgerService) SweepExpired(ctx context.Context, now time.Time) (*service.SweepResult, error) {
	args := m.Called(ctx, now)
	if res := args.Get(0); res != nil {
		return res.(*service.SweepResult), args.Error(1)
	}
	return nil, args.Error(1)
}

// stubEscrowService only answers ListOverdue
type stubEscrowService struct {
	service.EscrowService
	overdue []*models.EggsTransaction
	err     error
	calls   []time.Time
}

func (s *stubEscrowService) ListOverdue(ctx context.Context, now time.Time) ([]*models.EggsTransaction, error) {
	s.calls = append(s.calls, now)
	return s.overdue, s.err
}

type mockNotifier struct {
	mock.Mock
}

func (m *mockNotifier) NotifyOverdue(ctx context.Context, escrows []*models.EggsTransaction) error {
	return m.Called(ctx, escrows).Error(0)
}

func TestExpirySweeper_RunOnceUsesCurrentTime(t *testing.T) {
	ledger := new(mockLedgerService)
	sweeper := NewExpirySweeper(ledger)
	sweeper.now = func() time.Time { return testNow }

	expected := &service.SweepResult{UsersSwept: 2, EntriesFlagged: 3, Corrections: 1}
	ledger.On("SweepExpired", mock.Anything, testNow).Return(expected, nil).Once()

	result, err := sweeper.RunOnce(context.Background())

	require.NoError(t, err)
	assert.Equal(t, expected, result)
	ledger.AssertExpectations(t)
}

func TestExpirySweeper_RunLogsFailure(t *testing.T) {
	ledger := new(mockLedgerService)
	sweeper := NewExpirySweeper(ledger)
	ledger.On("SweepExpired", mock.Anything, mock.AnythingOfType("time.Time")).Return(nil, errors.New("storage unavailable")).Once()

	assert.NotPanics(t, sweeper.Run)
	ledger.AssertExpectations(t)
}

func TestOverdueMonitor_RunOnce(t *testing.T) {
	overdue := []*models.EggsTransaction{
		{ID: uuid.New(), Status: models.EscrowStatusPending, PendingAmount: 6},
	}

	t.Run("notifies when escrows are overdue", func(t *testing.T) {
		escrows := &stubEscrowService{overdue: overdue}
		notifier := new(mockNotifier)
		monitor := NewOverdueMonitor(escrows, notifier)
		monitor.now = func() time.Time { return testNow }
		notifier.On("NotifyOverdue", mock.Anything, overdue).Return(nil).Once()

		count, err := monitor.RunOnce(context.Background())

		require.NoError(t, err)
		assert.Equal(t, 1, count)
		assert.Equal(t, []time.Time{testNow}, escrows.calls)
		notifier.AssertExpectations(t)
	})

	t.Run("nothing overdue skips the notifier", func(t *testing.T) {
		notifier := new(mockNotifier)
		monitor := NewOverdueMonitor(&stubEscrowService{}, notifier)

		count, err := monitor.RunOnce(context.Background())

		require.NoError(t, err)
		assert.Zero(t, count)
		notifier.AssertNotCalled(t, "NotifyOverdue", mock.Anything, mock.Anything)
	})

	t.Run("works without a notifier", func(t *testing.T) {
		monitor := NewOverdueMonitor(&stubEscrowService{overdue: overdue}, nil)

		count, err := monitor.RunOnce(context.Background())

		require.NoError(t, err)
		assert.Equal(t, 1, count)
	})

	t.Run("list error", func(t *testing.T) {
		monitor := NewOverdueMonitor(&stubEscrowService{err: errors.New("boom")}, nil)

		_, err := monitor.RunOnce(context.Background())

		assert.ErrorContains(t, err, "failed to list overdue escrows")
	})

	t.Run("notifier error", func(t *testing.T) {
		notifier := new(mockNotifier)
		monitor := NewOverdueMonitor(&stubEscrowService{overdue: overdue}, notifier)
		notifier.On("NotifyOverdue", mock.Anything, overdue).Return(errors.New("rate limited")).Once()

		count, err := monitor.RunOnce(context.Background())

		assert.Equal(t, 1, count)
		assert.ErrorContains(t, err, "rate limited")
	})
}

func TestScheduler_RejectsInvalidSpec(t *testing.T) {
	s := NewScheduler()

	err := s.Add("every now and then", NewExpirySweeper(new(mockLedgerService)))

	assert.ErrorContains(t, err, "failed to schedule job")
}

func TestScheduler_StartStop(t *testing.T) {
	s := NewScheduler()
	require.NoError(t, s.Add("@hourly", NewExpirySweeper(new(mockLedgerService))))
	require.NoError(t, s.Add("*/15 * * * *", NewOverdueMonitor(&stubEscrowService{}, nil)))

	s.Start()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	s.Stop(ctx)
}

// stubBalanceService only answers ReconcileAll
type stubBalanceService struct {
	service.BalanceService
	corrected []*service.ReconcileResult
	err       error
	calls     int
}

func (s *stubBalanceService) ReconcileAll(ctx context.Context) ([]*service.ReconcileResult, error) {
	s.calls++
	return s.corrected, s.err
}

func TestBalanceReconciler_RunOnce(t *testing.T) {
	drift := &service.ReconcileResult{UserID: uuid.New(), CachedBalance: 12, LedgerBalance: 10, Corrected: true}
	balances := &stubBalanceService{corrected: []*service.ReconcileResult{drift}}

	corrected, err := NewBalanceReconciler(balances).RunOnce(context.Background())

	require.NoError(t, err)
	assert.Equal(t, []*service.ReconcileResult{drift}, corrected)
	assert.Equal(t, 1, balances.calls)
}

func TestBalanceReconciler_ReturnsPartialCorrectionsOnFailure(t *testing.T) {
	drift := &service.ReconcileResult{UserID: uuid.New(), CachedBalance: 3, LedgerBalance: 0, Corrected: true}
	balances := &stubBalanceService{
		corrected: []*service.ReconcileResult{drift},
		err:       errors.New("storage unavailable"),
	}

	corrected, err := NewBalanceReconciler(balances).RunOnce(context.Background())

	assert.EqualError(t, err, "storage unavailable")
	assert.Equal(t, []*service.ReconcileResult{drift}, corrected)
}

func TestBalanceReconciler_RunLogsFailure(t *testing.T) {
	balances := &stubBalanceService{err: errors.New("storage unavailable")}

	assert.NotPanics(t, NewBalanceReconciler(balances).Run)
	assert.Equal(t, 1, balances.calls)
}

func TestBalanceReconciler_IsSchedulable(t *testing.T) {
	scheduler := NewScheduler()
	require.NoError(t, scheduler.Add("@daily", NewBalanceReconciler(&stubBalanceService{})))
}
