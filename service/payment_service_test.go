package service

import (
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"palomas/apperror"
	"palomas/events"
	"palomas/models"
)

func newTestPaymentService(h *testHarness) *paymentService {
	return &paymentService{tx: h.runner(), config: h.cfg, now: fixedNow}
}

func TestPaymentService_CreditExternalPayment_LevelsUpAndPaysReferrer(t *testing.T) {
	h := newTestHarness()
	svc := newTestPaymentService(h)

	referrer := testProfile("REF001", 0)
	buyer := testProfile("BUY001", 0)
	buyer.ReferredBy = &referrer.ID
	buyer.PalomasPurchased = 50
	peek := *buyer

	h.repos.Payments.On("GetBySourceRef", h.ctx, "pi_123").Return(nil, nil)
	h.repos.Profiles.On("GetByID", h.ctx, buyer.ID).Return(&peek, nil)
	h.repos.Profiles.On("LockForUpdate", h.ctx, []uuid.UUID{buyer.ID, referrer.ID}).Return(profileMap(buyer, referrer), nil)
	h.repos.Payments.On("Create", h.ctx, mock.MatchedBy(func(p *models.ExternalPayment) bool {
		return p.SourceRef == "pi_123" && p.Palomas == 100 && p.AmountUSD.Equal(decimal.RequireFromString("100.75"))
	})).Return(true, nil)
	h.repos.Ledger.On("Insert", h.ctx, creditFor(buyer.ID, 100, models.EntryKindExternalPayment)).Return(nil)
	h.repos.Profiles.On("ApplyCounters", h.ctx, buyer.ID, models.ProfileCounters{PalomasPurchased: 100, TotalPalomasCollected: 100}).Return(nil)
	h.repos.Ledger.On("ActiveBalance", h.ctx, buyer.ID, testNow).Return(int64(100), nil)
	h.repos.Profiles.On("SetDovBalance", h.ctx, buyer.ID, int64(100)).Return(nil)

	// 150 purchased covers level 1 (100) but not level 2 (200)
	h.repos.LevelCosts.On("GetForUpdate", h.ctx, 1).Return(&models.LevelCost{TargetLevel: 1, Cost: 100}, nil)
	h.repos.LevelCosts.On("GetForUpdate", h.ctx, 2).Return(&models.LevelCost{TargetLevel: 2, Cost: 200}, nil)
	h.repos.Profiles.On("ApplyCounters", h.ctx, buyer.ID, models.ProfileCounters{TarotLevel: 1, PalomasPurchased: -100, TransformationCount: 1}).Return(nil)
	h.repos.LevelCosts.On("RecordUse", h.ctx, 1, h.cfg.LevelCostStep).Return(nil)
	h.repos.Ledger.On("Insert", h.ctx, creditFor(referrer.ID, 10, models.EntryKindMeritReferralBonus)).Return(nil)
	h.repos.Profiles.On("ApplyCounters", h.ctx, referrer.ID, models.ProfileCounters{TotalPalomasCollected: 10}).Return(nil)
	h.repos.Ledger.On("ActiveBalance", h.ctx, referrer.ID, testNow).Return(int64(10), nil)
	h.repos.Profiles.On("SetDovBalance", h.ctx, referrer.ID, int64(10)).Return(nil)
	h.repos.Merits.On("RecordLevelUp", h.ctx, mock.MatchedBy(func(l *models.LevelUp) bool {
		return l.UserID == buyer.ID && l.FromLevel == 0 && l.ToLevel == 1 && l.Cost == 100 && l.ReferralBonus == 10
	})).Return(nil)
	h.expectCommit()

	result, err := svc.CreditExternalPayment(h.ctx, buyer.ID, "100.75", " pi_123 ")

	require.NoError(t, err)
	assert.False(t, result.Duplicate)
	assert.Equal(t, int64(100), result.Payment.Palomas)
	require.Len(t, result.LevelUps, 1)
	assert.Equal(t, &referrer.ID, result.LevelUps[0].ReferrerID)

	assert.Equal(t, 1, buyer.TarotLevel)
	assert.Equal(t, int64(50), buyer.PalomasPurchased)
	assert.Equal(t, int64(100), buyer.TotalPalomasCollected)
	assert.Equal(t, int64(10), referrer.TotalPalomasCollected)

	assert.Len(t, h.eventsOfType(events.EventTypeBalanceChange), 2)
	assert.Len(t, h.eventsOfType(events.EventTypeLevelUp), 1)
	payments := h.eventsOfType(events.EventTypeExternalPayment)
	require.Len(t, payments, 1)
	assert.Equal(t, "100.75", payments[0].(events.ExternalPaymentEvent).AmountUSD)
	h.assertExpectations(t)
}

func TestPaymentService_CreditExternalPayment_DuplicateSameUser(t *testing.T) {
	h := newTestHarness()
	svc := newTestPaymentService(h)

	userID := uuid.New()
	existing := &models.ExternalPayment{SourceRef: "pi_1", UserID: userID, AmountUSD: decimal.NewFromInt(5), Palomas: 5}
	h.repos.Payments.On("GetBySourceRef", h.ctx, "pi_1").Return(existing, nil)
	h.expectCommit()

	result, err := svc.CreditExternalPayment(h.ctx, userID, "5.00", "pi_1")

	require.NoError(t, err)
	assert.True(t, result.Duplicate)
	assert.Equal(t, existing, result.Payment)
	h.repos.Ledger.AssertNotCalled(t, "Insert", mock.Anything, mock.Anything)
	assert.Empty(t, h.uow.Events())
	h.assertExpectations(t)
}

func TestPaymentService_CreditExternalPayment_ReferenceOwnedByAnotherUser(t *testing.T) {
	h := newTestHarness()
	svc := newTestPaymentService(h)

	existing := &models.ExternalPayment{SourceRef: "pi_1", UserID: uuid.New(), Palomas: 5}
	h.repos.Payments.On("GetBySourceRef", h.ctx, "pi_1").Return(existing, nil)

	_, err := svc.CreditExternalPayment(h.ctx, uuid.New(), "5.00", "pi_1")

	assert.ErrorIs(t, err, apperror.ErrValidation)
	h.uow.AssertNotCalled(t, "Commit")
}

func TestPaymentService_CreditExternalPayment_ConcurrentDeliveryBecomesDuplicate(t *testing.T) {
	h := newTestHarness()
	svc := newTestPaymentService(h)

	buyer := testProfile("BUY001", 0)
	existing := &models.ExternalPayment{SourceRef: "pi_9", UserID: buyer.ID, Palomas: 7}

	h.repos.Payments.On("GetBySourceRef", h.ctx, "pi_9").Return(nil, nil).Once()
	h.repos.Payments.On("GetBySourceRef", h.ctx, "pi_9").Return(existing, nil).Once()
	h.repos.Profiles.On("GetByID", h.ctx, buyer.ID).Return(buyer, nil).Once()
	h.repos.Profiles.On("LockForUpdate", h.ctx, []uuid.UUID{buyer.ID}).Return(profileMap(buyer), nil).Once()
	h.repos.Payments.On("Create", h.ctx, mock.Anything).Return(false, nil).Once()
	h.expectCommit()

	result, err := svc.CreditExternalPayment(h.ctx, buyer.ID, "7", "pi_9")

	require.NoError(t, err)
	assert.True(t, result.Duplicate)
	h.uow.AssertNumberOfCalls(t, "Begin", 2)
	h.repos.Ledger.AssertNotCalled(t, "Insert", mock.Anything, mock.Anything)
	h.assertExpectations(t)
}

func TestPaymentService_CreditExternalPayment_Validation(t *testing.T) {
	tests := []struct {
		name      string
		amount    string
		sourceRef string
	}{
		{"missing reference", "10", "  "},
		{"negative amount", "-1", "pi_1"},
		{"not a number", "ten", "pi_1"},
		{"fractional cents", "1.005", "pi_1"},
		{"below one paloma", "0.99", "pi_1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newTestHarness()
			svc := newTestPaymentService(h)

			_, err := svc.CreditExternalPayment(h.ctx, uuid.New(), tt.amount, tt.sourceRef)

			assert.ErrorIs(t, err, apperror.ErrValidation)
			h.factory.AssertNotCalled(t, "Create")
		})
	}
}
