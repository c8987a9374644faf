package service

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"palomas/apperror"
	"palomas/events"
	"palomas/models"
)

func newTestEscrowService(h *testHarness) *escrowService {
	return &escrowService{tx: h.runner(), config: h.cfg, now: fixedNow}
}

func testEscrow(sender, recipient *models.Profile, total int64, status models.EscrowStatus) *models.EggsTransaction {
	escrow := models.NewEggsTransaction(sender.ID, recipient.ID, total, "landing page", 7, testNow.Add(-48*time.Hour))
	escrow.Status = status
	return escrow
}

func TestEscrowService_SendEggs_HatchesHalfAndHoldsRest(t *testing.T) {
	h := newTestHarness()
	svc := newTestEscrowService(h)

	sender := testProfile("ALI001", 20)
	recipient := testProfile("BOB002", 0)
	entry := testEntry(sender.ID, 20, time.Hour)

	h.repos.Profiles.On("GetByUsername", h.ctx, "BOB002").Return(recipient, nil)
	h.repos.Profiles.On("LockForUpdate", h.ctx, []uuid.UUID{sender.ID, recipient.ID}).Return(profileMap(sender, recipient), nil)
	h.repos.Ledger.On("ActiveEntriesOrderedByAge", h.ctx, sender.ID, testNow).Return([]*models.PalomaTransaction{entry}, nil)
	h.repos.Ledger.On("UpdateAmount", h.ctx, entry.ID, int64(9)).Return(nil)
	h.repos.Escrows.On("Create", h.ctx, mock.MatchedBy(func(e *models.EggsTransaction) bool {
		return e.TotalAmount == 11 && e.HatchedAmount == 5 && e.PendingAmount == 6 &&
			e.Status == models.EscrowStatusPending &&
			e.ExpectedDeliveryDate.Equal(testNow.AddDate(0, 0, 7)) &&
			len(e.SourceTransactionIDs) == 1 && e.SourceTransactionIDs[0] == entry.ID
	})).Return(nil)
	h.repos.Ledger.On("Insert", h.ctx, creditFor(recipient.ID, 5, models.EntryKindEscrowHatch)).Return(nil)
	h.repos.Profiles.On("ApplyCounters", h.ctx, sender.ID, models.ProfileCounters{EggsPendingSent: 6}).Return(nil)
	h.repos.Profiles.On("ApplyCounters", h.ctx, recipient.ID, models.ProfileCounters{EggsPendingReceived: 6}).Return(nil)
	h.repos.Ledger.On("ActiveBalance", h.ctx, sender.ID, testNow).Return(int64(9), nil)
	h.repos.Ledger.On("ActiveBalance", h.ctx, recipient.ID, testNow).Return(int64(5), nil)
	h.repos.Profiles.On("SetDovBalance", h.ctx, sender.ID, int64(9)).Return(nil)
	h.repos.Profiles.On("SetDovBalance", h.ctx, recipient.ID, int64(5)).Return(nil)
	h.expectCommit()

	result, err := svc.SendEggs(h.ctx, sender.ID, "bob002", 11, "  landing page  ", 7)

	require.NoError(t, err)
	assert.Equal(t, int64(5), result.HatchedAmount)
	assert.Equal(t, int64(6), result.PendingAmount)
	assert.Equal(t, int64(9), result.NewSenderBalance)

	transitions := h.eventsOfType(events.EventTypeEscrowStateChange)
	require.Len(t, transitions, 1)
	assert.Equal(t, models.EscrowStatusPending, transitions[0].(events.EscrowStateChangeEvent).NewStatus)
	h.assertExpectations(t)
}

func TestEscrowService_SendEggs_OnePalomaHatchesNothing(t *testing.T) {
	h := newTestHarness()
	svc := newTestEscrowService(h)

	sender := testProfile("ALI001", 1)
	recipient := testProfile("BOB002", 0)
	entry := testEntry(sender.ID, 1, time.Hour)

	h.repos.Profiles.On("GetByUsername", h.ctx, "BOB002").Return(recipient, nil)
	h.repos.Profiles.On("LockForUpdate", h.ctx, []uuid.UUID{sender.ID, recipient.ID}).Return(profileMap(sender, recipient), nil)
	h.repos.Ledger.On("ActiveEntriesOrderedByAge", h.ctx, sender.ID, testNow).Return([]*models.PalomaTransaction{entry}, nil)
	h.repos.Ledger.On("Delete", h.ctx, entry.ID).Return(nil)
	h.repos.Escrows.On("Create", h.ctx, mock.Anything).Return(nil)
	h.repos.Profiles.On("ApplyCounters", h.ctx, sender.ID, models.ProfileCounters{EggsPendingSent: 1}).Return(nil)
	h.repos.Profiles.On("ApplyCounters", h.ctx, recipient.ID, models.ProfileCounters{EggsPendingReceived: 1}).Return(nil)
	h.repos.Ledger.On("ActiveBalance", h.ctx, sender.ID, testNow).Return(int64(0), nil)
	h.repos.Ledger.On("ActiveBalance", h.ctx, recipient.ID, testNow).Return(int64(0), nil)
	h.repos.Profiles.On("SetDovBalance", h.ctx, sender.ID, int64(0)).Return(nil)
	h.expectCommit()

	result, err := svc.SendEggs(h.ctx, sender.ID, "BOB002", 1, "tiny job", 1)

	require.NoError(t, err)
	assert.Equal(t, int64(0), result.HatchedAmount)
	assert.Equal(t, int64(1), result.PendingAmount)
	h.repos.Ledger.AssertNotCalled(t, "Insert", mock.Anything, mock.Anything)
	h.assertExpectations(t)
}

func TestEscrowService_SendEggs_Validation(t *testing.T) {
	h := newTestHarness()
	svc := newTestEscrowService(h)
	sender := uuid.New()

	tests := []struct {
		name        string
		username    string
		amount      int64
		description string
		window      int
	}{
		{"missing recipient", " ", 10, "work", 7},
		{"zero amount", "BOB002", 0, "work", 7},
		{"blank description", "BOB002", 10, "   ", 7},
		{"zero window", "BOB002", 10, "work", 0},
		{"window too long", "BOB002", 10, "work", 366},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.SendEggs(h.ctx, sender, tt.username, tt.amount, tt.description, tt.window)
			assert.ErrorIs(t, err, apperror.ErrValidation)
		})
	}
	h.factory.AssertNotCalled(t, "Create")
}

func TestEscrowService_SendEggs_ToSelf(t *testing.T) {
	h := newTestHarness()
	svc := newTestEscrowService(h)

	sender := testProfile("ALI001", 50)
	h.repos.Profiles.On("GetByUsername", h.ctx, "ALI001").Return(sender, nil)

	_, err := svc.SendEggs(h.ctx, sender.ID, "ALI001", 10, "work", 7)

	assert.ErrorIs(t, err, apperror.ErrSelfTransfer)
	h.repos.Profiles.AssertNotCalled(t, "LockForUpdate", mock.Anything, mock.Anything)
}

func TestEscrowService_UploadEggWork(t *testing.T) {
	sender := testProfile("ALI001", 0)
	recipient := testProfile("BOB002", 0)

	t.Run("recipient uploads", func(t *testing.T) {
		h := newTestHarness()
		svc := newTestEscrowService(h)
		escrow := testEscrow(sender, recipient, 10, models.EscrowStatusPending)

		h.repos.Escrows.On("GetByIDForUpdate", h.ctx, escrow.ID).Return(escrow, nil)
		h.repos.Escrows.On("Update", h.ctx, escrow).Return(nil)
		h.expectCommit()

		updated, err := svc.UploadEggWork(h.ctx, escrow.ID, recipient.ID, "https://example.com/delivery.zip")

		require.NoError(t, err)
		assert.Equal(t, models.EscrowStatusWorkUploaded, updated.Status)
		require.NotNil(t, updated.WorkDeliveryURL)
		assert.Equal(t, "https://example.com/delivery.zip", *updated.WorkDeliveryURL)
		require.NotNil(t, updated.WorkUploadedAt)
		assert.Equal(t, testNow, *updated.WorkUploadedAt)

		transition := h.eventsOfType(events.EventTypeEscrowStateChange)[0].(events.EscrowStateChangeEvent)
		assert.Equal(t, models.EscrowStatusPending, transition.OldStatus)
		assert.Equal(t, models.EscrowStatusWorkUploaded, transition.NewStatus)
		h.assertExpectations(t)
	})

	t.Run("sender cannot upload", func(t *testing.T) {
		h := newTestHarness()
		svc := newTestEscrowService(h)
		escrow := testEscrow(sender, recipient, 10, models.EscrowStatusPending)
		h.repos.Escrows.On("GetByIDForUpdate", h.ctx, escrow.ID).Return(escrow, nil)

		_, err := svc.UploadEggWork(h.ctx, escrow.ID, sender.ID, "https://example.com/x")

		assert.ErrorIs(t, err, apperror.ErrInvalidTransition)
		assert.Contains(t, err.Error(), "only the recipient")
		h.repos.Escrows.AssertNotCalled(t, "Update", mock.Anything, mock.Anything)
	})

	t.Run("rejects non-http url", func(t *testing.T) {
		h := newTestHarness()
		svc := newTestEscrowService(h)

		_, err := svc.UploadEggWork(h.ctx, uuid.New(), recipient.ID, "ftp://example.com/x")

		assert.ErrorIs(t, err, apperror.ErrValidation)
		h.factory.AssertNotCalled(t, "Create")
	})

	t.Run("unknown escrow", func(t *testing.T) {
		h := newTestHarness()
		svc := newTestEscrowService(h)
		id := uuid.New()
		h.repos.Escrows.On("GetByIDForUpdate", h.ctx, id).Return(nil, nil)

		_, err := svc.UploadEggWork(h.ctx, id, recipient.ID, "https://example.com/x")

		assert.ErrorIs(t, err, apperror.ErrNotFound)
	})
}

func TestEscrowService_ApproveEgg_ReleasesHeldAmount(t *testing.T) {
	h := newTestHarness()
	svc := newTestEscrowService(h)

	sender := testProfile("ALI001", 9)
	recipient := testProfile("BOB002", 5)
	escrow := testEscrow(sender, recipient, 11, models.EscrowStatusWorkUploaded)

	h.repos.Escrows.On("GetByIDForUpdate", h.ctx, escrow.ID).Return(escrow, nil)
	h.repos.Profiles.On("LockForUpdate", h.ctx, []uuid.UUID{sender.ID, recipient.ID}).Return(profileMap(sender, recipient), nil)
	h.repos.Ledger.On("Insert", h.ctx, creditFor(recipient.ID, 6, models.EntryKindEscrowApproved)).Return(nil)
	h.repos.Profiles.On("ApplyCounters", h.ctx, sender.ID, models.ProfileCounters{EggsPendingSent: -6}).Return(nil)
	h.repos.Profiles.On("ApplyCounters", h.ctx, recipient.ID, models.ProfileCounters{EggsPendingReceived: -6}).Return(nil)
	h.repos.Ledger.On("ActiveBalance", h.ctx, recipient.ID, testNow).Return(int64(11), nil)
	h.repos.Profiles.On("SetDovBalance", h.ctx, recipient.ID, int64(11)).Return(nil)
	h.repos.Escrows.On("Update", h.ctx, escrow).Return(nil)
	h.expectCommit()

	updated, err := svc.ApproveEgg(h.ctx, escrow.ID, sender.ID)

	require.NoError(t, err)
	assert.Equal(t, models.EscrowStatusApproved, updated.Status)
	require.NotNil(t, updated.ResolvedAt)
	assert.Equal(t, testNow, *updated.ResolvedAt)

	change := h.eventsOfType(events.EventTypeBalanceChange)[0].(events.BalanceChangeEvent)
	assert.Equal(t, int64(6), change.ChangeAmount)
	assert.Equal(t, events.ReasonEscrowApproved, change.Reason)
	h.assertExpectations(t)
}

func TestEscrowService_ApproveEgg_InvalidTransitions(t *testing.T) {
	sender := testProfile("ALI001", 0)
	recipient := testProfile("BOB002", 0)

	tests := []struct {
		name    string
		status  models.EscrowStatus
		actor   uuid.UUID
		message string
	}{
		{"already approved", models.EscrowStatusApproved, sender.ID, "cannot approve an escrow that is approved"},
		{"work not uploaded", models.EscrowStatusPending, sender.ID, "must be work_uploaded"},
		{"recipient approves", models.EscrowStatusWorkUploaded, recipient.ID, "only the sender may approve"},
		{"disputed", models.EscrowStatusDisputed, sender.ID, "is disputed"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newTestHarness()
			svc := newTestEscrowService(h)
			escrow := testEscrow(sender, recipient, 10, tt.status)
			h.repos.Escrows.On("GetByIDForUpdate", h.ctx, escrow.ID).Return(escrow, nil)

			_, err := svc.ApproveEgg(h.ctx, escrow.ID, tt.actor)

			assert.ErrorIs(t, err, apperror.ErrInvalidTransition)
			assert.Contains(t, err.Error(), tt.message)
			h.repos.Ledger.AssertNotCalled(t, "Insert", mock.Anything, mock.Anything)
			h.uow.AssertNotCalled(t, "Commit")
		})
	}
}

func TestEscrowService_DisputeEgg(t *testing.T) {
	h := newTestHarness()
	svc := newTestEscrowService(h)

	sender := testProfile("ALI001", 0)
	recipient := testProfile("BOB002", 0)
	escrow := testEscrow(sender, recipient, 10, models.EscrowStatusWorkUploaded)

	h.repos.Escrows.On("GetByIDForUpdate", h.ctx, escrow.ID).Return(escrow, nil)
	h.repos.Escrows.On("Update", h.ctx, escrow).Return(nil)
	h.expectCommit()

	updated, err := svc.DisputeEgg(h.ctx, escrow.ID, sender.ID, "files are empty")

	require.NoError(t, err)
	assert.Equal(t, models.EscrowStatusDisputed, updated.Status)
	require.NotNil(t, updated.DisputeNotes)
	assert.Equal(t, "files are empty", *updated.DisputeNotes)

	transition := h.eventsOfType(events.EventTypeEscrowStateChange)[0].(events.EscrowStateChangeEvent)
	assert.Equal(t, models.EscrowStatusDisputed, transition.NewStatus)
	assert.Equal(t, "files are empty", transition.Notes)
	assert.Empty(t, h.eventsOfType(events.EventTypeBalanceChange))
	h.assertExpectations(t)
}

func TestEscrowService_DisputeEgg_RequiresNotes(t *testing.T) {
	h := newTestHarness()
	svc := newTestEscrowService(h)

	_, err := svc.DisputeEgg(h.ctx, uuid.New(), uuid.New(), "  ")

	assert.ErrorIs(t, err, apperror.ErrValidation)
	h.factory.AssertNotCalled(t, "Create")
}

func TestEscrowService_ResolveDispute(t *testing.T) {
	sender := testProfile("ALI001", 4)
	recipient := testProfile("BOB002", 5)
	admin := uuid.New()

	t.Run("refund returns held amount to sender", func(t *testing.T) {
		h := newTestHarness()
		h.cfg.AdminUserIDs = []uuid.UUID{admin}
		svc := newTestEscrowService(h)
		escrow := testEscrow(sender, recipient, 11, models.EscrowStatusDisputed)

		h.repos.Escrows.On("GetByIDForUpdate", h.ctx, escrow.ID).Return(escrow, nil)
		h.repos.Profiles.On("GetByID", h.ctx, admin).Return(&models.Profile{ID: admin}, nil)
		h.repos.Profiles.On("LockForUpdate", h.ctx, []uuid.UUID{sender.ID, recipient.ID}).Return(profileMap(sender, recipient), nil)
		h.repos.Ledger.On("Insert", h.ctx, creditFor(sender.ID, 6, models.EntryKindEscrowRefund)).Return(nil)
		h.repos.Profiles.On("ApplyCounters", h.ctx, sender.ID, models.ProfileCounters{EggsPendingSent: -6}).Return(nil)
		h.repos.Profiles.On("ApplyCounters", h.ctx, recipient.ID, models.ProfileCounters{EggsPendingReceived: -6}).Return(nil)
		h.repos.Ledger.On("ActiveBalance", h.ctx, sender.ID, testNow).Return(int64(10), nil)
		h.repos.Profiles.On("SetDovBalance", h.ctx, sender.ID, int64(10)).Return(nil)
		h.repos.Escrows.On("Update", h.ctx, escrow).Return(nil)
		h.expectCommit()

		updated, err := svc.ResolveDispute(h.ctx, escrow.ID, admin, models.ResolutionRefund)

		require.NoError(t, err)
		assert.Equal(t, models.EscrowStatusRefunded, updated.Status)
		require.NotNil(t, updated.Resolution)
		assert.Equal(t, models.ResolutionRefund, *updated.Resolution)
		require.NotNil(t, updated.ResolvedBy)
		assert.Equal(t, admin, *updated.ResolvedBy)
		h.assertExpectations(t)
	})

	t.Run("facilitator without a profile", func(t *testing.T) {
		h := newTestHarness()
		h.cfg.AdminUserIDs = []uuid.UUID{admin}
		svc := newTestEscrowService(h)
		escrow := testEscrow(sender, recipient, 11, models.EscrowStatusDisputed)

		h.repos.Escrows.On("GetByIDForUpdate", h.ctx, escrow.ID).Return(escrow, nil)
		h.repos.Profiles.On("GetByID", h.ctx, admin).Return(nil, nil)

		_, err := svc.ResolveDispute(h.ctx, escrow.ID, admin, models.ResolutionRefund)

		assert.ErrorIs(t, err, apperror.ErrNotFound)
		assert.Equal(t, models.EscrowStatusDisputed, escrow.Status)
		h.repos.Profiles.AssertNotCalled(t, "LockForUpdate", mock.Anything, mock.Anything)
		h.repos.Escrows.AssertNotCalled(t, "Update", mock.Anything, mock.Anything)
		h.uow.AssertNotCalled(t, "Commit")
	})

	t.Run("non-admin is rejected", func(t *testing.T) {
		h := newTestHarness()
		svc := newTestEscrowService(h)

		_, err := svc.ResolveDispute(h.ctx, uuid.New(), sender.ID, models.ResolutionRelease)

		assert.ErrorIs(t, err, apperror.ErrInvalidTransition)
		h.factory.AssertNotCalled(t, "Create")
	})

	t.Run("only disputed escrows", func(t *testing.T) {
		h := newTestHarness()
		h.cfg.AdminUserIDs = []uuid.UUID{admin}
		svc := newTestEscrowService(h)
		escrow := testEscrow(sender, recipient, 10, models.EscrowStatusWorkUploaded)
		h.repos.Escrows.On("GetByIDForUpdate", h.ctx, escrow.ID).Return(escrow, nil)

		_, err := svc.ResolveDispute(h.ctx, escrow.ID, admin, models.ResolutionRelease)

		assert.ErrorIs(t, err, apperror.ErrInvalidTransition)
	})

	t.Run("unknown outcome", func(t *testing.T) {
		h := newTestHarness()
		h.cfg.AdminUserIDs = []uuid.UUID{admin}
		svc := newTestEscrowService(h)

		_, err := svc.ResolveDispute(h.ctx, uuid.New(), admin, models.DisputeResolution("split"))

		assert.ErrorIs(t, err, apperror.ErrValidation)
	})
}

func TestEscrowService_ListOverdue(t *testing.T) {
	h := newTestHarness()
	svc := newTestEscrowService(h)

	overdue := []*models.EggsTransaction{testEscrow(testProfile("ALI001", 0), testProfile("BOB002", 0), 10, models.EscrowStatusPending)}
	h.repos.Escrows.On("ListOverdue", h.ctx, testNow).Return(overdue, nil)
	h.expectCommit()

	escrows, err := svc.ListOverdue(h.ctx, testNow)

	require.NoError(t, err)
	assert.Equal(t, overdue, escrows)
	h.assertExpectations(t)
}
