package service

import (
	"context"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"

	"palomas/config"
	"palomas/events"
	"palomas/models"
)

var testNow = time.Date(2025, 3, 14, 12, 0, 0, 0, time.UTC)

func fixedNow() time.Time {
	return testNow
}

// testHarness bundles the mocks every service test needs
type testHarness struct {
	ctx     context.Context
	cfg     *config.Config
	factory *MockUnitOfWorkFactory
	uow     *MockUnitOfWork
	repos   *MockRepositories
}

// newTestHarness wires a factory that always hands out the same unit of work.
// Begin and Rollback are allowed on every attempt; tests add Commit themselves.
func newTestHarness() *testHarness {
	h := &testHarness{
		ctx:     context.Background(),
		cfg:     config.NewTestConfig(),
		factory: new(MockUnitOfWorkFactory),
		uow:     new(MockUnitOfWork),
		repos:   NewMockRepositories(),
	}
	h.uow.SetRepositories(h.repos)
	h.factory.On("Create").Return(h.uow)
	h.uow.On("Begin", h.ctx).Return(nil)
	h.uow.On("Rollback").Return(nil)
	return h
}

func (h *testHarness) expectCommit() {
	h.uow.On("Commit").Return(nil).Once()
}

func (h *testHarness) assertExpectations(t *testing.T) {
	h.factory.AssertExpectations(t)
	h.uow.AssertExpectations(t)
	h.repos.AssertExpectations(t)
}

// runner returns a txRunner that retries without waiting
func (h *testHarness) runner() txRunner {
	r := newTxRunner(h.factory, h.cfg.MaxTxAttempts)
	r.newBackOff = func() backoff.BackOff { return &backoff.ZeroBackOff{} }
	return r
}

func (h *testHarness) eventsOfType(eventType events.EventType) []events.Event {
	var matched []events.Event
	for _, e := range h.uow.Events() {
		if e.Type() == eventType {
			matched = append(matched, e)
		}
	}
	return matched
}

func testProfile(username string, balance int64) *models.Profile {
	return &models.Profile{
		ID:         uuid.New(),
		Username:   username,
		DovBalance: balance,
		IsActive:   true,
	}
}

// testEntry builds an active entry received age before testNow
func testEntry(userID uuid.UUID, amount int64, age time.Duration) *models.PalomaTransaction {
	return models.NewPalomaTransaction(userID, amount, testNow.Add(-age), 0,
		models.TransferMetadata(uuid.New()))
}

// creditFor matches an inserted entry by owner, amount and kind
func creditFor(userID uuid.UUID, amount int64, kind models.EntryKind) any {
	return mock.MatchedBy(func(e *models.PalomaTransaction) bool {
		return e.UserID == userID && e.Amount == amount && e.Source == kind && e.Metadata.Kind == kind
	})
}

func profileMap(profiles ...*models.Profile) map[uuid.UUID]*models.Profile {
	m := make(map[uuid.UUID]*models.Profile, len(profiles))
	for _, p := range profiles {
		m[p.ID] = p
	}
	return m
}
