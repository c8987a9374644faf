package service

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"

	"palomas/events"
	"palomas/models"
)

// MockProfileRepository is a mock implementation of ProfileRepository
type MockProfileRepository struct {
	mock.Mock
}

func (m *MockProfileRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Profile, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Profile), args.Error(1)
}

func (m *MockProfileRepository) GetByUsername(ctx context.Context, username string) (*models.Profile, error) {
	args := m.Called(ctx, username)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Profile), args.Error(1)
}

func (m *MockProfileRepository) Create(ctx context.Context, profile *models.Profile) error {
	args := m.Called(ctx, profile)
	return args.Error(0)
}

func (m *MockProfileRepository) LockForUpdate(ctx context.Context, ids ...uuid.UUID) (map[uuid.UUID]*models.Profile, error) {
	args := m.Called(ctx, ids)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(map[uuid.UUID]*models.Profile), args.Error(1)
}

func (m *MockProfileRepository) SetDovBalance(ctx context.Context, id uuid.UUID, balance int64) error {
	args := m.Called(ctx, id, balance)
	return args.Error(0)
}

func (m *MockProfileRepository) ApplyCounters(ctx context.Context, id uuid.UUID, counters models.ProfileCounters) error {
	args := m.Called(ctx, id, counters)
	return args.Error(0)
}

func (m *MockProfileRepository) ListIDs(ctx context.Context) ([]uuid.UUID, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]uuid.UUID), args.Error(1)
}

// MockLedgerRepository is a mock implementation of LedgerRepository
type MockLedgerRepository struct {
	mock.Mock
}

func (m *MockLedgerRepository) ActiveBalance(ctx context.Context, userID uuid.UUID, now time.Time) (int64, error) {
	args := m.Called(ctx, userID, now)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockLedgerRepository) ActiveEntriesOrderedByAge(ctx context.Context, userID uuid.UUID, now time.Time) ([]*models.PalomaTransaction, error) {
	args := m.Called(ctx, userID, now)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*models.PalomaTransaction), args.Error(1)
}

func (m *MockLedgerRepository) Insert(ctx context.Context, entry *models.PalomaTransaction) error {
	args := m.Called(ctx, entry)
	return args.Error(0)
}

func (m *MockLedgerRepository) UpdateAmount(ctx context.Context, id uuid.UUID, amount int64) error {
	args := m.Called(ctx, id, amount)
	return args.Error(0)
}

func (m *MockLedgerRepository) Delete(ctx context.Context, id uuid.UUID) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

func (m *MockLedgerRepository) UsersWithLapsedEntries(ctx context.Context, now time.Time, limit int) ([]uuid.UUID, error) {
	args := m.Called(ctx, now, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]uuid.UUID), args.Error(1)
}

func (m *MockLedgerRepository) FlagExpired(ctx context.Context, userID uuid.UUID, now time.Time) (int64, error) {
	args := m.Called(ctx, userID, now)
	return args.Get(0).(int64), args.Error(1)
}

// MockEscrowRepository is a mock implementation of EscrowRepository
type MockEscrowRepository struct {
	mock.Mock
}

func (m *MockEscrowRepository) Create(ctx context.Context, escrow *models.EggsTransaction) error {
	args := m.Called(ctx, escrow)
	return args.Error(0)
}

func (m *MockEscrowRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.EggsTransaction, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.EggsTransaction), args.Error(1)
}

func (m *MockEscrowRepository) GetByIDForUpdate(ctx context.Context, id uuid.UUID) (*models.EggsTransaction, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.EggsTransaction), args.Error(1)
}

func (m *MockEscrowRepository) Update(ctx context.Context, escrow *models.EggsTransaction) error {
	args := m.Called(ctx, escrow)
	return args.Error(0)
}

func (m *MockEscrowRepository) ListByUser(ctx context.Context, userID uuid.UUID, limit int) ([]*models.EggsTransaction, error) {
	args := m.Called(ctx, userID, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*models.EggsTransaction), args.Error(1)
}

func (m *MockEscrowRepository) ListOverdue(ctx context.Context, now time.Time) ([]*models.EggsTransaction, error) {
	args := m.Called(ctx, now)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*models.EggsTransaction), args.Error(1)
}

// MockExternalPaymentRepository is a mock implementation of ExternalPaymentRepository
type MockExternalPaymentRepository struct {
	mock.Mock
}

func (m *MockExternalPaymentRepository) GetBySourceRef(ctx context.Context, sourceRef string) (*models.ExternalPayment, error) {
	args := m.Called(ctx, sourceRef)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.ExternalPayment), args.Error(1)
}

func (m *MockExternalPaymentRepository) Create(ctx context.Context, payment *models.ExternalPayment) (bool, error) {
	args := m.Called(ctx, payment)
	return args.Bool(0), args.Error(1)
}

// MockLevelCostRepository is a mock implementation of LevelCostRepository
type MockLevelCostRepository struct {
	mock.Mock
}

func (m *MockLevelCostRepository) Get(ctx context.Context, targetLevel int) (*models.LevelCost, error) {
	args := m.Called(ctx, targetLevel)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.LevelCost), args.Error(1)
}

func (m *MockLevelCostRepository) GetForUpdate(ctx context.Context, targetLevel int) (*models.LevelCost, error) {
	args := m.Called(ctx, targetLevel)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.LevelCost), args.Error(1)
}

func (m *MockLevelCostRepository) RecordUse(ctx context.Context, targetLevel int, step int64) error {
	args := m.Called(ctx, targetLevel, step)
	return args.Error(0)
}

// MockMeritRepository is a mock implementation of MeritRepository
type MockMeritRepository struct {
	mock.Mock
}

func (m *MockMeritRepository) RecordAward(ctx context.Context, award *models.MeritAward) error {
	args := m.Called(ctx, award)
	return args.Error(0)
}

func (m *MockMeritRepository) RecordLevelUp(ctx context.Context, levelUp *models.LevelUp) error {
	args := m.Called(ctx, levelUp)
	return args.Error(0)
}

func (m *MockMeritRepository) ListLevelUps(ctx context.Context, userID uuid.UUID) ([]*models.LevelUp, error) {
	args := m.Called(ctx, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*models.LevelUp), args.Error(1)
}

// MockEventPublisher is a mock implementation of EventPublisher for testing
type MockEventPublisher struct {
	mock.Mock
}

func (m *MockEventPublisher) Publish(event events.Event) {
	m.Called(event)
}

// MockUnitOfWork is a mock implementation of UnitOfWork. Repositories are
// plain fields set through SetRepositories; published events are queued on
// an unconnected TransactionalBus and exposed by Events.
type MockUnitOfWork struct {
	mock.Mock
	profileRepo   ProfileRepository
	ledgerRepo    LedgerRepository
	escrowRepo    EscrowRepository
	paymentRepo   ExternalPaymentRepository
	levelCostRepo LevelCostRepository
	meritRepo     MeritRepository
	bus           *events.TransactionalBus
}

// MockRepositories bundles the repositories handed to a MockUnitOfWork
type MockRepositories struct {
	Profiles   *MockProfileRepository
	Ledger     *MockLedgerRepository
	Escrows    *MockEscrowRepository
	Payments   *MockExternalPaymentRepository
	LevelCosts *MockLevelCostRepository
	Merits     *MockMeritRepository
}

// NewMockRepositories creates one of each repository mock
func NewMockRepositories() *MockRepositories {
	return &MockRepositories{
		Profiles:   new(MockProfileRepository),
		Ledger:     new(MockLedgerRepository),
		Escrows:    new(MockEscrowRepository),
		Payments:   new(MockExternalPaymentRepository),
		LevelCosts: new(MockLevelCostRepository),
		Merits:     new(MockMeritRepository),
	}
}

// AssertExpectations checks every repository mock
func (r *MockRepositories) AssertExpectations(t mock.TestingT) {
	r.Profiles.AssertExpectations(t)
	r.Ledger.AssertExpectations(t)
	r.Escrows.AssertExpectations(t)
	r.Payments.AssertExpectations(t)
	r.LevelCosts.AssertExpectations(t)
	r.Merits.AssertExpectations(t)
}

// SetRepositories wires the repository mocks into the unit of work
func (m *MockUnitOfWork) SetRepositories(repos *MockRepositories) {
	m.profileRepo = repos.Profiles
	m.ledgerRepo = repos.Ledger
	m.escrowRepo = repos.Escrows
	m.paymentRepo = repos.Payments
	m.levelCostRepo = repos.LevelCosts
	m.meritRepo = repos.Merits
}

// Events returns the events published through this unit of work
func (m *MockUnitOfWork) Events() []events.Event {
	if m.bus == nil {
		return nil
	}
	return m.bus.Pending()
}

func (m *MockUnitOfWork) Begin(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

func (m *MockUnitOfWork) Commit() error {
	args := m.Called()
	return args.Error(0)
}

func (m *MockUnitOfWork) Rollback() error {
	args := m.Called()
	return args.Error(0)
}

func (m *MockUnitOfWork) ProfileRepository() ProfileRepository {
	return m.profileRepo
}

func (m *MockUnitOfWork) LedgerRepository() LedgerRepository {
	return m.ledgerRepo
}

func (m *MockUnitOfWork) EscrowRepository() EscrowRepository {
	return m.escrowRepo
}

func (m *MockUnitOfWork) ExternalPaymentRepository() ExternalPaymentRepository {
	return m.paymentRepo
}

func (m *MockUnitOfWork) LevelCostRepository() LevelCostRepository {
	return m.levelCostRepo
}

func (m *MockUnitOfWork) MeritRepository() MeritRepository {
	return m.meritRepo
}

func (m *MockUnitOfWork) EventBus() EventPublisher {
	if m.bus == nil {
		m.bus = events.NewTransactionalBus(nil)
	}
	return m.bus
}

// MockUnitOfWorkFactory is a mock implementation of UnitOfWorkFactory
type MockUnitOfWorkFactory struct {
	mock.Mock
}

func (m *MockUnitOfWorkFactory) Create() UnitOfWork {
	args := m.Called()
	return args.Get(0).(UnitOfWork)
}
