package service

import (
	"context"
	"time"

	"github.com/google/uuid"

	"palomas/events"
	"palomas/models"
)

// ProfileRepository defines the interface for profile data access
type ProfileRepository interface {
	// GetByID retrieves a profile, returning nil if it does not exist
	GetByID(ctx context.Context, id uuid.UUID) (*models.Profile, error)

	// GetByUsername retrieves a profile by its normalized username, returning nil if absent
	GetByUsername(ctx context.Context, username string) (*models.Profile, error)

	// Create inserts a new profile. Returns ErrProfileConflict if the id or username already exists.
	Create(ctx context.Context, profile *models.Profile) error

	// LockForUpdate row-locks the given profiles in id order and returns them keyed by id.
	// Missing ids are absent from the map.
	LockForUpdate(ctx context.Context, ids ...uuid.UUID) (map[uuid.UUID]*models.Profile, error)

	// SetDovBalance overwrites the cached spendable balance
	SetDovBalance(ctx context.Context, id uuid.UUID, balance int64) error

	// ApplyCounters adds signed deltas to the progression and escrow counters
	ApplyCounters(ctx context.Context, id uuid.UUID, counters models.ProfileCounters) error

	// ListIDs returns every profile id
	ListIDs(ctx context.Context) ([]uuid.UUID, error)
}

// LedgerRepository defines the interface for ledger entry storage
type LedgerRepository interface {
	// ActiveBalance sums the amounts of the user's active entries at now
	ActiveBalance(ctx context.Context, userID uuid.UUID, now time.Time) (int64, error)

	// ActiveEntriesOrderedByAge returns active entries oldest first (received_at, id)
	ActiveEntriesOrderedByAge(ctx context.Context, userID uuid.UUID, now time.Time) ([]*models.PalomaTransaction, error)

	// Insert stores a new entry
	Insert(ctx context.Context, entry *models.PalomaTransaction) error

	// UpdateAmount sets the remaining amount of an entry
	UpdateAmount(ctx context.Context, id uuid.UUID, amount int64) error

	// Delete removes a fully consumed entry
	Delete(ctx context.Context, id uuid.UUID) error

	// UsersWithLapsedEntries returns users owning unflagged entries whose expires_at is before now
	UsersWithLapsedEntries(ctx context.Context, now time.Time, limit int) ([]uuid.UUID, error)

	// FlagExpired sets is_expired on the user's lapsed entries and returns how many were flagged
	FlagExpired(ctx context.Context, userID uuid.UUID, now time.Time) (int64, error)
}

// EscrowRepository defines the interface for eggs transaction storage
type EscrowRepository interface {
	// Create inserts a new eggs transaction
	Create(ctx context.Context, escrow *models.EggsTransaction) error

	// GetByID retrieves an eggs transaction, returning nil if absent
	GetByID(ctx context.Context, id uuid.UUID) (*models.EggsTransaction, error)

	// GetByIDForUpdate retrieves and row-locks an eggs transaction
	GetByIDForUpdate(ctx context.Context, id uuid.UUID) (*models.EggsTransaction, error)

	// Update persists the status, delivery, dispute and resolution fields
	Update(ctx context.Context, escrow *models.EggsTransaction) error

	// ListByUser returns escrows where the user is sender or recipient, newest first
	ListByUser(ctx context.Context, userID uuid.UUID, limit int) ([]*models.EggsTransaction, error)

	// ListOverdue returns open escrows whose expected delivery date is before now
	ListOverdue(ctx context.Context, now time.Time) ([]*models.EggsTransaction, error)
}

// ExternalPaymentRepository defines the interface for processed payment storage
type ExternalPaymentRepository interface {
	// GetBySourceRef retrieves a processed payment, returning nil if absent
	GetBySourceRef(ctx context.Context, sourceRef string) (*models.ExternalPayment, error)

	// Create records a payment. Returns false when the source reference was already recorded.
	Create(ctx context.Context, payment *models.ExternalPayment) (bool, error)
}

// LevelCostRepository defines the interface for the per-level cost counters
type LevelCostRepository interface {
	// Get reads the cost of reaching targetLevel, returning nil if the level is not configured
	Get(ctx context.Context, targetLevel int) (*models.LevelCost, error)

	// GetForUpdate reads and row-locks the cost of reaching targetLevel
	GetForUpdate(ctx context.Context, targetLevel int) (*models.LevelCost, error)

	// RecordUse increments the use count and raises the cost by step
	RecordUse(ctx context.Context, targetLevel int, step int64) error
}

// MeritRepository defines the interface for merit and level-up history
type MeritRepository interface {
	// RecordAward stores a merit award and fills its ID and CreatedAt
	RecordAward(ctx context.Context, award *models.MeritAward) error

	// RecordLevelUp stores a transformation and fills its ID and CreatedAt
	RecordLevelUp(ctx context.Context, levelUp *models.LevelUp) error

	// ListLevelUps returns the user's transformations, newest first
	ListLevelUps(ctx context.Context, userID uuid.UUID) ([]*models.LevelUp, error)
}

// EventPublisher queues events for delivery
type EventPublisher interface {
	Publish(event events.Event)
}

// UnitOfWork groups repository calls into one database transaction
type UnitOfWork interface {
	Begin(ctx context.Context) error
	Commit() error
	Rollback() error

	ProfileRepository() ProfileRepository
	LedgerRepository() LedgerRepository
	EscrowRepository() EscrowRepository
	ExternalPaymentRepository() ExternalPaymentRepository
	LevelCostRepository() LevelCostRepository
	MeritRepository() MeritRepository
	EventBus() EventPublisher
}

// UnitOfWorkFactory creates units of work
type UnitOfWorkFactory interface {
	Create() UnitOfWork
}

// TransferResult is returned by a completed Doves transfer
type TransferResult struct {
	SenderID         uuid.UUID
	RecipientID      uuid.UUID
	RecipientName    string
	Amount           int64
	NewSenderBalance int64
	ConsumedEntryIDs []uuid.UUID
}

// SendEggsResult is returned when an escrow is created
type SendEggsResult struct {
	EscrowID         uuid.UUID
	HatchedAmount    int64
	PendingAmount    int64
	NewSenderBalance int64
}

// ReconcileResult describes one cache check
type ReconcileResult struct {
	UserID        uuid.UUID
	CachedBalance int64
	LedgerBalance int64
	Corrected     bool
}

// SweepResult summarizes an expiry sweep
type SweepResult struct {
	UsersSwept     int
	EntriesFlagged int64
	Corrections    int
}

// PaymentResult is returned by an external payment credit
type PaymentResult struct {
	Payment   *models.ExternalPayment
	LevelUps  []*models.LevelUp
	Duplicate bool
}

// MeritResult is returned by a merit award
type MeritResult struct {
	Award    *models.MeritAward
	Profile  *models.Profile
	LevelUps []*models.LevelUp
}

// BalanceService exposes balance reads and cache reconciliation
type BalanceService interface {
	// GetActiveBalance sums the user's active ledger entries
	GetActiveBalance(ctx context.Context, userID uuid.UUID) (int64, error)

	// GetBalanceBreakdown splits the active balance by time to expiry
	GetBalanceBreakdown(ctx context.Context, userID uuid.UUID) (*models.BalanceBreakdown, error)

	// ListEntries returns the user's active entries, oldest first
	ListEntries(ctx context.Context, userID uuid.UUID) ([]*models.PalomaTransaction, error)

	// Reconcile overwrites the cached balance with the ledger sum if they differ
	Reconcile(ctx context.Context, userID uuid.UUID) (*ReconcileResult, error)

	// ReconcileAll runs Reconcile for every profile and returns the corrections made
	ReconcileAll(ctx context.Context) ([]*ReconcileResult, error)
}

// LedgerService maintains the ledger outside of user actions
type LedgerService interface {
	// SweepExpired flags lapsed entries and re-syncs the affected cached balances
	SweepExpired(ctx context.Context, now time.Time) (*SweepResult, error)
}

// TransferService moves Palomas between users immediately
type TransferService interface {
	// TransferDoves sends amount to the user with recipientUsername
	TransferDoves(ctx context.Context, senderID uuid.UUID, recipientUsername string, amount int64) (*TransferResult, error)

	// Transfer sends amount to recipientID
	Transfer(ctx context.Context, senderID, recipientID uuid.UUID, amount int64) (*TransferResult, error)
}

// EscrowService manages eggs transactions
type EscrowService interface {
	// SendEggs creates an escrow, hatching half of totalAmount to the recipient immediately
	SendEggs(ctx context.Context, senderID uuid.UUID, recipientUsername string, totalAmount int64, workDescription string, deliveryWindowDays int) (*SendEggsResult, error)

	// UploadEggWork records the recipient's delivery
	UploadEggWork(ctx context.Context, escrowID, actorID uuid.UUID, deliveryURL string) (*models.EggsTransaction, error)

	// ApproveEgg releases the held amount to the recipient
	ApproveEgg(ctx context.Context, escrowID, actorID uuid.UUID) (*models.EggsTransaction, error)

	// DisputeEgg holds the escrow for manual facilitation
	DisputeEgg(ctx context.Context, escrowID, actorID uuid.UUID, notes string) (*models.EggsTransaction, error)

	// ResolveDispute closes a disputed escrow by releasing or refunding the held amount
	ResolveDispute(ctx context.Context, escrowID, actorID uuid.UUID, outcome models.DisputeResolution) (*models.EggsTransaction, error)

	// GetEscrow retrieves an escrow
	GetEscrow(ctx context.Context, escrowID uuid.UUID) (*models.EggsTransaction, error)

	// ListEscrowsForUser returns the user's escrows, newest first
	ListEscrowsForUser(ctx context.Context, userID uuid.UUID) ([]*models.EggsTransaction, error)

	// ListOverdue returns open escrows past their expected delivery date
	ListOverdue(ctx context.Context, now time.Time) ([]*models.EggsTransaction, error)
}

// PaymentService credits verified external payments
type PaymentService interface {
	// CreditExternalPayment credits one Paloma per dollar, once per sourceRef
	CreditExternalPayment(ctx context.Context, userID uuid.UUID, amountUSD string, sourceRef string) (*PaymentResult, error)
}

// MeritService awards merits and drives level progression
type MeritService interface {
	// AwardMerit grants a merit to targetID and runs the level-up check
	AwardMerit(ctx context.Context, actorID, targetID uuid.UUID, reason string) (*MeritResult, error)

	// GetLevelProgress reports how far the user is toward the next level
	GetLevelProgress(ctx context.Context, userID uuid.UUID) (*models.LevelProgress, error)
}

// UserService manages profiles
type UserService interface {
	// GetOrCreateProfile returns the user's profile, creating it on first authentication
	GetOrCreateProfile(ctx context.Context, userID uuid.UUID, referredByUsername string) (*models.Profile, error)

	// GetProfile retrieves a profile by id
	GetProfile(ctx context.Context, userID uuid.UUID) (*models.Profile, error)

	// GetProfileByUsername retrieves a profile by username, case-insensitively
	GetProfileByUsername(ctx context.Context, username string) (*models.Profile, error)
}
