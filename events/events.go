package events

import (
	"context"
	"sync"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"palomas/models"
)

// EventType represents different types of events in the system
type EventType string

const (
	EventTypeBalanceChange     EventType = "balance_change"
	EventTypeEscrowStateChange EventType = "escrow_state_change"
	EventTypeLevelUp           EventType = "level_up"
	EventTypeExternalPayment   EventType = "external_payment"
)

// AllEventTypes lists every event the ledger emits
var AllEventTypes = []EventType{
	EventTypeBalanceChange,
	EventTypeEscrowStateChange,
	EventTypeLevelUp,
	EventTypeExternalPayment,
}

// Event is the base interface for all events
type Event interface {
	Type() EventType
}

// ChangeReason says which operation moved a balance
type ChangeReason string

const (
	ReasonTransferOut     ChangeReason = "transfer_out"
	ReasonTransferIn      ChangeReason = "transfer_in"
	ReasonEscrowHold      ChangeReason = "escrow_hold"
	ReasonEscrowHatch     ChangeReason = "escrow_hatch"
	ReasonEscrowApproved  ChangeReason = "escrow_approved"
	ReasonEscrowRefund    ChangeReason = "escrow_refund"
	ReasonExternalPayment ChangeReason = "external_payment"
	ReasonReferralBonus   ChangeReason = "referral_bonus"
	ReasonReconcile       ChangeReason = "reconcile"
	ReasonExpiry          ChangeReason = "expiry"
)

// BalanceChangeEvent represents a committed change to a cached balance
type BalanceChangeEvent struct {
	UserID       uuid.UUID    `json:"user_id"`
	OldBalance   int64        `json:"old_balance"`
	NewBalance   int64        `json:"new_balance"`
	ChangeAmount int64        `json:"change_amount"`
	Reason       ChangeReason `json:"reason"`
}

func (e BalanceChangeEvent) Type() EventType {
	return EventTypeBalanceChange
}

// EscrowStateChangeEvent represents an eggs transaction transition
type EscrowStateChangeEvent struct {
	EscrowID      uuid.UUID           `json:"escrow_id"`
	SenderID      uuid.UUID           `json:"sender_id"`
	RecipientID   uuid.UUID           `json:"recipient_id"`
	OldStatus     models.EscrowStatus `json:"old_status,omitempty"`
	NewStatus     models.EscrowStatus `json:"new_status"`
	PendingAmount int64               `json:"pending_amount"`
	Notes         string              `json:"notes,omitempty"`
}

func (e EscrowStateChangeEvent) Type() EventType {
	return EventTypeEscrowStateChange
}

// LevelUpEvent represents a completed transformation
type LevelUpEvent struct {
	UserID        uuid.UUID  `json:"user_id"`
	FromLevel     int        `json:"from_level"`
	ToLevel       int        `json:"to_level"`
	Cost          int64      `json:"cost"`
	ReferrerID    *uuid.UUID `json:"referrer_id,omitempty"`
	ReferralBonus int64      `json:"referral_bonus"`
}

func (e LevelUpEvent) Type() EventType {
	return EventTypeLevelUp
}

// ExternalPaymentEvent represents a credited payment
type ExternalPaymentEvent struct {
	UserID    uuid.UUID `json:"user_id"`
	SourceRef string    `json:"source_ref"`
	AmountUSD string    `json:"amount_usd"`
	Palomas   int64     `json:"palomas"`
}

func (e ExternalPaymentEvent) Type() EventType {
	return EventTypeExternalPayment
}

// Handler is a function that handles events
type Handler func(ctx context.Context, event Event)

// Bus manages event subscriptions and dispatching
type Bus struct {
	mu       sync.RWMutex
	handlers map[EventType][]Handler
}

// NewBus creates a new event bus
func NewBus() *Bus {
	return &Bus{
		handlers: make(map[EventType][]Handler),
	}
}

// Subscribe adds a handler for a specific event type
func (b *Bus) Subscribe(eventType EventType, handler Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.handlers[eventType] = append(b.handlers[eventType], handler)

	log.WithFields(log.Fields{
		"eventType":    eventType,
		"handlerCount": len(b.handlers[eventType]),
	}).Debug("Subscribed handler to event type")
}

// SubscribeAll adds a handler for every event type
func (b *Bus) SubscribeAll(handler Handler) {
	for _, eventType := range AllEventTypes {
		b.Subscribe(eventType, handler)
	}
}

// Emit publishes an event to all registered handlers
func (b *Bus) Emit(ctx context.Context, event Event) {
	b.mu.RLock()
	handlers := make([]Handler, len(b.handlers[event.Type()]))
	copy(handlers, b.handlers[event.Type()])
	b.mu.RUnlock()

	log.WithFields(log.Fields{
		"eventType":    event.Type(),
		"handlerCount": len(handlers),
	}).Debug("Emitting event to handlers")

	// Handlers run asynchronously so a slow subscriber never delays the caller
	for i, handler := range handlers {
		go func(h Handler, handlerIndex int) {
			defer func() {
				if r := recover(); r != nil {
					log.WithFields(log.Fields{
						"eventType":    event.Type(),
						"handlerIndex": handlerIndex,
						"panic":        r,
					}).Error("Event handler panicked")
				}
			}()
			h(ctx, event)
		}(handler, i)
	}
}

// TransactionalBus holds events raised inside a unit of work until it commits
type TransactionalBus struct {
	real    *Bus
	pending []Event
}

func NewTransactionalBus(real *Bus) *TransactionalBus {
	return &TransactionalBus{real: real}
}

func (b *TransactionalBus) Publish(e Event) {
	b.pending = append(b.pending, e)
}

// Pending returns the events queued so far
func (b *TransactionalBus) Pending() []Event {
	return b.pending
}

// Flush is called after a successful commit
func (b *TransactionalBus) Flush(ctx context.Context) error {
	log.WithFields(log.Fields{
		"pendingEventCount": len(b.pending),
	}).Debug("Flushing pending events to main event bus")

	// Handlers outlive the request, so they get a fresh context
	eventCtx := context.Background()

	if b.real != nil {
		for _, ev := range b.pending {
			b.real.Emit(eventCtx, ev)
		}
	}
	b.pending = nil
	return nil
}

// Discard is called after a rollback
func (b *TransactionalBus) Discard() {
	b.pending = nil
}
