package events

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"palomas/models"
)

// TestEventDeliveryIntegration tests the complete event flow from TransactionalBus to main Bus
func TestEventDeliveryIntegration(t *testing.T) {
	mainBus := NewBus()
	transactionalBus := NewTransactionalBus(mainBus)

	eventReceived := make(chan BalanceChangeEvent, 1)
	mainBus.Subscribe(EventTypeBalanceChange, func(ctx context.Context, event Event) {
		if balanceEvent, ok := event.(BalanceChangeEvent); ok {
			eventReceived <- balanceEvent
		} else {
			t.Errorf("Expected BalanceChangeEvent, got %T", event)
		}
	})

	testEvent := BalanceChangeEvent{
		UserID:       uuid.New(),
		OldBalance:   100,
		NewBalance:   40,
		ChangeAmount: -60,
		Reason:       ReasonTransferOut,
	}

	transactionalBus.Publish(testEvent)
	assert.Len(t, transactionalBus.Pending(), 1)

	err := transactionalBus.Flush(context.Background())
	assert.NoError(t, err)
	assert.Empty(t, transactionalBus.Pending())

	select {
	case received := <-eventReceived:
		assert.Equal(t, testEvent, received)
	case <-time.After(2 * time.Second):
		t.Fatal("Event was not received within timeout")
	}
}

// TestMultipleEventTypesDelivery checks SubscribeAll sees every kind of event
func TestMultipleEventTypesDelivery(t *testing.T) {
	mainBus := NewBus()
	transactionalBus := NewTransactionalBus(mainBus)

	var mu sync.Mutex
	seen := make(map[EventType]int)
	var wg sync.WaitGroup
	wg.Add(4)

	mainBus.SubscribeAll(func(ctx context.Context, event Event) {
		defer wg.Done()
		mu.Lock()
		seen[event.Type()]++
		mu.Unlock()
	})

	userID := uuid.New()
	transactionalBus.Publish(BalanceChangeEvent{UserID: userID, NewBalance: 10, ChangeAmount: 10, Reason: ReasonExternalPayment})
	transactionalBus.Publish(EscrowStateChangeEvent{EscrowID: uuid.New(), NewStatus: models.EscrowStatusPending})
	transactionalBus.Publish(LevelUpEvent{UserID: userID, FromLevel: 0, ToLevel: 1, Cost: 100})
	transactionalBus.Publish(ExternalPaymentEvent{UserID: userID, SourceRef: "order-1", AmountUSD: "10", Palomas: 10})

	require.NoError(t, transactionalBus.Flush(context.Background()))

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Not all events were delivered")
	}

	mu.Lock()
	defer mu.Unlock()
	for _, eventType := range AllEventTypes {
		assert.Equal(t, 1, seen[eventType], "event type %s", eventType)
	}
}

// TestTransactionalBusDiscard tests that discarded events are not delivered
func TestTransactionalBusDiscard(t *testing.T) {
	mainBus := NewBus()
	transactionalBus := NewTransactionalBus(mainBus)

	eventReceived := make(chan bool, 1)
	mainBus.Subscribe(EventTypeBalanceChange, func(ctx context.Context, event Event) {
		eventReceived <- true
	})

	transactionalBus.Publish(BalanceChangeEvent{UserID: uuid.New(), OldBalance: 100, NewBalance: 150, ChangeAmount: 50})
	transactionalBus.Discard()

	require.NoError(t, transactionalBus.Flush(context.Background()))

	select {
	case <-eventReceived:
		t.Fatal("Event was received despite being discarded")
	case <-time.After(100 * time.Millisecond):
	}
}

// TestHandlerPanicIsContained checks one failing subscriber does not stop others
func TestHandlerPanicIsContained(t *testing.T) {
	mainBus := NewBus()
	delivered := make(chan struct{}, 1)

	mainBus.Subscribe(EventTypeLevelUp, func(ctx context.Context, event Event) {
		panic("boom")
	})
	mainBus.Subscribe(EventTypeLevelUp, func(ctx context.Context, event Event) {
		delivered <- struct{}{}
	})

	mainBus.Emit(context.Background(), LevelUpEvent{UserID: uuid.New(), ToLevel: 2})

	select {
	case <-delivered:
	case <-time.After(2 * time.Second):
		t.Fatal("Healthy handler did not run")
	}
}
