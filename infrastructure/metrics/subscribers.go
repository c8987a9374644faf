package metrics

import (
	"context"

	"palomas/events"
)

// SubscribeBalanceChanges counts moved Palomas from committed balance change
// events. Events raised by a rolled back or retried attempt never reach bus.
func SubscribeBalanceChanges(bus *events.Bus) {
	bus.Subscribe(events.EventTypeBalanceChange, func(_ context.Context, event events.Event) {
		change, ok := event.(events.BalanceChangeEvent)
		if !ok {
			return
		}
		amount := change.ChangeAmount
		if amount < 0 {
			amount = -amount
		}
		RecordPalomasMoved(string(change.Reason), amount)
	})
}
