// Package exchange contains the mediator between venue adapters and
// strategy contexts: subscription multiplexing, snapshot caching, pending
// update fan-out, order routing, and restart replay.
package exchange

import (
	"tradecore/internal/order"
	"tradecore/pkg/types"
)

// EventTarget is a strategy context seen from the venue side. The mediator
// invokes these callbacks, possibly while holding its own mutex — they must
// not block: at most lock-then-enqueue, never I/O, never a call back into
// the mediator.
type EventTarget interface {
	// OnInstrumentUpdated reports a completed instrument update.
	OnInstrumentUpdated(i *types.Instrument)
	// OnAccountUpdated reports a completed account update.
	OnAccountUpdated(a *types.Account)
	// OnTicker delivers a ticker for a subscribed instrument.
	OnTicker(i *types.Instrument, tk types.Ticker)
	// OnOrderBook delivers an order book snapshot for a subscribed
	// instrument.
	OnOrderBook(i *types.Instrument, ob types.OrderBook)
	// OnOrderReport delivers an order state change.
	OnOrderReport(o *order.Order, r order.Report)
	// OnOrderFill delivers one execution of an order.
	OnOrderFill(o *order.Order, f types.Fill)
}

// Adapter is the venue protocol implementation behind a mediator. Adapters
// run their own I/O goroutines and drive the mediator through its Income*,
// ObjectUpdated*, OrderStateChanged, OrderFill, and OrderRestore entry
// points.
type Adapter interface {
	// ID returns the stable venue identifier.
	ID() string
	// Name returns the human-readable venue name.
	Name() string
	// Icon returns venue icon data when the adapter ships one.
	Icon() (string, bool)

	// Subscribe starts the venue stream for one instrument.
	Subscribe(t types.SubscriptionType, i *types.Instrument)
	// Unsubscribe stops the venue stream for one instrument.
	Unsubscribe(t types.SubscriptionType, i *types.Instrument)

	// UpdateAccount asks the venue for a fresh account snapshot; completion
	// is reported through Mediator.ObjectUpdatedAccount.
	UpdateAccount(a *types.Account)
	// UpdateInstrument asks the venue for fresh instrument definitions;
	// completion is reported through Mediator.ObjectUpdatedInstrument.
	UpdateInstrument(i *types.Instrument)

	// AllocateEquity earmarks equity on the account for the calling
	// strategy. Advisory; not persistent.
	AllocateEquity(a *types.Account, equity float64)

	// CreateOrder validates a setup and builds an order instance without
	// placing it. Validation failures return a discarded order.
	CreateOrder(i *types.Instrument, a *types.Account, setup order.Setup) *order.Order
	// CreateOrderReplace builds an order replacing another one; amend asks
	// for in-place modification. Validation failures return a discarded
	// order.
	CreateOrderReplace(replaced *order.Order, setup order.Setup, amend bool) *order.Order
	// BatchPlace submits orders created by CreateOrder*.
	BatchPlace(orders []*order.Order)
	// BatchCancel cancels live orders.
	BatchCancel(orders []*order.Order)

	// RestoreOrders rehydrates serialized open orders after a restart. For
	// each order the adapter calls Mediator.OrderRestore(target, o) and then
	// replays any unprocessed state reports and fills. Fills may be replayed
	// in full; the context discards duplicates by id.
	RestoreOrders(target EventTarget, orders []order.SerializedOrder)

	// OrderApplyReport folds a state report into the adapter's own
	// bookkeeping for the order.
	OrderApplyReport(o *order.Order, r order.Report)
	// OrderApplyFill folds a fill into the adapter's own bookkeeping.
	OrderApplyFill(o *order.Order, f types.Fill)
}

// SubscriptionPolicy says how long a subscription entry lives.
type SubscriptionPolicy uint8

const (
	// PolicyUnlimited delivers until unsubscribed.
	PolicyUnlimited SubscriptionPolicy = iota
	// PolicyOneShot delivers once, then the entry is removed. Used for
	// point queries that still flow through the event channel.
	PolicyOneShot
)
