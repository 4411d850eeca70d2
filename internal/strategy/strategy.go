// Package strategy defines the interface user strategies implement and the
// context API the runtime hands them.
//
// Every callback runs on the runtime's single worker goroutine; a strategy
// observes exactly one callback at a time and never needs its own locking
// for state touched only from callbacks.
package strategy

import (
	"time"

	"tradecore/internal/order"
	"tradecore/internal/schema"
	"tradecore/internal/sched"
	"tradecore/pkg/types"
)

// SignalConfigChanged is delivered through OnSignal when the strategy's
// configuration was edited while running.
const SignalConfigChanged = 0

// Config is the configuration resolved for one strategy instance.
type Config struct {
	// Accounts and Instruments are the handles this instance trades with,
	// in the order configured.
	Accounts    []*types.Account
	Instruments []*types.Instrument
	// Params are the raw values of the strategy's schema controls.
	Params map[string]string
}

// Param reads one parameter with a fallback default.
func (c Config) Param(name, def string) string {
	if v, ok := c.Params[name]; ok {
		return v
	}
	return def
}

// Context is the strategy's window into the runtime. All methods are
// synchronous and must be called from strategy callbacks only — they run on
// the worker goroutine that owns the strategy.
type Context interface {
	// Now returns the current tick time; it is constant for the duration of
	// one callback.
	Now() time.Time

	// SetTimer schedules OnTimer(id) at the given time.
	SetTimer(at time.Time) sched.TimerID
	// SetTimerFunc schedules fn instead of the OnTimer callback.
	SetTimerFunc(at time.Time, fn func()) sched.TimerID
	// ClearTimer cancels a pending timer; returns false after it fired.
	ClearTimer(id sched.TimerID) bool

	// Subscribe starts a market data stream for the instrument.
	Subscribe(t types.SubscriptionType, i *types.Instrument)
	// Unsubscribe stops the stream. Idempotent.
	Unsubscribe(t types.SubscriptionType, i *types.Instrument)

	// Place creates and enqueues an order; the returned handle may already
	// be discarded when validation failed — discarded orders are returned
	// but never sent.
	Place(i *types.Instrument, setup order.Setup) *order.Order
	// Replace replaces an order (amend = in-place when the venue supports
	// it). Replacing an associated handle degrades to Place; any other
	// handle kind yields an error order with reason incompatible_order.
	Replace(o *order.Order, setup order.Setup, amend bool) *order.Order
	// Cancel enqueues a cancel for a live order.
	Cancel(o *order.Order)
	// BindOrder returns an associated placeholder for the instrument,
	// usable once as the target of Replace.
	BindOrder(i *types.Instrument) *order.Order

	// UpdateAccount requests a fresh account snapshot; done runs on the
	// worker goroutine when the venue confirms.
	UpdateAccount(a *types.Account, done func())
	// UpdateInstrument requests fresh instrument definitions.
	UpdateInstrument(i *types.Instrument, done func())
	// Allocate earmarks equity on the account for this strategy.
	Allocate(a *types.Account, equity float64)

	// SetVar persists a strategy variable in the tick's transaction.
	SetVar(name, value string)
	// UnsetVar removes a strategy variable.
	UnsetVar(name string)
	// GetVar reads a committed strategy variable ("" when missing).
	GetVar(name string) string
	// EnumVars iterates committed variables by name prefix.
	EnumVars(prefix string, fn func(name, value string) bool)

	// Fills returns the newest limit stored fills with the label prefix,
	// ordered by (time, id) ascending.
	Fills(limit int, filter string) []types.Fill
	// FillsSince returns stored fills strictly newer than ts.
	FillsSince(ts time.Time, filter string) []types.Fill
}

// Strategy is the user-implemented trading logic. The runtime guarantees
// single-threaded, ordered, restart-safe delivery of every callback.
type Strategy interface {
	// Schema describes the strategy's configuration form.
	Schema() schema.Schema

	// OnInit runs once before any other callback; the context is valid from
	// here on.
	OnInit(ctx Context, cfg Config)
	// OnTicker delivers the latest ticker of a subscribed instrument.
	// Bursts collapse: only the newest snapshot survives.
	OnTicker(i *types.Instrument, tk types.Ticker)
	// OnOrderBook delivers the latest order book of a subscribed
	// instrument; bursts collapse like tickers.
	OnOrderBook(i *types.Instrument, ob types.OrderBook)
	// OnOrder reports an order state change — including, after a restart,
	// the replayed final states of restored orders.
	OnOrder(o *order.Order)
	// OnFill reports one execution, deduplicated against storage by id.
	OnFill(o *order.Order, f types.Fill)
	// OnTimer fires for timers set without a callback function.
	OnTimer(id sched.TimerID)
	// OnSignal delivers host signals (SignalConfigChanged, ...).
	OnSignal(sig int)
}

// Base is a no-op Strategy implementation to embed; override the callbacks
// the strategy cares about.
type Base struct{}

func (Base) Schema() schema.Schema                          { return schema.Schema{} }
func (Base) OnTicker(*types.Instrument, types.Ticker)       {}
func (Base) OnOrderBook(*types.Instrument, types.OrderBook) {}
func (Base) OnOrder(*order.Order)                           {}
func (Base) OnFill(*order.Order, types.Fill)                {}
func (Base) OnTimer(sched.TimerID)                          {}
func (Base) OnSignal(int)                                   {}
