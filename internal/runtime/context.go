// Package runtime binds one strategy to one storage and one exchange and
// gives it a single-threaded, ordered, restart-safe view of the market.
//
// The Context is an event demultiplexer: every inbound exchange event is
// translated into an enqueue on the per-context scheduler, and the global
// ContextScheduler's worker goroutine later drains exactly one event per
// tick. Strategy callbacks therefore never race each other; outbound order
// mutations are batched per tick and storage side effects commit atomically
// at the end of the tick.
package runtime

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"tradecore/internal/exchange"
	"tradecore/internal/order"
	"tradecore/internal/sched"
	"tradecore/internal/storage"
	"tradecore/internal/strategy"
	"tradecore/pkg/types"
)

// Collapsing event classes: tickers collapse before order books within a
// tick; both collapse per instrument inside their class slot.
const (
	classTicker    sched.EventClass = 1
	classOrderBook sched.EventClass = 2
)

// mdPending collapses market data per instrument while preserving the
// order in which instruments first appeared.
type mdPending[T any] struct {
	order []*types.Instrument
	data  map[*types.Instrument]T
}

func (p *mdPending[T]) put(i *types.Instrument, v T) {
	if p.data == nil {
		p.data = make(map[*types.Instrument]T)
	}
	if _, ok := p.data[i]; !ok {
		p.order = append(p.order, i)
	}
	p.data[i] = v
}

func (p *mdPending[T]) pop() (*types.Instrument, T, bool) {
	if len(p.order) == 0 {
		var zero T
		return nil, zero, false
	}
	i := p.order[0]
	p.order = p.order[1:]
	v := p.data[i]
	delete(p.data, i)
	return i, v, true
}

// Context wires one strategy instance to its storage, exchange, and the
// shared worker.
//
// Locking: mu guards the tick state (current time, outbound batches, lazy
// transaction) and is held for the whole wakeup; cbMu guards the pending
// update callback maps; mdMu guards the market data collapse maps. Inbound
// events take only the scheduler lock plus cbMu/mdMu — never mu — so
// delivery stays non-blocking while a tick runs. Acquisition order is
// mu before cbMu; the exchange is never called with cbMu held.
type Context struct {
	id     string
	strat  strategy.Strategy
	cfg    strategy.Config
	sch    *sched.Scheduler
	global *sched.ContextScheduler
	reg    sched.Registration
	store  storage.Storage
	ex     *exchange.Mediator
	logger *slog.Logger

	mu          sync.Mutex
	curTime     time.Time
	batchPlace  []*order.Order
	batchCancel []*order.Order
	txnOpen     bool

	cbMu    sync.Mutex
	acctCbs map[*types.Account][]func()
	instCbs map[*types.Instrument][]func()

	mdMu     sync.Mutex
	tickPend mdPending[types.Ticker]
	bookPend mdPending[types.OrderBook]
}

// New builds a context. Call Init to run the strategy's OnInit and replay
// stored orders; the context participates in scheduling from then on.
func New(id string, strat strategy.Strategy, cfg strategy.Config, global *sched.ContextScheduler, store storage.Storage, ex *exchange.Mediator, logger *slog.Logger) *Context {
	c := &Context{
		id:      id,
		strat:   strat,
		cfg:     cfg,
		sch:     sched.NewScheduler(),
		global:  global,
		store:   store,
		ex:      ex,
		logger:  logger.With("component", "context", "strategy", id),
		acctCbs: make(map[*types.Account][]func()),
		instCbs: make(map[*types.Instrument][]func()),
	}
	c.reg.Wakeup = c.wakeup
	return c
}

// Init runs the strategy's OnInit, hands stored open orders to the exchange
// for restore, and arms the first wakeup. OnInit executes on the calling
// goroutine, which plays the worker's role for this one call.
func (c *Context) Init() error {
	c.mu.Lock()
	fault := c.runProtected(func() { c.strat.OnInit(c, c.cfg) })
	next := c.sch.Arm(c.curTime, c.notifySched)
	c.reschedule(next)
	c.flushBatches()
	c.mu.Unlock()
	if fault != nil {
		return fault
	}

	open, err := c.store.LoadOpenOrders()
	if err != nil {
		return fmt.Errorf("restore: %w", err)
	}
	if len(open) > 0 {
		c.ex.RestoreOrders(c, open)
	}
	return nil
}

// Close withdraws the context from scheduling and drops everything the
// exchange holds for it.
func (c *Context) Close() {
	c.global.Unset(&c.reg)
	c.ex.Disconnect(c)
}

// ID returns the strategy instance id.
func (c *Context) ID() string { return c.id }

// wakeup is one worker tick: pin the tick time, drain one event, reschedule
// by the scheduler's demand, flush outbound batches, and commit the tick's
// transaction.
func (c *Context) wakeup(now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.curTime = now
	next := c.dispatch(now)
	c.reschedule(next)
	c.flushBatches()
}

// dispatch drains one event, converting a strategy panic into a logged
// fault: the transaction rolls back, the batches clear, and the context
// re-arms for the next tick.
func (c *Context) dispatch(now time.Time) (next time.Time) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("strategy fault", "error", types.ErrStrategyFault, "panic", r)
			c.abortTick()
			next = c.sch.Arm(now, c.notifySched)
		}
	}()
	return c.sch.Wakeup(now, c.notifySched)
}

// runProtected runs fn with the same fault containment as dispatch.
func (c *Context) runProtected(fn func()) (fault error) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("strategy fault", "error", types.ErrStrategyFault, "panic", r)
			c.abortTick()
			fault = fmt.Errorf("%w: %v", types.ErrStrategyFault, r)
		}
	}()
	fn()
	return nil
}

func (c *Context) abortTick() {
	if c.txnOpen {
		c.store.Rollback()
		c.txnOpen = false
	}
	c.batchPlace = c.batchPlace[:0]
	c.batchCancel = c.batchCancel[:0]
}

func (c *Context) notifySched(at time.Time) {
	c.reschedule(at)
}

func (c *Context) reschedule(at time.Time) {
	if at.Equal(sched.FarFuture) {
		return
	}
	c.global.Set(&c.reg, at)
}

// flushBatches sends the tick's cancels then places, and commits the lazy
// transaction. Called with mu held.
func (c *Context) flushBatches() {
	if len(c.batchCancel) > 0 {
		c.ex.BatchCancel(c.batchCancel)
		c.batchCancel = c.batchCancel[:0]
	}
	if len(c.batchPlace) > 0 {
		c.ex.BatchPlace(c, c.batchPlace)
		c.batchPlace = c.batchPlace[:0]
	}
	if c.txnOpen {
		c.txnOpen = false
		if err := c.store.Commit(); err != nil {
			c.logger.Error("tick commit failed", "error", err)
		}
	}
}

// beginTxn lazily opens the tick's transaction.
func (c *Context) beginTxn() {
	if !c.txnOpen {
		c.store.Begin()
		c.txnOpen = true
	}
}

// ————————————————————————————————————————————————————————————————————————
// Inbound events (exchange.EventTarget) — enqueue only, any thread
// ————————————————————————————————————————————————————————————————————————

// OnOrderReport translates a venue state change into a tick: the report is
// applied to the order, the order persisted (done = deleted), and OnOrder
// delivered.
func (c *Context) OnOrderReport(o *order.Order, r order.Report) {
	c.sch.Enqueue(func() {
		o.ApplyReport(r)
		c.persistOrder(o)
		c.strat.OnOrder(o)
	})
}

// OnOrderFill deduplicates by fill id against storage before the strategy
// sees the fill; duplicates die here.
func (c *Context) OnOrderFill(o *order.Order, f types.Fill) {
	c.sch.Enqueue(func() {
		dup, err := c.store.IsDuplicateFill(f)
		if err != nil {
			c.logger.Error("duplicate fill lookup failed", "error", err, "fill_id", f.ID)
			return
		}
		if dup {
			return
		}
		c.beginTxn()
		if err := c.store.PutFill(f); err != nil {
			c.logger.Error("fill persist failed", "error", err, "fill_id", f.ID)
		}
		o.ApplyFill(f.Price, f.Amount)
		c.strat.OnFill(o, f)
	})
}

// OnTicker collapses bursts per instrument: only the latest snapshot per
// instrument survives, instruments drain in first-seen order, one per tick.
func (c *Context) OnTicker(i *types.Instrument, tk types.Ticker) {
	c.mdMu.Lock()
	c.tickPend.put(i, tk)
	c.sch.EnqueueCollapse(classTicker, c.dispatchTicker)
	c.mdMu.Unlock()
}

func (c *Context) dispatchTicker() {
	c.mdMu.Lock()
	i, tk, ok := c.tickPend.pop()
	if ok && len(c.tickPend.order) > 0 {
		c.sch.EnqueueCollapse(classTicker, c.dispatchTicker)
	}
	c.mdMu.Unlock()
	if ok {
		c.strat.OnTicker(i, tk)
	}
}

// OnOrderBook collapses like OnTicker under its own class.
func (c *Context) OnOrderBook(i *types.Instrument, ob types.OrderBook) {
	c.mdMu.Lock()
	c.bookPend.put(i, ob)
	c.sch.EnqueueCollapse(classOrderBook, c.dispatchOrderBook)
	c.mdMu.Unlock()
}

func (c *Context) dispatchOrderBook() {
	c.mdMu.Lock()
	i, ob, ok := c.bookPend.pop()
	if ok && len(c.bookPend.order) > 0 {
		c.sch.EnqueueCollapse(classOrderBook, c.dispatchOrderBook)
	}
	c.mdMu.Unlock()
	if ok {
		c.strat.OnOrderBook(i, ob)
	}
}

// OnAccountUpdated drains the account's completion callbacks on the worker.
func (c *Context) OnAccountUpdated(a *types.Account) {
	c.sch.Enqueue(func() {
		c.cbMu.Lock()
		cbs := c.acctCbs[a]
		delete(c.acctCbs, a)
		c.cbMu.Unlock()
		for _, cb := range cbs {
			cb()
		}
	})
}

// OnInstrumentUpdated drains the instrument's completion callbacks.
func (c *Context) OnInstrumentUpdated(i *types.Instrument) {
	c.sch.Enqueue(func() {
		c.cbMu.Lock()
		cbs := c.instCbs[i]
		delete(c.instCbs, i)
		c.cbMu.Unlock()
		for _, cb := range cbs {
			cb()
		}
	})
}

// Signal delivers a host signal (configuration change, ...) to the
// strategy on the worker.
func (c *Context) Signal(sig int) {
	c.sch.Enqueue(func() { c.strat.OnSignal(sig) })
}

// persistOrder stores or deletes the order in the tick's transaction.
// Associated and error handles never persist.
func (c *Context) persistOrder(o *order.Order) {
	if o.Kind() != order.KindBasic {
		return
	}
	c.beginTxn()
	if err := c.store.PutOrder(o); err != nil {
		c.logger.Error("order persist failed", "error", err, "order", o.ID())
	}
}

// ————————————————————————————————————————————————————————————————————————
// Outbound API (strategy.Context) — worker goroutine only
// ————————————————————————————————————————————————————————————————————————

// Now returns the tick time; constant for the duration of a callback.
func (c *Context) Now() time.Time { return c.curTime }

// SetTimer schedules the strategy's OnTimer callback.
func (c *Context) SetTimer(at time.Time) sched.TimerID {
	var id sched.TimerID
	id = c.sch.EnqueueTimed(at, func() { c.strat.OnTimer(id) })
	return id
}

// SetTimerFunc schedules an arbitrary callback instead of OnTimer.
func (c *Context) SetTimerFunc(at time.Time, fn func()) sched.TimerID {
	return c.sch.EnqueueTimed(at, fn)
}

// ClearTimer cancels a pending timer; false once it fired.
func (c *Context) ClearTimer(id sched.TimerID) bool {
	return c.sch.CancelTimed(id)
}

// Subscribe starts a market data stream for this context.
func (c *Context) Subscribe(t types.SubscriptionType, i *types.Instrument) {
	c.ex.Subscribe(c, t, i)
}

// Unsubscribe stops the stream. Idempotent.
func (c *Context) Unsubscribe(t types.SubscriptionType, i *types.Instrument) {
	c.ex.Unsubscribe(c, t, i)
}

// Place asks the exchange to create an order and enqueues it for the
// tick-end batch. A discarded order is returned to the strategy but never
// enqueued.
func (c *Context) Place(i *types.Instrument, setup order.Setup) *order.Order {
	o := c.ex.CreateOrder(i, c.accountFor(i), setup)
	if !o.Discarded() {
		c.batchPlace = append(c.batchPlace, o)
	}
	return o
}

// Replace replaces an order. A basic handle goes through the adapter's
// replace path; an associated handle degrades to Place; anything else is
// answered with an incompatible_order error handle.
func (c *Context) Replace(o *order.Order, setup order.Setup, amend bool) *order.Order {
	switch o.Kind() {
	case order.KindBasic:
		no := c.ex.CreateOrderReplace(o, setup, amend)
		if !no.Discarded() {
			c.batchPlace = append(c.batchPlace, no)
		}
		return no
	case order.KindAssociated:
		return c.Place(o.Instrument(), setup)
	default:
		return order.NewError(o.Instrument(), o.Account(), order.IncompatibleOrder, "")
	}
}

// Cancel enqueues a cancel for a basic order; other handle kinds have
// nothing to cancel.
func (c *Context) Cancel(o *order.Order) {
	if o.Kind() == order.KindBasic {
		c.batchCancel = append(c.batchCancel, o)
	}
}

// BindOrder returns an associated placeholder for the instrument.
func (c *Context) BindOrder(i *types.Instrument) *order.Order {
	return order.NewAssociated(i, c.accountFor(i))
}

// UpdateAccount coalesces per account: the exchange request is issued only
// when this context had no update in flight for it. Completion callbacks
// run in insertion order on the worker.
func (c *Context) UpdateAccount(a *types.Account, done func()) {
	if done == nil {
		done = func() {}
	}
	c.cbMu.Lock()
	first := len(c.acctCbs[a]) == 0
	c.acctCbs[a] = append(c.acctCbs[a], done)
	c.cbMu.Unlock()
	if first {
		c.ex.UpdateAccount(c, a)
	}
}

// UpdateInstrument coalesces per instrument; see UpdateAccount.
func (c *Context) UpdateInstrument(i *types.Instrument, done func()) {
	if done == nil {
		done = func() {}
	}
	c.cbMu.Lock()
	first := len(c.instCbs[i]) == 0
	c.instCbs[i] = append(c.instCbs[i], done)
	c.cbMu.Unlock()
	if first {
		c.ex.UpdateInstrument(c, i)
	}
}

// Allocate earmarks equity on the account for this strategy.
func (c *Context) Allocate(a *types.Account, equity float64) {
	c.ex.AllocateEquity(a, equity)
}

// SetVar writes a strategy variable into the tick's transaction.
func (c *Context) SetVar(name, value string) {
	c.beginTxn()
	if err := c.store.PutVar(name, value); err != nil {
		c.logger.Error("var write failed", "error", err, "var", name)
	}
}

// UnsetVar removes a strategy variable in the tick's transaction.
func (c *Context) UnsetVar(name string) {
	c.beginTxn()
	if err := c.store.EraseVar(name); err != nil {
		c.logger.Error("var erase failed", "error", err, "var", name)
	}
}

// GetVar reads a committed strategy variable.
func (c *Context) GetVar(name string) string {
	v, err := c.store.GetVar(name)
	if err != nil {
		c.logger.Error("var read failed", "error", err, "var", name)
	}
	return v
}

// EnumVars iterates committed variables by name prefix.
func (c *Context) EnumVars(prefix string, fn func(name, value string) bool) {
	if err := c.store.EnumVars(prefix, fn); err != nil {
		c.logger.Error("var enumeration failed", "error", err)
	}
}

// Fills loads the newest stored fills matching the label prefix.
func (c *Context) Fills(limit int, filter string) []types.Fill {
	fills, err := c.store.LoadFills(limit, filter)
	if err != nil {
		c.logger.Error("fill load failed", "error", err)
		return nil
	}
	return fills
}

// FillsSince loads stored fills strictly newer than ts.
func (c *Context) FillsSince(ts time.Time, filter string) []types.Fill {
	fills, err := c.store.LoadFillsSince(ts, filter)
	if err != nil {
		c.logger.Error("fill load failed", "error", err)
		return nil
	}
	return fills
}

// accountFor picks the account used for orders on an instrument; with one
// configured account (the common case) that account serves everything.
func (c *Context) accountFor(i *types.Instrument) *types.Account {
	if len(c.cfg.Accounts) > 0 {
		return c.cfg.Accounts[0]
	}
	return nil
}

var (
	_ strategy.Context     = (*Context)(nil)
	_ exchange.EventTarget = (*Context)(nil)
)
