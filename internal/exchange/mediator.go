package exchange

import (
	"log/slog"
	"sync"

	"tradecore/internal/order"
	"tradecore/pkg/types"
)

type subKey struct {
	t types.SubscriptionType
	i *types.Instrument
}

// Mediator is the fan-in/fan-out layer between one venue adapter and any
// number of strategy contexts. It deduplicates subscriptions and pending
// update requests across contexts, caches the latest market snapshots,
// routes venue events back to the owning context, and replays stored orders
// on restart.
//
// A single mutex guards the subscription set, the waiter maps, the caches,
// and the order routing table. Downstream EventTarget callbacks are invoked
// while the mutex is held; targets only enqueue, so the lock never waits on
// strategy code.
type Mediator struct {
	adapter Adapter
	label   string
	logger  *slog.Logger

	mu          sync.Mutex
	subs        map[subKey]map[EventTarget]SubscriptionPolicy
	tickers     map[*types.Instrument]types.Ticker
	books       map[*types.Instrument]types.OrderBook
	acctWaiters map[*types.Account][]EventTarget
	instWaiters map[*types.Instrument][]EventTarget
	routes      map[*order.Order]EventTarget

	instruments *internTable[types.Instrument]
	accounts    *internTable[types.Account]
}

// NewMediator wires a mediator over an adapter. label names this venue
// binding and is returned by Label; log records carry the adapter id.
func NewMediator(adapter Adapter, label string, logger *slog.Logger) *Mediator {
	return &Mediator{
		adapter:     adapter,
		label:       label,
		logger:      logger.With("component", "exchange", "venue", adapter.ID()),
		subs:        make(map[subKey]map[EventTarget]SubscriptionPolicy),
		tickers:     make(map[*types.Instrument]types.Ticker),
		books:       make(map[*types.Instrument]types.OrderBook),
		acctWaiters: make(map[*types.Account][]EventTarget),
		instWaiters: make(map[*types.Instrument][]EventTarget),
		routes:      make(map[*order.Order]EventTarget),
		instruments: newInternTable[types.Instrument](),
		accounts:    newInternTable[types.Account](),
	}
}

// Label returns the configured venue binding label.
func (m *Mediator) Label() string { return m.label }

// ID returns the adapter's venue id.
func (m *Mediator) ID() string { return m.adapter.ID() }

// Name returns the adapter's venue name.
func (m *Mediator) Name() string { return m.adapter.Name() }

// Icon returns the adapter's icon when present.
func (m *Mediator) Icon() (string, bool) { return m.adapter.Icon() }

// Instrument interns an instrument handle by id, creating it lazily.
func (m *Mediator) Instrument(id string, create func() *types.Instrument) *types.Instrument {
	return m.instruments.Intern(id, create)
}

// Account interns an account handle by id, creating it lazily.
func (m *Mediator) Account(id string, create func() *types.Account) *types.Account {
	return m.accounts.Intern(id, create)
}

// Subscribe registers target for a stream. The adapter is asked to
// subscribe only when no context was subscribed to (type, instrument) yet;
// a repeated subscribe upgrades a one-shot entry to unlimited.
func (m *Mediator) Subscribe(target EventTarget, t types.SubscriptionType, i *types.Instrument) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := subKey{t, i}
	entry, exists := m.subs[key]
	if !exists {
		entry = make(map[EventTarget]SubscriptionPolicy)
		m.subs[key] = entry
		m.adapter.Subscribe(t, i)
	}
	entry[target] = PolicyUnlimited
}

// Unsubscribe removes target's entry; the adapter stream is torn down when
// the last entry for (type, instrument) is gone. Idempotent.
func (m *Mediator) Unsubscribe(target EventTarget, t types.SubscriptionType, i *types.Instrument) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.unsubscribeLocked(target, subKey{t, i})
}

func (m *Mediator) unsubscribeLocked(target EventTarget, key subKey) {
	entry, ok := m.subs[key]
	if !ok {
		return
	}
	if _, ok := entry[target]; !ok {
		return
	}
	delete(entry, target)
	if len(entry) == 0 {
		delete(m.subs, key)
		m.adapter.Unsubscribe(key.t, key.i)
	}
}

// UpdateTicker requests a point-in-time ticker through the event channel.
// With no live stream for the instrument a one-shot subscription is opened;
// otherwise the cached snapshot is delivered immediately.
func (m *Mediator) UpdateTicker(target EventTarget, i *types.Instrument) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := subKey{types.SubTicker, i}
	entry, exists := m.subs[key]
	if !exists {
		entry = make(map[EventTarget]SubscriptionPolicy)
		m.subs[key] = entry
		m.adapter.Subscribe(types.SubTicker, i)
		entry[target] = PolicyOneShot
		return
	}
	if tk, ok := m.tickers[i]; ok {
		target.OnTicker(i, tk)
		return
	}
	if _, ok := entry[target]; !ok {
		entry[target] = PolicyOneShot
	}
}

// IncomeTicker is the adapter's delivery entry point: cache the snapshot,
// fan out to subscribed targets, drop spent one-shot entries.
func (m *Mediator) IncomeTicker(i *types.Instrument, tk types.Ticker) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tickers[i] = tk
	m.notifySubscribers(subKey{types.SubTicker, i}, func(t EventTarget) { t.OnTicker(i, tk) })
}

// IncomeOrderBook is the adapter's order book delivery entry point.
func (m *Mediator) IncomeOrderBook(i *types.Instrument, ob types.OrderBook) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.books[i] = ob
	m.notifySubscribers(subKey{types.SubOrderBook, i}, func(t EventTarget) { t.OnOrderBook(i, ob.Clone()) })
}

func (m *Mediator) notifySubscribers(key subKey, deliver func(EventTarget)) {
	entry, ok := m.subs[key]
	if !ok {
		return
	}
	for target, policy := range entry {
		deliver(target)
		if policy == PolicyOneShot {
			delete(entry, target)
		}
	}
	if len(entry) == 0 {
		delete(m.subs, key)
		m.adapter.Unsubscribe(key.t, key.i)
	}
}

// LastTicker returns the cached ticker for an instrument.
func (m *Mediator) LastTicker(i *types.Instrument) (types.Ticker, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	tk, ok := m.tickers[i]
	return tk, ok
}

// LastOrderBook returns the cached order book for an instrument.
func (m *Mediator) LastOrderBook(i *types.Instrument) (types.OrderBook, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ob, ok := m.books[i]
	return ob.Clone(), ok
}

// UpdateAccount queues target for the next account snapshot. The adapter
// request is issued only when the waiter list was empty, so concurrent
// requests coalesce into one venue round trip and one completion event per
// target.
func (m *Mediator) UpdateAccount(target EventTarget, a *types.Account) {
	m.mu.Lock()
	defer m.mu.Unlock()
	waiters := m.acctWaiters[a]
	if len(waiters) == 0 {
		m.adapter.UpdateAccount(a)
	}
	if !containsTarget(waiters, target) {
		m.acctWaiters[a] = append(waiters, target)
	}
}

// UpdateInstrument queues target for the next instrument definition
// refresh; see UpdateAccount for the coalescing rule.
func (m *Mediator) UpdateInstrument(target EventTarget, i *types.Instrument) {
	m.mu.Lock()
	defer m.mu.Unlock()
	waiters := m.instWaiters[i]
	if len(waiters) == 0 {
		m.adapter.UpdateInstrument(i)
	}
	if !containsTarget(waiters, target) {
		m.instWaiters[i] = append(waiters, target)
	}
}

// ObjectUpdatedAccount drains the account's waiter list; each waiting
// target receives exactly one completion event.
func (m *Mediator) ObjectUpdatedAccount(a *types.Account) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, target := range m.acctWaiters[a] {
		target.OnAccountUpdated(a)
	}
	delete(m.acctWaiters, a)
}

// ObjectUpdatedInstrument drains the instrument's waiter list.
func (m *Mediator) ObjectUpdatedInstrument(i *types.Instrument) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, target := range m.instWaiters[i] {
		target.OnInstrumentUpdated(i)
	}
	delete(m.instWaiters, i)
}

// AllocateEquity forwards a strategy's equity earmark to the adapter.
func (m *Mediator) AllocateEquity(a *types.Account, equity float64) {
	m.adapter.AllocateEquity(a, equity)
}

// CreateOrder builds (but does not place) an order via the adapter.
func (m *Mediator) CreateOrder(i *types.Instrument, a *types.Account, setup order.Setup) *order.Order {
	return m.adapter.CreateOrder(i, a, setup)
}

// CreateOrderReplace builds (but does not place) a replacing order.
func (m *Mediator) CreateOrderReplace(replaced *order.Order, setup order.Setup, amend bool) *order.Order {
	return m.adapter.CreateOrderReplace(replaced, setup, amend)
}

// BatchPlace records the order → target routing and forwards the batch.
func (m *Mediator) BatchPlace(target EventTarget, orders []*order.Order) {
	m.mu.Lock()
	for _, o := range orders {
		m.routes[o] = target
	}
	m.mu.Unlock()
	m.adapter.BatchPlace(orders)
}

// BatchCancel forwards cancels; routing is untouched — the cancel's outcome
// arrives as a state report.
func (m *Mediator) BatchCancel(orders []*order.Order) {
	m.adapter.BatchCancel(orders)
}

// RestoreOrders hands serialized open orders to the adapter for
// rehydration.
func (m *Mediator) RestoreOrders(target EventTarget, orders []order.SerializedOrder) {
	m.adapter.RestoreOrders(target, orders)
}

// OrderRestore re-establishes routing for a rehydrated order. Called by the
// adapter from RestoreOrders before it replays the order's events.
func (m *Mediator) OrderRestore(target EventTarget, o *order.Order) {
	m.mu.Lock()
	m.routes[o] = target
	m.mu.Unlock()
}

// OrderStateChanged routes a venue report to the owning context; a done
// state retires the routing entry. Reports for unknown orders are dropped —
// stale after a restart or a disconnect.
func (m *Mediator) OrderStateChanged(o *order.Order, r order.Report) {
	m.mu.Lock()
	defer m.mu.Unlock()
	target, ok := m.routes[o]
	if !ok {
		m.logger.Debug("report for unknown order dropped", "state", r.State.String())
		return
	}
	target.OnOrderReport(o, r)
	if order.IsDone(r.State) {
		delete(m.routes, o)
	}
}

// OrderFill routes a fill to the owning context. Routing is kept — fills
// may trail the terminal report.
func (m *Mediator) OrderFill(o *order.Order, f types.Fill) {
	m.mu.Lock()
	defer m.mu.Unlock()
	target, ok := m.routes[o]
	if !ok {
		m.logger.Debug("fill for unknown order dropped", "fill_id", f.ID)
		return
	}
	target.OnOrderFill(o, f)
}

// OrderApplyReport forwards to the adapter's own order bookkeeping.
func (m *Mediator) OrderApplyReport(o *order.Order, r order.Report) {
	m.adapter.OrderApplyReport(o, r)
}

// OrderApplyFill forwards to the adapter's own order bookkeeping.
func (m *Mediator) OrderApplyFill(o *order.Order, f types.Fill) {
	m.adapter.OrderApplyFill(o, f)
}

// Disconnect removes every subscription, pending-update waiter, and order
// routing entry owned by target in one critical section. Called when a
// context shuts down.
func (m *Mediator) Disconnect(target EventTarget) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for key := range m.subs {
		m.unsubscribeLocked(target, key)
	}
	for a, waiters := range m.acctWaiters {
		m.acctWaiters[a] = removeTarget(waiters, target)
		if len(m.acctWaiters[a]) == 0 {
			delete(m.acctWaiters, a)
		}
	}
	for i, waiters := range m.instWaiters {
		m.instWaiters[i] = removeTarget(waiters, target)
		if len(m.instWaiters[i]) == 0 {
			delete(m.instWaiters, i)
		}
	}
	for o, t := range m.routes {
		if t == target {
			delete(m.routes, o)
		}
	}
}

func containsTarget(list []EventTarget, target EventTarget) bool {
	for _, t := range list {
		if t == target {
			return true
		}
	}
	return false
}

func removeTarget(list []EventTarget, target EventTarget) []EventTarget {
	out := list[:0]
	for _, t := range list {
		if t != target {
			out = append(out, t)
		}
	}
	return out
}
