// Package sim is the back-test exchange adapter: an in-process venue that
// fills orders off the simulated market stream. It exists for strategy
// back-testing and for exercising the full mediator/context path in tests
// without network I/O.
//
// The simulator is driven explicitly: feed market data with Tick, deliver
// queued account/instrument completions with Drain. Together with the
// context scheduler's Advance this gives fully deterministic runs.
package sim

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"tradecore/internal/exchange"
	"tradecore/internal/order"
	"tradecore/pkg/types"
)

// Exchange implements exchange.Adapter over simulated market data.
type Exchange struct {
	logger *slog.Logger

	mu       sync.Mutex
	med      *exchange.Mediator
	accounts map[*types.Account]*account
	working  map[*order.Order]bool
	lastTick map[*types.Instrument]types.Ticker
	pendAcct []*types.Account
	pendInst []*types.Instrument
	fillSeq  int
	fees     float64 // taker fee fraction of notional
}

// New creates a simulator. Call Bind once the mediator wrapping it exists.
func New(logger *slog.Logger) *Exchange {
	return &Exchange{
		logger:   logger.With("component", "sim"),
		accounts: make(map[*types.Account]*account),
		working:  make(map[*order.Order]bool),
		lastTick: make(map[*types.Instrument]types.Ticker),
	}
}

// Bind attaches the mediator the simulator reports into.
func (s *Exchange) Bind(med *exchange.Mediator) { s.med = med }

// SetFees configures the taker fee as a fraction of traded notional.
func (s *Exchange) SetFees(f float64) { s.fees = f }

// AddAccount registers a simulated account with an initial balance and
// returns its shared handle.
func (s *Exchange) AddAccount(id, label string, balance float64) *types.Account {
	handle := s.med.Account(id, func() *types.Account {
		return types.NewAccount(id, label, types.AccountInfo{Currency: "USDT"})
	})
	s.mu.Lock()
	acc := newAccount(handle, balance)
	acc.publish()
	s.accounts[handle] = acc
	s.mu.Unlock()
	return handle
}

// Instrument interns a simulated instrument through the mediator.
func (s *Exchange) Instrument(id, label string, cfg types.InstrumentConfig) *types.Instrument {
	return s.med.Instrument(id, func() *types.Instrument {
		return types.NewInstrument(id, label, cfg)
	})
}

func (s *Exchange) ID() string           { return "sim" }
func (s *Exchange) Name() string         { return "Back-test simulator" }
func (s *Exchange) Icon() (string, bool) { return "", false }

// Subscribe and Unsubscribe are bookkeeping-free: the simulator always
// produces data for instruments it is ticked with, and the mediator already
// deduplicates streams.
func (s *Exchange) Subscribe(types.SubscriptionType, *types.Instrument)   {}
func (s *Exchange) Unsubscribe(types.SubscriptionType, *types.Instrument) {}

// UpdateAccount queues a completion delivered by the next Drain.
func (s *Exchange) UpdateAccount(a *types.Account) {
	s.mu.Lock()
	s.pendAcct = append(s.pendAcct, a)
	s.mu.Unlock()
}

// UpdateInstrument queues a completion delivered by the next Drain.
func (s *Exchange) UpdateInstrument(i *types.Instrument) {
	s.mu.Lock()
	s.pendInst = append(s.pendInst, i)
	s.mu.Unlock()
}

// AllocateEquity is advisory; the simulator ignores it.
func (s *Exchange) AllocateEquity(*types.Account, float64) {}

// Drain completes all queued account and instrument updates. Call between
// simulation steps — never from inside a mediator callback.
func (s *Exchange) Drain() {
	s.mu.Lock()
	accts := s.pendAcct
	insts := s.pendInst
	s.pendAcct, s.pendInst = nil, nil
	for _, a := range accts {
		if acc, ok := s.accounts[a]; ok {
			acc.publish()
		}
	}
	s.mu.Unlock()
	for _, a := range accts {
		s.med.ObjectUpdatedAccount(a)
	}
	for _, i := range insts {
		s.med.ObjectUpdatedInstrument(i)
	}
}

// simBody is the adapter-chosen serialization of an open order.
type simBody struct {
	Variant int        `json:"variant"`
	Side    types.Side `json:"side"`
	Amount  float64    `json:"amount"`
	Limit   float64    `json:"limit,omitempty"`
	Stop    float64    `json:"stop,omitempty"`
	InstID  string     `json:"instrument"`
	AcctID  string     `json:"account"`
	Filled  float64    `json:"filled"`
}

func (s *Exchange) serialize(o *order.Order) []byte {
	body := simBody{
		Variant: order.SetupVariant(o.Setup()),
		Amount:  order.SetupTotal(o.Setup()),
		Filled:  o.Filled(),
	}
	if side, ok := order.SetupSide(o.Setup()); ok {
		body.Side = side
	}
	switch v := o.Setup().(type) {
	case order.Limit:
		body.Limit = v.LimitPrice
	case order.LimitPostOnly:
		body.Limit = v.LimitPrice
	case order.ImmediateOrCancel:
		body.Limit = v.LimitPrice
	case order.Stop:
		body.Stop = v.StopPrice
	case order.StopLimit:
		body.Stop = v.StopPrice
		body.Limit = v.LimitPrice
	}
	if o.Instrument() != nil {
		body.InstID = o.Instrument().ID()
	}
	if o.Account() != nil {
		body.AcctID = o.Account().ID()
	}
	raw, err := json.Marshal(body)
	if err != nil {
		s.logger.Error("order serialization failed", "error", err, "order", o.ID())
		return nil
	}
	return raw
}

// CreateOrder validates a setup against the instrument's trading rules.
// Failures come back as discarded error handles and are never placed.
func (s *Exchange) CreateOrder(i *types.Instrument, a *types.Account, setup order.Setup) *order.Order {
	if reason, msg, ok := s.validate(i, setup); !ok {
		return order.NewError(i, a, reason, msg)
	}
	return order.New(i, a, setup, order.OriginStrategy, s.serialize)
}

// CreateOrderReplace validates the replace rules: an amend must keep side
// and variant and must not shrink below the filled amount.
func (s *Exchange) CreateOrderReplace(replaced *order.Order, setup order.Setup, amend bool) *order.Order {
	i, a := replaced.Instrument(), replaced.Account()
	if amend {
		oldSide, _ := order.SetupSide(replaced.Setup())
		newSide, _ := order.SetupSide(setup)
		if oldSide != newSide {
			return order.NewError(i, a, order.InvalidAmend, "amend cannot change side")
		}
		if order.SetupVariant(replaced.Setup()) != order.SetupVariant(setup) {
			return order.NewError(i, a, order.InvalidAmend, "amend cannot change order type")
		}
		if replaced.Filled() > order.SetupTotal(setup) {
			return order.NewError(i, a, order.InvalidAmend, "amend below filled amount")
		}
	}
	if reason, msg, ok := s.validate(i, setup); !ok {
		return order.NewError(i, a, reason, msg)
	}
	return order.NewReplace(replaced, setup, amend, s.serialize)
}

func (s *Exchange) validate(i *types.Instrument, setup order.Setup) (order.Reason, string, bool) {
	cfg := i.Config()
	if !cfg.Tradable {
		return order.Unsupported, "instrument is not tradable", false
	}
	switch setup.(type) {
	case order.Undefined:
		return order.InvalidParams, "undefined setup", false
	case order.TrailingStop, order.TpSl, order.ClosePosition:
		return order.Unsupported, "setup not supported by simulator", false
	case order.Transfer:
		return order.NoReason, "", true
	}
	total := order.SetupTotal(setup)
	if total <= 0 {
		return order.InvalidParams, "amount must be positive", false
	}
	if total < cfg.MinSize {
		return order.TooSmall, "amount below minimum size", false
	}
	if side, ok := order.SetupSide(setup); !ok || side == types.None {
		return order.InvalidParams, "side is required", false
	}
	return order.NoReason, "", true
}

// BatchPlace accepts orders into the simulated book. Replaces resolve
// first: the old order is canceled, and the replace-filled constraint
// decides whether the new one lives. Marketable orders execute against the
// last ticker right away.
func (s *Exchange) BatchPlace(orders []*order.Order) {
	for _, o := range orders {
		if old, amend := o.Replaced(); old != nil {
			// The superseded order retires either way; the filled-amount
			// constraint gates only the cancel+place flavor.
			s.med.BatchCancel([]*order.Order{old})
			if !amend {
				if opts, ok := order.SetupOptions(o.Setup()); ok && old.Filled() > opts.ReplaceFilledConstrain {
					s.med.OrderStateChanged(o, order.Report{
						State:  order.StateRejected,
						Reason: order.ReplaceUnprocessedFill,
					})
					continue
				}
			}
		}
		s.mu.Lock()
		s.working[o] = true
		s.mu.Unlock()
		switch o.Setup().(type) {
		case order.Transfer:
			s.execTransfer(o)
		case order.Stop, order.StopLimit:
			s.med.OrderStateChanged(o, order.Report{State: order.StateWaiting})
		default:
			s.med.OrderStateChanged(o, order.Report{State: order.StateActive})
			s.tryExecute(o)
			if _, ioc := o.Setup().(order.ImmediateOrCancel); ioc {
				s.mu.Lock()
				_, resting := s.working[o]
				delete(s.working, o)
				s.mu.Unlock()
				if resting {
					s.med.OrderStateChanged(o, order.Report{State: order.StateCanceled})
				}
			}
		}
	}
}

// BatchCancel cancels working orders; unknown orders report not_found.
func (s *Exchange) BatchCancel(orders []*order.Order) {
	for _, o := range orders {
		s.mu.Lock()
		_, ok := s.working[o]
		delete(s.working, o)
		s.mu.Unlock()
		if ok {
			s.med.OrderStateChanged(o, order.Report{State: order.StateCanceled})
		} else {
			s.med.OrderStateChanged(o, order.Report{
				State: order.StateRejected, Reason: order.NotFound,
			})
		}
	}
}

// RestoreOrders rehydrates serialized orders, re-registers routing, and
// replays their current state. Fills are not replayed — the simulated
// venue lost them with the process; a real venue would replay and the
// context would deduplicate.
func (s *Exchange) RestoreOrders(target exchange.EventTarget, orders []order.SerializedOrder) {
	for _, env := range orders {
		var body simBody
		if err := json.Unmarshal(env.Body, &body); err != nil {
			s.logger.Error("order restore failed", "error", fmt.Errorf("%w: %s", types.ErrProtocol, err), "order", env.ID)
			continue
		}
		i := s.med.Instrument(body.InstID, func() *types.Instrument {
			return types.NewInstrument(body.InstID, body.InstID, types.InstrumentConfig{Type: types.InstrumentSpot, Tradable: true})
		})
		var acct *types.Account
		if body.AcctID != "" {
			acct = s.med.Account(body.AcctID, func() *types.Account {
				return types.NewAccount(body.AcctID, body.AcctID, types.AccountInfo{})
			})
		}
		setup := restoreSetup(body)
		o := order.NewRestored(env.ID, i, acct, setup, s.serialize)
		o.ApplyFill(0, body.Filled)
		s.med.OrderRestore(target, o)
		s.mu.Lock()
		s.working[o] = true
		s.mu.Unlock()
		s.med.OrderStateChanged(o, order.Report{State: order.StateActive})
	}
}

func restoreSetup(body simBody) order.Setup {
	switch body.Variant {
	case 1:
		return order.NewMarket(body.Side, body.Amount)
	case 2:
		return order.NewLimit(body.Side, body.Amount, body.Limit)
	case 3:
		return order.LimitPostOnly{Limit: order.NewLimit(body.Side, body.Amount, body.Limit)}
	case 4:
		return order.ImmediateOrCancel{Limit: order.NewLimit(body.Side, body.Amount, body.Limit)}
	case 5:
		return order.NewStop(body.Side, body.Amount, body.Stop)
	case 6:
		return order.StopLimit{Stop: order.NewStop(body.Side, body.Amount, body.Stop), LimitPrice: body.Limit}
	default:
		return order.Undefined{}
	}
}

// OrderApplyReport and OrderApplyFill fold replayed events into the order's
// own status during restore.
func (s *Exchange) OrderApplyReport(o *order.Order, r order.Report) { o.ApplyReport(r) }
func (s *Exchange) OrderApplyFill(o *order.Order, f types.Fill)     { o.ApplyFill(f.Price, f.Amount) }

// Tick feeds one market snapshot: caches it, fans it out through the
// mediator, and executes whatever working orders it makes marketable.
func (s *Exchange) Tick(i *types.Instrument, tk types.Ticker) {
	s.mu.Lock()
	s.lastTick[i] = tk
	pending := make([]*order.Order, 0, len(s.working))
	for o := range s.working {
		if o.Instrument() == i {
			pending = append(pending, o)
		}
	}
	s.mu.Unlock()

	s.med.IncomeTicker(i, tk)
	for _, o := range pending {
		s.tryExecute(o)
	}
}

// TickBook feeds an order book snapshot and a matching ticker derived from
// its top of book.
func (s *Exchange) TickBook(i *types.Instrument, ob types.OrderBook) {
	var tk types.Ticker
	tk.Time = ob.Time()
	ob.UpdateTicker(&tk)
	tk.Last = (tk.Bid + tk.Ask) / 2
	s.med.IncomeOrderBook(i, ob)
	s.Tick(i, tk)
}

func (s *Exchange) execTransfer(o *order.Order) {
	setup := o.Setup().(order.Transfer)
	s.mu.Lock()
	from, okFrom := s.accounts[o.Account()]
	to, okTo := s.accounts[setup.Target]
	if okFrom && okTo {
		from.transfer(to, setup.Amount)
		from.publish()
		to.publish()
	}
	delete(s.working, o)
	s.mu.Unlock()
	if !okFrom || !okTo {
		s.med.OrderStateChanged(o, order.Report{State: order.StateRejected, Reason: order.InvalidParams})
		return
	}
	s.med.OrderStateChanged(o, order.Report{State: order.StateFilled})
}

// tryExecute fills o against the last ticker when it is marketable.
func (s *Exchange) tryExecute(o *order.Order) {
	s.mu.Lock()
	if _, ok := s.working[o]; !ok {
		s.mu.Unlock()
		return
	}
	tk, ok := s.lastTick[o.Instrument()]
	if !ok {
		s.mu.Unlock()
		return
	}
	side, _ := order.SetupSide(o.Setup())
	price, marketable := execPrice(o.Setup(), side, tk)
	if !marketable {
		s.mu.Unlock()
		return
	}
	amount := o.Remain()
	if amount <= 0 {
		delete(s.working, o)
		s.mu.Unlock()
		return
	}
	s.fillSeq++
	fill := types.Fill{
		Time:       tk.Time,
		ID:         fmt.Sprintf("sim-%d", s.fillSeq),
		Label:      o.Instrument().Label(),
		PosID:      o.Instrument().ID(),
		Instrument: o.Instrument().Snapshot(),
		Side:       side,
		Price:      price,
		Amount:     amount,
		Fees:       price * amount * s.fees,
	}
	if acc, ok := s.accounts[o.Account()]; ok {
		acc.applyFill(side, price, amount, fill.Fees)
		acc.publish()
	}
	delete(s.working, o)
	s.mu.Unlock()

	s.med.OrderFill(o, fill)
	s.med.OrderStateChanged(o, order.Report{State: order.StateFilled})
}

// execPrice decides whether a setup is marketable against the ticker and at
// which price it executes.
func execPrice(setup order.Setup, side types.Side, tk types.Ticker) (float64, bool) {
	touch := tk.Ask
	if side == types.Sell {
		touch = tk.Bid
	}
	switch v := setup.(type) {
	case order.Market:
		return touch, true
	case order.Limit:
		return limitExec(v.LimitPrice, side, touch)
	case order.LimitPostOnly:
		return limitExec(v.LimitPrice, side, touch)
	case order.ImmediateOrCancel:
		return limitExec(v.LimitPrice, side, touch)
	case order.Stop:
		if stopTriggered(v.StopPrice, side, tk.Last) {
			return touch, true
		}
	case order.StopLimit:
		if stopTriggered(v.StopPrice, side, tk.Last) {
			return limitExec(v.LimitPrice, side, touch)
		}
	}
	return 0, false
}

func limitExec(limit float64, side types.Side, touch float64) (float64, bool) {
	if side == types.Buy && touch <= limit {
		return touch, true
	}
	if side == types.Sell && touch >= limit {
		return touch, true
	}
	return 0, false
}

func stopTriggered(stop float64, side types.Side, last float64) bool {
	if side == types.Buy {
		return last >= stop
	}
	return last <= stop
}

// LastTicker exposes the simulator's own price cache (tests, host status).
func (s *Exchange) LastTicker(i *types.Instrument) (types.Ticker, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	tk, ok := s.lastTick[i]
	return tk, ok
}

var _ exchange.Adapter = (*Exchange)(nil)
