package sim

import (
	"io"
	"log/slog"
	"testing"
	"time"

	"tradecore/internal/exchange"
	"tradecore/internal/order"
	"tradecore/pkg/types"
)

var t0 = time.Date(2024, 7, 1, 14, 0, 0, 0, time.UTC)

// sink records mediator deliveries for one target.
type sink struct {
	tickers []types.Ticker
	reports map[*order.Order][]order.Report
	fills   map[*order.Order][]types.Fill
	acct    int
	instr   int
}

func newSink() *sink {
	return &sink{
		reports: make(map[*order.Order][]order.Report),
		fills:   make(map[*order.Order][]types.Fill),
	}
}

func (s *sink) OnInstrumentUpdated(*types.Instrument) { s.instr++ }
func (s *sink) OnAccountUpdated(*types.Account)       { s.acct++ }
func (s *sink) OnTicker(_ *types.Instrument, tk types.Ticker) {
	s.tickers = append(s.tickers, tk)
}
func (s *sink) OnOrderBook(*types.Instrument, types.OrderBook) {}
func (s *sink) OnOrderReport(o *order.Order, r order.Report) {
	s.reports[o] = append(s.reports[o], r)
}
func (s *sink) OnOrderFill(o *order.Order, f types.Fill) {
	s.fills[o] = append(s.fills[o], f)
}

type simRig struct {
	ex   *Exchange
	med  *exchange.Mediator
	inst *types.Instrument
	acct *types.Account
	tgt  *sink
}

func newSimRig(t *testing.T) *simRig {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	ex := New(logger)
	med := exchange.NewMediator(ex, "sim", logger)
	ex.Bind(med)
	r := &simRig{
		ex:  ex,
		med: med,
		tgt: newSink(),
	}
	r.inst = ex.Instrument("BTC-USDT", "main", types.InstrumentConfig{
		Type: types.InstrumentSpot, TickSize: 0.01, LotSize: 0.001, MinSize: 0.01, LotMultiplier: 1, Tradable: true,
	})
	r.acct = ex.AddAccount("acc", "main", 100_000)
	return r
}

func (r *simRig) place(t *testing.T, setup order.Setup) *order.Order {
	t.Helper()
	o := r.med.CreateOrder(r.inst, r.acct, setup)
	if o.Discarded() {
		t.Fatalf("order discarded: %v %s", o.Reason(), o.Message())
	}
	r.med.BatchPlace(r.tgt, []*order.Order{o})
	return o
}

func mkTick(last float64) types.Ticker {
	return types.Ticker{Time: t0, Bid: last - 0.5, Ask: last + 0.5, Last: last, BidVol: 5, AskVol: 5}
}

func TestValidationFailures(t *testing.T) {
	t.Parallel()
	r := newSimRig(t)

	cases := []struct {
		setup  order.Setup
		reason order.Reason
	}{
		{order.Undefined{}, order.InvalidParams},
		{order.NewMarket(types.Buy, 0), order.InvalidParams},
		{order.NewMarket(types.Buy, 0.001), order.TooSmall},
		{order.NewMarket(types.None, 1), order.InvalidParams},
		{order.TrailingStop{Market: order.NewMarket(types.Buy, 1), StopDistance: 5}, order.Unsupported},
	}
	for _, tc := range cases {
		o := r.med.CreateOrder(r.inst, r.acct, tc.setup)
		if !o.Discarded() {
			t.Errorf("setup %T accepted, want discarded", tc.setup)
			continue
		}
		if o.Reason() != tc.reason {
			t.Errorf("setup %T reason = %v, want %v", tc.setup, o.Reason(), tc.reason)
		}
	}

	dead := types.NewInstrument("DEAD", "x", types.InstrumentConfig{Tradable: false})
	if o := r.med.CreateOrder(dead, r.acct, order.NewMarket(types.Buy, 1)); !o.Discarded() || o.Reason() != order.Unsupported {
		t.Errorf("untradable instrument: %v/%v", o.State(), o.Reason())
	}
}

func TestMarketOrderExecutesImmediately(t *testing.T) {
	t.Parallel()
	r := newSimRig(t)
	r.ex.Tick(r.inst, mkTick(100))

	o := r.place(t, order.NewMarket(types.Buy, 1))
	reps := r.tgt.reports[o]
	if len(reps) != 2 || reps[0].State != order.StateActive || reps[1].State != order.StateFilled {
		t.Fatalf("reports = %+v", reps)
	}
	fills := r.tgt.fills[o]
	if len(fills) != 1 || fills[0].Price != 100.5 {
		t.Fatalf("fills = %+v, want one at the ask", fills)
	}
}

func TestLimitRestsUntilCrossed(t *testing.T) {
	t.Parallel()
	r := newSimRig(t)
	r.ex.Tick(r.inst, mkTick(105))

	o := r.place(t, order.NewLimit(types.Buy, 1, 100))
	if len(r.tgt.fills[o]) != 0 {
		t.Fatal("limit executed above its price")
	}

	r.ex.Tick(r.inst, mkTick(99))
	fills := r.tgt.fills[o]
	if len(fills) != 1 || fills[0].Price != 99.5 {
		t.Fatalf("fills = %+v", fills)
	}
}

func TestStopTriggers(t *testing.T) {
	t.Parallel()
	r := newSimRig(t)
	r.ex.Tick(r.inst, mkTick(100))

	o := r.place(t, order.NewStop(types.Buy, 1, 105))
	reps := r.tgt.reports[o]
	if len(reps) != 1 || reps[0].State != order.StateWaiting {
		t.Fatalf("stop reports = %+v, want waiting", reps)
	}

	r.ex.Tick(r.inst, mkTick(104)) // below the stop
	if len(r.tgt.fills[o]) != 0 {
		t.Fatal("stop fired below its trigger")
	}

	r.ex.Tick(r.inst, mkTick(105))
	if len(r.tgt.fills[o]) != 1 {
		t.Fatalf("stop did not execute at its trigger; reports=%+v", r.tgt.reports[o])
	}
}

func TestImmediateOrCancel(t *testing.T) {
	t.Parallel()
	r := newSimRig(t)
	r.ex.Tick(r.inst, mkTick(105))

	o := r.place(t, order.ImmediateOrCancel{Limit: order.NewLimit(types.Buy, 1, 100)})
	reps := r.tgt.reports[o]
	if reps[len(reps)-1].State != order.StateCanceled {
		t.Fatalf("unmarketable IOC reports = %+v, want canceled", reps)
	}
}

func TestCancel(t *testing.T) {
	t.Parallel()
	r := newSimRig(t)
	r.ex.Tick(r.inst, mkTick(105))
	o := r.place(t, order.NewLimit(types.Buy, 1, 100))

	r.med.BatchCancel([]*order.Order{o})
	reps := r.tgt.reports[o]
	if reps[len(reps)-1].State != order.StateCanceled {
		t.Fatalf("reports = %+v", reps)
	}

	// Canceled twice: the sim answers not_found, but the canceled report
	// already retired the route, so the mediator drops that answer.
	r.med.BatchCancel([]*order.Order{o})
	if got := r.tgt.reports[o]; len(got) != len(reps) {
		t.Fatalf("second cancel delivered %+v after the route was retired", got[len(reps):])
	}
}

func TestAccountBookkeeping(t *testing.T) {
	t.Parallel()
	r := newSimRig(t)
	r.ex.SetFees(0.001)
	r.ex.Tick(r.inst, mkTick(100))

	r.place(t, order.NewMarket(types.Buy, 2))

	info := r.acct.Info()
	// 2 @ 100.5 plus 0.1% fees.
	wantBalance := 100_000 - 201 - 0.201
	if diff := info.Balance - wantBalance; diff > 1e-9 || diff < -1e-9 {
		t.Fatalf("balance = %v, want %v", info.Balance, wantBalance)
	}
	pos := r.acct.Position()
	if pos.Side != types.Buy || pos.Amount != 2 || pos.OpenPrice != 100.5 {
		t.Fatalf("position = %+v", pos)
	}

	// Sell one back; the position nets down, cash returns.
	r.place(t, order.NewMarket(types.Sell, 1))
	pos = r.acct.Position()
	if pos.Amount != 1 {
		t.Fatalf("net position = %+v, want 1", pos)
	}
}

func TestTransfer(t *testing.T) {
	t.Parallel()
	r := newSimRig(t)
	other := r.ex.AddAccount("acc2", "hedge", 0)

	o := r.med.CreateOrder(r.inst, r.acct, order.Transfer{Target: other, Amount: 2_500})
	r.med.BatchPlace(r.tgt, []*order.Order{o})

	reps := r.tgt.reports[o]
	if len(reps) != 1 || reps[0].State != order.StateFilled {
		t.Fatalf("transfer reports = %+v, want filled without fill", reps)
	}
	if len(r.tgt.fills[o]) != 0 {
		t.Fatal("transfer produced a fill")
	}
	if got := other.Info().Balance; got != 2_500 {
		t.Fatalf("target balance = %v", got)
	}
	if got := r.acct.Info().Balance; got != 97_500 {
		t.Fatalf("source balance = %v", got)
	}
}

func TestSerializeRestoreRoundTrip(t *testing.T) {
	t.Parallel()
	r := newSimRig(t)
	r.ex.Tick(r.inst, mkTick(105))
	o := r.place(t, order.NewLimit(types.Buy, 1, 100))

	env := o.Serialize()
	if env.ID != o.ID() || len(env.Body) == 0 {
		t.Fatalf("envelope = %+v", env)
	}

	// A fresh simulator (post-restart) rehydrates the envelope.
	r2 := newSimRig(t)
	r2.ex.RestoreOrders(r2.tgt, []order.SerializedOrder{env})

	var restored *order.Order
	for o2 := range r2.tgt.reports {
		restored = o2
	}
	if restored == nil || restored.ID() != o.ID() {
		t.Fatalf("restored order missing: %+v", r2.tgt.reports)
	}
	if restored.Origin() != order.OriginRestored {
		t.Fatalf("origin = %v", restored.Origin())
	}
	limit, ok := restored.Setup().(order.Limit)
	if !ok || limit.LimitPrice != 100 || limit.Amount != 1 || limit.Side != types.Buy {
		t.Fatalf("restored setup = %+v", restored.Setup())
	}

	// The restored order executes when the new market crosses it.
	r2.ex.Tick(r2.inst, mkTick(99))
	if len(r2.tgt.fills[restored]) != 1 {
		t.Fatalf("restored order did not execute: %+v", r2.tgt.reports[restored])
	}
}

func TestDrainCompletesUpdates(t *testing.T) {
	t.Parallel()
	r := newSimRig(t)
	r.med.UpdateAccount(r.tgt, r.acct)
	r.med.UpdateInstrument(r.tgt, r.inst)
	if r.tgt.acct != 0 || r.tgt.instr != 0 {
		t.Fatal("completion before Drain")
	}
	r.ex.Drain()
	if r.tgt.acct != 1 || r.tgt.instr != 1 {
		t.Fatalf("completions = %d/%d, want 1/1", r.tgt.acct, r.tgt.instr)
	}
}
