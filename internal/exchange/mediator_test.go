package exchange

import (
	"io"
	"log/slog"
	"testing"
	"time"

	"tradecore/internal/order"
	"tradecore/pkg/types"
)

// fakeAdapter records every adapter call.
type fakeAdapter struct {
	subscribes   []string
	unsubscribes []string
	acctUpdates  int
	instUpdates  int
	placed       [][]*order.Order
	canceled     [][]*order.Order
	restored     []order.SerializedOrder
	restoreFn    func(target EventTarget, orders []order.SerializedOrder)
}

func (f *fakeAdapter) ID() string           { return "fake" }
func (f *fakeAdapter) Name() string         { return "Fake Venue" }
func (f *fakeAdapter) Icon() (string, bool) { return "", false }

func (f *fakeAdapter) Subscribe(t types.SubscriptionType, i *types.Instrument) {
	f.subscribes = append(f.subscribes, t.String()+":"+i.ID())
}

func (f *fakeAdapter) Unsubscribe(t types.SubscriptionType, i *types.Instrument) {
	f.unsubscribes = append(f.unsubscribes, t.String()+":"+i.ID())
}

func (f *fakeAdapter) UpdateAccount(*types.Account)       { f.acctUpdates++ }
func (f *fakeAdapter) UpdateInstrument(*types.Instrument) { f.instUpdates++ }
func (f *fakeAdapter) AllocateEquity(*types.Account, float64) {
}

func (f *fakeAdapter) CreateOrder(i *types.Instrument, a *types.Account, setup order.Setup) *order.Order {
	return order.New(i, a, setup, order.OriginStrategy, nil)
}

func (f *fakeAdapter) CreateOrderReplace(replaced *order.Order, setup order.Setup, amend bool) *order.Order {
	return order.NewReplace(replaced, setup, amend, nil)
}

func (f *fakeAdapter) BatchPlace(orders []*order.Order)  { f.placed = append(f.placed, orders) }
func (f *fakeAdapter) BatchCancel(orders []*order.Order) { f.canceled = append(f.canceled, orders) }

func (f *fakeAdapter) RestoreOrders(target EventTarget, orders []order.SerializedOrder) {
	f.restored = append(f.restored, orders...)
	if f.restoreFn != nil {
		f.restoreFn(target, orders)
	}
}

func (f *fakeAdapter) OrderApplyReport(o *order.Order, r order.Report) { o.ApplyReport(r) }
func (f *fakeAdapter) OrderApplyFill(o *order.Order, fl types.Fill)    { o.ApplyFill(fl.Price, fl.Amount) }

// recorder is an EventTarget collecting everything it receives.
type recorder struct {
	tickers     []types.Ticker
	books       []types.OrderBook
	acctDone    int
	instDone    int
	reports     []order.Report
	reportOrder []*order.Order
	fills       []types.Fill
}

func (r *recorder) OnInstrumentUpdated(*types.Instrument) { r.instDone++ }
func (r *recorder) OnAccountUpdated(*types.Account)       { r.acctDone++ }
func (r *recorder) OnTicker(_ *types.Instrument, tk types.Ticker) {
	r.tickers = append(r.tickers, tk)
}
func (r *recorder) OnOrderBook(_ *types.Instrument, ob types.OrderBook) {
	r.books = append(r.books, ob)
}
func (r *recorder) OnOrderReport(o *order.Order, rep order.Report) {
	r.reportOrder = append(r.reportOrder, o)
	r.reports = append(r.reports, rep)
}
func (r *recorder) OnOrderFill(_ *order.Order, f types.Fill) { r.fills = append(r.fills, f) }

func newTestMediator() (*Mediator, *fakeAdapter) {
	ad := &fakeAdapter{}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewMediator(ad, "test", logger), ad
}

func inst(id string) *types.Instrument {
	return types.NewInstrument(id, "main", types.InstrumentConfig{Type: types.InstrumentSpot, Tradable: true})
}

func TestSubscribeFanOut(t *testing.T) {
	t.Parallel()
	m, ad := newTestMediator()
	i := inst("BTC")
	a, b := &recorder{}, &recorder{}

	m.Subscribe(a, types.SubTicker, i)
	m.Subscribe(b, types.SubTicker, i)
	if len(ad.subscribes) != 1 {
		t.Fatalf("adapter subscribed %d times, want 1", len(ad.subscribes))
	}

	tk := types.Ticker{Last: 100}
	m.IncomeTicker(i, tk)
	if len(a.tickers) != 1 || len(b.tickers) != 1 {
		t.Fatalf("fan-out: a=%d b=%d, want 1 each", len(a.tickers), len(b.tickers))
	}

	m.Unsubscribe(a, types.SubTicker, i)
	if len(ad.unsubscribes) != 0 {
		t.Fatal("adapter unsubscribed while a target remains")
	}
	m.Unsubscribe(b, types.SubTicker, i)
	if len(ad.unsubscribes) != 1 {
		t.Fatalf("adapter unsubscribes = %d, want 1 after the last target left", len(ad.unsubscribes))
	}

	// Unsubscribe is idempotent.
	m.Unsubscribe(b, types.SubTicker, i)
	if len(ad.unsubscribes) != 1 {
		t.Fatal("repeated unsubscribe reached the adapter")
	}
}

func TestSubscribeIdempotent(t *testing.T) {
	t.Parallel()
	m, ad := newTestMediator()
	i := inst("BTC")
	a := &recorder{}
	m.Subscribe(a, types.SubTicker, i)
	m.Subscribe(a, types.SubTicker, i)
	if len(ad.subscribes) != 1 {
		t.Fatalf("adapter subscribes = %d, want 1", len(ad.subscribes))
	}
	m.IncomeTicker(i, types.Ticker{Last: 1})
	if len(a.tickers) != 1 {
		t.Fatalf("deliveries = %d, want 1 per event", len(a.tickers))
	}
}

func TestOneShotTickerQuery(t *testing.T) {
	t.Parallel()
	m, ad := newTestMediator()
	i := inst("ETH")
	a := &recorder{}

	m.UpdateTicker(a, i)
	if len(ad.subscribes) != 1 {
		t.Fatal("one-shot did not open the stream")
	}
	m.IncomeTicker(i, types.Ticker{Last: 42})
	if len(a.tickers) != 1 {
		t.Fatal("one-shot not delivered")
	}
	// Spent entry: stream torn down, no more deliveries.
	if len(ad.unsubscribes) != 1 {
		t.Fatal("spent one-shot did not unsubscribe the adapter")
	}
	m.IncomeTicker(i, types.Ticker{Last: 43})
	if len(a.tickers) != 1 {
		t.Fatal("one-shot delivered twice")
	}
}

func TestPendingUpdateCoalescing(t *testing.T) {
	t.Parallel()
	m, ad := newTestMediator()
	acc := types.NewAccount("a1", "main", types.AccountInfo{})
	a, b := &recorder{}, &recorder{}

	m.UpdateAccount(a, acc)
	m.UpdateAccount(b, acc)
	m.UpdateAccount(a, acc) // repeated request from the same target
	if ad.acctUpdates != 1 {
		t.Fatalf("adapter account updates = %d, want 1", ad.acctUpdates)
	}

	m.ObjectUpdatedAccount(acc)
	if a.acctDone != 1 || b.acctDone != 1 {
		t.Fatalf("completions: a=%d b=%d, want exactly 1 each", a.acctDone, b.acctDone)
	}

	// The next request issues a fresh venue round trip.
	m.UpdateAccount(a, acc)
	if ad.acctUpdates != 2 {
		t.Fatalf("adapter account updates = %d, want 2", ad.acctUpdates)
	}
}

func TestOrderRouting(t *testing.T) {
	t.Parallel()
	m, _ := newTestMediator()
	i := inst("BTC")
	acc := types.NewAccount("a1", "main", types.AccountInfo{})
	a := &recorder{}

	o := m.CreateOrder(i, acc, order.NewLimit(types.Buy, 1, 100))
	m.BatchPlace(a, []*order.Order{o})

	m.OrderStateChanged(o, order.Report{State: order.StateActive})
	m.OrderFill(o, types.Fill{ID: "F1", Amount: 1, Price: 100})
	m.OrderStateChanged(o, order.Report{State: order.StateFilled})

	if len(a.reports) != 2 || a.reports[1].State != order.StateFilled {
		t.Fatalf("reports = %+v", a.reports)
	}
	if len(a.fills) != 1 {
		t.Fatalf("fills = %d, want 1", len(a.fills))
	}

	// Done state retired the route: further reports are dropped silently.
	m.OrderStateChanged(o, order.Report{State: order.StateFilled})
	if len(a.reports) != 2 {
		t.Fatal("report delivered after route retirement")
	}
}

func TestRestoreReestablishesRouting(t *testing.T) {
	t.Parallel()
	m, ad := newTestMediator()
	i := inst("BTC")
	acc := types.NewAccount("a1", "main", types.AccountInfo{})
	a := &recorder{}

	restored := order.NewRestored("O1", i, acc, order.NewLimit(types.Buy, 1, 100), nil)
	ad.restoreFn = func(target EventTarget, orders []order.SerializedOrder) {
		m.OrderRestore(target, restored)
		m.OrderFill(restored, types.Fill{ID: "F1"})
		m.OrderStateChanged(restored, order.Report{State: order.StateFilled})
	}

	m.RestoreOrders(a, []order.SerializedOrder{{ID: "O1", Body: []byte("B")}})
	if len(ad.restored) != 1 {
		t.Fatal("serialized orders did not reach the adapter")
	}
	if len(a.fills) != 1 || len(a.reports) != 1 {
		t.Fatalf("replay: fills=%d reports=%d", len(a.fills), len(a.reports))
	}
}

func TestDisconnectDropsEverything(t *testing.T) {
	t.Parallel()
	m, ad := newTestMediator()
	i := inst("BTC")
	acc := types.NewAccount("a1", "main", types.AccountInfo{})
	a, b := &recorder{}, &recorder{}

	m.Subscribe(a, types.SubTicker, i)
	m.Subscribe(b, types.SubTicker, i)
	m.UpdateAccount(a, acc)
	o := m.CreateOrder(i, acc, order.NewLimit(types.Buy, 1, 100))
	m.BatchPlace(a, []*order.Order{o})

	m.Disconnect(a)

	m.IncomeTicker(i, types.Ticker{Last: 1})
	if len(a.tickers) != 0 {
		t.Fatal("disconnected target still receives market data")
	}
	if len(b.tickers) != 1 {
		t.Fatal("sibling target lost its subscription on disconnect")
	}
	m.ObjectUpdatedAccount(acc)
	if a.acctDone != 0 {
		t.Fatal("disconnected target still receives completions")
	}
	m.OrderStateChanged(o, order.Report{State: order.StateActive})
	if len(a.reports) != 0 {
		t.Fatal("disconnected target still receives order reports")
	}
}

func TestInternReusesLiveHandles(t *testing.T) {
	t.Parallel()
	m, _ := newTestMediator()
	mk := func() *types.Instrument { return inst("BTC") }
	h1 := m.Instrument("BTC", mk)
	h2 := m.Instrument("BTC", mk)
	if h1 != h2 {
		t.Fatal("intern returned distinct handles for one id")
	}
	if h3 := m.Instrument("ETH", func() *types.Instrument { return inst("ETH") }); h3 == h1 {
		t.Fatal("distinct ids share a handle")
	}
}

func TestSnapshotCaches(t *testing.T) {
	t.Parallel()
	m, _ := newTestMediator()
	i := inst("BTC")
	a := &recorder{}
	m.Subscribe(a, types.SubTicker, i)
	m.Subscribe(a, types.SubOrderBook, i)

	if _, ok := m.LastTicker(i); ok {
		t.Fatal("ticker cached before any income")
	}
	m.IncomeTicker(i, types.Ticker{Last: 7, Time: time.Unix(1, 0)})
	if tk, ok := m.LastTicker(i); !ok || tk.Last != 7 {
		t.Fatalf("LastTicker = %+v, %v", tk, ok)
	}

	var ob types.OrderBook
	ob.UpdateBid(99, 1)
	ob.UpdateAsk(101, 2)
	m.IncomeOrderBook(i, ob)
	if got, ok := m.LastOrderBook(i); !ok || len(got.Bids()) != 1 || len(got.Asks()) != 1 {
		t.Fatalf("LastOrderBook = %+v, %v", got, ok)
	}
}
