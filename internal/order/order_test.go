package order

import (
	"testing"

	"tradecore/pkg/types"
)

func testInstrument() *types.Instrument {
	return types.NewInstrument("BTC-USDT", "main", types.InstrumentConfig{
		Type: types.InstrumentSpot, TickSize: 0.01, LotSize: 0.001, LotMultiplier: 1, Tradable: true,
	})
}

func testAccount() *types.Account {
	return types.NewAccount("acc1", "primary", types.AccountInfo{Currency: "USDT"})
}

func TestIsDone(t *testing.T) {
	t.Parallel()
	open := []State{StateSent, StateActive, StateWaiting, StateRestoring}
	done := []State{StateUndefined, StateAssociated, StateDiscarded, StateRejected, StateCanceled, StateFilled}
	for _, s := range open {
		if IsDone(s) {
			t.Errorf("IsDone(%v) = true, want false", s)
		}
	}
	for _, s := range done {
		if !IsDone(s) {
			t.Errorf("IsDone(%v) = false, want true", s)
		}
	}
}

func TestSetupDerivations(t *testing.T) {
	t.Parallel()
	limit := NewLimit(types.Buy, 2.0, 100)
	if side, ok := SetupSide(limit); !ok || side != types.Buy {
		t.Errorf("SetupSide(limit) = %v, %v", side, ok)
	}
	if total := SetupTotal(limit); total != 2.0 {
		t.Errorf("SetupTotal(limit) = %v, want 2.0", total)
	}
	if _, ok := SetupOptions(limit); !ok {
		t.Error("SetupOptions(limit) = !ok")
	}

	if _, ok := SetupSide(ClosePosition{PosID: 3}); ok {
		t.Error("SetupSide(ClosePosition) = ok, want none")
	}
	if total := SetupTotal(Undefined{}); total != 0 {
		t.Errorf("SetupTotal(Undefined) = %v, want 0", total)
	}
	if _, ok := SetupOptions(Transfer{Amount: 5}); ok {
		t.Error("SetupOptions(Transfer) = ok, want none")
	}

	// StopLimit promotes side and amount through two embeddings.
	sl := StopLimit{Stop: NewStop(types.Sell, 1.5, 90), LimitPrice: 89}
	if side, _ := SetupSide(sl); side != types.Sell {
		t.Errorf("SetupSide(stop-limit) = %v, want sell", side)
	}
	if total := SetupTotal(sl); total != 1.5 {
		t.Errorf("SetupTotal(stop-limit) = %v, want 1.5", total)
	}
}

func TestSetupVariantDistinct(t *testing.T) {
	t.Parallel()
	setups := []Setup{
		Undefined{}, NewMarket(types.Buy, 1), NewLimit(types.Buy, 1, 1),
		LimitPostOnly{NewLimit(types.Buy, 1, 1)}, ImmediateOrCancel{NewLimit(types.Buy, 1, 1)},
		NewStop(types.Buy, 1, 1), StopLimit{Stop: NewStop(types.Buy, 1, 1), LimitPrice: 1},
		TrailingStop{Market: NewMarket(types.Buy, 1), StopDistance: 1},
		TpSl{Side: types.Buy, Amount: 1}, ClosePosition{}, Transfer{},
	}
	seen := map[int]bool{}
	for _, s := range setups {
		v := SetupVariant(s)
		if seen[v] {
			t.Fatalf("variant index %d assigned twice", v)
		}
		seen[v] = true
	}
}

func TestOrderLifecycle(t *testing.T) {
	t.Parallel()
	o := New(testInstrument(), testAccount(), NewLimit(types.Buy, 2.0, 100), OriginStrategy, nil)
	if o.Kind() != KindBasic {
		t.Fatalf("Kind = %v, want basic", o.Kind())
	}
	if o.State() != StateSent {
		t.Fatalf("initial state = %v, want sent", o.State())
	}
	if o.ID() == "" {
		t.Fatal("empty order id")
	}

	o.ApplyReport(Report{State: StateActive})
	if o.Done() {
		t.Fatal("active order reports done")
	}

	o.ApplyFill(100, 1.0)
	if o.Filled() != 1.0 || o.LastPrice() != 100 {
		t.Fatalf("after fill: filled=%v last=%v", o.Filled(), o.LastPrice())
	}
	if o.Remain() != 1.0 {
		t.Fatalf("Remain = %v, want 1.0", o.Remain())
	}

	o.ApplyReport(Report{State: StateFilled})
	if !o.Done() {
		t.Fatal("filled order not done")
	}
}

func TestAssociatedAndErrorHandles(t *testing.T) {
	t.Parallel()
	i, a := testInstrument(), testAccount()

	assoc := NewAssociated(i, a)
	if assoc.Kind() != KindAssociated || assoc.State() != StateAssociated {
		t.Fatalf("associated handle: kind=%v state=%v", assoc.Kind(), assoc.State())
	}
	if env := assoc.Serialize(); env.ID != "" || env.Body != nil {
		t.Fatal("associated order must not serialize")
	}

	errOrd := NewError(i, a, IncompatibleOrder, "wrong handle")
	if errOrd.Kind() != KindError || !errOrd.Discarded() {
		t.Fatalf("error handle: kind=%v state=%v", errOrd.Kind(), errOrd.State())
	}
	if errOrd.Reason() != IncompatibleOrder {
		t.Fatalf("error reason = %v, want incompatible_order", errOrd.Reason())
	}
}

func TestRestoredOrder(t *testing.T) {
	t.Parallel()
	o := NewRestored("ord-1", testInstrument(), testAccount(), NewLimit(types.Sell, 1, 110), nil)
	if o.State() != StateRestoring {
		t.Fatalf("restored state = %v, want restoring", o.State())
	}
	if o.Origin() != OriginRestored {
		t.Fatalf("restored origin = %v", o.Origin())
	}
	if o.Done() {
		t.Fatal("restoring order reports done")
	}
}

func TestSerializeUsesAdapterBody(t *testing.T) {
	t.Parallel()
	o := New(testInstrument(), testAccount(), NewMarket(types.Buy, 1), OriginStrategy, func(o *Order) []byte {
		return []byte("body-of-" + o.ID())
	})
	env := o.Serialize()
	if env.ID != o.ID() {
		t.Fatalf("envelope id = %q, want %q", env.ID, o.ID())
	}
	if string(env.Body) != "body-of-"+o.ID() {
		t.Fatalf("envelope body = %q", env.Body)
	}
}
