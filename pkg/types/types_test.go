package types

import "testing"

func TestSideReverse(t *testing.T) {
	t.Parallel()
	if Buy.Reverse() != Sell || Sell.Reverse() != Buy || None.Reverse() != None {
		t.Fatal("Reverse is wrong")
	}
}

func TestInstrumentHandleIdentity(t *testing.T) {
	t.Parallel()
	cfg := InstrumentConfig{Type: InstrumentSpot}
	a := NewInstrument("BTC-USDT", "main", cfg)
	b := NewInstrument("BTC-USDT", "main", cfg)
	if a == b {
		t.Fatal("distinct handles compare equal")
	}
	c := a
	if c != a {
		t.Fatal("same handle compares unequal")
	}
}

func TestLotConversion(t *testing.T) {
	t.Parallel()
	i := NewInstrument("X", "", InstrumentConfig{LotMultiplier: 100})
	if got := i.LotToAmount(1.23); got != 123 {
		t.Fatalf("LotToAmount = %v, want 123", got)
	}
	if got := i.AmountToLot(123); got != 1.23 {
		t.Fatalf("AmountToLot = %v, want 1.23", got)
	}
	// Zero multiplier degrades to identity instead of dividing by zero.
	z := NewInstrument("Z", "", InstrumentConfig{})
	if got := z.AmountToLot(5); got != 5 {
		t.Fatalf("AmountToLot with zero multiplier = %v", got)
	}
}

func TestAccountPositionShapes(t *testing.T) {
	t.Parallel()
	a := NewAccount("acc", "main", AccountInfo{Currency: "USDT"})
	a.SetPositions([]Position{
		{ID: 0, Side: Buy, Amount: 3, OpenPrice: 100},
		{ID: 1, Side: Buy, Amount: 1, OpenPrice: 104},
		{ID: 2, Side: Sell, Amount: 2, OpenPrice: 110},
	}, 7.5)

	over := a.Position()
	if over.ID != PositionOverall {
		t.Fatalf("overall id = %v, want PositionOverall", over.ID)
	}
	if over.Side != Buy || over.Amount != 2 {
		t.Fatalf("overall = %+v, want net long 2", over)
	}
	if over.LockedInPnL != 7.5 {
		t.Fatalf("locked-in pnl = %v", over.LockedInPnL)
	}

	hedge := a.HedgePosition()
	if hedge.Buy.ID != PositionBuy || hedge.Sell.ID != PositionSell {
		t.Fatalf("hedge ids = %+v", hedge)
	}
	if hedge.Buy.Amount != 4 || hedge.Sell.Amount != -2 {
		t.Fatalf("hedge = %+v, want buy 4 / sell -2", hedge)
	}
	if hedge.Buy.OpenPrice != 101 {
		t.Fatalf("hedge buy open = %v, want 101 (weighted)", hedge.Buy.OpenPrice)
	}

	if p, ok := a.PositionByID(1); !ok || p.Amount != 1 {
		t.Fatalf("PositionByID(1) = %+v, %v", p, ok)
	}
	if _, ok := a.PositionByID(42); ok {
		t.Fatal("PositionByID on missing id = ok")
	}
}

func TestFillIdentity(t *testing.T) {
	t.Parallel()
	a := Fill{ID: "F1", Price: 100}
	b := Fill{ID: "F1", Price: 999} // identity is the id alone
	c := Fill{ID: "F2", Price: 100}
	if !a.Equal(b) {
		t.Fatal("same-id fills not equal")
	}
	if a.Equal(c) {
		t.Fatal("distinct-id fills equal")
	}
}
