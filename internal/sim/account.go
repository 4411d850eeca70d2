package sim

import (
	"github.com/shopspring/decimal"

	"tradecore/pkg/types"
)

// account tracks one simulated venue account with exact decimal balance
// arithmetic; float64 snapshots are published to the shared Account handle
// only at the edges.
type account struct {
	handle    *types.Account
	balance   decimal.Decimal
	blocked   decimal.Decimal
	positions map[types.PositionID]*simPosition
	nextPos   types.PositionID
}

type simPosition struct {
	side   types.Side
	amount decimal.Decimal
	open   decimal.Decimal
}

func newAccount(handle *types.Account, initialBalance float64) *account {
	return &account{
		handle:    handle,
		balance:   decimal.NewFromFloat(initialBalance),
		positions: make(map[types.PositionID]*simPosition),
	}
}

// applyFill books an execution: cash moves by price*amount plus fees, and
// the position ledger nets the amount following standard behavior (reduce
// first, then open the other side).
func (a *account) applyFill(side types.Side, price, amount, fees float64) {
	p := decimal.NewFromFloat(price)
	amt := decimal.NewFromFloat(amount)
	fee := decimal.NewFromFloat(fees)

	notional := p.Mul(amt)
	if side == types.Buy {
		a.balance = a.balance.Sub(notional)
	} else {
		a.balance = a.balance.Add(notional)
	}
	a.balance = a.balance.Sub(fee)

	remaining := amt
	for id, pos := range a.positions {
		if pos.side == side || remaining.IsZero() {
			continue
		}
		if pos.amount.GreaterThan(remaining) {
			pos.amount = pos.amount.Sub(remaining)
			remaining = decimal.Zero
		} else {
			remaining = remaining.Sub(pos.amount)
			delete(a.positions, id)
		}
	}
	if remaining.IsPositive() {
		id := a.nextPos
		a.nextPos++
		a.positions[id] = &simPosition{side: side, amount: remaining, open: p}
	}
}

// transfer moves balance between two simulated accounts.
func (a *account) transfer(to *account, amount float64) {
	amt := decimal.NewFromFloat(amount)
	a.balance = a.balance.Sub(amt)
	to.balance = to.balance.Add(amt)
}

// publish pushes the decimal state into the shared handle as float
// snapshots.
func (a *account) publish() {
	balance, _ := a.balance.Float64()
	blocked, _ := a.blocked.Float64()
	info := a.handle.Info()
	info.Balance = balance
	info.Blocked = blocked
	info.Equity = balance
	a.handle.SetInfo(info)

	positions := make([]types.Position, 0, len(a.positions))
	for id, pos := range a.positions {
		amount, _ := pos.amount.Float64()
		open, _ := pos.open.Float64()
		positions = append(positions, types.Position{
			ID: id, Side: pos.side, Amount: amount, OpenPrice: open,
		})
	}
	a.handle.SetPositions(positions, 0)
}
