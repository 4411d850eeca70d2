package order

import (
	"math"

	"tradecore/pkg/types"
)

// Behavior selects how a fill interacts with the existing position.
type Behavior uint8

const (
	// BehaviorStandard reduces the position first, then opens a new one.
	BehaviorStandard Behavior = iota
	// BehaviorHedge increases the position on the given side, allowing both
	// sides open at once.
	BehaviorHedge
	// BehaviorReduce only reduces; it never opens the other side.
	BehaviorReduce
)

// Options carries the optional knobs shared by the order variants.
type Options struct {
	Behavior Behavior
	// Leverage hints the new position leverage; zero means shared leverage.
	Leverage float64
	// AmountIsVolume interprets the amount as money to spend instead of
	// units to trade.
	AmountIsVolume bool
	// ReplaceFilledConstrain caps the already-filled amount allowed when a
	// replace is executed as cancel+place. If the canceled order's filled
	// amount exceeds it, the new order is rejected while the cancel stays
	// effective. The default (max float) disables the check.
	ReplaceFilledConstrain float64
}

// DefaultOptions returns options with the replace constraint disabled.
func DefaultOptions() Options {
	return Options{ReplaceFilledConstrain: math.MaxFloat64}
}

// Setup describes what an order does. It is a closed tagged union — the
// variants below are the only implementations, and consumers switch on the
// concrete type exhaustively.
type Setup interface {
	isSetup()
}

// Undefined is the zero setup.
type Undefined struct{}

// Market buys or sells immediately at the best available price.
type Market struct {
	Side    types.Side
	Amount  float64
	Options Options
}

// Limit rests in the book at the limit price.
type Limit struct {
	Market
	LimitPrice float64
}

// LimitPostOnly is a limit order rejected when it would match immediately.
type LimitPostOnly struct {
	Limit
}

// ImmediateOrCancel fills what it can up to the limit and cancels the rest.
type ImmediateOrCancel struct {
	Limit
}

// Stop triggers a market order when the stop price trades.
type Stop struct {
	Market
	StopPrice float64
}

// StopLimit triggers a limit order when the stop price trades.
type StopLimit struct {
	Stop
	LimitPrice float64
}

// TrailingStop follows the price at a fixed distance.
type TrailingStop struct {
	Market
	StopDistance float64
}

// TpSl is a take-profit/stop-loss pair (one cancels the other).
type TpSl struct {
	Side          types.Side
	Amount        float64
	TargetPrice   float64
	StopLossPrice float64
	Options       Options
}

// ClosePosition closes a venue-side position (CFD venues).
type ClosePosition struct {
	PosID types.PositionID
}

// Transfer moves money between accounts. It generates no fill; successful
// execution reports the order filled.
type Transfer struct {
	Target *types.Account
	Amount float64
}

func (Undefined) isSetup()         {}
func (Market) isSetup()            {}
func (Limit) isSetup()             {}
func (LimitPostOnly) isSetup()     {}
func (ImmediateOrCancel) isSetup() {}
func (Stop) isSetup()              {}
func (StopLimit) isSetup()         {}
func (TrailingStop) isSetup()      {}
func (TpSl) isSetup()              {}
func (ClosePosition) isSetup()     {}
func (Transfer) isSetup()          {}

// NewMarket builds a market setup with default options.
func NewMarket(side types.Side, amount float64) Market {
	return Market{Side: side, Amount: amount, Options: DefaultOptions()}
}

// NewLimit builds a limit setup with default options.
func NewLimit(side types.Side, amount, limitPrice float64) Limit {
	return Limit{Market: NewMarket(side, amount), LimitPrice: limitPrice}
}

// NewStop builds a stop setup with default options.
func NewStop(side types.Side, amount, stopPrice float64) Stop {
	return Stop{Market: NewMarket(side, amount), StopPrice: stopPrice}
}

// SetupSide derives the side of a setup; variants without a side (close
// position, transfer, undefined) report false.
func SetupSide(s Setup) (types.Side, bool) {
	switch v := s.(type) {
	case Market:
		return v.Side, true
	case Limit:
		return v.Side, true
	case LimitPostOnly:
		return v.Side, true
	case ImmediateOrCancel:
		return v.Side, true
	case Stop:
		return v.Side, true
	case StopLimit:
		return v.Side, true
	case TrailingStop:
		return v.Side, true
	case TpSl:
		return v.Side, true
	default:
		return types.None, false
	}
}

// SetupTotal derives the total amount of a setup; amount-less variants
// report zero.
func SetupTotal(s Setup) float64 {
	switch v := s.(type) {
	case Market:
		return v.Amount
	case Limit:
		return v.Amount
	case LimitPostOnly:
		return v.Amount
	case ImmediateOrCancel:
		return v.Amount
	case Stop:
		return v.Amount
	case StopLimit:
		return v.Amount
	case TrailingStop:
		return v.Amount
	case TpSl:
		return v.Amount
	case Transfer:
		return v.Amount
	default:
		return 0
	}
}

// SetupOptions returns the options of a setup; variants without options
// report false.
func SetupOptions(s Setup) (Options, bool) {
	switch v := s.(type) {
	case Market:
		return v.Options, true
	case Limit:
		return v.Options, true
	case LimitPostOnly:
		return v.Options, true
	case ImmediateOrCancel:
		return v.Options, true
	case Stop:
		return v.Options, true
	case StopLimit:
		return v.Options, true
	case TrailingStop:
		return v.Options, true
	case TpSl:
		return v.Options, true
	default:
		return Options{}, false
	}
}

// SetupVariant returns a small integer identifying the variant, used to
// refuse amends that change the order type.
func SetupVariant(s Setup) int {
	switch s.(type) {
	case Market:
		return 1
	case Limit:
		return 2
	case LimitPostOnly:
		return 3
	case ImmediateOrCancel:
		return 4
	case Stop:
		return 5
	case StopLimit:
		return 6
	case TrailingStop:
		return 7
	case TpSl:
		return 8
	case ClosePosition:
		return 9
	case Transfer:
		return 10
	default:
		return 0
	}
}
