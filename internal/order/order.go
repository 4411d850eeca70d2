// Package order holds the order data model: setup variants, the lifecycle
// state machine, and the persistence envelope.
//
// Orders are created by the exchange mediator and owned by the strategy;
// Status is mutated only on the worker goroutine running the owning
// context's wakeup, so it needs no lock. The handle kind (basic, associated,
// error) is an explicit discriminant matched exhaustively — an associated
// order is a placeholder bound to an instrument only, an error order is the
// result of failed validation.
package order

import (
	"fmt"

	"github.com/google/uuid"

	"tradecore/pkg/types"
)

// State is the order lifecycle state.
//
// undefined → sent → (waiting|active) → (canceled|filled|rejected);
// restoring is the initial state of a restored order; associated and
// discarded are terminal client-side variants.
type State uint8

const (
	StateUndefined State = iota
	// StateAssociated marks a placeholder handle that represents no live
	// order yet.
	StateAssociated
	// StateDiscarded marks an order that failed validation before leaving
	// the process.
	StateDiscarded
	// StateRejected marks an order the venue refused.
	StateRejected
	// StateSent means the order is on its way, state not yet known.
	StateSent
	// StateWaiting means the order waits to be triggered (stop orders).
	StateWaiting
	// StateActive means the order rests in the venue's book.
	StateActive
	StateCanceled
	StateFilled
	// StateRestoring is the initial state of an order rehydrated from
	// storage, before the venue reports its final state.
	StateRestoring
)

// IsDone reports whether a state is terminal from the runtime's point of
// view — done orders leave storage and the mediator's routing table.
func IsDone(s State) bool {
	switch s {
	case StateSent, StateActive, StateWaiting, StateRestoring:
		return false
	default:
		return true
	}
}

func (s State) String() string {
	switch s {
	case StateAssociated:
		return "associated"
	case StateDiscarded:
		return "discarded"
	case StateRejected:
		return "rejected"
	case StateSent:
		return "sent"
	case StateWaiting:
		return "waiting"
	case StateActive:
		return "active"
	case StateCanceled:
		return "canceled"
	case StateFilled:
		return "filled"
	case StateRestoring:
		return "restoring"
	default:
		return "undefined"
	}
}

// Reason qualifies a rejection or discard.
type Reason uint8

const (
	NoReason Reason = iota
	// NotFound: the order to replace was not found or already filled.
	NotFound
	// PositionLimit: the position would exceed its limit.
	PositionLimit
	// MaxLeverage: maximum leverage would be exceeded.
	MaxLeverage
	// ReplaceUnprocessedFill: rejected during replace because a fill beyond
	// the allowed constraint arrived in flight.
	ReplaceUnprocessedFill
	InvalidParams
	// IncompatibleOrder: the handle passed to the call has the wrong kind.
	IncompatibleOrder
	InvalidAmend
	Unsupported
	NoFunds
	// Crossing: a post-only order would match immediately.
	Crossing
	ExchangeError
	InternalError
	LowLiquidity
	ExchangeOverload
	TooSmall
)

func (r Reason) String() string {
	switch r {
	case NotFound:
		return "not_found"
	case PositionLimit:
		return "position_limit"
	case MaxLeverage:
		return "max_leverage"
	case ReplaceUnprocessedFill:
		return "replace_unprocessed_fill"
	case InvalidParams:
		return "invalid_params"
	case IncompatibleOrder:
		return "incompatible_order"
	case InvalidAmend:
		return "invalid_amend"
	case Unsupported:
		return "unsupported"
	case NoFunds:
		return "no_funds"
	case Crossing:
		return "crossing"
	case ExchangeError:
		return "exchange_error"
	case InternalError:
		return "internal_error"
	case LowLiquidity:
		return "low_liquidity"
	case ExchangeOverload:
		return "exchange_overload"
	case TooSmall:
		return "too_small"
	default:
		return "no_reason"
	}
}

// RejectError is the error kind for a refused order operation.
type RejectError struct {
	Reason  Reason
	Message string
}

func (e *RejectError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("order rejected: %s", e.Reason)
	}
	return fmt.Sprintf("order rejected: %s: %s", e.Reason, e.Message)
}

// Report carries an order state change (everything except fills).
type Report struct {
	State   State
	Reason  Reason
	Message string
}

// Origin records who created an order.
type Origin uint8

const (
	OriginUnknown Origin = iota
	// OriginStrategy: created by this strategy instance.
	OriginStrategy
	// OriginRestored: rehydrated from permanent storage.
	OriginRestored
	// OriginLiquidation: issued by the venue's liquidation engine.
	OriginLiquidation
	// OriginManual: probably placed manually by the user.
	OriginManual
)

func (o Origin) String() string {
	switch o {
	case OriginStrategy:
		return "strategy"
	case OriginRestored:
		return "restored"
	case OriginLiquidation:
		return "liquidation"
	case OriginManual:
		return "manual"
	default:
		return "unknown"
	}
}

// Kind discriminates the handle variants.
type Kind uint8

const (
	// KindBasic is a real order known to (or heading to) the venue.
	KindBasic Kind = iota
	// KindAssociated is a placeholder bound only to an instrument, usable
	// once as the target of a replace.
	KindAssociated
	// KindError carries a validation failure back to the strategy.
	KindError
)

// Status is the mutable part of an order. Mutation is strategy-thread-local.
type Status struct {
	Filled     float64
	LastPrice  float64
	LastReport Report
}

// SerializedOrder is the persistence envelope of one open order: the id
// plus an opaque body whose layout the adapter chooses.
type SerializedOrder struct {
	ID   string
	Body []byte
}

// Serializer produces the adapter-specific binary body of an order.
type Serializer func(*Order) []byte

// Order is the single handle type for all order variants; Kind tells which.
type Order struct {
	kind       Kind
	id         string
	setup      Setup
	instrument *types.Instrument
	account    *types.Account
	origin     Origin
	serialize  Serializer

	replaced *Order
	amend    bool

	status Status
}

// New creates a basic order in state sent. The adapter supplies the
// serializer for persistence; a nil serializer yields an empty envelope.
func New(instrument *types.Instrument, account *types.Account, setup Setup, origin Origin, serialize Serializer) *Order {
	o := &Order{
		kind:       KindBasic,
		id:         uuid.NewString(),
		setup:      setup,
		instrument: instrument,
		account:    account,
		origin:     origin,
		serialize:  serialize,
	}
	o.status.LastReport.State = StateSent
	return o
}

// NewReplace creates a basic order that replaces another one.
func NewReplace(replaced *Order, setup Setup, amend bool, serialize Serializer) *Order {
	o := New(replaced.Instrument(), replaced.Account(), setup, OriginStrategy, serialize)
	o.replaced = replaced
	o.amend = amend
	return o
}

// NewRestored rehydrates an order from storage in state restoring; the
// venue's replayed reports move it on from there.
func NewRestored(id string, instrument *types.Instrument, account *types.Account, setup Setup, serialize Serializer) *Order {
	o := &Order{
		kind:       KindBasic,
		id:         id,
		setup:      setup,
		instrument: instrument,
		account:    account,
		origin:     OriginRestored,
		serialize:  serialize,
	}
	o.status.LastReport.State = StateRestoring
	return o
}

// NewAssociated creates a placeholder handle bound to an instrument.
func NewAssociated(instrument *types.Instrument, account *types.Account) *Order {
	o := &Order{
		kind:       KindAssociated,
		instrument: instrument,
		account:    account,
		origin:     OriginStrategy,
	}
	o.status.LastReport.State = StateAssociated
	return o
}

// NewError creates a discarded handle carrying a validation failure.
func NewError(instrument *types.Instrument, account *types.Account, reason Reason, message string) *Order {
	o := &Order{
		kind:       KindError,
		instrument: instrument,
		account:    account,
		origin:     OriginStrategy,
	}
	o.status.LastReport = Report{State: StateDiscarded, Reason: reason, Message: message}
	return o
}

func (o *Order) Kind() Kind                    { return o.kind }
func (o *Order) ID() string                    { return o.id }
func (o *Order) Setup() Setup                  { return o.setup }
func (o *Order) Instrument() *types.Instrument { return o.instrument }
func (o *Order) Account() *types.Account       { return o.account }
func (o *Order) Origin() Origin                { return o.origin }

// State returns the lifecycle state from the last report.
func (o *Order) State() State { return o.status.LastReport.State }

// Reason returns the reason attached to the last report.
func (o *Order) Reason() Reason { return o.status.LastReport.Reason }

// Message returns the message attached to the last report.
func (o *Order) Message() string { return o.status.LastReport.Message }

// Filled returns the cumulated filled amount.
func (o *Order) Filled() float64 { return o.status.Filled }

// LastPrice returns the last execution price.
func (o *Order) LastPrice() float64 { return o.status.LastPrice }

// Total returns the setup's total amount (zero for amount-less variants).
func (o *Order) Total() float64 { return SetupTotal(o.setup) }

// Remain returns the amount still to fill.
func (o *Order) Remain() float64 { return o.Total() - o.status.Filled }

// Side returns the setup's side.
func (o *Order) Side() (types.Side, bool) { return SetupSide(o.setup) }

// Replaced returns the order this one replaces and the amend flag.
func (o *Order) Replaced() (*Order, bool) { return o.replaced, o.amend }

func (o *Order) Done() bool      { return IsDone(o.State()) }
func (o *Order) Discarded() bool { return o.State() == StateDiscarded }
func (o *Order) Rejected() bool  { return o.State() == StateRejected }
func (o *Order) Canceled() bool  { return o.State() == StateCanceled }

// ApplyFill accumulates a fill into the status. Strategy-thread-local.
func (o *Order) ApplyFill(price, amount float64) {
	o.status.LastPrice = price
	o.status.Filled += amount
}

// ApplyReport installs a state report. Strategy-thread-local.
func (o *Order) ApplyReport(r Report) {
	o.status.LastReport = r
}

// Serialize returns the persistence envelope. Only basic orders serialize;
// associated and error handles return an empty envelope and are never
// persisted.
func (o *Order) Serialize() SerializedOrder {
	if o.kind != KindBasic || o.serialize == nil {
		return SerializedOrder{}
	}
	return SerializedOrder{ID: o.id, Body: o.serialize(o)}
}
