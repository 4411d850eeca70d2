// Package storage provides the transactional key-value store behind each
// strategy context: custom variables, open orders, and fills.
//
// Two engines implement the Storage interface — a LevelDB-backed engine for
// production and an in-memory engine for tests. Both
// share the on-disk vocabulary where it matters: record families are
// disambiguated by a one-byte tag after the user prefix
//
//	V || name                      — variables
//	O || order_id                  — open orders (adapter-opaque body)
//	F || be64(time_ns) || fill_id  — fills (framed tuple, see codec.go)
//
// so that fills and positions stay readable without the adapter loaded.
//
// Transactions nest by counter: only the outermost Commit writes, inner
// Begin/Commit pairs are no-ops. Rollback marks the transaction discarded;
// a discarded transaction is dropped by the outermost Commit. Partial
// batches are never written.
package storage

import (
	"fmt"
	"time"

	"tradecore/internal/order"
	"tradecore/pkg/types"
)

const (
	tagVar   = 'V'
	tagOrder = 'O'
	tagFill  = 'F'
)

// Storage is the persistence contract of one strategy context.
//
// Writes (PutVar, EraseVar, PutOrder, PutFill) go to the open transaction,
// or apply immediately when no transaction is open. Reads always see
// committed state.
type Storage interface {
	// Begin opens (or nests into) a transaction.
	Begin()
	// Commit closes one nesting level; the outermost level writes the batch
	// atomically unless the transaction was rolled back.
	Commit() error
	// Rollback discards the transaction and closes one nesting level.
	Rollback()

	// PutVar stores a strategy variable.
	PutVar(name, value string) error
	// EraseVar removes a strategy variable.
	EraseVar(name string) error
	// GetVar reads a variable; missing variables read as "".
	GetVar(name string) (string, error)
	// EnumVars iterates variables with the given name prefix in
	// lexicographic order until fn returns false.
	EnumVars(prefix string, fn func(name, value string) bool) error
	// EnumVarsRange iterates variables with start <= name <= end.
	EnumVarsRange(start, end string, fn func(name, value string) bool) error

	// PutOrder stores an open order — or removes its record when the order
	// is done, in the same transaction as the report that finished it.
	PutOrder(o *order.Order) error
	// LoadOpenOrders returns the serialized open orders; identity is
	// carried by the key.
	LoadOpenOrders() ([]order.SerializedOrder, error)

	// PutFill stores a fill. Idempotent keyed by (time, id).
	PutFill(f types.Fill) error
	// IsDuplicateFill is an exact point lookup on (time, id).
	IsDuplicateFill(f types.Fill) (bool, error)
	// LoadFills returns the newest limit fills whose label starts with
	// filter, ordered by (time, id) ascending.
	LoadFills(limit int, filter string) ([]types.Fill, error)
	// LoadFillsSince returns all fills strictly newer than ts whose label
	// starts with filter, ordered by (time, id) ascending.
	LoadFillsSince(ts time.Time, filter string) ([]types.Fill, error)
	// LoadPositions folds all fills into open positions keyed by pos id;
	// rows with zero net amount are omitted.
	LoadPositions(filter string) ([]PositionEntry, error)

	Close() error
}

// storageErr tags an engine failure with the StorageIO error kind.
func storageErr(op string, err error) error {
	return fmt.Errorf("%s: %w: %s", op, types.ErrStorageIO, err)
}
