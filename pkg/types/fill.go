package types

import "time"

// InstrumentSnapshot is the subset of instrument attributes a fill needs to
// stay interpretable after the instrument handle is gone. Fills are durable;
// handles are not.
type InstrumentSnapshot struct {
	Type         InstrumentType
	Multiplier   float64
	InstrumentID string
	PriceUnit    string
}

// Snapshot captures the durable attributes of an instrument for embedding in
// a fill.
func (i *Instrument) Snapshot() InstrumentSnapshot {
	cfg := i.Config()
	return InstrumentSnapshot{
		Type:         cfg.Type,
		Multiplier:   cfg.LotMultiplier,
		InstrumentID: i.id,
	}
}

// Fill is one execution. Identity is the exchange-assigned ID; Equal uses
// only the id. Time is constant for a given id — an adapter reporting the
// same id with a different timestamp is a protocol error.
type Fill struct {
	Time       time.Time
	ID         string
	Label      string
	PosID      string
	Instrument InstrumentSnapshot
	Side       Side
	Price      float64
	Amount     float64
	Fees       float64
}

// Equal reports fill identity: same exchange id.
func (f Fill) Equal(other Fill) bool { return f.ID == other.ID }
