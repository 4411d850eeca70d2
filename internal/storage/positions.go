package storage

import (
	"sort"
	"strings"
	"time"

	"tradecore/pkg/types"
)

// PositionEntry is one open position reconstructed from the durable fill
// stream, carrying the last contributing fill's identity so the caller can
// resume or display it.
type PositionEntry struct {
	Time       time.Time
	LastFillID string
	Label      string
	PosID      string
	Instrument types.InstrumentSnapshot
	Side       types.Side
	OpenPrice  float64
	Amount     float64
	Fees       float64
}

type positionAcc struct {
	pos  float64 // signed net amount (+ long, - short)
	sum  float64 // signed cost basis, sum/pos = weighted open price
	fees float64
	last types.Fill
}

// foldPositions aggregates fills (which must arrive in (time, id) ascending
// order) into open positions keyed by pos id. Rows netting to zero are
// omitted; filter matches the last fill's label prefix.
//
// Inverse contracts fold in inverted space: price becomes 1/p and the
// amount flips sign, then the reported open price is inverted back.
func foldPositions(fills []types.Fill, filter string) []PositionEntry {
	accs := make(map[string]*positionAcc)
	var ids []string

	for _, f := range fills {
		acc, ok := accs[f.PosID]
		if !ok {
			acc = &positionAcc{}
			accs[f.PosID] = acc
			ids = append(ids, f.PosID)
		}
		mult := f.Instrument.Multiplier
		if mult == 0 {
			mult = 1
		}
		var fp, fa float64
		if f.Instrument.Type == types.InstrumentInvertedContract {
			fp = 1.0 / f.Price
			fa = -float64(f.Side) * f.Amount * mult
		} else {
			fp = f.Price
			fa = float64(f.Side) * f.Amount * mult
		}

		oldPos := acc.pos
		acc.pos += fa
		switch {
		case oldPos == 0 || (oldPos > 0) == (fa > 0):
			// Opening or adding: cost basis grows at the fill price.
			acc.sum += fa * fp
		case (acc.pos > 0) != (oldPos > 0) && acc.pos != 0:
			// Flipped through zero: the survivor reopens at the fill price.
			acc.sum = acc.pos * fp
		case acc.pos == 0:
			acc.sum = 0
		default:
			// Reducing: cost basis shrinks proportionally, open price keeps.
			acc.sum *= acc.pos / oldPos
		}
		acc.fees += f.Fees
		acc.last = f
	}

	var out []PositionEntry
	for _, id := range ids {
		acc := accs[id]
		if acc.pos == 0 {
			continue
		}
		if filter != "" && !strings.HasPrefix(acc.last.Label, filter) {
			continue
		}
		open := acc.sum / acc.pos
		if acc.last.Instrument.Type == types.InstrumentInvertedContract {
			open = 1.0 / open
		}
		side := types.Buy
		amount := acc.pos
		if acc.pos < 0 {
			side = types.Sell
			amount = -acc.pos
		}
		out = append(out, PositionEntry{
			Time:       acc.last.Time,
			LastFillID: acc.last.ID,
			Label:      acc.last.Label,
			PosID:      id,
			Instrument: acc.last.Instrument,
			Side:       side,
			OpenPrice:  open,
			Amount:     amount,
			Fees:       acc.fees,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PosID < out[j].PosID })
	return out
}
