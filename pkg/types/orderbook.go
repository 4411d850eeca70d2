package types

import (
	"sort"
	"time"
)

// Level is one price level of an order book side.
type Level struct {
	Price  float64
	Amount float64
}

// BookUpdate is a single incremental order book change. A non-positive
// amount removes the level.
type BookUpdate struct {
	Side   Side
	Price  float64
	Amount float64
}

// OrderBook mirrors a venue order book: bids sorted descending, asks sorted
// ascending. During partial updates the top of book may transiently cross;
// consumers resolve by trimming (TrimBidTo/TrimAskTo), so no crossing check
// is enforced on update.
type OrderBook struct {
	bids []Level // descending by price
	asks []Level // ascending by price
	time time.Time
}

// Time returns the snapshot timestamp.
func (b *OrderBook) Time() time.Time { return b.time }

// SetTime stamps the snapshot.
func (b *OrderBook) SetTime(t time.Time) { b.time = t }

// Bids returns the bid side, best (highest) first.
func (b *OrderBook) Bids() []Level { return b.bids }

// Asks returns the ask side, best (lowest) first.
func (b *OrderBook) Asks() []Level { return b.asks }

// Empty reports whether both sides are empty.
func (b *OrderBook) Empty() bool { return len(b.bids) == 0 && len(b.asks) == 0 }

// BestBid returns the top bid level.
func (b *OrderBook) BestBid() (Level, bool) {
	if len(b.bids) == 0 {
		return Level{}, false
	}
	return b.bids[0], true
}

// BestAsk returns the top ask level.
func (b *OrderBook) BestAsk() (Level, bool) {
	if len(b.asks) == 0 {
		return Level{}, false
	}
	return b.asks[0], true
}

// UpdateBid inserts, replaces, or (amount <= 0) removes a bid level.
func (b *OrderBook) UpdateBid(price, amount float64) {
	b.bids = updateSide(b.bids, price, amount, func(a, p float64) bool { return a > p })
}

// UpdateAsk inserts, replaces, or (amount <= 0) removes an ask level.
func (b *OrderBook) UpdateAsk(price, amount float64) {
	b.asks = updateSide(b.asks, price, amount, func(a, p float64) bool { return a < p })
}

// Update applies one incremental change.
func (b *OrderBook) Update(up BookUpdate) {
	switch up.Side {
	case Buy:
		b.UpdateBid(up.Price, up.Amount)
	case Sell:
		b.UpdateAsk(up.Price, up.Amount)
	}
}

// TrimAskTo removes ask levels priced below the given price. Used to resolve
// a transiently crossed book.
func (b *OrderBook) TrimAskTo(price float64) {
	for len(b.asks) > 0 && b.asks[0].Price < price {
		b.asks = b.asks[1:]
	}
}

// TrimBidTo removes bid levels priced above the given price.
func (b *OrderBook) TrimBidTo(price float64) {
	for len(b.bids) > 0 && b.bids[0].Price > price {
		b.bids = b.bids[1:]
	}
}

// Trim drops bids below lowest and asks above highest, bounding the mirror's
// depth.
func (b *OrderBook) Trim(lowest, highest float64) {
	for len(b.bids) > 0 && b.bids[len(b.bids)-1].Price < lowest {
		b.bids = b.bids[:len(b.bids)-1]
	}
	for len(b.asks) > 0 && b.asks[len(b.asks)-1].Price > highest {
		b.asks = b.asks[:len(b.asks)-1]
	}
}

// UpdateTicker copies the book's top of both sides into the ticker.
func (b *OrderBook) UpdateTicker(tk *Ticker) {
	if bid, ok := b.BestBid(); ok {
		tk.Bid, tk.BidVol = bid.Price, bid.Amount
	}
	if ask, ok := b.BestAsk(); ok {
		tk.Ask, tk.AskVol = ask.Price, ask.Amount
	}
}

// UpdateFromTicker simulates an order book when only a ticker stream is
// available: crossing levels are trimmed, then the ticker's top of book is
// installed.
func (b *OrderBook) UpdateFromTicker(tk Ticker) {
	b.TrimAskTo(tk.Ask)
	b.TrimBidTo(tk.Bid)
	b.UpdateAsk(tk.Ask, tk.AskVol)
	b.UpdateBid(tk.Bid, tk.BidVol)
	b.time = tk.Time
}

// Clone returns a deep copy, safe to hand across goroutines.
func (b *OrderBook) Clone() OrderBook {
	return OrderBook{
		bids: append([]Level(nil), b.bids...),
		asks: append([]Level(nil), b.asks...),
		time: b.time,
	}
}

// updateSide keeps levels sorted by the side's ordering; before(a, p)
// reports whether price a sorts before price p.
func updateSide(side []Level, price, amount float64, before func(a, p float64) bool) []Level {
	idx := sort.Search(len(side), func(i int) bool { return !before(side[i].Price, price) })
	found := idx < len(side) && side[idx].Price == price
	switch {
	case amount <= 0 && found:
		return append(side[:idx], side[idx+1:]...)
	case amount <= 0:
		return side
	case found:
		side[idx].Amount = amount
		return side
	default:
		side = append(side, Level{})
		copy(side[idx+1:], side[idx:])
		side[idx] = Level{Price: price, Amount: amount}
		return side
	}
}
