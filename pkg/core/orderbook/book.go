// Package orderbook implements one price-indexed book per (market, outcome)
// pair: bid and ask sides as price heaps over FIFO level queues, matched
// under strict price-time priority at the resting order's price.
//
// The book itself is not synchronized; the engine serializes every mutation
// of one book behind a single lock. Matching is split into a read-only
// PlanMatch and a Commit so the caller can persist the outcome durably
// before any in-memory state changes.
package orderbook

import (
	"container/heap"
	"sort"

	"github.com/predictex/predictex/pkg/core/order"
)

// Fill is one planned execution: the maker's price, always.
type Fill struct {
	MakerID string
	TakerID string
	Price   int64
	Qty     int64
}

// Level is an aggregated depth entry.
type Level struct {
	Price int64 `json:"price"`
	Qty   int64 `json:"qty"` // total remaining at this price
}

type Book struct {
	market  string
	outcome uint32

	bidHeap *maxPriceHeap
	askHeap *minPriceHeap

	// price -> FIFO queue, earliest creation sequence first
	bids map[int64][]*order.Order
	asks map[int64][]*order.Order
}

func New(market string, outcome uint32) *Book {
	bidHeap := &maxPriceHeap{}
	askHeap := &minPriceHeap{}
	heap.Init(bidHeap)
	heap.Init(askHeap)

	return &Book{
		market:  market,
		outcome: outcome,
		bidHeap: bidHeap,
		askHeap: askHeap,
		bids:    make(map[int64][]*order.Order),
		asks:    make(map[int64][]*order.Order),
	}
}

func (b *Book) Market() string  { return b.market }
func (b *Book) Outcome() uint32 { return b.outcome }

// BestBid returns the highest bid price, counting every resting order.
func (b *Book) BestBid() (int64, bool) {
	if b.bidHeap.Len() == 0 {
		return 0, false
	}
	return b.bidHeap.Peek(), true
}

// BestAsk returns the lowest ask price.
func (b *Book) BestAsk() (int64, bool) {
	if b.askHeap.Len() == 0 {
		return 0, false
	}
	return b.askHeap.Peek(), true
}

// Insert rests an order at the tail of its price level, creating the level
// if needed. The caller has already set the order's status.
func (b *Book) Insert(o *order.Order) {
	if o.Side == order.Buy {
		if len(b.bids[o.Price]) == 0 {
			heap.Push(b.bidHeap, o.Price)
		}
		b.bids[o.Price] = append(b.bids[o.Price], o)
	} else {
		if len(b.asks[o.Price]) == 0 {
			heap.Push(b.askHeap, o.Price)
		}
		b.asks[o.Price] = append(b.asks[o.Price], o)
	}
}

// Remove takes an order off its price level. Returns false if the order is
// not resting on this book.
func (b *Book) Remove(o *order.Order) bool {
	levels := b.bids
	if o.Side == order.Sell {
		levels = b.asks
	}

	queue, ok := levels[o.Price]
	if !ok {
		return false
	}
	for i, resting := range queue {
		if resting.ID == o.ID {
			levels[o.Price] = append(queue[:i], queue[i+1:]...)
			if len(levels[o.Price]) == 0 {
				delete(levels, o.Price)
				b.removeHeapPrice(o.Side, o.Price)
			}
			return true
		}
	}
	return false
}

// removeHeapPrice drops an emptied price level from the side's heap.
// O(N) worst case, but level removal is rare relative to matching.
func (b *Book) removeHeapPrice(side order.Side, price int64) {
	if side == order.Buy {
		for i := 0; i < b.bidHeap.Len(); i++ {
			if (*b.bidHeap)[i] == price {
				heap.Remove(b.bidHeap, i)
				return
			}
		}
		return
	}
	for i := 0; i < b.askHeap.Len(); i++ {
		if (*b.askHeap)[i] == price {
			heap.Remove(b.askHeap, i)
			return
		}
	}
}

type plannedFill struct {
	maker *order.Order
	qty   int64
}

// Result is the post-commit state of one order touched by a plan.
type Result struct {
	Order     *order.Order
	Remaining int64
	Status    order.Status
	Rests     bool // true if the order will rest on the book after commit
}

// MatchPlan is the outcome of matching one incoming order, computed without
// mutating the book. Commit applies it; until then the book is unchanged.
type MatchPlan struct {
	taker   *order.Order
	fills   []plannedFill
	expired []*order.Order // resting orders found expired while planning
	results []Result
}

// Fills returns the planned executions in priority order.
func (p *MatchPlan) Fills() []Fill {
	out := make([]Fill, len(p.fills))
	for i, f := range p.fills {
		out[i] = Fill{
			MakerID: f.maker.ID,
			TakerID: p.taker.ID,
			Price:   f.maker.Price,
			Qty:     f.qty,
		}
	}
	return out
}

// Results returns the post-commit state of every touched order, taker
// included. The caller persists these before Commit.
func (p *MatchPlan) Results() []Result { return p.results }

// PlanMatch matches the incoming order against the opposite side under
// price-time priority. Every fill prices at the resting maker's price.
// Resting orders whose expiry elapsed are collected for expiry-in-place and
// never matched. The book is not modified.
func (b *Book) PlanMatch(taker *order.Order, now int64) *MatchPlan {
	plan := &MatchPlan{taker: taker}
	remaining := taker.Remaining

	levels := b.asks
	prices := b.sortedPrices(order.Sell)
	compatible := func(p int64) bool { return p <= taker.Price }
	if taker.Side == order.Sell {
		levels = b.bids
		prices = b.sortedPrices(order.Buy)
		compatible = func(p int64) bool { return p >= taker.Price }
	}

	for _, price := range prices {
		if remaining <= 0 || !compatible(price) {
			break
		}
		for _, maker := range levels[price] {
			if remaining <= 0 {
				break
			}
			if maker.ExpiredAt(now) {
				plan.expired = append(plan.expired, maker)
				continue
			}
			qty := min(remaining, maker.Remaining)
			plan.fills = append(plan.fills, plannedFill{maker: maker, qty: qty})
			remaining -= qty
		}
	}

	// Final states: expired makers first, then matched makers, then taker.
	for _, m := range plan.expired {
		plan.results = append(plan.results, Result{Order: m, Remaining: m.Remaining, Status: order.Expired})
	}
	for _, f := range plan.fills {
		rem := f.maker.Remaining - f.qty
		st := order.PartiallyFilled
		rests := true
		if rem == 0 {
			st = order.Filled
			rests = false
		}
		plan.results = append(plan.results, Result{Order: f.maker, Remaining: rem, Status: st, Rests: rests})
	}

	takerStatus := order.Filled
	takerRests := false
	if remaining > 0 {
		takerRests = true
		if remaining == taker.Amount {
			takerStatus = order.Open
		} else {
			takerStatus = order.PartiallyFilled
		}
	}
	plan.results = append(plan.results, Result{Order: taker, Remaining: remaining, Status: takerStatus, Rests: takerRests})

	return plan
}

// Commit applies a plan produced by PlanMatch: expires stale makers in
// place, decrements remainings, removes filled orders and emptied levels,
// and rests the taker's residual at its price. Immediately afterwards the
// best bid is strictly below the best ask: every crossable quantity was
// consumed during planning.
func (b *Book) Commit(plan *MatchPlan) {
	for _, res := range plan.results {
		o := res.Order
		wasResting := o != plan.taker && o.Status.Resting()

		o.Remaining = res.Remaining
		o.Status = res.Status

		if wasResting && !res.Rests {
			b.Remove(o)
		}
		if o == plan.taker && res.Rests {
			b.Insert(o)
		}
	}
}

// sortedPrices returns a side's level prices best-first.
func (b *Book) sortedPrices(side order.Side) []int64 {
	levels := b.bids
	if side == order.Sell {
		levels = b.asks
	}
	prices := make([]int64, 0, len(levels))
	for p := range levels {
		prices = append(prices, p)
	}
	if side == order.Buy {
		sort.Slice(prices, func(i, j int) bool { return prices[i] > prices[j] })
	} else {
		sort.Slice(prices, func(i, j int) bool { return prices[i] < prices[j] })
	}
	return prices
}

// Depth aggregates remaining quantity per level, bids high-to-low and asks
// low-to-high. Orders whose expiry elapsed are excluded: no depth query may
// report an expired order as tradeable.
func (b *Book) Depth(now int64) (bids, asks []Level) {
	return b.sideDepth(order.Buy, now), b.sideDepth(order.Sell, now)
}

func (b *Book) sideDepth(side order.Side, now int64) []Level {
	levels := b.bids
	if side == order.Sell {
		levels = b.asks
	}

	out := make([]Level, 0, len(levels))
	for price, queue := range levels {
		var total int64
		for _, o := range queue {
			if !o.Status.Resting() || o.ExpiredAt(now) {
				continue
			}
			total += o.Remaining
		}
		if total > 0 {
			out = append(out, Level{Price: price, Qty: total})
		}
	}

	if side == order.Buy {
		sort.Slice(out, func(i, j int) bool { return out[i].Price > out[j].Price })
	} else {
		sort.Slice(out, func(i, j int) bool { return out[i].Price < out[j].Price })
	}
	return out
}
