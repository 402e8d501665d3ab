// Package engine serializes all mutation of one (market, outcome) book:
// submission and matching, cancellation, and settlement reconciliation all
// run under that book's lock, while operations on different books proceed in
// parallel. Signature recovery and schema checks run lock-free before the
// critical section.
package engine

import (
	"fmt"
	"sort"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/predictex/predictex/pkg/core"
	"github.com/predictex/predictex/pkg/core/market"
	"github.com/predictex/predictex/pkg/core/order"
	"github.com/predictex/predictex/pkg/core/orderbook"
	"github.com/predictex/predictex/pkg/core/settlement"
	"github.com/predictex/predictex/pkg/core/validate"
	"github.com/predictex/predictex/pkg/util"
)

// BookKey identifies one order book.
type BookKey struct {
	Market  string
	Outcome uint32
}

// Batch is the atomic unit the engine persists. Either the whole batch is
// durable or the operation fails with no in-memory mutation.
type Batch struct {
	Orders       []order.Order      // row states to upsert
	Trades       []settlement.Trade // trade rows to upsert
	AppliedToken string             // settlement idempotency key, if any
}

// Store is the system of record. The engine treats it as authoritative for
// replay across restarts.
type Store interface {
	Commit(b Batch) error
	Load() (*StoredState, error)
	Close() error
}

// StoredState is everything the engine rehydrates on start.
type StoredState struct {
	Open    []order.Order               // open / partially filled orders
	Trades  []settlement.Trade          // trades still awaiting confirmation
	Salts   map[order.SaltKey]string    // every (maker, salt) ever accepted
	Applied map[string]struct{}         // applied correlation tokens
	MaxSeq  uint64
}

type shard struct {
	mu   sync.Mutex
	book *orderbook.Book
}

type Engine struct {
	log       *zap.SugaredLogger
	clock     util.Clock
	validator *validate.Validator
	markets   *market.Registry
	arena     *order.Arena
	store     Store

	mu    sync.RWMutex
	books map[BookKey]*shard

	// settleMu serializes ApplyConfirmation end to end; the applied token
	// set is only touched under it (or before traffic, in Rehydrate).
	settleMu sync.Mutex
	applied  map[string]struct{}

	tradeMu sync.Mutex
	trades  map[string]*settlement.Trade

	// OnTrade fires after a trade is durably proposed, outside any book
	// lock. Wired to the chain publisher and the websocket hub.
	OnTrade func(t settlement.Trade)

	// OnDepth fires after a book's depth changed, outside any book lock.
	OnDepth func(market string, outcome uint32)
}

func New(log *zap.SugaredLogger, clock util.Clock, validator *validate.Validator,
	markets *market.Registry, store Store) *Engine {
	return &Engine{
		log:       log,
		clock:     clock,
		validator: validator,
		markets:   markets,
		arena:     order.NewArena(),
		store:     store,
		books:     make(map[BookKey]*shard),
		applied:   make(map[string]struct{}),
		trades:    make(map[string]*settlement.Trade),
	}
}

// shardFor returns the lock+book pair for a key, creating it on first use.
// The market must already be known to the registry.
func (e *Engine) shardFor(key BookKey) *shard {
	e.mu.RLock()
	sh, ok := e.books[key]
	e.mu.RUnlock()
	if ok {
		return sh
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if sh, ok = e.books[key]; ok {
		return sh
	}
	sh = &shard{book: orderbook.New(key.Market, key.Outcome)}
	e.books[key] = sh
	return sh
}

// resolveBook checks the (market, outcome) pair exists and is known.
func (e *Engine) resolveBook(marketID string, outcome uint32) (*shard, error) {
	mkt, ok := e.markets.Get(marketID)
	if !ok {
		return nil, fmt.Errorf("%w: market %s", core.ErrBookNotFound, marketID)
	}
	if !mkt.HasOutcome(outcome) {
		return nil, fmt.Errorf("%w: market %s has no outcome %d", core.ErrBookNotFound, marketID, outcome)
	}
	return e.shardFor(BookKey{Market: marketID, Outcome: outcome}), nil
}

// Rehydrate rebuilds books, the salt index, pending trades and the applied
// token set from the store. Call once, before serving traffic.
func (e *Engine) Rehydrate() error {
	st, err := e.store.Load()
	if err != nil {
		return fmt.Errorf("%w: %v", core.ErrStorageUnavailable, err)
	}

	for key, id := range st.Salts {
		e.arena.BurnSalt(key, id)
	}
	e.arena.ObserveSeq(st.MaxSeq)

	// Insert in creation order so level queues rebuild with time priority.
	open := make([]order.Order, len(st.Open))
	copy(open, st.Open)
	sort.Slice(open, func(i, j int) bool { return open[i].Seq < open[j].Seq })
	for i := range open {
		o := &open[i]
		if !o.Status.Resting() {
			continue
		}
		e.arena.Restore(o)
		sh := e.shardFor(BookKey{Market: o.Market, Outcome: o.OutcomeIndex})
		sh.mu.Lock()
		sh.book.Insert(o)
		sh.mu.Unlock()
	}

	for i := range st.Trades {
		t := st.Trades[i]
		e.trades[t.ID] = &t
	}
	for token := range st.Applied {
		e.applied[token] = struct{}{}
	}

	e.log.Infow("engine_rehydrated",
		"open_orders", len(open),
		"burned_salts", len(st.Salts),
		"pending_trades", len(st.Trades),
		"applied_tokens", len(st.Applied),
		"seq_high_water", st.MaxSeq)
	return nil
}

// DepthSnapshot is the aggregated view of one book.
type DepthSnapshot struct {
	Market    string            `json:"market"`
	Outcome   uint32            `json:"outcome"`
	Bids      []orderbook.Level `json:"bids"`
	Asks      []orderbook.Level `json:"asks"`
	BestBid   int64             `json:"bestBid"` // 0 when side empty
	BestAsk   int64             `json:"bestAsk"`
	Timestamp int64             `json:"timestamp"`
}

// Depth returns aggregated levels per side, expired orders excluded.
func (e *Engine) Depth(marketID string, outcome uint32) (*DepthSnapshot, error) {
	sh, err := e.resolveBook(marketID, outcome)
	if err != nil {
		return nil, err
	}

	now := e.clock.Now().Unix()
	sh.mu.Lock()
	bids, asks := sh.book.Depth(now)
	sh.mu.Unlock()

	snap := &DepthSnapshot{
		Market:    marketID,
		Outcome:   outcome,
		Bids:      bids,
		Asks:      asks,
		Timestamp: now,
	}
	if len(bids) > 0 {
		snap.BestBid = bids[0].Price
	}
	if len(asks) > 0 {
		snap.BestAsk = asks[0].Price
	}
	return snap, nil
}

// OrderByID returns a point-in-time copy of an order.
func (e *Engine) OrderByID(id string) (order.Order, error) {
	o, ok := e.arena.Get(id)
	if !ok {
		return order.Order{}, fmt.Errorf("%w: id %s", core.ErrNotFound, id)
	}
	return e.snapshotOrder(o), nil
}

// OrderBySalt returns a point-in-time copy of an order by (maker, salt).
func (e *Engine) OrderBySalt(maker common.Address, salt uint64) (order.Order, error) {
	o, ok := e.arena.GetBySalt(maker, salt)
	if !ok {
		return order.Order{}, fmt.Errorf("%w: maker %s salt %d", core.ErrNotFound, maker.Hex(), salt)
	}
	return e.snapshotOrder(o), nil
}

// snapshotOrder copies an order under its book's lock so readers never see a
// half-applied mutation.
func (e *Engine) snapshotOrder(o *order.Order) order.Order {
	sh := e.shardFor(BookKey{Market: o.Market, Outcome: o.OutcomeIndex})
	sh.mu.Lock()
	snap := *o
	sh.mu.Unlock()
	return snap
}

// Trade returns a copy of a trade record by id.
func (e *Engine) Trade(id string) (settlement.Trade, bool) {
	e.tradeMu.Lock()
	defer e.tradeMu.Unlock()
	t, ok := e.trades[id]
	if !ok {
		return settlement.Trade{}, false
	}
	return *t, true
}

func (e *Engine) emitTrades(trades []settlement.Trade) {
	if e.OnTrade == nil {
		return
	}
	for _, t := range trades {
		e.OnTrade(t)
	}
}

func (e *Engine) emitDepth(marketID string, outcome uint32) {
	if e.OnDepth != nil {
		e.OnDepth(marketID, outcome)
	}
}
