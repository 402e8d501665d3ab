package engine

import (
	"errors"
	"fmt"

	"github.com/predictex/predictex/pkg/core"
	"github.com/predictex/predictex/pkg/core/market"
	"github.com/predictex/predictex/pkg/core/order"
	"github.com/predictex/predictex/pkg/core/settlement"
	"github.com/predictex/predictex/pkg/core/validate"
)

// SubmitResult reports the outcome of one accepted submission. Matching
// never fails for business reasons once the order validated: the result is
// trades, a resting residual, or an in-place expiry.
type SubmitResult struct {
	OrderID   string
	Status    order.Status
	Remaining int64
	Trades    []settlement.Trade
}

// Submit validates an incoming order, matches it against its book and
// persists the outcome. The whole submission is all-or-nothing: if the
// storage commit fails nothing in the book changes and the salt stays free.
func (e *Engine) Submit(raw validate.RawOrder) (*SubmitResult, error) {
	o, err := e.validator.Validate(raw)
	if err != nil {
		return nil, err
	}

	sh, err := e.resolveBook(o.Market, o.OutcomeIndex)
	if err != nil {
		return nil, err
	}

	sh.mu.Lock()
	result, trades, err := e.submitLocked(sh, o)
	sh.mu.Unlock()
	if err != nil {
		return nil, err
	}

	if len(trades) > 0 {
		e.emitTrades(trades)
	}
	e.emitDepth(o.Market, o.OutcomeIndex)
	return result, nil
}

func (e *Engine) submitLocked(sh *shard, o *order.Order) (*SubmitResult, []settlement.Trade, error) {
	// Status is read under the book lock so a submission cannot land in a
	// market paused between routing and matching. The salt stays free.
	if st, _ := e.markets.Status(o.Market); st != market.Active {
		return nil, nil, fmt.Errorf("%w: market %s is %s", core.ErrMarketClosed, o.Market, st)
	}

	// Salt claim and sequence assignment are the single serialization
	// point of validation.
	if err := e.arena.Insert(o); err != nil {
		return nil, nil, err
	}
	o.Seq = e.arena.NextSeq()

	now := e.clock.Now().Unix()

	// Expiry elapsed between validation and matching: unmatchable, expired
	// in place without producing a trade.
	if o.ExpiredAt(now) {
		o.Status = order.Expired
		if err := e.commit(Batch{Orders: []order.Order{*o}}); err != nil {
			e.arena.Remove(o)
			return nil, nil, err
		}
		e.log.Infow("order_expired_in_place", "id", o.ID, "maker", o.Maker.Hex())
		return &SubmitResult{OrderID: o.ID, Status: order.Expired, Remaining: o.Remaining}, nil, nil
	}

	plan := sh.book.PlanMatch(o, now)

	trades := make([]settlement.Trade, 0, len(plan.Fills()))
	for i, f := range plan.Fills() {
		trades = append(trades, settlement.Trade{
			ID:           settlement.TradeID(f.MakerID, f.TakerID, o.Seq, i),
			Market:       o.Market,
			OutcomeIndex: o.OutcomeIndex,
			MakerOrderID: f.MakerID,
			TakerOrderID: f.TakerID,
			Price:        f.Price,
			Qty:          f.Qty,
			State:        settlement.Proposed,
			CreatedAt:    now,
		})
	}

	// Persist the planned row states first; mutate the book only once the
	// batch is durable.
	rows := make([]order.Order, 0, len(plan.Results()))
	for _, res := range plan.Results() {
		row := *res.Order
		row.Remaining = res.Remaining
		row.Status = res.Status
		rows = append(rows, row)
	}
	if err := e.commit(Batch{Orders: rows, Trades: trades}); err != nil {
		e.arena.Remove(o)
		return nil, nil, err
	}

	sh.book.Commit(plan)
	e.registerTrades(trades)

	e.log.Infow("order_submitted",
		"id", o.ID,
		"maker", o.Maker.Hex(),
		"market", o.Market,
		"outcome", o.OutcomeIndex,
		"side", o.Side.String(),
		"price", o.Price,
		"amount", o.Amount,
		"remaining", o.Remaining,
		"status", o.Status.String(),
		"fills", len(trades))

	return &SubmitResult{
		OrderID:   o.ID,
		Status:    o.Status,
		Remaining: o.Remaining,
		Trades:    trades,
	}, trades, nil
}

// commit wraps store failures so callers fail closed with a generic reason.
func (e *Engine) commit(b Batch) error {
	if err := e.store.Commit(b); err != nil {
		if errors.Is(err, core.ErrStorageUnavailable) {
			return err
		}
		return fmt.Errorf("%w: %v", core.ErrStorageUnavailable, err)
	}
	return nil
}

func (e *Engine) registerTrades(trades []settlement.Trade) {
	e.tradeMu.Lock()
	defer e.tradeMu.Unlock()
	for i := range trades {
		t := trades[i]
		e.trades[t.ID] = &t
	}
}
