package engine

import (
	"github.com/predictex/predictex/pkg/core/order"
	"github.com/predictex/predictex/pkg/core/settlement"
)

// ApplyConfirmation reconciles one on-chain settlement fact against the
// off-chain book. The chain is authoritative: the order's remaining becomes
// amount minus the on-chain filled total, and any stale book listing is
// corrected to match. Each correlation token is applied at most once;
// redelivery is a no-op. Safe for concurrent callers: the token check, the
// book correction and the applied mark happen under one exclusion.
func (e *Engine) ApplyConfirmation(ev settlement.ConfirmationEvent) error {
	e.settleMu.Lock()
	defer e.settleMu.Unlock()

	if _, done := e.applied[ev.Token]; done {
		return nil
	}

	o, ok := e.arena.GetBySalt(ev.Maker, ev.Salt)
	if !ok {
		// The chain settled an order this process never saw (or one whose
		// record is long terminal and evicted). Nothing to correct; record
		// the token so redelivery stays quiet.
		e.log.Warnw("reconciliation_conflict",
			"reason", "unknown_order",
			"token", ev.Token,
			"maker", ev.Maker.Hex(),
			"salt", ev.Salt)
		if err := e.commit(Batch{AppliedToken: ev.Token}); err != nil {
			return err
		}
		e.markApplied(ev.Token)
		return nil
	}

	sh := e.shardFor(BookKey{Market: o.Market, Outcome: o.OutcomeIndex})
	sh.mu.Lock()
	err := e.applyConfirmationLocked(sh, o, ev)
	sh.mu.Unlock()
	if err != nil {
		return err
	}

	e.emitDepth(o.Market, o.OutcomeIndex)
	return nil
}

func (e *Engine) applyConfirmationLocked(sh *shard, o *order.Order, ev settlement.ConfirmationEvent) error {
	newRemaining := o.Amount - ev.FilledTotal
	if newRemaining < 0 {
		// On-chain data contradicts the amount invariant. The chain wins:
		// clamp and force the record to fully filled.
		e.log.Warnw("reconciliation_conflict",
			"reason", "overfilled",
			"token", ev.Token,
			"order", o.ID,
			"amount", o.Amount,
			"on_chain_filled", ev.FilledTotal)
		newRemaining = 0
	}

	// Cancelled and expired orders stay withdrawn; a revert cannot
	// resurrect maker intent. Filled recomputes freely, since it only ever
	// came from fills the chain may now contradict.
	newStatus := o.Status
	if !o.Status.Terminal() || o.Status == order.Filled {
		switch {
		case newRemaining == 0:
			newStatus = order.Filled
		case newRemaining == o.Amount:
			newStatus = order.Open
		default:
			newStatus = order.PartiallyFilled
		}
	}

	stale := o.Remaining != newRemaining || o.Status != newStatus
	reinsert := stale && newStatus.Resting()

	row := *o
	row.Remaining = newRemaining
	row.Status = newStatus
	if reinsert {
		// Re-levelled orders are effectively new resting positions: they
		// take a fresh sequence number and the tail of their level.
		row.Seq = e.arena.NextSeq()
	}

	batch := Batch{Orders: []order.Order{row}, AppliedToken: ev.Token}
	var tradeRow *settlement.Trade
	if ev.TradeID != "" {
		if t, ok := e.lookupTrade(ev.TradeID); ok {
			updated := t
			updated.CorrelationToken = ev.Token
			if ev.Reverted {
				updated.State = settlement.Reverted
			} else {
				updated.State = settlement.Confirmed
			}
			batch.Trades = []settlement.Trade{updated}
			tradeRow = &updated
		} else {
			e.log.Warnw("reconciliation_conflict",
				"reason", "unknown_trade",
				"token", ev.Token,
				"trade", ev.TradeID)
		}
	}

	if err := e.commit(batch); err != nil {
		// Not marked applied: the chain will redeliver and the token check
		// keeps reapplication safe once storage recovers.
		return err
	}

	if stale {
		if o.Status.Resting() {
			sh.book.Remove(o)
		}
		o.Remaining = newRemaining
		o.Status = newStatus
		if reinsert {
			o.Seq = row.Seq
			sh.book.Insert(o)
		}
		e.log.Infow("order_reconciled",
			"order", o.ID,
			"token", ev.Token,
			"remaining", newRemaining,
			"status", newStatus.String(),
			"relevelled", reinsert)
	}

	if tradeRow != nil {
		e.storeTrade(*tradeRow)
	}
	e.markApplied(ev.Token)
	return nil
}

// markApplied records a token. Caller holds settleMu.
func (e *Engine) markApplied(token string) {
	e.applied[token] = struct{}{}
}

func (e *Engine) lookupTrade(id string) (settlement.Trade, bool) {
	e.tradeMu.Lock()
	defer e.tradeMu.Unlock()
	t, ok := e.trades[id]
	if !ok {
		return settlement.Trade{}, false
	}
	return *t, true
}

func (e *Engine) storeTrade(t settlement.Trade) {
	e.tradeMu.Lock()
	e.trades[t.ID] = &t
	e.tradeMu.Unlock()
}
