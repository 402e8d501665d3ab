package engine

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"github.com/predictex/predictex/pkg/core"
	"github.com/predictex/predictex/pkg/core/order"
	"github.com/predictex/predictex/pkg/core/validate"
	"github.com/predictex/predictex/pkg/crypto"
)

// CancelRequest is a signed cancellation: the signature covers the canonical
// message "Cancel Order: <salt>".
type CancelRequest struct {
	Maker     string `json:"maker"`
	Salt      uint64 `json:"salt"`
	Signature string `json:"signature"`
}

// CancelOutcome reports the order's status after the cancel. AlreadyTerminal
// means the order had already been filled, cancelled or expired; the cancel
// is an idempotent no-op, not a failure.
type CancelOutcome struct {
	OrderID         string
	Status          order.Status
	AlreadyTerminal bool
}

// Cancel verifies a signed cancel request and withdraws the order's
// remaining quantity. Runs under the same per-book exclusion as matching:
// whichever operation acquires the book first wins, and the loser observes
// the terminal status instead of corrupting remaining quantity.
func (e *Engine) Cancel(req CancelRequest) (*CancelOutcome, error) {
	if !common.IsHexAddress(req.Maker) {
		return nil, fmt.Errorf("%w: bad maker address %q", core.ErrMalformedOrder, req.Maker)
	}
	sig, err := validate.DecodeSignature(req.Signature)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", core.ErrMalformedOrder, err)
	}
	maker := common.HexToAddress(req.Maker)
	if !crypto.VerifyCancelSignature(maker, req.Salt, sig) {
		return nil, fmt.Errorf("%w: cancel signature does not recover to %s", core.ErrInvalidSignature, maker.Hex())
	}

	o, ok := e.arena.GetBySalt(maker, req.Salt)
	if !ok {
		return nil, fmt.Errorf("%w: maker %s salt %d", core.ErrNotFound, maker.Hex(), req.Salt)
	}

	sh := e.shardFor(BookKey{Market: o.Market, Outcome: o.OutcomeIndex})
	sh.mu.Lock()

	if o.Status.Terminal() {
		outcome := &CancelOutcome{OrderID: o.ID, Status: o.Status, AlreadyTerminal: true}
		sh.mu.Unlock()
		return outcome, nil
	}

	row := *o
	row.Status = order.Cancelled
	if err := e.commit(Batch{Orders: []order.Order{row}}); err != nil {
		sh.mu.Unlock()
		return nil, err
	}

	o.Status = order.Cancelled
	sh.book.Remove(o)
	outcome := &CancelOutcome{OrderID: o.ID, Status: order.Cancelled}
	sh.mu.Unlock()

	e.log.Infow("order_cancelled",
		"id", o.ID,
		"maker", maker.Hex(),
		"salt", req.Salt,
		"withdrawn", o.Remaining)
	e.emitDepth(o.Market, o.OutcomeIndex)
	return outcome, nil
}
