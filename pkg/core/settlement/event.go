package settlement

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
)

// ConfirmationEvent is one on-chain settlement fact. The chain is
// authoritative: FilledTotal is the order's cumulative settled quantity,
// which may diverge from the off-chain proposal when a third party's
// transaction filled the same resting order first.
type ConfirmationEvent struct {
	// Token is the idempotency key: "<txhash>:<logIndex>". Redelivery of a
	// token that was already applied is a no-op.
	Token string

	Maker common.Address
	Salt  uint64

	// FilledTotal is the authoritative cumulative filled amount for the
	// order identified by (Maker, Salt).
	FilledTotal int64

	// TradeID links the event to a proposed trade, when known.
	TradeID string

	// Reverted marks the referenced trade as rolled back on-chain.
	Reverted bool
}

// CorrelationToken builds the canonical token for a transaction log entry.
func CorrelationToken(txHash common.Hash, logIndex uint32) string {
	return fmt.Sprintf("%s:%d", txHash.Hex(), logIndex)
}

func (ev ConfirmationEvent) Validate() error {
	if ev.Token == "" {
		return fmt.Errorf("confirmation event missing correlation token")
	}
	if ev.FilledTotal < 0 {
		return fmt.Errorf("confirmation event has negative filled total %d", ev.FilledTotal)
	}
	return nil
}
