// Package settlement carries trade records from proposal to on-chain
// confirmation and reconciles off-chain book state against authoritative
// settlement facts.
package settlement

import (
	"encoding/hex"
	"fmt"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

// State tracks a trade's confirmation lifecycle.
type State uint8

const (
	Proposed State = iota
	Confirmed
	Reverted
)

func (s State) String() string {
	switch s {
	case Proposed:
		return "proposed"
	case Confirmed:
		return "confirmed"
	case Reverted:
		return "reverted"
	default:
		return "unknown"
	}
}

// Trade is one execution between a resting maker order and an incoming
// taker. Price is always the maker's price. CorrelationToken is empty until
// the chain confirms the fill.
type Trade struct {
	ID               string `json:"id"`
	Market           string `json:"market"`
	OutcomeIndex     uint32 `json:"outcomeIndex"`
	MakerOrderID     string `json:"makerOrderId"`
	TakerOrderID     string `json:"takerOrderId"`
	Price            int64  `json:"price"`
	Qty              int64  `json:"qty"`
	CorrelationToken string `json:"correlationToken,omitempty"`
	State            State  `json:"state"`
	CreatedAt        int64  `json:"createdAt"`
}

// TradeID derives a deterministic id from the matched pair and the taker's
// sequence position, so replayed submissions regenerate identical ids.
func TradeID(makerOrderID, takerOrderID string, takerSeq uint64, fillIndex int) string {
	payload := fmt.Sprintf("%s|%s|%d|%d", makerOrderID, takerOrderID, takerSeq, fillIndex)
	sum := ethcrypto.Keccak256([]byte(payload))
	return "0x" + hex.EncodeToString(sum[:16])
}
