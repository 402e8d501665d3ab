package chain

import (
	"bytes"
	"encoding/gob"
)

func init() {
	gob.Register(ProposalWire{})
	gob.Register(ConfirmationWire{})
}

// ProposalWire carries a batch of proposed trades to the settlement
// submitter collaborator.
type ProposalWire struct {
	Trades []byte // gob-encoded []settlement.Trade
}

// ConfirmationWire carries one on-chain settlement confirmation back from
// the chain listener collaborator.
type ConfirmationWire struct {
	Event []byte // gob-encoded settlement.ConfirmationEvent
}

func gobEncode(v any) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func gobDecode(b []byte, v any) error {
	return gob.NewDecoder(bytes.NewReader(b)).Decode(v)
}
