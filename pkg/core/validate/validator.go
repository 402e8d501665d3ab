// Package validate turns raw order payloads into validated orders.
// Every check here is pure and side-effect free: schema, expiry, EIP-712
// signature recovery. Salt replay and sequence assignment are the engine's
// serialized steps.
package validate

import (
	"encoding/hex"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"github.com/predictex/predictex/pkg/core"
	"github.com/predictex/predictex/pkg/core/order"
	"github.com/predictex/predictex/pkg/crypto"
	"github.com/predictex/predictex/pkg/util"
)

// MaxPrice caps outcome token prices: a share of a resolved outcome pays
// out exactly 1.000000, so no rational order prices at or above it.
const MaxPrice = int64(1_000_000)

// RawOrder is the wire payload a maker submits.
type RawOrder struct {
	Maker        string `json:"maker"`
	Market       string `json:"market"`
	OutcomeIndex uint32 `json:"outcomeIndex"`
	Side         string `json:"side"` // "buy" or "sell"
	Price        int64  `json:"price"`
	Amount       int64  `json:"amount"`
	Salt         uint64 `json:"salt"`
	Expiry       int64  `json:"expiry"`    // unix seconds, 0 = none
	Signature    string `json:"signature"` // 0x-hex, 65 bytes
}

// Validator checks structural and cryptographic validity of incoming
// payloads. Safe for concurrent use; holds no mutable state.
type Validator struct {
	signer *crypto.EIP712Signer
	clock  util.Clock
}

func New(domain crypto.EIP712Domain, clock util.Clock) *Validator {
	return &Validator{
		signer: crypto.NewEIP712Signer(domain),
		clock:  clock,
	}
}

// Validate runs the check sequence: schema, expiry, signature. On success
// it returns an Order with status open and no sequence number; the engine
// assigns Seq under the book's exclusion.
func (v *Validator) Validate(raw RawOrder) (*order.Order, error) {
	if raw.Market == "" {
		return nil, fmt.Errorf("%w: missing market", core.ErrMalformedOrder)
	}
	if !common.IsHexAddress(raw.Maker) {
		return nil, fmt.Errorf("%w: bad maker address %q", core.ErrMalformedOrder, raw.Maker)
	}
	side, ok := order.SideFromString(raw.Side)
	if !ok {
		return nil, fmt.Errorf("%w: bad side %q", core.ErrMalformedOrder, raw.Side)
	}
	if raw.Price <= 0 || raw.Price >= MaxPrice {
		return nil, fmt.Errorf("%w: price %d out of range (0, %d)", core.ErrMalformedOrder, raw.Price, MaxPrice)
	}
	if raw.Amount <= 0 {
		return nil, fmt.Errorf("%w: amount must be positive", core.ErrMalformedOrder)
	}
	if raw.Expiry < 0 {
		return nil, fmt.Errorf("%w: negative expiry", core.ErrMalformedOrder)
	}
	sig, err := DecodeSignature(raw.Signature)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", core.ErrMalformedOrder, err)
	}

	now := v.clock.Now().Unix()
	if raw.Expiry != 0 && raw.Expiry <= now {
		return nil, fmt.Errorf("%w: expiry %d is not in the future", core.ErrExpired, raw.Expiry)
	}

	maker := common.HexToAddress(raw.Maker)
	typed := &crypto.OrderEIP712{
		Maker:        maker,
		OutcomeIndex: new(big.Int).SetUint64(uint64(raw.OutcomeIndex)),
		IsBuy:        side == order.Buy,
		Price:        big.NewInt(raw.Price),
		Amount:       big.NewInt(raw.Amount),
		Salt:         new(big.Int).SetUint64(raw.Salt),
		Expiry:       big.NewInt(raw.Expiry),
	}

	hash, err := v.signer.HashOrder(typed)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", core.ErrMalformedOrder, err)
	}
	recovered, err := crypto.RecoverAddress(hash, sig)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", core.ErrInvalidSignature, err)
	}
	if recovered != maker {
		return nil, fmt.Errorf("%w: recovered %s, declared %s",
			core.ErrInvalidSignature, recovered.Hex(), maker.Hex())
	}

	return &order.Order{
		ID:           "0x" + hex.EncodeToString(hash),
		Maker:        maker,
		Market:       raw.Market,
		OutcomeIndex: raw.OutcomeIndex,
		Side:         side,
		Price:        raw.Price,
		Amount:       raw.Amount,
		Remaining:    raw.Amount,
		Expiry:       raw.Expiry,
		Salt:         raw.Salt,
		Signature:    sig,
		Status:       order.Open,
		CreatedAt:    now,
	}, nil
}

// DecodeSignature decodes a 65-byte hex signature, 0x prefix optional.
func DecodeSignature(sig string) ([]byte, error) {
	sig = strings.TrimPrefix(sig, "0x")
	raw, err := hex.DecodeString(sig)
	if err != nil {
		return nil, fmt.Errorf("invalid hex signature: %w", err)
	}
	if len(raw) != 65 {
		return nil, fmt.Errorf("signature must be 65 bytes, got %d", len(raw))
	}
	return raw, nil
}
