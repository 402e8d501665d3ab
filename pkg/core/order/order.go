// Package order defines the order entity and the arena that owns every
// mutable order for its in-memory lifetime. Books and indexes hold references
// into the arena, never copies of mutable state.
package order

import (
	"github.com/ethereum/go-ethereum/common"
)

type Side int8

const (
	Buy  Side = 1
	Sell Side = -1
)

func (s Side) String() string {
	switch s {
	case Buy:
		return "buy"
	case Sell:
		return "sell"
	default:
		return "unknown"
	}
}

// SideFromString parses "buy"/"sell" (case-sensitive, wire format).
func SideFromString(s string) (Side, bool) {
	switch s {
	case "buy", "BUY":
		return Buy, true
	case "sell", "SELL":
		return Sell, true
	default:
		return 0, false
	}
}

// Status is the order lifecycle variant. Transitions are monotonic:
// Open -> PartiallyFilled -> {Filled, Cancelled, Expired}, and the three
// terminal statuses are absorbing.
type Status uint8

const (
	Open Status = iota
	PartiallyFilled
	Filled
	Cancelled
	Expired
)

func (st Status) String() string {
	switch st {
	case Open:
		return "open"
	case PartiallyFilled:
		return "partially_filled"
	case Filled:
		return "filled"
	case Cancelled:
		return "cancelled"
	case Expired:
		return "expired"
	default:
		return "unknown"
	}
}

// Terminal reports whether the status is absorbing.
func (st Status) Terminal() bool {
	return st == Filled || st == Cancelled || st == Expired
}

// Resting reports whether an order with this status may appear on a price
// level.
func (st Status) Resting() bool {
	return st == Open || st == PartiallyFilled
}

// Order is a signed limit order for one outcome token.
// Prices are fixed-point integers scaled by 1e6; a binary outcome trades in
// (0, 1e6). Quantities are integer token amounts.
type Order struct {
	ID           string         `json:"id"` // 0x-hex EIP-712 struct hash
	Maker        common.Address `json:"maker"`
	Market       string         `json:"market"`
	OutcomeIndex uint32         `json:"outcomeIndex"`
	Side         Side           `json:"side"`
	Price        int64          `json:"price"`
	Amount       int64          `json:"amount"`
	Remaining    int64          `json:"remaining"`
	Expiry       int64          `json:"expiry"` // unix seconds, 0 = none
	Salt         uint64         `json:"salt"`
	Signature    []byte         `json:"signature"`
	Status       Status         `json:"status"`
	Seq          uint64         `json:"seq"` // creation sequence, assigns time priority
	CreatedAt    int64          `json:"createdAt"`
}

// FilledQty returns the executed quantity so far.
func (o *Order) FilledQty() int64 { return o.Amount - o.Remaining }

// ExpiredAt reports whether the order's expiry has elapsed at the given time.
func (o *Order) ExpiredAt(now int64) bool {
	return o.Expiry != 0 && o.Expiry <= now
}

// SaltKey identifies the (maker, salt) replay-protection pair.
type SaltKey struct {
	Maker common.Address
	Salt  uint64
}

func (o *Order) SaltKey() SaltKey { return SaltKey{Maker: o.Maker, Salt: o.Salt} }
