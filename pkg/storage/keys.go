package storage

import (
	"encoding/binary"

	"github.com/ethereum/go-ethereum/common"
)

// Key layout:
//   o:<order-id>            -> JSON order row
//   s:<20b maker><8b salt>  -> order id (replay index, never deleted)
//   t:<trade-id>            -> JSON trade row
//   a:<correlation-token>   -> applied settlement event marker
const (
	prefixOrder = "o:"
	prefixSalt  = "s:"
	prefixTrade = "t:"
	prefixToken = "a:"
)

func orderKey(id string) []byte { return append([]byte(prefixOrder), id...) }

func saltKey(maker common.Address, salt uint64) []byte {
	k := make([]byte, 0, len(prefixSalt)+20+8)
	k = append(k, prefixSalt...)
	k = append(k, maker.Bytes()...)
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], salt)
	return append(k, buf[:]...)
}

func tradeKey(id string) []byte { return append([]byte(prefixTrade), id...) }

func tokenKey(token string) []byte { return append([]byte(prefixToken), token...) }

// keyUpperBound returns the exclusive upper bound for a prefix scan.
func keyUpperBound(prefix []byte) []byte {
	end := make([]byte, len(prefix))
	copy(end, prefix)
	for i := len(end) - 1; i >= 0; i-- {
		end[i]++
		if end[i] != 0 {
			return end[:i+1]
		}
	}
	return nil // prefix is all 0xff
}
