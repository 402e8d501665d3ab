package order

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/ethereum/go-ethereum/common"

	"github.com/predictex/predictex/pkg/core"
)

// Arena is the single owner of mutable orders. Lookups are safe from any
// goroutine; mutation of a stored order is serialized by its book's lock in
// the engine. The salt index survives terminal orders: a (maker, salt) pair
// is burned for the lifetime of the system.
type Arena struct {
	mu     sync.RWMutex
	byID   map[string]*Order
	bySalt map[SaltKey]string // salt key -> order id, never deleted

	seq atomic.Uint64
}

func NewArena() *Arena {
	return &Arena{
		byID:   make(map[string]*Order),
		bySalt: make(map[SaltKey]string),
	}
}

// NextSeq returns the next creation sequence number. Strictly increasing.
func (a *Arena) NextSeq() uint64 { return a.seq.Add(1) }

// ObserveSeq raises the sequence high-water mark during rehydration so newly
// accepted orders never reuse a persisted sequence number.
func (a *Arena) ObserveSeq(seq uint64) {
	for {
		cur := a.seq.Load()
		if seq <= cur || a.seq.CompareAndSwap(cur, seq) {
			return
		}
	}
}

// SaltUsed reports whether (maker, salt) has been accepted before.
func (a *Arena) SaltUsed(maker common.Address, salt uint64) bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	_, ok := a.bySalt[SaltKey{Maker: maker, Salt: salt}]
	return ok
}

// Insert registers an order under both indexes. Fails with ErrDuplicateSalt
// if the (maker, salt) pair was ever used, regardless of the first order's
// current status.
func (a *Arena) Insert(o *Order) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	key := o.SaltKey()
	if _, ok := a.bySalt[key]; ok {
		return fmt.Errorf("%w: maker=%s salt=%d", core.ErrDuplicateSalt, o.Maker.Hex(), o.Salt)
	}
	if _, ok := a.byID[o.ID]; ok {
		return fmt.Errorf("%w: id=%s", core.ErrDuplicateSalt, o.ID)
	}
	a.bySalt[key] = o.ID
	a.byID[o.ID] = o
	return nil
}

// BurnSalt records a (maker, salt) pair without an order behind it. Used
// during rehydration for terminal orders that are no longer held in memory.
func (a *Arena) BurnSalt(key SaltKey, orderID string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, ok := a.bySalt[key]; !ok {
		a.bySalt[key] = orderID
	}
}

// Remove drops an order from both indexes. Only used to roll back an accept
// whose storage commit failed; a successfully accepted salt is never freed.
func (a *Arena) Remove(o *Order) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.byID, o.ID)
	delete(a.bySalt, o.SaltKey())
}

// Restore registers a rehydrated order, overwriting the burned salt entry.
func (a *Arena) Restore(o *Order) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.bySalt[o.SaltKey()] = o.ID
	a.byID[o.ID] = o
}

func (a *Arena) Get(id string) (*Order, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	o, ok := a.byID[id]
	return o, ok
}

// GetBySalt resolves (maker, salt) to an in-memory order. A burned salt whose
// order was never rehydrated resolves to not-found.
func (a *Arena) GetBySalt(maker common.Address, salt uint64) (*Order, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	id, ok := a.bySalt[SaltKey{Maker: maker, Salt: salt}]
	if !ok {
		return nil, false
	}
	o, ok := a.byID[id]
	return o, ok
}

// Count returns the number of orders held in memory.
func (a *Arena) Count() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return len(a.byID)
}
