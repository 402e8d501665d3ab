// Package storage persists orders, trades, salts and applied settlement
// tokens in Pebble. It is the system of record the engine rehydrates from
// after a restart.
package storage

import (
	"encoding/json"
	"fmt"

	"github.com/cockroachdb/pebble"
	"github.com/ethereum/go-ethereum/common"

	"github.com/predictex/predictex/pkg/core/engine"
	"github.com/predictex/predictex/pkg/core/order"
	"github.com/predictex/predictex/pkg/core/settlement"
)

type PebbleStore struct {
	db *pebble.DB
}

func NewPebbleStore(path string) (*PebbleStore, error) {
	db, err := pebble.Open(path, &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("failed to open pebble at %s: %w", path, err)
	}
	return &PebbleStore{db: db}, nil
}

func (s *PebbleStore) Close() error { return s.db.Close() }

// Commit applies one engine batch atomically with a synced write. Partial
// visibility is impossible: either every row lands or none do.
func (s *PebbleStore) Commit(b engine.Batch) error {
	batch := s.db.NewBatch()
	defer batch.Close()

	for i := range b.Orders {
		o := &b.Orders[i]
		data, err := json.Marshal(o)
		if err != nil {
			return fmt.Errorf("failed to marshal order %s: %w", o.ID, err)
		}
		if err := batch.Set(orderKey(o.ID), data, nil); err != nil {
			return err
		}
		if err := batch.Set(saltKey(o.Maker, o.Salt), []byte(o.ID), nil); err != nil {
			return err
		}
	}

	for i := range b.Trades {
		t := &b.Trades[i]
		data, err := json.Marshal(t)
		if err != nil {
			return fmt.Errorf("failed to marshal trade %s: %w", t.ID, err)
		}
		if err := batch.Set(tradeKey(t.ID), data, nil); err != nil {
			return err
		}
	}

	if b.AppliedToken != "" {
		if err := batch.Set(tokenKey(b.AppliedToken), []byte{1}, nil); err != nil {
			return err
		}
	}

	if err := s.db.Apply(batch, pebble.Sync); err != nil {
		return fmt.Errorf("failed to commit batch: %w", err)
	}
	return nil
}

// Load scans the full store and rebuilds the engine's startup state: open
// orders, pending trades, the complete salt index and applied tokens.
func (s *PebbleStore) Load() (*engine.StoredState, error) {
	st := &engine.StoredState{
		Salts:   make(map[order.SaltKey]string),
		Applied: make(map[string]struct{}),
	}

	if err := s.loadOrders(st); err != nil {
		return nil, err
	}
	if err := s.loadTrades(st); err != nil {
		return nil, err
	}
	if err := s.loadTokens(st); err != nil {
		return nil, err
	}
	return st, nil
}

func (s *PebbleStore) loadOrders(st *engine.StoredState) error {
	iter, err := s.prefixIter(prefixOrder)
	if err != nil {
		return err
	}
	defer iter.Close()

	for iter.First(); iter.Valid(); iter.Next() {
		var o order.Order
		if err := json.Unmarshal(iter.Value(), &o); err != nil {
			return fmt.Errorf("corrupt order row %q: %w", iter.Key(), err)
		}
		st.Salts[o.SaltKey()] = o.ID
		if o.Seq > st.MaxSeq {
			st.MaxSeq = o.Seq
		}
		if o.Status.Resting() {
			st.Open = append(st.Open, o)
		}
	}
	return iter.Error()
}

func (s *PebbleStore) loadTrades(st *engine.StoredState) error {
	iter, err := s.prefixIter(prefixTrade)
	if err != nil {
		return err
	}
	defer iter.Close()

	for iter.First(); iter.Valid(); iter.Next() {
		var t settlement.Trade
		if err := json.Unmarshal(iter.Value(), &t); err != nil {
			return fmt.Errorf("corrupt trade row %q: %w", iter.Key(), err)
		}
		if t.State == settlement.Proposed {
			st.Trades = append(st.Trades, t)
		}
	}
	return iter.Error()
}

func (s *PebbleStore) loadTokens(st *engine.StoredState) error {
	iter, err := s.prefixIter(prefixToken)
	if err != nil {
		return err
	}
	defer iter.Close()

	for iter.First(); iter.Valid(); iter.Next() {
		st.Applied[string(iter.Key()[len(prefixToken):])] = struct{}{}
	}
	return iter.Error()
}

func (s *PebbleStore) prefixIter(prefix string) (*pebble.Iterator, error) {
	lb := []byte(prefix)
	return s.db.NewIter(&pebble.IterOptions{
		LowerBound: lb,
		UpperBound: keyUpperBound(lb),
	})
}

// LookupSalt resolves a (maker, salt) pair to an order id directly from
// storage, bypassing the in-memory index. Diagnostic surface.
func (s *PebbleStore) LookupSalt(maker common.Address, salt uint64) (string, bool, error) {
	val, closer, err := s.db.Get(saltKey(maker, salt))
	if err == pebble.ErrNotFound {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	defer closer.Close()
	return string(val), true, nil
}

var _ engine.Store = (*PebbleStore)(nil)
