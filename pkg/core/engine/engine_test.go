package engine_test

import (
	"errors"
	"fmt"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/predictex/predictex/pkg/core"
	"github.com/predictex/predictex/pkg/core/engine"
	"github.com/predictex/predictex/pkg/core/market"
	"github.com/predictex/predictex/pkg/core/order"
	"github.com/predictex/predictex/pkg/core/settlement"
	"github.com/predictex/predictex/pkg/core/validate"
	"github.com/predictex/predictex/pkg/crypto"
)

// fakeClock returns a fixed time, optionally advancing by step on every call
// so expiry races between validation and matching are reproducible.
type fakeClock struct {
	mu   sync.Mutex
	now  int64
	step int64
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := time.Unix(c.now, 0)
	c.now += c.step
	return t
}

func (c *fakeClock) Set(now int64) {
	c.mu.Lock()
	c.now = now
	c.mu.Unlock()
}

// memStore is an in-memory engine.Store with a failure switch.
type memStore struct {
	mu        sync.Mutex
	orders    map[string]order.Order
	trades    map[string]settlement.Trade
	tokens    map[string]struct{}
	tokenHits map[string]int
	fail      bool
}

func newMemStore() *memStore {
	return &memStore{
		orders:    make(map[string]order.Order),
		trades:    make(map[string]settlement.Trade),
		tokens:    make(map[string]struct{}),
		tokenHits: make(map[string]int),
	}
}

func (s *memStore) Commit(b engine.Batch) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail {
		return errors.New("disk on fire")
	}
	for _, o := range b.Orders {
		s.orders[o.ID] = o
	}
	for _, t := range b.Trades {
		s.trades[t.ID] = t
	}
	if b.AppliedToken != "" {
		s.tokens[b.AppliedToken] = struct{}{}
		s.tokenHits[b.AppliedToken]++
	}
	return nil
}

func (s *memStore) Load() (*engine.StoredState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := &engine.StoredState{
		Salts:   make(map[order.SaltKey]string),
		Applied: make(map[string]struct{}),
	}
	for _, o := range s.orders {
		st.Salts[o.SaltKey()] = o.ID
		if o.Seq > st.MaxSeq {
			st.MaxSeq = o.Seq
		}
		if o.Status.Resting() {
			st.Open = append(st.Open, o)
		}
	}
	for _, t := range s.trades {
		if t.State == settlement.Proposed {
			st.Trades = append(st.Trades, t)
		}
	}
	for tok := range s.tokens {
		st.Applied[tok] = struct{}{}
	}
	return st, nil
}

func (s *memStore) Close() error { return nil }

func (s *memStore) setFail(fail bool) {
	s.mu.Lock()
	s.fail = fail
	s.mu.Unlock()
}

func (s *memStore) appliedCount(token string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tokenHits[token]
}

func (s *memStore) orderRow(id string) (order.Order, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[id]
	return o, ok
}

// env bundles an engine with its collaborators and a pre-funded key.
type env struct {
	t        *testing.T
	engine   *engine.Engine
	store    *memStore
	clock    *fakeClock
	registry *market.Registry
	signer   *crypto.Signer
	eip712   *crypto.EIP712Signer
	salt     uint64
}

func newEnv(t *testing.T) *env {
	t.Helper()
	clock := &fakeClock{now: 1_000_000}
	store := newMemStore()
	registry := market.NewRegistry()
	if err := registry.Register(&market.Market{
		ID:       "us-election",
		Title:    "US election",
		Outcomes: []string{"Yes", "No"},
		Status:   market.Active,
	}); err != nil {
		t.Fatalf("register market: %v", err)
	}

	domain := crypto.DefaultDomain()
	validator := validate.New(domain, clock)
	eng := engine.New(zap.NewNop().Sugar(), clock, validator, registry, store)

	signer, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}

	return &env{
		t:        t,
		engine:   eng,
		store:    store,
		clock:    clock,
		registry: registry,
		signer:   signer,
		eip712:   crypto.NewEIP712Signer(domain),
		salt:     100,
	}
}

type orderSpec struct {
	signer  *crypto.Signer
	outcome uint32
	side    string
	price   int64
	amount  int64
	salt    uint64
	expiry  int64
	market  string
}

func (e *env) sign(spec orderSpec) validate.RawOrder {
	e.t.Helper()
	if spec.signer == nil {
		spec.signer = e.signer
	}
	if spec.market == "" {
		spec.market = "us-election"
	}
	if spec.salt == 0 {
		e.salt++
		spec.salt = e.salt
	}

	typed := &crypto.OrderEIP712{
		Maker:        spec.signer.Address(),
		OutcomeIndex: new(big.Int).SetUint64(uint64(spec.outcome)),
		IsBuy:        spec.side == "buy",
		Price:        big.NewInt(spec.price),
		Amount:       big.NewInt(spec.amount),
		Salt:         new(big.Int).SetUint64(spec.salt),
		Expiry:       big.NewInt(spec.expiry),
	}
	sig, err := e.eip712.SignOrder(spec.signer, typed)
	if err != nil {
		e.t.Fatalf("sign order: %v", err)
	}

	return validate.RawOrder{
		Maker:        spec.signer.Address().Hex(),
		Market:       spec.market,
		OutcomeIndex: spec.outcome,
		Side:         spec.side,
		Price:        spec.price,
		Amount:       spec.amount,
		Salt:         spec.salt,
		Expiry:       spec.expiry,
		Signature:    fmt.Sprintf("0x%x", sig),
	}
}

func (e *env) submit(spec orderSpec) *engine.SubmitResult {
	e.t.Helper()
	res, err := e.engine.Submit(e.sign(spec))
	if err != nil {
		e.t.Fatalf("submit: %v", err)
	}
	return res
}

func (e *env) cancelRequest(signer *crypto.Signer, salt uint64) engine.CancelRequest {
	e.t.Helper()
	if signer == nil {
		signer = e.signer
	}
	sig, err := crypto.SignCancel(signer, salt)
	if err != nil {
		e.t.Fatalf("sign cancel: %v", err)
	}
	return engine.CancelRequest{
		Maker:     signer.Address().Hex(),
		Salt:      salt,
		Signature: fmt.Sprintf("0x%x", sig),
	}
}

func TestSubmitRestsOrder(t *testing.T) {
	e := newEnv(t)

	res := e.submit(orderSpec{side: "buy", price: 600000, amount: 100})
	if res.Status != order.Open {
		t.Errorf("status = %s, want open", res.Status)
	}
	if res.Remaining != 100 {
		t.Errorf("remaining = %d, want 100", res.Remaining)
	}
	if len(res.Trades) != 0 {
		t.Errorf("expected no trades, got %d", len(res.Trades))
	}

	snap, err := e.engine.Depth("us-election", 0)
	if err != nil {
		t.Fatalf("depth: %v", err)
	}
	if snap.BestBid != 600000 {
		t.Errorf("best bid = %d, want 600000", snap.BestBid)
	}
}

func TestSubmitMatchesAtMakerPrice(t *testing.T) {
	e := newEnv(t)

	taker, _ := crypto.GenerateKey()
	maker := e.submit(orderSpec{side: "buy", price: 600000, amount: 100})
	res := e.submit(orderSpec{signer: taker, side: "sell", price: 550000, amount: 60})

	if res.Status != order.Filled {
		t.Errorf("taker status = %s, want filled", res.Status)
	}
	if len(res.Trades) != 1 {
		t.Fatalf("expected 1 trade, got %d", len(res.Trades))
	}
	tr := res.Trades[0]
	if tr.Price != 600000 {
		t.Errorf("trade price = %d, want maker price 600000", tr.Price)
	}
	if tr.Qty != 60 {
		t.Errorf("trade qty = %d, want 60", tr.Qty)
	}
	if tr.MakerOrderID != maker.OrderID {
		t.Errorf("trade maker = %s, want %s", tr.MakerOrderID, maker.OrderID)
	}
	if tr.State != settlement.Proposed {
		t.Errorf("trade state = %s, want proposed", tr.State)
	}

	// Maker's residual visible in both lookup paths.
	o, err := e.engine.OrderByID(maker.OrderID)
	if err != nil {
		t.Fatalf("order lookup: %v", err)
	}
	if o.Remaining != 40 || o.Status != order.PartiallyFilled {
		t.Errorf("maker remaining=%d status=%s, want 40 partially_filled", o.Remaining, o.Status)
	}

	// Durable rows agree.
	row, ok := e.store.orderRow(maker.OrderID)
	if !ok || row.Remaining != 40 {
		t.Errorf("stored maker row remaining=%d ok=%v, want 40", row.Remaining, ok)
	}
}

func TestDuplicateSaltRejected(t *testing.T) {
	e := newEnv(t)

	raw := e.sign(orderSpec{side: "buy", price: 500000, amount: 10, salt: 777})
	if _, err := e.engine.Submit(raw); err != nil {
		t.Fatalf("first submit: %v", err)
	}

	// Identical payload replays the same salt.
	if _, err := e.engine.Submit(raw); !errors.Is(err, core.ErrDuplicateSalt) {
		t.Errorf("replay err = %v, want ErrDuplicateSalt", err)
	}

	// A different order under the same salt is still a replay.
	other := e.sign(orderSpec{side: "sell", price: 700000, amount: 5, salt: 777})
	if _, err := e.engine.Submit(other); !errors.Is(err, core.ErrDuplicateSalt) {
		t.Errorf("same salt different order err = %v, want ErrDuplicateSalt", err)
	}

	// Cancelling does not free the salt.
	if _, err := e.engine.Cancel(e.cancelRequest(nil, 777)); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if _, err := e.engine.Submit(other); !errors.Is(err, core.ErrDuplicateSalt) {
		t.Errorf("salt after cancel err = %v, want ErrDuplicateSalt", err)
	}

	// Another maker may use the same salt value.
	second, _ := crypto.GenerateKey()
	if _, err := e.engine.Submit(e.sign(orderSpec{signer: second, side: "buy", price: 500000, amount: 10, salt: 777})); err != nil {
		t.Errorf("same salt different maker: %v", err)
	}
}

func TestCancelIdempotent(t *testing.T) {
	e := newEnv(t)

	e.submit(orderSpec{side: "buy", price: 500000, amount: 100, salt: 42})

	out, err := e.engine.Cancel(e.cancelRequest(nil, 42))
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if out.Status != order.Cancelled || out.AlreadyTerminal {
		t.Errorf("first cancel = %+v, want cancelled, not already-terminal", out)
	}

	// Second cancel observes the terminal status as a no-op.
	out, err = e.engine.Cancel(e.cancelRequest(nil, 42))
	if err != nil {
		t.Fatalf("second cancel: %v", err)
	}
	if !out.AlreadyTerminal || out.Status != order.Cancelled {
		t.Errorf("second cancel = %+v, want already-terminal cancelled", out)
	}

	// The withdrawn order no longer matches.
	taker, _ := crypto.GenerateKey()
	res := e.submit(orderSpec{signer: taker, side: "sell", price: 400000, amount: 50})
	if len(res.Trades) != 0 {
		t.Errorf("cancelled order matched: %d trades", len(res.Trades))
	}
}

func TestCancelAfterFillIsTerminalNoop(t *testing.T) {
	e := newEnv(t)

	e.submit(orderSpec{side: "buy", price: 600000, amount: 50, salt: 900})
	taker, _ := crypto.GenerateKey()
	e.submit(orderSpec{signer: taker, side: "sell", price: 600000, amount: 50})

	out, err := e.engine.Cancel(e.cancelRequest(nil, 900))
	if err != nil {
		t.Fatalf("cancel after fill: %v", err)
	}
	if !out.AlreadyTerminal || out.Status != order.Filled {
		t.Errorf("cancel after fill = %+v, want already-terminal filled", out)
	}
}

func TestCancelAuth(t *testing.T) {
	e := newEnv(t)
	e.submit(orderSpec{side: "buy", price: 500000, amount: 100, salt: 11})

	stranger, _ := crypto.GenerateKey()

	tests := []struct {
		name    string
		req     engine.CancelRequest
		wantErr error
	}{
		{
			name: "wrong signer",
			req: func() engine.CancelRequest {
				r := e.cancelRequest(stranger, 11)
				r.Maker = e.signer.Address().Hex()
				return r
			}(),
			wantErr: core.ErrInvalidSignature,
		},
		{
			name: "signature over different salt",
			req: func() engine.CancelRequest {
				r := e.cancelRequest(nil, 12)
				r.Salt = 11
				return r
			}(),
			wantErr: core.ErrInvalidSignature,
		},
		{
			name:    "unknown salt",
			req:     e.cancelRequest(nil, 9999),
			wantErr: core.ErrNotFound,
		},
		{
			name: "bad address",
			req: func() engine.CancelRequest {
				r := e.cancelRequest(nil, 11)
				r.Maker = "not-an-address"
				return r
			}(),
			wantErr: core.ErrMalformedOrder,
		},
		{
			name: "truncated signature",
			req: engine.CancelRequest{
				Maker:     e.signer.Address().Hex(),
				Salt:      11,
				Signature: "0xdeadbeef",
			},
			wantErr: core.ErrMalformedOrder,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := e.engine.Cancel(tt.req)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("err = %v, want %v", err, tt.wantErr)
			}
		})
	}

	// The order survived every rejected cancel.
	o, err := e.engine.OrderBySalt(e.signer.Address(), 11)
	if err != nil || o.Status != order.Open {
		t.Errorf("order after rejected cancels: status=%s err=%v", o.Status, err)
	}
}

func TestMarketClosedAndUnknownBook(t *testing.T) {
	e := newEnv(t)

	if _, err := e.engine.Submit(e.sign(orderSpec{market: "no-such-market", side: "buy", price: 500000, amount: 10})); !errors.Is(err, core.ErrBookNotFound) {
		t.Errorf("unknown market err = %v, want ErrBookNotFound", err)
	}
	if _, err := e.engine.Submit(e.sign(orderSpec{outcome: 7, side: "buy", price: 500000, amount: 10})); !errors.Is(err, core.ErrBookNotFound) {
		t.Errorf("unknown outcome err = %v, want ErrBookNotFound", err)
	}

	// Warm the book first: the paused rejection must come from the status
	// check inside the book lock, not from routing.
	e.submit(orderSpec{side: "buy", price: 400000, amount: 10})

	if err := e.registry.SetStatus("us-election", market.Paused); err != nil {
		t.Fatalf("pause market: %v", err)
	}
	raw := e.sign(orderSpec{side: "buy", price: 500000, amount: 10})
	if _, err := e.engine.Submit(raw); !errors.Is(err, core.ErrMarketClosed) {
		t.Errorf("paused market err = %v, want ErrMarketClosed", err)
	}

	// The rejection happened before the salt claim: the same payload is
	// accepted once the market reopens.
	if err := e.registry.SetStatus("us-election", market.Active); err != nil {
		t.Fatalf("reopen market: %v", err)
	}
	if _, err := e.engine.Submit(raw); err != nil {
		t.Errorf("resubmit after reopen: %v", err)
	}
}

func TestExpiryInPlaceBetweenValidationAndMatch(t *testing.T) {
	e := newEnv(t)

	// Each Now() call advances 10 seconds: the expiry holds at validation
	// and has elapsed by the time matching reads the clock.
	e.clock.step = 10
	raw := e.sign(orderSpec{side: "buy", price: 500000, amount: 100, expiry: 1_000_005})

	res, err := e.engine.Submit(raw)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if res.Status != order.Expired {
		t.Errorf("status = %s, want expired", res.Status)
	}
	if len(res.Trades) != 0 {
		t.Errorf("expired order produced %d trades", len(res.Trades))
	}

	e.clock.step = 0
	snap, err := e.engine.Depth("us-election", 0)
	if err != nil {
		t.Fatalf("depth: %v", err)
	}
	if len(snap.Bids) != 0 {
		t.Errorf("expired order visible in depth: %v", snap.Bids)
	}

	// The salt is burned even though the order never rested. Rewind the
	// clock so the replay passes the expiry check and reaches the salt.
	e.clock.Set(1_000_000)
	if _, err := e.engine.Submit(raw); !errors.Is(err, core.ErrDuplicateSalt) {
		t.Errorf("replay of expired order err = %v, want ErrDuplicateSalt", err)
	}
}

func TestStorageFailureLeavesBookUntouched(t *testing.T) {
	e := newEnv(t)

	e.submit(orderSpec{side: "buy", price: 600000, amount: 100})

	e.store.setFail(true)
	taker, _ := crypto.GenerateKey()
	raw := e.sign(orderSpec{signer: taker, side: "sell", price: 600000, amount: 60, salt: 5})
	if _, err := e.engine.Submit(raw); !errors.Is(err, core.ErrStorageUnavailable) {
		t.Fatalf("err = %v, want ErrStorageUnavailable", err)
	}

	// Maker untouched, nothing matched.
	snap, err := e.engine.Depth("us-election", 0)
	if err != nil {
		t.Fatalf("depth: %v", err)
	}
	if len(snap.Bids) != 1 || snap.Bids[0].Qty != 100 {
		t.Errorf("maker mutated by failed submit: %v", snap.Bids)
	}

	// The salt was rolled back; the same payload succeeds once storage is up.
	e.store.setFail(false)
	res, err := e.engine.Submit(raw)
	if err != nil {
		t.Fatalf("resubmit after recovery: %v", err)
	}
	if res.Status != order.Filled || len(res.Trades) != 1 {
		t.Errorf("resubmit = %+v, want filled with 1 trade", res)
	}
}

func TestCancelStorageFailure(t *testing.T) {
	e := newEnv(t)
	e.submit(orderSpec{side: "buy", price: 500000, amount: 100, salt: 31})

	e.store.setFail(true)
	if _, err := e.engine.Cancel(e.cancelRequest(nil, 31)); !errors.Is(err, core.ErrStorageUnavailable) {
		t.Fatalf("err = %v, want ErrStorageUnavailable", err)
	}

	// The order is still live and cancellable.
	e.store.setFail(false)
	o, err := e.engine.OrderBySalt(e.signer.Address(), 31)
	if err != nil || o.Status != order.Open {
		t.Fatalf("order after failed cancel: status=%s err=%v", o.Status, err)
	}
	if _, err := e.engine.Cancel(e.cancelRequest(nil, 31)); err != nil {
		t.Errorf("cancel after recovery: %v", err)
	}
}

func TestConfirmationIdempotentPerToken(t *testing.T) {
	e := newEnv(t)

	res := e.submit(orderSpec{side: "buy", price: 600000, amount: 100, salt: 60})

	ev := settlement.ConfirmationEvent{
		Token:       settlement.CorrelationToken(common.HexToHash("0xabc"), 1),
		Maker:       e.signer.Address(),
		Salt:        60,
		FilledTotal: 30,
	}
	if err := e.engine.ApplyConfirmation(ev); err != nil {
		t.Fatalf("apply: %v", err)
	}

	o, err := e.engine.OrderByID(res.OrderID)
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if o.Remaining != 70 || o.Status != order.PartiallyFilled {
		t.Errorf("after apply: remaining=%d status=%s, want 70 partially_filled", o.Remaining, o.Status)
	}
	firstSeq := o.Seq

	// Redelivery of the same token changes nothing, even with different
	// payload contents.
	ev.FilledTotal = 90
	if err := e.engine.ApplyConfirmation(ev); err != nil {
		t.Fatalf("redeliver: %v", err)
	}
	o, _ = e.engine.OrderByID(res.OrderID)
	if o.Remaining != 70 || o.Seq != firstSeq {
		t.Errorf("redelivery mutated order: remaining=%d seq=%d", o.Remaining, o.Seq)
	}
}

func TestConfirmationConcurrentDeliveriesApplyOnce(t *testing.T) {
	e := newEnv(t)

	res := e.submit(orderSpec{side: "buy", price: 600000, amount: 100, salt: 61})

	// Two delivery sources racing the same token: the stale-order
	// correction and the durable token row must land exactly once.
	ev := settlement.ConfirmationEvent{
		Token:       settlement.CorrelationToken(common.HexToHash("0xbcd"), 3),
		Maker:       e.signer.Address(),
		Salt:        61,
		FilledTotal: 40,
	}

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := e.engine.ApplyConfirmation(ev); err != nil {
				t.Errorf("apply: %v", err)
			}
		}()
	}
	wg.Wait()

	if n := e.store.appliedCount(ev.Token); n != 1 {
		t.Errorf("token committed %d times, want 1", n)
	}

	o, err := e.engine.OrderByID(res.OrderID)
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if o.Remaining != 60 || o.Status != order.PartiallyFilled {
		t.Errorf("after races: remaining=%d status=%s, want 60 partially_filled", o.Remaining, o.Status)
	}

	snap, err := e.engine.Depth("us-election", 0)
	if err != nil {
		t.Fatalf("depth: %v", err)
	}
	if len(snap.Bids) != 1 || snap.Bids[0].Qty != 60 {
		t.Errorf("depth after races = %+v, want one 60-qty level", snap.Bids)
	}
}

func TestConfirmationRelevelsStaleOrderToTail(t *testing.T) {
	e := newEnv(t)

	makerB, _ := crypto.GenerateKey()
	first := e.submit(orderSpec{side: "buy", price: 600000, amount: 100, salt: 70})
	second := e.submit(orderSpec{signer: makerB, side: "buy", price: 600000, amount: 100})

	// Chain reports the first order 40 filled; its book listing of 100 is
	// stale, so it re-enters its level at the tail.
	ev := settlement.ConfirmationEvent{
		Token:       settlement.CorrelationToken(common.HexToHash("0xdef"), 0),
		Maker:       e.signer.Address(),
		Salt:        70,
		FilledTotal: 40,
	}
	if err := e.engine.ApplyConfirmation(ev); err != nil {
		t.Fatalf("apply: %v", err)
	}

	taker, _ := crypto.GenerateKey()
	res := e.submit(orderSpec{signer: taker, side: "sell", price: 600000, amount: 100})
	if len(res.Trades) != 1 {
		t.Fatalf("expected 1 trade, got %d", len(res.Trades))
	}
	if res.Trades[0].MakerOrderID != second.OrderID {
		t.Errorf("matched %s first, want the unreconciled maker %s (relevelled order lost priority)",
			res.Trades[0].MakerOrderID, second.OrderID)
	}

	o, _ := e.engine.OrderByID(first.OrderID)
	if o.Remaining != 60 {
		t.Errorf("relevelled remaining = %d, want 60", o.Remaining)
	}
}

func TestConfirmationConsistentKeepsPriority(t *testing.T) {
	e := newEnv(t)

	makerB, _ := crypto.GenerateKey()
	first := e.submit(orderSpec{side: "buy", price: 600000, amount: 100, salt: 71})
	e.submit(orderSpec{signer: makerB, side: "buy", price: 600000, amount: 100})

	// Chain agrees with the book: nothing filled. No re-levelling.
	ev := settlement.ConfirmationEvent{
		Token:       settlement.CorrelationToken(common.HexToHash("0xfee"), 0),
		Maker:       e.signer.Address(),
		Salt:        71,
		FilledTotal: 0,
	}
	if err := e.engine.ApplyConfirmation(ev); err != nil {
		t.Fatalf("apply: %v", err)
	}

	taker, _ := crypto.GenerateKey()
	res := e.submit(orderSpec{signer: taker, side: "sell", price: 600000, amount: 50})
	if len(res.Trades) != 1 || res.Trades[0].MakerOrderID != first.OrderID {
		t.Errorf("consistent confirmation cost the first maker its priority: %+v", res.Trades)
	}
}

func TestConfirmationDoesNotResurrectCancelled(t *testing.T) {
	e := newEnv(t)

	res := e.submit(orderSpec{side: "buy", price: 600000, amount: 100, salt: 80})
	if _, err := e.engine.Cancel(e.cancelRequest(nil, 80)); err != nil {
		t.Fatalf("cancel: %v", err)
	}

	// A revert arrives afterwards: remaining corrects, the withdrawal holds.
	ev := settlement.ConfirmationEvent{
		Token:       settlement.CorrelationToken(common.HexToHash("0x111"), 0),
		Maker:       e.signer.Address(),
		Salt:        80,
		FilledTotal: 0,
		Reverted:    true,
	}
	if err := e.engine.ApplyConfirmation(ev); err != nil {
		t.Fatalf("apply: %v", err)
	}

	o, _ := e.engine.OrderByID(res.OrderID)
	if o.Status != order.Cancelled {
		t.Errorf("status = %s, cancelled is absorbing", o.Status)
	}

	snap, _ := e.engine.Depth("us-election", 0)
	if len(snap.Bids) != 0 {
		t.Errorf("cancelled order back on the book: %v", snap.Bids)
	}
}

func TestConfirmationUnknownOrderIsRecordedConflict(t *testing.T) {
	e := newEnv(t)

	stranger, _ := crypto.GenerateKey()
	ev := settlement.ConfirmationEvent{
		Token:       settlement.CorrelationToken(common.HexToHash("0x222"), 3),
		Maker:       stranger.Address(),
		Salt:        1,
		FilledTotal: 10,
	}
	if err := e.engine.ApplyConfirmation(ev); err != nil {
		t.Fatalf("apply: %v", err)
	}
	// Token consumed: redelivery is quiet too.
	if err := e.engine.ApplyConfirmation(ev); err != nil {
		t.Fatalf("redeliver: %v", err)
	}
}

func TestConfirmationMarksTrade(t *testing.T) {
	e := newEnv(t)

	e.submit(orderSpec{side: "buy", price: 600000, amount: 50, salt: 90})
	taker, _ := crypto.GenerateKey()
	res := e.submit(orderSpec{signer: taker, side: "sell", price: 600000, amount: 50})
	tradeID := res.Trades[0].ID

	ev := settlement.ConfirmationEvent{
		Token:       settlement.CorrelationToken(common.HexToHash("0x333"), 0),
		Maker:       e.signer.Address(),
		Salt:        90,
		FilledTotal: 50,
		TradeID:     tradeID,
	}
	if err := e.engine.ApplyConfirmation(ev); err != nil {
		t.Fatalf("apply: %v", err)
	}

	tr, ok := e.engine.Trade(tradeID)
	if !ok {
		t.Fatal("trade lookup failed")
	}
	if tr.State != settlement.Confirmed {
		t.Errorf("trade state = %s, want confirmed", tr.State)
	}
	if tr.CorrelationToken != ev.Token {
		t.Errorf("trade token = %q, want %q", tr.CorrelationToken, ev.Token)
	}
}

func TestRehydrateRestoresBooksAndSalts(t *testing.T) {
	e := newEnv(t)

	makerB, _ := crypto.GenerateKey()
	first := e.submit(orderSpec{side: "buy", price: 600000, amount: 100, salt: 50})
	e.submit(orderSpec{signer: makerB, side: "buy", price: 600000, amount: 100, salt: 51})
	e.submit(orderSpec{side: "sell", price: 700000, amount: 30, salt: 52})

	// Fresh engine over the same store.
	validator := validate.New(crypto.DefaultDomain(), e.clock)
	eng2 := engine.New(zap.NewNop().Sugar(), e.clock, validator, e.registry, e.store)
	if err := eng2.Rehydrate(); err != nil {
		t.Fatalf("rehydrate: %v", err)
	}

	snap, err := eng2.Depth("us-election", 0)
	if err != nil {
		t.Fatalf("depth: %v", err)
	}
	if snap.BestBid != 600000 || snap.BestAsk != 700000 {
		t.Errorf("rehydrated book: bid=%d ask=%d, want 600000/700000", snap.BestBid, snap.BestAsk)
	}
	if snap.Bids[0].Qty != 200 {
		t.Errorf("rehydrated bid qty = %d, want 200", snap.Bids[0].Qty)
	}

	// Time priority survives the restart.
	e2 := &env{t: t, engine: eng2, store: e.store, clock: e.clock, registry: e.registry,
		signer: e.signer, eip712: e.eip712, salt: 500}
	taker, _ := crypto.GenerateKey()
	res := e2.submit(orderSpec{signer: taker, side: "sell", price: 600000, amount: 10})
	if len(res.Trades) != 1 || res.Trades[0].MakerOrderID != first.OrderID {
		t.Errorf("priority lost across restart: %+v", res.Trades)
	}

	// Burned salts still reject replays.
	if _, err := eng2.Submit(e2.sign(orderSpec{side: "buy", price: 500000, amount: 10, salt: 50})); !errors.Is(err, core.ErrDuplicateSalt) {
		t.Errorf("salt survived restart check: err = %v, want ErrDuplicateSalt", err)
	}
}

func TestConcurrentSubmitsDifferentBooks(t *testing.T) {
	e := newEnv(t)

	var wg sync.WaitGroup
	errs := make(chan error, 40)
	for i := 0; i < 20; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			s, _ := crypto.GenerateKey()
			raw := e.sign(orderSpec{signer: s, outcome: 0, side: "buy", price: 500000, amount: 10, salt: 1})
			if _, err := e.engine.Submit(raw); err != nil {
				errs <- err
			}
		}()
		go func() {
			defer wg.Done()
			s, _ := crypto.GenerateKey()
			raw := e.sign(orderSpec{signer: s, outcome: 1, side: "sell", price: 500000, amount: 10, salt: 1})
			if _, err := e.engine.Submit(raw); err != nil {
				errs <- err
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Errorf("concurrent submit: %v", err)
	}

	yes, _ := e.engine.Depth("us-election", 0)
	no, _ := e.engine.Depth("us-election", 1)
	if yes.Bids[0].Qty != 200 || no.Asks[0].Qty != 200 {
		t.Errorf("depth after concurrent submits: yes=%v no=%v", yes.Bids, no.Asks)
	}
}
