// Package chain is the boundary to the blockchain collaborators. Proposed
// trades go out on a gossip topic for the settlement submitter; confirmed
// fills come back on another and feed the settlement bridge. The core never
// talks to a node directly and never blocks a book lock on the network.
package chain

import (
	"context"
	"fmt"

	libp2p "github.com/libp2p/go-libp2p"
	pubsub "github.com/libp2p/go-libp2p-pubsub"
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/peer"
	ma "github.com/multiformats/go-multiaddr"
	"go.uber.org/zap"

	"github.com/predictex/predictex/pkg/core/settlement"
)

const (
	topicProposals     = "px-trade-proposals-v1"
	topicConfirmations = "px-settlement-confirmations-v1"
)

type Config struct {
	ListenAddr string   // multiaddr, empty = default ephemeral
	Bootstrap  []string // multiaddrs of peers to dial on start
	Logger     *zap.SugaredLogger
}

type Net struct {
	h   host.Host
	ps  *pubsub.PubSub
	log *zap.SugaredLogger

	tProposals *pubsub.Topic
	tConfirms  *pubsub.Topic
	subConfirm *pubsub.Subscription
}

func NewNet(ctx context.Context, cfg Config) (*Net, error) {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop().Sugar()
	}

	var opts []libp2p.Option
	if cfg.ListenAddr != "" {
		maddr, err := ma.NewMultiaddr(cfg.ListenAddr)
		if err != nil {
			return nil, fmt.Errorf("bad listen multiaddr %q: %w", cfg.ListenAddr, err)
		}
		opts = append(opts, libp2p.ListenAddrs(maddr))
	}
	h, err := libp2p.New(opts...)
	if err != nil {
		return nil, err
	}
	ps, err := pubsub.NewGossipSub(ctx, h)
	if err != nil {
		return nil, err
	}

	n := &Net{h: h, ps: ps, log: cfg.Logger}

	for _, bs := range cfg.Bootstrap {
		if err := connectMultiaddr(ctx, h, bs); err != nil {
			cfg.Logger.Warnw("bootstrap_connect_failed", "addr", bs, "err", err)
		}
	}

	if n.tProposals, err = ps.Join(topicProposals); err != nil {
		return nil, err
	}
	if n.tConfirms, err = ps.Join(topicConfirmations); err != nil {
		return nil, err
	}
	if n.subConfirm, err = n.tConfirms.Subscribe(); err != nil {
		return nil, err
	}

	cfg.Logger.Infow("chain_net_ready", "peer", h.ID().String(), "listen", cfg.ListenAddr)
	return n, nil
}

func connectMultiaddr(ctx context.Context, h host.Host, addr string) error {
	m, err := ma.NewMultiaddr(addr)
	if err != nil {
		return err
	}
	info, err := peer.AddrInfoFromP2pAddr(m)
	if err != nil {
		return err
	}
	return h.Connect(ctx, *info)
}

// ProposeTrades publishes a batch of proposed trades for on-chain
// submission. Called outside any book lock.
func (n *Net) ProposeTrades(ctx context.Context, trades []settlement.Trade) error {
	if len(trades) == 0 {
		return nil
	}
	tb, err := gobEncode(trades)
	if err != nil {
		return err
	}
	data, err := gobEncode(ProposalWire{Trades: tb})
	if err != nil {
		return err
	}
	return n.tProposals.Publish(ctx, data)
}

// Run pumps confirmation events into the bridge's sink until the context is
// cancelled. Malformed messages are dropped; redelivered events are handled
// by the bridge's idempotency key.
func (n *Net) Run(ctx context.Context, sink chan<- settlement.ConfirmationEvent) {
	for {
		msg, err := n.subConfirm.Next(ctx)
		if err != nil {
			return
		}
		var w ConfirmationWire
		if err := gobDecode(msg.Data, &w); err != nil {
			n.log.Warnw("confirmation_decode_failed", "err", err)
			continue
		}
		var ev settlement.ConfirmationEvent
		if err := gobDecode(w.Event, &ev); err != nil {
			n.log.Warnw("confirmation_decode_failed", "err", err)
			continue
		}

		select {
		case sink <- ev:
		case <-ctx.Done():
			return
		}
	}
}

func (n *Net) Close() error { return n.h.Close() }
