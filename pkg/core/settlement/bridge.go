package settlement

import (
	"context"

	"go.uber.org/zap"
)

// Applier reconciles one confirmation event against book state. Implemented
// by the engine, which applies each event under the relevant book's lock.
type Applier interface {
	ApplyConfirmation(ev ConfirmationEvent) error
}

// Bridge drains on-chain confirmation events from a bounded channel and
// feeds them to the applier one at a time. Delivery order within the channel
// is preserved; duplicate tokens are absorbed by the applier's idempotency
// check, so at-least-once upstream delivery is fine.
type Bridge struct {
	log     *zap.SugaredLogger
	applier Applier
	events  chan ConfirmationEvent
}

func NewBridge(applier Applier, log *zap.SugaredLogger, buffer int) *Bridge {
	if buffer <= 0 {
		buffer = 256
	}
	return &Bridge{
		log:     log,
		applier: applier,
		events:  make(chan ConfirmationEvent, buffer),
	}
}

// Events is the sink the chain listener pushes into.
func (b *Bridge) Events() chan<- ConfirmationEvent { return b.events }

// Run processes events until the context is cancelled. Apply failures are
// logged and skipped; the chain will redeliver and the token check keeps
// reapplication safe.
func (b *Bridge) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-b.events:
			if err := ev.Validate(); err != nil {
				b.log.Warnw("settlement_event_rejected", "err", err)
				continue
			}
			if err := b.applier.ApplyConfirmation(ev); err != nil {
				b.log.Errorw("settlement_apply_failed",
					"token", ev.Token,
					"maker", ev.Maker.Hex(),
					"salt", ev.Salt,
					"err", err)
			}
		}
	}
}
