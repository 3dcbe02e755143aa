package realtime

import (
	"context"
	"log/slog"

	"liveconnect/internal/bus"
)

// Dispatcher is the single bus subscription of a process. It re-broadcasts every message into
// the local registry, in the order the bus delivered them.
type Dispatcher struct {
	bus bus.Bus
	reg *Registry
	log *slog.Logger
}

func NewDispatcher(b bus.Bus, reg *Registry, log *slog.Logger) *Dispatcher {
	if log == nil {
		log = slog.Default()
	}
	return &Dispatcher{bus: b, reg: reg, log: log}
}

// Run blocks until ctx is done or the bus closes the subscription.
func (d *Dispatcher) Run(ctx context.Context) error {
	msgs, err := d.bus.Subscribe(ctx)
	if err != nil {
		return err
	}
	d.log.Info("dispatcher subscribed")
	for msg := range msgs {
		n := d.reg.Broadcast(msg.Topic, msg.Data, msg.Sender)
		d.log.Debug("dispatched", "topic", msg.Topic, "delivered", n)
	}
	if err := ctx.Err(); err != nil {
		return nil
	}
	return bus.ErrClosed
}
