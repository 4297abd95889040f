package gateway

import (
	"time"

	"github.com/relaygate/gatewayd/pkg/eventbus"
)

// LifecycleEvent is published whenever a Dispatcher accepts or retires a
// Context, for admin's /debug/events counter. Kept deliberately small since
// PublishAsync is called on every connection.
type LifecycleEvent struct {
	Connector string
	Kind      string // "connect" | "close"
	At        time.Time
}

// Events is the shared lifecycle bus every Dispatcher publishes to, created
// once per App and attached with Dispatcher.WithEvents. Nil is valid and disables
// publishing entirely (e.g. Subscriber's private per-attach Dispatcher).
type Events = eventbus.EventBus[LifecycleEvent]

func (d *Dispatcher) publish(kind string) {
	if d.events == nil {
		return
	}
	d.events.PublishAsync(LifecycleEvent{Connector: d.connector.String(), Kind: kind, At: time.Now()})
}
