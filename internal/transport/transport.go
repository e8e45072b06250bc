// Package transport defines the message-transport collaborator contract
// (spec.md §6): an object-registry keyed by TaskIdentity that delivers
// external progress messages into a TaskProxy's Incoming method. The core
// treats the transport as an external collaborator; this package only
// fixes the interface boundary. internal/transport/natstransport provides
// a concrete NATS-backed implementation.
package transport

import (
	"context"

	"github.com/taskcycle/metasched/internal/identity"
	"github.com/taskcycle/metasched/internal/message"
)

// Delivery is one inbound message addressed to a TaskIdentity.
type Delivery struct {
	Identity identity.Identity
	Priority message.Priority
	Message  string
}

// Registry is the transport collaborator: the core registers a proxy on
// creation and unregisters it on retirement, and receives deliveries
// through the Deliveries channel.
type Registry interface {
	// Register makes id reachable for inbound delivery.
	Register(id identity.Identity) error
	// Unregister removes id; the core receives no further deliveries for it.
	Unregister(id identity.Identity) error
	// Deliveries returns the channel the scheduler drains one tick at a
	// time. Closed when the transport shuts down.
	Deliveries() <-chan Delivery
	// Close shuts the transport down and closes the Deliveries channel.
	Close(ctx context.Context) error
}
