// Package natstransport implements transport.Registry over NATS core
// pub/sub, one subject per TaskIdentity plus a shared dead-letter subject,
// the way the teacher's natsctx package wraps nats.go with trace-context
// propagation on publish/subscribe.
package natstransport

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	nats "github.com/nats-io/nats.go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"

	"github.com/taskcycle/metasched/internal/identity"
	"github.com/taskcycle/metasched/internal/message"
	"github.com/taskcycle/metasched/internal/transport"
)

var propagator = propagation.TraceContext{}

const deadLetterSubject = "metasched.deadletter"

// wireMessage is the JSON payload carried on the wire.
type wireMessage struct {
	Priority message.Priority `json:"priority"`
	Message  string           `json:"message"`
}

// Registry is a NATS-backed transport.Registry. One subscription per
// registered TaskIdentity, subject "<prefix>.<name>.<tag>".
type Registry struct {
	nc     *nats.Conn
	prefix string

	mu   sync.Mutex
	subs map[identity.Identity]*nats.Subscription

	deliveries chan transport.Delivery
	dlSub      *nats.Subscription
}

// New connects to url and starts the dead-letter subscription.
func New(url, subjectPrefix string) (*Registry, error) {
	nc, err := nats.Connect(url)
	if err != nil {
		return nil, fmt.Errorf("natstransport: connect: %w", err)
	}
	r := &Registry{
		nc:         nc,
		prefix:     subjectPrefix,
		subs:       make(map[identity.Identity]*nats.Subscription),
		deliveries: make(chan transport.Delivery, 256),
	}
	sub, err := nc.Subscribe(deadLetterSubject, func(m *nats.Msg) {
		slog.Warn("message delivered to unregistered identity", "subject", m.Subject)
	})
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("natstransport: dead-letter subscribe: %w", err)
	}
	r.dlSub = sub
	return r, nil
}

func (r *Registry) subject(id identity.Identity) string {
	return fmt.Sprintf("%s.%s.%s", r.prefix, sanitize(id.Name), sanitize(id.Tag.String()))
}

func sanitize(s string) string {
	return strings.NewReplacer(".", "_", " ", "_").Replace(s)
}

// Register subscribes to id's subject and forwards deliveries into the
// shared Deliveries channel, extracting any trace context the way the
// teacher's Subscribe wrapper does.
func (r *Registry) Register(id identity.Identity) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.subs[id]; ok {
		return nil
	}
	sub, err := r.nc.Subscribe(r.subject(id), func(m *nats.Msg) {
		carrier := propagation.HeaderCarrier(m.Header)
		ctx := propagator.Extract(context.Background(), carrier)
		tr := otel.Tracer("metasched-transport")
		_, span := tr.Start(ctx, "nats.consume", trace.WithSpanKind(trace.SpanKindConsumer))
		defer span.End()

		var wm wireMessage
		if err := json.Unmarshal(m.Data, &wm); err != nil {
			slog.Warn("malformed transport message", "identity", id.String(), "error", err)
			return
		}
		r.deliveries <- transport.Delivery{Identity: id, Priority: wm.Priority, Message: wm.Message}
	})
	if err != nil {
		return fmt.Errorf("natstransport: subscribe %s: %w", id.String(), err)
	}
	r.subs[id] = sub
	return nil
}

// Unregister unsubscribes id; further publishes to its subject reach no
// subscriber and are not redirected to the dead-letter subject.
func (r *Registry) Unregister(id identity.Identity) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	sub, ok := r.subs[id]
	if !ok {
		return nil
	}
	delete(r.subs, id)
	return sub.Unsubscribe()
}

// Deliveries returns the channel the scheduler drains.
func (r *Registry) Deliveries() <-chan transport.Delivery { return r.deliveries }

// Close drains all subscriptions and closes the connection.
func (r *Registry) Close(ctx context.Context) error {
	r.mu.Lock()
	for id, sub := range r.subs {
		_ = sub.Unsubscribe()
		delete(r.subs, id)
	}
	r.mu.Unlock()
	if r.dlSub != nil {
		_ = r.dlSub.Unsubscribe()
	}
	close(r.deliveries)
	r.nc.Close()
	return nil
}

// Publish sends a message to id's subject, propagating the trace context
// from ctx (teacher's Publish pattern). It publishes to id's subject
// whether or not id is registered; nothing in this package publishes to
// the dead-letter subject.
func (r *Registry) Publish(ctx context.Context, id identity.Identity, priority message.Priority, msg string) error {
	data, err := json.Marshal(wireMessage{Priority: priority, Message: msg})
	if err != nil {
		return err
	}
	hdr := nats.Header{}
	propagator.Inject(ctx, propagation.HeaderCarrier(hdr))
	return r.nc.PublishMsg(&nats.Msg{Subject: r.subject(id), Data: data, Header: hdr})
}
