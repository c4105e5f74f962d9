package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"go.opentelemetry.io/otel"
)

// natsHeaderCarrier adapts nats.Msg headers for the OTel propagator.
type natsHeaderCarrier nats.Msg

func (c *natsHeaderCarrier) Get(key string) string {
	if c.Header == nil {
		return ""
	}
	return c.Header.Get(key)
}

func (c *natsHeaderCarrier) Set(key, val string) {
	if c.Header == nil {
		c.Header = make(nats.Header)
	}
	c.Header.Set(key, val)
}

func (c *natsHeaderCarrier) Keys() []string {
	if c.Header == nil {
		return nil
	}
	keys := make([]string, 0, len(c.Header))
	for k := range c.Header {
		keys = append(keys, k)
	}
	return keys
}

// NATSPublisher publishes notices as JSON on one subject. Trace context from
// the caller travels in the message headers.
type NATSPublisher struct {
	nc      *nats.Conn
	subject string
	owned   bool
}

// NewNATSPublisher wraps an existing connection. Close leaves it open.
func NewNATSPublisher(nc *nats.Conn, subject string) *NATSPublisher {
	return &NATSPublisher{nc: nc, subject: subject}
}

// DialNATS connects to url and returns a publisher that owns the connection.
func DialNATS(url, subject string) (*NATSPublisher, error) {
	nc, err := nats.Connect(url,
		nats.Name("lampdesk"),
		nats.Timeout(5*time.Second),
		nats.MaxReconnects(-1),
	)
	if err != nil {
		return nil, fmt.Errorf("nats connect %s: %w", url, err)
	}
	return &NATSPublisher{nc: nc, subject: subject, owned: true}, nil
}

func (p *NATSPublisher) Subject() string { return p.subject }

func (p *NATSPublisher) Notify(ctx context.Context, n Notice) error {
	data, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("marshal notice: %w", err)
	}
	msg := &nats.Msg{
		Subject: p.subject,
		Data:    data,
	}
	otel.GetTextMapPropagator().Inject(ctx, (*natsHeaderCarrier)(msg))
	if err := p.nc.PublishMsg(msg); err != nil {
		return fmt.Errorf("nats publish %s: %w", p.subject, err)
	}
	return nil
}

// Close drains the connection if the publisher dialed it.
func (p *NATSPublisher) Close() error {
	if !p.owned || p.nc == nil {
		return nil
	}
	return p.nc.Drain()
}
