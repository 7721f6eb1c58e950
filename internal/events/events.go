// Package events publishes archive lifecycle events to NATS for
// downstream consumers. Publishing is optional and best-effort: a nil
// publisher is a no-op, and publish failures never interrupt update
// processing.
package events

import (
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/nats-io/nats.go"
)

// DefaultSubjectPrefix is prepended to every event kind.
const DefaultSubjectPrefix = "archive.message"

// Event kinds published by the dispatcher.
const (
	KindNew     = "new"
	KindEdited  = "edited"
	KindDeleted = "deleted"
	KindSpam    = "spam"
)

// Event is the wire payload published per archive event.
type Event struct {
	Kind       string  `json:"kind"`
	BusinessID string  `json:"business_id,omitempty"`
	ChatID     int64   `json:"chat_id,omitempty"`
	MessageIDs []int64 `json:"message_ids,omitempty"`
	Username   string  `json:"username,omitempty"`
	Date       int64   `json:"date,omitempty"`
}

// Publisher sends events to a NATS subject tree. The zero/nil value is
// a disabled publisher.
type Publisher struct {
	nc     *nats.Conn
	prefix string
}

// Connect dials the NATS server and returns a publisher. An empty URL
// returns a nil (disabled) publisher without error.
func Connect(natsURL string) (*Publisher, error) {
	if natsURL == "" {
		slog.Debug("NATS publishing disabled, no URL configured")
		return nil, nil
	}
	nc, err := nats.Connect(natsURL, nats.Name("bizarchive"))
	if err != nil {
		return nil, fmt.Errorf("connect to NATS at %s: %w", natsURL, err)
	}
	slog.Info("Connected to NATS", "url", natsURL)
	return &Publisher{nc: nc, prefix: DefaultSubjectPrefix}, nil
}

// Publish emits one event on "<prefix>.<kind>". Failures are logged
// and swallowed.
func (p *Publisher) Publish(evt Event) {
	if p == nil || p.nc == nil {
		return
	}
	data, err := json.Marshal(evt)
	if err != nil {
		slog.Error("Failed to encode archive event", "error", err, "kind", evt.Kind)
		return
	}
	subject := p.prefix + "." + evt.Kind
	if err := p.nc.Publish(subject, data); err != nil {
		slog.Error("Failed to publish archive event", "error", err, "subject", subject)
	}
}

// Close flushes and closes the NATS connection.
func (p *Publisher) Close() {
	if p == nil || p.nc == nil {
		return
	}
	if err := p.nc.Flush(); err != nil {
		slog.Warn("NATS flush on close failed", "error", err)
	}
	p.nc.Close()
}
