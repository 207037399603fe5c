package cache

import (
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/nats-io/nats.go"
)

// DefaultSubject is the NATS subject invalidations are published on.
const DefaultSubject = "workflow.cache.invalidate"

// Publisher is the part of *nats.Conn used for invalidation broadcasts.
type Publisher interface {
	Publish(subject string, data []byte) error
}

// InvalidationMessage is the payload published for each invalidation.
type InvalidationMessage struct {
	Keys   []string `json:"keys"`
	Source string   `json:"source,omitempty"`
}

// NATSInvalidator broadcasts invalidated keys so peer processes can drop
// their own entries.
type NATSInvalidator struct {
	pub     Publisher
	subject string
	source  string
	logger  *slog.Logger
}

var _ Invalidator = (*NATSInvalidator)(nil)

// NewNATSInvalidator creates an invalidator publishing on subject.
// source identifies this instance in the payload.
func NewNATSInvalidator(pub Publisher, subject, source string, logger *slog.Logger) *NATSInvalidator {
	if subject == "" {
		subject = DefaultSubject
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &NATSInvalidator{
		pub:     pub,
		subject: subject,
		source:  source,
		logger:  logger,
	}
}

// Invalidate publishes keys.
func (n *NATSInvalidator) Invalidate(keys []string) error {
	if len(keys) == 0 {
		return nil
	}

	data, err := json.Marshal(InvalidationMessage{Keys: keys, Source: n.source})
	if err != nil {
		return fmt.Errorf("marshal invalidation: %w", err)
	}
	if err := n.pub.Publish(n.subject, data); err != nil {
		return fmt.Errorf("publish invalidation: %w", err)
	}

	n.logger.Debug("invalidation published", "subject", n.subject, "keys", keys)
	return nil
}

// SubscribeInvalidations applies invalidations published by other
// instances to target. Messages whose source equals self are ignored.
func SubscribeInvalidations(nc *nats.Conn, subject, self string, target Invalidator, logger *slog.Logger) (*nats.Subscription, error) {
	if subject == "" {
		subject = DefaultSubject
	}
	if logger == nil {
		logger = slog.Default()
	}
	sub, err := nc.Subscribe(subject, func(msg *nats.Msg) {
		if err := applyInvalidation(msg.Data, self, target); err != nil {
			logger.Warn("invalidation dropped", "subject", subject, "error", err)
		}
	})
	if err != nil {
		return nil, fmt.Errorf("subscribe %s: %w", subject, err)
	}
	return sub, nil
}

func applyInvalidation(data []byte, self string, target Invalidator) error {
	var msg InvalidationMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return fmt.Errorf("unmarshal invalidation: %w", err)
	}
	if self != "" && msg.Source == self {
		return nil
	}
	return target.Invalidate(msg.Keys)
}
