// Package notify publishes ledger events to a Kafka topic so downstream
// consumers (bots, feeds, analytics) can react to balance changes without
// polling the API.
package notify

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/wagerhall/betledger/internal/model"
)

// Event kinds carried on the topic.
const (
	KindWager  = "wager_placed"
	KindPayout = "payout"
	KindRefund = "refund"
	KindIncome = "income"
)

// AccountEvent is the wire format for a single balance change.
type AccountEvent struct {
	Kind     string `json:"kind"`
	Server   string `json:"server"`
	User     string `json:"user"`
	Diff     int64  `json:"diff"`
	Balance  int64  `json:"balance"`
	BetID    string `json:"bet_id,omitempty"`
	TsUnixMs int64  `json:"ts_unix_ms"`
}

// Publisher emits account events. Implementations must be safe for
// concurrent use.
type Publisher interface {
	PublishUpdates(ctx context.Context, kind, betID string, updates []model.AccountUpdate)
	Close() error
}

// NewWriter creates a Kafka writer for the given brokers and topic.
func NewWriter(brokers []string, topic string) *kafka.Writer {
	return &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka.LeastBytes{},
		AllowAutoTopicCreation: true,
	}
}

// KafkaPublisher publishes account events through a kafka-go writer.
// Publishing is best-effort: a broker outage must never fail or roll back a
// ledger operation, so errors are logged and dropped.
type KafkaPublisher struct {
	writer *kafka.Writer
}

// NewKafkaPublisher wraps a Kafka writer.
func NewKafkaPublisher(w *kafka.Writer) *KafkaPublisher {
	return &KafkaPublisher{writer: w}
}

func (p *KafkaPublisher) PublishUpdates(ctx context.Context, kind, betID string, updates []model.AccountUpdate) {
	if len(updates) == 0 {
		return
	}

	now := time.Now().UnixMilli()
	msgs := make([]kafka.Message, 0, len(updates))
	for _, u := range updates {
		event := AccountEvent{
			Kind:     kind,
			Server:   u.Server,
			User:     u.User,
			Diff:     u.Diff,
			Balance:  u.Balance,
			BetID:    betID,
			TsUnixMs: now,
		}
		value, err := json.Marshal(event)
		if err != nil {
			continue
		}
		msgs = append(msgs, kafka.Message{
			// Key by server/user so a consumer sees one user's updates
			// in order.
			Key:   []byte(u.Server + "/" + u.User),
			Value: value,
			Time:  time.Now(),
		})
	}

	if err := p.writer.WriteMessages(ctx, msgs...); err != nil {
		slog.Warn("kafka publish failed", "kind", kind, "events", len(msgs), "err", err)
	}
}

func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}

// NopPublisher discards every event. Used when Kafka is not configured.
type NopPublisher struct{}

func (NopPublisher) PublishUpdates(context.Context, string, string, []model.AccountUpdate) {}

func (NopPublisher) Close() error { return nil }
