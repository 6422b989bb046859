package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/atmx/dutch-engine/internal/model"
)

const (
	// StreamName is the JetStream stream that archives auction events.
	StreamName = "AUCTION_EVENTS"

	subjectPrefix = "auction.events"
)

// Subject returns the subject an auction's events are published on.
func Subject(auctionID int64) string {
	return fmt.Sprintf("%s.%d", subjectPrefix, auctionID)
}

// publisher is the part of jetstream.JetStream the notifier uses.
type publisher interface {
	Publish(ctx context.Context, subject string, payload []byte, opts ...jetstream.PublishOpt) (*jetstream.PubAck, error)
}

// JetStream publishes events to a persistent NATS JetStream stream so
// indexers can replay the full auction history.
type JetStream struct {
	js      publisher
	timeout time.Duration
}

// NewJetStream creates the JetStream context on nc and makes sure the
// AUCTION_EVENTS stream exists.
func NewJetStream(ctx context.Context, nc *nats.Conn, maxAge time.Duration) (*JetStream, error) {
	js, err := jetstream.New(nc)
	if err != nil {
		return nil, fmt.Errorf("create JetStream context: %w", err)
	}

	_, err = js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:        StreamName,
		Description: "Auction lifecycle events",
		Subjects:    []string{subjectPrefix + ".*"},
		Storage:     jetstream.FileStorage,
		Retention:   jetstream.LimitsPolicy,
		MaxAge:      maxAge,
		Replicas:    1,
	})
	if err != nil {
		return nil, fmt.Errorf("create/update stream %s: %w", StreamName, err)
	}
	slog.Info("jetstream stream ready", "stream", StreamName)

	return newJetStream(js), nil
}

func newJetStream(js publisher) *JetStream {
	return &JetStream{js: js, timeout: 5 * time.Second}
}

// Notify publishes ev on the auction's subject. The event id doubles as the
// JetStream message id so retried publishes are deduplicated.
func (j *JetStream) Notify(ctx context.Context, ev model.Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, j.timeout)
	defer cancel()

	var opts []jetstream.PublishOpt
	if ev.EventID != "" {
		opts = append(opts, jetstream.WithMsgID(ev.EventID))
	}
	if _, err := j.js.Publish(ctx, Subject(ev.AuctionID), data, opts...); err != nil {
		return fmt.Errorf("publish %s: %w", ev.Type, err)
	}
	return nil
}
