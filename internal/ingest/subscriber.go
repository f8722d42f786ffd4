package ingest

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/vietddude/writer/internal/core/domain"
	redisclient "github.com/vietddude/writer/internal/infra/redis"
)

// DefaultChannel carries JSON records published by upstream producers.
const DefaultChannel = "metrics"

// Subscriber schedules every record published on a Redis channel.
type Subscriber struct {
	client    *redisclient.Client
	channel   string
	scheduler *Scheduler
	logger    *slog.Logger
}

// NewSubscriber creates a subscriber for channel.
func NewSubscriber(client *redisclient.Client, channel string, scheduler *Scheduler, logger *slog.Logger) *Subscriber {
	if channel == "" {
		channel = DefaultChannel
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Subscriber{
		client:    client,
		channel:   channel,
		scheduler: scheduler,
		logger:    logger.With("component", "subscriber", "channel", channel),
	}
}

// Run consumes the channel until ctx is done.
func (s *Subscriber) Run(ctx context.Context) error {
	sub := s.client.Subscribe(ctx, s.channel)
	defer sub.Close()

	// Wait for the subscription to be confirmed.
	if _, err := sub.Receive(ctx); err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return err
	}
	s.logger.Info("subscribed")

	messages := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-messages:
			if !ok {
				return nil
			}
			s.handle(ctx, []byte(msg.Payload))
		}
	}
}

func (s *Subscriber) handle(ctx context.Context, payload []byte) {
	var rec domain.Record
	if err := json.Unmarshal(payload, &rec); err != nil {
		s.logger.Warn("dropping malformed message", "error", err)
		return
	}
	if _, err := s.scheduler.ScheduleRecord(ctx, rec, "pubsub"); err != nil {
		s.logger.Error("failed to schedule record", "record_id", rec.ID, "error", err)
	}
}

// Publish sends one record on the channel.
func Publish(ctx context.Context, client *redisclient.Client, channel string, rec domain.Record) error {
	if channel == "" {
		channel = DefaultChannel
	}
	payload, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return client.Publish(ctx, channel, payload)
}
