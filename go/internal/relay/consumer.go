package relay

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog/log"

	"github.com/zwl098/yusic/go/internal/events"
)

// Consumer follows the events of one room from the stream
type Consumer struct {
	nc       *nats.Conn
	consumer jetstream.Consumer
	config   JetStreamConfig
	roomID   string
}

// NewConsumer creates an ephemeral consumer for roomID starting at the
// newest message, so a follower sees the latest state change first.
func NewConsumer(ctx context.Context, cfg JetStreamConfig, roomID string) (*Consumer, error) {
	nc, js, err := connect(cfg)
	if err != nil {
		return nil, err
	}

	stream, err := js.Stream(ctx, cfg.StreamName)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("get stream: %w", err)
	}
	consumer, err := stream.OrderedConsumer(ctx, jetstream.OrderedConsumerConfig{
		FilterSubjects: []string{cfg.Subject(roomID)},
		DeliverPolicy:  jetstream.DeliverLastPolicy,
	})
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("create consumer: %w", err)
	}

	return &Consumer{nc: nc, consumer: consumer, config: cfg, roomID: roomID}, nil
}

// Run calls handle for every event until ctx is done. Undecodable messages
// are logged and skipped.
func (c *Consumer) Run(ctx context.Context, handle func(*events.SyncEvent)) error {
	log.Info().
		Str("stream", c.config.StreamName).
		Str("room_id", c.roomID).
		Msg("following room events")

	consumeCtx, err := c.consumer.Consume(func(msg jetstream.Msg) {
		event, err := decodeMsg(msg.Data())
		if err != nil {
			log.Error().Err(err).Str("subject", msg.Subject()).Msg("failed to decode room event")
			return
		}
		handle(event)
	})
	if err != nil {
		return fmt.Errorf("start consumer: %w", err)
	}
	defer consumeCtx.Stop()

	<-ctx.Done()
	return nil
}

func (c *Consumer) Close() error {
	if c.nc != nil {
		c.nc.Close()
	}
	return nil
}

func decodeMsg(data []byte) (*events.SyncEvent, error) {
	var event events.SyncEvent
	if err := json.Unmarshal(data, &event); err != nil {
		return nil, fmt.Errorf("unmarshal event: %w", err)
	}
	if event.Type == "" {
		return nil, fmt.Errorf("event has no type")
	}
	return &event, nil
}
