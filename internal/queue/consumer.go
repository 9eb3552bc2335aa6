package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/your-org/neuraflow/internal/models"
)

// EntryHandler processes one decoded entry event. A returned error naks the
// message so JetStream redelivers it.
type EntryHandler func(ctx context.Context, ev models.EntryEvent) error

var errMalformed = errors.New("malformed message")

type Consumer struct {
	nc *nats.Conn
	js jetstream.JetStream
}

func NewConsumer(natsURL string) (*Consumer, error) {
	nc, js, err := connect(natsURL)
	if err != nil {
		return nil, err
	}
	return &Consumer{nc: nc, js: js}, nil
}

// ConsumeEntries starts a durable pull consumer on the ENTRIES stream.
func (c *Consumer) ConsumeEntries(ctx context.Context, consumerName string, handler EntryHandler) error {
	stream, err := c.js.Stream(ctx, EntriesStreamName)
	if err != nil {
		return fmt.Errorf("get stream %s: %w", EntriesStreamName, err)
	}

	cons, err := stream.CreateOrUpdateConsumer(ctx, jetstream.ConsumerConfig{
		Name:          consumerName,
		Durable:       consumerName,
		AckPolicy:     jetstream.AckExplicitPolicy,
		AckWait:       30 * time.Second,
		MaxDeliver:    10,
		FilterSubject: EntriesSubjectBase + ".>",
		DeliverPolicy: jetstream.DeliverAllPolicy,
	})
	if err != nil {
		return fmt.Errorf("create consumer %s: %w", consumerName, err)
	}

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			default:
			}

			batch, err := cons.Fetch(32, jetstream.FetchMaxWait(5*time.Second))
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				slog.Warn("fetch entries error", "error", err)
				time.Sleep(time.Second)
				continue
			}

			for msg := range batch.Messages() {
				handleEntry(ctx, msg, handler)
			}
		}
	}()

	slog.Info("entry consumer started", "consumer", consumerName)
	return nil
}

func handleEntry(ctx context.Context, msg jetstream.Msg, handler EntryHandler) {
	ev, err := DecodeEntry(msg.Data())
	if err != nil {
		// redelivery cannot fix a bad payload
		slog.Error("drop entry event", "error", err, "subject", msg.Subject())
		_ = msg.Term()
		return
	}
	if err := handler(ctx, ev); err != nil {
		slog.Error("process entry error", "error", err, "event_id", ev.EventID)
		_ = msg.Nak()
		return
	}
	_ = msg.Ack()
}

// DecodeEntry parses an entry event and rejects events without identity.
func DecodeEntry(data []byte) (models.EntryEvent, error) {
	var ev models.EntryEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		return ev, fmt.Errorf("%w: %v", errMalformed, err)
	}
	if ev.EventID == uuid.Nil {
		return ev, fmt.Errorf("%w: missing event_id", errMalformed)
	}
	if ev.CameraID == "" {
		return ev, fmt.Errorf("%w: missing camera_id", errMalformed)
	}
	return ev, nil
}

// SubscribeControl delivers commands addressed to cameraID.
func (c *Consumer) SubscribeControl(cameraID string, fn func(models.ControlCommand)) (*nats.Subscription, error) {
	sub, err := c.nc.Subscribe(ControlSubject(cameraID), func(m *nats.Msg) {
		var cmd models.ControlCommand
		if err := json.Unmarshal(m.Data, &cmd); err != nil {
			slog.Warn("invalid control message", "error", err)
			return
		}
		fn(cmd)
	})
	if err != nil {
		return nil, fmt.Errorf("subscribe %s: %w", ControlSubject(cameraID), err)
	}
	return sub, nil
}

// SubscribeStats delivers live stats from every camera.
func (c *Consumer) SubscribeStats(fn func(models.LiveStats)) (*nats.Subscription, error) {
	sub, err := c.nc.Subscribe(StatsSubjectBase+".*", func(m *nats.Msg) {
		var stats models.LiveStats
		if err := json.Unmarshal(m.Data, &stats); err != nil {
			slog.Warn("invalid stats message", "error", err)
			return
		}
		fn(stats)
	})
	if err != nil {
		return nil, fmt.Errorf("subscribe stats: %w", err)
	}
	return sub, nil
}

func (c *Consumer) Ping() error {
	if !c.nc.IsConnected() {
		return errNotConnected
	}
	return nil
}

func (c *Consumer) Close() {
	c.nc.Close()
}
