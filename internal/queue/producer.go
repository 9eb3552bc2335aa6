package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/your-org/neuraflow/internal/models"
)

const (
	EntriesStreamName  = "ENTRIES"
	EntriesSubjectBase = "entries"
	StatsSubjectBase   = "stats"
	ControlSubjectBase = "control"
)

// EntrySubject returns the JetStream subject for a camera's entry events.
func EntrySubject(cameraID string) string { return EntriesSubjectBase + "." + cameraID }

// StatsSubject returns the core NATS subject for a camera's live stats.
func StatsSubject(cameraID string) string { return StatsSubjectBase + "." + cameraID }

// ControlSubject returns the core NATS subject a counter listens on for commands.
func ControlSubject(cameraID string) string { return ControlSubjectBase + "." + cameraID }

func connect(natsURL string) (*nats.Conn, jetstream.JetStream, error) {
	nc, err := nats.Connect(natsURL,
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("connect to nats: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, nil, fmt.Errorf("create jetstream context: %w", err)
	}
	return nc, js, nil
}

type Producer struct {
	nc *nats.Conn
	js jetstream.JetStream
}

func NewProducer(natsURL string) (*Producer, error) {
	nc, js, err := connect(natsURL)
	if err != nil {
		return nil, err
	}
	return &Producer{nc: nc, js: js}, nil
}

func entriesStreamConfig() jetstream.StreamConfig {
	return jetstream.StreamConfig{
		Name:        EntriesStreamName,
		Subjects:    []string{EntriesSubjectBase + ".>"},
		Retention:   jetstream.LimitsPolicy,
		MaxAge:      7 * 24 * time.Hour,
		MaxMsgs:     1000000,
		Storage:     jetstream.FileStorage,
		Duplicates:  10 * time.Minute,
		Description: "Validated entry events",
	}
}

// EnsureStreams creates the ENTRIES stream if it does not exist.
// Retries up to 30 times (1s apart) to ride out NATS startup.
func (p *Producer) EnsureStreams(ctx context.Context) error {
	cfg := entriesStreamConfig()

	const maxAttempts = 30
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		opCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		_, err := p.js.CreateOrUpdateStream(opCtx, cfg)
		cancel()
		if err == nil {
			slog.Info("ensured NATS stream", "name", cfg.Name)
			return nil
		}
		if attempt == maxAttempts {
			return fmt.Errorf("create stream %s: %w (after %d attempts)", cfg.Name, err, maxAttempts)
		}
		slog.Warn("ensure NATS stream (retrying...)", "name", cfg.Name, "attempt", attempt, "error", err)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Second):
		}
	}
	return nil
}

// PublishEntry publishes an entry event. The event id doubles as the
// JetStream message id, so a retried publish is stored once.
func (p *Producer) PublishEntry(ctx context.Context, ev models.EntryEvent) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal entry event: %w", err)
	}

	_, err = p.js.Publish(ctx, EntrySubject(ev.CameraID), payload, jetstream.WithMsgID(ev.EventID.String()))
	if err != nil {
		return fmt.Errorf("publish entry: %w", err)
	}
	return nil
}

// Emit lets the producer serve as the engine's entry sink.
func (p *Producer) Emit(ctx context.Context, ev models.EntryEvent) error {
	return p.PublishEntry(ctx, ev)
}

// PublishStats publishes a live stats snapshot via core NATS. Stats are
// superseded every few seconds, so they are not persisted.
func (p *Producer) PublishStats(stats models.LiveStats) error {
	payload, err := json.Marshal(stats)
	if err != nil {
		return fmt.Errorf("marshal stats: %w", err)
	}
	return p.nc.Publish(StatsSubject(stats.CameraID), payload)
}

// PublishControl sends a command to the counter of cmd.CameraID.
func (p *Producer) PublishControl(cmd models.ControlCommand) error {
	payload, err := json.Marshal(cmd)
	if err != nil {
		return fmt.Errorf("marshal control: %w", err)
	}
	return p.nc.Publish(ControlSubject(cmd.CameraID), payload)
}

// QueueDepth returns the number of messages held in the ENTRIES stream.
func (p *Producer) QueueDepth(ctx context.Context) (uint64, error) {
	stream, err := p.js.Stream(ctx, EntriesStreamName)
	if err != nil {
		return 0, err
	}
	info, err := stream.Info(ctx)
	if err != nil {
		return 0, err
	}
	return info.State.Msgs, nil
}

var errNotConnected = errors.New("nats not connected")

func (p *Producer) Ping() error {
	if !p.nc.IsConnected() {
		return errNotConnected
	}
	return nil
}

func (p *Producer) Close() {
	p.nc.Close()
}
