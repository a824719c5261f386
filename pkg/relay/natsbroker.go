package relay

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog"

	"github.com/illmade-knight/go-trackflow/pkg/messagepipeline"
)

// NatsBrokerConfig holds configuration for the NATS-backed broker.
type NatsBrokerConfig struct {
	URL string
	// StreamName is the durable JetStream stream capturing the event subjects.
	StreamName string
	// SubjectRoot prefixes routing keys, e.g. "tracker_events".
	SubjectRoot string
	ClientName  string
}

// NewNatsBrokerDefaults provides a config with sensible defaults, overridable
// via environment variables.
func NewNatsBrokerDefaults() *NatsBrokerConfig {
	cfg := &NatsBrokerConfig{
		URL:         nats.DefaultURL,
		StreamName:  "TRACKER_EVENTS",
		SubjectRoot: "tracker_events",
		ClientName:  "trackflow-decoder",
	}
	if url := os.Getenv("NATS_URL"); url != "" {
		cfg.URL = url
	}
	if name := os.Getenv("NATS_STREAM_NAME"); name != "" {
		cfg.StreamName = name
	}
	if root := os.Getenv("NATS_SUBJECT_ROOT"); root != "" {
		cfg.SubjectRoot = root
	}
	return cfg
}

// natsBroker implements Broker over a core NATS connection. Publishes are
// fire-and-forget; durability comes from the JetStream stream capturing the
// subject space server-side.
type natsBroker struct {
	nc     *nats.Conn
	cfg    *NatsBrokerConfig
	logger zerolog.Logger
}

// NewNatsDialer returns a Dialer that connects to NATS and ensures the durable
// event stream exists. A stream that already exists with a conflicting
// configuration is reported as fatal.
func NewNatsDialer(cfg *NatsBrokerConfig, logger zerolog.Logger) Dialer {
	log := logger.With().Str("component", "NatsBroker").Logger()
	return func(ctx context.Context) (Broker, error) {
		// The relay owns the reconnect loop, so the client must not
		// buffer and retry behind our back.
		nc, err := nats.Connect(cfg.URL,
			nats.Name(cfg.ClientName),
			nats.NoReconnect(),
		)
		if err != nil {
			return nil, fmt.Errorf("connect to nats at %s: %w", cfg.URL, err)
		}

		if err := ensureStream(ctx, nc, cfg); err != nil {
			nc.Close()
			return nil, err
		}

		log.Info().Str("url", cfg.URL).Str("stream", cfg.StreamName).Msg("Connected to broker.")
		return &natsBroker{nc: nc, cfg: cfg, logger: log}, nil
	}
}

// ensureStream declares the durable stream over the event subject space.
func ensureStream(ctx context.Context, nc *nats.Conn, cfg *NatsBrokerConfig) error {
	js, err := jetstream.New(nc)
	if err != nil {
		return fmt.Errorf("create jetstream context: %w", err)
	}
	_, err = js.CreateStream(ctx, jetstream.StreamConfig{
		Name:     cfg.StreamName,
		Subjects: []string{messagepipeline.WildcardSubject(cfg.SubjectRoot)},
		Storage:  jetstream.FileStorage,
	})
	if err != nil {
		if errors.Is(err, jetstream.ErrStreamNameAlreadyInUse) {
			return fmt.Errorf("stream %q exists with conflicting configuration: %w", cfg.StreamName, ErrFatal)
		}
		return fmt.Errorf("ensure stream %q: %w", cfg.StreamName, err)
	}
	return nil
}

// Publish sends one event on its routing-key subject.
func (b *natsBroker) Publish(_ context.Context, m Message) error {
	msg := nats.NewMsg(messagepipeline.SubjectFor(b.cfg.SubjectRoot, m.RoutingKey))
	msg.Header.Set(messagepipeline.CorrelationIDHeader, m.CorrelationID)
	msg.Data = m.Body

	err := b.nc.PublishMsg(msg)
	if err == nil {
		return nil
	}
	if errors.Is(err, nats.ErrConnectionClosed) ||
		errors.Is(err, nats.ErrInvalidConnection) ||
		errors.Is(err, nats.ErrConnectionDraining) {
		return fmt.Errorf("%w: %w", ErrConnectionLost, err)
	}
	return err
}

func (b *natsBroker) Close() {
	b.nc.Close()
}
