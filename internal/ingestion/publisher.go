package ingestion

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"DexLedger/internal/core"
	"DexLedger/internal/event"
	"DexLedger/internal/observability"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog"
)

const (
	// StreamName is the JetStream stream carrying confirmed exchange events.
	StreamName = "DEX_LEDGER_EVENTS"
	// SubjectPrefix is followed by the event kind, e.g. dex.ledger.events.Trade.
	SubjectPrefix = "dex.ledger.events"
)

// StreamPublisher is the subset of jetstream.JetStream used for publishing.
type StreamPublisher interface {
	Publish(ctx context.Context, subject string, data []byte, opts ...jetstream.PublishOpt) (*jetstream.PubAck, error)
}

// Message is the JSON envelope of one published event.
type Message struct {
	CycleID   string          `json:"cycleId"`
	Kind      string          `json:"kind"`
	StateHash string          `json:"stateHash"`
	Event     json.RawMessage `json:"event"`
}

// Subject returns the subject an event is published on.
func Subject(k event.Kind) string {
	return SubjectPrefix + "." + k.String()
}

// MsgID deduplicates redelivered commits on the stream: one id per ledger position.
func MsgID(pos event.Position) string {
	return fmt.Sprintf("%d-%d", pos.BlockNumber, pos.LogIndex)
}

// Encode builds the message for ev committed in out.
func Encode(out core.CommitOutput, ev event.Event) ([]byte, error) {
	payload, err := json.Marshal(ev)
	if err != nil {
		return nil, fmt.Errorf("marshal %s: %w", ev.Kind(), err)
	}
	return json.Marshal(Message{
		CycleID:   out.CycleID.String(),
		Kind:      ev.Kind().String(),
		StateHash: "0x" + hex.EncodeToString(out.StateHash[:]),
		Event:     payload,
	})
}

// Publisher forwards confirmed events from engine commits to NATS for downstream consumers.
type Publisher struct {
	js      StreamPublisher
	input   <-chan core.CommitOutput
	metrics *observability.Metrics
	log     zerolog.Logger
}

func NewPublisher(js StreamPublisher, input <-chan core.CommitOutput, metrics *observability.Metrics, logger zerolog.Logger) *Publisher {
	return &Publisher{js: js, input: input, metrics: metrics, log: logger}
}

// Run starts the publisher loop.
func (p *Publisher) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case out, ok := <-p.input:
			if !ok {
				return nil
			}
			for _, ev := range out.Events {
				if err := p.publish(ctx, out, ev); err != nil {
					// Non-fatal: consumers can read the archive or the query API
					p.log.Warn().Err(err).
						Str("kind", ev.Kind().String()).
						Uint64("block", ev.At().BlockNumber).
						Msg("publish failed")
					if p.metrics != nil {
						p.metrics.PublishErrors.Inc()
					}
				}
			}
		}
	}
}

func (p *Publisher) publish(ctx context.Context, out core.CommitOutput, ev event.Event) error {
	data, err := Encode(out, ev)
	if err != nil {
		return err
	}
	if _, err := p.js.Publish(ctx, Subject(ev.Kind()), data, jetstream.WithMsgID(MsgID(ev.At()))); err != nil {
		return err
	}
	if p.metrics != nil {
		p.metrics.PublishedTotal.WithLabelValues(ev.Kind().String()).Inc()
	}
	return nil
}

// EnsureStream creates or updates the outbound events stream.
func EnsureStream(ctx context.Context, js jetstream.JetStream, logger zerolog.Logger) error {
	_, err := js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:       StreamName,
		Subjects:   []string{SubjectPrefix + ".>"},
		Storage:    jetstream.FileStorage,
		Retention:  jetstream.LimitsPolicy,
		MaxAge:     72 * time.Hour,
		Duplicates: 10 * time.Minute,
		Replicas:   1,
	})
	if err != nil {
		return fmt.Errorf("create stream %s: %w", StreamName, err)
	}
	logger.Info().Str("stream", StreamName).Msg("ensured outbound stream")
	return nil
}

// ConnectNATS dials url and opens a JetStream context. Callers drain the connection on shutdown.
func ConnectNATS(url string, logger zerolog.Logger) (*nats.Conn, jetstream.JetStream, error) {
	nc, err := nats.Connect(url,
		nats.Name("dexledger"),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logger.Warn().Err(err).Msg("nats disconnected")
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			logger.Info().Str("url", c.ConnectedUrl()).Msg("nats reconnected")
		}),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("connect nats: %w", err)
	}
	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, nil, fmt.Errorf("jetstream: %w", err)
	}
	return nc, js, nil
}
