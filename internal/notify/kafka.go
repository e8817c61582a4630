package notify

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/segmentio/kafka-go"

	"funding-arb/internal/strategy"
)

const publishTimeout = 5 * time.Second

// MessageWriter is the part of *kafka.Writer used here.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaNotifier publishes JSON events keyed by asset.
type KafkaNotifier struct {
	w   MessageWriter
	now func() time.Time
	log zerolog.Logger
}

// NewKafkaWriter constructs a kafka.Writer compatible with kafka-go v0.4.x.
func NewKafkaWriter(brokers []string, topic string) *kafka.Writer {
	dialer := &kafka.Dialer{
		Timeout:   10 * time.Second,
		DualStack: true,
	}
	return kafka.NewWriter(kafka.WriterConfig{
		Brokers:      brokers,
		Topic:        topic,
		Balancer:     &kafka.LeastBytes{},
		Dialer:       dialer,
		BatchTimeout: 200 * time.Millisecond,
		RequiredAcks: int(kafka.RequireOne),
	})
}

func NewKafkaNotifier(w MessageWriter) *KafkaNotifier {
	return &KafkaNotifier{
		w:   w,
		now: time.Now,
		log: log.With().Str("component", "notify").Str("sink", "kafka").Logger(),
	}
}

var _ strategy.Notifier = (*KafkaNotifier)(nil)

func (k *KafkaNotifier) Close() error { return k.w.Close() }

func (k *KafkaNotifier) publish(ctx context.Context, ev Event) {
	ev.Time = k.now()
	body, err := json.Marshal(ev)
	if err != nil {
		k.log.Error().Err(err).Str("event", string(ev.Type)).Msg("failed to encode event")
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
	defer cancel()
	msg := kafka.Message{Key: []byte(ev.Asset), Value: body}
	if err := k.w.WriteMessages(ctx, msg); err != nil {
		k.log.Error().Err(err).Str("event", string(ev.Type)).Msg("failed to publish event")
	}
}

func (k *KafkaNotifier) StrategyStarted(ctx context.Context) {
	k.publish(ctx, Event{Type: StrategyStarted})
}

func (k *KafkaNotifier) StrategyStopped(ctx context.Context) {
	k.publish(ctx, Event{Type: StrategyStopped})
}

func (k *KafkaNotifier) PositionOpened(ctx context.Context, p strategy.Position) {
	k.publish(ctx, Event{Type: PositionOpened, Asset: p.Asset, Payload: p})
}

func (k *KafkaNotifier) PositionClosed(ctx context.Context, p strategy.Position) {
	k.publish(ctx, Event{Type: PositionClosed, Asset: p.Asset, Duration: held(p), Payload: p})
}

func (k *KafkaNotifier) RebalanceSummary(ctx context.Context, ev strategy.RebalanceEvent) {
	k.publish(ctx, Event{Type: RebalanceSummary, Payload: ev})
}

func (k *KafkaNotifier) NegativeSpread(ctx context.Context, p strategy.Position) {
	k.publish(ctx, Event{Type: NegativeSpread, Asset: p.Asset, Payload: p})
}

func (k *KafkaNotifier) Unhedged(ctx context.Context, a strategy.UnhedgedAlert) {
	k.publish(ctx, Event{Type: Unhedged, Urgent: true, Asset: a.Asset, Payload: a})
}

func (k *KafkaNotifier) CloseFailure(ctx context.Context, p strategy.Position, f strategy.CloseFailure) {
	k.publish(ctx, Event{Type: CloseFailure, Urgent: true, Asset: p.Asset, Payload: f})
}
