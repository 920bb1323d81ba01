package sink

import (
	"context"
	"errors"
	"fmt"

	"ForgeLedger/internal/event"

	"github.com/rs/zerolog"
	"github.com/twmb/franz-go/pkg/kadm"
	"github.com/twmb/franz-go/pkg/kerr"
	"github.com/twmb/franz-go/pkg/kgo"
)

const DefaultKafkaTopic = "forge.events"

// KafkaEndpoint produces notifications to one Kafka topic, keyed by the
// emitting contract so that per-instrument order is kept within a partition.
type KafkaEndpoint struct {
	client *kgo.Client
	topic  string
	kinds  KindSet
}

func NewKafkaEndpoint(client *kgo.Client, topic string, kinds KindSet) *KafkaEndpoint {
	if topic == "" {
		topic = DefaultKafkaTopic
	}
	if len(kinds) == 0 {
		kinds = AllKinds()
	}
	return &KafkaEndpoint{client: client, topic: topic, kinds: kinds}
}

// NewKafkaClient connects a producer client to brokers.
func NewKafkaClient(brokers []string, topic string) (*kgo.Client, error) {
	if len(brokers) == 0 {
		return nil, errors.New("no kafka brokers configured")
	}
	client, err := kgo.NewClient(
		kgo.SeedBrokers(brokers...),
		kgo.DefaultProduceTopic(topic),
		kgo.RequiredAcks(kgo.AllISRAcks()),
	)
	if err != nil {
		return nil, fmt.Errorf("create kafka client: %w", err)
	}
	return client, nil
}

func (e *KafkaEndpoint) Name() string {
	return "kafka"
}

func (e *KafkaEndpoint) Accepts(kind event.Kind) bool {
	return e.kinds.Contains(kind)
}

func (e *KafkaEndpoint) Deliver(ctx context.Context, out event.Outgoing) error {
	data, err := encode(out)
	if err != nil {
		return err
	}

	rec := &kgo.Record{
		Topic: e.topic,
		Key:   []byte(out.Emitter),
		Value: data,
		Headers: []kgo.RecordHeader{
			{Key: "kind", Value: []byte(out.Notification.Kind().String())},
			{Key: "sink", Value: []byte(out.Sink)},
		},
	}
	return e.client.ProduceSync(ctx, rec).FirstErr()
}

// EnsureKafkaTopic creates topic when it does not exist yet.
func EnsureKafkaTopic(ctx context.Context, client *kgo.Client, topic string, partitions int32, logger zerolog.Logger) error {
	adm := kadm.NewClient(client)

	resp, err := adm.CreateTopics(ctx, partitions, 1, nil, topic)
	if err != nil {
		return fmt.Errorf("create topic %s: %w", topic, err)
	}

	for _, r := range resp {
		if r.Err != nil && !errors.Is(r.Err, kerr.TopicAlreadyExists) {
			return fmt.Errorf("create topic %s: %w", r.Topic, r.Err)
		}
	}
	logger.Info().Str("topic", topic).Msg("ensured kafka topic")
	return nil
}
