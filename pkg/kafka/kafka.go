package kafka

import (
	"context"

	"github.com/IBM/sarama"
	"go.uber.org/zap"
)

const (
	// ReviewEventsTopic carries best-effort review lifecycle events
	// (created/updated/deleted) for downstream consumers.
	ReviewEventsTopic = "review-events"

	ReviewConsumerGroup = "bookery-review-events"
)

type Config struct {
	Addrs []string `envconfig:"KAFKA_ADDRS"`
}

// Enabled reports whether a broker list was configured; publishing is
// optional and the write path works without it.
func (c Config) Enabled() bool {
	return len(c.Addrs) > 0
}

func NewProducer(cfg Config) (sarama.SyncProducer, error) {
	defaultCfg := sarama.NewConfig()

	defaultCfg.Producer.RequiredAcks = sarama.WaitForAll
	defaultCfg.Producer.Return.Successes = true

	return sarama.NewSyncProducer(cfg.Addrs, defaultCfg)
}

func NewConsumer(cfg Config, group string) (sarama.ConsumerGroup, error) {
	defaultCfg := sarama.NewConfig()
	defaultCfg.Consumer.Offsets.Initial = sarama.OffsetOldest

	return sarama.NewConsumerGroup(cfg.Addrs, group, defaultCfg)
}

// Consume runs the handler against the topic until the context is canceled.
// sarama returns from Consume on every rebalance, hence the loop.
func Consume(ctx context.Context, group sarama.ConsumerGroup, h sarama.ConsumerGroupHandler, topic string, log *zap.Logger) {
	for {
		if err := group.Consume(ctx, []string{topic}, h); err != nil {
			log.Error("kafka consume", zap.String("topic", topic), zap.Error(err))
		}
		if ctx.Err() != nil {
			return
		}
	}
}
