package handler

import (
	"context"
	"encoding/json"

	"github.com/bookery/bookery-service/internal/model"
	"github.com/IBM/sarama"
	"go.uber.org/zap"
)

type warmBook func(ctx context.Context, catalogID string)

// Consumer warms the catalog cache from review events: a book that was just
// reviewed is about to be viewed.
type Consumer struct {
	warmBookHandler warmBook
	log             *zap.Logger
	ready           chan bool
}

func NewConsumer(warm warmBook, log *zap.Logger) *Consumer {
	return &Consumer{
		warmBookHandler: warm,
		log:             log.Named("consumer"),
		ready:           make(chan bool),
	}
}

func (consumer *Consumer) Setup(sarama.ConsumerGroupSession) error {
	// Mark the consumer as ready
	close(consumer.ready)
	return nil
}

// Cleanup is run at the end of a session, once all ConsumeClaim goroutines have exited.
func (consumer *Consumer) Cleanup(sarama.ConsumerGroupSession) error {
	return nil
}

func (consumer *Consumer) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for {
		select {
		case message, ok := <-claim.Messages():
			if !ok {
				consumer.log.Warn("message channel was closed")
				return nil
			}
			var ev model.ReviewEvent
			if err := json.Unmarshal(message.Value, &ev); err != nil {
				consumer.log.Error("unmarshal review event", zap.Error(err))
				session.MarkMessage(message, "")
				continue
			}
			if ev.CatalogID != "" {
				consumer.warmBookHandler(context.Background(), ev.CatalogID)
			}

			consumer.log.Debug("Message claimed:", zap.String("value", string(message.Value)), zap.Time("timestamp", message.Timestamp), zap.String("topic", message.Topic))
			session.MarkMessage(message, "")
		case <-session.Context().Done():
			return nil
		}
	}
}
