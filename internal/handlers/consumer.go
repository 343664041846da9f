package handlers

import (
	"context"
	"errors"

	kafkago "github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"fulfillmentservice/internal/platform/kafka"
	"fulfillmentservice/internal/platform/observability"
)

// HandleFunc processes one delivered message.
type HandleFunc func(ctx context.Context, msg kafkago.Message) error

// ConsumerService runs one sequential read loop over a single subject and
// dispatches every delivered message synchronously. Messages on one subject
// are therefore processed in delivery order; a handler error drops that one
// message and the loop keeps going.
type ConsumerService struct {
	subject  string
	consumer kafka.Consumer
	handle   HandleFunc
	logger   observability.Logger
}

func NewConsumerService(subject string, consumer kafka.Consumer, handle HandleFunc, logger observability.Logger) *ConsumerService {
	return &ConsumerService{
		subject:  subject,
		consumer: consumer,
		handle:   handle,
		logger:   logger,
	}
}

func (c *ConsumerService) Start(ctx context.Context) error {
	c.logger.Info("Consumer started. Waiting for messages...", zap.String("subject", c.subject))

	for {
		msg, err := c.consumer.ReadMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				c.logger.Info("Context done, exiting read loop.", zap.String("subject", c.subject))
				break
			}
			c.logger.Error("❌ Error reading from bus", zap.String("subject", c.subject), zap.Error(err))
			continue
		}

		if err := c.handle(ctx, *msg); err != nil {
			continue
		}
	}

	c.logger.Info("Consumer finished. Shutting down...", zap.String("subject", c.subject))
	return nil
}
