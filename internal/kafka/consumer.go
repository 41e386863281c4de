package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/sirupsen/logrus"
)

// messageReader is the part of *kafka.Reader the consumer drives.
type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type Consumer struct {
	reader messageReader
	logger *logrus.Logger
}

func NewConsumer(brokers []string, groupID, topic string, logger *logrus.Logger) *Consumer {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Consumer{
		reader: kafka.NewReader(kafka.ReaderConfig{
			Brokers:           brokers,
			GroupID:           groupID,
			Topic:             topic,
			HeartbeatInterval: 3 * time.Second,
			SessionTimeout:    30 * time.Second,
		}),
		logger: logger,
	}
}

func (c *Consumer) Close() error {
	if c == nil || c.reader == nil {
		return nil
	}
	return c.reader.Close()
}

// Consume hands every message to handler and commits its offset only after
// handler returns nil. A handler error stops the loop with the message
// uncommitted, so the group redelivers it on restart.
func (c *Consumer) Consume(ctx context.Context, handler func(context.Context, kafka.Message) error) error {
	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			return err
		}

		if err := handler(ctx, msg); err != nil {
			c.logger.WithFields(logrus.Fields{
				"topic":     msg.Topic,
				"partition": msg.Partition,
				"offset":    msg.Offset,
			}).WithError(err).Error("Message handling failed, offset not committed")
			return err
		}

		if err := c.reader.CommitMessages(ctx, msg); err != nil {
			return fmt.Errorf("commit offset %d: %w", msg.Offset, err)
		}
	}
}

// ConfirmationHandler decodes ConfirmationEvent messages. Undecodable
// messages are logged and skipped; errors from apply stop the consumer only
// when they are not marked as skippable. An event without its own id gets one
// from its topic, partition and offset.
func ConfirmationHandler(logger *logrus.Logger, apply func(context.Context, ConfirmationEvent) error, skippable func(error) bool) func(context.Context, kafka.Message) error {
	return func(ctx context.Context, msg kafka.Message) error {
		var event ConfirmationEvent
		if err := json.Unmarshal(msg.Value, &event); err != nil {
			logger.WithField("offset", msg.Offset).WithError(err).Warn("Decode confirmation event failed")
			return nil
		}
		if event.EventID == "" {
			event.EventID = fmt.Sprintf("%s/%d/%d", msg.Topic, msg.Partition, msg.Offset)
		}
		if err := apply(ctx, event); err != nil {
			if skippable != nil && skippable(err) {
				logger.WithFields(logrus.Fields{
					"booking_id": event.BookingID,
					"delta":      event.Delta,
				}).WithError(err).Warn("Confirmation event skipped")
				return nil
			}
			return err
		}
		return nil
	}
}
