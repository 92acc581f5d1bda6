package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/cuongbtq/tutor-be/internal/jobs"
	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
)

var errDeliveriesClosed = errors.New("rabbitmq delivery channel closed")

// setupConsumer starts consuming the job queue with the configured prefetch
func (w *Worker) setupConsumer() (<-chan amqp.Delivery, error) {
	consumerTag := w.workerID

	deliveries, err := w.broker.Consume(consumerTag, w.prefetchCount)
	if err != nil {
		return nil, fmt.Errorf("failed to start consuming: %w", err)
	}

	w.logger.Info("RabbitMQ consumer started",
		slog.String("consumer_tag", consumerTag),
		slog.String("queue", w.queueName),
		slog.Int("prefetch_count", w.prefetchCount),
	)

	return deliveries, nil
}

// startMessageDispatcher decodes deliveries and hands valid ones to the pool
func (w *Worker) startMessageDispatcher(ctx context.Context, deliveries <-chan amqp.Delivery) error {
	w.logger.Info("Message dispatcher started")

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("Message dispatcher stopped - context canceled")
			return ctx.Err()

		case delivery, ok := <-deliveries:
			if !ok {
				w.logger.Warn("RabbitMQ delivery channel closed")
				return errDeliveriesClosed
			}

			msg, err := parseMessage(delivery.Body)
			if err != nil {
				w.logger.Error("Dropping invalid job message",
					slog.String("error", err.Error()),
					slog.String("body", string(delivery.Body)),
				)
				// Malformed messages go to the DLQ
				w.nack(delivery.DeliveryTag, false, msg.JobID)
				continue
			}
			msg.DeliveryTag = delivery.DeliveryTag

			select {
			case w.jobsChan <- msg:
				w.logger.Debug("Job dispatched to worker pool",
					slog.String("job_id", msg.JobID),
					slog.Uint64("delivery_tag", delivery.DeliveryTag),
				)
			case <-ctx.Done():
				w.logger.Info("Message dispatcher stopped while dispatching job")
				w.nack(delivery.DeliveryTag, true, msg.JobID)
				return ctx.Err()
			}
		}
	}
}

func parseMessage(body []byte) (*jobs.Message, error) {
	msg := &jobs.Message{}
	if err := json.Unmarshal(body, msg); err != nil {
		return msg, fmt.Errorf("failed to parse message JSON: %w", err)
	}
	if _, err := uuid.Parse(msg.JobID); err != nil {
		return msg, fmt.Errorf("invalid job_id %q: %w", msg.JobID, err)
	}
	return msg, nil
}

func (w *Worker) nack(tag uint64, requeue bool, jobID string) {
	if err := w.broker.Nack(tag, requeue); err != nil {
		w.logger.Error("Failed to NACK message",
			slog.String("job_id", jobID),
			slog.Bool("requeue", requeue),
			slog.String("error", err.Error()),
		)
		return
	}
	w.logger.Info("Message NACKed",
		slog.String("job_id", jobID),
		slog.Bool("requeue", requeue),
	)
}
