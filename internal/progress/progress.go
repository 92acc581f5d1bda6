// Package progress fans job progress out over Redis pub/sub so the API can
// stream it to clients while the worker runs the job.
package progress

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"
)

// Event is one persisted step of a job
type Event struct {
	JobID          string    `json:"job_id"`
	Status         string    `json:"status"`
	CompletedItems int       `json:"completed_items"`
	TotalItems     int       `json:"total_items"`
	Succeeded      int       `json:"succeeded"`
	Failed         int       `json:"failed"`
	ErrorMessage   string    `json:"error_message,omitempty"`
	At             time.Time `json:"at"`
}

// Broker is the pub/sub transport
type Broker interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, func(), error)
}

// Channel names the pub/sub channel for a job
func Channel(prefix, jobID string) string {
	return prefix + ":" + jobID
}

// Publisher sends events for the worker
type Publisher struct {
	broker Broker
	prefix string
	logger *slog.Logger
}

func NewPublisher(broker Broker, prefix string, logger *slog.Logger) *Publisher {
	return &Publisher{broker: broker, prefix: prefix, logger: logger}
}

// Publish encodes and sends e
func (p *Publisher) Publish(ctx context.Context, e Event) error {
	if e.At.IsZero() {
		e.At = time.Now().UTC()
	}

	payload, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("failed to marshal progress event: %w", err)
	}

	if err := p.broker.Publish(ctx, Channel(p.prefix, e.JobID), payload); err != nil {
		return fmt.Errorf("failed to publish progress event: %w", err)
	}

	p.logger.Debug("Progress event published",
		slog.String("job_id", e.JobID),
		slog.String("status", e.Status),
		slog.Int("completed_items", e.CompletedItems),
	)
	return nil
}

// Subscriber receives events for the API
type Subscriber struct {
	broker Broker
	prefix string
	logger *slog.Logger
}

func NewSubscriber(broker Broker, prefix string, logger *slog.Logger) *Subscriber {
	return &Subscriber{broker: broker, prefix: prefix, logger: logger}
}

// Subscribe returns decoded events for jobID until ctx ends. Undecodable
// payloads are logged and skipped. The cleanup func must be called.
func (s *Subscriber) Subscribe(ctx context.Context, jobID string) (<-chan Event, func(), error) {
	raw, closeSub, err := s.broker.Subscribe(ctx, Channel(s.prefix, jobID))
	if err != nil {
		return nil, nil, err
	}

	out := make(chan Event)
	go func() {
		defer close(out)
		for payload := range raw {
			var e Event
			if err := json.Unmarshal(payload, &e); err != nil {
				s.logger.Warn("Dropping malformed progress event",
					slog.String("job_id", jobID),
					slog.Any("error", err),
				)
				continue
			}
			select {
			case out <- e:
			case <-ctx.Done():
				return
			}
		}
	}()

	return out, closeSub, nil
}
