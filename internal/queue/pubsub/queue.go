// Package pubsub implements the dispatch queue on Google Cloud Pub/Sub.
package pubsub

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"cloud.google.com/go/pubsub"
	"go.uber.org/zap"

	"vidsentry/internal/monitor"
)

// Config captures the parameters required to connect to Pub/Sub.
type Config struct {
	ProjectID    string
	TopicID      string
	Subscription string
}

// Queue publishes dispatch messages to a topic and receives them from the
// paired subscription.
type Queue struct {
	client *pubsub.Client
	topic  *pubsub.Topic
	sub    *pubsub.Subscription
	logger *zap.Logger

	recvOnce sync.Once
	recvErr  error
	messages chan monitor.DispatchMessage
	cancel   context.CancelFunc
}

// New creates a Pub/Sub client and verifies the topic exists. It
// authenticates using Application Default Credentials.
func New(ctx context.Context, cfg Config, logger *zap.Logger) (*Queue, error) {
	if cfg.ProjectID == "" || cfg.TopicID == "" {
		return nil, fmt.Errorf("pubsub project and topic are required")
	}
	client, err := pubsub.NewClient(ctx, cfg.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("create pubsub client: %w", err)
	}
	topic := client.Topic(cfg.TopicID)
	exists, err := topic.Exists(ctx)
	if err != nil {
		if closeErr := client.Close(); closeErr != nil {
			logger.Warn("close pubsub client after topic check failure", zap.Error(closeErr))
		}
		return nil, fmt.Errorf("check pubsub topic %q: %w", cfg.TopicID, err)
	}
	if !exists {
		if closeErr := client.Close(); closeErr != nil {
			logger.Warn("close pubsub client after topic check failure", zap.Error(closeErr))
		}
		return nil, fmt.Errorf("pubsub topic %q does not exist in project %q", cfg.TopicID, cfg.ProjectID)
	}

	q := &Queue{
		client:   client,
		topic:    topic,
		logger:   logger,
		messages: make(chan monitor.DispatchMessage),
	}
	if cfg.Subscription != "" {
		q.sub = client.Subscription(cfg.Subscription)
	}
	return q, nil
}

// Enqueue publishes the dispatch message as JSON and waits for the server
// acknowledgment so a failed publish surfaces to the caller.
func (q *Queue) Enqueue(ctx context.Context, msg monitor.DispatchMessage) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal dispatch message: %w", err)
	}
	result := q.topic.Publish(ctx, &pubsub.Message{
		Data: data,
		Attributes: map[string]string{
			"tier": string(msg.Tier),
		},
	})
	if _, err := result.Get(ctx); err != nil {
		return fmt.Errorf("publish dispatch message: %w", err)
	}
	return nil
}

// Dequeue returns the next dispatch message from the subscription. The
// first call starts the background receive loop; messages are acked when
// handed to the caller.
func (q *Queue) Dequeue(ctx context.Context) (monitor.DispatchMessage, error) {
	q.recvOnce.Do(q.startReceive)
	if q.recvErr != nil {
		return monitor.DispatchMessage{}, q.recvErr
	}
	select {
	case <-ctx.Done():
		return monitor.DispatchMessage{}, fmt.Errorf("dequeue canceled: %w", ctx.Err())
	case msg, ok := <-q.messages:
		if !ok {
			return monitor.DispatchMessage{}, fmt.Errorf("pubsub receive loop stopped")
		}
		return msg, nil
	}
}

func (q *Queue) startReceive() {
	if q.sub == nil {
		q.recvErr = fmt.Errorf("pubsub subscription is not configured")
		return
	}
	recvCtx, cancel := context.WithCancel(context.Background())
	q.cancel = cancel
	go func() {
		defer close(q.messages)
		err := q.sub.Receive(recvCtx, func(ctx context.Context, m *pubsub.Message) {
			var msg monitor.DispatchMessage
			if err := json.Unmarshal(m.Data, &msg); err != nil {
				q.logger.Warn("drop malformed dispatch message",
					zap.String("message_id", m.ID),
					zap.Error(err),
				)
				m.Ack()
				return
			}
			select {
			case q.messages <- msg:
				m.Ack()
			case <-recvCtx.Done():
				m.Nack()
			}
		})
		if err != nil && recvCtx.Err() == nil {
			q.logger.Error("pubsub receive loop exited", zap.Error(err))
		}
	}()
}

// Close stops the receive loop, flushes pending publishes, and closes the
// client connection.
func (q *Queue) Close() error {
	if q.cancel != nil {
		q.cancel()
	}
	q.topic.Stop()
	if err := q.client.Close(); err != nil {
		return fmt.Errorf("close pubsub client: %w", err)
	}
	return nil
}
