package ingest

import (
	"context"
	"encoding/json"
	"fmt"

	"cloud.google.com/go/pubsub"
	"go.uber.org/zap"

	"github.com/crawlops/crawlqueue/internal/crawlqueue"
)

// PubSubQueue adapts a Google Cloud Pub/Sub subscription to the
// DiscoveryQueue interface. Receive pushes into a buffered channel so the
// consumer uses the same pull loop as the in-memory queue; messages are
// acked on delivery, matching the at-least-once model (Append is
// idempotent, so redelivery is harmless).
type PubSubQueue struct {
	client *pubsub.Client
	sub    *pubsub.Subscription
	ch     chan crawlqueue.Discovery
	logger *zap.Logger
}

// NewPubSubQueue creates a Pub/Sub client and verifies the subscription
// exists. It authenticates using Application Default Credentials.
func NewPubSubQueue(ctx context.Context, projectID, subscriptionID string, buffer int, logger *zap.Logger) (*PubSubQueue, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	client, err := pubsub.NewClient(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("create pubsub client: %w", err)
	}
	sub := client.Subscription(subscriptionID)
	exists, err := sub.Exists(ctx)
	if err != nil {
		if closeErr := client.Close(); closeErr != nil {
			logger.Warn("close pubsub client failed", zap.Error(closeErr))
		}
		return nil, fmt.Errorf("check subscription %q: %w", subscriptionID, err)
	}
	if !exists {
		if closeErr := client.Close(); closeErr != nil {
			logger.Warn("close pubsub client failed", zap.Error(closeErr))
		}
		return nil, fmt.Errorf("pubsub subscription %q does not exist in project %q", subscriptionID, projectID)
	}
	return &PubSubQueue{
		client: client,
		sub:    sub,
		ch:     make(chan crawlqueue.Discovery, buffer),
		logger: logger,
	}, nil
}

// Start begins receiving in the background until the context finishes.
func (q *PubSubQueue) Start(ctx context.Context) {
	go func() {
		err := q.sub.Receive(ctx, func(ctx context.Context, msg *pubsub.Message) {
			var d crawlqueue.Discovery
			if err := json.Unmarshal(msg.Data, &d); err != nil {
				q.logger.Warn("malformed discovery message", zap.Error(err))
				msg.Ack()
				return
			}
			select {
			case q.ch <- d:
				msg.Ack()
			case <-ctx.Done():
				msg.Nack()
			}
		})
		if err != nil && ctx.Err() == nil {
			q.logger.Error("pubsub receive stopped", zap.Error(err))
		}
	}()
}

// Enqueue is not used in production (workers publish directly to the
// topic); it exists so the control plane can replay discoveries through the
// same path in tooling.
func (q *PubSubQueue) Enqueue(ctx context.Context, d crawlqueue.Discovery) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("enqueue canceled: %w", ctx.Err())
	case q.ch <- d:
		return nil
	}
}

// Dequeue pops the next discovery, respecting context cancellation.
func (q *PubSubQueue) Dequeue(ctx context.Context) (crawlqueue.Discovery, error) {
	select {
	case <-ctx.Done():
		return crawlqueue.Discovery{}, fmt.Errorf("dequeue canceled: %w", ctx.Err())
	case d := <-q.ch:
		return d, nil
	}
}

// Close releases the Pub/Sub client.
func (q *PubSubQueue) Close() error {
	if err := q.client.Close(); err != nil {
		return fmt.Errorf("close pubsub client: %w", err)
	}
	return nil
}
