package worker

import (
	"context"
	"log"

	"storefront-service/internal/broker"
	"storefront-service/internal/models"
	"storefront-service/internal/redisclient"
)

// EntitlementWorker consumes order events and drops stale cached access
// decisions. The cache TTL already bounds staleness; this just shortens the
// window after a purchase so new buyers see their content immediately.
type EntitlementWorker struct {
	consumer     *broker.Consumer
	eventHandler *broker.EventHandler
	redis        *redisclient.Client
}

// NewEntitlementWorker creates a new entitlement worker
func NewEntitlementWorker(consumer *broker.Consumer, redis *redisclient.Client) *EntitlementWorker {
	eventHandler := broker.NewEventHandler()

	worker := &EntitlementWorker{
		consumer:     consumer,
		eventHandler: eventHandler,
		redis:        redis,
	}

	eventHandler.OnEntitlementGranted(worker.handleEntitlementGranted)

	return worker
}

// Start starts the worker
func (w *EntitlementWorker) Start(ctx context.Context) error {
	log.Println("Starting entitlement worker...")
	return w.consumer.StartConsuming(ctx, w.eventHandler.HandleMessage)
}

// Stop stops the worker
func (w *EntitlementWorker) Stop() error {
	log.Println("Stopping entitlement worker...")
	return w.consumer.Close()
}

func (w *EntitlementWorker) handleEntitlementGranted(ctx context.Context, event *models.EntitlementGrantedEvent) error {
	log.Printf("Invalidating access cache for user %d, product %d", event.UserID, event.ProductID)
	return w.redis.InvalidateAccess(ctx, event.UserID, event.ProductID)
}
