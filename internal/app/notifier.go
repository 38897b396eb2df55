/**
 * @description
 * This file adapts the RabbitMQ event producer to the settlement engine's Notifier
 * contract. Wallet events are published to a topic exchange keyed by event type;
 * downstream notification delivery (push, email, in-app) is another service's job.
 */

package app

import (
	"context"

	"github.com/gigvault/wallet-service/internal/domain"
	"github.com/gigvault/wallet-service/pkg/rabbitmq"
)

// EventNotifier publishes wallet events through a rabbitmq.Publisher.
type EventNotifier struct {
	producer rabbitmq.Publisher
	exchange string
}

// NewEventNotifier creates a Notifier backed by the given producer and exchange.
func NewEventNotifier(producer rabbitmq.Publisher, exchange string) *EventNotifier {
	if exchange == "" {
		exchange = "wallet.events"
	}
	return &EventNotifier{producer: producer, exchange: exchange}
}

// Notify publishes one wallet event. The routing key is the event type, so
// consumers can bind to e.g. "order.*" or "balance.*".
func (n *EventNotifier) Notify(ctx context.Context, accountID, eventType string, event domain.WalletEvent) error {
	return n.producer.Publish(ctx, n.exchange, eventType, event)
}
