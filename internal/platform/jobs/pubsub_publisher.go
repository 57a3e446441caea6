package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"cloud.google.com/go/pubsub"

	"github.com/flowix-ar/storefront/internal/services"
)

const eventTypeOrderPlaced = "order.placed"

// PubSubOrderPublisher publishes order lifecycle events to a Pub/Sub topic.
type PubSubOrderPublisher struct {
	topic   *pubsub.Topic
	marshal func(any) ([]byte, error)
}

// NewPubSubOrderPublisher constructs a Pub/Sub backed order event publisher.
func NewPubSubOrderPublisher(topic *pubsub.Topic) (*PubSubOrderPublisher, error) {
	if topic == nil {
		return nil, errors.New("pubsub order publisher: topic is required")
	}
	return &PubSubOrderPublisher{
		topic:   topic,
		marshal: json.Marshal,
	}, nil
}

// PublishOrderPlaced sends the event and waits for the server-assigned message id.
func (p *PubSubOrderPublisher) PublishOrderPlaced(ctx context.Context, event services.OrderPlacedEvent) (string, error) {
	if p == nil || p.topic == nil {
		return "", errors.New("pubsub order publisher: not initialised")
	}

	data, err := p.marshal(event)
	if err != nil {
		return "", fmt.Errorf("marshal order event: %w", err)
	}

	attrs := map[string]string{"eventType": eventTypeOrderPlaced}
	setAttr(attrs, "eventId", event.EventID)
	setAttr(attrs, "storeId", event.StoreID)
	setAttr(attrs, "orderId", event.OrderID)
	if event.Number > 0 {
		attrs["orderNumber"] = strconv.FormatInt(event.Number, 10)
	}

	msg := &pubsub.Message{Data: data, Attributes: attrs}
	// Keep per-store ordering when the topic has message ordering enabled.
	if p.topic.EnableMessageOrdering {
		msg.OrderingKey = event.StoreID
	}
	id, err := p.topic.Publish(ctx, msg).Get(ctx)
	if err != nil {
		return "", fmt.Errorf("publish order event: %w", err)
	}
	return id, nil
}

func setAttr(attrs map[string]string, key string, value string) {
	if v := strings.TrimSpace(value); v != "" {
		attrs[key] = v
	}
}
