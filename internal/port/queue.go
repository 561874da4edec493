package port

import (
	"context"

	"github.com/jnsystems/sms-gateway/internal/domain"
)

type QueuePublisher interface {
	Enqueue(ctx context.Context, message *domain.Message) error
	Close() error
}

type MessageHandler func(ctx context.Context, messageID string) error

type QueueConsumer interface {
	Start(ctx context.Context, handler MessageHandler) error
	Stop(ctx context.Context) error
}

// StatusBroadcaster pushes delivery-status changes to connected dashboards.
type StatusBroadcaster interface {
	Broadcast(messageID, status, provider, timestamp string)
}
