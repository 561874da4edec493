package port

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jnsystems/sms-gateway/internal/domain"
)

type MessageRepository interface {
	Create(ctx context.Context, message *domain.Message) error
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Message, error)
	GetByIdempotencyKey(ctx context.Context, key string) (*domain.Message, error)
	GetByProviderMessageID(ctx context.Context, provider, providerMessageID string) (*domain.Message, error)
	List(ctx context.Context, filter domain.MessageFilter) ([]*domain.Message, error)
	UpdateStatus(ctx context.Context, message *domain.Message) error
	Cancel(ctx context.Context, id uuid.UUID) error
	ListDueScheduled(ctx context.Context, limit int) ([]*domain.Message, error)
	ListStuckSending(ctx context.Context, olderThan time.Duration, limit int) ([]*domain.Message, error)
	GetProviderStats(ctx context.Context) ([]domain.ProviderStats, error)
}
