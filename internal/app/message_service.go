package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/jnsystems/sms-gateway/internal/adapter/provider"
	"github.com/jnsystems/sms-gateway/internal/domain"
	"github.com/jnsystems/sms-gateway/internal/port"
	"github.com/jnsystems/sms-gateway/pkg/tracing"
)

type MessageService struct {
	repo     port.MessageRepository
	queue    port.QueuePublisher
	registry *provider.Registry
	logger   *zap.Logger
}

func NewMessageService(repo port.MessageRepository, queue port.QueuePublisher, registry *provider.Registry, logger *zap.Logger) *MessageService {
	return &MessageService{
		repo:     repo,
		queue:    queue,
		registry: registry,
		logger:   logger,
	}
}

type CreateMessageInput struct {
	Recipient      string
	Body           string
	From           string
	ScheduledAt    *time.Time
	IdempotencyKey *string
}

func (s *MessageService) Create(ctx context.Context, input CreateMessageInput) (*domain.Message, error) {
	ctx, span := tracing.Tracer().Start(ctx, "message.create")
	defer span.End()

	span.SetAttributes(attribute.String("message.recipient", input.Recipient))

	msg, err := domain.NewMessage(input.Recipient, input.Body, input.From, input.ScheduledAt)
	if err != nil {
		tracing.RecordError(span, err)
		return nil, err
	}
	msg.IdempotencyKey = input.IdempotencyKey

	span.SetAttributes(
		attribute.String("message.id", msg.ID.String()),
		attribute.Int("message.segments", msg.Segments),
	)

	if err := s.repo.Create(ctx, msg); err != nil {
		if errors.Is(err, domain.ErrDuplicateIdempotencyKey) && input.IdempotencyKey != nil {
			span.SetAttributes(attribute.Bool("message.idempotent_hit", true))
			return s.repo.GetByIdempotencyKey(ctx, *input.IdempotencyKey)
		}
		tracing.RecordError(span, err)
		return nil, err
	}

	if msg.ScheduledAt == nil {
		if err := s.queue.Enqueue(ctx, msg); err != nil {
			tracing.RecordError(span, err)
			return nil, err
		}
	}

	s.logger.Info("message created",
		zap.String("id", msg.ID.String()),
		zap.String("recipient", msg.Recipient),
		zap.Int("segments", msg.Segments),
		zap.Bool("scheduled", msg.ScheduledAt != nil),
		zap.String("trace_id", tracing.TraceIDFromContext(ctx)),
	)

	return msg, nil
}

func (s *MessageService) GetByID(ctx context.Context, id uuid.UUID) (*domain.Message, error) {
	return s.repo.GetByID(ctx, id)
}

func (s *MessageService) List(ctx context.Context, filter domain.MessageFilter) ([]*domain.Message, error) {
	return s.repo.List(ctx, filter)
}

func (s *MessageService) Cancel(ctx context.Context, id uuid.UUID) error {
	ctx, span := tracing.Tracer().Start(ctx, "message.cancel")
	defer span.End()

	span.SetAttributes(attribute.String("message.id", id.String()))

	msg, err := s.repo.GetByID(ctx, id)
	if err != nil {
		tracing.RecordError(span, err)
		return err
	}

	if err := msg.Cancel(); err != nil {
		tracing.RecordError(span, err)
		return err
	}

	if err := s.repo.Cancel(ctx, id); err != nil {
		tracing.RecordError(span, err)
		return err
	}

	s.logger.Info("message cancelled",
		zap.String("id", id.String()),
		zap.String("trace_id", tracing.TraceIDFromContext(ctx)),
	)
	return nil
}

// RefreshStatus polls the vendor for the current delivery status of a sent
// message and applies the result through the same lifecycle guard the
// webhooks use. Messages that never reached a vendor are returned unchanged.
func (s *MessageService) RefreshStatus(ctx context.Context, id uuid.UUID) (*domain.Message, error) {
	ctx, span := tracing.Tracer().Start(ctx, "message.refresh_status")
	defer span.End()

	span.SetAttributes(attribute.String("message.id", id.String()))

	msg, err := s.repo.GetByID(ctx, id)
	if err != nil {
		tracing.RecordError(span, err)
		return nil, err
	}

	if msg.Provider == "" || msg.ProviderMessageID == nil {
		return msg, nil
	}

	p, ok := s.registry.ByName(msg.Provider)
	if !ok {
		err := fmt.Errorf("%w: %s", domain.ErrUnknownProvider, msg.Provider)
		tracing.RecordError(span, err)
		return nil, err
	}

	result, err := p.Status(ctx, *msg.ProviderMessageID)
	if err != nil {
		tracing.RecordError(span, err)
		return nil, err
	}

	span.SetAttributes(attribute.String("message.vendor_status", string(result.Status)))

	if err := msg.ApplyDeliveryUpdate(result.Status, result.DeliveredAt, result.ErrorMessage); err != nil {
		// Vendor reported no forward progress; the stored state stands.
		if errors.Is(err, domain.ErrInvalidStatusTransition) {
			return msg, nil
		}
		tracing.RecordError(span, err)
		return nil, err
	}

	if err := s.repo.UpdateStatus(ctx, msg); err != nil {
		tracing.RecordError(span, err)
		return nil, err
	}

	s.logger.Info("message status refreshed",
		zap.String("id", msg.ID.String()),
		zap.String("provider", msg.Provider),
		zap.String("status", string(msg.Status)),
		zap.String("trace_id", tracing.TraceIDFromContext(ctx)),
	)
	return msg, nil
}
