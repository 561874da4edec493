package app

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/jnsystems/sms-gateway/internal/adapter/provider"
	"github.com/jnsystems/sms-gateway/internal/domain"
	"github.com/jnsystems/sms-gateway/internal/port"
	"github.com/jnsystems/sms-gateway/pkg/tracing"
)

type DispatchService struct {
	repo        port.MessageRepository
	registry    *provider.Registry
	broadcaster port.StatusBroadcaster
	metrics     *MetricsCollector
	logger      *zap.Logger
}

func NewDispatchService(
	repo port.MessageRepository,
	registry *provider.Registry,
	broadcaster port.StatusBroadcaster,
	metrics *MetricsCollector,
	logger *zap.Logger,
) *DispatchService {
	return &DispatchService{
		repo:        repo,
		registry:    registry,
		broadcaster: broadcaster,
		metrics:     metrics,
		logger:      logger,
	}
}

func (s *DispatchService) ProcessDispatch(ctx context.Context, messageID string) error {
	ctx, span := tracing.Tracer().Start(ctx, "dispatch.process")
	defer span.End()

	span.SetAttributes(attribute.String("message.id", messageID))

	start := time.Now()

	id, err := uuid.Parse(messageID)
	if err != nil {
		tracing.RecordError(span, err)
		return err
	}

	msg, err := s.repo.GetByID(ctx, id)
	if err != nil {
		tracing.RecordError(span, err)
		return err
	}

	span.SetAttributes(
		attribute.String("message.status", string(msg.Status)),
		attribute.Int("message.retry_count", msg.RetryCount),
	)

	if msg.IsTerminal() || msg.Status == domain.StatusSent {
		span.SetAttributes(attribute.Bool("dispatch.skipped", true))
		return nil
	}

	msg.MarkSending()
	if err := s.repo.UpdateStatus(ctx, msg); err != nil {
		tracing.RecordError(span, err)
		return err
	}

	active, err := s.registry.Active()
	if err != nil {
		return s.handleSendFailure(ctx, span, msg, err)
	}

	span.SetAttributes(attribute.String("sms.provider", active.Name()))

	result, sendErr := active.Send(ctx, port.SendRequest{
		PhoneNumber: msg.Recipient,
		Message:     msg.Body,
		From:        msg.From,
	})

	latency := time.Since(start)
	span.SetAttributes(attribute.Int64("dispatch.latency_ms", latency.Milliseconds()))

	if sendErr != nil {
		return s.handleSendFailure(ctx, span, msg, sendErr)
	}

	msg.MarkSent(result.Provider, result.MessageID, result.CostCents)
	if err := s.repo.UpdateStatus(ctx, msg); err != nil {
		s.logger.Error("failed to update sent status", zap.Error(err))
	}

	s.metrics.RecordSuccess(result.Provider, latency)
	s.broadcastStatus(msg)

	span.SetAttributes(tracing.MessageAttrs(msg.ID.String(), msg.Recipient, result.Provider)...)
	span.SetAttributes(
		attribute.Bool("dispatch.success", true),
		attribute.String("dispatch.provider_message_id", result.MessageID),
		attribute.Int("dispatch.cost_cents", result.CostCents),
	)

	s.logger.Info("message sent",
		zap.String("id", messageID),
		zap.String("provider", result.Provider),
		zap.String("provider_message_id", result.MessageID),
		zap.Int("cost_cents", result.CostCents),
		zap.Duration("latency", latency),
		zap.String("trace_id", tracing.TraceIDFromContext(ctx)),
	)

	return nil
}

func (s *DispatchService) handleSendFailure(ctx context.Context, span trace.Span, msg *domain.Message, sendErr error) error {
	msg.IncrementRetry()

	if isTransient(sendErr) && msg.HasRetriesLeft() {
		span.SetAttributes(
			attribute.Bool("dispatch.will_retry", true),
			attribute.Int("dispatch.retry_count", msg.RetryCount),
		)
		if err := s.repo.UpdateStatus(ctx, msg); err != nil {
			s.logger.Error("failed to update retry status", zap.Error(err))
		}
		s.metrics.RecordFailure(msg.Provider)
		s.logger.Warn("dispatch failed, will retry",
			zap.String("id", msg.ID.String()),
			zap.Int("retry", msg.RetryCount),
			zap.Error(sendErr),
			zap.String("trace_id", tracing.TraceIDFromContext(ctx)),
		)
		tracing.RecordError(span, sendErr)
		return sendErr
	}

	msg.MarkFailed(sendErr.Error())
	if err := s.repo.UpdateStatus(ctx, msg); err != nil {
		s.logger.Error("failed to update failed status", zap.Error(err))
	}

	s.metrics.RecordFailure(msg.Provider)
	s.broadcastStatus(msg)

	span.SetAttributes(attribute.Bool("dispatch.permanently_failed", true))
	tracing.RecordError(span, sendErr)

	s.logger.Error("dispatch permanently failed",
		zap.String("id", msg.ID.String()),
		zap.Error(sendErr),
		zap.String("trace_id", tracing.TraceIDFromContext(ctx)),
	)
	return nil
}

func (s *DispatchService) broadcastStatus(m *domain.Message) {
	s.broadcaster.Broadcast(m.ID.String(), string(m.Status), m.Provider, time.Now().UTC().Format(time.RFC3339))
}

func isTransient(err error) bool {
	return errors.Is(err, domain.ErrProviderUnavailable) ||
		errors.Is(err, domain.ErrCircuitOpen) ||
		errors.Is(err, domain.ErrNoProviderAvailable)
}
