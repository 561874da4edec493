package app

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/jnsystems/sms-gateway/internal/adapter/provider"
	"github.com/jnsystems/sms-gateway/internal/domain"
	"github.com/jnsystems/sms-gateway/internal/port"
	"github.com/jnsystems/sms-gateway/pkg/tracing"
)

// WebhookService applies vendor delivery callbacks to stored messages.
// Secrets are keyed by provider name so each vendor's signature scheme
// verifies against its own credential.
type WebhookService struct {
	repo        port.MessageRepository
	registry    *provider.Registry
	secrets     map[string]string
	broadcaster port.StatusBroadcaster
	logger      *zap.Logger
}

func NewWebhookService(
	repo port.MessageRepository,
	registry *provider.Registry,
	secrets map[string]string,
	broadcaster port.StatusBroadcaster,
	logger *zap.Logger,
) *WebhookService {
	return &WebhookService{
		repo:        repo,
		registry:    registry,
		secrets:     secrets,
		broadcaster: broadcaster,
		logger:      logger,
	}
}

func (s *WebhookService) Process(ctx context.Context, providerName string, req port.WebhookRequest) error {
	ctx, span := tracing.Tracer().Start(ctx, "webhook.process")
	defer span.End()

	span.SetAttributes(attribute.String("sms.provider", providerName))

	p, ok := s.registry.ByName(providerName)
	if !ok {
		tracing.RecordError(span, domain.ErrUnknownProvider)
		return domain.ErrUnknownProvider
	}

	if !p.VerifyWebhook(req, s.secrets[p.Name()]) {
		s.logger.Warn("webhook signature rejected",
			zap.String("provider", p.Name()),
			zap.String("url", req.URL),
		)
		tracing.RecordError(span, domain.ErrInvalidSignature)
		return domain.ErrInvalidSignature
	}

	event, err := p.ParseWebhook(req)
	if err != nil {
		tracing.RecordError(span, err)
		return err
	}

	span.SetAttributes(
		attribute.String("webhook.provider_message_id", event.ProviderMessageID),
		attribute.String("webhook.status", string(event.Status)),
		attribute.String("webhook.raw_status", event.RawStatus),
	)

	msg, err := s.repo.GetByProviderMessageID(ctx, p.Name(), event.ProviderMessageID)
	if err != nil {
		if errors.Is(err, domain.ErrMessageNotFound) {
			// Callbacks for messages we never sent are logged and dropped, not
			// surfaced as handler errors, or the vendor would retry forever.
			s.logger.Warn("webhook for unknown message",
				zap.String("provider", p.Name()),
				zap.String("provider_message_id", event.ProviderMessageID),
				zap.String("raw_status", event.RawStatus),
			)
			span.SetAttributes(attribute.Bool("webhook.unknown_message", true))
			return nil
		}
		tracing.RecordError(span, err)
		return err
	}

	if err := msg.ApplyDeliveryUpdate(event.Status, event.Timestamp, event.ErrorMessage); err != nil {
		if errors.Is(err, domain.ErrInvalidStatusTransition) {
			s.logger.Info("webhook ignored, out-of-order or terminal",
				zap.String("id", msg.ID.String()),
				zap.String("current_status", string(msg.Status)),
				zap.String("webhook_status", string(event.Status)),
			)
			span.SetAttributes(attribute.Bool("webhook.ignored", true))
			return nil
		}
		tracing.RecordError(span, err)
		return err
	}

	if err := s.repo.UpdateStatus(ctx, msg); err != nil {
		tracing.RecordError(span, err)
		return err
	}

	s.broadcaster.Broadcast(msg.ID.String(), string(msg.Status), msg.Provider, time.Now().UTC().Format(time.RFC3339))

	s.logger.Info("delivery status updated",
		zap.String("id", msg.ID.String()),
		zap.String("provider", p.Name()),
		zap.String("status", string(msg.Status)),
		zap.String("raw_status", event.RawStatus),
		zap.String("trace_id", tracing.TraceIDFromContext(ctx)),
	)

	return nil
}
