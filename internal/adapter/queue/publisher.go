package queue

import (
	"context"
	"encoding/json"

	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/propagation"

	"github.com/jnsystems/sms-gateway/internal/domain"
	"github.com/jnsystems/sms-gateway/pkg/tracing"
)

const OutboundTopic = "sms.outbound"

type DispatchPayload struct {
	MessageID string            `json:"message_id"`
	Attempt   int               `json:"attempt"`
	Carrier   map[string]string `json:"carrier,omitempty"`
}

type Producer struct {
	writer *kafka.Writer
}

func NewProducer(brokers []string) *Producer {
	return &Producer{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireOne,
			Async:        false,
		},
	}
}

func (p *Producer) Enqueue(ctx context.Context, m *domain.Message) error {
	ctx, span := tracing.Tracer().Start(ctx, "kafka.produce")
	defer span.End()

	span.SetAttributes(
		attribute.String("messaging.system", "kafka"),
		attribute.String("messaging.destination.name", OutboundTopic),
		attribute.String("messaging.operation.type", "publish"),
		attribute.String("message.id", m.ID.String()),
	)

	payload := DispatchPayload{
		MessageID: m.ID.String(),
		Attempt:   m.RetryCount,
		Carrier:   propagateTraceContext(ctx),
	}

	value, err := json.Marshal(payload)
	if err != nil {
		tracing.RecordError(span, err)
		return err
	}

	if err := p.writer.WriteMessages(ctx, kafka.Message{
		Topic: OutboundTopic,
		Key:   []byte(m.ID.String()),
		Value: value,
	}); err != nil {
		tracing.RecordError(span, err)
		return err
	}

	return nil
}

func (p *Producer) Close() error {
	return p.writer.Close()
}

func propagateTraceContext(ctx context.Context) map[string]string {
	carrier := make(map[string]string)
	propagation.TraceContext{}.Inject(ctx, propagation.MapCarrier(carrier))
	return carrier
}
