package queue

import (
	"context"
	"encoding/json"
	"math"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/propagation"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/jnsystems/sms-gateway/internal/port"
	"github.com/jnsystems/sms-gateway/pkg/tracing"
)

type ConsumerConfig struct {
	Brokers       []string
	Group         string
	RatePerSecond int
	Logger        *zap.Logger
}

type Consumer struct {
	cfg     ConsumerConfig
	reader  *kafka.Reader
	writer  *kafka.Writer
	limiter *rate.Limiter
	logger  *zap.Logger
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

func NewConsumer(cfg ConsumerConfig) *Consumer {
	writer := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
	}

	return &Consumer{
		cfg:     cfg,
		writer:  writer,
		limiter: rate.NewLimiter(rate.Limit(cfg.RatePerSecond), cfg.RatePerSecond),
		logger:  cfg.Logger,
	}
}

func (c *Consumer) Start(ctx context.Context, handler port.MessageHandler) error {
	ctx, cancel := context.WithCancel(ctx)
	c.cancel = cancel

	c.reader = kafka.NewReader(kafka.ReaderConfig{
		Brokers:        c.cfg.Brokers,
		Topic:          OutboundTopic,
		GroupID:        c.cfg.Group,
		MinBytes:       1,
		MaxBytes:       10e6,
		CommitInterval: time.Second,
		StartOffset:    kafka.FirstOffset,
	})

	c.wg.Add(1)
	go c.consume(ctx, handler)

	c.logger.Info("kafka consumer started",
		zap.Strings("brokers", c.cfg.Brokers),
		zap.String("group", c.cfg.Group),
		zap.String("topic", OutboundTopic),
	)

	<-ctx.Done()
	return ctx.Err()
}

func (c *Consumer) Stop(_ context.Context) error {
	if c.cancel != nil {
		c.cancel()
	}
	c.wg.Wait()

	var firstErr error
	if c.reader != nil {
		if err := c.reader.Close(); err != nil {
			firstErr = err
		}
	}
	if err := c.writer.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}

func (c *Consumer) consume(ctx context.Context, handler port.MessageHandler) {
	defer c.wg.Done()

	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			c.logger.Error("fetch message failed", zap.Error(err))
			time.Sleep(time.Second)
			continue
		}

		var payload DispatchPayload
		if err := json.Unmarshal(msg.Value, &payload); err != nil {
			c.logger.Error("unmarshal payload failed", zap.Error(err))
			_ = c.reader.CommitMessages(ctx, msg)
			continue
		}

		msgCtx := ctx
		if len(payload.Carrier) > 0 {
			msgCtx = propagation.TraceContext{}.Extract(ctx, propagation.MapCarrier(payload.Carrier))
		}

		msgCtx, span := tracing.Tracer().Start(msgCtx, "kafka.consume")
		span.SetAttributes(
			attribute.String("messaging.system", "kafka"),
			attribute.String("messaging.source.name", msg.Topic),
			attribute.String("messaging.operation.type", "receive"),
			attribute.String("messaging.consumer.group.id", c.cfg.Group),
			attribute.String("message.id", payload.MessageID),
			attribute.Int("message.attempt", payload.Attempt),
			attribute.Int64("messaging.kafka.message.offset", msg.Offset),
			attribute.Int("messaging.kafka.destination.partition", msg.Partition),
		)

		_ = c.limiter.Wait(msgCtx)

		c.logger.Info("processing dispatch",
			zap.String("message_id", payload.MessageID),
			zap.Int("attempt", payload.Attempt),
			zap.Int64("offset", msg.Offset),
		)

		if err := handler(msgCtx, payload.MessageID); err != nil {
			span.SetAttributes(attribute.Bool("dispatch.will_retry", true))
			tracing.RecordError(span, err)
			span.End()
			c.retry(ctx, msg, payload)
			_ = c.reader.CommitMessages(ctx, msg)
			continue
		}

		span.End()
		_ = c.reader.CommitMessages(ctx, msg)
	}
}

func (c *Consumer) retry(ctx context.Context, original kafka.Message, payload DispatchPayload) {
	time.Sleep(retryDelayForAttempt(payload.Attempt))

	payload.Attempt++
	value, err := json.Marshal(payload)
	if err != nil {
		value = original.Value
	}

	if err := c.writer.WriteMessages(ctx, kafka.Message{
		Topic: original.Topic,
		Key:   original.Key,
		Value: value,
	}); err != nil {
		c.logger.Error("retry re-enqueue failed",
			zap.String("message_id", payload.MessageID),
			zap.Error(err),
		)
	}
}

func retryDelayForAttempt(attempt int) time.Duration {
	baseDelay := time.Second
	maxDelay := 30 * time.Second
	jitter := time.Duration(rand.Int64N(500)) * time.Millisecond

	delay := time.Duration(math.Pow(2, float64(attempt))) * baseDelay
	delay += jitter

	if delay > maxDelay {
		delay = maxDelay
	}
	return delay
}
