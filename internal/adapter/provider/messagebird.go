package provider

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/attribute"

	"github.com/jnsystems/sms-gateway/internal/domain"
	"github.com/jnsystems/sms-gateway/internal/port"
	"github.com/jnsystems/sms-gateway/pkg/circuitbreaker"
	"github.com/jnsystems/sms-gateway/pkg/tracing"
)

const messageBirdAPIBase = "https://rest.messagebird.com"

// DefaultOriginator is the sender id used when no originator is configured.
const DefaultOriginator = "JNBusiness"

const (
	messageBirdPriceDE       = 6.75
	messageBirdPriceFallback = 10.0
)

var messageBirdStatusMap = map[string]domain.Status{
	"scheduled":       domain.StatusPending,
	"buffered":        domain.StatusSent,
	"sent":            domain.StatusSent,
	"delivered":       domain.StatusDelivered,
	"delivery_failed": domain.StatusFailed,
	"expired":         domain.StatusFailed,
}

type MessageBirdConfig struct {
	APIKey     string
	Originator string
	BaseURL    string // defaults to the public MessageBird API; tests point this at a stub
}

// MessageBird implements port.SMSProvider against the MessageBird REST API.
type MessageBird struct {
	cfg        MessageBirdConfig
	baseURL    string
	originator string
	httpClient *http.Client
	breaker    *circuitbreaker.Breaker
}

func NewMessageBird(cfg MessageBirdConfig) *MessageBird {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = messageBirdAPIBase
	}
	originator := cfg.Originator
	if originator == "" {
		originator = DefaultOriginator
	}
	return &MessageBird{
		cfg:        cfg,
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		originator: originator,
		httpClient: &http.Client{
			Timeout:   10 * time.Second,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		breaker: circuitbreaker.New("messagebird"),
	}
}

func (m *MessageBird) Name() string { return "messagebird" }

func (m *MessageBird) Available() bool {
	return m.cfg.APIKey != ""
}

type messageBirdSendRequest struct {
	Originator string   `json:"originator"`
	Recipients []string `json:"recipients"`
	Body       string   `json:"body"`
}

type messageBirdMessage struct {
	ID         string `json:"id"`
	Recipients struct {
		Items []struct {
			Recipient      int64   `json:"recipient"`
			Status         string  `json:"status"`
			StatusDatetime *string `json:"statusDatetime"`
		} `json:"items"`
	} `json:"recipients"`
}

type messageBirdErrorResponse struct {
	Errors []struct {
		Code        int    `json:"code"`
		Description string `json:"description"`
	} `json:"errors"`
}

func (m *MessageBird) Send(ctx context.Context, req port.SendRequest) (*port.SendResult, error) {
	if !m.Available() {
		return nil, fmt.Errorf("%w: messagebird: api key not configured", domain.ErrProviderUnavailable)
	}
	if req.PhoneNumber == "" {
		return nil, domain.ErrEmptyRecipient
	}
	if req.Message == "" {
		return nil, domain.ErrEmptyMessage
	}

	ctx, span := tracing.Tracer().Start(ctx, "messagebird.send")
	defer span.End()
	span.SetAttributes(
		attribute.String("sms.provider", "messagebird"),
		attribute.String("sms.recipient", req.PhoneNumber),
	)

	result, err := m.breaker.Execute(func() (any, error) {
		return m.doSend(ctx, req)
	})
	if err != nil {
		tracing.RecordError(span, err)
		return nil, wrapBreakerError("messagebird", err)
	}

	resp := result.(*port.SendResult)
	span.SetAttributes(attribute.String("sms.provider_message_id", resp.MessageID))
	return resp, nil
}

func (m *MessageBird) doSend(ctx context.Context, req port.SendRequest) (*port.SendResult, error) {
	originator := req.From
	if originator == "" {
		originator = m.originator
	}

	payload, err := json.Marshal(messageBirdSendRequest{
		Originator: originator,
		Recipients: []string{req.PhoneNumber},
		Body:       req.Message,
	})
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, m.baseURL+"/messages", bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "AccessKey "+m.cfg.APIKey)

	httpResp, err := m.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%w: messagebird: %v", domain.ErrProviderUnavailable, err)
	}
	defer func() { _ = httpResp.Body.Close() }()

	body, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: messagebird: reading response: %v", domain.ErrSendFailed, err)
	}

	if httpResp.StatusCode >= 400 {
		var apiErr messageBirdErrorResponse
		if jsonErr := json.Unmarshal(body, &apiErr); jsonErr == nil && len(apiErr.Errors) > 0 {
			return nil, fmt.Errorf("%w: messagebird: %s (code %d)",
				domain.ErrSendFailed, apiErr.Errors[0].Description, apiErr.Errors[0].Code)
		}
		return nil, fmt.Errorf("%w: messagebird: status %d", domain.ErrSendFailed, httpResp.StatusCode)
	}

	var msg messageBirdMessage
	if err := json.Unmarshal(body, &msg); err != nil {
		return nil, fmt.Errorf("%w: messagebird: parsing response: %v", domain.ErrSendFailed, err)
	}

	status := domain.StatusSent
	if len(msg.Recipients.Items) > 0 {
		status = m.normalizeStatus(msg.Recipients.Items[0].Status)
	}

	return &port.SendResult{
		MessageID: msg.ID,
		Status:    status,
		CostCents: m.Cost(req.Message, domain.DefaultCountry),
		Provider:  m.Name(),
	}, nil
}

func (m *MessageBird) Status(ctx context.Context, messageID string) (*port.StatusResult, error) {
	if !m.Available() {
		return nil, fmt.Errorf("%w: messagebird: api key not configured", domain.ErrProviderUnavailable)
	}

	ctx, span := tracing.Tracer().Start(ctx, "messagebird.status")
	defer span.End()
	span.SetAttributes(attribute.String("sms.provider_message_id", messageID))

	result, err := m.breaker.Execute(func() (any, error) {
		return m.doStatus(ctx, messageID)
	})
	if err != nil {
		tracing.RecordError(span, err)
		return nil, wrapBreakerError("messagebird", err)
	}
	return result.(*port.StatusResult), nil
}

func (m *MessageBird) doStatus(ctx context.Context, messageID string) (*port.StatusResult, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, m.baseURL+"/messages/"+messageID, nil)
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Authorization", "AccessKey "+m.cfg.APIKey)

	httpResp, err := m.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%w: messagebird: %v", domain.ErrStatusLookup, err)
	}
	defer func() { _ = httpResp.Body.Close() }()

	body, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: messagebird: reading response: %v", domain.ErrStatusLookup, err)
	}

	if httpResp.StatusCode >= 400 {
		return nil, fmt.Errorf("%w: messagebird: status %d for message %s", domain.ErrStatusLookup, httpResp.StatusCode, messageID)
	}

	var msg messageBirdMessage
	if err := json.Unmarshal(body, &msg); err != nil {
		return nil, fmt.Errorf("%w: messagebird: parsing response: %v", domain.ErrStatusLookup, err)
	}

	result := &port.StatusResult{Status: domain.StatusUnknown}
	if len(msg.Recipients.Items) > 0 {
		item := msg.Recipients.Items[0]
		result.Status = m.normalizeStatus(item.Status)
		if item.StatusDatetime != nil {
			if ts, err := time.Parse(time.RFC3339, *item.StatusDatetime); err == nil {
				result.DeliveredAt = &ts
			}
		}
	}
	return result, nil
}

func (m *MessageBird) Cost(message, country string) int {
	price := messageBirdPriceFallback
	if country == "DE" {
		price = messageBirdPriceDE
	}
	return int(math.Round(float64(domain.SegmentCount(message)) * price))
}

// VerifyWebhook checks the MessageBird-Signature scheme: hex(HMAC-SHA256(secret,
// timestamp + rawBody)), compared constant-time.
func (m *MessageBird) VerifyWebhook(req port.WebhookRequest, secret string) bool {
	if secret == "" || req.Signature == "" || req.Timestamp == "" {
		return false
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(req.Timestamp))
	mac.Write(req.Body)
	expected := hex.EncodeToString(mac.Sum(nil))

	return hmac.Equal([]byte(expected), []byte(req.Signature))
}

type messageBirdWebhookPayload struct {
	Message struct {
		ID             string  `json:"id"`
		Status         string  `json:"status"`
		StatusDatetime *string `json:"statusDatetime"`
		Errors         []struct {
			Code        int    `json:"code"`
			Description string `json:"description"`
		} `json:"errors"`
	} `json:"message"`
}

func (m *MessageBird) ParseWebhook(req port.WebhookRequest) (*domain.WebhookEvent, error) {
	var payload messageBirdWebhookPayload
	if err := json.Unmarshal(req.Body, &payload); err != nil {
		return nil, fmt.Errorf("messagebird webhook: %w", err)
	}
	if payload.Message.ID == "" {
		return nil, fmt.Errorf("messagebird webhook: missing message id")
	}

	event := &domain.WebhookEvent{
		ProviderMessageID: payload.Message.ID,
		Status:            m.normalizeStatus(payload.Message.Status),
		RawStatus:         payload.Message.Status,
	}
	if payload.Message.StatusDatetime != nil {
		if ts, err := time.Parse(time.RFC3339, *payload.Message.StatusDatetime); err == nil {
			event.Timestamp = &ts
		}
	}
	if len(payload.Message.Errors) > 0 {
		event.ErrorCode = fmt.Sprintf("%d", payload.Message.Errors[0].Code)
		event.ErrorMessage = payload.Message.Errors[0].Description
	}
	return event, nil
}

func (m *MessageBird) normalizeStatus(raw string) domain.Status {
	if s, ok := messageBirdStatusMap[strings.ToLower(raw)]; ok {
		return s
	}
	return domain.StatusUnknown
}
