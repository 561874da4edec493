package provider

import (
	"context"
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/attribute"

	"github.com/jnsystems/sms-gateway/internal/domain"
	"github.com/jnsystems/sms-gateway/internal/port"
	"github.com/jnsystems/sms-gateway/pkg/circuitbreaker"
	"github.com/jnsystems/sms-gateway/pkg/tracing"
)

const twilioAPIBase = "https://api.twilio.com"

// Germany has a dedicated per-segment rate; everywhere else bills the flat
// fallback rate.
const (
	twilioPriceDE       = 7.7
	twilioPriceFallback = 10.0
)

var twilioStatusMap = map[string]domain.Status{
	"queued":      domain.StatusPending,
	"accepted":    domain.StatusPending,
	"scheduled":   domain.StatusPending,
	"sending":     domain.StatusPending,
	"sent":        domain.StatusSent,
	"delivered":   domain.StatusDelivered,
	"read":        domain.StatusDelivered,
	"undelivered": domain.StatusFailed,
	"failed":      domain.StatusFailed,
	"canceled":    domain.StatusFailed,
}

type TwilioConfig struct {
	AccountSID string
	AuthToken  string
	FromNumber string
	BaseURL    string // defaults to the public Twilio API; tests point this at a stub
}

// Twilio implements port.SMSProvider against the Twilio Messages API.
type Twilio struct {
	cfg        TwilioConfig
	baseURL    string
	httpClient *http.Client
	breaker    *circuitbreaker.Breaker
}

func NewTwilio(cfg TwilioConfig) *Twilio {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = twilioAPIBase
	}
	return &Twilio{
		cfg:     cfg,
		baseURL: strings.TrimSuffix(baseURL, "/"),
		httpClient: &http.Client{
			Timeout:   10 * time.Second,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		breaker: circuitbreaker.New("twilio"),
	}
}

func (t *Twilio) Name() string { return "twilio" }

func (t *Twilio) Available() bool {
	return t.cfg.AccountSID != "" && t.cfg.AuthToken != "" && t.cfg.FromNumber != ""
}

type twilioMessageResponse struct {
	SID          string  `json:"sid"`
	Status       string  `json:"status"`
	ErrorCode    *int    `json:"error_code"`
	ErrorMessage *string `json:"error_message"`
	DateSent     *string `json:"date_sent"`
}

type twilioErrorResponse struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (t *Twilio) Send(ctx context.Context, req port.SendRequest) (*port.SendResult, error) {
	if !t.Available() {
		return nil, fmt.Errorf("%w: twilio: credentials not configured", domain.ErrProviderUnavailable)
	}
	if req.PhoneNumber == "" {
		return nil, domain.ErrEmptyRecipient
	}
	if req.Message == "" {
		return nil, domain.ErrEmptyMessage
	}

	ctx, span := tracing.Tracer().Start(ctx, "twilio.send")
	defer span.End()
	span.SetAttributes(
		attribute.String("sms.provider", "twilio"),
		attribute.String("sms.recipient", req.PhoneNumber),
	)

	result, err := t.breaker.Execute(func() (any, error) {
		return t.doSend(ctx, req)
	})
	if err != nil {
		tracing.RecordError(span, err)
		return nil, wrapBreakerError("twilio", err)
	}

	resp := result.(*port.SendResult)
	span.SetAttributes(attribute.String("sms.provider_message_id", resp.MessageID))
	return resp, nil
}

func (t *Twilio) doSend(ctx context.Context, req port.SendRequest) (*port.SendResult, error) {
	from := req.From
	if from == "" {
		from = t.cfg.FromNumber
	}

	form := url.Values{}
	form.Set("To", req.PhoneNumber)
	form.Set("From", from)
	form.Set("Body", req.Message)

	endpoint := fmt.Sprintf("%s/2010-04-01/Accounts/%s/Messages.json", t.baseURL, t.cfg.AccountSID)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	httpReq.SetBasicAuth(t.cfg.AccountSID, t.cfg.AuthToken)

	httpResp, err := t.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%w: twilio: %v", domain.ErrProviderUnavailable, err)
	}
	defer func() { _ = httpResp.Body.Close() }()

	body, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: twilio: reading response: %v", domain.ErrSendFailed, err)
	}

	if httpResp.StatusCode >= 400 {
		var apiErr twilioErrorResponse
		if jsonErr := json.Unmarshal(body, &apiErr); jsonErr == nil && apiErr.Message != "" {
			return nil, fmt.Errorf("%w: twilio: %s (code %d)", domain.ErrSendFailed, apiErr.Message, apiErr.Code)
		}
		return nil, fmt.Errorf("%w: twilio: status %d", domain.ErrSendFailed, httpResp.StatusCode)
	}

	var msg twilioMessageResponse
	if err := json.Unmarshal(body, &msg); err != nil {
		return nil, fmt.Errorf("%w: twilio: parsing response: %v", domain.ErrSendFailed, err)
	}

	return &port.SendResult{
		MessageID: msg.SID,
		Status:    t.normalizeStatus(msg.Status),
		CostCents: t.Cost(req.Message, domain.DefaultCountry),
		Provider:  t.Name(),
	}, nil
}

func (t *Twilio) Status(ctx context.Context, messageID string) (*port.StatusResult, error) {
	if !t.Available() {
		return nil, fmt.Errorf("%w: twilio: credentials not configured", domain.ErrProviderUnavailable)
	}

	ctx, span := tracing.Tracer().Start(ctx, "twilio.status")
	defer span.End()
	span.SetAttributes(attribute.String("sms.provider_message_id", messageID))

	result, err := t.breaker.Execute(func() (any, error) {
		return t.doStatus(ctx, messageID)
	})
	if err != nil {
		tracing.RecordError(span, err)
		return nil, wrapBreakerError("twilio", err)
	}
	return result.(*port.StatusResult), nil
}

func (t *Twilio) doStatus(ctx context.Context, messageID string) (*port.StatusResult, error) {
	endpoint := fmt.Sprintf("%s/2010-04-01/Accounts/%s/Messages/%s.json", t.baseURL, t.cfg.AccountSID, messageID)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	httpReq.SetBasicAuth(t.cfg.AccountSID, t.cfg.AuthToken)

	httpResp, err := t.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%w: twilio: %v", domain.ErrStatusLookup, err)
	}
	defer func() { _ = httpResp.Body.Close() }()

	body, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: twilio: reading response: %v", domain.ErrStatusLookup, err)
	}

	if httpResp.StatusCode >= 400 {
		return nil, fmt.Errorf("%w: twilio: status %d for message %s", domain.ErrStatusLookup, httpResp.StatusCode, messageID)
	}

	var msg twilioMessageResponse
	if err := json.Unmarshal(body, &msg); err != nil {
		return nil, fmt.Errorf("%w: twilio: parsing response: %v", domain.ErrStatusLookup, err)
	}

	status := &port.StatusResult{Status: t.normalizeStatus(msg.Status)}
	if msg.DateSent != nil {
		if ts, err := time.Parse(time.RFC1123Z, *msg.DateSent); err == nil {
			status.DeliveredAt = &ts
		}
	}
	if msg.ErrorCode != nil {
		status.ErrorCode = fmt.Sprintf("%d", *msg.ErrorCode)
	}
	if msg.ErrorMessage != nil {
		status.ErrorMessage = *msg.ErrorMessage
	}
	return status, nil
}

func (t *Twilio) Cost(message, country string) int {
	price := twilioPriceFallback
	if country == "DE" {
		price = twilioPriceDE
	}
	return int(math.Round(float64(domain.SegmentCount(message)) * price))
}

// VerifyWebhook checks the X-Twilio-Signature scheme: base64(HMAC-SHA1(secret,
// url + sorted(key+value))) over the request URL and form params. The
// comparison is constant-time; Twilio's own SDK convention of a plain string
// compare is not carried over.
func (t *Twilio) VerifyWebhook(req port.WebhookRequest, secret string) bool {
	if secret == "" || req.Signature == "" || req.URL == "" {
		return false
	}

	keys := make([]string, 0, len(req.Params))
	for k := range req.Params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString(req.URL)
	for _, k := range keys {
		b.WriteString(k)
		b.WriteString(req.Params[k])
	}

	mac := hmac.New(sha1.New, []byte(secret))
	mac.Write([]byte(b.String()))
	expected := base64.StdEncoding.EncodeToString(mac.Sum(nil))

	return hmac.Equal([]byte(expected), []byte(req.Signature))
}

func (t *Twilio) ParseWebhook(req port.WebhookRequest) (*domain.WebhookEvent, error) {
	sid := req.Params["MessageSid"]
	if sid == "" {
		sid = req.Params["SmsSid"]
	}
	if sid == "" {
		return nil, fmt.Errorf("twilio webhook: missing MessageSid")
	}

	raw := req.Params["MessageStatus"]
	if raw == "" {
		raw = req.Params["SmsStatus"]
	}

	return &domain.WebhookEvent{
		ProviderMessageID: sid,
		Status:            t.normalizeStatus(raw),
		RawStatus:         raw,
		ErrorCode:         req.Params["ErrorCode"],
		ErrorMessage:      req.Params["ErrorMessage"],
	}, nil
}

func (t *Twilio) normalizeStatus(raw string) domain.Status {
	if s, ok := twilioStatusMap[strings.ToLower(raw)]; ok {
		return s
	}
	return domain.StatusUnknown
}
