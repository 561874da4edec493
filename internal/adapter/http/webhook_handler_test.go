package http

import (
	"context"
	"crypto/hmac"
	"crypto/sha1"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/jnsystems/sms-gateway/internal/adapter/provider"
	"github.com/jnsystems/sms-gateway/internal/app"
	"github.com/jnsystems/sms-gateway/internal/domain"
)

// memRepo is the minimal in-memory repository the webhook path touches.
type memRepo struct {
	messages map[uuid.UUID]*domain.Message
}

func newMemRepo() *memRepo {
	return &memRepo{messages: make(map[uuid.UUID]*domain.Message)}
}

func (r *memRepo) Create(_ context.Context, m *domain.Message) error {
	r.messages[m.ID] = m
	return nil
}

func (r *memRepo) GetByID(_ context.Context, id uuid.UUID) (*domain.Message, error) {
	m, ok := r.messages[id]
	if !ok {
		return nil, domain.ErrMessageNotFound
	}
	return m, nil
}

func (r *memRepo) GetByIdempotencyKey(_ context.Context, _ string) (*domain.Message, error) {
	return nil, domain.ErrMessageNotFound
}

func (r *memRepo) GetByProviderMessageID(_ context.Context, providerName, providerMessageID string) (*domain.Message, error) {
	for _, m := range r.messages {
		if m.Provider == providerName && m.ProviderMessageID != nil && *m.ProviderMessageID == providerMessageID {
			return m, nil
		}
	}
	return nil, domain.ErrMessageNotFound
}

func (r *memRepo) List(_ context.Context, _ domain.MessageFilter) ([]*domain.Message, error) {
	return nil, nil
}

func (r *memRepo) UpdateStatus(_ context.Context, m *domain.Message) error {
	r.messages[m.ID] = m
	return nil
}

func (r *memRepo) Cancel(_ context.Context, _ uuid.UUID) error { return nil }

func (r *memRepo) ListDueScheduled(_ context.Context, _ int) ([]*domain.Message, error) {
	return nil, nil
}

func (r *memRepo) ListStuckSending(_ context.Context, _ time.Duration, _ int) ([]*domain.Message, error) {
	return nil, nil
}

func (r *memRepo) GetProviderStats(_ context.Context) ([]domain.ProviderStats, error) {
	return nil, nil
}

type noopBroadcaster struct{}

func (noopBroadcaster) Broadcast(_, _, _, _ string) {}

const (
	twilioAuthToken   = "twilio-auth-token"
	messageBirdSecret = "mb-signing-key"
	webhookBase       = "https://sms.example.com"
)

func newWebhookTestStack(t *testing.T) (*gin.Engine, *memRepo) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	repo := newMemRepo()
	registry := provider.NewRegistry("twilio", zap.NewNop())
	registry.Register(provider.NewTwilio(provider.TwilioConfig{
		AccountSID: "AC123",
		AuthToken:  twilioAuthToken,
		FromNumber: "+15550001111",
	}))
	registry.Register(provider.NewMessageBird(provider.MessageBirdConfig{
		APIKey: "live_key",
	}))

	secrets := map[string]string{
		"twilio":      twilioAuthToken,
		"messagebird": messageBirdSecret,
	}
	svc := app.NewWebhookService(repo, registry, secrets, noopBroadcaster{}, zap.NewNop())
	handler := NewWebhookHandler(svc, webhookBase)

	r := gin.New()
	r.POST("/webhooks/twilio", handler.Twilio)
	r.POST("/webhooks/messagebird", handler.MessageBird)
	return r, repo
}

func storeSent(t *testing.T, repo *memRepo, providerName, providerMessageID string) *domain.Message {
	t.Helper()
	msg, err := domain.NewMessage("+4915123456789", "webhook test", "", nil)
	require.NoError(t, err)
	msg.MarkSending()
	msg.MarkSent(providerName, providerMessageID, 8)
	require.NoError(t, repo.Create(context.Background(), msg))
	return msg
}

func twilioSignForm(secret, callbackURL string, form url.Values) string {
	keys := make([]string, 0, len(form))
	for k := range form {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString(callbackURL)
	for _, k := range keys {
		b.WriteString(k)
		b.WriteString(form.Get(k))
	}

	mac := hmac.New(sha1.New, []byte(secret))
	mac.Write([]byte(b.String()))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

func messageBirdSignBody(secret, timestamp string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(timestamp))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

func TestTwilioWebhook_Delivered(t *testing.T) {
	r, repo := newWebhookTestStack(t)
	msg := storeSent(t, repo, "twilio", "SM123")

	form := url.Values{}
	form.Set("MessageSid", "SM123")
	form.Set("MessageStatus", "delivered")

	sig := twilioSignForm(twilioAuthToken, webhookBase+"/webhooks/twilio", form)

	req := httptest.NewRequest(http.MethodPost, "/webhooks/twilio", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("X-Twilio-Signature", sig)
	w := httptest.NewRecorder()

	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusNoContent, w.Code)

	stored, err := repo.GetByID(context.Background(), msg.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusDelivered, stored.Status)
	assert.NotNil(t, stored.DeliveredAt)
}

func TestTwilioWebhook_BadSignature(t *testing.T) {
	r, repo := newWebhookTestStack(t)
	msg := storeSent(t, repo, "twilio", "SM123")

	form := url.Values{}
	form.Set("MessageSid", "SM123")
	form.Set("MessageStatus", "delivered")

	req := httptest.NewRequest(http.MethodPost, "/webhooks/twilio", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("X-Twilio-Signature", "forged")
	w := httptest.NewRecorder()

	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusForbidden, w.Code)

	stored, _ := repo.GetByID(context.Background(), msg.ID)
	assert.Equal(t, domain.StatusSent, stored.Status)
}

func TestTwilioWebhook_MissingSignature(t *testing.T) {
	r, repo := newWebhookTestStack(t)
	storeSent(t, repo, "twilio", "SM123")

	form := url.Values{}
	form.Set("MessageSid", "SM123")
	form.Set("MessageStatus", "delivered")

	req := httptest.NewRequest(http.MethodPost, "/webhooks/twilio", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	w := httptest.NewRecorder()

	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestTwilioWebhook_UnknownMessageDropped(t *testing.T) {
	r, _ := newWebhookTestStack(t)

	form := url.Values{}
	form.Set("MessageSid", "SM-never-sent")
	form.Set("MessageStatus", "delivered")

	sig := twilioSignForm(twilioAuthToken, webhookBase+"/webhooks/twilio", form)

	req := httptest.NewRequest(http.MethodPost, "/webhooks/twilio", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("X-Twilio-Signature", sig)
	w := httptest.NewRecorder()

	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusNoContent, w.Code, "unknown callbacks are acknowledged so the vendor stops retrying")
}

func TestMessageBirdWebhook_Failed(t *testing.T) {
	r, repo := newWebhookTestStack(t)
	msg := storeSent(t, repo, "messagebird", "mb-42")

	body := []byte(`{"message":{"id":"mb-42","status":"delivery_failed","errors":[{"code":2,"description":"absent subscriber"}]}}`)
	timestamp := "1693490400"
	sig := messageBirdSignBody(messageBirdSecret, timestamp, body)

	req := httptest.NewRequest(http.MethodPost, "/webhooks/messagebird", strings.NewReader(string(body)))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("MessageBird-Signature", sig)
	req.Header.Set("MessageBird-Request-Timestamp", timestamp)
	w := httptest.NewRecorder()

	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusNoContent, w.Code)

	stored, _ := repo.GetByID(context.Background(), msg.ID)
	assert.Equal(t, domain.StatusFailed, stored.Status)
	require.NotNil(t, stored.ErrorMessage)
	assert.Equal(t, "absent subscriber", *stored.ErrorMessage)
}

func TestMessageBirdWebhook_TamperedBody(t *testing.T) {
	r, repo := newWebhookTestStack(t)
	msg := storeSent(t, repo, "messagebird", "mb-42")

	body := []byte(`{"message":{"id":"mb-42","status":"delivered"}}`)
	timestamp := "1693490400"
	sig := messageBirdSignBody(messageBirdSecret, timestamp, body)

	tampered := []byte(`{"message":{"id":"mb-42","status":"delivery_failed"}}`)
	req := httptest.NewRequest(http.MethodPost, "/webhooks/messagebird", strings.NewReader(string(tampered)))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("MessageBird-Signature", sig)
	req.Header.Set("MessageBird-Request-Timestamp", timestamp)
	w := httptest.NewRecorder()

	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusForbidden, w.Code)

	stored, _ := repo.GetByID(context.Background(), msg.ID)
	assert.Equal(t, domain.StatusSent, stored.Status)
}
