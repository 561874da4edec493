package provider

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jnsystems/sms-gateway/internal/domain"
	"github.com/jnsystems/sms-gateway/internal/port"
)

func newTestMessageBird(baseURL string) *MessageBird {
	return NewMessageBird(MessageBirdConfig{
		APIKey:  "live_testkey",
		BaseURL: baseURL,
	})
}

func messageBirdSign(secret, timestamp string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(timestamp))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

func TestMessageBird_Available(t *testing.T) {
	assert.True(t, newTestMessageBird("").Available())
	assert.False(t, NewMessageBird(MessageBirdConfig{}).Available())
}

func TestMessageBird_Send_Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/messages", r.URL.Path)
		assert.Equal(t, "AccessKey live_testkey", r.Header.Get("Authorization"))

		body, _ := io.ReadAll(r.Body)
		var req messageBirdSendRequest
		require.NoError(t, json.Unmarshal(body, &req))
		assert.Equal(t, DefaultOriginator, req.Originator)
		assert.Equal(t, []string{"+4915123456789"}, req.Recipients)
		assert.Equal(t, "Hello", req.Body)

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"id":"mb-001","recipients":{"items":[{"recipient":4915123456789,"status":"sent","statusDatetime":"2026-08-30T10:00:00+00:00"}]}}`))
	}))
	defer srv.Close()

	mb := newTestMessageBird(srv.URL)
	result, err := mb.Send(context.Background(), port.SendRequest{
		PhoneNumber: "+4915123456789",
		Message:     "Hello",
	})

	require.NoError(t, err)
	assert.Equal(t, "mb-001", result.MessageID)
	assert.Equal(t, domain.StatusSent, result.Status)
	assert.Equal(t, "messagebird", result.Provider)
	assert.Equal(t, 7, result.CostCents)
}

func TestMessageBird_Send_CustomOriginator(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		var req messageBirdSendRequest
		require.NoError(t, json.Unmarshal(body, &req))
		assert.Equal(t, "SalonMia", req.Originator)

		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"id":"mb-002","recipients":{"items":[]}}`))
	}))
	defer srv.Close()

	mb := newTestMessageBird(srv.URL)
	_, err := mb.Send(context.Background(), port.SendRequest{
		PhoneNumber: "+4915123456789",
		Message:     "Hello",
		From:        "SalonMia",
	})

	require.NoError(t, err)
}

func TestMessageBird_Send_VendorRejection(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		_, _ = w.Write([]byte(`{"errors":[{"code":9,"description":"no (correct) recipients found"}]}`))
	}))
	defer srv.Close()

	mb := newTestMessageBird(srv.URL)
	_, err := mb.Send(context.Background(), port.SendRequest{
		PhoneNumber: "+4915123456789",
		Message:     "Hello",
	})

	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrSendFailed)
	assert.Contains(t, err.Error(), "messagebird")
	assert.Contains(t, err.Error(), "no (correct) recipients found")
}

func TestMessageBird_Send_Unconfigured(t *testing.T) {
	mb := NewMessageBird(MessageBirdConfig{})
	_, err := mb.Send(context.Background(), port.SendRequest{
		PhoneNumber: "+4915123456789",
		Message:     "Hello",
	})

	assert.ErrorIs(t, err, domain.ErrProviderUnavailable)
}

func TestMessageBird_Status_Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/messages/mb-001", r.URL.Path)
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"id":"mb-001","recipients":{"items":[{"status":"delivered","statusDatetime":"2026-08-30T10:05:00+00:00"}]}}`))
	}))
	defer srv.Close()

	mb := newTestMessageBird(srv.URL)
	result, err := mb.Status(context.Background(), "mb-001")

	require.NoError(t, err)
	assert.Equal(t, domain.StatusDelivered, result.Status)
	require.NotNil(t, result.DeliveredAt)
}

func TestMessageBird_Status_NotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"errors":[{"code":20,"description":"message not found"}]}`))
	}))
	defer srv.Close()

	mb := newTestMessageBird(srv.URL)
	_, err := mb.Status(context.Background(), "mb-404")

	assert.ErrorIs(t, err, domain.ErrStatusLookup)
}

func TestMessageBird_Cost(t *testing.T) {
	mb := newTestMessageBird("")

	tests := []struct {
		name    string
		message string
		country string
		want    int
	}{
		// 200 chars -> 2 segments -> round(2 * 6.75) = 14, half away from zero
		{"two segments germany", strings.Repeat("x", 200), "DE", 14},
		{"single segment germany", "Hello", "DE", 7},
		{"segment boundary 160", strings.Repeat("a", 160), "DE", 7},
		{"segment boundary 161", strings.Repeat("a", 161), "DE", 14},
		{"unknown country fallback", strings.Repeat("x", 200), "XX", 20},
		{"empty message bills one segment", "", "DE", 7},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, mb.Cost(tt.message, tt.country))
		})
	}
}

func TestMessageBird_VerifyWebhook_Valid(t *testing.T) {
	mb := newTestMessageBird("")
	body := []byte(`{"message":{"id":"mb-001","status":"delivered"}}`)
	timestamp := "1756541100"

	req := port.WebhookRequest{
		Signature: messageBirdSign("hook-secret", timestamp, body),
		Timestamp: timestamp,
		Body:      body,
	}

	assert.True(t, mb.VerifyWebhook(req, "hook-secret"))
}

func TestMessageBird_VerifyWebhook_WrongSignature(t *testing.T) {
	mb := newTestMessageBird("")
	body := []byte(`{"message":{"id":"mb-001","status":"delivered"}}`)

	req := port.WebhookRequest{
		Signature: messageBirdSign("other-secret", "1756541100", body),
		Timestamp: "1756541100",
		Body:      body,
	}

	assert.False(t, mb.VerifyWebhook(req, "hook-secret"))
}

func TestMessageBird_VerifyWebhook_MalformedInput(t *testing.T) {
	mb := newTestMessageBird("")
	body := []byte(`{}`)

	assert.False(t, mb.VerifyWebhook(port.WebhookRequest{Body: body}, "secret"))
	assert.False(t, mb.VerifyWebhook(port.WebhookRequest{Signature: "sig", Body: body}, "secret"))
	assert.False(t, mb.VerifyWebhook(port.WebhookRequest{Signature: "sig", Timestamp: "1", Body: body}, ""))
	assert.False(t, mb.VerifyWebhook(port.WebhookRequest{Signature: "zz-not-hex", Timestamp: "1", Body: nil}, "secret"))
}

// The comparison must go through hmac.Equal, not ==: for equal-length
// signatures differing only in the last byte the gate still answers false
// without leaking the mismatch position through timing.
func TestMessageBird_VerifyWebhook_LastByteDiffers(t *testing.T) {
	mb := newTestMessageBird("")
	body := []byte(`{"message":{"id":"mb-001","status":"delivered"}}`)
	timestamp := "1756541100"

	valid := messageBirdSign("hook-secret", timestamp, body)
	flipped := valid[:len(valid)-1] + flipHexDigit(valid[len(valid)-1])

	req := port.WebhookRequest{Signature: flipped, Timestamp: timestamp, Body: body}
	assert.False(t, mb.VerifyWebhook(req, "hook-secret"))
}

func flipHexDigit(c byte) string {
	if c == 'a' {
		return "b"
	}
	return "a"
}

func TestMessageBird_ParseWebhook(t *testing.T) {
	mb := newTestMessageBird("")

	event, err := mb.ParseWebhook(port.WebhookRequest{
		Body: []byte(`{"message":{"id":"mb-001","status":"delivery_failed","statusDatetime":"2026-08-30T10:05:00+00:00","errors":[{"code":25,"description":"absent subscriber"}]}}`),
	})

	require.NoError(t, err)
	assert.Equal(t, "mb-001", event.ProviderMessageID)
	assert.Equal(t, domain.StatusFailed, event.Status)
	assert.Equal(t, "delivery_failed", event.RawStatus)
	assert.Equal(t, "25", event.ErrorCode)
	assert.Equal(t, "absent subscriber", event.ErrorMessage)
	require.NotNil(t, event.Timestamp)
}

func TestMessageBird_ParseWebhook_Malformed(t *testing.T) {
	mb := newTestMessageBird("")

	_, err := mb.ParseWebhook(port.WebhookRequest{Body: []byte(`not-json`)})
	assert.Error(t, err)

	_, err = mb.ParseWebhook(port.WebhookRequest{Body: []byte(`{"message":{}}`)})
	assert.Error(t, err)
}

func TestMessageBird_StatusNormalization(t *testing.T) {
	mb := newTestMessageBird("")
	canonical := map[domain.Status]bool{
		domain.StatusPending:   true,
		domain.StatusSent:      true,
		domain.StatusDelivered: true,
		domain.StatusFailed:    true,
	}

	for raw := range messageBirdStatusMap {
		event, err := mb.ParseWebhook(port.WebhookRequest{
			Body: []byte(`{"message":{"id":"mb-001","status":"` + raw + `"}}`),
		})
		require.NoError(t, err)
		assert.True(t, canonical[event.Status], "vendor status %q must map to a canonical value", raw)
	}

	event, err := mb.ParseWebhook(port.WebhookRequest{
		Body: []byte(`{"message":{"id":"mb-001","status":"transmitted"}}`),
	})
	require.NoError(t, err)
	assert.Equal(t, domain.StatusUnknown, event.Status)
	assert.Equal(t, "transmitted", event.RawStatus)
}
