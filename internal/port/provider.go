package port

import (
	"context"
	"time"

	"github.com/jnsystems/sms-gateway/internal/domain"
)

// SendRequest is one outbound SMS handed to a vendor.
type SendRequest struct {
	PhoneNumber string // E.164
	Message     string
	From        string // optional sender override; adapters fall back to their configured originator
}

// SendResult is produced once per Send call and not mutated afterwards.
type SendResult struct {
	MessageID string
	Status    domain.Status
	CostCents int
	Provider  string
}

// StatusResult is the outcome of a status query or a parsed webhook.
type StatusResult struct {
	Status       domain.Status
	DeliveredAt  *time.Time
	ErrorCode    string
	ErrorMessage string
}

// WebhookRequest carries the pieces of an inbound vendor callback that
// signature schemes and payload parsers need. Twilio signs the request URL
// plus sorted form params; MessageBird signs timestamp plus raw body.
type WebhookRequest struct {
	URL       string
	Signature string
	Timestamp string
	Params    map[string]string
	Body      []byte
}

// SMSProvider is the uniform contract every SMS vendor adapter implements.
// Adapters never retry; retry policy belongs to the caller.
type SMSProvider interface {
	// Send performs one outbound vendor call. It fails with
	// domain.ErrProviderUnavailable when credentials were never configured and
	// with domain.ErrSendFailed (wrapping the vendor's message) on rejection.
	Send(ctx context.Context, req SendRequest) (*SendResult, error)

	// Status queries the vendor for a message previously sent through this
	// same provider. Fails with domain.ErrStatusLookup on not-found or
	// transport failure.
	Status(ctx context.Context, messageID string) (*StatusResult, error)

	// Cost prices a message body in cents for a destination country without
	// any I/O. Only "DE" has a dedicated rate; other countries share a flat
	// fallback rate.
	Cost(message, country string) int

	// VerifyWebhook is a pure boolean gate: it never panics and returns false
	// on any malformed input, so callers cannot distinguish "malformed" from
	// "wrong signature".
	VerifyWebhook(req WebhookRequest, secret string) bool

	// ParseWebhook extracts a normalized delivery event from a vendor
	// callback. Vendor statuses outside the known map come back as
	// domain.StatusUnknown with RawStatus preserved.
	ParseWebhook(req WebhookRequest) (*domain.WebhookEvent, error)

	Name() string

	// Available reports whether all required credentials are configured.
	// Pure function of configuration, no I/O.
	Available() bool
}
