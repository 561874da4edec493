package domain

import "errors"

var (
	ErrInvalidRecipient        = errors.New("invalid recipient")
	ErrEmptyRecipient          = errors.New("recipient is required")
	ErrEmptyMessage            = errors.New("message body is required")
	ErrMessageTooLong          = errors.New("message body exceeds maximum length")
	ErrInvalidStatusTransition = errors.New("invalid status transition")
	ErrMessageNotFound         = errors.New("message not found")
	ErrDuplicateIdempotencyKey = errors.New("duplicate idempotency key")

	ErrProviderUnavailable  = errors.New("sms provider unavailable")
	ErrSendFailed           = errors.New("sms send failed")
	ErrStatusLookup         = errors.New("sms status lookup failed")
	ErrNoProviderConfigured = errors.New("no sms provider configured")
	ErrNoProviderAvailable  = errors.New("no sms provider available")
	ErrUnknownProvider      = errors.New("unknown sms provider")
	ErrProviderNotAvailable = errors.New("sms provider not available")
	ErrCircuitOpen          = errors.New("circuit breaker is open")

	ErrInvalidSignature = errors.New("webhook signature verification failed")
)
