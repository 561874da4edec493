package domain

import "time"

// WebhookEvent is a vendor delivery-status callback normalized into the
// canonical status vocabulary. RawStatus keeps the vendor's original string so
// unmapped values can be logged as anomalies instead of leaking into state.
type WebhookEvent struct {
	ProviderMessageID string
	Status            Status
	RawStatus         string
	Timestamp         *time.Time
	ErrorCode         string
	ErrorMessage      string
}
