package domain

import (
	"fmt"
	"regexp"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
)

type Status string

const (
	StatusScheduled Status = "scheduled"
	StatusPending   Status = "pending"
	StatusSending   Status = "sending"
	StatusSent      Status = "sent"
	StatusDelivered Status = "delivered"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
	StatusUnknown   Status = "unknown"
)

// SegmentSize is the number of characters that fit into one SMS segment.
// Vendors price per segment.
const SegmentSize = 160

// MaxSegments caps outbound bodies at 10 concatenated segments.
const MaxSegments = 10

// DefaultCountry is the pricing region assumed for outbound sends.
const DefaultCountry = "DE"

const defaultMaxRetries = 3

var e164Regex = regexp.MustCompile(`^\+[1-9]\d{6,14}$`)

// deliveryRank orders the delivery lifecycle: pending -> sent -> delivered|failed.
// Delivered and failed are terminal.
var deliveryRank = map[Status]int{
	StatusPending:   0,
	StatusSending:   1,
	StatusSent:      2,
	StatusDelivered: 3,
	StatusFailed:    3,
}

// Message is one outbound SMS owned by this subsystem: a booking reminder,
// a no-show fee notice, or any other text the hosting application sends.
type Message struct {
	ID                uuid.UUID
	IdempotencyKey    *string
	Recipient         string
	Body              string
	From              string
	Status            Status
	Provider          string
	ProviderMessageID *string
	Segments          int
	CostCents         int
	ErrorMessage      *string
	ScheduledAt       *time.Time
	SentAt            *time.Time
	DeliveredAt       *time.Time
	FailedAt          *time.Time
	RetryCount        int
	MaxRetries        int
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

func NewMessage(recipient, body, from string, scheduledAt *time.Time) (*Message, error) {
	if err := ValidateRecipient(recipient); err != nil {
		return nil, err
	}
	if err := validateBody(body); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	status := StatusPending
	if scheduledAt != nil {
		status = StatusScheduled
	}

	return &Message{
		ID:          uuid.Must(uuid.NewV7()),
		Recipient:   recipient,
		Body:        body,
		From:        from,
		Status:      status,
		Segments:    SegmentCount(body),
		ScheduledAt: scheduledAt,
		MaxRetries:  defaultMaxRetries,
		CreatedAt:   now,
		UpdatedAt:   now,
	}, nil
}

// SegmentCount returns how many SMS segments a body occupies. An empty body
// still bills as one segment; the zero-cost ceil(0/160)=0 edge would otherwise
// let empty sends through for free.
func SegmentCount(body string) int {
	n := utf8.RuneCountInString(body)
	if n == 0 {
		return 1
	}
	return (n + SegmentSize - 1) / SegmentSize
}

func ValidateRecipient(recipient string) error {
	if recipient == "" {
		return ErrEmptyRecipient
	}
	if !e164Regex.MatchString(recipient) {
		return fmt.Errorf("%w: must be E.164 format", ErrInvalidRecipient)
	}
	return nil
}

func validateBody(body string) error {
	if body == "" {
		return ErrEmptyMessage
	}
	if utf8.RuneCountInString(body) > SegmentSize*MaxSegments {
		return fmt.Errorf("%w: max %d characters", ErrMessageTooLong, SegmentSize*MaxSegments)
	}
	return nil
}

func (m *Message) IsTerminal() bool {
	return m.Status == StatusDelivered || m.Status == StatusFailed || m.Status == StatusCancelled
}

func (m *Message) CanCancel() bool {
	return m.Status == StatusPending || m.Status == StatusScheduled
}

func (m *Message) Cancel() error {
	if !m.CanCancel() {
		return fmt.Errorf("%w: current status is %s", ErrInvalidStatusTransition, m.Status)
	}
	m.Status = StatusCancelled
	m.UpdatedAt = time.Now().UTC()
	return nil
}

func (m *Message) MarkSending() {
	m.Status = StatusSending
	m.UpdatedAt = time.Now().UTC()
}

// MarkSent records a successful hand-off to the vendor.
func (m *Message) MarkSent(provider, providerMessageID string, costCents int) {
	now := time.Now().UTC()
	m.Status = StatusSent
	m.Provider = provider
	m.ProviderMessageID = &providerMessageID
	m.CostCents = costCents
	m.SentAt = &now
	m.UpdatedAt = now
}

func (m *Message) MarkFailed(errMsg string) {
	now := time.Now().UTC()
	m.Status = StatusFailed
	m.ErrorMessage = &errMsg
	m.FailedAt = &now
	m.UpdatedAt = now
}

func (m *Message) IncrementRetry() {
	m.RetryCount++
	m.UpdatedAt = time.Now().UTC()
}

func (m *Message) HasRetriesLeft() bool {
	return m.RetryCount < m.MaxRetries
}

// ApplyDeliveryUpdate advances the delivery lifecycle from a vendor status
// callback. Terminal states never transition and out-of-order callbacks
// (a late "sent" after "delivered") are rejected.
func (m *Message) ApplyDeliveryUpdate(status Status, at *time.Time, errMsg string) error {
	newRank, ok := deliveryRank[status]
	if !ok {
		return fmt.Errorf("%w: %s", ErrInvalidStatusTransition, status)
	}
	if m.Status == StatusCancelled {
		return fmt.Errorf("%w: message is cancelled", ErrInvalidStatusTransition)
	}
	if cur, ok := deliveryRank[m.Status]; ok && newRank <= cur {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidStatusTransition, m.Status, status)
	}

	now := time.Now().UTC()
	m.Status = status
	m.UpdatedAt = now

	switch status {
	case StatusDelivered:
		if at != nil {
			m.DeliveredAt = at
		} else {
			m.DeliveredAt = &now
		}
	case StatusFailed:
		m.FailedAt = &now
		if errMsg != "" {
			m.ErrorMessage = &errMsg
		}
	}
	return nil
}

type ProviderStats struct {
	Provider  string `db:"provider"`
	Sent      int64  `db:"sent"`
	Failed    int64  `db:"failed"`
	CostCents int64  `db:"cost_cents"`
}

type MessageFilter struct {
	Status   *Status
	Provider *string
	DateFrom *time.Time
	DateTo   *time.Time
	Cursor   *uuid.UUID
	PageSize int
}
