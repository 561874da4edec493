package http

import (
	"time"

	"github.com/google/uuid"
	"github.com/jnsystems/sms-gateway/internal/app"
	"github.com/jnsystems/sms-gateway/internal/domain"
)

type CreateMessageRequest struct {
	Recipient      string     `json:"recipient" binding:"required"`
	Body           string     `json:"body" binding:"required"`
	From           string     `json:"from,omitempty"`
	ScheduledAt    *time.Time `json:"scheduled_at,omitempty"`
	IdempotencyKey *string    `json:"idempotency_key,omitempty"`
}

func (r *CreateMessageRequest) ToInput() app.CreateMessageInput {
	return app.CreateMessageInput{
		Recipient:      r.Recipient,
		Body:           r.Body,
		From:           r.From,
		ScheduledAt:    r.ScheduledAt,
		IdempotencyKey: r.IdempotencyKey,
	}
}

type ListMessagesRequest struct {
	Status   *string `form:"status"`
	Provider *string `form:"provider"`
	DateFrom *string `form:"date_from"`
	DateTo   *string `form:"date_to"`
	Cursor   *string `form:"cursor"`
	PageSize int     `form:"page_size"`
}

func (r *ListMessagesRequest) ToFilter() domain.MessageFilter {
	filter := domain.MessageFilter{
		PageSize: r.PageSize,
		Provider: r.Provider,
	}

	if r.Status != nil {
		s := domain.Status(*r.Status)
		filter.Status = &s
	}
	if r.DateFrom != nil {
		if t, err := time.Parse(time.RFC3339, *r.DateFrom); err == nil {
			filter.DateFrom = &t
		}
	}
	if r.DateTo != nil {
		if t, err := time.Parse(time.RFC3339, *r.DateTo); err == nil {
			filter.DateTo = &t
		}
	}
	if r.Cursor != nil {
		if id, err := uuid.Parse(*r.Cursor); err == nil {
			filter.Cursor = &id
		}
	}

	return filter
}

type MessageResponse struct {
	ID                string     `json:"id"`
	Recipient         string     `json:"recipient"`
	Body              string     `json:"body"`
	From              string     `json:"from,omitempty"`
	Status            string     `json:"status"`
	Provider          string     `json:"provider,omitempty"`
	ProviderMessageID *string    `json:"provider_message_id,omitempty"`
	Segments          int        `json:"segments"`
	CostCents         int        `json:"cost_cents"`
	ErrorMessage      *string    `json:"error_message,omitempty"`
	ScheduledAt       *time.Time `json:"scheduled_at,omitempty"`
	SentAt            *time.Time `json:"sent_at,omitempty"`
	DeliveredAt       *time.Time `json:"delivered_at,omitempty"`
	FailedAt          *time.Time `json:"failed_at,omitempty"`
	RetryCount        int        `json:"retry_count"`
	MaxRetries        int        `json:"max_retries"`
	CreatedAt         time.Time  `json:"created_at"`
	UpdatedAt         time.Time  `json:"updated_at"`
}

func NewMessageResponse(m *domain.Message) MessageResponse {
	return MessageResponse{
		ID:                m.ID.String(),
		Recipient:         m.Recipient,
		Body:              m.Body,
		From:              m.From,
		Status:            string(m.Status),
		Provider:          m.Provider,
		ProviderMessageID: m.ProviderMessageID,
		Segments:          m.Segments,
		CostCents:         m.CostCents,
		ErrorMessage:      m.ErrorMessage,
		ScheduledAt:       m.ScheduledAt,
		SentAt:            m.SentAt,
		DeliveredAt:       m.DeliveredAt,
		FailedAt:          m.FailedAt,
		RetryCount:        m.RetryCount,
		MaxRetries:        m.MaxRetries,
		CreatedAt:         m.CreatedAt,
		UpdatedAt:         m.UpdatedAt,
	}
}

func NewMessageListResponse(messages []*domain.Message, pageSize int) ListResponse[MessageResponse] {
	data := make([]MessageResponse, len(messages))
	for i, m := range messages {
		data[i] = NewMessageResponse(m)
	}

	var nextCursor *string
	if len(messages) == pageSize {
		last := messages[len(messages)-1].ID.String()
		nextCursor = &last
	}

	return ListResponse[MessageResponse]{
		Data:       data,
		NextCursor: nextCursor,
	}
}

type ProviderResponse struct {
	Name      string `json:"name"`
	Active    bool   `json:"active"`
	Available bool   `json:"available"`
}

type SwitchProviderRequest struct {
	Provider string `json:"provider" binding:"required"`
}
