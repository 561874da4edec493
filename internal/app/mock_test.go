package app

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jnsystems/sms-gateway/internal/domain"
	"github.com/jnsystems/sms-gateway/internal/port"
)

type mockMessageRepo struct {
	mu           sync.Mutex
	messages     map[uuid.UUID]*domain.Message
	createErr    error
	getByIDErr   error
	updateErr    error
	cancelErr    error
	listResult   []*domain.Message
	listErr      error
	dueScheduled []*domain.Message
	stuckItems   []*domain.Message
}

func newMockMessageRepo() *mockMessageRepo {
	return &mockMessageRepo{
		messages: make(map[uuid.UUID]*domain.Message),
	}
}

func (m *mockMessageRepo) Create(_ context.Context, msg *domain.Message) error {
	if m.createErr != nil {
		return m.createErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if msg.IdempotencyKey != nil {
		for _, existing := range m.messages {
			if existing.IdempotencyKey != nil && *existing.IdempotencyKey == *msg.IdempotencyKey {
				return domain.ErrDuplicateIdempotencyKey
			}
		}
	}
	m.messages[msg.ID] = msg
	return nil
}

func (m *mockMessageRepo) GetByID(_ context.Context, id uuid.UUID) (*domain.Message, error) {
	if m.getByIDErr != nil {
		return nil, m.getByIDErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	msg, ok := m.messages[id]
	if !ok {
		return nil, domain.ErrMessageNotFound
	}
	return msg, nil
}

func (m *mockMessageRepo) GetByIdempotencyKey(_ context.Context, key string) (*domain.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, msg := range m.messages {
		if msg.IdempotencyKey != nil && *msg.IdempotencyKey == key {
			return msg, nil
		}
	}
	return nil, domain.ErrMessageNotFound
}

func (m *mockMessageRepo) GetByProviderMessageID(_ context.Context, provider, providerMessageID string) (*domain.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, msg := range m.messages {
		if msg.Provider == provider && msg.ProviderMessageID != nil && *msg.ProviderMessageID == providerMessageID {
			return msg, nil
		}
	}
	return nil, domain.ErrMessageNotFound
}

func (m *mockMessageRepo) List(_ context.Context, _ domain.MessageFilter) ([]*domain.Message, error) {
	return m.listResult, m.listErr
}

func (m *mockMessageRepo) UpdateStatus(_ context.Context, msg *domain.Message) error {
	if m.updateErr != nil {
		return m.updateErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.messages[msg.ID] = msg
	return nil
}

func (m *mockMessageRepo) Cancel(_ context.Context, id uuid.UUID) error {
	if m.cancelErr != nil {
		return m.cancelErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if msg, ok := m.messages[id]; ok {
		msg.Status = domain.StatusCancelled
	}
	return nil
}

func (m *mockMessageRepo) ListDueScheduled(_ context.Context, _ int) ([]*domain.Message, error) {
	return m.dueScheduled, nil
}

func (m *mockMessageRepo) ListStuckSending(_ context.Context, _ time.Duration, _ int) ([]*domain.Message, error) {
	return m.stuckItems, nil
}

func (m *mockMessageRepo) GetProviderStats(_ context.Context) ([]domain.ProviderStats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	providers := map[string]*domain.ProviderStats{}
	for _, msg := range m.messages {
		if msg.Provider == "" {
			continue
		}
		if _, ok := providers[msg.Provider]; !ok {
			providers[msg.Provider] = &domain.ProviderStats{Provider: msg.Provider}
		}
		switch msg.Status {
		case domain.StatusSent, domain.StatusDelivered:
			providers[msg.Provider].Sent++
			providers[msg.Provider].CostCents += int64(msg.CostCents)
		case domain.StatusFailed:
			providers[msg.Provider].Failed++
		}
	}
	result := make([]domain.ProviderStats, 0, len(providers))
	for _, s := range providers {
		result = append(result, *s)
	}
	return result, nil
}

type mockQueuePublisher struct {
	mu         sync.Mutex
	enqueued   []*domain.Message
	enqueueErr error
}

func newMockQueuePublisher() *mockQueuePublisher {
	return &mockQueuePublisher{}
}

func (m *mockQueuePublisher) Enqueue(_ context.Context, msg *domain.Message) error {
	if m.enqueueErr != nil {
		return m.enqueueErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.enqueued = append(m.enqueued, msg)
	return nil
}

func (m *mockQueuePublisher) Close() error { return nil }

type mockBroadcaster struct {
	mu         sync.Mutex
	broadcasts []broadcastEvent
}

type broadcastEvent struct {
	MessageID string
	Status    string
	Provider  string
	Timestamp string
}

func (m *mockBroadcaster) Broadcast(messageID, status, provider, timestamp string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.broadcasts = append(m.broadcasts, broadcastEvent{
		MessageID: messageID,
		Status:    status,
		Provider:  provider,
		Timestamp: timestamp,
	})
}

type mockProvider struct {
	name         string
	available    bool
	sendResult   *port.SendResult
	sendErr      error
	statusResult *port.StatusResult
	statusErr    error
	verifyOK     bool
	event        *domain.WebhookEvent
	parseErr     error
}

func (m *mockProvider) Send(_ context.Context, _ port.SendRequest) (*port.SendResult, error) {
	if m.sendErr != nil {
		return nil, m.sendErr
	}
	return m.sendResult, nil
}

func (m *mockProvider) Status(_ context.Context, _ string) (*port.StatusResult, error) {
	if m.statusErr != nil {
		return nil, m.statusErr
	}
	if m.statusResult != nil {
		return m.statusResult, nil
	}
	return &port.StatusResult{Status: domain.StatusSent}, nil
}

func (m *mockProvider) Cost(message, _ string) int {
	return domain.SegmentCount(message) * 10
}

func (m *mockProvider) VerifyWebhook(_ port.WebhookRequest, _ string) bool {
	return m.verifyOK
}

func (m *mockProvider) ParseWebhook(_ port.WebhookRequest) (*domain.WebhookEvent, error) {
	if m.parseErr != nil {
		return nil, m.parseErr
	}
	return m.event, nil
}

func (m *mockProvider) Name() string { return m.name }

func (m *mockProvider) Available() bool { return m.available }
