package app

import (
	"context"
	"time"

	"github.com/jnsystems/sms-gateway/internal/port"
)

type MetricsCollector struct {
	repo port.MessageRepository
}

func NewMetricsCollector(repo port.MessageRepository) *MetricsCollector {
	return &MetricsCollector{repo: repo}
}

func (m *MetricsCollector) RecordSuccess(provider string, latency time.Duration) {}

func (m *MetricsCollector) RecordFailure(provider string) {}

type MetricsSnapshot struct {
	Providers map[string]ProviderSnapshot `json:"providers"`
}

type ProviderSnapshot struct {
	Sent        int64   `json:"sent"`
	Failed      int64   `json:"failed"`
	CostCents   int64   `json:"cost_cents"`
	SuccessRate float64 `json:"success_rate"`
}

func (m *MetricsCollector) Snapshot(ctx context.Context) MetricsSnapshot {
	snapshot := MetricsSnapshot{
		Providers: map[string]ProviderSnapshot{
			"twilio":      {},
			"messagebird": {},
		},
	}

	stats, err := m.repo.GetProviderStats(ctx)
	if err != nil {
		return snapshot
	}

	for _, s := range stats {
		total := s.Sent + s.Failed
		var successRate float64
		if total > 0 {
			successRate = float64(s.Sent) / float64(total) * 100
		}
		snapshot.Providers[s.Provider] = ProviderSnapshot{
			Sent:        s.Sent,
			Failed:      s.Failed,
			CostCents:   s.CostCents,
			SuccessRate: successRate,
		}
	}

	return snapshot
}
