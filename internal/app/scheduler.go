package app

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/jnsystems/sms-gateway/internal/domain"
	"github.com/jnsystems/sms-gateway/internal/port"
)

type Scheduler struct {
	repo      port.MessageRepository
	publisher port.QueuePublisher
	logger    *zap.Logger
	interval  time.Duration
}

func NewScheduler(repo port.MessageRepository, publisher port.QueuePublisher, logger *zap.Logger) *Scheduler {
	return &Scheduler{
		repo:      repo,
		publisher: publisher,
		logger:    logger,
		interval:  5 * time.Second,
	}
}

func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.processScheduled(ctx)
			s.recoverStuck(ctx)
		}
	}
}

func (s *Scheduler) processScheduled(ctx context.Context) {
	messages, err := s.repo.ListDueScheduled(ctx, 100)
	if err != nil {
		s.logger.Error("failed to list due scheduled messages", zap.Error(err))
		return
	}

	for _, m := range messages {
		m.Status = domain.StatusPending
		m.UpdatedAt = time.Now().UTC()

		if err := s.repo.UpdateStatus(ctx, m); err != nil {
			s.logger.Error("failed to update scheduled message status",
				zap.String("id", m.ID.String()),
				zap.Error(err),
			)
			continue
		}

		if err := s.publisher.Enqueue(ctx, m); err != nil {
			s.logger.Error("failed to enqueue scheduled message",
				zap.String("id", m.ID.String()),
				zap.Error(err),
			)
		}
	}

	if len(messages) > 0 {
		s.logger.Info("processed scheduled messages", zap.Int("count", len(messages)))
	}
}

func (s *Scheduler) recoverStuck(ctx context.Context) {
	messages, err := s.repo.ListStuckSending(ctx, 5*time.Minute, 50)
	if err != nil {
		s.logger.Error("failed to list stuck messages", zap.Error(err))
		return
	}

	for _, m := range messages {
		m.Status = domain.StatusPending
		m.UpdatedAt = time.Now().UTC()

		if err := s.repo.UpdateStatus(ctx, m); err != nil {
			s.logger.Error("failed to reset stuck message",
				zap.String("id", m.ID.String()),
				zap.Error(err),
			)
			continue
		}

		if err := s.publisher.Enqueue(ctx, m); err != nil {
			s.logger.Error("failed to re-enqueue stuck message",
				zap.String("id", m.ID.String()),
				zap.Error(err),
			)
		}
	}

	if len(messages) > 0 {
		s.logger.Warn("recovered stuck messages", zap.Int("count", len(messages)))
	}
}
