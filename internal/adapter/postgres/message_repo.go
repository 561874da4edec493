package postgres

import (
	"context"
	"database/sql"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jmoiron/sqlx"

	"github.com/jnsystems/sms-gateway/internal/domain"
)

func wrapIdempotencyError(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" && strings.Contains(pgErr.ConstraintName, "idempotency_key") {
		return domain.ErrDuplicateIdempotencyKey
	}
	return err
}

type MessageRepo struct {
	db *sqlx.DB
}

func NewMessageRepo(db *sqlx.DB) *MessageRepo {
	return &MessageRepo{db: db}
}

type messageRow struct {
	ID                uuid.UUID  `db:"id"`
	IdempotencyKey    *string    `db:"idempotency_key"`
	Recipient         string     `db:"recipient"`
	Body              string     `db:"body"`
	FromSender        string     `db:"from_sender"`
	Status            string     `db:"status"`
	Provider          string     `db:"provider"`
	ProviderMessageID *string    `db:"provider_message_id"`
	Segments          int        `db:"segments"`
	CostCents         int        `db:"cost_cents"`
	ErrorMessage      *string    `db:"error_message"`
	ScheduledAt       *time.Time `db:"scheduled_at"`
	SentAt            *time.Time `db:"sent_at"`
	DeliveredAt       *time.Time `db:"delivered_at"`
	FailedAt          *time.Time `db:"failed_at"`
	RetryCount        int        `db:"retry_count"`
	MaxRetries        int        `db:"max_retries"`
	CreatedAt         time.Time  `db:"created_at"`
	UpdatedAt         time.Time  `db:"updated_at"`
}

func (r *MessageRepo) Create(ctx context.Context, m *domain.Message) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO messages
		(id, idempotency_key, recipient, body, from_sender, status, segments,
		 scheduled_at, max_retries, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)`,
		m.ID, m.IdempotencyKey, m.Recipient, m.Body, m.From, m.Status, m.Segments,
		m.ScheduledAt, m.MaxRetries, m.CreatedAt, m.UpdatedAt,
	)
	return wrapIdempotencyError(err)
}

func (r *MessageRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.Message, error) {
	var row messageRow
	err := r.db.GetContext(ctx, &row,
		`SELECT * FROM messages WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrMessageNotFound
	}
	if err != nil {
		return nil, err
	}
	return rowToMessage(row), nil
}

func (r *MessageRepo) GetByIdempotencyKey(ctx context.Context, key string) (*domain.Message, error) {
	var row messageRow
	err := r.db.GetContext(ctx, &row,
		`SELECT * FROM messages WHERE idempotency_key = $1`, key)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrMessageNotFound
	}
	if err != nil {
		return nil, err
	}
	return rowToMessage(row), nil
}

func (r *MessageRepo) GetByProviderMessageID(ctx context.Context, provider, providerMessageID string) (*domain.Message, error) {
	var row messageRow
	err := r.db.GetContext(ctx, &row,
		`SELECT * FROM messages WHERE provider = $1 AND provider_message_id = $2`,
		provider, providerMessageID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrMessageNotFound
	}
	if err != nil {
		return nil, err
	}
	return rowToMessage(row), nil
}

func (r *MessageRepo) List(ctx context.Context, filter domain.MessageFilter) ([]*domain.Message, error) {
	query := `SELECT * FROM messages WHERE 1=1`
	args := []any{}
	argIdx := 1

	if filter.Status != nil {
		query += ` AND status = $` + itoa(argIdx)
		args = append(args, *filter.Status)
		argIdx++
	}
	if filter.Provider != nil {
		query += ` AND provider = $` + itoa(argIdx)
		args = append(args, *filter.Provider)
		argIdx++
	}
	if filter.DateFrom != nil {
		query += ` AND created_at >= $` + itoa(argIdx)
		args = append(args, *filter.DateFrom)
		argIdx++
	}
	if filter.DateTo != nil {
		query += ` AND created_at <= $` + itoa(argIdx)
		args = append(args, *filter.DateTo)
		argIdx++
	}
	if filter.Cursor != nil {
		query += ` AND id < $` + itoa(argIdx)
		args = append(args, *filter.Cursor)
		argIdx++
	}

	pageSize := filter.PageSize
	if pageSize <= 0 || pageSize > 100 {
		pageSize = 20
	}

	query += ` ORDER BY created_at DESC, id DESC LIMIT $` + itoa(argIdx)
	args = append(args, pageSize)

	var rows []messageRow
	if err := r.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, err
	}

	result := make([]*domain.Message, len(rows))
	for i, row := range rows {
		result[i] = rowToMessage(row)
	}
	return result, nil
}

func (r *MessageRepo) UpdateStatus(ctx context.Context, m *domain.Message) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE messages
		SET status=$1, provider=$2, provider_message_id=$3, cost_cents=$4,
		    error_message=$5, sent_at=$6, delivered_at=$7, failed_at=$8,
		    retry_count=$9, updated_at=$10
		WHERE id=$11`,
		m.Status, m.Provider, m.ProviderMessageID, m.CostCents,
		m.ErrorMessage, m.SentAt, m.DeliveredAt, m.FailedAt,
		m.RetryCount, m.UpdatedAt, m.ID,
	)
	return err
}

func (r *MessageRepo) Cancel(ctx context.Context, id uuid.UUID) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE messages SET status='cancelled', updated_at=NOW()
		WHERE id=$1 AND status IN ('pending','scheduled')`, id)
	if err != nil {
		return err
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return domain.ErrInvalidStatusTransition
	}
	return nil
}

func (r *MessageRepo) ListDueScheduled(ctx context.Context, limit int) ([]*domain.Message, error) {
	var rows []messageRow
	err := r.db.SelectContext(ctx, &rows,
		`SELECT * FROM messages WHERE status = 'scheduled' AND scheduled_at <= NOW() ORDER BY scheduled_at LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, err
	}
	result := make([]*domain.Message, len(rows))
	for i, row := range rows {
		result[i] = rowToMessage(row)
	}
	return result, nil
}

func (r *MessageRepo) ListStuckSending(ctx context.Context, olderThan time.Duration, limit int) ([]*domain.Message, error) {
	var rows []messageRow
	err := r.db.SelectContext(ctx, &rows,
		`SELECT * FROM messages WHERE status = 'sending' AND updated_at < NOW() - $1::interval ORDER BY updated_at LIMIT $2`,
		olderThan.String(), limit,
	)
	if err != nil {
		return nil, err
	}
	result := make([]*domain.Message, len(rows))
	for i, row := range rows {
		result[i] = rowToMessage(row)
	}
	return result, nil
}

func (r *MessageRepo) GetProviderStats(ctx context.Context) ([]domain.ProviderStats, error) {
	var stats []domain.ProviderStats
	err := r.db.SelectContext(ctx, &stats,
		`SELECT provider,
			COUNT(*) FILTER (WHERE status IN ('sent','delivered')) AS sent,
			COUNT(*) FILTER (WHERE status = 'failed') AS failed,
			COALESCE(SUM(cost_cents) FILTER (WHERE status IN ('sent','delivered')), 0) AS cost_cents
		FROM messages
		WHERE provider <> ''
		GROUP BY provider`)
	if err != nil {
		return nil, err
	}
	return stats, nil
}

func rowToMessage(row messageRow) *domain.Message {
	return &domain.Message{
		ID:                row.ID,
		IdempotencyKey:    row.IdempotencyKey,
		Recipient:         row.Recipient,
		Body:              row.Body,
		From:              row.FromSender,
		Status:            domain.Status(row.Status),
		Provider:          row.Provider,
		ProviderMessageID: row.ProviderMessageID,
		Segments:          row.Segments,
		CostCents:         row.CostCents,
		ErrorMessage:      row.ErrorMessage,
		ScheduledAt:       row.ScheduledAt,
		SentAt:            row.SentAt,
		DeliveredAt:       row.DeliveredAt,
		FailedAt:          row.FailedAt,
		RetryCount:        row.RetryCount,
		MaxRetries:        row.MaxRetries,
		CreatedAt:         row.CreatedAt,
		UpdatedAt:         row.UpdatedAt,
	}
}

func itoa(i int) string {
	return strconv.Itoa(i)
}
