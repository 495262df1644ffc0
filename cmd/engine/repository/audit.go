package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/lumenflow/orchestrator/common/db"
	"github.com/lumenflow/orchestrator/common/models"
)

// AuditRepository appends credential lifecycle records. Rows are immutable;
// there is no update or delete path.
type AuditRepository struct {
	db *db.DB
}

// NewAuditRepository creates a new audit repository
func NewAuditRepository(database *db.DB) *AuditRepository {
	return &AuditRepository{db: database}
}

// Append writes one audit record
func (r *AuditRepository) Append(ctx context.Context, record *models.AuditRecord) error {
	if record.ID == uuid.Nil {
		record.ID = uuid.New()
	}
	if record.CreatedAt.IsZero() {
		record.CreatedAt = time.Now().UTC()
	}

	query := `
		INSERT INTO audit_log (id, actor_user_id, action, provider, outcome, correlation_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	_, err := r.db.Exec(ctx, query,
		record.ID, record.ActorUserID, record.Action, record.Provider,
		record.Outcome, record.CorrelationID, record.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to append audit record: %w", err)
	}
	return nil
}

// ListByUser retrieves audit records for one actor, most recent first
func (r *AuditRepository) ListByUser(ctx context.Context, userID string, limit int) ([]*models.AuditRecord, error) {
	query := `
		SELECT id, actor_user_id, action, provider, outcome, correlation_id, created_at
		FROM audit_log
		WHERE actor_user_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`

	rows, err := r.db.Query(ctx, query, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list audit records: %w", err)
	}
	defer rows.Close()

	var records []*models.AuditRecord
	for rows.Next() {
		record := &models.AuditRecord{}
		err := rows.Scan(
			&record.ID, &record.ActorUserID, &record.Action, &record.Provider,
			&record.Outcome, &record.CorrelationID, &record.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan audit record: %w", err)
		}
		records = append(records, record)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating audit records: %w", err)
	}

	return records, nil
}
