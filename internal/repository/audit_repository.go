package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/portail-univ/demande-api/internal/models"
)

const auditColumns = `id, demande_id, previous_status, new_status, actor_id, actor_role, action, comment, changes, created_at`

// AuditRepository persists the append-only audit trail.
type AuditRepository struct {
	db *sqlx.DB
}

// NewAuditRepository constructs the repository.
func NewAuditRepository(db *sqlx.DB) *AuditRepository {
	return &AuditRepository{db: db}
}

// Append inserts one audit record. Records are never updated or deleted.
func (r *AuditRepository) Append(ctx context.Context, record *models.AuditRecord) error {
	if record.ID == "" {
		record.ID = uuid.NewString()
	}
	if record.CreatedAt.IsZero() {
		record.CreatedAt = time.Now().UTC()
	}
	const query = `INSERT INTO demande_audits
	(id, demande_id, previous_status, new_status, actor_id, actor_role, action, comment, changes, created_at)
	VALUES (:id, :demande_id, :previous_status, :new_status, :actor_id, :actor_role, :action, :comment, :changes, :created_at)`
	if _, err := r.db.NamedExecContext(ctx, query, record); err != nil {
		return fmt.Errorf("append audit record: %w", err)
	}
	return nil
}

// ListByDemande returns the full trail for a demande in chronological order.
func (r *AuditRepository) ListByDemande(ctx context.Context, demandeID string) ([]models.AuditRecord, error) {
	query := fmt.Sprintf(`SELECT %s FROM demande_audits WHERE demande_id = $1 ORDER BY created_at ASC, id ASC`, auditColumns)
	var records []models.AuditRecord
	if err := r.db.SelectContext(ctx, &records, query, demandeID); err != nil {
		return nil, fmt.Errorf("list audit records: %w", err)
	}
	return records, nil
}

// ListComments returns only the COMMENT entries for a demande, oldest first.
func (r *AuditRepository) ListComments(ctx context.Context, demandeID string) ([]models.AuditRecord, error) {
	query := fmt.Sprintf(`SELECT %s FROM demande_audits WHERE demande_id = $1 AND action = $2 ORDER BY created_at ASC, id ASC`, auditColumns)
	var records []models.AuditRecord
	if err := r.db.SelectContext(ctx, &records, query, demandeID, models.AuditActionComment); err != nil {
		return nil, fmt.Errorf("list comment records: %w", err)
	}
	return records, nil
}

// CountStatusChanges returns how many STATUS_CHANGE entries exist for a
// demande. The reconciliation sweep compares this against the entity's
// current position to spot trails that lost a best-effort write.
func (r *AuditRepository) CountStatusChanges(ctx context.Context, demandeID string) (int, error) {
	const query = `SELECT COUNT(*) FROM demande_audits WHERE demande_id = $1 AND action = $2`
	var count int
	if err := r.db.GetContext(ctx, &count, query, demandeID, models.AuditActionStatusChange); err != nil {
		return 0, fmt.Errorf("count status changes: %w", err)
	}
	return count, nil
}
