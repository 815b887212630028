package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/portail-univ/demande-api/internal/models"
	"github.com/portail-univ/demande-api/internal/workflow"
)

const demandeColumns = `id, number, student_id, type, subject, details, status, status_label, status_color,
       admin_comment, rejection_reason, assigned_to_id, processed_at, receipt_path, created_at, updated_at`

// DemandeRepository persists demandes and their yearly numbering counter.
type DemandeRepository struct {
	db *sqlx.DB
}

// NewDemandeRepository constructs the repository.
func NewDemandeRepository(db *sqlx.DB) *DemandeRepository {
	return &DemandeRepository{db: db}
}

// NextNumber reserves the next sequence value for the given year and formats
// it as DEM-YYYY-NNNNNN. The upsert increments atomically, so concurrent
// creations never observe the same value.
func (r *DemandeRepository) NextNumber(ctx context.Context, year int) (string, error) {
	const query = `INSERT INTO demande_counters (year, last_value) VALUES ($1, 1)
		ON CONFLICT (year) DO UPDATE SET last_value = demande_counters.last_value + 1
		RETURNING last_value`
	var value int
	if err := r.db.GetContext(ctx, &value, query, year); err != nil {
		return "", fmt.Errorf("next demande number for %d: %w", year, err)
	}
	return fmt.Sprintf("DEM-%d-%06d", year, value), nil
}

// Create inserts a new demande row.
func (r *DemandeRepository) Create(ctx context.Context, demande *models.Demande) error {
	if demande.ID == "" {
		demande.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if demande.CreatedAt.IsZero() {
		demande.CreatedAt = now
	}
	demande.UpdatedAt = demande.CreatedAt

	const query = `INSERT INTO demandes
	(id, number, student_id, type, subject, details, status, status_label, status_color,
	 admin_comment, rejection_reason, assigned_to_id, processed_at, receipt_path, created_at, updated_at)
	VALUES (:id, :number, :student_id, :type, :subject, :details, :status, :status_label, :status_color,
	 :admin_comment, :rejection_reason, :assigned_to_id, :processed_at, :receipt_path, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, demande); err != nil {
		return fmt.Errorf("create demande: %w", err)
	}
	return nil
}

// GetByID fetches a demande by identifier.
func (r *DemandeRepository) GetByID(ctx context.Context, id string) (*models.Demande, error) {
	query := fmt.Sprintf(`SELECT %s FROM demandes WHERE id = $1`, demandeColumns)
	var demande models.Demande
	if err := r.db.GetContext(ctx, &demande, query, id); err != nil {
		return nil, err
	}
	return &demande, nil
}

// GetByNumber fetches a demande by its public DEM-YYYY-NNNNNN number.
func (r *DemandeRepository) GetByNumber(ctx context.Context, number string) (*models.Demande, error) {
	query := fmt.Sprintf(`SELECT %s FROM demandes WHERE number = $1`, demandeColumns)
	var demande models.Demande
	if err := r.db.GetContext(ctx, &demande, query, number); err != nil {
		return nil, err
	}
	return &demande, nil
}

// List returns demandes matching the filter (latest first) with a total count.
func (r *DemandeRepository) List(ctx context.Context, filter models.DemandeFilter) ([]models.Demande, int, error) {
	args := make([]interface{}, 0, 6)
	conditions := make([]string, 0, 4)

	if len(filter.Status) > 0 {
		placeholders := make([]string, len(filter.Status))
		for i, status := range filter.Status {
			args = append(args, status)
			placeholders[i] = fmt.Sprintf("$%d", len(args))
		}
		conditions = append(conditions, fmt.Sprintf("status IN (%s)", strings.Join(placeholders, ",")))
	}
	if filter.Type != "" {
		args = append(args, filter.Type)
		conditions = append(conditions, fmt.Sprintf("type = $%d", len(args)))
	}
	if filter.StudentID != "" {
		args = append(args, filter.StudentID)
		conditions = append(conditions, fmt.Sprintf("student_id = $%d", len(args)))
	}
	if filter.AssignedToID != "" {
		args = append(args, filter.AssignedToID)
		conditions = append(conditions, fmt.Sprintf("assigned_to_id = $%d", len(args)))
	}

	where := ""
	if len(conditions) > 0 {
		where = " WHERE " + strings.Join(conditions, " AND ")
	}

	limit := filter.Limit
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	offset := filter.Offset
	if offset < 0 {
		offset = 0
	}

	listQuery := fmt.Sprintf("SELECT %s FROM demandes%s ORDER BY created_at DESC LIMIT %d OFFSET %d",
		demandeColumns, where, limit, offset)

	var demandes []models.Demande
	if err := r.db.SelectContext(ctx, &demandes, listQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("list demandes: %w", err)
	}

	countQuery := fmt.Sprintf("SELECT COUNT(*) FROM demandes%s", where)
	var total int
	if err := r.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("count demandes: %w", err)
	}

	return demandes, total, nil
}

// UpdateStatus applies a transition write guarded by the expected status.
// When the row has moved on since it was read, zero rows match and the method
// returns sql.ErrNoRows so callers can detect the lost race.
func (r *DemandeRepository) UpdateStatus(ctx context.Context, params workflow.UpdateStatusParams) error {
	setParts := []string{
		"status = :status",
		"status_label = :status_label",
		"status_color = :status_color",
		"updated_at = :updated_at",
	}
	if params.AdminComment != nil {
		setParts = append(setParts, "admin_comment = :admin_comment")
	}
	if params.RejectionReason != nil {
		setParts = append(setParts, "rejection_reason = :rejection_reason")
	}
	if params.AssignedToID != nil {
		setParts = append(setParts, "assigned_to_id = :assigned_to_id")
	}
	if params.ProcessedAt != nil {
		setParts = append(setParts, "processed_at = :processed_at")
	}
	query := fmt.Sprintf("UPDATE demandes SET %s WHERE id = :id AND status = :expected_status",
		strings.Join(setParts, ", "))

	result, err := r.db.NamedExecContext(ctx, query, map[string]interface{}{
		"id":               params.ID,
		"expected_status":  params.ExpectedStatus,
		"status":           params.Status,
		"status_label":     params.StatusLabel,
		"status_color":     params.StatusColor,
		"admin_comment":    params.AdminComment,
		"rejection_reason": params.RejectionReason,
		"assigned_to_id":   params.AssignedToID,
		"processed_at":     params.ProcessedAt,
		"updated_at":       params.UpdatedAt,
	})
	if err != nil {
		return fmt.Errorf("update demande status: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("check demande update rows: %w", err)
	}
	if rows == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// UpdateReceiptPath records where the generated receipt document was stored.
func (r *DemandeRepository) UpdateReceiptPath(ctx context.Context, id, path string, updatedAt time.Time) error {
	const query = `UPDATE demandes SET receipt_path = $2, updated_at = $3 WHERE id = $1`
	if _, err := r.db.ExecContext(ctx, query, id, path, updatedAt); err != nil {
		return fmt.Errorf("update receipt path: %w", err)
	}
	return nil
}

// Delete removes a demande row. Used to compensate a creation whose initial
// auto-advance could not complete.
func (r *DemandeRepository) Delete(ctx context.Context, id string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM demandes WHERE id = $1`, id); err != nil {
		return fmt.Errorf("delete demande: %w", err)
	}
	return nil
}

// CountByStatus aggregates demandes per status, optionally scoped to one
// student.
func (r *DemandeRepository) CountByStatus(ctx context.Context, studentID string) ([]models.StatusCount, error) {
	query := `SELECT status, COUNT(*) AS count FROM demandes`
	args := []interface{}{}
	if studentID != "" {
		query += ` WHERE student_id = $1`
		args = append(args, studentID)
	}
	query += ` GROUP BY status ORDER BY status`

	var counts []models.StatusCount
	if err := r.db.SelectContext(ctx, &counts, query, args...); err != nil {
		return nil, fmt.Errorf("count demandes by status: %w", err)
	}
	return counts, nil
}

// ListStaleSubmitted returns demandes still in SUBMITTED older than the
// cutoff. The reconciliation sweep re-drives their auto-advance.
func (r *DemandeRepository) ListStaleSubmitted(ctx context.Context, cutoff time.Time, limit int) ([]models.Demande, error) {
	if limit <= 0 {
		limit = 50
	}
	query := fmt.Sprintf(`SELECT %s FROM demandes WHERE status = $1 AND created_at < $2 ORDER BY created_at ASC LIMIT %d`,
		demandeColumns, limit)
	var demandes []models.Demande
	if err := r.db.SelectContext(ctx, &demandes, query, models.StatusSubmitted, cutoff); err != nil {
		return nil, fmt.Errorf("list stale submitted demandes: %w", err)
	}
	return demandes, nil
}

// ListAuditGaps returns demandes that have moved past SUBMITTED without any
// STATUS_CHANGE audit record, meaning a best-effort audit write was lost.
func (r *DemandeRepository) ListAuditGaps(ctx context.Context, limit int) ([]models.Demande, error) {
	if limit <= 0 {
		limit = 50
	}
	query := fmt.Sprintf(`SELECT %s FROM demandes d
		WHERE d.status <> $1
		  AND NOT EXISTS (
			SELECT 1 FROM demande_audits a
			WHERE a.demande_id = d.id AND a.action = $2
		  )
		ORDER BY d.created_at ASC LIMIT %d`, demandeColumns, limit)
	var demandes []models.Demande
	if err := r.db.SelectContext(ctx, &demandes, query, models.StatusSubmitted, models.AuditActionStatusChange); err != nil {
		return nil, fmt.Errorf("list audit gaps: %w", err)
	}
	return demandes, nil
}
