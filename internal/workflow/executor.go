package workflow

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/portail-univ/demande-api/internal/models"
)

// Actor is the identity attempting a transition, together with the data it
// supplies. Comment, RejectionReason and AssignedToID feed the requirement
// check and are written onto the demande when the transition applies.
type Actor struct {
	ID              string
	Role            models.UserRole
	Comment         string
	RejectionReason string
	AssignedToID    string
}

// SystemActor is the pseudo-actor driving the post-creation auto-advance.
func SystemActor() Actor {
	return Actor{ID: models.SystemActorID, Role: models.RoleSystem}
}

func (a Actor) suppliedFields() map[Field]string {
	supplied := make(map[Field]string, 3)
	if strings.TrimSpace(a.Comment) != "" {
		supplied[FieldComment] = strings.TrimSpace(a.Comment)
	}
	if strings.TrimSpace(a.RejectionReason) != "" {
		supplied[FieldRejectionReason] = strings.TrimSpace(a.RejectionReason)
	}
	if strings.TrimSpace(a.AssignedToID) != "" {
		supplied[FieldAssignedTo] = strings.TrimSpace(a.AssignedToID)
	}
	return supplied
}

// UpdateStatusParams groups the columns a transition writes. ExpectedStatus
// conditions the update: implementations must only apply the write while the
// row is still in that status and return sql.ErrNoRows otherwise.
type UpdateStatusParams struct {
	ID              string
	ExpectedStatus  models.DemandeStatus
	Status          models.DemandeStatus
	StatusLabel     string
	StatusColor     string
	AdminComment    *string
	RejectionReason *string
	AssignedToID    *string
	ProcessedAt     *time.Time
	UpdatedAt       time.Time
}

// DemandeStore is the persistence collaborator for the entity write.
type DemandeStore interface {
	UpdateStatus(ctx context.Context, params UpdateStatusParams) error
}

// AuditStore appends immutable audit records.
type AuditStore interface {
	Append(ctx context.Context, record *models.AuditRecord) error
}

// Result is the outcome of a successful transition. AuditErr is non-nil when
// the status change persisted but the audit record could not be written; the
// transition itself still succeeded.
type Result struct {
	Demande  *models.Demande
	AuditErr error
}

// Executor validates and applies status transitions for demandes.
type Executor struct {
	tables   *Tables
	demandes DemandeStore
	audits   AuditStore
	logger   *zap.Logger
	now      func() time.Time
}

// NewExecutor constructs an Executor bound to the given tables and stores.
func NewExecutor(tables *Tables, demandes DemandeStore, audits AuditStore, logger *zap.Logger) *Executor {
	if tables == nil {
		tables = DefaultTables()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Executor{
		tables:   tables,
		demandes: demandes,
		audits:   audits,
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Tables exposes the injected configuration (used by read-only endpoints).
func (e *Executor) Tables() *Tables {
	return e.tables
}

// Transition moves the demande to the target status on behalf of the actor.
// It checks reachability, authorization and required fields, applies the
// change with an optimistic-concurrency guard on the previously read status,
// mutates the demande in place and appends one audit record. Audit failure
// does not roll back the persisted status change; it is reported on the
// result and logged at warn level.
func (e *Executor) Transition(ctx context.Context, demande *models.Demande, target models.DemandeStatus, actor Actor) (*Result, error) {
	current := demande.Status

	if !e.tables.CanTransition(current, target) {
		return nil, &InvalidTransitionError{From: current, To: target}
	}
	if !e.tables.IsAuthorized(current, target, actor.Role) {
		return nil, &UnauthorizedTransitionError{From: current, To: target, Role: actor.Role}
	}

	supplied := actor.suppliedFields()
	if err := e.tables.CheckRequirements(target, supplied); err != nil {
		return nil, err
	}

	meta, ok := Meta(target)
	if !ok {
		return nil, &InvalidTransitionError{From: current, To: target}
	}

	now := e.now()
	params := UpdateStatusParams{
		ID:             demande.ID,
		ExpectedStatus: current,
		Status:         target,
		StatusLabel:    meta.Label,
		StatusColor:    meta.Color,
		UpdatedAt:      now,
	}
	if v, ok := supplied[FieldComment]; ok {
		params.AdminComment = &v
	}
	if v, ok := supplied[FieldRejectionReason]; ok {
		params.RejectionReason = &v
	}
	if v, ok := supplied[FieldAssignedTo]; ok {
		params.AssignedToID = &v
	}
	if target == models.StatusProcessed {
		processedAt := now
		params.ProcessedAt = &processedAt
	}

	if err := e.demandes.UpdateStatus(ctx, params); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, &ConcurrentModificationError{DemandeID: demande.ID, Expected: current}
		}
		return nil, err
	}

	demande.Status = target
	demande.StatusLabel = meta.Label
	demande.StatusColor = meta.Color
	demande.UpdatedAt = now
	if params.AdminComment != nil {
		demande.AdminComment = params.AdminComment
	}
	if params.RejectionReason != nil {
		demande.RejectionReason = params.RejectionReason
	}
	if params.AssignedToID != nil {
		demande.AssignedToID = params.AssignedToID
	}
	if params.ProcessedAt != nil {
		demande.ProcessedAt = params.ProcessedAt
	}

	result := &Result{Demande: demande}
	record := e.buildAuditRecord(demande, current, target, actor, supplied, now)
	if err := e.audits.Append(ctx, record); err != nil {
		e.logger.Warn("failed to persist audit record",
			zap.String("demande_id", demande.ID),
			zap.String("transition", TransitionKey(current, target)),
			zap.Error(err),
		)
		result.AuditErr = err
	}

	return result, nil
}

func (e *Executor) buildAuditRecord(demande *models.Demande, previous, target models.DemandeStatus, actor Actor, supplied map[Field]string, now time.Time) *models.AuditRecord {
	record := &models.AuditRecord{
		DemandeID:      demande.ID,
		PreviousStatus: &previous,
		NewStatus:      target,
		ActorID:        actor.ID,
		ActorRole:      actor.Role,
		Action:         models.AuditActionStatusChange,
		CreatedAt:      now,
	}
	if v, ok := supplied[FieldComment]; ok {
		record.Comment = &v
	}
	if len(supplied) > 0 {
		changes := make(map[string]string, len(supplied))
		for field, value := range supplied {
			changes[string(field)] = value
		}
		if payload, err := json.Marshal(changes); err == nil {
			record.Changes = payload
		}
	}
	return record
}
