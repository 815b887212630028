package models

import "time"

// AuditAction enumerates the event kinds recorded on the audit trail.
type AuditAction string

const (
	AuditActionCreation     AuditAction = "CREATION"
	AuditActionStatusChange AuditAction = "STATUS_CHANGE"
	AuditActionModification AuditAction = "MODIFICATION"
	AuditActionComment      AuditAction = "COMMENT"
)

// AuditRecord is an immutable audit trail entry describing one creation,
// transition, modification or comment event for a demande. Records are
// append-only and never updated or deleted.
type AuditRecord struct {
	ID             string         `db:"id" json:"id"`
	DemandeID      string         `db:"demande_id" json:"demandeId"`
	PreviousStatus *DemandeStatus `db:"previous_status" json:"previousStatus,omitempty"`
	NewStatus      DemandeStatus  `db:"new_status" json:"newStatus"`
	ActorID        string         `db:"actor_id" json:"actorId"`
	ActorRole      UserRole       `db:"actor_role" json:"actorRole"`
	Action         AuditAction    `db:"action" json:"action"`
	Comment        *string        `db:"comment" json:"comment,omitempty"`
	Changes        []byte         `db:"changes" json:"changes,omitempty"`
	CreatedAt      time.Time      `db:"created_at" json:"createdAt"`
}
