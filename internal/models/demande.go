package models

import "time"

// DemandeType enumerates the administrative documents students can request.
type DemandeType string

const (
	DemandeTypeTranscript            DemandeType = "TRANSCRIPT"
	DemandeTypeEnrollmentCertificate DemandeType = "ENROLLMENT_CERTIFICATE"
	DemandeTypeSuccessCertificate    DemandeType = "SUCCESS_CERTIFICATE"
	DemandeTypeDiplomaCopy           DemandeType = "DIPLOMA_COPY"
	DemandeTypeInternshipAgreement   DemandeType = "INTERNSHIP_AGREEMENT"
	DemandeTypeOther                 DemandeType = "OTHER"
)

// DemandeStatus captures the lifecycle states of a request. The transition
// rules between statuses live in the workflow package.
type DemandeStatus string

const (
	StatusSubmitted    DemandeStatus = "SUBMITTED"
	StatusReceived     DemandeStatus = "RECEIVED"
	StatusInProgress   DemandeStatus = "IN_PROGRESS"
	StatusAwaitingInfo DemandeStatus = "AWAITING_INFO"
	StatusApproved     DemandeStatus = "APPROVED"
	StatusRejected     DemandeStatus = "REJECTED"
	StatusProcessed    DemandeStatus = "PROCESSED"
	StatusArchived     DemandeStatus = "ARCHIVED"
)

// Demande is a student-submitted administrative request moving through the
// status workflow. Status label and colour are denormalized at transition
// time so a stored row always carries the full status metadata.
type Demande struct {
	ID              string        `db:"id" json:"id"`
	Number          string        `db:"number" json:"number"`
	StudentID       string        `db:"student_id" json:"studentId"`
	Type            DemandeType   `db:"type" json:"type"`
	Subject         string        `db:"subject" json:"subject"`
	Details         string        `db:"details" json:"details"`
	Status          DemandeStatus `db:"status" json:"status"`
	StatusLabel     string        `db:"status_label" json:"statusLabel"`
	StatusColor     string        `db:"status_color" json:"statusColor"`
	AdminComment    *string       `db:"admin_comment" json:"adminComment,omitempty"`
	RejectionReason *string       `db:"rejection_reason" json:"rejectionReason,omitempty"`
	AssignedToID    *string       `db:"assigned_to_id" json:"assignedToId,omitempty"`
	ProcessedAt     *time.Time    `db:"processed_at" json:"processedAt,omitempty"`
	ReceiptPath     *string       `db:"receipt_path" json:"-"`
	CreatedAt       time.Time     `db:"created_at" json:"createdAt"`
	UpdatedAt       time.Time     `db:"updated_at" json:"updatedAt"`
}

// DemandeFilter constrains listing queries.
type DemandeFilter struct {
	Status       []DemandeStatus
	Type         DemandeType
	StudentID    string
	AssignedToID string
	Limit        int
	Offset       int
}

// StatusCount pairs a status with the number of demandes currently in it.
type StatusCount struct {
	Status DemandeStatus `db:"status" json:"status"`
	Count  int           `db:"count" json:"count"`
}
