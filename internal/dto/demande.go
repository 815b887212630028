package dto

import (
	"github.com/portail-univ/demande-api/internal/models"
)

// CreateDemandeRequest payload for submitting a new demande.
type CreateDemandeRequest struct {
	Type    models.DemandeType `json:"type" binding:"required"`
	Subject string             `json:"subject" binding:"required,max=200"`
	Details string             `json:"details" binding:"max=4000"`
}

// TransitionRequest captures the target status and the fields the transition
// may require.
type TransitionRequest struct {
	Status          models.DemandeStatus `json:"status" binding:"required"`
	Comment         string               `json:"comment"`
	RejectionReason string               `json:"rejectionReason"`
	AssignedToID    string               `json:"assignedToId"`
}

// CommentRequest adds a free-form comment to a demande's trail.
type CommentRequest struct {
	Comment string `json:"comment" binding:"required,max=2000"`
}

// DemandeQuery mirrors supported listing filters.
type DemandeQuery struct {
	Status       []models.DemandeStatus
	Type         models.DemandeType
	StudentID    string
	AssignedToID string
	Page         int
	PageSize     int
}

// StatsResponse is the aggregated dashboard payload, cached in Redis.
type StatsResponse struct {
	Total    int                  `json:"total"`
	ByStatus []models.StatusCount `json:"byStatus"`
	Open     int                  `json:"open"`
	Terminal int                  `json:"terminal"`
}

// ReceiptResponse carries the signed download link for a generated receipt.
type ReceiptResponse struct {
	DemandeID string `json:"demandeId"`
	Number    string `json:"number"`
	URL       string `json:"url"`
	ExpiresAt string `json:"expiresAt"`
}

// TransitionOption describes one target reachable from the current status for
// the calling role, with the fields it requires.
type TransitionOption struct {
	Status         models.DemandeStatus `json:"status"`
	Label          string               `json:"label"`
	Color          string               `json:"color"`
	RequiredFields []string             `json:"requiredFields,omitempty"`
}
