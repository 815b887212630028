package workflow

import (
	"strings"

	"github.com/portail-univ/demande-api/internal/models"
)

// Field names the pieces of actor-supplied data a transition may consume.
type Field string

const (
	FieldComment         Field = "comment"
	FieldRejectionReason Field = "rejectionReason"
	FieldAssignedTo      Field = "assignedTo"
)

// Requirement lists the fields a transition target demands or accepts.
type Requirement struct {
	Required []Field
	Optional []Field
}

// defaultRequirements keys requirements by the transition target. Targets
// without an entry accept no extra data and are trivially satisfied.
func defaultRequirements() map[models.DemandeStatus]Requirement {
	return map[models.DemandeStatus]Requirement{
		models.StatusInProgress:   {Optional: []Field{FieldAssignedTo, FieldComment}},
		models.StatusAwaitingInfo: {Required: []Field{FieldComment}},
		models.StatusApproved:     {Optional: []Field{FieldComment}},
		models.StatusRejected:     {Required: []Field{FieldRejectionReason}, Optional: []Field{FieldComment}},
		models.StatusProcessed:    {Optional: []Field{FieldComment}},
	}
}

// CheckRequirements verifies every required field for the target status is
// present and non-empty in the supplied set. Optional fields are never
// validated for presence.
func (t *Tables) CheckRequirements(target models.DemandeStatus, supplied map[Field]string) error {
	req, ok := t.Requirements[target]
	if !ok {
		return nil
	}
	var missing []string
	for _, field := range req.Required {
		if strings.TrimSpace(supplied[field]) == "" {
			missing = append(missing, string(field))
		}
	}
	if len(missing) > 0 {
		return &MissingFieldsError{Target: target, Fields: missing}
	}
	return nil
}
