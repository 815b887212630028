package workflow

import (
	"fmt"
	"strings"

	"github.com/portail-univ/demande-api/internal/models"
)

// InvalidTransitionError reports a target status not reachable from the
// current one. Never retried.
type InvalidTransitionError struct {
	From models.DemandeStatus
	To   models.DemandeStatus
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("transition %s -> %s is not allowed", e.From, e.To)
}

// UnauthorizedTransitionError reports an actor role lacking permission for an
// otherwise valid transition.
type UnauthorizedTransitionError struct {
	From models.DemandeStatus
	To   models.DemandeStatus
	Role models.UserRole
}

func (e *UnauthorizedTransitionError) Error() string {
	return fmt.Sprintf("role %s is not authorized for transition %s -> %s", e.Role, e.From, e.To)
}

// MissingFieldsError reports required transition data absent from the actor
// context. Fields lists the missing names for client-side correction.
type MissingFieldsError struct {
	Target models.DemandeStatus
	Fields []string
}

func (e *MissingFieldsError) Error() string {
	return fmt.Sprintf("transition to %s requires fields: %s", e.Target, strings.Join(e.Fields, ", "))
}

// ConcurrentModificationError reports that the optimistic-concurrency guard
// tripped: the demande left the status read at the start of the transition
// before the conditional update ran. Callers should reload and retry.
type ConcurrentModificationError struct {
	DemandeID string
	Expected  models.DemandeStatus
}

func (e *ConcurrentModificationError) Error() string {
	return fmt.Sprintf("demande %s is no longer in status %s", e.DemandeID, e.Expected)
}
