package workflow

import (
	"fmt"

	"github.com/portail-univ/demande-api/internal/models"
)

// TransitionKey builds the "FROM->TO" key identifying a transition in the
// permission table.
func TransitionKey(from, to models.DemandeStatus) string {
	return fmt.Sprintf("%s->%s", from, to)
}

// defaultPermissions maps each transition to the roles allowed to execute it.
// SYSTEM is authorized solely for the post-creation auto-advance. Students
// may resume an AWAITING_INFO demande by supplying the requested information.
func defaultPermissions() map[string][]models.UserRole {
	staff := []models.UserRole{models.RoleAdmin, models.RoleSuperAdmin}
	return map[string][]models.UserRole{
		TransitionKey(models.StatusSubmitted, models.StatusReceived):      {models.RoleSystem},
		TransitionKey(models.StatusReceived, models.StatusInProgress):     staff,
		TransitionKey(models.StatusReceived, models.StatusRejected):       staff,
		TransitionKey(models.StatusInProgress, models.StatusAwaitingInfo): staff,
		TransitionKey(models.StatusInProgress, models.StatusApproved):     staff,
		TransitionKey(models.StatusInProgress, models.StatusRejected):     staff,
		TransitionKey(models.StatusAwaitingInfo, models.StatusInProgress): {models.RoleStudent, models.RoleAdmin, models.RoleSuperAdmin},
		TransitionKey(models.StatusAwaitingInfo, models.StatusRejected):   staff,
		TransitionKey(models.StatusApproved, models.StatusProcessed):      staff,
		TransitionKey(models.StatusRejected, models.StatusArchived):       {models.RoleSuperAdmin},
		TransitionKey(models.StatusProcessed, models.StatusArchived):      {models.RoleSuperAdmin},
	}
}

// IsAuthorized reports whether the role may execute the transition. An
// unlisted transition is never authorized, even if the graph contains it.
func (t *Tables) IsAuthorized(from, to models.DemandeStatus, role models.UserRole) bool {
	roles, ok := t.Permissions[TransitionKey(from, to)]
	if !ok {
		return false
	}
	for _, allowed := range roles {
		if allowed == role {
			return true
		}
	}
	return false
}
