package workflow

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/portail-univ/demande-api/internal/models"
)

var allRoles = []models.UserRole{
	models.RoleStudent,
	models.RoleAdmin,
	models.RoleSuperAdmin,
	models.RoleSystem,
}

func TestEveryTransitionHasPermissionEntry(t *testing.T) {
	tables := DefaultTables()
	for from, targets := range tables.Graph {
		for _, to := range targets {
			roles, ok := tables.Permissions[TransitionKey(from, to)]
			require.True(t, ok, "transition %s has no permission entry", TransitionKey(from, to))
			require.NotEmpty(t, roles)
		}
	}
	// no stray permission entries for edges outside the graph
	require.Len(t, tables.Permissions, len(validTransitions))
}

func TestPermissionTableNeitherEmptyNorUniversal(t *testing.T) {
	tables := DefaultTables()
	for _, pair := range validTransitions {
		from, to := pair[0], pair[1]
		allowed, denied := 0, 0
		for _, role := range allRoles {
			if tables.IsAuthorized(from, to, role) {
				allowed++
			} else {
				denied++
			}
		}
		require.Positive(t, allowed, "no role can execute %s", TransitionKey(from, to))
		require.Positive(t, denied, "every role can execute %s", TransitionKey(from, to))
	}
}

func TestSystemOnlyAuthorizedForAutoAdvance(t *testing.T) {
	tables := DefaultTables()
	for _, pair := range validTransitions {
		from, to := pair[0], pair[1]
		authorized := tables.IsAuthorized(from, to, models.RoleSystem)
		if from == models.StatusSubmitted && to == models.StatusReceived {
			require.True(t, authorized)
		} else {
			require.False(t, authorized, "SYSTEM must not execute %s", TransitionKey(from, to))
		}
	}
}

func TestUnlistedTransitionFailsClosed(t *testing.T) {
	tables := DefaultTables()
	// edge in the graph but removed from the permission table: a
	// configuration bug that must deny everyone
	delete(tables.Permissions, TransitionKey(models.StatusApproved, models.StatusProcessed))
	for _, role := range allRoles {
		require.False(t, tables.IsAuthorized(models.StatusApproved, models.StatusProcessed, role))
	}
	// a pair that never existed
	for _, role := range allRoles {
		require.False(t, tables.IsAuthorized(models.StatusReceived, models.StatusProcessed, role))
	}
}

func TestStudentsCannotReject(t *testing.T) {
	tables := DefaultTables()
	require.False(t, tables.IsAuthorized(models.StatusReceived, models.StatusRejected, models.RoleStudent))
	require.False(t, tables.IsAuthorized(models.StatusInProgress, models.StatusRejected, models.RoleStudent))
	require.False(t, tables.IsAuthorized(models.StatusAwaitingInfo, models.StatusRejected, models.RoleStudent))
}

func TestStudentCanResumeAwaitingInfo(t *testing.T) {
	tables := DefaultTables()
	require.True(t, tables.IsAuthorized(models.StatusAwaitingInfo, models.StatusInProgress, models.RoleStudent))
}
