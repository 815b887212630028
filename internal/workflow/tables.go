package workflow

import "github.com/portail-univ/demande-api/internal/models"

// Tables bundles the read-only workflow configuration: transition graph,
// per-transition role permissions and per-target field requirements. Built
// once at process start and injected into the Executor so tests can
// substitute reduced tables.
type Tables struct {
	Graph        map[models.DemandeStatus][]models.DemandeStatus
	Permissions  map[string][]models.UserRole
	Requirements map[models.DemandeStatus]Requirement
}

// DefaultTables returns the production workflow configuration.
func DefaultTables() *Tables {
	return &Tables{
		Graph:        defaultGraph(),
		Permissions:  defaultPermissions(),
		Requirements: defaultRequirements(),
	}
}
