package workflow

import "github.com/portail-univ/demande-api/internal/models"

// defaultGraph returns the fixed transition adjacency. Terminal statuses have
// no outbound edges; the only cycle is IN_PROGRESS <-> AWAITING_INFO.
func defaultGraph() map[models.DemandeStatus][]models.DemandeStatus {
	return map[models.DemandeStatus][]models.DemandeStatus{
		models.StatusSubmitted:    {models.StatusReceived},
		models.StatusReceived:     {models.StatusInProgress, models.StatusRejected},
		models.StatusInProgress:   {models.StatusAwaitingInfo, models.StatusApproved, models.StatusRejected},
		models.StatusAwaitingInfo: {models.StatusInProgress, models.StatusRejected},
		models.StatusApproved:     {models.StatusProcessed},
		models.StatusRejected:     {models.StatusArchived},
		models.StatusProcessed:    {models.StatusArchived},
		models.StatusArchived:     {},
	}
}

// AllowedTransitions returns the statuses reachable in one step from the
// given status. Unknown and terminal statuses yield an empty slice.
func (t *Tables) AllowedTransitions(from models.DemandeStatus) []models.DemandeStatus {
	targets := t.Graph[from]
	return append([]models.DemandeStatus(nil), targets...)
}

// CanTransition reports whether to is directly reachable from from. The graph
// never lists a status as its own successor, so self-transitions are always
// rejected.
func (t *Tables) CanTransition(from, to models.DemandeStatus) bool {
	for _, target := range t.Graph[from] {
		if target == to {
			return true
		}
	}
	return false
}

// IsTerminal reports whether a known status has no outbound transitions.
func (t *Tables) IsTerminal(s models.DemandeStatus) bool {
	targets, ok := t.Graph[s]
	return ok && len(targets) == 0
}
