package workflow

import (
	"fmt"

	"github.com/portail-univ/demande-api/internal/models"
)

// StatusMeta carries the display metadata attached to each lifecycle status.
type StatusMeta struct {
	Label    string `json:"label"`
	Color    string `json:"color"`
	Terminal bool   `json:"terminal"`
}

// statusRegistry is the closed set of lifecycle statuses. The Terminal flag
// must agree with the transition graph (asserted in tests): REJECTED and
// PROCESSED end the processing workflow but still archive, so only ARCHIVED
// carries the flag.
var statusRegistry = map[models.DemandeStatus]StatusMeta{
	models.StatusSubmitted:    {Label: "Soumise", Color: "#9E9E9E"},
	models.StatusReceived:     {Label: "Reçue", Color: "#2196F3"},
	models.StatusInProgress:   {Label: "En cours de traitement", Color: "#FF9800"},
	models.StatusAwaitingInfo: {Label: "En attente d'informations", Color: "#9C27B0"},
	models.StatusApproved:     {Label: "Approuvée", Color: "#4CAF50"},
	models.StatusRejected:     {Label: "Rejetée", Color: "#F44336"},
	models.StatusProcessed:    {Label: "Traitée", Color: "#009688"},
	models.StatusArchived:     {Label: "Archivée", Color: "#607D8B", Terminal: true},
}

// statusOrder fixes a stable iteration order for listings and tests.
var statusOrder = []models.DemandeStatus{
	models.StatusSubmitted,
	models.StatusReceived,
	models.StatusInProgress,
	models.StatusAwaitingInfo,
	models.StatusApproved,
	models.StatusRejected,
	models.StatusProcessed,
	models.StatusArchived,
}

// Meta returns the registry entry for a status.
func Meta(s models.DemandeStatus) (StatusMeta, bool) {
	meta, ok := statusRegistry[s]
	return meta, ok
}

// KnownStatus reports whether the value belongs to the closed status set.
func KnownStatus(s models.DemandeStatus) bool {
	_, ok := statusRegistry[s]
	return ok
}

// ParseStatus validates a raw string against the closed status set.
func ParseStatus(raw string) (models.DemandeStatus, error) {
	s := models.DemandeStatus(raw)
	if !KnownStatus(s) {
		return "", fmt.Errorf("unknown status: %s", raw)
	}
	return s, nil
}

// AllStatuses returns every lifecycle status in declaration order.
func AllStatuses() []models.DemandeStatus {
	return append([]models.DemandeStatus(nil), statusOrder...)
}
