package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/portail-univ/demande-api/internal/models"
	"github.com/portail-univ/demande-api/internal/workflow"
)

func (r *demandeRepoStub) ListStaleSubmitted(ctx context.Context, cutoff time.Time, limit int) ([]models.Demande, error) {
	result := make([]models.Demande, 0)
	for _, demande := range r.demandes {
		if demande.Status == models.StatusSubmitted && demande.CreatedAt.Before(cutoff) {
			result = append(result, *demande)
		}
		if len(result) >= limit {
			break
		}
	}
	return result, nil
}

func (r *demandeRepoStub) ListAuditGaps(ctx context.Context, limit int) ([]models.Demande, error) {
	if r.auditGaps != nil {
		return r.auditGaps, nil
	}
	return nil, nil
}

func TestReconcileAdvancesStrandedDemandes(t *testing.T) {
	repo := newDemandeRepoStub()
	audit := &auditTrailStub{}
	executor := workflow.NewExecutor(workflow.DefaultTables(), repo, audit, nil)

	meta, _ := workflow.Meta(models.StatusSubmitted)
	stale := &models.Demande{
		ID: "dem-1", Number: "DEM-2026-000001", StudentID: "student-1",
		Type: models.DemandeTypeTranscript, Status: models.StatusSubmitted,
		StatusLabel: meta.Label, StatusColor: meta.Color,
		CreatedAt: time.Now().UTC().Add(-time.Hour),
	}
	repo.demandes[stale.ID] = stale

	fresh := &models.Demande{
		ID: "dem-2", Number: "DEM-2026-000002", StudentID: "student-2",
		Type: models.DemandeTypeOther, Status: models.StatusSubmitted,
		StatusLabel: meta.Label, StatusColor: meta.Color,
		CreatedAt: time.Now().UTC(),
	}
	repo.demandes[fresh.ID] = fresh

	svc := NewReconcileService(repo, executor, time.Minute, nil)
	advanced, err := svc.RunOnce(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, advanced)
	require.Equal(t, models.StatusReceived, repo.demandes["dem-1"].Status)
	// inside the grace window, left alone
	require.Equal(t, models.StatusSubmitted, repo.demandes["dem-2"].Status)

	// audit carries the system actor
	require.Len(t, audit.records, 1)
	require.Equal(t, models.RoleSystem, audit.records[0].ActorRole)

	// second sweep finds nothing
	advanced, err = svc.RunOnce(context.Background())
	require.NoError(t, err)
	require.Zero(t, advanced)
}
