package workflow

import (
	"context"
	"database/sql"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/portail-univ/demande-api/internal/models"
)

// demandeStoreStub applies conditional status updates against an in-memory
// row, mirroring the repository's guarded UPDATE semantics.
type demandeStoreStub struct {
	mu       sync.Mutex
	statuses map[string]models.DemandeStatus
	updates  []UpdateStatusParams
	failWith error
}

func newDemandeStoreStub() *demandeStoreStub {
	return &demandeStoreStub{statuses: make(map[string]models.DemandeStatus)}
}

func (s *demandeStoreStub) UpdateStatus(ctx context.Context, params UpdateStatusParams) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failWith != nil {
		return s.failWith
	}
	current, ok := s.statuses[params.ID]
	if !ok || current != params.ExpectedStatus {
		return sql.ErrNoRows
	}
	s.statuses[params.ID] = params.Status
	s.updates = append(s.updates, params)
	return nil
}

type auditStoreStub struct {
	mu      sync.Mutex
	records []*models.AuditRecord
	err     error
}

func (s *auditStoreStub) Append(ctx context.Context, record *models.AuditRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.records = append(s.records, record)
	return nil
}

func newTestDemande(status models.DemandeStatus) *models.Demande {
	meta, _ := Meta(status)
	return &models.Demande{
		ID:          "dem-1",
		Number:      "DEM-2026-000042",
		StudentID:   "student-1",
		Type:        models.DemandeTypeTranscript,
		Status:      status,
		StatusLabel: meta.Label,
		StatusColor: meta.Color,
	}
}

func newTestExecutor(store *demandeStoreStub, audit *auditStoreStub) *Executor {
	return NewExecutor(DefaultTables(), store, audit, nil)
}

func TestExecutorHappyPathToTerminal(t *testing.T) {
	store := newDemandeStoreStub()
	audit := &auditStoreStub{}
	exec := newTestExecutor(store, audit)

	demande := newTestDemande(models.StatusSubmitted)
	store.statuses[demande.ID] = demande.Status

	ctx := context.Background()
	admin := Actor{ID: "admin-1", Role: models.RoleAdmin}

	res, err := exec.Transition(ctx, demande, models.StatusReceived, SystemActor())
	require.NoError(t, err)
	require.NoError(t, res.AuditErr)
	require.Equal(t, models.StatusReceived, demande.Status)
	require.Equal(t, "Reçue", demande.StatusLabel)

	_, err = exec.Transition(ctx, demande, models.StatusInProgress, admin)
	require.NoError(t, err)

	_, err = exec.Transition(ctx, demande, models.StatusApproved, admin)
	require.NoError(t, err)

	_, err = exec.Transition(ctx, demande, models.StatusProcessed, admin)
	require.NoError(t, err)
	require.NotNil(t, demande.ProcessedAt)

	// PROCESSED is terminal for staff workflows: nothing but the archive
	// move (SUPERADMIN) remains, and even that is refused to an admin
	var unauthorized *UnauthorizedTransitionError
	_, err = exec.Transition(ctx, demande, models.StatusArchived, admin)
	require.ErrorAs(t, err, &unauthorized)

	var invalid *InvalidTransitionError
	_, err = exec.Transition(ctx, demande, models.StatusInProgress, admin)
	require.ErrorAs(t, err, &invalid)

	_, err = exec.Transition(ctx, demande, models.StatusArchived, Actor{ID: "root-1", Role: models.RoleSuperAdmin})
	require.NoError(t, err)

	// ARCHIVED has no outbound transitions at all
	for _, target := range AllStatuses() {
		_, err = exec.Transition(ctx, demande, target, Actor{ID: "root-1", Role: models.RoleSuperAdmin})
		require.ErrorAs(t, err, &invalid, "transition out of ARCHIVED to %s must fail", target)
	}
}

func TestExecutorRejectsUnreachableTarget(t *testing.T) {
	store := newDemandeStoreStub()
	exec := newTestExecutor(store, &auditStoreStub{})

	demande := newTestDemande(models.StatusReceived)
	store.statuses[demande.ID] = demande.Status

	var invalid *InvalidTransitionError
	_, err := exec.Transition(context.Background(), demande, models.StatusProcessed, Actor{ID: "admin-1", Role: models.RoleAdmin})
	require.ErrorAs(t, err, &invalid)
	require.Equal(t, models.StatusReceived, invalid.From)
	require.Equal(t, models.StatusProcessed, invalid.To)
	require.Empty(t, store.updates, "no partial mutation on failure")
	require.Equal(t, models.StatusReceived, demande.Status)
}

func TestExecutorRejectsUnauthorizedRole(t *testing.T) {
	store := newDemandeStoreStub()
	exec := newTestExecutor(store, &auditStoreStub{})

	demande := newTestDemande(models.StatusReceived)
	store.statuses[demande.ID] = demande.Status

	var unauthorized *UnauthorizedTransitionError
	_, err := exec.Transition(context.Background(), demande, models.StatusRejected, Actor{
		ID:              "student-1",
		Role:            models.RoleStudent,
		RejectionReason: "je retire ma demande",
	})
	require.ErrorAs(t, err, &unauthorized)
	require.Equal(t, models.RoleStudent, unauthorized.Role)
	require.Empty(t, store.updates)
}

func TestExecutorRejectsMissingFields(t *testing.T) {
	store := newDemandeStoreStub()
	exec := newTestExecutor(store, &auditStoreStub{})

	demande := newTestDemande(models.StatusReceived)
	store.statuses[demande.ID] = demande.Status
	ctx := context.Background()
	admin := Actor{ID: "admin-1", Role: models.RoleAdmin}

	var missing *MissingFieldsError
	_, err := exec.Transition(ctx, demande, models.StatusRejected, admin)
	require.ErrorAs(t, err, &missing)
	require.Equal(t, []string{string(FieldRejectionReason)}, missing.Fields)

	res, err := exec.Transition(ctx, demande, models.StatusRejected, Actor{
		ID:              "admin-1",
		Role:            models.RoleAdmin,
		RejectionReason: "dossier incomplet",
	})
	require.NoError(t, err)
	require.NotNil(t, res.Demande.RejectionReason)
	require.Equal(t, "dossier incomplet", *res.Demande.RejectionReason)
}

func TestExecutorConcurrentTransitionsExactlyOneWins(t *testing.T) {
	store := newDemandeStoreStub()
	audit := &auditStoreStub{}
	exec := newTestExecutor(store, audit)

	store.statuses["dem-1"] = models.StatusReceived

	// two copies of the same freshly loaded entity racing to apply
	// conflicting transitions
	first := newTestDemande(models.StatusReceived)
	second := newTestDemande(models.StatusReceived)

	var wg sync.WaitGroup
	errs := make([]error, 2)
	wg.Add(2)
	go func() {
		defer wg.Done()
		_, errs[0] = exec.Transition(context.Background(), first, models.StatusInProgress, Actor{ID: "admin-1", Role: models.RoleAdmin})
	}()
	go func() {
		defer wg.Done()
		_, errs[1] = exec.Transition(context.Background(), second, models.StatusRejected, Actor{
			ID:              "admin-2",
			Role:            models.RoleAdmin,
			RejectionReason: "doublon",
		})
	}()
	wg.Wait()

	var succeeded, conflicted int
	for _, err := range errs {
		if err == nil {
			succeeded++
			continue
		}
		var conflict *ConcurrentModificationError
		require.ErrorAs(t, err, &conflict)
		require.Equal(t, models.StatusReceived, conflict.Expected)
		conflicted++
	}
	require.Equal(t, 1, succeeded)
	require.Equal(t, 1, conflicted)
	require.Len(t, audit.records, 1, "only the winning transition is audited")
}

func TestExecutorStaleReadFailsWithConflict(t *testing.T) {
	store := newDemandeStoreStub()
	exec := newTestExecutor(store, &auditStoreStub{})
	ctx := context.Background()

	store.statuses["dem-1"] = models.StatusReceived
	fresh := newTestDemande(models.StatusReceived)
	stale := newTestDemande(models.StatusReceived)

	_, err := exec.Transition(ctx, fresh, models.StatusInProgress, Actor{ID: "admin-1", Role: models.RoleAdmin})
	require.NoError(t, err)

	var conflict *ConcurrentModificationError
	_, err = exec.Transition(ctx, stale, models.StatusInProgress, Actor{ID: "admin-2", Role: models.RoleAdmin})
	require.ErrorAs(t, err, &conflict)
	require.Equal(t, models.StatusReceived, stale.Status, "stale copy left untouched")
}

func TestExecutorAuditTrailOrderAndContent(t *testing.T) {
	store := newDemandeStoreStub()
	audit := &auditStoreStub{}
	exec := newTestExecutor(store, audit)
	ctx := context.Background()

	demande := newTestDemande(models.StatusSubmitted)
	store.statuses[demande.ID] = demande.Status

	steps := []struct {
		target models.DemandeStatus
		actor  Actor
	}{
		{models.StatusReceived, SystemActor()},
		{models.StatusInProgress, Actor{ID: "admin-1", Role: models.RoleAdmin, AssignedToID: "admin-1"}},
		{models.StatusApproved, Actor{ID: "admin-1", Role: models.RoleAdmin, Comment: "documents vérifiés"}},
	}
	for _, step := range steps {
		_, err := exec.Transition(ctx, demande, step.target, step.actor)
		require.NoError(t, err)
	}

	require.Len(t, audit.records, 3)
	expected := [][2]models.DemandeStatus{
		{models.StatusSubmitted, models.StatusReceived},
		{models.StatusReceived, models.StatusInProgress},
		{models.StatusInProgress, models.StatusApproved},
	}
	for i, record := range audit.records {
		require.Equal(t, models.AuditActionStatusChange, record.Action)
		require.NotNil(t, record.PreviousStatus)
		require.Equal(t, expected[i][0], *record.PreviousStatus)
		require.Equal(t, expected[i][1], record.NewStatus)
	}
	require.Equal(t, models.SystemActorID, audit.records[0].ActorID)
	require.Equal(t, models.RoleSystem, audit.records[0].ActorRole)
	require.NotNil(t, audit.records[2].Comment)
	require.Equal(t, "documents vérifiés", *audit.records[2].Comment)
}

func TestExecutorAuditFailureDoesNotFailTransition(t *testing.T) {
	store := newDemandeStoreStub()
	audit := &auditStoreStub{err: errors.New("audit store unavailable")}
	exec := newTestExecutor(store, audit)

	demande := newTestDemande(models.StatusSubmitted)
	store.statuses[demande.ID] = demande.Status

	res, err := exec.Transition(context.Background(), demande, models.StatusReceived, SystemActor())
	require.NoError(t, err)
	require.Error(t, res.AuditErr)
	require.Equal(t, models.StatusReceived, demande.Status)
	require.Equal(t, models.StatusReceived, store.statuses[demande.ID], "status change stays persisted")
}

func TestExecutorPersistenceErrorPropagates(t *testing.T) {
	store := newDemandeStoreStub()
	store.failWith = errors.New("connection reset")
	exec := newTestExecutor(store, &auditStoreStub{})

	demande := newTestDemande(models.StatusSubmitted)
	_, err := exec.Transition(context.Background(), demande, models.StatusReceived, SystemActor())
	require.EqualError(t, err, "connection reset")
	require.Equal(t, models.StatusSubmitted, demande.Status)
}

func TestExecutorProcessedSetsProcessingDate(t *testing.T) {
	store := newDemandeStoreStub()
	exec := newTestExecutor(store, &auditStoreStub{})
	fixed := time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)
	exec.now = func() time.Time { return fixed }

	demande := newTestDemande(models.StatusApproved)
	store.statuses[demande.ID] = demande.Status

	_, err := exec.Transition(context.Background(), demande, models.StatusProcessed, Actor{ID: "admin-1", Role: models.RoleAdmin})
	require.NoError(t, err)
	require.NotNil(t, demande.ProcessedAt)
	require.Equal(t, fixed, *demande.ProcessedAt)
	require.Equal(t, fixed, demande.UpdatedAt)
}
