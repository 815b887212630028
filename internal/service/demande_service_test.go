package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/portail-univ/demande-api/internal/dto"
	"github.com/portail-univ/demande-api/internal/models"
	"github.com/portail-univ/demande-api/internal/workflow"
	appErrors "github.com/portail-univ/demande-api/pkg/errors"
	"github.com/portail-univ/demande-api/pkg/jobs"
)

type demandeRepoStub struct {
	demandes   map[string]*models.Demande
	counter    int
	countCalls int
	deleted    []string
	auditGaps  []models.Demande
	nextErr    error
	updateErr  error
}

func newDemandeRepoStub() *demandeRepoStub {
	return &demandeRepoStub{demandes: make(map[string]*models.Demande)}
}

func (r *demandeRepoStub) NextNumber(ctx context.Context, year int) (string, error) {
	if r.nextErr != nil {
		return "", r.nextErr
	}
	r.counter++
	return fmt.Sprintf("DEM-%d-%06d", year, r.counter), nil
}

func (r *demandeRepoStub) Create(ctx context.Context, demande *models.Demande) error {
	copy := *demande
	r.demandes[demande.ID] = &copy
	return nil
}

func (r *demandeRepoStub) GetByID(ctx context.Context, id string) (*models.Demande, error) {
	if demande, ok := r.demandes[id]; ok {
		copy := *demande
		return &copy, nil
	}
	return nil, sql.ErrNoRows
}

func (r *demandeRepoStub) List(ctx context.Context, filter models.DemandeFilter) ([]models.Demande, int, error) {
	result := make([]models.Demande, 0, len(r.demandes))
	for _, demande := range r.demandes {
		if filter.StudentID != "" && demande.StudentID != filter.StudentID {
			continue
		}
		result = append(result, *demande)
	}
	return result, len(result), nil
}

func (r *demandeRepoStub) Delete(ctx context.Context, id string) error {
	delete(r.demandes, id)
	r.deleted = append(r.deleted, id)
	return nil
}

func (r *demandeRepoStub) CountByStatus(ctx context.Context, studentID string) ([]models.StatusCount, error) {
	r.countCalls++
	counts := make(map[models.DemandeStatus]int)
	for _, demande := range r.demandes {
		if studentID != "" && demande.StudentID != studentID {
			continue
		}
		counts[demande.Status]++
	}
	result := make([]models.StatusCount, 0, len(counts))
	for _, status := range workflow.AllStatuses() {
		if n, ok := counts[status]; ok {
			result = append(result, models.StatusCount{Status: status, Count: n})
		}
	}
	return result, nil
}

func (r *demandeRepoStub) UpdateStatus(ctx context.Context, params workflow.UpdateStatusParams) error {
	if r.updateErr != nil {
		return r.updateErr
	}
	demande, ok := r.demandes[params.ID]
	if !ok || demande.Status != params.ExpectedStatus {
		return sql.ErrNoRows
	}
	demande.Status = params.Status
	demande.StatusLabel = params.StatusLabel
	demande.StatusColor = params.StatusColor
	demande.UpdatedAt = params.UpdatedAt
	if params.AdminComment != nil {
		demande.AdminComment = params.AdminComment
	}
	if params.RejectionReason != nil {
		demande.RejectionReason = params.RejectionReason
	}
	if params.AssignedToID != nil {
		demande.AssignedToID = params.AssignedToID
	}
	if params.ProcessedAt != nil {
		demande.ProcessedAt = params.ProcessedAt
	}
	return nil
}

type auditTrailStub struct {
	records   []*models.AuditRecord
	appendErr error
}

func (a *auditTrailStub) Append(ctx context.Context, record *models.AuditRecord) error {
	if a.appendErr != nil {
		return a.appendErr
	}
	a.records = append(a.records, record)
	return nil
}

func (a *auditTrailStub) ListByDemande(ctx context.Context, demandeID string) ([]models.AuditRecord, error) {
	result := make([]models.AuditRecord, 0, len(a.records))
	for _, record := range a.records {
		if record.DemandeID == demandeID {
			result = append(result, *record)
		}
	}
	return result, nil
}

func (a *auditTrailStub) ListComments(ctx context.Context, demandeID string) ([]models.AuditRecord, error) {
	result := make([]models.AuditRecord, 0)
	for _, record := range a.records {
		if record.DemandeID == demandeID && record.Action == models.AuditActionComment {
			result = append(result, *record)
		}
	}
	return result, nil
}

type cacheStub struct {
	values      map[string][]byte
	invalidated int
}

func newCacheStub() *cacheStub {
	return &cacheStub{values: make(map[string][]byte)}
}

func (c *cacheStub) Get(ctx context.Context, key string, dest interface{}) error {
	raw, ok := c.values[key]
	if !ok {
		return appErrors.ErrCacheMiss
	}
	return json.Unmarshal(raw, dest)
}

func (c *cacheStub) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	c.values[key] = raw
	return nil
}

func (c *cacheStub) DeleteByPattern(ctx context.Context, pattern string) error {
	c.values = make(map[string][]byte)
	c.invalidated++
	return nil
}

type queueStub struct {
	jobs       []jobs.Job
	enqueueErr error
}

func (q *queueStub) Enqueue(job jobs.Job) error {
	if q.enqueueErr != nil {
		return q.enqueueErr
	}
	q.jobs = append(q.jobs, job)
	return nil
}

func studentClaims(id string) *models.JWTClaims {
	return &models.JWTClaims{UserID: id, Role: models.RoleStudent}
}

func adminClaims(id string) *models.JWTClaims {
	return &models.JWTClaims{UserID: id, Role: models.RoleAdmin}
}

type serviceFixture struct {
	repo  *demandeRepoStub
	audit *auditTrailStub
	cache *cacheStub
	queue *queueStub
	svc   *DemandeService
}

func newServiceFixture() *serviceFixture {
	repo := newDemandeRepoStub()
	audit := &auditTrailStub{}
	cache := newCacheStub()
	queue := &queueStub{}
	executor := workflow.NewExecutor(workflow.DefaultTables(), repo, audit, nil)
	svc := NewDemandeService(repo, audit, executor, nil,
		WithStatsCache(cache, time.Minute),
		WithReceiptQueue(queue))
	return &serviceFixture{repo: repo, audit: audit, cache: cache, queue: queue, svc: svc}
}

func (f *serviceFixture) seed(t *testing.T, studentID string, status models.DemandeStatus) *models.Demande {
	t.Helper()
	meta, ok := workflow.Meta(status)
	require.True(t, ok)
	demande := &models.Demande{
		ID:          fmt.Sprintf("dem-%d", len(f.repo.demandes)+1),
		Number:      fmt.Sprintf("DEM-2026-%06d", len(f.repo.demandes)+1),
		StudentID:   studentID,
		Type:        models.DemandeTypeTranscript,
		Subject:     "Relevé de notes",
		Status:      status,
		StatusLabel: meta.Label,
		StatusColor: meta.Color,
		CreatedAt:   time.Now().UTC(),
		UpdatedAt:   time.Now().UTC(),
	}
	f.repo.demandes[demande.ID] = demande
	return demande
}

func TestDemandeServiceCreateAutoReceives(t *testing.T) {
	f := newServiceFixture()

	demande, err := f.svc.Create(context.Background(), dto.CreateDemandeRequest{
		Type:    models.DemandeTypeTranscript,
		Subject: "Relevé de notes du semestre 1",
	}, studentClaims("student-1"))
	require.NoError(t, err)
	require.Equal(t, models.StatusReceived, demande.Status)
	require.Regexp(t, `^DEM-\d{4}-\d{6}$`, demande.Number)
	require.Equal(t, "student-1", demande.StudentID)

	// the stored row advanced too
	stored := f.repo.demandes[demande.ID]
	require.Equal(t, models.StatusReceived, stored.Status)

	// CREATION followed by the system auto-advance
	require.Len(t, f.audit.records, 2)
	require.Equal(t, models.AuditActionCreation, f.audit.records[0].Action)
	require.Equal(t, models.AuditActionStatusChange, f.audit.records[1].Action)
	require.Equal(t, models.RoleSystem, f.audit.records[1].ActorRole)

	require.Positive(t, f.cache.invalidated)
}

func TestDemandeServiceCreateCompensatesOnFailedAdvance(t *testing.T) {
	f := newServiceFixture()
	f.repo.updateErr = errors.New("connection refused")

	_, err := f.svc.Create(context.Background(), dto.CreateDemandeRequest{
		Type:    models.DemandeTypeOther,
		Subject: "Demande diverse",
	}, studentClaims("student-1"))
	require.Error(t, err)
	require.Equal(t, "SRV_001", appErrors.FromError(err).Code)
	require.Len(t, f.repo.deleted, 1, "stranded demande must be removed")
	require.Empty(t, f.repo.demandes)
}

func TestDemandeServiceCreateRejectsNonStudents(t *testing.T) {
	f := newServiceFixture()

	_, err := f.svc.Create(context.Background(), dto.CreateDemandeRequest{
		Type:    models.DemandeTypeTranscript,
		Subject: "x",
	}, adminClaims("admin-1"))
	require.Equal(t, "AUTH_002", appErrors.FromError(err).Code)
}

func TestDemandeServiceCreateValidation(t *testing.T) {
	f := newServiceFixture()

	_, err := f.svc.Create(context.Background(), dto.CreateDemandeRequest{
		Type: models.DemandeType("PARKING_PERMIT"), Subject: "x",
	}, studentClaims("student-1"))
	require.Equal(t, "VAL_001", appErrors.FromError(err).Code)

	_, err = f.svc.Create(context.Background(), dto.CreateDemandeRequest{
		Type: models.DemandeTypeTranscript, Subject: "   ",
	}, studentClaims("student-1"))
	require.Equal(t, "VAL_001", appErrors.FromError(err).Code)
}

func TestDemandeServiceListScopesStudents(t *testing.T) {
	f := newServiceFixture()
	f.seed(t, "student-1", models.StatusReceived)
	f.seed(t, "student-2", models.StatusReceived)

	list, pagination, err := f.svc.List(context.Background(), dto.DemandeQuery{}, studentClaims("student-1"))
	require.NoError(t, err)
	require.Len(t, list, 1)
	require.Equal(t, "student-1", list[0].StudentID)
	require.Equal(t, 1, pagination.TotalCount)

	list, _, err = f.svc.List(context.Background(), dto.DemandeQuery{}, adminClaims("admin-1"))
	require.NoError(t, err)
	require.Len(t, list, 2)
}

func TestDemandeServiceGetEnforcesOwnership(t *testing.T) {
	f := newServiceFixture()
	demande := f.seed(t, "student-1", models.StatusReceived)

	_, err := f.svc.Get(context.Background(), demande.ID, studentClaims("student-2"))
	require.Equal(t, "AUTH_002", appErrors.FromError(err).Code)

	_, err = f.svc.Get(context.Background(), "missing", adminClaims("admin-1"))
	require.Equal(t, "RES_001", appErrors.FromError(err).Code)

	found, err := f.svc.Get(context.Background(), demande.ID, studentClaims("student-1"))
	require.NoError(t, err)
	require.Equal(t, demande.ID, found.ID)
}

func TestDemandeServiceTransitionErrorCodes(t *testing.T) {
	f := newServiceFixture()
	demande := f.seed(t, "student-1", models.StatusReceived)
	ctx := context.Background()
	admin := adminClaims("admin-1")

	// unknown target
	_, err := f.svc.Transition(ctx, demande.ID, dto.TransitionRequest{Status: "DRAFT"}, admin)
	require.Equal(t, "VAL_001", appErrors.FromError(err).Code)

	// unreachable target
	_, err = f.svc.Transition(ctx, demande.ID, dto.TransitionRequest{Status: models.StatusProcessed}, admin)
	require.Equal(t, "WF_001", appErrors.FromError(err).Code)

	// student rejecting is a role violation
	_, err = f.svc.Transition(ctx, demande.ID, dto.TransitionRequest{
		Status: models.StatusRejected, RejectionReason: "je retire",
	}, studentClaims("student-1"))
	require.Equal(t, "AUTH_002", appErrors.FromError(err).Code)

	// rejection without a reason reports the missing field
	_, err = f.svc.Transition(ctx, demande.ID, dto.TransitionRequest{Status: models.StatusRejected}, admin)
	coded := appErrors.FromError(err)
	require.Equal(t, "VAL_001", coded.Code)
	require.Equal(t, []string{"rejectionReason"}, coded.Fields)

	// lost optimistic-concurrency race
	f.repo.updateErr = sql.ErrNoRows
	_, err = f.svc.Transition(ctx, demande.ID, dto.TransitionRequest{Status: models.StatusInProgress}, admin)
	require.Equal(t, "WF_002", appErrors.FromError(err).Code)
}

func TestDemandeServiceTransitionEnqueuesReceipt(t *testing.T) {
	f := newServiceFixture()
	demande := f.seed(t, "student-1", models.StatusApproved)

	updated, err := f.svc.Transition(context.Background(), demande.ID, dto.TransitionRequest{
		Status: models.StatusProcessed,
	}, adminClaims("admin-1"))
	require.NoError(t, err)
	require.Equal(t, models.StatusProcessed, updated.Status)
	require.NotNil(t, updated.ProcessedAt)

	require.Len(t, f.queue.jobs, 1)
	require.Equal(t, ReceiptJobType, f.queue.jobs[0].Type)
	require.Equal(t, demande.ID, f.queue.jobs[0].Payload)
}

func TestDemandeServiceAvailableTransitions(t *testing.T) {
	f := newServiceFixture()
	demande := f.seed(t, "student-1", models.StatusReceived)

	options, err := f.svc.AvailableTransitions(context.Background(), demande.ID, adminClaims("admin-1"))
	require.NoError(t, err)
	targets := make([]models.DemandeStatus, 0, len(options))
	for _, option := range options {
		targets = append(targets, option.Status)
	}
	require.ElementsMatch(t, []models.DemandeStatus{models.StatusInProgress, models.StatusRejected}, targets)
	for _, option := range options {
		if option.Status == models.StatusRejected {
			require.Equal(t, []string{"rejectionReason"}, option.RequiredFields)
		}
	}

	// students have nothing to do with a RECEIVED demande
	options, err = f.svc.AvailableTransitions(context.Background(), demande.ID, studentClaims("student-1"))
	require.NoError(t, err)
	require.Empty(t, options)
}

func TestDemandeServiceCommentAndTrail(t *testing.T) {
	f := newServiceFixture()
	demande := f.seed(t, "student-1", models.StatusInProgress)
	ctx := context.Background()

	record, err := f.svc.Comment(ctx, demande.ID, dto.CommentRequest{Comment: "merci de patienter"}, adminClaims("admin-1"))
	require.NoError(t, err)
	require.Equal(t, models.AuditActionComment, record.Action)
	require.Equal(t, demande.Status, record.NewStatus)

	_, err = f.svc.Comment(ctx, demande.ID, dto.CommentRequest{Comment: "   "}, adminClaims("admin-1"))
	require.Equal(t, "VAL_001", appErrors.FromError(err).Code)

	_, err = f.svc.Comment(ctx, demande.ID, dto.CommentRequest{Comment: "x"}, studentClaims("student-2"))
	require.Equal(t, "AUTH_002", appErrors.FromError(err).Code)

	comments, err := f.svc.Comments(ctx, demande.ID, studentClaims("student-1"))
	require.NoError(t, err)
	require.Len(t, comments, 1)

	trail, err := f.svc.Audit(ctx, demande.ID, adminClaims("admin-1"))
	require.NoError(t, err)
	require.Len(t, trail, 1)
}

func TestDemandeServiceStatsCaching(t *testing.T) {
	f := newServiceFixture()
	f.seed(t, "student-1", models.StatusReceived)
	f.seed(t, "student-1", models.StatusProcessed)
	f.seed(t, "student-2", models.StatusRejected)
	f.seed(t, "student-2", models.StatusArchived)
	ctx := context.Background()

	stats, err := f.svc.Stats(ctx, adminClaims("admin-1"))
	require.NoError(t, err)
	require.Equal(t, 4, stats.Total)
	// PROCESSED and REJECTED still archive, only ARCHIVED counts as closed
	require.Equal(t, 3, stats.Open)
	require.Equal(t, 1, stats.Terminal)
	require.Equal(t, 1, f.repo.countCalls)

	// second call is served from cache
	cached, err := f.svc.Stats(ctx, adminClaims("admin-1"))
	require.NoError(t, err)
	require.Equal(t, stats.Total, cached.Total)
	require.Equal(t, 1, f.repo.countCalls)

	// students get their own slice under a different key
	studentStats, err := f.svc.Stats(ctx, studentClaims("student-1"))
	require.NoError(t, err)
	require.Equal(t, 2, studentStats.Total)
	require.Equal(t, 2, f.repo.countCalls)
}

func TestDemandeServiceTransitionWorksWithoutCacheOrQueue(t *testing.T) {
	repo := newDemandeRepoStub()
	audit := &auditTrailStub{}
	executor := workflow.NewExecutor(workflow.DefaultTables(), repo, audit, nil)
	svc := NewDemandeService(repo, audit, executor, nil)

	meta, _ := workflow.Meta(models.StatusApproved)
	repo.demandes["dem-1"] = &models.Demande{
		ID: "dem-1", Number: "DEM-2026-000001", StudentID: "student-1",
		Type: models.DemandeTypeTranscript, Status: models.StatusApproved,
		StatusLabel: meta.Label, StatusColor: meta.Color,
	}

	updated, err := svc.Transition(context.Background(), "dem-1", dto.TransitionRequest{
		Status: models.StatusProcessed,
	}, adminClaims("admin-1"))
	require.NoError(t, err)
	require.Equal(t, models.StatusProcessed, updated.Status)
}
