package service

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/portail-univ/demande-api/internal/dto"
	"github.com/portail-univ/demande-api/internal/models"
	"github.com/portail-univ/demande-api/internal/workflow"
	appErrors "github.com/portail-univ/demande-api/pkg/errors"
	"github.com/portail-univ/demande-api/pkg/jobs"
)

const (
	statsCacheKeyPrefix = "stats:demandes"
	// ReceiptJobType identifies receipt generation jobs on the documents queue.
	ReceiptJobType = "receipt.generate"
)

type demandeStore interface {
	NextNumber(ctx context.Context, year int) (string, error)
	Create(ctx context.Context, demande *models.Demande) error
	GetByID(ctx context.Context, id string) (*models.Demande, error)
	List(ctx context.Context, filter models.DemandeFilter) ([]models.Demande, int, error)
	Delete(ctx context.Context, id string) error
	CountByStatus(ctx context.Context, studentID string) ([]models.StatusCount, error)
}

type auditTrail interface {
	Append(ctx context.Context, record *models.AuditRecord) error
	ListByDemande(ctx context.Context, demandeID string) ([]models.AuditRecord, error)
	ListComments(ctx context.Context, demandeID string) ([]models.AuditRecord, error)
}

type transitionExecutor interface {
	Transition(ctx context.Context, demande *models.Demande, target models.DemandeStatus, actor workflow.Actor) (*workflow.Result, error)
	Tables() *workflow.Tables
}

type statsCache interface {
	Get(ctx context.Context, key string, dest interface{}) error
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	DeleteByPattern(ctx context.Context, pattern string) error
}

type jobEnqueuer interface {
	Enqueue(job jobs.Job) error
}

// DemandeService orchestrates the demande lifecycle: creation with automatic
// reception, status transitions, comments, audit access and statistics.
type DemandeService struct {
	repo     demandeStore
	audits   auditTrail
	executor transitionExecutor
	cache    statsCache
	receipts jobEnqueuer
	metrics  *MetricsService
	logger   *zap.Logger
	statsTTL time.Duration
	now      func() time.Time
}

// DemandeServiceOption configures the service.
type DemandeServiceOption func(*DemandeService)

// WithStatsCache attaches a cache for statistics payloads.
func WithStatsCache(cache statsCache, ttl time.Duration) DemandeServiceOption {
	return func(s *DemandeService) {
		s.cache = cache
		if ttl > 0 {
			s.statsTTL = ttl
		}
	}
}

// WithReceiptQueue attaches the queue receiving receipt generation jobs.
func WithReceiptQueue(queue jobEnqueuer) DemandeServiceOption {
	return func(s *DemandeService) {
		s.receipts = queue
	}
}

// WithMetrics attaches the instrumentation service. A nil receiver on every
// MetricsService method keeps this optional.
func WithMetrics(metrics *MetricsService) DemandeServiceOption {
	return func(s *DemandeService) {
		s.metrics = metrics
	}
}

// NewDemandeService constructs the service with defaults.
func NewDemandeService(repo demandeStore, audits auditTrail, executor transitionExecutor, logger *zap.Logger, opts ...DemandeServiceOption) *DemandeService {
	if logger == nil {
		logger = zap.NewNop()
	}
	svc := &DemandeService{
		repo:     repo,
		audits:   audits,
		executor: executor,
		logger:   logger,
		statsTTL: 5 * time.Minute,
		now:      func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		if opt != nil {
			opt(svc)
		}
	}
	return svc
}

// Create registers a new demande for the calling student and immediately
// advances it SUBMITTED -> RECEIVED on behalf of the system actor. When the
// auto-advance cannot complete, the freshly inserted row is deleted so no
// demande is ever left stranded in SUBMITTED by its own creation.
func (s *DemandeService) Create(ctx context.Context, req dto.CreateDemandeRequest, actor *models.JWTClaims) (*models.Demande, error) {
	if actor == nil {
		return nil, appErrors.ErrUnauthorized
	}
	if actor.Role != models.RoleStudent {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "only students can submit demandes")
	}
	if err := validateCreateRequest(req); err != nil {
		return nil, err
	}

	now := s.now()
	number, err := s.repo.NextNumber(ctx, now.Year())
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to allocate demande number")
	}

	meta, _ := workflow.Meta(models.StatusSubmitted)
	demande := &models.Demande{
		ID:          uuid.NewString(),
		Number:      number,
		StudentID:   actor.UserID,
		Type:        req.Type,
		Subject:     strings.TrimSpace(req.Subject),
		Details:     strings.TrimSpace(req.Details),
		Status:      models.StatusSubmitted,
		StatusLabel: meta.Label,
		StatusColor: meta.Color,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.repo.Create(ctx, demande); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create demande")
	}

	s.emitAudit(ctx, &models.AuditRecord{
		DemandeID: demande.ID,
		NewStatus: models.StatusSubmitted,
		ActorID:   actor.UserID,
		ActorRole: actor.Role,
		Action:    models.AuditActionCreation,
		CreatedAt: now,
	})

	if _, err := s.executor.Transition(ctx, demande, models.StatusReceived, workflow.SystemActor()); err != nil {
		// compensate: a demande whose reception failed must not survive
		if delErr := s.repo.Delete(ctx, demande.ID); delErr != nil {
			s.logger.Error("failed to compensate demande creation",
				zap.String("demande_id", demande.ID), zap.Error(delErr))
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to receive demande")
	}
	s.metrics.ObserveTransition(models.StatusSubmitted, demande.Status)

	s.invalidateStats(ctx)
	return demande, nil
}

// List returns demandes visible to the actor. Students only ever see their
// own; staff see everything the filter matches.
func (s *DemandeService) List(ctx context.Context, query dto.DemandeQuery, actor *models.JWTClaims) ([]models.Demande, *models.Pagination, error) {
	if actor == nil {
		return nil, nil, appErrors.ErrUnauthorized
	}
	filter := models.DemandeFilter{
		Status:       query.Status,
		Type:         query.Type,
		AssignedToID: query.AssignedToID,
	}
	switch actor.Role {
	case models.RoleSuperAdmin, models.RoleAdmin:
		filter.StudentID = query.StudentID
	case models.RoleStudent:
		filter.StudentID = actor.UserID
	default:
		return nil, nil, appErrors.ErrForbidden
	}

	page := query.Page
	if page < 1 {
		page = 1
	}
	pageSize := query.PageSize
	if pageSize <= 0 || pageSize > 100 {
		pageSize = 20
	}
	filter.Limit = pageSize
	filter.Offset = (page - 1) * pageSize

	demandes, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list demandes")
	}
	pagination := &models.Pagination{Page: page, PageSize: pageSize, TotalCount: total}
	return demandes, pagination, nil
}

// Get returns one demande enforcing ownership for students.
func (s *DemandeService) Get(ctx context.Context, id string, actor *models.JWTClaims) (*models.Demande, error) {
	return s.load(ctx, id, actor)
}

// Transition moves a demande to the requested status on behalf of the actor,
// translating workflow failures into the API's coded errors.
func (s *DemandeService) Transition(ctx context.Context, id string, req dto.TransitionRequest, actor *models.JWTClaims) (*models.Demande, error) {
	demande, err := s.load(ctx, id, actor)
	if err != nil {
		return nil, err
	}
	if !workflow.KnownStatus(req.Status) {
		return nil, appErrors.Clone(appErrors.ErrValidation, "unknown target status")
	}

	from := demande.Status
	result, err := s.executor.Transition(ctx, demande, req.Status, workflow.Actor{
		ID:              actor.UserID,
		Role:            actor.Role,
		Comment:         req.Comment,
		RejectionReason: req.RejectionReason,
		AssignedToID:    req.AssignedToID,
	})
	if err != nil {
		return nil, translateWorkflowError(err)
	}
	s.metrics.ObserveTransition(from, demande.Status)
	if result.AuditErr != nil {
		s.metrics.ObserveAuditFailure()
		s.logger.Warn("transition applied without audit record",
			zap.String("demande_id", demande.ID),
			zap.String("status", string(demande.Status)),
			zap.Error(result.AuditErr))
	}

	s.invalidateStats(ctx)
	if demande.Status == models.StatusProcessed {
		s.enqueueReceipt(demande)
	}
	return demande, nil
}

// AvailableTransitions lists the targets the actor can reach from the
// demande's current status, with the fields each one requires.
func (s *DemandeService) AvailableTransitions(ctx context.Context, id string, actor *models.JWTClaims) ([]dto.TransitionOption, error) {
	demande, err := s.load(ctx, id, actor)
	if err != nil {
		return nil, err
	}
	tables := s.executor.Tables()
	options := make([]dto.TransitionOption, 0, 3)
	for _, target := range tables.AllowedTransitions(demande.Status) {
		if !tables.IsAuthorized(demande.Status, target, actor.Role) {
			continue
		}
		meta, ok := workflow.Meta(target)
		if !ok {
			continue
		}
		option := dto.TransitionOption{Status: target, Label: meta.Label, Color: meta.Color}
		if req, ok := tables.Requirements[target]; ok {
			for _, field := range req.Required {
				option.RequiredFields = append(option.RequiredFields, string(field))
			}
		}
		options = append(options, option)
	}
	return options, nil
}

// Comment appends a free-form comment to the demande's trail without touching
// its status.
func (s *DemandeService) Comment(ctx context.Context, id string, req dto.CommentRequest, actor *models.JWTClaims) (*models.AuditRecord, error) {
	demande, err := s.load(ctx, id, actor)
	if err != nil {
		return nil, err
	}
	comment := strings.TrimSpace(req.Comment)
	if comment == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "comment is required")
	}
	record := &models.AuditRecord{
		DemandeID: demande.ID,
		NewStatus: demande.Status,
		ActorID:   actor.UserID,
		ActorRole: actor.Role,
		Action:    models.AuditActionComment,
		Comment:   &comment,
		CreatedAt: s.now(),
	}
	if err := s.audits.Append(ctx, record); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to save comment")
	}
	return record, nil
}

// Audit returns the full chronological trail for a demande.
func (s *DemandeService) Audit(ctx context.Context, id string, actor *models.JWTClaims) ([]models.AuditRecord, error) {
	demande, err := s.load(ctx, id, actor)
	if err != nil {
		return nil, err
	}
	records, err := s.audits.ListByDemande(ctx, demande.ID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load audit trail")
	}
	return records, nil
}

// Comments returns only the COMMENT entries of the trail.
func (s *DemandeService) Comments(ctx context.Context, id string, actor *models.JWTClaims) ([]models.AuditRecord, error) {
	demande, err := s.load(ctx, id, actor)
	if err != nil {
		return nil, err
	}
	records, err := s.audits.ListComments(ctx, demande.ID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load comments")
	}
	return records, nil
}

// Stats aggregates demande counts per status, scoped to the student for
// student callers and global for staff. Results are cached.
func (s *DemandeService) Stats(ctx context.Context, actor *models.JWTClaims) (*dto.StatsResponse, error) {
	if actor == nil {
		return nil, appErrors.ErrUnauthorized
	}
	studentID := ""
	cacheKey := statsCacheKeyPrefix + ":global"
	switch actor.Role {
	case models.RoleSuperAdmin, models.RoleAdmin:
	case models.RoleStudent:
		studentID = actor.UserID
		cacheKey = statsCacheKeyPrefix + ":student:" + actor.UserID
	default:
		return nil, appErrors.ErrForbidden
	}

	if s.cache != nil {
		var cached dto.StatsResponse
		if err := s.cache.Get(ctx, cacheKey, &cached); err == nil {
			s.metrics.RecordCacheOperation(true)
			return &cached, nil
		} else if !errors.Is(err, appErrors.ErrCacheMiss) {
			s.logger.Warn("stats cache read failed", zap.String("key", cacheKey), zap.Error(err))
		}
		s.metrics.RecordCacheOperation(false)
	}

	counts, err := s.repo.CountByStatus(ctx, studentID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to compute statistics")
	}
	stats := &dto.StatsResponse{ByStatus: counts}
	tables := s.executor.Tables()
	for _, count := range counts {
		stats.Total += count.Count
		if tables.IsTerminal(count.Status) {
			stats.Terminal += count.Count
		} else {
			stats.Open += count.Count
		}
	}

	if s.cache != nil {
		if err := s.cache.Set(ctx, cacheKey, stats, s.statsTTL); err != nil {
			s.logger.Warn("stats cache write failed", zap.String("key", cacheKey), zap.Error(err))
		}
	}
	return stats, nil
}

func (s *DemandeService) load(ctx context.Context, id string, actor *models.JWTClaims) (*models.Demande, error) {
	if actor == nil {
		return nil, appErrors.ErrUnauthorized
	}
	demande, err := s.repo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.ErrNotFound
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load demande")
	}
	switch actor.Role {
	case models.RoleSuperAdmin, models.RoleAdmin:
	case models.RoleStudent:
		if demande.StudentID != actor.UserID {
			return nil, appErrors.ErrForbidden
		}
	default:
		return nil, appErrors.ErrForbidden
	}
	return demande, nil
}

func (s *DemandeService) emitAudit(ctx context.Context, record *models.AuditRecord) {
	if s.audits == nil || record == nil {
		return
	}
	if err := s.audits.Append(ctx, record); err != nil {
		s.logger.Warn("failed to persist audit record",
			zap.String("demande_id", record.DemandeID),
			zap.String("action", string(record.Action)),
			zap.Error(err))
	}
}

func (s *DemandeService) invalidateStats(ctx context.Context) {
	if s.cache == nil {
		return
	}
	if err := s.cache.DeleteByPattern(ctx, statsCacheKeyPrefix+":*"); err != nil {
		s.logger.Warn("stats cache invalidation failed", zap.Error(err))
	}
}

func (s *DemandeService) enqueueReceipt(demande *models.Demande) {
	if s.receipts == nil {
		return
	}
	job := jobs.Job{
		ID:      uuid.NewString(),
		Type:    ReceiptJobType,
		Payload: demande.ID,
	}
	if err := s.receipts.Enqueue(job); err != nil {
		s.logger.Warn("failed to enqueue receipt generation",
			zap.String("demande_id", demande.ID), zap.Error(err))
	}
}

func validateCreateRequest(req dto.CreateDemandeRequest) error {
	switch req.Type {
	case models.DemandeTypeTranscript,
		models.DemandeTypeEnrollmentCertificate,
		models.DemandeTypeSuccessCertificate,
		models.DemandeTypeDiplomaCopy,
		models.DemandeTypeInternshipAgreement,
		models.DemandeTypeOther:
	default:
		return appErrors.Clone(appErrors.ErrValidation, "unsupported demande type")
	}
	if strings.TrimSpace(req.Subject) == "" {
		return appErrors.Clone(appErrors.ErrValidation, "subject is required")
	}
	if len(req.Subject) > 200 {
		return appErrors.Clone(appErrors.ErrValidation, "subject exceeds 200 characters")
	}
	if len(req.Details) > 4000 {
		return appErrors.Clone(appErrors.ErrValidation, "details exceed 4000 characters")
	}
	return nil
}

func translateWorkflowError(err error) error {
	var invalid *workflow.InvalidTransitionError
	if errors.As(err, &invalid) {
		return appErrors.Clone(appErrors.ErrInvalidTransition, invalid.Error())
	}
	var unauthorized *workflow.UnauthorizedTransitionError
	if errors.As(err, &unauthorized) {
		return appErrors.Clone(appErrors.ErrForbidden, unauthorized.Error())
	}
	var missing *workflow.MissingFieldsError
	if errors.As(err, &missing) {
		return appErrors.WithFields(appErrors.Clone(appErrors.ErrValidation, missing.Error()), missing.Fields)
	}
	var conflict *workflow.ConcurrentModificationError
	if errors.As(err, &conflict) {
		return appErrors.Clone(appErrors.ErrStaleStatus, conflict.Error())
	}
	return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to apply transition")
}
