package service

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/portail-univ/demande-api/internal/models"
	"github.com/portail-univ/demande-api/internal/workflow"
)

type staleDemandeStore interface {
	ListStaleSubmitted(ctx context.Context, cutoff time.Time, limit int) ([]models.Demande, error)
	ListAuditGaps(ctx context.Context, limit int) ([]models.Demande, error)
}

// ReconcileService periodically re-drives the SUBMITTED -> RECEIVED
// auto-advance for demandes whose creation-time advance was lost (process
// crash between insert and transition), and flags demandes whose best-effort
// audit write went missing. Under normal operation the sweep finds nothing.
type ReconcileService struct {
	repo     staleDemandeStore
	executor transitionExecutor
	logger   *zap.Logger
	interval time.Duration
	grace    time.Duration
	batch    int
}

// NewReconcileService constructs the sweep.
func NewReconcileService(repo staleDemandeStore, executor transitionExecutor, interval time.Duration, logger *zap.Logger) *ReconcileService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	return &ReconcileService{
		repo:     repo,
		executor: executor,
		logger:   logger,
		interval: interval,
		grace:    time.Minute,
		batch:    50,
	}
}

// Start runs the sweep loop until the context is cancelled.
func (s *ReconcileService) Start(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if advanced, err := s.RunOnce(ctx); err != nil {
					s.logger.Warn("reconcile sweep failed", zap.Error(err))
				} else if advanced > 0 {
					s.logger.Info("reconcile sweep advanced stranded demandes", zap.Int("count", advanced))
				}
			}
		}
	}()
}

// RunOnce performs a single sweep and returns how many demandes it advanced.
func (s *ReconcileService) RunOnce(ctx context.Context) (int, error) {
	cutoff := time.Now().UTC().Add(-s.grace)
	stale, err := s.repo.ListStaleSubmitted(ctx, cutoff, s.batch)
	if err != nil {
		return 0, err
	}
	advanced := 0
	for i := range stale {
		demande := &stale[i]
		if _, err := s.executor.Transition(ctx, demande, models.StatusReceived, workflow.SystemActor()); err != nil {
			// a lost race with another instance is fine, anything else is not
			var conflict *workflow.ConcurrentModificationError
			if !errors.As(err, &conflict) {
				s.logger.Warn("failed to reconcile demande",
					zap.String("demande_id", demande.ID), zap.Error(err))
			}
			continue
		}
		advanced++
	}

	// audit gaps are only reported, the trail is not rewritten after the fact
	gaps, err := s.repo.ListAuditGaps(ctx, s.batch)
	if err != nil {
		return advanced, err
	}
	for i := range gaps {
		s.logger.Warn("demande advanced without a status-change audit record",
			zap.String("demande_id", gaps[i].ID),
			zap.String("number", gaps[i].Number),
			zap.String("status", string(gaps[i].Status)))
	}

	return advanced, nil
}
