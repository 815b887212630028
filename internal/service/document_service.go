package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/portail-univ/demande-api/internal/dto"
	"github.com/portail-univ/demande-api/internal/models"
	"github.com/portail-univ/demande-api/internal/workflow"
	appErrors "github.com/portail-univ/demande-api/pkg/errors"
	"github.com/portail-univ/demande-api/pkg/export"
	"github.com/portail-univ/demande-api/pkg/jobs"
	"github.com/portail-univ/demande-api/pkg/storage"
)

type documentDemandeStore interface {
	GetByID(ctx context.Context, id string) (*models.Demande, error)
	List(ctx context.Context, filter models.DemandeFilter) ([]models.Demande, int, error)
	UpdateReceiptPath(ctx context.Context, id, path string, updatedAt time.Time) error
}

type fileStorage interface {
	Save(filename string, data []byte) (string, error)
	Open(filename string) (*os.File, error)
	Exists(filename string) bool
	Delete(filename string) error
	CleanupOlderThan(ttl time.Duration) ([]string, error)
}

type csvRenderer interface {
	Render(data export.Dataset) ([]byte, error)
}

type receiptRenderer interface {
	RenderDocument(doc export.Document) ([]byte, error)
}

// DocumentConfig tunes receipt and export behaviour.
type DocumentConfig struct {
	APIPrefix string
	ResultTTL time.Duration
}

// DocumentService renders receipt PDFs for processed demandes and CSV exports
// of the register, persisting files locally and handing out signed links.
type DocumentService struct {
	repo    documentDemandeStore
	storage fileStorage
	csv     csvRenderer
	pdf     receiptRenderer
	signer  *storage.SignedURLSigner
	logger  *zap.Logger
	cfg     DocumentConfig
}

// NewDocumentService constructs a DocumentService.
func NewDocumentService(repo documentDemandeStore, files fileStorage, signer *storage.SignedURLSigner, cfg DocumentConfig, logger *zap.Logger) *DocumentService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.ResultTTL <= 0 {
		cfg.ResultTTL = 24 * time.Hour
	}
	if cfg.APIPrefix == "" {
		cfg.APIPrefix = "/api/v1"
	}
	return &DocumentService{
		repo:    repo,
		storage: files,
		csv:     export.NewCSVExporter(),
		pdf:     export.NewPDFExporter(),
		signer:  signer,
		logger:  logger,
		cfg:     cfg,
	}
}

// HandleReceiptJob is the queue handler generating a receipt for the demande
// referenced by the job payload.
func (s *DocumentService) HandleReceiptJob(ctx context.Context, job jobs.Job) error {
	demandeID, ok := job.Payload.(string)
	if !ok || demandeID == "" {
		return fmt.Errorf("receipt job %s carries no demande id", job.ID)
	}
	if _, err := s.GenerateReceipt(ctx, demandeID); err != nil {
		return err
	}
	return nil
}

// GenerateReceipt renders and stores the receipt PDF for a processed demande,
// recording the file path on the entity. Regenerating is idempotent: an
// existing file is simply overwritten.
func (s *DocumentService) GenerateReceipt(ctx context.Context, demandeID string) (string, error) {
	demande, err := s.repo.GetByID(ctx, demandeID)
	if err != nil {
		return "", fmt.Errorf("load demande %s: %w", demandeID, err)
	}
	if demande.Status != models.StatusProcessed && demande.Status != models.StatusArchived {
		return "", fmt.Errorf("demande %s is %s, receipt requires a processed demande", demandeID, demande.Status)
	}

	payload, err := s.pdf.RenderDocument(s.buildReceipt(demande))
	if err != nil {
		return "", fmt.Errorf("render receipt: %w", err)
	}

	relPath := fmt.Sprintf("receipts/%s.pdf", demande.Number)
	if _, err := s.storage.Save(relPath, payload); err != nil {
		return "", fmt.Errorf("store receipt: %w", err)
	}
	if err := s.repo.UpdateReceiptPath(ctx, demande.ID, relPath, time.Now().UTC()); err != nil {
		return "", fmt.Errorf("record receipt path: %w", err)
	}

	s.logger.Info("receipt generated",
		zap.String("demande_id", demande.ID),
		zap.String("number", demande.Number),
		zap.String("path", relPath))
	return relPath, nil
}

// ReceiptLink returns a signed, time-limited download link for the receipt of
// a processed demande, generating the file on the spot when the background
// job has not produced it yet.
func (s *DocumentService) ReceiptLink(ctx context.Context, demandeID string, actor *models.JWTClaims) (*dto.ReceiptResponse, error) {
	if actor == nil {
		return nil, appErrors.ErrUnauthorized
	}
	demande, err := s.repo.GetByID(ctx, demandeID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.ErrNotFound
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load demande")
	}
	if actor.Role == models.RoleStudent && demande.StudentID != actor.UserID {
		return nil, appErrors.ErrForbidden
	}
	if demande.Status != models.StatusProcessed && demande.Status != models.StatusArchived {
		return nil, appErrors.Clone(appErrors.ErrValidation, "receipt is only available for processed demandes")
	}

	relPath := ""
	if demande.ReceiptPath != nil {
		relPath = *demande.ReceiptPath
	}
	if relPath == "" || !s.storage.Exists(relPath) {
		relPath, err = s.GenerateReceipt(ctx, demande.ID)
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to generate receipt")
		}
	}

	token, expiresAt, err := s.signer.Generate(demande.ID, relPath)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to sign receipt link")
	}
	return &dto.ReceiptResponse{
		DemandeID: demande.ID,
		Number:    demande.Number,
		URL:       fmt.Sprintf("%s/documents/%s", strings.TrimRight(s.cfg.APIPrefix, "/"), token),
		ExpiresAt: expiresAt.UTC().Format(time.RFC3339),
	}, nil
}

// OpenByToken validates a signed token and returns a handle on the referenced
// file. Tokens are self-contained, so no authentication is required here.
func (s *DocumentService) OpenByToken(token string) (*os.File, error) {
	_, relPath, _, err := s.signer.Parse(token, false)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrUnauthorized.Code, appErrors.ErrUnauthorized.Status, "invalid document token")
	}
	file, err := s.storage.Open(relPath)
	if err != nil {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "document no longer available")
	}
	return file, nil
}

// ExportCSV renders the demande register matching the filter as CSV. Staff
// only.
func (s *DocumentService) ExportCSV(ctx context.Context, query dto.DemandeQuery, actor *models.JWTClaims) ([]byte, string, error) {
	if actor == nil {
		return nil, "", appErrors.ErrUnauthorized
	}
	if actor.Role != models.RoleAdmin && actor.Role != models.RoleSuperAdmin {
		return nil, "", appErrors.ErrForbidden
	}

	filter := models.DemandeFilter{
		Status:       query.Status,
		Type:         query.Type,
		StudentID:    query.StudentID,
		AssignedToID: query.AssignedToID,
		Limit:        200,
	}
	headers := []string{"Numéro", "Étudiant", "Type", "Objet", "Statut", "Créée le", "Traitée le"}
	rows := make([]map[string]string, 0, 64)
	for {
		demandes, total, err := s.repo.List(ctx, filter)
		if err != nil {
			return nil, "", appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list demandes for export")
		}
		for _, demande := range demandes {
			processedAt := ""
			if demande.ProcessedAt != nil {
				processedAt = demande.ProcessedAt.UTC().Format(time.RFC3339)
			}
			rows = append(rows, map[string]string{
				"Numéro":     demande.Number,
				"Étudiant":   demande.StudentID,
				"Type":       string(demande.Type),
				"Objet":      demande.Subject,
				"Statut":     demande.StatusLabel,
				"Créée le":   demande.CreatedAt.UTC().Format(time.RFC3339),
				"Traitée le": processedAt,
			})
		}
		filter.Offset += len(demandes)
		if len(demandes) == 0 || filter.Offset >= total {
			break
		}
	}

	payload, err := s.csv.Render(export.Dataset{Headers: headers, Rows: rows})
	if err != nil {
		return nil, "", appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to render export")
	}
	filename := fmt.Sprintf("demandes_%s.csv", time.Now().UTC().Format("20060102_150405"))
	return payload, filename, nil
}

// Cleanup removes stored files older than ttl (defaults to the configured
// ResultTTL when ttl <= 0).
func (s *DocumentService) Cleanup(ttl time.Duration) ([]string, error) {
	if ttl <= 0 {
		ttl = s.cfg.ResultTTL
	}
	return s.storage.CleanupOlderThan(ttl)
}

func (s *DocumentService) buildReceipt(demande *models.Demande) export.Document {
	meta, _ := workflow.Meta(demande.Status)
	processedAt := ""
	if demande.ProcessedAt != nil {
		processedAt = demande.ProcessedAt.Format("02/01/2006 15:04")
	}
	fields := [][2]string{
		{"Numéro", demande.Number},
		{"Type de demande", string(demande.Type)},
		{"Objet", demande.Subject},
		{"Statut", meta.Label},
		{"Déposée le", demande.CreatedAt.Format("02/01/2006 15:04")},
		{"Traitée le", processedAt},
	}
	if demande.AdminComment != nil && *demande.AdminComment != "" {
		fields = append(fields, [2]string{"Commentaire", *demande.AdminComment})
	}
	return export.Document{
		Title:  "Accusé de traitement",
		Fields: fields,
		Footer: fmt.Sprintf("Document généré automatiquement le %s. Il atteste du traitement de la demande %s.",
			time.Now().UTC().Format("02/01/2006"), demande.Number),
	}
}
