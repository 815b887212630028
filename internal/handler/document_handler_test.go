package handler

import (
	"context"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/portail-univ/demande-api/internal/dto"
	"github.com/portail-univ/demande-api/internal/models"
	appErrors "github.com/portail-univ/demande-api/pkg/errors"
)

type fakeDocumentSrv struct {
	link      *dto.ReceiptResponse
	file      *os.File
	payload   []byte
	filename  string
	err       error
	lastID    string
	lastToken string
}

func (f *fakeDocumentSrv) ReceiptLink(_ context.Context, demandeID string, _ *models.JWTClaims) (*dto.ReceiptResponse, error) {
	f.lastID = demandeID
	return f.link, f.err
}

func (f *fakeDocumentSrv) OpenByToken(token string) (*os.File, error) {
	f.lastToken = token
	if f.err != nil {
		return nil, f.err
	}
	return f.file, nil
}

func (f *fakeDocumentSrv) ExportCSV(context.Context, dto.DemandeQuery, *models.JWTClaims) ([]byte, string, error) {
	return f.payload, f.filename, f.err
}

func TestDocumentHandlerReceipt(t *testing.T) {
	service := &fakeDocumentSrv{link: &dto.ReceiptResponse{
		DemandeID: "dem-1",
		Number:    "DEM-2026-000001",
		URL:       "/api/v1/documents/abc",
		ExpiresAt: time.Now().Add(time.Minute).Format(time.RFC3339),
	}}
	h := NewDocumentHandler(service)

	c, rec := authedContext(t, http.MethodGet, "/demandes/dem-1/receipt", "", models.RoleStudent)
	c.Params = gin.Params{{Key: "id", Value: "dem-1"}}

	h.Receipt(c)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "dem-1", service.lastID)
	assert.Contains(t, rec.Body.String(), "/api/v1/documents/abc")
}

func TestDocumentHandlerReceiptNotProcessed(t *testing.T) {
	h := NewDocumentHandler(&fakeDocumentSrv{
		err: appErrors.Clone(appErrors.ErrValidation, "receipt requires a processed demande"),
	})

	c, rec := authedContext(t, http.MethodGet, "/demandes/dem-1/receipt", "", models.RoleStudent)
	c.Params = gin.Params{{Key: "id", Value: "dem-1"}}

	h.Receipt(c)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestDocumentHandlerDownloadStreamsFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "DEM-2026-000001.pdf")
	require.NoError(t, os.WriteFile(path, []byte("%PDF-1.4 receipt"), 0o600))
	file, err := os.Open(path)
	require.NoError(t, err)

	service := &fakeDocumentSrv{file: file}
	h := NewDocumentHandler(service)

	c, rec := testContext(t, http.MethodGet, "/documents/token-1", "")
	c.Params = gin.Params{{Key: "token", Value: "token-1"}}

	h.Download(c)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "token-1", service.lastToken)
	assert.Equal(t, "application/pdf", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Header().Get("Content-Disposition"), "DEM-2026-000001.pdf")
	assert.Equal(t, "%PDF-1.4 receipt", rec.Body.String())
}

func TestDocumentHandlerDownloadInvalidToken(t *testing.T) {
	h := NewDocumentHandler(&fakeDocumentSrv{err: appErrors.ErrUnauthorized})

	c, rec := testContext(t, http.MethodGet, "/documents/bad", "")
	c.Params = gin.Params{{Key: "token", Value: "bad"}}

	h.Download(c)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestDocumentHandlerExport(t *testing.T) {
	h := NewDocumentHandler(&fakeDocumentSrv{
		payload:  []byte("Numéro;Statut\nDEM-2026-000001;PROCESSED\n"),
		filename: "demandes_20260828.csv",
	})

	c, rec := authedContext(t, http.MethodGet, "/demandes/export", "", models.RoleAdmin)

	h.Export(c)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/csv", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Header().Get("Content-Disposition"), "demandes_20260828.csv")
	assert.Contains(t, rec.Body.String(), "DEM-2026-000001")
}

func TestDocumentHandlerExportForbidden(t *testing.T) {
	h := NewDocumentHandler(&fakeDocumentSrv{err: appErrors.ErrForbidden})

	c, rec := authedContext(t, http.MethodGet, "/demandes/export", "", models.RoleStudent)

	h.Export(c)

	assert.Equal(t, http.StatusForbidden, rec.Code)
}
