package handler

import (
	"context"
	"net/http"
	"os"

	"github.com/gin-gonic/gin"

	"github.com/portail-univ/demande-api/internal/dto"
	"github.com/portail-univ/demande-api/internal/models"
	appErrors "github.com/portail-univ/demande-api/pkg/errors"
	"github.com/portail-univ/demande-api/pkg/response"
)

type documentService interface {
	ReceiptLink(ctx context.Context, demandeID string, actor *models.JWTClaims) (*dto.ReceiptResponse, error)
	OpenByToken(token string) (*os.File, error)
	ExportCSV(ctx context.Context, query dto.DemandeQuery, actor *models.JWTClaims) ([]byte, string, error)
}

// DocumentHandler exposes receipt and export endpoints.
type DocumentHandler struct {
	service documentService
}

// NewDocumentHandler constructs the handler.
func NewDocumentHandler(service documentService) *DocumentHandler {
	return &DocumentHandler{service: service}
}

// Receipt godoc
// @Summary Get a signed download link for the receipt of a processed demande
// @Tags Documents
// @Produce json
// @Param id path string true "Demande ID"
// @Success 200 {object} response.Envelope
// @Router /demandes/{id}/receipt [get]
func (h *DocumentHandler) Receipt(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	link, err := h.service.ReceiptLink(c.Request.Context(), c.Param("id"), claims)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, link, nil)
}

// Download godoc
// @Summary Download a document by signed token
// @Tags Documents
// @Produce application/pdf
// @Param token path string true "Signed token"
// @Success 200 {file} binary
// @Router /documents/{token} [get]
func (h *DocumentHandler) Download(c *gin.Context) {
	file, err := h.service.OpenByToken(c.Param("token"))
	if err != nil {
		response.Error(c, err)
		return
	}
	defer file.Close() //nolint:errcheck

	info, err := file.Stat()
	if err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrNotFound, "document no longer available"))
		return
	}
	c.Header("Content-Disposition", `attachment; filename="`+info.Name()+`"`)
	c.DataFromReader(http.StatusOK, info.Size(), "application/pdf", file, nil)
}

// Export godoc
// @Summary Export the demande register as CSV
// @Tags Documents
// @Produce text/csv
// @Param status query string false "Comma separated statuses"
// @Param type query string false "Demande type"
// @Success 200 {file} binary
// @Router /demandes/export [get]
func (h *DocumentHandler) Export(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	payload, filename, err := h.service.ExportCSV(c.Request.Context(), parseDemandeQuery(c), claims)
	if err != nil {
		response.Error(c, err)
		return
	}
	c.Header("Content-Disposition", `attachment; filename="`+filename+`"`)
	c.Data(http.StatusOK, "text/csv", payload)
}
