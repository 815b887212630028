package handler

import (
	"context"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/portail-univ/demande-api/internal/dto"
	"github.com/portail-univ/demande-api/internal/models"
	"github.com/portail-univ/demande-api/internal/workflow"
	appErrors "github.com/portail-univ/demande-api/pkg/errors"
	"github.com/portail-univ/demande-api/pkg/response"
)

type demandeService interface {
	Create(ctx context.Context, req dto.CreateDemandeRequest, actor *models.JWTClaims) (*models.Demande, error)
	List(ctx context.Context, query dto.DemandeQuery, actor *models.JWTClaims) ([]models.Demande, *models.Pagination, error)
	Get(ctx context.Context, id string, actor *models.JWTClaims) (*models.Demande, error)
	Transition(ctx context.Context, id string, req dto.TransitionRequest, actor *models.JWTClaims) (*models.Demande, error)
	AvailableTransitions(ctx context.Context, id string, actor *models.JWTClaims) ([]dto.TransitionOption, error)
	Comment(ctx context.Context, id string, req dto.CommentRequest, actor *models.JWTClaims) (*models.AuditRecord, error)
	Comments(ctx context.Context, id string, actor *models.JWTClaims) ([]models.AuditRecord, error)
	Audit(ctx context.Context, id string, actor *models.JWTClaims) ([]models.AuditRecord, error)
	Stats(ctx context.Context, actor *models.JWTClaims) (*dto.StatsResponse, error)
}

// DemandeHandler exposes REST endpoints for the demande lifecycle.
type DemandeHandler struct {
	service demandeService
}

// NewDemandeHandler constructs the handler.
func NewDemandeHandler(service demandeService) *DemandeHandler {
	return &DemandeHandler{service: service}
}

// Create godoc
// @Summary Submit a new demande
// @Tags Demandes
// @Accept json
// @Produce json
// @Param payload body dto.CreateDemandeRequest true "Demande payload"
// @Success 201 {object} response.Envelope
// @Router /demandes [post]
func (h *DemandeHandler) Create(c *gin.Context) {
	var req dto.CreateDemandeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "invalid demande payload"))
		return
	}
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	demande, err := h.service.Create(c.Request.Context(), req, claims)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusCreated, demande, nil)
}

// List godoc
// @Summary List demandes
// @Tags Demandes
// @Produce json
// @Param status query string false "Comma separated statuses"
// @Param type query string false "Demande type"
// @Param studentId query string false "Student ID (staff only)"
// @Param page query int false "Page"
// @Param pageSize query int false "Page size"
// @Success 200 {object} response.Envelope
// @Router /demandes [get]
func (h *DemandeHandler) List(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	query := parseDemandeQuery(c)
	demandes, pagination, err := h.service.List(c.Request.Context(), query, claims)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, demandes, pagination)
}

// Get godoc
// @Summary Get demande detail
// @Tags Demandes
// @Produce json
// @Param id path string true "Demande ID"
// @Success 200 {object} response.Envelope
// @Router /demandes/{id} [get]
func (h *DemandeHandler) Get(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	demande, err := h.service.Get(c.Request.Context(), c.Param("id"), claims)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, demande, nil)
}

// Transition godoc
// @Summary Move a demande to a new status
// @Tags Demandes
// @Accept json
// @Produce json
// @Param id path string true "Demande ID"
// @Param payload body dto.TransitionRequest true "Target status and fields"
// @Success 200 {object} response.Envelope
// @Router /demandes/{id}/transition [post]
func (h *DemandeHandler) Transition(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	var req dto.TransitionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "invalid transition payload"))
		return
	}
	demande, err := h.service.Transition(c.Request.Context(), c.Param("id"), req, claims)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, demande, nil)
}

// Transitions godoc
// @Summary List transitions available to the caller
// @Tags Demandes
// @Produce json
// @Param id path string true "Demande ID"
// @Success 200 {object} response.Envelope
// @Router /demandes/{id}/transitions [get]
func (h *DemandeHandler) Transitions(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	options, err := h.service.AvailableTransitions(c.Request.Context(), c.Param("id"), claims)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, options, nil)
}

// AddComment godoc
// @Summary Comment on a demande
// @Tags Demandes
// @Accept json
// @Produce json
// @Param id path string true "Demande ID"
// @Param payload body dto.CommentRequest true "Comment"
// @Success 201 {object} response.Envelope
// @Router /demandes/{id}/comments [post]
func (h *DemandeHandler) AddComment(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	var req dto.CommentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "invalid comment payload"))
		return
	}
	record, err := h.service.Comment(c.Request.Context(), c.Param("id"), req, claims)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusCreated, record, nil)
}

// ListComments godoc
// @Summary List comments for a demande
// @Tags Demandes
// @Produce json
// @Param id path string true "Demande ID"
// @Success 200 {object} response.Envelope
// @Router /demandes/{id}/comments [get]
func (h *DemandeHandler) ListComments(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	records, err := h.service.Comments(c.Request.Context(), c.Param("id"), claims)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, records, nil)
}

// Audit godoc
// @Summary Get the audit trail of a demande
// @Tags Demandes
// @Produce json
// @Param id path string true "Demande ID"
// @Success 200 {object} response.Envelope
// @Router /demandes/{id}/audit [get]
func (h *DemandeHandler) Audit(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	records, err := h.service.Audit(c.Request.Context(), c.Param("id"), claims)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, records, nil)
}

// Stats godoc
// @Summary Demande counts per status
// @Tags Demandes
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /demandes/stats [get]
func (h *DemandeHandler) Stats(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	stats, err := h.service.Stats(c.Request.Context(), claims)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, stats, nil)
}

// Statuses godoc
// @Summary List the lifecycle statuses and their metadata
// @Tags Demandes
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /demandes/statuses [get]
func (h *DemandeHandler) Statuses(c *gin.Context) {
	type statusInfo struct {
		Status   models.DemandeStatus `json:"status"`
		Label    string               `json:"label"`
		Color    string               `json:"color"`
		Terminal bool                 `json:"terminal"`
	}
	statuses := make([]statusInfo, 0, len(workflow.AllStatuses()))
	for _, status := range workflow.AllStatuses() {
		meta, _ := workflow.Meta(status)
		statuses = append(statuses, statusInfo{
			Status:   status,
			Label:    meta.Label,
			Color:    meta.Color,
			Terminal: meta.Terminal,
		})
	}
	response.JSON(c, http.StatusOK, statuses, nil)
}

func parseDemandeQuery(c *gin.Context) dto.DemandeQuery {
	query := dto.DemandeQuery{
		StudentID:    strings.TrimSpace(c.Query("studentId")),
		AssignedToID: strings.TrimSpace(c.Query("assignedTo")),
	}
	if rawType := c.Query("type"); rawType != "" {
		query.Type = models.DemandeType(strings.ToUpper(rawType))
	}
	if rawStatus := c.Query("status"); rawStatus != "" {
		parts := strings.Split(rawStatus, ",")
		statuses := make([]models.DemandeStatus, 0, len(parts))
		for _, part := range parts {
			part = strings.ToUpper(strings.TrimSpace(part))
			if part == "" {
				continue
			}
			statuses = append(statuses, models.DemandeStatus(part))
		}
		query.Status = statuses
	}
	if page, err := strconv.Atoi(c.Query("page")); err == nil {
		query.Page = page
	}
	if pageSize, err := strconv.Atoi(c.Query("pageSize")); err == nil {
		query.PageSize = pageSize
	}
	return query
}
