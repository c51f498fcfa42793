package handler

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/cca-admission-api/internal/models"
	"github.com/noah-isme/cca-admission-api/internal/service"
	appErrors "github.com/noah-isme/cca-admission-api/pkg/errors"
	"github.com/noah-isme/cca-admission-api/pkg/response"
)

// PreinscriptionHandler exposes the admission workflow endpoints.
type PreinscriptionHandler struct {
	admissions *service.AdmissionService
	reviews    *service.ReviewService
}

// NewPreinscriptionHandler constructs PreinscriptionHandler.
func NewPreinscriptionHandler(admissions *service.AdmissionService, reviews *service.ReviewService) *PreinscriptionHandler {
	return &PreinscriptionHandler{admissions: admissions, reviews: reviews}
}

// Submit godoc
// @Summary Submit a preinscription
// @Description Registers a candidate claim on a course seat. Fails when the course is closed, full, or the candidate already holds an active claim.
// @Tags Preinscriptions
// @Accept json
// @Produce json
// @Param payload body service.SubmitPreinscriptionRequest true "Preinscription payload"
// @Success 201 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /preinscriptions [post]
func (h *PreinscriptionHandler) Submit(c *gin.Context) {
	var req service.SubmitPreinscriptionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	actorID := ""
	if claims := claimsFromContext(c); claims != nil {
		actorID = claims.UserID
	}
	detail, err := h.admissions.Submit(c.Request.Context(), actorID, req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, detail)
}

// List godoc
// @Summary List preinscriptions
// @Tags Preinscriptions
// @Produce json
// @Param candidateId query string false "Filter by candidate"
// @Param courseId query string false "Filter by course"
// @Param state query string false "Filter by state"
// @Param page query int false "Page"
// @Param limit query int false "Page size"
// @Success 200 {object} response.Envelope
// @Router /preinscriptions [get]
func (h *PreinscriptionHandler) List(c *gin.Context) {
	var filter models.PreinscriptionFilter
	filter.CandidateID = c.Query("candidateId")
	filter.CourseID = c.Query("courseId")
	filter.State = models.PreinscriptionState(strings.ToUpper(c.Query("state")))
	if page, err := strconv.Atoi(c.DefaultQuery("page", "1")); err == nil {
		filter.Page = page
	}
	if size, err := strconv.Atoi(c.DefaultQuery("limit", "20")); err == nil {
		filter.PageSize = size
	}
	filter.SortBy = c.Query("sort")
	filter.SortOrder = c.Query("order")

	items, pagination, err := h.admissions.List(c.Request.Context(), filter)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, items, pagination)
}

// Get godoc
// @Summary Get preinscription detail
// @Tags Preinscriptions
// @Produce json
// @Param id path string true "Preinscription ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /preinscriptions/{id} [get]
func (h *PreinscriptionHandler) Get(c *gin.Context) {
	detail, err := h.admissions.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, detail, nil)
}

// Review godoc
// @Summary Review a pending preinscription
// @Description Approves or rejects a pending preinscription. Rejection frees the reserved seat.
// @Tags Preinscriptions
// @Accept json
// @Produce json
// @Param id path string true "Preinscription ID"
// @Param payload body service.ReviewRequest true "Review decision"
// @Success 200 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /preinscriptions/{id}/review [put]
func (h *PreinscriptionHandler) Review(c *gin.Context) {
	var req service.ReviewRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	detail, err := h.reviews.Review(c.Request.Context(), claims.UserID, c.Param("id"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, detail, nil)
}
