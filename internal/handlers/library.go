package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/kestrelworks/infograph-backend/internal/logger"
	"github.com/kestrelworks/infograph-backend/internal/services"
)

type LibraryHandler struct {
	log     *logger.Logger
	library *services.LibraryService
	session *services.SessionService
}

func NewLibraryHandler(log *logger.Logger, library *services.LibraryService, session *services.SessionService) *LibraryHandler {
	return &LibraryHandler{
		log:     log.With("handler", "LibraryHandler"),
		library: library,
		session: session,
	}
}

// GET /api/library
func (h *LibraryHandler) GetAll(c *gin.Context) {
	items, err := h.library.GetAll(c.Request.Context())
	if err != nil {
		RespondServiceError(c, err)
		return
	}
	RespondOK(c, gin.H{"artifacts": items})
}

type saveRequest struct {
	ArtifactID string `json:"artifact_id"`
}

// POST /api/library
// Saves an artifact from the current session history. With no id in the
// body the currently selected artifact is saved.
func (h *LibraryHandler) Save(c *gin.Context) {
	var req saveRequest
	if err := c.ShouldBindJSON(&req); err != nil && c.Request.ContentLength > 0 {
		RespondError(c, http.StatusBadRequest, "", err)
		return
	}

	var artifactID *uuid.UUID
	if req.ArtifactID != "" {
		id, err := uuid.Parse(req.ArtifactID)
		if err != nil {
			RespondError(c, http.StatusBadRequest, "", err)
			return
		}
		artifactID = &id
	}

	artifact, err := h.session.ArtifactByID(artifactID)
	if err != nil {
		RespondError(c, http.StatusNotFound, "", err)
		return
	}
	saved, err := h.library.Save(c.Request.Context(), artifact)
	if err != nil {
		RespondServiceError(c, err)
		return
	}
	RespondOK(c, gin.H{"artifact": saved})
}

// DELETE /api/library/:id
func (h *LibraryHandler) Delete(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		RespondError(c, http.StatusBadRequest, "", err)
		return
	}
	if err := h.library.Delete(c.Request.Context(), id); err != nil {
		RespondServiceError(c, err)
		return
	}
	RespondOK(c, gin.H{"deleted": id})
}
