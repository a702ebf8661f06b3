package handlers

import (
	"fmt"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/kestrelworks/infograph-backend/internal/logger"
	"github.com/kestrelworks/infograph-backend/internal/services"
	"github.com/kestrelworks/infograph-backend/internal/types"
)

const maxTopicAudioBytes = 10 << 20

type SessionHandler struct {
	log     *logger.Logger
	session *services.SessionService
	speech  services.SpeechProviderService
}

func NewSessionHandler(log *logger.Logger, session *services.SessionService, speech services.SpeechProviderService) *SessionHandler {
	return &SessionHandler{
		log:     log.With("handler", "SessionHandler"),
		session: session,
		speech:  speech,
	}
}

// GET /api/session
func (h *SessionHandler) GetSnapshot(c *gin.Context) {
	RespondOK(c, h.session.Snapshot())
}

type generateRequest struct {
	Topic    string          `json:"topic"`
	Level    string          `json:"level"`
	Style    string          `json:"style"`
	Language string          `json:"language"`
	Location *types.Location `json:"location,omitempty"`
}

// POST /api/session/generate
func (h *SessionHandler) Generate(c *gin.Context) {
	var req generateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondError(c, http.StatusBadRequest, "", err)
		return
	}
	artifact, err := h.session.Generate(c.Request.Context(), req.Topic, req.Level, req.Style, req.Language, req.Location)
	if err != nil {
		RespondServiceError(c, err)
		return
	}
	RespondOK(c, gin.H{"artifact": artifact})
}

type editRequest struct {
	Instruction string `json:"instruction"`
}

// POST /api/session/edit
func (h *SessionHandler) Edit(c *gin.Context) {
	var req editRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondError(c, http.StatusBadRequest, "", err)
		return
	}
	artifact, err := h.session.Edit(c.Request.Context(), req.Instruction)
	if err != nil {
		RespondServiceError(c, err)
		return
	}
	RespondOK(c, gin.H{"artifact": artifact})
}

// POST /api/session/verify
func (h *SessionHandler) Verify(c *gin.Context) {
	verification, err := h.session.Verify(c.Request.Context())
	if err != nil {
		RespondServiceError(c, err)
		return
	}
	RespondOK(c, gin.H{"verification": verification})
}

// POST /api/session/animate
func (h *SessionHandler) Animate(c *gin.Context) {
	uri, err := h.session.Animate(c.Request.Context())
	if err != nil {
		RespondServiceError(c, err)
		return
	}
	RespondOK(c, gin.H{"video_uri": uri})
}

// POST /api/session/narrate
func (h *SessionHandler) Narrate(c *gin.Context) {
	uri, err := h.session.Narrate(c.Request.Context())
	if err != nil {
		RespondServiceError(c, err)
		return
	}
	RespondOK(c, gin.H{"audio_uri": uri})
}

// POST /api/session/refresh-context
func (h *SessionHandler) RefreshContext(c *gin.Context) {
	research, err := h.session.RefreshContext(c.Request.Context())
	if err != nil {
		RespondServiceError(c, err)
		return
	}
	RespondOK(c, gin.H{"research": research})
}

type selectRequest struct {
	Index int `json:"index"`
}

// POST /api/session/select
func (h *SessionHandler) Select(c *gin.Context) {
	var req selectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondError(c, http.StatusBadRequest, "", err)
		return
	}
	if err := h.session.Select(req.Index); err != nil {
		RespondError(c, http.StatusBadRequest, "", err)
		return
	}
	RespondOK(c, h.session.Snapshot())
}

// POST /api/session/reset
func (h *SessionHandler) Reset(c *gin.Context) {
	h.session.Reset()
	RespondOK(c, h.session.Snapshot())
}

// POST /api/session/topic-audio
// Body is the recorded audio; Content-Type declares the container. Returns
// the transcribed topic without starting generation.
func (h *SessionHandler) TopicAudio(c *gin.Context) {
	if h.speech == nil {
		RespondError(c, http.StatusServiceUnavailable, "", fmt.Errorf("speech recognition not configured"))
		return
	}
	audio, err := io.ReadAll(io.LimitReader(c.Request.Body, maxTopicAudioBytes))
	if err != nil {
		RespondError(c, http.StatusBadRequest, "", err)
		return
	}
	if len(audio) == 0 {
		RespondError(c, http.StatusBadRequest, "", fmt.Errorf("empty audio body"))
		return
	}
	topic, err := h.speech.RecognizeTopic(c.Request.Context(), audio, c.ContentType(), c.Query("language"))
	if err != nil {
		RespondServiceError(c, err)
		return
	}
	RespondOK(c, gin.H{"topic": topic})
}
