package handlers

import (
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/kestrelworks/infograph-backend/internal/logger"
	"github.com/kestrelworks/infograph-backend/internal/sse"
)

type RealtimeHandler struct {
	Log *logger.Logger
	Hub *sse.SSEHub

	mu      sync.RWMutex
	clients map[uuid.UUID]*sse.SSEClient
}

func NewRealtimeHandler(log *logger.Logger, hub *sse.SSEHub) *RealtimeHandler {
	return &RealtimeHandler{
		Log:     log,
		Hub:     hub,
		clients: make(map[uuid.UUID]*sse.SSEClient),
	}
}

// GET /sse/stream
// Every stream starts subscribed to the session channel. The client id is
// sent as the first event so subscribe/unsubscribe can reference it.
func (h *RealtimeHandler) SSEStream(c *gin.Context) {
	client := h.Hub.NewSSEClient()
	h.Log.Info("SSEStream open", "client_id", client.ID.String())

	h.mu.Lock()
	h.clients[client.ID] = client
	h.mu.Unlock()

	h.Hub.AddChannel(client, sse.ChannelSession)
	h.Hub.ServeHTTP(c.Writer, c.Request, client)

	h.mu.Lock()
	delete(h.clients, client.ID)
	h.mu.Unlock()
	h.Hub.CloseClient(client)
}

type subscribeRequest struct {
	ClientID string `json:"client_id"`
	Channel  string `json:"channel"`
}

func (h *RealtimeHandler) lookupClient(c *gin.Context, req *subscribeRequest) *sse.SSEClient {
	if err := c.ShouldBindJSON(req); err != nil || req.Channel == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid channel"})
		return nil
	}
	id, err := uuid.Parse(req.ClientID)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid client id"})
		return nil
	}
	h.mu.RLock()
	client, exists := h.clients[id]
	h.mu.RUnlock()
	if !exists {
		c.JSON(http.StatusConflict, gin.H{"error": "no active SSE connection for this client"})
		return nil
	}
	return client
}

// POST /sse/subscribe
func (h *RealtimeHandler) SSESubscribe(c *gin.Context) {
	var req subscribeRequest
	client := h.lookupClient(c, &req)
	if client == nil {
		return
	}
	h.Hub.AddChannel(client, req.Channel)
	c.JSON(http.StatusOK, gin.H{"message": "subscribed", "channel": req.Channel})
}

// POST /sse/unsubscribe
func (h *RealtimeHandler) SSEUnsubscribe(c *gin.Context) {
	var req subscribeRequest
	client := h.lookupClient(c, &req)
	if client == nil {
		return
	}
	h.Hub.RemoveChannel(client, req.Channel)
	c.JSON(http.StatusOK, gin.H{"message": "unsubscribed", "channel": req.Channel})
}
