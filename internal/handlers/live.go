package handlers

import (
	"encoding/base64"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/kestrelworks/infograph-backend/internal/live"
	"github.com/kestrelworks/infograph-backend/internal/logger"
	"github.com/kestrelworks/infograph-backend/internal/services"
)

// DialerFactory builds a live transport dialer for a given system
// instruction. Injected so tests can bridge against a fake transport.
type DialerFactory func(systemInstruction string) live.TransportDialer

type LiveHandler struct {
	log      *logger.Logger
	session  *services.SessionService
	prompts  *services.PromptService
	dialerFn DialerFactory
	upgrader websocket.Upgrader
}

func NewLiveHandler(log *logger.Logger, session *services.SessionService, prompts *services.PromptService, dialerFn DialerFactory) *LiveHandler {
	return &LiveHandler{
		log:      log.With("handler", "LiveHandler"),
		session:  session,
		prompts:  prompts,
		dialerFn: dialerFn,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1 << 16,
			WriteBufferSize: 1 << 16,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

// browser-side bridge messages

type liveClientMessage struct {
	Type string `json:"type"`
	Data string `json:"data,omitempty"`
}

type liveServerEvent struct {
	Type        string  `json:"type"`
	State       string  `json:"state,omitempty"`
	Data        string  `json:"data,omitempty"`
	StartUnixMs int64   `json:"start_unix_ms,omitempty"`
	Value       float64 `json:"value,omitempty"`
	Message     string  `json:"message,omitempty"`
}

// wsBridge serializes writes to the browser socket and adapts it to the
// channel's capture and playback interfaces.
type wsBridge struct {
	mu     sync.Mutex
	conn   *websocket.Conn
	frames chan []float32
}

func (b *wsBridge) send(ev liveServerEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()
	_ = b.conn.WriteJSON(ev)
}

func (b *wsBridge) Frames() <-chan []float32 { return b.frames }

func (b *wsBridge) Play(start time.Time, pcm []byte) {
	b.send(liveServerEvent{
		Type:        "audio",
		Data:        base64.StdEncoding.EncodeToString(pcm),
		StartUnixMs: start.UnixMilli(),
	})
}

func (b *wsBridge) Stop() {
	b.send(liveServerEvent{Type: "flush"})
}

// GET /api/live
// Upgrades the browser connection and runs one live discussion about the
// currently selected infographic. Requires an artifact in history.
func (h *LiveHandler) Live(c *gin.Context) {
	artifact, err := h.session.ArtifactByID(nil)
	if err != nil {
		RespondError(c, http.StatusConflict, "", err)
		return
	}
	imageData, err := base64.StdEncoding.DecodeString(artifact.ImageData)
	if err != nil {
		RespondError(c, http.StatusInternalServerError, "", err)
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Warn("live: upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	bridge := &wsBridge{conn: conn, frames: make(chan []float32, 16)}

	instruction := h.prompts.DiscussionInstruction(artifact.Prompt, artifact.Facts, artifact.Language)
	channel := live.NewChannel(h.log, h.dialerFn(instruction), nil)
	channel.OnState = func(s live.State) {
		bridge.send(liveServerEvent{Type: "state", State: string(s)})
	}
	channel.OnVolume = func(v float64) {
		bridge.send(liveServerEvent{Type: "volume", Value: v})
	}

	if err := channel.Connect(c.Request.Context(), imageData, artifact.MimeType, bridge, bridge); err != nil {
		h.log.Warn("live: connect failed", "error", err)
		bridge.send(liveServerEvent{Type: "error", Message: err.Error()})
		return
	}
	defer channel.Disconnect()

	for {
		var msg liveClientMessage
		if err := conn.ReadJSON(&msg); err != nil {
			break
		}
		switch msg.Type {
		case "audio":
			pcm, err := base64.StdEncoding.DecodeString(msg.Data)
			if err != nil {
				h.log.Warn("live: bad client audio", "error", err)
				continue
			}
			select {
			case bridge.frames <- live.PCM16ToFloat(pcm):
			default:
				// Upstream can't keep up. Drop the frame.
			}
		case "close":
			close(bridge.frames)
			return
		}
	}
	close(bridge.frames)
}
