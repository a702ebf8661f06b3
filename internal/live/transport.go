package live

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/kestrelworks/infograph-backend/internal/logger"
	"github.com/kestrelworks/infograph-backend/internal/services"
	"github.com/kestrelworks/infograph-backend/internal/utils"
)

// Event is an inbound occurrence on the live connection. Exactly one field
// set per event keeps the processing loop a plain type switch.
type Event interface{ isLiveEvent() }

// AudioChunk carries decoded 16-bit PCM model speech.
type AudioChunk struct {
	PCM []byte
}

// Interrupted signals the model was cut off by user speech. Queued playback
// must be discarded.
type Interrupted struct{}

// Closed signals the remote side ended the connection normally.
type Closed struct{}

// Errored signals the connection failed. Terminal.
type Errored struct {
	Err error
}

func (AudioChunk) isLiveEvent()  {}
func (Interrupted) isLiveEvent() {}
func (Closed) isLiveEvent()      {}
func (Errored) isLiveEvent()     {}

// Transport is the wire connection to the live dialogue endpoint. The
// production implementation speaks websocket; tests substitute a fake.
type Transport interface {
	// SendImage shares the current infographic as conversation context.
	SendImage(ctx context.Context, data []byte, mimeType string) error
	// SendAudio streams one frame of user microphone PCM.
	SendAudio(ctx context.Context, pcm []byte) error
	// Events yields inbound events until the connection ends.
	Events() <-chan Event
	Close() error
}

// TransportDialer opens a live connection. Injected so the channel can be
// tested without a network.
type TransportDialer func(ctx context.Context) (Transport, error)

const defaultLiveHost = "generativelanguage.googleapis.com"

// wire shapes for the live endpoint

type liveSetup struct {
	Setup struct {
		Model            string `json:"model"`
		GenerationConfig struct {
			ResponseModalities []string `json:"responseModalities"`
		} `json:"generationConfig"`
		SystemInstruction *struct {
			Parts []struct {
				Text string `json:"text"`
			} `json:"parts"`
		} `json:"systemInstruction,omitempty"`
	} `json:"setup"`
}

type liveMedia struct {
	Media struct {
		MimeType string `json:"mimeType"`
		Data     string `json:"data"`
	} `json:"media"`
}

type liveServerMessage struct {
	SetupComplete *struct{} `json:"setupComplete,omitempty"`
	ServerContent *struct {
		Interrupted  bool `json:"interrupted,omitempty"`
		TurnComplete bool `json:"turnComplete,omitempty"`
		ModelTurn    *struct {
			Parts []struct {
				InlineData *struct {
					MimeType string `json:"mimeType"`
					Data     string `json:"data"`
				} `json:"inlineData,omitempty"`
			} `json:"parts"`
		} `json:"modelTurn,omitempty"`
	} `json:"serverContent,omitempty"`
}

type wsTransport struct {
	log       *logger.Logger
	conn      *websocket.Conn
	events    chan Event
	done      chan struct{}
	closeOnce sync.Once
	closeErr  error
}

// NewWebsocketDialer builds a dialer for the production live endpoint. The
// credential source is consulted at dial time, same as the request clients.
func NewWebsocketDialer(log *logger.Logger, creds services.CredentialSource, systemInstruction string) TransportDialer {
	return func(ctx context.Context) (Transport, error) {
		key, err := creds()
		if err != nil {
			return nil, fmt.Errorf("live dial: %w", err)
		}
		model := utils.GetEnv("GEMINI_LIVE_MODEL", "gemini-2.5-flash-native-audio-preview-09-2025", log)
		host := utils.GetEnv("GEMINI_LIVE_HOST", defaultLiveHost, log)
		u := url.URL{
			Scheme:   "wss",
			Host:     host,
			Path:     "/ws/google.ai.generativelanguage.v1beta.GenerativeService.BidiGenerateContent",
			RawQuery: url.Values{"key": {key}}.Encode(),
		}
		conn, resp, err := websocket.DefaultDialer.DialContext(ctx, u.String(), http.Header{})
		if err != nil {
			if resp != nil {
				return nil, fmt.Errorf("live dial: status %d: %w", resp.StatusCode, err)
			}
			return nil, fmt.Errorf("live dial: %w", err)
		}

		var setup liveSetup
		setup.Setup.Model = "models/" + model
		setup.Setup.GenerationConfig.ResponseModalities = []string{"AUDIO"}
		if systemInstruction != "" {
			setup.Setup.SystemInstruction = &struct {
				Parts []struct {
					Text string `json:"text"`
				} `json:"parts"`
			}{Parts: []struct {
				Text string `json:"text"`
			}{{Text: systemInstruction}}}
		}
		if err := conn.WriteJSON(setup); err != nil {
			conn.Close()
			return nil, fmt.Errorf("live setup: %w", err)
		}

		t := &wsTransport{
			log:    log,
			conn:   conn,
			events: make(chan Event, 64),
			done:   make(chan struct{}),
		}
		go t.readLoop()
		return t, nil
	}
}

func (t *wsTransport) readLoop() {
	defer close(t.events)
	for {
		_, raw, err := t.conn.ReadMessage()
		if err != nil {
			select {
			case <-t.done:
				t.emit(Closed{})
			default:
				if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					t.emit(Closed{})
				} else {
					t.emit(Errored{Err: err})
				}
			}
			return
		}
		var msg liveServerMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			t.log.Warn("live: unparseable server message", "error", err)
			continue
		}
		if msg.ServerContent == nil {
			continue
		}
		if msg.ServerContent.Interrupted {
			t.emit(Interrupted{})
			continue
		}
		if msg.ServerContent.ModelTurn != nil {
			for _, p := range msg.ServerContent.ModelTurn.Parts {
				if p.InlineData == nil || p.InlineData.Data == "" {
					continue
				}
				pcm, err := base64.StdEncoding.DecodeString(p.InlineData.Data)
				if err != nil {
					t.log.Warn("live: bad audio payload", "error", err)
					continue
				}
				t.emit(AudioChunk{PCM: pcm})
			}
		}
	}
}

func (t *wsTransport) emit(ev Event) {
	select {
	case t.events <- ev:
	default:
		// Slow consumer. Drop rather than stall the socket.
	}
}

func (t *wsTransport) sendMedia(mimeType, data string) error {
	var msg liveMedia
	msg.Media.MimeType = mimeType
	msg.Media.Data = data
	return t.conn.WriteJSON(msg)
}

func (t *wsTransport) SendImage(_ context.Context, data []byte, mimeType string) error {
	return t.sendMedia(mimeType, base64.StdEncoding.EncodeToString(data))
}

func (t *wsTransport) SendAudio(_ context.Context, pcm []byte) error {
	return t.sendMedia(fmt.Sprintf("audio/pcm;rate=%d", InputSampleRate), base64.StdEncoding.EncodeToString(pcm))
}

func (t *wsTransport) Events() <-chan Event { return t.events }

// Close is idempotent. Both Disconnect and the channel's own wind-down
// path close the transport.
func (t *wsTransport) Close() error {
	t.closeOnce.Do(func() {
		close(t.done)
		t.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		t.closeErr = t.conn.Close()
	})
	return t.closeErr
}
