package services

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/kestrelworks/infograph-backend/internal/logger"
)

// CredentialSource resolves the generation credential. It is consulted on
// every call, never cached, so a rotated key takes effect on the next request
// without a restart.
type CredentialSource func() (string, error)

// EnvCredentialSource reads GEMINI_API_KEY from the environment at call time.
func EnvCredentialSource() (string, error) {
	key := strings.TrimSpace(os.Getenv("GEMINI_API_KEY"))
	if key == "" {
		return "", fmt.Errorf("missing GEMINI_API_KEY")
	}
	return key, nil
}

// GeminiClient is the low-level transport for the Generative Language API.
// It is stateless apart from the shared http.Client; each request carries a
// freshly resolved credential.
type GeminiClient interface {
	GenerateContent(ctx context.Context, model string, req *GenerateContentRequest) (*GenerateContentResponse, error)
	StartPredictOperation(ctx context.Context, model string, req *PredictRequest) (string, error)
	GetOperation(ctx context.Context, name string) (*Operation, error)
}

type geminiClient struct {
	log        *logger.Logger
	baseURL    string
	creds      CredentialSource
	httpClient *http.Client
	maxRetries int
}

func NewGeminiClient(log *logger.Logger, creds CredentialSource) GeminiClient {
	baseURL := os.Getenv("GEMINI_BASE_URL")
	if baseURL == "" {
		baseURL = "https://generativelanguage.googleapis.com"
	}
	if creds == nil {
		creds = EnvCredentialSource
	}

	timeoutSec := 180
	if v := os.Getenv("GEMINI_TIMEOUT_SECONDS"); v != "" {
		if parsed, err := strconv.Atoi(strings.TrimSpace(v)); err == nil && parsed > 0 {
			timeoutSec = parsed
		}
	}
	maxRetries := 3
	if v := os.Getenv("GEMINI_MAX_RETRIES"); v != "" {
		if parsed, err := strconv.Atoi(strings.TrimSpace(v)); err == nil && parsed >= 0 {
			maxRetries = parsed
		}
	}

	return &geminiClient{
		log:        log.With("service", "GeminiClient"),
		baseURL:    strings.TrimRight(baseURL, "/"),
		creds:      creds,
		httpClient: &http.Client{Timeout: time.Duration(timeoutSec) * time.Second},
		maxRetries: maxRetries,
	}
}

// ---- Wire types ----

type Blob struct {
	MimeType string `json:"mimeType"`
	Data     string `json:"data"`
}

type Part struct {
	Text       string `json:"text,omitempty"`
	InlineData *Blob  `json:"inlineData,omitempty"`
}

type Content struct {
	Role  string `json:"role,omitempty"`
	Parts []Part `json:"parts"`
}

type Tool struct {
	GoogleSearch *struct{} `json:"google_search,omitempty"`
	GoogleMaps   *struct{} `json:"google_maps,omitempty"`
}

type SpeechConfig struct {
	VoiceConfig *VoiceConfig `json:"voiceConfig,omitempty"`
}

type VoiceConfig struct {
	PrebuiltVoiceConfig *PrebuiltVoiceConfig `json:"prebuiltVoiceConfig,omitempty"`
}

type PrebuiltVoiceConfig struct {
	VoiceName string `json:"voiceName"`
}

type GenerationConfig struct {
	Temperature        *float64       `json:"temperature,omitempty"`
	ResponseModalities []string       `json:"responseModalities,omitempty"`
	ResponseMimeType   string         `json:"responseMimeType,omitempty"`
	ResponseSchema     map[string]any `json:"responseSchema,omitempty"`
	SpeechConfig       *SpeechConfig  `json:"speechConfig,omitempty"`
}

type GenerateContentRequest struct {
	Contents         []Content         `json:"contents"`
	Tools            []Tool            `json:"tools,omitempty"`
	GenerationConfig *GenerationConfig `json:"generationConfig,omitempty"`
}

type GroundingSource struct {
	URI   string `json:"uri"`
	Title string `json:"title"`
}

type GroundingChunk struct {
	Web  *GroundingSource `json:"web,omitempty"`
	Maps *GroundingSource `json:"maps,omitempty"`
}

type GroundingMetadata struct {
	GroundingChunks []GroundingChunk `json:"groundingChunks"`
}

type Candidate struct {
	Content           *Content           `json:"content"`
	GroundingMetadata *GroundingMetadata `json:"groundingMetadata,omitempty"`
}

type GenerateContentResponse struct {
	Candidates []Candidate `json:"candidates"`
}

// Text concatenates all text parts in the first candidate.
func (r *GenerateContentResponse) Text() string {
	if r == nil {
		return ""
	}
	var b strings.Builder
	for _, cand := range r.Candidates {
		if cand.Content == nil {
			continue
		}
		for _, p := range cand.Content.Parts {
			b.WriteString(p.Text)
		}
		break
	}
	return b.String()
}

// FirstInlineData returns the first binary part of the first candidate.
func (r *GenerateContentResponse) FirstInlineData() *Blob {
	if r == nil {
		return nil
	}
	for _, cand := range r.Candidates {
		if cand.Content == nil {
			continue
		}
		for _, p := range cand.Content.Parts {
			if p.InlineData != nil && p.InlineData.Data != "" {
				return p.InlineData
			}
		}
	}
	return nil
}

type PredictInstance struct {
	Prompt string `json:"prompt"`
	Image  *struct {
		BytesBase64Encoded string `json:"bytesBase64Encoded"`
		MimeType           string `json:"mimeType"`
	} `json:"image,omitempty"`
}

type PredictParameters struct {
	AspectRatio      string `json:"aspectRatio,omitempty"`
	NumberOfVideos   int    `json:"numberOfVideos,omitempty"`
	DurationSeconds  int    `json:"durationSeconds,omitempty"`
	PersonGeneration string `json:"personGeneration,omitempty"`
}

type PredictRequest struct {
	Instances  []PredictInstance  `json:"instances"`
	Parameters *PredictParameters `json:"parameters,omitempty"`
}

type Operation struct {
	Name  string `json:"name"`
	Done  bool   `json:"done"`
	Error *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error,omitempty"`
	Response *struct {
		GenerateVideoResponse *struct {
			GeneratedSamples []struct {
				Video struct {
					URI string `json:"uri"`
				} `json:"video"`
			} `json:"generatedSamples"`
		} `json:"generateVideoResponse,omitempty"`
	} `json:"response,omitempty"`
}

// ---- Transport ----

type geminiHTTPError struct {
	StatusCode int
	Body       string
}

func (e *geminiHTTPError) Error() string {
	return fmt.Sprintf("gemini http %d: %s", e.StatusCode, e.Body)
}

// isAuthErr reports whether the failure needs a new credential rather than a
// retry: bad/expired/unentitled keys come back as 401/403, and billing-gated
// models as 404.
func isAuthErr(err error) bool {
	var httpErr *geminiHTTPError
	if errors.As(err, &httpErr) {
		switch httpErr.StatusCode {
		case http.StatusUnauthorized, http.StatusForbidden, http.StatusNotFound:
			return true
		}
	}
	return false
}

func isRetryableHTTP(code int) bool {
	if code == http.StatusRequestTimeout || code == http.StatusTooManyRequests {
		return true
	}
	return code >= 500 && code <= 599
}

func isRetryableErr(err error) bool {
	if err == nil {
		return false
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	var httpErr *geminiHTTPError
	if errors.As(err, &httpErr) {
		return isRetryableHTTP(httpErr.StatusCode)
	}
	return false
}

func jitterSleep(base time.Duration) time.Duration {
	if base <= 0 {
		return 0
	}
	delta := base.Seconds() * 0.2
	low := base.Seconds() - delta
	v := low + rand.Float64()*(2*delta)
	return time.Duration(v * float64(time.Second))
}

func (c *geminiClient) doOnce(ctx context.Context, method, path string, body any) (*http.Response, []byte, error) {
	key, err := c.creds()
	if err != nil {
		// Treat a missing credential like a rejected one so the caller's
		// auth taxonomy applies.
		return nil, nil, &geminiHTTPError{StatusCode: http.StatusUnauthorized, Body: err.Error()}
	}

	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return nil, nil, err
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, &buf)
	if err != nil {
		return nil, nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-goog-api-key", key)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, nil, err
	}

	raw, readErr := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	if readErr != nil {
		return resp, nil, readErr
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return resp, raw, &geminiHTTPError{StatusCode: resp.StatusCode, Body: string(raw)}
	}
	return resp, raw, nil
}

func (c *geminiClient) do(ctx context.Context, method, path string, body any, out any) error {
	backoff := 1 * time.Second

	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		resp, raw, err := c.doOnce(ctx, method, path, body)
		if err == nil {
			if out == nil {
				return nil
			}
			if uErr := json.Unmarshal(raw, out); uErr != nil {
				return fmt.Errorf("gemini decode error: %w", uErr)
			}
			return nil
		}

		if !isRetryableErr(err) {
			return err
		}
		if attempt == c.maxRetries {
			return err
		}

		sleepFor := backoff
		if resp != nil {
			if ra := strings.TrimSpace(resp.Header.Get("Retry-After")); ra != "" {
				if secs, parseErr := strconv.Atoi(ra); parseErr == nil && secs > 0 {
					sleepFor = time.Duration(secs) * time.Second
				}
			}
		}
		if sleepFor > 10*time.Second {
			sleepFor = 10 * time.Second
		}
		sleepFor = jitterSleep(sleepFor)

		c.log.Warn("Gemini request retrying",
			"path", path,
			"attempt", attempt+1,
			"max_retries", c.maxRetries,
			"sleep", sleepFor.String(),
			"error", err.Error(),
		)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(sleepFor):
		}
		backoff *= 2
	}

	return fmt.Errorf("unreachable retry loop")
}

func (c *geminiClient) GenerateContent(ctx context.Context, model string, req *GenerateContentRequest) (*GenerateContentResponse, error) {
	var resp GenerateContentResponse
	path := fmt.Sprintf("/v1beta/models/%s:generateContent", model)
	if err := c.do(ctx, http.MethodPost, path, req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *geminiClient) StartPredictOperation(ctx context.Context, model string, req *PredictRequest) (string, error) {
	var op Operation
	path := fmt.Sprintf("/v1beta/models/%s:predictLongRunning", model)
	if err := c.do(ctx, http.MethodPost, path, req, &op); err != nil {
		return "", err
	}
	if op.Name == "" {
		return "", fmt.Errorf("predictLongRunning returned no operation name")
	}
	return op.Name, nil
}

func (c *geminiClient) GetOperation(ctx context.Context, name string) (*Operation, error) {
	var op Operation
	if err := c.do(ctx, http.MethodGet, "/v1beta/"+strings.TrimPrefix(name, "/"), nil, &op); err != nil {
		return nil, err
	}
	return &op, nil
}
