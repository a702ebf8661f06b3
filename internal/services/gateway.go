package services

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/kestrelworks/infograph-backend/internal/apierr"
	"github.com/kestrelworks/infograph-backend/internal/config"
	"github.com/kestrelworks/infograph-backend/internal/logger"
	"github.com/kestrelworks/infograph-backend/internal/observability"
	"github.com/kestrelworks/infograph-backend/internal/types"
	"github.com/kestrelworks/infograph-backend/internal/utils"
)

// ImagePayload is an encoded image: base64 data plus its mime type.
type ImagePayload struct {
	Data     string `json:"data"`
	MimeType string `json:"mime_type"`
}

// AudioPayload is raw PCM plus its sample rate.
type AudioPayload struct {
	PCM        []byte `json:"-"`
	SampleRate int    `json:"sample_rate"`
}

// GenerationGateway is the stateless façade over the remote generative
// operations. Text-parsing operations (Research, VerifyAccuracy) degrade
// gracefully instead of failing; binary-producing operations fail loudly when
// the response carries no payload.
type GenerationGateway interface {
	Research(ctx context.Context, topic, level, style, language string, loc *types.Location) (*types.ResearchResult, error)
	SynthesizeImage(ctx context.Context, prompt string) (*ImagePayload, error)
	EditImage(ctx context.Context, image *ImagePayload, instruction string) (*ImagePayload, error)
	VerifyAccuracy(ctx context.Context, image *ImagePayload, facts []string) (*types.Verification, error)
	SynthesizeVideo(ctx context.Context, topic string, image *ImagePayload) (string, error)
	SynthesizeNarration(ctx context.Context, topic string, facts []string, language string) (*AudioPayload, error)
}

type generationGateway struct {
	log     *logger.Logger
	client  GeminiClient
	prompts *PromptService
	cfg     *config.Config

	textModel  string
	imageModel string
	ttsModel   string
	videoModel string
	ttsVoice   string

	pollInterval time.Duration
}

func NewGenerationGateway(log *logger.Logger, client GeminiClient, prompts *PromptService, cfg *config.Config) GenerationGateway {
	gwLog := log.With("service", "GenerationGateway")
	return &generationGateway{
		log:          gwLog,
		client:       client,
		prompts:      prompts,
		cfg:          cfg,
		textModel:    utils.GetEnv("GEMINI_TEXT_MODEL", "gemini-2.5-flash", log),
		imageModel:   utils.GetEnv("GEMINI_IMAGE_MODEL", "gemini-2.5-flash-image", log),
		ttsModel:     utils.GetEnv("GEMINI_TTS_MODEL", "gemini-2.5-flash-preview-tts", log),
		videoModel:   utils.GetEnv("GEMINI_VIDEO_MODEL", "veo-3.0-generate-001", log),
		ttsVoice:     utils.GetEnv("GEMINI_TTS_VOICE", "Kore", log),
		pollInterval: time.Duration(cfg.VideoPollSeconds) * time.Second,
	}
}

// ClassifyRemoteError maps a gateway failure onto the user-facing taxonomy.
// Auth-class failures need a credential change; everything else already
// carries a code or is a generic transient failure.
func ClassifyRemoteError(err error) *apierr.Error {
	if err == nil {
		return nil
	}
	var ae *apierr.Error
	if errors.As(err, &ae) {
		return ae
	}
	if isAuthErr(err) {
		return apierr.New(http.StatusUnauthorized, apierr.CodeAuthEntitlement, err)
	}
	return apierr.New(http.StatusBadGateway, "", err)
}

const narrationSampleRate = 24000

func (g *generationGateway) Research(ctx context.Context, topic, level, style, language string, loc *types.Location) (*types.ResearchResult, error) {
	ctx, span := observability.Tracer("gateway").Start(ctx, "Research")
	defer span.End()
	span.SetAttributes(attribute.String("topic", topic), attribute.String("level", level), attribute.String("style", style))

	req := &GenerateContentRequest{
		Contents: []Content{{
			Role:  "user",
			Parts: []Part{{Text: g.prompts.ResearchPrompt(topic, level, style, language, loc)}},
		}},
		Tools: []Tool{{GoogleSearch: &struct{}{}}},
	}
	if loc != nil {
		req.Tools = append(req.Tools, Tool{GoogleMaps: &struct{}{}})
	}

	resp, err := g.client.GenerateContent(ctx, g.textModel, req)
	if err != nil {
		return nil, err
	}

	facts, imagePrompt := parseResearchText(resp.Text(), g.cfg.MaxFacts)
	if imagePrompt == "" {
		imagePrompt = g.prompts.FallbackImagePrompt(topic, level, style)
		g.log.Warn("Research response missing image prompt section, using fallback", "topic", topic)
	}

	return &types.ResearchResult{
		ImagePrompt:   imagePrompt,
		Facts:         facts,
		SearchResults: dedupeSearchResults(groundingSources(resp)),
	}, nil
}

func groundingSources(resp *GenerateContentResponse) []types.SearchResult {
	var out []types.SearchResult
	for _, cand := range resp.Candidates {
		if cand.GroundingMetadata == nil {
			continue
		}
		for _, chunk := range cand.GroundingMetadata.GroundingChunks {
			switch {
			case chunk.Web != nil:
				out = append(out, types.SearchResult{Title: chunk.Web.Title, URL: chunk.Web.URI})
			case chunk.Maps != nil:
				out = append(out, types.SearchResult{Title: chunk.Maps.Title, URL: chunk.Maps.URI, IsMap: true})
			}
		}
		break
	}
	return out
}

func (g *generationGateway) SynthesizeImage(ctx context.Context, prompt string) (*ImagePayload, error) {
	ctx, span := observability.Tracer("gateway").Start(ctx, "SynthesizeImage")
	defer span.End()

	req := &GenerateContentRequest{
		Contents: []Content{{
			Role:  "user",
			Parts: []Part{{Text: prompt}},
		}},
		GenerationConfig: &GenerationConfig{ResponseModalities: []string{"IMAGE", "TEXT"}},
	}
	resp, err := g.client.GenerateContent(ctx, g.imageModel, req)
	if err != nil {
		return nil, err
	}
	blob := resp.FirstInlineData()
	if blob == nil {
		return nil, apierr.New(http.StatusBadGateway, apierr.CodeNoImage, fmt.Errorf("image synthesis returned no image part"))
	}
	return &ImagePayload{Data: blob.Data, MimeType: blob.MimeType}, nil
}

func (g *generationGateway) EditImage(ctx context.Context, image *ImagePayload, instruction string) (*ImagePayload, error) {
	ctx, span := observability.Tracer("gateway").Start(ctx, "EditImage")
	defer span.End()

	req := &GenerateContentRequest{
		Contents: []Content{{
			Role: "user",
			Parts: []Part{
				{InlineData: &Blob{MimeType: image.MimeType, Data: image.Data}},
				{Text: instruction},
			},
		}},
		GenerationConfig: &GenerationConfig{ResponseModalities: []string{"IMAGE", "TEXT"}},
	}
	resp, err := g.client.GenerateContent(ctx, g.imageModel, req)
	if err != nil {
		return nil, err
	}
	blob := resp.FirstInlineData()
	if blob == nil {
		return nil, apierr.New(http.StatusBadGateway, apierr.CodeEditFailed, fmt.Errorf("image edit returned no image part"))
	}
	return &ImagePayload{Data: blob.Data, MimeType: blob.MimeType}, nil
}

func (g *generationGateway) VerifyAccuracy(ctx context.Context, image *ImagePayload, facts []string) (*types.Verification, error) {
	ctx, span := observability.Tracer("gateway").Start(ctx, "VerifyAccuracy")
	defer span.End()

	req := &GenerateContentRequest{
		Contents: []Content{{
			Role: "user",
			Parts: []Part{
				{InlineData: &Blob{MimeType: image.MimeType, Data: image.Data}},
				{Text: g.prompts.VerifyPrompt(facts)},
			},
		}},
		GenerationConfig: &GenerationConfig{
			ResponseMimeType: "application/json",
			ResponseSchema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"score":        map[string]any{"type": "integer"},
					"isAccurate":   map[string]any{"type": "boolean"},
					"critique":     map[string]any{"type": "string"},
					"suggestedFix": map[string]any{"type": "string"},
				},
				"required": []string{"score", "isAccurate", "critique"},
			},
		},
	}
	resp, err := g.client.GenerateContent(ctx, g.textModel, req)
	if err != nil {
		return nil, err
	}
	return parseVerification(g.log, resp.Text()), nil
}

// parseVerification never fails: an unparsable response produces a degraded
// result carrying a truncated excerpt of the raw text.
func parseVerification(log *logger.Logger, raw string) *types.Verification {
	cleaned := strings.TrimSpace(raw)
	cleaned = strings.TrimPrefix(cleaned, "```json")
	cleaned = strings.TrimPrefix(cleaned, "```")
	cleaned = strings.TrimSuffix(cleaned, "```")
	cleaned = strings.TrimSpace(cleaned)

	var parsed struct {
		Score        int    `json:"score"`
		IsAccurate   bool   `json:"isAccurate"`
		Critique     string `json:"critique"`
		SuggestedFix string `json:"suggestedFix"`
	}
	if err := json.Unmarshal([]byte(cleaned), &parsed); err != nil {
		if log != nil {
			log.Warn("Verification response unparsable, returning degraded result", "error", err)
		}
		excerpt := raw
		if len(excerpt) > 200 {
			excerpt = excerpt[:200]
		}
		return &types.Verification{
			Score:      50,
			IsAccurate: false,
			Critique:   fmt.Sprintf("Could not parse verification response: %s", excerpt),
			Timestamp:  time.Now(),
		}
	}
	return &types.Verification{
		Score:        parsed.Score,
		IsAccurate:   parsed.IsAccurate,
		Critique:     parsed.Critique,
		SuggestedFix: parsed.SuggestedFix,
		Timestamp:    time.Now(),
	}
}

func (g *generationGateway) SynthesizeVideo(ctx context.Context, topic string, image *ImagePayload) (string, error) {
	ctx, span := observability.Tracer("gateway").Start(ctx, "SynthesizeVideo")
	defer span.End()

	instance := PredictInstance{Prompt: g.prompts.VideoPrompt(topic)}
	instance.Image = &struct {
		BytesBase64Encoded string `json:"bytesBase64Encoded"`
		MimeType           string `json:"mimeType"`
	}{BytesBase64Encoded: image.Data, MimeType: image.MimeType}

	opName, err := g.client.StartPredictOperation(ctx, g.videoModel, &PredictRequest{
		Instances:  []PredictInstance{instance},
		Parameters: &PredictParameters{AspectRatio: "16:9", NumberOfVideos: 1},
	})
	if err != nil {
		return "", err
	}
	g.log.Info("Video synthesis started", "operation", opName)

	// The remote operation takes up to minutes; poll at a fixed interval and
	// leave responsiveness to the caller's context.
	for {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(g.pollInterval):
		}

		op, err := g.client.GetOperation(ctx, opName)
		if err != nil {
			return "", err
		}
		if !op.Done {
			continue
		}
		if op.Error != nil {
			return "", apierr.New(http.StatusBadGateway, apierr.CodeVideoFailed,
				fmt.Errorf("video synthesis failed: %s", op.Error.Message))
		}
		if op.Response == nil || op.Response.GenerateVideoResponse == nil ||
			len(op.Response.GenerateVideoResponse.GeneratedSamples) == 0 ||
			op.Response.GenerateVideoResponse.GeneratedSamples[0].Video.URI == "" {
			return "", apierr.New(http.StatusBadGateway, apierr.CodeVideoFailed,
				fmt.Errorf("video synthesis completed with no output link"))
		}
		return op.Response.GenerateVideoResponse.GeneratedSamples[0].Video.URI, nil
	}
}

func (g *generationGateway) SynthesizeNarration(ctx context.Context, topic string, facts []string, language string) (*AudioPayload, error) {
	ctx, span := observability.Tracer("gateway").Start(ctx, "SynthesizeNarration")
	defer span.End()

	req := &GenerateContentRequest{
		Contents: []Content{{
			Role:  "user",
			Parts: []Part{{Text: g.prompts.NarrationPrompt(topic, facts, language)}},
		}},
		GenerationConfig: &GenerationConfig{
			ResponseModalities: []string{"AUDIO"},
			SpeechConfig: &SpeechConfig{
				VoiceConfig: &VoiceConfig{
					PrebuiltVoiceConfig: &PrebuiltVoiceConfig{VoiceName: g.ttsVoice},
				},
			},
		},
	}
	resp, err := g.client.GenerateContent(ctx, g.ttsModel, req)
	if err != nil {
		return nil, err
	}
	blob := resp.FirstInlineData()
	if blob == nil {
		return nil, apierr.New(http.StatusBadGateway, apierr.CodeAudioFailed, fmt.Errorf("narration returned no audio part"))
	}
	pcm, err := base64.StdEncoding.DecodeString(blob.Data)
	if err != nil {
		return nil, apierr.New(http.StatusBadGateway, apierr.CodeAudioFailed, fmt.Errorf("narration audio decode: %w", err))
	}
	return &AudioPayload{PCM: pcm, SampleRate: narrationSampleRate}, nil
}
