package services

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kestrelworks/infograph-backend/internal/apierr"
	"github.com/kestrelworks/infograph-backend/internal/logger"
	"github.com/kestrelworks/infograph-backend/internal/sse"
	"github.com/kestrelworks/infograph-backend/internal/types"
)

type LoadingStage string

const (
	StageIdle              LoadingStage = "idle"
	StageResearching       LoadingStage = "researching"
	StageSynthesizingImage LoadingStage = "synthesizing-image"
	StageProcessing        LoadingStage = "processing"
	StageAnimating         LoadingStage = "animating"
	StageNarrating         LoadingStage = "narrating"
)

var (
	// ErrBusy rejects an intent submitted while another operation is in
	// flight. Intents are dropped, never queued.
	ErrBusy = apierr.New(http.StatusConflict, apierr.CodeBusy, errors.New("another operation is in flight"))

	ErrEmptyTopic   = errors.New("topic must not be empty")
	ErrEmptyHistory = errors.New("no artifact to operate on")
)

type SessionError struct {
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

// Snapshot is a copy of session state safe to hand to the presentation layer.
type Snapshot struct {
	Params        types.SessionParams  `json:"params"`
	IsLoading     bool                 `json:"is_loading"`
	LoadingStage  LoadingStage         `json:"loading_stage"`
	LoadingFacts  []string             `json:"loading_facts,omitempty"`
	Error         *SessionError        `json:"error,omitempty"`
	History       []types.Artifact     `json:"history"`
	HistoryIndex  int                  `json:"history_index"`
	SearchResults []types.SearchResult `json:"search_results,omitempty"`
}

// SessionService owns the in-memory session: parameters, the append-only
// reverse-chronological artifact history, loading state and error state. It
// sequences gateway calls and is the only component that mutates any of it.
//
// History is a linear log: generate/edit prepend at the front and reset the
// pointer to 0 even when the pointer was elsewhere; nothing is ever pruned.
type SessionService struct {
	mu  sync.Mutex
	log *logger.Logger

	gateway GenerationGateway
	prompts *PromptService
	media   MediaStore
	hub     sse.Broadcaster

	params        types.SessionParams
	history       []types.Artifact
	historyIndex  int
	searchResults []types.SearchResult
	loadingFacts  []string
	isLoading     bool
	stage         LoadingStage
	lastError     *SessionError

	// Per-artifact in-flight guards so Animate/Narrate stay at-most-once
	// even across the window between gate release and poll completion.
	animating map[uuid.UUID]bool
	narrating map[uuid.UUID]bool
}

func NewSessionService(log *logger.Logger, gateway GenerationGateway, prompts *PromptService, media MediaStore, hub sse.Broadcaster) *SessionService {
	return &SessionService{
		log:       log.With("service", "SessionService"),
		gateway:   gateway,
		prompts:   prompts,
		media:     media,
		hub:       hub,
		stage:     StageIdle,
		animating: make(map[uuid.UUID]bool),
		narrating: make(map[uuid.UUID]bool),
	}
}

// begin acquires the single-flight gate. The returned release func is the
// guaranteed-cleanup path: it always clears the loading flag, so the session
// can never stick in a loading state after a failure.
func (s *SessionService) begin(stage LoadingStage) (func(), error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.isLoading {
		return nil, ErrBusy
	}
	s.isLoading = true
	s.stage = stage
	s.lastError = nil
	s.broadcastStage(stage)
	return func() {
		s.mu.Lock()
		s.isLoading = false
		s.stage = StageIdle
		s.mu.Unlock()
		s.broadcastStage(StageIdle)
	}, nil
}

func (s *SessionService) setStage(stage LoadingStage) {
	s.mu.Lock()
	s.stage = stage
	s.mu.Unlock()
	s.broadcastStage(stage)
}

// broadcastStage must not be called with s.mu held by Broadcast consumers;
// the hub has its own lock.
func (s *SessionService) broadcastStage(stage LoadingStage) {
	if s.hub == nil {
		return
	}
	s.hub.Broadcast(sse.SSEMessage{
		Channel: sse.ChannelSession,
		Event:   sse.SSEEventSessionStageChanged,
		Data:    map[string]any{"stage": string(stage)},
	})
}

func (s *SessionService) broadcast(event sse.SSEEvent, data any) {
	if s.hub == nil {
		return
	}
	s.hub.Broadcast(sse.SSEMessage{Channel: sse.ChannelSession, Event: event, Data: data})
}

// fail records the classified error as session state and returns it.
func (s *SessionService) fail(op string, err error) error {
	classified := ClassifyRemoteError(err)
	s.mu.Lock()
	s.lastError = &SessionError{Message: classified.Error(), Code: classified.Code}
	s.mu.Unlock()
	s.log.Error("Session operation failed", "op", op, "code", classified.Code, "error", err)
	s.broadcast(sse.SSEEventSessionFailed, s.lastError)
	return classified
}

// Generate runs research then image synthesis and prepends the resulting
// artifact. History is left untouched on any failure.
func (s *SessionService) Generate(ctx context.Context, topic, level, style, language string, loc *types.Location) (*types.Artifact, error) {
	if topic == "" {
		return nil, ErrEmptyTopic
	}
	release, err := s.begin(StageResearching)
	if err != nil {
		return nil, err
	}
	defer release()

	s.mu.Lock()
	s.params = types.SessionParams{Topic: topic, Level: level, Style: style, Language: language}
	// Clear leftovers from the previous call so the UI never shows stale
	// research while the new one runs.
	s.searchResults = nil
	s.loadingFacts = nil
	s.mu.Unlock()

	research, err := s.gateway.Research(ctx, topic, level, style, language, loc)
	if err != nil {
		return nil, s.fail("generate/research", err)
	}

	s.mu.Lock()
	s.searchResults = research.SearchResults
	s.loadingFacts = research.Facts
	s.mu.Unlock()
	s.broadcast(sse.SSEEventSessionFactsGathered, research.Facts)
	s.setStage(StageSynthesizingImage)

	image, err := s.gateway.SynthesizeImage(ctx, research.ImagePrompt)
	if err != nil {
		return nil, s.fail("generate/synthesize", err)
	}

	artifact := types.Artifact{
		ID:            uuid.New(),
		ImageData:     image.Data,
		MimeType:      image.MimeType,
		Prompt:        topic,
		OriginalTopic: topic,
		Facts:         research.Facts,
		Level:         level,
		Style:         style,
		Language:      language,
		Timestamp:     time.Now(),
	}

	s.mu.Lock()
	s.history = append([]types.Artifact{artifact}, s.history...)
	s.historyIndex = 0
	s.mu.Unlock()

	s.broadcast(sse.SSEEventSessionArtifactAdded, artifact)
	return &artifact, nil
}

// Edit produces a new artifact from the current one. Verification, video and
// audio describe the old pixels, so the new entry starts without them.
func (s *SessionService) Edit(ctx context.Context, instruction string) (*types.Artifact, error) {
	release, err := s.begin(StageProcessing)
	if err != nil {
		return nil, err
	}
	defer release()

	current, err := s.currentArtifact()
	if err != nil {
		return nil, err
	}

	image, err := s.gateway.EditImage(ctx, &ImagePayload{Data: current.ImageData, MimeType: current.MimeType}, instruction)
	if err != nil {
		return nil, s.fail("edit", err)
	}

	artifact := current
	artifact.ID = uuid.New()
	artifact.ImageData = image.Data
	artifact.MimeType = image.MimeType
	artifact.Prompt = instruction
	artifact.Timestamp = time.Now()
	artifact.Verification = nil
	artifact.VideoURI = ""
	artifact.AudioURI = ""

	s.mu.Lock()
	s.history = append([]types.Artifact{artifact}, s.history...)
	s.historyIndex = 0
	s.mu.Unlock()

	s.broadcast(sse.SSEEventSessionArtifactAdded, artifact)
	return &artifact, nil
}

// Verify checks the current artifact against its recorded facts, or against a
// generic fact synthesized from its prompt when it has none. The result is
// attached in place, targeted by id so navigation during the call cannot
// mutate the wrong entry.
func (s *SessionService) Verify(ctx context.Context) (*types.Verification, error) {
	release, err := s.begin(StageProcessing)
	if err != nil {
		return nil, err
	}
	defer release()

	current, err := s.currentArtifact()
	if err != nil {
		return nil, err
	}

	facts := current.Facts
	if len(facts) == 0 {
		facts = []string{s.prompts.GenericFact(current.Prompt)}
	}

	verification, err := s.gateway.VerifyAccuracy(ctx, &ImagePayload{Data: current.ImageData, MimeType: current.MimeType}, facts)
	if err != nil {
		return nil, s.fail("verify", err)
	}

	updated := s.updateArtifact(current.ID, func(a *types.Artifact) {
		a.Verification = verification
	})
	if updated != nil {
		s.broadcast(sse.SSEEventSessionArtifactUpdated, updated)
	}
	return verification, nil
}

// Animate synthesizes an animated summary for the current artifact, at most
// once per artifact; a second call while a video exists or is being produced
// is a no-op, not an error.
func (s *SessionService) Animate(ctx context.Context) (string, error) {
	release, err := s.begin(StageAnimating)
	if err != nil {
		return "", err
	}
	defer release()

	current, err := s.currentArtifact()
	if err != nil {
		return "", err
	}
	if current.VideoURI != "" {
		return current.VideoURI, nil
	}

	s.mu.Lock()
	if s.animating[current.ID] {
		s.mu.Unlock()
		return "", nil
	}
	s.animating[current.ID] = true
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		delete(s.animating, current.ID)
		s.mu.Unlock()
	}()

	uri, err := s.gateway.SynthesizeVideo(ctx, current.OriginalTopic, &ImagePayload{Data: current.ImageData, MimeType: current.MimeType})
	if err != nil {
		return "", s.fail("animate", err)
	}

	if s.media != nil {
		mirrored, mErr := s.media.MirrorVideo(ctx, current.ID.String(), uri)
		if mErr != nil {
			s.log.Warn("Video mirror failed, keeping upstream link", "artifact_id", current.ID, "error", mErr)
		} else {
			uri = mirrored
		}
	}

	updated := s.updateArtifact(current.ID, func(a *types.Artifact) {
		a.VideoURI = uri
	})
	if updated != nil {
		s.broadcast(sse.SSEEventSessionArtifactUpdated, updated)
	}
	return uri, nil
}

// Narrate synthesizes narrated audio for the current artifact from its
// original topic and facts. Follows the same at-most-once rules as Animate.
func (s *SessionService) Narrate(ctx context.Context) (string, error) {
	release, err := s.begin(StageNarrating)
	if err != nil {
		return "", err
	}
	defer release()

	current, err := s.currentArtifact()
	if err != nil {
		return "", err
	}
	if current.AudioURI != "" {
		return current.AudioURI, nil
	}

	s.mu.Lock()
	if s.narrating[current.ID] {
		s.mu.Unlock()
		return "", nil
	}
	s.narrating[current.ID] = true
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		delete(s.narrating, current.ID)
		s.mu.Unlock()
	}()

	audio, err := s.gateway.SynthesizeNarration(ctx, current.OriginalTopic, current.Facts, current.Language)
	if err != nil {
		return "", s.fail("narrate", err)
	}

	if s.media == nil {
		return "", s.fail("narrate", apierr.New(http.StatusInternalServerError, apierr.CodeAudioFailed,
			fmt.Errorf("no media store configured for narration audio")))
	}
	uri, err := s.media.MirrorNarration(ctx, current.ID.String(), audio.PCM, audio.SampleRate)
	if err != nil {
		return "", s.fail("narrate", apierr.New(http.StatusInternalServerError, apierr.CodeAudioFailed, err))
	}

	updated := s.updateArtifact(current.ID, func(a *types.Artifact) {
		a.AudioURI = uri
	})
	if updated != nil {
		s.broadcast(sse.SSEEventSessionArtifactUpdated, updated)
	}
	return uri, nil
}

// RefreshContext re-runs only the research step against the current
// artifact's prompt, refreshing facts and search results without touching
// history.
func (s *SessionService) RefreshContext(ctx context.Context) (*types.ResearchResult, error) {
	release, err := s.begin(StageResearching)
	if err != nil {
		return nil, err
	}
	defer release()

	current, err := s.currentArtifact()
	if err != nil {
		return nil, err
	}

	research, err := s.gateway.Research(ctx, current.Prompt, current.Level, current.Style, current.Language, nil)
	if err != nil {
		return nil, s.fail("refresh-context", err)
	}

	s.mu.Lock()
	s.searchResults = research.SearchResults
	s.loadingFacts = research.Facts
	s.mu.Unlock()
	s.broadcast(sse.SSEEventSessionFactsGathered, research.Facts)
	return research, nil
}

// Select moves the history pointer for viewing older artifacts.
func (s *SessionService) Select(index int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if index < 0 || index >= len(s.history) {
		return fmt.Errorf("history index %d out of range [0,%d)", index, len(s.history))
	}
	s.historyIndex = index
	return nil
}

// Reset clears the whole session. This is the only way history entries die.
func (s *SessionService) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.isLoading {
		// An in-flight call will still run to completion; its artifact
		// patch will miss (by-id lookup) and that is fine.
		s.log.Warn("Session reset while an operation is in flight")
	}
	s.params = types.SessionParams{}
	s.history = nil
	s.historyIndex = 0
	s.searchResults = nil
	s.loadingFacts = nil
	s.lastError = nil
}

func (s *SessionService) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	history := make([]types.Artifact, len(s.history))
	copy(history, s.history)
	return Snapshot{
		Params:        s.params,
		IsLoading:     s.isLoading,
		LoadingStage:  s.stage,
		LoadingFacts:  append([]string(nil), s.loadingFacts...),
		Error:         s.lastError,
		History:       history,
		HistoryIndex:  s.historyIndex,
		SearchResults: append([]types.SearchResult(nil), s.searchResults...),
	}
}

// currentArtifact returns a copy of the artifact at the history pointer.
func (s *SessionService) currentArtifact() (types.Artifact, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.history) == 0 {
		return types.Artifact{}, ErrEmptyHistory
	}
	return s.history[s.historyIndex], nil
}

// ArtifactByID returns a copy of the named artifact from history. With a nil
// id it returns the artifact at the history pointer.
func (s *SessionService) ArtifactByID(id *uuid.UUID) (*types.Artifact, error) {
	if id == nil {
		current, err := s.currentArtifact()
		if err != nil {
			return nil, err
		}
		return &current, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.history {
		if s.history[i].ID == *id {
			copied := s.history[i]
			return &copied, nil
		}
	}
	return nil, fmt.Errorf("artifact %s not in session history", id)
}

// updateArtifact patches an artifact in place by id, preserving its position
// in history. Returns nil when the id is gone (session reset meanwhile).
func (s *SessionService) updateArtifact(id uuid.UUID, patch func(*types.Artifact)) *types.Artifact {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.history {
		if s.history[i].ID == id {
			patch(&s.history[i])
			copied := s.history[i]
			return &copied
		}
	}
	return nil
}
