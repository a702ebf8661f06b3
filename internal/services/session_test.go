package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/kestrelworks/infograph-backend/internal/apierr"
	"github.com/kestrelworks/infograph-backend/internal/config"
	"github.com/kestrelworks/infograph-backend/internal/logger"
	"github.com/kestrelworks/infograph-backend/internal/sse"
	"github.com/kestrelworks/infograph-backend/internal/types"
)

func mustTestLogger(t *testing.T) *logger.Logger {
	t.Helper()
	log, err := logger.New("development")
	if err != nil {
		t.Fatalf("logger.New: %v", err)
	}
	t.Cleanup(func() { log.Sync() })
	return log
}

type fakeGateway struct {
	mu sync.Mutex

	researchFn  func(ctx context.Context, topic, level, style, language string, loc *types.Location) (*types.ResearchResult, error)
	imageFn     func(ctx context.Context, prompt string) (*ImagePayload, error)
	editFn      func(ctx context.Context, image *ImagePayload, instruction string) (*ImagePayload, error)
	verifyFn    func(ctx context.Context, image *ImagePayload, facts []string) (*types.Verification, error)
	videoFn     func(ctx context.Context, topic string, image *ImagePayload) (string, error)
	narrationFn func(ctx context.Context, topic string, facts []string, language string) (*AudioPayload, error)

	videoCalls int
}

func (f *fakeGateway) Research(ctx context.Context, topic, level, style, language string, loc *types.Location) (*types.ResearchResult, error) {
	if f.researchFn != nil {
		return f.researchFn(ctx, topic, level, style, language, loc)
	}
	return &types.ResearchResult{
		ImagePrompt: "a detailed infographic about " + topic,
		Facts:       []string{"fact one", "fact two", "fact three"},
		SearchResults: []types.SearchResult{
			{Title: "Source", URL: "https://example.com/a"},
		},
	}, nil
}

func (f *fakeGateway) SynthesizeImage(ctx context.Context, prompt string) (*ImagePayload, error) {
	if f.imageFn != nil {
		return f.imageFn(ctx, prompt)
	}
	return &ImagePayload{Data: "aW1hZ2U=", MimeType: "image/png"}, nil
}

func (f *fakeGateway) EditImage(ctx context.Context, image *ImagePayload, instruction string) (*ImagePayload, error) {
	if f.editFn != nil {
		return f.editFn(ctx, image, instruction)
	}
	return &ImagePayload{Data: "ZWRpdGVk", MimeType: "image/png"}, nil
}

func (f *fakeGateway) VerifyAccuracy(ctx context.Context, image *ImagePayload, facts []string) (*types.Verification, error) {
	if f.verifyFn != nil {
		return f.verifyFn(ctx, image, facts)
	}
	return &types.Verification{Score: 90, IsAccurate: true, Critique: "looks right", Timestamp: time.Now()}, nil
}

func (f *fakeGateway) SynthesizeVideo(ctx context.Context, topic string, image *ImagePayload) (string, error) {
	f.mu.Lock()
	f.videoCalls++
	f.mu.Unlock()
	if f.videoFn != nil {
		return f.videoFn(ctx, topic, image)
	}
	return "https://upstream.example/video.mp4", nil
}

func (f *fakeGateway) SynthesizeNarration(ctx context.Context, topic string, facts []string, language string) (*AudioPayload, error) {
	if f.narrationFn != nil {
		return f.narrationFn(ctx, topic, facts, language)
	}
	return &AudioPayload{PCM: []byte{0, 0, 1, 0}, SampleRate: 24000}, nil
}

type fakeMediaStore struct{}

func (fakeMediaStore) MirrorVideo(ctx context.Context, key string, srcURI string) (string, error) {
	return "/media/" + key + ".mp4", nil
}

func (fakeMediaStore) MirrorNarration(ctx context.Context, key string, pcm []byte, sampleRate int) (string, error) {
	return "/media/" + key + ".wav", nil
}

type recordingHub struct {
	mu     sync.Mutex
	events []sse.SSEEvent
}

func (h *recordingHub) Broadcast(msg sse.SSEMessage) {
	h.mu.Lock()
	h.events = append(h.events, msg.Event)
	h.mu.Unlock()
}

func (h *recordingHub) has(event sse.SSEEvent) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, e := range h.events {
		if e == event {
			return true
		}
	}
	return false
}

func newTestSession(t *testing.T, gw *fakeGateway) (*SessionService, *recordingHub) {
	t.Helper()
	hub := &recordingHub{}
	prompts := NewPromptService(config.Default())
	svc := NewSessionService(mustTestLogger(t), gw, prompts, fakeMediaStore{}, hub)
	return svc, hub
}

func TestGenerateBuildsArtifact(t *testing.T) {
	gw := &fakeGateway{}
	svc, hub := newTestSession(t, gw)

	artifact, err := svc.Generate(context.Background(), "Photosynthesis", "High School", "Minimalist", "", nil)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if artifact.Prompt != "Photosynthesis" {
		t.Fatalf("artifact prompt: want topic, got %q", artifact.Prompt)
	}
	if artifact.OriginalTopic != "Photosynthesis" {
		t.Fatalf("original topic: got %q", artifact.OriginalTopic)
	}
	if len(artifact.Facts) != 3 {
		t.Fatalf("facts: want 3, got %d", len(artifact.Facts))
	}
	if artifact.Verification != nil || artifact.VideoURI != "" || artifact.AudioURI != "" {
		t.Fatalf("fresh artifact should carry no derived outputs")
	}

	snap := svc.Snapshot()
	if len(snap.History) != 1 || snap.HistoryIndex != 0 {
		t.Fatalf("history: want len=1 index=0, got len=%d index=%d", len(snap.History), snap.HistoryIndex)
	}
	if snap.IsLoading || snap.LoadingStage != StageIdle {
		t.Fatalf("session should be idle after generate, got loading=%v stage=%s", snap.IsLoading, snap.LoadingStage)
	}
	if len(snap.SearchResults) != 1 {
		t.Fatalf("search results: want 1, got %d", len(snap.SearchResults))
	}
	if !hub.has(sse.SSEEventSessionFactsGathered) || !hub.has(sse.SSEEventSessionArtifactAdded) {
		t.Fatalf("expected facts-gathered and artifact-added broadcasts, got %v", hub.events)
	}
}

func TestGenerateEmptyTopic(t *testing.T) {
	svc, _ := newTestSession(t, &fakeGateway{})
	if _, err := svc.Generate(context.Background(), "", "", "", "", nil); !errors.Is(err, ErrEmptyTopic) {
		t.Fatalf("want ErrEmptyTopic, got %v", err)
	}
}

func TestGenerateRejectsConcurrentCall(t *testing.T) {
	started := make(chan struct{})
	unblock := make(chan struct{})
	gw := &fakeGateway{
		researchFn: func(ctx context.Context, topic, level, style, language string, loc *types.Location) (*types.ResearchResult, error) {
			close(started)
			<-unblock
			return &types.ResearchResult{ImagePrompt: "p"}, nil
		},
	}
	svc, _ := newTestSession(t, gw)

	done := make(chan error, 1)
	go func() {
		_, err := svc.Generate(context.Background(), "Volcanoes", "", "", "", nil)
		done <- err
	}()
	<-started

	_, err := svc.Generate(context.Background(), "Glaciers", "", "", "", nil)
	var ae *apierr.Error
	if !errors.As(err, &ae) || ae.Code != apierr.CodeBusy {
		t.Fatalf("concurrent call: want busy rejection, got %v", err)
	}

	close(unblock)
	if err := <-done; err != nil {
		t.Fatalf("first generate: %v", err)
	}

	// The rejected call must not have replaced the session parameters.
	if got := svc.Snapshot().Params.Topic; got != "Volcanoes" {
		t.Fatalf("params topic: want Volcanoes, got %q", got)
	}
}

func TestGenerateFailureLeavesHistoryUntouched(t *testing.T) {
	gw := &fakeGateway{}
	svc, hub := newTestSession(t, gw)
	if _, err := svc.Generate(context.Background(), "Photosynthesis", "", "", "", nil); err != nil {
		t.Fatalf("seed generate: %v", err)
	}

	gw.imageFn = func(ctx context.Context, prompt string) (*ImagePayload, error) {
		return nil, apierr.New(401, apierr.CodeAuthEntitlement, errors.New("API key not valid"))
	}
	_, err := svc.Generate(context.Background(), "Volcanoes", "", "", "", nil)
	var ae *apierr.Error
	if !errors.As(err, &ae) || ae.Code != apierr.CodeAuthEntitlement {
		t.Fatalf("want auth_entitlement, got %v", err)
	}

	snap := svc.Snapshot()
	if len(snap.History) != 1 {
		t.Fatalf("failed generate must not touch history, got len=%d", len(snap.History))
	}
	if snap.IsLoading || snap.LoadingStage != StageIdle {
		t.Fatalf("session stuck loading after failure: loading=%v stage=%s", snap.IsLoading, snap.LoadingStage)
	}
	if snap.Error == nil || snap.Error.Code != apierr.CodeAuthEntitlement {
		t.Fatalf("error state: want auth_entitlement, got %+v", snap.Error)
	}
	if !hub.has(sse.SSEEventSessionFailed) {
		t.Fatalf("expected a failure broadcast")
	}
}

func TestEditPrependsAndClearsDerivedOutputs(t *testing.T) {
	gw := &fakeGateway{}
	svc, _ := newTestSession(t, gw)
	if _, err := svc.Generate(context.Background(), "Photosynthesis", "High School", "Minimalist", "en", nil); err != nil {
		t.Fatalf("generate: %v", err)
	}
	if _, err := svc.Verify(context.Background()); err != nil {
		t.Fatalf("verify: %v", err)
	}
	if _, err := svc.Animate(context.Background()); err != nil {
		t.Fatalf("animate: %v", err)
	}

	before := svc.Snapshot()
	original := before.History[0]
	if original.Verification == nil || original.VideoURI == "" {
		t.Fatalf("seed artifact should carry verification and video")
	}

	edited, err := svc.Edit(context.Background(), "add labels to each stage")
	if err != nil {
		t.Fatalf("Edit: %v", err)
	}
	if edited.Prompt != "add labels to each stage" {
		t.Fatalf("edited prompt: got %q", edited.Prompt)
	}
	if edited.OriginalTopic != "Photosynthesis" {
		t.Fatalf("edit must preserve original topic, got %q", edited.OriginalTopic)
	}
	if edited.Verification != nil || edited.VideoURI != "" || edited.AudioURI != "" {
		t.Fatalf("edit must clear verification, video and audio")
	}
	if edited.ID == original.ID {
		t.Fatalf("edit must mint a new artifact id")
	}

	snap := svc.Snapshot()
	if len(snap.History) != 2 || snap.HistoryIndex != 0 {
		t.Fatalf("history: want len=2 index=0, got len=%d index=%d", len(snap.History), snap.HistoryIndex)
	}
	if snap.History[1].ID != original.ID || snap.History[1].Verification == nil {
		t.Fatalf("older entry must keep its derived outputs")
	}
}

func TestVerifyWithoutFactsSynthesizesOne(t *testing.T) {
	var gotFacts []string
	gw := &fakeGateway{
		researchFn: func(ctx context.Context, topic, level, style, language string, loc *types.Location) (*types.ResearchResult, error) {
			return &types.ResearchResult{ImagePrompt: "p"}, nil
		},
		verifyFn: func(ctx context.Context, image *ImagePayload, facts []string) (*types.Verification, error) {
			gotFacts = facts
			return &types.Verification{Score: 75, IsAccurate: true, Timestamp: time.Now()}, nil
		},
	}
	svc, _ := newTestSession(t, gw)
	if _, err := svc.Generate(context.Background(), "Photosynthesis", "", "", "", nil); err != nil {
		t.Fatalf("generate: %v", err)
	}
	before := svc.Snapshot().History[0]

	if _, err := svc.Verify(context.Background()); err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if len(gotFacts) != 1 || gotFacts[0] == "" {
		t.Fatalf("verify with no facts must send one synthesized fact, got %v", gotFacts)
	}

	after := svc.Snapshot().History[0]
	if after.ID != before.ID || !after.Timestamp.Equal(before.Timestamp) {
		t.Fatalf("verify must patch in place, not replace the artifact")
	}
	if after.Verification == nil || after.Verification.Score != 75 {
		t.Fatalf("verification not attached: %+v", after.Verification)
	}
}

func TestAnimateAtMostOnce(t *testing.T) {
	gw := &fakeGateway{}
	svc, _ := newTestSession(t, gw)
	if _, err := svc.Generate(context.Background(), "Photosynthesis", "", "", "", nil); err != nil {
		t.Fatalf("generate: %v", err)
	}

	first, err := svc.Animate(context.Background())
	if err != nil {
		t.Fatalf("Animate: %v", err)
	}
	if first == "" {
		t.Fatalf("want a video uri")
	}

	second, err := svc.Animate(context.Background())
	if err != nil {
		t.Fatalf("second Animate: %v", err)
	}
	if second != first {
		t.Fatalf("repeat animate: want same uri, got %q then %q", first, second)
	}
	if gw.videoCalls != 1 {
		t.Fatalf("video synthesis: want 1 call, got %d", gw.videoCalls)
	}
}

func TestNarrateAttachesAudio(t *testing.T) {
	gw := &fakeGateway{}
	svc, _ := newTestSession(t, gw)
	if _, err := svc.Generate(context.Background(), "Photosynthesis", "", "", "", nil); err != nil {
		t.Fatalf("generate: %v", err)
	}

	uri, err := svc.Narrate(context.Background())
	if err != nil {
		t.Fatalf("Narrate: %v", err)
	}
	if uri == "" {
		t.Fatalf("want an audio uri")
	}
	if got := svc.Snapshot().History[0].AudioURI; got != uri {
		t.Fatalf("artifact audio uri: want %q, got %q", uri, got)
	}
}

func TestSelectBounds(t *testing.T) {
	svc, _ := newTestSession(t, &fakeGateway{})
	if err := svc.Select(0); err == nil {
		t.Fatalf("select on empty history must fail")
	}
	if _, err := svc.Generate(context.Background(), "Photosynthesis", "", "", "", nil); err != nil {
		t.Fatalf("generate: %v", err)
	}
	if err := svc.Select(1); err == nil {
		t.Fatalf("out-of-range select must fail")
	}
	if err := svc.Select(0); err != nil {
		t.Fatalf("in-range select: %v", err)
	}
}

func TestVerifyOnEmptyHistory(t *testing.T) {
	svc, _ := newTestSession(t, &fakeGateway{})
	if _, err := svc.Verify(context.Background()); !errors.Is(err, ErrEmptyHistory) {
		t.Fatalf("want ErrEmptyHistory, got %v", err)
	}
	snap := svc.Snapshot()
	if snap.IsLoading {
		t.Fatalf("gate must be released after an empty-history rejection")
	}
}

func TestResetClearsEverything(t *testing.T) {
	svc, _ := newTestSession(t, &fakeGateway{})
	if _, err := svc.Generate(context.Background(), "Photosynthesis", "", "", "", nil); err != nil {
		t.Fatalf("generate: %v", err)
	}
	svc.Reset()
	snap := svc.Snapshot()
	if len(snap.History) != 0 || snap.HistoryIndex != 0 || snap.Params.Topic != "" || len(snap.SearchResults) != 0 {
		t.Fatalf("reset left state behind: %+v", snap)
	}
}

func TestGenerateClearsStaleResearch(t *testing.T) {
	gw := &fakeGateway{}
	svc, _ := newTestSession(t, gw)
	if _, err := svc.Generate(context.Background(), "Photosynthesis", "", "", "", nil); err != nil {
		t.Fatalf("generate: %v", err)
	}

	gw.researchFn = func(ctx context.Context, topic, level, style, language string, loc *types.Location) (*types.ResearchResult, error) {
		return &types.ResearchResult{
			ImagePrompt:   "p",
			Facts:         []string{"new fact"},
			SearchResults: []types.SearchResult{{Title: "B", URL: "https://example.com/b"}},
		}, nil
	}
	if _, err := svc.Generate(context.Background(), "Volcanoes", "", "", "", nil); err != nil {
		t.Fatalf("second generate: %v", err)
	}
	snap := svc.Snapshot()
	if len(snap.SearchResults) != 1 || snap.SearchResults[0].URL != "https://example.com/b" {
		t.Fatalf("search results not replaced: %+v", snap.SearchResults)
	}
}
