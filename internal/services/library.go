package services

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/kestrelworks/infograph-backend/internal/apierr"
	"github.com/kestrelworks/infograph-backend/internal/logger"
	"github.com/kestrelworks/infograph-backend/internal/repos"
	"github.com/kestrelworks/infograph-backend/internal/sse"
	"github.com/kestrelworks/infograph-backend/internal/types"
)

// LibraryService is the saved library: the persisted subset of artifacts,
// addressed by id, independent of session lifetime.
type LibraryService struct {
	db    *gorm.DB
	log   *logger.Logger
	repo  repos.ArtifactRepo
	media MediaToolsService
	hub   sse.Broadcaster
}

func NewLibraryService(db *gorm.DB, log *logger.Logger, repo repos.ArtifactRepo, media MediaToolsService, hub sse.Broadcaster) *LibraryService {
	return &LibraryService{
		db:    db,
		log:   log.With("service", "LibraryService"),
		repo:  repo,
		media: media,
		hub:   hub,
	}
}

// available reports whether the durable store came up. Library operations
// against a backend that failed to open return store_unavailable instead of
// panicking deep in gorm.
func (ls *LibraryService) available() error {
	if ls.db == nil || ls.repo == nil {
		return apierr.New(http.StatusServiceUnavailable, apierr.CodeStoreUnavailable, fmt.Errorf("artifact store not configured"))
	}
	return nil
}

// Save upserts an artifact into the library, rendering a thumbnail as a best
// effort; a failed thumbnail never blocks the save.
func (ls *LibraryService) Save(ctx context.Context, artifact *types.Artifact) (*types.SavedArtifact, error) {
	if err := ls.available(); err != nil {
		return nil, err
	}
	saved, err := toSaved(artifact)
	if err != nil {
		return nil, err
	}

	if ls.media != nil {
		if info, pErr := ls.media.ProbeImage(artifact.ImageData); pErr != nil {
			ls.log.Warn("Image probe failed, saving without dimensions", "artifact_id", artifact.ID, "error", pErr)
		} else {
			saved.ImageWidth = info.Width
			saved.ImageHeight = info.Height
			saved.ImageFormat = info.Format
		}
		thumb, tErr := ls.media.Thumbnail(artifact.ImageData, artifact.OriginalTopic)
		if tErr != nil {
			ls.log.Warn("Thumbnail render failed, saving without", "artifact_id", artifact.ID, "error", tErr)
		} else {
			saved.ThumbnailPNG = thumb
		}
	}

	out, err := ls.repo.Upsert(ctx, nil, saved)
	if err != nil {
		return nil, fmt.Errorf("save artifact: %w", err)
	}
	ls.notify()
	return out, nil
}

func (ls *LibraryService) Delete(ctx context.Context, id uuid.UUID) error {
	if err := ls.available(); err != nil {
		return err
	}
	if err := ls.repo.Delete(ctx, nil, id); err != nil {
		return fmt.Errorf("delete artifact: %w", err)
	}
	ls.notify()
	return nil
}

func (ls *LibraryService) GetAll(ctx context.Context) ([]*types.SavedArtifact, error) {
	if err := ls.available(); err != nil {
		return nil, err
	}
	out, err := ls.repo.GetAll(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("list artifacts: %w", err)
	}
	return out, nil
}

func (ls *LibraryService) notify() {
	if ls.hub == nil {
		return
	}
	ls.hub.Broadcast(sse.SSEMessage{Channel: sse.ChannelSession, Event: sse.SSEEventLibraryChanged})
}

func toSaved(a *types.Artifact) (*types.SavedArtifact, error) {
	saved := &types.SavedArtifact{
		ID:            a.ID,
		ImageData:     a.ImageData,
		MimeType:      a.MimeType,
		Prompt:        a.Prompt,
		OriginalTopic: a.OriginalTopic,
		Level:         a.Level,
		Style:         a.Style,
		Language:      a.Language,
		VideoURI:      a.VideoURI,
		AudioURI:      a.AudioURI,
		Timestamp:     a.Timestamp,
	}
	if len(a.Facts) > 0 {
		raw, err := json.Marshal(a.Facts)
		if err != nil {
			return nil, fmt.Errorf("marshal facts: %w", err)
		}
		saved.Facts = datatypes.JSON(raw)
	}
	if a.Verification != nil {
		raw, err := json.Marshal(a.Verification)
		if err != nil {
			return nil, fmt.Errorf("marshal verification: %w", err)
		}
		saved.Verification = datatypes.JSON(raw)
	}
	return saved, nil
}
