package repos

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/kestrelworks/infograph-backend/internal/logger"
	"github.com/kestrelworks/infograph-backend/internal/types"
)

func newTestRepo(t *testing.T) ArtifactRepo {
	t.Helper()
	log, err := logger.New("development")
	if err != nil {
		t.Fatalf("logger.New: %v", err)
	}
	t.Cleanup(func() { log.Sync() })

	gdb, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "test.db")), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := gdb.AutoMigrate(&types.SavedArtifact{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return NewArtifactRepo(gdb, log)
}

func savedArtifact(id uuid.UUID) *types.SavedArtifact {
	return &types.SavedArtifact{
		ID:            id,
		ImageData:     "aW1hZ2U=",
		MimeType:      "image/png",
		Prompt:        "Photosynthesis",
		OriginalTopic: "Photosynthesis",
		Level:         "High School",
		Style:         "Minimalist",
		Timestamp:     time.Now().UTC().Truncate(time.Second),
	}
}

func TestArtifactRepoRoundTrip(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	id := uuid.New()

	if _, err := repo.Upsert(ctx, nil, savedArtifact(id)); err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	got, err := repo.GetByID(ctx, nil, id)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if got.Prompt != "Photosynthesis" || got.MimeType != "image/png" {
		t.Fatalf("round trip mismatch: %+v", got)
	}

	all, err := repo.GetAll(ctx, nil)
	if err != nil {
		t.Fatalf("GetAll: %v", err)
	}
	if len(all) != 1 {
		t.Fatalf("GetAll: want 1, got %d", len(all))
	}
}

func TestArtifactRepoUpsertReplaces(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	id := uuid.New()

	if _, err := repo.Upsert(ctx, nil, savedArtifact(id)); err != nil {
		t.Fatalf("first Upsert: %v", err)
	}

	updated := savedArtifact(id)
	updated.Prompt = "add more labels"
	updated.VideoURI = "/media/" + id.String() + ".mp4"
	if _, err := repo.Upsert(ctx, nil, updated); err != nil {
		t.Fatalf("second Upsert: %v", err)
	}

	got, err := repo.GetByID(ctx, nil, id)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if got.Prompt != "add more labels" || got.VideoURI == "" {
		t.Fatalf("upsert did not replace: %+v", got)
	}

	all, err := repo.GetAll(ctx, nil)
	if err != nil {
		t.Fatalf("GetAll: %v", err)
	}
	if len(all) != 1 {
		t.Fatalf("upsert must not duplicate rows, got %d", len(all))
	}
}

func TestArtifactRepoDelete(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	id := uuid.New()

	if _, err := repo.Upsert(ctx, nil, savedArtifact(id)); err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	if err := repo.Delete(ctx, nil, id); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := repo.GetByID(ctx, nil, id); err == nil {
		t.Fatalf("deleted artifact must not resolve")
	}

	// Deleting an absent id is not an error.
	if err := repo.Delete(ctx, nil, uuid.New()); err != nil {
		t.Fatalf("delete of missing id: %v", err)
	}
}
