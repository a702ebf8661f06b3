package services

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"image"
	"image/color"
	"image/png"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/kestrelworks/infograph-backend/internal/apierr"
	"github.com/kestrelworks/infograph-backend/internal/repos"
	"github.com/kestrelworks/infograph-backend/internal/types"
)

// base64 PNG of the given size, the shape artifacts carry image payloads in.
func encodedPNG(t *testing.T, w, h int) string {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	img.Set(0, 0, color.RGBA{R: 255, A: 255})
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode png: %v", err)
	}
	return base64.StdEncoding.EncodeToString(buf.Bytes())
}

func newTestLibrary(t *testing.T) (*LibraryService, repos.ArtifactRepo) {
	t.Helper()
	log := mustTestLogger(t)
	gdb, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "test.db")), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := gdb.AutoMigrate(&types.SavedArtifact{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	repo := repos.NewArtifactRepo(gdb, log)
	return NewLibraryService(gdb, log, repo, NewMediaToolsService(log), &recordingHub{}), repo
}

func TestLibrarySaveRecordsImageDimensions(t *testing.T) {
	library, repo := newTestLibrary(t)

	artifact := &types.Artifact{
		ID:            uuid.New(),
		ImageData:     encodedPNG(t, 48, 32),
		MimeType:      "image/png",
		OriginalTopic: "Photosynthesis",
		Timestamp:     time.Now().UTC(),
	}
	saved, err := library.Save(context.Background(), artifact)
	if err != nil {
		t.Fatalf("Save: %v", err)
	}
	if saved.ImageWidth != 48 || saved.ImageHeight != 32 || saved.ImageFormat != "png" {
		t.Fatalf("probed dimensions: got %dx%d %q", saved.ImageWidth, saved.ImageHeight, saved.ImageFormat)
	}

	stored, err := repo.GetByID(context.Background(), nil, artifact.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if stored.ImageWidth != 48 || stored.ImageHeight != 32 {
		t.Fatalf("dimensions not persisted: got %dx%d", stored.ImageWidth, stored.ImageHeight)
	}
}

func TestLibrarySaveSurvivesUnprobeableImage(t *testing.T) {
	library, _ := newTestLibrary(t)

	artifact := &types.Artifact{
		ID:        uuid.New(),
		ImageData: "bm90IGFuIGltYWdl",
		MimeType:  "image/png",
		Timestamp: time.Now().UTC(),
	}
	saved, err := library.Save(context.Background(), artifact)
	if err != nil {
		t.Fatalf("Save must not fail on an unprobeable payload: %v", err)
	}
	if saved.ImageWidth != 0 || saved.ImageFormat != "" {
		t.Fatalf("unprobeable payload must leave dimensions empty, got %dx%d %q", saved.ImageWidth, saved.ImageHeight, saved.ImageFormat)
	}
}

func TestLibraryUnavailableStore(t *testing.T) {
	library := NewLibraryService(nil, mustTestLogger(t), nil, nil, nil)

	_, err := library.GetAll(context.Background())
	var apiErr *apierr.Error
	if !errors.As(err, &apiErr) || apiErr.Code != apierr.CodeStoreUnavailable {
		t.Fatalf("want store_unavailable, got %v", err)
	}
}

func TestProbeImage(t *testing.T) {
	tools := NewMediaToolsService(mustTestLogger(t))

	info, err := tools.ProbeImage(encodedPNG(t, 10, 7))
	if err != nil {
		t.Fatalf("ProbeImage: %v", err)
	}
	if info.Width != 10 || info.Height != 7 || info.Format != "png" {
		t.Fatalf("probe: got %+v", info)
	}

	if _, err := tools.ProbeImage("%%%not-base64%%%"); err == nil {
		t.Fatalf("bad base64 must error")
	}
	if _, err := tools.ProbeImage(base64.StdEncoding.EncodeToString([]byte("plain text"))); err == nil {
		t.Fatalf("non-image bytes must error")
	}
}
