package services

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"cloud.google.com/go/storage"
	"google.golang.org/api/option"

	"github.com/kestrelworks/infograph-backend/internal/logger"
	"github.com/kestrelworks/infograph-backend/internal/utils"
)

// MediaStore mirrors generated media so artifact links survive upstream link
// expiry. Video is fetched from the upstream download link; narration PCM is
// wrapped in a WAV header so the stored object plays anywhere.
type MediaStore interface {
	MirrorVideo(ctx context.Context, key string, srcURI string) (string, error)
	MirrorNarration(ctx context.Context, key string, pcm []byte, sampleRate int) (string, error)
}

// NewMediaStore returns a GCS-backed store when GCS_BUCKET_NAME is set and the
// client can be built, otherwise a local-directory store. It never fails:
// the local fallback always works.
func NewMediaStore(log *logger.Logger, creds CredentialSource) MediaStore {
	serviceLog := log.With("service", "MediaStore")
	if creds == nil {
		creds = EnvCredentialSource
	}

	bucket := os.Getenv("GCS_BUCKET_NAME")
	if bucket != "" {
		var (
			client *storage.Client
			err    error
		)
		ctx := context.Background()
		if saPath := os.Getenv("GOOGLE_APPLICATION_CREDENTIALS"); saPath != "" {
			client, err = storage.NewClient(ctx, option.WithCredentialsFile(saPath), option.WithScopes(storage.ScopeReadWrite))
		} else {
			client, err = storage.NewClient(ctx, option.WithScopes(storage.ScopeReadWrite))
		}
		if err == nil {
			serviceLog.Info("Using GCS media store", "bucket", bucket)
			return &gcsMediaStore{
				log:        serviceLog,
				client:     client,
				bucketName: bucket,
				creds:      creds,
				httpClient: &http.Client{Timeout: 5 * time.Minute},
			}
		}
		serviceLog.Warn("GCS media store init failed, falling back to local dir", "error", err)
	}

	dir := utils.GetEnv("MEDIA_DIR", "media", log)
	serviceLog.Info("Using local media store", "dir", dir)
	return &localMediaStore{
		log:        serviceLog,
		dir:        dir,
		creds:      creds,
		httpClient: &http.Client{Timeout: 5 * time.Minute},
	}
}

// fetchUpstream downloads a generated video. The download link requires the
// same credential as the generation call.
func fetchUpstream(ctx context.Context, httpClient *http.Client, creds CredentialSource, srcURI string) ([]byte, error) {
	key, err := creds()
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srcURI, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("x-goog-api-key", key)
	resp, err := httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("video download http %d", resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}

// wavFromPCM wraps 16-bit mono PCM in a minimal RIFF header.
func wavFromPCM(pcm []byte, sampleRate int) []byte {
	var buf bytes.Buffer
	dataLen := uint32(len(pcm))
	byteRate := uint32(sampleRate * 2)

	buf.WriteString("RIFF")
	_ = binary.Write(&buf, binary.LittleEndian, 36+dataLen)
	buf.WriteString("WAVEfmt ")
	_ = binary.Write(&buf, binary.LittleEndian, uint32(16))
	_ = binary.Write(&buf, binary.LittleEndian, uint16(1)) // PCM
	_ = binary.Write(&buf, binary.LittleEndian, uint16(1)) // mono
	_ = binary.Write(&buf, binary.LittleEndian, uint32(sampleRate))
	_ = binary.Write(&buf, binary.LittleEndian, byteRate)
	_ = binary.Write(&buf, binary.LittleEndian, uint16(2))  // block align
	_ = binary.Write(&buf, binary.LittleEndian, uint16(16)) // bits per sample
	buf.WriteString("data")
	_ = binary.Write(&buf, binary.LittleEndian, dataLen)
	buf.Write(pcm)
	return buf.Bytes()
}

// ---- GCS ----

type gcsMediaStore struct {
	log        *logger.Logger
	client     *storage.Client
	bucketName string
	creds      CredentialSource
	httpClient *http.Client
}

func (s *gcsMediaStore) upload(ctx context.Context, key string, data []byte, contentType string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Minute)
	defer cancel()
	w := s.client.Bucket(s.bucketName).Object(key).NewWriter(ctx)
	w.ContentType = contentType
	if _, err := w.Write(data); err != nil {
		_ = w.Close()
		return "", fmt.Errorf("write to GCS: %w", err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("close GCS writer: %w", err)
	}
	return fmt.Sprintf("https://storage.googleapis.com/%s/%s", s.bucketName, key), nil
}

func (s *gcsMediaStore) MirrorVideo(ctx context.Context, key string, srcURI string) (string, error) {
	data, err := fetchUpstream(ctx, s.httpClient, s.creds, srcURI)
	if err != nil {
		return "", fmt.Errorf("fetch video: %w", err)
	}
	return s.upload(ctx, key+".mp4", data, "video/mp4")
}

func (s *gcsMediaStore) MirrorNarration(ctx context.Context, key string, pcm []byte, sampleRate int) (string, error) {
	return s.upload(ctx, key+".wav", wavFromPCM(pcm, sampleRate), "audio/wav")
}

// ---- Local directory ----

type localMediaStore struct {
	log        *logger.Logger
	dir        string
	creds      CredentialSource
	httpClient *http.Client
}

func (s *localMediaStore) write(key string, data []byte) (string, error) {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return "", fmt.Errorf("create media dir: %w", err)
	}
	path := filepath.Join(s.dir, key)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("write media file: %w", err)
	}
	return "/media/" + key, nil
}

func (s *localMediaStore) MirrorVideo(ctx context.Context, key string, srcURI string) (string, error) {
	data, err := fetchUpstream(ctx, s.httpClient, s.creds, srcURI)
	if err != nil {
		return "", fmt.Errorf("fetch video: %w", err)
	}
	return s.write(key+".mp4", data)
}

func (s *localMediaStore) MirrorNarration(ctx context.Context, key string, pcm []byte, sampleRate int) (string, error) {
	return s.write(key+".wav", wavFromPCM(pcm, sampleRate))
}
