package services

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	speech "cloud.google.com/go/speech/apiv1"
	speechpb "cloud.google.com/go/speech/apiv1/speechpb"
	"google.golang.org/api/option"

	"github.com/kestrelworks/infograph-backend/internal/logger"
)

// SpeechProviderService transcribes short topic clips for voice topic entry.
type SpeechProviderService interface {
	RecognizeTopic(ctx context.Context, audio []byte, mimeType string, languageCode string) (string, error)
	Close() error
}

type speechProviderService struct {
	log    *logger.Logger
	client *speech.Client
}

func NewSpeechProviderService(log *logger.Logger) (SpeechProviderService, error) {
	if log == nil {
		return nil, fmt.Errorf("logger required")
	}
	slog := log.With("service", "SpeechProviderService")

	creds := strings.TrimSpace(os.Getenv("GOOGLE_APPLICATION_CREDENTIALS"))

	ctx := context.Background()
	opts := []option.ClientOption{}
	if creds != "" {
		opts = append(opts, option.WithCredentialsFile(creds))
	}

	c, err := speech.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("speech client: %w", err)
	}

	return &speechProviderService{log: slog, client: c}, nil
}

func (s *speechProviderService) Close() error {
	if s == nil || s.client == nil {
		return nil
	}
	return s.client.Close()
}

func (s *speechProviderService) RecognizeTopic(ctx context.Context, audio []byte, mimeType string, languageCode string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	if len(audio) == 0 {
		return "", fmt.Errorf("empty audio clip")
	}
	if languageCode == "" {
		languageCode = "en-US"
	}

	encoding := speechpb.RecognitionConfig_ENCODING_UNSPECIFIED
	sampleRate := int32(0)
	switch {
	case strings.Contains(mimeType, "webm"):
		encoding = speechpb.RecognitionConfig_WEBM_OPUS
		sampleRate = 48000
	case strings.Contains(mimeType, "ogg"):
		encoding = speechpb.RecognitionConfig_OGG_OPUS
		sampleRate = 48000
	case strings.Contains(mimeType, "wav"), strings.Contains(mimeType, "l16"), strings.Contains(mimeType, "pcm"):
		encoding = speechpb.RecognitionConfig_LINEAR16
		sampleRate = 16000
	}

	resp, err := s.client.Recognize(ctx, &speechpb.RecognizeRequest{
		Config: &speechpb.RecognitionConfig{
			Encoding:                   encoding,
			SampleRateHertz:            sampleRate,
			LanguageCode:               languageCode,
			EnableAutomaticPunctuation: false,
			Model:                      "latest_short",
		},
		Audio: &speechpb.RecognitionAudio{
			AudioSource: &speechpb.RecognitionAudio_Content{Content: audio},
		},
	})
	if err != nil {
		return "", fmt.Errorf("speech recognize: %w", err)
	}

	var b strings.Builder
	for _, result := range resp.Results {
		if len(result.Alternatives) == 0 {
			continue
		}
		if b.Len() > 0 {
			b.WriteString(" ")
		}
		b.WriteString(strings.TrimSpace(result.Alternatives[0].Transcript))
	}
	topic := strings.TrimSpace(b.String())
	if topic == "" {
		return "", fmt.Errorf("no speech recognized in clip")
	}
	return topic, nil
}
