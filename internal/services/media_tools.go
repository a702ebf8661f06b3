package services

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"image"
	_ "image/jpeg"
	"image/png"
	"os"

	"github.com/fogleman/gg"
	"github.com/golang/freetype/truetype"
	"golang.org/x/image/draw"
	"golang.org/x/image/font"
	_ "golang.org/x/image/webp"

	"github.com/kestrelworks/infograph-backend/internal/logger"
)

// MediaToolsService inspects generated image payloads and renders library
// thumbnails. It never talks to the network.
type MediaToolsService interface {
	ProbeImage(data string) (*ImageInfo, error)
	Thumbnail(data string, label string) ([]byte, error)
}

type ImageInfo struct {
	Width  int    `json:"width"`
	Height int    `json:"height"`
	Format string `json:"format"`
}

type mediaToolsService struct {
	log      *logger.Logger
	maxEdge  int
	fontFace font.Face
}

func NewMediaToolsService(log *logger.Logger) MediaToolsService {
	svc := &mediaToolsService{
		log:     log.With("service", "MediaToolsService"),
		maxEdge: 320,
	}
	// Label rendering needs a TTF; without one thumbnails are image-only.
	if path := os.Getenv("THUMBNAIL_FONT"); path != "" {
		if raw, err := os.ReadFile(path); err == nil {
			if parsed, err := truetype.Parse(raw); err == nil {
				svc.fontFace = truetype.NewFace(parsed, &truetype.Options{Size: 14})
			} else {
				svc.log.Warn("Thumbnail font unparsable, labels disabled", "path", path, "error", err)
			}
		} else {
			svc.log.Warn("Thumbnail font unreadable, labels disabled", "path", path, "error", err)
		}
	}
	return svc
}

func (s *mediaToolsService) decode(data string) (image.Image, string, error) {
	raw, err := base64.StdEncoding.DecodeString(data)
	if err != nil {
		return nil, "", fmt.Errorf("decode image payload: %w", err)
	}
	img, format, err := image.Decode(bytes.NewReader(raw))
	if err != nil {
		return nil, "", fmt.Errorf("decode image bytes: %w", err)
	}
	return img, format, nil
}

func (s *mediaToolsService) ProbeImage(data string) (*ImageInfo, error) {
	raw, err := base64.StdEncoding.DecodeString(data)
	if err != nil {
		return nil, fmt.Errorf("decode image payload: %w", err)
	}
	cfg, format, err := image.DecodeConfig(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("probe image bytes: %w", err)
	}
	return &ImageInfo{Width: cfg.Width, Height: cfg.Height, Format: format}, nil
}

// Thumbnail scales the image down to maxEdge and optionally stamps the topic
// label along the bottom.
func (s *mediaToolsService) Thumbnail(data string, label string) ([]byte, error) {
	img, _, err := s.decode(data)
	if err != nil {
		return nil, err
	}

	bounds := img.Bounds()
	w, h := bounds.Dx(), bounds.Dy()
	scale := 1.0
	if w >= h && w > s.maxEdge {
		scale = float64(s.maxEdge) / float64(w)
	} else if h > w && h > s.maxEdge {
		scale = float64(s.maxEdge) / float64(h)
	}
	tw := int(float64(w) * scale)
	th := int(float64(h) * scale)

	scaled := image.NewRGBA(image.Rect(0, 0, tw, th))
	draw.CatmullRom.Scale(scaled, scaled.Bounds(), img, bounds, draw.Over, nil)

	dc := gg.NewContext(tw, th)
	dc.DrawImage(scaled, 0, 0)

	if label != "" && s.fontFace != nil {
		dc.SetFontFace(s.fontFace)
		dc.SetRGBA(0, 0, 0, 0.55)
		dc.DrawRectangle(0, float64(th-22), float64(tw), 22)
		dc.Fill()
		dc.SetRGB(1, 1, 1)
		dc.DrawStringAnchored(label, 6, float64(th-11), 0, 0.35)
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, dc.Image()); err != nil {
		return nil, fmt.Errorf("encode thumbnail: %w", err)
	}
	return buf.Bytes(), nil
}
