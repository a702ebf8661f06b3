package types

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// Artifact is one generated infographic state held in session history.
// ImageData is the base64 payload of the current image; Verification, VideoURI
// and AudioURI describe that exact payload and are cleared whenever an edit
// produces new image bytes.
type Artifact struct {
	ID            uuid.UUID     `json:"id"`
	ImageData     string        `json:"image_data"`
	MimeType      string        `json:"mime_type"`
	Prompt        string        `json:"prompt"`
	OriginalTopic string        `json:"original_topic"`
	Facts         []string      `json:"facts,omitempty"`
	Level         string        `json:"level"`
	Style         string        `json:"style"`
	Language      string        `json:"language"`
	Verification  *Verification `json:"verification,omitempty"`
	VideoURI      string        `json:"video_uri,omitempty"`
	AudioURI      string        `json:"audio_uri,omitempty"`
	Timestamp     time.Time     `json:"timestamp"`
}

type Verification struct {
	Score        int       `json:"score"`
	IsAccurate   bool      `json:"is_accurate"`
	Critique     string    `json:"critique"`
	SuggestedFix string    `json:"suggested_fix,omitempty"`
	Timestamp    time.Time `json:"timestamp"`
}

// SearchResult is one grounding source cited during research. IsMap marks
// map-grounded sources as opposed to web-grounded ones.
type SearchResult struct {
	Title string `json:"title"`
	URL   string `json:"url"`
	IsMap bool   `json:"is_map"`
}

// ResearchResult is ephemeral: it only exists long enough to produce an
// artifact and refresh the session's search-result display.
type ResearchResult struct {
	ImagePrompt   string         `json:"image_prompt"`
	Facts         []string       `json:"facts"`
	SearchResults []SearchResult `json:"search_results"`
}

type Location struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// SessionParams is the generation configuration in effect for the next
// Generate call.
type SessionParams struct {
	Topic    string `json:"topic"`
	Level    string `json:"level"`
	Style    string `json:"style"`
	Language string `json:"language"`
}

// SavedArtifact is the durable library row. Facts and Verification are stored
// as JSON columns so the row round-trips the full artifact without joins.
type SavedArtifact struct {
	ID            uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	ImageData     string         `gorm:"column:image_data;not null" json:"image_data"`
	MimeType      string         `gorm:"column:mime_type" json:"mime_type"`
	Prompt        string         `gorm:"column:prompt" json:"prompt"`
	OriginalTopic string         `gorm:"column:original_topic" json:"original_topic"`
	Facts         datatypes.JSON `gorm:"column:facts" json:"facts,omitempty"`
	Level         string         `gorm:"column:level" json:"level"`
	Style         string         `gorm:"column:style" json:"style"`
	Language      string         `gorm:"column:language" json:"language"`
	Verification  datatypes.JSON `gorm:"column:verification" json:"verification,omitempty"`
	VideoURI      string         `gorm:"column:video_uri" json:"video_uri,omitempty"`
	AudioURI      string         `gorm:"column:audio_uri" json:"audio_uri,omitempty"`
	ImageWidth    int            `gorm:"column:image_width" json:"image_width,omitempty"`
	ImageHeight   int            `gorm:"column:image_height" json:"image_height,omitempty"`
	ImageFormat   string         `gorm:"column:image_format" json:"image_format,omitempty"`
	ThumbnailPNG  []byte         `gorm:"column:thumbnail_png" json:"-"`
	Timestamp     time.Time      `gorm:"column:timestamp;not null" json:"timestamp"`
	CreatedAt     time.Time      `gorm:"not null" json:"created_at"`
	UpdatedAt     time.Time      `gorm:"not null" json:"updated_at"`
}

func (SavedArtifact) TableName() string {
	return "saved_artifact"
}
