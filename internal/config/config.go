package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/kestrelworks/infograph-backend/internal/logger"
)

// Config holds the static generation tables plus the handful of tunables that
// are friendlier in a file than in a dozen environment variables. Everything
// has a usable default; the file is optional.
type Config struct {
	LevelInstructions map[string]string `yaml:"level_instructions"`
	StyleInstructions map[string]string `yaml:"style_instructions"`
	MaxFacts          int               `yaml:"max_facts"`
	VideoPollSeconds  int               `yaml:"video_poll_seconds"`
}

const (
	DefaultLevel = "High School"
	DefaultStyle = "Default"
)

func defaultLevelInstructions() map[string]string {
	return map[string]string{
		"Elementary":  "Use very simple vocabulary, large friendly labels, and no more than five visual elements. Explain like the reader is ten years old.",
		"High School": "Use clear, moderately technical language appropriate for a high school student. Include key terms with short definitions.",
		"College":     "Use precise, domain-appropriate terminology and include quantitative detail where relevant.",
		"Expert":      "Use advanced technical terminology, dense information layout, and assume deep prior knowledge of the subject.",
	}
}

func defaultStyleInstructions() map[string]string {
	return map[string]string{
		"Minimalist": "Flat minimalist design, generous whitespace, a restrained two or three color palette, thin line icons.",
		"Realistic":  "Photorealistic illustrations with accurate lighting and texture, presented in a clean documentary layout.",
		"Cartoon":    "Playful cartoon style with bold outlines, bright saturated colors, and friendly characters.",
		"Vintage":    "Vintage mid-century print aesthetic, muted paper tones, halftone textures, serif typography.",
		"Futuristic": "Sleek futuristic interface aesthetic, dark background, neon accent colors, glowing data lines.",
		"3D Render":  "Soft 3D rendered objects with studio lighting, rounded geometry, and subtle shadows.",
		"Sketch":     "Hand-drawn pencil sketch aesthetic, notebook annotations, arrows and underlines in ink.",
		"Default":    "A clean, modern, visually engaging infographic layout with clear sections and labeled diagrams.",
	}
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		LevelInstructions: defaultLevelInstructions(),
		StyleInstructions: defaultStyleInstructions(),
		MaxFacts:          5,
		VideoPollSeconds:  10,
	}
}

// Load returns the defaults merged with the optional YAML file named by
// INFOGRAPH_CONFIG. A missing file is fine; an unreadable or malformed file is
// an error so a typoed deploy does not silently run on defaults.
func Load(log *logger.Logger) (*Config, error) {
	cfg := Default()

	path := os.Getenv("INFOGRAPH_CONFIG")
	if path == "" {
		return cfg, nil
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	var file Config
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}

	for k, v := range file.LevelInstructions {
		cfg.LevelInstructions[k] = v
	}
	for k, v := range file.StyleInstructions {
		cfg.StyleInstructions[k] = v
	}
	if file.MaxFacts > 0 {
		cfg.MaxFacts = file.MaxFacts
	}
	if file.VideoPollSeconds > 0 {
		cfg.VideoPollSeconds = file.VideoPollSeconds
	}
	if log != nil {
		log.Info("Loaded config overrides", "path", path)
	}
	return cfg, nil
}

// LevelInstruction maps an enumerated complexity level to its prompt fragment.
// Unknown values fall back to the High School entry.
func (c *Config) LevelInstruction(level string) string {
	if v, ok := c.LevelInstructions[level]; ok {
		return v
	}
	return c.LevelInstructions[DefaultLevel]
}

// StyleInstruction maps an enumerated visual style to its prompt fragment.
// Unknown values fall back to the Default entry.
func (c *Config) StyleInstruction(style string) string {
	if v, ok := c.StyleInstructions[style]; ok {
		return v
	}
	return c.StyleInstructions[DefaultStyle]
}
