package services

import (
	"fmt"
	"strings"

	"github.com/kestrelworks/infograph-backend/internal/config"
	"github.com/kestrelworks/infograph-backend/internal/types"
)

// PromptService builds the instruction text for every gateway operation from
// the configured level/style tables.
type PromptService struct {
	cfg *config.Config
}

func NewPromptService(cfg *config.Config) *PromptService {
	return &PromptService{cfg: cfg}
}

func (p *PromptService) ResearchPrompt(topic, level, style, language string, loc *types.Location) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Research the topic %q using web search and gather accurate, current information.\n", topic)
	if loc != nil {
		fmt.Fprintf(&b, "The reader is located near latitude %.4f, longitude %.4f; prefer locally relevant sources and examples.\n", loc.Latitude, loc.Longitude)
	}
	if language != "" {
		fmt.Fprintf(&b, "Write all output in %s.\n", language)
	}
	b.WriteString("\nRespond with exactly two labeled sections:\n")
	fmt.Fprintf(&b, "FACTS: a bulleted list of at most %d short, verifiable facts about the topic.\n", p.cfg.MaxFacts)
	b.WriteString("IMAGE_PROMPT: a single detailed instruction for generating an infographic image about the topic.\n\n")
	fmt.Fprintf(&b, "The image prompt must ask for an infographic. %s %s\n",
		p.cfg.LevelInstruction(level), p.cfg.StyleInstruction(style))
	return b.String()
}

// FallbackImagePrompt is the deterministic substitute used when the research
// response has no IMAGE_PROMPT section.
func (p *PromptService) FallbackImagePrompt(topic, level, style string) string {
	return fmt.Sprintf("An educational infographic about %q. %s %s",
		topic, p.cfg.LevelInstruction(level), p.cfg.StyleInstruction(style))
}

func (p *PromptService) VerifyPrompt(facts []string) string {
	var b strings.Builder
	b.WriteString("You are a strict fact checker. Compare this infographic image against the following researched facts and judge its factual accuracy.\n\nFACTS:\n")
	for _, f := range facts {
		fmt.Fprintf(&b, "- %s\n", f)
	}
	b.WriteString("\nRespond as JSON with fields: score (0-100 integer), isAccurate (boolean, true only if score >= 70), critique (short paragraph), suggestedFix (one edit instruction, optional).")
	return b.String()
}

// GenericFact backs degraded-verification mode for artifacts that carry no
// researched facts.
func (p *PromptService) GenericFact(prompt string) string {
	return fmt.Sprintf("The infographic should accurately represent: %s", prompt)
}

func (p *PromptService) NarrationPrompt(topic string, facts []string, language string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Read aloud a short, engaging narration summarizing an infographic about %q.", topic)
	if language != "" {
		fmt.Fprintf(&b, " Speak in %s.", language)
	}
	if len(facts) > 0 {
		b.WriteString(" Cover these facts:\n")
		for _, f := range facts {
			fmt.Fprintf(&b, "- %s\n", f)
		}
	}
	return b.String()
}

// DiscussionInstruction frames the live voice dialogue around the current
// infographic so the model answers about what the user is looking at.
func (p *PromptService) DiscussionInstruction(topic string, facts []string, language string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "You are discussing an infographic about %q with the person viewing it. Answer their spoken questions conversationally and briefly, grounding every answer in the infographic.", topic)
	if language != "" {
		fmt.Fprintf(&b, " Speak in %s.", language)
	}
	if len(facts) > 0 {
		b.WriteString(" The infographic presents these facts:\n")
		for _, f := range facts {
			fmt.Fprintf(&b, "- %s\n", f)
		}
	}
	return b.String()
}

func (p *PromptService) VideoPrompt(topic string) string {
	return fmt.Sprintf("Animate this infographic about %q: add gentle motion to its elements, a slow camera drift across the layout, and subtle highlights drawing attention to each section in turn.", topic)
}
