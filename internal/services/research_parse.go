package services

import (
	"regexp"
	"strings"

	"github.com/kestrelworks/infograph-backend/internal/types"
)

// The upstream model's structured-output contract is best-effort: labels may
// arrive wrapped in markdown emphasis, in any case, with varying bullet
// characters. Parsing here is tolerant and never fails; a missing section
// degrades to an empty fact list or a caller-supplied fallback prompt.

var (
	factsLabelRe  = regexp.MustCompile(`(?i)[*_]{0,2}facts[*_]{0,2}\s*:`)
	promptLabelRe = regexp.MustCompile(`(?i)[*_]{0,2}image[\s_-]?prompt[*_]{0,2}\s*:`)
	bulletRe      = regexp.MustCompile(`^\s*(?:[-*•]|\d+[.)])\s*`)
)

// parseResearchText splits the raw research response into a fact list and an
// image prompt. maxFacts caps the fact list; an empty returned prompt means
// the IMAGE_PROMPT section was absent.
func parseResearchText(raw string, maxFacts int) (facts []string, imagePrompt string) {
	facts = []string{}

	promptLoc := promptLabelRe.FindStringIndex(raw)
	factsLoc := factsLabelRe.FindStringIndex(raw)

	if promptLoc != nil {
		promptBody := raw[promptLoc[1]:]
		if factsLoc != nil && factsLoc[0] > promptLoc[1] {
			promptBody = raw[promptLoc[1]:factsLoc[0]]
		}
		imagePrompt = strings.Trim(strings.TrimSpace(promptBody), "*_ \n")
	}

	if factsLoc == nil {
		return facts, imagePrompt
	}

	factsBody := raw[factsLoc[1]:]
	if promptLoc != nil && promptLoc[0] > factsLoc[1] {
		factsBody = raw[factsLoc[1]:promptLoc[0]]
	}

	for _, line := range strings.Split(factsBody, "\n") {
		trimmed := strings.TrimSpace(line)
		if !bulletRe.MatchString(trimmed) {
			continue
		}
		fact := strings.TrimSpace(bulletRe.ReplaceAllString(trimmed, ""))
		fact = strings.Trim(fact, "*_")
		if fact == "" {
			continue
		}
		facts = append(facts, fact)
		if len(facts) == maxFacts {
			break
		}
	}
	return facts, imagePrompt
}

// dedupeSearchResults collapses grounding sources by URL. Position follows the
// first occurrence; the entry itself is the last one encountered for that URL.
func dedupeSearchResults(in []types.SearchResult) []types.SearchResult {
	out := make([]types.SearchResult, 0, len(in))
	index := make(map[string]int, len(in))
	for _, r := range in {
		if r.URL == "" {
			continue
		}
		if i, ok := index[r.URL]; ok {
			out[i] = r
			continue
		}
		index[r.URL] = len(out)
		out = append(out, r)
	}
	return out
}
