package orchestrator

import (
	"encoding/json"
	"regexp"
	"strings"
)

// Verdict is the outcome the verify step reports.
type Verdict string

const (
	// VerdictPassed means the phase met its requirements.
	VerdictPassed Verdict = "passed"
	// VerdictGapsFound means unmet requirements remain and the phase should
	// re-plan and re-execute.
	VerdictGapsFound Verdict = "gaps_found"
	// VerdictHumanNeeded means the agent cannot resolve the situation alone.
	VerdictHumanNeeded Verdict = "human_needed"
)

var (
	fencedJSONRe = regexp.MustCompile("(?s)```(?:json)?\\s*(\\{.*?\\})\\s*```")
	verdictTagRe = regexp.MustCompile(`(?s)<verdict>\s*(.*?)\s*</verdict>`)
)

// ParseVerdict extracts the verify verdict from the agent's result text.
// It tries, in order: a fenced JSON block carrying a "verdict" field, a
// <verdict> tag, and a bare keyword scan. Anything unrecognized falls back
// to human_needed — the agent's prompt templates are a contract, and when
// the contract is broken a human decides.
func ParseVerdict(text string) Verdict {
	for _, m := range fencedJSONRe.FindAllStringSubmatch(text, -1) {
		var doc struct {
			Verdict string `json:"verdict"`
		}
		if err := json.Unmarshal([]byte(m[1]), &doc); err == nil && doc.Verdict != "" {
			if v, ok := normalizeVerdict(doc.Verdict); ok {
				return v
			}
			return VerdictHumanNeeded
		}
	}

	if m := verdictTagRe.FindStringSubmatch(text); m != nil {
		if v, ok := normalizeVerdict(m[1]); ok {
			return v
		}
		return VerdictHumanNeeded
	}

	// Keyword scan. gaps_found and human_needed are unambiguous tokens;
	// "passed" alone is accepted only when neither appears.
	lower := strings.ToLower(text)
	switch {
	case strings.Contains(lower, string(VerdictHumanNeeded)):
		return VerdictHumanNeeded
	case strings.Contains(lower, string(VerdictGapsFound)):
		return VerdictGapsFound
	case strings.Contains(lower, string(VerdictPassed)):
		return VerdictPassed
	default:
		return VerdictHumanNeeded
	}
}

func normalizeVerdict(s string) (Verdict, bool) {
	switch Verdict(strings.ToLower(strings.TrimSpace(s))) {
	case VerdictPassed:
		return VerdictPassed, true
	case VerdictGapsFound:
		return VerdictGapsFound, true
	case VerdictHumanNeeded:
		return VerdictHumanNeeded, true
	default:
		return "", false
	}
}
