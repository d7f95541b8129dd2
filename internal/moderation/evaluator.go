package moderation

import (
	"strings"
)

// Verdict is the policy decision for one utterance
type Verdict struct {
	Violates     bool     `json:"violates"`
	MatchedTerms []string `json:"matched_terms,omitempty"`
}

// Policy evaluates utterance text
type Policy interface {
	Evaluate(text string) Verdict
}

// Denylist is a list of banned terms matched as case-insensitive substrings
type Denylist []string

// DefaultDenylist is used when the configuration does not provide one
var DefaultDenylist = Denylist{
	"skull", "brainrot", "ratio", "mid", "based", "cringe", "cope", "seethe", "mald",
	"bozo", "touch grass", "npc", "sigma", "gyatt", "rizz", "goofy", "delulu",
	"fanum tax", "nah", "yeat", "sus", "brokie", "lowkey", "highkey", "simp", "opinion discarded",
	"zoomies", "ok boomer", "gaslight", "gatekeep", "bussin", "valid", "chad", "fumbled", "clapped",
	"vibe check", "yeet", "drip", "based af", "literally me", "edgelord", "smh", "lmfao", "oof",
	"twitter moment", "hot take", "degen", "mid af", "ratioed", "cry about it", "brain dead", "moment",
	"your mom", "chat",
}

// Evaluate implements Policy
func (d Denylist) Evaluate(text string) Verdict {
	return Evaluate(text, d)
}

// Evaluate reports every denylist term contained in text, ignoring case.
// Matched terms keep denylist order and appear once; empty terms never match.
func Evaluate(text string, denylist []string) Verdict {
	lowered := strings.ToLower(text)

	var matched []string
	seen := make(map[string]bool)
	for _, term := range denylist {
		t := strings.ToLower(strings.TrimSpace(term))
		if t == "" || seen[t] {
			continue
		}
		if strings.Contains(lowered, t) {
			seen[t] = true
			matched = append(matched, term)
		}
	}

	return Verdict{Violates: len(matched) > 0, MatchedTerms: matched}
}

// NewDenylist builds a denylist from configured terms, falling back to the default
func NewDenylist(terms []string) Denylist {
	var out Denylist
	for _, term := range terms {
		if strings.TrimSpace(term) != "" {
			out = append(out, term)
		}
	}
	if len(out) == 0 {
		return DefaultDenylist
	}
	return out
}
