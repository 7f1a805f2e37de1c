package observer

import (
	"strings"

	"github.com/akolesov/promptdeck/internal/domain"
)

// completionPhrases match any provider's research-done notification.
var completionPhrases = []string{
	"research complete",
	"research finished",
	"researching your question",
}

// claudePhrases are looser terms accepted only for claude, whose
// notifications omit the word "research".
var claudePhrases = []string{
	"complete",
	"finished",
}

// IsResearchComplete reports whether a host notification signals that a
// long-running research task finished. Pure string matching on the
// lower-cased title and body; no surface access.
func IsResearchComplete(title, body string, provider domain.Provider) bool {
	text := strings.ToLower(title) + " " + strings.ToLower(body)

	for _, phrase := range completionPhrases {
		if strings.Contains(text, phrase) {
			return true
		}
	}
	if provider == domain.ProviderClaude {
		for _, phrase := range claudePhrases {
			if strings.Contains(text, phrase) {
				return true
			}
		}
	}
	return false
}
