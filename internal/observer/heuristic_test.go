package observer

import (
	"testing"

	"github.com/akolesov/promptdeck/internal/domain"
)

func TestIsResearchComplete(t *testing.T) {
	tests := []struct {
		name     string
		title    string
		body     string
		provider domain.Provider
		want     bool
	}{
		{
			name:     "research complete title any provider",
			title:    "Research Complete",
			body:     "",
			provider: domain.ProviderOpenAI,
			want:     true,
		},
		{
			name:     "research finished in body",
			title:    "Notification",
			body:     "Your research finished just now",
			provider: domain.ProviderGemini,
			want:     true,
		},
		{
			name:     "researching your question on claude",
			title:    "",
			body:     "Done researching your question",
			provider: domain.ProviderClaude,
			want:     true,
		},
		{
			name:     "claude accepts bare complete",
			title:    "Task complete",
			body:     "",
			provider: domain.ProviderClaude,
			want:     true,
		},
		{
			name:     "claude accepts bare finished",
			title:    "",
			body:     "finished",
			provider: domain.ProviderClaude,
			want:     true,
		},
		{
			name:     "bare complete rejected for other providers",
			title:    "Task complete",
			body:     "",
			provider: domain.ProviderOpenAI,
			want:     false,
		},
		{
			name:     "new message does not trigger",
			title:    "New message",
			body:     "",
			provider: domain.ProviderClaude,
			want:     false,
		},
		{
			name:     "unrelated notification",
			title:    "Update available",
			body:     "Restart to apply",
			provider: domain.ProviderGrok,
			want:     false,
		},
		{
			name:     "case insensitive matching",
			title:    "RESEARCH COMPLETE",
			body:     "",
			provider: domain.ProviderDeepSeek,
			want:     true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := IsResearchComplete(tt.title, tt.body, tt.provider)
			if got != tt.want {
				t.Errorf("IsResearchComplete(%q, %q, %q) = %v, want %v",
					tt.title, tt.body, tt.provider, got, tt.want)
			}
		})
	}
}
