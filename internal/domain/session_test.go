package domain

import "testing"

func TestProviderValidAndDefaults(t *testing.T) {
	for _, p := range []Provider{ProviderClaude, ProviderOpenAI, ProviderGemini, ProviderGrok, ProviderDeepSeek, ProviderCustom} {
		if !p.Valid() {
			t.Errorf("%s should be valid", p)
		}
	}
	if Provider("frontier").Valid() {
		t.Error("unknown provider should be invalid")
	}

	if got := ProviderClaude.DefaultURL(); got != "https://claude.ai" {
		t.Errorf("claude default = %s", got)
	}
	if got := ProviderCustom.DefaultURL(); got != "" {
		t.Errorf("custom providers have no default, got %s", got)
	}
}

func TestMetadataRoundTrip(t *testing.T) {
	if got := EncodeMetadata(nil); got != "{}" {
		t.Errorf("empty metadata encodes to %q", got)
	}

	m := map[string]string{"lastUrl": "https://claude.ai/chat/1", "pinned": "true"}
	decoded := DecodeMetadata(EncodeMetadata(m))
	if len(decoded) != 2 || decoded["lastUrl"] != m["lastUrl"] || decoded["pinned"] != "true" {
		t.Errorf("round trip = %v", decoded)
	}

	// Malformed blobs decode to nil, never fail the surrounding read.
	if got := DecodeMetadata("{broken"); got != nil {
		t.Errorf("malformed blob = %v", got)
	}
}

func TestMergeMetadataPreservesKeys(t *testing.T) {
	s := &Session{Metadata: map[string]string{"theme": "dark"}}
	s.MergeMetadata(MetadataKeyLastURL, "https://grok.com")

	if s.Metadata["theme"] != "dark" {
		t.Error("merge must preserve existing keys")
	}
	if s.LastURL() != "https://grok.com" {
		t.Errorf("lastUrl = %s", s.LastURL())
	}

	var empty Session
	if empty.LastURL() != "" {
		t.Error("nil metadata yields empty lastUrl")
	}
	empty.MergeMetadata("k", "v")
	if empty.Metadata["k"] != "v" {
		t.Error("merge must initialize nil metadata")
	}
}
