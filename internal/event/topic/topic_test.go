package topic

import "testing"

func TestTopic_IsValid(t *testing.T) {
	tests := []struct {
		name  string
		topic Topic
		want  bool
	}{
		{"simple", "system", true},
		{"nested", "plugin.markdown.enabled", true},
		{"empty", "", false},
		{"leading separator", ".system", false},
		{"trailing separator", "system.", false},
		{"double separator", "a..b", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.topic.IsValid(); got != tt.want {
				t.Errorf("IsValid(%q) = %v, want %v", tt.topic, got, tt.want)
			}
		})
	}
}

func TestTopic_Matches(t *testing.T) {
	tests := []struct {
		name    string
		topic   Topic
		pattern Topic
		want    bool
	}{
		{"exact match", "plugin.enabled", "plugin.enabled", true},
		{"exact mismatch", "plugin.enabled", "plugin.disabled", false},
		{"single wildcard", "plugin.markdown", "plugin.*", true},
		{"single wildcard too deep", "plugin.markdown.enabled", "plugin.*", false},
		{"multi wildcard deep", "plugin.markdown.enabled", "plugin.**", true},
		{"multi wildcard zero segments", "plugin", "plugin.**", true},
		{"prefix wildcard", "config.changed", "*.changed", true},
		{"middle wildcard", "plugin.markdown.enabled", "plugin.*.enabled", true},
		{"multi everything", "a.b.c.d", "**", true},
		{"no partial segment match", "pluginx.enabled", "plugin.*", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.topic.Matches(tt.pattern); got != tt.want {
				t.Errorf("Matches(%q, %q) = %v, want %v", tt.topic, tt.pattern, got, tt.want)
			}
		})
	}
}

func TestTopic_RootBase(t *testing.T) {
	tp := Topic("plugin.markdown.enabled")
	if tp.Root() != "plugin" {
		t.Errorf("Root() = %q, want %q", tp.Root(), "plugin")
	}
	if tp.Base() != "enabled" {
		t.Errorf("Base() = %q, want %q", tp.Base(), "enabled")
	}
}

func TestTopic_HasPrefix(t *testing.T) {
	tp := Topic("plugin.markdown.enabled")
	if !tp.HasPrefix("plugin.markdown") {
		t.Error("expected prefix match on segment boundary")
	}
	if Topic("pluginx.enabled").HasPrefix("plugin") {
		t.Error("prefix must respect segment boundaries")
	}
}

func TestMatcher_Match(t *testing.T) {
	m := NewMatcher()
	m.Add("plugin.*")
	m.Add("plugin.markdown")
	m.Add("system.**")

	got := m.Match("plugin.markdown")
	if len(got) != 2 {
		t.Fatalf("expected 2 matching patterns, got %d: %v", len(got), got)
	}

	got = m.Match("system.startup")
	if len(got) != 1 || got[0] != "system.**" {
		t.Fatalf("expected [system.**], got %v", got)
	}

	if got := m.Match("other.topic"); len(got) != 0 {
		t.Fatalf("expected no matches, got %v", got)
	}
}

func TestMatcher_Remove(t *testing.T) {
	m := NewMatcher()
	m.Add("plugin.*")
	m.Remove("plugin.*")

	if got := m.Match("plugin.markdown"); len(got) != 0 {
		t.Fatalf("expected no matches after remove, got %v", got)
	}

	// Removing an absent pattern is a no-op.
	m.Remove("never.added")
}

func TestMatcher_MultiWildcardZeroSegments(t *testing.T) {
	m := NewMatcher()
	m.Add("plugin.**")

	if got := m.Match("plugin"); len(got) != 1 {
		t.Fatalf("expected plugin.** to match bare root, got %v", got)
	}
}
