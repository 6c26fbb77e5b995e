package topic

import "strings"

// Topic is a hierarchical event channel key using dot notation.
// Examples: "system.startup", "plugin.markdown.enabled", "config.changed".
type Topic string

// Wildcard and separator constants.
const (
	// WildcardSingle matches exactly one segment.
	WildcardSingle = "*"

	// WildcardMulti matches zero or more segments.
	WildcardMulti = "**"

	// Separator separates topic segments.
	Separator = "."
)

// String returns the topic as a string.
func (t Topic) String() string {
	return string(t)
}

// Segments returns the topic split by the separator.
func (t Topic) Segments() []string {
	if t == "" {
		return nil
	}
	return strings.Split(string(t), Separator)
}

// Root returns the first segment of the topic.
//
// Example: "plugin.markdown.enabled" -> "plugin"
func (t Topic) Root() string {
	s := string(t)
	idx := strings.Index(s, Separator)
	if idx < 0 {
		return s
	}
	return s[:idx]
}

// Base returns the last segment of the topic.
//
// Example: "plugin.markdown.enabled" -> "enabled"
func (t Topic) Base() string {
	s := string(t)
	idx := strings.LastIndex(s, Separator)
	if idx < 0 {
		return s
	}
	return s[idx+1:]
}

// Child returns a child topic by appending a segment.
func (t Topic) Child(segment string) Topic {
	if t == "" {
		return Topic(segment)
	}
	return Topic(string(t) + Separator + segment)
}

// HasPrefix reports whether the topic starts with prefix on a segment
// boundary.
func (t Topic) HasPrefix(prefix Topic) bool {
	if prefix == "" {
		return true
	}
	s, p := string(t), string(prefix)
	if !strings.HasPrefix(s, p) {
		return false
	}
	return len(s) == len(p) || s[len(p)] == '.'
}

// IsPattern reports whether the topic contains wildcard segments.
func (t Topic) IsPattern() bool {
	return strings.Contains(string(t), WildcardSingle)
}

// IsValid reports whether the topic is well formed: non-empty, no leading or
// trailing separator, no empty segments.
func (t Topic) IsValid() bool {
	s := string(t)
	if s == "" {
		return false
	}
	if strings.HasPrefix(s, Separator) || strings.HasSuffix(s, Separator) {
		return false
	}
	return !strings.Contains(s, Separator+Separator)
}

// Matches reports whether this topic matches the given pattern.
// The pattern may contain "*" (exactly one segment) and "**" (zero or more
// segments). A pattern without wildcards matches only the identical topic.
func (t Topic) Matches(pattern Topic) bool {
	return matchSegments(t.Segments(), pattern.Segments())
}

// matchSegments performs recursive wildcard matching on segments.
func matchSegments(topic, pattern []string) bool {
	ti, pi := 0, 0

	for pi < len(pattern) {
		if pattern[pi] == WildcardMulti {
			// ** matches zero or more segments; try every split point.
			for ti <= len(topic) {
				if matchSegments(topic[ti:], pattern[pi+1:]) {
					return true
				}
				ti++
			}
			return false
		}

		if ti >= len(topic) {
			return false
		}

		if pattern[pi] == WildcardSingle || pattern[pi] == topic[ti] {
			ti++
			pi++
			continue
		}
		return false
	}

	return ti == len(topic)
}

// Join joins segments into a topic.
func Join(segments ...string) Topic {
	return Topic(strings.Join(segments, Separator))
}
