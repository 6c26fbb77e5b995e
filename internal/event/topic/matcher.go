package topic

import "sync"

// Matcher indexes subscription patterns in a trie and answers which patterns
// match a concrete topic. It is safe for concurrent use.
type Matcher struct {
	mu   sync.RWMutex
	root *trieNode
}

type trieNode struct {
	children map[string]*trieNode
	patterns []Topic // patterns terminating at this node
}

func newTrieNode() *trieNode {
	return &trieNode{children: make(map[string]*trieNode)}
}

// NewMatcher creates an empty pattern matcher.
func NewMatcher() *Matcher {
	return &Matcher{root: newTrieNode()}
}

// Add indexes a pattern. Adding the same pattern twice is a no-op.
func (m *Matcher) Add(pattern Topic) {
	if pattern == "" {
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	node := m.root
	for _, seg := range pattern.Segments() {
		if node.children[seg] == nil {
			node.children[seg] = newTrieNode()
		}
		node = node.children[seg]
	}

	for _, p := range node.patterns {
		if p == pattern {
			return
		}
	}
	node.patterns = append(node.patterns, pattern)
}

// Remove un-indexes a pattern. Empty branches are pruned.
func (m *Matcher) Remove(pattern Topic) {
	if pattern == "" {
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	segments := pattern.Segments()
	path := make([]*trieNode, 0, len(segments)+1)
	node := m.root
	path = append(path, node)

	for _, seg := range segments {
		next := node.children[seg]
		if next == nil {
			return
		}
		node = next
		path = append(path, node)
	}

	for i, p := range node.patterns {
		if p == pattern {
			node.patterns = append(node.patterns[:i], node.patterns[i+1:]...)
			break
		}
	}

	// Prune empty branches bottom-up.
	for i := len(path) - 1; i > 0; i-- {
		n := path[i]
		if len(n.patterns) > 0 || len(n.children) > 0 {
			break
		}
		delete(path[i-1].children, segments[i-1])
	}
}

// Match returns every indexed pattern that matches the given topic.
func (m *Matcher) Match(t Topic) []Topic {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var matches []Topic
	collectMatches(m.root, t.Segments(), &matches)
	return matches
}

// collectMatches walks the trie, following exact segments and wildcards.
func collectMatches(node *trieNode, segments []string, out *[]Topic) {
	if node == nil {
		return
	}

	if len(segments) == 0 {
		*out = append(*out, node.patterns...)
		// A trailing ** also matches zero segments.
		if multi := node.children[WildcardMulti]; multi != nil {
			collectMatches(multi, nil, out)
		}
		return
	}

	seg, rest := segments[0], segments[1:]

	collectMatches(node.children[seg], rest, out)
	collectMatches(node.children[WildcardSingle], rest, out)

	if multi := node.children[WildcardMulti]; multi != nil {
		// ** consumes zero or more segments.
		for i := 0; i <= len(segments); i++ {
			collectMatches(multi, segments[i:], out)
		}
	}
}

// Clear removes all patterns.
func (m *Matcher) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.root = newTrieNode()
}
