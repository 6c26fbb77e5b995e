// Package topic defines the dot-segmented topic keys used by the event bus
// and provides trie-based pattern matching with wildcard support.
//
// Topics are hierarchical strings such as "plugin.markdown.enabled" or
// "system.startup". Subscription patterns may contain wildcards:
//
//	plugin.*          matches plugin.markdown, plugin.linter (one segment)
//	plugin.**         matches plugin.markdown.enabled, plugin.a.b.c
//	*.changed         matches config.changed, license.changed
package topic
