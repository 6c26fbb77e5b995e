// Package config loads host configuration and manages per-plugin settings.
//
// Host configuration comes from an optional YAML file with environment
// variables layered on top (GANTRY_ prefix, env wins). Per-plugin settings
// are JSON documents seeded from each manifest's config schema defaults and
// accessed by dot path.
package config
