// Package transport is the host's admin surface: a chi HTTP API for
// lifecycle control and a websocket hub that streams every bus event to
// connected clients.
package transport
