// Package llm provides streaming clients for the two text-generation
// backends (Gemini remote, Ollama local), the quota circuit breaker, and
// the fallback orchestrator that composes them into one stream.
package llm

import (
	"context"

	"github.com/medgpt-dev/medgpt/services/orchestrator/datatypes"
)

// Sentinel fragments. A backend client never returns a transport error
// from ChatStream; it emits one of these reserved fragment values through
// the callback instead, and the fallback orchestrator reacts to them.
const (
	// SentinelQuotaExceeded signals an explicit rate-limit (HTTP 429)
	// from the primary backend. Opens the circuit breaker.
	SentinelQuotaExceeded = "ERROR: QUOTA_EXCEEDED"

	// SentinelGeminiFailed signals any other primary transport or
	// protocol failure. Triggers fallback without touching the breaker.
	SentinelGeminiFailed = "ERROR: GEMINI_FAIL"

	// SentinelOllamaFailed signals a secondary failure. There is no
	// further fallback behind it.
	SentinelOllamaFailed = "ERROR: OLLAMA_FAIL"
)

// StreamOptions carries the per-turn knobs that change how a backend
// renders the request.
type StreamOptions struct {
	// Mode selects the system prompt and, for Ollama hospital search,
	// forces JSON output format.
	Mode string

	// Image is an optional base64-encoded attachment for the most
	// recent turn. Empty means no image.
	Image string

	// MimeType describes Image (e.g. "image/png"). Only the Gemini
	// wire format carries it.
	MimeType string
}

// StreamCallback receives text fragments as a backend produces them.
// Returning a non-nil error aborts the stream; clients stop reading and
// close the connection promptly.
type StreamCallback func(fragment string) error

// StreamClient is the uniform surface over both backends.
//
// ChatStream translates messages into the provider's wire schema, decodes
// its streaming response line by line, and invokes cb once per text
// fragment. Transport failures are reported as sentinel fragments, never
// as errors; the only error ChatStream returns is one propagated from cb
// (including context cancellation surfaced through the HTTP client).
type StreamClient interface {
	ChatStream(ctx context.Context, messages []datatypes.Turn, opts StreamOptions, cb StreamCallback) error
}

// IsSentinel reports whether a fragment is one of the reserved control
// values rather than generated text.
func IsSentinel(fragment string) bool {
	switch fragment {
	case SentinelQuotaExceeded, SentinelGeminiFailed, SentinelOllamaFailed:
		return true
	default:
		return false
	}
}
