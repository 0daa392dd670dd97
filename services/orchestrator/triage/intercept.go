// Package triage implements the domain logic between the inference
// gateway and the HTTP layer: the JSON-boundary stream interceptor, the
// tolerant payload extractor, and the per-session state machine.
package triage

import "strings"

// StreamInterceptor splits a single backend stream into a live prose
// feed and a buffered structured tail.
//
// The backends are prompted to eventually emit a JSON payload embedded
// in their output. Callers must see natural-language prose as it
// streams, but never partial or complete JSON syntax. Everything from
// the first '{' onward is suppressed and only available in the full
// buffer once the stream ends.
//
// Not safe for concurrent use; one interceptor serves one stream.
type StreamInterceptor struct {
	forward    func(fragment string) error
	buf        strings.Builder
	suppressed bool
}

// NewStreamInterceptor creates an interceptor forwarding live prose to
// the given callback. A nil callback buffers without forwarding, which
// is how the non-streaming endpoint reuses this type.
func NewStreamInterceptor(forward func(fragment string) error) *StreamInterceptor {
	if forward == nil {
		forward = func(string) error { return nil }
	}
	return &StreamInterceptor{forward: forward}
}

// Write consumes one fragment. The boundary is character-level: when the
// first '{' lands mid-fragment, the prefix before it is forwarded and
// the rest suppressed, without ever re-emitting bytes forwarded from
// earlier fragments.
func (s *StreamInterceptor) Write(fragment string) error {
	forwardedLen := s.buf.Len()
	s.buf.WriteString(fragment)

	if s.suppressed {
		return nil
	}

	full := s.buf.String()
	if idx := strings.IndexByte(full, '{'); idx >= 0 {
		s.suppressed = true
		if idx > forwardedLen {
			return s.forward(full[forwardedLen:idx])
		}
		return nil
	}
	return s.forward(fragment)
}

// Suppressed reports whether the structured tail has started.
func (s *StreamInterceptor) Suppressed() bool {
	return s.suppressed
}

// Full returns the complete accumulated text, prose and structured tail
// alike. Valid at any point; final once the stream has ended.
func (s *StreamInterceptor) Full() string {
	return s.buf.String()
}
