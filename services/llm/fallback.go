package llm

import (
	"context"
	"log/slog"
	"time"

	"github.com/medgpt-dev/medgpt/services/orchestrator/datatypes"
	"github.com/medgpt-dev/medgpt/services/orchestrator/observability"
)

// FallbackApology is the single terminal fragment forwarded when the
// secondary backend fails too. There is nothing left to fall back to.
const FallbackApology = "I'm having trouble connecting to my local backup. Please try again."

// FallbackStreamer composes the two backend clients and the quota
// breaker into one unified stream with mid-stream failover.
//
// Prose already forwarded from the primary before a sentinel appears is
// never retracted; the secondary resumes the output stream rather than
// replacing it. The caller keeps whatever perceived-latency gain the
// primary delivered before it failed.
type FallbackStreamer struct {
	primary   StreamClient
	secondary StreamClient
	breaker   *QuotaBreaker
	now       func() time.Time
}

// NewFallbackStreamer wires the orchestrator together. The breaker is
// shared process-wide; pass the same instance to every streamer.
func NewFallbackStreamer(primary, secondary StreamClient, breaker *QuotaBreaker) *FallbackStreamer {
	return &FallbackStreamer{
		primary:   primary,
		secondary: secondary,
		breaker:   breaker,
		now:       time.Now,
	}
}

// GetStream drives one turn through the backends and forwards text
// fragments to cb. Sentinel fragments are consumed here and never reach
// the caller.
//
// A primary hard failure does not trip the breaker; transient network
// errors should not block a healthy-quota backend. Only the explicit
// quota sentinel does. This asymmetry is intentional.
func (f *FallbackStreamer) GetStream(ctx context.Context, history []datatypes.Turn,
	userMessage string, opts StreamOptions, cb StreamCallback) error {

	messages := append(datatypes.CloneHistory(history), datatypes.Turn{
		Role:    datatypes.RoleUser,
		Content: userMessage,
	})

	// Sentinels are terminal in every client path, so capturing the
	// last one seen is enough; text fragments pass straight through.
	var sentinel string
	filter := func(fragment string) error {
		if IsSentinel(fragment) {
			sentinel = fragment
			return nil
		}
		return cb(fragment)
	}

	if f.breaker.Allow(f.now()) {
		if err := f.primary.ChatStream(ctx, messages, opts, filter); err != nil {
			return err
		}
		switch sentinel {
		case "":
			return nil
		case SentinelQuotaExceeded:
			f.breaker.Trip(f.now())
			slog.Warn("Gemini quota exhausted, disabling primary",
				"disabled_until", f.breaker.DisabledUntil())
			if m := observability.DefaultMetrics; m != nil {
				m.RecordBreakerOpen()
				m.RecordFallback("quota")
			}
		default:
			slog.Warn("Gemini stream failed, falling back to Ollama")
			if m := observability.DefaultMetrics; m != nil {
				m.RecordFallback("failure")
			}
		}
	} else {
		slog.Debug("Primary backend disabled by circuit breaker, using Ollama",
			"disabled_until", f.breaker.DisabledUntil())
		if m := observability.DefaultMetrics; m != nil {
			m.RecordFallback("breaker_open")
		}
	}

	sentinel = ""
	if err := f.secondary.ChatStream(ctx, messages, opts, filter); err != nil {
		return err
	}
	if sentinel != "" {
		slog.Error("Ollama fallback failed, no backends available")
		if m := observability.DefaultMetrics; m != nil {
			m.RecordFallback("exhausted")
		}
		return cb(FallbackApology)
	}
	return nil
}
