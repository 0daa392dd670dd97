package llm

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/medgpt-dev/medgpt/services/orchestrator/datatypes"
)

// =============================================================================
// Fakes
// =============================================================================

// scriptedClient replays a fixed fragment sequence through the callback.
type scriptedClient struct {
	fragments []string
	calls     int
	gotOpts   StreamOptions
	gotMsgs   []datatypes.Turn
}

func (s *scriptedClient) ChatStream(_ context.Context, messages []datatypes.Turn,
	opts StreamOptions, cb StreamCallback) error {

	s.calls++
	s.gotOpts = opts
	s.gotMsgs = messages
	for _, f := range s.fragments {
		if err := cb(f); err != nil {
			return err
		}
	}
	return nil
}

func collectStream(t *testing.T, f *FallbackStreamer, history []datatypes.Turn, msg string) []string {
	t.Helper()
	var got []string
	err := f.GetStream(context.Background(), history, msg, StreamOptions{}, func(fragment string) error {
		got = append(got, fragment)
		return nil
	})
	if err != nil {
		t.Fatalf("GetStream returned error: %v", err)
	}
	return got
}

// =============================================================================
// Tests
// =============================================================================

// TestFallbackStreamer_PrimaryHealthy tests the happy path: the primary
// answers and the secondary is never touched.
func TestFallbackStreamer_PrimaryHealthy(t *testing.T) {
	primary := &scriptedClient{fragments: []string{"Hello", " there"}}
	secondary := &scriptedClient{fragments: []string{"unused"}}
	f := NewFallbackStreamer(primary, secondary, NewQuotaBreaker(time.Minute))

	got := collectStream(t, f, nil, "hi")

	if strings.Join(got, "") != "Hello there" {
		t.Errorf("Forwarded %q, want %q", strings.Join(got, ""), "Hello there")
	}
	if secondary.calls != 0 {
		t.Errorf("Secondary called %d times, want 0", secondary.calls)
	}
}

// TestFallbackStreamer_AppendsUserTurn tests that the user message is
// added as the final turn without mutating the caller's history.
func TestFallbackStreamer_AppendsUserTurn(t *testing.T) {
	primary := &scriptedClient{fragments: []string{"ok"}}
	f := NewFallbackStreamer(primary, &scriptedClient{}, NewQuotaBreaker(time.Minute))

	history := []datatypes.Turn{
		{Role: datatypes.RoleUser, Content: "first"},
		{Role: datatypes.RoleAssistant, Content: "reply"},
	}
	collectStream(t, f, history, "second")

	if len(primary.gotMsgs) != 3 {
		t.Fatalf("Primary saw %d messages, want 3", len(primary.gotMsgs))
	}
	last := primary.gotMsgs[2]
	if last.Role != datatypes.RoleUser || last.Content != "second" {
		t.Errorf("Final turn = %+v, want user/second", last)
	}
	if len(history) != 2 {
		t.Errorf("Caller history length changed to %d", len(history))
	}
}

// TestFallbackStreamer_MidStreamFailover tests that prose forwarded
// before a hard-failure sentinel survives and the secondary's output is
// appended after it.
func TestFallbackStreamer_MidStreamFailover(t *testing.T) {
	primary := &scriptedClient{fragments: []string{"The patient ", SentinelGeminiFailed}}
	secondary := &scriptedClient{fragments: []string{"should rest."}}
	breaker := NewQuotaBreaker(time.Minute)
	f := NewFallbackStreamer(primary, secondary, breaker)

	got := collectStream(t, f, nil, "hi")

	if strings.Join(got, "") != "The patient should rest." {
		t.Errorf("Forwarded %q, want primary prefix then secondary suffix", strings.Join(got, ""))
	}
	if !breaker.Allow(time.Now()) {
		t.Error("Hard failure must not trip the quota breaker")
	}
}

// TestFallbackStreamer_QuotaTripsBreaker tests that the quota sentinel
// opens the breaker and subsequent turns skip the primary entirely.
func TestFallbackStreamer_QuotaTripsBreaker(t *testing.T) {
	primary := &scriptedClient{fragments: []string{SentinelQuotaExceeded}}
	secondary := &scriptedClient{fragments: []string{"fallback answer"}}
	breaker := NewQuotaBreaker(300 * time.Second)
	f := NewFallbackStreamer(primary, secondary, breaker)

	got := collectStream(t, f, nil, "hi")
	if strings.Join(got, "") != "fallback answer" {
		t.Errorf("Forwarded %q, want the secondary's answer", strings.Join(got, ""))
	}
	if breaker.Allow(time.Now()) {
		t.Fatal("Quota sentinel should have tripped the breaker")
	}

	collectStream(t, f, nil, "again")
	if primary.calls != 1 {
		t.Errorf("Primary called %d times, want 1 (breaker open on second turn)", primary.calls)
	}
	if secondary.calls != 2 {
		t.Errorf("Secondary called %d times, want 2", secondary.calls)
	}
}

// TestFallbackStreamer_SentinelsNeverReachCaller tests that reserved
// control fragments are filtered out of the forwarded stream.
func TestFallbackStreamer_SentinelsNeverReachCaller(t *testing.T) {
	primary := &scriptedClient{fragments: []string{"text", SentinelQuotaExceeded}}
	secondary := &scriptedClient{fragments: []string{"more", SentinelOllamaFailed}}
	f := NewFallbackStreamer(primary, secondary, NewQuotaBreaker(time.Minute))

	got := collectStream(t, f, nil, "hi")

	for _, fragment := range got {
		if IsSentinel(fragment) {
			t.Errorf("Sentinel %q leaked to the caller", fragment)
		}
	}
}

// TestFallbackStreamer_BothBackendsFail tests the terminal apology.
func TestFallbackStreamer_BothBackendsFail(t *testing.T) {
	primary := &scriptedClient{fragments: []string{SentinelGeminiFailed}}
	secondary := &scriptedClient{fragments: []string{SentinelOllamaFailed}}
	f := NewFallbackStreamer(primary, secondary, NewQuotaBreaker(time.Minute))

	got := collectStream(t, f, nil, "hi")

	if len(got) != 1 || got[0] != FallbackApology {
		t.Errorf("Forwarded %v, want exactly the apology fragment", got)
	}
}

// TestFallbackStreamer_SecondaryFailsAfterProse tests that the apology
// still trails any prose the secondary managed to emit.
func TestFallbackStreamer_SecondaryFailsAfterProse(t *testing.T) {
	primary := &scriptedClient{fragments: []string{SentinelGeminiFailed}}
	secondary := &scriptedClient{fragments: []string{"partial ", SentinelOllamaFailed}}
	f := NewFallbackStreamer(primary, secondary, NewQuotaBreaker(time.Minute))

	got := collectStream(t, f, nil, "hi")

	if strings.Join(got, "") != "partial "+FallbackApology {
		t.Errorf("Forwarded %q, want partial prose then apology", strings.Join(got, ""))
	}
}

// TestFallbackStreamer_BreakerOpenSkipsPrimary tests routing straight to
// the secondary while the breaker is open.
func TestFallbackStreamer_BreakerOpenSkipsPrimary(t *testing.T) {
	primary := &scriptedClient{fragments: []string{"never"}}
	secondary := &scriptedClient{fragments: []string{"local answer"}}
	breaker := NewQuotaBreaker(time.Minute)
	breaker.Trip(time.Now())
	f := NewFallbackStreamer(primary, secondary, breaker)

	got := collectStream(t, f, nil, "hi")

	if primary.calls != 0 {
		t.Errorf("Primary called %d times while breaker open, want 0", primary.calls)
	}
	if strings.Join(got, "") != "local answer" {
		t.Errorf("Forwarded %q, want %q", strings.Join(got, ""), "local answer")
	}
}

// TestFallbackStreamer_CallbackErrorAborts tests that a callback error
// stops the stream without invoking the secondary.
func TestFallbackStreamer_CallbackErrorAborts(t *testing.T) {
	primary := &scriptedClient{fragments: []string{"a", "b"}}
	secondary := &scriptedClient{}
	f := NewFallbackStreamer(primary, secondary, NewQuotaBreaker(time.Minute))

	wantErr := context.Canceled
	err := f.GetStream(context.Background(), nil, "hi", StreamOptions{}, func(string) error {
		return wantErr
	})
	if err != wantErr {
		t.Fatalf("GetStream error = %v, want %v", err, wantErr)
	}
	if secondary.calls != 0 {
		t.Errorf("Secondary called after callback abort")
	}
}

// TestFallbackStreamer_PassesOptionsThrough tests that mode and image
// options reach both backends unchanged.
func TestFallbackStreamer_PassesOptionsThrough(t *testing.T) {
	primary := &scriptedClient{fragments: []string{SentinelGeminiFailed}}
	secondary := &scriptedClient{fragments: []string{"ok"}}
	f := NewFallbackStreamer(primary, secondary, NewQuotaBreaker(time.Minute))

	opts := StreamOptions{Mode: datatypes.ModeHospitalSearch, Image: "aGk=", MimeType: "image/png"}
	err := f.GetStream(context.Background(), nil, "hi", opts, func(string) error { return nil })
	if err != nil {
		t.Fatalf("GetStream returned error: %v", err)
	}

	if primary.gotOpts != opts {
		t.Errorf("Primary opts = %+v, want %+v", primary.gotOpts, opts)
	}
	if secondary.gotOpts != opts {
		t.Errorf("Secondary opts = %+v, want %+v", secondary.gotOpts, opts)
	}
}
