package datatypes

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestChatRequest_Validate_Valid tests a minimal valid request and its
// defaults.
func TestChatRequest_Validate_Valid(t *testing.T) {
	req := ChatRequest{Message: "I feel dizzy", SessionID: "sess-1"}

	require.NoError(t, req.Validate())
	assert.Equal(t, ModeDefault, req.Mode, "mode should default to quick triage")
	assert.Equal(t, "image/jpeg", req.MimeType, "mime type should default for image uploads")
}

// TestChatRequest_Validate_RequiredFields tests the required-field
// rules.
func TestChatRequest_Validate_RequiredFields(t *testing.T) {
	assert.Error(t, (&ChatRequest{SessionID: "sess-1"}).Validate(), "message is required")
	assert.Error(t, (&ChatRequest{Message: "hello"}).Validate(), "session_id is required")
}

// TestChatRequest_Validate_MessageSizeCap tests the byte-length cap on
// messages.
func TestChatRequest_Validate_MessageSizeCap(t *testing.T) {
	atCap := ChatRequest{
		Message:   strings.Repeat("a", MaxMessageContentBytes),
		SessionID: "sess-1",
	}
	assert.NoError(t, atCap.Validate(), "message at the cap should pass")

	overCap := ChatRequest{
		Message:   strings.Repeat("a", MaxMessageContentBytes+1),
		SessionID: "sess-1",
	}
	assert.Error(t, overCap.Validate(), "message over the cap should fail")
}

// TestChatRequest_Validate_ImageSizeCap tests the image attachment cap.
func TestChatRequest_Validate_ImageSizeCap(t *testing.T) {
	ok := ChatRequest{Message: "see photo", SessionID: "s", Image: strings.Repeat("A", 1024)}
	assert.NoError(t, ok.Validate())

	huge := ChatRequest{Message: "see photo", SessionID: "s", Image: strings.Repeat("A", MaxImageBytes+1)}
	assert.Error(t, huge.Validate(), "image over the cap should fail")
}

// TestChatRequest_Validate_SessionIDLength tests the session ID bound.
func TestChatRequest_Validate_SessionIDLength(t *testing.T) {
	req := ChatRequest{Message: "hi", SessionID: strings.Repeat("x", 129)}
	assert.Error(t, req.Validate())
}

// TestNormalizeUrgency tests the urgency enum collapse.
func TestNormalizeUrgency(t *testing.T) {
	assert.Equal(t, UrgencyLow, NormalizeUrgency("Low"))
	assert.Equal(t, UrgencyModerate, NormalizeUrgency("Moderate"))
	assert.Equal(t, UrgencyHigh, NormalizeUrgency("High"))
	assert.Equal(t, UrgencyLow, NormalizeUrgency("high"), "matching is case-sensitive by design")
	assert.Equal(t, UrgencyLow, NormalizeUrgency(""))
	assert.Equal(t, UrgencyLow, NormalizeUrgency("CRITICAL"))
}

// TestCloneHistory tests copy isolation.
func TestCloneHistory(t *testing.T) {
	original := []Turn{{Role: RoleUser, Content: "hello"}}
	clone := CloneHistory(original)

	require.Len(t, clone, 1)
	clone[0].Content = "changed"
	assert.Equal(t, "hello", original[0].Content, "clone must not share backing memory")

	assert.Empty(t, CloneHistory(nil))
}
