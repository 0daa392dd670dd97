// Package datatypes provides data structures for the orchestrator service.
//
// This file contains the request and response types for the chat endpoints.
// Session history types live in session.go.
package datatypes

import (
	"github.com/go-playground/validator/v10"
)

// =============================================================================
// Constants for Security Compliance
// =============================================================================

const (
	// MaxMessageContentBytes is the maximum size of a single chat message.
	MaxMessageContentBytes = 32 * 1024 // 32KB

	// MaxImageBytes is the maximum size of a base64-encoded image attachment.
	MaxImageBytes = 8 * 1024 * 1024 // 8MB
)

// Urgency levels for a triage payload. Anything else is normalized to
// UrgencyLow before a response leaves the service.
const (
	UrgencyLow      = "Low"
	UrgencyModerate = "Moderate"
	UrgencyHigh     = "High"
)

// Triage stages emitted by the backends.
const (
	StageInterview = "interview"
	StageEmergency = "emergency"
	StageSummary   = "summary"
)

// ModeDefault is the triage mode assumed when the request omits one.
// ModeHospitalSearch is forced when the user is looking for care.
const (
	ModeDefault        = "quick_triage"
	ModeHospitalSearch = "hospital_search"
)

// =============================================================================
// Shared Validator Instance
// =============================================================================

// chatValidate is the validator instance for chat datatypes.
// Initialized in init() with custom validators.
var chatValidate *validator.Validate

func init() {
	chatValidate = validator.New()

	_ = chatValidate.RegisterValidation("maxbytes", validateMaxBytes)
	_ = chatValidate.RegisterValidation("maximagebytes", validateMaxImageBytes)
}

// validateMaxBytes enforces the message size cap. Byte length, not rune
// count, so oversized multi-byte payloads cannot slip through.
func validateMaxBytes(fl validator.FieldLevel) bool {
	return len(fl.Field().String()) <= MaxMessageContentBytes
}

// validateMaxImageBytes enforces the image attachment size cap.
func validateMaxImageBytes(fl validator.FieldLevel) bool {
	return len(fl.Field().String()) <= MaxImageBytes
}

// =============================================================================
// Request / Response Types
// =============================================================================

// ChatRequest is the inbound chat payload for both /chat and /chat/stream.
//
// # Fields
//
//   - Message: Required. The user's message for this turn.
//   - SessionID: Required. Conversation key; a fresh ID starts a new session.
//   - Mode: Optional triage mode. Defaults to ModeDefault.
//   - Image: Optional base64-encoded image attached to this turn.
//   - MimeType: MIME type for Image. Defaults to "image/jpeg".
type ChatRequest struct {
	Message   string `json:"message" validate:"required,maxbytes"`
	SessionID string `json:"session_id" validate:"required,max=128"`
	Mode      string `json:"mode"`
	Image     string `json:"image,omitempty" validate:"omitempty,maximagebytes"`
	MimeType  string `json:"mime_type,omitempty"`
}

// Validate checks the request against the validation rules and applies
// defaults for omitted optional fields.
func (r *ChatRequest) Validate() error {
	if r.Mode == "" {
		r.Mode = ModeDefault
	}
	if r.MimeType == "" {
		r.MimeType = "image/jpeg"
	}
	return chatValidate.Struct(r)
}

// ChatResponse is the finalized structured payload for one turn.
//
// Urgency is always one of UrgencyLow, UrgencyModerate, UrgencyHigh and
// Message is never empty; the triage extractor enforces both before a
// response is built.
type ChatResponse struct {
	Stage      string         `json:"stage"`
	Urgency    string         `json:"urgency"`
	Message    string         `json:"message"`
	Confidence float64        `json:"confidence"`
	Data       map[string]any `json:"data,omitempty"`
}

// StreamMetadata is the trailing out-of-band block on /chat/stream,
// written after the prose fragments with the MetadataMarker prefix.
type StreamMetadata struct {
	Urgency string         `json:"urgency"`
	Stage   string         `json:"stage"`
	Data    map[string]any `json:"data"`
}

// MetadataMarker prefixes the StreamMetadata trailer so clients can tell
// it apart from prose. The leading newline terminates the prose feed.
const MetadataMarker = "\nMETADATA:"

// NormalizeUrgency maps any backend-supplied urgency onto the allowed
// enum, defaulting to UrgencyLow.
func NormalizeUrgency(u string) string {
	switch u {
	case UrgencyLow, UrgencyModerate, UrgencyHigh:
		return u
	default:
		return UrgencyLow
	}
}
