package triage

import (
	"strings"

	"github.com/medgpt-dev/medgpt/services/orchestrator/datatypes"
)

// EmergencyMarker is the literal stored at the head of an assistant turn
// whose payload stage was "emergency". The lock is derived by scanning
// for it, so it must survive in the stored content verbatim.
const EmergencyMarker = "STAGE: emergency"

// RefusalMessage is returned, unchanged, for every non-help-seeking
// message in a locked session.
const RefusalMessage = "⚠️ An emergency was detected in this conversation. Please seek immediate medical attention by calling emergency services or visiting the nearest hospital.\n\nIf you need to find nearby hospitals, please ask 'Find hospitals near me' or start a new chat for other questions."

// ScriptedTrigger is the literal first message that bypasses the gateway
// on a brand-new session.
const ScriptedTrigger = "can you explain this simply?"

// ScriptedReplyText is the fixed reply for ScriptedTrigger.
const ScriptedReplyText = "yes i would love to explain things in short and easily understandable way what is the thing you need explanation with?"

// helpKeywords unlock a turn in an emergency-locked session: the user is
// asking where to get care, which is the one thing we still answer.
var helpKeywords = []string{
	"hospital", "emergency", "doctor", "clinic", "medical center", "help", "where",
}

// hospitalKeywords auto-switch an unlocked session into hospital lookup.
var hospitalKeywords = []string{
	"hospital", "emergency center", "medical center", "clinic",
	"where is the nearest", "hospitals in",
}

// Decision is the outcome of running the session state machine against
// an incoming message, before any backend is called.
type Decision struct {
	// Blocked means no backend call is made, Refusal is returned, and
	// history must not grow.
	Blocked bool

	// Refusal is the fixed response for a blocked turn.
	Refusal datatypes.ChatResponse

	// Mode is the effective triage mode for this turn, after any lock
	// or keyword override.
	Mode string
}

// Decide runs the per-session state machine.
//
// A locked session only proceeds when the message seeks help, and then
// only in hospital lookup mode. An unlocked session may still be
// switched into hospital lookup by its message content. The lock itself
// never clears within a session; a fresh session identifier starts
// unlocked.
func Decide(history []datatypes.Turn, message, mode string) Decision {
	if Locked(history) {
		if !isSeekingHelp(message) {
			return Decision{
				Blocked: true,
				Refusal: datatypes.ChatResponse{
					Stage:   datatypes.StageEmergency,
					Urgency: datatypes.UrgencyHigh,
					Message: RefusalMessage,
				},
				Mode: mode,
			}
		}
		return Decision{Mode: datatypes.ModeHospitalSearch}
	}

	if mode != datatypes.ModeHospitalSearch && wantsHospitalSearch(message) {
		return Decision{Mode: datatypes.ModeHospitalSearch}
	}
	return Decision{Mode: mode}
}

// Locked reports whether the most recent assistant turn carries the
// emergency marker.
func Locked(history []datatypes.Turn) bool {
	for i := len(history) - 1; i >= 0; i-- {
		if history[i].Role == datatypes.RoleAssistant {
			return strings.Contains(history[i].Content, EmergencyMarker)
		}
	}
	return false
}

// ScriptedReply returns the fixed reply for the literal trigger phrase
// sent as the very first message of an empty-history session.
func ScriptedReply(history []datatypes.Turn, message string) (string, bool) {
	if len(history) == 0 && strings.ToLower(strings.TrimSpace(message)) == ScriptedTrigger {
		return ScriptedReplyText, true
	}
	return "", false
}

// AssistantContent renders the history entry for a finalized payload.
// Emergency turns are stored with the marker prefixed so the lock stays
// derivable from turn content alone; locked carries an existing lock
// forward, so a hospital-lookup answer in a locked session does not
// silently release it.
func AssistantContent(payload datatypes.ChatResponse, locked bool) string {
	if locked || payload.Stage == datatypes.StageEmergency {
		return EmergencyMarker + "\n" + payload.Message
	}
	return payload.Message
}

func isSeekingHelp(message string) bool {
	return containsAny(strings.ToLower(message), helpKeywords)
}

func wantsHospitalSearch(message string) bool {
	return containsAny(strings.ToLower(message), hospitalKeywords)
}

func containsAny(s string, keywords []string) bool {
	for _, kw := range keywords {
		if strings.Contains(s, kw) {
			return true
		}
	}
	return false
}
