package triage

import (
	"strings"
	"testing"

	"github.com/medgpt-dev/medgpt/services/orchestrator/datatypes"
)

func lockedHistory() []datatypes.Turn {
	return []datatypes.Turn{
		{Role: datatypes.RoleUser, Content: "my chest hurts and my arm is numb"},
		{Role: datatypes.RoleAssistant, Content: EmergencyMarker + "\nCall emergency services immediately."},
	}
}

// TestLocked_DerivedFromLastAssistantTurn tests lock detection.
func TestLocked_DerivedFromLastAssistantTurn(t *testing.T) {
	if Locked(nil) {
		t.Error("Empty history should not be locked")
	}
	if Locked([]datatypes.Turn{{Role: datatypes.RoleUser, Content: "hi"}}) {
		t.Error("History without assistant turns should not be locked")
	}
	if !Locked(lockedHistory()) {
		t.Error("History with the marker on the last assistant turn should be locked")
	}
}

// TestLocked_OnlyLastAssistantTurnCounts tests that an older emergency
// superseded by a newer assistant turn no longer locks the session.
//
// The lock never clears in practice because every post-lock turn either
// gets blocked or re-stores the refusal path, but the derivation itself
// only inspects the most recent assistant turn.
func TestLocked_OnlyLastAssistantTurnCounts(t *testing.T) {
	history := append(lockedHistory(),
		datatypes.Turn{Role: datatypes.RoleUser, Content: "where is the nearest hospital"},
		datatypes.Turn{Role: datatypes.RoleAssistant, Content: EmergencyMarker + "\nNearest hospitals listed."},
	)
	if !Locked(history) {
		t.Error("Marker on the newest assistant turn should keep the lock")
	}
}

// TestDecide_BlockedWithoutHelpKeywords tests the refusal path.
func TestDecide_BlockedWithoutHelpKeywords(t *testing.T) {
	d := Decide(lockedHistory(), "can we talk about my diet instead?", datatypes.ModeDefault)

	if !d.Blocked {
		t.Fatal("Non-help message in a locked session should be blocked")
	}
	if d.Refusal.Message != RefusalMessage {
		t.Errorf("Refusal message = %q, want the fixed refusal", d.Refusal.Message)
	}
	if d.Refusal.Stage != datatypes.StageEmergency || d.Refusal.Urgency != datatypes.UrgencyHigh {
		t.Errorf("Refusal stage/urgency = %q/%q, want emergency/High", d.Refusal.Stage, d.Refusal.Urgency)
	}
}

// TestDecide_HelpSeekingUnlocksTurn tests that asking for care proceeds
// in hospital lookup mode.
func TestDecide_HelpSeekingUnlocksTurn(t *testing.T) {
	for _, msg := range []string{
		"find hospitals near me",
		"WHERE can I go?",
		"I need a doctor",
		"please help",
	} {
		d := Decide(lockedHistory(), msg, datatypes.ModeDefault)
		if d.Blocked {
			t.Errorf("Help-seeking message %q should not be blocked", msg)
			continue
		}
		if d.Mode != datatypes.ModeHospitalSearch {
			t.Errorf("Message %q: mode = %q, want hospital search", msg, d.Mode)
		}
	}
}

// TestDecide_UnlockedKeywordSwitch tests the hospital auto-switch on an
// unlocked session.
func TestDecide_UnlockedKeywordSwitch(t *testing.T) {
	d := Decide(nil, "where is the nearest clinic to downtown", datatypes.ModeDefault)
	if d.Blocked {
		t.Fatal("Unlocked session should never block")
	}
	if d.Mode != datatypes.ModeHospitalSearch {
		t.Errorf("Mode = %q, want hospital search", d.Mode)
	}
}

// TestDecide_UnlockedPlainMessageKeepsMode tests that ordinary messages
// keep the caller's mode.
func TestDecide_UnlockedPlainMessageKeepsMode(t *testing.T) {
	d := Decide(nil, "I have a mild headache", "detailed_explanation")
	if d.Blocked {
		t.Fatal("Unlocked session should never block")
	}
	if d.Mode != "detailed_explanation" {
		t.Errorf("Mode = %q, want the requested mode", d.Mode)
	}
}

// TestScriptedReply_FirstMessageOnly tests the literal-trigger shortcut.
func TestScriptedReply_FirstMessageOnly(t *testing.T) {
	reply, ok := ScriptedReply(nil, "  Can You Explain This Simply?  ")
	if !ok {
		t.Fatal("Trigger phrase on an empty session should match case-insensitively")
	}
	if reply != ScriptedReplyText {
		t.Errorf("Reply = %q, want the scripted text", reply)
	}

	if _, ok := ScriptedReply(lockedHistory(), ScriptedTrigger); ok {
		t.Error("Trigger should not match once history exists")
	}
	if _, ok := ScriptedReply(nil, "can you explain this simply please?"); ok {
		t.Error("Only the exact phrase should match")
	}
}

// TestAssistantContent_MarkerPlacement tests marker prefixing for
// emergency payloads only.
func TestAssistantContent_MarkerPlacement(t *testing.T) {
	emergency := datatypes.ChatResponse{
		Stage:   datatypes.StageEmergency,
		Message: "Call an ambulance.",
	}
	content := AssistantContent(emergency, false)
	if !strings.HasPrefix(content, EmergencyMarker+"\n") {
		t.Errorf("Emergency content %q should start with the marker", content)
	}
	if !strings.HasSuffix(content, "Call an ambulance.") {
		t.Errorf("Emergency content %q should keep the message", content)
	}

	interview := datatypes.ChatResponse{
		Stage:   datatypes.StageInterview,
		Message: "How long has this been going on?",
	}
	if got := AssistantContent(interview, false); got != interview.Message {
		t.Errorf("Interview content = %q, want the bare message", got)
	}
}

// TestAssistantContent_CarriesExistingLock tests that a non-emergency
// payload stored into a locked session keeps the marker, so answering a
// hospital lookup does not release the lock.
func TestAssistantContent_CarriesExistingLock(t *testing.T) {
	lookup := datatypes.ChatResponse{
		Stage:   datatypes.StageInterview,
		Message: "Here are nearby hospitals.",
	}
	content := AssistantContent(lookup, true)
	if !strings.HasPrefix(content, EmergencyMarker+"\n") {
		t.Errorf("Locked-session content %q should carry the marker forward", content)
	}
}

// TestAssistantContent_RoundTripsThroughLocked tests that a stored
// emergency turn is seen as locked on the next request.
func TestAssistantContent_RoundTripsThroughLocked(t *testing.T) {
	payload := datatypes.ChatResponse{Stage: datatypes.StageEmergency, Message: "Go to the ER."}
	history := []datatypes.Turn{
		{Role: datatypes.RoleUser, Content: "I think I'm having a stroke"},
		{Role: datatypes.RoleAssistant, Content: AssistantContent(payload, false)},
	}
	if !Locked(history) {
		t.Error("History built from an emergency payload should be locked")
	}
}
