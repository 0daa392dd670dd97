package triage

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/medgpt-dev/medgpt/services/orchestrator/datatypes"
)

// apologyMessage substitutes for a payload that carried no usable text.
const apologyMessage = "I apologize, but I'm having trouble formulating a response. Could you rephrase your question?"

// parseFailureMessage is returned if a payload that looked like valid
// JSON still cannot be decoded into a mapping.
const parseFailureMessage = "Internal processing error. Please repeat."

// EnsureJSON coerces raw backend output into a parseable JSON document.
//
// It takes the substring between the first '{' and the last '}' and
// returns it verbatim when it parses. Otherwise it synthesizes an
// interview payload carrying the trimmed raw text as the message.
//
// The scan is deliberately not brace-depth aware: stray braces in
// surrounding prose, or a brace inside a string value before the real
// object, can mis-slice the substring. When that happens the parse fails
// and the output degrades to the synthesized payload instead of erroring.
func EnsureJSON(text string) string {
	if text == "" {
		text = apologyMessage
	}

	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start != -1 && end != -1 && end > start {
		candidate := text[start : end+1]
		if json.Valid([]byte(candidate)) {
			return candidate
		}
	}

	fallback := map[string]any{
		"stage":      datatypes.StageInterview,
		"urgency":    datatypes.UrgencyLow,
		"message":    strings.TrimSpace(text),
		"confidence": 0.5,
	}
	out, err := json.Marshal(fallback)
	if err != nil {
		// Unreachable for a map of strings and a float; kept so the
		// function can never return invalid JSON.
		return `{"stage":"interview","urgency":"Low","message":"` + apologyMessage + `","confidence":0.5}`
	}
	return string(out)
}

// FinalizePayload turns the full accumulated stream text into the
// response for one turn. It never fails: malformed or absent structure
// degrades to an interview payload rather than an error.
func FinalizePayload(raw string) datatypes.ChatResponse {
	var parsed map[string]any
	if err := json.Unmarshal([]byte(EnsureJSON(raw)), &parsed); err != nil {
		slog.Error("Payload parse failed after extraction", "error", err)
		return datatypes.ChatResponse{
			Stage:   datatypes.StageInterview,
			Urgency: datatypes.UrgencyLow,
			Message: parseFailureMessage,
		}
	}

	message := firstStringField(parsed, "message", "response", "text")
	if message == "" {
		// Small models sometimes put the reply under an arbitrary key;
		// take any sufficiently long string value before giving up.
		for _, key := range sortedKeys(parsed) {
			if s, ok := parsed[key].(string); ok && len(s) > 20 {
				message = s
				break
			}
		}
	}
	if message == "" {
		message = apologyMessage
	}

	stage, _ := parsed["stage"].(string)
	if stage == "" {
		stage = datatypes.StageInterview
	}

	if stage == datatypes.StageSummary {
		if summary, ok := parsed["summary"].(map[string]any); ok {
			message += formatSummary(summary)
		}
	}

	rawUrgency, _ := parsed["urgency"].(string)
	urgency := datatypes.NormalizeUrgency(rawUrgency)
	// An emergency is High urgency no matter what the model put in the
	// urgency field; the lock and the banner must agree.
	if stage == datatypes.StageEmergency {
		urgency = datatypes.UrgencyHigh
	}
	confidence, _ := parsed["confidence"].(float64)

	data, _ := parsed["data"].(map[string]any)
	sanitizeHospitalList(data)

	return datatypes.ChatResponse{
		Stage:      stage,
		Urgency:    urgency,
		Message:    message,
		Confidence: confidence,
		Data:       data,
	}
}

// formatSummary flattens a nested summary mapping into markdown appended
// to the message: section headers as bold labels, nested key/value pairs
// as sub-bullets. Sections and keys are emitted in sorted order.
func formatSummary(summary map[string]any) string {
	var b strings.Builder
	b.WriteString("\n\n")
	for _, section := range sortedKeys(summary) {
		fmt.Fprintf(&b, "**%s**\n", section)
		switch content := summary[section].(type) {
		case map[string]any:
			for _, key := range sortedKeys(content) {
				fmt.Fprintf(&b, "- **%s**: %v\n", key, content[key])
			}
		default:
			fmt.Fprintf(&b, "%v\n", content)
		}
		b.WriteString("\n")
	}
	return b.String()
}

// sanitizeHospitalList repairs a hospital_list payload whose hospitals
// field arrived as a JSON string instead of an array.
func sanitizeHospitalList(data map[string]any) {
	if data == nil {
		return
	}
	if t, _ := data["type"].(string); t != "hospital_list" {
		return
	}
	raw, ok := data["hospitals"].(string)
	if !ok {
		return
	}
	var hospitals []any
	if err := json.Unmarshal([]byte(raw), &hospitals); err != nil {
		slog.Error("Failed to parse stringified hospital list", "error", err)
		return
	}
	data["hospitals"] = hospitals
	slog.Info("Parsed stringified hospital list into JSON array")
}

func firstStringField(m map[string]any, keys ...string) string {
	for _, key := range keys {
		if s, ok := m[key].(string); ok && s != "" {
			return s
		}
	}
	return ""
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
