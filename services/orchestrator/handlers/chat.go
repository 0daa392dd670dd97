// Package handlers contains the HTTP handlers for the orchestrator
// service: the blocking and streaming chat endpoints plus health.
package handlers

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"

	"github.com/medgpt-dev/medgpt/services/llm"
	"github.com/medgpt-dev/medgpt/services/orchestrator/datatypes"
	"github.com/medgpt-dev/medgpt/services/orchestrator/observability"
	"github.com/medgpt-dev/medgpt/services/orchestrator/ratelimit"
	"github.com/medgpt-dev/medgpt/services/orchestrator/sessions"
	"github.com/medgpt-dev/medgpt/services/orchestrator/triage"
)

var chatTracer = otel.Tracer("medgpt.orchestrator.handlers")

// RateLimitMessage is returned as a normal triage payload when a
// session exceeds its request allowance. HTTP 200 on purpose: the front
// end renders it inline like any other assistant message.
const RateLimitMessage = "You are sending messages too quickly. Please wait a moment before trying again."

// TryAgainMessage is returned when the orchestration layer itself fails;
// the patient sees a normal assistant turn, never an HTTP error.
const TryAgainMessage = "I'm having trouble connecting right now. Please try again in a moment."

// StreamGateway is the inference seam for the handlers. The fallback
// streamer satisfies it in production; tests substitute fakes.
type StreamGateway interface {
	GetStream(ctx context.Context, history []datatypes.Turn, userMessage string,
		opts llm.StreamOptions, cb llm.StreamCallback) error
}

// ChatDeps carries the shared collaborators into the chat handlers.
type ChatDeps struct {
	Gateway StreamGateway
	Store   sessions.Store
	Limiter *ratelimit.Limiter
}

// HandleChat is the blocking chat endpoint (POST /chat).
//
// # Description
//
// Runs one full triage turn and returns the finalized structured
// payload as JSON. The backend stream is consumed internally; nothing
// is forwarded mid-flight.
//
// # Flow
//
//  1. Parse and validate the request.
//  2. Enforce the per-session rate limit.
//  3. Short-circuit the scripted first-message reply.
//  4. Run the emergency state machine; a blocked turn returns the
//     refusal without touching the backends or the history.
//  5. Stream from the gateway, extract the structured payload.
//  6. Persist the turn and respond.
func HandleChat(deps ChatDeps) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, span := chatTracer.Start(c.Request.Context(), "HandleChat")
		defer span.End()

		requestID := uuid.NewString()
		logger := slog.With("request_id", requestID, "endpoint", observability.EndpointChat)

		// 1. Parse and validate.
		var req datatypes.ChatRequest
		if err := c.BindJSON(&req); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			logger.Error("Failed to parse the chat request", "error", err)
			recordError(observability.EndpointChat, observability.ErrorCodeValidation)
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
			return
		}
		if err := req.Validate(); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			logger.Warn("Chat request failed validation", "error", err)
			recordError(observability.EndpointChat, observability.ErrorCodeValidation)
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		logger = logger.With("session_id", req.SessionID)

		// 2. Rate limit. Rejected turns are not recorded against the
		// window, so a patient being throttled cannot extend their own
		// penalty by retrying.
		if !deps.Limiter.Allow(req.SessionID) {
			logger.Warn("Session rate limited")
			if m := observability.DefaultMetrics; m != nil {
				m.RecordRateLimitReject()
			}
			c.JSON(http.StatusOK, datatypes.ChatResponse{
				Stage:      datatypes.StageInterview,
				Urgency:    datatypes.UrgencyLow,
				Message:    RateLimitMessage,
				Confidence: 0,
			})
			return
		}

		history := deps.Store.Get(req.SessionID)

		// 3. Scripted first-message reply bypasses the backends.
		if reply, ok := triage.ScriptedReply(history, req.Message); ok {
			payload := datatypes.ChatResponse{
				Stage:      datatypes.StageInterview,
				Urgency:    datatypes.UrgencyLow,
				Message:    reply,
				Confidence: 0,
			}
			persistTurn(deps.Store, req.SessionID, history, req.Message, payload)
			if m := observability.DefaultMetrics; m != nil {
				m.RecordRequest(observability.EndpointChat, true)
			}
			c.JSON(http.StatusOK, payload)
			return
		}

		// 4. Emergency state machine.
		decision := triage.Decide(history, req.Message, req.Mode)
		if decision.Blocked {
			logger.Info("Turn blocked by emergency lock")
			c.JSON(http.StatusOK, decision.Refusal)
			return
		}

		// 5. Stream and extract. The interceptor is the same component
		// the streaming endpoint uses; here it just accumulates.
		interceptor := triage.NewStreamInterceptor(nil)
		opts := llm.StreamOptions{
			Mode:     decision.Mode,
			Image:    req.Image,
			MimeType: req.MimeType,
		}
		if err := deps.Gateway.GetStream(ctx, history, req.Message, opts, interceptor.Write); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			logger.Error("Stream gateway failed", "error", err)
			recordError(observability.EndpointChat, observability.ErrorCodeLLMError)
			if m := observability.DefaultMetrics; m != nil {
				m.RecordRequest(observability.EndpointChat, false)
			}
			c.JSON(http.StatusOK, datatypes.ChatResponse{
				Stage:   datatypes.StageInterview,
				Urgency: datatypes.UrgencyLow,
				Message: TryAgainMessage,
			})
			return
		}
		payload := triage.FinalizePayload(interceptor.Full())

		// 6. Persist and respond.
		wasLocked := triage.Locked(history)
		persistTurn(deps.Store, req.SessionID, history, req.Message, payload)
		if payload.Stage == datatypes.StageEmergency && !wasLocked {
			logger.Warn("Emergency detected, session locked")
			if m := observability.DefaultMetrics; m != nil {
				m.RecordEmergencyLock()
			}
		}
		if m := observability.DefaultMetrics; m != nil {
			m.RecordRequest(observability.EndpointChat, true)
		}
		c.JSON(http.StatusOK, payload)
	}
}

// persistTurn appends the user and assistant turns and stores the
// updated conversation. An existing lock is carried into the new
// assistant turn so it survives help-seeking answers.
func persistTurn(store sessions.Store, sessionID string, history []datatypes.Turn,
	userMessage string, payload datatypes.ChatResponse) {

	locked := triage.Locked(history)
	updated := append(datatypes.CloneHistory(history),
		datatypes.Turn{Role: datatypes.RoleUser, Content: userMessage},
		datatypes.Turn{Role: datatypes.RoleAssistant, Content: triage.AssistantContent(payload, locked)},
	)
	store.Put(sessionID, updated)
}

func recordError(endpoint, code string) {
	if m := observability.DefaultMetrics; m != nil {
		m.RecordError(endpoint, code)
	}
}
