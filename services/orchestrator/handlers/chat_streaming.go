package handlers

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/medgpt-dev/medgpt/services/llm"
	"github.com/medgpt-dev/medgpt/services/orchestrator/datatypes"
	"github.com/medgpt-dev/medgpt/services/orchestrator/observability"
	"github.com/medgpt-dev/medgpt/services/orchestrator/triage"
)

// HandleChatStream is the streaming chat endpoint (POST /chat/stream).
//
// # Description
//
// Forwards prose fragments to the client as the backend produces them,
// cuts the feed at the first '{' of the trailing structured block, and
// finishes with a single metadata trailer. The response is always HTTP
// 200 once streaming begins; failures after the first byte surface as
// apology prose, never as a status code.
//
// # Flow
//
//  1. Parse and validate the request.
//  2. Enforce the per-session rate limit.
//  3. Short-circuit the scripted first-message reply.
//  4. Run the emergency state machine; blocked turns stream the refusal.
//  5. Stream from the gateway through the boundary interceptor.
//  6. Extract the payload, write the metadata trailer, persist the turn.
func HandleChatStream(deps ChatDeps) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, span := chatTracer.Start(c.Request.Context(), "HandleChatStream")
		defer span.End()

		requestID := uuid.NewString()
		logger := slog.With("request_id", requestID, "endpoint", observability.EndpointChatStream)

		// 1. Parse and validate.
		var req datatypes.ChatRequest
		if err := c.BindJSON(&req); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			logger.Error("Failed to parse the stream request", "error", err)
			recordError(observability.EndpointChatStream, observability.ErrorCodeValidation)
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
			return
		}
		if err := req.Validate(); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			logger.Warn("Stream request failed validation", "error", err)
			recordError(observability.EndpointChatStream, observability.ErrorCodeValidation)
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		logger = logger.With("session_id", req.SessionID)
		span.SetAttributes(attribute.String("chat.session_id", req.SessionID))

		writer, err := NewFragmentWriter(c.Writer)
		if err != nil {
			logger.Error("Streaming unsupported by response writer", "error", err)
			recordError(observability.EndpointChatStream, observability.ErrorCodeInternal)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "streaming unsupported"})
			return
		}

		// 2. Rate limit. Throttled turns still stream a normal-looking
		// reply so the front end needs no special case.
		if !deps.Limiter.Allow(req.SessionID) {
			logger.Warn("Session rate limited")
			if m := observability.DefaultMetrics; m != nil {
				m.RecordRateLimitReject()
			}
			streamCanned(writer, RateLimitMessage, datatypes.StageInterview, datatypes.UrgencyLow)
			return
		}

		history := deps.Store.Get(req.SessionID)

		// 3. Scripted first-message reply.
		if reply, ok := triage.ScriptedReply(history, req.Message); ok {
			streamCanned(writer, reply, datatypes.StageInterview, datatypes.UrgencyLow)
			persistTurn(deps.Store, req.SessionID, history, req.Message, datatypes.ChatResponse{
				Stage:      datatypes.StageInterview,
				Urgency:    datatypes.UrgencyLow,
				Message:    reply,
				Confidence: 0,
			})
			if m := observability.DefaultMetrics; m != nil {
				m.RecordRequest(observability.EndpointChatStream, true)
			}
			return
		}

		// 4. Emergency state machine. Blocked turns never touch the
		// backends and leave the history untouched.
		decision := triage.Decide(history, req.Message, req.Mode)
		if decision.Blocked {
			logger.Info("Turn blocked by emergency lock")
			streamCanned(writer, decision.Refusal.Message, decision.Refusal.Stage, decision.Refusal.Urgency)
			return
		}

		// 5. Stream through the boundary interceptor, timing the first
		// forwarded fragment.
		if m := observability.DefaultMetrics; m != nil {
			m.StreamStarted(observability.EndpointChatStream)
			defer m.StreamEnded(observability.EndpointChatStream)
		}
		start := time.Now()
		firstFragment := true
		interceptor := triage.NewStreamInterceptor(func(fragment string) error {
			if firstFragment {
				firstFragment = false
				ttft := time.Since(start)
				span.SetAttributes(attribute.Float64("chat.ttft_seconds", ttft.Seconds()))
				logger.Debug("First fragment forwarded", "ttft_ms", ttft.Milliseconds())
				if m := observability.DefaultMetrics; m != nil {
					m.RecordTimeToFirstFragment(observability.EndpointChatStream, ttft.Seconds())
				}
			}
			return writer.WriteFragment(fragment)
		})

		opts := llm.StreamOptions{
			Mode:     decision.Mode,
			Image:    req.Image,
			MimeType: req.MimeType,
		}
		if err := deps.Gateway.GetStream(ctx, history, req.Message, opts, interceptor.Write); err != nil {
			// Headers are gone; the write error usually means the
			// client hung up mid-stream.
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			logger.Warn("Stream aborted", "error", err)
			recordError(observability.EndpointChatStream, observability.ErrorCodeClientDisconnect)
			if m := observability.DefaultMetrics; m != nil {
				m.RecordRequest(observability.EndpointChatStream, false)
				m.RecordStreamDuration(observability.EndpointChatStream, time.Since(start).Seconds(), false)
			}
			return
		}

		// 6. Finalize, trail metadata, persist.
		payload := triage.FinalizePayload(interceptor.Full())
		if err := writer.WriteMetadata(datatypes.StreamMetadata{
			Urgency: payload.Urgency,
			Stage:   payload.Stage,
			Data:    payload.Data,
		}); err != nil {
			logger.Warn("Failed to write metadata trailer", "error", err)
		}

		wasLocked := triage.Locked(history)
		persistTurn(deps.Store, req.SessionID, history, req.Message, payload)
		if payload.Stage == datatypes.StageEmergency && !wasLocked {
			logger.Warn("Emergency detected, session locked")
			if m := observability.DefaultMetrics; m != nil {
				m.RecordEmergencyLock()
			}
		}
		if m := observability.DefaultMetrics; m != nil {
			m.RecordRequest(observability.EndpointChatStream, true)
			m.RecordStreamDuration(observability.EndpointChatStream, time.Since(start).Seconds(), true)
		}
	}
}

// streamCanned writes a fixed reply as a single fragment followed by
// the metadata trailer.
func streamCanned(writer *FragmentWriter, message, stage, urgency string) {
	if err := writer.WriteFragment(message); err != nil {
		return
	}
	_ = writer.WriteMetadata(datatypes.StreamMetadata{
		Urgency: urgency,
		Stage:   stage,
	})
}
