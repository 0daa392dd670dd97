package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/medgpt-dev/medgpt/services/orchestrator/datatypes"
	"github.com/medgpt-dev/medgpt/services/orchestrator/prompts"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var geminiTracer = otel.Tracer("medgpt.llm.gemini") // Specific tracer name

const (
	defaultGeminiBaseURL = "https://generativelanguage.googleapis.com"
	defaultGeminiModel   = "gemini-1.5-flash"

	// The primary backend is tuned for first-token latency: if Gemini
	// cannot connect and start answering quickly we would rather fall
	// back to the local model than keep the user waiting.
	geminiConnectTimeout   = 2 * time.Second
	geminiFirstByteTimeout = 5 * time.Second
)

// GeminiConfig configures the primary backend client.
type GeminiConfig struct {
	APIKey  string
	BaseURL string
	Model   string
}

// GeminiClient streams chat completions from the Gemini REST API.
// It is the primary backend; quota exhaustion (HTTP 429) is reported as
// SentinelQuotaExceeded so the fallback orchestrator can open the breaker.
type GeminiClient struct {
	httpClient *http.Client
	apiKey     string
	baseURL    string
	model      string
}

// Gemini wire format. Decoded defensively: unknown or partial chunks are
// skipped, not fatal.
type geminiContent struct {
	Role  string       `json:"role"`
	Parts []geminiPart `json:"parts"`
}

type geminiPart struct {
	Text       string            `json:"text,omitempty"`
	InlineData *geminiInlineData `json:"inline_data,omitempty"`
}

type geminiInlineData struct {
	MimeType string `json:"mime_type"`
	Data     string `json:"data"`
}

type geminiStreamRequest struct {
	Contents          []geminiContent `json:"contents"`
	SystemInstruction geminiContent   `json:"system_instruction"`
	GenerationConfig  struct {
		Temperature     float64 `json:"temperature"`
		MaxOutputTokens int     `json:"maxOutputTokens"`
	} `json:"generationConfig"`
}

type geminiStreamChunk struct {
	Candidates []struct {
		Content struct {
			Parts []struct {
				Text string `json:"text"`
			} `json:"parts"`
		} `json:"content"`
	} `json:"candidates"`
}

// NewGeminiClient builds the primary client. An empty API key is allowed
// at construction so the service can start in fallback-only mode; streams
// then degrade to the hard-failure sentinel immediately.
func NewGeminiClient(cfg GeminiConfig) *GeminiClient {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultGeminiBaseURL
	}
	if cfg.Model == "" {
		cfg.Model = defaultGeminiModel
	}
	if cfg.APIKey == "" {
		slog.Warn("GEMINI_API_KEY not set, primary backend disabled; all traffic will fall back to Ollama")
	}
	transport := &http.Transport{
		DialContext:           (&net.Dialer{Timeout: geminiConnectTimeout}).DialContext,
		ResponseHeaderTimeout: geminiFirstByteTimeout,
	}
	return &GeminiClient{
		httpClient: &http.Client{Transport: transport},
		apiKey:     cfg.APIKey,
		baseURL:    strings.TrimSuffix(cfg.BaseURL, "/"),
		model:      cfg.Model,
	}
}

// ChatStream implements StreamClient against the streamGenerateContent
// endpoint. The response body is a JSON array emitted incrementally, one
// element per line; array punctuation lines are skipped and each element
// is parsed best-effort.
func (g *GeminiClient) ChatStream(ctx context.Context, messages []datatypes.Turn,
	opts StreamOptions, cb StreamCallback) error {

	ctx, span := geminiTracer.Start(ctx, "GeminiClient.ChatStream")
	defer span.End()
	span.SetAttributes(
		attribute.String("llm.model", g.model),
		attribute.Int("llm.num_messages", len(messages)),
	)

	if g.apiKey == "" {
		span.SetStatus(codes.Error, "missing api key")
		return cb(SentinelGeminiFailed)
	}

	contents := make([]geminiContent, 0, len(messages))
	for i, msg := range messages {
		role := "user"
		if msg.Role != datatypes.RoleUser {
			role = "model"
		}
		var parts []geminiPart
		// The image, when present, always rides on the final turn.
		if i == len(messages)-1 && opts.Image != "" {
			parts = append(parts, geminiPart{InlineData: &geminiInlineData{
				MimeType: opts.MimeType,
				Data:     opts.Image,
			}})
		}
		parts = append(parts, geminiPart{Text: msg.Content})
		contents = append(contents, geminiContent{Role: role, Parts: parts})
	}

	payload := geminiStreamRequest{
		Contents: contents,
		SystemInstruction: geminiContent{
			Parts: []geminiPart{{Text: prompts.GetSystemPrompt(opts.Mode)}},
		},
	}
	payload.GenerationConfig.Temperature = 0.3
	payload.GenerationConfig.MaxOutputTokens = 1500

	body, err := json.Marshal(payload)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return cb(SentinelGeminiFailed)
	}

	streamURL := g.baseURL + "/v1beta/models/" + url.PathEscape(g.model) +
		":streamGenerateContent?key=" + url.QueryEscape(g.apiKey)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, streamURL, bytes.NewBuffer(body))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return cb(SentinelGeminiFailed)
	}
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := g.httpClient.Do(req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		slog.Error("Gemini stream request failed", "error", err)
		return cb(SentinelGeminiFailed)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		span.SetAttributes(attribute.Bool("llm.quota_exceeded", true))
		slog.Warn("Gemini quota exceeded", "status_code", resp.StatusCode)
		return cb(SentinelQuotaExceeded)
	}
	if resp.StatusCode != http.StatusOK {
		span.SetStatus(codes.Error, resp.Status)
		slog.Error("Gemini returned an error", "status_code", resp.StatusCode)
		return cb(SentinelGeminiFailed)
	}

	firstFragment := true
	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 512*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		// The body is one JSON array streamed a line at a time; the
		// punctuation lines carry no content.
		if line == "" || line == "[" || line == "]" || line == "," {
			continue
		}
		line = strings.TrimPrefix(line, ",")

		var chunk geminiStreamChunk
		if err := json.Unmarshal([]byte(line), &chunk); err != nil {
			continue
		}
		if len(chunk.Candidates) == 0 || len(chunk.Candidates[0].Content.Parts) == 0 {
			continue
		}
		text := chunk.Candidates[0].Content.Parts[0].Text
		if firstFragment {
			ttft := time.Since(start)
			span.SetAttributes(attribute.Float64("llm.time_to_first_fragment_ms", float64(ttft.Milliseconds())))
			slog.Debug("Gemini TTFT", "ms", ttft.Milliseconds())
			firstFragment = false
		}
		if err := cb(text); err != nil {
			return err
		}
	}
	if err := scanner.Err(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		slog.Error("Gemini stream read failed", "error", err)
		return cb(SentinelGeminiFailed)
	}
	return nil
}
