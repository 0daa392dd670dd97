package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/medgpt-dev/medgpt/services/orchestrator/datatypes"
	"github.com/medgpt-dev/medgpt/services/orchestrator/prompts"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var ollamaTracer = otel.Tracer("medgpt.llm.ollama") // Specific tracer name

const (
	defaultOllamaBaseURL = "http://localhost:11434"
	defaultOllamaModel   = "llama3.2:1b"

	// The secondary backend has nothing behind it, so it gets a long
	// leash: a local model may take a while to load on first call.
	ollamaTimeout = 60 * time.Second
)

// OllamaConfig configures the secondary backend client.
type OllamaConfig struct {
	BaseURL string
	Model   string
}

// OllamaClient streams chat completions from a local Ollama server.
// It is the fallback backend; it has no quota concept, so every failure
// is reported as SentinelOllamaFailed.
type OllamaClient struct {
	httpClient *http.Client
	baseURL    string
	model      string
}

// Ollama API request structure
type ollamaChatMessage struct {
	Role    string   `json:"role"`
	Content string   `json:"content"`
	Images  []string `json:"images,omitempty"`
}

type ollamaChatRequest struct {
	Model     string              `json:"model"`
	Messages  []ollamaChatMessage `json:"messages"`
	Stream    bool                `json:"stream"`
	KeepAlive string              `json:"keep_alive"`
	Format    string              `json:"format,omitempty"`
	Options   map[string]any      `json:"options,omitempty"`
}

type ollamaChatChunk struct {
	Message struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	} `json:"message"`
	Done bool `json:"done"`
}

// NewOllamaClient builds the secondary client with defaults for any
// unset field.
func NewOllamaClient(cfg OllamaConfig) *OllamaClient {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultOllamaBaseURL
	}
	if cfg.Model == "" {
		slog.Warn("OLLAMA_MODEL not set, defaulting", "model", defaultOllamaModel)
		cfg.Model = defaultOllamaModel
	}
	slog.Info("Initializing Ollama client", "base_url", cfg.BaseURL, "model", cfg.Model)
	return &OllamaClient{
		httpClient: &http.Client{Timeout: ollamaTimeout},
		baseURL:    strings.TrimSuffix(cfg.BaseURL, "/"),
		model:      cfg.Model,
	}
}

// ChatStream implements StreamClient against /api/chat with stream=true.
// The response is newline-delimited JSON terminated by a done flag;
// malformed lines are skipped.
func (o *OllamaClient) ChatStream(ctx context.Context, messages []datatypes.Turn,
	opts StreamOptions, cb StreamCallback) error {

	ctx, span := ollamaTracer.Start(ctx, "OllamaClient.ChatStream")
	defer span.End()
	span.SetAttributes(
		attribute.String("llm.model", o.model),
		attribute.Int("llm.num_messages", len(messages)),
	)

	wireMessages := make([]ollamaChatMessage, 0, len(messages)+1)
	wireMessages = append(wireMessages, ollamaChatMessage{
		Role:    datatypes.RoleSystem,
		Content: prompts.GetSystemPrompt(opts.Mode),
	})
	for i, msg := range messages {
		m := ollamaChatMessage{Role: msg.Role, Content: msg.Content}
		// Ollama only understands images inline on a user message.
		if i == len(messages)-1 && opts.Image != "" && msg.Role == datatypes.RoleUser {
			m.Images = []string{opts.Image}
		}
		wireMessages = append(wireMessages, m)
	}

	payload := ollamaChatRequest{
		Model:     o.model,
		Messages:  wireMessages,
		Stream:    true,
		KeepAlive: "60m",
		Options: map[string]any{
			"temperature": 0.3,
			"num_ctx":     4096,
		},
	}
	if opts.Mode == datatypes.ModeHospitalSearch {
		payload.Format = "json"
	}

	body, err := json.Marshal(payload)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return cb(SentinelOllamaFailed)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.baseURL+"/api/chat", bytes.NewBuffer(body))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return cb(SentinelOllamaFailed)
	}
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := o.httpClient.Do(req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		slog.Error("Ollama stream request failed", "error", err)
		return cb(SentinelOllamaFailed)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		span.SetStatus(codes.Error, resp.Status)
		slog.Error("Ollama returned an error", "status_code", resp.StatusCode)
		return cb(SentinelOllamaFailed)
	}

	firstFragment := true
	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 512*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(bytes.TrimSpace(line)) == 0 {
			continue
		}
		var chunk ollamaChatChunk
		if err := json.Unmarshal(line, &chunk); err != nil {
			continue
		}
		if chunk.Message.Content != "" {
			if firstFragment {
				ttft := time.Since(start)
				span.SetAttributes(attribute.Float64("llm.time_to_first_fragment_ms", float64(ttft.Milliseconds())))
				slog.Debug("Ollama TTFT", "ms", ttft.Milliseconds())
				firstFragment = false
			}
			if err := cb(chunk.Message.Content); err != nil {
				return err
			}
		}
		if chunk.Done {
			break
		}
	}
	if err := scanner.Err(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		slog.Error("Ollama stream read failed", "error", err)
		return cb(SentinelOllamaFailed)
	}
	return nil
}
