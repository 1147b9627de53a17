package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"regexp"
	"strings"
	"time"
)

const (
	DefaultBaseURL = "https://api.openai.com/v1"
	DefaultModel   = "gpt-4o-mini"

	maxTokens   = 1000
	temperature = 0.3
)

// ErrCredentialMissing is returned before any request is made when no key is configured.
var ErrCredentialMissing = errors.New("API key not configured. Open Settings from the tray menu to set it up.")

// TransportError wraps a network failure. Its message is the underlying one.
type TransportError struct {
	Err error
}

func (e *TransportError) Error() string { return e.Err.Error() }
func (e *TransportError) Unwrap() error { return e.Err }

// RemoteError is a non-success HTTP status from the API.
type RemoteError struct {
	Status  int
	Message string
}

func (e *RemoteError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return fmt.Sprintf("API request failed: %d", e.Status)
}

// MalformedError is a reply that could not be turned into an Analysis. Raw is
// kept for the log only.
type MalformedError struct {
	Message string
	Raw     string
}

func (e *MalformedError) Error() string { return e.Message }

type Config struct {
	BaseURL string
	Model   string
	Timeout time.Duration
}

// Client talks to an OpenAI-compatible chat completions API. It holds no
// credential; callers pass the key on every call.
type Client struct {
	baseURL string
	model   string
	http    *http.Client
}

func New(cfg Config) *Client {
	base := strings.TrimRight(cfg.BaseURL, "/")
	if base == "" {
		base = DefaultBaseURL
	}
	model := cfg.Model
	if model == "" {
		model = DefaultModel
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 45 * time.Second
	}
	return &Client{baseURL: base, model: model, http: &http.Client{Timeout: timeout}}
}

// Model returns the configured model name.
func (c *Client) Model() string { return c.model }

type Message struct {
	Role    string `json:"role"`
	Content any    `json:"content"`
}

type Content struct {
	Type     string    `json:"type"`
	Text     string    `json:"text,omitempty"`
	ImageURL *ImageURL `json:"image_url,omitempty"`
}

type ImageURL struct {
	URL    string `json:"url"`
	Detail string `json:"detail,omitempty"`
}

type ChatRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	MaxTokens   int       `json:"max_tokens"`
	Temperature float64   `json:"temperature"`
}

type ChatResponse struct {
	Choices []Choice  `json:"choices"`
	Error   *APIError `json:"error,omitempty"`
}

type Choice struct {
	Message ResponseMessage `json:"message"`
}

type ResponseMessage struct {
	Content string `json:"content"`
}

type APIError struct {
	Message string `json:"message"`
	Type    string `json:"type"`
	Code    any    `json:"code"`
}

type errorEnvelope struct {
	Error *APIError `json:"error"`
}

// Analyze sends one image, given as a data URL, and parses the structured reply.
func (c *Client) Analyze(ctx context.Context, apiKey, imageDataURL string) (*Analysis, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, ErrCredentialMissing
	}
	start := time.Now()
	imageKB := (len(imageDataURL)*3/4 + 512) / 1024
	log.Printf("llm: image size %dKB, model %s", imageKB, c.model)

	request := ChatRequest{
		Model: c.model,
		Messages: []Message{
			{Role: "system", Content: systemPrompt},
			{
				Role: "user",
				Content: []Content{
					{Type: "text", Text: userPrompt},
					{Type: "image_url", ImageURL: &ImageURL{URL: imageDataURL, Detail: "high"}},
				},
			},
		},
		MaxTokens:   maxTokens,
		Temperature: temperature,
	}
	body, err := json.Marshal(request)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+apiKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &TransportError{Err: err}
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &TransportError{Err: err}
	}
	apiMs := time.Since(start).Milliseconds()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, remoteError(resp.StatusCode, raw)
	}

	var chat ChatResponse
	if err := json.Unmarshal(raw, &chat); err != nil {
		log.Printf("llm: undecodable response body: %s", truncate(string(raw), 500))
		return nil, &MalformedError{Message: "Failed to parse analysis result", Raw: string(raw)}
	}
	if chat.Error != nil && chat.Error.Message != "" {
		return nil, &RemoteError{Status: resp.StatusCode, Message: chat.Error.Message}
	}
	if len(chat.Choices) == 0 || chat.Choices[0].Message.Content == "" {
		return nil, &MalformedError{Message: "No response from API", Raw: string(raw)}
	}
	content := chat.Choices[0].Message.Content
	log.Printf("llm: api call took %dms", apiMs)

	analysis, err := ParseAnalysis(content)
	if err != nil {
		log.Printf("llm: %v; content: %s", err, truncate(content, 500))
		return nil, &MalformedError{Message: "Failed to parse analysis result", Raw: content}
	}
	analysis.Timing = Timing{APIMs: apiMs, ImageKB: imageKB}
	return analysis, nil
}

func remoteError(status int, raw []byte) *RemoteError {
	var env errorEnvelope
	if err := json.Unmarshal(raw, &env); err == nil && env.Error != nil {
		return &RemoteError{Status: status, Message: env.Error.Message}
	}
	return &RemoteError{Status: status}
}

var jsonObject = regexp.MustCompile(`(?s)\{.*\}`)

// ParseAnalysis extracts the outermost JSON object from model output, which
// may be wrapped in prose or code fences.
func ParseAnalysis(content string) (*Analysis, error) {
	block := jsonObject.FindString(content)
	if block == "" {
		return nil, errors.New("no JSON object in model output")
	}
	var a Analysis
	if err := json.Unmarshal([]byte(block), &a); err != nil {
		return nil, fmt.Errorf("invalid analysis JSON: %w", err)
	}
	if !a.NoText && a.OriginalText == "" {
		return nil, errors.New("analysis has neither originalText nor noText")
	}
	return &a, nil
}

// Validation is the outcome of a key check.
type Validation struct {
	Valid bool   `json:"valid"`
	Error string `json:"error,omitempty"`
}

// ValidateKey checks a candidate key against the models endpoint.
func (c *Client) ValidateKey(ctx context.Context, apiKey string) Validation {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/models", nil)
	if err != nil {
		return Validation{Error: err.Error()}
	}
	req.Header.Set("Authorization", "Bearer "+apiKey)
	resp, err := c.http.Do(req)
	if err != nil {
		return Validation{Error: err.Error()}
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 200 && resp.StatusCode <= 299 {
		return Validation{Valid: true}
	}
	raw, _ := io.ReadAll(resp.Body)
	var env errorEnvelope
	if err := json.Unmarshal(raw, &env); err == nil && env.Error != nil && env.Error.Message != "" {
		return Validation{Error: env.Error.Message}
	}
	return Validation{Error: "Invalid API key"}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
