package extract

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"
)

// extractionPrompt instructs the model to resolve relative dates itself and
// keep temporal context inside the fact it belongs to. %[1]s is today's date
// (YYYY-MM-DD), %[2]s is the user's message.
const extractionPrompt = `Extract structured facts from the user's message. Identify:
1. Relationships (family, work, social connections)
2. Events with dates (births, deaths, marriages, jobs, trips, etc.)
3. Attributes (preferences, traits, contact info)
4. Temporal information (when things happen)

Today's date is: %[1]s

Return JSON with this exact structure:
{
  "facts": [
    {
      "content": "human-readable fact statement WITH dates resolved",
      "type": "relationship|event|attribute|temporal|general",
      "entity_name": "name of person/thing or null",
      "entity_type": "person|organization|place|event|null",
      "relationship": "relationship type or null (e.g., father, granddaughter, friend, boss)",
      "event_type": "birth|death|marriage|graduation|job_start|trip|vacation|null",
      "valid_from": "YYYY-MM-DD or null - when this fact starts being true",
      "valid_to": "YYYY-MM-DD or null - when this fact stops being true"
    }
  ],
  "confidence": 0.0-1.0
}

IMPORTANT rules for temporal information:
- Convert relative dates to actual dates using today's date (%[1]s)
- "this weekend" = the coming Saturday and Sunday
- "next week" = the Monday through Sunday after this week
- "tomorrow" = the day after today
- Keep temporal context WITH the main fact - don't split into separate facts
- For trips/vacations, include location AND dates in the same fact
- Set valid_from and valid_to for time-bound facts

Other rules:
- Split compound statements into separate atomic facts EXCEPT temporal context
- "my daughter's daughter" = granddaughter, "my son's son" = grandson
- Normalize relationship names (dad->father, mom->mother, etc.)
- For deaths, create fact like "Person passed away in YEAR"
- For relationships, create fact like "Person is my relationship"

User message: %[2]s

Return only valid JSON, no other text.`

// OracleConfig holds extraction oracle provider configuration.
type OracleConfig struct {
	Provider    string // "ollama", "openai", "deepseek", "openrouter", "custom"
	Model       string
	Endpoint    string // full chat-completions URL
	APIKey      string
	MaxRetries  int // default: 3
	TimeoutSecs int // per-request timeout (default: 60)
}

// ParseOracleFlag parses "provider/model". Model names may themselves
// contain slashes and colons ("openrouter/google/gemini-2.0-flash:free").
func ParseOracleFlag(flag string) (*OracleConfig, error) {
	if flag == "" {
		return nil, fmt.Errorf("empty oracle flag")
	}
	slashIdx := strings.Index(flag, "/")
	if slashIdx == -1 {
		return nil, fmt.Errorf("invalid oracle format: expected 'provider/model', got %q", flag)
	}
	provider := flag[:slashIdx]
	model := flag[slashIdx+1:]
	if provider == "" {
		return nil, fmt.Errorf("empty provider in oracle flag: %q", flag)
	}
	if model == "" {
		return nil, fmt.Errorf("empty model in oracle flag: %q", flag)
	}

	config := &OracleConfig{
		Provider:    provider,
		Model:       model,
		MaxRetries:  3,
		TimeoutSecs: 60,
	}

	switch provider {
	case "ollama":
		config.Endpoint = "http://localhost:11434/v1/chat/completions"
	case "openai":
		config.Endpoint = "https://api.openai.com/v1/chat/completions"
		config.APIKey = os.Getenv("OPENAI_API_KEY")
	case "deepseek":
		config.Endpoint = "https://api.deepseek.com/v1/chat/completions"
		config.APIKey = os.Getenv("DEEPSEEK_API_KEY")
	case "openrouter":
		config.Endpoint = "https://openrouter.ai/api/v1/chat/completions"
		config.APIKey = os.Getenv("OPENROUTER_API_KEY")
	case "custom":
		config.Endpoint = os.Getenv("KEEPER_ORACLE_ENDPOINT")
		config.APIKey = os.Getenv("KEEPER_ORACLE_API_KEY")
	default:
		return nil, fmt.Errorf("unknown provider %q. Supported: ollama, openai, deepseek, openrouter, custom", provider)
	}

	if endpoint := os.Getenv("KEEPER_ORACLE_ENDPOINT"); endpoint != "" {
		config.Endpoint = endpoint
	}
	if apiKey := os.Getenv("KEEPER_ORACLE_API_KEY"); apiKey != "" {
		config.APIKey = apiKey
	}

	return config, nil
}

// Validate checks that the oracle configuration is complete.
func (c *OracleConfig) Validate() error {
	if c.Provider == "" {
		return fmt.Errorf("provider is required")
	}
	if c.Model == "" {
		return fmt.Errorf("model is required")
	}
	if c.Endpoint == "" {
		return fmt.Errorf("endpoint is required")
	}
	if c.Provider != "ollama" && c.APIKey == "" {
		return fmt.Errorf("API key is required for provider %q (set via environment variable)", c.Provider)
	}
	if c.MaxRetries < 0 {
		return fmt.Errorf("max retries cannot be negative")
	}
	if c.TimeoutSecs <= 0 {
		return fmt.Errorf("timeout must be positive")
	}
	return nil
}

// HTTPError carries the status and retry hint from a failed API call.
type HTTPError struct {
	StatusCode int
	Message    string
	RetryAfter time.Duration
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.Message)
}

// Oracle extracts facts via an OpenAI-compatible chat completions API.
type Oracle struct {
	config OracleConfig
	http   *http.Client
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

type oraclePayload struct {
	Facts      []json.RawMessage `json:"facts"`
	Confidence float64           `json:"confidence"`
}

// NewOracle creates an extraction oracle from a validated config.
func NewOracle(config *OracleConfig) (*Oracle, error) {
	if config == nil {
		return nil, fmt.Errorf("config is required")
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &Oracle{
		config: *config,
		http: &http.Client{
			Timeout: time.Duration(config.TimeoutSecs) * time.Second,
		},
	}, nil
}

// Extract asks the oracle to split message into atomic facts. today anchors
// relative-date resolution inside the prompt. Transport and parse failures
// never surface as errors: the caller gets an empty low-confidence Result
// whose Source names what went wrong, and falls back to regex extraction.
func (o *Oracle) Extract(ctx context.Context, message string, today time.Time) Result {
	req := chatRequest{
		Model: o.config.Model,
		Messages: []chatMessage{
			{Role: "user", Content: fmt.Sprintf(extractionPrompt, today.Format("2006-01-02"), message)},
		},
		Temperature: 0.1,
		MaxTokens:   1024,
	}

	for attempt := 0; attempt <= o.config.MaxRetries; attempt++ {
		result, err := o.attempt(ctx, req)
		if err == nil {
			return result
		}

		if attempt == o.config.MaxRetries {
			break
		}

		// Exponential backoff: 1s, 2s, 4s; rate limits honor Retry-After.
		backoff := time.Duration(1<<attempt) * time.Second
		if httpErr, ok := err.(*HTTPError); ok && httpErr.StatusCode == 429 && httpErr.RetryAfter > 0 {
			backoff = httpErr.RetryAfter
		}

		select {
		case <-ctx.Done():
			return Result{Source: "oracle_error"}
		case <-time.After(backoff):
		}
	}

	return Result{Source: "oracle_error"}
}

func (o *Oracle) attempt(ctx context.Context, req chatRequest) (Result, error) {
	resp, err := o.send(ctx, req)
	if err != nil {
		return Result{}, err
	}

	if len(resp.Choices) == 0 || resp.Choices[0].Message.Content == "" {
		return Result{Source: "oracle_empty"}, nil
	}

	content := recoverJSON(resp.Choices[0].Message.Content)

	var payload oraclePayload
	if err := json.Unmarshal([]byte(content), &payload); err != nil {
		return Result{Source: "oracle_parse_error"}, nil
	}

	// Keep only entries that are objects with a content field.
	var facts []Fact
	for _, raw := range payload.Facts {
		var f Fact
		if err := json.Unmarshal(raw, &f); err != nil {
			continue
		}
		if f.Content == "" {
			continue
		}
		// Validity dates the model invents in prose form would poison the
		// string-ordered date filters downstream. Blank anything that is
		// not a calendar date.
		if f.ValidFrom != "" {
			if _, err := time.Parse("2006-01-02", f.ValidFrom); err != nil {
				f.ValidFrom = ""
			}
		}
		if f.ValidTo != "" {
			if _, err := time.Parse("2006-01-02", f.ValidTo); err != nil {
				f.ValidTo = ""
			}
		}
		facts = append(facts, f)
	}

	confidence := payload.Confidence
	if len(facts) == 0 {
		confidence = 0
	}

	return Result{Facts: facts, Confidence: confidence, Source: "oracle"}, nil
}

func (o *Oracle) send(ctx context.Context, req chatRequest) (*chatResponse, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshaling request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", o.config.Endpoint, bytes.NewBuffer(body))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if o.config.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+o.config.APIKey)
	}

	resp, err := o.http.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("sending request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}

	if resp.StatusCode != 200 {
		var retryAfter time.Duration
		if header := resp.Header.Get("Retry-After"); header != "" {
			if seconds, err := strconv.Atoi(header); err == nil {
				retryAfter = time.Duration(seconds) * time.Second
			}
		}
		return nil, &HTTPError{
			StatusCode: resp.StatusCode,
			Message:    string(respBody),
			RetryAfter: retryAfter,
		}
	}

	var chatResp chatResponse
	if err := json.Unmarshal(respBody, &chatResp); err != nil {
		return nil, fmt.Errorf("parsing response JSON: %w", err)
	}
	return &chatResp, nil
}

// recoverJSON digs a JSON object out of a model reply that may wrap it in
// markdown fences or surrounding prose.
func recoverJSON(content string) string {
	if idx := strings.Index(content, "```json"); idx != -1 {
		content = content[idx+len("```json"):]
		if end := strings.Index(content, "```"); end != -1 {
			content = content[:end]
		}
	} else if strings.Contains(content, "```") {
		parts := strings.Split(content, "```")
		if len(parts) >= 2 {
			content = parts[1]
		}
	}

	content = strings.TrimSpace(content)
	if strings.HasPrefix(content, "{") {
		return content
	}

	// Scan for the first balanced object.
	start := strings.Index(content, "{")
	if start == -1 {
		return content
	}
	depth := 0
	for i := start; i < len(content); i++ {
		switch content[i] {
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return content[start : i+1]
			}
		}
	}
	return content[start:]
}
