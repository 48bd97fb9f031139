// Package intent turns a natural-language payment instruction into a
// structured proposal using an OpenAI-compatible chat completions API. The
// output is a proposal only; it goes through the same authorization path as
// any hand-written request.
package intent

import (
	"context"
	"encoding/json"
	"regexp"
	"strings"
	"time"

	"github.com/pkg/errors"

	trustflowhttp "github.com/trustflow/trustflow-api/internal/client/http"
)

const (
	defaultBaseURL = "https://api.openai.com"
	defaultModel   = "gpt-4o-mini"

	systemPrompt = "You are a strict JSON extractor for payment instructions. " +
		"Given a user instruction about payments, return JSON with keys: " +
		"intent (string), recipient (short name), amount (number). " +
		"Return ONLY valid JSON."
)

var (
	// ErrNotConfigured is returned when no API key was provided.
	ErrNotConfigured = errors.New("intent parser not configured")
	// ErrNoStructuredIntent is returned when the model response contains no
	// parsable JSON object.
	ErrNoStructuredIntent = errors.New("model response contained no JSON object")

	jsonObjectPattern = regexp.MustCompile(`\{[\s\S]*\}`)
)

// Parsed is the structured form of a payment instruction. Amount is kept as
// a json.Number so integer amounts survive untouched.
type Parsed struct {
	Intent    string      `json:"intent"`
	Recipient string      `json:"recipient"`
	Amount    json.Number `json:"amount"`
}

// Client calls an OpenAI-compatible chat completions endpoint.
type Client struct {
	http   *trustflowhttp.Client
	apiKey string
	model  string
}

// Option configures a Client.
type Option func(*Client)

// WithBaseURL points the client at a different OpenAI-compatible endpoint.
func WithBaseURL(baseURL string) Option {
	return func(c *Client) {
		c.http = trustflowhttp.NewClient(
			trustflowhttp.WithBaseURL(baseURL),
			trustflowhttp.WithTimeout(30*time.Second),
		)
	}
}

// WithModel overrides the completion model.
func WithModel(model string) Option {
	return func(c *Client) {
		c.model = model
	}
}

// NewClient builds an intent parser. The API key may be empty; Parse then
// fails with ErrNotConfigured.
func NewClient(apiKey string, options ...Option) *Client {
	c := &Client{
		http: trustflowhttp.NewClient(
			trustflowhttp.WithBaseURL(defaultBaseURL),
			trustflowhttp.WithTimeout(30*time.Second),
		),
		apiKey: apiKey,
		model:  defaultModel,
	}
	for _, option := range options {
		option(c)
	}
	return c
}

// Configured reports whether an API key is present.
func (c *Client) Configured() bool {
	return c.apiKey != ""
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

// Parse sends the instruction to the model and extracts the structured
// intent from its reply.
func (c *Client) Parse(ctx context.Context, naturalLanguage string) (Parsed, error) {
	if !c.Configured() {
		return Parsed{}, ErrNotConfigured
	}

	req := chatRequest{
		Model: c.model,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: "Instruction: " + naturalLanguage},
		},
		Temperature: 0,
		MaxTokens:   200,
	}

	resp, err := c.http.Post(ctx, "/v1/chat/completions", req,
		trustflowhttp.WithBearerToken(c.apiKey))
	if err != nil {
		return Parsed{}, errors.Wrap(err, "calling chat completions")
	}

	var body chatResponse
	if err := c.http.ProcessJSONResponse(resp, &body); err != nil {
		return Parsed{}, errors.Wrap(err, "decoding chat completions response")
	}
	if len(body.Choices) == 0 || body.Choices[0].Message.Content == "" {
		return Parsed{}, ErrNoStructuredIntent
	}

	return extractIntent(body.Choices[0].Message.Content)
}

// extractIntent parses the model reply as JSON, falling back to the first
// brace-delimited object when the model wrapped the JSON in prose.
func extractIntent(content string) (Parsed, error) {
	content = strings.TrimSpace(content)

	var parsed Parsed
	if err := unmarshalStrict(content, &parsed); err == nil {
		return parsed, nil
	}

	match := jsonObjectPattern.FindString(content)
	if match == "" {
		return Parsed{}, ErrNoStructuredIntent
	}
	if err := unmarshalStrict(match, &parsed); err != nil {
		return Parsed{}, ErrNoStructuredIntent
	}
	return parsed, nil
}

func unmarshalStrict(s string, v interface{}) error {
	dec := json.NewDecoder(strings.NewReader(s))
	dec.UseNumber()
	return dec.Decode(v)
}
