// Package vision classifies satellite imagery for tyre pyrolysis
// activity using the OpenAI chat completions API with structured JSON
// output.
package vision

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/SulemanHamdani/satellite-pipeline-with-aws/core"
	"github.com/SulemanHamdani/satellite-pipeline-with-aws/resilience"
)

// ModelName is the vision model used for classification.
const ModelName = "gpt-5-mini"

const defaultBaseURL = "https://api.openai.com/v1"

// openAISecretKey is the field in the pipeline secret holding the key.
const openAISecretKey = "OPENAI_API_KEY"

// AnalysisStatus is the classification result from the vision model.
type AnalysisStatus string

const (
	StatusYes   AnalysisStatus = "YES"
	StatusNo    AnalysisStatus = "NO"
	StatusMaybe AnalysisStatus = "MAYBE"
)

// AgentOutput is the structured output of the detection prompt.
type AgentOutput struct {
	Status    AnalysisStatus `json:"status"`
	Reasoning string         `json:"reasoning"`
}

// AnalysisError means the model responded but its output could not be
// used (missing choices, invalid JSON, unknown status).
type AnalysisError struct {
	Message string
	Err     error
}

func (e *AnalysisError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *AnalysisError) Unwrap() error { return e.Err }

// APIError is a terminal non-2xx response from the OpenAI API.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("openai API error (status %d): %s", e.StatusCode, e.Message)
}

const instructions = `You are a vision model trained to identify tyre pyrolysis activity from satellite imagery.

Return ONLY a JSON object matching this exact schema:
{
    "status": "YES" | "NO" | "MAYBE",
    "reasoning": "<brief explanation>"
}

Decision guide:
- YES: black soot, piles of tyres, or obvious burning/pyrolysis signs are visible.
- MAYBE: the image shows some kind of industrial area or infrastructure but no clear tyres or soot.
- NO: no signs of an industry, tyres, or soot are visible (e.g. open land, fields, roads, or residential houses).

Be conservative with YES and choose MAYBE when uncertain.
Keep reasoning short and factual, focusing on the visual cues behind the decision.`

// SecretSource supplies the OpenAI API key. Implemented by secrets.Cache.
type SecretSource interface {
	GetSecretJSON(ctx context.Context, secretID string) (map[string]string, error)
}

// Client calls the OpenAI API for image classification.
type Client struct {
	httpClient *http.Client
	secrets    SecretSource
	secretID   string
	baseURL    string
	logger     core.Logger

	maxRetries int
	timeout    time.Duration
}

// NewClient creates a vision client. httpClient may be nil to use the
// default client, baseURL empty for the public API endpoint.
func NewClient(httpClient *http.Client, secrets SecretSource, secretID, baseURL string, maxRetries int, timeout time.Duration, logger core.Logger) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	if logger == nil {
		logger = &core.NoOpLogger{}
	}
	return &Client{
		httpClient: httpClient,
		secrets:    secrets,
		secretID:   secretID,
		baseURL:    baseURL,
		logger:     logger,
		maxRetries: maxRetries,
		timeout:    timeout,
	}
}

type chatRequest struct {
	Model          string          `json:"model"`
	Messages       []chatMessage   `json:"messages"`
	ResponseFormat *responseFormat `json:"response_format,omitempty"`
}

type chatMessage struct {
	Role    string        `json:"role"`
	Content []contentPart `json:"content"`
}

type contentPart struct {
	Type     string    `json:"type"`
	Text     string    `json:"text,omitempty"`
	ImageURL *imageURL `json:"image_url,omitempty"`
}

type imageURL struct {
	URL string `json:"url"`
}

type responseFormat struct {
	Type string `json:"type"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
}

// AnalyzeImage classifies the imagery and returns the structured output
// plus a usage map recorded alongside the job outcome. deadlineEpoch
// bounds the retry loop; zero disables the deadline.
func (c *Client) AnalyzeImage(ctx context.Context, imageBytes []byte, contentType string, deadlineEpoch float64) (*AgentOutput, map[string]interface{}, error) {
	values, err := c.secrets.GetSecretJSON(ctx, c.secretID)
	if err != nil {
		return nil, nil, err
	}
	apiKey := strings.TrimSpace(values[openAISecretKey])
	if apiKey == "" {
		return nil, nil, fmt.Errorf("%w: secret %s has no %s", core.ErrMissingConfiguration, c.secretID, openAISecretKey)
	}

	if contentType == "" {
		contentType = "image/png"
	}
	dataURL := "data:" + contentType + ";base64," + base64.StdEncoding.EncodeToString(imageBytes)

	reqBody := chatRequest{
		Model: ModelName,
		Messages: []chatMessage{
			{
				Role:    "system",
				Content: []contentPart{{Type: "text", Text: instructions}},
			},
			{
				Role: "user",
				Content: []contentPart{
					{Type: "text", Text: "Decide if this image shows tyre pyrolysis activity:"},
					{Type: "image_url", ImageURL: &imageURL{URL: dataURL}},
				},
			},
		},
		ResponseFormat: &responseFormat{Type: "json_object"},
	}

	payload, err := json.Marshal(reqBody)
	if err != nil {
		return nil, nil, fmt.Errorf("marshal openai request: %w", err)
	}

	c.logger.Info("Analyzing imagery", map[string]interface{}{
		"operation":   "openai_analyze",
		"model":       ModelName,
		"image_bytes": len(imageBytes),
	})

	header := http.Header{}
	header.Set("Content-Type", "application/json")
	header.Set("Authorization", "Bearer "+apiKey)

	resp, err := resilience.RequestWithRetry(ctx, c.httpClient, http.MethodPost, c.baseURL+"/chat/completions", resilience.RequestConfig{
		MaxAttempts:   c.maxRetries,
		Timeout:       c.timeout,
		DeadlineEpoch: deadlineEpoch,
		Body:          payload,
		Header:        header,
		Logger:        c.logger,
	})
	if err != nil {
		if isTimeout(err) {
			// StatusCode zero marks a transport timeout
			return nil, nil, &APIError{StatusCode: 0, Message: err.Error()}
		}
		return nil, nil, err
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, nil, fmt.Errorf("read openai response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, nil, &APIError{
			StatusCode: resp.StatusCode,
			Message:    truncate(string(body), 256),
		}
	}

	var parsed chatResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, nil, &AnalysisError{Message: "parse openai response", Err: err}
	}
	if len(parsed.Choices) == 0 {
		return nil, nil, &AnalysisError{Message: "openai response has no choices"}
	}

	output, err := parseOutput(parsed.Choices[0].Message.Content)
	if err != nil {
		return nil, nil, err
	}

	usage := map[string]interface{}{
		"model":             ModelName,
		"prompt_tokens":     parsed.Usage.PromptTokens,
		"completion_tokens": parsed.Usage.CompletionTokens,
		"total_tokens":      parsed.Usage.TotalTokens,
	}
	return output, usage, nil
}

// parseOutput validates the model's structured output against the
// closed status set.
func parseOutput(content string) (*AgentOutput, error) {
	var output AgentOutput
	if err := json.Unmarshal([]byte(content), &output); err != nil {
		return nil, &AnalysisError{Message: "agent output is not valid JSON", Err: err}
	}
	switch output.Status {
	case StatusYes, StatusNo, StatusMaybe:
	default:
		return nil, &AnalysisError{Message: fmt.Sprintf("agent returned unknown status %q", output.Status)}
	}
	if output.Reasoning == "" {
		return nil, &AnalysisError{Message: "agent output missing reasoning"}
	}
	return &output, nil
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
