package conversation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"

	"github.com/junobot/juno/pkg/logging"
)

// GeminiClient implements LLMClient against Google's Gemini API. It holds a
// pool of API keys and rotates to the next key when the active one hits its
// quota, so a single rate-limited key does not take the backend down.
type GeminiClient struct {
	mu      sync.Mutex
	apiKeys []string
	current int
	client  *genai.Client

	modelID string
	logger  *logging.Logger

	newClient func(ctx context.Context, apiKey string) (*genai.Client, error)
}

// NewGeminiClient creates a client using the first key in the pool.
func NewGeminiClient(ctx context.Context, apiKeys []string, modelID string, logger *logging.Logger) (*GeminiClient, error) {
	if len(apiKeys) == 0 {
		return nil, errors.New("conversation: at least one gemini api key is required")
	}
	if strings.TrimSpace(modelID) == "" {
		modelID = "gemini-2.0-flash-001"
	}
	if logger == nil {
		logger = logging.Default()
	}

	c := &GeminiClient{
		apiKeys: apiKeys,
		modelID: modelID,
		logger:  logger,
		newClient: func(ctx context.Context, apiKey string) (*genai.Client, error) {
			return genai.NewClient(ctx, option.WithAPIKey(apiKey))
		},
	}
	client, err := c.newClient(ctx, apiKeys[0])
	if err != nil {
		return nil, fmt.Errorf("conversation: failed to create gemini client: %w", err)
	}
	c.client = client
	return c, nil
}

// Complete sends the request to Gemini, rotating API keys on quota errors
// until every key has been tried once.
func (c *GeminiClient) Complete(ctx context.Context, req LLMRequest) (LLMResponse, error) {
	var lastErr error
	for attempt := 0; attempt < len(c.apiKeys); attempt++ {
		resp, err := c.complete(ctx, req)
		if err == nil {
			return resp, nil
		}
		lastErr = err
		if !isQuotaError(err) {
			return LLMResponse{}, err
		}
		if rotateErr := c.rotateKey(ctx); rotateErr != nil {
			return LLMResponse{}, rotateErr
		}
	}
	return LLMResponse{}, fmt.Errorf("conversation: all gemini api keys exhausted: %w", lastErr)
}

func (c *GeminiClient) complete(ctx context.Context, req LLMRequest) (LLMResponse, error) {
	c.mu.Lock()
	client := c.client
	c.mu.Unlock()

	model := client.GenerativeModel(c.modelID)
	if req.Temperature > 0 {
		model.SetTemperature(req.Temperature)
	}
	if req.TopP > 0 {
		model.SetTopP(req.TopP)
	}
	if req.MaxTokens > 0 {
		model.SetMaxOutputTokens(req.MaxTokens)
	}

	if len(req.System) > 0 {
		systemText := strings.TrimSpace(strings.Join(req.System, "\n\n"))
		if systemText != "" {
			model.SystemInstruction = genai.NewUserContent(genai.Text(systemText))
		}
	}

	if len(req.Messages) == 0 {
		return LLMResponse{}, errors.New("conversation: gemini requires at least one message")
	}

	cs := model.StartChat()
	for _, msg := range req.Messages[:len(req.Messages)-1] {
		content := strings.TrimSpace(msg.Content)
		if content == "" {
			continue
		}
		role := "user"
		if msg.Role == ChatRoleAssistant {
			role = "model"
		}
		cs.History = append(cs.History, &genai.Content{
			Role:  role,
			Parts: []genai.Part{genai.Text(content)},
		})
	}

	last := req.Messages[len(req.Messages)-1]
	resp, err := cs.SendMessage(ctx, genai.Text(last.Content))
	if err != nil {
		return LLMResponse{}, fmt.Errorf("conversation: gemini completion failed: %w", err)
	}

	if len(resp.Candidates) == 0 {
		return LLMResponse{}, errors.New("conversation: gemini returned no candidates")
	}
	candidate := resp.Candidates[0]
	if candidate.Content == nil || len(candidate.Content.Parts) == 0 {
		return LLMResponse{}, errors.New("conversation: gemini returned empty content")
	}

	var text strings.Builder
	for _, part := range candidate.Content.Parts {
		if t, ok := part.(genai.Text); ok {
			text.WriteString(string(t))
		}
	}

	result := LLMResponse{
		Text:       strings.TrimSpace(text.String()),
		StopReason: fmt.Sprint(candidate.FinishReason),
	}
	if resp.UsageMetadata != nil {
		result.Usage = TokenUsage{
			InputTokens:  resp.UsageMetadata.PromptTokenCount,
			OutputTokens: resp.UsageMetadata.CandidatesTokenCount,
			TotalTokens:  resp.UsageMetadata.TotalTokenCount,
		}
	}
	return result, nil
}

// rotateKey advances to the next key in the pool and rebuilds the client.
func (c *GeminiClient) rotateKey(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	old := c.current
	c.current = (c.current + 1) % len(c.apiKeys)
	client, err := c.newClient(ctx, c.apiKeys[c.current])
	if err != nil {
		c.current = old
		return fmt.Errorf("conversation: failed to rotate gemini key: %w", err)
	}
	if c.client != nil {
		_ = c.client.Close()
	}
	c.client = client
	c.logger.Warn("rotated gemini api key", "from_index", old, "to_index", c.current)
	return nil
}

// Close releases the underlying client.
func (c *GeminiClient) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.client != nil {
		return c.client.Close()
	}
	return nil
}

// isQuotaError matches the rate-limit shapes Gemini returns across transports.
func isQuotaError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "quota") ||
		strings.Contains(msg, "rate limit") ||
		strings.Contains(msg, "resource exhausted") ||
		strings.Contains(msg, "429")
}
