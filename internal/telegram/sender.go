package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/junobot/juno/internal/messaging"
	"github.com/junobot/juno/pkg/logging"
)

var sendTracer = otel.Tracer("juno.internal.telegram.send")

const defaultAPIBaseURL = "https://api.telegram.org"

// Sender delivers messages through the Telegram Bot API.
type Sender struct {
	token      string
	baseURL    string
	httpClient *http.Client
	logger     *logging.Logger
}

// NewSender builds a sender for the given bot token.
func NewSender(token string, logger *logging.Logger) *Sender {
	if logger == nil {
		logger = logging.Default()
	}
	return &Sender{
		token:   token,
		baseURL: defaultAPIBaseURL,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
		logger: logger,
	}
}

var _ messaging.Sender = (*Sender)(nil)

type sendMessageRequest struct {
	ChatID string `json:"chat_id"`
	Text   string `json:"text"`
}

type apiResponse struct {
	OK          bool   `json:"ok"`
	ErrorCode   int    `json:"error_code"`
	Description string `json:"description"`
}

// Send posts one message, retrying transient failures. Permanent rejections
// (blocked bot, deleted chat) map to messaging.ErrPermanentlyUnreachable.
func (s *Sender) Send(ctx context.Context, recipientID, text string) error {
	if s.token == "" {
		return errors.New("telegram: bot token missing")
	}
	if recipientID == "" {
		return errors.New("telegram: recipient required")
	}
	if strings.TrimSpace(text) == "" {
		return errors.New("telegram: text required")
	}

	ctx, span := sendTracer.Start(ctx, "telegram.send_message")
	defer span.End()
	span.SetAttributes(attribute.String("juno.recipient_id", recipientID))

	body, err := json.Marshal(sendMessageRequest{ChatID: recipientID, Text: text})
	if err != nil {
		return fmt.Errorf("telegram: failed to marshal send payload: %w", err)
	}

	var lastErr error
	for attempt := 1; attempt <= 3; attempt++ {
		err := s.post(ctx, body)
		if err == nil {
			return nil
		}
		if errors.Is(err, messaging.ErrPermanentlyUnreachable) {
			span.RecordError(err)
			return err
		}
		lastErr = err
		s.logger.Warn("telegram send attempt failed",
			"recipient_id", recipientID,
			"attempt", attempt,
			"error", err.Error(),
		)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Duration(attempt) * 250 * time.Millisecond):
		}
	}
	span.RecordError(lastErr)
	return fmt.Errorf("telegram: send failed after retries: %w", lastErr)
}

func (s *Sender) post(ctx context.Context, body []byte) error {
	url := fmt.Sprintf("%s/bot%s/sendMessage", s.baseURL, s.token)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("telegram: failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("telegram: request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
	if err != nil {
		return fmt.Errorf("telegram: failed to read response: %w", err)
	}

	var api apiResponse
	if err := json.Unmarshal(data, &api); err != nil {
		return fmt.Errorf("telegram: unexpected response (status %d): %w", resp.StatusCode, err)
	}
	if api.OK {
		return nil
	}

	if isPermanentRejection(api) {
		return fmt.Errorf("%w: %s", messaging.ErrPermanentlyUnreachable, api.Description)
	}
	return fmt.Errorf("telegram: api error %d: %s", api.ErrorCode, api.Description)
}

// isPermanentRejection matches the Bot API shapes that mean this chat can
// never be delivered to again.
func isPermanentRejection(api apiResponse) bool {
	desc := strings.ToLower(api.Description)
	if api.ErrorCode == http.StatusForbidden {
		return true
	}
	return strings.Contains(desc, "bot was blocked") ||
		strings.Contains(desc, "chat not found") ||
		strings.Contains(desc, "user is deactivated") ||
		strings.Contains(desc, "bot was kicked")
}
