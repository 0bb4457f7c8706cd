package classifier

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"chat-order-service/internal/util"

	"go.uber.org/zap"
)

const systemPromptTemplate = `You are an Order Management Assistant.
Current Time: %s

Classify the user's intent:
1. NEW_ORDER: User is buying (e.g. "Bella pesan...", "Order 2...", "Beli...").
2. CONFIRM: User agrees (e.g. "Ok", "Ya", "Ok 15").
3. CANCEL: User cancels a specific order (e.g. "Batal 12", "Cancel #5").
4. LIST_ORDERS: User wants to see the list (e.g. "Cek order", "List hari ini").
5. UNKNOWN: Anything else.

Reply with JSON only:
{
    "intent": "NEW_ORDER" | "CONFIRM" | "CANCEL" | "LIST_ORDERS" | "UNKNOWN",
    "items": [
        {"description": "kue cubit", "quantity": 1, "price": 100000, "client_name": "Bella"}
    ],
    "due_date": "YYYY-MM-DD HH:MM:SS",
    "order_id": integer,
    "confidence": float between 0.0 and 1.0
}

Rules:
1. "items" MUST be a list of OBJECTS, never a list of strings.
2. Client name: "Bella pesan 1 kue" -> "Bella"; "Pesan 1 kue buat Budi" -> "Budi"; if no name is found use "Owner".
3. Price: "100k" = 100000, "50rb" = 50000.
4. Convert relative dates ("besok", "tomorrow") to absolute dates; if no time is given use 09:00:00.`

// Client calls an OpenAI-compatible chat completions endpoint
type Client struct {
	baseURL     string
	apiKey      string
	model       string
	temperature float64
	loc         *time.Location
	httpClient  *http.Client
	logger      *zap.Logger
}

// Config holds the classifier connection settings
type Config struct {
	BaseURL     string
	APIKey      string
	Model       string
	Temperature float64
	Timeout     time.Duration
	Location    *time.Location
}

// NewClient creates a new classifier client
func NewClient(cfg Config) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	return &Client{
		baseURL:     strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:      cfg.APIKey,
		model:       cfg.Model,
		temperature: cfg.Temperature,
		loc:         cfg.Location,
		httpClient:  &http.Client{Timeout: cfg.Timeout},
		logger:      util.GetLogger(),
	}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
	Stream      bool          `json:"stream"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

// Classify sends the message text to the model and parses its answer.
// Every failure is reported as ErrClassification.
func (c *Client) Classify(ctx context.Context, text string, now time.Time) (*Classification, error) {
	ctx, span := util.StartSpan(ctx, "Classifier.Classify")
	defer span.End()

	start := time.Now()
	defer func() {
		util.ClassifierLatency.Observe(time.Since(start).Seconds())
	}()

	content, err := c.complete(ctx, text, now)
	if err != nil {
		c.logger.Warn("Classifier request failed", zap.Error(err))
		return nil, fmt.Errorf("%w: %v", ErrClassification, err)
	}

	result, err := Parse(content, c.loc)
	if err != nil {
		c.logger.Warn("Classifier returned non-conforming output",
			zap.String("content", content),
			zap.Error(err))
		return nil, err
	}

	c.logger.Debug("Message classified",
		zap.String("intent", string(result.Intent)),
		zap.Int("items", len(result.Items)))
	return result, nil
}

func (c *Client) complete(ctx context.Context, text string, now time.Time) (string, error) {
	reqBody := chatRequest{
		Model: c.model,
		Messages: []chatMessage{
			{Role: "system", Content: fmt.Sprintf(systemPromptTemplate, now.In(c.loc).Format("2006-01-02 15:04"))},
			{Role: "user", Content: text},
		},
		Temperature: c.temperature,
	}

	jsonBody, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(jsonBody))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return "", fmt.Errorf("unexpected status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var chatResp chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&chatResp); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}
	if len(chatResp.Choices) == 0 {
		return "", fmt.Errorf("empty choices in response")
	}
	return chatResp.Choices[0].Message.Content, nil
}
