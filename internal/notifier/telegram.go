package notifier

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

	"chat-order-service/internal/util"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// ErrNotConfigured is returned when no bot token is set
var ErrNotConfigured = errors.New("telegram bot token not configured")

// Telegram delivers replies through the Bot API sendMessage method
type Telegram struct {
	apiURL     string
	token      string
	limiter    *rate.Limiter
	httpClient *http.Client
	logger     *zap.Logger
}

// Config holds the Telegram notifier settings
type Config struct {
	APIURL        string
	Token         string
	RatePerSecond float64
	Timeout       time.Duration
}

// NewTelegram creates a new Telegram notifier
func NewTelegram(cfg Config) *Telegram {
	if cfg.APIURL == "" {
		cfg.APIURL = "https://api.telegram.org"
	}
	if cfg.RatePerSecond <= 0 {
		cfg.RatePerSecond = 25
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	return &Telegram{
		apiURL:     strings.TrimRight(cfg.APIURL, "/"),
		token:      cfg.Token,
		limiter:    rate.NewLimiter(rate.Limit(cfg.RatePerSecond), int(cfg.RatePerSecond)+1),
		httpClient: &http.Client{Timeout: cfg.Timeout},
		logger:     util.GetLogger(),
	}
}

type sendMessageRequest struct {
	ChatID    string `json:"chat_id"`
	Text      string `json:"text"`
	ParseMode string `json:"parse_mode,omitempty"`
}

// Send posts text to the chat. Errors are returned for logging only.
func (t *Telegram) Send(ctx context.Context, chatID, text string) error {
	ctx, span := util.StartSpan(ctx, "Telegram.Send")
	defer span.End()

	if t.token == "" {
		return ErrNotConfigured
	}
	if err := t.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limiter: %w", err)
	}

	body, err := json.Marshal(sendMessageRequest{ChatID: chatID, Text: text, ParseMode: "Markdown"})
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	url := fmt.Sprintf("%s/bot%s/sendMessage", t.apiURL, t.token)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("send message: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("telegram send error: status=%d body=%s", resp.StatusCode, strings.TrimSpace(string(respBody)))
	}
	return nil
}
