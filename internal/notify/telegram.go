package notify

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

	"nse-alerts/internal/config"
	apperrors "nse-alerts/internal/errors"
	"nse-alerts/internal/security"
	"nse-alerts/pkg/utils"
)

// DefaultTelegramAPI is the Bot API base URL.
const DefaultTelegramAPI = "https://api.telegram.org"

var errTransient = errors.New("transient telegram failure")

// TelegramTransport sends HTML messages through a Telegram bot.
type TelegramTransport struct {
	token          string
	apiBase        string
	disablePreview bool
	client         *http.Client
	retry          utils.RetryConfig
}

// NewTelegramTransport creates a new TelegramTransport.
func NewTelegramTransport(cfg config.TelegramConfig, timeout time.Duration) *TelegramTransport {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	apiBase := strings.TrimRight(cfg.APIBase, "/")
	if apiBase == "" {
		apiBase = DefaultTelegramAPI
	}

	retry := utils.DefaultRetryConfig()
	retry.InitialDelay = time.Second
	retry.MaxDelay = 30 * time.Second
	if cfg.MaxRetries > 0 {
		retry.MaxAttempts = cfg.MaxRetries
	}
	retry.Retryable = func(err error) bool {
		var ra *utils.RetryAfterError
		return errors.As(err, &ra) || errors.Is(err, errTransient)
	}

	return &TelegramTransport{
		token:          cfg.BotToken,
		apiBase:        apiBase,
		disablePreview: cfg.DisablePreview,
		client:         &http.Client{Timeout: timeout},
		retry:          retry,
	}
}

type telegramResponse struct {
	OK          bool   `json:"ok"`
	ErrorCode   int    `json:"error_code"`
	Description string `json:"description"`
	Parameters  struct {
		RetryAfter int `json:"retry_after"`
	} `json:"parameters"`
}

// Send posts text to chatID. Rate-limit replies are retried after the
// delay the API asks for. The bot token never appears in returned errors.
func (t *TelegramTransport) Send(ctx context.Context, chatID, text string) error {
	err := utils.Retry(ctx, t.retry, func() error {
		return t.send(ctx, chatID, text)
	})
	return security.RedactError(err, t.token)
}

func (t *TelegramTransport) send(ctx context.Context, chatID, text string) error {
	payload := map[string]interface{}{
		"chat_id":                  chatID,
		"text":                     text,
		"parse_mode":               "HTML",
		"disable_web_page_preview": t.disablePreview,
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshaling telegram payload: %w", err)
	}

	url := fmt.Sprintf("%s/bot%s/sendMessage", t.apiBase, t.token)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("creating telegram request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return fmt.Errorf("sending telegram message: %w", err)
		}
		return fmt.Errorf("%w: sending telegram message: %v", errTransient, err)
	}
	defer resp.Body.Close()

	var tr telegramResponse
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	_ = json.Unmarshal(raw, &tr)

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		after := time.Duration(tr.Parameters.RetryAfter) * time.Second
		if after <= 0 {
			after = time.Second
		}
		return &utils.RetryAfterError{
			After: after,
			Err:   fmt.Errorf("%w: telegram: %s", apperrors.ErrRateLimited, describe(tr, resp.StatusCode)),
		}
	case resp.StatusCode >= 500:
		return fmt.Errorf("%w: telegram API returned status %d: %s", errTransient, resp.StatusCode, describe(tr, resp.StatusCode))
	case resp.StatusCode != http.StatusOK || !tr.OK:
		return fmt.Errorf("telegram API returned status %d: %s", resp.StatusCode, describe(tr, resp.StatusCode))
	}
	return nil
}

func describe(tr telegramResponse, status int) string {
	if tr.Description != "" {
		return tr.Description
	}
	return http.StatusText(status)
}
