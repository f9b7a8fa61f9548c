package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/go-resty/resty/v2"
	"github.com/kursadbilgin/notification-dispatch/internal/domain"
)

const DefaultTelegramBaseURL = "https://api.telegram.org"

type telegramRequest struct {
	ChatID    string `json:"chat_id"`
	Text      string `json:"text"`
	ParseMode string `json:"parse_mode,omitempty"`
}

type telegramResponse struct {
	OK     bool `json:"ok"`
	Result struct {
		MessageID int64 `json:"message_id"`
	} `json:"result"`
	Description string `json:"description"`
}

// TelegramAdapter delivers through the Telegram Bot API sendMessage method.
type TelegramAdapter struct {
	client  *resty.Client
	baseURL string
}

func NewTelegramAdapter(client *resty.Client, baseURL string) *TelegramAdapter {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		baseURL = DefaultTelegramBaseURL
	}
	return &TelegramAdapter{client: client, baseURL: baseURL}
}

func (a *TelegramAdapter) Send(ctx context.Context, cfg domain.ChannelConfig, content string, subject *string) (*AdapterResult, error) {
	if err := cfg.Settings.Validate(domain.ChannelTelegram); err != nil {
		return nil, &ProviderError{Message: "invalid telegram config", Retryable: false, Cause: err}
	}
	settings := cfg.Settings.Telegram

	endpoint := fmt.Sprintf("%s/bot%s/sendMessage", a.baseURL, settings.BotToken)
	result, _, err := postJSON(ctx, a.client, endpoint, nil, telegramRequest{
		ChatID:    settings.ChatID,
		Text:      withSubject(subject, content, "%s\n\n%s"),
		ParseMode: settings.ParseMode,
	})
	if err != nil {
		return nil, err
	}

	var body telegramResponse
	if jsonErr := json.Unmarshal([]byte(result.Body), &body); jsonErr == nil {
		if !body.OK {
			return nil, &ProviderError{
				StatusCode: result.StatusCode,
				Message:    "telegram rejected message: " + body.Description,
				Retryable:  false,
			}
		}
		if body.Result.MessageID != 0 {
			result.ProviderMessageID = strconv.FormatInt(body.Result.MessageID, 10)
		}
	}
	return result, nil
}
