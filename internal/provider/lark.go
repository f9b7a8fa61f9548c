package provider

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/kursadbilgin/notification-dispatch/internal/domain"
)

type larkRequest struct {
	Timestamp string          `json:"timestamp,omitempty"`
	Sign      string          `json:"sign,omitempty"`
	MsgType   string          `json:"msg_type"`
	Content   larkTextContent `json:"content"`
}

type larkTextContent struct {
	Text string `json:"text"`
}

type larkResponse struct {
	Code int    `json:"code"`
	Msg  string `json:"msg"`
}

// LarkAdapter delivers through a Lark custom bot webhook.
type LarkAdapter struct {
	client *resty.Client
	now    func() time.Time
}

func NewLarkAdapter(client *resty.Client) *LarkAdapter {
	return &LarkAdapter{client: client, now: time.Now}
}

func (a *LarkAdapter) Send(ctx context.Context, cfg domain.ChannelConfig, content string, subject *string) (*AdapterResult, error) {
	if err := cfg.Settings.Validate(domain.ChannelLark); err != nil {
		return nil, &ProviderError{Message: "invalid lark config", Retryable: false, Cause: err}
	}
	settings := cfg.Settings.Lark

	req := larkRequest{
		MsgType: "text",
		Content: larkTextContent{Text: withSubject(subject, content, "%s\n%s")},
	}
	if settings.Secret != "" {
		ts := a.now().Unix()
		req.Timestamp = strconv.FormatInt(ts, 10)
		req.Sign = larkSign(settings.Secret, ts)
	}

	result, _, err := postJSON(ctx, a.client, settings.WebhookURL, nil, req)
	if err != nil {
		return nil, err
	}

	// Lark answers 200 with a non-zero code for rejected messages.
	var body larkResponse
	if jsonErr := json.Unmarshal([]byte(result.Body), &body); jsonErr == nil && body.Code != 0 {
		return nil, &ProviderError{
			StatusCode: result.StatusCode,
			Message:    "lark rejected message: " + body.Msg,
			Retryable:  false,
		}
	}
	return result, nil
}
