package provider

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-resty/resty/v2"
)

// postJSON sends body and maps transport failures and non-2xx replies onto
// ProviderError.
func postJSON(ctx context.Context, client *resty.Client, endpoint string, headers map[string]string, body any) (*AdapterResult, *resty.Response, error) {
	if client == nil {
		return nil, nil, Permanent("http client is not initialized")
	}

	response, err := client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetHeaders(headers).
		SetBody(body).
		Post(endpoint)
	if err != nil {
		return nil, nil, &ProviderError{
			Message:   "provider request failed",
			Retryable: true,
			Cause:     err,
		}
	}
	if response == nil {
		return nil, nil, &ProviderError{
			Message:   "provider returned empty response",
			Retryable: true,
		}
	}

	statusCode := response.StatusCode()
	responseBody := strings.TrimSpace(response.String())

	if statusCode >= http.StatusOK && statusCode < http.StatusMultipleChoices {
		return &AdapterResult{
			StatusCode:        statusCode,
			Body:              responseBody,
			ProviderMessageID: providerMessageID(response),
		}, response, nil
	}

	return nil, response, &ProviderError{
		StatusCode: statusCode,
		Message:    providerErrorMessage(statusCode, responseBody),
		Retryable:  isRetryableHTTPStatus(statusCode),
	}
}

func isRetryableHTTPStatus(statusCode int) bool {
	return statusCode == http.StatusTooManyRequests ||
		statusCode == http.StatusRequestTimeout ||
		(statusCode >= http.StatusInternalServerError && statusCode <= 599)
}

// maxErrorBodyRunes caps how much of a provider response lands in the attempt error.
const maxErrorBodyRunes = 512

func providerErrorMessage(statusCode int, body string) string {
	base := fmt.Sprintf("provider returned status %d", statusCode)
	if body == "" {
		return base
	}
	if runes := []rune(body); len(runes) > maxErrorBodyRunes {
		body = string(runes[:maxErrorBodyRunes])
	}
	return fmt.Sprintf("%s: %s", base, body)
}

func providerMessageID(response *resty.Response) string {
	if response == nil {
		return ""
	}

	for _, key := range []string{"X-Request-ID", "X-Request-Id", "X-Correlation-ID", "X-Correlation-Id"} {
		if value := strings.TrimSpace(response.Header().Get(key)); value != "" {
			return value
		}
	}

	return ""
}
