package decision

import (
	"context"
	"errors"
	"net"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	openai "github.com/sashabaranov/go-openai"
)

// IsRetryable reports whether a model error is worth retrying: rate limits,
// server errors, timeouts, dropped connections and empty replies.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, ErrEmptyReply) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var oaiAPI *openai.APIError
	if errors.As(err, &oaiAPI) {
		return retryableStatus(oaiAPI.HTTPStatusCode)
	}
	var oaiReq *openai.RequestError
	if errors.As(err, &oaiReq) {
		return retryableStatus(oaiReq.HTTPStatusCode)
	}
	var antErr *anthropic.Error
	if errors.As(err, &antErr) {
		return retryableStatus(antErr.StatusCode)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	msg := strings.ToLower(err.Error())
	for _, marker := range []string{
		"rate limit", "rate_limit", "too many requests", "throttling",
		"service unavailable", "serviceunavailable", "internal server error",
		"timeout", "connection reset", "connection refused",
	} {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}

func retryableStatus(code int) bool {
	return code == 408 || code == 429 || code >= 500
}
