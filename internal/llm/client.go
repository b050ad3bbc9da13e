// Package llm talks to hosted and local language models. Every provider
// implements Client and reports quota exhaustion as ErrQuotaExceeded.
package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"strings"
)

var (
	ErrQuotaExceeded = errors.New("llm quota exceeded")
	ErrEmptyResponse = errors.New("llm returned an empty response")
)

type Request struct {
	System      string
	Prompt      string
	Temperature float64
}

type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
}

type Response struct {
	Text     string `json:"text"`
	Provider string `json:"provider"`
	Model    string `json:"model"`
	Usage    Usage  `json:"usage"`
}

type Client interface {
	Complete(ctx context.Context, req Request) (Response, error)
}

// StatusError is a non-2xx answer from a provider. A 429, or a body
// reporting RESOURCE_EXHAUSTED, matches ErrQuotaExceeded under errors.Is.
type StatusError struct {
	Provider   string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	body := e.Body
	if len(body) > 512 {
		body = body[:512] + "..."
	}
	return fmt.Sprintf("%s request failed status=%d body=%s", e.Provider, e.StatusCode, body)
}

func (e *StatusError) Is(target error) bool {
	if target != ErrQuotaExceeded {
		return false
	}
	return e.StatusCode == http.StatusTooManyRequests || strings.Contains(e.Body, "RESOURCE_EXHAUSTED")
}

var fencedBlock = regexp.MustCompile("(?s)```[a-zA-Z]*\\s*(.*?)```")

// StripSQL removes markdown fences and stray backticks that models add around
// a query even when told not to.
func StripSQL(value string) string {
	trimmed := strings.TrimSpace(value)
	if match := fencedBlock.FindStringSubmatch(trimmed); match != nil {
		trimmed = match[1]
	} else if strings.HasPrefix(trimmed, "```") {
		trimmed = strings.TrimPrefix(trimmed, "```sql")
		trimmed = strings.TrimPrefix(trimmed, "```")
	}
	trimmed = strings.Trim(strings.TrimSpace(trimmed), "`")
	return strings.TrimSpace(trimmed)
}
