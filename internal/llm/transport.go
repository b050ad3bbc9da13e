package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

type jsonTransport struct {
	provider string
	baseURL  string
	headers  map[string]string
	client   *http.Client
}

func newJSONTransport(provider, baseURL string, timeout time.Duration, headers map[string]string) jsonTransport {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return jsonTransport{
		provider: provider,
		baseURL:  strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		headers:  headers,
		client:   &http.Client{Timeout: timeout},
	}
}

func (t jsonTransport) post(ctx context.Context, path string, payload any, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s payload: %w", t.provider, err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, t.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build %s request: %w", t.provider, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	for key, value := range t.headers {
		httpReq.Header.Set(key, value)
	}

	resp, err := t.client.Do(httpReq)
	if err != nil {
		return fmt.Errorf("request %s completion: %w", t.provider, err)
	}
	defer func() { _ = resp.Body.Close() }()

	rawRespBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read %s response body: %w", t.provider, err)
	}
	if resp.StatusCode >= 400 {
		return &StatusError{Provider: t.provider, StatusCode: resp.StatusCode, Body: string(rawRespBody)}
	}
	if err := json.Unmarshal(rawRespBody, out); err != nil {
		return fmt.Errorf("decode %s response: %w", t.provider, err)
	}
	return nil
}
