package dbchatctl

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

type Options struct {
	BaseURL    string
	SessionID  string
	Timeout    time.Duration
	HTTPClient *http.Client
	Stdout     io.Writer
	Stderr     io.Writer
}

type request struct {
	method string
	path   string
	body   any
}

func Run(ctx context.Context, args []string, defaults Options) int {
	stdout := defaults.Stdout
	if stdout == nil {
		stdout = io.Discard
	}
	stderr := defaults.Stderr
	if stderr == nil {
		stderr = io.Discard
	}

	fs := flag.NewFlagSet("dbchatctl", flag.ContinueOnError)
	fs.SetOutput(stderr)

	baseURL := fs.String("base-url", firstNonEmpty(defaults.BaseURL, "http://localhost:8080"), "dbchat API base URL")
	sessionID := fs.String("session", defaults.SessionID, "session id for session commands")
	timeout := fs.Duration("timeout", durationOr(defaults.Timeout, 120*time.Second), "HTTP timeout (e.g. 30s)")

	if err := fs.Parse(args); err != nil {
		return 2
	}
	if fs.NArg() < 1 {
		writeUsage(stderr)
		return 2
	}

	client := defaults.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: *timeout}
	}

	command := strings.TrimSpace(fs.Arg(0))
	req, err := buildRequest(command, strings.TrimSpace(*sessionID), fs.Args()[1:], stderr)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "%v\n\n", err)
		writeUsage(stderr)
		return 2
	}

	endpoint := strings.TrimRight(*baseURL, "/") + req.path
	code, responseBody, err := doRequest(ctx, client, req.method, endpoint, req.body)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "request failed: %v\n", err)
		return 1
	}

	if code >= 400 {
		_, _ = fmt.Fprintf(stderr, "http %d: %s\n", code, strings.TrimSpace(string(responseBody)))
		return 1
	}

	if pretty, ok := prettyJSON(responseBody); ok {
		_, _ = fmt.Fprintln(stdout, pretty)
		return 0
	}
	if len(responseBody) > 0 {
		_, _ = fmt.Fprintln(stdout, string(responseBody))
	}
	return 0
}

func buildRequest(command, sessionID string, rest []string, stderr io.Writer) (request, error) {
	switch command {
	case "health":
		return request{method: http.MethodGet, path: "/v1/health"}, nil
	case "ready":
		return request{method: http.MethodGet, path: "/v1/ready"}, nil
	case "session-create":
		return request{method: http.MethodPost, path: "/v1/sessions"}, nil
	case "session-list":
		return request{method: http.MethodGet, path: "/v1/sessions"}, nil
	}

	if sessionID == "" {
		return request{}, fmt.Errorf("command %q requires -session", command)
	}
	sessionPath := "/v1/sessions/" + url.PathEscape(sessionID)

	switch command {
	case "session-get":
		return request{method: http.MethodGet, path: sessionPath}, nil
	case "session-delete":
		return request{method: http.MethodDelete, path: sessionPath}, nil
	case "schema":
		return request{method: http.MethodGet, path: sessionPath + "/schema"}, nil
	case "export":
		return request{method: http.MethodPost, path: sessionPath + "/export"}, nil
	case "ask":
		text := strings.TrimSpace(strings.Join(rest, " "))
		if text == "" {
			return request{}, fmt.Errorf("ask requires a question")
		}
		return request{method: http.MethodPost, path: sessionPath + "/messages", body: map[string]string{"text": text}}, nil
	case "connect":
		body, err := parseConnectFlags(rest, stderr)
		if err != nil {
			return request{}, err
		}
		return request{method: http.MethodPost, path: sessionPath + "/connect", body: body}, nil
	default:
		return request{}, fmt.Errorf("unknown command %q", command)
	}
}

func parseConnectFlags(args []string, stderr io.Writer) (map[string]any, error) {
	fs := flag.NewFlagSet("connect", flag.ContinueOnError)
	fs.SetOutput(stderr)
	dialect := fs.String("dialect", "mysql", "mysql, postgres, duckdb or sqlite")
	host := fs.String("host", "localhost", "database host")
	port := fs.Int("port", 0, "database port (dialect default when 0)")
	user := fs.String("user", "root", "database user")
	password := fs.String("password", "", "database password")
	database := fs.String("database", "chinook", "database name or file path")
	dsn := fs.String("dsn", "", "full driver DSN; overrides the other flags")
	if err := fs.Parse(args); err != nil {
		return nil, fmt.Errorf("connect flags: %w", err)
	}

	body := map[string]any{"dialect": *dialect}
	if strings.TrimSpace(*dsn) != "" {
		body["dsn"] = strings.TrimSpace(*dsn)
		return body, nil
	}
	body["host"] = *host
	body["port"] = *port
	body["user"] = *user
	body["password"] = *password
	body["database"] = *database
	return body, nil
}

func doRequest(ctx context.Context, client *http.Client, method, endpoint string, payload any) (int, []byte, error) {
	var body io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return 0, nil, err
		}
		body = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := client.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, err
	}
	return resp.StatusCode, raw, nil
}

func prettyJSON(raw []byte) (string, bool) {
	if len(bytes.TrimSpace(raw)) == 0 {
		return "", false
	}
	var anyValue any
	if err := json.Unmarshal(raw, &anyValue); err != nil {
		return "", false
	}
	formatted, err := json.MarshalIndent(anyValue, "", "  ")
	if err != nil {
		return "", false
	}
	return string(formatted), true
}

func writeUsage(w io.Writer) {
	_, _ = fmt.Fprintln(w, "usage: dbchatctl [flags] <command> [args]")
	_, _ = fmt.Fprintln(w, "")
	_, _ = fmt.Fprintln(w, "commands:")
	_, _ = fmt.Fprintln(w, "  health                 GET /v1/health")
	_, _ = fmt.Fprintln(w, "  ready                  GET /v1/ready")
	_, _ = fmt.Fprintln(w, "  session-create         POST /v1/sessions")
	_, _ = fmt.Fprintln(w, "  session-list           GET /v1/sessions")
	_, _ = fmt.Fprintln(w, "  session-get            GET /v1/sessions/{id}")
	_, _ = fmt.Fprintln(w, "  session-delete         DELETE /v1/sessions/{id}")
	_, _ = fmt.Fprintln(w, "  connect [db flags]     POST /v1/sessions/{id}/connect")
	_, _ = fmt.Fprintln(w, "  schema                 GET /v1/sessions/{id}/schema")
	_, _ = fmt.Fprintln(w, "  ask <question>         POST /v1/sessions/{id}/messages")
	_, _ = fmt.Fprintln(w, "  export                 POST /v1/sessions/{id}/export")
}

func firstNonEmpty(a, b string) string {
	if strings.TrimSpace(a) != "" {
		return strings.TrimSpace(a)
	}
	return b
}

func durationOr(v, fallback time.Duration) time.Duration {
	if v > 0 {
		return v
	}
	return fallback
}
