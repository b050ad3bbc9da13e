// Package chat holds in-memory chat sessions: the transcript, the recorded
// turns and the database connection each session talks to.
package chat

import (
	"time"

	"github.com/dbchat/dbchat/internal/query"
)

const Greeting = "Hello! I'm SQL assistant. Ask me anything about your database."

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

type Message struct {
	Role      Role      `json:"role"`
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"created_at"`
}

// Failure records why a turn fell back to the generic error answer.
type Failure struct {
	Stage     string `json:"stage"`
	Code      string `json:"code"`
	Retryable bool   `json:"retryable"`
	Detail    string `json:"detail,omitempty"`
}

type Turn struct {
	Index     int           `json:"index"`
	Question  string        `json:"question"`
	SQL       string        `json:"sql,omitempty"`
	Result    *query.Result `json:"result,omitempty"`
	Answer    string        `json:"answer"`
	Failure   *Failure      `json:"failure,omitempty"`
	StartedAt time.Time     `json:"started_at"`
	Duration  time.Duration `json:"duration_ns"`
}
