package assistant

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"
	"testing"

	"github.com/dbchat/dbchat/internal/chat"
	"github.com/dbchat/dbchat/internal/llm"
	"github.com/dbchat/dbchat/internal/query"
	"github.com/dbchat/dbchat/internal/query/sqldb"
)

type scriptedLLM struct {
	mu        sync.Mutex
	responses []llm.Response
	errs      []error
	prompts   []string
}

func (s *scriptedLLM) Complete(_ context.Context, req llm.Request) (llm.Response, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := len(s.prompts)
	s.prompts = append(s.prompts, req.Prompt)
	if i < len(s.errs) && s.errs[i] != nil {
		return llm.Response{}, s.errs[i]
	}
	if i < len(s.responses) {
		return s.responses[i], nil
	}
	return llm.Response{}, errors.New("unexpected call")
}

type fakeExecutor struct {
	result   query.Result
	err      error
	requests []query.Request
}

func (f *fakeExecutor) Execute(_ context.Context, req query.Request) (query.Result, error) {
	f.requests = append(f.requests, req)
	if f.err != nil {
		return query.Result{}, f.err
	}
	return f.result, nil
}

func (f *fakeExecutor) Close() error { return nil }

func connectedSession(t *testing.T, exec query.Executor) *chat.Session {
	t.Helper()
	session := chat.NewStore().Create()
	if err := session.SetConnection(&chat.Connection{
		Settings:   sqldb.Settings{Dialect: sqldb.MySQL},
		Executor:   exec,
		SchemaText: "CREATE TABLE Artist (\n\tArtistId int NOT NULL\n)",
	}); err != nil {
		t.Fatalf("SetConnection() error = %v", err)
	}
	return session
}

func TestAskAnswersQuestion(t *testing.T) {
	model := &scriptedLLM{responses: []llm.Response{
		{Text: "```sql\nSELECT COUNT(*) AS n FROM Artist;\n```"},
		{Text: "There are 275 artists."},
	}}
	exec := &fakeExecutor{result: query.Result{Columns: []string{"n"}, Rows: [][]any{{int64(275)}}}}
	session := connectedSession(t, exec)

	turn, err := New(model, Config{RowLimit: 50}, nil, nil).Ask(context.Background(), session, "  How many artists are there?  ")
	if err != nil {
		t.Fatalf("Ask() error = %v", err)
	}
	if turn.Index != 1 || turn.Failure != nil {
		t.Fatalf("turn = %#v", turn)
	}
	if turn.SQL != "SELECT COUNT(*) AS n FROM Artist;" || turn.Answer != "There are 275 artists." {
		t.Fatalf("turn = %#v", turn)
	}
	if len(exec.requests) != 1 || exec.requests[0].RowLimit != 50 {
		t.Fatalf("executor requests = %#v", exec.requests)
	}

	transcript := session.Transcript()
	if len(transcript) != 3 {
		t.Fatalf("transcript len = %d", len(transcript))
	}
	if transcript[1].Role != chat.RoleUser || transcript[1].Text != "How many artists are there?" {
		t.Fatalf("user message = %#v", transcript[1])
	}
	if transcript[2].Role != chat.RoleAssistant || transcript[2].Text != "There are 275 artists." {
		t.Fatalf("assistant message = %#v", transcript[2])
	}

	if !strings.Contains(model.prompts[0], "Human: How many artists are there?") {
		t.Fatalf("SQL prompt should carry the new question in history:\n%s", model.prompts[0])
	}
	if !strings.Contains(model.prompts[1], "SQL Query: <SQL>SELECT COUNT(*) AS n FROM Artist;</SQL>") ||
		!strings.Contains(model.prompts[1], "SQL Response: \nn\n275") {
		t.Fatalf("answer prompt:\n%s", model.prompts[1])
	}
}

func TestAskQuotaExceededYieldsGenericAnswer(t *testing.T) {
	model := &scriptedLLM{errs: []error{&llm.StatusError{Provider: "gemini", StatusCode: http.StatusTooManyRequests}}}
	exec := &fakeExecutor{}
	session := connectedSession(t, exec)

	turn, err := New(model, Config{}, nil, nil).Ask(context.Background(), session, "How many albums?")
	if err != nil {
		t.Fatalf("Ask() error = %v", err)
	}
	if turn.Failure == nil || turn.Failure.Code != CodeQuotaExceeded || turn.Failure.Stage != StageGenerateSQL || !turn.Failure.Retryable {
		t.Fatalf("failure = %#v", turn.Failure)
	}
	if turn.Answer != GenericErrorMessage {
		t.Fatalf("answer = %q", turn.Answer)
	}
	if len(exec.requests) != 0 {
		t.Fatal("executor must not run after SQL generation failed")
	}
	transcript := session.Transcript()
	if len(transcript) != 3 || transcript[2].Text != GenericErrorMessage {
		t.Fatalf("transcript = %#v", transcript)
	}
}

func TestAskRejectedStatementIsSQLNotAllowed(t *testing.T) {
	model := &scriptedLLM{responses: []llm.Response{{Text: "DELETE FROM Artist"}}}
	exec := &fakeExecutor{err: query.ErrNotAllowed}
	session := connectedSession(t, exec)

	turn, err := New(model, Config{}, nil, nil).Ask(context.Background(), session, "remove all artists")
	if err != nil {
		t.Fatalf("Ask() error = %v", err)
	}
	if turn.Failure == nil || turn.Failure.Code != CodeSQLNotAllowed || turn.Failure.Stage != StageExecuteSQL {
		t.Fatalf("failure = %#v", turn.Failure)
	}
	if turn.SQL != "DELETE FROM Artist" {
		t.Fatalf("SQL = %q", turn.SQL)
	}
}

func TestAskSQLErrorAndSummarizeError(t *testing.T) {
	model := &scriptedLLM{responses: []llm.Response{{Text: "SELECT nope FROM Artist"}}}
	session := connectedSession(t, &fakeExecutor{err: errors.New("unknown column")})
	turn, err := New(model, Config{}, nil, nil).Ask(context.Background(), session, "q1")
	if err != nil {
		t.Fatalf("Ask() error = %v", err)
	}
	if turn.Failure == nil || turn.Failure.Code != CodeSQLFailed || turn.Failure.Retryable {
		t.Fatalf("failure = %#v", turn.Failure)
	}

	model = &scriptedLLM{
		responses: []llm.Response{{Text: "SELECT 1"}},
		errs:      []error{nil, errors.New("connection reset")},
	}
	session = connectedSession(t, &fakeExecutor{result: query.Result{Columns: []string{"1"}, Rows: [][]any{{int64(1)}}}})
	turn, err = New(model, Config{}, nil, nil).Ask(context.Background(), session, "q2")
	if err != nil {
		t.Fatalf("Ask() error = %v", err)
	}
	if turn.Failure == nil || turn.Failure.Code != CodeLLMFailed || turn.Failure.Stage != StageSummarize {
		t.Fatalf("failure = %#v", turn.Failure)
	}
	if turn.Result == nil {
		t.Fatal("result should be kept when only summarization failed")
	}
}

func TestAskWithoutConnectionLeavesTranscriptUnchanged(t *testing.T) {
	session := chat.NewStore().Create()
	_, err := New(&scriptedLLM{}, Config{}, nil, nil).Ask(context.Background(), session, "hello?")
	if !errors.Is(err, ErrNotConnected) {
		t.Fatalf("Ask() error = %v", err)
	}
	if len(session.Transcript()) != 1 || len(session.Turns()) != 0 {
		t.Fatalf("transcript = %#v", session.Transcript())
	}
}

func TestAskValidatesQuestion(t *testing.T) {
	session := connectedSession(t, &fakeExecutor{})
	a := New(&scriptedLLM{}, Config{MaxQuestionLength: 5}, nil, nil)
	if _, err := a.Ask(context.Background(), session, "   "); !errors.Is(err, ErrEmptyQuestion) {
		t.Fatalf("Ask(empty) error = %v", err)
	}
	if _, err := a.Ask(context.Background(), session, "too long question"); !errors.Is(err, ErrQuestionTooLong) {
		t.Fatalf("Ask(long) error = %v", err)
	}
	if len(session.Transcript()) != 1 {
		t.Fatalf("transcript len = %d", len(session.Transcript()))
	}
}

func TestTranscriptGrowsByTwoPerTurn(t *testing.T) {
	model := &scriptedLLM{
		responses: []llm.Response{{Text: "SELECT 1"}, {Text: "one"}, {}, {Text: "SELECT 2"}, {Text: "two"}},
		errs:      []error{nil, nil, errors.New("boom")},
	}
	session := connectedSession(t, &fakeExecutor{result: query.Result{Columns: []string{"x"}, Rows: [][]any{{int64(1)}}}})
	a := New(model, Config{}, nil, nil)
	for i, q := range []string{"first", "second", "third"} {
		before := len(session.Transcript())
		if _, err := a.Ask(context.Background(), session, q); err != nil {
			t.Fatalf("Ask(%q) error = %v", q, err)
		}
		if got := len(session.Transcript()); got != before+2 {
			t.Fatalf("turn %d: transcript %d -> %d", i, before, got)
		}
	}
	turns := session.Turns()
	if len(turns) != 3 || turns[1].Failure == nil || turns[2].Answer != "two" {
		t.Fatalf("turns = %#v", turns)
	}
}
