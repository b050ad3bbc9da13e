// Package assistant runs one chat turn: question to SQL, SQL to rows, rows
// to a prose answer.
package assistant

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"

	"github.com/dbchat/dbchat/internal/chat"
	"github.com/dbchat/dbchat/internal/llm"
	"github.com/dbchat/dbchat/internal/observability"
	"github.com/dbchat/dbchat/internal/prompt"
	"github.com/dbchat/dbchat/internal/query"
)

const (
	GenericErrorMessage = "An error occurred while processing your request. This could be due to hitting the API limit or other issues. Please try again later."
	NotConnectedMessage = "Database not connected. Please connect to the database first."
)

const (
	StageGenerateSQL = "generate_sql"
	StageExecuteSQL  = "execute_sql"
	StageSummarize   = "summarize"
)

const (
	CodeQuotaExceeded = "LLM_QUOTA_EXCEEDED"
	CodeLLMFailed     = "LLM_FAILED"
	CodeSQLNotAllowed = "SQL_NOT_ALLOWED"
	CodeSQLFailed     = "SQL_FAILED"
)

var (
	ErrEmptyQuestion   = errors.New("question is required")
	ErrQuestionTooLong = errors.New("question is too long")
	ErrNotConnected    = errors.New("database not connected")
)

type Config struct {
	RowLimit          int
	MaxResultRows     int
	MaxQuestionLength int
	Temperature       float64
}

type Assistant struct {
	llm    llm.Client
	config Config
	logger *slog.Logger
	tracer trace.Tracer
	clock  func() time.Time
}

func New(client llm.Client, cfg Config, logger *slog.Logger, tracer trace.Tracer) *Assistant {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	if tracer == nil {
		tracer = tracenoop.NewTracerProvider().Tracer("assistant")
	}
	if cfg.RowLimit <= 0 {
		cfg.RowLimit = 1000
	}
	if cfg.MaxResultRows <= 0 {
		cfg.MaxResultRows = 100
	}
	return &Assistant{llm: client, config: cfg, logger: logger, tracer: tracer, clock: time.Now}
}

// Ask runs one turn on session. Validation and connection errors are
// returned before anything is appended; every other failure becomes a turn
// whose answer is GenericErrorMessage.
func (a *Assistant) Ask(ctx context.Context, session *chat.Session, question string) (chat.Turn, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return chat.Turn{}, ErrEmptyQuestion
	}
	if a.config.MaxQuestionLength > 0 && utf8.RuneCountInString(question) > a.config.MaxQuestionLength {
		return chat.Turn{}, fmt.Errorf("%w: limit is %d characters", ErrQuestionTooLong, a.config.MaxQuestionLength)
	}

	session.LockTurn()
	defer session.UnlockTurn()

	conn := session.Connection()
	if conn == nil {
		return chat.Turn{}, ErrNotConnected
	}

	ctx, span := a.tracer.Start(ctx, "chat.turn", trace.WithAttributes(
		attribute.String("session.id", session.ID),
		attribute.String("db.dialect", string(conn.Settings.Dialect)),
	))
	defer span.End()

	turn := chat.Turn{Question: question, StartedAt: a.clock().UTC()}
	session.Append(chat.RoleUser, question)
	history := session.History()

	answer, failure := a.run(ctx, conn, history, &turn)
	if failure != nil {
		turn.Failure = failure
		turn.Answer = GenericErrorMessage
		span.SetStatus(codes.Error, failure.Code)
		observability.ObserveTurn("failed")
		observability.ObserveTurnFailure(failure.Stage, failure.Code)
		a.logger.WarnContext(ctx, "turn_failed",
			slog.String("trace_id", observability.TraceIDFromContext(ctx)),
			slog.String("session_id", session.ID),
			slog.String("stage", failure.Stage),
			slog.String("code", failure.Code),
			slog.String("detail", failure.Detail),
		)
	} else {
		turn.Answer = answer
		observability.ObserveTurn("ok")
	}

	turn.Duration = a.clock().Sub(turn.StartedAt)
	session.Append(chat.RoleAssistant, turn.Answer)
	return session.RecordTurn(turn), nil
}

func (a *Assistant) run(ctx context.Context, conn *chat.Connection, history []chat.Message, turn *chat.Turn) (string, *chat.Failure) {
	var sqlText string
	err := a.stage(ctx, StageGenerateSQL, func(ctx context.Context) error {
		resp, err := a.llm.Complete(ctx, llm.Request{
			Prompt: prompt.SQLPrompt(prompt.SQLInput{
				Dialect: string(conn.Settings.Dialect),
				Schema:  conn.SchemaText,
				History: history,
			}),
			Temperature: a.config.Temperature,
		})
		if err != nil {
			return err
		}
		sqlText = llm.StripSQL(resp.Text)
		if sqlText == "" {
			return llm.ErrEmptyResponse
		}
		return nil
	})
	if err != nil {
		return "", llmFailure(StageGenerateSQL, err)
	}
	turn.SQL = sqlText

	var result query.Result
	err = a.stage(ctx, StageExecuteSQL, func(ctx context.Context) error {
		var err error
		result, err = conn.Executor.Execute(ctx, query.Request{SQL: sqlText, RowLimit: a.config.RowLimit})
		return err
	})
	if err != nil {
		code := CodeSQLFailed
		if errors.Is(err, query.ErrNotAllowed) {
			code = CodeSQLNotAllowed
		}
		return "", &chat.Failure{Stage: StageExecuteSQL, Code: code, Detail: err.Error()}
	}
	turn.Result = &result
	observability.ObserveQueryRows(len(result.Rows))

	var answer string
	err = a.stage(ctx, StageSummarize, func(ctx context.Context) error {
		resp, err := a.llm.Complete(ctx, llm.Request{
			Prompt: prompt.AnswerPrompt(prompt.AnswerInput{
				Schema:   conn.SchemaText,
				History:  history,
				SQL:      sqlText,
				Question: turn.Question,
				Result:   result,
				MaxRows:  a.config.MaxResultRows,
			}),
			Temperature: a.config.Temperature,
		})
		if err != nil {
			return err
		}
		answer = strings.TrimSpace(resp.Text)
		if answer == "" {
			return llm.ErrEmptyResponse
		}
		return nil
	})
	if err != nil {
		return "", llmFailure(StageSummarize, err)
	}
	return answer, nil
}

func (a *Assistant) stage(ctx context.Context, name string, fn func(context.Context) error) error {
	ctx, span := a.tracer.Start(ctx, "chat."+name)
	defer span.End()

	start := time.Now()
	err := fn(ctx)
	outcome := "ok"
	if err != nil {
		outcome = "error"
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	observability.ObserveStage(name, outcome, time.Since(start))
	return err
}

func llmFailure(stage string, err error) *chat.Failure {
	if errors.Is(err, llm.ErrQuotaExceeded) {
		return &chat.Failure{Stage: stage, Code: CodeQuotaExceeded, Retryable: true, Detail: err.Error()}
	}
	return &chat.Failure{Stage: stage, Code: CodeLLMFailed, Retryable: true, Detail: err.Error()}
}
