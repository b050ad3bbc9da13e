package query

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrNotAllowed marks SQL that is not a single read statement.
var ErrNotAllowed = errors.New("statement not allowed")

var readPrefixes = []string{"SELECT", "WITH", "SHOW", "DESCRIBE", "DESC", "EXPLAIN"}

type Request struct {
	SQL      string
	RowLimit int
}

type Result struct {
	Columns   []string      `json:"columns"`
	Rows      [][]any       `json:"rows"`
	Truncated bool          `json:"truncated"`
	Duration  time.Duration `json:"duration_ns"`
}

type Executor interface {
	Execute(ctx context.Context, request Request) (Result, error)
	Close() error
}

// Normalize checks that sqlText is one statement starting with a read
// keyword and returns it without leading comments or trailing semicolons.
// Semicolons inside quoted text or comments do not end a statement.
func Normalize(sqlText string) (string, error) {
	statement, rest := splitStatement(skipSeparators(sqlText))
	statement = strings.TrimSpace(statement)
	if statement == "" {
		return "", fmt.Errorf("sql is required")
	}
	if skipSeparators(rest) != "" {
		return "", fmt.Errorf("%w: multiple statements", ErrNotAllowed)
	}
	keyword := strings.ToUpper(firstWord(leadingKeyword(statement)))
	for _, prefix := range readPrefixes {
		if keyword == prefix {
			return statement, nil
		}
	}
	return "", fmt.Errorf("%w: %s", ErrNotAllowed, keyword)
}

// splitStatement cuts value at the first semicolon outside quotes and
// comments. rest is everything after that semicolon.
func splitStatement(value string) (statement, rest string) {
	var quote byte
	for i := 0; i < len(value); i++ {
		c := value[i]
		if quote != 0 {
			switch {
			case c == '\\' && quote != '`':
				i++
			case c == quote:
				quote = 0
			}
			continue
		}
		switch {
		case c == '\'' || c == '"' || c == '`':
			quote = c
		case strings.HasPrefix(value[i:], "--"):
			end := strings.IndexByte(value[i:], '\n')
			if end < 0 {
				return value, ""
			}
			i += end
		case strings.HasPrefix(value[i:], "/*"):
			end := strings.Index(value[i+2:], "*/")
			if end < 0 {
				return value, ""
			}
			i += end + 3
		case c == ';':
			return value[:i], value[i+1:]
		}
	}
	return value, ""
}

// skipSeparators drops leading whitespace, comments and empty statements.
func skipSeparators(value string) string {
	for {
		value = strings.TrimLeft(value, "; \t\r\n")
		next := skipComment(value)
		if next == value {
			return value
		}
		value = next
	}
}

func skipComment(value string) string {
	switch {
	case strings.HasPrefix(value, "--"), strings.HasPrefix(value, "#"):
		end := strings.IndexByte(value, '\n')
		if end < 0 {
			return ""
		}
		return value[end+1:]
	case strings.HasPrefix(value, "/*"):
		end := strings.Index(value, "*/")
		if end < 0 {
			return ""
		}
		return value[end+2:]
	}
	return value
}

// leadingKeyword skips opening parentheses and comments before the first
// word of a statement.
func leadingKeyword(statement string) string {
	for {
		next := skipComment(strings.TrimLeft(statement, "( \t\r\n"))
		if next == statement {
			return statement
		}
		statement = next
	}
}

func firstWord(value string) string {
	end := strings.IndexFunc(value, func(r rune) bool {
		return r == ' ' || r == '\t' || r == '\n' || r == '\r' || r == '('
	})
	if end < 0 {
		return value
	}
	return value[:end]
}
