// Package prompt builds the two prompts of a chat turn: one asking the model
// for SQL and one asking it to explain the query result.
package prompt

import (
	"fmt"
	"strings"

	"github.com/dbchat/dbchat/internal/chat"
	"github.com/dbchat/dbchat/internal/query"
)

const persona = "You are a data analyst at a company. You are interacting with a user who is asking you questions about the company's database."

// SQLInput.History must already end with the question being asked.
type SQLInput struct {
	Dialect string
	Schema  string
	History []chat.Message
}

type AnswerInput struct {
	Schema   string
	History  []chat.Message
	SQL      string
	Question string
	Result   query.Result
	MaxRows  int
}

func SQLPrompt(in SQLInput) string {
	var b strings.Builder
	b.WriteString(persona)
	b.WriteString("\nBased on the table schema below, write a SQL query that would answer the user's question. Take the conversation history into account.")
	if in.Dialect != "" {
		fmt.Fprintf(&b, "\nThe database is %s, so use its SQL dialect.", dialectName(in.Dialect))
	}
	fmt.Fprintf(&b, "\n\n<SCHEMA>%s</SCHEMA>\n\n", in.Schema)
	fmt.Fprintf(&b, "Conversation History: %s\n\n", FormatHistory(in.History))
	b.WriteString("Write only the SQL query and nothing else. Do not wrap the SQL query in any other text, not even backticks.")
	return b.String()
}

func AnswerPrompt(in AnswerInput) string {
	var b strings.Builder
	b.WriteString(persona)
	b.WriteString("\nBased on the table schema below, question, SQL query, and SQL response, write a natural language response.")
	fmt.Fprintf(&b, "\n<SCHEMA>%s</SCHEMA>\n\n", in.Schema)
	fmt.Fprintf(&b, "Conversation History: %s\n", FormatHistory(in.History))
	fmt.Fprintf(&b, "SQL Query: <SQL>%s</SQL>\n", strings.TrimSpace(in.SQL))
	fmt.Fprintf(&b, "User question: %s\n", strings.TrimSpace(in.Question))
	fmt.Fprintf(&b, "SQL Response: %s", FormatResult(in.Result, in.MaxRows))
	return b.String()
}

// FormatHistory renders one line per message, prefixed Human: or AI:.
func FormatHistory(messages []chat.Message) string {
	if len(messages) == 0 {
		return "(none)"
	}
	lines := make([]string, 0, len(messages))
	for _, msg := range messages {
		speaker := "AI"
		if msg.Role == chat.RoleUser {
			speaker = "Human"
		}
		lines = append(lines, speaker+": "+strings.TrimSpace(msg.Text))
	}
	return "\n" + strings.Join(lines, "\n")
}

// FormatResult renders a header line and tab separated rows, capped at
// maxRows (no cap when maxRows <= 0).
func FormatResult(result query.Result, maxRows int) string {
	if len(result.Columns) == 0 {
		return "(no result set)"
	}
	if len(result.Rows) == 0 {
		return "\n" + strings.Join(result.Columns, "\t") + "\n(0 rows)"
	}

	var b strings.Builder
	b.WriteString("\n")
	b.WriteString(strings.Join(result.Columns, "\t"))
	shown := len(result.Rows)
	if maxRows > 0 && shown > maxRows {
		shown = maxRows
	}
	for _, row := range result.Rows[:shown] {
		b.WriteString("\n")
		for i, value := range row {
			if i > 0 {
				b.WriteString("\t")
			}
			b.WriteString(formatValue(value))
		}
	}
	if shown < len(result.Rows) || result.Truncated {
		fmt.Fprintf(&b, "\n(showing %d rows; the full result has more)", shown)
	}
	return b.String()
}

func formatValue(value any) string {
	switch typed := value.(type) {
	case nil:
		return "NULL"
	case string:
		return strings.ReplaceAll(typed, "\n", " ")
	default:
		return fmt.Sprint(typed)
	}
}

func dialectName(dialect string) string {
	switch strings.ToLower(dialect) {
	case "mysql":
		return "MySQL"
	case "postgres":
		return "PostgreSQL"
	case "duckdb":
		return "DuckDB"
	case "sqlite":
		return "SQLite"
	default:
		return dialect
	}
}
