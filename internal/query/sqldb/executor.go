package sqldb

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/dbchat/dbchat/internal/query"
)

// Executor runs read statements against one session's pool.
type Executor struct {
	db      *sql.DB
	dialect Dialect
	timeout time.Duration
}

func NewExecutor(db *sql.DB, dialect Dialect, timeout time.Duration) *Executor {
	return &Executor{db: db, dialect: dialect, timeout: timeout}
}

func (e *Executor) DB() *sql.DB {
	return e.db
}

func (e *Executor) Dialect() Dialect {
	return e.dialect
}

func (e *Executor) Close() error {
	if e.db == nil {
		return nil
	}
	return e.db.Close()
}

func (e *Executor) Execute(ctx context.Context, request query.Request) (query.Result, error) {
	sqlText, err := query.Normalize(request.SQL)
	if err != nil {
		return query.Result{}, err
	}
	if e.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}

	start := time.Now()
	var rows *sql.Rows
	if e.dialect.ReadOnlyTx() {
		tx, err := e.db.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
		if err != nil {
			return query.Result{}, fmt.Errorf("begin read-only tx: %w", err)
		}
		defer func() { _ = tx.Rollback() }()
		rows, err = tx.QueryContext(ctx, sqlText)
		if err != nil {
			return query.Result{}, fmt.Errorf("execute query: %w", err)
		}
	} else {
		rows, err = e.db.QueryContext(ctx, sqlText)
		if err != nil {
			return query.Result{}, fmt.Errorf("execute query: %w", err)
		}
	}
	defer func() { _ = rows.Close() }()

	result, err := ScanRows(rows, request.RowLimit)
	if err != nil {
		return query.Result{}, err
	}
	result.Duration = time.Since(start)
	return result, nil
}

// ScanRows reads at most limit rows (all rows when limit <= 0) and sets
// Truncated when more were available.
func ScanRows(rows *sql.Rows, limit int) (query.Result, error) {
	columns, err := rows.Columns()
	if err != nil {
		return query.Result{}, fmt.Errorf("query columns: %w", err)
	}

	result := query.Result{Columns: columns, Rows: make([][]any, 0)}
	for rows.Next() {
		if limit > 0 && len(result.Rows) >= limit {
			result.Truncated = true
			break
		}
		values := make([]any, len(columns))
		scanTargets := make([]any, len(columns))
		for i := range values {
			scanTargets[i] = &values[i]
		}
		if err := rows.Scan(scanTargets...); err != nil {
			return query.Result{}, fmt.Errorf("scan row: %w", err)
		}
		result.Rows = append(result.Rows, normalizeValues(values))
	}
	if err := rows.Err(); err != nil {
		return query.Result{}, fmt.Errorf("iterate rows: %w", err)
	}
	return result, nil
}

func normalizeValues(values []any) []any {
	normalized := make([]any, len(values))
	for i, value := range values {
		switch typed := value.(type) {
		case []byte:
			normalized[i] = string(typed)
		default:
			normalized[i] = typed
		}
	}
	return normalized
}
