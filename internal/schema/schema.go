// Package schema reads table and column metadata from a connected database
// and renders it as the static descriptor handed to the model.
package schema

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/dbchat/dbchat/internal/query/sqldb"
)

const maxSampleValueLen = 100

type Column struct {
	Name     string `json:"name"`
	Type     string `json:"type"`
	Nullable bool   `json:"nullable"`
}

type Table struct {
	Name       string   `json:"name"`
	Columns    []Column `json:"columns"`
	SampleCols []string `json:"-"`
	SampleRows [][]any  `json:"-"`
}

type Descriptor struct {
	Dialect sqldb.Dialect `json:"dialect"`
	Tables  []Table       `json:"tables"`
}

type Options struct {
	// SampleRows <= 0 disables sampling.
	SampleRows    int
	IncludeTables []string
}

const mysqlColumnsSQL = `
SELECT table_name, column_name, column_type, is_nullable
FROM information_schema.columns
WHERE table_schema = DATABASE()
ORDER BY table_name, ordinal_position`

const standardColumnsSQL = `
SELECT table_name, column_name, data_type, is_nullable
FROM information_schema.columns
WHERE table_schema = current_schema()
ORDER BY table_name, ordinal_position`

const sqliteColumnsSQL = `
SELECT m.name, p.name, p.type, p."notnull"
FROM sqlite_master m
JOIN pragma_table_info(m.name) p
WHERE m.type = 'table' AND m.name NOT LIKE 'sqlite_%'
ORDER BY m.name, p.cid`

// Inspect lists the columns of every visible table and samples a few rows
// from each. A failing sample query leaves that table without samples.
func Inspect(ctx context.Context, db *sql.DB, dialect sqldb.Dialect, opts Options) (Descriptor, error) {
	if db == nil {
		return Descriptor{}, fmt.Errorf("db is required")
	}
	columnsSQL := standardColumnsSQL
	switch dialect {
	case sqldb.MySQL:
		columnsSQL = mysqlColumnsSQL
	case sqldb.SQLite:
		columnsSQL = sqliteColumnsSQL
	}

	rows, err := db.QueryContext(ctx, columnsSQL)
	if err != nil {
		return Descriptor{}, fmt.Errorf("list columns: %w", err)
	}
	defer func() { _ = rows.Close() }()

	include := includeSet(opts.IncludeTables)
	desc := Descriptor{Dialect: dialect, Tables: make([]Table, 0)}
	index := map[string]int{}
	for rows.Next() {
		var tableName, column, dataType, nullable string
		if err := rows.Scan(&tableName, &column, &dataType, &nullable); err != nil {
			return Descriptor{}, fmt.Errorf("scan column: %w", err)
		}
		if include != nil && !include[strings.ToLower(tableName)] {
			continue
		}
		pos, ok := index[tableName]
		if !ok {
			pos = len(desc.Tables)
			index[tableName] = pos
			desc.Tables = append(desc.Tables, Table{Name: tableName})
		}
		desc.Tables[pos].Columns = append(desc.Tables[pos].Columns, Column{
			Name:     column,
			Type:     dataType,
			Nullable: isNullable(nullable),
		})
	}
	if err := rows.Err(); err != nil {
		return Descriptor{}, fmt.Errorf("iterate columns: %w", err)
	}
	_ = rows.Close()

	if opts.SampleRows > 0 {
		for i := range desc.Tables {
			sampleTable(ctx, db, dialect, &desc.Tables[i], opts.SampleRows)
		}
	}
	return desc, nil
}

func sampleTable(ctx context.Context, db *sql.DB, dialect sqldb.Dialect, table *Table, limit int) {
	rows, err := db.QueryContext(ctx, fmt.Sprintf("SELECT * FROM %s LIMIT %d", QuoteIdent(dialect, table.Name), limit))
	if err != nil {
		return
	}
	defer func() { _ = rows.Close() }()
	result, err := sqldb.ScanRows(rows, limit)
	if err != nil {
		return
	}
	table.SampleCols = result.Columns
	table.SampleRows = result.Rows
}

func QuoteIdent(dialect sqldb.Dialect, name string) string {
	if dialect == sqldb.MySQL {
		return "`" + strings.ReplaceAll(name, "`", "``") + "`"
	}
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

func includeSet(tables []string) map[string]bool {
	if len(tables) == 0 {
		return nil
	}
	set := make(map[string]bool, len(tables))
	for _, name := range tables {
		set[strings.ToLower(strings.TrimSpace(name))] = true
	}
	return set
}

// isNullable accepts information_schema YES/NO and sqlite's notnull flag.
func isNullable(value string) bool {
	switch strings.ToUpper(strings.TrimSpace(value)) {
	case "YES", "0":
		return true
	default:
		return false
	}
}

func (d Descriptor) TableNames() []string {
	names := make([]string, 0, len(d.Tables))
	for _, table := range d.Tables {
		names = append(names, table.Name)
	}
	return names
}

// Text renders one CREATE TABLE block per table followed by its sample rows
// in a comment.
func (d Descriptor) Text() string {
	var b strings.Builder
	for i, table := range d.Tables {
		if i > 0 {
			b.WriteString("\n\n")
		}
		fmt.Fprintf(&b, "CREATE TABLE %s (\n", table.Name)
		for j, column := range table.Columns {
			fmt.Fprintf(&b, "\t%s %s", column.Name, column.Type)
			if !column.Nullable {
				b.WriteString(" NOT NULL")
			}
			if j < len(table.Columns)-1 {
				b.WriteString(",")
			}
			b.WriteString("\n")
		}
		b.WriteString(")")
		if len(table.SampleRows) == 0 {
			continue
		}
		fmt.Fprintf(&b, "\n\n/*\n%d rows from %s table:\n", len(table.SampleRows), table.Name)
		b.WriteString(strings.Join(table.SampleCols, "\t"))
		for _, row := range table.SampleRows {
			b.WriteString("\n")
			for k, value := range row {
				if k > 0 {
					b.WriteString("\t")
				}
				b.WriteString(sampleValue(value))
			}
		}
		b.WriteString("\n*/")
	}
	return b.String()
}

func sampleValue(value any) string {
	if value == nil {
		return "None"
	}
	text := fmt.Sprint(value)
	if utf8.RuneCountInString(text) > maxSampleValueLen {
		text = string([]rune(text)[:maxSampleValueLen]) + "..."
	}
	return strings.ReplaceAll(text, "\n", " ")
}
