package chat

import (
	"context"
	"fmt"
	"time"

	"github.com/dbchat/dbchat/internal/config"
	"github.com/dbchat/dbchat/internal/query"
	"github.com/dbchat/dbchat/internal/query/sqldb"
	"github.com/dbchat/dbchat/internal/schema"
)

// Connection is a session's live database handle plus the schema descriptor
// computed once when it was opened.
type Connection struct {
	Settings    sqldb.Settings
	Executor    query.Executor
	Schema      schema.Descriptor
	SchemaText  string
	ConnectedAt time.Time
}

func (c *Connection) Close() error {
	if c == nil || c.Executor == nil {
		return nil
	}
	return c.Executor.Close()
}

type Connector interface {
	Connect(ctx context.Context, settings sqldb.Settings) (*Connection, error)
}

// SQLConnector opens a pooled database/sql connection and inspects its schema.
type SQLConnector struct {
	QueryTimeout time.Duration
	Schema       schema.Options
	Clock        func() time.Time
}

func (c SQLConnector) Connect(ctx context.Context, settings sqldb.Settings) (*Connection, error) {
	dialect, err := sqldb.ParseDialect(string(settings.Dialect))
	if err != nil {
		return nil, err
	}
	settings.Dialect = dialect

	executor, err := sqldb.OpenExecutor(ctx, sqldb.DBConfig{
		Settings:        settings,
		MaxOpenConns:    4,
		MaxIdleConns:    2,
		ConnMaxIdleTime: 5 * time.Minute,
	}, c.QueryTimeout)
	if err != nil {
		return nil, err
	}

	desc, err := schema.Inspect(ctx, executor.DB(), dialect, c.Schema)
	if err != nil {
		_ = executor.Close()
		return nil, fmt.Errorf("inspect schema: %w", err)
	}

	now := time.Now
	if c.Clock != nil {
		now = c.Clock
	}
	return &Connection{
		Settings:    settings,
		Executor:    executor,
		Schema:      desc,
		SchemaText:  desc.Text(),
		ConnectedAt: now().UTC(),
	}, nil
}

// SettingsFromConfig converts the configured connection defaults.
func SettingsFromConfig(cfg config.DatabaseConfig) (sqldb.Settings, error) {
	dialect, err := sqldb.ParseDialect(cfg.Dialect)
	if err != nil {
		return sqldb.Settings{}, err
	}
	settings := sqldb.Settings{
		Dialect:  dialect,
		Host:     cfg.Host,
		Port:     cfg.Port,
		User:     cfg.User,
		Password: cfg.Password,
		Database: cfg.Name,
		DSN:      cfg.DSN,
	}
	if _, err := settings.DataSourceName(); err != nil {
		return sqldb.Settings{}, err
	}
	return settings, nil
}
