package sqldb

import (
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
)

type Dialect string

const (
	MySQL    Dialect = "mysql"
	Postgres Dialect = "postgres"
	DuckDB   Dialect = "duckdb"
	SQLite   Dialect = "sqlite"
)

func ParseDialect(value string) (Dialect, error) {
	switch d := Dialect(strings.ToLower(strings.TrimSpace(value))); d {
	case MySQL, Postgres, DuckDB, SQLite:
		return d, nil
	case "":
		return MySQL, nil
	default:
		return "", fmt.Errorf("unsupported dialect %q", value)
	}
}

// DriverName is the database/sql driver registered for the dialect.
func (d Dialect) DriverName() string {
	switch d {
	case Postgres:
		return "pgx"
	case SQLite:
		return "sqlite3"
	default:
		return string(d)
	}
}

// ReadOnlyTx reports whether the driver supports read-only transactions.
func (d Dialect) ReadOnlyTx() bool {
	return d == MySQL || d == Postgres
}

// Settings describe how to reach a database. DSN, when set, wins over the
// individual fields.
type Settings struct {
	Dialect  Dialect `json:"dialect"`
	Host     string  `json:"host"`
	Port     int     `json:"port"`
	User     string  `json:"user"`
	Password string  `json:"-"`
	Database string  `json:"database"`
	DSN      string  `json:"-"`
}

func (s Settings) DataSourceName() (string, error) {
	if dsn := strings.TrimSpace(s.DSN); dsn != "" {
		return dsn, nil
	}
	switch s.Dialect {
	case MySQL, "":
		if s.Host == "" || s.Database == "" {
			return "", fmt.Errorf("mysql host and database are required")
		}
		cfg := mysql.NewConfig()
		cfg.User = s.User
		cfg.Passwd = s.Password
		cfg.Net = "tcp"
		cfg.Addr = net.JoinHostPort(s.Host, strconv.Itoa(portOrDefault(s.Port, 3306)))
		cfg.DBName = s.Database
		cfg.ParseTime = true
		cfg.Timeout = 5 * time.Second
		return cfg.FormatDSN(), nil
	case Postgres:
		if s.Host == "" || s.Database == "" {
			return "", fmt.Errorf("postgres host and database are required")
		}
		u := url.URL{
			Scheme: "postgres",
			Host:   net.JoinHostPort(s.Host, strconv.Itoa(portOrDefault(s.Port, 5432))),
			Path:   "/" + s.Database,
		}
		if s.User != "" {
			u.User = url.UserPassword(s.User, s.Password)
		}
		return u.String(), nil
	case DuckDB:
		if s.Database == "" || s.Database == ":memory:" {
			return "", nil
		}
		return s.Database + "?access_mode=READ_ONLY", nil
	case SQLite:
		if s.Database == "" {
			return "", fmt.Errorf("sqlite database path is required")
		}
		return "file:" + s.Database + "?mode=ro", nil
	default:
		return "", fmt.Errorf("unsupported dialect %q", s.Dialect)
	}
}

// Summary renders the settings for display without credentials.
func (s Settings) Summary() string {
	if strings.TrimSpace(s.DSN) != "" {
		return fmt.Sprintf("%s (dsn)", s.Dialect)
	}
	switch s.Dialect {
	case DuckDB, SQLite:
		return fmt.Sprintf("%s %s", s.Dialect, s.Database)
	default:
		return fmt.Sprintf("%s %s@%s:%d/%s", s.Dialect, s.User, s.Host, s.Port, s.Database)
	}
}

func portOrDefault(port, fallback int) int {
	if port <= 0 {
		return fallback
	}
	return port
}
