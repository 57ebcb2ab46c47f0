package sqlstore

import (
	"fmt"
	"strconv"
	"strings"
)

// Dialect selects driver-specific SQL
type Dialect int

const (
	DialectPostgres Dialect = iota
	DialectSQLite
)

func (d Dialect) String() string {
	switch d {
	case DialectPostgres:
		return "postgres"
	case DialectSQLite:
		return "sqlite"
	}
	return "unknown"
}

// DriverName returns the database/sql driver registered for the dialect
func (d Dialect) DriverName() string {
	if d == DialectSQLite {
		return "sqlite"
	}
	return "postgres"
}

// sqlitePragmas are applied by the driver to every new connection
var sqlitePragmas = []string{
	"journal_mode(WAL)",
	"synchronous(NORMAL)",
	"busy_timeout(5000)",
}

// ParseURL maps a DATABASE_URL to its dialect and driver DSN.
// sqlite://<path> and file:<path> open SQLite; postgres:// and postgresql://
// are handed to lib/pq unchanged.
func ParseURL(raw string) (Dialect, string, error) {
	switch {
	case strings.HasPrefix(raw, "postgres://"), strings.HasPrefix(raw, "postgresql://"):
		return DialectPostgres, raw, nil
	case strings.HasPrefix(raw, "sqlite://"):
		path := strings.TrimPrefix(raw, "sqlite://")
		// sqlite:///abs/path keeps one leading slash
		if strings.HasPrefix(path, "//") {
			path = path[1:]
		} else if strings.HasPrefix(path, "/./") {
			path = path[1:]
		}
		if path == "" {
			return 0, "", fmt.Errorf("sqlite url has no path: %s", raw)
		}
		return DialectSQLite, withPragmas(path), nil
	case strings.HasPrefix(raw, "file:"):
		return DialectSQLite, withPragmas(raw), nil
	}
	return 0, "", fmt.Errorf("unsupported database url scheme: %q", schemeOf(raw))
}

func withPragmas(dsn string) string {
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	params := make([]string, len(sqlitePragmas))
	for i, pragma := range sqlitePragmas {
		params[i] = "_pragma=" + pragma
	}
	return dsn + sep + strings.Join(params, "&")
}

func schemeOf(raw string) string {
	if i := strings.Index(raw, ":"); i > 0 {
		return raw[:i]
	}
	return raw
}

// Rebind rewrites ? placeholders to the dialect's bind syntax
func (d Dialect) Rebind(query string) string {
	if d != DialectPostgres {
		return query
	}

	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteByte(query[i])
	}
	return b.String()
}

// schema returns the DDL statements for the dialect, one statement each
func (d Dialect) schema() []string {
	var table string
	switch d {
	case DialectSQLite:
		table = `
		CREATE TABLE IF NOT EXISTS llm_requests (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			prompt TEXT NOT NULL,
			response TEXT NOT NULL DEFAULT '',
			model TEXT NOT NULL,
			tokens_in INTEGER NOT NULL DEFAULT 0 CHECK (tokens_in >= 0),
			tokens_out INTEGER NOT NULL DEFAULT 0 CHECK (tokens_out >= 0),
			latency_ms REAL,
			cost REAL NOT NULL DEFAULT 0,
			status TEXT NOT NULL,
			error_message TEXT,
			session_id TEXT,
			feedback_rating INTEGER CHECK (feedback_rating BETWEEN 1 AND 5),
			feedback_comment TEXT,
			created_at TEXT NOT NULL DEFAULT (strftime('%Y-%m-%d %H:%M:%f', 'now'))
		)`
	default:
		table = `
		CREATE TABLE IF NOT EXISTS llm_requests (
			id BIGSERIAL PRIMARY KEY,
			prompt TEXT NOT NULL,
			response TEXT NOT NULL DEFAULT '',
			model VARCHAR(100) NOT NULL,
			tokens_in INTEGER NOT NULL DEFAULT 0 CHECK (tokens_in >= 0),
			tokens_out INTEGER NOT NULL DEFAULT 0 CHECK (tokens_out >= 0),
			latency_ms DOUBLE PRECISION,
			cost DOUBLE PRECISION NOT NULL DEFAULT 0,
			status VARCHAR(20) NOT NULL,
			error_message TEXT,
			session_id VARCHAR(255),
			feedback_rating INTEGER CHECK (feedback_rating BETWEEN 1 AND 5),
			feedback_comment TEXT,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`
	}

	return []string{
		table,
		`CREATE INDEX IF NOT EXISTS idx_llm_requests_created_at ON llm_requests(created_at)`,
		`CREATE INDEX IF NOT EXISTS idx_llm_requests_session_id ON llm_requests(session_id)`,
		`CREATE INDEX IF NOT EXISTS idx_llm_requests_status ON llm_requests(status)`,
	}
}
