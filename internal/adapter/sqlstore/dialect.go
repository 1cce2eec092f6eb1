package sqlstore

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// dialect captures the differences between the supported SQL backends.
type dialect struct {
	driver     string
	numbered   bool // $1-style placeholders
	schema     []string
	setup      []string
	encodeTime func(time.Time) any
}

var sqliteDialect = dialect{
	driver: "sqlite",
	schema: []string{
		`CREATE TABLE IF NOT EXISTS measurements (
			time        INTEGER NOT NULL,
			sensor_id   TEXT    NOT NULL,
			sensor_name TEXT,
			unit        TEXT,
			value       REAL    NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_measurements_sensor_time ON measurements (sensor_id, time)`,
	},
	// modernc.org/sqlite requires SQL statements, not DSN params.
	setup: []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	},
	// Unix microseconds keep ordering numeric and exact.
	encodeTime: func(t time.Time) any { return t.UTC().UnixMicro() },
}

var postgresDialect = dialect{
	driver:   "pgx",
	numbered: true,
	schema: []string{
		`CREATE TABLE IF NOT EXISTS measurements (
			time        TIMESTAMPTZ      NOT NULL,
			sensor_id   TEXT             NOT NULL,
			sensor_name TEXT,
			unit        TEXT,
			value       DOUBLE PRECISION NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_measurements_sensor_time ON measurements (sensor_id, time DESC)`,
	},
	encodeTime: func(t time.Time) any { return t.UTC() },
}

func dialectFor(name string) (dialect, error) {
	switch name {
	case "sqlite":
		return sqliteDialect, nil
	case "postgres":
		return postgresDialect, nil
	default:
		return dialect{}, fmt.Errorf("unsupported driver %q", name)
	}
}

// rebind rewrites ? placeholders for dialects that number them.
func (d dialect) rebind(query string) string {
	if !d.numbered {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// decodeTime accepts what either driver returns for the time column.
func decodeTime(v any) (time.Time, error) {
	switch t := v.(type) {
	case int64:
		return time.UnixMicro(t).UTC(), nil
	case time.Time:
		return t.UTC(), nil
	default:
		return time.Time{}, fmt.Errorf("unexpected time column type %T", v)
	}
}
