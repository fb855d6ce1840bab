package sqldb

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Dialect captures the SQL differences between the supported backends.
type Dialect struct {
	// Name is the configuration name: "sqlite3", "sqlite" or "postgres".
	Name string
	// Driver is the database/sql driver name.
	Driver string
	// Migrations is the embedded migration directory.
	Migrations string

	dollarParams bool
	rowLocks     bool
	nativeTime   bool
}

var (
	// SQLite3 uses github.com/mattn/go-sqlite3 (cgo).
	SQLite3 = Dialect{Name: "sqlite3", Driver: "sqlite3", Migrations: "migrations/sqlite"}

	// SQLite uses modernc.org/sqlite (pure Go).
	SQLite = Dialect{Name: "sqlite", Driver: "sqlite", Migrations: "migrations/sqlite"}

	// Postgres uses github.com/jackc/pgx/v5/stdlib.
	Postgres = Dialect{
		Name:         "postgres",
		Driver:       "pgx",
		Migrations:   "migrations/postgres",
		dollarParams: true,
		rowLocks:     true,
		nativeTime:   true,
	}
)

// DialectFor returns the dialect with the given configuration name.
func DialectFor(name string) (Dialect, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "sqlite3":
		return SQLite3, nil
	case "sqlite":
		return SQLite, nil
	case "postgres", "postgresql", "pgx":
		return Postgres, nil
	default:
		return Dialect{}, fmt.Errorf("unsupported database driver %q", name)
	}
}

// IsSQLite reports whether the backend is a single-writer SQLite file.
func (d Dialect) IsSQLite() bool { return !d.rowLocks }

// rebind rewrites ? placeholders to $n where the backend needs it.
func (d Dialect) rebind(query string) string {
	if !d.dollarParams {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
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

// forUpdate is appended to selects whose rows the unit of work will modify.
func (d Dialect) forUpdate() string {
	if d.rowLocks {
		return " FOR UPDATE"
	}
	return ""
}

// timeArg encodes a timestamp parameter.
func (d Dialect) timeArg(t time.Time) any {
	if d.nativeTime {
		return t.UTC()
	}
	return t.UTC().Format(time.RFC3339Nano)
}

// dateArg encodes a calendar date parameter. Both backends accept ISO text.
func (d Dialect) dateArg(t time.Time) any {
	return t.Format(dateLayout)
}

// inList returns "?, ?, ?" for n parameters.
func inList(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}
