package store

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib" // register "pgx" driver
	mssql "github.com/microsoft/go-mssqldb"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// dialect captures the differences between the supported backends.
type dialect struct {
	name          string // store.driver value
	driver        string // database/sql driver name
	goose         string // goose dialect
	migrationsDir string
	placeholder   func(n int) string
	isUnique      func(err error) bool
}

var dialects = map[string]dialect{
	"sqlite": {
		name:          "sqlite",
		driver:        "sqlite",
		goose:         "sqlite3",
		migrationsDir: "migrations/sqlite",
		placeholder:   func(int) string { return "?" },
		isUnique: func(err error) bool {
			var e *sqlite.Error
			if !errors.As(err, &e) {
				return false
			}
			return e.Code() == sqlite3.SQLITE_CONSTRAINT_UNIQUE || e.Code() == sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY
		},
	},
	"postgres": {
		name:          "postgres",
		driver:        "pgx",
		goose:         "postgres",
		migrationsDir: "migrations/postgres",
		placeholder:   func(n int) string { return "$" + strconv.Itoa(n) },
		isUnique: func(err error) bool {
			var e *pgconn.PgError
			return errors.As(err, &e) && e.Code == "23505"
		},
	},
	"sqlserver": {
		name:          "sqlserver",
		driver:        "sqlserver",
		goose:         "mssql",
		migrationsDir: "migrations/mssql",
		placeholder:   func(n int) string { return "@p" + strconv.Itoa(n) },
		isUnique: func(err error) bool {
			var e mssql.Error
			return errors.As(err, &e) && (e.Number == 2627 || e.Number == 2601)
		},
	},
}

func lookupDialect(name string) (dialect, error) {
	d, ok := dialects[name]
	if !ok {
		return dialect{}, fmt.Errorf("unsupported store driver %q (must be sqlite, postgres, or sqlserver)", name)
	}
	return d, nil
}

// rebind rewrites ? placeholders for the dialect.
func (d dialect) rebind(query string) string {
	if d.name == "sqlite" {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteString(d.placeholder(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// limit appends a row limit to an ordered query.
func (d dialect) limit(query string, n int) string {
	if n <= 0 {
		return query
	}
	if d.name == "sqlserver" {
		return fmt.Sprintf("%s OFFSET 0 ROWS FETCH NEXT %d ROWS ONLY", query, n)
	}
	return fmt.Sprintf("%s LIMIT %d", query, n)
}
