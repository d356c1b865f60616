// Package dialect builds the SQL fragments that differ between the sqlite
// and postgres archive backends. Archive queries are written once with '?'
// placeholders and stitched together from these helpers.
package dialect

// Driver names as registered with database/sql: mattn/go-sqlite3 for the
// embedded archive, the pgx stdlib adapter for postgres.
const (
	SQLite3 = "sqlite3"
	PGX     = "pgx"
)

// IsPostgres reports whether driver selects the postgres fragment variants.
func IsPostgres(driver string) bool {
	return driver == PGX
}

// BoolToInt flattens a bool for columns that store flags as 0/1. SQLite has
// no boolean type, and keeping both schemas symmetric keeps the queries
// identical.
func BoolToInt(value bool) int {
	if value {
		return 1
	}
	return 0
}
