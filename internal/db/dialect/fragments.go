package dialect

import (
	"fmt"
	"strings"
)

// Upsert returns an INSERT for table that replaces the existing row when key
// conflicts. Placeholders are '?' for every column with key first; run the
// result through Rebind before executing against Postgres.
//
//	SQLite:   INSERT OR REPLACE INTO t (k, a) VALUES (?, ?)
//	Postgres: INSERT INTO t (k, a) VALUES (?, ?) ON CONFLICT (k) DO UPDATE SET a = EXCLUDED.a
func Upsert(driver, table, key string, cols ...string) string {
	all := append([]string{key}, cols...)
	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(all)), ", ")

	if IsPostgres(driver) {
		sets := make([]string, len(cols))
		for i, col := range cols {
			sets[i] = fmt.Sprintf("%s = EXCLUDED.%s", col, col)
		}
		return fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s) ON CONFLICT (%s) DO UPDATE SET %s",
			table, strings.Join(all, ", "), placeholders, key, strings.Join(sets, ", "))
	}

	return fmt.Sprintf("INSERT OR REPLACE INTO %s (%s) VALUES (%s)",
		table, strings.Join(all, ", "), placeholders)
}

// Like picks the operator for substring search over archived requests.
// SQLite's LIKE is already case-insensitive for ASCII; postgres needs ILIKE
// to match that behavior.
func Like(driver string) string {
	if IsPostgres(driver) {
		return "ILIKE"
	}
	return "LIKE"
}

// DurationMs yields an expression for end minus start in milliseconds, used
// to average how long brainstorms run. SQLite stores timestamps as text, so
// the difference goes through julianday; postgres subtracts natively.
//
//	SQLite:   (julianday(end) - julianday(start)) * 86400000
//	Postgres: EXTRACT(EPOCH FROM (end - start)) * 1000
func DurationMs(driver, end, start string) string {
	if IsPostgres(driver) {
		return fmt.Sprintf("EXTRACT(EPOCH FROM (%s - %s)) * 1000", end, start)
	}
	return fmt.Sprintf("(julianday(%s) - julianday(%s)) * 86400000", end, start)
}
