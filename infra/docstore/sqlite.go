package docstore

import (
	"database/sql"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

var sqliteDialect = dialect{
	name:   "sqlite",
	rebind: func(q string) string { return q },
	unique: func(err error) bool { return strings.Contains(err.Error(), "UNIQUE constraint failed") },
}

// NewSQLiteStore opens or creates the database at path and ensures schema.
func NewSQLiteStore(path string, timeout time.Duration) (*SQLStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// one writer at a time; ":memory:" databases are also per-connection
	db.SetMaxOpenConns(1)
	return openSQL(db, sqliteDialect, timeout)
}
