package docstore

import (
	"database/sql"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgconn"
	_ "github.com/jackc/pgx/v4/stdlib"
)

const pgUniqueViolation = "23505"

var postgresDialect = dialect{
	name:   "postgres",
	rebind: rebindDollar,
	unique: func(err error) bool {
		var pgErr *pgconn.PgError
		return errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation
	},
}

// rebindDollar rewrites '?' placeholders to PostgreSQL's $1, $2, ...
func rebindDollar(q string) string {
	var (
		b strings.Builder
		n int
	)
	b.Grow(len(q) + 8)
	for _, r := range q {
		if r != '?' {
			b.WriteRune(r)
			continue
		}
		n++
		b.WriteByte('$')
		b.WriteString(strconv.Itoa(n))
	}
	return b.String()
}

// NewPostgresStore connects to the database at dsn through pgx and ensures
// schema. dsn accepts both URL and key=value forms.
func NewPostgresStore(dsn string, timeout time.Duration) (*SQLStore, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(10)
	db.SetConnMaxIdleTime(5 * time.Minute)
	return openSQL(db, postgresDialect, timeout)
}
