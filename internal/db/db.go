package db

import (
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"
)

const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

func init() {
	// modernc registers as "sqlite", which sqlx does not know; queries are
	// written with ? and rebound per driver.
	sqlx.BindDriver("sqlite", sqlx.QUESTION)
}

// Open connects to the configured database. Queries across the codebase are
// written with ? placeholders and passed through db.Rebind.
func Open(driver, dsn string) (*sqlx.DB, error) {
	switch driver {
	case DriverPostgres:
		return openPostgres(dsn)
	case DriverSQLite:
		return openSQLite(dsn)
	default:
		return nil, eris.Errorf("db: unsupported driver %q", driver)
	}
}

func openPostgres(dsn string) (*sqlx.DB, error) {
	db, err := sqlx.Open("pgx", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "db: open postgres")
	}
	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, eris.Wrap(err, "db: ping postgres")
	}
	return db, nil
}

func openSQLite(dsn string) (*sqlx.DB, error) {
	if !strings.Contains(dsn, "_time_format=") {
		sep := "?"
		if strings.Contains(dsn, "?") {
			sep = "&"
		}
		dsn += sep + "_time_format=sqlite"
	}
	db, err := sqlx.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "db: open sqlite")
	}
	// A single connection keeps transactions serialised and avoids SQLITE_BUSY.
	db.SetMaxOpenConns(1)
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, eris.Wrapf(err, "db: exec %s", pragma)
		}
	}
	return db, nil
}

// Dialect reports which SQL dialect a handle speaks.
func Dialect(db *sqlx.DB) string {
	if strings.HasPrefix(db.DriverName(), "sqlite") {
		return DriverSQLite
	}
	return DriverPostgres
}
