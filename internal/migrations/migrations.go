package migrations

import (
	"embed"
	"io/fs"
	"path"
	"sort"
	"strconv"
	"strings"

	"github.com/jmoiron/sqlx"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"spcbench-backend-go/internal/db"
)

//go:embed postgres/*.sql sqlite/*.sql
var files embed.FS

type migration struct {
	Name string
	Path string
}

// Apply runs every embedded migration for the handle's dialect that has not
// been recorded in schema_migrations yet, in version order.
func Apply(conn *sqlx.DB) error {
	dialect := db.Dialect(conn)
	if err := ensureTable(conn); err != nil {
		return err
	}
	migs, err := listMigrations(files, dialect)
	if err != nil {
		return err
	}
	applied, err := appliedMigrations(conn)
	if err != nil {
		return err
	}
	for _, mig := range migs {
		version := parseVersion(mig.Name)
		if applied.names[mig.Name] || (version != "" && applied.versions[version]) {
			continue
		}
		if err := applyMigration(conn, mig); err != nil {
			return err
		}
		zap.L().Info("migration applied", zap.String("name", mig.Name), zap.String("dialect", dialect))
	}
	return nil
}

func ensureTable(conn *sqlx.DB) error {
	_, err := conn.Exec(`
CREATE TABLE IF NOT EXISTS schema_migrations (
  name TEXT PRIMARY KEY,
  version TEXT NULL,
  applied_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
)`)
	return eris.Wrap(err, "migrations: ensure table")
}

func listMigrations(fsys fs.FS, dir string) ([]migration, error) {
	entries, err := fs.ReadDir(fsys, dir)
	if err != nil {
		return nil, eris.Wrapf(err, "migrations: read %s", dir)
	}
	migs := make([]migration, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if !strings.HasSuffix(name, ".sql") {
			continue
		}
		migs = append(migs, migration{
			Name: name,
			Path: path.Join(dir, name),
		})
	}
	sort.Slice(migs, func(i, j int) bool {
		iVersion, iOk := parseVersionNumber(migs[i].Name)
		jVersion, jOk := parseVersionNumber(migs[j].Name)
		switch {
		case iOk && jOk && iVersion != jVersion:
			return iVersion < jVersion
		case iOk != jOk:
			return iOk
		default:
			return migs[i].Name < migs[j].Name
		}
	})
	return migs, nil
}

type appliedSet struct {
	names    map[string]bool
	versions map[string]bool
}

func appliedMigrations(conn *sqlx.DB) (appliedSet, error) {
	rows := []struct {
		Name    string  `db:"name"`
		Version *string `db:"version"`
	}{}
	if err := conn.Select(&rows, `SELECT name, version FROM schema_migrations`); err != nil {
		return appliedSet{}, eris.Wrap(err, "migrations: list applied")
	}
	set := appliedSet{names: map[string]bool{}, versions: map[string]bool{}}
	for _, row := range rows {
		set.names[row.Name] = true
		if row.Version != nil {
			set.versions[*row.Version] = true
		}
	}
	return set, nil
}

func applyMigration(conn *sqlx.DB, mig migration) error {
	content, err := fs.ReadFile(files, mig.Path)
	if err != nil {
		return eris.Wrapf(err, "migrations: read %s", mig.Name)
	}
	tx, err := conn.Beginx()
	if err != nil {
		return eris.Wrap(err, "migrations: begin")
	}
	defer tx.Rollback() //nolint:errcheck
	for _, stmt := range splitStatements(string(content)) {
		if _, err := tx.Exec(stmt); err != nil {
			return eris.Wrapf(err, "migrations: apply %s", mig.Name)
		}
	}
	if _, err := tx.Exec(tx.Rebind(`INSERT INTO schema_migrations (name, version) VALUES (?, ?)`),
		mig.Name, nullIfEmpty(parseVersion(mig.Name))); err != nil {
		return eris.Wrapf(err, "migrations: record %s", mig.Name)
	}
	return eris.Wrap(tx.Commit(), "migrations: commit")
}

// splitStatements splits a migration file on semicolons at line ends; the
// pgx stdlib driver rejects multiple statements when arguments are bound and
// some drivers reject them outright.
func splitStatements(content string) []string {
	stmts := []string{}
	var current strings.Builder
	for _, line := range strings.Split(content, "\n") {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "--") {
			continue
		}
		current.WriteString(line)
		current.WriteString("\n")
		if strings.HasSuffix(trimmed, ";") {
			stmt := strings.TrimSpace(current.String())
			stmt = strings.TrimSuffix(stmt, ";")
			if stmt != "" {
				stmts = append(stmts, stmt)
			}
			current.Reset()
		}
	}
	if rest := strings.TrimSpace(current.String()); rest != "" {
		stmts = append(stmts, rest)
	}
	return stmts
}

func parseVersion(name string) string {
	if !strings.HasPrefix(name, "V") {
		return ""
	}
	parts := strings.SplitN(name[1:], "__", 2)
	if len(parts) < 2 {
		return ""
	}
	return strings.TrimSpace(parts[0])
}

func parseVersionNumber(name string) (int, bool) {
	raw := parseVersion(name)
	if raw == "" {
		return 0, false
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return 0, false
	}
	return value, true
}

func nullIfEmpty(value string) interface{} {
	if strings.TrimSpace(value) == "" {
		return nil
	}
	return value
}
