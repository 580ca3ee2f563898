package store

import (
	"cmp"
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"regexp"
	"slices"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/DeBrosOfficial/dataspace/pkg/logging"
)

//go:embed migrations/*.sql
var embeddedMigrations embed.FS

// Migrations returns the schema scripts shipped with the binary.
func Migrations() fs.FS {
	sub, err := fs.Sub(embeddedMigrations, "migrations")
	if err != nil {
		panic(err)
	}
	return sub
}

// Migration is one numbered schema script split into statements.
type Migration struct {
	Version    int
	Name       string
	Statements []string
}

var migrationFileName = regexp.MustCompile(`^(\d+)_[\w.-]+\.sql$`)

// LoadMigrations parses the NNN_name.sql files at the root of fsys in
// version order. Other files are ignored; a repeated version is an error.
func LoadMigrations(fsys fs.FS) ([]Migration, error) {
	names, err := fs.Glob(fsys, "*.sql")
	if err != nil {
		return nil, err
	}
	owner := map[int]string{}
	var out []Migration
	for _, name := range names {
		m := migrationFileName.FindStringSubmatch(name)
		if m == nil {
			continue
		}
		version, err := strconv.Atoi(m[1])
		if err != nil {
			return nil, fmt.Errorf("migration %s: %w", name, err)
		}
		if other, taken := owner[version]; taken {
			return nil, fmt.Errorf("migrations %s and %s share version %d", other, name, version)
		}
		owner[version] = name

		body, err := fs.ReadFile(fsys, name)
		if err != nil {
			return nil, fmt.Errorf("migration %s: %w", name, err)
		}
		out = append(out, Migration{Version: version, Name: name, Statements: splitStatements(string(body))})
	}
	slices.SortFunc(out, func(a, b Migration) int { return cmp.Compare(a.Version, b.Version) })
	return out, nil
}

// ApplyMigrations brings db up to the newest migration in fsys. Each
// applied version is recorded in schema_migrations.
func ApplyMigrations(ctx context.Context, db *sql.DB, fsys fs.FS, logger *logging.ColoredLogger) error {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	pending, err := LoadMigrations(fsys)
	if err != nil {
		return err
	}
	if _, err := db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (
	version    INTEGER PRIMARY KEY,
	name       TEXT NOT NULL DEFAULT '',
	applied_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
)`); err != nil {
		return fmt.Errorf("create schema_migrations: %w", err)
	}
	done, err := appliedVersions(ctx, db)
	if err != nil {
		return fmt.Errorf("read schema_migrations: %w", err)
	}

	ran := 0
	for _, m := range pending {
		if done[m.Version] {
			continue
		}
		if err := m.apply(ctx, db); err != nil {
			return err
		}
		ran++
		logger.ComponentInfo(logging.ComponentStore, "Schema migrated",
			zap.Int("version", m.Version),
			zap.String("name", m.Name),
			zap.Int("statements", len(m.Statements)),
		)
	}
	if ran == 0 {
		logger.ComponentDebug(logging.ComponentStore, "Schema up to date", zap.Int("migrations", len(pending)))
	}
	return nil
}

// apply runs the statements one at a time; the rqlite driver has no
// transactions to wrap them in.
func (m Migration) apply(ctx context.Context, db *sql.DB) error {
	for i, stmt := range m.Statements {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			if len(stmt) > 80 {
				stmt = stmt[:80] + "..."
			}
			return fmt.Errorf("migration %s, statement %d (%s): %w", m.Name, i+1, stmt, err)
		}
	}
	_, err := db.ExecContext(ctx, `INSERT INTO schema_migrations (version, name) VALUES (?, ?)`, m.Version, m.Name)
	if err != nil {
		return fmt.Errorf("record migration %s: %w", m.Name, err)
	}
	return nil
}

func appliedVersions(ctx context.Context, db *sql.DB) (map[int]bool, error) {
	rows, err := db.QueryContext(ctx, `SELECT version FROM schema_migrations`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	done := map[int]bool{}
	for rows.Next() {
		var v int
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		done[v] = true
	}
	return done, rows.Err()
}

type lexState int

const (
	inCode lexState = iota
	inLineComment
	inBlockComment
	inQuote
)

// Scripts may carry their own transaction wrapper; those lines are dropped.
var txnControl = map[string]bool{
	"BEGIN": true, "BEGIN TRANSACTION": true, "COMMIT": true, "END": true, "ROLLBACK": true,
}

// splitStatements cuts script at top-level semicolons. Comments are
// removed and quoted text, including doubled quotes, is kept intact.
func splitStatements(script string) []string {
	var (
		out   []string
		cur   strings.Builder
		state = inCode
		quote rune
	)
	flush := func() {
		stmt := strings.TrimSpace(cur.String())
		cur.Reset()
		if stmt != "" && !txnControl[strings.Join(strings.Fields(strings.ToUpper(stmt)), " ")] {
			out = append(out, stmt)
		}
	}

	src := []rune(script)
	for i := 0; i < len(src); i++ {
		c := src[i]
		var peek rune
		if i+1 < len(src) {
			peek = src[i+1]
		}
		switch state {
		case inLineComment:
			if c == '\n' {
				state = inCode
				cur.WriteRune(c)
			}
		case inBlockComment:
			if c == '*' && peek == '/' {
				state = inCode
				i++
			}
		case inQuote:
			cur.WriteRune(c)
			if c != quote {
				continue
			}
			if peek == quote {
				cur.WriteRune(peek)
				i++
			} else {
				state = inCode
			}
		default:
			switch {
			case c == '-' && peek == '-':
				state = inLineComment
				i++
			case c == '/' && peek == '*':
				state = inBlockComment
				i++
			case c == '\'' || c == '"':
				state, quote = inQuote, c
				cur.WriteRune(c)
			case c == ';':
				flush()
			default:
				cur.WriteRune(c)
			}
		}
	}
	flush()
	return out
}
