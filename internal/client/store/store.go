// Package store opens the durable on-device store: a single SQLite file
// holding one container (table) per record kind. Opening the store applies
// pending schema migrations and rebuilds containers that went missing.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"

	"github.com/dmitrijs2005/fieldsync/internal/client/migrations"
	"github.com/dmitrijs2005/fieldsync/internal/client/models"
	"github.com/dmitrijs2005/fieldsync/internal/client/repositories/entities"
	"github.com/dmitrijs2005/fieldsync/internal/client/repositories/entries"
	"github.com/dmitrijs2005/fieldsync/internal/client/repositories/photos"
	"github.com/dmitrijs2005/fieldsync/internal/client/repositories/queue"
	"github.com/dmitrijs2005/fieldsync/internal/client/repositories/settings"
	"github.com/dmitrijs2005/fieldsync/internal/dbx"
	"github.com/dmitrijs2005/fieldsync/internal/filex"
	"github.com/dmitrijs2005/fieldsync/internal/logging"
	"github.com/pressly/goose/v3"

	_ "modernc.org/sqlite"
)

// goose keeps its base FS, dialect and logger in package globals.
var gooseMu sync.Mutex

type Repositories struct {
	Settings settings.Repository
	Photos   photos.Repository
	Entities entities.Repository
	Queue    queue.Repository
	Entries  entries.Repository
}

type Store struct {
	db    *sql.DB
	log   logging.Logger
	repos *Repositories
}

// Open opens (creating if needed) the store at dsn and brings its schema up
// to date. dsn is a file path or ":memory:".
func Open(ctx context.Context, dsn string, log logging.Logger) (*Store, error) {
	if log == nil {
		log = logging.Discard()
	}
	if !strings.HasPrefix(dsn, ":memory:") && !strings.HasPrefix(dsn, "file:") {
		if err := filex.EnsureParentDir(dsn); err != nil {
			return nil, err
		}
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	// One connection: serialised access and a stable in-memory database.
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, `PRAGMA busy_timeout = 5000`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("configure store: %w", err)
	}

	s := New(db, log)
	if err := s.Migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// New wraps an already opened database without migrating it.
func New(db *sql.DB, log logging.Logger) *Store {
	if log == nil {
		log = logging.Discard()
	}
	return &Store{
		db:  db,
		log: log,
		repos: &Repositories{
			Settings: settings.NewSQLiteRepository(db),
			Photos:   photos.NewSQLiteRepository(db),
			Entities: entities.NewSQLiteRepository(db),
			Queue:    queue.NewSQLiteRepository(db),
			Entries:  entries.NewSQLiteRepository(db),
		},
	}
}

func (s *Store) DB() *sql.DB                 { return s.db }
func (s *Store) Repositories() *Repositories { return s.repos }

func (s *Store) Close() error {
	return s.db.Close()
}

// RunMigrations applies every embedded migration newer than the version
// recorded in db.
func RunMigrations(ctx context.Context, db *sql.DB, log logging.Logger) error {
	gooseMu.Lock()
	defer gooseMu.Unlock()

	goose.SetBaseFS(migrations.Migrations)
	goose.SetLogger(gooseLogger{log: log})
	if err := goose.SetDialect("sqlite3"); err != nil {
		return fmt.Errorf("failed to set goose dialect: %w", err)
	}
	if err := goose.UpContext(ctx, db, "."); err != nil {
		return fmt.Errorf("migrate store: %w", err)
	}
	return nil
}

// Migrate upgrades the schema and then repairs missing containers.
func (s *Store) Migrate(ctx context.Context) error {
	if err := RunMigrations(ctx, s.db, s.log); err != nil {
		return err
	}
	repaired, err := s.Repair(ctx)
	if err != nil {
		return err
	}
	if len(repaired) > 0 {
		s.log.Warn(ctx, "store containers were missing and have been recreated", "containers", repaired)
	}
	return nil
}

// Version returns the schema version recorded by goose.
func (s *Store) Version(ctx context.Context) (int64, error) {
	gooseMu.Lock()
	defer gooseMu.Unlock()

	if err := goose.SetDialect("sqlite3"); err != nil {
		return 0, err
	}
	return goose.GetDBVersionContext(ctx, s.db)
}

// MissingContainers lists expected containers absent from the database.
func (s *Store) MissingContainers(ctx context.Context) ([]string, error) {
	existing, err := s.tables(ctx)
	if err != nil {
		return nil, err
	}
	var missing []string
	for _, c := range migrations.Containers {
		if !existing[c.Name] {
			missing = append(missing, c.Name)
		}
	}
	return missing, nil
}

// Repair recreates every missing container from its own migration, leaving
// the other containers and their data untouched. It returns the names of
// the containers it rebuilt.
func (s *Store) Repair(ctx context.Context) ([]string, error) {
	missing, err := s.MissingContainers(ctx)
	if err != nil {
		return nil, err
	}
	if len(missing) == 0 {
		return nil, nil
	}

	want := make(map[string]bool, len(missing))
	for _, name := range missing {
		want[name] = true
	}
	for _, c := range migrations.Containers {
		if !want[c.Name] {
			continue
		}
		stmts, err := migrations.UpStatements(c.File)
		if err != nil {
			return nil, err
		}
		// A container is rebuilt whole or not at all.
		err = dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
			for _, stmt := range stmts {
				if _, err := tx.ExecContext(ctx, stmt); err != nil {
					return err
				}
			}
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("recreate container %s: %w", c.Name, err)
		}
	}
	return missing, nil
}

// Reset drops every container, including the migration bookkeeping, and
// recreates an empty schema. All local data is lost.
func (s *Store) Reset(ctx context.Context) error {
	existing, err := s.tables(ctx)
	if err != nil {
		return err
	}
	err = dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		for name := range existing {
			if _, err := tx.ExecContext(ctx, `DROP TABLE IF EXISTS "`+name+`"`); err != nil {
				return fmt.Errorf("drop %s: %w", name, err)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	s.log.Warn(ctx, "store reset", "dropped", len(existing))
	return s.Migrate(ctx)
}

// CountPending returns pending photos plus pending hierarchy entities.
func (s *Store) CountPending(ctx context.Context) (int, error) {
	total, err := s.repos.Photos.CountByStatus(ctx, models.PhotoPending)
	if err != nil {
		return 0, err
	}
	for _, t := range models.EntityTypes {
		n, err := s.repos.Entities.CountPending(ctx, t)
		if err != nil {
			return 0, err
		}
		total += n
	}
	return total, nil
}

func (s *Store) tables(ctx context.Context) (map[string]bool, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT name FROM sqlite_master WHERE type = 'table' AND name NOT LIKE 'sqlite_%'`)
	if err != nil {
		return nil, fmt.Errorf("list store containers: %w", err)
	}
	defer rows.Close()

	result := map[string]bool{}
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scan container name: %w", err)
		}
		result[name] = true
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate container names: %w", err)
	}
	return result, nil
}

type gooseLogger struct {
	log logging.Logger
}

func (g gooseLogger) Printf(format string, v ...any) {
	if g.log == nil {
		return
	}
	g.log.Debug(context.Background(), strings.TrimSpace(fmt.Sprintf(format, v...)))
}

func (g gooseLogger) Fatalf(format string, v ...any) {
	if g.log == nil {
		return
	}
	g.log.Error(context.Background(), strings.TrimSpace(fmt.Sprintf(format, v...)))
}
