package history

import (
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/go-gorp/gorp"
	_ "github.com/mattn/go-sqlite3"
)

// DB wraps gorp.DbMap over a SQLite database.
type DB struct {
	*gorp.DbMap
}

// Table is a model stored in its own table.
type Table interface {
	TableName() string
}

// Open opens (or creates) the SQLite database at path. Use ":memory:" for
// a throwaway database.
func Open(path string) (*DB, error) {
	sqlDB, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("history: open %s: %w", path, err)
	}
	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("history: ping %s: %w", path, err)
	}
	// sqlite serialises writers anyway; one connection also keeps
	// ":memory:" databases coherent.
	sqlDB.SetMaxOpenConns(1)
	slog.Info("history: database is ready", "path", path)
	return &DB{DbMap: &gorp.DbMap{Db: sqlDB, Dialect: gorp.SqliteDialect{}}}, nil
}

// AddTable registers a model under its table name.
func (d *DB) AddTable(t Table) *gorp.TableMap {
	return d.AddTableWithName(t, t.TableName())
}

// CreateTable creates the given tables if they do not exist yet.
func (d *DB) CreateTable(tables ...*gorp.TableMap) error {
	tx, err := d.Begin()
	if err != nil {
		return fmt.Errorf("history: begin: %w", err)
	}
	for _, t := range tables {
		slog.Debug("history: creating table", "table", t.TableName)
		if _, err := tx.Exec(t.SqlForCreate(true)); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("history: create %s: %w", t.TableName, err)
		}
	}
	return tx.Commit()
}

// TableExists reports whether t has been created.
func (d *DB) TableExists(t Table) bool {
	name, err := d.SelectStr("SELECT name FROM sqlite_master WHERE type='table' AND name = :name",
		map[string]any{"name": t.TableName()})
	return err == nil && name != ""
}

// Close closes the underlying connection.
func (d *DB) Close() {
	if err := d.Db.Close(); err != nil {
		slog.Error("history: failed to close database", "err", err)
	}
}
