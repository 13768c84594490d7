package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"path/filepath"
	"strings"
	"time"

	"survey-map/pkg/survey"
)

// Config selects and locates the SQL backend.
type Config struct {
	DBType  string // sqlite, genji, pgx or duckdb
	DBPath  string // file path for embedded engines
	DBConn  string // DSN for pgx
	DataDir string // default home of embedded database files
}

// SQLStore keeps metadata in three tables. Insertion order is the seq
// column; sites and samples are stored as JSON text keyed by id.
type SQLStore struct {
	DB     *sql.DB
	Driver string
}

// normalizeDBType trims and lowercases driver names.
func normalizeDBType(dbType string) string {
	return strings.ToLower(strings.TrimSpace(dbType))
}

// OpenSQL opens the configured database and creates the tables.
// Embedded engines get a single connection.
func OpenSQL(ctx context.Context, cfg Config) (*SQLStore, error) {
	driverName := normalizeDBType(cfg.DBType)
	dsn := cfg.DBPath
	switch driverName {
	case "sqlite", "genji", "duckdb":
		if dsn == "" {
			dsn = filepath.Join(cfg.DataDir, "survey-map."+driverName)
		}
	case "pgx":
		dsn = cfg.DBConn
		if strings.TrimSpace(dsn) == "" {
			return nil, errors.New("pgx needs a connection string (-db-conn)")
		}
	default:
		return nil, fmt.Errorf("unsupported database type: %s", cfg.DBType)
	}

	db, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("error opening the database: %w", err)
	}
	if driverName != "pgx" {
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
		db.SetConnMaxLifetime(0)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("error connecting to the database: %w", err)
	}
	if driverName == "sqlite" {
		if err := tuneSQLite(pingCtx, db, log.Printf); err != nil {
			log.Printf("sqlite tuning skipped: %v", err)
		}
	}

	s := &SQLStore{DB: db, Driver: driverName}
	if err := s.initSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	log.Printf("Using database driver: %s (%s)", driverName, dsn)
	return s, nil
}

// tuneSQLite applies WAL and busy-timeout pragmas one by one.
func tuneSQLite(ctx context.Context, db *sql.DB, logf func(string, ...any)) error {
	steps := []struct {
		label, query string
		expectRow    bool
	}{
		{label: "journal_mode", query: "PRAGMA journal_mode=WAL;", expectRow: true},
		{label: "synchronous", query: "PRAGMA synchronous=NORMAL;"},
		{label: "busy_timeout", query: "PRAGMA busy_timeout=5000;"},
	}
	for _, step := range steps {
		if step.expectRow {
			var mode string
			if err := db.QueryRowContext(ctx, step.query).Scan(&mode); err != nil {
				return fmt.Errorf("apply %s: %w", step.label, err)
			}
			logf("SQLite tuning %s -> %s", step.label, mode)
			continue
		}
		if _, err := db.ExecContext(ctx, step.query); err != nil {
			return fmt.Errorf("apply %s: %w", step.label, err)
		}
	}
	return nil
}

func (s *SQLStore) initSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS track_index (
			file TEXT PRIMARY KEY,
			seq INTEGER,
			title TEXT,
			description TEXT,
			unit TEXT
		)`,
		`CREATE TABLE IF NOT EXISTS sites (
			id TEXT PRIMARY KEY,
			seq INTEGER,
			body TEXT
		)`,
		`CREATE TABLE IF NOT EXISTS samples (
			id TEXT PRIMARY KEY,
			seq INTEGER,
			body TEXT
		)`,
	}
	for _, q := range stmts {
		if _, err := s.DB.ExecContext(ctx, q); err != nil {
			return fmt.Errorf("create schema: %w", err)
		}
	}
	return nil
}

// Close closes the database.
func (s *SQLStore) Close() error { return s.DB.Close() }

// q rewrites ? placeholders to $n for PostgreSQL.
func (s *SQLStore) q(query string) string {
	if s.Driver != "pgx" {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			fmt.Fprintf(&b, "$%d", n)
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// inTx runs fn in a transaction, rolling back on error.
func (s *SQLStore) inTx(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

// exists reports whether table has a row whose key column equals key.
// Not every driver reports affected rows, so writes look first.
func (s *SQLStore) exists(ctx context.Context, tx *sql.Tx, table, column, key string) (bool, error) {
	var seq sql.NullInt64
	err := tx.QueryRowContext(ctx, s.q("SELECT seq FROM "+table+" WHERE "+column+" = ?"), key).Scan(&seq)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return false, nil
	case err != nil:
		return false, err
	default:
		return true, nil
	}
}

func (s *SQLStore) nextSeq(ctx context.Context, tx *sql.Tx, table string) (int64, error) {
	var cur sql.NullInt64
	if err := tx.QueryRowContext(ctx, "SELECT MAX(seq) FROM "+table).Scan(&cur); err != nil {
		return 0, err
	}
	if !cur.Valid {
		return 0, nil
	}
	return cur.Int64 + 1, nil
}

// Tracks implements Store.
func (s *SQLStore) Tracks(ctx context.Context) ([]survey.IndexEntry, error) {
	rows, err := s.DB.QueryContext(ctx, `SELECT file, title, description, unit FROM track_index ORDER BY seq`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []survey.IndexEntry{}
	for rows.Next() {
		var (
			e                 survey.IndexEntry
			title, desc, unit sql.NullString
		)
		if err := rows.Scan(&e.File, &title, &desc, &unit); err != nil {
			return nil, err
		}
		e.Title, e.Description, e.Unit = title.String, desc.String, unit.String
		out = append(out, normalizeEntry(e))
	}
	return out, rows.Err()
}

// AddTrack implements Store. A file already in the index is updated in
// place.
func (s *SQLStore) AddTrack(ctx context.Context, e survey.IndexEntry) error {
	e = normalizeEntry(e)
	return s.inTx(ctx, func(tx *sql.Tx) error {
		found, err := s.exists(ctx, tx, "track_index", "file", e.File)
		if err != nil {
			return err
		}
		if found {
			return s.updateEntry(ctx, tx, e)
		}
		seq, err := s.nextSeq(ctx, tx, "track_index")
		if err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, s.q(`INSERT INTO track_index (file, seq, title, description, unit) VALUES (?, ?, ?, ?, ?)`),
			e.File, seq, e.Title, e.Description, e.Unit)
		return err
	})
}

func (s *SQLStore) updateEntry(ctx context.Context, tx *sql.Tx, e survey.IndexEntry) error {
	_, err := tx.ExecContext(ctx, s.q(`UPDATE track_index SET title = ?, description = ?, unit = ? WHERE file = ?`),
		e.Title, e.Description, e.Unit, e.File)
	return err
}

// UpdateTrack implements Store.
func (s *SQLStore) UpdateTrack(ctx context.Context, e survey.IndexEntry) error {
	e = normalizeEntry(e)
	return s.inTx(ctx, func(tx *sql.Tx) error {
		found, err := s.exists(ctx, tx, "track_index", "file", e.File)
		if err != nil {
			return err
		}
		if !found {
			return ErrNotFound
		}
		return s.updateEntry(ctx, tx, e)
	})
}

// DeleteTrack implements Store.
func (s *SQLStore) DeleteTrack(ctx context.Context, file string) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		found, err := s.exists(ctx, tx, "track_index", "file", file)
		if err != nil {
			return err
		}
		if !found {
			return ErrNotFound
		}
		_, err = tx.ExecContext(ctx, s.q(`DELETE FROM track_index WHERE file = ?`), file)
		return err
	})
}

// ReplaceTracks implements Store.
func (s *SQLStore) ReplaceTracks(ctx context.Context, entries []survey.IndexEntry) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM track_index`); err != nil {
			return err
		}
		for i, e := range entries {
			e = normalizeEntry(e)
			if _, err := tx.ExecContext(ctx, s.q(`INSERT INTO track_index (file, seq, title, description, unit) VALUES (?, ?, ?, ?, ?)`),
				e.File, int64(i), e.Title, e.Description, e.Unit); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *SQLStore) records(ctx context.Context, table string) ([]Record, error) {
	rows, err := s.DB.QueryContext(ctx, "SELECT body FROM "+table+" ORDER BY seq")
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []Record{}
	for rows.Next() {
		var body string
		if err := rows.Scan(&body); err != nil {
			return nil, err
		}
		var r Record
		if err := json.Unmarshal([]byte(body), &r); err != nil {
			return nil, fmt.Errorf("decode %s row: %w", table, err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *SQLStore) save(ctx context.Context, table string, r Record) error {
	body, err := json.Marshal(r)
	if err != nil {
		return err
	}
	id := r.ID()
	return s.inTx(ctx, func(tx *sql.Tx) error {
		found, err := s.exists(ctx, tx, table, "id", id)
		if err != nil {
			return err
		}
		if found {
			_, err = tx.ExecContext(ctx, s.q("UPDATE "+table+" SET body = ? WHERE id = ?"), string(body), id)
			return err
		}
		seq, err := s.nextSeq(ctx, tx, table)
		if err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, s.q("INSERT INTO "+table+" (id, seq, body) VALUES (?, ?, ?)"), id, seq, string(body))
		return err
	})
}

func (s *SQLStore) remove(ctx context.Context, table, id string) error {
	_, err := s.DB.ExecContext(ctx, s.q("DELETE FROM "+table+" WHERE id = ?"), id)
	return err
}

// Sites implements Store.
func (s *SQLStore) Sites(ctx context.Context) ([]Record, error) { return s.records(ctx, "sites") }

// SaveSite implements Store.
func (s *SQLStore) SaveSite(ctx context.Context, r Record) error { return s.save(ctx, "sites", r) }

// DeleteSite implements Store.
func (s *SQLStore) DeleteSite(ctx context.Context, id string) error {
	return s.remove(ctx, "sites", id)
}

// ReplaceSites implements Store.
func (s *SQLStore) ReplaceSites(ctx context.Context, sites []Record) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM sites`); err != nil {
			return err
		}
		for i, r := range sites {
			body, err := json.Marshal(r)
			if err != nil {
				return err
			}
			if _, err := tx.ExecContext(ctx, s.q(`INSERT INTO sites (id, seq, body) VALUES (?, ?, ?)`),
				r.ID(), int64(i), string(body)); err != nil {
				return err
			}
		}
		return nil
	})
}

// Samples implements Store.
func (s *SQLStore) Samples(ctx context.Context) ([]Record, error) { return s.records(ctx, "samples") }

// SaveSample implements Store.
func (s *SQLStore) SaveSample(ctx context.Context, r Record) error {
	return s.save(ctx, "samples", r)
}

// DeleteSample implements Store.
func (s *SQLStore) DeleteSample(ctx context.Context, id string) error {
	return s.remove(ctx, "samples", id)
}
