package docstore

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"sync"

	_ "github.com/mattn/go-sqlite3"
)

//go:embed schema.sql
var schemaSQL string

// Schema version tracking:
// 1 - documents and commits tables
const currentSchemaVersion = 1

// SQLite is a durable single-process Backend. Watchers are served from the
// same process; other processes opening the file see the data but do not
// receive pushes.
type SQLite struct {
	db   *sql.DB
	opts options
	hub  *hub

	// mu serializes writers so commit order and notification order agree.
	mu     sync.Mutex
	closed bool
}

// OpenSQLite creates or opens a database at path (":memory:" for a private
// in-memory database).
//
// The database is configured with:
//   - WAL mode for concurrent reads during writes
//   - NORMAL synchronous mode
//   - 5-second busy timeout for lock contention
func OpenSQLite(path string, opts ...Option) (*SQLite, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// One connection: a private :memory: database lives on a single
	// connection, and SQLite has a single writer anyway.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := applyPragmas(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply pragmas: %w", err)
	}
	if err := applySchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	return &SQLite{db: db, opts: buildOptions(opts), hub: newHub()}, nil
}

func applyPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("failed to execute %q: %w", pragma, err)
		}
	}
	return nil
}

func applySchema(db *sql.DB) error {
	if _, err := db.Exec(schemaSQL); err != nil {
		return fmt.Errorf("failed to execute schema: %w", err)
	}

	var version int
	if err := db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("failed to get schema version: %w", err)
	}
	if version > currentSchemaVersion {
		return fmt.Errorf("database schema version %d is newer than supported %d", version, currentSchemaVersion)
	}
	if version < currentSchemaVersion {
		if _, err := db.Exec(fmt.Sprintf("PRAGMA user_version = %d", currentSchemaVersion)); err != nil {
			return fmt.Errorf("failed to set schema version: %w", err)
		}
	}
	return nil
}

func (s *SQLite) Get(ctx context.Context, path string) (Document, error) {
	if err := ValidateDocPath(path); err != nil {
		return Document{}, err
	}
	if s.isClosed() {
		return Document{}, ErrClosed
	}
	doc, ok, err := s.load(ctx, s.db, path)
	if err != nil {
		return Document{}, err
	}
	if !ok {
		return Document{}, fmt.Errorf("%w: %s", ErrNotFound, path)
	}
	return doc, nil
}

func (s *SQLite) List(ctx context.Context, collection string) ([]Document, error) {
	if err := ValidateCollectionPath(collection); err != nil {
		return nil, err
	}
	if s.isClosed() {
		return nil, ErrClosed
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT path, data, seq FROM documents WHERE parent = ? ORDER BY path`, collection)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", collection, err)
	}
	return scanDocs(rows)
}

func (s *SQLite) Set(ctx context.Context, path string, fields map[string]any) (int64, error) {
	if err := ValidateDocPath(path); err != nil {
		return 0, err
	}
	return s.commit(ctx, path, func(map[string]any, bool) (map[string]any, bool, error) {
		return ResolveServerTimestamps(fields, s.opts.now()), true, nil
	})
}

func (s *SQLite) Create(ctx context.Context, collection string, fields map[string]any) (string, int64, error) {
	if err := ValidateCollectionPath(collection); err != nil {
		return "", 0, err
	}
	id := s.opts.newID()
	seq, err := s.Set(ctx, Join(collection, id), fields)
	if err != nil {
		return "", 0, err
	}
	return id, seq, nil
}

func (s *SQLite) Update(ctx context.Context, path string, ops ...FieldOp) (int64, error) {
	return s.update(ctx, path, false, ops)
}

func (s *SQLite) Upsert(ctx context.Context, path string, ops ...FieldOp) (int64, error) {
	return s.update(ctx, path, true, ops)
}

func (s *SQLite) update(ctx context.Context, path string, upsert bool, ops []FieldOp) (int64, error) {
	if err := ValidateDocPath(path); err != nil {
		return 0, err
	}
	return s.commit(ctx, path, func(cur map[string]any, exists bool) (map[string]any, bool, error) {
		if !exists {
			if !upsert {
				return nil, false, fmt.Errorf("%w: %s", ErrNotFound, path)
			}
			cur = map[string]any{}
		}
		if err := ApplyOps(cur, ops, s.opts.now()); err != nil {
			return nil, false, err
		}
		return cur, true, nil
	})
}

func (s *SQLite) Delete(ctx context.Context, path string) (int64, error) {
	if err := ValidateDocPath(path); err != nil {
		return 0, err
	}
	return s.commit(ctx, path, func(_ map[string]any, exists bool) (map[string]any, bool, error) {
		if !exists {
			return nil, false, fmt.Errorf("%w: %s", ErrNotFound, path)
		}
		return nil, false, nil
	})
}

// commit reads, mutates and writes one document in a transaction that also
// advances the commit sequence.
func (s *SQLite) commit(ctx context.Context, path string, mutate func(cur map[string]any, exists bool) (map[string]any, bool, error)) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, ErrClosed
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	existing, exists, err := s.load(ctx, tx, path)
	if err != nil {
		return 0, err
	}
	next, keep, err := mutate(existing.Fields, exists)
	if err != nil {
		return 0, err
	}

	var seq int64
	if err := tx.QueryRowContext(ctx,
		`UPDATE commits SET seq = seq + 1 WHERE id = 1 RETURNING seq`).Scan(&seq); err != nil {
		return 0, fmt.Errorf("advance seq: %w", err)
	}

	if keep {
		data, err := EncodeFields(next)
		if err != nil {
			return 0, err
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO documents (path, parent, data, seq) VALUES (?, ?, ?, ?)
			ON CONFLICT(path) DO UPDATE SET data = excluded.data, seq = excluded.seq`,
			path, Parent(path), string(data), seq); err != nil {
			return 0, fmt.Errorf("write %s: %w", path, err)
		}
	} else {
		if _, err := tx.ExecContext(ctx, `DELETE FROM documents WHERE path = ?`, path); err != nil {
			return 0, fmt.Errorf("delete %s: %w", path, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit: %w", err)
	}

	s.hub.publish([]string{path}, func(prefix string) (Snapshot, error) {
		return s.snapshot(context.Background(), prefix)
	})
	return seq, nil
}

type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *SQLite) load(ctx context.Context, q queryer, path string) (Document, bool, error) {
	var (
		data string
		seq  int64
	)
	err := q.QueryRowContext(ctx, `SELECT data, seq FROM documents WHERE path = ?`, path).Scan(&data, &seq)
	if errors.Is(err, sql.ErrNoRows) {
		return Document{}, false, nil
	}
	if err != nil {
		return Document{}, false, fmt.Errorf("read %s: %w", path, err)
	}
	fields, err := DecodeFields([]byte(data))
	if err != nil {
		return Document{}, false, fmt.Errorf("read %s: %w", path, err)
	}
	return Document{Path: path, Fields: fields, Seq: seq}, true, nil
}

// snapshot reads the commit sequence and every document under prefix.
// Document ids may contain "_" and "%", so the prefix match avoids LIKE.
func (s *SQLite) snapshot(ctx context.Context, prefix string) (Snapshot, error) {
	snap := Snapshot{Prefix: prefix}
	if err := s.db.QueryRowContext(ctx, `SELECT seq FROM commits WHERE id = 1`).Scan(&snap.Seq); err != nil {
		return Snapshot{}, fmt.Errorf("read seq: %w", err)
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT path, data, seq FROM documents
		WHERE path = ? OR substr(path, 1, ?) = ?
		ORDER BY path`,
		prefix, len(prefix)+1, prefix+"/")
	if err != nil {
		return Snapshot{}, fmt.Errorf("query %s: %w", prefix, err)
	}
	docs, err := scanDocs(rows)
	if err != nil {
		return Snapshot{}, err
	}
	snap.Docs = docs
	return snap, nil
}

func scanDocs(rows *sql.Rows) ([]Document, error) {
	defer rows.Close()
	var out []Document
	for rows.Next() {
		var (
			doc  Document
			data string
		)
		if err := rows.Scan(&doc.Path, &data, &doc.Seq); err != nil {
			return nil, fmt.Errorf("scan document: %w", err)
		}
		fields, err := DecodeFields([]byte(data))
		if err != nil {
			return nil, fmt.Errorf("decode %s: %w", doc.Path, err)
		}
		doc.Fields = fields
		out = append(out, doc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate documents: %w", err)
	}
	return out, nil
}

// Watch delivers the current snapshot immediately, then one per commit under prefix.
func (s *SQLite) Watch(ctx context.Context, prefix string) (Watcher, error) {
	if _, err := splitPath(prefix); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}
	initial, err := s.snapshot(ctx, prefix)
	if err != nil {
		return nil, err
	}
	return s.hub.add(ctx, prefix, initial), nil
}

func (s *SQLite) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Close stops all watchers and closes the database.
func (s *SQLite) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	s.hub.closeAll()
	return s.db.Close()
}
