package localstore

import (
	"context"
	"database/sql"
	stderrors "errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/honeynil/paisa-tracker/internal/infrastructure/observability"
	pkgerrors "github.com/honeynil/paisa-tracker/pkg/errors"
	"github.com/mattn/go-sqlite3"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"
)

// SQLiteStore keeps each collection in its own table of a single SQLite
// file. The file may be shared by the app and the worker process.
type SQLiteStore struct {
	path   string
	tracer trace.Tracer

	group  singleflight.Group
	mu     sync.RWMutex
	db     *sql.DB
	closed bool
}

func NewSQLiteStore(path string) *SQLiteStore {
	return &SQLiteStore{
		path:   path,
		tracer: otel.Tracer("localstore"),
	}
}

func (s *SQLiteStore) dsn() string {
	if s.path == ":memory:" {
		return ":memory:"
	}
	return fmt.Sprintf("file:%s?_busy_timeout=5000&_journal_mode=WAL", s.path)
}

// Initialize opens the file and creates the schema. Concurrent callers share
// one attempt; once it succeeded later calls return immediately.
func (s *SQLiteStore) Initialize(ctx context.Context) error {
	_, err := s.handle(ctx)
	return err
}

func (s *SQLiteStore) handle(ctx context.Context) (*sql.DB, error) {
	s.mu.RLock()
	db, closed := s.db, s.closed
	s.mu.RUnlock()
	if closed {
		return nil, fmt.Errorf("%w: store closed", pkgerrors.ErrStorageUnavailable)
	}
	if db != nil {
		return db, nil
	}

	v, err, _ := s.group.Do("init", func() (interface{}, error) {
		s.mu.RLock()
		existing := s.db
		s.mu.RUnlock()
		if existing != nil {
			return existing, nil
		}
		opened, err := s.open(ctx)
		if err != nil {
			return nil, err
		}
		s.mu.Lock()
		s.db = opened
		s.mu.Unlock()
		return opened, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*sql.DB), nil
}

func (s *SQLiteStore) open(ctx context.Context) (*sql.DB, error) {
	start := time.Now()
	db, err := sql.Open("sqlite3", s.dsn())
	if err != nil {
		observability.ObserveCall("localstore.Initialize", start, err)
		return nil, fmt.Errorf("%w: %v", pkgerrors.ErrStorageUnavailable, err)
	}
	// один писатель: конфликтующие записи сериализует сам движок
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		observability.ObserveCall("localstore.Initialize", start, err)
		slog.Error("failed to open local store", "path", s.path, "error", err)
		return nil, fmt.Errorf("%w: %v", pkgerrors.ErrStorageUnavailable, err)
	}

	for _, stmt := range schemaStatements() {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			db.Close()
			observability.ObserveCall("localstore.Initialize", start, err)
			slog.Error("failed to create local schema", "path", s.path, "error", err)
			return nil, fmt.Errorf("%w: create schema: %v", pkgerrors.ErrStorageUnavailable, err)
		}
	}

	observability.ObserveCall("localstore.Initialize", start, nil)
	slog.Info("local store initialized", "path", s.path)
	return db, nil
}

func schemaStatements() []string {
	names := make([]string, 0, len(schemas))
	for c := range schemas {
		names = append(names, string(c))
	}
	sort.Strings(names)

	var stmts []string
	for _, name := range names {
		sc := schemas[Collection(name)]
		cols := []string{"id INTEGER PRIMARY KEY"}
		if sc.autoIncrement {
			cols[0] += " AUTOINCREMENT"
		}
		cols = append(cols, "value BLOB NOT NULL")
		for _, col := range sortedColumns(sc) {
			cols = append(cols, col+" TEXT")
		}
		stmts = append(stmts, fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (%s)", sc.table, strings.Join(cols, ", ")))
		for _, col := range sortedColumns(sc) {
			stmts = append(stmts, fmt.Sprintf("CREATE INDEX IF NOT EXISTS idx_%s_%s ON %s(%s)", sc.table, col, sc.table, col))
		}
	}
	return append(stmts, "CREATE TABLE IF NOT EXISTS leases (name TEXT PRIMARY KEY, holder TEXT NOT NULL, expires_at INTEGER NOT NULL)")
}

func sortedColumns(sc schema) []string {
	cols := make([]string, 0, len(sc.indexes))
	for _, col := range sc.indexes {
		cols = append(cols, col)
	}
	sort.Strings(cols)
	return cols
}

func lookup(c Collection) (schema, error) {
	sc, ok := schemas[c]
	if !ok {
		return schema{}, pkgerrors.Invalid("unknown collection %q", c)
	}
	return sc, nil
}

func (s *SQLiteStore) observe(ctx context.Context, method string, c Collection) (context.Context, func(*error)) {
	ctx, span := s.tracer.Start(ctx, method)
	span.SetAttributes(attribute.String("collection", string(c)))
	start := time.Now()
	return ctx, func(errp *error) {
		if err := *errp; err != nil && !stderrors.Is(err, pkgerrors.ErrNotFound) {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		observability.ObserveCall("localstore."+method, start, *errp)
		span.End()
	}
}

func (s *SQLiteStore) Get(ctx context.Context, c Collection, key int64) (rec Record, err error) {
	ctx, done := s.observe(ctx, "Get", c)
	defer done(&err)

	sc, err := lookup(c)
	if err != nil {
		return Record{}, err
	}
	db, err := s.handle(ctx)
	if err != nil {
		return Record{}, err
	}

	cols := sortedColumns(sc)
	query := fmt.Sprintf("SELECT %s FROM %s WHERE id = ?", selectList(cols), sc.table)
	recs, err := s.query(ctx, db, sc, cols, query, key)
	if err != nil {
		return Record{}, err
	}
	if len(recs) == 0 {
		err = fmt.Errorf("%w: %s/%d", pkgerrors.ErrNotFound, c, key)
		return Record{}, err
	}
	return recs[0], nil
}

func (s *SQLiteStore) GetAll(ctx context.Context, c Collection) (recs []Record, err error) {
	ctx, done := s.observe(ctx, "GetAll", c)
	defer done(&err)

	sc, err := lookup(c)
	if err != nil {
		return nil, err
	}
	db, err := s.handle(ctx)
	if err != nil {
		return nil, err
	}
	cols := sortedColumns(sc)
	query := fmt.Sprintf("SELECT %s FROM %s ORDER BY id ASC", selectList(cols), sc.table)
	return s.query(ctx, db, sc, cols, query)
}

func (s *SQLiteStore) GetAllByIndex(ctx context.Context, c Collection, index Index, match string) (recs []Record, err error) {
	ctx, done := s.observe(ctx, "GetAllByIndex", c)
	defer done(&err)

	sc, err := lookup(c)
	if err != nil {
		return nil, err
	}
	col, ok := sc.indexes[index]
	if !ok {
		err = pkgerrors.Invalid("collection %q has no index %q", c, index)
		return nil, err
	}
	db, err := s.handle(ctx)
	if err != nil {
		return nil, err
	}

	cols := sortedColumns(sc)
	if match == "" {
		query := fmt.Sprintf("SELECT %s FROM %s ORDER BY %s ASC, id ASC", selectList(cols), sc.table, col)
		return s.query(ctx, db, sc, cols, query)
	}
	query := fmt.Sprintf("SELECT %s FROM %s WHERE %s = ? ORDER BY %s ASC, id ASC", selectList(cols), sc.table, col, col)
	return s.query(ctx, db, sc, cols, query, match)
}

func (s *SQLiteStore) Put(ctx context.Context, c Collection, rec Record) (key int64, err error) {
	ctx, done := s.observe(ctx, "Put", c)
	defer done(&err)

	sc, err := lookup(c)
	if err != nil {
		return 0, err
	}
	if rec.Key == 0 && !sc.autoIncrement {
		err = pkgerrors.Invalid("collection %q requires an explicit key", c)
		return 0, err
	}
	db, err := s.handle(ctx)
	if err != nil {
		return 0, err
	}

	cols := sortedColumns(sc)
	names := []string{"value"}
	args := []any{[]byte(rec.Value)}
	for _, col := range cols {
		names = append(names, col)
		args = append(args, indexValue(sc, rec, col))
	}

	var query string
	if rec.Key == 0 {
		query = fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)", sc.table, strings.Join(names, ", "), placeholders(len(names)))
	} else {
		updates := make([]string, 0, len(names))
		for _, n := range names {
			updates = append(updates, fmt.Sprintf("%s = excluded.%s", n, n))
		}
		names = append([]string{"id"}, names...)
		args = append([]any{rec.Key}, args...)
		query = fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s) ON CONFLICT(id) DO UPDATE SET %s",
			sc.table, strings.Join(names, ", "), placeholders(len(names)), strings.Join(updates, ", "))
	}

	res, err := db.ExecContext(ctx, query, args...)
	if err != nil {
		err = classify(err)
		slog.Error("failed to put record", "method", "Put", "collection", c, "key", rec.Key, "error", err)
		return 0, fmt.Errorf("failed to put %s record: %w", c, err)
	}
	if rec.Key != 0 {
		return rec.Key, nil
	}
	key, err = res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to read assigned key: %w", err)
	}
	return key, nil
}

func (s *SQLiteStore) Delete(ctx context.Context, c Collection, key int64) (err error) {
	ctx, done := s.observe(ctx, "Delete", c)
	defer done(&err)

	sc, err := lookup(c)
	if err != nil {
		return err
	}
	db, err := s.handle(ctx)
	if err != nil {
		return err
	}
	if _, err = db.ExecContext(ctx, fmt.Sprintf("DELETE FROM %s WHERE id = ?", sc.table), key); err != nil {
		err = classify(err)
		slog.Error("failed to delete record", "method", "Delete", "collection", c, "key", key, "error", err)
		return fmt.Errorf("failed to delete %s record: %w", c, err)
	}
	return nil
}

// Upsert wins only when the row is ours or expired; otherwise no row changes.
const acquireLeaseQuery = `INSERT INTO leases (name, holder, expires_at) VALUES (?, ?, ?)
ON CONFLICT(name) DO UPDATE SET holder = excluded.holder, expires_at = excluded.expires_at
WHERE leases.holder = excluded.holder OR leases.expires_at <= ?`

func (s *SQLiteStore) AcquireLease(ctx context.Context, name, holder string, now, until time.Time) (ok bool, err error) {
	ctx, done := s.observe(ctx, "AcquireLease", "leases")
	defer done(&err)

	db, err := s.handle(ctx)
	if err != nil {
		return false, err
	}
	res, err := db.ExecContext(ctx, acquireLeaseQuery, name, holder, until.UnixNano(), now.UnixNano())
	if err != nil {
		err = classify(err)
		slog.Error("failed to acquire lease", "method", "AcquireLease", "lease", name, "holder", holder, "error", err)
		return false, fmt.Errorf("failed to acquire lease %s: %w", name, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read lease result: %w", err)
	}
	return n == 1, nil
}

func (s *SQLiteStore) ReleaseLease(ctx context.Context, name, holder string) (err error) {
	ctx, done := s.observe(ctx, "ReleaseLease", "leases")
	defer done(&err)

	db, err := s.handle(ctx)
	if err != nil {
		return err
	}
	if _, err = db.ExecContext(ctx, "DELETE FROM leases WHERE name = ? AND holder = ?", name, holder); err != nil {
		err = classify(err)
		slog.Error("failed to release lease", "method", "ReleaseLease", "lease", name, "holder", holder, "error", err)
		return fmt.Errorf("failed to release lease %s: %w", name, err)
	}
	return nil
}

func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

func (s *SQLiteStore) query(ctx context.Context, db *sql.DB, sc schema, cols []string, query string, args ...any) ([]Record, error) {
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		err = classify(err)
		slog.Error("failed to query local store", "table", sc.table, "error", err)
		return nil, fmt.Errorf("failed to query %s: %w", sc.table, err)
	}
	defer rows.Close()

	byColumn := make(map[string]Index, len(sc.indexes))
	for idx, col := range sc.indexes {
		byColumn[col] = idx
	}

	var recs []Record
	for rows.Next() {
		var (
			key   int64
			value []byte
		)
		idxVals := make([]sql.NullString, len(cols))
		dest := []any{&key, &value}
		for i := range idxVals {
			dest = append(dest, &idxVals[i])
		}
		if err := rows.Scan(dest...); err != nil {
			return nil, fmt.Errorf("failed to scan %s row: %w", sc.table, err)
		}
		rec := Record{Key: key, Value: value}
		if len(cols) > 0 {
			rec.Indexes = make(map[Index]string, len(cols))
			for i, col := range cols {
				if idxVals[i].Valid {
					rec.Indexes[byColumn[col]] = idxVals[i].String
				}
			}
		}
		recs = append(recs, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate %s: %w", sc.table, classify(err))
	}
	return recs, nil
}

func selectList(cols []string) string {
	return strings.Join(append([]string{"id", "value"}, cols...), ", ")
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

func indexValue(sc schema, rec Record, col string) any {
	for idx, c := range sc.indexes {
		if c == col {
			if v, ok := rec.Indexes[idx]; ok {
				return v
			}
		}
	}
	return nil
}

// classify maps engine failures that make the store unusable onto
// ErrStorageUnavailable.
func classify(err error) error {
	var se sqlite3.Error
	if stderrors.As(err, &se) {
		switch se.Code {
		case sqlite3.ErrFull, sqlite3.ErrReadonly, sqlite3.ErrCantOpen, sqlite3.ErrPerm,
			sqlite3.ErrIoErr, sqlite3.ErrNomem, sqlite3.ErrNotADB, sqlite3.ErrCorrupt:
			return fmt.Errorf("%w: %v", pkgerrors.ErrStorageUnavailable, err)
		}
	}
	return err
}
