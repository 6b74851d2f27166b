package continuum

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	_ "modernc.org/sqlite"
)

// Store is the tenant-agnostic transactional backend. All tenant
// filtering happens in the query layer above it (store_*.go) — Store
// itself only knows how to get a connection, run a statement, and keep
// the schema current.
//
// Concurrency model: readers run in parallel over the pooled *sql.DB;
// writers serialize through writeMu, matching SQLite's own WAL semantics
// (one writer, many readers) rather than fighting it. A small connection
// pool keeps concurrent reads from queuing behind each other.
type Store struct {
	db      *sql.DB
	writeMu sync.Mutex
	path    string

	statsMu sync.Mutex
	created int
}

// StoreStats mirrors a get_stats()-style diagnostics contract.
type StoreStats struct {
	Created      int
	CurrentOpen  int
	PoolCapacity int
}

const defaultPoolCapacity = 8

// NewStore opens (or creates) the SQLite database and runs migrations.
func NewStore(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, newError(KindStorage, "NewStore", fmt.Errorf("mkdir %s: %w", dir, err))
		}
	}

	dsn := path + "?_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=busy_timeout(5000)&_pragma=temp_store(MEMORY)&_pragma=cache_size(-64000)&_pragma=mmap_size(268435456)&_pragma=foreign_keys(ON)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, newError(KindStorage, "NewStore", fmt.Errorf("open db: %w", err))
	}
	db.SetMaxOpenConns(defaultPoolCapacity)
	db.SetMaxIdleConns(defaultPoolCapacity)

	s := &Store{db: db, path: path, created: 1}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, newError(KindStorage, "NewStore", fmt.Errorf("migrate: %w", err))
	}
	return s, nil
}

// cursor acquires a connection from the pool, honoring ctx's deadline. A
// wait that ends because ctx is done surfaces as KindTimedOut; any other
// failure surfaces as KindStorage.
func (s *Store) cursor(ctx context.Context) (*sql.Conn, error) {
	conn, err := s.db.Conn(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return nil, newError(KindTimedOut, "Store.cursor", err)
		}
		return nil, newError(KindStorage, "Store.cursor", err)
	}
	return conn, nil
}

// withWriteRetry serializes fn behind writeMu and retries once with
// exponential backoff on transient busy/locked errors, then surfaces
// whatever error remains.
func (s *Store) withWriteRetry(op string, fn func() error) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	b := backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 1)
	err := backoff.Retry(func() error {
		err := fn()
		if err != nil && isTransientSQLiteError(err) {
			return err // retryable
		}
		if err != nil {
			return backoff.Permanent(err)
		}
		return nil
	}, b)

	if err != nil {
		return newError(KindStorage, op, err)
	}
	return nil
}

// isTransientSQLiteError reports whether err looks like a busy/locked
// condition worth a retry. Kept deliberately loose (string match on the
// driver's error text) since modernc.org/sqlite does not export typed
// busy/locked sentinels the way mattn/go-sqlite3 does.
func isTransientSQLiteError(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return contains(msg, "database is locked") || contains(msg, "busy")
}

func contains(haystack, needle string) bool {
	return len(haystack) >= len(needle) && indexOf(haystack, needle) >= 0
}

func indexOf(haystack, needle string) int {
	n := len(needle)
	if n == 0 {
		return 0
	}
	for i := 0; i+n <= len(haystack); i++ {
		if haystack[i:i+n] == needle {
			return i
		}
	}
	return -1
}

// IsHealthy pings the backend. Never panics; returns false on any error.
func (s *Store) IsHealthy() bool {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	return s.db.PingContext(ctx) == nil
}

// Stats returns pool statistics
func (s *Store) Stats() StoreStats {
	dbStats := s.db.Stats()
	return StoreStats{
		Created:      s.created,
		CurrentOpen:  dbStats.OpenConnections,
		PoolCapacity: defaultPoolCapacity,
	}
}

// BackendInfo describes the storage backend for diagnostics.
func (s *Store) BackendInfo() map[string]string {
	return map[string]string{
		"backend": "sqlite",
		"driver":  "modernc.org/sqlite",
		"path":    s.path,
	}
}

// Close shuts down the database connection pool.
func (s *Store) Close() error {
	return s.db.Close()
}

// --- Schema migrations ---
// Additive-only, version-gated: schema_version records which migrateV*
// steps have run, and each step creates tables and indexes with IF NOT
// EXISTS. Existing tables are not introspected, so a column missing from an
// existing table is not added. Existing data is never rewritten destructively.

func (s *Store) migrate() error {
	if _, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS schema_version (version INTEGER NOT NULL)`); err != nil {
		return err
	}

	var version int
	_ = s.db.QueryRow(`SELECT COALESCE(MAX(version), 0) FROM schema_version`).Scan(&version)

	migrations := []func() error{
		s.migrateV1,
		s.migrateV2,
		s.migrateV3,
	}

	for i, m := range migrations {
		v := i + 1
		if version >= v {
			continue
		}
		if err := m(); err != nil {
			return fmt.Errorf("migration v%d: %w", v, err)
		}
		if _, err := s.db.Exec(`INSERT INTO schema_version (version) VALUES (?)`, v); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) migrateV1() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS entities (
			id          INTEGER PRIMARY KEY AUTOINCREMENT,
			name        TEXT NOT NULL,
			entity_type TEXT NOT NULL,
			description TEXT NOT NULL DEFAULT '',
			created_at  TEXT NOT NULL DEFAULT (datetime('now')),
			tenant_id   TEXT NOT NULL DEFAULT 'default'
		);
		CREATE INDEX IF NOT EXISTS idx_entities_name ON entities(name);
		CREATE INDEX IF NOT EXISTS idx_entities_tenant ON entities(tenant_id);
		CREATE INDEX IF NOT EXISTS idx_entities_type ON entities(entity_type);
		CREATE UNIQUE INDEX IF NOT EXISTS idx_entities_dedup ON entities(tenant_id, name COLLATE NOCASE);

		CREATE TABLE IF NOT EXISTS messages (
			id           INTEGER PRIMARY KEY AUTOINCREMENT,
			user_message TEXT NOT NULL DEFAULT '',
			ai_response  TEXT NOT NULL DEFAULT '',
			session_id   TEXT NOT NULL DEFAULT '',
			created_at   TEXT NOT NULL DEFAULT (datetime('now')),
			tenant_id    TEXT NOT NULL DEFAULT 'default',
			metadata     TEXT NOT NULL DEFAULT '{}',
			thinking     TEXT NOT NULL DEFAULT ''
		);
		CREATE INDEX IF NOT EXISTS idx_messages_session ON messages(session_id);
		CREATE INDEX IF NOT EXISTS idx_messages_created ON messages(created_at);
		CREATE INDEX IF NOT EXISTS idx_messages_tenant ON messages(tenant_id);

		CREATE TABLE IF NOT EXISTS auto_messages (
			id             INTEGER PRIMARY KEY AUTOINCREMENT,
			instance_id    TEXT NOT NULL,
			timestamp      TEXT NOT NULL,
			message_number INTEGER NOT NULL,
			role           TEXT NOT NULL,
			content        TEXT NOT NULL,
			metadata       TEXT NOT NULL DEFAULT '{}',
			tenant_id      TEXT NOT NULL DEFAULT 'default'
		);
		CREATE INDEX IF NOT EXISTS idx_auto_messages_tenant ON auto_messages(tenant_id);
		CREATE INDEX IF NOT EXISTS idx_auto_messages_instance ON auto_messages(instance_id, message_number);

		CREATE TABLE IF NOT EXISTS decisions (
			id             INTEGER PRIMARY KEY AUTOINCREMENT,
			instance_id    TEXT NOT NULL,
			timestamp      TEXT NOT NULL,
			decision_text  TEXT NOT NULL,
			context        TEXT NOT NULL DEFAULT '',
			extracted_from TEXT NOT NULL DEFAULT '',
			tenant_id      TEXT NOT NULL DEFAULT 'default'
		);
		CREATE INDEX IF NOT EXISTS idx_decisions_tenant ON decisions(tenant_id);

		CREATE TABLE IF NOT EXISTS attention_links (
			id            INTEGER PRIMARY KEY AUTOINCREMENT,
			concept_a     TEXT NOT NULL,
			concept_b     TEXT NOT NULL,
			link_type     TEXT NOT NULL DEFAULT 'co-occurrence',
			strength      REAL NOT NULL DEFAULT 0.3,
			created_at    TEXT NOT NULL DEFAULT (datetime('now')),
			last_accessed TEXT NOT NULL DEFAULT (datetime('now')),
			tenant_id     TEXT NOT NULL DEFAULT 'default'
		);
		CREATE INDEX IF NOT EXISTS idx_links_tenant ON attention_links(tenant_id);
		CREATE INDEX IF NOT EXISTS idx_links_pair ON attention_links(concept_a, concept_b);
		CREATE INDEX IF NOT EXISTS idx_links_strength ON attention_links(strength);
		CREATE UNIQUE INDEX IF NOT EXISTS idx_links_dedup ON attention_links(tenant_id, concept_a COLLATE NOCASE, concept_b COLLATE NOCASE);

		CREATE TABLE IF NOT EXISTS compound_concepts (
			id                  INTEGER PRIMARY KEY AUTOINCREMENT,
			compound_name       TEXT NOT NULL,
			component_concepts  TEXT NOT NULL,
			co_occurrence_count INTEGER NOT NULL DEFAULT 1,
			last_seen           TEXT NOT NULL DEFAULT (datetime('now')),
			tenant_id           TEXT NOT NULL DEFAULT 'default'
		);
		CREATE UNIQUE INDEX IF NOT EXISTS idx_compounds_dedup ON compound_concepts(tenant_id, compound_name COLLATE NOCASE);
	`)
	return err
}

func (s *Store) migrateV2() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS intentions (
			id           INTEGER PRIMARY KEY AUTOINCREMENT,
			intention    TEXT NOT NULL,
			context      TEXT NOT NULL DEFAULT '',
			priority     INTEGER NOT NULL DEFAULT 5,
			status       TEXT NOT NULL DEFAULT 'pending',
			created_at   TEXT NOT NULL DEFAULT (datetime('now')),
			completed_at TEXT,
			session_id   TEXT NOT NULL DEFAULT '',
			metadata     TEXT NOT NULL DEFAULT '{}',
			tenant_id    TEXT NOT NULL DEFAULT 'default'
		);
		CREATE INDEX IF NOT EXISTS idx_intentions_tenant_status_priority
			ON intentions(tenant_id, status, priority DESC);

		CREATE TABLE IF NOT EXISTS concept_evolution (
			id          INTEGER PRIMARY KEY AUTOINCREMENT,
			concept_name TEXT NOT NULL,
			event_type  TEXT NOT NULL,
			old_value   TEXT NOT NULL DEFAULT '',
			new_value   TEXT NOT NULL DEFAULT '',
			context     TEXT NOT NULL DEFAULT '',
			timestamp   TEXT NOT NULL DEFAULT (datetime('now')),
			tenant_id   TEXT NOT NULL DEFAULT 'default'
		);
		CREATE INDEX IF NOT EXISTS idx_evolution_concept ON concept_evolution(concept_name);
		CREATE INDEX IF NOT EXISTS idx_evolution_timestamp ON concept_evolution(timestamp);
	`)
	return err
}

func (s *Store) migrateV3() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS thinking_snapshots (
			id            INTEGER PRIMARY KEY AUTOINCREMENT,
			snapshot_type TEXT NOT NULL,
			content       TEXT NOT NULL DEFAULT '',
			metrics       TEXT NOT NULL DEFAULT '{}',
			timestamp     TEXT NOT NULL DEFAULT (datetime('now')),
			tenant_id     TEXT NOT NULL DEFAULT 'default'
		);
		CREATE INDEX IF NOT EXISTS idx_snapshots_tenant ON thinking_snapshots(tenant_id);
	`)
	return err
}

const timeLayout = "2006-01-02 15:04:05"

func parseDBTime(s string) time.Time {
	t, _ := time.Parse(timeLayout, s)
	return t
}

func formatDBTime(t time.Time) string {
	if t.IsZero() {
		t = time.Now().UTC()
	}
	return t.UTC().Format(timeLayout)
}
