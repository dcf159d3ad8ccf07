package modulestore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/kadirpekel/promptengine/pkg/module"

	// Database drivers, grounded on the teacher's
	// pkg/memory/session_service_sql.go multi-dialect SQL service.
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
)

const createModulesTableSQL = `
CREATE TABLE IF NOT EXISTS modules (
    name                  VARCHAR(50) PRIMARY KEY,
    kind                  VARCHAR(16) NOT NULL,
    content               TEXT NOT NULL DEFAULT '',
    script                TEXT NOT NULL DEFAULT '',
    trigger_pattern       TEXT NOT NULL DEFAULT '',
    execution_context     VARCHAR(16) NOT NULL,
    requires_ai_inference BOOLEAN NOT NULL DEFAULT FALSE,
    is_active             BOOLEAN NOT NULL DEFAULT TRUE,
    created_at            TIMESTAMP NOT NULL,
    updated_at            TIMESTAMP NOT NULL
);
`

const createConversationStateTableSQLPostgres = `
CREATE TABLE IF NOT EXISTS conversation_state (
    conversation_id VARCHAR(255) NOT NULL,
    module_id       VARCHAR(50) NOT NULL,
    stage           VARCHAR(16) NOT NULL,
    variables_json  TEXT NOT NULL DEFAULT '{}',
    success         BOOLEAN NOT NULL,
    duration_ms     BIGINT NOT NULL,
    error_message   TEXT NOT NULL DEFAULT '',
    updated_at      TIMESTAMP NOT NULL,
    PRIMARY KEY (conversation_id, module_id, stage),
    FOREIGN KEY (module_id) REFERENCES modules(name) ON DELETE CASCADE
);
`

const createConversationStateTableSQLSQLite = `
CREATE TABLE IF NOT EXISTS conversation_state (
    conversation_id TEXT NOT NULL,
    module_id       TEXT NOT NULL,
    stage           TEXT NOT NULL,
    variables_json  TEXT NOT NULL DEFAULT '{}',
    success         BOOLEAN NOT NULL,
    duration_ms     INTEGER NOT NULL,
    error_message   TEXT NOT NULL DEFAULT '',
    updated_at      TIMESTAMP NOT NULL,
    PRIMARY KEY (conversation_id, module_id, stage),
    FOREIGN KEY (module_id) REFERENCES modules(name) ON DELETE CASCADE
);
`

// sqlStore is the database/sql-backed Store, for the postgres and sqlite
// drivers named in §3.1. Placeholder style ($1 vs ?) and upsert syntax
// diverge by dialect; every other query is dialect-neutral.
type sqlStore struct {
	db      *sql.DB
	dialect string // "postgres" or "sqlite"
}

// Open connects to driver/dsn, runs schema migration, and returns a Store.
// driver is "postgres" or "sqlite" (the config-level name; "sqlite" maps
// to the registered "sqlite3" database/sql driver name).
func Open(driver, dsn string) (Store, error) {
	switch driver {
	case "postgres", "sqlite":
	default:
		return nil, fmt.Errorf("modulestore: unsupported driver %q (want postgres or sqlite)", driver)
	}

	driverName := driver
	if driverName == "sqlite" {
		driverName = "sqlite3"
		// mattn/go-sqlite3 leaves FOREIGN KEY enforcement off by default
		// on every connection it opens; without this, conversation_state's
		// ON DELETE CASCADE (§6.2(c)) is a no-op and DeleteModule silently
		// orphans state rows. _foreign_keys=on in the DSN applies it to
		// every connection the pool opens, not just the first.
		dsn = withSQLiteForeignKeys(dsn)
	}

	db, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("modulestore: open %s: %w", driver, err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("modulestore: ping %s: %w", driver, err)
	}

	if driver == "sqlite" {
		// A second pooled connection to an in-memory/file sqlite database
		// is a distinct connection in sqlite's own sense; serializing on
		// one avoids both "PRAGMA applied on a connection nobody reuses"
		// surprises and write-lock contention against sqlite's
		// single-writer model.
		db.SetMaxOpenConns(1)
	}

	s := &sqlStore{db: db, dialect: driver}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// withSQLiteForeignKeys appends the _foreign_keys=on DSN parameter
// mattn/go-sqlite3 reads to turn on per-connection FOREIGN KEY
// enforcement, preserving any query parameters already present in dsn.
func withSQLiteForeignKeys(dsn string) string {
	if strings.Contains(dsn, "_foreign_keys=") {
		return dsn
	}
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	return dsn + sep + "_foreign_keys=on"
}

func (s *sqlStore) initSchema() error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if _, err := s.db.ExecContext(ctx, createModulesTableSQL); err != nil {
		return fmt.Errorf("modulestore: create modules table: %w", err)
	}

	stateSQL := createConversationStateTableSQLSQLite
	if s.dialect == "postgres" {
		stateSQL = createConversationStateTableSQLPostgres
	}
	if _, err := s.db.ExecContext(ctx, stateSQL); err != nil {
		return fmt.Errorf("modulestore: create conversation_state table: %w", err)
	}
	return nil
}

// ph returns the n-th positional placeholder in the dialect's syntax:
// $n for postgres, ? for sqlite.
func (s *sqlStore) ph(n int) string {
	if s.dialect == "postgres" {
		return fmt.Sprintf("$%d", n)
	}
	return "?"
}

func (s *sqlStore) GetActiveByNames(ctx context.Context, names []string) (map[string]*module.Module, error) {
	out := make(map[string]*module.Module)
	if len(names) == 0 {
		return out, nil
	}

	placeholders := make([]string, len(names))
	args := make([]any, len(names))
	for i, n := range names {
		if s.dialect == "postgres" {
			placeholders[i] = s.ph(i + 1)
		} else {
			placeholders[i] = "?"
		}
		args[i] = n
	}

	query := fmt.Sprintf(`
SELECT name, kind, content, script, trigger_pattern, execution_context, requires_ai_inference, is_active
FROM modules
WHERE is_active = %s AND name IN (%s)`,
		boolLiteral(s.dialect, true), joinPlaceholders(placeholders))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("modulestore: query active modules: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		m := &module.Module{}
		if err := rows.Scan(&m.Name, &m.Kind, &m.Content, &m.Script, &m.TriggerPattern, &m.ExecutionContext, &m.RequiresAIInference, &m.IsActive); err != nil {
			return nil, fmt.Errorf("modulestore: scan module: %w", err)
		}
		out[m.Name] = m
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("modulestore: iterate modules: %w", err)
	}
	return out, nil
}

func (s *sqlStore) GetPostResponseState(ctx context.Context, conversationID, moduleName string, stage Stage) (StateEntry, bool, error) {
	query := fmt.Sprintf(`
SELECT variables_json, success, duration_ms, error_message, updated_at
FROM conversation_state
WHERE conversation_id = %s AND module_id = %s AND stage = %s`,
		s.ph(1), s.ph(2), s.ph(3))

	var varsJSON string
	var entry StateEntry
	row := s.db.QueryRowContext(ctx, query, conversationID, moduleName, string(stage))
	err := row.Scan(&varsJSON, &entry.Metadata.Success, &entry.Metadata.DurationMs, &entry.Metadata.Error, &entry.UpdatedAt)
	if err == sql.ErrNoRows {
		return StateEntry{}, false, nil
	}
	if err != nil {
		return StateEntry{}, false, fmt.Errorf("modulestore: query state: %w", err)
	}

	entry.Variables = map[string]any{}
	if varsJSON != "" {
		if err := json.Unmarshal([]byte(varsJSON), &entry.Variables); err != nil {
			return StateEntry{}, false, fmt.Errorf("modulestore: unmarshal state variables: %w", err)
		}
	}
	return entry, true, nil
}

func (s *sqlStore) PutPostResponseState(ctx context.Context, conversationID, moduleName string, stage Stage, vars map[string]any, meta ExecutionMetadata) error {
	varsJSON, err := json.Marshal(vars)
	if err != nil {
		return fmt.Errorf("modulestore: marshal state variables: %w", err)
	}
	now := time.Now()

	var query string
	if s.dialect == "postgres" {
		query = `
INSERT INTO conversation_state (conversation_id, module_id, stage, variables_json, success, duration_ms, error_message, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
ON CONFLICT (conversation_id, module_id, stage) DO UPDATE SET
    variables_json = EXCLUDED.variables_json,
    success = EXCLUDED.success,
    duration_ms = EXCLUDED.duration_ms,
    error_message = EXCLUDED.error_message,
    updated_at = EXCLUDED.updated_at`
	} else {
		query = `
INSERT OR REPLACE INTO conversation_state
    (conversation_id, module_id, stage, variables_json, success, duration_ms, error_message, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)`
	}

	_, err = s.db.ExecContext(ctx, query, conversationID, moduleName, string(stage), string(varsJSON), meta.Success, meta.DurationMs, meta.Error, now)
	if err != nil {
		return fmt.Errorf("modulestore: upsert state: %w", err)
	}
	return nil
}

func (s *sqlStore) CreateModule(ctx context.Context, m *module.Module) error {
	if !module.ValidName(m.Name) {
		return fmt.Errorf("modulestore: invalid module name %q", m.Name)
	}
	analyzeAndNormalize(m)

	now := time.Now()
	query := fmt.Sprintf(`
INSERT INTO modules (name, kind, content, script, trigger_pattern, execution_context, requires_ai_inference, is_active, created_at, updated_at)
VALUES (%s, %s, %s, %s, %s, %s, %s, %s, %s, %s)`,
		s.ph(1), s.ph(2), s.ph(3), s.ph(4), s.ph(5), s.ph(6), s.ph(7), s.ph(8), s.ph(9), s.ph(10))

	_, err := s.db.ExecContext(ctx, query, m.Name, m.Kind, m.Content, m.Script, m.TriggerPattern, m.ExecutionContext, m.RequiresAIInference, m.IsActive, now, now)
	if err != nil {
		return fmt.Errorf("modulestore: insert module %q: %w", m.Name, err)
	}
	return nil
}

func (s *sqlStore) UpdateModule(ctx context.Context, m *module.Module) error {
	analyzeAndNormalize(m)

	query := fmt.Sprintf(`
UPDATE modules SET kind = %s, content = %s, script = %s, trigger_pattern = %s,
    execution_context = %s, requires_ai_inference = %s, is_active = %s, updated_at = %s
WHERE name = %s`,
		s.ph(1), s.ph(2), s.ph(3), s.ph(4), s.ph(5), s.ph(6), s.ph(7), s.ph(8), s.ph(9))

	res, err := s.db.ExecContext(ctx, query, m.Kind, m.Content, m.Script, m.TriggerPattern, m.ExecutionContext, m.RequiresAIInference, m.IsActive, time.Now(), m.Name)
	if err != nil {
		return fmt.Errorf("modulestore: update module %q: %w", m.Name, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrModuleNotFound
	}
	return nil
}

func (s *sqlStore) DeleteModule(ctx context.Context, name string) error {
	query := fmt.Sprintf(`DELETE FROM modules WHERE name = %s`, s.ph(1))
	res, err := s.db.ExecContext(ctx, query, name)
	if err != nil {
		return fmt.Errorf("modulestore: delete module %q: %w", name, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrModuleNotFound
	}
	// conversation_state rows cascade via the foreign key (ON DELETE CASCADE).
	return nil
}

func (s *sqlStore) GetModule(ctx context.Context, name string) (*module.Module, error) {
	query := fmt.Sprintf(`
SELECT name, kind, content, script, trigger_pattern, execution_context, requires_ai_inference, is_active
FROM modules WHERE name = %s`, s.ph(1))

	m := &module.Module{}
	row := s.db.QueryRowContext(ctx, query, name)
	err := row.Scan(&m.Name, &m.Kind, &m.Content, &m.Script, &m.TriggerPattern, &m.ExecutionContext, &m.RequiresAIInference, &m.IsActive)
	if err == sql.ErrNoRows {
		return nil, ErrModuleNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("modulestore: get module %q: %w", name, err)
	}
	return m, nil
}

func (s *sqlStore) ListModules(ctx context.Context) ([]*module.Module, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT name, kind, content, script, trigger_pattern, execution_context, requires_ai_inference, is_active
FROM modules ORDER BY name ASC`)
	if err != nil {
		return nil, fmt.Errorf("modulestore: list modules: %w", err)
	}
	defer rows.Close()

	var out []*module.Module
	for rows.Next() {
		m := &module.Module{}
		if err := rows.Scan(&m.Name, &m.Kind, &m.Content, &m.Script, &m.TriggerPattern, &m.ExecutionContext, &m.RequiresAIInference, &m.IsActive); err != nil {
			return nil, fmt.Errorf("modulestore: scan module: %w", err)
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("modulestore: iterate modules: %w", err)
	}
	return out, nil
}

func (s *sqlStore) Close() error {
	return s.db.Close()
}

func boolLiteral(dialect string, v bool) string {
	if dialect == "postgres" {
		if v {
			return "TRUE"
		}
		return "FALSE"
	}
	if v {
		return "1"
	}
	return "0"
}

func joinPlaceholders(placeholders []string) string {
	out := ""
	for i, p := range placeholders {
		if i > 0 {
			out += ", "
		}
		out += p
	}
	return out
}
