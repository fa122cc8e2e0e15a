// ABOUTME: SQLite implementation of the Store interface (modernc.org/sqlite or mattn/go-sqlite3)
// ABOUTME: Persists records, authorities, the game index, events and audit with automatic schema creation

package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
	_ "modernc.org/sqlite"

	"github.com/2389/metasave/internal/record"
)

// SQLiteStore implements the Store interface using SQLite
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteStore creates a new SQLite store at the given path using the
// pure-Go modernc.org/sqlite driver.
// The schema is automatically created if it doesn't exist.
// Parent directories are created if needed.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	return NewSQLiteStoreWithDriver(path, DriverSQLite)
}

// NewSQLiteStoreWithDriver opens path with the named database/sql driver
// ("sqlite" for modernc.org/sqlite, "sqlite3" for mattn/go-sqlite3).
func NewSQLiteStoreWithDriver(path, driver string) (*SQLiteStore, error) {
	logger := slog.Default().With("component", "store", "driver", driver)

	if path == "" {
		return nil, errors.New("database path is required")
	}

	if path != ":memory:" {
		// Ensure parent directory exists
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}

	db, err := sql.Open(driver, path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// One connection: serializes Update calls and keeps :memory: a single database
	db.SetMaxOpenConns(1)

	// Enable WAL mode for better concurrent performance
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	s := &SQLiteStore{
		db:     db,
		logger: logger,
	}

	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	if err := s.runMigrations(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	logger.Info("SQLite store initialized", "path", path)
	return s, nil
}

// createSchema creates the database tables if they don't exist
func (s *SQLiteStore) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS world_records (
			game_id    INTEGER NOT NULL,
			route      INTEGER NOT NULL,
			data       BLOB NOT NULL,
			updated_at TEXT NOT NULL,

			PRIMARY KEY (game_id, route),
			CHECK (route IN (0, 1))
		);

		CREATE TABLE IF NOT EXISTS user_records (
			game_id    INTEGER NOT NULL,
			account_id TEXT NOT NULL,
			route      INTEGER NOT NULL,
			data       BLOB NOT NULL,
			updated_at TEXT NOT NULL,

			PRIMARY KEY (game_id, account_id, route),
			CHECK (route IN (0, 1))
		);

		CREATE TABLE IF NOT EXISTS authorities (
			account_id  TEXT PRIMARY KEY,
			permissions BLOB NOT NULL,
			updated_at  TEXT NOT NULL
		);

		CREATE TABLE IF NOT EXISTS game_index (
			game_id INTEGER PRIMARY KEY,
			holders INTEGER NOT NULL CHECK (holders > 0)
		);

		CREATE TABLE IF NOT EXISTS events (
			seq         INTEGER PRIMARY KEY AUTOINCREMENT,
			event_id    TEXT NOT NULL UNIQUE,
			game_id     INTEGER NOT NULL,
			type        TEXT NOT NULL,
			route       INTEGER NOT NULL,
			actor       TEXT NOT NULL,
			entry_key   BLOB NOT NULL,
			entry_value BLOB NOT NULL,
			created_at  TEXT NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_events_game ON events(game_id, seq);

		CREATE TABLE IF NOT EXISTS audit_log (
			seq         INTEGER PRIMARY KEY AUTOINCREMENT,
			audit_id    TEXT NOT NULL UNIQUE,
			actor       TEXT NOT NULL,
			action      TEXT NOT NULL,
			game_id     INTEGER NOT NULL,
			target      TEXT,
			ts          TEXT NOT NULL,
			detail_json TEXT,

			CHECK (action IN (
				'register_game',
				'grant_authority',
				'revoke_authority',
				'genesis'
			))
		);

		CREATE INDEX IF NOT EXISTS idx_audit_actor ON audit_log(actor);
		CREATE INDEX IF NOT EXISTS idx_audit_game ON audit_log(game_id);

		CREATE TABLE IF NOT EXISTS meta (
			key   TEXT PRIMARY KEY,
			value TEXT NOT NULL
		);
	`

	_, err := s.db.Exec(schema)
	return err
}

// schemaVersion is recorded in meta once migrations have run.
const schemaVersion = "1"

// runMigrations applies schema migrations for existing databases.
// These are idempotent - safe to run multiple times.
func (s *SQLiteStore) runMigrations() error {
	var version string
	err := s.db.QueryRow(`SELECT value FROM meta WHERE key = 'schema_version'`).Scan(&version)
	if err == nil && version == schemaVersion {
		return nil
	}
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("reading schema version: %w", err)
	}

	if _, err := s.db.Exec(
		`INSERT INTO meta (key, value) VALUES ('schema_version', ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
		schemaVersion,
	); err != nil {
		return fmt.Errorf("recording schema version: %w", err)
	}
	s.logger.Info("applied migration", "schema_version", schemaVersion)
	return nil
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	s.logger.Info("closing SQLite store")
	return s.db.Close()
}

// Update runs fn in a SQL transaction, committing only if fn succeeds.
func (s *SQLiteStore) Update(ctx context.Context, fn func(tx Tx) error) error {
	return s.run(ctx, true, fn)
}

// View runs fn in a SQL transaction that is always rolled back.
func (s *SQLiteStore) View(ctx context.Context, fn func(tx Tx) error) error {
	return s.run(ctx, false, fn)
}

func (s *SQLiteStore) run(ctx context.Context, writable bool, fn func(tx Tx) error) error {
	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		if errors.Is(err, sql.ErrConnDone) || strings.Contains(err.Error(), "database is closed") {
			return ErrClosed
		}
		return fmt.Errorf("beginning transaction: %w", err)
	}

	if err := fn(&sqliteTx{tx: sqlTx, writable: writable}); err != nil {
		if rbErr := sqlTx.Rollback(); rbErr != nil {
			s.logger.Warn("rollback failed", "error", rbErr)
		}
		return err
	}

	if !writable {
		return sqlTx.Rollback()
	}
	if err := sqlTx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

// sqliteTx implements Tx over a single *sql.Tx.
type sqliteTx struct {
	tx       *sql.Tx
	writable bool
}

func (t *sqliteTx) checkWritable() error {
	if !t.writable {
		return errReadOnly
	}
	return nil
}

func now() string {
	return time.Now().UTC().Format(time.RFC3339Nano)
}

// gameKey maps a GameID onto SQLite's signed 64-bit integers.
func gameKey(g record.GameID) int64 {
	return int64(g)
}

func (t *sqliteTx) loadRecord(ctx context.Context, query string, args ...any) (record.DataRecord, bool, error) {
	var data []byte
	err := t.tx.QueryRowContext(ctx, query, args...).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("querying record: %w", err)
	}
	rec, err := record.UnmarshalRecord(data)
	if err != nil {
		return nil, false, fmt.Errorf("decoding record: %w", err)
	}
	return rec, true, nil
}

func (t *sqliteTx) WorldRecord(ctx context.Context, game record.GameID, route record.Route) (record.DataRecord, bool, error) {
	return t.loadRecord(ctx,
		`SELECT data FROM world_records WHERE game_id = ? AND route = ?`,
		gameKey(game), int(route),
	)
}

func (t *sqliteTx) PutWorldRecord(ctx context.Context, game record.GameID, route record.Route, rec record.DataRecord) error {
	if err := t.checkWritable(); err != nil {
		return err
	}
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO world_records (game_id, route, data, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(game_id, route) DO UPDATE SET
			data = excluded.data,
			updated_at = excluded.updated_at
	`, gameKey(game), int(route), record.MarshalRecord(rec), now())
	if err != nil {
		return fmt.Errorf("saving world record: %w", err)
	}
	return nil
}

func (t *sqliteTx) UserRecord(ctx context.Context, game record.GameID, user record.AccountID, route record.Route) (record.DataRecord, bool, error) {
	return t.loadRecord(ctx,
		`SELECT data FROM user_records WHERE game_id = ? AND account_id = ? AND route = ?`,
		gameKey(game), string(user), int(route),
	)
}

func (t *sqliteTx) PutUserRecord(ctx context.Context, game record.GameID, user record.AccountID, route record.Route, rec record.DataRecord) error {
	if err := t.checkWritable(); err != nil {
		return err
	}
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO user_records (game_id, account_id, route, data, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(game_id, account_id, route) DO UPDATE SET
			data = excluded.data,
			updated_at = excluded.updated_at
	`, gameKey(game), string(user), int(route), record.MarshalRecord(rec), now())
	if err != nil {
		return fmt.Errorf("saving user record: %w", err)
	}
	return nil
}

func (t *sqliteTx) Permissions(ctx context.Context, account record.AccountID) (record.Permissions, bool, error) {
	var data []byte
	err := t.tx.QueryRowContext(ctx,
		`SELECT permissions FROM authorities WHERE account_id = ?`, string(account),
	).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("querying authority: %w", err)
	}
	perms, err := record.UnmarshalPermissions(data)
	if err != nil {
		return nil, false, fmt.Errorf("decoding permissions for %s: %w", account, err)
	}
	return perms, true, nil
}

func (t *sqliteTx) PutPermissions(ctx context.Context, account record.AccountID, perms record.Permissions) error {
	if err := t.checkWritable(); err != nil {
		return err
	}
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO authorities (account_id, permissions, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(account_id) DO UPDATE SET
			permissions = excluded.permissions,
			updated_at = excluded.updated_at
	`, string(account), record.MarshalPermissions(perms), now())
	if err != nil {
		return fmt.Errorf("saving authority: %w", err)
	}
	return nil
}

// ForEachAuthority visits accounts in lexical order. Rows are read fully
// before fn runs so fn may use the transaction.
func (t *sqliteTx) ForEachAuthority(ctx context.Context, fn func(account record.AccountID, perms record.Permissions) error) error {
	rows, err := t.tx.QueryContext(ctx,
		`SELECT account_id, permissions FROM authorities ORDER BY account_id`)
	if err != nil {
		return fmt.Errorf("querying authorities: %w", err)
	}

	type row struct {
		account record.AccountID
		perms   record.Permissions
	}
	var all []row
	for rows.Next() {
		var account string
		var data []byte
		if err := rows.Scan(&account, &data); err != nil {
			rows.Close()
			return fmt.Errorf("scanning authority: %w", err)
		}
		perms, err := record.UnmarshalPermissions(data)
		if err != nil {
			rows.Close()
			return fmt.Errorf("decoding permissions for %s: %w", account, err)
		}
		all = append(all, row{record.AccountID(account), perms})
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return fmt.Errorf("iterating authorities: %w", err)
	}
	rows.Close()

	for _, r := range all {
		if err := fn(r.account, r.perms); err != nil {
			return err
		}
	}
	return nil
}

func (t *sqliteTx) GameHolders(ctx context.Context, game record.GameID) (int, error) {
	var n int
	err := t.tx.QueryRowContext(ctx,
		`SELECT holders FROM game_index WHERE game_id = ?`, gameKey(game),
	).Scan(&n)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("querying game index: %w", err)
	}
	return n, nil
}

func (t *sqliteTx) PutGameHolders(ctx context.Context, game record.GameID, holders int) error {
	if err := t.checkWritable(); err != nil {
		return err
	}
	var err error
	if holders <= 0 {
		_, err = t.tx.ExecContext(ctx, `DELETE FROM game_index WHERE game_id = ?`, gameKey(game))
	} else {
		_, err = t.tx.ExecContext(ctx, `
			INSERT INTO game_index (game_id, holders) VALUES (?, ?)
			ON CONFLICT(game_id) DO UPDATE SET holders = excluded.holders
		`, gameKey(game), holders)
	}
	if err != nil {
		return fmt.Errorf("updating game index: %w", err)
	}
	return nil
}

func (t *sqliteTx) ForEachGame(ctx context.Context, fn func(game record.GameID, holders int) error) error {
	rows, err := t.tx.QueryContext(ctx, `SELECT game_id, holders FROM game_index`)
	if err != nil {
		return fmt.Errorf("querying game index: %w", err)
	}

	type row struct {
		game    record.GameID
		holders int
	}
	var all []row
	for rows.Next() {
		var gameID int64
		var n int
		if err := rows.Scan(&gameID, &n); err != nil {
			rows.Close()
			return fmt.Errorf("scanning game index: %w", err)
		}
		all = append(all, row{record.GameID(gameID), n})
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return fmt.Errorf("iterating game index: %w", err)
	}
	rows.Close()

	// game_id is stored signed, so order on the unsigned value here
	sort.Slice(all, func(i, j int) bool { return all[i].game < all[j].game })
	for _, r := range all {
		if err := fn(r.game, r.holders); err != nil {
			return err
		}
	}
	return nil
}

func (t *sqliteTx) AppendEvent(ctx context.Context, e *Event) error {
	if err := t.checkWritable(); err != nil {
		return err
	}
	prepareEvent(e)

	result, err := t.tx.ExecContext(ctx, `
		INSERT INTO events (event_id, game_id, type, route, actor, entry_key, entry_value, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`,
		e.ID,
		gameKey(e.Game),
		string(e.Type),
		int(e.Route),
		string(e.Actor),
		nonNilBytes(e.Entry.Key),
		nonNilBytes(e.Entry.Value),
		e.CreatedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("inserting event: %w", err)
	}
	seq, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("reading event sequence: %w", err)
	}
	e.Sequence = uint64(seq)
	return nil
}

func (t *sqliteTx) ListEvents(ctx context.Context, game record.GameID, limit int) ([]*Event, error) {
	rows, err := t.tx.QueryContext(ctx, `
		SELECT seq, event_id, game_id, type, route, actor, entry_key, entry_value, created_at
		FROM events
		WHERE game_id = ?
		ORDER BY seq DESC
		LIMIT ?
	`, gameKey(game), normalizeLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("querying events: %w", err)
	}
	defer rows.Close()

	events := []*Event{}
	for rows.Next() {
		var (
			e            Event
			seq, gameID  int64
			typ, actor   string
			route        int
			createdAtStr string
		)
		if err := rows.Scan(&seq, &e.ID, &gameID, &typ, &route, &actor,
			&e.Entry.Key, &e.Entry.Value, &createdAtStr); err != nil {
			return nil, fmt.Errorf("scanning event: %w", err)
		}
		e.Sequence = uint64(seq)
		e.Game = record.GameID(gameID)
		e.Type = EventType(typ)
		e.Route = record.Route(route)
		e.Actor = record.AccountID(actor)
		e.Entry = e.Entry.Clone()
		e.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAtStr)
		if err != nil {
			return nil, fmt.Errorf("parsing created_at: %w", err)
		}
		events = append(events, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating events: %w", err)
	}
	return events, nil
}

func (t *sqliteTx) AppendAudit(ctx context.Context, e *AuditEntry) error {
	if err := t.checkWritable(); err != nil {
		return err
	}
	prepareAudit(e)

	var detailJSON any
	if e.Detail != nil {
		b, err := json.Marshal(e.Detail)
		if err != nil {
			return fmt.Errorf("marshaling detail: %w", err)
		}
		detailJSON = string(b)
	}

	result, err := t.tx.ExecContext(ctx, `
		INSERT INTO audit_log (audit_id, actor, action, game_id, target, ts, detail_json)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`,
		e.ID,
		string(e.Actor),
		string(e.Action),
		gameKey(e.Game),
		nullString(string(e.Target)),
		e.Timestamp.UTC().Format(time.RFC3339Nano),
		detailJSON,
	)
	if err != nil {
		return fmt.Errorf("inserting audit entry: %w", err)
	}
	seq, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("reading audit sequence: %w", err)
	}
	e.Sequence = uint64(seq)
	return nil
}

func (t *sqliteTx) ListAudit(ctx context.Context, f AuditFilter) ([]*AuditEntry, error) {
	query := `
		SELECT seq, audit_id, actor, action, game_id, target, ts, detail_json
		FROM audit_log
		WHERE 1=1
	`
	var args []any

	if f.Actor != nil {
		query += " AND actor = ?"
		args = append(args, string(*f.Actor))
	}
	if f.Action != nil {
		query += " AND action = ?"
		args = append(args, string(*f.Action))
	}
	if f.Game != nil {
		query += " AND game_id = ?"
		args = append(args, gameKey(*f.Game))
	}

	query += " ORDER BY seq DESC LIMIT ?"
	args = append(args, normalizeLimit(f.Limit))

	rows, err := t.tx.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying audit log: %w", err)
	}
	defer rows.Close()

	entries := []*AuditEntry{}
	for rows.Next() {
		var (
			e              AuditEntry
			seq, gameID    int64
			actor, action  string
			target, detail sql.NullString
			tsStr          string
		)
		if err := rows.Scan(&seq, &e.ID, &actor, &action, &gameID, &target, &tsStr, &detail); err != nil {
			return nil, fmt.Errorf("scanning audit entry: %w", err)
		}
		e.Sequence = uint64(seq)
		e.Actor = record.AccountID(actor)
		e.Action = AuditAction(action)
		e.Game = record.GameID(gameID)
		e.Target = record.AccountID(target.String)
		e.Timestamp, err = time.Parse(time.RFC3339Nano, tsStr)
		if err != nil {
			return nil, fmt.Errorf("parsing ts: %w", err)
		}
		if detail.Valid {
			if err := json.Unmarshal([]byte(detail.String), &e.Detail); err != nil {
				return nil, fmt.Errorf("unmarshaling detail: %w", err)
			}
		}
		entries = append(entries, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating audit log: %w", err)
	}
	return entries, nil
}

func (t *sqliteTx) Meta(ctx context.Context, key string) (string, bool, error) {
	var value string
	err := t.tx.QueryRowContext(ctx, `SELECT value FROM meta WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("querying meta %s: %w", key, err)
	}
	return value, true, nil
}

func (t *sqliteTx) PutMeta(ctx context.Context, key, value string) error {
	if err := t.checkWritable(); err != nil {
		return err
	}
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO meta (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value
	`, key, value)
	if err != nil {
		return fmt.Errorf("saving meta %s: %w", key, err)
	}
	return nil
}

// nullString converts empty strings to nil for nullable columns
func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// nonNilBytes keeps empty keys and values from being stored as NULL.
func nonNilBytes(b []byte) []byte {
	if b == nil {
		return []byte{}
	}
	return b
}
