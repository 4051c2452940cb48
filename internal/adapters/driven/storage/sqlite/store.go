package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // SQLite driver

	"github.com/custodia-labs/nestsync/internal/adapters/driven/storage/sqlite/migrations"
	"github.com/custodia-labs/nestsync/internal/core/domain"
	"github.com/custodia-labs/nestsync/internal/core/ports/driven"
)

// stateFileName is the engine state database inside the data directory.
const stateFileName = "state.db"

// Store is a SQLite-backed store that exposes the state, credentials and
// history interfaces through wrapper types.
type Store struct {
	db   *sql.DB
	path string
}

// NewStore opens (creating if needed) the state database in dataDir.
// If dataDir is empty, defaults to ~/.nestsync/data.
func NewStore(dataDir string) (*Store, error) {
	if dataDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("getting home directory: %w", err)
		}
		dataDir = filepath.Join(home, ".nestsync", "data")
	}

	if err := os.MkdirAll(dataDir, 0700); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}

	dbPath := filepath.Join(dataDir, stateFileName)

	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	s := &Store{
		db:   db,
		path: dbPath,
	}

	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	// Secrets live here; keep the file private.
	if err := os.Chmod(dbPath, 0600); err != nil {
		db.Close()
		return nil, fmt.Errorf("restricting database permissions: %w", err)
	}

	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Path returns the database file path.
func (s *Store) Path() string {
	return s.path
}

// SyncStateStore returns a SyncStateStore backed by this store.
func (s *Store) SyncStateStore() driven.SyncStateStore {
	return &syncStateStore{store: s}
}

// CredentialsStore returns a CredentialsStore backed by this store.
func (s *Store) CredentialsStore() driven.CredentialsStore {
	return &credentialsStore{store: s}
}

// OutcomeStore returns an OutcomeStore backed by this store.
func (s *Store) OutcomeStore() driven.OutcomeStore {
	return &outcomeStore{store: s}
}

// SchemaVersion returns the highest applied migration.
func (s *Store) SchemaVersion(ctx context.Context) (int, error) {
	var version int
	row := s.db.QueryRowContext(ctx, "SELECT COALESCE(MAX(version), 0) FROM schema_migrations")
	if err := row.Scan(&version); err != nil {
		return 0, fmt.Errorf("getting schema version: %w", err)
	}
	return version, nil
}

// migrate runs all pending migrations, each in its own transaction.
func (s *Store) migrate() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)
	`)
	if err != nil {
		return fmt.Errorf("creating schema_migrations table: %w", err)
	}

	current, err := s.SchemaVersion(context.Background())
	if err != nil {
		return err
	}
	pending, err := migrations.Pending(current)
	if err != nil {
		return err
	}
	for _, m := range pending {
		if err := s.applyMigration(m.Version, m.SQL); err != nil {
			return fmt.Errorf("executing migration %s: %w", m.Name, err)
		}
	}
	return nil
}

func (s *Store) applyMigration(version int, script string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	if _, err := tx.Exec(script); err != nil {
		return err
	}
	if _, err := tx.Exec("INSERT INTO schema_migrations (version) VALUES (?)", version); err != nil {
		return err
	}
	return tx.Commit()
}

// ==================== Sync State Store ====================

// syncStateStore implements driven.SyncStateStore.
type syncStateStore struct {
	store *Store
}

var _ driven.SyncStateStore = (*syncStateStore)(nil)

// Save stores or updates the sync state for key.
func (s *syncStateStore) Save(ctx context.Context, key string, state domain.SyncState) error {
	if key == "" {
		return domain.ErrInvalidInput
	}

	localJSON, err := json.Marshal(state.LastLocal)
	if err != nil {
		return fmt.Errorf("marshalling local fingerprint: %w", err)
	}
	remoteJSON, err := json.Marshal(state.LastRemote)
	if err != nil {
		return fmt.Errorf("marshalling remote fingerprint: %w", err)
	}

	_, err = s.store.db.ExecContext(ctx, `
		INSERT INTO sync_state
			(db_key, last_local, last_remote, last_synced_at, last_direction,
			 last_error, last_error_kind, last_attempt_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(db_key) DO UPDATE SET
			last_local = excluded.last_local,
			last_remote = excluded.last_remote,
			last_synced_at = excluded.last_synced_at,
			last_direction = excluded.last_direction,
			last_error = excluded.last_error,
			last_error_kind = excluded.last_error_kind,
			last_attempt_at = excluded.last_attempt_at,
			updated_at = excluded.updated_at
	`, key, string(localJSON), string(remoteJSON), nullTime(state.LastSyncedAt),
		string(directionOrNone(state.LastDirection)), state.LastError, string(state.LastErrorKind),
		nullTime(state.LastAttemptAt), time.Now().UTC())

	if err != nil {
		return fmt.Errorf("saving sync state: %w", err)
	}
	return nil
}

// Get retrieves sync state for key. Unknown keys yield a zero state.
func (s *syncStateStore) Get(ctx context.Context, key string) (domain.SyncState, error) {
	row := s.store.db.QueryRowContext(ctx, `
		SELECT last_local, last_remote, last_synced_at, last_direction,
		       last_error, last_error_kind, last_attempt_at
		FROM sync_state WHERE db_key = ?
	`, key)

	var state domain.SyncState
	var localJSON, remoteJSON, direction, errorKind string
	var syncedAt, attemptAt sql.NullTime
	err := row.Scan(&localJSON, &remoteJSON, &syncedAt, &direction,
		&state.LastError, &errorKind, &attemptAt)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.SyncState{}, nil
	}
	if err != nil {
		return domain.SyncState{}, fmt.Errorf("scanning sync state: %w", err)
	}

	if err := json.Unmarshal([]byte(localJSON), &state.LastLocal); err != nil {
		return domain.SyncState{}, fmt.Errorf("unmarshalling local fingerprint: %w", err)
	}
	if err := json.Unmarshal([]byte(remoteJSON), &state.LastRemote); err != nil {
		return domain.SyncState{}, fmt.Errorf("unmarshalling remote fingerprint: %w", err)
	}
	state.LastDirection = domain.Direction(direction)
	state.LastErrorKind = domain.ErrorKind(errorKind)
	if syncedAt.Valid {
		state.LastSyncedAt = syncedAt.Time
	}
	if attemptAt.Valid {
		state.LastAttemptAt = attemptAt.Time
	}

	return state, nil
}

// Delete removes sync state for key.
func (s *syncStateStore) Delete(ctx context.Context, key string) error {
	_, err := s.store.db.ExecContext(ctx, "DELETE FROM sync_state WHERE db_key = ?", key)
	if err != nil {
		return fmt.Errorf("deleting sync state: %w", err)
	}
	return nil
}

// ==================== Credentials Store ====================

type credentialsStore struct {
	store *Store
}

var _ driven.CredentialsStore = (*credentialsStore)(nil)

// secrets is the JSON column holding whichever variant is set.
type secrets struct {
	OAuth     *domain.OAuthCredentials     `json:"oauth,omitempty"`
	Token     *domain.TokenCredentials     `json:"token,omitempty"`
	AccessKey *domain.AccessKeyCredentials `json:"access_key,omitempty"`
	SSH       *domain.SSHCredentials       `json:"ssh,omitempty"`
}

// Save stores or updates credentials. created_at is kept on update.
func (s *credentialsStore) Save(ctx context.Context, creds domain.Credentials) error {
	if creds.Ref == "" {
		return domain.ErrInvalidInput
	}

	secretsJSON, err := json.Marshal(secrets{
		OAuth:     creds.OAuth,
		Token:     creds.Token,
		AccessKey: creds.AccessKey,
		SSH:       creds.SSH,
	})
	if err != nil {
		return fmt.Errorf("marshalling secrets: %w", err)
	}

	_, err = s.store.db.ExecContext(ctx, `
		INSERT INTO credentials
			(ref, provider, account_identifier, secrets, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(ref) DO UPDATE SET
			provider = excluded.provider,
			account_identifier = excluded.account_identifier,
			secrets = excluded.secrets,
			updated_at = excluded.updated_at
	`, creds.Ref, string(creds.Provider), creds.AccountIdentifier, string(secretsJSON),
		nullTime(creds.CreatedAt), nullTime(creds.UpdatedAt))

	if err != nil {
		return fmt.Errorf("saving credentials: %w", err)
	}
	return nil
}

// Get retrieves credentials by ref.
func (s *credentialsStore) Get(ctx context.Context, ref string) (*domain.Credentials, error) {
	row := s.store.db.QueryRowContext(ctx, `
		SELECT ref, provider, account_identifier, secrets, created_at, updated_at
		FROM credentials WHERE ref = ?
	`, ref)

	return scanCredentials(row)
}

// List returns all credentials ordered by ref.
func (s *credentialsStore) List(ctx context.Context) ([]domain.Credentials, error) {
	rows, err := s.store.db.QueryContext(ctx, `
		SELECT ref, provider, account_identifier, secrets, created_at, updated_at
		FROM credentials ORDER BY ref
	`)
	if err != nil {
		return nil, fmt.Errorf("querying credentials: %w", err)
	}
	defer rows.Close()

	var result []domain.Credentials //nolint:prealloc // size unknown from query
	for rows.Next() {
		creds, err := scanCredentials(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *creds)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating credentials: %w", err)
	}

	return result, nil
}

// Delete removes credentials by ref.
func (s *credentialsStore) Delete(ctx context.Context, ref string) error {
	_, err := s.store.db.ExecContext(ctx, "DELETE FROM credentials WHERE ref = ?", ref)
	if err != nil {
		return fmt.Errorf("deleting credentials: %w", err)
	}
	return nil
}

// rowScanner is satisfied by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanCredentials(row rowScanner) (*domain.Credentials, error) {
	var creds domain.Credentials
	var provider, secretsJSON string
	var createdAt, updatedAt sql.NullTime

	if err := row.Scan(&creds.Ref, &provider, &creds.AccountIdentifier,
		&secretsJSON, &createdAt, &updatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("scanning credentials: %w", err)
	}

	var sec secrets
	if err := json.Unmarshal([]byte(secretsJSON), &sec); err != nil {
		return nil, fmt.Errorf("unmarshalling secrets: %w", err)
	}

	creds.Provider = domain.ProviderKind(provider)
	creds.OAuth = sec.OAuth
	creds.Token = sec.Token
	creds.AccessKey = sec.AccessKey
	creds.SSH = sec.SSH
	if createdAt.Valid {
		creds.CreatedAt = createdAt.Time
	}
	if updatedAt.Valid {
		creds.UpdatedAt = updatedAt.Time
	}

	return &creds, nil
}

// ==================== Outcome Store ====================

type outcomeStore struct {
	store *Store
}

var _ driven.OutcomeStore = (*outcomeStore)(nil)

// Record logs an outcome. Recording the same ID twice updates the entry.
func (s *outcomeStore) Record(ctx context.Context, o domain.SyncOutcome) error {
	if o.ID == "" {
		return domain.ErrInvalidInput
	}

	_, err := s.store.db.ExecContext(ctx, `
		INSERT INTO sync_outcomes
			(id, trigger_name, phase, direction, success, conflict_resolved_local,
			 bytes_transferred, error_kind, error, note, attempts, started_at, ended_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			phase = excluded.phase,
			direction = excluded.direction,
			success = excluded.success,
			conflict_resolved_local = excluded.conflict_resolved_local,
			bytes_transferred = excluded.bytes_transferred,
			error_kind = excluded.error_kind,
			error = excluded.error,
			note = excluded.note,
			attempts = excluded.attempts,
			ended_at = excluded.ended_at
	`, o.ID, string(o.Trigger), string(o.Phase), string(directionOrNone(o.Direction)),
		o.Success, o.ConflictResolvedLocal, o.BytesTransferred, string(o.ErrorKind),
		o.Error, o.Note, o.Attempts, o.StartedAt.UTC(), nullTime(o.EndedAt))

	if err != nil {
		return fmt.Errorf("recording outcome: %w", err)
	}
	return nil
}

// History returns up to limit outcomes, most recent first.
// A non-positive limit returns everything.
func (s *outcomeStore) History(ctx context.Context, limit int) ([]domain.SyncOutcome, error) {
	if limit <= 0 {
		limit = -1 // SQLite: no limit
	}

	rows, err := s.store.db.QueryContext(ctx, `
		SELECT id, trigger_name, phase, direction, success, conflict_resolved_local,
		       bytes_transferred, error_kind, error, note, attempts, started_at, ended_at
		FROM sync_outcomes ORDER BY seq DESC LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("querying outcomes: %w", err)
	}
	defer rows.Close()

	var outcomes []domain.SyncOutcome //nolint:prealloc // size unknown from query
	for rows.Next() {
		var o domain.SyncOutcome
		var trigger, phase, direction, errorKind string
		var endedAt sql.NullTime
		if err := rows.Scan(&o.ID, &trigger, &phase, &direction, &o.Success,
			&o.ConflictResolvedLocal, &o.BytesTransferred, &errorKind, &o.Error,
			&o.Note, &o.Attempts, &o.StartedAt, &endedAt); err != nil {
			return nil, fmt.Errorf("scanning outcome: %w", err)
		}
		o.Trigger = domain.Trigger(trigger)
		o.Phase = domain.Phase(phase)
		o.Direction = domain.Direction(direction)
		o.ErrorKind = domain.ErrorKind(errorKind)
		if endedAt.Valid {
			o.EndedAt = endedAt.Time
		}
		outcomes = append(outcomes, o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating outcomes: %w", err)
	}

	return outcomes, nil
}

// Prune removes all but the most recent keep outcomes.
func (s *outcomeStore) Prune(ctx context.Context, keep int) error {
	if keep < 0 {
		keep = 0
	}
	_, err := s.store.db.ExecContext(ctx, `
		DELETE FROM sync_outcomes WHERE seq NOT IN (
			SELECT seq FROM sync_outcomes ORDER BY seq DESC LIMIT ?
		)
	`, keep)
	if err != nil {
		return fmt.Errorf("pruning outcomes: %w", err)
	}
	return nil
}

// nullTime stores zero times as NULL.
func nullTime(t time.Time) sql.NullTime {
	if t.IsZero() {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}

func directionOrNone(d domain.Direction) domain.Direction {
	if d == "" {
		return domain.DirectionNone
	}
	return d
}
