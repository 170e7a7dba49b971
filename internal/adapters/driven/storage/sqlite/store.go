package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	_ "modernc.org/sqlite" // SQLite driver

	"github.com/custodia-labs/ratebook/internal/adapters/driven/storage/sqlite/migrations"
	"github.com/custodia-labs/ratebook/internal/core/domain"
	"github.com/custodia-labs/ratebook/internal/core/ports/driven"
)

// timeLayout is fixed width so TEXT columns sort chronologically.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

// Ensure Store implements the interface.
var _ driven.Store = (*Store)(nil)

// Store is a SQLite-backed driven.Store. Each Update runs in one SQL
// transaction; revision checks are part of the UPDATE statement.
type Store struct {
	db          *sql.DB
	path        string
	busyTimeout time.Duration
}

// Option configures a Store.
type Option func(*Store)

// WithBusyTimeout sets how long a writer waits for another writer's lock
// before Update reports a concurrency conflict. Defaults to 5s.
func WithBusyTimeout(d time.Duration) Option {
	return func(s *Store) {
		if d > 0 {
			s.busyTimeout = d
		}
	}
}

// NewStore opens (or creates) the database in dataDir.
// If dataDir is empty, defaults to ~/.ratebook/data/ratebook.db.
func NewStore(dataDir string, opts ...Option) (*Store, error) {
	if dataDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("getting home directory: %w", err)
		}
		dataDir = filepath.Join(home, ".ratebook", "data")
	}

	if err := os.MkdirAll(dataDir, 0700); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}

	dbPath := filepath.Join(dataDir, "ratebook.db")

	s := &Store{
		path:        dbPath,
		busyTimeout: 5 * time.Second,
	}
	for _, opt := range opts {
		opt(s)
	}

	// Writers take the lock at BEGIN so they queue on busy_timeout instead
	// of failing on lock upgrade mid-transaction.
	dsn := fmt.Sprintf("%s?_txlock=immediate&_pragma=journal_mode(WAL)&_pragma=busy_timeout(%d)&_pragma=foreign_keys(1)",
		dbPath, s.busyTimeout.Milliseconds())
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	s.db = db

	if err := s.migrate(migrations.FS); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
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

// View runs fn outside a transaction.
func (s *Store) View(ctx context.Context, fn func(driven.Reader) error) error {
	return fn(&reader{q: s.db})
}

// Update runs fn inside a transaction that commits only if fn succeeds.
func (s *Store) Update(ctx context.Context, fn func(driven.Tx) error) error {
	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		if isBusy(err) {
			return s.busyConflict()
		}
		return fmt.Errorf("beginning transaction: %w", err)
	}
	if err := fn(&tx{reader: reader{q: sqlTx}, sqlTx: sqlTx}); err != nil {
		_ = sqlTx.Rollback()
		if isBusy(err) {
			return s.busyConflict()
		}
		return err
	}
	if err := sqlTx.Commit(); err != nil {
		if isBusy(err) {
			return s.busyConflict()
		}
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

// busyConflict reports that another writer held the database past the
// busy timeout.
func (s *Store) busyConflict() error {
	return &domain.ConcurrencyConflictError{Subject: "database", ID: s.path}
}

// migrate applies every pending NNN_*.up.sql file and records its version.
func (s *Store) migrate(fsys fs.FS) error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)
	`)
	if err != nil {
		return fmt.Errorf("creating schema_migrations table: %w", err)
	}

	var currentVersion int
	row := s.db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_migrations")
	if err := row.Scan(&currentVersion); err != nil {
		return fmt.Errorf("getting current version: %w", err)
	}

	entries, err := fs.ReadDir(fsys, ".")
	if err != nil {
		return fmt.Errorf("reading migrations directory: %w", err)
	}

	var upFiles []string
	for _, entry := range entries {
		if strings.HasSuffix(entry.Name(), ".up.sql") {
			upFiles = append(upFiles, entry.Name())
		}
	}
	sort.Strings(upFiles)

	for _, name := range upFiles {
		var version int
		if _, err := fmt.Sscanf(name, "%d_", &version); err != nil {
			continue
		}
		if version <= currentVersion {
			continue
		}

		content, err := fs.ReadFile(fsys, name)
		if err != nil {
			return fmt.Errorf("reading migration %s: %w", name, err)
		}
		tx, err := s.db.Begin()
		if err != nil {
			return fmt.Errorf("beginning migration %s: %w", name, err)
		}
		if _, err := tx.Exec(string(content)); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("executing migration %s: %w", name, err)
		}
		if _, err := tx.Exec("INSERT INTO schema_migrations (version) VALUES (?)", version); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("recording migration %s: %w", name, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("committing migration %s: %w", name, err)
		}
	}

	return nil
}

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type scanner interface {
	Scan(dest ...any) error
}

// ==================== Reader ====================

type reader struct {
	q querier
}

const versionColumns = `version_id, entity_type, entity_id, number, status, effective_start, effective_end,
	payload, source_version_id, created_at, created_by, updated_at, updated_by, revision`

// GetVersion retrieves a version by ID.
func (r *reader) GetVersion(ctx context.Context, versionID string) (*domain.VersionedEntity, error) {
	row := r.q.QueryRowContext(ctx, `SELECT `+versionColumns+` FROM versions WHERE version_id = ?`, versionID)
	v, err := scanVersion(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.NewNotFoundError(domain.NotFoundVersion, versionID)
	}
	if err != nil {
		return nil, err
	}
	return v, nil
}

// ListVersions returns an entity's history, newest first.
func (r *reader) ListVersions(ctx context.Context, ref domain.EntityRef) ([]domain.VersionedEntity, error) {
	return r.queryVersions(ctx, `SELECT `+versionColumns+` FROM versions
		WHERE entity_type = ? AND entity_id = ? ORDER BY number DESC`, string(ref.EntityType), ref.EntityID)
}

// ListVersionsByType returns every version of a type.
func (r *reader) ListVersionsByType(ctx context.Context, entityType domain.EntityType) ([]domain.VersionedEntity, error) {
	return r.queryVersions(ctx, `SELECT `+versionColumns+` FROM versions
		WHERE entity_type = ? ORDER BY entity_id ASC, number DESC`, string(entityType))
}

func (r *reader) queryVersions(ctx context.Context, query string, args ...any) ([]domain.VersionedEntity, error) {
	rows, err := r.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying versions: %w", err)
	}
	defer rows.Close()

	result := make([]domain.VersionedEntity, 0)
	for rows.Next() {
		v, err := scanVersion(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *v)
	}
	return result, rows.Err()
}

const changeSetColumns = `id, title, status, items, jurisdictions, approvals, notes, cloned_from,
	created_at, created_by, updated_at, updated_by, published_at, revision`

// GetChangeSet retrieves a change set by ID.
func (r *reader) GetChangeSet(ctx context.Context, id string) (*domain.ChangeSet, error) {
	row := r.q.QueryRowContext(ctx, `SELECT `+changeSetColumns+` FROM change_sets WHERE id = ?`, id)
	cs, err := scanChangeSet(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.NewNotFoundError(domain.NotFoundChangeSet, id)
	}
	if err != nil {
		return nil, err
	}
	return cs, nil
}

// ListChangeSets returns change sets, newest first.
func (r *reader) ListChangeSets(ctx context.Context, status domain.ChangeSetStatus) ([]domain.ChangeSet, error) {
	query := `SELECT ` + changeSetColumns + ` FROM change_sets`
	var args []any
	if status != "" {
		query += ` WHERE status = ?`
		args = append(args, string(status))
	}
	query += ` ORDER BY created_at DESC, id ASC`

	rows, err := r.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying change sets: %w", err)
	}
	defer rows.Close()

	result := make([]domain.ChangeSet, 0)
	for rows.Next() {
		cs, err := scanChangeSet(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *cs)
	}
	return result, rows.Err()
}

// ListAudit returns the entries for a subject or change set, oldest first.
func (r *reader) ListAudit(ctx context.Context, id string) ([]domain.AuditEntry, error) {
	rows, err := r.q.QueryContext(ctx, `
		SELECT id, subject_type, subject_id, change_set_id, from_status, to_status, actor, at, reason
		FROM audit_entries WHERE subject_id = ? OR change_set_id = ? ORDER BY seq ASC
	`, id, id)
	if err != nil {
		return nil, fmt.Errorf("querying audit entries: %w", err)
	}
	defer rows.Close()

	result := make([]domain.AuditEntry, 0)
	for rows.Next() {
		var entry domain.AuditEntry
		var changeSetID, reason sql.NullString
		var at string
		if err := rows.Scan(&entry.ID, &entry.SubjectType, &entry.SubjectID, &changeSetID,
			&entry.From, &entry.To, &entry.Actor, &at, &reason); err != nil {
			return nil, fmt.Errorf("scanning audit entry: %w", err)
		}
		entry.ChangeSetID = changeSetID.String
		entry.Reason = reason.String
		if entry.At, err = parseTime(at); err != nil {
			return nil, err
		}
		result = append(result, entry)
	}
	return result, rows.Err()
}

// ==================== Tx ====================

type tx struct {
	reader
	sqlTx *sql.Tx
}

// InsertVersion stores a new version.
func (t *tx) InsertVersion(ctx context.Context, v domain.VersionedEntity) error {
	payload, err := json.Marshal(v.Payload)
	if err != nil {
		return fmt.Errorf("marshalling payload: %w", err)
	}
	_, err = t.sqlTx.ExecContext(ctx, `
		INSERT INTO versions (`+versionColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, v.VersionID, string(v.EntityType), v.EntityID, v.Number, string(v.Status),
		nullTime(v.EffectiveStart), nullTime(v.EffectiveEnd), string(payload), nullString(v.SourceVersionID),
		formatTime(v.CreatedAt), v.CreatedBy, formatTime(v.UpdatedAt), v.UpdatedBy, v.Revision)
	if err != nil {
		if isUniqueViolation(err) {
			return &domain.ConcurrencyConflictError{Subject: domain.AuditSubjectVersion, ID: v.Ref().String()}
		}
		return fmt.Errorf("inserting version: %w", err)
	}
	return nil
}

// UpdateVersion replaces a version whose stored revision matches.
func (t *tx) UpdateVersion(ctx context.Context, v domain.VersionedEntity) (domain.VersionedEntity, error) {
	payload, err := json.Marshal(v.Payload)
	if err != nil {
		return domain.VersionedEntity{}, fmt.Errorf("marshalling payload: %w", err)
	}
	result, err := t.sqlTx.ExecContext(ctx, `
		UPDATE versions SET
			status = ?, effective_start = ?, effective_end = ?, payload = ?,
			updated_at = ?, updated_by = ?, revision = revision + 1
		WHERE version_id = ? AND revision = ?
	`, string(v.Status), nullTime(v.EffectiveStart), nullTime(v.EffectiveEnd), string(payload),
		formatTime(v.UpdatedAt), v.UpdatedBy, v.VersionID, v.Revision)
	if err != nil {
		return domain.VersionedEntity{}, fmt.Errorf("updating version: %w", err)
	}
	if err := t.checkRevision(ctx, result, "versions", "version_id", domain.AuditSubjectVersion, domain.NotFoundVersion, v.VersionID, v.Revision); err != nil {
		return domain.VersionedEntity{}, err
	}
	v.Revision++
	return v, nil
}

// InsertChangeSet stores a new change set.
func (t *tx) InsertChangeSet(ctx context.Context, cs domain.ChangeSet) error {
	items, jurisdictions, approvals, err := marshalChangeSetLists(cs)
	if err != nil {
		return err
	}
	_, err = t.sqlTx.ExecContext(ctx, `
		INSERT INTO change_sets (`+changeSetColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, cs.ID, cs.Title, string(cs.Status), items, jurisdictions, approvals,
		nullString(cs.Notes), nullString(cs.ClonedFrom),
		formatTime(cs.CreatedAt), cs.CreatedBy, formatTime(cs.UpdatedAt), cs.UpdatedBy,
		nullTime(cs.PublishedAt), cs.Revision)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("change set %q: %w", cs.ID, domain.ErrAlreadyExists)
		}
		return fmt.Errorf("inserting change set: %w", err)
	}
	return nil
}

// UpdateChangeSet replaces a change set whose stored revision matches.
func (t *tx) UpdateChangeSet(ctx context.Context, cs domain.ChangeSet) (domain.ChangeSet, error) {
	items, jurisdictions, approvals, err := marshalChangeSetLists(cs)
	if err != nil {
		return domain.ChangeSet{}, err
	}
	result, err := t.sqlTx.ExecContext(ctx, `
		UPDATE change_sets SET
			title = ?, status = ?, items = ?, jurisdictions = ?, approvals = ?, notes = ?,
			updated_at = ?, updated_by = ?, published_at = ?, revision = revision + 1
		WHERE id = ? AND revision = ?
	`, cs.Title, string(cs.Status), items, jurisdictions, approvals, nullString(cs.Notes),
		formatTime(cs.UpdatedAt), cs.UpdatedBy, nullTime(cs.PublishedAt), cs.ID, cs.Revision)
	if err != nil {
		return domain.ChangeSet{}, fmt.Errorf("updating change set: %w", err)
	}
	if err := t.checkRevision(ctx, result, "change_sets", "id", domain.AuditSubjectChangeSet, domain.NotFoundChangeSet, cs.ID, cs.Revision); err != nil {
		return domain.ChangeSet{}, err
	}
	cs.Revision++
	return cs, nil
}

// AppendAudit records a transition.
func (t *tx) AppendAudit(ctx context.Context, entry domain.AuditEntry) error {
	_, err := t.sqlTx.ExecContext(ctx, `
		INSERT INTO audit_entries (id, subject_type, subject_id, change_set_id, from_status, to_status, actor, at, reason)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, entry.ID, entry.SubjectType, entry.SubjectID, nullString(entry.ChangeSetID),
		entry.From, entry.To, entry.Actor, formatTime(entry.At), nullString(entry.Reason))
	if err != nil {
		return fmt.Errorf("appending audit entry: %w", err)
	}
	return nil
}

// checkRevision turns a zero-row UPDATE into NotFound or a conflict.
func (t *tx) checkRevision(ctx context.Context, result sql.Result, table, key, subject, kind, id string, expected int64) error {
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if affected == 1 {
		return nil
	}

	var actual int64
	err = t.sqlTx.QueryRowContext(ctx, `SELECT revision FROM `+table+` WHERE `+key+` = ?`, id).Scan(&actual)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.NewNotFoundError(kind, id)
	}
	if err != nil {
		return fmt.Errorf("reading revision: %w", err)
	}
	return &domain.ConcurrencyConflictError{Subject: subject, ID: id, Expected: expected, Actual: actual}
}

// ==================== Scanning ====================

func scanVersion(row scanner) (*domain.VersionedEntity, error) {
	var v domain.VersionedEntity
	var entityType, status, payload, createdAt, updatedAt string
	var start, end, sourceID sql.NullString
	err := row.Scan(&v.VersionID, &entityType, &v.EntityID, &v.Number, &status, &start, &end,
		&payload, &sourceID, &createdAt, &v.CreatedBy, &updatedAt, &v.UpdatedBy, &v.Revision)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("scanning version: %w", err)
	}

	v.EntityType = domain.EntityType(entityType)
	v.Status = domain.VersionStatus(status)
	v.SourceVersionID = sourceID.String
	if err := json.Unmarshal([]byte(payload), &v.Payload); err != nil {
		return nil, fmt.Errorf("unmarshalling payload: %w", err)
	}
	if v.EffectiveStart, err = parseNullTime(start); err != nil {
		return nil, err
	}
	if v.EffectiveEnd, err = parseNullTime(end); err != nil {
		return nil, err
	}
	if v.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if v.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, err
	}
	return &v, nil
}

func scanChangeSet(row scanner) (*domain.ChangeSet, error) {
	var cs domain.ChangeSet
	var status, items, jurisdictions, approvals, createdAt, updatedAt string
	var notes, clonedFrom, publishedAt sql.NullString
	err := row.Scan(&cs.ID, &cs.Title, &status, &items, &jurisdictions, &approvals, &notes, &clonedFrom,
		&createdAt, &cs.CreatedBy, &updatedAt, &cs.UpdatedBy, &publishedAt, &cs.Revision)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("scanning change set: %w", err)
	}

	cs.Status = domain.ChangeSetStatus(status)
	cs.Notes = notes.String
	cs.ClonedFrom = clonedFrom.String
	if err := json.Unmarshal([]byte(items), &cs.Items); err != nil {
		return nil, fmt.Errorf("unmarshalling items: %w", err)
	}
	if err := json.Unmarshal([]byte(jurisdictions), &cs.Jurisdictions); err != nil {
		return nil, fmt.Errorf("unmarshalling jurisdictions: %w", err)
	}
	if err := json.Unmarshal([]byte(approvals), &cs.Approvals); err != nil {
		return nil, fmt.Errorf("unmarshalling approvals: %w", err)
	}
	if cs.Items == nil {
		cs.Items = []domain.ChangeSetItem{}
	}
	if len(cs.Jurisdictions) == 0 {
		cs.Jurisdictions = nil
	}
	if len(cs.Approvals) == 0 {
		cs.Approvals = nil
	}
	if cs.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if cs.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, err
	}
	if cs.PublishedAt, err = parseNullTime(publishedAt); err != nil {
		return nil, err
	}
	return &cs, nil
}

func marshalChangeSetLists(cs domain.ChangeSet) (items, jurisdictions, approvals string, err error) {
	lists := []any{cs.Items, cs.Jurisdictions, cs.Approvals}
	encoded := make([]string, len(lists))
	for i, list := range lists {
		data, err := json.Marshal(list)
		if err != nil {
			return "", "", "", fmt.Errorf("marshalling change set: %w", err)
		}
		if string(data) == "null" {
			data = []byte("[]")
		}
		encoded[i] = string(data)
	}
	return encoded[0], encoded[1], encoded[2], nil
}

// ==================== Helpers ====================

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parsing time %q: %w", s, err)
	}
	return t, nil
}

func nullTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: formatTime(*t), Valid: true}
}

func parseNullTime(s sql.NullString) (*time.Time, error) {
	if !s.Valid {
		return nil, nil
	}
	t, err := parseTime(s.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func isBusy(err error) bool {
	return strings.Contains(err.Error(), "SQLITE_BUSY") ||
		strings.Contains(err.Error(), "database is locked")
}

func isUniqueViolation(err error) bool {
	return strings.Contains(err.Error(), "UNIQUE constraint failed") ||
		strings.Contains(err.Error(), "PRIMARY KEY constraint failed")
}
