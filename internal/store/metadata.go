package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite" // pure Go SQLite driver (no CGO)
)

// SQLiteMetadataStore implements MetadataStore over a single SQLite
// database file per tenant partition, using WAL mode so the file
// watcher, reconciliation, and the dispatcher's request goroutines can
// all read concurrently while a single writer holds the connection
// pool at size 1 (store.go's single-writer-per-partition invariant).
type SQLiteMetadataStore struct {
	db     *sql.DB
	path   string
	logger *slog.Logger
}

var _ MetadataStore = (*SQLiteMetadataStore)(nil)

// validateSQLiteIntegrity checks if a SQLite database is valid before
// opening it for real, so a crash mid-write doesn't silently resurrect
// a corrupt partition.
func validateSQLiteIntegrity(path string) error {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}

	db, err := sql.Open("sqlite", path+"?mode=ro")
	if err != nil {
		return fmt.Errorf("cannot open for validation: %w", err)
	}
	defer db.Close()

	var result string
	if err := db.QueryRow("PRAGMA integrity_check").Scan(&result); err != nil {
		return fmt.Errorf("integrity check failed: %w", err)
	}
	if result != "ok" {
		return fmt.Errorf("database corrupted: %s", result)
	}
	return nil
}

// NewSQLiteMetadataStore opens (creating if absent) the metadata store
// at path. An empty path opens an in-memory store, used in tests.
func NewSQLiteMetadataStore(path string, logger *slog.Logger) (*SQLiteMetadataStore, error) {
	if logger == nil {
		logger = slog.Default()
	}

	var dsn string
	if path == "" {
		dsn = ":memory:"
	} else {
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create directory %s: %w", dir, err)
		}

		if err := validateSQLiteIntegrity(path); err != nil {
			logger.Warn("metadata store corrupted, quarantining",
				slog.String("path", path), slog.String("error", err.Error()))
			quarantine := path + ".corrupt." + time.Now().UTC().Format("20060102T150405")
			if renameErr := os.Rename(path, quarantine); renameErr != nil && !os.IsNotExist(renameErr) {
				return nil, fmt.Errorf("quarantine corrupt store: %w (original error: %v)", renameErr, err)
			}
			_ = os.Remove(path + "-wal")
			_ = os.Remove(path + "-shm")
		}
		dsn = path
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// A single writer per partition, per spec's "no two writers"
	// invariant; readers share the same pooled connection.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA foreign_keys = ON",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("set pragma %q: %w", p, err)
		}
	}

	s := &SQLiteMetadataStore{db: db, path: path, logger: logger}
	if err := s.initSchema(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}
	return s, nil
}

func (s *SQLiteMetadataStore) initSchema() error {
	const schema = `
	CREATE TABLE IF NOT EXISTS schema_version (version INTEGER PRIMARY KEY);
	INSERT OR IGNORE INTO schema_version (version) VALUES (1);

	CREATE TABLE IF NOT EXISTS documents (
		id               TEXT PRIMARY KEY,
		project          TEXT NOT NULL,
		branch           TEXT NOT NULL,
		path_hash        TEXT NOT NULL,
		collection       TEXT NOT NULL,
		rel_path         TEXT NOT NULL,
		content_hash     TEXT NOT NULL,
		doc_type         TEXT,
		title            TEXT,
		date             TEXT,
		summary          TEXT,
		significance     TEXT,
		promotion_level  TEXT NOT NULL DEFAULT 'standard',
		tags_json        TEXT,
		related_docs_json TEXT,
		supersedes       TEXT,
		body             TEXT,
		embedding_json   TEXT,
		created_at       TEXT NOT NULL,
		updated_at       TEXT NOT NULL,
		UNIQUE(project, branch, path_hash, collection, rel_path)
	);
	CREATE INDEX IF NOT EXISTS idx_documents_tenant
		ON documents(project, branch, path_hash, collection);
	CREATE INDEX IF NOT EXISTS idx_documents_promotion
		ON documents(project, branch, path_hash, collection, promotion_level);

	CREATE TABLE IF NOT EXISTS chunks (
		id             TEXT PRIMARY KEY,
		document_id    TEXT NOT NULL REFERENCES documents(id) ON DELETE CASCADE,
		collection     TEXT NOT NULL,
		chunk_index    INTEGER NOT NULL,
		start_line     INTEGER NOT NULL,
		end_line       INTEGER NOT NULL,
		content        TEXT NOT NULL,
		embedding_json TEXT,
		created_at     TEXT NOT NULL,
		updated_at     TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_chunks_document ON chunks(document_id);

	CREATE TABLE IF NOT EXISTS kv_state (
		key   TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

func encodeFloats(v []float32) (string, error) {
	if len(v) == 0 {
		return "", nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func decodeFloats(s string) ([]float32, error) {
	if s == "" {
		return nil, nil
	}
	var v []float32
	if err := json.Unmarshal([]byte(s), &v); err != nil {
		return nil, err
	}
	return v, nil
}

func encodeStrings(v []string) string {
	if len(v) == 0 {
		return ""
	}
	b, _ := json.Marshal(v)
	return string(b)
}

func decodeStrings(s string) []string {
	if s == "" {
		return nil
	}
	var v []string
	_ = json.Unmarshal([]byte(s), &v)
	return v
}

// UpsertDocument inserts or replaces a document. The caller is expected
// to have already assigned d.ID (a fresh uuid.NewString() for a new
// document) and refreshed d.UpdatedAt.
func (s *SQLiteMetadataStore) UpsertDocument(ctx context.Context, d *Document) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if err := upsertDocumentTx(ctx, tx, d); err != nil {
		return err
	}

	return tx.Commit()
}

// UpsertDocumentWithChunks upserts a document and replaces its chunk
// set in one transaction, so a reader never observes a document whose
// chunks haven't caught up yet (or vice versa) - the atomic-upsert
// requirement the indexing pipeline's last step relies on.
func (s *SQLiteMetadataStore) UpsertDocumentWithChunks(ctx context.Context, d *Document, chunks []*Chunk) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if err := upsertDocumentTx(ctx, tx, d); err != nil {
		return err
	}
	if err := saveChunksTx(ctx, tx, d.ID, chunks); err != nil {
		return err
	}

	return tx.Commit()
}

func upsertDocumentTx(ctx context.Context, tx *sql.Tx, d *Document) error {
	if d.ID == "" {
		d.ID = uuid.NewString()
	}

	// Optimistic conflict check: the caller's UpdatedAt is what it last
	// observed for this id. If the stored row has since moved on to a
	// newer UpdatedAt, someone else won the race; refuse before this
	// write stomps it. A zero UpdatedAt means the caller never read an
	// existing row (a fresh insert), so there is nothing to conflict with.
	observed := d.UpdatedAt
	var existingUpdated string
	err := tx.QueryRowContext(ctx, `SELECT updated_at FROM documents WHERE id = ?`, d.ID).Scan(&existingUpdated)
	if err == nil {
		if t, perr := time.Parse(time.RFC3339Nano, existingUpdated); perr == nil && !observed.IsZero() && t.After(observed) {
			return ErrConflict
		}
	} else if err != sql.ErrNoRows {
		return fmt.Errorf("check existing: %w", err)
	}

	now := time.Now().UTC()
	if d.CreatedAt.IsZero() {
		d.CreatedAt = now
	}
	d.UpdatedAt = now

	embJSON, err := encodeFloats(d.Embedding)
	if err != nil {
		return fmt.Errorf("encode embedding: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO documents (
			id, project, branch, path_hash, collection, rel_path, content_hash,
			doc_type, title, date, summary, significance, promotion_level,
			tags_json, related_docs_json, supersedes, body, embedding_json,
			created_at, updated_at
		) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)
		ON CONFLICT(id) DO UPDATE SET
			content_hash=excluded.content_hash, doc_type=excluded.doc_type,
			title=excluded.title, date=excluded.date, summary=excluded.summary,
			significance=excluded.significance, promotion_level=excluded.promotion_level,
			tags_json=excluded.tags_json, related_docs_json=excluded.related_docs_json,
			supersedes=excluded.supersedes, body=excluded.body,
			embedding_json=excluded.embedding_json, updated_at=excluded.updated_at
	`,
		d.ID, d.Project, d.Branch, d.PathHash, string(d.Collection), d.RelPath, d.ContentHash,
		d.DocType, d.Title, d.Date, d.Summary, d.Significance, string(d.PromotionLevel),
		encodeStrings(d.Tags), encodeStrings(d.RelatedDocs), d.Supersedes, d.Body, embJSON,
		d.CreatedAt.Format(time.RFC3339Nano), d.UpdatedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return ErrConflict
		}
		return fmt.Errorf("upsert document: %w", err)
	}

	return nil
}

// DeleteDocument cascades chunks-then-document in one transaction.
func (s *SQLiteMetadataStore) DeleteDocument(ctx context.Context, tenant TenantKey, collection Collection, id string) (int, int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, 0, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	chunkRes, err := tx.ExecContext(ctx, `DELETE FROM chunks WHERE document_id = ?`, id)
	if err != nil {
		return 0, 0, fmt.Errorf("delete chunks: %w", err)
	}
	chunksDeleted, _ := chunkRes.RowsAffected()

	docRes, err := tx.ExecContext(ctx, `
		DELETE FROM documents
		WHERE id = ? AND project = ? AND branch = ? AND path_hash = ? AND collection = ?
	`, id, tenant.Project, tenant.Branch, tenant.PathHash, string(collection))
	if err != nil {
		return 0, 0, fmt.Errorf("delete document: %w", err)
	}
	docsDeleted, _ := docRes.RowsAffected()

	if err := tx.Commit(); err != nil {
		return 0, 0, fmt.Errorf("commit: %w", err)
	}
	return int(docsDeleted), int(chunksDeleted), nil
}

// DeleteByFilter counts or deletes every document (and its chunks)
// matching filter under project. When dryRun is true, only the two
// counting queries run and nothing is mutated.
func (s *SQLiteMetadataStore) DeleteByFilter(ctx context.Context, project string, collection Collection, filter DeleteFilter, dryRun bool) (int, int, error) {
	where := []string{"project = ?", "collection = ?"}
	args := []any{project, string(collection)}
	if filter.Branch != "" {
		where = append(where, "branch = ?")
		args = append(args, filter.Branch)
	}
	if filter.PathHash != "" {
		where = append(where, "path_hash = ?")
		args = append(args, filter.PathHash)
	}
	whereClause := strings.Join(where, " AND ")

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, 0, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	var docCount int
	if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM documents WHERE `+whereClause, args...).Scan(&docCount); err != nil {
		return 0, 0, fmt.Errorf("count documents: %w", err)
	}

	var chunkCount int
	err = tx.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM chunks WHERE document_id IN (
			SELECT id FROM documents WHERE `+whereClause+`
		)`, args...).Scan(&chunkCount)
	if err != nil {
		return 0, 0, fmt.Errorf("count chunks: %w", err)
	}

	if dryRun {
		return docCount, chunkCount, tx.Commit()
	}

	if _, err := tx.ExecContext(ctx, `
		DELETE FROM chunks WHERE document_id IN (
			SELECT id FROM documents WHERE `+whereClause+`
		)`, args...); err != nil {
		return 0, 0, fmt.Errorf("delete chunks: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM documents WHERE `+whereClause, args...); err != nil {
		return 0, 0, fmt.Errorf("delete documents: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, 0, fmt.Errorf("commit: %w", err)
	}
	return docCount, chunkCount, nil
}

func (s *SQLiteMetadataStore) scanDocument(row interface {
	Scan(dest ...any) error
}) (*Document, error) {
	var d Document
	var collection, tags, related, embJSON, createdAt, updatedAt string
	err := row.Scan(
		&d.ID, &d.Project, &d.Branch, &d.PathHash, &collection, &d.RelPath, &d.ContentHash,
		&d.DocType, &d.Title, &d.Date, &d.Summary, &d.Significance, &d.PromotionLevel,
		&tags, &related, &d.Supersedes, &d.Body, &embJSON, &createdAt, &updatedAt,
	)
	if err != nil {
		return nil, err
	}
	d.Collection = Collection(collection)
	d.Tags = decodeStrings(tags)
	d.RelatedDocs = decodeStrings(related)
	d.Embedding, err = decodeFloats(embJSON)
	if err != nil {
		return nil, fmt.Errorf("decode embedding: %w", err)
	}
	d.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	d.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updatedAt)
	return &d, nil
}

const documentColumns = `id, project, branch, path_hash, collection, rel_path, content_hash,
	doc_type, title, date, summary, significance, promotion_level,
	tags_json, related_docs_json, supersedes, body, embedding_json, created_at, updated_at`

func (s *SQLiteMetadataStore) GetByPath(ctx context.Context, tenant TenantKey, collection Collection, relPath string) (*Document, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+documentColumns+` FROM documents
		WHERE project = ? AND branch = ? AND path_hash = ? AND collection = ? AND rel_path = ?
	`, tenant.Project, tenant.Branch, tenant.PathHash, string(collection), relPath)
	doc, err := s.scanDocument(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get by path: %w", err)
	}
	return doc, nil
}

// GetByID resolves a document by its store ID, unscoped by tenant
// since IDs are globally unique UUIDs — the caller (retrieval,
// resolving VectorIndex.Search hits, which are already tenant-scoped
// by partition) doesn't need to re-supply the tenant key.
func (s *SQLiteMetadataStore) GetByID(ctx context.Context, id string) (*Document, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+documentColumns+` FROM documents WHERE id = ?
	`, id)
	doc, err := s.scanDocument(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get by id: %w", err)
	}
	return doc, nil
}

func (s *SQLiteMetadataStore) GetByPromotionLevel(ctx context.Context, tenant TenantKey, collection Collection, level PromotionLevel, docTypes []string) ([]*Document, error) {
	query := `SELECT ` + documentColumns + ` FROM documents
		WHERE project = ? AND branch = ? AND path_hash = ? AND collection = ? AND promotion_level = ?`
	args := []any{tenant.Project, tenant.Branch, tenant.PathHash, string(collection), string(level)}
	if len(docTypes) > 0 {
		placeholders := make([]string, len(docTypes))
		for i, dt := range docTypes {
			placeholders[i] = "?"
			args = append(args, dt)
		}
		query += " AND doc_type IN (" + strings.Join(placeholders, ",") + ")"
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query by promotion level: %w", err)
	}
	defer rows.Close()

	var docs []*Document
	for rows.Next() {
		d, err := s.scanDocument(rows)
		if err != nil {
			return nil, fmt.Errorf("scan document: %w", err)
		}
		docs = append(docs, d)
	}
	return docs, rows.Err()
}

// UpdatePromotionLevel mutates a document's promotion_level and
// updated_at in place, leaving content_hash and embedding_json
// untouched - a promotion change is not a content change and must not
// force a re-embed.
func (s *SQLiteMetadataStore) UpdatePromotionLevel(ctx context.Context, tenant TenantKey, collection Collection, relPath string, level PromotionLevel) (*Document, error) {
	doc, err := s.GetByPath(ctx, tenant, collection, relPath)
	if err != nil {
		return nil, err
	}
	if doc == nil {
		return nil, nil
	}

	now := time.Now().UTC()
	_, err = s.db.ExecContext(ctx, `
		UPDATE documents SET promotion_level = ?, updated_at = ? WHERE id = ?
	`, string(level), now.Format(time.RFC3339Nano), doc.ID)
	if err != nil {
		return nil, fmt.Errorf("update promotion level: %w", err)
	}

	doc.PromotionLevel = level
	doc.UpdatedAt = now
	return doc, nil
}

func (s *SQLiteMetadataStore) ListAll(ctx context.Context, tenant TenantKey, collection Collection) ([]*DocumentLite, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, rel_path, title, doc_type, promotion_level, updated_at FROM documents
		WHERE project = ? AND branch = ? AND path_hash = ? AND collection = ?
	`, tenant.Project, tenant.Branch, tenant.PathHash, string(collection))
	if err != nil {
		return nil, fmt.Errorf("list all: %w", err)
	}
	defer rows.Close()

	var out []*DocumentLite
	for rows.Next() {
		var lite DocumentLite
		var updatedAt string
		if err := rows.Scan(&lite.ID, &lite.RelPath, &lite.Title, &lite.DocType, &lite.PromotionLevel, &updatedAt); err != nil {
			return nil, fmt.Errorf("scan: %w", err)
		}
		lite.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updatedAt)
		out = append(out, &lite)
	}
	return out, rows.Err()
}

func (s *SQLiteMetadataStore) GetDocTypes(ctx context.Context, tenant TenantKey, collection Collection) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT DISTINCT doc_type FROM documents
		WHERE project = ? AND branch = ? AND path_hash = ? AND collection = ? AND doc_type != ''
	`, tenant.Project, tenant.Branch, tenant.PathHash, string(collection))
	if err != nil {
		return nil, fmt.Errorf("get doc types: %w", err)
	}
	defer rows.Close()

	var types []string
	for rows.Next() {
		var t string
		if err := rows.Scan(&t); err != nil {
			return nil, err
		}
		types = append(types, t)
	}
	return types, rows.Err()
}

// SaveChunks replaces all chunks for documentID under one transaction:
// delete existing, then insert the new ordered set.
func (s *SQLiteMetadataStore) SaveChunks(ctx context.Context, documentID string, chunks []*Chunk) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if err := saveChunksTx(ctx, tx, documentID, chunks); err != nil {
		return err
	}

	return tx.Commit()
}

func saveChunksTx(ctx context.Context, tx *sql.Tx, documentID string, chunks []*Chunk) error {
	if _, err := tx.ExecContext(ctx, `DELETE FROM chunks WHERE document_id = ?`, documentID); err != nil {
		return fmt.Errorf("delete existing chunks: %w", err)
	}

	now := time.Now().UTC().Format(time.RFC3339Nano)
	for _, c := range chunks {
		if c.ID == "" {
			c.ID = uuid.NewString()
		}
		embJSON, err := encodeFloats(c.Embedding)
		if err != nil {
			return fmt.Errorf("encode chunk embedding: %w", err)
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO chunks (id, document_id, collection, chunk_index, start_line, end_line, content, embedding_json, created_at, updated_at)
			VALUES (?,?,?,?,?,?,?,?,?,?)
		`, c.ID, documentID, string(c.Collection), c.ChunkIndex, c.StartLine, c.EndLine, c.Content, embJSON, now, now)
		if err != nil {
			return fmt.Errorf("insert chunk: %w", err)
		}
	}

	return nil
}

func (s *SQLiteMetadataStore) GetChunksByDocument(ctx context.Context, documentID string) ([]*Chunk, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, document_id, collection, chunk_index, start_line, end_line, content, embedding_json, created_at, updated_at
		FROM chunks WHERE document_id = ? ORDER BY chunk_index ASC
	`, documentID)
	if err != nil {
		return nil, fmt.Errorf("get chunks: %w", err)
	}
	defer rows.Close()

	var chunks []*Chunk
	for rows.Next() {
		var c Chunk
		var collection, embJSON, createdAt, updatedAt string
		if err := rows.Scan(&c.ID, &c.DocumentID, &collection, &c.ChunkIndex, &c.StartLine, &c.EndLine, &c.Content, &embJSON, &createdAt, &updatedAt); err != nil {
			return nil, fmt.Errorf("scan chunk: %w", err)
		}
		c.Collection = Collection(collection)
		c.Embedding, err = decodeFloats(embJSON)
		if err != nil {
			return nil, fmt.Errorf("decode chunk embedding: %w", err)
		}
		c.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
		c.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updatedAt)
		chunks = append(chunks, &c)
	}
	return chunks, rows.Err()
}

func (s *SQLiteMetadataStore) DeleteChunksByDocument(ctx context.Context, documentID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM chunks WHERE document_id = ?`, documentID)
	return err
}

// GetFilesForReconciliation returns every stored document's
// (id, content_hash) for a tenant, keyed by relative path.
func (s *SQLiteMetadataStore) GetFilesForReconciliation(ctx context.Context, tenant TenantKey, collection Collection) (map[string]StoredFile, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT rel_path, id, content_hash FROM documents
		WHERE project = ? AND branch = ? AND path_hash = ? AND collection = ?
	`, tenant.Project, tenant.Branch, tenant.PathHash, string(collection))
	if err != nil {
		return nil, fmt.Errorf("query for reconciliation: %w", err)
	}
	defer rows.Close()

	out := make(map[string]StoredFile)
	for rows.Next() {
		var relPath string
		var sf StoredFile
		if err := rows.Scan(&relPath, &sf.ID, &sf.ContentHash); err != nil {
			return nil, fmt.Errorf("scan: %w", err)
		}
		out[relPath] = sf
	}
	return out, rows.Err()
}

func (s *SQLiteMetadataStore) GetState(ctx context.Context, key string) (string, error) {
	var value string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM kv_state WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("get state: %w", err)
	}
	return value, nil
}

func (s *SQLiteMetadataStore) SetState(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO kv_state (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value
	`, key, value)
	return err
}

func (s *SQLiteMetadataStore) Close() error {
	return s.db.Close()
}
