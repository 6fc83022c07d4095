// Copyright 2025 Hivemind Labs
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published
// by the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program. If not, see <https://www.gnu.org/licenses/>.
//
// For commercial licensing, contact: licensing@hivemindlabs.io
//
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package storage persists the knowledge graph in an embedded SQLite
// database with an FTS5 full-text index over note titles, bodies and
// frontmatter text.
package storage

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
	"strconv"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/hivemindlabs/hivemind/pkg/graph"
)

// schemaVersion is bumped when the on-disk layout changes. A database
// written by an older release is reset on open; the index is derived
// state, so the caller rebuilds it from the vault.
const schemaVersion = 2

var (
	// ErrNotFound is returned when a node id does not exist.
	ErrNotFound = errors.New("node not found")

	// ErrClosed is returned after Close.
	ErrClosed = errors.New("storage is closed")

	// ErrSchemaTooNew is returned when the database was written by a newer
	// release.
	ErrSchemaTooNew = errors.New("database schema is newer than this version")
)

const schemaDDL = `
CREATE TABLE IF NOT EXISTS meta (
	key   TEXT PRIMARY KEY,
	value TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS nodes (
	id          TEXT PRIMARY KEY,
	type        TEXT NOT NULL,
	status      TEXT NOT NULL DEFAULT '',
	title       TEXT NOT NULL,
	path        TEXT NOT NULL,
	body        TEXT NOT NULL DEFAULT '',
	frontmatter TEXT NOT NULL DEFAULT '{}',
	extra       TEXT NOT NULL DEFAULT '',
	size_bytes  INTEGER NOT NULL DEFAULT 0,
	modified_at TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_nodes_type ON nodes (type);
CREATE INDEX IF NOT EXISTS idx_nodes_path ON nodes (path);

CREATE TABLE IF NOT EXISTS edges (
	source_id  TEXT NOT NULL,
	target_id  TEXT NOT NULL,
	type_id    TEXT NOT NULL,
	origin_id  TEXT NOT NULL,
	properties TEXT NOT NULL DEFAULT '{}',
	PRIMARY KEY (source_id, target_id, type_id)
);
CREATE INDEX IF NOT EXISTS idx_edges_target ON edges (target_id);
CREATE INDEX IF NOT EXISTS idx_edges_origin ON edges (origin_id);
`

const ftsDDL = `
CREATE VIRTUAL TABLE IF NOT EXISTS notes_fts USING fts5(
	title, body, extra,
	content='nodes', content_rowid='rowid',
	tokenize='unicode61'
);

CREATE TRIGGER IF NOT EXISTS nodes_fts_insert AFTER INSERT ON nodes BEGIN
	INSERT INTO notes_fts (rowid, title, body, extra)
	VALUES (new.rowid, new.title, new.body, new.extra);
END;
CREATE TRIGGER IF NOT EXISTS nodes_fts_delete AFTER DELETE ON nodes BEGIN
	INSERT INTO notes_fts (notes_fts, rowid, title, body, extra)
	VALUES ('delete', old.rowid, old.title, old.body, old.extra);
END;
CREATE TRIGGER IF NOT EXISTS nodes_fts_update AFTER UPDATE ON nodes BEGIN
	INSERT INTO notes_fts (notes_fts, rowid, title, body, extra)
	VALUES ('delete', old.rowid, old.title, old.body, old.extra);
	INSERT INTO notes_fts (rowid, title, body, extra)
	VALUES (new.rowid, new.title, new.body, new.extra);
END;
`

// Options configures Open.
type Options struct {
	// EnableFTS creates the full-text index. Defaults to true via
	// DefaultOptions.
	EnableFTS bool

	Logger *slog.Logger
}

// DefaultOptions returns the standard configuration.
func DefaultOptions() Options {
	return Options{EnableFTS: true}
}

// Store is the SQLite-backed persistence layer. It is safe for concurrent
// use; writers serialize on SQLite's own locking with bounded retries.
type Store struct {
	mu     sync.RWMutex
	db     *sql.DB
	closed bool
	fts    bool
	logger *slog.Logger
}

// Open opens (or creates) the database at path. The parent directory is
// created if needed. Use ":memory:" for an in-memory database.
func Open(path string, opts Options) (*Store, error) {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	dsn := "file::memory:?_pragma=foreign_keys(1)"
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
		dsn = "file:" + path +
			"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)&_pragma=synchronous(NORMAL)"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// A single connection sidesteps table-lock contention between the
	// serial writer and concurrent readers on the same handle.
	db.SetMaxOpenConns(1)

	s := &Store{db: db, fts: opts.EnableFTS, logger: opts.Logger}
	if err := s.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// Close releases the database handle. Further calls fail with ErrClosed.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}

func (s *Store) migrate(ctx context.Context) error {
	found, err := s.storedSchemaVersion(ctx)
	if err != nil {
		return err
	}
	if found > schemaVersion {
		return fmt.Errorf("%w: found %d, supported %d", ErrSchemaTooNew, found, schemaVersion)
	}
	if found > 0 && found < schemaVersion {
		// Older layout on disk. The index is derived state, so the
		// migration is a clean slate; the caller rebuilds from the vault.
		s.logger.Info("storage.migrate.reset", "from", found, "to", schemaVersion)
		if _, err := s.db.ExecContext(ctx, `
			DROP TABLE IF EXISTS notes_fts;
			DROP TABLE IF EXISTS edges;
			DROP TABLE IF EXISTS nodes;
			DROP TABLE IF EXISTS meta;`); err != nil {
			return fmt.Errorf("reset old schema: %w", err)
		}
	}

	if _, err := s.db.ExecContext(ctx, schemaDDL); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	if s.fts {
		if _, err := s.db.ExecContext(ctx, ftsDDL); err != nil {
			return fmt.Errorf("apply full-text schema: %w", err)
		}
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO meta (key, value) VALUES ('schema_version', ?)
		ON CONFLICT (key) DO UPDATE SET value = excluded.value`,
		strconv.Itoa(schemaVersion))
	return err
}

// storedSchemaVersion reads the on-disk marker; 0 means a fresh database.
func (s *Store) storedSchemaVersion(ctx context.Context) (int, error) {
	var tables int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = 'meta'`).Scan(&tables)
	if err != nil {
		return 0, fmt.Errorf("inspect schema: %w", err)
	}
	if tables == 0 {
		return 0, nil
	}
	var raw string
	err = s.db.QueryRowContext(ctx,
		`SELECT value FROM meta WHERE key = 'schema_version'`).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read schema version: %w", err)
	}
	found, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("parse schema version %q: %w", raw, err)
	}
	return found, nil
}

func (s *Store) checkOpen() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrClosed
	}
	return nil
}

// withTx runs fn inside a transaction, retrying up to five times with
// exponential backoff when SQLite reports the database as busy.
func (s *Store) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	const maxRetries = 5
	var err error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			backoff := time.Duration(10<<uint(attempt-1)) * time.Millisecond
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
			s.logger.Debug("storage.tx.retry", "attempt", attempt, "err", err)
		}
		err = s.runTx(ctx, fn)
		if err == nil || !isBusy(err) {
			return err
		}
	}
	return err
}

func (s *Store) runTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

func isBusy(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") || strings.Contains(msg, "database is locked")
}

// UpsertNode inserts or replaces a node row.
func (s *Store) UpsertNode(ctx context.Context, n *graph.Node) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		return upsertNodeTx(ctx, tx, n)
	})
}

// UpsertNodes writes several nodes in a single transaction. The graph
// builder batches through it during full builds.
func (s *Store) UpsertNodes(ctx context.Context, nodes []*graph.Node) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		for _, n := range nodes {
			if err := upsertNodeTx(ctx, tx, n); err != nil {
				return err
			}
		}
		return nil
	})
}

func upsertNodeTx(ctx context.Context, tx *sql.Tx, n *graph.Node) error {
	fm, err := json.Marshal(n.Frontmatter)
	if err != nil {
		return fmt.Errorf("encode frontmatter for %q: %w", n.ID, err)
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO nodes (id, type, status, title, path, body, frontmatter, extra, size_bytes, modified_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			type = excluded.type,
			status = excluded.status,
			title = excluded.title,
			path = excluded.path,
			body = excluded.body,
			frontmatter = excluded.frontmatter,
			extra = excluded.extra,
			size_bytes = excluded.size_bytes,
			modified_at = excluded.modified_at`,
		n.ID, n.Type, n.Status, n.Title, n.Path, n.Body, string(fm), extraText(n.Frontmatter),
		n.Stats.Size, n.Stats.Modified.UTC().Format(time.RFC3339))
	return err
}

// extraText flattens a note's frontmatter strings into one searchable
// blob for the extra full-text column. Scalar strings and string array
// elements count; the id, type, status and name fields are covered by
// other columns or are not prose, so they are skipped. Keys are sorted
// so the blob is deterministic.
func extraText(fm map[string]any) string {
	if len(fm) == 0 {
		return ""
	}
	keys := make([]string, 0, len(fm))
	for k := range fm {
		switch k {
		case "id", "type", "status", "name":
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var parts []string
	for _, k := range keys {
		switch v := fm[k].(type) {
		case string:
			if v != "" {
				parts = append(parts, v)
			}
		case []any:
			for _, el := range v {
				if s, ok := el.(string); ok && s != "" {
					parts = append(parts, s)
				}
			}
		case []string:
			for _, s := range v {
				if s != "" {
					parts = append(parts, s)
				}
			}
		}
	}
	return strings.Join(parts, " ")
}

// DeleteNode removes a node and every edge touching it.
func (s *Store) DeleteNode(ctx context.Context, id string) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM edges WHERE source_id = ? OR target_id = ?`, id, id); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, `DELETE FROM nodes WHERE id = ?`, id)
		return err
	})
}

// InsertEdge inserts an edge; a duplicate triple is replaced.
func (s *Store) InsertEdge(ctx context.Context, e *graph.Edge) error {
	props := "{}"
	if len(e.Properties) > 0 {
		raw, err := json.Marshal(e.Properties)
		if err != nil {
			return fmt.Errorf("encode edge properties: %w", err)
		}
		props = string(raw)
	}
	return s.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO edges (source_id, target_id, type_id, origin_id, properties)
			VALUES (?, ?, ?, ?, ?)
			ON CONFLICT (source_id, target_id, type_id) DO UPDATE SET
				origin_id = excluded.origin_id,
				properties = excluded.properties`,
			e.Source, e.Target, e.Type, e.Origin, props)
		return err
	})
}

// DeleteEdge removes one edge by its triple.
func (s *Store) DeleteEdge(ctx context.Context, source, target, typeID string) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx,
			`DELETE FROM edges WHERE source_id = ? AND target_id = ? AND type_id = ?`,
			source, target, typeID)
		return err
	})
}

// DeleteEdgesByOrigin removes every edge derived from the given note.
func (s *Store) DeleteEdgesByOrigin(ctx context.Context, origin string) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `DELETE FROM edges WHERE origin_id = ?`, origin)
		return err
	})
}

const nodeColumns = `id, type, status, title, path, body, frontmatter, size_bytes, modified_at`

func scanNode(row interface{ Scan(...any) error }) (*graph.Node, error) {
	var n graph.Node
	var fm, modified string
	if err := row.Scan(&n.ID, &n.Type, &n.Status, &n.Title, &n.Path, &n.Body,
		&fm, &n.Stats.Size, &modified); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(fm), &n.Frontmatter); err != nil {
		return nil, fmt.Errorf("decode frontmatter for %q: %w", n.ID, err)
	}
	if t, err := time.Parse(time.RFC3339, modified); err == nil {
		n.Stats.Modified = t
	}
	return &n, nil
}

// GetNode fetches one node by id.
func (s *Store) GetNode(ctx context.Context, id string) (*graph.Node, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	row := s.db.QueryRowContext(ctx,
		`SELECT `+nodeColumns+` FROM nodes WHERE id = ?`, id)
	n, err := scanNode(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return n, err
}

// ListFilter narrows ListNodes results. Fields compare against frontmatter
// values via json_extract, so numbers and booleans match their JSON forms.
type ListFilter struct {
	Type   string
	Status string
	Fields map[string]string
}

// ListNodes returns nodes matching the filter ordered by title, plus the
// total match count before limit/offset.
func (s *Store) ListNodes(ctx context.Context, f ListFilter, limit, offset int) ([]*graph.Node, int, error) {
	if err := s.checkOpen(); err != nil {
		return nil, 0, err
	}

	where := []string{"1=1"}
	var args []any
	if f.Type != "" {
		where = append(where, "type = ?")
		args = append(args, f.Type)
	}
	if f.Status != "" {
		where = append(where, "status = ?")
		args = append(args, f.Status)
	}
	for field, value := range f.Fields {
		where = append(where, "CAST(json_extract(frontmatter, ?) AS TEXT) = ?")
		args = append(args, "$."+field, value)
	}
	cond := strings.Join(where, " AND ")

	var total int
	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM nodes WHERE `+cond, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := `SELECT ` + nodeColumns + ` FROM nodes WHERE ` + cond +
		` ORDER BY title, id LIMIT ? OFFSET ?`
	rows, err := s.db.QueryContext(ctx, query, append(args, limit, offset)...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close() //nolint:errcheck

	var out []*graph.Node
	for rows.Next() {
		n, err := scanNode(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, n)
	}
	return out, total, rows.Err()
}

// GetRelationships returns every edge with id as source or target, ordered
// by type then endpoints.
func (s *Store) GetRelationships(ctx context.Context, id string) ([]*graph.Edge, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT source_id, target_id, type_id, origin_id, properties
		FROM edges WHERE source_id = ? OR target_id = ?
		ORDER BY type_id, source_id, target_id`, id, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close() //nolint:errcheck

	var out []*graph.Edge
	for rows.Next() {
		var e graph.Edge
		var props string
		if err := rows.Scan(&e.Source, &e.Target, &e.Type, &e.Origin, &props); err != nil {
			return nil, err
		}
		if props != "" && props != "{}" {
			if err := json.Unmarshal([]byte(props), &e.Properties); err != nil {
				return nil, fmt.Errorf("decode edge properties: %w", err)
			}
		}
		out = append(out, &e)
	}
	return out, rows.Err()
}

// SearchHit is one full-text match. Score is BM25 relevance, higher is
// better.
type SearchHit struct {
	ID    string
	Score float64
}

// FullTextSearch runs a BM25-ranked query over titles, bodies and
// frontmatter text. An empty or whitespace-only query matches nothing.
// Returns nil when the index is disabled.
func (s *Store) FullTextSearch(ctx context.Context, query string, limit int) ([]SearchHit, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	if !s.fts {
		return nil, nil
	}
	match := buildMatchQuery(query)
	if match == "" {
		return nil, nil
	}
	if limit <= 0 {
		limit = 50
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT n.id, -bm25(notes_fts, 2.0, 1.0, 1.0) AS score
		FROM notes_fts
		JOIN nodes n ON n.rowid = notes_fts.rowid
		WHERE notes_fts MATCH ?
		ORDER BY score DESC, n.id
		LIMIT ?`, match, limit)
	if err != nil {
		return nil, fmt.Errorf("full-text query: %w", err)
	}
	defer rows.Close() //nolint:errcheck

	var out []SearchHit
	for rows.Next() {
		var h SearchHit
		if err := rows.Scan(&h.ID, &h.Score); err != nil {
			return nil, err
		}
		out = append(out, h)
	}
	return out, rows.Err()
}

// buildMatchQuery turns free text into an FTS5 MATCH expression. Each term
// is quoted so user input cannot inject FTS syntax.
func buildMatchQuery(query string) string {
	terms := strings.Fields(query)
	if len(terms) == 0 {
		return ""
	}
	quoted := make([]string, 0, len(terms))
	for _, t := range terms {
		quoted = append(quoted, `"`+strings.ReplaceAll(t, `"`, `""`)+`"`)
	}
	return strings.Join(quoted, " ")
}

// Stats summarizes the stored graph.
type Stats struct {
	Nodes       int            `json:"nodes"`
	Edges       int            `json:"edges"`
	NodesByType map[string]int `json:"nodesByType"`
	EdgesByType map[string]int `json:"edgesByType"`
}

// GetStats counts nodes and edges, broken down by type.
func (s *Store) GetStats(ctx context.Context) (*Stats, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	st := &Stats{NodesByType: map[string]int{}, EdgesByType: map[string]int{}}

	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM nodes`).Scan(&st.Nodes); err != nil {
		return nil, err
	}
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM edges`).Scan(&st.Edges); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `SELECT type, COUNT(*) FROM nodes GROUP BY type`)
	if err != nil {
		return nil, err
	}
	defer rows.Close() //nolint:errcheck
	for rows.Next() {
		var typ string
		var count int
		if err := rows.Scan(&typ, &count); err != nil {
			return nil, err
		}
		st.NodesByType[typ] = count
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	erows, err := s.db.QueryContext(ctx, `SELECT type_id, COUNT(*) FROM edges GROUP BY type_id`)
	if err != nil {
		return nil, err
	}
	defer erows.Close() //nolint:errcheck
	for erows.Next() {
		var typ string
		var count int
		if err := erows.Scan(&typ, &count); err != nil {
			return nil, err
		}
		st.EdgesByType[typ] = count
	}
	return st, erows.Err()
}

// Clear empties every table; used before a full rebuild.
func (s *Store) Clear(ctx context.Context) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM edges`); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, `DELETE FROM nodes`)
		return err
	})
}
