// Copyright 2025 Kadir Pekel
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package postgres persists chapters, version snapshots, and ingested
// documents to PostgreSQL, implementing pkg/orchestrator.Store and
// pkg/ingestion.Store (spec.md §3, §6 "Persisted state layout").
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	"github.com/neurocore/chapterforge/pkg/chapter"
	"github.com/neurocore/chapterforge/pkg/ingestion"
)

// Schema creates the chapters, chapter_versions, documents and
// gap_analyses tables. Chunks and images have no tables of their own; a
// document's images are stored inside its body. EnsureSchema applies
// Schema; any further migration is left to the deployment's own tooling.
const Schema = `
CREATE TABLE IF NOT EXISTS chapters (
	id              TEXT PRIMARY KEY,
	owner_id        TEXT NOT NULL,
	current_stage   TEXT NOT NULL,
	terminal        BOOLEAN NOT NULL DEFAULT FALSE,
	version         INT NOT NULL DEFAULT 0,
	title           TEXT NOT NULL,
	body            JSONB NOT NULL,
	created_at      TIMESTAMPTZ NOT NULL,
	updated_at      TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS chapter_versions (
	chapter_id  TEXT NOT NULL,
	version     INT NOT NULL,
	body        JSONB NOT NULL,
	created_at  TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (chapter_id, version)
);

CREATE TABLE IF NOT EXISTS documents (
	id                 TEXT PRIMARY KEY,
	metadata           JSONB NOT NULL DEFAULT '{}',
	processing_status  TEXT NOT NULL,
	body               JSONB NOT NULL
);

CREATE TABLE IF NOT EXISTS gap_analyses (
	chapter_id  TEXT PRIMARY KEY,
	score       DOUBLE PRECISION NOT NULL,
	body        JSONB NOT NULL,
	created_at  TIMESTAMPTZ NOT NULL
);
`

// Store is the PostgreSQL-backed implementation of
// orchestrator.Store and ingestion.Store.
type Store struct {
	db *sqlx.DB
}

// New wraps an existing *sql.DB (typically produced by
// pkg/config.DBPool, which already applies spec.md §5's bounded-pool
// settings) as a sqlx.DB.
func New(db *sql.DB) *Store {
	return &Store{db: sqlx.NewDb(db, "postgres")}
}

// EnsureSchema creates the tables in Schema if they do not already
// exist.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, Schema); err != nil {
		return fmt.Errorf("postgres: ensure schema: %w", err)
	}
	return nil
}

type chapterRow struct {
	ID           string `db:"id"`
	OwnerID      string `db:"owner_id"`
	CurrentStage string `db:"current_stage"`
	Terminal     bool   `db:"terminal"`
	Version      int    `db:"version"`
	Title        string `db:"title"`
	Body         []byte `db:"body"`
}

// GetChapter loads a Chapter by id. Returns nil, nil if not found.
func (s *Store) GetChapter(ctx context.Context, id string) (*chapter.Chapter, error) {
	var row chapterRow
	err := s.db.GetContext(ctx, &row, `SELECT id, owner_id, current_stage, terminal, version, title, body FROM chapters WHERE id = $1`, id)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: get chapter %s: %w", id, err)
	}

	var ch chapter.Chapter
	if err := json.Unmarshal(row.Body, &ch); err != nil {
		return nil, fmt.Errorf("postgres: unmarshal chapter %s: %w", id, err)
	}
	return &ch, nil
}

// SaveChapter upserts a Chapter's full state in one statement, so
// current_stage and its stage payload land in the same transaction
// (spec.md §4.1 step 4, §5 "short transactions per stage write").
func (s *Store) SaveChapter(ctx context.Context, ch *chapter.Chapter) error {
	body, err := json.Marshal(ch)
	if err != nil {
		return fmt.Errorf("postgres: marshal chapter %s: %w", ch.ID, err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO chapters (id, owner_id, current_stage, terminal, version, title, body, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $8)
		ON CONFLICT (id) DO UPDATE SET
			current_stage = EXCLUDED.current_stage,
			terminal      = EXCLUDED.terminal,
			version       = EXCLUDED.version,
			title         = EXCLUDED.title,
			body          = EXCLUDED.body,
			updated_at    = EXCLUDED.updated_at
	`, ch.ID, ch.OwnerID, string(ch.CurrentStage), ch.Terminal, ch.Version, ch.Title, body, ch.UpdatedAt)
	if err != nil {
		return fmt.Errorf("postgres: save chapter %s: %w", ch.ID, err)
	}
	return nil
}

// SaveVersionSnapshot inserts an immutable version row.
func (s *Store) SaveVersionSnapshot(ctx context.Context, snapshot chapter.VersionSnapshot) error {
	body, err := json.Marshal(snapshot.Chapter)
	if err != nil {
		return fmt.Errorf("postgres: marshal version snapshot %s v%d: %w", snapshot.ChapterID, snapshot.Version, err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO chapter_versions (chapter_id, version, body, created_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (chapter_id, version) DO NOTHING
	`, snapshot.ChapterID, snapshot.Version, body, snapshot.CreatedAt)
	if err != nil {
		return fmt.Errorf("postgres: save version snapshot %s v%d: %w", snapshot.ChapterID, snapshot.Version, err)
	}
	return nil
}

// Save upserts a Document's full state, implementing ingestion.Store.
func (s *Store) Save(ctx context.Context, doc *ingestion.Document) error {
	body, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("postgres: marshal document %s: %w", doc.ID, err)
	}
	metadata, err := json.Marshal(doc.Metadata)
	if err != nil {
		return fmt.Errorf("postgres: marshal document %s metadata: %w", doc.ID, err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO documents (id, metadata, processing_status, body)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO UPDATE SET
			metadata          = EXCLUDED.metadata,
			processing_status = EXCLUDED.processing_status,
			body              = EXCLUDED.body
	`, doc.ID, metadata, string(doc.Status), body)
	if err != nil {
		return fmt.Errorf("postgres: save document %s: %w", doc.ID, err)
	}
	return nil
}

// GetDocument loads a Document by id. Returns nil, nil if not found.
func (s *Store) GetDocument(ctx context.Context, id string) (*ingestion.Document, error) {
	var body []byte
	err := s.db.GetContext(ctx, &body, `SELECT body FROM documents WHERE id = $1`, id)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: get document %s: %w", id, err)
	}

	var doc ingestion.Document
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil, fmt.Errorf("postgres: unmarshal document %s: %w", id, err)
	}
	return &doc, nil
}

// ImageLookup adapts GetDocument to orchestrator.ImageLookup, resolving
// the images attached to an ingested source document for stage
// image_integration (spec.md §4.5).
func (s *Store) ImageLookup(ctx context.Context, sourceDocID string) ([]chapter.ImageRef, error) {
	doc, err := s.GetDocument(ctx, sourceDocID)
	if err != nil {
		return nil, err
	}
	if doc == nil {
		return nil, nil
	}

	refs := make([]chapter.ImageRef, 0, len(doc.Images))
	for _, img := range doc.Images {
		refs = append(refs, chapter.ImageRef{
			ID:          img.ID,
			Description: img.Analysis,
			SourceDocID: doc.ID,
		})
	}
	return refs, nil
}
