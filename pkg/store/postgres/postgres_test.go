package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/neurocore/chapterforge/pkg/chapter"
	"github.com/neurocore/chapterforge/pkg/ingestion"
)

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return New(db), mock
}

func TestStore_GetChapter_NotFound(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT id, owner_id, current_stage, terminal, version, title, body FROM chapters WHERE id = $1")).
		WithArgs("missing").
		WillReturnError(sql.ErrNoRows)

	got, err := s.GetChapter(context.Background(), "missing")
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if got != nil {
		t.Fatalf("expected nil chapter, got %+v", got)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestStore_GetChapter_RoundTrips(t *testing.T) {
	s, mock := newMockStore(t)

	ch := &chapter.Chapter{
		ID:           "ch-1",
		OwnerID:      "owner-1",
		CurrentStage: chapter.StageFinalize,
		Terminal:     true,
		Version:      1,
		Title:        "Femoral Anatomy",
	}
	body, err := json.Marshal(ch)
	if err != nil {
		t.Fatal(err)
	}

	rows := sqlmock.NewRows([]string{"id", "owner_id", "current_stage", "terminal", "version", "title", "body"}).
		AddRow(ch.ID, ch.OwnerID, string(ch.CurrentStage), ch.Terminal, ch.Version, ch.Title, body)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT id, owner_id, current_stage, terminal, version, title, body FROM chapters WHERE id = $1")).
		WithArgs("ch-1").
		WillReturnRows(rows)

	got, err := s.GetChapter(context.Background(), "ch-1")
	if err != nil {
		t.Fatalf("GetChapter: %v", err)
	}
	if got.ID != "ch-1" || got.Title != "Femoral Anatomy" || !got.Terminal {
		t.Errorf("unexpected chapter: %+v", got)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestStore_SaveChapter_Upserts(t *testing.T) {
	s, mock := newMockStore(t)

	ch := &chapter.Chapter{
		ID:           "ch-1",
		OwnerID:      "owner-1",
		CurrentStage: chapter.StageInputValid,
		Title:        "Femoral Anatomy",
		UpdatedAt:    time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
	}

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO chapters")).
		WithArgs(ch.ID, ch.OwnerID, string(ch.CurrentStage), ch.Terminal, ch.Version, ch.Title, sqlmock.AnyArg(), ch.UpdatedAt).
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := s.SaveChapter(context.Background(), ch); err != nil {
		t.Fatalf("SaveChapter: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestStore_SaveVersionSnapshot(t *testing.T) {
	s, mock := newMockStore(t)

	snapshot := chapter.VersionSnapshot{
		ChapterID: "ch-1",
		Version:   1,
		Chapter:   &chapter.Chapter{ID: "ch-1"},
		CreatedAt: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
	}

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO chapter_versions")).
		WithArgs(snapshot.ChapterID, snapshot.Version, sqlmock.AnyArg(), snapshot.CreatedAt).
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := s.SaveVersionSnapshot(context.Background(), snapshot); err != nil {
		t.Fatalf("SaveVersionSnapshot: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestStore_SaveDocument_Upserts(t *testing.T) {
	s, mock := newMockStore(t)

	doc := &ingestion.Document{
		ID:     "doc-1",
		Status: ingestion.StatusComplete,
	}

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO documents")).
		WithArgs(doc.ID, sqlmock.AnyArg(), string(doc.Status), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := s.Save(context.Background(), doc); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestStore_ImageLookup_MapsDocumentImages(t *testing.T) {
	s, mock := newMockStore(t)

	doc := &ingestion.Document{
		ID: "doc-1",
		Images: []ingestion.Image{
			{ID: "img-1", Analysis: "a femoral artery cross-section"},
		},
	}
	body, err := json.Marshal(doc)
	if err != nil {
		t.Fatal(err)
	}

	mock.ExpectQuery(regexp.QuoteMeta("SELECT body FROM documents WHERE id = $1")).
		WithArgs("doc-1").
		WillReturnRows(sqlmock.NewRows([]string{"body"}).AddRow(body))

	refs, err := s.ImageLookup(context.Background(), "doc-1")
	if err != nil {
		t.Fatalf("ImageLookup: %v", err)
	}
	if len(refs) != 1 || refs[0].ID != "img-1" || refs[0].SourceDocID != "doc-1" {
		t.Errorf("unexpected refs: %+v", refs)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestStore_ImageLookup_NilWhenDocumentMissing(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT body FROM documents WHERE id = $1")).
		WithArgs("missing").
		WillReturnError(sql.ErrNoRows)

	refs, err := s.ImageLookup(context.Background(), "missing")
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if refs != nil {
		t.Errorf("expected nil refs, got %+v", refs)
	}
}
