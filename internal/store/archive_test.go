package store

import (
	"context"
	"math"
	"path/filepath"
	"testing"
	"time"

	"arf/internal/philosophy"
)

func openTestArchive(t *testing.T) *Archive {
	t.Helper()
	a, err := Open(filepath.Join(t.TempDir(), "archive.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { a.Close() })
	return a
}

func sampleEvaluation(concept string, score float64, accepted bool) *philosophy.Evaluation {
	return &philosophy.Evaluation{
		Concept: concept,
		Ratings: philosophy.Ratings{
			Inevitability:    score,
			Symmetry:         score,
			Parsimony:        score,
			ExplanatoryPower: score,
		},
		Score:     score,
		Accepted:  accepted,
		Rationale: "test rationale",
		Model:     "gpt-4o",
		At:        time.Now(),
	}
}

func TestRecordAndRecent(t *testing.T) {
	a := openTestArchive(t)
	ctx := context.Background()

	if err := a.Record(ctx, sampleEvaluation("gauge symmetry", 0.85, true), "export1.json"); err != nil {
		t.Fatalf("Record: %v", err)
	}
	if err := a.Record(ctx, sampleEvaluation("numerology", 0.30, false), "export2.json"); err != nil {
		t.Fatalf("Record: %v", err)
	}

	entries, err := a.Recent(ctx, 10)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("got %d entries, want 2", len(entries))
	}
	// Newest first.
	if entries[0].Concept != "numerology" {
		t.Fatalf("entries[0]=%q", entries[0].Concept)
	}
	if entries[0].Accepted {
		t.Fatal("rejected concept stored as accepted")
	}
	if entries[1].Source != "export1.json" {
		t.Fatalf("source=%q", entries[1].Source)
	}
	if math.Abs(entries[1].Ratings.Symmetry-0.85) > 1e-9 {
		t.Fatalf("symmetry=%v", entries[1].Ratings.Symmetry)
	}
}

func TestRecentHonorsLimit(t *testing.T) {
	a := openTestArchive(t)
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		if err := a.Record(ctx, sampleEvaluation("c", 0.5, false), "s"); err != nil {
			t.Fatal(err)
		}
	}
	entries, err := a.Recent(ctx, 3)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 3 {
		t.Fatalf("got %d entries, want 3", len(entries))
	}
}

func TestAcceptedFiltersRejected(t *testing.T) {
	a := openTestArchive(t)
	ctx := context.Background()
	a.Record(ctx, sampleEvaluation("keep", 0.9, true), "s")
	a.Record(ctx, sampleEvaluation("drop", 0.2, false), "s")

	entries, err := a.Accepted(ctx)
	if err != nil {
		t.Fatalf("Accepted: %v", err)
	}
	if len(entries) != 1 || entries[0].Concept != "keep" {
		t.Fatalf("entries=%+v", entries)
	}
}

func TestSummary(t *testing.T) {
	a := openTestArchive(t)
	ctx := context.Background()

	empty, err := a.Summary(ctx)
	if err != nil {
		t.Fatalf("Summary on empty archive: %v", err)
	}
	if empty.Total != 0 || empty.MeanScore != 0 {
		t.Fatalf("empty summary: %+v", empty)
	}

	a.Record(ctx, sampleEvaluation("a", 0.8, true), "s")
	a.Record(ctx, sampleEvaluation("b", 0.4, false), "s")

	s, err := a.Summary(ctx)
	if err != nil {
		t.Fatalf("Summary: %v", err)
	}
	if s.Total != 2 || s.Accepted != 1 {
		t.Fatalf("summary: %+v", s)
	}
	if math.Abs(s.MeanScore-0.6) > 1e-9 {
		t.Fatalf("mean=%v", s.MeanScore)
	}
}

func TestOpenSurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "archive.db")
	a, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	if err := a.Record(context.Background(), sampleEvaluation("persist", 0.8, true), "s"); err != nil {
		t.Fatal(err)
	}
	a.Close()

	b, err := Open(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer b.Close()
	entries, err := b.Recent(context.Background(), 1)
	if err != nil || len(entries) != 1 {
		t.Fatalf("entries=%v err=%v", entries, err)
	}
	if entries[0].Concept != "persist" {
		t.Fatalf("concept=%q", entries[0].Concept)
	}
}
