package persist

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/spoolhq/content-service/internal/domain"
	"github.com/spoolhq/content-service/internal/graph"
	"github.com/spoolhq/content-service/internal/ingest/embed"
	"github.com/spoolhq/content-service/internal/platform/logger"
	"github.com/spoolhq/content-service/internal/vector"
)

type fakeGraph struct {
	ops *[]string

	treeFailures int
	edgeFailures int

	conceptIDs []string
	concepts   []graph.ConceptRecord
}

func (f *fakeGraph) UpsertBookTree(_ context.Context, _ *domain.Book) error {
	*f.ops = append(*f.ops, "nodes")
	if f.treeFailures > 0 {
		f.treeFailures--
		return &domain.GraphWriteError{Step: "nodes", Err: errors.New("neo4j down")}
	}
	return nil
}

func (f *fakeGraph) UpsertEdges(_ context.Context, _ []domain.Edge) error {
	*f.ops = append(*f.ops, "edges")
	if f.edgeFailures > 0 {
		f.edgeFailures--
		return &domain.GraphWriteError{Step: "edges", Err: errors.New("neo4j down")}
	}
	return nil
}

func (f *fakeGraph) ListConceptIDs(_ context.Context, _ string) ([]string, error) {
	return f.conceptIDs, nil
}

func (f *fakeGraph) GetConcepts(_ context.Context, ids []string) ([]graph.ConceptRecord, error) {
	var out []graph.ConceptRecord
	for _, r := range f.concepts {
		for _, id := range ids {
			if r.ID == id {
				out = append(out, r)
			}
		}
	}
	return out, nil
}

type fakeVector struct {
	ops *[]string

	upsertFailures int
	conceptIDs     []string

	upserted []vector.Record
	deleted  []string
}

func (f *fakeVector) UpsertBook(_ context.Context, book *domain.Book) (int, error) {
	*f.ops = append(*f.ops, "vectors")
	if f.upsertFailures > 0 {
		f.upsertFailures--
		return 0, &domain.VectorWriteError{Err: errors.New("pinecone down")}
	}
	n := 0
	for _, c := range book.Concepts() {
		if len(c.Embedding) > 0 {
			n++
		}
	}
	return n, nil
}

func (f *fakeVector) UpsertRecords(_ context.Context, records []vector.Record) (int, error) {
	f.upserted = append(f.upserted, records...)
	return len(records), nil
}

func (f *fakeVector) ListConceptIDs(_ context.Context, _ string) ([]string, error) {
	return f.conceptIDs, nil
}

func (f *fakeVector) DeleteConcepts(_ context.Context, _ string, conceptIDs []string) error {
	f.deleted = append(f.deleted, conceptIDs...)
	return nil
}

type fakeEmbedder struct{ dim int }

func (f *fakeEmbedder) EmbedConcepts(_ context.Context, concepts []*domain.Concept) (*embed.Result, error) {
	for _, c := range concepts {
		c.Embedding = make([]float32, f.dim)
	}
	return &embed.Result{Embedded: len(concepts)}, nil
}

func testBook(embedded int) *domain.Book {
	book := &domain.Book{ID: uuid.New(), Title: "T"}
	ch := &domain.Chapter{ID: uuid.New(), BookID: book.ID, Number: 1, Title: "C"}
	sec := &domain.Section{ID: uuid.New(), ChapterID: ch.ID, Title: "S"}
	for i := 0; i < 3; i++ {
		c := &domain.Concept{ID: uuid.New(), SectionID: sec.ID, Name: "n", Content: "c", Type: domain.ContentExplanation}
		if i < embedded {
			c.Embedding = []float32{1, 2}
		}
		sec.Concepts = append(sec.Concepts, c)
	}
	ch.Sections = []*domain.Section{sec}
	book.Chapters = []*domain.Chapter{ch}
	return book
}

func newFakes() (*fakeGraph, *fakeVector, *[]string) {
	ops := &[]string{}
	return &fakeGraph{ops: ops}, &fakeVector{ops: ops}, ops
}

func testCoordinator(g GraphStore, v VectorStore, e Embedder) *Coordinator {
	return NewCoordinator(g, v, e, Config{MaxRetries: 3, BaseDelay: time.Millisecond}, logger.NewNop())
}

func TestPersistBookRunsStepsInOrder(t *testing.T) {
	g, v, ops := newFakes()
	c := testCoordinator(g, v, &fakeEmbedder{dim: 2})

	edges := []domain.Edge{{FromID: uuid.New(), ToID: uuid.New(), Type: domain.EdgePrerequisite}}
	stats, err := c.PersistBook(context.Background(), testBook(2), edges)
	if err != nil {
		t.Fatalf("persist: %v", err)
	}
	want := []string{"nodes", "vectors", "edges"}
	if len(*ops) != len(want) {
		t.Fatalf("step order: want=%v got=%v", want, *ops)
	}
	for i, op := range want {
		if (*ops)[i] != op {
			t.Fatalf("step order: want=%v got=%v", want, *ops)
		}
	}
	if stats.NodesWritten != 3 || stats.VectorsWritten != 2 || stats.EdgesWritten != 1 {
		t.Fatalf("stats: %+v", stats)
	}
	if stats.Retries != 0 {
		t.Fatalf("retries: %d", stats.Retries)
	}
}

func TestPersistBookRetriesFailedStep(t *testing.T) {
	g, v, _ := newFakes()
	g.treeFailures = 2
	c := testCoordinator(g, v, &fakeEmbedder{dim: 2})

	stats, err := c.PersistBook(context.Background(), testBook(1), nil)
	if err != nil {
		t.Fatalf("persist after retries: %v", err)
	}
	if stats.Retries != 2 {
		t.Fatalf("retries: want=2 got=%d", stats.Retries)
	}
}

func TestPersistBookFailureIsForwardOnly(t *testing.T) {
	// Vector step fails permanently. The graph nodes stay written and
	// the edge step never runs; a later replay converges instead of a
	// rollback.
	g, v, ops := newFakes()
	v.upsertFailures = 10
	c := testCoordinator(g, v, &fakeEmbedder{dim: 2})

	stats, err := c.PersistBook(context.Background(), testBook(2), []domain.Edge{{Type: domain.EdgeRelatedTo}})
	var verr *domain.VectorWriteError
	if !errors.As(err, &verr) {
		t.Fatalf("expected VectorWriteError, got %v", err)
	}
	if got := *ops; len(got) == 0 || got[len(got)-1] == "edges" {
		t.Fatalf("edges must not run after a failed vector step: %v", got)
	}
	if stats.NodesWritten != 3 {
		t.Fatalf("nodes written before failure: %+v", stats)
	}
	if stats.EdgesWritten != 0 {
		t.Fatalf("edges must not be written after a failed step")
	}
}

func TestPersistBookEdgeFailureKeepsNodesAndVectors(t *testing.T) {
	// Only the final edge step fails. Everything written before it stays
	// written and the error names the failed step.
	g, v, ops := newFakes()
	g.edgeFailures = 10
	c := testCoordinator(g, v, &fakeEmbedder{dim: 2})

	edges := []domain.Edge{{FromID: uuid.New(), ToID: uuid.New(), Type: domain.EdgePrerequisite}}
	stats, err := c.PersistBook(context.Background(), testBook(2), edges)
	var gerr *domain.GraphWriteError
	if !errors.As(err, &gerr) {
		t.Fatalf("expected GraphWriteError, got %v", err)
	}
	if gerr.Step != "edges" {
		t.Fatalf("failed step: want=edges got=%s", gerr.Step)
	}
	if stats.NodesWritten != 3 || stats.VectorsWritten != 2 {
		t.Fatalf("earlier steps must stay written: %+v", stats)
	}
	if stats.EdgesWritten != 0 {
		t.Fatalf("edges written despite failure: %+v", stats)
	}
	if got := *ops; got[0] != "nodes" || got[1] != "vectors" {
		t.Fatalf("step order before edge failure: %v", got)
	}
}

func TestReconcileInSync(t *testing.T) {
	g, v, _ := newFakes()
	g.conceptIDs = []string{"a", "b"}
	v.conceptIDs = []string{"b", "a"}
	c := testCoordinator(g, v, &fakeEmbedder{dim: 2})

	report, err := c.Reconcile(context.Background(), "book-1")
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if !report.InSync {
		t.Fatalf("expected in sync: %+v", report)
	}
	if len(v.deleted) != 0 || len(v.upserted) != 0 {
		t.Fatalf("in-sync reconcile must not write")
	}
}

func TestReconcileRepairsBothDirections(t *testing.T) {
	missingID := uuid.New().String()
	g, v, _ := newFakes()
	g.conceptIDs = []string{"keep", missingID}
	g.concepts = []graph.ConceptRecord{
		{ID: missingID, Name: "N", Content: "C", Type: "explanation", BookID: "book-1", BookTitle: "T"},
	}
	v.conceptIDs = []string{"keep", "orphan"}
	c := testCoordinator(g, v, &fakeEmbedder{dim: 2})

	report, err := c.Reconcile(context.Background(), "book-1")
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if len(report.MissingVectors) != 1 || report.MissingVectors[0] != missingID {
		t.Fatalf("missing: %v", report.MissingVectors)
	}
	if len(report.OrphanVectors) != 1 || report.OrphanVectors[0] != "orphan" {
		t.Fatalf("orphans: %v", report.OrphanVectors)
	}
	if len(v.deleted) != 1 || v.deleted[0] != "orphan" {
		t.Fatalf("deleted: %v", v.deleted)
	}
	if len(v.upserted) != 1 || v.upserted[0].ConceptID != missingID {
		t.Fatalf("upserted: %+v", v.upserted)
	}
	if len(v.upserted[0].Embedding) != 2 {
		t.Fatalf("repaired record missing embedding")
	}
	if !report.InSync {
		t.Fatalf("repair must leave the stores in sync: %+v", report)
	}
}
