package persist

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/spoolhq/content-service/internal/domain"
	"github.com/spoolhq/content-service/internal/graph"
	"github.com/spoolhq/content-service/internal/ingest/embed"
	"github.com/spoolhq/content-service/internal/platform/httpx"
	"github.com/spoolhq/content-service/internal/platform/logger"
	"github.com/spoolhq/content-service/internal/vector"
)

// GraphStore is the graph side of dual-store persistence.
type GraphStore interface {
	UpsertBookTree(ctx context.Context, book *domain.Book) error
	UpsertEdges(ctx context.Context, edges []domain.Edge) error
	ListConceptIDs(ctx context.Context, bookID string) ([]string, error)
	GetConcepts(ctx context.Context, ids []string) ([]graph.ConceptRecord, error)
}

// VectorStore is the vector side of dual-store persistence.
type VectorStore interface {
	UpsertBook(ctx context.Context, book *domain.Book) (int, error)
	UpsertRecords(ctx context.Context, records []vector.Record) (int, error)
	ListConceptIDs(ctx context.Context, bookID string) ([]string, error)
	DeleteConcepts(ctx context.Context, bookID string, conceptIDs []string) error
}

// Embedder re-embeds concepts during reconciliation repair.
type Embedder interface {
	EmbedConcepts(ctx context.Context, concepts []*domain.Concept) (*embed.Result, error)
}

type Config struct {
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
}

// Stats counts what one persistence pass actually wrote.
type Stats struct {
	NodesWritten   int
	VectorsWritten int
	EdgesWritten   int
	Retries        int
}

// Coordinator drives the dual-store write protocol: graph nodes first,
// then vectors, then graph edges. Each step is idempotent and retried in
// place; a step that exhausts its retries fails the pass without rolling
// back earlier steps, because a replay converges on the same state.
type Coordinator struct {
	graph  GraphStore
	vector VectorStore
	embed  Embedder
	cfg    Config
	log    *logger.Logger
}

func NewCoordinator(g GraphStore, v VectorStore, e Embedder, cfg Config, log *logger.Logger) *Coordinator {
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = 2 * time.Second
	}
	return &Coordinator{graph: g, vector: v, embed: e, cfg: cfg, log: log}
}

// PersistBook writes the book and its edges through the three-step
// protocol. On error the returned stats still reflect the steps that
// completed.
func (c *Coordinator) PersistBook(ctx context.Context, book *domain.Book, edges []domain.Edge) (Stats, error) {
	var stats Stats

	err := c.retry(ctx, "graph nodes", &stats, func() error {
		return c.graph.UpsertBookTree(ctx, book)
	})
	if err != nil {
		return stats, err
	}
	stats.NodesWritten = len(book.Concepts())

	err = c.retry(ctx, "vectors", &stats, func() error {
		n, uerr := c.vector.UpsertBook(ctx, book)
		if uerr != nil {
			return uerr
		}
		stats.VectorsWritten = n
		return nil
	})
	if err != nil {
		return stats, err
	}

	err = c.retry(ctx, "graph edges", &stats, func() error {
		return c.graph.UpsertEdges(ctx, edges)
	})
	if err != nil {
		return stats, err
	}
	stats.EdgesWritten = len(edges)
	return stats, nil
}

// retry runs fn up to MaxRetries times with exponential backoff. The
// final error carries through unwrapped so callers can classify it.
func (c *Coordinator) retry(ctx context.Context, step string, stats *Stats, fn func() error) error {
	var lastErr error
	for attempt := 0; attempt < c.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			stats.Retries++
			delay := httpx.JitterSleep(httpx.Backoff(c.cfg.BaseDelay, attempt-1, c.cfg.MaxDelay))
			if err := httpx.SleepCtx(ctx, delay); err != nil {
				return err
			}
		}
		lastErr = fn()
		if lastErr == nil {
			return nil
		}
		if ctx.Err() != nil {
			return lastErr
		}
		c.log.Warn("persistence step failed", "step", step, "attempt", attempt+1, "error", lastErr)
	}
	return lastErr
}

// ReconcileReport is the outcome of one reconciliation pass.
type ReconcileReport struct {
	BookID         string   `json:"book_id"`
	GraphConcepts  int      `json:"graph_concepts"`
	VectorConcepts int      `json:"vector_concepts"`
	MissingVectors []string `json:"missing_vectors,omitempty"`
	OrphanVectors  []string `json:"orphan_vectors,omitempty"`
	Repaired       int      `json:"repaired"`
	Deleted        int      `json:"deleted"`
	InSync         bool     `json:"in_sync"`
}

// Reconcile diffs the two stores for one book and repairs the
// difference: orphan vectors are deleted, and concepts missing their
// vector are re-embedded from graph-stored content and upserted. The
// graph is the source of truth.
func (c *Coordinator) Reconcile(ctx context.Context, bookID string) (*ReconcileReport, error) {
	graphIDs, err := c.graph.ListConceptIDs(ctx, bookID)
	if err != nil {
		return nil, err
	}
	vectorIDs, err := c.vector.ListConceptIDs(ctx, bookID)
	if err != nil {
		return nil, err
	}

	inGraph := make(map[string]struct{}, len(graphIDs))
	for _, id := range graphIDs {
		inGraph[id] = struct{}{}
	}
	inVector := make(map[string]struct{}, len(vectorIDs))
	for _, id := range vectorIDs {
		inVector[id] = struct{}{}
	}

	report := &ReconcileReport{
		BookID:         bookID,
		GraphConcepts:  len(graphIDs),
		VectorConcepts: len(vectorIDs),
	}
	for _, id := range graphIDs {
		if _, ok := inVector[id]; !ok {
			report.MissingVectors = append(report.MissingVectors, id)
		}
	}
	for _, id := range vectorIDs {
		if _, ok := inGraph[id]; !ok {
			report.OrphanVectors = append(report.OrphanVectors, id)
		}
	}
	if len(report.MissingVectors) == 0 && len(report.OrphanVectors) == 0 {
		report.InSync = true
		return report, nil
	}

	c.log.Warn("stores out of sync", "book_id", bookID,
		"missing_vectors", len(report.MissingVectors), "orphan_vectors", len(report.OrphanVectors))

	if len(report.OrphanVectors) > 0 {
		if err := c.vector.DeleteConcepts(ctx, bookID, report.OrphanVectors); err != nil {
			return report, err
		}
		report.Deleted = len(report.OrphanVectors)
	}

	if len(report.MissingVectors) > 0 {
		repaired, err := c.repairMissing(ctx, bookID, report.MissingVectors)
		if err != nil {
			return report, err
		}
		report.Repaired = repaired
	}

	report.InSync = report.Deleted == len(report.OrphanVectors) &&
		report.Repaired == len(report.MissingVectors)
	return report, nil
}

// repairMissing re-embeds graph concepts that lost their vectors and
// writes them back to the index.
func (c *Coordinator) repairMissing(ctx context.Context, bookID string, ids []string) (int, error) {
	recs, err := c.graph.GetConcepts(ctx, ids)
	if err != nil {
		return 0, err
	}

	concepts := make([]*domain.Concept, len(recs))
	for i, r := range recs {
		cid, perr := uuid.Parse(r.ID)
		if perr != nil {
			cid = uuid.New()
		}
		concepts[i] = &domain.Concept{
			ID:      cid,
			Name:    r.Name,
			Content: r.Content,
			Type:    domain.ParseContentType(r.Type),
		}
	}
	if _, err := c.embed.EmbedConcepts(ctx, concepts); err != nil {
		return 0, err
	}

	var records []vector.Record
	for i, r := range recs {
		if len(concepts[i].Embedding) == 0 {
			continue
		}
		records = append(records, vector.Record{
			ConceptID:    r.ID,
			Name:         r.Name,
			Content:      r.Content,
			Type:         r.Type,
			BookID:       bookID,
			BookTitle:    r.BookTitle,
			Subject:      r.Subject,
			ChapterTitle: r.ChapterTitle,
			SectionTitle: r.SectionTitle,
			Embedding:    concepts[i].Embedding,
		})
	}
	return c.vector.UpsertRecords(ctx, records)
}
