package services

import (
	"context"
	"fmt"

	"github.com/spoolhq/content-service/internal/domain"
	"github.com/spoolhq/content-service/internal/graph"
	"github.com/spoolhq/content-service/internal/persist"
	"github.com/spoolhq/content-service/internal/platform/logger"
	"github.com/spoolhq/content-service/internal/vector"
)

// LibraryService owns read-side queries over processed books and the
// maintenance operations that span both stores.
type LibraryService struct {
	graph       *graph.Store
	vectors     *vector.Store
	coordinator *persist.Coordinator
	log         *logger.Logger
}

func NewLibraryService(g *graph.Store, v *vector.Store, c *persist.Coordinator, log *logger.Logger) *LibraryService {
	return &LibraryService{
		graph:       g,
		vectors:     v,
		coordinator: c,
		log:         log.With("service", "LibraryService"),
	}
}

func (s *LibraryService) ListBooks(ctx context.Context) ([]graph.BookSummary, error) {
	return s.graph.ListBooks(ctx)
}

func (s *LibraryService) GetBook(ctx context.Context, bookID string) (map[string]any, error) {
	return s.graph.GetBookTree(ctx, bookID)
}

func (s *LibraryService) ConceptGraph(ctx context.Context, conceptID string) (*domain.ConceptGraph, error) {
	return s.graph.ConceptGraph(ctx, conceptID)
}

func (s *LibraryService) LearningPath(ctx context.Context, fromID, toID string) (*domain.LearningPath, error) {
	if fromID == "" || toID == "" {
		return nil, fmt.Errorf("library: both concept ids required")
	}
	if fromID == toID {
		return &domain.LearningPath{FromConcept: fromID, ToConcept: toID}, nil
	}
	return s.graph.LearningPath(ctx, fromID, toID)
}

// Reconcile diffs and repairs the two stores for one book.
func (s *LibraryService) Reconcile(ctx context.Context, bookID string) (*persist.ReconcileReport, error) {
	report, err := s.coordinator.Reconcile(ctx, bookID)
	if err != nil {
		return report, err
	}
	if !report.InSync {
		s.log.Warn("reconciliation left residual mismatch", "book_id", bookID,
			"missing", len(report.MissingVectors), "orphans", len(report.OrphanVectors))
	}
	return report, nil
}

// DeleteBook removes the book from both stores. Vectors go first so a
// partial delete never leaves vectors whose graph concepts are gone; a
// later reconcile pass would miss them once the graph side is empty.
func (s *LibraryService) DeleteBook(ctx context.Context, bookID string) error {
	if err := s.vectors.DeleteBook(ctx, bookID); err != nil {
		return fmt.Errorf("library: delete vectors: %w", err)
	}
	if err := s.graph.DeleteBook(ctx, bookID); err != nil {
		return fmt.Errorf("library: delete graph subtree: %w", err)
	}
	s.log.Info("book deleted", "book_id", bookID)
	return nil
}
