package services

import (
	"context"
	"fmt"
	"strings"

	"github.com/spoolhq/content-service/internal/clients/openai"
	"github.com/spoolhq/content-service/internal/domain"
	"github.com/spoolhq/content-service/internal/platform/logger"
	"github.com/spoolhq/content-service/internal/vector"
)

// SearchService embeds the query text and runs it against the vector
// index.
type SearchService struct {
	embedder openai.Client
	vectors  *vector.Store
	log      *logger.Logger
}

func NewSearchService(embedder openai.Client, vectors *vector.Store, log *logger.Logger) *SearchService {
	return &SearchService{
		embedder: embedder,
		vectors:  vectors,
		log:      log.With("service", "SearchService"),
	}
}

func (s *SearchService) Search(ctx context.Context, query string, topK int, bookID, subject, contentType string) ([]domain.SearchResult, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, fmt.Errorf("search: query required")
	}
	if topK <= 0 {
		topK = 10
	}
	if topK > 50 {
		topK = 50
	}
	if contentType != "" && !domain.ContentType(contentType).Valid() {
		return nil, fmt.Errorf("search: unknown content type %q", contentType)
	}

	vecs, err := s.embedder.Embed(ctx, []string{query})
	if err != nil {
		return nil, fmt.Errorf("search: embed query: %w", err)
	}
	if len(vecs) != 1 {
		return nil, fmt.Errorf("search: embed query returned %d vectors", len(vecs))
	}
	return s.vectors.Search(ctx, vecs[0], topK, bookID, subject, contentType)
}
