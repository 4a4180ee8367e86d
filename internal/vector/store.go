package vector

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/spoolhq/content-service/internal/clients/pinecone"
	"github.com/spoolhq/content-service/internal/domain"
	"github.com/spoolhq/content-service/internal/platform/logger"
)

const upsertBatchSize = 100

// VectorID builds the composite id "bookID:conceptID". The book-id
// prefix is what makes per-book listing possible, so reconciliation can
// enumerate one book's vectors without touching the rest of the index.
func VectorID(bookID, conceptID string) string {
	return bookID + ":" + conceptID
}

// SplitVectorID returns the concept id from a composite vector id. The
// second return is false for ids that do not carry the prefix scheme.
func SplitVectorID(id string) (conceptID string, ok bool) {
	i := strings.IndexByte(id, ':')
	if i <= 0 || i == len(id)-1 {
		return "", false
	}
	return id[i+1:], true
}

// Record is one concept payload headed for the index.
type Record struct {
	ConceptID    string
	Name         string
	Content      string
	Type         string
	BookID       string
	BookTitle    string
	Subject      string
	ChapterTitle string
	SectionTitle string
	Embedding    []float32
}

// Store is the vector-side half of the dual-store persistence model.
// Upserts are idempotent by vector id.
type Store struct {
	client    pinecone.Client
	indexName string
	namespace string
	log       *logger.Logger

	mu   sync.Mutex
	host string
}

func NewStore(client pinecone.Client, indexName, namespace string, log *logger.Logger) *Store {
	return &Store{
		client:    client,
		indexName: indexName,
		namespace: namespace,
		log:       log.With("store", "vector"),
	}
}

// resolveHost caches the data-plane host from the control plane. The
// host is stable for the life of an index.
func (s *Store) resolveHost(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.host != "" {
		return s.host, nil
	}
	desc, err := s.client.DescribeIndex(ctx, s.indexName)
	if err != nil {
		return "", err
	}
	s.host = desc.Host
	return s.host, nil
}

func (s *Store) Ping(ctx context.Context) error {
	_, err := s.resolveHost(ctx)
	return err
}

// UpsertBook writes every embedded concept of the book. Concepts with a
// nil embedding are skipped; the caller accounts for them separately.
func (s *Store) UpsertBook(ctx context.Context, book *domain.Book) (int, error) {
	var records []Record
	for _, ch := range book.Chapters {
		for _, sec := range ch.Sections {
			for _, c := range sec.Concepts {
				if len(c.Embedding) == 0 {
					continue
				}
				records = append(records, Record{
					ConceptID:    c.ID.String(),
					Name:         c.Name,
					Content:      c.Content,
					Type:         string(c.Type),
					BookID:       book.ID.String(),
					BookTitle:    book.Title,
					Subject:      book.Subject,
					ChapterTitle: ch.Title,
					SectionTitle: sec.Title,
					Embedding:    c.Embedding,
				})
			}
		}
	}
	return s.UpsertRecords(ctx, records)
}

// UpsertRecords writes records in batches of at most 100 vectors, the
// index service's per-request limit.
func (s *Store) UpsertRecords(ctx context.Context, records []Record) (int, error) {
	if len(records) == 0 {
		return 0, nil
	}
	host, err := s.resolveHost(ctx)
	if err != nil {
		return 0, &domain.VectorWriteError{Err: err}
	}

	written := 0
	for start := 0; start < len(records); start += upsertBatchSize {
		end := start + upsertBatchSize
		if end > len(records) {
			end = len(records)
		}
		vectors := make([]pinecone.Vector, 0, end-start)
		for _, r := range records[start:end] {
			vectors = append(vectors, pinecone.Vector{
				ID:     VectorID(r.BookID, r.ConceptID),
				Values: r.Embedding,
				Metadata: map[string]any{
					"concept_id":    r.ConceptID,
					"name":          r.Name,
					"content":       r.Content,
					"type":          r.Type,
					"book_id":       r.BookID,
					"book_title":    r.BookTitle,
					"subject":       r.Subject,
					"chapter_title": r.ChapterTitle,
					"section_title": r.SectionTitle,
				},
			})
		}
		if _, err := s.client.UpsertVectors(ctx, host, pinecone.UpsertRequest{
			Vectors:   vectors,
			Namespace: s.namespace,
		}); err != nil {
			return written, &domain.VectorWriteError{Err: err}
		}
		written += len(vectors)
	}
	return written, nil
}

// Search runs a semantic query. bookID, subject, and contentType narrow
// the result by metadata filter when non-empty.
func (s *Store) Search(ctx context.Context, embedding []float32, topK int, bookID, subject, contentType string) ([]domain.SearchResult, error) {
	host, err := s.resolveHost(ctx)
	if err != nil {
		return nil, err
	}

	filter := map[string]any{}
	if bookID != "" {
		filter["book_id"] = map[string]any{"$eq": bookID}
	}
	if subject != "" {
		filter["subject"] = map[string]any{"$eq": subject}
	}
	if contentType != "" {
		filter["type"] = map[string]any{"$eq": contentType}
	}
	if len(filter) == 0 {
		filter = nil
	}

	resp, err := s.client.Query(ctx, host, pinecone.QueryRequest{
		Namespace:       s.namespace,
		Vector:          embedding,
		TopK:            topK,
		Filter:          filter,
		IncludeMetadata: true,
	})
	if err != nil {
		return nil, fmt.Errorf("vector: query: %w", err)
	}

	out := make([]domain.SearchResult, 0, len(resp.Matches))
	for _, m := range resp.Matches {
		md := m.Metadata
		conceptID, _ := md["concept_id"].(string)
		if conceptID == "" {
			if cid, ok := SplitVectorID(m.ID); ok {
				conceptID = cid
			}
		}
		out = append(out, domain.SearchResult{
			ConceptID:    conceptID,
			Name:         str(md, "name"),
			Content:      str(md, "content"),
			Type:         domain.ParseContentType(str(md, "type")),
			Score:        m.Score,
			BookID:       str(md, "book_id"),
			BookTitle:    str(md, "book_title"),
			Subject:      str(md, "subject"),
			ChapterTitle: str(md, "chapter_title"),
			SectionTitle: str(md, "section_title"),
		})
	}
	return out, nil
}

// ListConceptIDs enumerates the concept ids stored for one book by
// paging the id-prefix listing to exhaustion.
func (s *Store) ListConceptIDs(ctx context.Context, bookID string) ([]string, error) {
	host, err := s.resolveHost(ctx)
	if err != nil {
		return nil, err
	}

	var ids []string
	token := ""
	for {
		resp, err := s.client.ListVectorIDs(ctx, host, pinecone.ListRequest{
			Namespace:       s.namespace,
			Prefix:          bookID + ":",
			Limit:           100,
			PaginationToken: token,
		})
		if err != nil {
			return nil, fmt.Errorf("vector: list ids: %w", err)
		}
		for _, v := range resp.Vectors {
			if cid, ok := SplitVectorID(v.ID); ok {
				ids = append(ids, cid)
			}
		}
		token = resp.Pagination.Next
		if token == "" {
			return ids, nil
		}
	}
}

// DeleteConcepts removes the given concepts of one book from the index.
func (s *Store) DeleteConcepts(ctx context.Context, bookID string, conceptIDs []string) error {
	if len(conceptIDs) == 0 {
		return nil
	}
	host, err := s.resolveHost(ctx)
	if err != nil {
		return &domain.VectorWriteError{Err: err}
	}
	ids := make([]string, 0, len(conceptIDs))
	for _, cid := range conceptIDs {
		ids = append(ids, VectorID(bookID, cid))
	}
	for start := 0; start < len(ids); start += upsertBatchSize {
		end := start + upsertBatchSize
		if end > len(ids) {
			end = len(ids)
		}
		if err := s.client.DeleteVectors(ctx, host, pinecone.DeleteRequest{
			IDs:       ids[start:end],
			Namespace: s.namespace,
		}); err != nil {
			return &domain.VectorWriteError{Err: err}
		}
	}
	return nil
}

// DeleteBook removes every vector carrying the book's id prefix.
func (s *Store) DeleteBook(ctx context.Context, bookID string) error {
	ids, err := s.ListConceptIDs(ctx, bookID)
	if err != nil {
		return err
	}
	return s.DeleteConcepts(ctx, bookID, ids)
}

func str(md map[string]any, key string) string {
	if md == nil {
		return ""
	}
	v, _ := md[key].(string)
	return v
}
