package vector

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"

	"github.com/google/uuid"

	"github.com/spoolhq/content-service/internal/clients/pinecone"
	"github.com/spoolhq/content-service/internal/domain"
	"github.com/spoolhq/content-service/internal/platform/logger"
)

type fakePineconeClient struct {
	describeCalls int

	upserts []pinecone.UpsertRequest
	deletes []pinecone.DeleteRequest
	lists   []pinecone.ListRequest

	queryReq  *pinecone.QueryRequest
	queryResp *pinecone.QueryResponse

	// pages maps pagination token to the ids it serves; "" is the first page.
	pages map[string][]string
	next  map[string]string
}

func (f *fakePineconeClient) DescribeIndex(_ context.Context, indexName string) (*pinecone.IndexDescription, error) {
	f.describeCalls++
	return &pinecone.IndexDescription{Name: indexName, Host: "idx.test.pinecone.io"}, nil
}

func (f *fakePineconeClient) UpsertVectors(_ context.Context, _ string, req pinecone.UpsertRequest) (*pinecone.UpsertResponse, error) {
	f.upserts = append(f.upserts, req)
	return &pinecone.UpsertResponse{UpsertedCount: int64(len(req.Vectors))}, nil
}

func (f *fakePineconeClient) Query(_ context.Context, _ string, req pinecone.QueryRequest) (*pinecone.QueryResponse, error) {
	f.queryReq = &req
	if f.queryResp != nil {
		return f.queryResp, nil
	}
	return &pinecone.QueryResponse{}, nil
}

func (f *fakePineconeClient) FetchVectors(_ context.Context, _ string, _ string, _ []string) (*pinecone.FetchResponse, error) {
	return &pinecone.FetchResponse{}, nil
}

func (f *fakePineconeClient) ListVectorIDs(_ context.Context, _ string, req pinecone.ListRequest) (*pinecone.ListResponse, error) {
	f.lists = append(f.lists, req)

	page := struct {
		Vectors    []map[string]string `json:"vectors"`
		Pagination map[string]string   `json:"pagination"`
	}{}
	for _, id := range f.pages[req.PaginationToken] {
		page.Vectors = append(page.Vectors, map[string]string{"id": id})
	}
	if next := f.next[req.PaginationToken]; next != "" {
		page.Pagination = map[string]string{"next": next}
	}

	raw, err := json.Marshal(page)
	if err != nil {
		return nil, err
	}
	var resp pinecone.ListResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (f *fakePineconeClient) DeleteVectors(_ context.Context, _ string, req pinecone.DeleteRequest) error {
	f.deletes = append(f.deletes, req)
	return nil
}

func testStore(client pinecone.Client) *Store {
	return NewStore(client, "textbook-content", "default", logger.NewNop())
}

func TestVectorIDRoundtrip(t *testing.T) {
	id := VectorID("book-1", "concept-9")
	if id != "book-1:concept-9" {
		t.Fatalf("vector id: got=%q", id)
	}
	cid, ok := SplitVectorID(id)
	if !ok || cid != "concept-9" {
		t.Fatalf("split: want=concept-9 got=%q ok=%v", cid, ok)
	}
}

func TestSplitVectorIDRejectsMalformedIDs(t *testing.T) {
	for _, id := range []string{"", "noseparator", ":leading", "trailing:"} {
		if _, ok := SplitVectorID(id); ok {
			t.Fatalf("id %q must not split", id)
		}
	}
}

func TestUpsertBookSkipsUnembeddedConcepts(t *testing.T) {
	client := &fakePineconeClient{}
	s := testStore(client)

	book := &domain.Book{ID: uuid.New(), Title: "T"}
	ch := &domain.Chapter{ID: uuid.New(), Number: 1, Title: "Ch"}
	sec := &domain.Section{ID: uuid.New(), Title: "Sec"}
	embedded := &domain.Concept{ID: uuid.New(), Name: "a", Content: "a text", Type: domain.ContentExplanation, Embedding: []float32{1, 2}}
	skipped := &domain.Concept{ID: uuid.New(), Name: "b", Content: "b text", Type: domain.ContentDefinition}
	sec.Concepts = []*domain.Concept{embedded, skipped}
	ch.Sections = []*domain.Section{sec}
	book.Chapters = []*domain.Chapter{ch}

	n, err := s.UpsertBook(context.Background(), book)
	if err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if n != 1 {
		t.Fatalf("written: want=1 got=%d", n)
	}
	if len(client.upserts) != 1 || len(client.upserts[0].Vectors) != 1 {
		t.Fatalf("upsert requests: %+v", client.upserts)
	}
	v := client.upserts[0].Vectors[0]
	if v.ID != VectorID(book.ID.String(), embedded.ID.String()) {
		t.Fatalf("vector id: got=%q", v.ID)
	}
	if v.Metadata["chapter_title"] != "Ch" || v.Metadata["section_title"] != "Sec" || v.Metadata["type"] != "explanation" {
		t.Fatalf("metadata: %+v", v.Metadata)
	}
	if client.upserts[0].Namespace != "default" {
		t.Fatalf("namespace: got=%q", client.upserts[0].Namespace)
	}
}

func TestUpsertRecordsBatches(t *testing.T) {
	client := &fakePineconeClient{}
	s := testStore(client)

	records := make([]Record, 250)
	for i := range records {
		records[i] = Record{
			ConceptID: fmt.Sprintf("c%03d", i),
			BookID:    "book-1",
			Embedding: []float32{1},
		}
	}
	n, err := s.UpsertRecords(context.Background(), records)
	if err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if n != 250 {
		t.Fatalf("written: want=250 got=%d", n)
	}
	sizes := []int{}
	for _, u := range client.upserts {
		sizes = append(sizes, len(u.Vectors))
	}
	if len(sizes) != 3 || sizes[0] != 100 || sizes[1] != 100 || sizes[2] != 50 {
		t.Fatalf("batch sizes: %v", sizes)
	}
	if client.describeCalls != 1 {
		t.Fatalf("host must be resolved once, got %d describes", client.describeCalls)
	}
}

func TestListConceptIDsPaginates(t *testing.T) {
	client := &fakePineconeClient{
		pages: map[string][]string{
			"":   {"book-1:c1", "book-1:c2"},
			"p2": {"book-1:c3", "malformed"},
		},
		next: map[string]string{"": "p2"},
	}
	s := testStore(client)

	ids, err := s.ListConceptIDs(context.Background(), "book-1")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	want := []string{"c1", "c2", "c3"}
	if len(ids) != len(want) {
		t.Fatalf("ids: want=%v got=%v", want, ids)
	}
	for i := range want {
		if ids[i] != want[i] {
			t.Fatalf("ids: want=%v got=%v", want, ids)
		}
	}
	if len(client.lists) != 2 {
		t.Fatalf("list calls: want=2 got=%d", len(client.lists))
	}
	if client.lists[0].Prefix != "book-1:" || client.lists[1].PaginationToken != "p2" {
		t.Fatalf("list requests: %+v", client.lists)
	}
}

func TestDeleteConceptsUsesCompositeIDs(t *testing.T) {
	client := &fakePineconeClient{}
	s := testStore(client)

	if err := s.DeleteConcepts(context.Background(), "book-1", []string{"c1", "c2"}); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if len(client.deletes) != 1 {
		t.Fatalf("delete calls: %d", len(client.deletes))
	}
	got := client.deletes[0].IDs
	if len(got) != 2 || got[0] != "book-1:c1" || got[1] != "book-1:c2" {
		t.Fatalf("delete ids: %v", got)
	}
}

func TestSearchBuildsMetadataFilter(t *testing.T) {
	client := &fakePineconeClient{
		queryResp: &pinecone.QueryResponse{
			Matches: []pinecone.QueryMatch{
				{
					ID:    "book-1:c1",
					Score: 0.91,
					Metadata: map[string]any{
						"concept_id": "c1",
						"name":       "Energy",
						"content":    "Energy is conserved.",
						"type":       "definition",
						"book_id":    "book-1",
						"book_title": "Physics",
					},
				},
			},
		},
	}
	s := testStore(client)

	results, err := s.Search(context.Background(), []float32{1, 0}, 5, "book-1", "physics", "definition")
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("results: %d", len(results))
	}
	r := results[0]
	if r.ConceptID != "c1" || r.Name != "Energy" || r.Type != domain.ContentDefinition || r.Score != 0.91 {
		t.Fatalf("result: %+v", r)
	}

	req := client.queryReq
	if req.TopK != 5 || !req.IncludeMetadata {
		t.Fatalf("query request: %+v", req)
	}
	bookFilter, _ := req.Filter["book_id"].(map[string]any)
	subjectFilter, _ := req.Filter["subject"].(map[string]any)
	typeFilter, _ := req.Filter["type"].(map[string]any)
	if bookFilter["$eq"] != "book-1" || subjectFilter["$eq"] != "physics" || typeFilter["$eq"] != "definition" {
		t.Fatalf("filter: %+v", req.Filter)
	}
}

func TestSearchWithoutFiltersOmitsFilter(t *testing.T) {
	client := &fakePineconeClient{}
	s := testStore(client)

	if _, err := s.Search(context.Background(), []float32{1}, 10, "", "", ""); err != nil {
		t.Fatalf("search: %v", err)
	}
	if client.queryReq.Filter != nil {
		t.Fatalf("filter must be omitted: %+v", client.queryReq.Filter)
	}
}
