package graph

import (
	"context"
	"fmt"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/spoolhq/content-service/internal/domain"
	"github.com/spoolhq/content-service/internal/platform/logger"
	"github.com/spoolhq/content-service/internal/platform/neo4jdb"
)

// Store is the graph-side half of the dual-store persistence model. All
// writes are MERGE-based so replaying a step after a partial failure
// converges instead of duplicating.
type Store struct {
	client *neo4jdb.Client
	log    *logger.Logger
}

func NewStore(client *neo4jdb.Client, log *logger.Logger) *Store {
	return &Store{client: client, log: log.With("store", "graph")}
}

func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx)
}

// EnsureSchema creates uniqueness constraints. Best-effort; restricted
// users may not hold schema privileges.
func (s *Store) EnsureSchema(ctx context.Context) {
	session := s.client.Driver.NewSession(ctx, neo4j.SessionConfig{
		AccessMode:   neo4j.AccessModeWrite,
		DatabaseName: s.client.Database,
	})
	defer session.Close(ctx)

	stmts := []string{
		`CREATE CONSTRAINT book_id_unique IF NOT EXISTS FOR (b:Book) REQUIRE b.id IS UNIQUE`,
		`CREATE CONSTRAINT chapter_id_unique IF NOT EXISTS FOR (c:Chapter) REQUIRE c.id IS UNIQUE`,
		`CREATE CONSTRAINT section_id_unique IF NOT EXISTS FOR (s:Section) REQUIRE s.id IS UNIQUE`,
		`CREATE CONSTRAINT concept_id_unique IF NOT EXISTS FOR (c:Concept) REQUIRE c.id IS UNIQUE`,
	}
	for _, stmt := range stmts {
		res, err := session.Run(ctx, stmt, nil)
		if err != nil {
			s.log.Warn("schema init failed (continuing)", "error", err)
			continue
		}
		_, _ = res.Consume(ctx)
	}
}

// UpsertBookTree writes the full content hierarchy in one transaction:
// book, chapters, sections, concepts and their containment edges.
func (s *Store) UpsertBookTree(ctx context.Context, book *domain.Book) error {
	if book == nil {
		return nil
	}
	now := time.Now().UTC().Format(time.RFC3339Nano)

	bookRec := map[string]any{
		"id":         book.ID.String(),
		"title":      book.Title,
		"subject":    book.Subject,
		"source_key": book.SourceKey,
		"synced_at":  now,
	}

	var chapters, sections, concepts []map[string]any
	for _, ch := range book.Chapters {
		chapters = append(chapters, map[string]any{
			"id":        ch.ID.String(),
			"book_id":   book.ID.String(),
			"number":    int64(ch.Number),
			"title":     ch.Title,
			"synced_at": now,
		})
		for _, sec := range ch.Sections {
			sections = append(sections, map[string]any{
				"id":         sec.ID.String(),
				"chapter_id": ch.ID.String(),
				"number":     sec.Number,
				"title":      sec.Title,
				"synced_at":  now,
			})
			for _, c := range sec.Concepts {
				concepts = append(concepts, map[string]any{
					"id":         c.ID.String(),
					"section_id": sec.ID.String(),
					"name":       c.Name,
					"content":    c.Content,
					"type":       string(c.Type),
					"synced_at":  now,
				})
			}
		}
	}

	session := s.client.Driver.NewSession(ctx, neo4j.SessionConfig{
		AccessMode:   neo4j.AccessModeWrite,
		DatabaseName: s.client.Database,
	})
	defer session.Close(ctx)

	_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		if err := runConsume(ctx, tx, `
MERGE (b:Book {id: $book.id})
SET b += $book
`, map[string]any{"book": bookRec}); err != nil {
			return nil, err
		}

		if len(chapters) > 0 {
			if err := runConsume(ctx, tx, `
UNWIND $rows AS r
MERGE (c:Chapter {id: r.id})
SET c += r
WITH c, r
MATCH (b:Book {id: r.book_id})
MERGE (b)-[:HAS_CHAPTER]->(c)
`, map[string]any{"rows": chapters}); err != nil {
				return nil, err
			}
		}
		if len(sections) > 0 {
			if err := runConsume(ctx, tx, `
UNWIND $rows AS r
MERGE (s:Section {id: r.id})
SET s += r
WITH s, r
MATCH (c:Chapter {id: r.chapter_id})
MERGE (c)-[:HAS_SECTION]->(s)
`, map[string]any{"rows": sections}); err != nil {
				return nil, err
			}
		}
		if len(concepts) > 0 {
			if err := runConsume(ctx, tx, `
UNWIND $rows AS r
MERGE (c:Concept {id: r.id})
SET c += r
WITH c, r
MATCH (s:Section {id: r.section_id})
MERGE (s)-[:HAS_CONCEPT]->(c)
`, map[string]any{"rows": concepts}); err != nil {
				return nil, err
			}
		}
		return nil, nil
	})
	if err != nil {
		return &domain.GraphWriteError{Step: "nodes", Err: err}
	}
	return nil
}

// UpsertEdges writes concept relationship edges. The (from, to, type)
// triple is the identity; replays update the weight in place.
func (s *Store) UpsertEdges(ctx context.Context, edges []domain.Edge) error {
	if len(edges) == 0 {
		return nil
	}
	now := time.Now().UTC().Format(time.RFC3339Nano)

	byType := map[domain.EdgeType][]map[string]any{}
	for _, e := range edges {
		byType[e.Type] = append(byType[e.Type], map[string]any{
			"from_id":   e.FromID.String(),
			"to_id":     e.ToID.String(),
			"weight":    e.Weight,
			"synced_at": now,
		})
	}

	session := s.client.Driver.NewSession(ctx, neo4j.SessionConfig{
		AccessMode:   neo4j.AccessModeWrite,
		DatabaseName: s.client.Database,
	})
	defer session.Close(ctx)

	_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		if rows := byType[domain.EdgePrerequisite]; len(rows) > 0 {
			if err := runConsume(ctx, tx, `
UNWIND $rows AS r
MATCH (a:Concept {id: r.from_id})
MATCH (b:Concept {id: r.to_id})
MERGE (a)-[e:PREREQUISITE]->(b)
SET e.weight = r.weight, e.synced_at = r.synced_at
`, map[string]any{"rows": rows}); err != nil {
				return nil, err
			}
		}
		if rows := byType[domain.EdgeRelatedTo]; len(rows) > 0 {
			if err := runConsume(ctx, tx, `
UNWIND $rows AS r
MATCH (a:Concept {id: r.from_id})
MATCH (b:Concept {id: r.to_id})
MERGE (a)-[e:RELATED_TO]->(b)
SET e.weight = r.weight, e.synced_at = r.synced_at
`, map[string]any{"rows": rows}); err != nil {
				return nil, err
			}
		}
		return nil, nil
	})
	if err != nil {
		return &domain.GraphWriteError{Step: "edges", Err: err}
	}
	return nil
}

// ConceptRecord is the graph-resident view of a concept with enough
// hierarchy context to rebuild its vector metadata.
type ConceptRecord struct {
	ID           string
	Name         string
	Content      string
	Type         string
	BookID       string
	BookTitle    string
	Subject      string
	ChapterTitle string
	SectionTitle string
}

// ListConceptIDs returns the ids of every concept under a book.
func (s *Store) ListConceptIDs(ctx context.Context, bookID string) ([]string, error) {
	session := s.client.Driver.NewSession(ctx, neo4j.SessionConfig{
		AccessMode:   neo4j.AccessModeRead,
		DatabaseName: s.client.Database,
	})
	defer session.Close(ctx)

	out, err := session.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		res, err := tx.Run(ctx, `
MATCH (:Book {id: $book_id})-[:HAS_CHAPTER]->(:Chapter)-[:HAS_SECTION]->(:Section)-[:HAS_CONCEPT]->(c:Concept)
RETURN c.id AS id
`, map[string]any{"book_id": bookID})
		if err != nil {
			return nil, err
		}
		var ids []string
		for res.Next(ctx) {
			if v, ok := res.Record().Get("id"); ok {
				if id, ok := v.(string); ok {
					ids = append(ids, id)
				}
			}
		}
		return ids, res.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("graph: list concept ids: %w", err)
	}
	return out.([]string), nil
}

// GetConcepts fetches concept records with hierarchy context for the
// given ids.
func (s *Store) GetConcepts(ctx context.Context, ids []string) ([]ConceptRecord, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	session := s.client.Driver.NewSession(ctx, neo4j.SessionConfig{
		AccessMode:   neo4j.AccessModeRead,
		DatabaseName: s.client.Database,
	})
	defer session.Close(ctx)

	out, err := session.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		res, err := tx.Run(ctx, `
MATCH (b:Book)-[:HAS_CHAPTER]->(ch:Chapter)-[:HAS_SECTION]->(s:Section)-[:HAS_CONCEPT]->(c:Concept)
WHERE c.id IN $ids
RETURN c.id AS id, c.name AS name, c.content AS content, c.type AS type,
       b.id AS book_id, b.title AS book_title, b.subject AS subject,
       ch.title AS chapter_title, s.title AS section_title
`, map[string]any{"ids": ids})
		if err != nil {
			return nil, err
		}
		var rows []ConceptRecord
		for res.Next(ctx) {
			rec := res.Record()
			rows = append(rows, ConceptRecord{
				ID:           stringVal(rec, "id"),
				Name:         stringVal(rec, "name"),
				Content:      stringVal(rec, "content"),
				Type:         stringVal(rec, "type"),
				BookID:       stringVal(rec, "book_id"),
				BookTitle:    stringVal(rec, "book_title"),
				Subject:      stringVal(rec, "subject"),
				ChapterTitle: stringVal(rec, "chapter_title"),
				SectionTitle: stringVal(rec, "section_title"),
			})
		}
		return rows, res.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("graph: get concepts: %w", err)
	}
	return out.([]ConceptRecord), nil
}

// BookSummary is the list view of a stored book.
type BookSummary struct {
	ID           string `json:"id"`
	Title        string `json:"title"`
	Subject      string `json:"subject"`
	ChapterCount int    `json:"chapter_count"`
	ConceptCount int    `json:"concept_count"`
}

func (s *Store) ListBooks(ctx context.Context) ([]BookSummary, error) {
	session := s.client.Driver.NewSession(ctx, neo4j.SessionConfig{
		AccessMode:   neo4j.AccessModeRead,
		DatabaseName: s.client.Database,
	})
	defer session.Close(ctx)

	out, err := session.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		res, err := tx.Run(ctx, `
MATCH (b:Book)
OPTIONAL MATCH (b)-[:HAS_CHAPTER]->(ch:Chapter)
OPTIONAL MATCH (ch)-[:HAS_SECTION]->(:Section)-[:HAS_CONCEPT]->(c:Concept)
RETURN b.id AS id, b.title AS title, b.subject AS subject,
       count(DISTINCT ch) AS chapters, count(DISTINCT c) AS concepts
ORDER BY b.title
`, nil)
		if err != nil {
			return nil, err
		}
		var rows []BookSummary
		for res.Next(ctx) {
			rec := res.Record()
			rows = append(rows, BookSummary{
				ID:           stringVal(rec, "id"),
				Title:        stringVal(rec, "title"),
				Subject:      stringVal(rec, "subject"),
				ChapterCount: intVal(rec, "chapters"),
				ConceptCount: intVal(rec, "concepts"),
			})
		}
		return rows, res.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("graph: list books: %w", err)
	}
	return out.([]BookSummary), nil
}

// GetBookTree reads a book's full hierarchy back out of the graph.
// Concept content is omitted from the tree view to keep payloads sane.
func (s *Store) GetBookTree(ctx context.Context, bookID string) (map[string]any, error) {
	session := s.client.Driver.NewSession(ctx, neo4j.SessionConfig{
		AccessMode:   neo4j.AccessModeRead,
		DatabaseName: s.client.Database,
	})
	defer session.Close(ctx)

	out, err := session.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		res, err := tx.Run(ctx, `
MATCH (b:Book {id: $book_id})
OPTIONAL MATCH (b)-[:HAS_CHAPTER]->(ch:Chapter)
OPTIONAL MATCH (ch)-[:HAS_SECTION]->(s:Section)
OPTIONAL MATCH (s)-[:HAS_CONCEPT]->(c:Concept)
WITH b, ch, s, collect(c {.id, .name, .type}) AS concepts
WITH b, ch, collect(s {.id, .number, .title, concepts: concepts}) AS sections
WITH b, collect(ch {.id, .number, .title, sections: sections}) AS chapters
RETURN b {.id, .title, .subject, chapters: chapters} AS book
`, map[string]any{"book_id": bookID})
		if err != nil {
			return nil, err
		}
		if !res.Next(ctx) {
			if err := res.Err(); err != nil {
				return nil, err
			}
			return nil, fmt.Errorf("book %s: %w", bookID, domain.ErrNotFound)
		}
		v, _ := res.Record().Get("book")
		book, ok := v.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("book %s: %w", bookID, domain.ErrNotFound)
		}
		return book, nil
	})
	if err != nil {
		return nil, fmt.Errorf("graph: get book tree: %w", err)
	}
	return out.(map[string]any), nil
}

// ConceptGraph returns a concept with its immediate neighborhood:
// incoming prerequisites, symmetric related concepts, and the concepts
// it unlocks.
func (s *Store) ConceptGraph(ctx context.Context, conceptID string) (*domain.ConceptGraph, error) {
	session := s.client.Driver.NewSession(ctx, neo4j.SessionConfig{
		AccessMode:   neo4j.AccessModeRead,
		DatabaseName: s.client.Database,
	})
	defer session.Close(ctx)

	out, err := session.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		res, err := tx.Run(ctx, `
MATCH (c:Concept {id: $id})
OPTIONAL MATCH (pre:Concept)-[:PREREQUISITE]->(c)
OPTIONAL MATCH (c)-[:RELATED_TO]-(rel:Concept)
OPTIONAL MATCH (c)-[:PREREQUISITE]->(next:Concept)
RETURN c {.id, .name, .type, .content} AS concept,
       collect(DISTINCT pre {.id, .name, .type}) AS prerequisites,
       collect(DISTINCT rel {.id, .name, .type}) AS related,
       collect(DISTINCT next {.id, .name, .type}) AS next
`, map[string]any{"id": conceptID})
		if err != nil {
			return nil, err
		}
		if !res.Next(ctx) {
			if err := res.Err(); err != nil {
				return nil, err
			}
			return nil, fmt.Errorf("concept %s: %w", conceptID, domain.ErrNotFound)
		}
		rec := res.Record()
		cv, _ := rec.Get("concept")
		props, ok := cv.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("concept %s: %w", conceptID, domain.ErrNotFound)
		}
		cg := &domain.ConceptGraph{
			Concept:       toGraphNode(props),
			Prerequisites: toGraphNodes(rec, "prerequisites"),
			Related:       toGraphNodes(rec, "related"),
			Next:          toGraphNodes(rec, "next"),
		}
		return cg, nil
	})
	if err != nil {
		return nil, fmt.Errorf("graph: concept graph: %w", err)
	}
	return out.(*domain.ConceptGraph), nil
}

// minutesPerConcept feeds the learning-path time estimate.
const minutesPerConcept = 15

// LearningPath finds the shortest prerequisite chain from one concept to
// another. No path is not an error; it returns an empty path.
func (s *Store) LearningPath(ctx context.Context, fromID, toID string) (*domain.LearningPath, error) {
	session := s.client.Driver.NewSession(ctx, neo4j.SessionConfig{
		AccessMode:   neo4j.AccessModeRead,
		DatabaseName: s.client.Database,
	})
	defer session.Close(ctx)

	out, err := session.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		res, err := tx.Run(ctx, `
MATCH (a:Concept {id: $from}), (b:Concept {id: $to})
MATCH p = shortestPath((a)-[:PREREQUISITE*..20]->(b))
RETURN [n IN nodes(p) | n {.id, .name, .type}] AS path
`, map[string]any{"from": fromID, "to": toID})
		if err != nil {
			return nil, err
		}
		lp := &domain.LearningPath{FromConcept: fromID, ToConcept: toID}
		if res.Next(ctx) {
			if v, ok := res.Record().Get("path"); ok {
				if raw, ok := v.([]any); ok {
					for _, item := range raw {
						if props, ok := item.(map[string]any); ok {
							lp.Path = append(lp.Path, toGraphNode(props))
						}
					}
				}
			}
		}
		if err := res.Err(); err != nil {
			return nil, err
		}
		lp.TotalConcepts = len(lp.Path)
		lp.EstimatedMinutes = lp.TotalConcepts * minutesPerConcept
		return lp, nil
	})
	if err != nil {
		return nil, fmt.Errorf("graph: learning path: %w", err)
	}
	return out.(*domain.LearningPath), nil
}

// DeleteBook removes the book and its entire subtree.
func (s *Store) DeleteBook(ctx context.Context, bookID string) error {
	session := s.client.Driver.NewSession(ctx, neo4j.SessionConfig{
		AccessMode:   neo4j.AccessModeWrite,
		DatabaseName: s.client.Database,
	})
	defer session.Close(ctx)

	_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		return nil, runConsume(ctx, tx, `
MATCH (b:Book {id: $book_id})
OPTIONAL MATCH (b)-[:HAS_CHAPTER]->(ch:Chapter)
OPTIONAL MATCH (ch)-[:HAS_SECTION]->(s:Section)
OPTIONAL MATCH (s)-[:HAS_CONCEPT]->(c:Concept)
DETACH DELETE c, s, ch, b
`, map[string]any{"book_id": bookID})
	})
	if err != nil {
		return fmt.Errorf("graph: delete book: %w", err)
	}
	return nil
}

func runConsume(ctx context.Context, tx neo4j.ManagedTransaction, cypher string, params map[string]any) error {
	res, err := tx.Run(ctx, cypher, params)
	if err != nil {
		return err
	}
	_, err = res.Consume(ctx)
	return err
}

func toGraphNode(props map[string]any) domain.GraphNode {
	id, _ := props["id"].(string)
	name, _ := props["name"].(string)
	return domain.GraphNode{ID: id, Label: name, Properties: props}
}

func toGraphNodes(rec *neo4j.Record, key string) []domain.GraphNode {
	v, ok := rec.Get(key)
	if !ok {
		return nil
	}
	raw, ok := v.([]any)
	if !ok {
		return nil
	}
	out := make([]domain.GraphNode, 0, len(raw))
	for _, item := range raw {
		if props, ok := item.(map[string]any); ok && props != nil {
			out = append(out, toGraphNode(props))
		}
	}
	return out
}

func stringVal(rec *neo4j.Record, key string) string {
	if v, ok := rec.Get(key); ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

func intVal(rec *neo4j.Record, key string) int {
	if v, ok := rec.Get(key); ok {
		if n, ok := v.(int64); ok {
			return int(n)
		}
	}
	return 0
}
