package domain

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// ContentType is the closed classification scheme for concept chunks.
type ContentType string

const (
	ContentExplanation ContentType = "explanation"
	ContentExample     ContentType = "example"
	ContentFormula     ContentType = "formula"
	ContentExercise    ContentType = "exercise"
	ContentDefinition  ContentType = "definition"
)

func (t ContentType) Valid() bool {
	switch t {
	case ContentExplanation, ContentExample, ContentFormula, ContentExercise, ContentDefinition:
		return true
	default:
		return false
	}
}

func ParseContentType(s string) ContentType {
	t := ContentType(strings.TrimSpace(strings.ToLower(s)))
	if !t.Valid() {
		return ContentExplanation
	}
	return t
}

// Concept is the leaf of the content tree. Embedding is nil until the
// embedding stage succeeds for this concept; once set it has exactly the
// deployment's configured dimension.
type Concept struct {
	ID        uuid.UUID      `json:"id"`
	SectionID uuid.UUID      `json:"section_id"`
	Name      string         `json:"name"`
	Content   string         `json:"content"`
	Type      ContentType    `json:"type"`
	Embedding []float32      `json:"embedding,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

type Section struct {
	ID        uuid.UUID  `json:"id"`
	ChapterID uuid.UUID  `json:"chapter_id"`
	Number    string     `json:"number,omitempty"`
	Title     string     `json:"title"`
	Concepts  []*Concept `json:"concepts"`
}

type Chapter struct {
	ID       uuid.UUID  `json:"id"`
	BookID   uuid.UUID  `json:"book_id"`
	Number   int        `json:"number"`
	Title    string     `json:"title"`
	Sections []*Section `json:"sections"`
}

type Book struct {
	ID          uuid.UUID  `json:"id"`
	Title       string     `json:"title"`
	Subject     string     `json:"subject"`
	SourceKey   string     `json:"source_key,omitempty"`
	Chapters    []*Chapter `json:"chapters"`
	ProcessedAt *time.Time `json:"processed_at,omitempty"`
}

// Concepts returns every concept of the book in reading order.
func (b *Book) Concepts() []*Concept {
	if b == nil {
		return nil
	}
	var out []*Concept
	for _, ch := range b.Chapters {
		if ch == nil {
			continue
		}
		for _, s := range ch.Sections {
			if s == nil {
				continue
			}
			out = append(out, s.Concepts...)
		}
	}
	return out
}

// EdgeType names the two concept relations the knowledge graph carries.
type EdgeType string

const (
	EdgePrerequisite EdgeType = "PREREQUISITE"
	EdgeRelatedTo    EdgeType = "RELATED_TO"
)

// Edge is a directed concept relationship. RELATED_TO is symmetric in
// effect; it is stored as a single directed pair with no implied order.
type Edge struct {
	FromID uuid.UUID `json:"from_id"`
	ToID   uuid.UUID `json:"to_id"`
	Type   EdgeType  `json:"type"`
	Weight float64   `json:"weight,omitempty"`
}

// SearchResult is one semantic-search hit with its hierarchy context.
type SearchResult struct {
	ConceptID    string         `json:"concept_id"`
	Name         string         `json:"name"`
	Content      string         `json:"content"`
	Type         ContentType    `json:"type"`
	Score        float64        `json:"score"`
	BookID       string         `json:"book_id"`
	BookTitle    string         `json:"book_title"`
	Subject      string         `json:"subject,omitempty"`
	ChapterTitle string         `json:"chapter_title"`
	SectionTitle string         `json:"section_title"`
	Metadata     map[string]any `json:"metadata,omitempty"`
}

// GraphNode is a node returned by read-side graph queries.
type GraphNode struct {
	ID         string         `json:"id"`
	Label      string         `json:"label"`
	Properties map[string]any `json:"properties"`
}

// ConceptGraph is a concept together with its immediate relationships.
type ConceptGraph struct {
	Concept       GraphNode   `json:"concept"`
	Prerequisites []GraphNode `json:"prerequisites"`
	Related       []GraphNode `json:"related_concepts"`
	Next          []GraphNode `json:"next_concepts"`
}

// LearningPath is a prerequisite path between two concepts.
type LearningPath struct {
	FromConcept      string      `json:"from_concept"`
	ToConcept        string      `json:"to_concept"`
	Path             []GraphNode `json:"path"`
	TotalConcepts    int         `json:"total_concepts"`
	EstimatedMinutes int         `json:"estimated_time,omitempty"`
}
