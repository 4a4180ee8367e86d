package chunk

import (
	"strings"

	"github.com/google/uuid"

	"github.com/spoolhq/content-service/internal/domain"
	"github.com/spoolhq/content-service/internal/ingest/extract"
)

type Config struct {
	// Size and Overlap are measured in runes. Overlap must be strictly
	// less than Size.
	Size    int
	Overlap int
	// MinChars drops fragments too short to stand as a concept.
	MinChars int
	// MaxConcepts bounds the total concept count per job.
	MaxConcepts int
}

// Chunk is one bounded piece of section text with its classification.
type Chunk struct {
	Name string
	Text string
	Type domain.ContentType
}

// Split cuts text into chunks of at most cfg.Size runes with cfg.Overlap
// runes of overlap between consecutive chunks. Cut points prefer sentence
// boundaries when one falls close enough to the target. Concatenating the
// first chunk with every later chunk minus its leading overlap
// reconstructs the input exactly.
func Split(text string, cfg Config) ([]string, error) {
	if cfg.Size <= 0 || cfg.Overlap < 0 || cfg.Overlap >= cfg.Size {
		return nil, &domain.ChunkConfigError{ChunkSize: cfg.Size, Overlap: cfg.Overlap}
	}
	runes := []rune(text)
	if len(runes) == 0 {
		return nil, nil
	}
	if len(runes) <= cfg.Size {
		return []string{text}, nil
	}

	var out []string
	start := 0
	for start < len(runes) {
		end := start + cfg.Size
		if end >= len(runes) {
			out = append(out, string(runes[start:]))
			break
		}
		end = preferSentenceEnd(runes, start, end)
		// A sentence boundary that leaves the chunk at or under the
		// overlap length would break window reconstruction, so cut at
		// the full size instead.
		if end-start <= cfg.Overlap {
			end = start + cfg.Size
		}
		out = append(out, string(runes[start:end]))

		start = end - cfg.Overlap
	}
	return out, nil
}

// preferSentenceEnd slides the cut point back to just after the nearest
// sentence terminator, if one sits within the last fifth of the chunk.
func preferSentenceEnd(runes []rune, start, end int) int {
	tolerance := (end - start) / 5
	for i := end - 1; i > end-tolerance && i > start; i-- {
		switch runes[i-1] {
		case '.', '!', '?':
			// Keep trailing space with the earlier chunk only if the
			// terminator ends a sentence rather than an abbreviation-like
			// run; a following space or newline is good enough evidence.
			if i < len(runes) && (runes[i] == ' ' || runes[i] == '\n') {
				return i + 1
			}
		case '\n':
			return i
		}
	}
	return end
}

// Classify assigns a content type from lexical signals. Best-effort; it
// never fails, and anything unrecognized is an explanation.
func Classify(text string) domain.ContentType {
	t := strings.ToLower(text)
	switch {
	case containsAny(t, "example:", "for instance", "e.g.", "worked example"):
		return domain.ContentExample
	case equationDensity(text) > 0.02 || containsAny(t, "formula", "equation"):
		return domain.ContentFormula
	case containsAny(t, "exercise:", "problem:", "question:", "solve the following"):
		return domain.ContentExercise
	case containsAny(t, "definition:", "is defined as", "means that", "refers to"):
		return domain.ContentDefinition
	default:
		return domain.ContentExplanation
	}
}

// equationDensity is the fraction of characters that are math operators.
func equationDensity(text string) float64 {
	if len(text) == 0 {
		return 0
	}
	ops := 0
	for _, r := range text {
		switch r {
		case '=', '+', '∑', '∫', '≤', '≥', '±', '√':
			ops++
		}
	}
	return float64(ops) / float64(len([]rune(text)))
}

// conceptName is the first sentence, capped at 100 runes.
func conceptName(text string) string {
	s := strings.TrimSpace(text)
	if i := strings.IndexAny(s, ".!?\n"); i > 0 {
		s = s[:i]
	}
	runes := []rune(strings.TrimSpace(s))
	if len(runes) > 100 {
		runes = runes[:100]
	}
	return string(runes)
}

// BuildBook chunks every section of the structural tree into classified
// concepts, producing the content tree the rest of the pipeline operates
// on. Exceeding cfg.MaxConcepts fails with *domain.TooManyConceptsError.
func BuildBook(tree *extract.Tree, sourceKey string, cfg Config) (*domain.Book, error) {
	book := &domain.Book{
		ID:        uuid.New(),
		Title:     tree.Title,
		Subject:   tree.Subject,
		SourceKey: sourceKey,
	}

	total := 0
	for _, ch := range tree.Chapters {
		chapter := &domain.Chapter{
			ID:     uuid.New(),
			BookID: book.ID,
			Number: ch.Number,
			Title:  ch.Title,
		}
		for _, sec := range ch.Sections {
			section := &domain.Section{
				ID:        uuid.New(),
				ChapterID: chapter.ID,
				Number:    sec.Number,
				Title:     sec.Title,
			}
			pieces, err := Split(sec.Text, cfg)
			if err != nil {
				return nil, err
			}
			for _, piece := range pieces {
				trimmed := strings.TrimSpace(piece)
				if len([]rune(trimmed)) < cfg.MinChars {
					continue
				}
				total++
				if cfg.MaxConcepts > 0 && total > cfg.MaxConcepts {
					return nil, &domain.TooManyConceptsError{Count: total, Max: cfg.MaxConcepts}
				}
				section.Concepts = append(section.Concepts, &domain.Concept{
					ID:        uuid.New(),
					SectionID: section.ID,
					Name:      conceptName(trimmed),
					Content:   trimmed,
					Type:      Classify(trimmed),
				})
			}
			chapter.Sections = append(chapter.Sections, section)
		}
		book.Chapters = append(book.Chapters, chapter)
	}
	return book, nil
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
