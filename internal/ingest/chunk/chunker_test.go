package chunk

import (
	"errors"
	"strings"
	"testing"

	"github.com/spoolhq/content-service/internal/domain"
	"github.com/spoolhq/content-service/internal/ingest/extract"
)

func TestSplitRejectsOverlapNotBelowSize(t *testing.T) {
	for _, cfg := range []Config{
		{Size: 100, Overlap: 100},
		{Size: 100, Overlap: 150},
		{Size: 0, Overlap: 0},
		{Size: 100, Overlap: -1},
	} {
		_, err := Split("text", cfg)
		var cerr *domain.ChunkConfigError
		if !errors.As(err, &cerr) {
			t.Errorf("cfg %+v: expected ChunkConfigError, got %v", cfg, err)
		}
	}
}

func TestSplitShortTextIsOneChunk(t *testing.T) {
	chunks, err := Split("short", Config{Size: 100, Overlap: 10})
	if err != nil {
		t.Fatalf("split: %v", err)
	}
	if len(chunks) != 1 || chunks[0] != "short" {
		t.Fatalf("got %v", chunks)
	}
}

func TestSplitReconstructsLosslessly(t *testing.T) {
	// Chunks overlap by a fixed amount, so the first chunk plus every
	// later chunk minus its leading overlap must rebuild the input.
	var sb strings.Builder
	for i := 0; i < 120; i++ {
		sb.WriteString("The quick brown fox jumps over the lazy dog. ")
	}
	text := strings.TrimSpace(sb.String())

	cfg := Config{Size: 300, Overlap: 60}
	chunks, err := Split(text, cfg)
	if err != nil {
		t.Fatalf("split: %v", err)
	}
	if len(chunks) < 2 {
		t.Fatalf("expected multiple chunks, got %d", len(chunks))
	}

	rebuilt := []rune(chunks[0])
	for _, c := range chunks[1:] {
		runes := []rune(c)
		if len(runes) <= cfg.Overlap {
			t.Fatalf("chunk shorter than overlap: %d", len(runes))
		}
		rebuilt = append(rebuilt, runes[cfg.Overlap:]...)
	}
	if string(rebuilt) != text {
		t.Fatalf("reconstruction mismatch: want %d chars, got %d", len([]rune(text)), len(rebuilt))
	}

	for i, c := range chunks {
		if n := len([]rune(c)); n > cfg.Size {
			t.Fatalf("chunk %d exceeds size: %d > %d", i, n, cfg.Size)
		}
	}
}

func TestSplitHighOverlapReconstructsLosslessly(t *testing.T) {
	// An early sentence boundary can shrink a chunk toward the overlap
	// length. With overlap near the size that boundary must be rejected
	// or the dropped window loses text for good.
	text := strings.Repeat("a", 80) + ". " + strings.Repeat("b", 218)
	cfg := Config{Size: 100, Overlap: 85}
	chunks, err := Split(text, cfg)
	if err != nil {
		t.Fatalf("split: %v", err)
	}
	if len(chunks) < 2 {
		t.Fatalf("expected multiple chunks, got %d", len(chunks))
	}
	rebuilt := []rune(chunks[0])
	for i, c := range chunks[1:] {
		runes := []rune(c)
		if len(runes) <= cfg.Overlap {
			t.Fatalf("chunk %d not longer than overlap: %d", i+1, len(runes))
		}
		rebuilt = append(rebuilt, runes[cfg.Overlap:]...)
	}
	if string(rebuilt) != text {
		t.Fatalf("reconstruction mismatch: want %d runes, got %d", len([]rune(text)), len(rebuilt))
	}
}

func TestSplitPrefersSentenceBoundary(t *testing.T) {
	text := strings.Repeat("One sentence here. ", 30)
	chunks, err := Split(strings.TrimSpace(text), Config{Size: 100, Overlap: 20})
	if err != nil {
		t.Fatalf("split: %v", err)
	}
	// Every non-final chunk should end just after a sentence terminator
	// because the text offers one inside the tolerance window.
	for i, c := range chunks[:len(chunks)-1] {
		trimmed := strings.TrimRight(c, " ")
		if !strings.HasSuffix(trimmed, ".") {
			t.Fatalf("chunk %d does not end at a sentence boundary: %q", i, c)
		}
	}
}

func TestClassify(t *testing.T) {
	cases := []struct {
		text string
		want domain.ContentType
	}{
		{"Example: compute the slope of the line through these points and explain each step", domain.ContentExample},
		{"The quadratic formula solves any quadratic equation given its coefficients", domain.ContentFormula},
		{"Exercise: prove that the sum of two odd integers is even using a direct argument", domain.ContentExercise},
		{"A prime number is defined as an integer greater than one with no proper divisors", domain.ContentDefinition},
		{"Slope measures how steep a line is as you move along the horizontal axis", domain.ContentExplanation},
	}
	for _, tc := range cases {
		if got := Classify(tc.text); got != tc.want {
			t.Errorf("Classify(%q): want=%s got=%s", tc.text, tc.want, got)
		}
	}
}

func testTree() *extract.Tree {
	return &extract.Tree{
		Title:   "Algebra",
		Subject: "Mathematics",
		Chapters: []extract.ChapterText{
			{
				Number: 1,
				Title:  "Lines",
				Sections: []extract.SectionText{
					{Number: "1.1", Title: "Slope", Text: strings.Repeat("Slope measures steepness of a line in the plane. ", 10)},
				},
			},
		},
	}
}

func TestBuildBookProducesHierarchy(t *testing.T) {
	book, err := BuildBook(testTree(), "books/x.pdf", Config{Size: 200, Overlap: 40, MinChars: 10})
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if book.Title != "Algebra" || book.Subject != "Mathematics" || book.SourceKey != "books/x.pdf" {
		t.Fatalf("book fields: %+v", book)
	}
	if len(book.Chapters) != 1 || len(book.Chapters[0].Sections) != 1 {
		t.Fatalf("hierarchy: %+v", book)
	}
	sec := book.Chapters[0].Sections[0]
	if len(sec.Concepts) == 0 {
		t.Fatalf("no concepts produced")
	}
	for _, c := range sec.Concepts {
		if c.SectionID != sec.ID {
			t.Fatalf("concept not linked to section")
		}
		if c.Name == "" || len([]rune(c.Name)) > 100 {
			t.Fatalf("concept name: %q", c.Name)
		}
		if !c.Type.Valid() {
			t.Fatalf("concept type: %q", c.Type)
		}
	}
}

func TestBuildBookSkipsTinyFragments(t *testing.T) {
	tree := &extract.Tree{
		Title: "T",
		Chapters: []extract.ChapterText{
			{Number: 1, Title: "C", Sections: []extract.SectionText{
				{Title: "S", Text: "tiny"},
			}},
		},
	}
	book, err := BuildBook(tree, "", Config{Size: 100, Overlap: 10, MinChars: 50})
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if n := len(book.Concepts()); n != 0 {
		t.Fatalf("expected 0 concepts, got %d", n)
	}
}

func TestBuildBookEnforcesMaxConcepts(t *testing.T) {
	tree := &extract.Tree{
		Title: "T",
		Chapters: []extract.ChapterText{
			{Number: 1, Title: "C", Sections: []extract.SectionText{
				{Title: "S", Text: strings.Repeat("Plenty of substantive content in this sentence right here. ", 100)},
			}},
		},
	}
	_, err := BuildBook(tree, "", Config{Size: 100, Overlap: 10, MinChars: 10, MaxConcepts: 3})
	var terr *domain.TooManyConceptsError
	if !errors.As(err, &terr) {
		t.Fatalf("expected TooManyConceptsError, got %v", err)
	}
	if !domain.IsFatalJobError(err) {
		t.Fatalf("concept cap must be fatal")
	}
}
