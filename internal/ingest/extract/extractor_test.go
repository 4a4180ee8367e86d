package extract

import (
	"context"
	"errors"
	"testing"

	"github.com/spoolhq/content-service/internal/domain"
	"github.com/spoolhq/content-service/internal/platform/logger"
)

type fakeSource struct {
	pages []Page
	err   error
}

func (f *fakeSource) ExtractPages(_ context.Context, _ []byte, _ string) ([]Page, error) {
	return f.pages, f.err
}

func pdf(body string) []byte {
	return []byte("%PDF-1.7\n" + body)
}

func TestExtractStructuresChaptersAndSections(t *testing.T) {
	src := &fakeSource{pages: []Page{
		{Number: 1, Text: "Chapter 1: Linear Equations\n1.1 Slope\nThe slope measures steepness.\n1.2 Intercepts\nWhere the line crosses an axis."},
		{Number: 2, Text: "Chapter 2: Quadratics\nQuadratics curve.\n2.1 Parabolas\nA parabola is symmetric."},
	}}
	e := New(logger.NewNop(), src, 0)

	tree, err := e.Extract(context.Background(), pdf("content"), "Algebra Basics")
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	if got := len(tree.Chapters); got != 2 {
		t.Fatalf("chapters: want=2 got=%d", got)
	}
	ch1 := tree.Chapters[0]
	if ch1.Number != 1 || ch1.Title != "Linear Equations" {
		t.Fatalf("chapter 1: got number=%d title=%q", ch1.Number, ch1.Title)
	}
	if len(ch1.Sections) != 2 {
		t.Fatalf("chapter 1 sections: want=2 got=%d", len(ch1.Sections))
	}
	if ch1.Sections[0].Number != "1.1" || ch1.Sections[0].Title != "Slope" {
		t.Fatalf("section 1.1: got number=%q title=%q", ch1.Sections[0].Number, ch1.Sections[0].Title)
	}
	if ch1.Sections[0].Text != "The slope measures steepness." {
		t.Fatalf("section 1.1 text: got %q", ch1.Sections[0].Text)
	}

	// Chapter body before the first section heading lands in an implicit
	// Overview section.
	ch2 := tree.Chapters[1]
	if len(ch2.Sections) != 2 {
		t.Fatalf("chapter 2 sections: want=2 got=%d", len(ch2.Sections))
	}
	if ch2.Sections[0].Title != "Overview" {
		t.Fatalf("implicit section title: got %q", ch2.Sections[0].Title)
	}
	if ch2.Sections[0].Text != "Quadratics curve." {
		t.Fatalf("implicit section text: got %q", ch2.Sections[0].Text)
	}
}

func TestExtractKeepsFrontMatterBeforeFirstChapter(t *testing.T) {
	src := &fakeSource{pages: []Page{
		{Number: 1, Text: "This preface explains how to read the book.\nIt spans two lines.\nChapter 1: Linear Equations\n1.1 Slope\nThe slope measures steepness."},
	}}
	e := New(logger.NewNop(), src, 0)

	tree, err := e.Extract(context.Background(), pdf("content"), "Algebra Basics")
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	if len(tree.Chapters) != 1 {
		t.Fatalf("chapters: want=1 got=%d", len(tree.Chapters))
	}
	ch := tree.Chapters[0]
	if len(ch.Sections) != 2 {
		t.Fatalf("sections: want=2 got=%d", len(ch.Sections))
	}
	if ch.Sections[0].Title != "Overview" {
		t.Fatalf("front matter section title: got %q", ch.Sections[0].Title)
	}
	want := "This preface explains how to read the book.\nIt spans two lines."
	if ch.Sections[0].Text != want {
		t.Fatalf("front matter text: want=%q got=%q", want, ch.Sections[0].Text)
	}
	if ch.Sections[1].Number != "1.1" || ch.Sections[1].Text != "The slope measures steepness." {
		t.Fatalf("section after front matter: %+v", ch.Sections[1])
	}
}

func TestExtractFallsBackToImplicitChapter(t *testing.T) {
	src := &fakeSource{pages: []Page{
		{Number: 1, Text: "Just a wall of text.\nNo headings anywhere."},
	}}
	e := New(logger.NewNop(), src, 0)

	tree, err := e.Extract(context.Background(), pdf("content"), "Notes")
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	if len(tree.Chapters) != 1 {
		t.Fatalf("chapters: want=1 got=%d", len(tree.Chapters))
	}
	ch := tree.Chapters[0]
	if ch.Number != 1 || ch.Title != "Notes" {
		t.Fatalf("implicit chapter: got number=%d title=%q", ch.Number, ch.Title)
	}
	if len(ch.Sections) != 1 || ch.Sections[0].Title != "Overview" {
		t.Fatalf("implicit section: got %+v", ch.Sections)
	}
	if ch.Sections[0].Text == "" {
		t.Fatalf("implicit section text empty")
	}
}

func TestExtractEmptyInput(t *testing.T) {
	e := New(logger.NewNop(), &fakeSource{}, 0)
	_, err := e.Extract(context.Background(), nil, "X")
	assertExtractionReason(t, err, "empty")
}

func TestExtractTooLarge(t *testing.T) {
	e := New(logger.NewNop(), &fakeSource{}, 4)
	_, err := e.Extract(context.Background(), []byte("12345"), "X")
	assertExtractionReason(t, err, "too_large")
}

func TestExtractEncrypted(t *testing.T) {
	e := New(logger.NewNop(), &fakeSource{}, 0)
	_, err := e.Extract(context.Background(), []byte("%PDF-1.7\n/Encrypt 12 0 R"), "X")
	assertExtractionReason(t, err, "encrypted")
}

func TestExtractCollaboratorFailure(t *testing.T) {
	src := &fakeSource{err: errors.New("upstream 500")}
	e := New(logger.NewNop(), src, 0)
	_, err := e.Extract(context.Background(), pdf("content"), "X")
	assertExtractionReason(t, err, "unparseable")
}

func TestExtractNoUsableText(t *testing.T) {
	src := &fakeSource{pages: []Page{{Number: 1, Text: "   \n  \n"}}}
	e := New(logger.NewNop(), src, 0)
	_, err := e.Extract(context.Background(), pdf("content"), "X")
	assertExtractionReason(t, err, "empty")
}

func TestInferSubject(t *testing.T) {
	cases := map[string]string{
		"Intro to Algebra":          "Mathematics",
		"Physics for Engineers":     "Science",
		"World History Vol 2":       "Social Studies",
		"English Literature Reader": "English",
		"Cooking 101":               "General",
	}
	for title, want := range cases {
		if got := inferSubject(title); got != want {
			t.Errorf("inferSubject(%q): want=%s got=%s", title, want, got)
		}
	}
}

func assertExtractionReason(t *testing.T, err error, reason string) {
	t.Helper()
	var xerr *domain.ExtractionError
	if !errors.As(err, &xerr) {
		t.Fatalf("expected ExtractionError, got %v", err)
	}
	if xerr.Reason != reason {
		t.Fatalf("reason: want=%s got=%s", reason, xerr.Reason)
	}
	if !domain.IsFatalJobError(err) {
		t.Fatalf("extraction errors must be fatal")
	}
}
