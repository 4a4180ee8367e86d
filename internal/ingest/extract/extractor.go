package extract

import (
	"bytes"
	"context"
	"regexp"
	"strconv"
	"strings"

	"github.com/spoolhq/content-service/internal/domain"
	"github.com/spoolhq/content-service/internal/platform/logger"
)

// Page is one page of raw text from the extraction collaborator, in
// reading order.
type Page struct {
	Number int
	Text   string
}

// TextSource is the external text-extraction collaborator.
type TextSource interface {
	ExtractPages(ctx context.Context, data []byte, mimeType string) ([]Page, error)
}

// SectionText is one section's raw text before chunking.
type SectionText struct {
	Number string
	Title  string
	Text   string
}

type ChapterText struct {
	Number   int
	Title    string
	Sections []SectionText
}

// Tree is the ordered structural output of extraction.
type Tree struct {
	Title    string
	Subject  string
	Chapters []ChapterText
}

var chapterPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)^Chapter\s+(\d+)[:.\s]+(.+)$`),
	regexp.MustCompile(`(?i)^Unit\s+(\d+)[:.\s]+(.+)$`),
	regexp.MustCompile(`(?i)^Module\s+(\d+)[:.\s]+(.+)$`),
	regexp.MustCompile(`^(\d+)\.\s+(\D.+)$`),
}

var sectionPatterns = []*regexp.Regexp{
	regexp.MustCompile(`^(\d+\.\d+)\s+(.+)$`),
	regexp.MustCompile(`(?i)^Section\s+(\d+\.\d+)[:.\s]+(.+)$`),
	regexp.MustCompile(`^([A-Z])\.\s+(.+)$`),
}

type Extractor struct {
	log      *logger.Logger
	src      TextSource
	maxBytes int64
}

func New(log *logger.Logger, src TextSource, maxBytes int64) *Extractor {
	return &Extractor{
		log:      log.With("component", "Extractor"),
		src:      src,
		maxBytes: maxBytes,
	}
}

// Extract turns raw document bytes into the structural text tree. Pure
// over bytes aside from the collaborator call; fatal failures surface as
// *domain.ExtractionError.
func (e *Extractor) Extract(ctx context.Context, data []byte, title string) (*Tree, error) {
	if len(data) == 0 {
		return nil, &domain.ExtractionError{Reason: "empty"}
	}
	if e.maxBytes > 0 && int64(len(data)) > e.maxBytes {
		return nil, &domain.ExtractionError{Reason: "too_large"}
	}
	if looksEncrypted(data) {
		return nil, &domain.ExtractionError{Reason: "encrypted"}
	}

	pages, err := e.src.ExtractPages(ctx, data, "application/pdf")
	if err != nil {
		return nil, &domain.ExtractionError{Reason: "unparseable", Err: err}
	}

	tree := e.structure(pages, title)
	if len(tree.Chapters) == 0 {
		return nil, &domain.ExtractionError{Reason: "empty"}
	}

	sections := 0
	for _, ch := range tree.Chapters {
		sections += len(ch.Sections)
	}
	e.log.Info("extraction completed",
		"title", title,
		"chapters", len(tree.Chapters),
		"sections", sections,
	)
	return tree, nil
}

func (e *Extractor) structure(pages []Page, title string) *Tree {
	tree := &Tree{Title: title, Subject: inferSubject(title)}

	var (
		chapter     *ChapterText
		section     *SectionText
		accumulated []string
	)

	flush := func() {
		if section != nil && len(accumulated) > 0 {
			section.Text = strings.TrimSpace(section.Text + "\n" + strings.Join(accumulated, "\n"))
		}
		accumulated = accumulated[:0]
	}
	commitSection := func() {
		flush()
		if chapter != nil && section != nil {
			chapter.Sections = append(chapter.Sections, *section)
		}
		section = nil
	}
	commitChapter := func() {
		commitSection()
		if chapter != nil {
			tree.Chapters = append(tree.Chapters, *chapter)
		}
		chapter = nil
	}

	for _, page := range pages {
		for _, line := range strings.Split(page.Text, "\n") {
			line = strings.TrimSpace(line)
			if line == "" {
				continue
			}

			if num, chTitle, ok := matchChapter(line); ok {
				// Front matter accumulated before the first recognized
				// chapter heading belongs to that chapter's opening
				// section rather than being dropped.
				var preface []string
				if chapter == nil && len(accumulated) > 0 {
					preface = accumulated
					accumulated = nil
				}
				commitChapter()
				chapter = &ChapterText{Number: num, Title: chTitle}
				if len(preface) > 0 {
					section = &SectionText{Title: "Overview"}
					accumulated = preface
				}
				continue
			}

			if num, secTitle, ok := matchSection(line); ok && chapter != nil {
				commitSection()
				section = &SectionText{Number: num, Title: secTitle}
				continue
			}

			if chapter == nil {
				// Body text before any recognized chapter heading.
				accumulated = append(accumulated, line)
				continue
			}
			if section == nil {
				// Chapter body with no section heading yet.
				section = &SectionText{Title: "Overview"}
			}
			accumulated = append(accumulated, line)
		}
	}

	if chapter == nil && len(accumulated) > 0 {
		// Document with no recognizable chapter structure: one implicit
		// chapter holding everything.
		chapter = &ChapterText{Number: 1, Title: title}
		section = &SectionText{Title: "Overview"}
	}
	commitChapter()

	return tree
}

func matchChapter(line string) (int, string, bool) {
	for _, re := range chapterPatterns {
		m := re.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		num, err := strconv.Atoi(m[1])
		if err != nil {
			continue
		}
		return num, strings.TrimSpace(m[2]), true
	}
	return 0, "", false
}

func matchSection(line string) (string, string, bool) {
	for _, re := range sectionPatterns {
		m := re.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		return strings.TrimSpace(m[1]), strings.TrimSpace(m[2]), true
	}
	return "", "", false
}

// looksEncrypted sniffs the PDF trailer for an encryption dictionary.
// The collaborator would reject the document anyway; this catches it
// before spending an external call.
func looksEncrypted(data []byte) bool {
	if !bytes.HasPrefix(data, []byte("%PDF")) {
		return false
	}
	return bytes.Contains(data, []byte("/Encrypt"))
}

func inferSubject(title string) string {
	t := strings.ToLower(title)
	switch {
	case containsAny(t, "math", "algebra", "geometry", "calculus"):
		return "Mathematics"
	case containsAny(t, "physics", "chemistry", "biology", "science"):
		return "Science"
	case containsAny(t, "history", "geography", "social"):
		return "Social Studies"
	case containsAny(t, "english", "literature", "language"):
		return "English"
	default:
		return "General"
	}
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
