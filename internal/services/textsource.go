package services

import (
	"context"

	"github.com/spoolhq/content-service/internal/clients/docai"
	"github.com/spoolhq/content-service/internal/ingest/extract"
)

// docaiTextSource adapts the Document AI client to the extractor's
// collaborator interface.
type docaiTextSource struct {
	client docai.Client
}

func NewDocAITextSource(client docai.Client) extract.TextSource {
	return &docaiTextSource{client: client}
}

func (s *docaiTextSource) ExtractPages(ctx context.Context, data []byte, mimeType string) ([]extract.Page, error) {
	pages, err := s.client.ExtractPages(ctx, data, mimeType)
	if err != nil {
		return nil, err
	}
	out := make([]extract.Page, len(pages))
	for i, p := range pages {
		out[i] = extract.Page{Number: p.Number, Text: p.Text}
	}
	return out, nil
}
