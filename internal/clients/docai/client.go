package docai

import (
	"context"
	"fmt"
	"os"
	"strings"

	documentai "cloud.google.com/go/documentai/apiv1"
	"cloud.google.com/go/documentai/apiv1/documentaipb"
	"google.golang.org/api/option"

	"github.com/spoolhq/content-service/internal/platform/gcp"
	"github.com/spoolhq/content-service/internal/platform/logger"
)

// Page is one page of extracted text in reading order.
type Page struct {
	Number int
	Text   string
}

// Client is the text-extraction collaborator. It turns raw document bytes
// into per-page text; structural interpretation happens downstream.
type Client interface {
	ExtractPages(ctx context.Context, data []byte, mimeType string) ([]Page, error)
	Close() error
}

type client struct {
	log       *logger.Logger
	docClient *documentai.DocumentProcessorClient
	processor string
}

func New(log *logger.Logger) (Client, error) {
	if log == nil {
		return nil, fmt.Errorf("docai: logger required")
	}

	projectID := strings.TrimSpace(os.Getenv("DOCUMENTAI_PROJECT_ID"))
	processorID := strings.TrimSpace(os.Getenv("DOCUMENTAI_PROCESSOR_ID"))
	if projectID == "" || processorID == "" {
		return nil, fmt.Errorf("docai: missing DOCUMENTAI_PROJECT_ID or DOCUMENTAI_PROCESSOR_ID")
	}
	location := strings.TrimSpace(os.Getenv("DOCUMENTAI_LOCATION"))
	if location == "" {
		location = "us"
	}

	endpoint := fmt.Sprintf("%s-documentai.googleapis.com:443", location)
	opts := append([]option.ClientOption{option.WithEndpoint(endpoint)}, gcp.ClientOptionsFromEnv()...)
	c, err := documentai.NewDocumentProcessorClient(context.Background(), opts...)
	if err != nil {
		return nil, fmt.Errorf("docai: processor client: %w", err)
	}

	slog := log.With("client", "DocumentAI")
	slog.Info("Document AI initialized", "endpoint", endpoint)

	return &client{
		log:       slog,
		docClient: c,
		processor: fmt.Sprintf("projects/%s/locations/%s/processors/%s", projectID, location, processorID),
	}, nil
}

func (c *client) ExtractPages(ctx context.Context, data []byte, mimeType string) ([]Page, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("docai: empty document")
	}
	if strings.TrimSpace(mimeType) == "" {
		mimeType = "application/pdf"
	}

	req := &documentaipb.ProcessRequest{
		Name: c.processor,
		Source: &documentaipb.ProcessRequest_RawDocument{
			RawDocument: &documentaipb.RawDocument{
				Content:  data,
				MimeType: mimeType,
			},
		},
	}
	resp, err := c.docClient.ProcessDocument(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("docai: process document: %w", err)
	}

	doc := resp.GetDocument()
	fullText := doc.GetText()
	pages := make([]Page, 0, len(doc.GetPages()))
	for i, p := range doc.GetPages() {
		text := anchorText(fullText, p.GetLayout().GetTextAnchor())
		if strings.TrimSpace(text) == "" {
			continue
		}
		pages = append(pages, Page{Number: i + 1, Text: text})
	}
	if len(pages) == 0 && strings.TrimSpace(fullText) != "" {
		pages = append(pages, Page{Number: 1, Text: fullText})
	}
	return pages, nil
}

func (c *client) Close() error {
	if c == nil || c.docClient == nil {
		return nil
	}
	return c.docClient.Close()
}

// anchorText slices the document text for a layout anchor. Segments are
// byte offsets into the full text.
func anchorText(full string, anchor *documentaipb.Document_TextAnchor) string {
	if anchor == nil {
		return ""
	}
	var b strings.Builder
	for _, seg := range anchor.GetTextSegments() {
		start := int(seg.GetStartIndex())
		end := int(seg.GetEndIndex())
		if start < 0 || end > len(full) || start >= end {
			continue
		}
		b.WriteString(full[start:end])
	}
	return b.String()
}
