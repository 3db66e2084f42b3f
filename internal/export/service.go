package export

import (
	"context"
	"encoding/json"
	"fmt"
	"html/template"
	"strings"
	"time"

	"scribe/api/internal/document"
)

// DefaultTitle names exported files when the caller gives no title.
const DefaultTitle = "document"

type Service struct {
	now func() time.Time
}

func NewService() *Service {
	return &Service{now: time.Now}
}

// Export renders doc in format. Documents without any content are refused
// with ErrEmptyDocument.
func (s *Service) Export(ctx context.Context, doc document.Node, format Format, title string) (*Result, error) {
	if doc.IsEmpty() {
		return nil, ErrEmptyDocument
	}
	title = strings.TrimSpace(title)
	if title == "" {
		title = DefaultTitle
	}

	switch format {
	case FormatJSON:
		data, err := json.MarshalIndent(doc, "", "  ")
		if err != nil {
			return nil, fmt.Errorf("encode document: %w", err)
		}
		return &Result{Data: data, Filename: sanitizeFilename(title) + ".json", MimeType: "application/json"}, nil
	case FormatMarkdown:
		return &Result{
			Data:     []byte(ToMarkdown(doc)),
			Filename: sanitizeFilename(title) + ".md",
			MimeType: "text/markdown; charset=utf-8",
		}, nil
	case FormatHTML, FormatDOCX, FormatPDF:
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, format)
	}

	page, err := RenderDocumentHTML(TemplateData{
		Title:       title,
		ContentHTML: template.HTML(ToHTML(doc)),
		ExportedAt:  s.now().UTC(),
	})
	if err != nil {
		return nil, fmt.Errorf("render template: %w", err)
	}

	switch format {
	case FormatDOCX:
		return exportDOCX(ctx, page, title)
	case FormatPDF:
		return exportPDF(ctx, page, title)
	default:
		return &Result{
			Data:     []byte(page),
			Filename: sanitizeFilename(title) + ".html",
			MimeType: "text/html; charset=utf-8",
		}, nil
	}
}

// sanitizeFilename keeps letters, digits, '-' and '_', turning spaces into
// hyphens, and caps the result at 50 bytes.
func sanitizeFilename(title string) string {
	var b strings.Builder
	for _, r := range title {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			b.WriteRune(r)
		case r == ' ':
			b.WriteByte('-')
		}
	}
	result := b.String()
	if len(result) > 50 {
		result = result[:50]
	}
	if result == "" {
		result = DefaultTitle
	}
	return result
}
