package document

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/ledongthuc/pdf"
	"github.com/nguyenthenguyen/docx"
	"github.com/xuri/excelize/v2"
)

// ExtractResult is the outcome of extracting text from an uploaded file.
type ExtractResult struct {
	Content  string
	Title    string
	Metadata map[string]string
}

// Extractor pulls plain text out of binary document formats for the upload
// path. Unsupported extensions fall back to reading the file as UTF-8 text.
type Extractor struct{}

func NewExtractor() *Extractor {
	return &Extractor{}
}

// SupportedExtensions lists the formats with a dedicated parser.
func (e *Extractor) SupportedExtensions() []string {
	return []string{".pdf", ".docx", ".xlsx", ".csv"}
}

// Extract parses the file at path into plain text.
func (e *Extractor) Extract(ctx context.Context, path string) (*ExtractResult, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".pdf":
		return e.extractPDF(ctx, path)
	case ".docx":
		return e.extractDocx(path)
	case ".xlsx":
		return e.extractXlsx(ctx, path)
	case ".csv":
		return e.extractCSV(path)
	default:
		return e.extractPlain(path)
	}
}

func (e *Extractor) extractPDF(ctx context.Context, path string) (*ExtractResult, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("failed to stat pdf: %w", err)
	}

	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open pdf: %w", err)
	}
	defer file.Close()

	reader, err := pdf.NewReader(file, info.Size())
	if err != nil {
		return nil, fmt.Errorf("failed to parse pdf: %w", err)
	}

	var parts []string
	for pageNum := 1; pageNum <= reader.NumPage(); pageNum++ {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		page := reader.Page(pageNum)
		if page.V.IsNull() {
			continue
		}

		text, err := page.GetPlainText(nil)
		if err != nil {
			continue
		}
		if strings.TrimSpace(text) != "" {
			parts = append(parts, text)
		}
	}

	return &ExtractResult{
		Content: strings.Join(parts, "\n\n"),
		Title:   filepath.Base(path),
		Metadata: map[string]string{
			"type":  "pdf",
			"pages": fmt.Sprintf("%d", reader.NumPage()),
		},
	}, nil
}

func (e *Extractor) extractDocx(path string) (*ExtractResult, error) {
	doc, err := docx.ReadDocxFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to parse docx: %w", err)
	}
	defer doc.Close()

	content := doc.Editable().GetContent()

	return &ExtractResult{
		Content: content,
		Title:   filepath.Base(path),
		Metadata: map[string]string{
			"type": "docx",
		},
	}, nil
}

func (e *Extractor) extractXlsx(ctx context.Context, path string) (*ExtractResult, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to parse xlsx: %w", err)
	}
	defer f.Close()

	var parts []string
	sheets := f.GetSheetList()
	for _, sheet := range sheets {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		rows, err := f.GetRows(sheet)
		if err != nil {
			continue
		}

		var b strings.Builder
		b.WriteString(sheet)
		b.WriteString("\n")
		for _, row := range rows {
			b.WriteString(strings.Join(row, " | "))
			b.WriteString("\n")
		}
		parts = append(parts, b.String())
	}

	return &ExtractResult{
		Content: strings.Join(parts, "\n\n"),
		Title:   filepath.Base(path),
		Metadata: map[string]string{
			"type":   "xlsx",
			"sheets": fmt.Sprintf("%d", len(sheets)),
		},
	}, nil
}

func (e *Extractor) extractCSV(path string) (*ExtractResult, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open csv: %w", err)
	}
	defer file.Close()

	reader := csv.NewReader(file)
	reader.FieldsPerRecord = -1

	var b strings.Builder
	rows := 0
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to parse csv: %w", err)
		}
		b.WriteString(strings.Join(record, " | "))
		b.WriteString("\n")
		rows++
	}

	return &ExtractResult{
		Content: b.String(),
		Title:   filepath.Base(path),
		Metadata: map[string]string{
			"type": "csv",
			"rows": fmt.Sprintf("%d", rows),
		},
	}, nil
}

func (e *Extractor) extractPlain(path string) (*ExtractResult, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}

	return &ExtractResult{
		Content: string(data),
		Title:   filepath.Base(path),
		Metadata: map[string]string{
			"type": "text",
		},
	}, nil
}
