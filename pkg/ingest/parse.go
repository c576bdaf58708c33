package ingest

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"io"
	"strings"

	"github.com/ledongthuc/pdf"

	"github.com/quarrylabs/quarry/pkg/models"
)

// part is one parsed unit of a resource before extraction, normalization
// and embedding turn it into a chunk.
type part struct {
	chunkType  string
	text       string
	pageNumber *int
	rowIndex   *int
	image      []byte // raw bytes for image parts, processed later
}

// fileTypeFromMime maps a MIME type onto the file types the parsers
// dispatch on.
func fileTypeFromMime(mimeType string) string {
	mt := strings.ToLower(strings.TrimSpace(mimeType))
	if i := strings.Index(mt, ";"); i >= 0 {
		mt = strings.TrimSpace(mt[:i])
	}
	switch {
	case mt == "application/pdf":
		return models.FileTypePDF
	case mt == "text/csv" || mt == "application/csv":
		return models.FileTypeCSV
	case strings.HasPrefix(mt, "image/"):
		return models.FileTypeImage
	case strings.HasPrefix(mt, "text/"),
		mt == "application/json",
		mt == "application/xml":
		return models.FileTypeText
	default:
		return models.FileTypeOther
	}
}

// parse dispatches on file type and returns the ordered part sequence.
func (p *Pipeline) parse(fileType string, data []byte) ([]part, error) {
	switch fileType {
	case models.FileTypeText:
		return p.parseText(data), nil
	case models.FileTypePDF:
		return parsePDF(data)
	case models.FileTypeCSV:
		return parseCSV(data)
	case models.FileTypeImage:
		return []part{{chunkType: models.ChunkTypeRegion, image: data}}, nil
	default:
		return nil, ErrUnsupportedMimeType
	}
}

// parseText splits plain text by paragraphs into chunks around the
// configured size, with a trailing overlap carried into the next chunk.
// Short inputs stay a single part.
func (p *Pipeline) parseText(data []byte) []part {
	text := strings.TrimSpace(string(data))
	if text == "" {
		return nil
	}
	if len(text) <= p.chunkSize {
		return []part{{chunkType: models.ChunkTypeText, text: text}}
	}

	paragraphs := strings.Split(text, "\n\n")
	var parts []part
	var buf strings.Builder

	flush := func() {
		chunk := strings.TrimSpace(buf.String())
		if chunk == "" {
			return
		}
		parts = append(parts, part{chunkType: models.ChunkTypeText, text: chunk})
		buf.Reset()
		// Carry the tail of the previous chunk for continuity.
		if p.chunkOverlap > 0 && len(chunk) > p.chunkOverlap {
			buf.WriteString(chunk[len(chunk)-p.chunkOverlap:])
			buf.WriteString("\n")
		}
	}

	for _, paragraph := range paragraphs {
		paragraph = strings.TrimSpace(paragraph)
		if paragraph == "" {
			continue
		}
		if buf.Len() > 0 && buf.Len()+len(paragraph) > p.chunkSize {
			flush()
		}
		if buf.Len() > 0 {
			buf.WriteString("\n\n")
		}
		buf.WriteString(paragraph)
	}
	if chunk := strings.TrimSpace(buf.String()); chunk != "" {
		parts = append(parts, part{chunkType: models.ChunkTypeText, text: chunk})
	}
	return parts
}

// parsePDF produces one part per page.
func parsePDF(data []byte) ([]part, error) {
	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrParseFailed, err)
	}

	var parts []part
	for pageNum := 1; pageNum <= reader.NumPage(); pageNum++ {
		page := reader.Page(pageNum)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			continue
		}
		text = strings.TrimSpace(text)
		if text == "" {
			continue
		}
		n := pageNum
		parts = append(parts, part{
			chunkType:  models.ChunkTypePage,
			text:       text,
			pageNumber: &n,
		})
	}
	if len(parts) == 0 {
		return nil, fmt.Errorf("%w: no extractable pages", ErrParseFailed)
	}
	return parts, nil
}

// parseCSV produces one part per data row plus a single schema part with
// column statistics.
func parseCSV(data []byte) ([]part, error) {
	reader := csv.NewReader(bytes.NewReader(data))
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrParseFailed, err)
	}

	var parts []part
	rowCount := 0
	nonEmpty := make([]int, len(header))

	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%w: row %d: %v", ErrParseFailed, rowCount+1, err)
		}

		var fields []string
		for i, value := range record {
			value = strings.TrimSpace(value)
			if value == "" {
				continue
			}
			if i < len(nonEmpty) {
				nonEmpty[i]++
			}
			name := fmt.Sprintf("col%d", i)
			if i < len(header) {
				name = strings.TrimSpace(header[i])
			}
			fields = append(fields, fmt.Sprintf("%s: %s", name, value))
		}
		if len(fields) == 0 {
			rowCount++
			continue
		}

		row := rowCount
		parts = append(parts, part{
			chunkType: models.ChunkTypeRow,
			text:      strings.Join(fields, "; "),
			rowIndex:  &row,
		})
		rowCount++
	}

	if len(parts) == 0 {
		return nil, fmt.Errorf("%w: no data rows", ErrParseFailed)
	}

	var schema strings.Builder
	schema.WriteString("columns: ")
	schema.WriteString(strings.Join(header, ", "))
	schema.WriteString(fmt.Sprintf("; rows: %d", rowCount))
	for i, name := range header {
		schema.WriteString(fmt.Sprintf("; %s filled: %d", strings.TrimSpace(name), nonEmpty[i]))
	}
	parts = append(parts, part{chunkType: models.ChunkTypeText, text: schema.String()})

	return parts, nil
}
