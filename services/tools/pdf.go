package tools

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/ledongthuc/pdf"
	"github.com/upb/maturity-gateway/services"
)

const pdfParseSchema = `{
	"type": "object",
	"properties": {
		"path": {"type": "string", "minLength": 1},
		"max_pages": {"type": "integer", "minimum": 1}
	},
	"required": ["path"],
	"additionalProperties": false
}`

// PDFParse extracts plain text per page.
func PDFParse() Tool {
	return Tool{
		Name:        "pdf_parse",
		Description: "Extract text from a PDF in the engagement workspace",
		Operation:   "parse",
		Schema:      pdfParseSchema,
		Prepare: func(raw json.RawMessage) (Request, Func, error) {
			var args struct {
				Path     string `json:"path"`
				MaxPages int    `json:"max_pages"`
			}
			if err := decodeArgs(raw, &args); err != nil {
				return Request{}, nil, err
			}
			fn := func(ctx context.Context, v Validated) (map[string]interface{}, error) {
				return extractPDF(ctx, v, args.MaxPages)
			}
			return Request{Path: args.Path, CheckSize: true}, fn, nil
		},
	}
}

func extractPDF(ctx context.Context, v Validated, maxPages int) (map[string]interface{}, error) {
	f, r, err := pdf.Open(v.Path)
	if err != nil {
		return nil, services.NewValidationError("file is not a readable PDF", nil)
	}
	defer f.Close()

	total := r.NumPage()
	limit := total
	if maxPages > 0 && maxPages < total {
		limit = maxPages
	}

	pages := make([]interface{}, 0, limit)
	var all strings.Builder
	for n := 1; n <= limit; n++ {
		if err := ctx.Err(); err != nil {
			return nil, services.WrapInternal("pdf extraction cancelled", err)
		}
		page := r.Page(n)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			return nil, services.NewValidationError("failed to extract text from PDF page", err)
		}
		pages = append(pages, map[string]interface{}{"page": n, "text": text})
		if all.Len() > 0 {
			all.WriteString("\n\n")
		}
		all.WriteString(text)
	}

	return map[string]interface{}{
		"path":            v.RelPath(),
		"pages":           pages,
		"page_count":      total,
		"pages_extracted": len(pages),
		"text":            all.String(),
	}, nil
}
