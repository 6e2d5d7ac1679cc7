package tools

import (
	"context"
	"encoding/json"

	"github.com/upb/maturity-gateway/internal/observability"
	"github.com/upb/maturity-gateway/services"
	"github.com/upb/maturity-gateway/services/redaction"
)

const transcribeAudioSchema = `{
	"type": "object",
	"properties": {
		"path": {"type": "string", "minLength": 1},
		"language": {"type": "string", "pattern": "^[a-z]{2,3}(-[A-Za-z]{2})?$"}
	},
	"required": ["path"],
	"additionalProperties": false
}`

const piiScrubSchema = `{
	"type": "object",
	"properties": {
		"text": {"type": "string"},
		"data": {"type": ["object", "array"]}
	},
	"oneOf": [
		{"required": ["text"]},
		{"required": ["data"]}
	],
	"additionalProperties": false
}`

// TranscribeAudio sends an audio file to the transcription service.
func TranscribeAudio(transcriber Transcriber) Tool {
	return Tool{
		Name:        "transcribe_audio",
		Description: "Transcribe an audio file from the engagement workspace",
		Operation:   "transcribe",
		Schema:      transcribeAudioSchema,
		Prepare: func(raw json.RawMessage) (Request, Func, error) {
			var args struct {
				Path     string `json:"path"`
				Language string `json:"language"`
			}
			if err := decodeArgs(raw, &args); err != nil {
				return Request{}, nil, err
			}
			fn := func(ctx context.Context, v Validated) (map[string]interface{}, error) {
				t, err := transcriber.Transcribe(ctx, v.Path, args.Language)
				if err != nil {
					return nil, err
				}
				return map[string]interface{}{
					"path":             v.RelPath(),
					"text":             t.Text,
					"language":         t.Language,
					"duration_seconds": t.DurationSeconds,
				}, nil
			}
			return Request{Path: args.Path, CheckSize: true}, fn, nil
		},
	}
}

// PIIScrub redacts free text or a JSON document with the tool vocabulary.
func PIIScrub(redactor *redaction.Redactor, metrics *observability.Metrics) Tool {
	return Tool{
		Name:        "pii_scrub",
		Description: "Redact personal data from text or JSON",
		Operation:   "scrub",
		Schema:      piiScrubSchema,
		Prepare: func(raw json.RawMessage) (Request, Func, error) {
			var args struct {
				Text *string     `json:"text"`
				Data interface{} `json:"data"`
			}
			if err := decodeArgs(raw, &args); err != nil {
				return Request{}, nil, err
			}
			if args.Text == nil && args.Data == nil {
				return Request{}, nil, services.NewValidationError("either text or data is required", nil)
			}

			req := Request{}
			if args.Text != nil {
				req.Text = *args.Text
			} else {
				req.Text = string(raw)
			}
			fn := func(ctx context.Context, v Validated) (map[string]interface{}, error) {
				out := map[string]interface{}{}
				var counts map[string]int
				if args.Text != nil {
					res := redactor.Redact(*args.Text)
					out["redacted_text"] = res.Text
					counts = res.Counts
				} else {
					out["redacted_data"], counts = redactor.RedactStructured(args.Data)
				}
				report := redactor.BuildReport(counts)
				out["report"] = report
				out["total_redactions"] = report.TotalRedactions
				metrics.AddRedactions(counts)
				return out, nil
			}
			return req, fn, nil
		},
	}
}
