package tools

import (
	"fmt"

	"github.com/upb/maturity-gateway/internal/observability"
	"github.com/upb/maturity-gateway/services/redaction"
)

// Dependencies are the collaborators of the built-in tools.
type Dependencies struct {
	Embedder       Embedder
	EmbeddingModel string
	Transcriber    Transcriber
	Redactor       *redaction.Redactor
	Metrics        *observability.Metrics
}

// RegisterDefaults registers the built-in tools.
func RegisterDefaults(r *Registry, deps Dependencies) error {
	if deps.Redactor == nil {
		redactor, err := redaction.New(redaction.VocabularyTool)
		if err != nil {
			return err
		}
		deps.Redactor = redactor
	}

	all := []Tool{
		FSRead(),
		FSWrite(),
		FSList(),
		PDFParse(),
		EmbedTexts(deps.Embedder, deps.EmbeddingModel),
		VectorQuery(deps.Embedder, deps.EmbeddingModel),
		TranscribeAudio(deps.Transcriber),
		PIIScrub(deps.Redactor, deps.Metrics),
	}
	for _, t := range all {
		if err := r.Register(t); err != nil {
			return fmt.Errorf("register %s: %w", t.Name, err)
		}
	}
	return nil
}
