package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"sort"
	"strings"

	"github.com/upb/maturity-gateway/services"
)

// DefaultEmbeddingFile is where embed_texts stores vectors when no output file is given.
const DefaultEmbeddingFile = "embeddings/embeddings.json"

const embedTextsSchema = `{
	"type": "object",
	"properties": {
		"texts": {"type": "array", "items": {"type": "string"}, "minItems": 1, "maxItems": 2048},
		"model": {"type": "string"},
		"normalize": {"type": "boolean"},
		"output_file": {"type": "string", "minLength": 1}
	},
	"required": ["texts"],
	"additionalProperties": false
}`

const vectorQuerySchema = `{
	"type": "object",
	"properties": {
		"query": {"type": "string", "minLength": 1},
		"embedding_file": {"type": "string", "minLength": 1},
		"top_k": {"type": "integer", "minimum": 1, "maximum": 100},
		"similarity_threshold": {"type": "number", "minimum": -1, "maximum": 1}
	},
	"required": ["query", "embedding_file"],
	"additionalProperties": false
}`

// EmbeddingFile is the on-disk vector store written by embed_texts.
type EmbeddingFile struct {
	Model      string          `json:"model"`
	Dimension  int             `json:"dimension"`
	Normalized bool            `json:"normalized"`
	Items      []EmbeddingItem `json:"items"`
}

// EmbeddingItem pairs a text with its vector.
type EmbeddingItem struct {
	Text   string    `json:"text"`
	Vector []float64 `json:"vector"`
}

// EmbedTexts embeds texts and stores the vectors in the sandbox.
func EmbedTexts(embedder Embedder, defaultModel string) Tool {
	return Tool{
		Name:        "embed_texts",
		Description: "Embed texts and store the vectors in the engagement workspace",
		Operation:   "embed",
		Schema:      embedTextsSchema,
		Prepare: func(raw json.RawMessage) (Request, Func, error) {
			var args struct {
				Texts      []string `json:"texts"`
				Model      string   `json:"model"`
				Normalize  bool     `json:"normalize"`
				OutputFile string   `json:"output_file"`
			}
			if err := decodeArgs(raw, &args); err != nil {
				return Request{}, nil, err
			}
			if args.Model == "" {
				args.Model = defaultModel
			}
			if args.OutputFile == "" {
				args.OutputFile = DefaultEmbeddingFile
			}
			fn := func(ctx context.Context, v Validated) (map[string]interface{}, error) {
				vectors, err := embedder.Embed(ctx, args.Texts, args.Model)
				if err != nil {
					return nil, err
				}
				store, err := buildEmbeddingFile(args.Texts, vectors, args.Model, args.Normalize)
				if err != nil {
					return nil, err
				}
				data, err := json.Marshal(store)
				if err != nil {
					return nil, services.WrapInternal("failed to encode embeddings", err)
				}
				if err := writeFile(v.Path, data); err != nil {
					return nil, err
				}
				return map[string]interface{}{
					"output_file": v.RelPath(),
					"count":       len(store.Items),
					"dimension":   store.Dimension,
					"model":       store.Model,
					"normalized":  store.Normalized,
				}, nil
			}
			return Request{Path: args.OutputFile, Text: strings.Join(args.Texts, "\n")}, fn, nil
		},
	}
}

func buildEmbeddingFile(texts []string, vectors [][]float64, model string, normalize bool) (*EmbeddingFile, error) {
	store := &EmbeddingFile{Model: model, Normalized: normalize, Items: make([]EmbeddingItem, len(texts))}
	for i, text := range texts {
		vec := vectors[i]
		if i == 0 {
			store.Dimension = len(vec)
		} else if len(vec) != store.Dimension {
			return nil, services.WrapExternal("embedding service returned vectors of mixed dimension", nil)
		}
		if normalize {
			vec = l2Normalize(vec)
		}
		store.Items[i] = EmbeddingItem{Text: text, Vector: vec}
	}
	return store, nil
}

// VectorQuery ranks stored texts by cosine similarity to a query.
func VectorQuery(embedder Embedder, defaultModel string) Tool {
	return Tool{
		Name:        "vector_query",
		Description: "Rank stored embeddings by similarity to a query",
		Operation:   "query",
		Schema:      vectorQuerySchema,
		Prepare: func(raw json.RawMessage) (Request, Func, error) {
			args := struct {
				Query               string  `json:"query"`
				EmbeddingFile       string  `json:"embedding_file"`
				TopK                int     `json:"top_k"`
				SimilarityThreshold float64 `json:"similarity_threshold"`
			}{TopK: 5}
			if err := decodeArgs(raw, &args); err != nil {
				return Request{}, nil, err
			}
			fn := func(ctx context.Context, v Validated) (map[string]interface{}, error) {
				store, err := loadEmbeddingFile(v.Path)
				if err != nil {
					return nil, err
				}
				model := store.Model
				if model == "" {
					model = defaultModel
				}
				vectors, err := embedder.Embed(ctx, []string{args.Query}, model)
				if err != nil {
					return nil, err
				}
				matches, err := rank(vectors[0], store, args.TopK, args.SimilarityThreshold)
				if err != nil {
					return nil, err
				}
				results := make([]interface{}, len(matches))
				for i, m := range matches {
					results[i] = map[string]interface{}{"index": m.Index, "text": m.Text, "score": m.Score}
				}
				return map[string]interface{}{
					"results":        results,
					"count":          len(results),
					"embedding_file": v.RelPath(),
				}, nil
			}
			return Request{Path: args.EmbeddingFile, Text: args.Query, CheckSize: true}, fn, nil
		},
	}
}

func loadEmbeddingFile(path string) (*EmbeddingFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fsError(err)
	}
	var store EmbeddingFile
	if err := json.Unmarshal(data, &store); err != nil {
		return nil, services.NewValidationError("embedding file is not valid JSON", err)
	}
	return &store, nil
}

// Match is one ranked vector-query hit.
type Match struct {
	Index int
	Text  string
	Score float64
}

// rank returns up to topK items with score >= threshold, best first. Ties
// keep file order.
func rank(query []float64, store *EmbeddingFile, topK int, threshold float64) ([]Match, error) {
	matches := make([]Match, 0, len(store.Items))
	for i, item := range store.Items {
		if len(item.Vector) != len(query) {
			return nil, services.NewValidationError(
				fmt.Sprintf("dimension mismatch: query has %d, item %d has %d", len(query), i, len(item.Vector)), nil)
		}
		score := cosine(query, item.Vector)
		if score >= threshold {
			matches = append(matches, Match{Index: i, Text: item.Text, Score: score})
		}
	}
	sort.SliceStable(matches, func(a, b int) bool { return matches[a].Score > matches[b].Score })
	if topK > 0 && len(matches) > topK {
		matches = matches[:topK]
	}
	return matches, nil
}

func cosine(a, b []float64) float64 {
	var dot, na, nb float64
	for i := range a {
		dot += a[i] * b[i]
		na += a[i] * a[i]
		nb += b[i] * b[i]
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

func l2Normalize(v []float64) []float64 {
	var sum float64
	for _, x := range v {
		sum += x * x
	}
	out := make([]float64, len(v))
	if sum == 0 {
		return out
	}
	norm := math.Sqrt(sum)
	for i, x := range v {
		out[i] = x / norm
	}
	return out
}
