package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/upb/maturity-gateway/services"
)

// maxResponseBytes caps the body read from a downstream service.
const maxResponseBytes = 64 << 20

// Embedder turns texts into vectors.
type Embedder interface {
	Embed(ctx context.Context, texts []string, model string) ([][]float64, error)
}

// Transcriber turns an audio file into text.
type Transcriber interface {
	Transcribe(ctx context.Context, path, language string) (*Transcription, error)
}

// Transcription is the transcription service's answer.
type Transcription struct {
	Text            string  `json:"text"`
	Language        string  `json:"language"`
	DurationSeconds float64 `json:"duration"`
}

// ServiceConfig configures a downstream HTTP service.
type ServiceConfig struct {
	BaseURL string
	Timeout time.Duration
}

// EmbeddingClient calls the embedding service.
type EmbeddingClient struct {
	baseURL    string
	httpClient *http.Client
}

// NewEmbeddingClient creates an EmbeddingClient.
func NewEmbeddingClient(cfg ServiceConfig) *EmbeddingClient {
	if cfg.Timeout == 0 {
		cfg.Timeout = 60 * time.Second
	}
	return &EmbeddingClient{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		httpClient: &http.Client{Timeout: cfg.Timeout},
	}
}

type embedRequest struct {
	Texts []string `json:"texts"`
	Model string   `json:"model,omitempty"`
}

type embedResponse struct {
	Embeddings [][]float64 `json:"embeddings"`
	Model      string      `json:"model"`
}

// Embed posts texts to {base}/embed.
func (c *EmbeddingClient) Embed(ctx context.Context, texts []string, model string) ([][]float64, error) {
	body, err := json.Marshal(embedRequest{Texts: texts, Model: model})
	if err != nil {
		return nil, services.WrapInternal("failed to marshal embedding request", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/embed", bytes.NewReader(body))
	if err != nil {
		return nil, services.WrapInternal("failed to create embedding request", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	var resp embedResponse
	if err := doJSON(c.httpClient, httpReq, "embedding service", &resp); err != nil {
		return nil, err
	}
	if len(resp.Embeddings) != len(texts) {
		return nil, services.WrapExternal(
			fmt.Sprintf("embedding service returned %d vectors for %d texts", len(resp.Embeddings), len(texts)), nil)
	}
	return resp.Embeddings, nil
}

// TranscriptionClient calls the transcription service.
type TranscriptionClient struct {
	baseURL    string
	httpClient *http.Client
}

// NewTranscriptionClient creates a TranscriptionClient.
func NewTranscriptionClient(cfg ServiceConfig) *TranscriptionClient {
	if cfg.Timeout == 0 {
		cfg.Timeout = 60 * time.Second
	}
	return &TranscriptionClient{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		httpClient: &http.Client{Timeout: cfg.Timeout},
	}
}

// Transcribe uploads the file as multipart form field "file" to {base}/transcribe.
func (c *TranscriptionClient) Transcribe(ctx context.Context, path, language string) (*Transcription, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fsError(err)
	}
	defer f.Close()

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	part, err := w.CreateFormFile("file", filepath.Base(path))
	if err != nil {
		return nil, services.WrapInternal("failed to build upload", err)
	}
	if _, err := io.Copy(part, f); err != nil {
		return nil, services.WrapInternal("failed to read audio file", err)
	}
	if language != "" {
		if err := w.WriteField("language", language); err != nil {
			return nil, services.WrapInternal("failed to build upload", err)
		}
	}
	if err := w.Close(); err != nil {
		return nil, services.WrapInternal("failed to build upload", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/transcribe", &buf)
	if err != nil {
		return nil, services.WrapInternal("failed to create transcription request", err)
	}
	httpReq.Header.Set("Content-Type", w.FormDataContentType())

	var resp Transcription
	if err := doJSON(c.httpClient, httpReq, "transcription service", &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// doJSON executes req once and decodes a 2xx JSON body into out. Transport
// failures and non-2xx answers are external errors.
func doJSON(client *http.Client, req *http.Request, service string, out interface{}) error {
	resp, err := client.Do(req)
	if err != nil {
		return services.WrapExternal(service+" request failed", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return services.WrapExternal("failed to read "+service+" response", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return services.NewDomainError(services.ErrorTypeExternal,
			fmt.Sprintf("%s returned status %d", service, resp.StatusCode), nil).
			WithDetail("status", resp.StatusCode)
	}
	if err := json.Unmarshal(body, out); err != nil {
		return services.WrapExternal("invalid "+service+" response", err)
	}
	return nil
}
