package tools

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/upb/maturity-gateway/internal/observability"
	"github.com/upb/maturity-gateway/models"
	"github.com/upb/maturity-gateway/services"
	"github.com/upb/maturity-gateway/services/redaction"
	"github.com/upb/maturity-gateway/services/sandbox"
	"go.uber.org/zap"
)

var testVectors = map[string][]float64{
	"firewall rules reviewed quarterly": {1, 0, 0},
	"mfa enforced for admins":           {0, 1, 0},
	"backups tested yearly":             {0.6, 0.8, 0},
	"network segmentation":              {0.9, 0.1, 0},
	"identity controls":                 {0, 1, 0},
}

func newEmbeddingServer(t *testing.T, status int) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/embed", r.URL.Path)
		assert.Equal(t, http.MethodPost, r.Method)
		if status != http.StatusOK {
			w.WriteHeader(status)
			return
		}
		var req embedRequest
		if !assert.NoError(t, json.NewDecoder(r.Body).Decode(&req)) {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		out := embedResponse{Model: req.Model}
		for _, text := range req.Texts {
			vec, ok := testVectors[text]
			if !ok {
				vec = []float64{3, 4, 0}
			}
			out.Embeddings = append(out.Embeddings, vec)
		}
		_ = json.NewEncoder(w).Encode(out)
	}))
	t.Cleanup(srv.Close)
	return srv
}

type registryFixture struct {
	*invokerFixture
	registry *Registry
	metrics  *observability.Metrics
}

func newRegistryFixture(t *testing.T, embeddingURL, transcriptionURL string) *registryFixture {
	t.Helper()
	f := newInvokerFixture(t, "")
	metrics := observability.NewMetrics()
	reg := NewRegistry(f.invoker, zap.NewNop())
	require.NoError(t, RegisterDefaults(reg, Dependencies{
		Embedder:       NewEmbeddingClient(ServiceConfig{BaseURL: embeddingURL}),
		EmbeddingModel: "all-MiniLM-L6-v2",
		Transcriber:    NewTranscriptionClient(ServiceConfig{BaseURL: transcriptionURL}),
		Redactor:       redaction.MustNew(redaction.VocabularyTool),
		Metrics:        metrics,
	}))
	return &registryFixture{invokerFixture: f, registry: reg, metrics: metrics}
}

func (f *registryFixture) call(t *testing.T, tool string, args interface{}) Result {
	t.Helper()
	raw, err := json.Marshal(args)
	require.NoError(t, err)
	return f.registry.Call(context.Background(), f.opCtx, tool, raw)
}

func TestRegistry_List(t *testing.T) {
	f := newRegistryFixture(t, "http://localhost:1", "http://localhost:1")

	var names []string
	for _, d := range f.registry.List() {
		names = append(names, d.Name)
		assert.True(t, json.Valid(d.Schema), d.Name)
	}
	assert.Equal(t, []string{
		"embed_texts", "fs_list", "fs_read", "fs_write", "pdf_parse", "pii_scrub", "transcribe_audio", "vector_query",
	}, names)
	assert.True(t, f.registry.Has("fs_read"))
	assert.False(t, f.registry.Has("shell_exec"))
}

func TestRegistry_RegisterRejectsDuplicatesAndBadSchemas(t *testing.T) {
	f := newRegistryFixture(t, "http://localhost:1", "http://localhost:1")

	assert.Error(t, f.registry.Register(FSRead()))

	bad := FSRead()
	bad.Name = "broken"
	bad.Schema = `{"type": 12}`
	assert.Error(t, f.registry.Register(bad))

	bad.Schema = `not json`
	assert.Error(t, f.registry.Register(bad))
}

func TestRegistry_UnknownTool(t *testing.T) {
	f := newRegistryFixture(t, "http://localhost:1", "http://localhost:1")

	res := f.call(t, "shell_exec", map[string]string{"cmd": "id"})

	assert.False(t, res.Success)
	assert.Equal(t, ErrorKindNotFound, res.ErrorKind)
	assert.Equal(t, http.StatusNotFound, res.HTTPStatus())
}

func TestRegistry_SchemaViolations(t *testing.T) {
	f := newRegistryFixture(t, "http://localhost:1", "http://localhost:1")

	tests := []struct {
		name string
		tool string
		args string
	}{
		{"missing path", "fs_read", `{}`},
		{"unknown property", "fs_read", `{"path": "a.txt", "mode": "rw"}`},
		{"bad encoding", "fs_write", `{"path": "a.txt", "content": "x", "encoding": "utf-16"}`},
		{"empty texts", "embed_texts", `{"texts": []}`},
		{"top_k too large", "vector_query", `{"query": "q", "embedding_file": "e.json", "top_k": 1000}`},
		{"text and data", "pii_scrub", `{"text": "a", "data": {"b": 1}}`},
		{"not json", "fs_read", `{"path":`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := f.registry.Call(context.Background(), f.opCtx, tt.tool, json.RawMessage(tt.args))
			assert.False(t, res.Success)
			assert.Equal(t, ErrorKindValidation, res.ErrorKind)
			assert.Equal(t, http.StatusBadRequest, res.HTTPStatus())
		})
	}
}

func TestFS_WriteReadRoundTrip(t *testing.T) {
	f := newRegistryFixture(t, "http://localhost:1", "http://localhost:1")
	content := "Maturity notes\nLevel 2: ad-hoc patching ✓\n"

	res := f.call(t, "fs_write", map[string]string{"path": "notes/summary.md", "content": content})
	require.True(t, res.Success, res.Error)
	assert.Equal(t, "notes/summary.md", res.Data["path"])
	assert.Equal(t, len(content), res.Data["size_bytes"])

	res = f.call(t, "fs_read", map[string]string{"path": "notes/summary.md"})
	require.True(t, res.Success, res.Error)
	assert.Equal(t, content, res.Data["content"])
	assert.Equal(t, EncodingUTF8, res.Data["encoding"])
}

func TestFS_WriteReadRoundTripBase64(t *testing.T) {
	f := newRegistryFixture(t, "http://localhost:1", "http://localhost:1")
	payload := []byte{0x00, 0xff, 0x10, 0x80, 'x'}
	encoded := base64.StdEncoding.EncodeToString(payload)

	res := f.call(t, "fs_write", map[string]string{"path": "raw.json", "content": encoded, "encoding": "base64"})
	require.True(t, res.Success, res.Error)

	onDisk, err := os.ReadFile(filepath.Join(f.root, "raw.json"))
	require.NoError(t, err)
	assert.Equal(t, payload, onDisk)

	res = f.call(t, "fs_read", map[string]string{"path": "raw.json", "encoding": "base64"})
	require.True(t, res.Success, res.Error)
	assert.Equal(t, encoded, res.Data["content"])

	res = f.call(t, "fs_read", map[string]string{"path": "raw.json"})
	assert.Equal(t, ErrorKindValidation, res.ErrorKind)
}

func TestFS_WriteInvalidBase64(t *testing.T) {
	f := newRegistryFixture(t, "http://localhost:1", "http://localhost:1")

	res := f.call(t, "fs_write", map[string]string{"path": "a.txt", "content": "%%%", "encoding": "base64"})

	assert.Equal(t, ErrorKindValidation, res.ErrorKind)
}

func TestFS_WriteOutsideSandbox(t *testing.T) {
	f := newRegistryFixture(t, "http://localhost:1", "http://localhost:1")

	res := f.call(t, "fs_write", map[string]string{"path": "../eng-2/notes.txt", "content": "x"})

	assert.Equal(t, ErrorKindSecurity, res.ErrorKind)
	_, err := os.Stat(filepath.Join(f.base, "engagements", "eng-2", "notes.txt"))
	assert.True(t, os.IsNotExist(err))
}

func TestFS_WriteThroughDanglingSymlink(t *testing.T) {
	f := newRegistryFixture(t, "http://localhost:1", "http://localhost:1")
	outside := t.TempDir()
	target := filepath.Join(outside, "escaped.txt")
	require.NoError(t, os.Symlink(target, filepath.Join(f.root, "link.txt")))

	res := f.call(t, "fs_write", map[string]string{"path": "link.txt", "content": "pwned"})

	assert.False(t, res.Success)
	assert.Equal(t, ErrorKindSecurity, res.ErrorKind)
	_, err := os.Stat(target)
	assert.True(t, os.IsNotExist(err))
}

func TestWriteFile_RefusesSymlink(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(t.TempDir(), "other.txt")
	link := filepath.Join(dir, "link.txt")
	require.NoError(t, os.Symlink(target, link))

	err := writeFile(link, []byte("x"))
	assert.True(t, services.IsPathTraversalError(err))
	_, statErr := os.Stat(target)
	assert.True(t, os.IsNotExist(statErr))
}

func TestFS_ListRootWithBlockedLookingName(t *testing.T) {
	f := newRegistryFixture(t, "http://localhost:1", "http://localhost:1")
	roots := sandbox.NewRoots(f.base)
	root, err := roots.Ensure("credentials-2024")
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(root, "notes.md"), []byte("x"), 0o640))

	opCtx, err := models.NewOperationContext("corr-2", "analyst@example.com", "credentials-2024")
	require.NoError(t, err)

	for _, path := range []string{".", ""} {
		raw, err := json.Marshal(map[string]string{"path": path})
		require.NoError(t, err)
		res := f.registry.Call(context.Background(), opCtx, "fs_list", raw)
		require.True(t, res.Success, res.Error)
		assert.Equal(t, 1, res.Data["count"])
	}

	// Blocked names below the root are still refused.
	raw, err := json.Marshal(map[string]string{"path": "credentials.txt", "content": "x"})
	require.NoError(t, err)
	res := f.registry.Call(context.Background(), opCtx, "fs_write", raw)
	assert.Equal(t, ErrorKindSecurity, res.ErrorKind)
}

func TestFS_List(t *testing.T) {
	f := newRegistryFixture(t, "http://localhost:1", "http://localhost:1")
	require.NoError(t, os.MkdirAll(filepath.Join(f.root, "docs"), 0o750))
	require.NoError(t, os.WriteFile(filepath.Join(f.root, "a.txt"), []byte("abc"), 0o640))

	res := f.call(t, "fs_list", map[string]string{})
	require.True(t, res.Success, res.Error)
	assert.Equal(t, 2, res.Data["count"])

	entries := res.Data["entries"].([]interface{})
	first := entries[0].(map[string]interface{})
	assert.Equal(t, "a.txt", first["name"])
	assert.Equal(t, int64(3), first["size_bytes"])
	second := entries[1].(map[string]interface{})
	assert.Equal(t, true, second["is_dir"])

	res = f.call(t, "fs_list", map[string]string{"path": "a.txt"})
	assert.Equal(t, ErrorKindValidation, res.ErrorKind)

	res = f.call(t, "fs_list", map[string]string{"path": "nope"})
	assert.Equal(t, ErrorKindNotFound, res.ErrorKind)
}

func TestPDFParse_RejectsNonPDF(t *testing.T) {
	f := newRegistryFixture(t, "http://localhost:1", "http://localhost:1")
	require.NoError(t, os.WriteFile(filepath.Join(f.root, "fake.pdf"), []byte("not a pdf"), 0o640))

	res := f.call(t, "pdf_parse", map[string]string{"path": "fake.pdf"})

	assert.False(t, res.Success)
	assert.Equal(t, ErrorKindValidation, res.ErrorKind)
}

func TestPDFParse_WrongExtension(t *testing.T) {
	f := newRegistryFixture(t, "http://localhost:1", "http://localhost:1")

	res := f.call(t, "pdf_parse", map[string]string{"path": "notes.txt"})

	assert.Equal(t, "file_type", res.ErrorType)
}

func TestEmbedAndQuery(t *testing.T) {
	srv := newEmbeddingServer(t, http.StatusOK)
	f := newRegistryFixture(t, srv.URL, "http://localhost:1")

	res := f.call(t, "embed_texts", map[string]interface{}{
		"texts":       []string{"firewall rules reviewed quarterly", "mfa enforced for admins", "backups tested yearly"},
		"normalize":   true,
		"output_file": "vectors/controls.json",
	})
	require.True(t, res.Success, res.Error)
	assert.Equal(t, 3, res.Data["count"])
	assert.Equal(t, 3, res.Data["dimension"])
	assert.Equal(t, "all-MiniLM-L6-v2", res.Data["model"])

	raw, err := os.ReadFile(filepath.Join(f.root, "vectors", "controls.json"))
	require.NoError(t, err)
	var store EmbeddingFile
	require.NoError(t, json.Unmarshal(raw, &store))
	assert.True(t, store.Normalized)
	assert.Len(t, store.Items, 3)

	res = f.call(t, "vector_query", map[string]interface{}{
		"query":                "identity controls",
		"embedding_file":       "vectors/controls.json",
		"top_k":                2,
		"similarity_threshold": 0.5,
	})
	require.True(t, res.Success, res.Error)
	results := res.Data["results"].([]interface{})
	require.Len(t, results, 2)
	best := results[0].(map[string]interface{})
	assert.Equal(t, "mfa enforced for admins", best["text"])
	assert.InDelta(t, 1.0, best["score"], 1e-9)
	second := results[1].(map[string]interface{})
	assert.Equal(t, "backups tested yearly", second["text"])
	assert.InDelta(t, 0.8, second["score"], 1e-9)
}

func TestEmbedTexts_DefaultOutputFile(t *testing.T) {
	srv := newEmbeddingServer(t, http.StatusOK)
	f := newRegistryFixture(t, srv.URL, "http://localhost:1")

	res := f.call(t, "embed_texts", map[string]interface{}{"texts": []string{"network segmentation"}})
	require.True(t, res.Success, res.Error)
	assert.Equal(t, DefaultEmbeddingFile, res.Data["output_file"])
	assert.FileExists(t, filepath.Join(f.root, "embeddings", "embeddings.json"))
}

func TestEmbedTexts_UpstreamFailure(t *testing.T) {
	srv := newEmbeddingServer(t, http.StatusServiceUnavailable)
	f := newRegistryFixture(t, srv.URL, "http://localhost:1")

	res := f.call(t, "embed_texts", map[string]interface{}{"texts": []string{"x"}})

	assert.Equal(t, ErrorKindUpstream, res.ErrorKind)
	assert.Equal(t, http.StatusBadGateway, res.HTTPStatus())
	assert.NoFileExists(t, filepath.Join(f.root, "embeddings", "embeddings.json"))
}

func TestVectorQuery_MissingFile(t *testing.T) {
	f := newRegistryFixture(t, "http://localhost:1", "http://localhost:1")

	res := f.call(t, "vector_query", map[string]interface{}{"query": "q", "embedding_file": "none.json"})

	assert.Equal(t, ErrorKindNotFound, res.ErrorKind)
}

func TestRank(t *testing.T) {
	store := &EmbeddingFile{Items: []EmbeddingItem{
		{Text: "a", Vector: []float64{1, 0}},
		{Text: "b", Vector: []float64{0, 1}},
		{Text: "c", Vector: []float64{1, 0}},
	}}

	matches, err := rank([]float64{1, 0}, store, 5, 0.1)
	require.NoError(t, err)
	require.Len(t, matches, 2)
	assert.Equal(t, 0, matches[0].Index, "ties keep file order")
	assert.Equal(t, 2, matches[1].Index)

	_, err = rank([]float64{1, 0, 0}, store, 5, 0)
	assert.Error(t, err)
}

func TestL2Normalize(t *testing.T) {
	assert.Equal(t, []float64{0.6, 0.8}, l2Normalize([]float64{3, 4}))
	assert.Equal(t, []float64{0, 0}, l2Normalize([]float64{0, 0}))
}

func TestTranscribeAudio(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/transcribe", r.URL.Path)
		file, header, err := r.FormFile("file")
		if !assert.NoError(t, err) {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		defer file.Close()
		body, _ := io.ReadAll(file)
		assert.Equal(t, "interview.wav", header.Filename)
		assert.Equal(t, "RIFF-audio", string(body))
		assert.Equal(t, "es", r.FormValue("language"))
		_ = json.NewEncoder(w).Encode(Transcription{Text: "hola", Language: "es", DurationSeconds: 1.5})
	}))
	defer srv.Close()

	f := newRegistryFixture(t, "http://localhost:1", srv.URL)
	require.NoError(t, os.WriteFile(filepath.Join(f.root, "interview.wav"), []byte("RIFF-audio"), 0o640))

	res := f.call(t, "transcribe_audio", map[string]string{"path": "interview.wav", "language": "es"})
	require.True(t, res.Success, res.Error)
	assert.Equal(t, "hola", res.Data["text"])
	assert.Equal(t, 1.5, res.Data["duration_seconds"])
}

func TestPIIScrub(t *testing.T) {
	f := newRegistryFixture(t, "http://localhost:1", "http://localhost:1")

	res := f.call(t, "pii_scrub", map[string]string{"text": "Mail ana@corp.example or call 555-123-4567"})
	require.True(t, res.Success, res.Error)
	assert.Equal(t, "Mail [REDACTED-EMAIL] or call [REDACTED-PHONE]", res.Data["redacted_text"])
	assert.Equal(t, 2, res.Data["total_redactions"])
	report := res.Data["report"].(redaction.Report)
	assert.Equal(t, []string{"email", "phone_dashed"}, report.PatternsUsed)

	res = f.call(t, "pii_scrub", map[string]interface{}{
		"data": map[string]interface{}{"owner": "ana@corp.example", "hosts": []string{"10.1.2.3"}},
	})
	require.True(t, res.Success, res.Error)
	data := res.Data["redacted_data"].(map[string]interface{})
	assert.Equal(t, "[REDACTED-EMAIL]", data["owner"])
	assert.Equal(t, []interface{}{"[REDACTED-IP]"}, data["hosts"])
}
