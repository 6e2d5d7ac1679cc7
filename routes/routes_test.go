package routes

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/upb/maturity-gateway/app"
	"github.com/upb/maturity-gateway/config"
	"github.com/upb/maturity-gateway/handlers"
	"github.com/upb/maturity-gateway/internal/auth"
	"github.com/upb/maturity-gateway/internal/observability"
	"github.com/upb/maturity-gateway/middleware"
	"github.com/upb/maturity-gateway/models"
	"github.com/upb/maturity-gateway/services/audit"
	"github.com/upb/maturity-gateway/services/contentpolicy"
	"github.com/upb/maturity-gateway/services/sandbox"
	"github.com/upb/maturity-gateway/services/tools"
	"go.uber.org/zap"
)

type nopAudit struct{}

func (nopAudit) LogToolOperationStart(models.OperationContext, map[string]interface{}) error {
	return nil
}

func (nopAudit) LogToolOperationComplete(models.OperationContext, audit.Outcome) error {
	return nil
}

func testDeps(t *testing.T, validator *auth.Validator) *app.Dependencies {
	t.Helper()
	logger := zap.NewNop()
	dataPath := t.TempDir()

	registry := tools.NewRegistry(
		tools.NewInvoker(sandbox.NewRoots(dataPath), contentpolicy.DefaultSet(), nopAudit{}, logger), logger)
	require.NoError(t, tools.RegisterDefaults(registry, tools.Dependencies{}))

	metrics := observability.NewMetrics()
	deps := &app.Dependencies{
		Config: &config.Config{
			Server: config.ServerConfig{AllowedOrigins: []string{"http://localhost:3000"}},
		},
		Logger:           logger,
		Metrics:          metrics,
		Tools:            registry,
		HealthHandler:    handlers.NewHealthHandler(nil, nil, dataPath, logger),
		ToolHandler:      handlers.NewToolHandler(registry, logger),
		RedactionHandler: handlers.NewRedactionHandler(metrics, logger),
		PipelineHandler:  handlers.NewPipelineHandler(nil, nil, logger),
		AuditHandler:     handlers.NewAuditHandler(nil, logger),
	}
	if validator != nil {
		deps.AuthMiddleware = middleware.NewAuthMiddleware(validator, logger)
	}
	return deps
}

func newValidator(t *testing.T) *auth.Validator {
	t.Helper()
	v, err := auth.NewValidator(auth.Config{Secret: "routes-secret", Issuer: "gateway-test"})
	require.NoError(t, err)
	return v
}

func tokenFor(t *testing.T, v *auth.Validator, role auth.Role) string {
	t.Helper()
	token, err := v.IssueToken(auth.Principal{Subject: "user-1", Roles: []auth.Role{role}}, "", time.Minute)
	require.NoError(t, err)
	return token
}

func serve(handler http.Handler, method, path, token, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	return w
}

func TestSetupRoutes_Public(t *testing.T) {
	handler := SetupRoutes(testDeps(t, newValidator(t)))

	t.Run("healthz", func(t *testing.T) {
		w := serve(handler, http.MethodGet, "/healthz", "", "")
		assert.Equal(t, http.StatusOK, w.Code)
		assert.NotEmpty(t, w.Header().Get(middleware.CorrelationHeader))
	})

	t.Run("readyz", func(t *testing.T) {
		w := serve(handler, http.MethodGet, "/readyz", "", "")
		assert.Equal(t, http.StatusOK, w.Code)
	})

	t.Run("metrics", func(t *testing.T) {
		w := serve(handler, http.MethodGet, "/metrics", "", "")
		assert.Equal(t, http.StatusOK, w.Code)
	})

	t.Run("unknown endpoint", func(t *testing.T) {
		w := serve(handler, http.MethodGet, "/nope", "", "")
		assert.Equal(t, http.StatusNotFound, w.Code)
		assert.JSONEq(t, `{"error":"endpoint not found"}`, w.Body.String())
	})

	t.Run("correlation id is echoed", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
		req.Header.Set(middleware.CorrelationHeader, "client-corr-1")
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)
		assert.Equal(t, "client-corr-1", w.Header().Get(middleware.CorrelationHeader))
	})
}

func TestSetupRoutes_Auth(t *testing.T) {
	v := newValidator(t)
	handler := SetupRoutes(testDeps(t, v))

	viewer := tokenFor(t, v, auth.RoleViewer)
	analyst := tokenFor(t, v, auth.RoleAnalyst)

	tests := []struct {
		name           string
		method         string
		path           string
		token          string
		body           string
		expectedStatus int
	}{
		{name: "no token", method: http.MethodGet, path: "/api/v1/tools", expectedStatus: http.StatusUnauthorized},
		{name: "garbage token", method: http.MethodGet, path: "/api/v1/tools", token: "not-a-jwt", expectedStatus: http.StatusUnauthorized},
		{name: "viewer lists tools", method: http.MethodGet, path: "/api/v1/tools", token: viewer, expectedStatus: http.StatusOK},
		{name: "viewer cannot redact", method: http.MethodPost, path: "/api/v1/redact", token: viewer, body: `{"text":"a"}`, expectedStatus: http.StatusForbidden},
		{name: "viewer cannot invoke tools", method: http.MethodPost, path: "/api/v1/engagements/eng-1/tools/fs_list", token: viewer, body: `{}`, expectedStatus: http.StatusForbidden},
		{name: "analyst redacts", method: http.MethodPost, path: "/api/v1/redact", token: analyst, body: `{"text":"mail ana@example.com"}`, expectedStatus: http.StatusOK},
		{name: "analyst lists patterns", method: http.MethodGet, path: "/api/v1/redact/patterns", token: analyst, expectedStatus: http.StatusOK},
		{name: "analyst invokes tool", method: http.MethodPost, path: "/api/v1/engagements/eng-1/tools/fs_write", token: analyst, body: `{"path":"a.md","content":"x"}`, expectedStatus: http.StatusOK},
		{name: "analyst cannot read audit", method: http.MethodGet, path: "/api/v1/audit/corr-1", token: analyst, expectedStatus: http.StatusForbidden},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := serve(handler, tt.method, tt.path, tt.token, tt.body)
			assert.Equal(t, tt.expectedStatus, w.Code, w.Body.String())
		})
	}
}

func TestSetupRoutes_AuthDisabled(t *testing.T) {
	handler := SetupRoutes(testDeps(t, nil))

	w := serve(handler, http.MethodGet, "/api/v1/tools", "", "")
	require.Equal(t, http.StatusOK, w.Code)

	var response struct {
		Data []tools.Descriptor `json:"data"`
	}
	require.NoError(t, json.NewDecoder(w.Body).Decode(&response))
	assert.Len(t, response.Data, 8)

	w = serve(handler, http.MethodPost, "/api/v1/engagements/eng-1/tools/fs_list", "", `{}`)
	assert.Equal(t, http.StatusOK, w.Code, w.Body.String())
}
