package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/upb/maturity-gateway/services"
	"github.com/upb/maturity-gateway/services/pipeline"
	"go.uber.org/zap"
)

// MockPipelineRunner is a mock implementation of PipelineRunner
type MockPipelineRunner struct {
	mock.Mock
}

func (m *MockPipelineRunner) Run(ctx context.Context, projectID, engagementID string) (*pipeline.Summary, error) {
	args := m.Called(ctx, projectID, engagementID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*pipeline.Summary), args.Error(1)
}

// MockReportLoader is a mock implementation of ReportLoader
type MockReportLoader struct {
	mock.Mock
}

func (m *MockReportLoader) Load(engagementID, projectID string) (map[string]interface{}, error) {
	args := m.Called(engagementID, projectID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(map[string]interface{}), args.Error(1)
}

func newPipelineRouter(runner PipelineRunner, reports ReportLoader) http.Handler {
	h := NewPipelineHandler(runner, reports, zap.NewNop())
	r := chi.NewRouter()
	r.Post("/api/v1/projects/{projectID}/analyze", h.HandleAnalyze)
	r.Get("/api/v1/engagements/{engagementID}/reports/{projectID}", h.HandleGetReport)
	return r
}

func TestHandleAnalyze(t *testing.T) {
	t.Run("success without body", func(t *testing.T) {
		runner := new(MockPipelineRunner)
		summary := &pipeline.Summary{
			Status:        "completed",
			Counts:        pipeline.Counts{Evidence: 2, Gaps: 3, Initiatives: 2, Prioritized: 2, RoadmapItems: 4},
			ProjectID:     "proj-1",
			EngagementID:  "proj-1",
			CorrelationID: "corr-1",
			ReportPath:    "reports/proj-1.json",
		}
		runner.On("Run", mock.Anything, "proj-1", "").Return(summary, nil)

		req := httptest.NewRequest(http.MethodPost, "/api/v1/projects/proj-1/analyze", nil)
		w := httptest.NewRecorder()
		newPipelineRouter(runner, new(MockReportLoader)).ServeHTTP(w, req)

		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
		var response map[string]interface{}
		require.NoError(t, json.NewDecoder(w.Body).Decode(&response))
		assert.Equal(t, "completed", response["status"])
		assert.Equal(t, "reports/proj-1.json", response["report_path"])
		counts := response["summary"].(map[string]interface{})
		assert.Equal(t, float64(3), counts["gaps"])
		assert.Equal(t, float64(4), counts["roadmap_items"])
		runner.AssertExpectations(t)
	})

	t.Run("engagement from body", func(t *testing.T) {
		runner := new(MockPipelineRunner)
		runner.On("Run", mock.Anything, "proj-1", "eng-9").
			Return(&pipeline.Summary{Status: "completed", EngagementID: "eng-9"}, nil)

		req := httptest.NewRequest(http.MethodPost, "/api/v1/projects/proj-1/analyze",
			strings.NewReader(`{"engagement_id":"eng-9"}`))
		w := httptest.NewRecorder()
		newPipelineRouter(runner, new(MockReportLoader)).ServeHTTP(w, req)

		assert.Equal(t, http.StatusOK, w.Code)
		runner.AssertExpectations(t)
	})

	t.Run("invalid engagement in body", func(t *testing.T) {
		runner := new(MockPipelineRunner)

		req := httptest.NewRequest(http.MethodPost, "/api/v1/projects/proj-1/analyze",
			strings.NewReader(`{"engagement_id":"../etc"}`))
		w := httptest.NewRecorder()
		newPipelineRouter(runner, new(MockReportLoader)).ServeHTTP(w, req)

		assert.Equal(t, http.StatusBadRequest, w.Code)
		runner.AssertNotCalled(t, "Run", mock.Anything, mock.Anything, mock.Anything)
	})

	errorCases := []struct {
		name           string
		err            error
		expectedStatus int
	}{
		{name: "stage failure", err: services.NewDomainError(services.ErrorTypeExternal, "stage gap_analysis failed", nil).WithDetail("stage", "gap_analysis"), expectedStatus: http.StatusBadGateway},
		{name: "unknown project", err: services.NewNotFoundError("project not found", nil), expectedStatus: http.StatusNotFound},
		{name: "invalid project id", err: services.NewValidationError("invalid project id", nil), expectedStatus: http.StatusBadRequest},
	}
	for _, tt := range errorCases {
		t.Run(tt.name, func(t *testing.T) {
			runner := new(MockPipelineRunner)
			runner.On("Run", mock.Anything, "proj-1", "").Return(nil, tt.err)

			req := httptest.NewRequest(http.MethodPost, "/api/v1/projects/proj-1/analyze", nil)
			w := httptest.NewRecorder()
			newPipelineRouter(runner, new(MockReportLoader)).ServeHTTP(w, req)

			assert.Equal(t, tt.expectedStatus, w.Code, w.Body.String())
			runner.AssertExpectations(t)
		})
	}
}

func TestHandleGetReport(t *testing.T) {
	t.Run("found", func(t *testing.T) {
		reports := new(MockReportLoader)
		reports.On("Load", "eng-1", "proj-1").Return(map[string]interface{}{
			"project_id": "proj-1",
			"stages":     map[string]interface{}{},
		}, nil)

		req := httptest.NewRequest(http.MethodGet, "/api/v1/engagements/eng-1/reports/proj-1", nil)
		w := httptest.NewRecorder()
		newPipelineRouter(new(MockPipelineRunner), reports).ServeHTTP(w, req)

		require.Equal(t, http.StatusOK, w.Code)
		var response map[string]interface{}
		require.NoError(t, json.NewDecoder(w.Body).Decode(&response))
		data := response["data"].(map[string]interface{})
		assert.Equal(t, "proj-1", data["project_id"])
		reports.AssertExpectations(t)
	})

	t.Run("not found", func(t *testing.T) {
		reports := new(MockReportLoader)
		reports.On("Load", "eng-1", "proj-2").Return(nil, services.NewNotFoundError("report not found", nil))

		req := httptest.NewRequest(http.MethodGet, "/api/v1/engagements/eng-1/reports/proj-2", nil)
		w := httptest.NewRecorder()
		newPipelineRouter(new(MockPipelineRunner), reports).ServeHTTP(w, req)

		assert.Equal(t, http.StatusNotFound, w.Code)
	})

	t.Run("invalid engagement", func(t *testing.T) {
		reports := new(MockReportLoader)

		req := httptest.NewRequest(http.MethodGet, "/api/v1/engagements/.hidden/reports/proj-1", nil)
		w := httptest.NewRecorder()
		newPipelineRouter(new(MockPipelineRunner), reports).ServeHTTP(w, req)

		assert.Equal(t, http.StatusBadRequest, w.Code)
		reports.AssertNotCalled(t, "Load", mock.Anything, mock.Anything)
	})
}
