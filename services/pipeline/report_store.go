package pipeline

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/upb/maturity-gateway/services"
	"github.com/upb/maturity-gateway/services/sandbox"
	"go.uber.org/zap"
)

const reportsDir = "reports"

// ReportStore persists final reports inside the engagement sandbox.
type ReportStore struct {
	roots  *sandbox.Roots
	logger *zap.Logger
}

// NewReportStore creates a ReportStore.
func NewReportStore(roots *sandbox.Roots, logger *zap.Logger) *ReportStore {
	return &ReportStore{roots: roots, logger: logger}
}

// Save writes report to {root}/reports/{projectID}.json and returns the
// path relative to the engagement root. The file is written to a temporary
// name and renamed, so readers never see a partial report.
func (s *ReportStore) Save(ctx context.Context, engagementID, projectID string, report map[string]interface{}) (string, error) {
	if err := sandbox.ValidateProjectID(projectID); err != nil {
		return "", err
	}
	root, err := s.roots.Ensure(engagementID)
	if err != nil {
		return "", err
	}

	rel := filepath.Join(reportsDir, projectID+".json")
	target, err := sandbox.Resolve(rel, root)
	if err != nil {
		return "", err
	}

	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return "", services.WrapInternal("failed to encode report", err)
	}
	if err := ctx.Err(); err != nil {
		return "", services.WrapInternal("report not saved", err)
	}

	dir := filepath.Dir(target)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return "", services.WrapInternal("failed to create reports directory", err)
	}
	tmp, err := os.CreateTemp(dir, "."+projectID+"-*.tmp")
	if err != nil {
		return "", services.WrapInternal("failed to create report file", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return "", services.WrapInternal("failed to write report", err)
	}
	if err := tmp.Close(); err != nil {
		return "", services.WrapInternal("failed to write report", err)
	}
	if err := os.Rename(tmp.Name(), target); err != nil {
		return "", services.WrapInternal("failed to store report", err)
	}

	s.logger.Info("report saved",
		zap.String("engagement_id", engagementID),
		zap.String("project_id", projectID),
		zap.Int("bytes", len(data)))
	return filepath.ToSlash(rel), nil
}

// Load reads a stored report.
func (s *ReportStore) Load(engagementID, projectID string) (map[string]interface{}, error) {
	if err := sandbox.ValidateProjectID(projectID); err != nil {
		return nil, err
	}
	root, err := s.roots.Path(engagementID)
	if err != nil {
		return nil, err
	}
	path, err := sandbox.Resolve(filepath.Join(reportsDir, projectID+".json"), root)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, services.NewNotFoundError("report not found", nil)
		}
		return nil, services.WrapInternal("failed to read report", err)
	}
	var report map[string]interface{}
	if err := json.Unmarshal(data, &report); err != nil {
		return nil, services.WrapInternal("stored report is corrupt", err)
	}
	return report, nil
}
