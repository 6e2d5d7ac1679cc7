package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/upb/maturity-gateway/internal/observability"
	"github.com/upb/maturity-gateway/internal/shared"
	"github.com/upb/maturity-gateway/models"
	"github.com/upb/maturity-gateway/repositories"
	"github.com/upb/maturity-gateway/services"
	"github.com/upb/maturity-gateway/services/sandbox"
	"go.uber.org/zap"
)

// AuditSink receives pipeline lifecycle events.
type AuditSink interface {
	LogPipelineEvent(opCtx models.OperationContext, action models.AuditAction, details map[string]interface{}) error
}

// Caller runs one stage.
type Caller interface {
	Call(ctx context.Context, stage Stage, payload map[string]interface{}, opCtx models.OperationContext) (StageResult, error)
	MCPEnabled() bool
}

// Counts summarises the analysis.
type Counts struct {
	Evidence     int `json:"evidence"`
	Gaps         int `json:"gaps"`
	Initiatives  int `json:"initiatives"`
	Prioritized  int `json:"prioritized"`
	RoadmapItems int `json:"roadmap_items"`
}

// Summary is returned by a successful run.
type Summary struct {
	Status        string `json:"status"`
	Counts        Counts `json:"summary"`
	MCPEnabled    bool   `json:"mcp_enabled"`
	ProjectID     string `json:"project_id"`
	EngagementID  string `json:"engagement_id"`
	CorrelationID string `json:"correlation_id"`
	ReportPath    string `json:"report_path"`
}

// Orchestrator chains the six stages for one project.
type Orchestrator struct {
	projects repositories.ProjectRepository
	txm      repositories.TransactionManager
	caller   Caller
	store    *ReportStore
	audit    AuditSink
	metrics  *observability.Metrics
	logger   *zap.Logger
}

// NewOrchestrator creates an Orchestrator.
func NewOrchestrator(projects repositories.ProjectRepository, caller Caller, store *ReportStore, sink AuditSink, metrics *observability.Metrics, logger *zap.Logger) *Orchestrator {
	return &Orchestrator{
		projects: projects,
		caller:   caller,
		store:    store,
		audit:    sink,
		metrics:  metrics,
		logger:   logger,
	}
}

// WithTransactions makes the orchestrator read a project and its documents
// inside one transaction, so a concurrent upload never yields a project
// paired with a partial document list.
func (o *Orchestrator) WithTransactions(tm repositories.TransactionManager) *Orchestrator {
	o.txm = tm
	return o
}

// Run analyses projectID. engagementID defaults to projectID. The
// correlation id and user are taken from ctx when present. Any stage
// failure aborts the run before anything is persisted.
func (o *Orchestrator) Run(ctx context.Context, projectID, engagementID string) (*Summary, error) {
	if engagementID == "" {
		engagementID = projectID
	}
	if err := sandbox.ValidateProjectID(projectID); err != nil {
		return nil, err
	}
	if err := sandbox.ValidateEngagementID(engagementID); err != nil {
		return nil, err
	}

	correlationID := shared.CorrelationID(ctx)
	if correlationID == "" {
		correlationID = uuid.NewString()
	}
	opCtx, err := models.NewOperationContext(correlationID, shared.UserID(ctx), engagementID)
	if err != nil {
		return nil, services.NewValidationError(err.Error(), nil)
	}
	opCtx = opCtx.WithTool("pipeline").WithOperation("analyze")

	start := time.Now()
	summary, err := o.run(ctx, opCtx, projectID)
	o.metrics.ObservePipeline(err == nil)
	if err != nil {
		o.event(opCtx, models.AuditActionPipelineFailed, map[string]interface{}{
			"project_id": projectID,
			"error_type": string(services.GetErrorType(err)),
			"stage":      services.GetErrorDetails(err)["stage"],
		})
		o.logger.Error("pipeline failed", append(opCtx.ZapFields(),
			zap.String("project_id", projectID), zap.Error(err))...)
		return nil, err
	}

	o.event(opCtx, models.AuditActionPipelineCompleted, map[string]interface{}{
		"project_id":  projectID,
		"duration_ms": time.Since(start).Milliseconds(),
		"report_path": summary.ReportPath,
	})
	o.logger.Info("pipeline completed", append(opCtx.ZapFields(),
		zap.String("project_id", projectID), zap.Duration("duration", time.Since(start)))...)
	return summary, nil
}

func (o *Orchestrator) run(ctx context.Context, opCtx models.OperationContext, projectID string) (*Summary, error) {
	project, docs, err := o.load(ctx, projectID)
	if err != nil {
		return nil, err
	}

	o.event(opCtx, models.AuditActionPipelineStarted, map[string]interface{}{
		"project_id":  projectID,
		"documents":   len(docs),
		"mcp_enabled": o.caller.MCPEnabled(),
	})

	results := make(map[Stage]StageResult, len(stageOrder))
	for _, spec := range stageOrder {
		payload := buildPayload(spec.stage, project, docs, opCtx, results)
		res, err := o.caller.Call(ctx, spec.stage, payload, opCtx)
		if err != nil {
			return nil, err
		}
		results[spec.stage] = res

		provenance := observability.ProvenanceHTTP
		if res.MCPCallID() != nil {
			provenance = observability.ProvenanceMCP
		}
		o.event(opCtx, models.AuditActionPipelineStage, map[string]interface{}{
			"project_id": projectID,
			"stage":      string(spec.stage),
			"provenance": provenance,
			"items":      res.Count(spec.resultKey),
		})
	}

	report := assembleReport(project, opCtx, results)
	path, err := o.store.Save(ctx, opCtx.EngagementID(), projectID, report)
	if err != nil {
		return nil, err
	}

	return &Summary{
		Status: "ok",
		Counts: Counts{
			Evidence:     results[StageDocumentAnalysis].Count("evidence"),
			Gaps:         results[StageGapAnalysis].Count("gaps"),
			Initiatives:  results[StageInitiativeGeneration].Count("initiatives"),
			Prioritized:  results[StagePrioritization].Count("prioritized"),
			RoadmapItems: results[StageRoadmapPlanning].Count("roadmap"),
		},
		MCPEnabled:    o.caller.MCPEnabled(),
		ProjectID:     projectID,
		EngagementID:  opCtx.EngagementID(),
		CorrelationID: opCtx.CorrelationID(),
		ReportPath:    path,
	}, nil
}

// load reads the project and its documents, in one transaction when a
// transaction manager is configured.
func (o *Orchestrator) load(ctx context.Context, projectID string) (*models.Project, []*models.Document, error) {
	read := func(ctx context.Context, repo repositories.ProjectRepository) (*models.Project, []*models.Document, error) {
		project, err := repo.GetByID(ctx, projectID)
		if err != nil {
			if errors.Is(err, repositories.ErrNotFound) {
				return nil, nil, services.NewNotFoundError(fmt.Sprintf("project %s not found", projectID), err)
			}
			return nil, nil, services.WrapInternal("failed to load project", err)
		}
		docs, err := repo.ListDocuments(ctx, projectID)
		if err != nil {
			return nil, nil, services.WrapInternal("failed to load project documents", err)
		}
		return project, docs, nil
	}

	if o.txm == nil {
		return read(ctx, o.projects)
	}

	var (
		project *models.Project
		docs    []*models.Document
	)
	err := o.txm.InSnapshot(ctx, func(ctx context.Context, tx repositories.Transaction) error {
		var err error
		project, docs, err = read(ctx, o.projects.WithTx(tx))
		return err
	})
	if err != nil {
		if services.GetErrorType(err) != "" {
			return nil, nil, err
		}
		return nil, nil, services.WrapInternal("failed to read project snapshot", err)
	}
	return project, docs, nil
}

// buildPayload derives a stage's input from the project and earlier results.
func buildPayload(stage Stage, project *models.Project, docs []*models.Document, opCtx models.OperationContext, results map[Stage]StageResult) map[string]interface{} {
	payload := map[string]interface{}{
		"project_id":     project.ID,
		"engagement_id":  opCtx.EngagementID(),
		"correlation_id": opCtx.CorrelationID(),
	}

	switch stage {
	case StageDocumentAnalysis:
		documents := make([]interface{}, 0, len(docs))
		for _, d := range docs {
			documents = append(documents, map[string]interface{}{
				"id":       d.ID,
				"filename": d.Filename,
				"content":  d.ContentText,
			})
		}
		payload["project_name"] = project.Name
		payload["documents"] = documents
		payload["text"] = models.ConcatenateDocuments(docs)
	case StageGapAnalysis:
		payload["evidence"] = results[StageDocumentAnalysis].Value("evidence")
	case StageInitiativeGeneration:
		payload["gaps"] = results[StageGapAnalysis].Value("gaps")
	case StagePrioritization:
		payload["initiatives"] = results[StageInitiativeGeneration].Value("initiatives")
	case StageRoadmapPlanning:
		payload["prioritized"] = results[StagePrioritization].Value("prioritized")
	case StageReportGeneration:
		payload["project_name"] = project.Name
		payload["evidence"] = results[StageDocumentAnalysis].Value("evidence")
		payload["gaps"] = results[StageGapAnalysis].Value("gaps")
		payload["initiatives"] = results[StageInitiativeGeneration].Value("initiatives")
		payload["prioritized"] = results[StagePrioritization].Value("prioritized")
		payload["roadmap"] = results[StageRoadmapPlanning].Value("roadmap")
	}
	return payload
}

// assembleReport merges every stage output with its provenance.
func assembleReport(project *models.Project, opCtx models.OperationContext, results map[Stage]StageResult) map[string]interface{} {
	stages := make(map[string]interface{}, len(stageOrder))
	report := map[string]interface{}{
		"project_id":     project.ID,
		"project_name":   project.Name,
		"engagement_id":  opCtx.EngagementID(),
		"correlation_id": opCtx.CorrelationID(),
		"generated_at":   time.Now().UTC().Format(time.RFC3339),
	}
	for _, spec := range stageOrder {
		res := results[spec.stage]
		var callID interface{}
		if id := res.MCPCallID(); id != nil {
			callID = *id
		}
		stages[string(spec.stage)] = map[string]interface{}{
			"mcp_call_id": callID,
			"output":      res.Payload(),
		}
		report[spec.resultKey] = res.Value(spec.resultKey)
	}
	report["stages"] = stages
	return report
}

func (o *Orchestrator) event(opCtx models.OperationContext, action models.AuditAction, details map[string]interface{}) {
	if o.audit == nil {
		return
	}
	if err := o.audit.LogPipelineEvent(opCtx, action, details); err != nil {
		o.metrics.AuditDropped()
		o.logger.Warn("audit event not recorded", append(opCtx.ZapFields(), zap.Error(err))...)
	}
}
