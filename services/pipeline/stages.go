// Package pipeline runs the six-stage maturity analysis against downstream
// services and persists the resulting report.
package pipeline

import "fmt"

// Stage names one analysis step.
type Stage string

const (
	StageDocumentAnalysis     Stage = "document_analysis"
	StageGapAnalysis          Stage = "gap_analysis"
	StageInitiativeGeneration Stage = "initiative_generation"
	StagePrioritization       Stage = "prioritization"
	StageRoadmapPlanning      Stage = "roadmap_planning"
	StageReportGeneration     Stage = "report_generation"
)

type stageSpec struct {
	stage Stage
	// endpoint is appended to the stage service URL on the HTTP path.
	endpoint string
	// resultKey names the list the stage must return.
	resultKey string
	// mcpTool is the tool called on the MCP path.
	mcpTool string
}

// stageOrder is the fixed execution order.
var stageOrder = []stageSpec{
	{StageDocumentAnalysis, "analyze", "evidence", "analyze_documents"},
	{StageGapAnalysis, "gaps", "gaps", "analyze_gaps"},
	{StageInitiativeGeneration, "initiatives", "initiatives", "generate_initiatives"},
	{StagePrioritization, "prioritize", "prioritized", "prioritize_initiatives"},
	{StageRoadmapPlanning, "roadmap", "roadmap", "plan_roadmap"},
	{StageReportGeneration, "report", "report", "generate_report"},
}

// Stages returns the stages in execution order.
func Stages() []Stage {
	out := make([]Stage, len(stageOrder))
	for i, s := range stageOrder {
		out[i] = s.stage
	}
	return out
}

func lookupStage(stage Stage) (stageSpec, error) {
	for _, s := range stageOrder {
		if s.stage == stage {
			return s, nil
		}
	}
	return stageSpec{}, fmt.Errorf("unknown stage %q", stage)
}

// StageResult is one stage's output. The payload is copied on construction
// and on every read, so a result can be shared between stages safely.
type StageResult struct {
	stage     Stage
	payload   map[string]interface{}
	mcpCallID *string
}

// NewStageResult copies payload. mcpCallID is nil when the HTTP path was used.
func NewStageResult(stage Stage, payload map[string]interface{}, mcpCallID *string) StageResult {
	r := StageResult{stage: stage, payload: deepCopyMap(payload)}
	if mcpCallID != nil {
		id := *mcpCallID
		r.mcpCallID = &id
	}
	return r
}

// Stage returns the producing stage.
func (r StageResult) Stage() Stage { return r.stage }

// Payload returns a copy of the stage output.
func (r StageResult) Payload() map[string]interface{} { return deepCopyMap(r.payload) }

// MCPCallID returns a copy of the MCP call id, or nil for HTTP results.
func (r StageResult) MCPCallID() *string {
	if r.mcpCallID == nil {
		return nil
	}
	id := *r.mcpCallID
	return &id
}

// Value returns a copy of one payload key.
func (r StageResult) Value(key string) interface{} {
	return deepCopy(r.payload[key])
}

// Count returns the number of items under key: the length of a list, the
// length of an "items" list inside an object, else zero.
func (r StageResult) Count(key string) int {
	switch v := r.payload[key].(type) {
	case []interface{}:
		return len(v)
	case map[string]interface{}:
		if items, ok := v["items"].([]interface{}); ok {
			return len(items)
		}
	}
	return 0
}

func deepCopyMap(m map[string]interface{}) map[string]interface{} {
	if m == nil {
		return map[string]interface{}{}
	}
	out := make(map[string]interface{}, len(m))
	for k, v := range m {
		out[k] = deepCopy(v)
	}
	return out
}

func deepCopy(v interface{}) interface{} {
	switch x := v.(type) {
	case map[string]interface{}:
		return deepCopyMap(x)
	case []interface{}:
		out := make([]interface{}, len(x))
		for i, item := range x {
			out[i] = deepCopy(item)
		}
		return out
	case []string:
		return append([]string(nil), x...)
	default:
		return x
	}
}
