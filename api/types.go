package api

import (
	"time"

	"github.com/BaSui01/graphflow/pipeline/extraction"
	"github.com/BaSui01/graphflow/pipeline/publication"
	"github.com/BaSui01/graphflow/tasks/entity"
	"github.com/BaSui01/graphflow/workflow"
)

// =============================================================================
// 实体抽取
// =============================================================================

// ExtractRequest 实体抽取请求
type ExtractRequest struct {
	// 待抽取文本
	Text string `json:"text" example:"LangChain wraps GPT-4 for retrieval over SQuAD."`
	// 实体类型，为空时使用配置的默认类型
	EntityTypes []string `json:"entity_types,omitempty"`
	// 覆盖配置的 LLM 模型
	Model string `json:"model,omitempty"`
}

// ExtractResponse 实体抽取响应
type ExtractResponse struct {
	RunID             string          `json:"run_id"`
	Entities          []entity.Entity `json:"entities"`
	LLMEntities       []entity.Entity `json:"llm_entities"`
	NEREntities       []entity.Entity `json:"ner_entities"`
	GazetteerEntities []entity.Entity `json:"gazetteer_entities"`
	Steps             int             `json:"steps"`
	Failures          []NodeFailure   `json:"failures,omitempty"`
}

// NewExtractResponse 把流水线结果转换为响应
func NewExtractResponse(res *extraction.Result) ExtractResponse {
	resp := ExtractResponse{
		Entities:          res.Entities,
		LLMEntities:       res.LLMEntities,
		NEREntities:       res.NEREntities,
		GazetteerEntities: res.GazetteerEntities,
	}
	if res.Run != nil {
		resp.RunID = res.Run.RunID
		resp.Steps = res.Run.Steps
		resp.Failures = FailuresFromLog(res.Run.Log)
	}
	return resp
}

// =============================================================================
// 发布信息生成
// =============================================================================

// PublishRequest 发布信息生成请求
type PublishRequest struct {
	Text  string `json:"text"`
	Model string `json:"model,omitempty"`
}

// PublishResponse 发布信息生成响应
type PublishResponse struct {
	RunID           string                  `json:"run_id"`
	ManagerDecision string                  `json:"manager_decision"`
	TLDR            []string                `json:"tldr"`
	Title           []string                `json:"title"`
	Tags            []string                `json:"tags"`
	References      []publication.Reference `json:"references"`
	Feedback        map[string]string       `json:"feedback,omitempty"`
	ReviewSummary   string                  `json:"review_summary,omitempty"`
	Rounds          int                     `json:"rounds"`
	RevisionLimited bool                    `json:"revision_limited"`
	Steps           int                     `json:"steps"`
	Failures        []NodeFailure           `json:"failures,omitempty"`
}

// NewPublishResponse 把流水线结果转换为响应
func NewPublishResponse(res *publication.Result) PublishResponse {
	resp := PublishResponse{
		ManagerDecision: res.ManagerDecision,
		TLDR:            res.TLDR,
		Title:           res.Title,
		Tags:            res.Tags,
		References:      res.References,
		Feedback:        res.Feedback,
		ReviewSummary:   res.ReviewSummary,
		Rounds:          res.Rounds,
		RevisionLimited: res.RevisionLimited,
	}
	if res.Run != nil {
		resp.RunID = res.Run.RunID
		resp.Steps = res.Run.Steps
		resp.Failures = FailuresFromLog(res.Run.Log)
	}
	return resp
}

// =============================================================================
// 运行日志与图
// =============================================================================

// NodeFailure 运行中失败的节点
type NodeFailure struct {
	Step     int    `json:"step"`
	Node     string `json:"node"`
	Error    string `json:"error"`
	Attempts int    `json:"attempts,omitempty"`
}

// FailuresFromLog 从运行日志提取失败节点
func FailuresFromLog(log *workflow.RunLog) []NodeFailure {
	if log == nil {
		return nil
	}
	var out []NodeFailure
	for _, e := range log.Failures() {
		out = append(out, NodeFailure{Step: e.Step, Node: e.Node, Error: e.Error, Attempts: e.Attempts})
	}
	return out
}

// RunEntry 运行日志条目
type RunEntry struct {
	Step       int       `json:"step"`
	Node       string    `json:"node"`
	Status     string    `json:"status"`
	Error      string    `json:"error,omitempty"`
	Attempts   int       `json:"attempts,omitempty"`
	DurationMS int64     `json:"duration_ms"`
	At         time.Time `json:"at"`
}

// RunEntriesFrom 转换运行日志条目
func RunEntriesFrom(entries []workflow.RunLogEntry) []RunEntry {
	out := make([]RunEntry, 0, len(entries))
	for _, e := range entries {
		out = append(out, RunEntry{
			Step:       e.Step,
			Node:       e.Node,
			Status:     string(e.Status),
			Error:      e.Error,
			Attempts:   e.Attempts,
			DurationMS: e.Duration.Milliseconds(),
			At:         e.At,
		})
	}
	return out
}

// RunSummary 运行记录摘要
type RunSummary struct {
	RunID       string     `json:"run_id"`
	Graph       string     `json:"graph"`
	Status      string     `json:"status"`
	Steps       int        `json:"steps"`
	Error       string     `json:"error,omitempty"`
	FailedNodes int        `json:"failed_nodes"`
	StartedAt   time.Time  `json:"started_at"`
	FinishedAt  time.Time  `json:"finished_at"`
	DurationMS  int64      `json:"duration_ms"`
	Entries     []RunEntry `json:"entries,omitempty"`
}

// GraphInfo 已注册的图
type GraphInfo struct {
	Name       string `json:"name"`
	Nodes      int    `json:"nodes"`
	Mermaid    string `json:"mermaid,omitempty"`
	Definition string `json:"definition,omitempty"`
	// 修订循环，仅 Reviewer 节点存在时返回
	Revision *RevisionInfo `json:"revision,omitempty"`
}

// RevisionInfo 图中绑定的修订循环
type RevisionInfo struct {
	Reviewer   string   `json:"reviewer"`
	MaxRounds  int      `json:"max_rounds"`
	Components []string `json:"components"`
}

// RevisionInfoOf 查找图中的修订循环
func RevisionInfoOf(g *workflow.Graph) *RevisionInfo {
	for _, node := range g.Nodes() {
		if rc, ok := g.RevisionLoop(node); ok {
			return &RevisionInfo{Reviewer: node, MaxRounds: rc.MaxRounds(), Components: rc.ComponentNames()}
		}
	}
	return nil
}
