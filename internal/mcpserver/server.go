package mcpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/BaSui01/graphflow/pipeline/extraction"
	"github.com/BaSui01/graphflow/tasks/entity"
	"github.com/BaSui01/graphflow/workflow"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"
)

const (
	serverName = "graphflow-mcp"

	// 与 HTTP 接口保持一致
	maxTextBytes = 512 << 10
)

// ExtractionRunner runs the full extraction graph.
type ExtractionRunner interface {
	Run(ctx context.Context, text string, types []string) (*extraction.Result, error)
}

// GraphSource exposes a built graph for introspection.
type GraphSource interface {
	Graph() *workflow.Graph
	Definition() *workflow.Definition
}

// Deps wires the server to the extraction backends. Nil members are not
// registered as tools.
type Deps struct {
	Pipeline  ExtractionRunner
	LLM       entity.Extractor
	NER       entity.Extractor
	Gazetteer entity.Extractor
	Graphs    []GraphSource
}

// EntitiesResponse is the payload of every extract_* tool.
type EntitiesResponse struct {
	RunID    string          `json:"run_id,omitempty"`
	Entities []entity.Entity `json:"entities"`
	Failures []string        `json:"failed_nodes,omitempty"`
}

// Server exposes the extractors and graphs as MCP tools.
type Server struct {
	deps      Deps
	graphs    map[string]GraphSource
	mcpServer *server.MCPServer
	tools     []string
	logger    *zap.Logger
}

// New creates the server and registers one tool per configured backend.
func New(deps Deps, version string, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		deps:      deps,
		graphs:    make(map[string]GraphSource, len(deps.Graphs)),
		mcpServer: server.NewMCPServer(serverName, version),
		logger:    logger.With(zap.String("component", "mcp")),
	}
	for _, g := range deps.Graphs {
		s.graphs[g.Graph().Name()] = g
	}
	s.registerTools()
	return s
}

// ServeStdio serves MCP over stdin/stdout until the client disconnects.
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.mcpServer)
}

// MCPServer returns the underlying server.
func (s *Server) MCPServer() *server.MCPServer {
	return s.mcpServer
}

// Tools lists the registered tool names, sorted.
func (s *Server) Tools() []string {
	names := append([]string(nil), s.tools...)
	sort.Strings(names)
	return names
}

func extractTool(name, description string) mcp.Tool {
	return mcp.NewTool(name,
		mcp.WithDescription(description),
		mcp.WithString("text", mcp.Required(), mcp.Description("Document text to extract entities from")),
		mcp.WithArray("entity_types",
			mcp.Description("Entity types to look for; defaults to the configured types"),
			mcp.WithStringItems(),
		),
	)
}

func (s *Server) addTool(tool mcp.Tool, handler server.ToolHandlerFunc) {
	s.mcpServer.AddTool(tool, handler)
	s.tools = append(s.tools, tool.Name)
}

func (s *Server) registerTools() {
	if s.deps.Pipeline != nil {
		s.addTool(
			extractTool("extract_entities", "Run the full extraction graph: LLM, encoder NER and gazetteer in parallel, then LLM aggregation."),
			s.handlePipeline,
		)
	}
	if s.deps.LLM != nil {
		s.addTool(
			extractTool("extract_llm", "Extract entities with the chunked LLM extractor only."),
			s.extractorHandler("llm", s.deps.LLM),
		)
	}
	if s.deps.NER != nil {
		s.addTool(
			extractTool("extract_ner", "Extract entities with the encoder NER service only."),
			s.extractorHandler("ner", s.deps.NER),
		)
	}
	if s.deps.Gazetteer != nil {
		s.addTool(
			extractTool("extract_gazetteer", "Match known terms from the gazetteer."),
			s.extractorHandler("gazetteer", s.deps.Gazetteer),
		)
	}
	if len(s.graphs) > 0 {
		s.addTool(mcp.NewTool("get_graph",
			mcp.WithDescription("Return a workflow graph as a Mermaid flowchart. Without a name, lists the available graphs."),
			mcp.WithString("name", mcp.Description("Graph name")),
		), s.handleGetGraph)
	}
}

// arguments reads and validates the common extract_* arguments.
func arguments(req mcp.CallToolRequest) (string, []string, error) {
	text := req.GetString("text", "")
	if strings.TrimSpace(text) == "" {
		return "", nil, errors.New("text is required")
	}
	if len(text) > maxTextBytes {
		return "", nil, fmt.Errorf("text exceeds %d bytes", maxTextBytes)
	}
	return text, req.GetStringSlice("entity_types", nil), nil
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode result: %w", err)
	}
	return mcp.NewToolResultText(string(data)), nil
}

func (s *Server) handlePipeline(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	text, types, err := arguments(req)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	res, err := s.deps.Pipeline.Run(ctx, text, types)
	if err != nil {
		s.logger.Warn("extraction run failed", zap.Error(err))
		return mcp.NewToolResultError(fmt.Sprintf("extraction failed: %v", err)), nil
	}

	resp := EntitiesResponse{Entities: res.Entities}
	if resp.Entities == nil {
		resp.Entities = []entity.Entity{}
	}
	if res.Run != nil {
		resp.RunID = res.Run.RunID
		if res.Run.Log != nil {
			for _, e := range res.Run.Log.Failures() {
				resp.Failures = append(resp.Failures, e.Node)
			}
		}
	}
	return jsonResult(resp)
}

func (s *Server) extractorHandler(name string, ex entity.Extractor) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		text, types, err := arguments(req)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		entities, err := ex.Extract(ctx, text, types)
		if err != nil {
			s.logger.Warn("extractor failed", zap.String("extractor", name), zap.Error(err))
			return mcp.NewToolResultError(fmt.Sprintf("%s extraction failed: %v", name, err)), nil
		}
		if entities == nil {
			entities = []entity.Entity{}
		}
		return jsonResult(EntitiesResponse{Entities: entities})
	}
}

func (s *Server) handleGetGraph(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	name := req.GetString("name", "")
	if name == "" {
		names := make([]string, 0, len(s.graphs))
		for n := range s.graphs {
			names = append(names, n)
		}
		sort.Strings(names)
		return mcp.NewToolResultText(strings.Join(names, "\n")), nil
	}
	src, ok := s.graphs[name]
	if !ok {
		return mcp.NewToolResultError(fmt.Sprintf("graph %q not found", name)), nil
	}
	return mcp.NewToolResultText(src.Graph().Mermaid()), nil
}
