package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/BaSui01/graphflow/api"
	"github.com/BaSui01/graphflow/config"
	"github.com/BaSui01/graphflow/internal/database"
	"github.com/BaSui01/graphflow/internal/mcpserver"
	"github.com/BaSui01/graphflow/internal/runstore"
	"github.com/BaSui01/graphflow/workflow"
	"go.uber.org/zap"
)

// =============================================================================
// 🔧 装配辅助
// =============================================================================

// openApp 加载配置、初始化日志并装配应用
func openApp(ctx context.Context, configPath string) (*App, *zap.Logger, error) {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return nil, nil, err
	}
	logger := initLogger(cfg.Log)
	app, err := newApp(ctx, cfg, logger)
	if err != nil {
		_ = logger.Sync()
		return nil, nil, err
	}
	return app, logger, nil
}

// readDocument 从 --file 指定的文件或 stdin 读取文档
func readDocument(path string, stdin io.Reader) (string, error) {
	var (
		data []byte
		err  error
	)
	if path == "" || path == "-" {
		data, err = io.ReadAll(stdin)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return "", fmt.Errorf("read document: %w", err)
	}
	text := string(data)
	if strings.TrimSpace(text) == "" {
		return "", fmt.Errorf("%w: document is empty", errUsage)
	}
	return text, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// =============================================================================
// 🔍 extract / publish
// =============================================================================

func runExtract(ctx context.Context, args []string, stdin io.Reader, stdout io.Writer) error {
	var common commonFlags
	fs := newFlagSet("extract", &common)
	file := fs.String("file", "", "Document path (\"-\" for stdin)")
	entityTypes := fs.String("types", "", "Comma-separated entity types")
	if err := parseFlags(fs, args); err != nil {
		return err
	}

	text, err := readDocument(*file, stdin)
	if err != nil {
		return err
	}
	app, logger, err := openApp(ctx, common.configPath)
	if err != nil {
		return err
	}
	defer logger.Sync()
	defer app.Close()

	res, err := app.extraction.Run(ctx, text, splitList(*entityTypes))
	if err != nil {
		return fmt.Errorf("extraction failed: %w", err)
	}
	return writeJSON(stdout, api.NewExtractResponse(res))
}

func runPublish(ctx context.Context, args []string, stdin io.Reader, stdout io.Writer) error {
	var common commonFlags
	fs := newFlagSet("publish", &common)
	file := fs.String("file", "", "Document path (\"-\" for stdin)")
	if err := parseFlags(fs, args); err != nil {
		return err
	}

	text, err := readDocument(*file, stdin)
	if err != nil {
		return err
	}
	app, logger, err := openApp(ctx, common.configPath)
	if err != nil {
		return err
	}
	defer logger.Sync()
	defer app.Close()

	res, err := app.publication.Run(ctx, text)
	if err != nil {
		return fmt.Errorf("publication failed: %w", err)
	}
	if res.RevisionLimited {
		logger.Warn("revision limit reached, remaining components were force-approved",
			zap.Int("rounds", res.Rounds))
	}
	return writeJSON(stdout, api.NewPublishResponse(res))
}

// =============================================================================
// 🗺️ graph
// =============================================================================

func runGraph(ctx context.Context, args []string, stdout io.Writer) error {
	var common commonFlags
	fs := newFlagSet("graph", &common)
	name := fs.String("name", "", "Graph name (entity_extraction, publication_info); empty lists graphs")
	format := fs.String("format", "mermaid", "Output format: mermaid, yaml")
	if err := parseFlags(fs, args); err != nil {
		return err
	}
	if *format != "mermaid" && *format != "yaml" {
		return fmt.Errorf("%w: unknown format %q", errUsage, *format)
	}

	app, logger, err := openApp(ctx, common.configPath)
	if err != nil {
		return err
	}
	defer logger.Sync()
	defer app.Close()

	graphs := map[string]graphSource{
		app.extraction.Graph().Name():  app.extraction,
		app.publication.Graph().Name(): app.publication,
	}
	if *name == "" {
		names := make([]string, 0, len(graphs))
		for n := range graphs {
			names = append(names, n)
		}
		sort.Strings(names)
		for _, n := range names {
			fmt.Fprintln(stdout, n)
		}
		return nil
	}

	src, ok := graphs[*name]
	if !ok {
		return fmt.Errorf("%w: unknown graph %q", errUsage, *name)
	}
	if *format == "yaml" {
		data, err := src.Definition().YAML()
		if err != nil {
			return err
		}
		_, err = stdout.Write(data)
		return err
	}
	_, err = io.WriteString(stdout, src.Graph().Mermaid())
	return err
}

type graphSource interface {
	Graph() *workflow.Graph
	Definition() *workflow.Definition
}

// =============================================================================
// 📜 runs
// =============================================================================

const runsUsage = `usage: graphflow runs <command> [options]

commands:
  list  [--graph NAME] [--status completed|failed] [--since RFC3339] [--limit N]
  get   RUN_ID
  prune --older-than DURATION`

// openRunStore 打开运行日志存储，不装配流水线
func openRunStore(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*runstore.Store, func(), error) {
	if !cfg.Database.Enabled {
		return nil, nil, fmt.Errorf("run store is disabled; set database.enabled")
	}
	pool, err := database.Open(cfg.Database, logger)
	if err != nil {
		return nil, nil, err
	}
	store := runstore.New(pool, logger)
	if err := store.AutoMigrate(ctx); err != nil {
		_ = pool.Close()
		return nil, nil, err
	}
	return store, func() { _ = pool.Close() }, nil
}

func runRuns(ctx context.Context, args []string, stdout io.Writer) error {
	if len(args) < 1 {
		return fmt.Errorf("%w: missing runs command\n%s", errUsage, runsUsage)
	}

	var common commonFlags
	fs := newFlagSet("runs "+args[0], &common)
	var (
		graph     = fs.String("graph", "", "Filter by graph name")
		status    = fs.String("status", "", "Filter by status")
		since     = fs.String("since", "", "Only runs started at or after this RFC3339 time")
		limit     = fs.Int("limit", 20, "Maximum runs to list")
		olderThan = fs.Duration("older-than", 0, "Prune runs started before now minus this duration")
	)
	if err := parseFlags(fs, args[1:]); err != nil {
		return err
	}

	var run func(context.Context, *runstore.Store) error
	switch args[0] {
	case "list":
		filter := runstore.Filter{Graph: *graph, Status: workflow.RunStatus(*status), Limit: *limit}
		switch filter.Status {
		case "", workflow.RunStatusCompleted, workflow.RunStatusFailed:
		default:
			return fmt.Errorf("%w: unknown status %q", errUsage, *status)
		}
		if *since != "" {
			t, err := time.Parse(time.RFC3339, *since)
			if err != nil {
				return fmt.Errorf("%w: --since: %v", errUsage, err)
			}
			filter.Since = t
		}
		run = func(ctx context.Context, store *runstore.Store) error {
			return listRuns(ctx, store, filter, stdout)
		}
	case "get":
		if fs.NArg() != 1 {
			return fmt.Errorf("%w: runs get takes exactly one run id", errUsage)
		}
		id := fs.Arg(0)
		run = func(ctx context.Context, store *runstore.Store) error {
			rec, err := store.Get(ctx, id)
			if err != nil {
				return err
			}
			return writeJSON(stdout, rec)
		}
	case "prune":
		if *olderThan <= 0 {
			return fmt.Errorf("%w: runs prune requires a positive --older-than", errUsage)
		}
		cutoff := time.Now().Add(-*olderThan)
		run = func(ctx context.Context, store *runstore.Store) error {
			n, err := store.Prune(ctx, cutoff)
			if err != nil {
				return err
			}
			fmt.Fprintf(stdout, "pruned %d runs started before %s\n", n, cutoff.UTC().Format(time.RFC3339))
			return nil
		}
	default:
		return fmt.Errorf("%w: unknown runs command %q\n%s", errUsage, args[0], runsUsage)
	}

	cfg, err := loadConfig(common.configPath)
	if err != nil {
		return err
	}
	logger := initLogger(cfg.Log)
	defer logger.Sync()

	store, closeStore, err := openRunStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeStore()
	return run(ctx, store)
}

func listRuns(ctx context.Context, store *runstore.Store, filter runstore.Filter, stdout io.Writer) error {
	runs, err := store.List(ctx, filter)
	if err != nil {
		return err
	}
	tw := tabwriter.NewWriter(stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "RUN ID\tGRAPH\tSTATUS\tSTEPS\tFAILED\tSTARTED\tDURATION")
	for _, r := range runs {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%d\t%s\t%s\n",
			r.RunID, r.Graph, r.Status, r.Steps, r.FailedNode,
			r.StartedAt.UTC().Format(time.RFC3339),
			time.Duration(r.DurationMS)*time.Millisecond,
		)
	}
	return tw.Flush()
}

// =============================================================================
// 🤖 mcp
// =============================================================================

func runMCP(ctx context.Context, args []string) error {
	var common commonFlags
	fs := newFlagSet("mcp", &common)
	if err := parseFlags(fs, args); err != nil {
		return err
	}

	app, logger, err := openApp(ctx, common.configPath)
	if err != nil {
		return err
	}
	defer logger.Sync()
	defer app.Close()

	srv := mcpserver.New(mcpserver.Deps{
		Pipeline:  app.extraction,
		LLM:       app.llmex,
		NER:       app.ner,
		Gazetteer: app.gazetteer,
		Graphs:    []mcpserver.GraphSource{app.extraction, app.publication},
	}, Version, logger)

	logger.Info("serving MCP over stdio", zap.Strings("tools", srv.Tools()))
	return srv.ServeStdio()
}

// =============================================================================
// 🏥 health
// =============================================================================

func runHealthCheck(ctx context.Context, args []string, stdout io.Writer) error {
	fs := newFlagSet("health", nil)
	addr := fs.String("addr", "http://localhost:8080", "Server address")
	path := fs.String("path", "/health", "Health endpoint path (/health or /ready)")
	if err := parseFlags(fs, args); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, strings.TrimRight(*addr, "/")+*path, nil)
	if err != nil {
		return fmt.Errorf("%w: %v", errUsage, err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check failed: status %d", resp.StatusCode)
	}
	fmt.Fprintln(stdout, "OK")
	return nil
}
