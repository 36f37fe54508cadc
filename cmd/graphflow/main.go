package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"

	"github.com/BaSui01/graphflow/config"
)

// 构建时通过 -ldflags "-X main.Version=..." 注入
var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

// errUsage 参数错误，退出码为 2
var errUsage = errors.New("usage error")

type streams struct {
	in       io.Reader
	out, err io.Writer
}

type subcommand struct {
	name    string
	summary string
	run     func(ctx context.Context, args []string, s streams) error
}

// subcommands 按帮助中的顺序排列
var subcommands = []subcommand{
	{"serve", "Start the HTTP API server", func(ctx context.Context, args []string, _ streams) error {
		return runServe(ctx, args)
	}},
	{"extract", "Extract entities from a document", func(ctx context.Context, args []string, s streams) error {
		return runExtract(ctx, args, s.in, s.out)
	}},
	{"publish", "Generate TLDR, titles, tags and references for a document", func(ctx context.Context, args []string, s streams) error {
		return runPublish(ctx, args, s.in, s.out)
	}},
	{"graph", "Print a workflow graph as Mermaid or YAML", func(ctx context.Context, args []string, s streams) error {
		return runGraph(ctx, args, s.out)
	}},
	{"runs", "List, show or prune persisted run logs", func(ctx context.Context, args []string, s streams) error {
		return runRuns(ctx, args, s.out)
	}},
	{"migrate", "Database migration commands", func(ctx context.Context, args []string, s streams) error {
		return runMigrate(ctx, args, s.out)
	}},
	{"mcp", "Serve the extractors as MCP tools over stdio", func(ctx context.Context, args []string, _ streams) error {
		return runMCP(ctx, args)
	}},
	{"health", "Check server health", func(ctx context.Context, args []string, s streams) error {
		return runHealthCheck(ctx, args, s.out)
	}},
	{"version", "Show version information", func(_ context.Context, _ []string, s streams) error {
		fmt.Fprintf(s.out, "GraphFlow %s\n  Build Time: %s\n  Git Commit: %s\n", Version, BuildTime, GitCommit)
		return nil
	}},
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdin, os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

// run 分发子命令并返回进程退出码
func run(ctx context.Context, args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	if len(args) == 0 {
		printUsage(stderr)
		return 2
	}
	switch args[0] {
	case "help", "-h", "--help":
		printUsage(stdout)
		return 0
	}

	for _, cmd := range subcommands {
		if cmd.name == args[0] {
			return exitCode(cmd.run(ctx, args[1:], streams{stdin, stdout, stderr}), stderr)
		}
	}
	fmt.Fprintf(stderr, "Unknown command: %s\n", args[0])
	printUsage(stderr)
	return 2
}

func exitCode(err error, stderr io.Writer) int {
	switch {
	case err == nil, errors.Is(err, flag.ErrHelp):
		return 0
	case errors.Is(err, errUsage):
		fmt.Fprintln(stderr, err)
		return 2
	default:
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
}

// commonFlags 需要配置文件的子命令共享
type commonFlags struct {
	configPath string
}

func newFlagSet(name string, common *commonFlags) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	if common != nil {
		fs.StringVar(&common.configPath, "config", "", "Path to config file")
	}
	return fs
}

// parseFlags 除 -h 外的解析错误都包装为 errUsage
func parseFlags(fs *flag.FlagSet, args []string) error {
	err := fs.Parse(args)
	if err == nil || errors.Is(err, flag.ErrHelp) {
		return err
	}
	return fmt.Errorf("%w: %s: %v", errUsage, fs.Name(), err)
}

func loadConfig(path string) (*config.Config, error) {
	cfg, err := config.NewLoader().
		WithConfigPath(path).
		WithValidator((*config.Config).Validate).
		Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return cfg, nil
}

func printUsage(w io.Writer) {
	fmt.Fprint(w, "GraphFlow - workflow graphs for entity extraction and publication info\n\n")
	fmt.Fprint(w, "Usage:\n  graphflow <command> [options]\n\nCommands:\n")
	tw := tabwriter.NewWriter(w, 0, 0, 3, ' ', 0)
	for _, cmd := range subcommands {
		fmt.Fprintf(tw, "  %s\t%s\n", cmd.name, cmd.summary)
	}
	fmt.Fprintf(tw, "  help\tShow this help message\n")
	_ = tw.Flush()

	fmt.Fprint(w, `
Common options:
  --config <path>   Path to configuration file (YAML)

Input (extract, publish):
  --file <path>     Read the document from a file ("-" or omitted reads stdin)
  --types <list>    Comma-separated entity types (extract only)

Examples:
  graphflow serve --config /etc/graphflow/config.yaml
  graphflow extract --file paper.txt --types Model,Dataset
  graphflow graph --name entity_extraction
  graphflow runs list --status failed --limit 10
  graphflow runs prune --older-than 720h
  graphflow migrate up
  graphflow health --addr http://localhost:8080
`)
}
