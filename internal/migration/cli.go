package migration

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"text/tabwriter"
)

// Usage migrate 子命令帮助
const Usage = `usage: graphflow migrate <command> [args]

commands:
  up            apply all pending migrations
  down          roll back the last migration
  steps N       apply (N > 0) or roll back (N < 0) N migrations
  force V       set the version without running migrations
  version       print the current version
  status        list migrations with their state
  info          print a migration summary`

// ErrUsage 未知命令或参数错误
var ErrUsage = errors.New("invalid migrate command")

// CLI 把子命令映射到 Migrator 调用并格式化输出
type CLI struct {
	migrator Migrator
	out      io.Writer
}

func NewCLI(m Migrator) *CLI {
	return &CLI{migrator: m, out: os.Stdout}
}

// SetOutput 默认写 os.Stdout
func (c *CLI) SetOutput(w io.Writer) {
	c.out = w
}

// command 一个子命令。withArg 的命令恰好接受一个整数参数。
type command struct {
	withArg bool
	run     func(c *CLI, ctx context.Context, n int) error
}

var commands = map[string]command{
	"up": {run: func(c *CLI, ctx context.Context, _ int) error {
		return c.apply(ctx, "Applying pending migrations", c.migrator.Up)
	}},
	"down": {run: func(c *CLI, ctx context.Context, _ int) error {
		return c.apply(ctx, "Rolling back the last migration", c.migrator.Down)
	}},
	"steps": {withArg: true, run: (*CLI).steps},
	"force": {withArg: true, run: (*CLI).force},
	"version": {run: func(c *CLI, ctx context.Context, _ int) error {
		return c.version(ctx)
	}},
	"status": {run: func(c *CLI, ctx context.Context, _ int) error {
		return c.status(ctx)
	}},
	"info": {run: func(c *CLI, ctx context.Context, _ int) error {
		return c.info(ctx)
	}},
}

// Run 执行 args[0] 指定的子命令
func (c *CLI) Run(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("%w: missing command\n%s", ErrUsage, Usage)
	}
	name, rest := args[0], args[1:]
	cmd, ok := commands[name]
	if !ok {
		return fmt.Errorf("%w: unknown command %q\n%s", ErrUsage, name, Usage)
	}

	n := 0
	switch {
	case cmd.withArg && len(rest) != 1:
		return fmt.Errorf("%w: %s takes exactly one integer argument", ErrUsage, name)
	case cmd.withArg:
		v, err := strconv.Atoi(rest[0])
		if err != nil {
			return fmt.Errorf("%w: %s: %v", ErrUsage, name, err)
		}
		n = v
	case len(rest) > 0:
		return fmt.Errorf("%w: %s takes no arguments", ErrUsage, name)
	}
	return cmd.run(c, ctx, n)
}

func (c *CLI) steps(ctx context.Context, n int) error {
	if n == 0 {
		return fmt.Errorf("%w: steps must be non-zero", ErrUsage)
	}
	label := fmt.Sprintf("Applying %d migration(s)", n)
	if n < 0 {
		label = fmt.Sprintf("Rolling back %d migration(s)", -n)
	}
	return c.apply(ctx, label, func(ctx context.Context) error { return c.migrator.Steps(ctx, n) })
}

// apply 执行 op 后打印新的 Schema 版本
func (c *CLI) apply(ctx context.Context, label string, op func(context.Context) error) error {
	fmt.Fprintf(c.out, "%s...\n", label)
	if err := op(ctx); err != nil {
		return err
	}
	info, err := c.migrator.Info(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(c.out, "Done. Schema version: %d (%d pending)\n", info.CurrentVersion, info.PendingMigrations)
	return nil
}

func (c *CLI) force(ctx context.Context, version int) error {
	if err := c.migrator.Force(ctx, version); err != nil {
		return err
	}
	fmt.Fprintf(c.out, "Version forced to %d\n", version)
	return nil
}

func (c *CLI) version(ctx context.Context) error {
	v, dirty, err := c.migrator.Version(ctx)
	switch {
	case err != nil:
		return err
	case v == 0:
		fmt.Fprintln(c.out, "No migrations applied yet.")
	case dirty:
		fmt.Fprintf(c.out, "Current version: %d (dirty)\n", v)
	default:
		fmt.Fprintf(c.out, "Current version: %d\n", v)
	}
	return nil
}

func (c *CLI) status(ctx context.Context) error {
	statuses, err := c.migrator.Status(ctx)
	if err != nil {
		return err
	}
	if len(statuses) == 0 {
		fmt.Fprintln(c.out, "No migrations found.")
		return nil
	}

	tw := tabwriter.NewWriter(c.out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "VERSION\tNAME\tSTATE")
	for _, s := range statuses {
		state := "pending"
		switch {
		case s.Dirty:
			state = "dirty"
		case s.Applied:
			state = "applied"
		}
		fmt.Fprintf(tw, "%06d\t%s\t%s\n", s.Version, s.Name, state)
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	info, err := c.migrator.Info(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(c.out, "\nTotal: %d, Applied: %d, Pending: %d\n",
		info.TotalMigrations, info.AppliedMigrations, info.PendingMigrations)
	return nil
}

func (c *CLI) info(ctx context.Context) error {
	info, err := c.migrator.Info(ctx)
	if err != nil {
		return err
	}
	tw := tabwriter.NewWriter(c.out, 0, 0, 1, ' ', 0)
	fmt.Fprintln(tw, "Migration Information:")
	fmt.Fprintf(tw, "  Current Version:\t%d\n", info.CurrentVersion)
	fmt.Fprintf(tw, "  Dirty:\t%v\n", info.Dirty)
	fmt.Fprintf(tw, "  Total Migrations:\t%d\n", info.TotalMigrations)
	fmt.Fprintf(tw, "  Applied Migrations:\t%d\n", info.AppliedMigrations)
	fmt.Fprintf(tw, "  Pending Migrations:\t%d\n", info.PendingMigrations)
	return tw.Flush()
}
