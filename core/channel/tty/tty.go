// Package tty provides an interactive shell over the record runtime.
package tty

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net/url"
	goruntime "runtime"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/artpar/kalita/core/channel/cli"
	"github.com/artpar/kalita/core/formatter"
	"github.com/artpar/kalita/core/runtime"
	"github.com/artpar/kalita/core/schema"
	"github.com/artpar/kalita/core/validation"
)

// Channel implements the TTY channel for interactive terminal sessions.
type Channel struct {
	runtime   *runtime.Runtime
	in        io.Reader
	out       io.Writer
	table     formatter.Formatter
	prompt    string
	running   bool
	showStats bool // Show execution stats after each command
}

// New creates a shell reading commands from in and writing to out.
func New(rt *runtime.Runtime, in io.Reader, out io.Writer) *Channel {
	return &Channel{
		runtime:   rt,
		in:        in,
		out:       out,
		table:     formatter.NewTableFormatter(),
		prompt:    "kalita> ",
		showStats: true,
	}
}

// SetShowStats toggles the timing and memory line printed after each command.
func (c *Channel) SetShowStats(on bool) {
	c.showStats = on
}

// captureStats captures current memory stats.
func captureStats() goruntime.MemStats {
	var m goruntime.MemStats
	goruntime.ReadMemStats(&m)
	return m
}

// formatBytes formats bytes as human readable.
func formatBytes(b uint64) string {
	const unit = 1024
	if b < unit {
		return fmt.Sprintf("%d B", b)
	}
	div, exp := uint64(unit), 0
	for n := b / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(b)/float64(div), "KMGTPE"[exp])
}

func (c *Channel) printStats(duration time.Duration, before, after goruntime.MemStats) {
	memUsed := int64(after.Alloc) - int64(before.Alloc)
	if memUsed < 0 {
		memUsed = 0 // GC happened
	}
	gcRuns := after.NumGC - before.NumGC

	fmt.Fprint(c.out, "\033[90m")
	fmt.Fprintf(c.out, "  %v", duration.Round(time.Microsecond))
	fmt.Fprintf(c.out, "  alloc %s", formatBytes(uint64(memUsed)))
	fmt.Fprintf(c.out, "  sys %s", formatBytes(after.Sys))
	if gcRuns > 0 {
		fmt.Fprintf(c.out, "  %d GC", gcRuns)
	}
	fmt.Fprint(c.out, "\033[0m\n")
}

// Name returns the channel name.
func (c *Channel) Name() string {
	return "tty"
}

// Run reads and executes commands until quit, EOF or ctx is cancelled.
func (c *Channel) Run(ctx context.Context) error {
	c.running = true
	scanner := bufio.NewScanner(c.in)

	fmt.Fprintln(c.out, "Kalita Interactive Shell")
	fmt.Fprintln(c.out, "Type 'help' for available commands, 'quit' to exit")
	fmt.Fprintln(c.out)

	for c.running && ctx.Err() == nil {
		fmt.Fprint(c.out, c.prompt)
		if !scanner.Scan() {
			break
		}

		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		before := captureStats()
		start := time.Now()

		err := c.execute(ctx, line)

		duration := time.Since(start)
		after := captureStats()

		if err != nil {
			c.printError(err)
		}
		if c.showStats && c.running {
			c.printStats(duration, before, after)
		}
	}

	return scanner.Err()
}

func (c *Channel) printError(err error) {
	errs, ok := validation.As(err)
	if !ok {
		fmt.Fprintf(c.out, "Error: %v\n", err)
		return
	}
	fmt.Fprintln(c.out, "Error:")
	for _, e := range errs {
		if e.Field != "" {
			fmt.Fprintf(c.out, "  %s: %s (%s)\n", e.Field, e.Message, e.Code)
		} else {
			fmt.Fprintf(c.out, "  %s (%s)\n", e.Message, e.Code)
		}
	}
}

// execute parses and executes a command line.
func (c *Channel) execute(ctx context.Context, line string) error {
	parts := parseArgs(line)
	if len(parts) == 0 {
		return nil
	}

	cmd := parts[0]
	args := parts[1:]

	switch cmd {
	case "quit", "exit", "q":
		c.running = false
		fmt.Fprintln(c.out, "Goodbye!")
		return nil

	case "help", "h", "?":
		return c.showHelp(args)

	case "entities", "modules":
		return c.listEntities()

	case "list", "ls":
		return c.listRecords(ctx, args)

	case "count":
		return c.countRecords(ctx, args)

	case "get", "show":
		return c.getRecord(ctx, args)

	case "expand", "tree":
		return c.expandRecord(ctx, args)

	case "create", "new", "add":
		return c.createRecord(ctx, args)

	case "update", "set", "patch":
		return c.updateRecord(ctx, args)

	case "delete", "rm", "remove":
		return c.deleteRecord(ctx, args)

	case "restore":
		return c.restoreRecord(ctx, args)

	case "stats":
		c.showStats = !c.showStats
		if c.showStats {
			fmt.Fprintln(c.out, "Stats display enabled")
		} else {
			fmt.Fprintln(c.out, "Stats display disabled")
		}
		return nil

	default:
		// <entity> <action> ...
		if _, err := c.runtime.Entity(cmd); err == nil {
			return c.executeEntityCommand(ctx, cmd, args)
		}
		return fmt.Errorf("unknown command: %s (try 'help')", cmd)
	}
}

// showHelp displays help information.
func (c *Channel) showHelp(args []string) error {
	if len(args) > 0 {
		ent, err := c.runtime.Entity(args[0])
		if err != nil {
			return err
		}
		name := ent.FQN()
		fmt.Fprintf(c.out, "\n%s commands:\n", name)
		fmt.Fprintf(c.out, "  list [filter]...          List live records\n")
		fmt.Fprintf(c.out, "  get <id>                  Show one record\n")
		fmt.Fprintf(c.out, "  create <field=value>...   Create a record\n")
		fmt.Fprintf(c.out, "  update <id> <field=value> Update at the current version\n")
		fmt.Fprintf(c.out, "  delete <id>               Soft-delete a record\n")
		fmt.Fprintf(c.out, "  restore <id>              Restore a deleted record\n")
		fmt.Fprintf(c.out, "\nFields:\n")
		for _, f := range ent.Fields {
			fmt.Fprintf(c.out, "  %-20s %s%s\n", f.Name, fieldType(f), fieldFlags(f))
		}
		fmt.Fprintln(c.out)
		return nil
	}

	fmt.Fprintln(c.out, "\nAvailable commands:")
	fmt.Fprintln(c.out, "  entities                    List entities")
	fmt.Fprintln(c.out, "  list <entity> [filter]...   List records (field=value, field__op=value, sort=, limit=, q=)")
	fmt.Fprintln(c.out, "  count <entity> [filter]...  Count records")
	fmt.Fprintln(c.out, "  get <entity> <id>           Show a record")
	fmt.Fprintln(c.out, "  expand <entity> <id> [n]    Show records referencing a record, n levels deep")
	fmt.Fprintln(c.out, "  create <entity> ...         Create a record")
	fmt.Fprintln(c.out, "  update <entity> <id> ...    Update a record")
	fmt.Fprintln(c.out, "  delete <entity> <id>        Delete a record")
	fmt.Fprintln(c.out, "  restore <entity> <id>       Restore a record")
	fmt.Fprintln(c.out, "  <entity> <command> ...      Run a command against one entity")
	fmt.Fprintln(c.out, "  stats                       Toggle execution stats")
	fmt.Fprintln(c.out, "  help [entity]               Show help")
	fmt.Fprintln(c.out, "  quit                        Exit shell")
	fmt.Fprintln(c.out)
	return nil
}

func fieldType(f *schema.Field) string {
	switch {
	case f.Type == schema.TypeArray:
		return "array<" + string(f.Elem) + ">"
	case f.Type == schema.TypeRef:
		return "ref -> " + f.Target
	case f.Catalog != "":
		return string(f.Type) + " (catalog " + f.Catalog + ")"
	}
	return string(f.Type)
}

func fieldFlags(f *schema.Field) string {
	var flags []string
	if f.Required {
		flags = append(flags, "required")
	}
	if f.ReadOnly {
		flags = append(flags, "readonly")
	}
	if f.Unique {
		flags = append(flags, "unique")
	}
	if len(flags) == 0 {
		return ""
	}
	return " [" + strings.Join(flags, ", ") + "]"
}

func (c *Channel) listEntities() error {
	ents := c.runtime.Registry().Snapshot().Entities()
	fmt.Fprintln(c.out, "\nAvailable entities:")
	for _, ent := range ents {
		fmt.Fprintf(c.out, "  %-25s %d fields\n", ent.FQN(), len(ent.Fields))
	}
	fmt.Fprintln(c.out)
	return nil
}

func (c *Channel) listRecords(ctx context.Context, args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: list <entity> [field=value]...")
	}
	ent, err := c.runtime.Entity(args[0])
	if err != nil {
		return err
	}
	params, err := queryParams(args[1:])
	if err != nil {
		return err
	}

	page, err := c.runtime.List(ctx, ent.FQN(), params)
	if err != nil {
		return err
	}
	if len(page.Items) == 0 {
		fmt.Fprintf(c.out, "No %s records found.\n", ent.FQN())
		return nil
	}

	rows := make([]map[string]any, len(page.Items))
	for i, rec := range page.Items {
		rows[i] = rec.Flatten()
	}
	fmt.Fprintln(c.out)
	if err := c.table.FormatList(c.out, ent, rows, formatter.FormatOptions{MaxWidth: 30}); err != nil {
		return err
	}
	if page.Total > len(rows) {
		fmt.Fprintf(c.out, "(%d of %d)\n", len(rows), page.Total)
	}
	fmt.Fprintln(c.out)
	return nil
}

func (c *Channel) countRecords(ctx context.Context, args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: count <entity> [field=value]...")
	}
	params, err := queryParams(args[1:])
	if err != nil {
		return err
	}
	n, err := c.runtime.Count(ctx, args[0], params)
	if err != nil {
		return err
	}
	fmt.Fprintln(c.out, n)
	return nil
}

func (c *Channel) getRecord(ctx context.Context, args []string) error {
	if len(args) < 2 {
		return fmt.Errorf("usage: get <entity> <id>")
	}
	ent, err := c.runtime.Entity(args[0])
	if err != nil {
		return err
	}
	rec, err := c.runtime.Get(ctx, ent.FQN(), args[1])
	if err != nil {
		return err
	}
	fmt.Fprintln(c.out)
	if err := c.table.FormatRecord(c.out, ent, rec.Flatten(), formatter.FormatOptions{}); err != nil {
		return err
	}
	fmt.Fprintln(c.out)
	return nil
}

func (c *Channel) expandRecord(ctx context.Context, args []string) error {
	if len(args) < 2 {
		return fmt.Errorf("usage: expand <entity> <id> [depth]")
	}
	opts := runtime.ExpandOptions{Depth: 1}
	if len(args) > 2 {
		n, err := strconv.Atoi(args[2])
		if err != nil {
			return fmt.Errorf("depth must be an integer")
		}
		opts.Depth = n
	}
	node, err := c.runtime.Expand(ctx, args[0], args[1], opts)
	if err != nil {
		return err
	}
	c.printNode(node, 0)
	if node.Truncated {
		fmt.Fprintln(c.out, "(truncated)")
	}
	return nil
}

func (c *Channel) printNode(n *runtime.Node, indent int) {
	pad := strings.Repeat("  ", indent)
	label := ""
	if ent, err := c.runtime.Entity(n.Entity); err == nil {
		if f := ent.DisplayField(); f != "id" {
			label = "  " + schema.Text(n.Record.Data[f])
		}
	}
	fmt.Fprintf(c.out, "%s%s %s%s\n", pad, n.Entity, n.Record.ID, label)

	names := make([]string, 0, len(n.Children))
	for fqn := range n.Children {
		names = append(names, fqn)
	}
	sort.Strings(names)
	for _, fqn := range names {
		for _, child := range n.Children[fqn] {
			c.printNode(child, indent+1)
		}
	}
}

func (c *Channel) createRecord(ctx context.Context, args []string) error {
	if len(args) < 2 {
		return fmt.Errorf("usage: create <entity> <field=value> ...")
	}
	ent, err := c.runtime.Entity(args[0])
	if err != nil {
		return err
	}
	data, err := parseKeyValues(ent, args[1:])
	if err != nil {
		return err
	}
	rec, err := c.runtime.Create(ctx, ent.FQN(), data)
	if err != nil {
		return err
	}
	fmt.Fprintf(c.out, "Created %s: %s\n", ent.FQN(), rec.ID)
	return nil
}

// updateRecord patches at the version read just before the write, so a
// concurrent writer still produces a version conflict.
func (c *Channel) updateRecord(ctx context.Context, args []string) error {
	if len(args) < 3 {
		return fmt.Errorf("usage: update <entity> <id> <field=value> ...")
	}
	ent, err := c.runtime.Entity(args[0])
	if err != nil {
		return err
	}
	data, err := parseKeyValues(ent, args[2:])
	if err != nil {
		return err
	}
	cur, err := c.runtime.Get(ctx, ent.FQN(), args[1])
	if err != nil {
		return err
	}
	rec, err := c.runtime.Patch(ctx, ent.FQN(), args[1], data, &cur.Version, runtime.PatchOptions{})
	if err != nil {
		return err
	}
	fmt.Fprintf(c.out, "Updated %s: %s (version %d)\n", ent.FQN(), rec.ID, rec.Version)
	return nil
}

func (c *Channel) deleteRecord(ctx context.Context, args []string) error {
	if len(args) < 2 {
		return fmt.Errorf("usage: delete <entity> <id>")
	}
	ent, err := c.runtime.Entity(args[0])
	if err != nil {
		return err
	}
	if _, err := c.runtime.Delete(ctx, ent.FQN(), args[1], nil); err != nil {
		return err
	}
	fmt.Fprintf(c.out, "Deleted %s: %s\n", ent.FQN(), args[1])
	return nil
}

func (c *Channel) restoreRecord(ctx context.Context, args []string) error {
	if len(args) < 2 {
		return fmt.Errorf("usage: restore <entity> <id>")
	}
	ent, err := c.runtime.Entity(args[0])
	if err != nil {
		return err
	}
	rec, err := c.runtime.Restore(ctx, ent.FQN(), args[1])
	if err != nil {
		return err
	}
	fmt.Fprintf(c.out, "Restored %s: %s (version %d)\n", ent.FQN(), rec.ID, rec.Version)
	return nil
}

// executeEntityCommand runs "<entity> <action> args..." as "<action> <entity> args...".
func (c *Channel) executeEntityCommand(ctx context.Context, entity string, args []string) error {
	if len(args) < 1 {
		return c.showHelp([]string{entity})
	}
	switch args[0] {
	case "quit", "exit", "q", "help", "h", "?", "entities", "modules", "stats":
		return fmt.Errorf("unknown action: %s (try 'help %s')", args[0], entity)
	}
	return c.execute(ctx, args[0]+" "+quoteArgs(append([]string{entity}, args[1:]...)))
}

func quoteArgs(args []string) string {
	quoted := make([]string, len(args))
	for i, a := range args {
		if strings.ContainsAny(a, " \t'\"") {
			if strings.Contains(a, `"`) {
				quoted[i] = "'" + a + "'"
			} else {
				quoted[i] = `"` + a + `"`
			}
			continue
		}
		quoted[i] = a
	}
	return strings.Join(quoted, " ")
}

// parseArgs parses a command line respecting quoted strings.
func parseArgs(line string) []string {
	var args []string
	var current strings.Builder
	inQuote := false
	quoteChar := rune(0)

	for _, r := range line {
		switch {
		case r == '"' || r == '\'':
			if inQuote && r == quoteChar {
				inQuote = false
				quoteChar = 0
			} else if !inQuote {
				inQuote = true
				quoteChar = r
			} else {
				current.WriteRune(r)
			}
		case r == ' ' || r == '\t':
			if inQuote {
				current.WriteRune(r)
			} else if current.Len() > 0 {
				args = append(args, current.String())
				current.Reset()
			}
		default:
			current.WriteRune(r)
		}
	}

	if current.Len() > 0 {
		args = append(args, current.String())
	}

	return args
}

// parseKeyValues converts "field=value" arguments by field type.
func parseKeyValues(ent *schema.Entity, args []string) (map[string]any, error) {
	data := make(map[string]any, len(args))
	var errs validation.Errors
	for _, arg := range args {
		k, v, ok := strings.Cut(arg, "=")
		if !ok || k == "" {
			return nil, fmt.Errorf("expected field=value, got %q", arg)
		}
		f := ent.Field(k)
		if f == nil {
			errs = append(errs, validation.FieldError{Code: validation.CodeUnknownField, Field: k, Message: "unknown field"})
			continue
		}
		val, err := cli.ConvertInput(v, f)
		if err != nil {
			errs = append(errs, validation.FieldError{Code: validation.CodeTypeMismatch, Field: k, Message: err.Error()})
			continue
		}
		data[k] = val
	}
	if len(errs) > 0 {
		return nil, errs
	}
	return data, nil
}

// queryParams turns "key=value" arguments into list parameters.
func queryParams(args []string) (url.Values, error) {
	params := url.Values{}
	for _, arg := range args {
		k, v, ok := strings.Cut(arg, "=")
		if !ok || k == "" {
			return nil, fmt.Errorf("expected field=value, got %q", arg)
		}
		params.Add(k, v)
	}
	return params, nil
}
