// Package cli exposes record operations as cobra commands:
//
//	kalita records list shop.customer --filter level=gold --sort -name
//	kalita records create shop.customer --set name=Ada --set level=gold
//	kalita records patch shop.customer <id> --version 2 --set name=Ada
//
// Commands run in-process against the configured store, so they are most
// useful with the sqlite driver.
package cli

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"os"
	"strconv"
	"strings"

	"github.com/artpar/kalita/core/formatter"
	"github.com/artpar/kalita/core/runtime"
	"github.com/artpar/kalita/core/schema"
	"github.com/artpar/kalita/core/validation"
	"github.com/artpar/kalita/pkg/jsonx"
	"github.com/spf13/cobra"
)

// Opener builds the runtime for one command invocation. The returned
// function releases it.
type Opener func(cmd *cobra.Command) (*runtime.Runtime, func() error, error)

// Channel builds the records command tree.
type Channel struct {
	open        Opener
	formatters  *formatter.Registry
	interactive func() bool
}

// New creates a CLI channel.
func New(open Opener) *Channel {
	return &Channel{
		open:        open,
		formatters:  formatter.DefaultRegistry,
		interactive: IsTerminal,
	}
}

// Name returns the channel name.
func (c *Channel) Name() string {
	return "cli"
}

// Command returns the "records" command with one subcommand per operation.
func (c *Channel) Command() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "records",
		Short: "Query and modify records",
	}
	cmd.AddCommand(
		c.listCommand(),
		c.countCommand(),
		c.getCommand(),
		c.createCommand(),
		c.patchCommand(),
		c.deleteCommand(),
		c.restoreCommand(),
	)
	return cmd
}

// run opens the runtime, resolves the entity named by args[0] and calls fn.
func (c *Channel) run(cmd *cobra.Command, args []string, fn func(ctx context.Context, rt *runtime.Runtime, ent *schema.Entity) error) error {
	rt, closeFn, err := c.open(cmd)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := closeFn(); cerr != nil {
			fmt.Fprintf(cmd.ErrOrStderr(), "close: %v\n", cerr)
		}
	}()

	ent, err := rt.Entity(args[0])
	if err != nil {
		return err
	}
	cmd.SilenceUsage = true
	return fn(cmd.Context(), rt, ent)
}

func (c *Channel) listCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list <module.entity>",
		Short: "List live records",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.run(cmd, args, func(ctx context.Context, rt *runtime.Runtime, ent *schema.Entity) error {
				params, err := listParams(cmd)
				if err != nil {
					return err
				}
				page, err := rt.List(ctx, ent.FQN(), params)
				if err != nil {
					return err
				}
				rows := make([]map[string]any, len(page.Items))
				for i, rec := range page.Items {
					rows[i] = rec.Flatten()
				}
				f, opts, err := c.output(cmd)
				if err != nil {
					return err
				}
				if err := f.FormatList(cmd.OutOrStdout(), ent, rows, opts); err != nil {
					return err
				}
				if f.Name() == "table" && page.Total > len(rows) {
					fmt.Fprintf(cmd.ErrOrStderr(), "showing %d of %d\n", len(rows), page.Total)
				}
				return nil
			})
		},
	}
	addQueryFlags(cmd)
	cmd.Flags().String("sort", "", "Sort fields, comma separated; prefix - for descending")
	cmd.Flags().Int("limit", 0, "Page size (0 = configured default)")
	cmd.Flags().Int("offset", 0, "Records to skip")
	c.addOutputFlags(cmd)
	return cmd
}

func (c *Channel) countCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "count <module.entity>",
		Short: "Count live records matching the filters",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.run(cmd, args, func(ctx context.Context, rt *runtime.Runtime, ent *schema.Entity) error {
				params, err := listParams(cmd)
				if err != nil {
					return err
				}
				n, err := rt.Count(ctx, ent.FQN(), params)
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), n)
				return nil
			})
		},
	}
	addQueryFlags(cmd)
	return cmd
}

func (c *Channel) getCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "get <module.entity> <id>",
		Short: "Show one live record",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.run(cmd, args, func(ctx context.Context, rt *runtime.Runtime, ent *schema.Entity) error {
				rec, err := rt.Get(ctx, ent.FQN(), args[1])
				if err != nil {
					return err
				}
				return c.writeRecord(cmd, ent, rec.Flatten())
			})
		},
	}
	c.addOutputFlags(cmd)
	return cmd
}

func (c *Channel) createCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "create <module.entity>",
		Short: "Create a record",
		Long: `Create a record from --data (a JSON object, @file or - for stdin) and
--set field=value pairs. On a terminal, missing required fields are prompted for.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.run(cmd, args, func(ctx context.Context, rt *runtime.Runtime, ent *schema.Entity) error {
				payload, err := readPayload(cmd, ent)
				if err != nil {
					return err
				}
				noPrompt, _ := cmd.Flags().GetBool("no-prompt")
				if !noPrompt && c.interactive() {
					p := NewPrompter(cmd.InOrStdin(), cmd.ErrOrStderr())
					if payload, err = p.PromptForFields(ent, payload); err != nil {
						return err
					}
				}
				rec, err := rt.Create(ctx, ent.FQN(), payload)
				if err != nil {
					return err
				}
				return c.writeRecord(cmd, ent, rec.Flatten())
			})
		},
	}
	addPayloadFlags(cmd)
	cmd.Flags().Bool("no-prompt", false, "Never prompt for missing fields")
	c.addOutputFlags(cmd)
	return cmd
}

func (c *Channel) patchCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "patch <module.entity> <id>",
		Short: "Update fields of a record",
		Long: `Merge --data and --set values into a record. --version must equal the
record's current version unless --latest is given.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.run(cmd, args, func(ctx context.Context, rt *runtime.Runtime, ent *schema.Entity) error {
				payload, err := readPayload(cmd, ent)
				if err != nil {
					return err
				}
				expected, err := expectedVersion(ctx, cmd, rt, ent, args[1])
				if err != nil {
					return err
				}
				nullsDelete, _ := cmd.Flags().GetBool("nulls-delete")
				rec, err := rt.Patch(ctx, ent.FQN(), args[1], payload, expected, runtime.PatchOptions{NullsDelete: nullsDelete})
				if err != nil {
					return err
				}
				return c.writeRecord(cmd, ent, rec.Flatten())
			})
		},
	}
	addPayloadFlags(cmd)
	addVersionFlags(cmd)
	cmd.Flags().Bool("nulls-delete", false, "Remove fields set to null instead of storing null")
	c.addOutputFlags(cmd)
	return cmd
}

func (c *Channel) deleteCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "delete <module.entity> <id>",
		Short: "Soft-delete a record",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.run(cmd, args, func(ctx context.Context, rt *runtime.Runtime, ent *schema.Entity) error {
				yes, _ := cmd.Flags().GetBool("yes")
				if !yes && c.interactive() {
					p := NewPrompter(cmd.InOrStdin(), cmd.ErrOrStderr())
					ok, err := p.Confirm(fmt.Sprintf("Delete %s %s?", ent.FQN(), args[1]))
					if err != nil {
						return err
					}
					if !ok {
						return fmt.Errorf("aborted")
					}
				}
				var expected *int64
				if cmd.Flags().Changed("version") {
					v, _ := cmd.Flags().GetInt64("version")
					expected = &v
				}
				if _, err := rt.Delete(ctx, ent.FQN(), args[1], expected); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "deleted %s %s\n", ent.FQN(), args[1])
				return nil
			})
		},
	}
	cmd.Flags().Int64("version", 0, "Expected current version")
	cmd.Flags().BoolP("yes", "y", false, "Do not ask for confirmation")
	return cmd
}

func (c *Channel) restoreCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "restore <module.entity> <id>",
		Short: "Restore a soft-deleted record",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.run(cmd, args, func(ctx context.Context, rt *runtime.Runtime, ent *schema.Entity) error {
				rec, err := rt.Restore(ctx, ent.FQN(), args[1])
				if err != nil {
					return err
				}
				return c.writeRecord(cmd, ent, rec.Flatten())
			})
		},
	}
	c.addOutputFlags(cmd)
	return cmd
}

func addQueryFlags(cmd *cobra.Command) {
	cmd.Flags().StringArrayP("filter", "f", nil, "Filter as field=value or field__op=value (repeatable)")
	cmd.Flags().StringP("query", "q", "", "Free-text search")
}

func addPayloadFlags(cmd *cobra.Command) {
	cmd.Flags().StringP("data", "d", "", "JSON object, @file or - for stdin")
	cmd.Flags().StringArrayP("set", "s", nil, "Field value as field=value (repeatable)")
}

func addVersionFlags(cmd *cobra.Command) {
	cmd.Flags().Int64("version", 0, "Expected current version")
	cmd.Flags().Bool("latest", false, "Use the record's current version")
}

func (c *Channel) addOutputFlags(cmd *cobra.Command) {
	cmd.Flags().StringP("output", "o", "", fmt.Sprintf("Output format (%s)", strings.Join(c.formatters.Names(), ", ")))
	cmd.Flags().StringSlice("columns", nil, "Columns to show")
	cmd.Flags().Bool("no-header", false, "Omit the table header")
	cmd.Flags().Int("max-width", 40, "Truncate table cells (0 = no limit)")
}

func (c *Channel) output(cmd *cobra.Command) (formatter.Formatter, formatter.FormatOptions, error) {
	name, _ := cmd.Flags().GetString("output")
	f, err := c.formatters.Lookup(name)
	if err != nil {
		return nil, formatter.FormatOptions{}, err
	}
	var opts formatter.FormatOptions
	opts.Columns, _ = cmd.Flags().GetStringSlice("columns")
	opts.NoHeader, _ = cmd.Flags().GetBool("no-header")
	opts.MaxWidth, _ = cmd.Flags().GetInt("max-width")
	return f, opts, nil
}

func (c *Channel) writeRecord(cmd *cobra.Command, ent *schema.Entity, rec map[string]any) error {
	f, opts, err := c.output(cmd)
	if err != nil {
		return err
	}
	return f.FormatRecord(cmd.OutOrStdout(), ent, rec, opts)
}

// listParams turns --filter, --query, --sort, --limit and --offset into
// the URL parameters the query engine reads.
func listParams(cmd *cobra.Command) (url.Values, error) {
	params := url.Values{}
	filters, _ := cmd.Flags().GetStringArray("filter")
	for _, f := range filters {
		k, v, ok := strings.Cut(f, "=")
		if !ok || k == "" {
			return nil, fmt.Errorf("invalid filter %q: want field=value", f)
		}
		params.Add(k, v)
	}
	if q, _ := cmd.Flags().GetString("query"); q != "" {
		params.Set("q", q)
	}
	if cmd.Flags().Lookup("sort") == nil {
		return params, nil
	}
	if s, _ := cmd.Flags().GetString("sort"); s != "" {
		params.Set("sort", s)
	}
	if n, _ := cmd.Flags().GetInt("limit"); n > 0 {
		params.Set("limit", strconv.Itoa(n))
	}
	if n, _ := cmd.Flags().GetInt("offset"); n > 0 {
		params.Set("offset", strconv.Itoa(n))
	}
	return params, nil
}

// readPayload merges --data with --set; --set wins.
func readPayload(cmd *cobra.Command, ent *schema.Entity) (map[string]any, error) {
	payload := map[string]any{}
	if data, _ := cmd.Flags().GetString("data"); data != "" {
		raw, err := readData(cmd.InOrStdin(), data)
		if err != nil {
			return nil, err
		}
		obj, err := jsonx.DecodeObject(raw)
		if err != nil {
			return nil, validation.New(validation.CodeInvalidJSON, "", err.Error())
		}
		payload = obj
	}

	sets, _ := cmd.Flags().GetStringArray("set")
	var errs validation.Errors
	for _, s := range sets {
		k, v, ok := strings.Cut(s, "=")
		if !ok || k == "" {
			return nil, fmt.Errorf("invalid --set %q: want field=value", s)
		}
		f := ent.Field(k)
		if f == nil {
			errs = append(errs, validation.FieldError{Code: validation.CodeUnknownField, Field: k, Message: "unknown field"})
			continue
		}
		val, err := ConvertInput(v, f)
		if err != nil {
			errs = append(errs, validation.FieldError{Code: validation.CodeTypeMismatch, Field: k, Message: err.Error()})
			continue
		}
		payload[k] = val
	}
	if len(errs) > 0 {
		return nil, errs
	}
	return payload, nil
}

func readData(stdin io.Reader, data string) ([]byte, error) {
	switch {
	case data == "-":
		return io.ReadAll(stdin)
	case strings.HasPrefix(data, "@"):
		return os.ReadFile(data[1:])
	default:
		return []byte(data), nil
	}
}

// ConvertInput converts command-line text for f. String-like fields take
// the text as is; other fields and arrays parse it as JSON, where arrays
// also accept a comma-separated list. "null" clears any field.
func ConvertInput(val string, f *schema.Field) (any, error) {
	if val == "null" {
		return nil, nil
	}
	if f.Type == schema.TypeArray {
		if strings.HasPrefix(strings.TrimSpace(val), "[") {
			return decodeJSON(val)
		}
		elem := &schema.Field{Name: f.Name, Type: f.Elem}
		var out []any
		for _, part := range strings.Split(val, ",") {
			v, err := ConvertInput(strings.TrimSpace(part), elem)
			if err != nil {
				return nil, err
			}
			out = append(out, v)
		}
		return out, nil
	}
	if f.IsStringLike() {
		return val, nil
	}
	return decodeJSON(val)
}

func decodeJSON(val string) (any, error) {
	var v any
	if err := jsonx.Decode(strings.NewReader(val), &v); err != nil {
		return nil, fmt.Errorf("invalid value %q", val)
	}
	return jsonx.Normalize(v), nil
}

func expectedVersion(ctx context.Context, cmd *cobra.Command, rt *runtime.Runtime, ent *schema.Entity, id string) (*int64, error) {
	if cmd.Flags().Changed("version") {
		v, _ := cmd.Flags().GetInt64("version")
		return &v, nil
	}
	if latest, _ := cmd.Flags().GetBool("latest"); latest {
		rec, err := rt.Get(ctx, ent.FQN(), id)
		if err != nil {
			return nil, err
		}
		return &rec.Version, nil
	}
	return nil, nil
}
