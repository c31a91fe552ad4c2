package runtime

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/artpar/kalita/core/record"
	"github.com/artpar/kalita/core/registry"
	"github.com/artpar/kalita/core/schema"
	"github.com/artpar/kalita/core/validation"
)

// ExpandOptions selects the incoming references to nest under a record.
type ExpandOptions struct {
	// Depth is clamped to [0, ExpandMaxDepth].
	Depth int
	// Full expands every referencing entity to ExpandMaxDepth.
	Full bool
	// Only restricts expansion to these referencing entities; empty or "*" means all.
	Only []string
}

// ParseExpand reads _expand, _depth and full from query parameters. It
// reports false when no expansion was requested.
func ParseExpand(params url.Values) (ExpandOptions, bool, error) {
	get := func(k string) string {
		return strings.TrimSpace(params.Get(k))
	}

	var opts ExpandOptions
	switch strings.ToLower(get("full")) {
	case "1", "true", "yes":
		opts.Full = true
	}
	expand, depth := get("_expand"), get("_depth")
	if !opts.Full && expand == "" && depth == "" {
		return opts, false, nil
	}

	opts.Depth = 1
	if depth != "" {
		n, err := strconv.Atoi(depth)
		if err != nil {
			return opts, false, validation.New(validation.CodeInvalidFilter, "_depth", "_depth must be an integer")
		}
		opts.Depth = n
	}
	for _, part := range strings.Split(expand, ",") {
		if part = strings.TrimSpace(part); part != "" && part != "*" {
			opts.Only = append(opts.Only, part)
		}
	}
	return opts, true, nil
}

// Node is a record with its referencing records nested beneath it.
type Node struct {
	Record record.Record
	Entity string

	// Children maps a referencing entity FQN to its records, in store order.
	Children map[string][]*Node

	// Depth and Truncated are set on the root only.
	Depth     int
	Truncated bool
}

// Flatten renders the tree. The root carries _expand_depth and _truncated.
func (n *Node) Flatten() map[string]any {
	out := n.flatten()
	out["_expand_depth"] = n.Depth
	out["_truncated"] = n.Truncated
	return out
}

func (n *Node) flatten() map[string]any {
	out := n.Record.Flatten()
	children := make(map[string]any, len(n.Children))
	for fqn, nodes := range n.Children {
		list := make([]map[string]any, len(nodes))
		for i, c := range nodes {
			list[i] = c.flatten()
		}
		children[fqn] = list
	}
	out["_children"] = children
	return out
}

// Expand loads a live record and nests the live records referencing it,
// recursively up to the requested depth. The total number of children is
// bounded by ExpandMaxChildren; hitting the bound sets Truncated.
func (r *Runtime) Expand(ctx context.Context, name, id string, opts ExpandOptions) (*Node, error) {
	p, err := r.resolve(name)
	if err != nil {
		return nil, err
	}
	root, err := r.load(ctx, p.ent, id)
	if err != nil {
		return nil, err
	}

	limits := r.Limits()
	depth := opts.Depth
	if opts.Full {
		depth = limits.ExpandMaxDepth
	}
	depth = max(0, min(depth, limits.ExpandMaxDepth))

	only, err := resolveOnly(p.snap, opts.Only)
	if err != nil {
		return nil, err
	}

	x := &expander{
		runtime: r,
		snap:    p.snap,
		only:    only,
		budget:  limits.ExpandMaxChildren,
		index:   make(map[refKey]map[string][]record.Record),
		seen:    map[string]bool{p.ent.FQN() + "/" + root.ID: true},
	}
	node := &Node{Record: root, Entity: p.ent.FQN(), Depth: depth}
	if err := x.expand(ctx, node, p.ent, depth); err != nil {
		return nil, err
	}
	node.Truncated = x.truncated
	return node, nil
}

func resolveOnly(snap *registry.Snapshot, names []string) (map[string]bool, error) {
	if len(names) == 0 {
		return nil, nil
	}
	only := make(map[string]bool, len(names))
	for _, n := range names {
		fqn, err := snap.NormalizeEntityName(n)
		if err != nil {
			return nil, validation.New(validation.CodeInvalidFilter, "_expand", err.Error())
		}
		only[fqn] = true
	}
	return only, nil
}

type refKey struct {
	entity string
	field  string
}

type expander struct {
	runtime   *Runtime
	snap      *registry.Snapshot
	only      map[string]bool
	budget    int
	truncated bool

	// index holds, per referencing field, live records grouped by referenced id.
	index map[refKey]map[string][]record.Record
	seen  map[string]bool
}

func (x *expander) expand(ctx context.Context, node *Node, ent *schema.Entity, depth int) error {
	node.Children = map[string][]*Node{}
	if depth == 0 {
		return nil
	}

	for _, ref := range x.snap.Referencing(ent.FQN()) {
		fqn := ref.Entity.FQN()
		if x.only != nil && !x.only[fqn] {
			continue
		}
		byID, err := x.lookup(ctx, ref)
		if err != nil {
			return err
		}
		for _, rec := range byID[node.Record.ID] {
			key := fqn + "/" + rec.ID
			if x.seen[key] {
				continue
			}
			if x.budget == 0 {
				x.truncated = true
				return nil
			}
			x.budget--
			x.seen[key] = true

			child := &Node{Record: rec, Entity: fqn}
			node.Children[fqn] = append(node.Children[fqn], child)
			if err := x.expand(ctx, child, ref.Entity, depth-1); err != nil {
				return err
			}
		}
	}
	return nil
}

// lookup builds the index for one referencing field with a single scan.
func (x *expander) lookup(ctx context.Context, ref registry.Ref) (map[string][]record.Record, error) {
	key := refKey{entity: ref.Entity.FQN(), field: ref.Field.Name}
	if byID, ok := x.index[key]; ok {
		return byID, nil
	}

	byID := make(map[string][]record.Record)
	err := x.runtime.store.Scan(ctx, key.entity, func(rec record.Record) bool {
		if rec.Deleted() {
			return true
		}
		switch v := rec.Data[key.field].(type) {
		case string:
			byID[v] = append(byID[v], rec)
		case []any:
			for _, el := range v {
				if s, ok := el.(string); ok {
					byID[s] = append(byID[s], rec)
				}
			}
		}
		return true
	})
	if err != nil {
		return nil, fmt.Errorf("scan %s: %w", key.entity, err)
	}
	x.index[key] = byID
	return byID, nil
}
