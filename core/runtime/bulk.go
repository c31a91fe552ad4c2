package runtime

import (
	"context"
	"errors"
	"fmt"

	"github.com/artpar/kalita/core/record"
	"github.com/artpar/kalita/core/registry"
	"github.com/artpar/kalita/core/validation"
	"golang.org/x/sync/errgroup"
)

// Bulk outcome labels for metrics.
const (
	outcomeOK     = "ok"
	outcomeFailed = "failed"
)

// CodeInternal marks a bulk item that failed for a reason other than a field error.
const CodeInternal = "internal"

// Result is the outcome of one bulk item: either Record or Errors is set.
type Result struct {
	Record *record.Record
	// ID echoes the item id for failed patch/delete/restore items.
	ID     string
	Errors validation.Errors
}

// OK reports whether the item succeeded.
func (r Result) OK() bool {
	return r.Record != nil
}

// PatchItem is one bulk patch request.
type PatchItem struct {
	ID      string
	Patch   map[string]any
	Version *int64
}

// BulkCreate creates each payload independently.
func (r *Runtime) BulkCreate(ctx context.Context, name string, payloads []map[string]any) ([]Result, error) {
	return r.bulk(ctx, name, "create", len(payloads), func(ctx context.Context, i int) (record.Record, string, error) {
		rec, err := r.Create(ctx, name, payloads[i])
		return rec, "", err
	})
}

// BulkPatch patches each item independently; every item needs its own version.
func (r *Runtime) BulkPatch(ctx context.Context, name string, items []PatchItem, opts PatchOptions) ([]Result, error) {
	return r.bulk(ctx, name, "patch", len(items), func(ctx context.Context, i int) (record.Record, string, error) {
		it := items[i]
		if it.ID == "" {
			return record.Record{}, "", validation.New(validation.CodeRequired, "id", "item id is required")
		}
		rec, err := r.Patch(ctx, name, it.ID, it.Patch, it.Version, opts)
		return rec, it.ID, err
	})
}

// BulkDelete soft-deletes each id independently.
func (r *Runtime) BulkDelete(ctx context.Context, name string, ids []string) ([]Result, error) {
	return r.bulk(ctx, name, "delete", len(ids), func(ctx context.Context, i int) (record.Record, string, error) {
		rec, err := r.Delete(ctx, name, ids[i], nil)
		return rec, ids[i], err
	})
}

// BulkRestore restores each id independently.
func (r *Runtime) BulkRestore(ctx context.Context, name string, ids []string) ([]Result, error) {
	return r.bulk(ctx, name, "restore", len(ids), func(ctx context.Context, i int) (record.Record, string, error) {
		rec, err := r.Restore(ctx, name, ids[i])
		return rec, ids[i], err
	})
}

type itemFunc func(ctx context.Context, i int) (record.Record, string, error)

// bulk fans n items out over a bounded worker group. Item failures land in
// their result slot and never stop siblings; only an unknown entity or an
// oversized request fails the whole call.
func (r *Runtime) bulk(ctx context.Context, name, op string, n int, run itemFunc) ([]Result, error) {
	if _, err := r.resolve(name); err != nil {
		return nil, err
	}
	limits := r.Limits()
	if n > limits.BulkMaxItems {
		return nil, validation.New(validation.CodeTooManyItems, "", fmt.Sprintf("at most %d items per request", limits.BulkMaxItems))
	}

	results := make([]Result, n)
	var g errgroup.Group
	g.SetLimit(limits.BulkWorkers)
	for i := 0; i < n; i++ {
		g.Go(func() error {
			rec, id, err := run(ctx, i)
			results[i] = r.result(name, rec, id, err)
			if results[i].OK() {
				r.metrics.RecordBulkItem(op, outcomeOK)
			} else {
				r.metrics.RecordBulkItem(op, outcomeFailed)
			}
			return nil
		})
	}
	_ = g.Wait()
	return results, nil
}

func (r *Runtime) result(name string, rec record.Record, id string, err error) Result {
	if err == nil {
		return Result{Record: &rec}
	}
	if errs, ok := validation.As(err); ok {
		return Result{ID: id, Errors: errs}
	}
	if errors.Is(err, ErrNotFound) || errors.Is(err, registry.ErrSchemaNotFound) {
		return Result{ID: id, Errors: validation.New(validation.CodeNotFound, "id", err.Error())}
	}
	r.logger.Error().Err(err).Str("entity", name).Str("id", id).Msg("bulk item failed")
	return Result{ID: id, Errors: validation.New(CodeInternal, "", "internal error")}
}
