package http

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/artpar/kalita/core/runtime"
	"github.com/artpar/kalita/core/schema"
	"github.com/artpar/kalita/core/validation"
)

// bulkItem is one element of a 207 response: a flattened record on success,
// or the item id (when known) with its errors.
type bulkItem = map[string]any

func failed(id string, errs validation.Errors) bulkItem {
	out := bulkItem{"errors": errs}
	if id != "" {
		out["id"] = id
	}
	return out
}

// render maps runtime results onto response slots; slots already holding a
// decode failure are left alone.
func render(out []bulkItem, slots []int, results []runtime.Result, ok func(runtime.Result) bulkItem) {
	for i, res := range results {
		if res.OK() {
			out[slots[i]] = ok(res)
		} else {
			out[slots[i]] = failed(res.ID, res.Errors)
		}
	}
}

func recordItem(res runtime.Result) bulkItem {
	return res.Record.Flatten()
}

func (c *Channel) checkBulkSize(n int) error {
	if limit := c.runtime.Limits().BulkMaxItems; n > limit {
		return validation.New(validation.CodeTooManyItems, "", fmt.Sprintf("at most %d items per request", limit))
	}
	return nil
}

func (c *Channel) handleBulkCreate(w http.ResponseWriter, r *http.Request) {
	list, err := c.decodeList(w, r, "items")
	if err == nil {
		err = c.checkBulkSize(len(list))
	}
	if err != nil {
		c.writeError(w, r, err)
		return
	}

	out := make([]bulkItem, len(list))
	var payloads []map[string]any
	var slots []int
	for i, v := range list {
		obj, ok := v.(map[string]any)
		if !ok {
			out[i] = failed("", validation.New(validation.CodeInvalidJSON, "", "item must be an object"))
			continue
		}
		payloads = append(payloads, obj)
		slots = append(slots, i)
	}

	results, err := c.runtime.BulkCreate(r.Context(), entityName(r), payloads)
	if err != nil {
		c.writeError(w, r, err)
		return
	}
	render(out, slots, results, recordItem)
	writeJSON(w, http.StatusMultiStatus, out)
}

// handleBulkPatch accepts [{id, patch, version}] (if_match is an alias of
// version, and a version inside patch is honored too) or the shared-patch
// form {ids: [...], patch: {...}}.
func (c *Channel) handleBulkPatch(w http.ResponseWriter, r *http.Request) {
	v, err := c.decode(w, r)
	if err != nil {
		c.writeError(w, r, err)
		return
	}

	var list []any
	switch t := v.(type) {
	case []any:
		list = t
	case map[string]any:
		if items, ok := t["items"].([]any); ok {
			list = items
		} else if list, err = sharedPatch(t); err != nil {
			c.writeError(w, r, err)
			return
		}
	default:
		c.writeError(w, r, errInvalidJSONf("expected an array of {id, patch, version}"))
		return
	}
	if err := c.checkBulkSize(len(list)); err != nil {
		c.writeError(w, r, err)
		return
	}

	out := make([]bulkItem, len(list))
	var items []runtime.PatchItem
	var slots []int
	for i, raw := range list {
		item, errs := patchItem(raw)
		if errs != nil {
			out[i] = failed(item.ID, errs)
			continue
		}
		items = append(items, item)
		slots = append(slots, i)
	}

	results, err := c.runtime.BulkPatch(r.Context(), entityName(r), items, patchOptions(r))
	if err != nil {
		c.writeError(w, r, err)
		return
	}
	render(out, slots, results, recordItem)
	writeJSON(w, http.StatusMultiStatus, out)
}

func sharedPatch(body map[string]any) ([]any, error) {
	ids, ok := body["ids"].([]any)
	patch, isObj := body["patch"].(map[string]any)
	if !ok || !isObj {
		return nil, errInvalidJSONf("expected an array of {id, patch, version} or {ids, patch}")
	}
	list := make([]any, 0, len(ids))
	for _, id := range ids {
		item := map[string]any{"id": id, "patch": cloneObject(patch)}
		if v, ok := body["version"]; ok {
			item["version"] = v
		}
		list = append(list, item)
	}
	return list, nil
}

func cloneObject(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func patchItem(raw any) (runtime.PatchItem, validation.Errors) {
	obj, ok := raw.(map[string]any)
	if !ok {
		return runtime.PatchItem{}, validation.New(validation.CodeInvalidJSON, "", "item must be an object")
	}
	item := runtime.PatchItem{ID: strings.TrimSpace(schema.Text(obj["id"]))}
	patch, ok := obj["patch"].(map[string]any)
	if !ok {
		return item, validation.New(validation.CodeInvalidJSON, "patch", "patch must be an object")
	}

	ifMatch := schema.Text(obj["if_match"])
	if v, ok := obj["version"]; ok && v != nil {
		ifMatch = schema.Text(v)
	}
	item.Version = runtime.ExpectedVersion(ifMatch, patch)
	item.Patch = patch
	return item, nil
}

func (c *Channel) handleBulkDelete(w http.ResponseWriter, r *http.Request) {
	c.bulkIDs(w, r, c.runtime.BulkDelete, func(res runtime.Result) bulkItem {
		return bulkItem{"id": res.Record.ID}
	})
}

func (c *Channel) handleBulkRestore(w http.ResponseWriter, r *http.Request) {
	c.bulkIDs(w, r, c.runtime.BulkRestore, recordItem)
}

type idsFunc func(ctx context.Context, name string, ids []string) ([]runtime.Result, error)

// bulkIDs serves the {ids: [...]} endpoints.
func (c *Channel) bulkIDs(w http.ResponseWriter, r *http.Request, run idsFunc, ok func(runtime.Result) bulkItem) {
	list, err := c.decodeList(w, r, "ids")
	if err == nil {
		err = c.checkBulkSize(len(list))
	}
	if err != nil {
		c.writeError(w, r, err)
		return
	}

	out := make([]bulkItem, len(list))
	var ids []string
	var slots []int
	for i, v := range list {
		id, isString := v.(string)
		if id = strings.TrimSpace(id); !isString || id == "" {
			out[i] = failed("", validation.New(validation.CodeRequired, "id", "id must be a non-empty string"))
			continue
		}
		ids = append(ids, id)
		slots = append(slots, i)
	}

	results, err := run(r.Context(), entityName(r), ids)
	if err != nil {
		c.writeError(w, r, err)
		return
	}
	render(out, slots, results, ok)
	writeJSON(w, http.StatusMultiStatus, out)
}
