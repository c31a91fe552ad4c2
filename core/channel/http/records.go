package http

import (
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"

	"github.com/artpar/kalita/core/record"
	"github.com/artpar/kalita/core/runtime"
	"github.com/artpar/kalita/core/schema"
	"github.com/artpar/kalita/core/validation"
	"github.com/go-chi/chi/v5"
)

// entityName is the module-qualified entity name of the request path.
func entityName(r *http.Request) string {
	return chi.URLParam(r, "module") + "." + chi.URLParam(r, "entity")
}

func writeRecord(w http.ResponseWriter, status int, rec record.Record) {
	w.Header().Set("ETag", rec.ETag())
	writeJSON(w, status, rec.Flatten())
}

func flattenAll(recs []record.Record) []map[string]any {
	out := make([]map[string]any, len(recs))
	for i, rec := range recs {
		out[i] = rec.Flatten()
	}
	return out
}

func patchOptions(r *http.Request) runtime.PatchOptions {
	return runtime.PatchOptions{NullsDelete: strings.EqualFold(r.URL.Query().Get("nulls"), "delete")}
}

func (c *Channel) handleList(w http.ResponseWriter, r *http.Request) {
	page, err := c.runtime.List(r.Context(), entityName(r), r.URL.Query())
	if err != nil {
		c.writeError(w, r, err)
		return
	}
	w.Header().Set("X-Total-Count", strconv.Itoa(page.Total))
	writeJSON(w, http.StatusOK, flattenAll(page.Items))
}

// handleCount accepts filters in the query string and, for POST, as a JSON
// object whose keys are merged over the query parameters.
func (c *Channel) handleCount(w http.ResponseWriter, r *http.Request) {
	params := r.URL.Query()
	if r.Method == http.MethodPost && r.ContentLength != 0 {
		body, err := c.decodeObject(w, r)
		if err != nil {
			c.writeError(w, r, err)
			return
		}
		mergeParams(params, body)
	}

	total, err := c.runtime.Count(r.Context(), entityName(r), params)
	if err != nil {
		c.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"total": total})
}

// mergeParams renders body filters in query-string form. Arrays become set filters.
func mergeParams(params url.Values, body map[string]any) {
	keys := make([]string, 0, len(body))
	for k := range body {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		switch v := body[k].(type) {
		case nil:
		case []any:
			parts := make([]string, len(v))
			for i, el := range v {
				parts[i] = schema.Text(el)
			}
			params.Set(k, "in:"+strings.Join(parts, ","))
		default:
			params.Set(k, schema.Text(v))
		}
	}
}

func (c *Channel) handleCreate(w http.ResponseWriter, r *http.Request) {
	body, err := c.decodeObject(w, r)
	if err != nil {
		c.writeError(w, r, err)
		return
	}
	rec, err := c.runtime.Create(r.Context(), entityName(r), body)
	if err != nil {
		c.writeError(w, r, err)
		return
	}
	writeRecord(w, http.StatusCreated, rec)
}

func (c *Channel) handleGet(w http.ResponseWriter, r *http.Request) {
	name, id := entityName(r), chi.URLParam(r, "id")

	opts, expand, err := runtime.ParseExpand(r.URL.Query())
	if err != nil {
		c.writeError(w, r, err)
		return
	}
	if expand {
		node, err := c.runtime.Expand(r.Context(), name, id, opts)
		if err != nil {
			c.writeError(w, r, err)
			return
		}
		w.Header().Set("ETag", node.Record.ETag())
		writeJSON(w, http.StatusOK, node.Flatten())
		return
	}

	rec, err := c.runtime.Get(r.Context(), name, id)
	if err != nil {
		c.writeError(w, r, err)
		return
	}
	if etagMatch(r.Header.Get("If-None-Match"), rec.ETag()) {
		w.Header().Set("ETag", rec.ETag())
		w.WriteHeader(http.StatusNotModified)
		return
	}
	writeRecord(w, http.StatusOK, rec)
}

// etagMatch compares an If-None-Match list against etag, ignoring weakness.
func etagMatch(header, etag string) bool {
	if header == "" {
		return false
	}
	for _, tag := range strings.Split(header, ",") {
		tag = strings.TrimSpace(tag)
		if tag == "*" || strings.TrimPrefix(tag, "W/") == etag {
			return true
		}
	}
	return false
}

func (c *Channel) handlePatch(w http.ResponseWriter, r *http.Request) {
	body, err := c.decodeObject(w, r)
	if err != nil {
		c.writeError(w, r, err)
		return
	}
	expected := runtime.ExpectedVersion(r.Header.Get("If-Match"), body)
	rec, err := c.runtime.Patch(r.Context(), entityName(r), chi.URLParam(r, "id"), body, expected, patchOptions(r))
	if err != nil {
		c.writeError(w, r, err)
		return
	}
	writeRecord(w, http.StatusOK, rec)
}

func (c *Channel) handleReplace(w http.ResponseWriter, r *http.Request) {
	body, err := c.decodeObject(w, r)
	if err != nil {
		c.writeError(w, r, err)
		return
	}
	expected := runtime.ExpectedVersion(r.Header.Get("If-Match"), body)
	rec, err := c.runtime.Replace(r.Context(), entityName(r), chi.URLParam(r, "id"), body, expected)
	if err != nil {
		c.writeError(w, r, err)
		return
	}
	writeRecord(w, http.StatusOK, rec)
}

func (c *Channel) handleDelete(w http.ResponseWriter, r *http.Request) {
	var expected *int64
	if h := r.Header.Get("If-Match"); h != "" {
		expected = runtime.ExpectedVersion(h, map[string]any{})
		if expected == nil {
			c.writeError(w, r, validation.New(validation.CodeVersionConflict, "version", "If-Match must be a record version"))
			return
		}
	}
	if _, err := c.runtime.Delete(r.Context(), entityName(r), chi.URLParam(r, "id"), expected); err != nil {
		c.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (c *Channel) handleRestore(w http.ResponseWriter, r *http.Request) {
	rec, err := c.runtime.Restore(r.Context(), entityName(r), chi.URLParam(r, "id"))
	if err != nil {
		c.writeError(w, r, err)
		return
	}
	writeRecord(w, http.StatusOK, rec)
}
