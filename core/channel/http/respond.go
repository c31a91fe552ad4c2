package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/artpar/kalita/core/registry"
	"github.com/artpar/kalita/core/runtime"
	"github.com/artpar/kalita/core/validation"
	"github.com/artpar/kalita/pkg/jsonx"
	"github.com/go-chi/chi/v5/middleware"
)

// errorBody is the error envelope shared by every failure response.
type errorBody struct {
	Errors validation.Errors `json:"errors"`
}

// errInvalidJSON marks a body that is not the JSON shape a route expects.
var errInvalidJSON = errors.New("invalid JSON body")

func errInvalidJSONf(format string, args ...any) error {
	return fmt.Errorf("%w: "+format, append([]any{errInvalidJSON}, args...)...)
}

// writeJSON writes v with status.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError maps err onto the error envelope: field errors are 409 when any
// code is 409-class and 400 otherwise; unknown schemas and records are 404.
func (c *Channel) writeError(w http.ResponseWriter, r *http.Request, err error) {
	if errs, ok := validation.As(err); ok {
		status := http.StatusBadRequest
		if errs.Conflict() {
			status = http.StatusConflict
		}
		writeJSON(w, status, errorBody{Errors: errs})
		return
	}

	switch {
	case errors.Is(err, runtime.ErrNotFound), errors.Is(err, registry.ErrSchemaNotFound), errors.Is(err, registry.ErrCatalogNotFound):
		writeJSON(w, http.StatusNotFound, errorBody{Errors: validation.New(validation.CodeNotFound, "", err.Error())})
	case errors.Is(err, errInvalidJSON):
		writeJSON(w, http.StatusBadRequest, errorBody{Errors: validation.New(validation.CodeInvalidJSON, "", err.Error())})
	default:
		c.logger.Error().
			Err(err).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Str("request_id", middleware.GetReqID(r.Context())).
			Msg("request failed")
		writeJSON(w, http.StatusInternalServerError, errorBody{Errors: validation.New(runtime.CodeInternal, "", "internal server error")})
	}
}

// decode reads a size-limited JSON body into a normalized value.
func (c *Channel) decode(w http.ResponseWriter, r *http.Request) (any, error) {
	body := http.MaxBytesReader(w, r.Body, c.maxBodyBytes())
	var v any
	if err := jsonx.Decode(body, &v); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return nil, fmt.Errorf("%w: body exceeds %d bytes", errInvalidJSON, tooLarge.Limit)
		}
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("%w: empty body", errInvalidJSON)
		}
		return nil, fmt.Errorf("%w: %v", errInvalidJSON, err)
	}
	return jsonx.Normalize(v), nil
}

// decodeObject reads a JSON object body.
func (c *Channel) decodeObject(w http.ResponseWriter, r *http.Request) (map[string]any, error) {
	v, err := c.decode(w, r)
	if err != nil {
		return nil, err
	}
	obj, ok := v.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("%w: expected an object", errInvalidJSON)
	}
	return obj, nil
}

// decodeList reads a JSON array body, or an object wrapping the array under key.
func (c *Channel) decodeList(w http.ResponseWriter, r *http.Request, key string) ([]any, error) {
	v, err := c.decode(w, r)
	if err != nil {
		return nil, err
	}
	switch t := v.(type) {
	case []any:
		return t, nil
	case map[string]any:
		if list, ok := t[key].([]any); ok {
			return list, nil
		}
	}
	return nil, fmt.Errorf("%w: expected an array or {%q: [...]}", errInvalidJSON, key)
}
