package runtime

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"
)

// ExpectedVersion extracts the caller's version token. An If-Match header
// (ETag form, optionally weak) wins over a "version" body field. The body
// field is always removed. It returns nil when no usable token is present.
func ExpectedVersion(ifMatch string, body map[string]any) *int64 {
	raw, inBody := body["version"]
	delete(body, "version")

	if v, ok := parseETag(ifMatch); ok {
		return &v
	}
	if !inBody {
		return nil
	}
	if v, ok := versionValue(raw); ok {
		return &v
	}
	return nil
}

func parseETag(s string) (int64, bool) {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "W/")
	s = strings.Trim(s, `"`)
	if s == "" {
		return 0, false
	}
	v, err := strconv.ParseInt(s, 10, 64)
	return v, err == nil
}

func versionValue(raw any) (int64, bool) {
	switch v := raw.(type) {
	case int64:
		return v, true
	case int:
		return int64(v), true
	case float64:
		if v != math.Trunc(v) {
			return 0, false
		}
		return int64(v), true
	case json.Number:
		n, err := v.Int64()
		return n, err == nil
	case string:
		return parseETag(v)
	}
	return 0, false
}
