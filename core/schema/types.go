package schema

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/artpar/kalita/pkg/jsonx"
)

// kind is the per-type behavior of a field, resolved once when the entity is compiled.
type kind struct {
	coerce  func(v any) (any, error)
	parse   func(s string) (any, error)
	compare func(a, b any) int
}

var (
	errString   = errors.New("must be string")
	errInteger  = errors.New("must be integer")
	errNumber   = errors.New("must be number")
	errBool     = errors.New("must be boolean")
	errDate     = errors.New("must be a YYYY-MM-DD date")
	errDatetime = errors.New("must be an RFC3339 datetime")
	errArray    = errors.New("must be array")
)

var dateRe = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`)

var kinds = map[FieldType]kind{
	TypeString:   {coerce: coerceString, parse: parseString, compare: compareText},
	TypeText:     {coerce: coerceString, parse: parseString, compare: compareText},
	TypeEnum:     {coerce: coerceString, parse: parseString, compare: compareText},
	TypeRef:      {coerce: coerceString, parse: parseString, compare: compareText},
	TypeInt:      {coerce: coerceInt, parse: parseInt, compare: compareNumber},
	TypeFloat:    {coerce: coerceFloat, parse: parseFloat, compare: compareNumber},
	TypeMoney:    {coerce: coerceMoney, parse: parseFloat, compare: compareNumber},
	TypeBool:     {coerce: coerceBool, parse: parseBool, compare: compareBool},
	TypeDate:     {coerce: coerceDate, parse: coerceDateString, compare: compareText},
	TypeDatetime: {coerce: coerceDatetime, parse: coerceDatetimeString, compare: compareTime},
	TypeJSON:     {coerce: coerceJSON, parse: parseString, compare: compareText},
}

// KnownType reports whether t is a scalar or array field type.
func KnownType(t FieldType) bool {
	if t == TypeArray {
		return true
	}
	_, ok := kinds[t]
	return ok
}

// System field kinds for filtering and sorting the record envelope.
var systemKinds = map[string]kind{
	"id":         kinds[TypeString],
	"version":    kinds[TypeInt],
	"created_at": kinds[TypeDatetime],
	"updated_at": kinds[TypeDatetime],
}

// SystemField returns a synthetic field describing a record envelope field.
func SystemField(name string) (*Field, bool) {
	k, ok := systemKinds[name]
	if !ok {
		return nil, false
	}
	t := TypeString
	switch name {
	case "version":
		t = TypeInt
	case "created_at", "updated_at":
		t = TypeDatetime
	}
	return &Field{Name: name, Type: t, ReadOnly: true, kind: k}, true
}

func coerceArray(elem kind, v any) (any, error) {
	var arr []any
	switch t := v.(type) {
	case []any:
		arr = t
	case []string:
		arr = make([]any, len(t))
		for i := range t {
			arr[i] = t[i]
		}
	default:
		return nil, errArray
	}
	out := make([]any, 0, len(arr))
	for i, ev := range arr {
		norm, err := elem.coerce(ev)
		if err != nil {
			return nil, fmt.Errorf("element %d: %w", i, err)
		}
		out = append(out, norm)
	}
	return out, nil
}

func coerceString(v any) (any, error) {
	s, ok := v.(string)
	if !ok {
		return nil, errString
	}
	return s, nil
}

func parseString(s string) (any, error) {
	return s, nil
}

func coerceInt(v any) (any, error) {
	switch t := v.(type) {
	case int64:
		return t, nil
	case int:
		return int64(t), nil
	case int32:
		return int64(t), nil
	case float64:
		// -2^63 converts exactly; 2^63 and above do not fit.
		if t != math.Trunc(t) || t < math.MinInt64 || t >= -math.MinInt64 {
			return nil, errInteger
		}
		return int64(t), nil
	case json.Number:
		return coerceInt(jsonx.Number(t))
	default:
		return nil, errInteger
	}
}

func parseInt(s string) (any, error) {
	n, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil {
		return nil, errInteger
	}
	return n, nil
}

func coerceFloat(v any) (any, error) {
	f, ok := toFloat(v)
	if !ok || math.IsNaN(f) || math.IsInf(f, 0) {
		return nil, errNumber
	}
	return f, nil
}

// coerceMoney also accepts decimal strings such as "12.50".
func coerceMoney(v any) (any, error) {
	if s, ok := v.(string); ok {
		return parseFloat(s)
	}
	return coerceFloat(v)
}

func parseFloat(s string) (any, error) {
	f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return nil, errNumber
	}
	return f, nil
}

func coerceBool(v any) (any, error) {
	b, ok := v.(bool)
	if !ok {
		return nil, errBool
	}
	return b, nil
}

func parseBool(s string) (any, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "true", "1", "yes", "on":
		return true, nil
	case "false", "0", "no", "off":
		return false, nil
	}
	return nil, errBool
}

func coerceDate(v any) (any, error) {
	s, ok := v.(string)
	if !ok {
		return nil, errDate
	}
	return coerceDateString(s)
}

func coerceDateString(s string) (any, error) {
	s = strings.TrimSpace(s)
	if !dateRe.MatchString(s) {
		return nil, errDate
	}
	if _, err := time.Parse("2006-01-02", s); err != nil {
		return nil, errDate
	}
	return s, nil
}

func coerceDatetime(v any) (any, error) {
	s, ok := v.(string)
	if !ok {
		return nil, errDatetime
	}
	return coerceDatetimeString(s)
}

func coerceDatetimeString(s string) (any, error) {
	s = strings.TrimSpace(s)
	if _, err := time.Parse(time.RFC3339Nano, s); err != nil {
		return nil, errDatetime
	}
	return s, nil
}

func coerceJSON(v any) (any, error) {
	return jsonx.Normalize(v), nil
}

func toFloat(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case float32:
		return float64(t), true
	case int64:
		return float64(t), true
	case int:
		return float64(t), true
	case int32:
		return float64(t), true
	case json.Number:
		f, err := t.Float64()
		return f, err == nil
	}
	return 0, false
}

func compareNumber(a, b any) int {
	fa, oka := toFloat(a)
	fb, okb := toFloat(b)
	if !oka || !okb {
		return compareText(a, b)
	}
	switch {
	case fa < fb:
		return -1
	case fa > fb:
		return 1
	}
	return 0
}

func compareBool(a, b any) int {
	ba, _ := a.(bool)
	bb, _ := b.(bool)
	switch {
	case ba == bb:
		return 0
	case !ba:
		return -1
	}
	return 1
}

func compareTime(a, b any) int {
	ta, erra := asTime(a)
	tb, errb := asTime(b)
	if erra != nil || errb != nil {
		return compareText(a, b)
	}
	return ta.Compare(tb)
}

func asTime(v any) (time.Time, error) {
	switch t := v.(type) {
	case time.Time:
		return t, nil
	case string:
		return time.Parse(time.RFC3339Nano, t)
	}
	return time.Time{}, errDatetime
}

func compareText(a, b any) int {
	return strings.Compare(Text(a), Text(b))
}

// Text renders a value the way uniqueness and equality checks compare it.
func Text(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case int64:
		return strconv.FormatInt(t, 10)
	case int:
		return strconv.Itoa(t)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(t)
	case json.Number:
		return Text(jsonx.Number(t))
	case time.Time:
		return t.UTC().Format(time.RFC3339Nano)
	default:
		b, err := json.Marshal(t)
		if err != nil {
			return fmt.Sprint(t)
		}
		return string(b)
	}
}
