package schema

import (
	"encoding/json"
	"math"
	"testing"
)

func compiled(t *testing.T, f *Field) *Field {
	t.Helper()
	if err := f.compile(); err != nil {
		t.Fatalf("compile %s: %v", f.Name, err)
	}
	return f
}

func TestField_Coerce(t *testing.T) {
	tests := []struct {
		name    string
		field   *Field
		in      any
		want    any
		wantErr bool
	}{
		{"string ok", &Field{Type: TypeString}, "a", "a", false},
		{"string rejects number", &Field{Type: TypeString}, int64(1), nil, true},
		{"int from json.Number", &Field{Type: TypeInt}, json.Number("42"), int64(42), false},
		{"int from integral float", &Field{Type: TypeInt}, 3.0, int64(3), false},
		{"int rejects fraction", &Field{Type: TypeInt}, 3.5, nil, true},
		{"int rejects float above int64", &Field{Type: TypeInt}, 1e19, nil, true},
		{"int rejects float at 2^63", &Field{Type: TypeInt}, 9.223372036854775807e18, nil, true},
		{"int rejects float below int64", &Field{Type: TypeInt}, -1e19, nil, true},
		{"int accepts min int64", &Field{Type: TypeInt}, -9.223372036854775808e18, int64(math.MinInt64), false},
		{"int rejects oversized json.Number", &Field{Type: TypeInt}, json.Number("99999999999999999999"), nil, true},
		{"int rejects infinity", &Field{Type: TypeInt}, math.Inf(1), nil, true},
		{"int rejects string", &Field{Type: TypeInt}, "3", nil, true},
		{"float from int", &Field{Type: TypeFloat}, int64(2), 2.0, false},
		{"money from string", &Field{Type: TypeMoney}, "12.50", 12.5, false},
		{"money rejects text", &Field{Type: TypeMoney}, "abc", nil, true},
		{"bool ok", &Field{Type: TypeBool}, true, true, false},
		{"bool rejects string", &Field{Type: TypeBool}, "true", nil, true},
		{"date ok", &Field{Type: TypeDate}, "2025-01-01", "2025-01-01", false},
		{"date rejects month 13", &Field{Type: TypeDate}, "2025-13-01", nil, true},
		{"date rejects datetime", &Field{Type: TypeDate}, "2025-01-01T00:00:00Z", nil, true},
		{"datetime ok", &Field{Type: TypeDatetime}, "2025-01-01T10:00:00Z", "2025-01-01T10:00:00Z", false},
		{"datetime rejects date", &Field{Type: TypeDatetime}, "2025-01-01", nil, true},
		{"ref ok", &Field{Type: TypeRef}, "abc", "abc", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := compiled(t, tt.field)
			got, err := f.Coerce(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Coerce(%#v) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			}
			if !tt.wantErr && got != tt.want {
				t.Errorf("Coerce(%#v) = %#v, want %#v", tt.in, got, tt.want)
			}
		})
	}
}

func TestField_CoerceArray(t *testing.T) {
	f := compiled(t, &Field{Type: TypeArray, Elem: TypeInt})

	got, err := f.Coerce([]any{json.Number("1"), 2.0})
	if err != nil {
		t.Fatalf("Coerce failed: %v", err)
	}
	arr := got.([]any)
	if len(arr) != 2 || arr[0] != int64(1) || arr[1] != int64(2) {
		t.Errorf("Coerce = %#v, want [1 2]", arr)
	}

	if _, err := f.Coerce([]any{"x"}); err == nil {
		t.Error("expected element type error")
	}
	if _, err := f.Coerce("x"); err == nil {
		t.Error("expected array shape error")
	}
}

func TestField_Compare(t *testing.T) {
	num := compiled(t, &Field{Type: TypeInt})
	if num.Compare(int64(2), int64(10)) >= 0 {
		t.Error("int compare should be numeric")
	}

	ts := compiled(t, &Field{Type: TypeDatetime})
	if ts.Compare("2025-01-01T10:00:00+02:00", "2025-01-01T09:00:00Z") >= 0 {
		t.Error("datetime compare should account for offsets")
	}

	b := compiled(t, &Field{Type: TypeBool})
	if b.Compare(false, true) >= 0 {
		t.Error("false should sort before true")
	}
}

func TestField_Parse(t *testing.T) {
	f := compiled(t, &Field{Type: TypeBool})
	if v, err := f.Parse("yes"); err != nil || v != true {
		t.Errorf("Parse(yes) = %v, %v; want true", v, err)
	}

	n := compiled(t, &Field{Type: TypeFloat})
	if _, err := n.Parse("abc"); err == nil {
		t.Error("expected parse error")
	}
}
