package metrics_test

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/artpar/kalita/adapters/metrics"
	"github.com/prometheus/client_golang/prometheus"
)

// value gathers reg and returns the counter or gauge value of the series
// name with the given label pairs.
func value(t *testing.T, reg *prometheus.Registry, name string, labels ...string) float64 {
	t.Helper()
	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather error: %v", err)
	}
	for _, f := range families {
		if f.GetName() != name {
			continue
		}
	series:
		for _, m := range f.GetMetric() {
			got := map[string]string{}
			for _, lp := range m.GetLabel() {
				got[lp.GetName()] = lp.GetValue()
			}
			for i := 0; i+1 < len(labels); i += 2 {
				if got[labels[i]] != labels[i+1] {
					continue series
				}
			}
			if c := m.GetCounter(); c != nil {
				return c.GetValue()
			}
			return m.GetGauge().GetValue()
		}
	}
	t.Fatalf("series %s%v not found", name, labels)
	return 0
}

func TestNewWithRegistry(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.NewWithRegistry(reg)

	if m.RequestsTotal == nil || m.RecordMutations == nil || m.SchemaReloads == nil {
		t.Fatal("collector has nil metrics")
	}

	// A second collector on a fresh registry must not panic on duplicate registration.
	metrics.NewWithRegistry(prometheus.NewRegistry())
}

func TestRecordMutation(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.NewWithRegistry(reg)

	m.RecordMutation("crm.person", "created")
	m.RecordMutation("crm.person", "created")
	m.RecordMutation("crm.person", "deleted")

	if got := value(t, reg, "kalita_record_mutations_total", "entity", "crm.person", "op", "created"); got != 2 {
		t.Errorf("created = %v, want 2", got)
	}
	if got := value(t, reg, "kalita_record_mutations_total", "entity", "crm.person", "op", "deleted"); got != 1 {
		t.Errorf("deleted = %v, want 1", got)
	}
}

func TestRejections(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.NewWithRegistry(reg)

	m.RecordVersionConflict("crm.person")
	m.RecordIntegrityRejection("crm.person", "unique_violation")
	m.RecordBulkItem("patch", "failed")

	if got := value(t, reg, "kalita_version_conflicts_total", "entity", "crm.person"); got != 1 {
		t.Errorf("version conflicts = %v, want 1", got)
	}
	if got := value(t, reg, "kalita_integrity_rejections_total", "code", "unique_violation"); got != 1 {
		t.Errorf("integrity rejections = %v, want 1", got)
	}
	if got := value(t, reg, "kalita_bulk_items_total", "op", "patch", "outcome", "failed"); got != 1 {
		t.Errorf("bulk items = %v, want 1", got)
	}
}

func TestRecordSchemaReload(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.NewWithRegistry(reg)
	at := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	m.RecordSchemaReload(true, at)
	m.RecordSchemaReload(false, at.Add(time.Hour))

	if got := value(t, reg, "kalita_schema_reloads_total"); got != 1 {
		t.Errorf("reloads = %v, want 1", got)
	}
	if got := value(t, reg, "kalita_schema_reload_errors_total"); got != 1 {
		t.Errorf("reload errors = %v, want 1", got)
	}
	if got := value(t, reg, "kalita_schema_last_reload_timestamp"); got != float64(at.Unix()) {
		t.Errorf("last reload = %v, want %v", got, float64(at.Unix()))
	}
}

func TestHandler(t *testing.T) {
	m := metrics.NewWithRegistry(prometheus.NewRegistry())
	m.ObserveRequest("GET", "/api/{module}/{entity}", 200, 5*time.Millisecond)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body := rec.Body.String()
	for _, want := range []string{
		`kalita_requests_total{method="GET",route="/api/{module}/{entity}",status="200"} 1`,
		"kalita_request_duration_seconds_bucket",
	} {
		if !strings.Contains(body, want) {
			t.Errorf("metrics output missing %q", want)
		}
	}
}

func TestStatusClass(t *testing.T) {
	tests := []struct {
		status int
		want   string
	}{
		{200, "2xx"}, {204, "2xx"}, {304, "3xx"}, {409, "4xx"}, {500, "5xx"}, {100, "other"},
	}
	for _, tt := range tests {
		if got := metrics.StatusClass(tt.status); got != tt.want {
			t.Errorf("StatusClass(%d) = %q, want %q", tt.status, got, tt.want)
		}
	}
}
