package metrics

import (
	"io"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHandlerExposesCollectors(t *testing.T) {
	m := New()
	m.Requests.WithLabelValues("success").Inc()
	m.Failures.WithLabelValues("render").Add(2)
	m.CompilationDefects.Inc()
	m.RegionsPerRequest.Observe(3)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	require.Equal(t, 200, rec.Code)

	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	text := string(body)

	assert.Contains(t, text, `veil_redactions_total{outcome="success"} 1`)
	assert.Contains(t, text, `veil_failures_total{kind="render"} 2`)
	assert.Contains(t, text, "veil_compilation_defects_total 1")
	assert.Contains(t, text, "veil_regions_per_request_count 1")
	assert.Contains(t, text, "go_goroutines")
}

func TestNewIsIndependent(t *testing.T) {
	// Separate registries must not collide on registration.
	a, b := New(), New()
	a.CompilationDefects.Inc()
	assert.NotSame(t, a.Registry, b.Registry)
}
