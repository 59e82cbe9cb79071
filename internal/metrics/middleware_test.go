package metrics

import (
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeEndpoint_FallsBackToUnknownWhenEmpty(t *testing.T) {
	assert.Equal(t, "unknown", normalizeEndpoint(""))
	assert.Equal(t, "/builds/:id", normalizeEndpoint("/builds/:id"))
}

func TestHTTPStatusCode_FormatsNumericCode(t *testing.T) {
	assert.Equal(t, "200", HTTPStatusCode(200))
	assert.Equal(t, "503", HTTPStatusCode(503))
}

func TestPrometheusMiddleware_RecordsHTTPRequestsInFlight(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(PrometheusMiddleware())
	var during float64
	r.GET("/builds/:id", func(c *gin.Context) {
		during = testutil.ToFloat64(Get().HTTPRequestsInFlight)
		c.String(200, "ok")
	})

	require.NotNil(t, Get().HTTPRequestsInFlight)
	before := testutil.ToFloat64(Get().HTTPRequestsInFlight)

	w := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/builds/42", nil)
	r.ServeHTTP(w, req)

	assert.Equal(t, 200, w.Code)
	assert.Equal(t, before+1, during)
	assert.Equal(t, before, testutil.ToFloat64(Get().HTTPRequestsInFlight))
}

func TestMetricsCollector_SamplesGoroutineCount(t *testing.T) {
	mc := NewMetricsCollector(5 * time.Millisecond)
	mc.Start()
	defer mc.Stop()

	require.Eventually(t, func() bool {
		return testutil.ToFloat64(Get().Goroutines) > 0
	}, time.Second, 5*time.Millisecond)
}
