package metrics

import (
	"database/sql"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func counterValue(t *testing.T, c prometheus.Counter) float64 {
	t.Helper()
	var m dto.Metric
	if err := c.Write(&m); err != nil {
		t.Fatalf("write metric: %v", err)
	}
	return m.GetCounter().GetValue()
}

func gaugeValue(t *testing.T, g prometheus.Gauge) float64 {
	t.Helper()
	var m dto.Metric
	if err := g.Write(&m); err != nil {
		t.Fatalf("write metric: %v", err)
	}
	return m.GetGauge().GetValue()
}

func TestStatusBucket(t *testing.T) {
	tests := []struct {
		code int
		want string
	}{
		{100, "1xx"},
		{200, "2xx"},
		{201, "2xx"},
		{301, "3xx"},
		{400, "4xx"},
		{404, "4xx"},
		{422, "4xx"},
		{500, "5xx"},
		{503, "5xx"},
	}

	for _, tt := range tests {
		if got := statusBucket(tt.code); got != tt.want {
			t.Errorf("statusBucket(%d) = %s, want %s", tt.code, got, tt.want)
		}
	}
}

func TestMetricsEndpoint(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/metrics", Handler())

	ValidationsTotal.WithLabelValues("valid").Inc()

	w := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/metrics", nil)
	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("Expected 200, got %d", w.Code)
	}

	body := w.Body.String()
	for _, name := range []string{
		"licensehub_active_websocket_clients",
		"licensehub_license_keys_created_total",
		"licensehub_validations_total",
	} {
		if !strings.Contains(body, name) {
			t.Errorf("Expected metrics output to contain %s", name)
		}
	}
}

func TestMiddleware_RecordsMetrics(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(Middleware())
	r.GET("/v1/brands/:brand/products", func(c *gin.Context) {
		c.JSON(200, gin.H{"ok": true})
	})

	counter := HTTPRequestsTotal.WithLabelValues("GET", "/v1/brands/:brand/products", "2xx")
	before := counterValue(t, counter)

	for _, brand := range []string{"acme", "globex"} {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest("GET", "/v1/brands/"+brand+"/products", nil))
		if w.Code != http.StatusOK {
			t.Errorf("Expected 200, got %d", w.Code)
		}
	}

	if got := counterValue(t, counter) - before; got != 2 {
		t.Errorf("Expected 2 requests under the route pattern, got %v", got)
	}

	unmatched := HTTPRequestsTotal.WithLabelValues("GET", "unmatched", "4xx")
	before = counterValue(t, unmatched)
	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/nope", nil))
	if got := counterValue(t, unmatched) - before; got != 1 {
		t.Errorf("Expected unmatched request to be counted once, got %v", got)
	}
}

func TestSampleDBStats(t *testing.T) {
	sampleDBStats(sql.DBStats{OpenConnections: 5, Idle: 2, InUse: 3, WaitCount: 7, WaitDuration: 1500 * time.Millisecond})

	if got := gaugeValue(t, DBOpenConnections); got != 5 {
		t.Errorf("open connections = %v, want 5", got)
	}
	if got := gaugeValue(t, DBInUseConnections); got != 3 {
		t.Errorf("in-use connections = %v, want 3", got)
	}
	if got := gaugeValue(t, DBWaitDuration); got != 1.5 {
		t.Errorf("wait duration = %v, want 1.5", got)
	}
	if got := gaugeValue(t, GoroutineCount); got <= 0 {
		t.Errorf("goroutines = %v, want > 0", got)
	}
}
