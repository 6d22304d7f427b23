package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/ZakirC4/papermc-setup/internal/metrics"
)

type fakeMetrics struct {
	latest  *metrics.Sample
	history []metrics.Sample
	err     error
	limit   int
}

func (f *fakeMetrics) Latest() *metrics.Sample { return f.latest }

func (f *fakeMetrics) Recent(limit int) ([]metrics.Sample, error) {
	f.limit = limit
	return f.history, f.err
}

func TestGetMetrics(t *testing.T) {
	usage := 12.5
	sample := metrics.Sample{InstanceID: "instance-1", PID: 99, CPUUsage: &usage, MemoryRSS: 1024, Threads: 30, Timestamp: time.Now().UTC()}
	source := &fakeMetrics{latest: &sample, history: []metrics.Sample{sample}}

	router := gin.New()
	router.GET("/metrics", NewMetricsHandler(source).GetMetrics)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics?limit=10", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if source.limit != 10 {
		t.Fatalf("expected limit to be passed through, got %d", source.limit)
	}

	var resp struct {
		Current *metrics.Sample  `json:"current"`
		History []metrics.Sample `json:"history"`
		Count   int              `json:"count"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.Current == nil || resp.Current.PID != 99 || resp.Count != 1 {
		t.Fatalf("unexpected response %+v", resp)
	}

	source.err = errors.New("disk full")
	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if w.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", w.Code)
	}
}
