package metrics

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRecordResolution(t *testing.T) {
	t.Parallel()
	m := New(prometheus.NewRegistry())

	m.RecordResolution("weather-show", "ok", 120*time.Millisecond)
	m.RecordResolution("weather-show", "ok", 80*time.Millisecond)
	m.RecordResolution("error", "generator_error", time.Second)

	if got := testutil.ToFloat64(m.IntentResolutions.WithLabelValues("weather-show", "ok")); got != 2 {
		t.Errorf("weather-show ok = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.IntentResolutions.WithLabelValues("error", "generator_error")); got != 1 {
		t.Errorf("error generator_error = %v, want 1", got)
	}
}

func TestSessionGaugeAndKafka(t *testing.T) {
	t.Parallel()
	m := New(nil)

	m.SessionOpened()
	m.SessionOpened()
	m.SessionClosed()
	m.RecordKafkaPublish(nil, time.Millisecond)
	m.RecordKafkaPublish(errors.New("broker down"), time.Millisecond)

	if got := testutil.ToFloat64(m.SessionsActive); got != 1 {
		t.Errorf("sessions_active = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.SessionsTotal); got != 2 {
		t.Errorf("sessions_total = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.KafkaPublishTotal.WithLabelValues("error")); got != 1 {
		t.Errorf("kafka errors = %v, want 1", got)
	}
}

func TestMiddlewareUsesRoutePattern(t *testing.T) {
	t.Parallel()
	m := New(nil)

	r := chi.NewRouter()
	r.Use(m.Middleware)
	r.Get("/api/items/{id}", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})
	r.Get("/metrics", m.Handler().ServeHTTP)

	for _, id := range []string{"1", "2", "3"} {
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/items/"+id, nil))
	}

	if got := testutil.ToFloat64(m.HTTPRequests.WithLabelValues("/api/items/{id}", "GET", "418")); got != 3 {
		t.Errorf("requests for pattern = %v, want 3", got)
	}

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("/metrics status = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "voice_assistant_http_requests_total") {
		t.Error("/metrics does not expose http_requests_total")
	}
}
