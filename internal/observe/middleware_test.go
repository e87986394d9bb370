package observe

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

// instrumentedMux serves the routes the API exposes, wrapped in Middleware
// with a manual metrics reader and a recording tracer.
func instrumentedMux(t *testing.T) (http.Handler, *sdkmetric.ManualReader, *tracetest.InMemoryExporter) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	m, err := NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	exp := useRecorder(t)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /v1/notebooks/{id}", func(w http.ResponseWriter, r *http.Request) {
		if r.PathValue("id") == "missing" {
			http.NotFound(w, r)
			return
		}
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("POST /v1/session/start", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	})
	return Middleware(m)(mux), reader, exp
}

func TestMiddleware_SpansAndCorrelation(t *testing.T) {
	h, _, exp := instrumentedMux(t)

	tests := []struct {
		method, path string
		status       int
		span         string
	}{
		{"GET", "/v1/notebooks/n1", http.StatusOK, "HTTP GET /v1/notebooks/{id}"},
		{"GET", "/v1/notebooks/missing", http.StatusNotFound, "HTTP GET /v1/notebooks/{id}"},
		{"POST", "/v1/session/start", http.StatusServiceUnavailable, "HTTP POST /v1/session/start"},
		{"GET", "/unknown", http.StatusNotFound, "HTTP GET /unknown"},
	}
	for i, tt := range tests {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(tt.method, tt.path, nil))
		if rec.Code != tt.status {
			t.Errorf("%s %s = %d, want %d", tt.method, tt.path, rec.Code, tt.status)
		}
		if cid := rec.Header().Get("X-Correlation-ID"); len(cid) != 32 {
			t.Errorf("%s %s: X-Correlation-ID = %q", tt.method, tt.path, cid)
		}

		spans := exp.GetSpans()
		if len(spans) != i+1 {
			t.Fatalf("recorded %d spans after %d requests", len(spans), i+1)
		}
		s := spans[i]
		if s.Name != tt.span {
			t.Errorf("span name = %q, want %q", s.Name, tt.span)
		}
		var code int64
		for _, kv := range s.Attributes {
			if kv.Key == "http.response.status_code" {
				code = kv.Value.AsInt64()
			}
		}
		if code != int64(tt.status) {
			t.Errorf("%s: http.response.status_code = %d, want %d", tt.span, code, tt.status)
		}
	}
}

func TestMiddleware_PropagatesTraceparent(t *testing.T) {
	h, _, _ := instrumentedMux(t)
	const traceID = "4bf92f3577b34da6a3ce929d0e0e4736"

	req := httptest.NewRequest("GET", "/v1/notebooks/n1", nil)
	req.Header.Set("traceparent", "00-"+traceID+"-00f067aa0ba902b7-01")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if got := rec.Header().Get("X-Correlation-ID"); got != traceID {
		t.Errorf("X-Correlation-ID = %q, want incoming trace %s", got, traceID)
	}
	if rec.Header().Get("traceparent") == "" {
		t.Error("response lacks traceparent")
	}
}

func TestMiddleware_DurationPerRoute(t *testing.T) {
	h, reader, _ := instrumentedMux(t)

	for _, id := range []string{"a1", "b2", "c3"} {
		h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/v1/notebooks/"+id, nil))
	}
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("POST", "/v1/session/start", nil))

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	met := findMetric(rm, "voxnode.http.request.duration")
	if met == nil {
		t.Fatal("voxnode.http.request.duration not recorded")
	}
	counts := make(map[string]uint64)
	for _, dp := range met.Data.(metricdata.Histogram[float64]).DataPoints {
		// The path attribute carries the matched ServeMux pattern.
		path, _ := dp.Attributes.Value("path")
		counts[path.AsString()] = dp.Count
	}
	if counts["GET /v1/notebooks/{id}"] != 3 || counts["POST /v1/session/start"] != 1 {
		t.Errorf("samples per route = %v", counts)
	}
}

func TestMiddleware_NilMetrics(t *testing.T) {
	useRecorder(t)
	h := Middleware(nil)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusAccepted)
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest("POST", "/v1/session/pause", nil))
	if rec.Code != http.StatusAccepted {
		t.Errorf("status = %d, want 202", rec.Code)
	}
}

func TestStatusRecorder_FlushAndHijack(t *testing.T) {
	rec := httptest.NewRecorder()
	sr := &statusRecorder{ResponseWriter: rec, statusCode: http.StatusOK}

	f, ok := any(sr).(http.Flusher)
	if !ok {
		t.Fatal("statusRecorder is not an http.Flusher; SSE would break")
	}
	f.Flush()
	if !rec.Flushed {
		t.Error("Flush not forwarded")
	}
	if _, _, err := sr.Hijack(); err == nil {
		t.Error("Hijack on a non-hijackable writer should fail")
	}
}
