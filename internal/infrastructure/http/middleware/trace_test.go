package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"regexp"
	"strings"
	"testing"

	"portico/internal/infrastructure/tracing"

	"github.com/gin-gonic/gin"
)

func init() {
	gin.SetMode(gin.TestMode)
}

var validTraceparent = regexp.MustCompile(`^00-[0-9a-f]{32}-[0-9a-f]{16}-[0-9a-f]{2}$`)

// captureExporter records exported spans for assertions.
type captureExporter struct {
	spans []tracing.SpanData
}

func (e *captureExporter) Export(_ context.Context, span tracing.SpanData) {
	e.spans = append(e.spans, span)
}

func (e *captureExporter) Shutdown(_ context.Context) error { return nil }

func traceRouter(exporter tracing.SpanExporter, handler gin.HandlerFunc) *gin.Engine {
	router := gin.New()
	router.Use(TraceMiddleware(NewW3CTraceProvider(), exporter))
	router.GET("/test", handler)
	return router
}

func TestTraceMiddleware_GeneratesNewTrace(t *testing.T) {
	router := traceRouter(&tracing.NoopExporter{}, func(c *gin.Context) {
		traceID, _ := c.Get("trace_id")
		spanID, _ := c.Get("span_id")

		if traceID == "" {
			t.Error("expected trace_id to be set")
		}
		if spanID == "" {
			t.Error("expected span_id to be set")
		}
		c.Status(http.StatusOK)
	})

	w := httptest.NewRecorder()
	req, _ := http.NewRequest("GET", "/test", nil)
	router.ServeHTTP(w, req)

	traceparent := w.Header().Get("Traceparent")
	if !validTraceparent.MatchString(traceparent) {
		t.Errorf("invalid traceparent in response: %s", traceparent)
	}
}

func TestTraceMiddleware_PreservesIncomingTraceID(t *testing.T) {
	originalTraceID := "abcdef1234567890abcdef1234567890"
	originalSpanID := "1234567890abcdef"
	incoming := "00-" + originalTraceID + "-" + originalSpanID + "-01"

	router := traceRouter(&tracing.NoopExporter{}, func(c *gin.Context) {
		traceID, _ := c.Get("trace_id")
		spanID, _ := c.Get("span_id")

		if traceID != originalTraceID {
			t.Errorf("expected trace_id %s, got %s", originalTraceID, traceID)
		}
		if spanID == originalSpanID || spanID == "" {
			t.Errorf("expected a fresh span_id, got %q", spanID)
		}
		c.Status(http.StatusOK)
	})

	w := httptest.NewRecorder()
	req, _ := http.NewRequest("GET", "/test", nil)
	req.Header.Set("Traceparent", incoming)
	router.ServeHTTP(w, req)

	parts := strings.Split(w.Header().Get("Traceparent"), "-")
	if len(parts) != 4 || parts[1] != originalTraceID {
		t.Errorf("response traceparent should preserve the trace_id, got %s", w.Header().Get("Traceparent"))
	}
}

func TestTraceMiddleware_RejectsMalformedTraceparent(t *testing.T) {
	cases := []struct {
		name        string
		traceparent string
	}{
		{"wrong version", "01-abcdef1234567890abcdef1234567890-1234567890abcdef-01"},
		{"short trace_id", "00-abcdef-1234567890abcdef-01"},
		{"not hex", "00-zzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzz-1234567890abcdef-01"},
		{"all-zero trace_id", "00-00000000000000000000000000000000-1234567890abcdef-01"},
		{"garbage", "not-a-traceparent"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			router := traceRouter(&tracing.NoopExporter{}, func(c *gin.Context) {
				traceID, _ := c.Get("trace_id")
				if traceID == "" || traceID == strings.Repeat("0", 32) {
					t.Errorf("expected a generated trace_id, got %q", traceID)
				}
				c.Status(http.StatusOK)
			})

			w := httptest.NewRecorder()
			req, _ := http.NewRequest("GET", "/test", nil)
			req.Header.Set("Traceparent", tc.traceparent)
			router.ServeHTTP(w, req)

			if !validTraceparent.MatchString(w.Header().Get("Traceparent")) {
				t.Errorf("expected valid traceparent in response, got: %s", w.Header().Get("Traceparent"))
			}
		})
	}
}

func TestTraceMiddleware_PropagatesTracestate(t *testing.T) {
	tracestate := "vendor1=value1,vendor2=value2"

	router := traceRouter(&tracing.NoopExporter{}, func(c *gin.Context) {
		c.Status(http.StatusOK)
	})

	w := httptest.NewRecorder()
	req, _ := http.NewRequest("GET", "/test", nil)
	req.Header.Set("Traceparent", "00-abcdef1234567890abcdef1234567890-1234567890abcdef-01")
	req.Header.Set("Tracestate", tracestate)
	router.ServeHTTP(w, req)

	if got := w.Header().Get("Tracestate"); got != tracestate {
		t.Errorf("expected tracestate %q, got %q", tracestate, got)
	}
}

func TestTraceMiddleware_ExportsServerSpan(t *testing.T) {
	exporter := &captureExporter{}

	router := traceRouter(exporter, func(c *gin.Context) {
		c.Status(http.StatusTeapot)
	})

	w := httptest.NewRecorder()
	req, _ := http.NewRequest("GET", "/test", nil)
	router.ServeHTTP(w, req)

	if len(exporter.spans) != 1 {
		t.Fatalf("exported %d spans, want 1", len(exporter.spans))
	}
	span := exporter.spans[0]
	if span.Kind != tracing.SpanKindServer {
		t.Errorf("span kind = %v, want server", span.Kind)
	}
	if span.Name != "GET /test" {
		t.Errorf("span name = %q, want GET /test", span.Name)
	}
	if span.StatusCode != http.StatusTeapot {
		t.Errorf("span status = %d, want %d", span.StatusCode, http.StatusTeapot)
	}
}
