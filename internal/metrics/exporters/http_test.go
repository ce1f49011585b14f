package exporters

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/smazurov/relaycast/internal/metrics"
)

func TestHTTPHandler(t *testing.T) {
	handler := HTTPHandler()
	if handler == nil {
		t.Fatal("expected non-nil handler")
	}

	metrics.SetEncoderFPS(25.0)
	defer metrics.ResetEncoderMetrics()

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	w := httptest.NewRecorder()

	handler.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", w.Code, http.StatusOK)
	}

	body := w.Body.String()
	if !strings.Contains(body, "relaycast_encoder_fps 25") {
		t.Errorf("expected encoder fps in response, got:\n%s", body)
	}
}

func TestServerHealthDefault(t *testing.T) {
	s := NewServer("127.0.0.1:0", nil)

	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", w.Code, http.StatusOK)
	}
	if got := w.Header().Get("Content-Type"); got != "application/json" {
		t.Errorf("content type = %q", got)
	}
	if !strings.Contains(w.Body.String(), `"status":"ok"`) {
		t.Errorf("unexpected body %s", w.Body.String())
	}
}

func TestServerHealthUnhealthy(t *testing.T) {
	s := NewServer("127.0.0.1:0", func() (any, bool) {
		return map[string]string{"status": "error"}, false
	})

	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want %d", w.Code, http.StatusServiceUnavailable)
	}
	if !strings.Contains(w.Body.String(), `"status":"error"`) {
		t.Errorf("unexpected body %s", w.Body.String())
	}
}

func TestServerServeStopsOnCancel(t *testing.T) {
	s := NewServer("127.0.0.1:0", nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- s.Serve(ctx)
	}()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Serve() = %v, want context.Canceled", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not return after cancel")
	}
}

func TestServerServeBadAddress(t *testing.T) {
	s := NewServer("256.0.0.1:bad", nil)
	if err := s.Serve(context.Background()); err == nil {
		t.Fatal("expected listen error")
	}
}
