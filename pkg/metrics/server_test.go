// Copyright (C) 2026  Gcodepost Authors
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package metrics

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestMetricsServerDefaults(t *testing.T) {
	config := DefaultMetricsServerConfig()
	if config.Address != ":9100" {
		t.Errorf("default address = %s, want :9100", config.Address)
	}

	server := NewMetricsServer(NewStreamMetrics(), ":0")
	if server.GetAddress() != ":0" {
		t.Errorf("GetAddress = %s", server.GetAddress())
	}
	if server.IsRunning() {
		t.Error("server should not be running before Start")
	}
}

func TestHandleMetrics(t *testing.T) {
	sm := NewStreamMetrics()
	sm.LinesIn.Add(nil, 1000)
	sm.Layers.Set(nil, 42)
	server := NewMetricsServer(sm, ":0")

	w := httptest.NewRecorder()
	server.mux.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	resp := w.Result()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); !strings.Contains(ct, "text/plain") {
		t.Errorf("content type = %s", ct)
	}

	body, _ := io.ReadAll(resp.Body)
	for _, want := range []string{"gcodepost_lines_in_total 1000", "gcodepost_layers 42"} {
		if !strings.Contains(string(body), want) {
			t.Errorf("body missing %q:\n%s", want, body)
		}
	}
}

func TestHandleMetricsHead(t *testing.T) {
	server := NewMetricsServer(NewStreamMetrics(), ":0")

	w := httptest.NewRecorder()
	server.mux.ServeHTTP(w, httptest.NewRequest(http.MethodHead, "/metrics", nil))

	resp := w.Result()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want 200", resp.StatusCode)
	}
	if body, _ := io.ReadAll(resp.Body); len(body) != 0 {
		t.Error("HEAD response should have empty body")
	}
}

func TestHandleMetricsMethodNotAllowed(t *testing.T) {
	server := NewMetricsServer(NewStreamMetrics(), ":0")

	w := httptest.NewRecorder()
	server.mux.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/metrics", nil))

	if w.Result().StatusCode != http.StatusMethodNotAllowed {
		t.Errorf("status = %d, want 405", w.Result().StatusCode)
	}
}

func TestHealthAndReady(t *testing.T) {
	server := NewMetricsServer(NewStreamMetrics(), ":0")

	w := httptest.NewRecorder()
	server.mux.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	if w.Result().StatusCode != http.StatusOK {
		t.Errorf("/health status = %d, want 200", w.Result().StatusCode)
	}

	w = httptest.NewRecorder()
	server.mux.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ready", nil))
	if w.Result().StatusCode != http.StatusServiceUnavailable {
		t.Errorf("/ready status = %d, want 503 before Start", w.Result().StatusCode)
	}

	server.mu.Lock()
	server.running = true
	server.mu.Unlock()

	w = httptest.NewRecorder()
	server.mux.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ready", nil))
	if w.Result().StatusCode != http.StatusOK {
		t.Errorf("/ready status = %d, want 200 while running", w.Result().StatusCode)
	}
}

func TestBasicAuth(t *testing.T) {
	server := NewMetricsServerWithConfig(NewStreamMetrics(), MetricsServerConfig{
		Address:  ":0",
		Username: "admin",
		Password: "secret123",
	})

	w := httptest.NewRecorder()
	server.mux.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	resp := w.Result()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("no auth: status = %d, want 401", resp.StatusCode)
	}
	if resp.Header.Get("WWW-Authenticate") == "" {
		t.Error("missing WWW-Authenticate header")
	}

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	req.SetBasicAuth("admin", "wrongpassword")
	w = httptest.NewRecorder()
	server.mux.ServeHTTP(w, req)
	if w.Result().StatusCode != http.StatusUnauthorized {
		t.Errorf("wrong password: status = %d, want 401", w.Result().StatusCode)
	}

	req = httptest.NewRequest(http.MethodGet, "/metrics", nil)
	req.SetBasicAuth("admin", "secret123")
	w = httptest.NewRecorder()
	server.mux.ServeHTTP(w, req)
	if w.Result().StatusCode != http.StatusOK {
		t.Errorf("correct auth: status = %d, want 200", w.Result().StatusCode)
	}
}

func TestNoAuthWhenNotConfigured(t *testing.T) {
	server := NewMetricsServer(NewStreamMetrics(), ":0")

	w := httptest.NewRecorder()
	server.mux.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if w.Result().StatusCode != http.StatusOK {
		t.Errorf("status = %d, want 200", w.Result().StatusCode)
	}
}

func TestShutdown(t *testing.T) {
	server := NewMetricsServer(NewStreamMetrics(), ":0")

	errCh := server.StartAsync()
	time.Sleep(50 * time.Millisecond)
	if !server.IsRunning() {
		t.Error("server should be running after StartAsync")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		t.Errorf("shutdown failed: %v", err)
	}
	if server.IsRunning() {
		t.Error("server should not be running after Shutdown")
	}

	select {
	case err := <-errCh:
		if err != nil {
			t.Errorf("server error: %v", err)
		}
	case <-time.After(time.Second):
	}
}
