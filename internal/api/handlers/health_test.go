package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
)

// mockChecker — мок ReadinessChecker.
type mockChecker struct {
	status  string
	message string
}

func (m *mockChecker) CheckReady() (string, string) {
	return m.status, m.message
}

func TestHealthLive(t *testing.T) {
	h := NewHealthHandler(nil, "")
	w := httptest.NewRecorder()
	h.HealthLive(w, httptest.NewRequest(http.MethodGet, "/health/live", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("статус = %d, ожидается 200", w.Code)
	}
	var resp healthResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("ошибка декодирования: %v", err)
	}
	if resp.Status != "ok" || resp.Service != "depot" {
		t.Errorf("ответ = %+v", resp)
	}
	if resp.Checks != nil {
		t.Errorf("liveness не должна содержать checks: %+v", resp.Checks)
	}
}

func TestHealthReady(t *testing.T) {
	tests := []struct {
		name    string
		checker ReadinessChecker
		dataDir string
		want    int
		status  string
	}{
		{"всё доступно", &mockChecker{status: "ok"}, t.TempDir(), http.StatusOK, "ok"},
		{"PostgreSQL недоступен", &mockChecker{status: "fail", message: "down"}, t.TempDir(), http.StatusServiceUnavailable, "fail"},
		{"нет проверки PostgreSQL", nil, "", http.StatusServiceUnavailable, "fail"},
		{"каталог недоступен", &mockChecker{status: "ok"}, filepath.Join(t.TempDir(), "missing", "dir"), http.StatusServiceUnavailable, "fail"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewHealthHandler(tt.checker, tt.dataDir)
			w := httptest.NewRecorder()
			h.HealthReady(w, httptest.NewRequest(http.MethodGet, "/health/ready", nil))

			if w.Code != tt.want {
				t.Errorf("статус = %d, ожидается %d", w.Code, tt.want)
			}
			var resp healthResponse
			if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
				t.Fatalf("ошибка декодирования: %v", err)
			}
			if resp.Status != tt.status {
				t.Errorf("status = %q, ожидается %q", resp.Status, tt.status)
			}
			for _, name := range []string{"postgresql", "filesystem"} {
				if _, ok := resp.Checks[name]; !ok {
					t.Errorf("нет проверки %q в %+v", name, resp.Checks)
				}
			}
		})
	}
}

func TestGetMetrics(t *testing.T) {
	h := NewHealthHandler(nil, "")
	w := httptest.NewRecorder()
	h.GetMetrics(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	if w.Code != http.StatusOK {
		t.Errorf("статус = %d, ожидается 200", w.Code)
	}
}
