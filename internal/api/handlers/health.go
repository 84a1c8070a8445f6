// health.go — пробы Kubernetes и /metrics.
package handlers

import (
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/bigkaa/goartstore/depot/internal/config"
)

const (
	statusOK   = "ok"
	statusFail = "fail"

	serviceName = "depot"

	checkPostgreSQL = "postgresql"
	checkFilesystem = "filesystem"
)

// ReadinessChecker — проверка одной внешней зависимости.
type ReadinessChecker interface {
	// CheckReady возвращает статус ("ok", "fail") и сообщение.
	CheckReady() (status string, message string)
}

// HealthHandler отвечает на /health/live, /health/ready и /metrics.
type HealthHandler struct {
	pgChecker   ReadinessChecker
	dataDir     string
	promHandler http.Handler
}

// NewHealthHandler: nil pgChecker делает сервис неготовым,
// пустой dataDir отключает проверку каталога хранения.
func NewHealthHandler(pgChecker ReadinessChecker, dataDir string) *HealthHandler {
	return &HealthHandler{
		pgChecker:   pgChecker,
		dataDir:     dataDir,
		promHandler: promhttp.Handler(),
	}
}

type healthCheckResult struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

// healthResponse — общий ответ обеих проб; checks есть только у readiness.
type healthResponse struct {
	Status    string                       `json:"status"`
	Timestamp string                       `json:"timestamp"`
	Version   string                       `json:"version"`
	Service   string                       `json:"service"`
	Checks    map[string]healthCheckResult `json:"checks,omitempty"`
}

func newHealthResponse() healthResponse {
	return healthResponse{
		Status:    statusOK,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Version:   config.Version,
		Service:   serviceName,
	}
}

func (h *HealthHandler) HealthLive(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, newHealthResponse())
}

// HealthReady отвечает 503, если не прошла хотя бы одна проверка.
func (h *HealthHandler) HealthReady(w http.ResponseWriter, _ *http.Request) {
	resp := newHealthResponse()
	resp.Checks = map[string]healthCheckResult{
		checkPostgreSQL: h.checkPostgreSQL(),
		checkFilesystem: h.checkFilesystem(),
	}

	code := http.StatusOK
	for _, c := range resp.Checks {
		if c.Status != statusOK {
			resp.Status = statusFail
			code = http.StatusServiceUnavailable
		}
	}
	writeJSON(w, code, resp)
}

func (h *HealthHandler) GetMetrics(w http.ResponseWriter, r *http.Request) {
	h.promHandler.ServeHTTP(w, r)
}

func (h *HealthHandler) checkPostgreSQL() healthCheckResult {
	if h.pgChecker == nil {
		return healthCheckResult{Status: statusFail, Message: "не инициализирован"}
	}
	status, msg := h.pgChecker.CheckReady()
	return healthCheckResult{Status: status, Message: msg}
}

// checkFilesystem создаёт и удаляет временный файл в каталоге хранения:
// файлы депозитария пишутся туда же.
func (h *HealthHandler) checkFilesystem() healthCheckResult {
	if h.dataDir == "" {
		return healthCheckResult{Status: statusOK, Message: "проверка отключена"}
	}

	f, err := os.CreateTemp(h.dataDir, ".ready-*")
	if err != nil {
		return healthCheckResult{Status: statusFail, Message: "каталог хранения недоступен для записи: " + err.Error()}
	}
	name := f.Name()
	_ = f.Close()
	_ = os.Remove(name)

	return healthCheckResult{Status: statusOK}
}
