// Пакет handlers — HTTP-обработчики Depot.
// Маршруты объявляются в Routes, ошибки сервисного слоя
// переводятся в HTTP-ответы в одном месте (writeServiceError).
package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	apierrors "github.com/bigkaa/goartstore/depot/internal/api/errors"
	"github.com/bigkaa/goartstore/depot/internal/service"
)

// Routes регистрирует маршруты Depot на роутере.
func Routes(r chi.Router, depot *DepotHandler, health *HealthHandler) {
	r.Get("/health/live", health.HealthLive)
	r.Get("/health/ready", health.HealthReady)
	r.Get("/metrics", health.GetMetrics)

	r.Route("/depot", func(r chi.Router) {
		r.Post("/upload/files", depot.UploadFiles)
		r.Post("/upload", depot.Upload)
		r.Delete("/removal/{identifier}", depot.Removal)
		r.Post("/entry", depot.Entry)
		r.Get("/files/{bundle}", depot.ListFiles)
		r.Get("/file/{bundle}/{identifier}", depot.DownloadOwned)
		r.Post("/file/{identifier}", depot.Download)
		r.Post("/grant/{identifier}", depot.Grant)
	})
}

// writeServiceError переводит ошибку сервисного слоя в HTTP-ответ.
// Текст ответа — публичное сообщение конкретной ошибки.
func writeServiceError(w http.ResponseWriter, err error) {
	msg := service.PublicMessage(err)

	switch {
	case errors.Is(err, service.ErrValidation):
		apierrors.ValidationError(w, msg)
	case errors.Is(err, service.ErrAttestation):
		apierrors.AttestationFailed(w, msg)
	case errors.Is(err, service.ErrNotFound):
		apierrors.NotFound(w, msg)
	case errors.Is(err, service.ErrDelivery):
		apierrors.DeliveryFailed(w, msg)
	default:
		apierrors.InternalError(w, msg)
	}
}

// writeJSON вспомогательная функция для записи JSON-ответа.
func writeJSON(w http.ResponseWriter, statusCode int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(data)
}
