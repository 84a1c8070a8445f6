// depot.go — HTTP-обработчики файловых операций Depot:
// загрузка, скачивание, список файлов бандла, проверка существования,
// уведомление об удалении и выдача разрешений.
package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"path/filepath"

	"github.com/go-chi/chi/v5"

	apierrors "github.com/bigkaa/goartstore/depot/internal/api/errors"
	"github.com/bigkaa/goartstore/depot/internal/domain/identifier"
	"github.com/bigkaa/goartstore/depot/internal/domain/model"
	"github.com/bigkaa/goartstore/depot/internal/molecule"
	"github.com/bigkaa/goartstore/depot/internal/service"
)

const (
	// moleculeField — имя поля multipart и JSON с молекулой.
	moleculeField = "molecule"
	// fileField — имя поля multipart с файлом для одиночной загрузки.
	fileField = "file"
	// unnamedFile — ключ в ответе для файлов без имени.
	unnamedFile = "without a name"

	// maxJSONBody — ограничение JSON-тела запросов.
	maxJSONBody = 1 << 20
)

// Gateway — операции сервисного слоя, используемые обработчиками.
// Реализуется *service.Gateway.
type Gateway interface {
	Verify(ctx context.Context, rawMolecule []byte) (molecule.Attestation, error)
	Ingest(ctx context.Context, stream io.ReadSeeker, originalName, bundle string) (*model.FileRecord, error)
	Fetch(ctx context.Context, token string, rawMolecule []byte) (*service.Download, error)
	FetchOwned(ctx context.Context, bundle, token string) (*service.Download, error)
	ListForBundle(ctx context.Context, bundle string) ([]string, error)
	Entry(ctx context.Context, token, bundle string) (*model.FileRecord, error)
	NotifyRemoval(ctx context.Context, token string, rawMolecule []byte) error
	Grant(ctx context.Context, token, bundle string, limit *int) (*model.DownloadRecord, error)
}

// DepotHandler — обработчик endpoints /depot.
type DepotHandler struct {
	gateway     Gateway
	maxFileSize int64
	logger      *slog.Logger
}

// NewDepotHandler создаёт обработчик. maxFileSize ограничивает тело
// multipart-запросов.
func NewDepotHandler(gateway Gateway, maxFileSize int64, logger *slog.Logger) *DepotHandler {
	return &DepotHandler{
		gateway:     gateway,
		maxFileSize: maxFileSize,
		logger:      logger.With(slog.String("component", "depot_handler")),
	}
}

// uploadFilesResponse — ответ пакетной загрузки.
type uploadFilesResponse struct {
	Uploaded map[string]string `json:"uploaded,omitempty"`
	Error    map[string]string `json:"error,omitempty"`
}

// UploadFiles обрабатывает POST /depot/upload/files.
// Multipart: molecule + произвольное число файлов. Ошибка одного файла
// не прерывает загрузку остальных.
func (h *DepotHandler) UploadFiles(w http.ResponseWriter, r *http.Request) {
	form, ok := h.parseMultipart(w, r)
	if !ok {
		return
	}
	defer form.RemoveAll()

	att, ok := h.verifyFormMolecule(w, r, form)
	if !ok {
		return
	}

	resp := uploadFilesResponse{}
	addError := func(name, msg string) {
		if resp.Error == nil {
			resp.Error = map[string]string{}
		}
		resp.Error[name] = msg
	}

	// Обычные поля формы файлами не считаются и пропускаются
	for _, part := range form.files {
		if part.field == moleculeField {
			continue
		}
		if part.name == "" {
			addError(unnamedFile, service.PublicMessage(service.ErrEmptyFilename))
			continue
		}

		id, err := h.ingestPart(r.Context(), part, att.Bundle())
		if err != nil {
			addError(part.name, service.PublicMessage(err))
			continue
		}
		if resp.Uploaded == nil {
			resp.Uploaded = map[string]string{}
		}
		resp.Uploaded[part.name] = id
	}

	writeJSON(w, http.StatusOK, resp)
}

// Upload обрабатывает POST /depot/upload.
// Multipart: file + molecule. Ответ: {"id": "<идентификатор>"}.
func (h *DepotHandler) Upload(w http.ResponseWriter, r *http.Request) {
	form, ok := h.parseMultipart(w, r)
	if !ok {
		return
	}
	defer form.RemoveAll()

	part := form.file(fileField)
	if part == nil {
		apierrors.ValidationError(w, "No file part")
		return
	}

	att, ok := h.verifyFormMolecule(w, r, form)
	if !ok {
		return
	}

	if part.name == "" {
		writeServiceError(w, service.ErrEmptyFilename)
		return
	}

	id, err := h.ingestPart(r.Context(), part, att.Bundle())
	if err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"id": id})
}

// Removal обрабатывает DELETE /depot/removal/{identifier}.
// JSON: {"molecule": {...}}. Отправляет владельцу продукта письмо.
func (h *DepotHandler) Removal(w http.ResponseWriter, r *http.Request) {
	token := chi.URLParam(r, "identifier")

	if err := h.gateway.NotifyRemoval(r.Context(), token, readMoleculeBody(r)); err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "The message has been sent"})
}

// entryRequest — тело POST /depot/entry.
type entryRequest struct {
	Identifier *string `json:"identifier"`
	Bundle     *string `json:"bundle"`
}

// Entry обрабатывает POST /depot/entry — проверку существования файла.
func (h *DepotHandler) Entry(w http.ResponseWriter, r *http.Request) {
	var req entryRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxJSONBody)).Decode(&req); err != nil ||
		req.Identifier == nil || req.Bundle == nil {
		apierrors.ValidationError(w, "identifier and bundle are required parameters")
		return
	}

	if _, err := h.gateway.Entry(r.Context(), *req.Identifier, *req.Bundle); err != nil {
		if errors.Is(err, service.ErrNotFound) {
			apierrors.ValidationError(w, fmt.Sprintf("there is no file with this id(%s)", *req.Identifier))
			return
		}
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// ListFiles обрабатывает GET /depot/files/{bundle}.
func (h *DepotHandler) ListFiles(w http.ResponseWriter, r *http.Request) {
	ids, err := h.gateway.ListForBundle(r.Context(), chi.URLParam(r, "bundle"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ids)
}

// DownloadOwned обрабатывает GET /depot/file/{bundle}/{identifier}.
// Скачивание владельцем без учёта разрешений.
func (h *DepotHandler) DownloadOwned(w http.ResponseWriter, r *http.Request) {
	d, err := h.gateway.FetchOwned(r.Context(), chi.URLParam(r, "bundle"), chi.URLParam(r, "identifier"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	h.serve(w, r, d, false)
}

// Download обрабатывает POST /depot/file/{identifier}.
// JSON: {"molecule": {...}}. Каждое скачивание расходует разрешение,
// поэтому файл всегда отдаётся целиком.
func (h *DepotHandler) Download(w http.ResponseWriter, r *http.Request) {
	d, err := h.gateway.Fetch(r.Context(), chi.URLParam(r, "identifier"), readMoleculeBody(r))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	h.serve(w, r, d, true)
}

// grantRequest — тело POST /depot/grant/{identifier}.
type grantRequest struct {
	Bundle string `json:"bundle"`
	Max    *int   `json:"max"`
}

// grantResponse — выданное разрешение.
type grantResponse struct {
	ID            int64  `json:"id"`
	FileID        int64  `json:"file_id"`
	Bundle        string `json:"bundle"`
	DownloadCount int    `json:"download_count"`
	DownloadMax   *int   `json:"download_max"`
}

// Grant обрабатывает POST /depot/grant/{identifier}.
// JSON: {"bundle": "...", "max": N|null}. Ответ 201 с разрешением.
func (h *DepotHandler) Grant(w http.ResponseWriter, r *http.Request) {
	var req grantRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxJSONBody)).Decode(&req); err != nil {
		apierrors.ValidationError(w, "bundle is a required parameter")
		return
	}

	d, err := h.gateway.Grant(r.Context(), chi.URLParam(r, "identifier"), req.Bundle, req.Max)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, grantResponse{
		ID:            d.ID,
		FileID:        d.FileID,
		Bundle:        d.BundleHash,
		DownloadCount: d.DownloadCount,
		DownloadMax:   d.DownloadMax,
	})
}

// --- Вспомогательные функции ---

// parseMultipart разбирает multipart-тело с ограничением размера.
// При ошибке ответ уже записан.
func (h *DepotHandler) parseMultipart(w http.ResponseWriter, r *http.Request) (*uploadForm, bool) {
	if r.ContentLength > h.maxFileSize {
		apierrors.FileTooLarge(w, fmt.Sprintf("Request body exceeds %d bytes", h.maxFileSize))
		return nil, false
	}
	r.Body = http.MaxBytesReader(w, r.Body, h.maxFileSize)

	form, err := readUploadForm(r)
	if err != nil {
		var maxErr *http.MaxBytesError
		switch {
		case errors.As(err, &maxErr):
			apierrors.FileTooLarge(w, fmt.Sprintf("Request body exceeds %d bytes", maxErr.Limit))
		case errors.Is(err, errSpoolFailed):
			h.logger.Error("Ошибка буферизации загрузки", slog.String("error", err.Error()))
			writeServiceError(w, service.ErrFileUploadFailed)
		default:
			apierrors.ValidationError(w, "Invalid multipart form")
		}
		return nil, false
	}
	return form, true
}

// verifyFormMolecule читает молекулу из multipart (файлом или полем)
// и проверяет её. При ошибке ответ уже записан.
func (h *DepotHandler) verifyFormMolecule(w http.ResponseWriter, r *http.Request, form *uploadForm) (molecule.Attestation, bool) {
	var raw []byte
	if part := form.file(moleculeField); part != nil {
		data, err := io.ReadAll(io.LimitReader(part.file, maxJSONBody))
		if err != nil {
			apierrors.ValidationError(w, "The molecule has not been transferred")
			return nil, false
		}
		raw = data
	} else if v, ok := form.values[moleculeField]; ok {
		raw = []byte(v)
	} else {
		apierrors.ValidationError(w, "The molecule has not been transferred")
		return nil, false
	}

	att, err := h.gateway.Verify(r.Context(), raw)
	if err != nil {
		if errors.Is(err, service.ErrMissingMolecule) {
			apierrors.ValidationError(w, "The molecule has not been transferred")
			return nil, false
		}
		writeServiceError(w, err)
		return nil, false
	}
	return att, true
}

// ingestPart сохраняет одну часть multipart и возвращает идентификатор.
func (h *DepotHandler) ingestPart(ctx context.Context, part *uploadPart, bundle string) (string, error) {
	rec, err := h.gateway.Ingest(ctx, part.file, part.name, bundle)
	if err != nil {
		return "", err
	}
	return encodeID(rec), nil
}

// conditionalHeaders — заголовки, с которыми ServeContent отдаёт
// часть файла или пустой ответ 304/412.
var conditionalHeaders = []string{
	"Range", "If-Range", "If-Match", "If-None-Match", "If-Modified-Since", "If-Unmodified-Since",
}

// serve отдаёт содержимое файла через http.ServeContent и закрывает его.
// Для metered разрешение уже списано, поэтому условные заголовки и Range
// игнорируются и ответ всегда содержит весь файл.
func (h *DepotHandler) serve(w http.ResponseWriter, r *http.Request, d *service.Download, metered bool) {
	defer d.File.Close()

	stat, err := d.File.Stat()
	if err != nil {
		h.logger.Error("Ошибка получения stat файла",
			slog.Int64("id", d.Record.ID),
			slog.String("error", err.Error()),
		)
		writeServiceError(w, service.ErrFileReadFailed)
		return
	}

	w.Header().Set("Content-Disposition",
		mime.FormatMediaType("inline", map[string]string{"filename": d.Record.Name}))

	if metered {
		r = r.Clone(r.Context())
		for _, name := range conditionalHeaders {
			r.Header.Del(name)
		}
	}

	// Content-Type определяется по расширению пути хранения
	http.ServeContent(w, r, filepath.Base(d.Record.Path), stat.ModTime(), d.File)
}

// readMoleculeBody извлекает поле molecule из JSON-тела.
// Отсутствие тела, некорректный JSON и null дают nil.
func readMoleculeBody(r *http.Request) []byte {
	var body struct {
		Molecule json.RawMessage `json:"molecule"`
	}
	if err := json.NewDecoder(io.LimitReader(r.Body, maxJSONBody)).Decode(&body); err != nil {
		return nil
	}
	raw := bytes.TrimSpace(body.Molecule)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil
	}
	return raw
}

// encodeID возвращает публичный идентификатор записи.
func encodeID(rec *model.FileRecord) string {
	return identifier.Encode(rec.ID, rec.Unique)
}
