// depot.go — сервис хранилища: приём (Ingest) и поиск (Resolve) файлов.
package service

import (
	"context"
	"errors"
	"hash/fnv"
	"io"
	"log/slog"
	"os"
	"sync"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/bigkaa/goartstore/depot/internal/domain/identifier"
	"github.com/bigkaa/goartstore/depot/internal/domain/model"
	"github.com/bigkaa/goartstore/depot/internal/repository"
	"github.com/bigkaa/goartstore/depot/internal/storage/filestore"
)

// Prometheus-метрики приёма файлов.
var (
	ingestTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "depot_ingest_total",
		Help: "Количество загрузок файлов (по результату).",
	}, []string{"result"})

	ingestBytesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "depot_ingest_bytes_total",
		Help: "Общее количество байт, записанных в хранилище.",
	})
)

// ContentStore — физическое хранилище содержимого.
// Реализуется *filestore.FileStore.
type ContentStore interface {
	StoragePath(r io.ReadSeeker, originalName string) (string, error)
	Save(r io.Reader, path string) (int64, error)
	Exists(path string) bool
	Open(path string) (*os.File, error)
	Delete(path string) error
}

// pathLockStripes — количество блокировок для сериализации приёма по пути.
const pathLockStripes = 64

// DepotService — хранилище файлов с дедупликацией по (содержимое, бандл).
type DepotService struct {
	files  repository.FileRepository
	store  ContentStore
	cache  *CacheService
	locks  [pathLockStripes]sync.Mutex
	logger *slog.Logger
}

// NewDepotService создаёт сервис хранилища. cache может быть nil.
func NewDepotService(
	files repository.FileRepository,
	store ContentStore,
	cache *CacheService,
	logger *slog.Logger,
) *DepotService {
	return &DepotService{
		files:  files,
		store:  store,
		cache:  cache,
		logger: logger.With(slog.String("component", "depot_service")),
	}
}

// Ingest принимает поток и привязывает его к бандлу.
//
// Поток:
//  1. Проверка имени и бандла
//  2. Путь хранения по содержимому
//  3. Существующая запись (path, bundle) возвращается без изменений
//  4. Запись содержимого (если файла ещё нет на диске) и вставка строки
//
// Если вставка не удалась, записанное этим вызовом содержимое удаляется,
// когда на путь не ссылается ни одна запись. При конфликте уникальности
// возвращается запись конкурентного победителя.
func (s *DepotService) Ingest(ctx context.Context, stream io.ReadSeeker, originalName, bundle string) (*model.FileRecord, error) {
	if originalName == "" {
		ingestTotal.WithLabelValues("rejected").Inc()
		return nil, ErrEmptyFilename
	}
	if !model.ValidBundleHash(bundle) {
		ingestTotal.WithLabelValues("rejected").Inc()
		return nil, ErrInvalidBundle
	}

	path, err := s.store.StoragePath(stream, originalName)
	if err != nil {
		if errors.Is(err, filestore.ErrNoExtension) {
			ingestTotal.WithLabelValues("rejected").Inc()
			return nil, ErrNoExtension
		}
		s.logger.Error("Ошибка чтения загружаемого файла",
			slog.String("name", originalName),
			slog.String("error", err.Error()),
		)
		ingestTotal.WithLabelValues("error").Inc()
		return nil, ErrFileUploadFailed
	}

	unlock := s.lockPath(path)
	defer unlock()

	existing, err := s.files.GetByPathBundle(ctx, path, bundle)
	switch {
	case err == nil:
		ingestTotal.WithLabelValues("duplicate").Inc()
		s.logger.Debug("Файл уже принадлежит бандлу",
			slog.Int64("id", existing.ID),
			slog.String("path", path),
		)
		return existing, nil
	case !errors.Is(err, repository.ErrNotFound):
		s.logger.Error("Ошибка поиска записи файла",
			slog.String("path", path),
			slog.String("error", err.Error()),
		)
		ingestTotal.WithLabelValues("error").Inc()
		return nil, ErrPersistenceFailed
	}

	wrote := false
	if !s.store.Exists(path) {
		size, err := s.store.Save(stream, path)
		if err != nil {
			s.logger.Error("Ошибка записи файла",
				slog.String("path", path),
				slog.String("error", err.Error()),
			)
			ingestTotal.WithLabelValues("error").Inc()
			return nil, ErrFileUploadFailed
		}
		wrote = true
		ingestBytesTotal.Add(float64(size))
	}

	rec := &model.FileRecord{Path: path, Name: originalName, BundleHash: bundle}
	if err := s.files.Create(ctx, rec); err != nil {
		if errors.Is(err, repository.ErrConflict) {
			winner, gerr := s.files.GetByPathBundle(ctx, path, bundle)
			if gerr == nil {
				ingestTotal.WithLabelValues("duplicate").Inc()
				return winner, nil
			}
			err = gerr
		}
		s.logger.Error("Ошибка сохранения записи файла",
			slog.String("path", path),
			slog.String("error", err.Error()),
		)
		if wrote {
			s.discard(ctx, path)
		}
		ingestTotal.WithLabelValues("error").Inc()
		return nil, ErrPersistenceFailed
	}

	ingestTotal.WithLabelValues("created").Inc()
	s.logger.Info("Файл сохранён",
		slog.Int64("id", rec.ID),
		slog.String("name", originalName),
		slog.String("path", path),
	)
	return rec, nil
}

// Resolve ищет запись по ID и UUID (и бандлу, если задан) и проверяет,
// что содержимое есть на диске. Строка без содержимого — ErrFileMissing.
func (s *DepotService) Resolve(ctx context.Context, id int64, unique uuid.UUID, bundle *string) (*model.FileRecord, error) {
	rec, err := s.lookup(ctx, id, unique, bundle)
	if err != nil {
		return nil, err
	}
	if !s.store.Exists(rec.Path) {
		s.logger.Warn("Содержимое файла отсутствует на диске",
			slog.Int64("id", rec.ID),
			slog.String("path", rec.Path),
		)
		return nil, ErrFileMissing
	}
	return rec, nil
}

// Open открывает содержимое файла. Вызывающий код закрывает файл.
func (s *DepotService) Open(rec *model.FileRecord) (*os.File, error) {
	f, err := s.store.Open(rec.Path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, ErrFileMissing
		}
		s.logger.Error("Ошибка открытия файла",
			slog.String("path", rec.Path),
			slog.String("error", err.Error()),
		)
		return nil, ErrFileReadFailed
	}
	return f, nil
}

// lookup возвращает запись из кэша или БД.
func (s *DepotService) lookup(ctx context.Context, id int64, unique uuid.UUID, bundle *string) (*model.FileRecord, error) {
	key := identifier.Encode(id, unique)

	if s.cache != nil {
		if rec, ok := s.cache.Get(key); ok {
			if bundle != nil && rec.BundleHash != *bundle {
				return nil, ErrFileMissing
			}
			return rec, nil
		}
	}

	rec, err := s.files.Get(ctx, id, unique, bundle)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrFileMissing
		}
		s.logger.Error("Ошибка получения записи файла",
			slog.Int64("id", id),
			slog.String("error", err.Error()),
		)
		return nil, ErrPersistenceFailed
	}

	if s.cache != nil {
		s.cache.Set(key, rec)
	}
	return rec, nil
}

// discard удаляет записанное содержимое, если на путь не ссылается ни одна запись.
// При ошибке проверки содержимое сохраняется.
func (s *DepotService) discard(ctx context.Context, path string) {
	claimed, err := s.files.PathClaimed(ctx, path)
	if err != nil {
		s.logger.Warn("Не удалось проверить ссылки на файл, содержимое сохранено",
			slog.String("path", path),
			slog.String("error", err.Error()),
		)
		return
	}
	if claimed {
		return
	}
	if err := s.store.Delete(path); err != nil {
		s.logger.Error("Ошибка удаления осиротевшего файла",
			slog.String("path", path),
			slog.String("error", err.Error()),
		)
		return
	}
	s.logger.Info("Осиротевший файл удалён", slog.String("path", path))
}

// lockPath сериализует приём одного пути внутри процесса.
// Между процессами источником истины остаётся ограничение уникальности.
func (s *DepotService) lockPath(path string) func() {
	h := fnv.New32a()
	_, _ = h.Write([]byte(path))
	mu := &s.locks[h.Sum32()%pathLockStripes]
	mu.Lock()
	return mu.Unlock
}
