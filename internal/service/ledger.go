// ledger.go — учёт скачиваний: разрешения (download) и их счётчики.
package service

import (
	"context"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/bigkaa/goartstore/depot/internal/domain/model"
	"github.com/bigkaa/goartstore/depot/internal/repository"
)

// Outcome — результат попытки использовать разрешение.
type Outcome int

const (
	// NotGranted — у бандла нет разрешения на файл.
	NotGranted Outcome = iota
	// Granted — разрешение использовано, содержимое можно отдавать.
	Granted
	// LimitReached — все разрешения исчерпаны.
	LimitReached
)

// String возвращает имя результата для логов и метрик.
func (o Outcome) String() string {
	switch o {
	case Granted:
		return "granted"
	case LimitReached:
		return "limit_reached"
	default:
		return "not_granted"
	}
}

var consumeTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "depot_ledger_consume_total",
	Help: "Количество попыток использовать разрешение на скачивание (по результату).",
}, []string{"outcome"})

// DownloadTxRunner выполняет fn с репозиторием разрешений внутри транзакции.
// Реализуется *repository.TxRunner.
type DownloadTxRunner interface {
	InDownloadTx(ctx context.Context, fn func(repo repository.DownloadRepository) error) error
}

// Ledger — учёт скачиваний.
type Ledger struct {
	downloads repository.DownloadRepository
	tx        DownloadTxRunner
	logger    *slog.Logger
}

// NewLedger создаёт учёт скачиваний.
func NewLedger(downloads repository.DownloadRepository, tx DownloadTxRunner, logger *slog.Logger) *Ledger {
	return &Ledger{
		downloads: downloads,
		tx:        tx,
		logger:    logger.With(slog.String("component", "ledger")),
	}
}

// Consume использует разрешение бандла на файл.
//
// В одной транзакции блокируются все разрешения (file, bundle) в порядке ID.
// Для каждого счётчик увеличивается и сохраняется, затем сравнивается с
// лимитом: если лимит задан и меньше нового значения, проверяется следующее
// разрешение. Увеличение фиксируется и при отказе, поэтому счётчик
// исчерпанного разрешения продолжает расти с каждой попыткой.
//
// Ошибка БД возвращается как ErrPersistenceFailed; результат в этом случае
// не используется.
func (l *Ledger) Consume(ctx context.Context, fileID int64, bundle string) (Outcome, error) {
	outcome := NotGranted

	err := l.tx.InDownloadTx(ctx, func(repo repository.DownloadRepository) error {
		outcome = NotGranted

		grants, err := repo.ListForUpdate(ctx, fileID, bundle)
		if err != nil {
			return err
		}

		for _, g := range grants {
			updated, err := repo.Increment(ctx, g.ID)
			if err != nil {
				return err
			}
			if updated.Exhausted() {
				outcome = LimitReached
				continue
			}
			outcome = Granted
			return nil
		}
		return nil
	})
	if err != nil {
		consumeTotal.WithLabelValues("error").Inc()
		l.logger.Error("Ошибка сохранения счётчика скачиваний",
			slog.Int64("file_id", fileID),
			slog.String("error", err.Error()),
		)
		return NotGranted, ErrPersistenceFailed
	}

	consumeTotal.WithLabelValues(outcome.String()).Inc()
	l.logger.Debug("Разрешение на скачивание проверено",
		slog.Int64("file_id", fileID),
		slog.String("outcome", outcome.String()),
	)
	return outcome, nil
}

// Grant выдаёт бандлу разрешение на скачивание файла.
// limit == nil — без ограничения числа скачиваний.
func (l *Ledger) Grant(ctx context.Context, fileID int64, bundle string, limit *int) (*model.DownloadRecord, error) {
	if !model.ValidBundleHash(bundle) {
		return nil, ErrInvalidBundle
	}
	if limit != nil && *limit < 0 {
		return nil, ErrInvalidGrant
	}

	d := &model.DownloadRecord{FileID: fileID, BundleHash: bundle, DownloadMax: limit}
	if err := l.downloads.Create(ctx, d); err != nil {
		l.logger.Error("Ошибка выдачи разрешения",
			slog.Int64("file_id", fileID),
			slog.String("error", err.Error()),
		)
		return nil, ErrPersistenceFailed
	}

	l.logger.Info("Разрешение на скачивание выдано",
		slog.Int64("file_id", fileID),
		slog.Int64("download_id", d.ID),
	)
	return d, nil
}
