// gateway.go — выдача файлов: скачивание с учётом разрешений,
// список файлов бандла, проверка существования и уведомление об удалении.
package service

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"

	"github.com/bigkaa/goartstore/depot/internal/domain/identifier"
	"github.com/bigkaa/goartstore/depot/internal/domain/model"
	"github.com/bigkaa/goartstore/depot/internal/molecule"
	"github.com/bigkaa/goartstore/depot/internal/repository"
)

// Поля метаданных молекулы для уведомления об удалении.
const (
	MetaEmail       = "email"
	MetaProductName = "product_name"
	MetaProductLink = "product_link"
)

// Notifier отправляет уведомления. Реализуется notify.Mailer.
type Notifier interface {
	NotifyRemoval(ctx context.Context, notice model.RemovalNotice) error
}

// Download — открытый для чтения файл. Вызывающий код закрывает File.
type Download struct {
	Record *model.FileRecord
	File   *os.File
}

// Gateway — выдача файлов клиентам.
type Gateway struct {
	depot    *DepotService
	ledger   *Ledger
	files    repository.FileRepository
	verifier molecule.Verifier
	notifier Notifier
	logger   *slog.Logger
}

// NewGateway создаёт сервис выдачи файлов.
func NewGateway(
	depot *DepotService,
	ledger *Ledger,
	files repository.FileRepository,
	verifier molecule.Verifier,
	notifier Notifier,
	logger *slog.Logger,
) *Gateway {
	return &Gateway{
		depot:    depot,
		ledger:   ledger,
		files:    files,
		verifier: verifier,
		notifier: notifier,
		logger:   logger.With(slog.String("component", "gateway")),
	}
}

// Verify проверяет молекулу и возвращает подтверждённый бандл.
func (g *Gateway) Verify(ctx context.Context, rawMolecule []byte) (molecule.Attestation, error) {
	if len(rawMolecule) == 0 {
		return nil, ErrMissingMolecule
	}
	att, err := g.verifier.Verify(ctx, rawMolecule)
	if err != nil {
		g.logger.Warn("Молекула не прошла проверку", slog.String("error", err.Error()))
		return nil, ErrInvalidAttestation
	}
	if !model.ValidBundleHash(att.Bundle()) {
		return nil, ErrInvalidAttestation
	}
	return att, nil
}

// Ingest сохраняет файл за бандлом, подтверждённым молекулой.
func (g *Gateway) Ingest(ctx context.Context, stream io.ReadSeeker, originalName, bundle string) (*model.FileRecord, error) {
	return g.depot.Ingest(ctx, stream, originalName, bundle)
}

// Fetch выдаёт файл с учётом разрешений.
//
// Разрешение ищется по бандлу из молекулы, а не по владельцу файла:
// владелец может выдать доступ другим бандлам. Отсутствие разрешения
// и исчерпанный лимит для клиента выглядят как NotFound.
func (g *Gateway) Fetch(ctx context.Context, token string, rawMolecule []byte) (*Download, error) {
	rec, err := g.resolveToken(ctx, token, nil)
	if err != nil {
		return nil, err
	}

	att, err := g.Verify(ctx, rawMolecule)
	if err != nil {
		return nil, err
	}

	outcome, err := g.ledger.Consume(ctx, rec.ID, att.Bundle())
	if err != nil {
		return nil, err
	}
	switch outcome {
	case NotGranted:
		return nil, ErrNotGranted
	case LimitReached:
		return nil, ErrLimitReached
	}

	f, err := g.depot.Open(rec)
	if err != nil {
		return nil, err
	}
	return &Download{Record: rec, File: f}, nil
}

// FetchOwned выдаёт файл владельцу без учёта скачиваний.
func (g *Gateway) FetchOwned(ctx context.Context, bundle, token string) (*Download, error) {
	if !identifier.Validate(token) {
		return nil, ErrInvalidID
	}
	if !model.ValidBundleHash(bundle) {
		return nil, ErrInvalidBundle
	}

	rec, err := g.resolveToken(ctx, token, &bundle)
	if err != nil {
		return nil, err
	}

	f, err := g.depot.Open(rec)
	if err != nil {
		return nil, err
	}
	return &Download{Record: rec, File: f}, nil
}

// ListForBundle возвращает идентификаторы файлов, на которые у бандла
// есть хотя бы одно разрешение.
func (g *Gateway) ListForBundle(ctx context.Context, bundle string) ([]string, error) {
	if !model.ValidBundleHash(bundle) {
		return nil, ErrInvalidBundle
	}

	records, err := g.files.ListByGrantBundle(ctx, bundle)
	if err != nil {
		g.logger.Error("Ошибка получения файлов бандла", slog.String("error", err.Error()))
		return nil, ErrPersistenceFailed
	}

	ids := make([]string, 0, len(records))
	for _, rec := range records {
		ids = append(ids, identifier.Encode(rec.ID, rec.Unique))
	}
	return ids, nil
}

// Entry проверяет существование файла. Бандл проверяется только по форме.
func (g *Gateway) Entry(ctx context.Context, token, bundle string) (*model.FileRecord, error) {
	if !model.ValidBundleHash(bundle) {
		return nil, ErrInvalidBundle
	}
	return g.resolveToken(ctx, token, nil)
}

// NotifyRemoval отправляет владельцу продукта уведомление об изменении файла.
// Молекула должна принадлежать бандлу-владельцу файла и содержать в атоме M
// поля email, product_name и product_link.
func (g *Gateway) NotifyRemoval(ctx context.Context, token string, rawMolecule []byte) error {
	rec, err := g.resolveToken(ctx, token, nil)
	if err != nil {
		return err
	}

	att, err := g.Verify(ctx, rawMolecule)
	if err != nil {
		return err
	}
	if att.Bundle() != rec.BundleHash {
		return ErrBundleMismatch
	}

	notice, ok := noticeFrom(att)
	if !ok {
		return ErrMissingNotificationFields
	}

	if err := g.notifier.NotifyRemoval(ctx, notice); err != nil {
		g.logger.Error("Ошибка отправки уведомления",
			slog.Int64("file_id", rec.ID),
			slog.String("error", err.Error()),
		)
		return ErrNotificationFailed
	}

	g.logger.Info("Уведомление об удалении отправлено", slog.Int64("file_id", rec.ID))
	return nil
}

// Grant выдаёт бандлу разрешение на файл по идентификатору.
func (g *Gateway) Grant(ctx context.Context, token, bundle string, limit *int) (*model.DownloadRecord, error) {
	rec, err := g.resolveToken(ctx, token, nil)
	if err != nil {
		return nil, err
	}
	return g.ledger.Grant(ctx, rec.ID, bundle, limit)
}

// resolveToken проверяет и разбирает идентификатор и ищет запись.
func (g *Gateway) resolveToken(ctx context.Context, token string, bundle *string) (*model.FileRecord, error) {
	if !identifier.Validate(token) {
		return nil, ErrInvalidID
	}
	id, unique, err := identifier.Decode(token)
	if err != nil {
		if errors.Is(err, identifier.ErrMalformed) {
			return nil, ErrInvalidID
		}
		return nil, err
	}
	return g.depot.Resolve(ctx, id, unique, bundle)
}

// noticeFrom извлекает поля уведомления из метаданных молекулы.
func noticeFrom(att molecule.Attestation) (model.RemovalNotice, bool) {
	email, ok1 := att.MetaField(MetaEmail)
	name, ok2 := att.MetaField(MetaProductName)
	link, ok3 := att.MetaField(MetaProductLink)
	if !ok1 || !ok2 || !ok3 {
		return model.RemovalNotice{}, false
	}
	return model.RemovalNotice{Email: email, ProductName: name, ProductLink: link}, true
}
