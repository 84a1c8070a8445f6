package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/bigkaa/goartstore/depot/internal/domain/model"
)

// DownloadRepository — доступ к таблице download (разрешения на скачивание).
type DownloadRepository interface {
	// Create выдаёт разрешение; заполняет ID и временные метки.
	Create(ctx context.Context, d *model.DownloadRecord) error
	// GetByID возвращает разрешение по ID.
	GetByID(ctx context.Context, id int64) (*model.DownloadRecord, error)
	// ListForUpdate возвращает разрешения (file, bundle) в порядке ID,
	// блокируя строки до конца транзакции.
	ListForUpdate(ctx context.Context, fileID int64, bundle string) ([]*model.DownloadRecord, error)
	// Increment увеличивает счётчик и обновляет last_downloaded.
	Increment(ctx context.Context, id int64) (*model.DownloadRecord, error)
}

// downloadColumns — список колонок для SELECT.
const downloadColumns = `id, file_id, bundle_hash, download_count, download_max, last_downloaded, created`

type downloadRepo struct {
	db DBTX
}

// NewDownloadRepository создаёт репозиторий разрешений.
func NewDownloadRepository(db DBTX) DownloadRepository {
	return &downloadRepo{db: db}
}

func (r *downloadRepo) Create(ctx context.Context, d *model.DownloadRecord) error {
	query := `
		INSERT INTO download (file_id, bundle_hash, download_max)
		VALUES ($1, $2, $3)
		RETURNING id, download_count, last_downloaded, created`

	err := r.db.QueryRow(ctx, query, d.FileID, d.BundleHash, d.DownloadMax).
		Scan(&d.ID, &d.DownloadCount, &d.LastDownloaded, &d.Created)
	if err != nil {
		return fmt.Errorf("ошибка создания разрешения: %w", err)
	}
	return nil
}

func (r *downloadRepo) GetByID(ctx context.Context, id int64) (*model.DownloadRecord, error) {
	query := `SELECT ` + downloadColumns + ` FROM download WHERE id = $1`
	return scanDownload(r.db.QueryRow(ctx, query, id))
}

func (r *downloadRepo) ListForUpdate(ctx context.Context, fileID int64, bundle string) ([]*model.DownloadRecord, error) {
	query := `
		SELECT ` + downloadColumns + `
		FROM download
		WHERE file_id = $1 AND bundle_hash = $2
		ORDER BY id
		FOR UPDATE`

	rows, err := r.db.Query(ctx, query, fileID, bundle)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения разрешений: %w", err)
	}
	defer rows.Close()

	var list []*model.DownloadRecord
	for rows.Next() {
		d := &model.DownloadRecord{}
		if err := rows.Scan(&d.ID, &d.FileID, &d.BundleHash, &d.DownloadCount,
			&d.DownloadMax, &d.LastDownloaded, &d.Created); err != nil {
			return nil, fmt.Errorf("ошибка сканирования разрешения: %w", err)
		}
		list = append(list, d)
	}
	return list, rows.Err()
}

func (r *downloadRepo) Increment(ctx context.Context, id int64) (*model.DownloadRecord, error) {
	query := `
		UPDATE download
		SET download_count = download_count + 1, last_downloaded = now()
		WHERE id = $1
		RETURNING ` + downloadColumns

	d, err := scanDownload(r.db.QueryRow(ctx, query, id))
	if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, fmt.Errorf("ошибка обновления счётчика: %w", err)
	}
	return d, err
}

func scanDownload(row pgx.Row) (*model.DownloadRecord, error) {
	d := &model.DownloadRecord{}
	err := row.Scan(&d.ID, &d.FileID, &d.BundleHash, &d.DownloadCount,
		&d.DownloadMax, &d.LastDownloaded, &d.Created)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("ошибка получения разрешения: %w", err)
	}
	return d, nil
}
