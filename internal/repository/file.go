package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/bigkaa/goartstore/depot/internal/domain/model"
)

// FileRepository — доступ к таблице file.
type FileRepository interface {
	// Create вставляет запись; заполняет ID, Unique и Created.
	// При нарушении уникальности (path, bundle_hash) возвращает ErrConflict.
	Create(ctx context.Context, f *model.FileRecord) error
	// GetByPathBundle возвращает запись по паре (path, bundle_hash).
	GetByPathBundle(ctx context.Context, path, bundle string) (*model.FileRecord, error)
	// PathClaimed — true, если на путь ссылается хотя бы одна запись.
	PathClaimed(ctx context.Context, path string) (bool, error)
	// Get возвращает запись по ID и UUID; bundle (опционально) сужает поиск.
	Get(ctx context.Context, id int64, unique uuid.UUID, bundle *string) (*model.FileRecord, error)
	// ListByGrantBundle возвращает файлы, на которые у бандла есть разрешение.
	ListByGrantBundle(ctx context.Context, bundle string) ([]*model.FileRecord, error)
}

// fileColumns — список колонок для SELECT.
const fileColumns = `id, uid, path, name, bundle_hash, created`

type fileRepo struct {
	db DBTX
}

// NewFileRepository создаёт репозиторий файлов.
func NewFileRepository(db DBTX) FileRepository {
	return &fileRepo{db: db}
}

func (r *fileRepo) Create(ctx context.Context, f *model.FileRecord) error {
	query := `
		INSERT INTO file (path, name, bundle_hash)
		VALUES ($1, $2, $3)
		RETURNING id, uid, created`

	err := r.db.QueryRow(ctx, query, f.Path, f.Name, f.BundleHash).
		Scan(&f.ID, &f.Unique, &f.Created)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: файл уже принадлежит бандлу", ErrConflict)
		}
		return fmt.Errorf("ошибка создания записи файла: %w", err)
	}
	return nil
}

func (r *fileRepo) GetByPathBundle(ctx context.Context, path, bundle string) (*model.FileRecord, error) {
	query := `SELECT ` + fileColumns + ` FROM file WHERE path = $1 AND bundle_hash = $2`
	return r.scanOne(r.db.QueryRow(ctx, query, path, bundle))
}

func (r *fileRepo) PathClaimed(ctx context.Context, path string) (bool, error) {
	var exists bool
	err := r.db.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM file WHERE path = $1)`, path).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("ошибка проверки пути: %w", err)
	}
	return exists, nil
}

func (r *fileRepo) Get(ctx context.Context, id int64, unique uuid.UUID, bundle *string) (*model.FileRecord, error) {
	query := `SELECT ` + fileColumns + ` FROM file WHERE id = $1 AND uid = $2`
	args := []any{id, unique}
	if bundle != nil {
		query += ` AND bundle_hash = $3`
		args = append(args, *bundle)
	}
	return r.scanOne(r.db.QueryRow(ctx, query, args...))
}

func (r *fileRepo) ListByGrantBundle(ctx context.Context, bundle string) ([]*model.FileRecord, error) {
	query := `
		SELECT ` + fileColumns + `
		FROM file f
		WHERE EXISTS (SELECT 1 FROM download d WHERE d.file_id = f.id AND d.bundle_hash = $1)
		ORDER BY f.id`

	rows, err := r.db.Query(ctx, query, bundle)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения файлов бандла: %w", err)
	}
	defer rows.Close()

	var files []*model.FileRecord
	for rows.Next() {
		f := &model.FileRecord{}
		if err := rows.Scan(&f.ID, &f.Unique, &f.Path, &f.Name, &f.BundleHash, &f.Created); err != nil {
			return nil, fmt.Errorf("ошибка сканирования файла: %w", err)
		}
		files = append(files, f)
	}
	return files, rows.Err()
}

func (r *fileRepo) scanOne(row pgx.Row) (*model.FileRecord, error) {
	f := &model.FileRecord{}
	err := row.Scan(&f.ID, &f.Unique, &f.Path, &f.Name, &f.BundleHash, &f.Created)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("ошибка получения файла: %w", err)
	}
	return f, nil
}
