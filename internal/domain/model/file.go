// Пакет model — доменные модели Depot.
package model

import (
	"time"

	"github.com/google/uuid"
)

// BundleHashLength — длина хэша бандла (владельца) в символах.
const BundleHashLength = 64

// ValidBundleHash проверяет форму хэша бандла: ровно 64 символа.
// Состав символов не проверяется.
func ValidBundleHash(bundle string) bool {
	return len(bundle) == BundleHashLength
}

// FileRecord — запись о сохранённом файле.
// Хранится в таблице file. Пара (Path, BundleHash) уникальна:
// один и тот же контент может принадлежать нескольким бандлам.
type FileRecord struct {
	// ID — суррогатный ключ (BIGSERIAL)
	ID int64
	// Unique — случайный UUID, генерируется PostgreSQL при вставке
	Unique uuid.UUID
	// Path — абсолютный путь к содержимому в хранилище
	Path string
	// Name — оригинальное имя файла от клиента
	Name string
	// BundleHash — бандл-владелец
	BundleHash string
	// Created — время создания записи
	Created time.Time
}

// DownloadRecord — разрешение на скачивание файла бандлом.
// Хранится в таблице download. Строки не удаляются.
type DownloadRecord struct {
	ID     int64
	FileID int64
	// BundleHash — бандл, которому выдано разрешение
	BundleHash string
	// DownloadCount — сколько раз разрешение было использовано (включая отказы)
	DownloadCount int
	// DownloadMax — лимит скачиваний; nil — без ограничений
	DownloadMax *int
	// LastDownloaded — время последнего изменения счётчика
	LastDownloaded time.Time
	Created        time.Time
}

// Exhausted — true, если лимит задан и счётчик его превысил.
func (d *DownloadRecord) Exhausted() bool {
	return d.DownloadMax != nil && *d.DownloadMax < d.DownloadCount
}
