// Пакет filestore — операции с физическими файлами на диске.
// Имя файла в хранилище выводится из содержимого (MD5), поэтому
// одинаковые данные с одинаковым расширением занимают один файл.
package filestore

import (
	"crypto/md5"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// chunkSize — размер блока чтения при хэшировании.
const chunkSize = 8192

// ErrNoExtension — у имени файла нет расширения.
var ErrNoExtension = errors.New("имя файла не содержит расширения")

// FileStore — управление физическими файлами на диске.
type FileStore struct {
	// dataDir — абсолютный путь к корню хранилища
	dataDir string
	// prefix — префикс имени файла в хранилище
	prefix string
}

// New создаёт FileStore. Создаёт директорию, если она не существует.
func New(dataDir, prefix string) (*FileStore, error) {
	abs, err := filepath.Abs(dataDir)
	if err != nil {
		return nil, fmt.Errorf("некорректный путь к данным %s: %w", dataDir, err)
	}
	if err := os.MkdirAll(abs, 0o750); err != nil {
		return nil, fmt.Errorf("не удалось создать директорию данных %s: %w", abs, err)
	}

	return &FileStore{dataDir: abs, prefix: prefix}, nil
}

// ContentName вычисляет имя по содержимому: "<md5 hex>.<расширение>".
// Поток читается блоками по 8 КиБ и возвращается в начало.
// Расширение — последний сегмент после точки, в нижнем регистре.
func ContentName(r io.ReadSeeker, originalName string) (string, error) {
	ext, err := extension(originalName)
	if err != nil {
		return "", err
	}

	hasher := md5.New() //nolint:gosec // адресация контента, не криптография
	buf := make([]byte, chunkSize)
	if _, err := io.CopyBuffer(hasher, struct{ io.Reader }{r}, buf); err != nil {
		return "", fmt.Errorf("ошибка чтения данных: %w", err)
	}
	if _, err := r.Seek(0, io.SeekStart); err != nil {
		return "", fmt.Errorf("ошибка перемотки потока: %w", err)
	}

	return hex.EncodeToString(hasher.Sum(nil)) + "." + ext, nil
}

// StoragePath возвращает абсолютный путь для содержимого потока.
// Поток возвращается в начало.
func (fs *FileStore) StoragePath(r io.ReadSeeker, originalName string) (string, error) {
	name, err := ContentName(r, originalName)
	if err != nil {
		return "", err
	}
	return filepath.Join(fs.dataDir, fs.prefix+name), nil
}

// Save записывает данные из reader по абсолютному пути path.
//
// Паттерн: temp файл с уникальным именем → запись → fsync → atomic rename.
// Параллельные записи одного пути не используют общий temp файл.
// При ошибке temp файл удаляется.
func (fs *FileStore) Save(reader io.Reader, path string) (int64, error) {
	if err := fs.checkPath(path); err != nil {
		return 0, err
	}

	tmpPath := path + "." + uuid.NewString() + ".tmp"

	f, err := os.OpenFile(tmpPath, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o640)
	if err != nil {
		return 0, fmt.Errorf("ошибка создания временного файла: %w", err)
	}

	size, err := io.Copy(f, reader)
	if err != nil {
		f.Close()
		os.Remove(tmpPath)
		return 0, fmt.Errorf("ошибка записи данных: %w", err)
	}

	// fsync для гарантии записи на диск
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return 0, fmt.Errorf("ошибка fsync: %w", err)
	}

	if err := f.Close(); err != nil {
		os.Remove(tmpPath)
		return 0, fmt.Errorf("ошибка закрытия файла: %w", err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return 0, fmt.Errorf("ошибка атомарного переименования: %w", err)
	}

	return size, nil
}

// Open открывает файл для чтения. Вызывающий код обязан закрыть файл.
func (fs *FileStore) Open(path string) (*os.File, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("файл не найден: %s: %w", path, os.ErrNotExist)
		}
		return nil, fmt.Errorf("ошибка открытия файла %s: %w", path, err)
	}
	return f, nil
}

// Exists проверяет, что по пути лежит обычный файл.
func (fs *FileStore) Exists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}

// Delete удаляет файл. Возвращает nil, если файла уже нет.
func (fs *FileStore) Delete(path string) error {
	if err := fs.checkPath(path); err != nil {
		return err
	}
	err := os.Remove(path)
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("ошибка удаления файла %s: %w", path, err)
	}
	return nil
}

// DataDir возвращает путь к директории данных.
func (fs *FileStore) DataDir() string {
	return fs.dataDir
}

// checkPath запрещает запись и удаление вне директории данных.
func (fs *FileStore) checkPath(path string) error {
	rel, err := filepath.Rel(fs.dataDir, path)
	if err != nil || rel == "." || strings.HasPrefix(rel, "..") || filepath.IsAbs(rel) {
		return fmt.Errorf("путь %s вне директории данных", path)
	}
	return nil
}

// extension возвращает расширение в нижнем регистре.
func extension(name string) (string, error) {
	i := strings.LastIndexByte(name, '.')
	if i < 0 || i == len(name)-1 {
		return "", fmt.Errorf("%w: %q", ErrNoExtension, name)
	}
	ext := strings.ToLower(name[i+1:])
	if strings.ContainsAny(ext, `/\`) {
		return "", fmt.Errorf("%w: %q", ErrNoExtension, name)
	}
	return ext, nil
}
