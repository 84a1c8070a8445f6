package service

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"strings"
	"sync"
	"testing"

	"github.com/google/uuid"

	"github.com/bigkaa/goartstore/depot/internal/domain/model"
	"github.com/bigkaa/goartstore/depot/internal/repository"
)

func dataFiles(t *testing.T, env *testEnv) []string {
	t.Helper()
	entries, err := os.ReadDir(env.store.DataDir())
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	return names
}

// TestIngest_Idempotent — повторная загрузка того же содержимого тем же
// бандлом возвращает ту же запись без дублей на диске и в БД.
func TestIngest_Idempotent(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	payload := []byte("same content")

	first, err := env.depot.Ingest(ctx, bytes.NewReader(payload), "doc.txt", bundleA)
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	second, err := env.depot.Ingest(ctx, bytes.NewReader(payload), "doc.txt", bundleA)
	if err != nil {
		t.Fatalf("повторный Ingest: %v", err)
	}

	if first.ID != second.ID || first.Unique != second.Unique {
		t.Errorf("ожидалась та же запись: %d/%s и %d/%s", first.ID, first.Unique, second.ID, second.Unique)
	}
	if n := env.files.count(); n != 1 {
		t.Errorf("записей в БД: %d, ожидается 1", n)
	}
	if files := dataFiles(t, env); len(files) != 1 {
		t.Errorf("файлов на диске: %v, ожидается один", files)
	}
}

// TestIngest_BundleIsolation — одинаковое содержимое разных бандлов
// даёт разные записи и идентификаторы.
func TestIngest_BundleIsolation(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	payload := []byte("shared bytes")

	a, err := env.depot.Ingest(ctx, bytes.NewReader(payload), "x.bin", bundleA)
	if err != nil {
		t.Fatalf("Ingest A: %v", err)
	}
	b, err := env.depot.Ingest(ctx, bytes.NewReader(payload), "x.bin", bundleB)
	if err != nil {
		t.Fatalf("Ingest B: %v", err)
	}

	if a.ID == b.ID || a.Unique == b.Unique {
		t.Fatalf("записи бандлов должны различаться: %+v / %+v", a, b)
	}
	if a.Path != b.Path {
		t.Errorf("путь содержимого должен совпадать: %s / %s", a.Path, b.Path)
	}

	for _, rec := range []*model.FileRecord{a, b} {
		got, err := env.depot.Resolve(ctx, rec.ID, rec.Unique, &rec.BundleHash)
		if err != nil {
			t.Errorf("Resolve(%d): %v", rec.ID, err)
			continue
		}
		if got.BundleHash != rec.BundleHash {
			t.Errorf("BundleHash = %s, ожидается %s", got.BundleHash, rec.BundleHash)
		}
	}
}

func TestIngest_Validation(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	tests := []struct {
		name   string
		file   string
		bundle string
		want   error
	}{
		{"пустое имя", "", bundleA, ErrEmptyFilename},
		{"короткий бандл", "a.txt", "short", ErrInvalidBundle},
		{"длинный бандл", "a.txt", bundleA + "x", ErrInvalidBundle},
		{"без расширения", "README", bundleA, ErrNoExtension},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := env.depot.Ingest(ctx, strings.NewReader("data"), tt.file, tt.bundle)
			if !errors.Is(err, tt.want) {
				t.Errorf("ошибка = %v, ожидается %v", err, tt.want)
			}
			if !errors.Is(err, ErrValidation) {
				t.Errorf("ошибка %v должна относиться к ErrValidation", err)
			}
		})
	}

	if n := env.files.count(); n != 0 {
		t.Errorf("при ошибках валидации записей быть не должно, найдено %d", n)
	}
	if files := dataFiles(t, env); len(files) != 0 {
		t.Errorf("при ошибках валидации файлов быть не должно: %v", files)
	}
}

// TestIngest_InsertFailureRemovesBytes — сбой вставки удаляет записанный файл.
func TestIngest_InsertFailureRemovesBytes(t *testing.T) {
	env := newTestEnv(t)
	env.files.createFn = func(context.Context, *model.FileRecord) error { return errBoom }

	_, err := env.depot.Ingest(context.Background(), strings.NewReader("orphan"), "o.txt", bundleA)
	if !errors.Is(err, ErrPersistenceFailed) {
		t.Fatalf("ошибка = %v, ожидается ErrPersistenceFailed", err)
	}
	if files := dataFiles(t, env); len(files) != 0 {
		t.Errorf("осиротевший файл не удалён: %v", files)
	}
}

// TestIngest_InsertFailureKeepsClaimedBytes — содержимое, на которое
// ссылается другой бандл, не удаляется.
func TestIngest_InsertFailureKeepsClaimedBytes(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	owner, err := env.depot.Ingest(ctx, strings.NewReader("shared"), "s.txt", bundleA)
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}

	env.files.createFn = func(context.Context, *model.FileRecord) error { return errBoom }
	if _, err := env.depot.Ingest(ctx, strings.NewReader("shared"), "s.txt", bundleB); !errors.Is(err, ErrPersistenceFailed) {
		t.Fatalf("ошибка = %v, ожидается ErrPersistenceFailed", err)
	}

	if !env.store.Exists(owner.Path) {
		t.Error("содержимое владельца удалено")
	}
}

// TestIngest_ClaimCheckFailureKeepsBytes — если проверить ссылки не удалось,
// содержимое остаётся на диске.
func TestIngest_ClaimCheckFailureKeepsBytes(t *testing.T) {
	env := newTestEnv(t)
	env.files.createFn = func(context.Context, *model.FileRecord) error { return errBoom }
	env.files.pathClaimedFn = func(context.Context, string) (bool, error) { return false, errBoom }

	if _, err := env.depot.Ingest(context.Background(), strings.NewReader("keep"), "k.txt", bundleA); !errors.Is(err, ErrPersistenceFailed) {
		t.Fatalf("ошибка = %v, ожидается ErrPersistenceFailed", err)
	}
	if files := dataFiles(t, env); len(files) != 1 {
		t.Errorf("ожидался сохранённый файл, найдено: %v", files)
	}
}

// TestIngest_ConflictReturnsWinner — при конфликте уникальности возвращается
// запись конкурентного победителя, а его содержимое не удаляется.
func TestIngest_ConflictReturnsWinner(t *testing.T) {
	env := newTestEnv(t)

	var winner model.FileRecord
	env.files.createFn = func(ctx context.Context, f *model.FileRecord) error {
		env.files.createFn = nil
		winner = *f
		if err := env.files.Create(ctx, &winner); err != nil {
			return err
		}
		return repository.ErrConflict
	}

	got, err := env.depot.Ingest(context.Background(), strings.NewReader("race"), "r.txt", bundleA)
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	if got.ID != winner.ID {
		t.Errorf("ID = %d, ожидается ID победителя %d", got.ID, winner.ID)
	}
	if !env.store.Exists(got.Path) {
		t.Error("содержимое победителя удалено")
	}
}

// TestIngest_Concurrent — параллельные загрузки одного содержимого одним
// бандлом дают одну запись.
func TestIngest_Concurrent(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	const workers = 8
	ids := make([]int64, workers)
	var wg sync.WaitGroup
	for i := range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			rec, err := env.depot.Ingest(ctx, strings.NewReader("parallel"), "p.txt", bundleA)
			if err != nil {
				t.Errorf("Ingest: %v", err)
				return
			}
			ids[i] = rec.ID
		}()
	}
	wg.Wait()

	for _, id := range ids[1:] {
		if id != ids[0] {
			t.Errorf("разные ID при параллельной загрузке: %v", ids)
			break
		}
	}
	if n := env.files.count(); n != 1 {
		t.Errorf("записей: %d, ожидается 1", n)
	}
}

type failingReader struct{}

func (failingReader) Read([]byte) (int, error)       { return 0, errBoom }
func (failingReader) Seek(int64, int) (int64, error) { return 0, nil }

func TestIngest_ReadFailure(t *testing.T) {
	env := newTestEnv(t)
	var r io.ReadSeeker = failingReader{}

	if _, err := env.depot.Ingest(context.Background(), r, "f.txt", bundleA); !errors.Is(err, ErrFileUploadFailed) {
		t.Errorf("ошибка = %v, ожидается ErrFileUploadFailed", err)
	}
}

func TestResolve(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	rec, err := env.depot.Ingest(ctx, strings.NewReader("resolve me"), "r.txt", bundleA)
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}

	if _, err := env.depot.Resolve(ctx, rec.ID, rec.Unique, nil); err != nil {
		t.Errorf("Resolve(nil): %v", err)
	}
	if _, err := env.depot.Resolve(ctx, rec.ID, rec.Unique, &bundleB); !errors.Is(err, ErrFileMissing) {
		t.Errorf("Resolve(чужой бандл) = %v, ожидается ErrFileMissing", err)
	}
	if _, err := env.depot.Resolve(ctx, rec.ID, uuid.New(), nil); !errors.Is(err, ErrNotFound) {
		t.Errorf("Resolve(чужой uuid) = %v, ожидается ErrNotFound", err)
	}

	// Строка без содержимого — NotFound
	if err := os.Remove(rec.Path); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if _, err := env.depot.Resolve(ctx, rec.ID, rec.Unique, nil); !errors.Is(err, ErrFileMissing) {
		t.Errorf("Resolve(без содержимого) = %v, ожидается ErrFileMissing", err)
	}
}

// TestResolve_Cache — повторный Resolve обслуживается из кэша.
func TestResolve_Cache(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	rec, err := env.depot.Ingest(ctx, strings.NewReader("cached"), "c.txt", bundleA)
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}

	for range 3 {
		if _, err := env.depot.Resolve(ctx, rec.ID, rec.Unique, nil); err != nil {
			t.Fatalf("Resolve: %v", err)
		}
	}
	if env.files.getCalls != 1 {
		t.Errorf("обращений к БД: %d, ожидается 1", env.files.getCalls)
	}
}

func TestResolve_RepositoryError(t *testing.T) {
	env := newTestEnv(t)
	env.files.getFn = func(context.Context, int64, uuid.UUID, *string) (*model.FileRecord, error) {
		return nil, errBoom
	}

	if _, err := env.depot.Resolve(context.Background(), 1, uuid.New(), nil); !errors.Is(err, ErrPersistence) {
		t.Errorf("ошибка = %v, ожидается ErrPersistence", err)
	}
}
