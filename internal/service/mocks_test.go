package service

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/bigkaa/goartstore/depot/internal/domain/model"
	"github.com/bigkaa/goartstore/depot/internal/molecule"
	"github.com/bigkaa/goartstore/depot/internal/repository"
	"github.com/bigkaa/goartstore/depot/internal/storage/filestore"
)

var (
	bundleA = strings.Repeat("a", 64)
	bundleB = strings.Repeat("b", 64)
)

func testLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

// --- memFileRepo: in-memory FileRepository с ограничением (path, bundle) ---

type memFileRepo struct {
	mu     sync.Mutex
	nextID int64
	rows   []*model.FileRecord
	grants map[int64][]string

	// Переопределения для сценариев с ошибками
	createFn      func(ctx context.Context, f *model.FileRecord) error
	getFn         func(ctx context.Context, id int64, unique uuid.UUID, bundle *string) (*model.FileRecord, error)
	pathClaimedFn func(ctx context.Context, path string) (bool, error)

	getCalls int
}

func newMemFileRepo() *memFileRepo {
	return &memFileRepo{grants: map[int64][]string{}}
}

func (r *memFileRepo) Create(ctx context.Context, f *model.FileRecord) error {
	if r.createFn != nil {
		return r.createFn(ctx, f)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, row := range r.rows {
		if row.Path == f.Path && row.BundleHash == f.BundleHash {
			return repository.ErrConflict
		}
	}
	r.nextID++
	f.ID = r.nextID
	f.Unique = uuid.New()
	f.Created = time.Now()
	cp := *f
	r.rows = append(r.rows, &cp)
	return nil
}

func (r *memFileRepo) GetByPathBundle(_ context.Context, path, bundle string) (*model.FileRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, row := range r.rows {
		if row.Path == path && row.BundleHash == bundle {
			cp := *row
			return &cp, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (r *memFileRepo) PathClaimed(ctx context.Context, path string) (bool, error) {
	if r.pathClaimedFn != nil {
		return r.pathClaimedFn(ctx, path)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, row := range r.rows {
		if row.Path == path {
			return true, nil
		}
	}
	return false, nil
}

func (r *memFileRepo) Get(ctx context.Context, id int64, unique uuid.UUID, bundle *string) (*model.FileRecord, error) {
	r.mu.Lock()
	r.getCalls++
	r.mu.Unlock()
	if r.getFn != nil {
		return r.getFn(ctx, id, unique, bundle)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, row := range r.rows {
		if row.ID == id && row.Unique == unique && (bundle == nil || row.BundleHash == *bundle) {
			cp := *row
			return &cp, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (r *memFileRepo) ListByGrantBundle(_ context.Context, bundle string) ([]*model.FileRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*model.FileRecord
	for _, row := range r.rows {
		for _, b := range r.grants[row.ID] {
			if b == bundle {
				cp := *row
				out = append(out, &cp)
				break
			}
		}
	}
	return out, nil
}

func (r *memFileRepo) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.rows)
}

// --- memDownloadRepo: in-memory DownloadRepository ---

type memDownloadRepo struct {
	mu     sync.Mutex
	nextID int64
	rows   []*model.DownloadRecord
	files  *memFileRepo

	incrementFn func(ctx context.Context, id int64) (*model.DownloadRecord, error)
}

func newMemDownloadRepo(files *memFileRepo) *memDownloadRepo {
	return &memDownloadRepo{files: files}
}

func (r *memDownloadRepo) Create(_ context.Context, d *model.DownloadRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	d.ID = r.nextID
	d.Created = time.Now()
	d.LastDownloaded = d.Created
	cp := *d
	r.rows = append(r.rows, &cp)
	if r.files != nil {
		r.files.mu.Lock()
		r.files.grants[d.FileID] = append(r.files.grants[d.FileID], d.BundleHash)
		r.files.mu.Unlock()
	}
	return nil
}

func (r *memDownloadRepo) GetByID(_ context.Context, id int64) (*model.DownloadRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, row := range r.rows {
		if row.ID == id {
			cp := *row
			return &cp, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (r *memDownloadRepo) ListForUpdate(_ context.Context, fileID int64, bundle string) ([]*model.DownloadRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*model.DownloadRecord
	for _, row := range r.rows {
		if row.FileID == fileID && row.BundleHash == bundle {
			cp := *row
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (r *memDownloadRepo) Increment(ctx context.Context, id int64) (*model.DownloadRecord, error) {
	if r.incrementFn != nil {
		return r.incrementFn(ctx, id)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, row := range r.rows {
		if row.ID == id {
			row.DownloadCount++
			row.LastDownloaded = time.Now()
			cp := *row
			return &cp, nil
		}
	}
	return nil, repository.ErrNotFound
}

// memTxRunner сериализует транзакции глобальной блокировкой.
type memTxRunner struct {
	mu   sync.Mutex
	repo repository.DownloadRepository
	err  error
}

func (m *memTxRunner) InDownloadTx(_ context.Context, fn func(repo repository.DownloadRepository) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	return fn(m.repo)
}

// --- Верификатор и отправитель уведомлений ---

type stubVerifier struct {
	att molecule.Attestation
	err error
}

func (v *stubVerifier) Verify(_ context.Context, _ []byte) (molecule.Attestation, error) {
	return v.att, v.err
}

func verifierFor(bundle string, meta map[string]string) *stubVerifier {
	return &stubVerifier{att: molecule.NewAttestation(bundle, meta)}
}

type stubNotifier struct {
	mu      sync.Mutex
	notices []model.RemovalNotice
	err     error
}

func (n *stubNotifier) NotifyRemoval(_ context.Context, notice model.RemovalNotice) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.err != nil {
		return n.err
	}
	n.notices = append(n.notices, notice)
	return nil
}

// --- Сборка сервисов ---

type testEnv struct {
	files     *memFileRepo
	downloads *memDownloadRepo
	tx        *memTxRunner
	store     *filestore.FileStore
	depot     *DepotService
	ledger    *Ledger
	notifier  *stubNotifier
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	store, err := filestore.New(t.TempDir(), "depot_")
	if err != nil {
		t.Fatalf("ошибка создания FileStore: %v", err)
	}

	files := newMemFileRepo()
	downloads := newMemDownloadRepo(files)
	tx := &memTxRunner{repo: downloads}

	return &testEnv{
		files:     files,
		downloads: downloads,
		tx:        tx,
		store:     store,
		depot:     NewDepotService(files, store, NewCacheService(100, time.Minute), testLogger()),
		ledger:    NewLedger(downloads, tx, testLogger()),
		notifier:  &stubNotifier{},
	}
}

func (e *testEnv) gateway(v molecule.Verifier) *Gateway {
	return NewGateway(e.depot, e.ledger, e.files, v, e.notifier, testLogger())
}

var errBoom = errors.New("boom")
