// dephealth.go — состояние PostgreSQL в метриках topologymetrics
// (app_dependency_health, app_dependency_latency_seconds на /metrics).
package service

import (
	"context"
	"database/sql"
	"log/slog"
	"time"

	"github.com/BigKAA/topologymetrics/sdk-go/dephealth"
	"github.com/BigKAA/topologymetrics/sdk-go/dephealth/checks/pgcheck"
	"github.com/prometheus/client_golang/prometheus"
)

// postgresDependency — имя зависимости в лейблах и ключах Health().
const postgresDependency = "postgresql"

// DephealthConfig — параметры мониторинга зависимостей.
type DephealthConfig struct {
	// ServiceID — вершина графа текущего экземпляра
	ServiceID string
	// Group — лейбл group (DEPOT_DEPHEALTH_GROUP)
	Group string
	// DB — *sql.DB поверх пула депозитария (stdlib.OpenDBFromPool)
	DB *sql.DB
	// PostgresURL нужен только для лейблов host/port
	PostgresURL string
	// CheckInterval — период проверки
	CheckInterval time.Duration
	// Registerer; nil — глобальный registry Prometheus
	Registerer prometheus.Registerer
}

// DephealthService периодически проверяет PostgreSQL. Зависимость критическая:
// без неё депозитарий не может ни принять, ни выдать файл.
type DephealthService struct {
	dh     *dephealth.DepHealth
	logger *slog.Logger
}

func NewDephealthService(cfg DephealthConfig, logger *slog.Logger) (*DephealthService, error) {
	opts := []dephealth.Option{
		dephealth.WithLogger(logger),
		dephealth.AddDependency(postgresDependency, dephealth.TypePostgres,
			pgcheck.New(pgcheck.WithDB(cfg.DB)),
			dephealth.FromURL(cfg.PostgresURL),
			dephealth.CheckInterval(cfg.CheckInterval),
			dephealth.Critical(true),
		),
	}
	if cfg.Registerer != nil {
		opts = append(opts, dephealth.WithRegisterer(cfg.Registerer))
	}

	dh, err := dephealth.New(cfg.ServiceID, cfg.Group, opts...)
	if err != nil {
		return nil, err
	}

	return &DephealthService{
		dh:     dh,
		logger: logger.With(slog.String("component", "dephealth")),
	}, nil
}

func (ds *DephealthService) Start(ctx context.Context) error {
	if err := ds.dh.Start(ctx); err != nil {
		return err
	}
	ds.logger.Info("Проверка PostgreSQL запущена")
	return nil
}

func (ds *DephealthService) Stop() {
	ds.dh.Stop()
	ds.logger.Info("Проверка PostgreSQL остановлена")
}

// Health — последнее известное состояние по ключам "<зависимость>:<host>:<port>".
func (ds *DephealthService) Health() map[string]bool {
	return ds.dh.Health()
}
