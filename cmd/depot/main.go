// Точка входа Depot — хранилища файлов, привязанных к бандлам.
// Загружает конфигурацию, применяет миграции, подключается к PostgreSQL,
// собирает хранилище, учёт скачиваний и отправку уведомлений,
// запускает topologymetrics и HTTP-сервер с graceful shutdown.
package main

import (
	"context"
	"log/slog"
	"os"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5/stdlib"

	"github.com/bigkaa/goartstore/depot/internal/api/handlers"
	"github.com/bigkaa/goartstore/depot/internal/config"
	"github.com/bigkaa/goartstore/depot/internal/database"
	"github.com/bigkaa/goartstore/depot/internal/molecule"
	"github.com/bigkaa/goartstore/depot/internal/notify"
	"github.com/bigkaa/goartstore/depot/internal/repository"
	"github.com/bigkaa/goartstore/depot/internal/server"
	"github.com/bigkaa/goartstore/depot/internal/service"
	"github.com/bigkaa/goartstore/depot/internal/storage/filestore"
)

func main() {
	// 1. Загрузка конфигурации (.env + переменные окружения)
	cfg, err := config.Load()
	if err != nil {
		slog.Error("Ошибка загрузки конфигурации", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// 2. Настройка логирования
	logger := config.SetupLogger(cfg)
	logger.Info("Depot запускается",
		slog.String("version", config.Version),
		slog.Int("port", cfg.Port),
		slog.String("data_dir", cfg.DataDir),
	)

	// 3. Применение миграций БД
	logger.Info("Применение миграций БД...")
	if err := database.Migrate(cfg, logger); err != nil {
		logger.Error("Ошибка миграций БД", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// 4. Подключение к PostgreSQL (pgxpool)
	ctx := context.Background()
	pool, err := database.Connect(ctx, cfg, logger)
	if err != nil {
		logger.Error("Ошибка подключения к PostgreSQL", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer pool.Close()

	// 4.1 Адаптер pgxpool → *sql.DB для topologymetrics (connection pool mode)
	pgDB := stdlib.OpenDBFromPool(pool)
	defer pgDB.Close()

	// 5. Файловое хранилище
	store, err := filestore.New(cfg.DataDir, cfg.StoragePrefix)
	if err != nil {
		logger.Error("Ошибка инициализации хранилища", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// 6. Repositories
	fileRepo := repository.NewFileRepository(pool)
	downloadRepo := repository.NewDownloadRepository(pool)
	txRunner := repository.NewTxRunner(pool)

	// 7. Отправка уведомлений: SMTP, если настроен, иначе только лог
	var notifier service.Notifier
	if cfg.NotificationsEnabled() {
		notifier = notify.NewMailer(cfg.SMTPHost, cfg.SMTPPort, cfg.SMTPUser, cfg.SMTPPassword, cfg.SenderEmail, logger)
		logger.Info("SMTP настроен",
			slog.String("host", cfg.SMTPHost),
			slog.Int("port", cfg.SMTPPort),
		)
	} else {
		notifier = notify.NewLogNotifier(logger)
		logger.Warn("DEPOT_SMTP_HOST не задан, письма не отправляются")
	}

	// 8. Services
	cache := service.NewCacheService(cfg.CacheMaxSize, cfg.CacheTTL)
	depotSvc := service.NewDepotService(fileRepo, store, cache, logger)
	ledger := service.NewLedger(downloadRepo, txRunner, logger)
	gateway := service.NewGateway(depotSvc, ledger, fileRepo, molecule.NewJSONVerifier(), notifier, logger)

	// 9. Handlers
	depotHandler := handlers.NewDepotHandler(gateway, cfg.MaxFileSize, logger)
	healthHandler := handlers.NewHealthHandler(database.NewReadinessChecker(pool), store.DataDir())

	// 10. topologymetrics — мониторинг PostgreSQL
	dephealthSvc, dephealthErr := service.NewDephealthService(service.DephealthConfig{
		ServiceID:     cfg.DephealthServiceID,
		Group:         cfg.DephealthGroup,
		DB:            pgDB,
		PostgresURL:   cfg.DatabaseURL("postgres"),
		CheckInterval: cfg.DephealthCheckInterval,
	}, logger)
	if dephealthErr != nil {
		logger.Warn("topologymetrics недоступен, запуск без мониторинга зависимостей",
			slog.String("error", dephealthErr.Error()),
		)
	} else if startErr := dephealthSvc.Start(ctx); startErr != nil {
		logger.Warn("Ошибка запуска topologymetrics", slog.String("error", startErr.Error()))
		dephealthSvc = nil
	} else {
		logger.Info("topologymetrics запущен",
			slog.String("group", cfg.DephealthGroup),
			slog.String("check_interval", cfg.DephealthCheckInterval.String()),
		)
	}

	// 11. Создание и запуск HTTP-сервера
	srv := server.New(cfg, logger, func(r chi.Router) {
		handlers.Routes(r, depotHandler, healthHandler)
	})
	runErr := srv.Run()

	// 12. Остановка фоновых задач
	if dephealthSvc != nil {
		dephealthSvc.Stop()
	}

	if runErr != nil {
		logger.Error("Ошибка сервера", slog.String("error", runErr.Error()))
		os.Exit(1)
	}
	logger.Info("Depot остановлен")
}
