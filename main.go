package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"storefront_gateway/internal/adapter"
	"storefront_gateway/internal/api"
	"storefront_gateway/internal/config"
	"storefront_gateway/internal/logger"
	"storefront_gateway/internal/messaging"
	"storefront_gateway/internal/metrics"
	"storefront_gateway/internal/repository"
	"storefront_gateway/internal/service"
	"storefront_gateway/types"
)

const productDescription = "World Chain T-Shirt"

func runMigrations(db *pgxpool.Pool, log *zap.Logger) error {
	log.Info("Running database migrations")

	migrationsDir := "migrations"
	files, err := os.ReadDir(migrationsDir)
	if err != nil {
		return fmt.Errorf("failed to read migrations directory: %w", err)
	}

	var migrationFiles []string
	for _, file := range files {
		if strings.HasSuffix(file.Name(), ".sql") {
			migrationFiles = append(migrationFiles, file.Name())
		}
	}

	sort.Strings(migrationFiles)

	for _, filename := range migrationFiles {
		log.Info("Running migration", zap.String("file", filename))

		content, err := os.ReadFile(filepath.Join(migrationsDir, filename))
		if err != nil {
			return fmt.Errorf("failed to read migration file %s: %w", filename, err)
		}

		if _, err := db.Exec(context.Background(), string(content)); err != nil {
			return fmt.Errorf("failed to execute migration %s: %w", filename, err)
		}

		log.Info("Migration completed", zap.String("file", filename))
	}

	log.Info("All migrations completed successfully")
	return nil
}

// openReferenceStore подключает выбранное хранилище ссылок; вторым значением возвращает функцию закрытия
func openReferenceStore(cfg *config.Config, log *zap.Logger) (repository.ReferenceRepository, func(), error) {
	switch cfg.Store.Backend {
	case config.StoreBackendPostgres:
		db, err := pgxpool.New(context.Background(), cfg.DatabaseDSN())
		if err != nil {
			return nil, nil, fmt.Errorf("failed to connect to database: %w", err)
		}
		if err := runMigrations(db, log); err != nil {
			db.Close()
			return nil, nil, err
		}
		log.Info("Connected to database")
		return repository.NewPostgresReferenceRepository(db, log), db.Close, nil

	case config.StoreBackendRedis:
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := client.Ping(ctx).Err(); err != nil {
			client.Close()
			return nil, nil, fmt.Errorf("failed to connect to redis: %w", err)
		}
		log.Info("Connected to redis", zap.String("addr", cfg.Redis.Addr))
		return repository.NewRedisReferenceRepository(client, log), func() { client.Close() }, nil

	case config.StoreBackendMemory:
		log.Warn("Using in-memory reference store; references are lost on restart")
		return repository.NewMemoryReferenceRepository(log), func() {}, nil

	default:
		return nil, nil, fmt.Errorf("unsupported store backend: %s", cfg.Store.Backend)
	}
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.New(cfg.Log.Level, cfg.Log.JSON)
	if err != nil {
		fmt.Printf("Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	log.Info("Starting storefront gateway", zap.String("store", cfg.Store.Backend))

	referenceRepo, closeStore, err := openReferenceStore(cfg, log)
	if err != nil {
		log.Fatal("Failed to open reference store", zap.Error(err))
	}
	defer closeStore()

	var natsClient messaging.NATSClient
	if cfg.NATS.URL == "" {
		natsClient = messaging.NewNoopClient(log)
	} else {
		natsClient, err = messaging.NewNATSClient(cfg.NATS.URL, log)
		if err != nil {
			log.Fatal("Failed to connect to NATS", zap.Error(err))
		}
	}
	defer natsClient.Close()

	// Подписываемся на события о финализации платежей
	err = natsClient.SubscribePaymentSettled(context.Background(), func(msg *messaging.PaymentSettledMessage) {
		log.Info("Received payment settled notification",
			zap.String("reference_id", msg.ReferenceID),
			zap.String("state", msg.State))
	})
	if err != nil {
		log.Error("Failed to subscribe to payment settled", zap.Error(err))
	}

	m := metrics.New()

	worldCfg := adapter.Config{
		BaseURL: cfg.World.BaseURL,
		AppID:   cfg.World.AppID,
		APIKey:  cfg.World.APIKey,
		Timeout: cfg.World.Timeout,
	}
	identityVerifier := adapter.NewIdentityVerifier(worldCfg, m, log)
	statusAuthority := adapter.NewPaymentStatusAuthority(worldCfg, m, log)

	verificationService := service.NewVerificationService(service.VerificationConfig{
		Action:        cfg.World.Action,
		RequiredLevel: types.VerificationLevel(cfg.World.VerificationLevel),
	}, identityVerifier, natsClient, m, log)

	paymentService := service.NewPaymentService(service.PaymentConfig{
		ReferenceTTL: cfg.Payment.ReferenceTTL,
		Intent: types.PaymentIntent{
			Recipient:   cfg.Payment.Recipient,
			Token:       cfg.Payment.Token,
			Amount:      cfg.PaymentAmount(),
			Description: productDescription,
		},
	}, referenceRepo, statusAuthority, natsClient, m, log)

	if !strings.EqualFold(cfg.Log.Level, "debug") {
		gin.SetMode(gin.ReleaseMode)
	}
	router := api.NewRouter(api.NewHandler(verificationService, paymentService, log), m, log)

	server := &http.Server{
		Addr:              cfg.ServerAddr(),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	log.Info("Starting server", zap.String("address", server.Addr))

	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down server")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	// Graceful shutdown
	if err := server.Shutdown(ctx); err != nil {
		log.Error("Server forced to shutdown", zap.Error(err))
	}

	log.Info("Server exited")
}
