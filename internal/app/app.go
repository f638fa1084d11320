package app

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/hitoshi/calman/internal/availability"
	"github.com/hitoshi/calman/internal/config"
	"github.com/hitoshi/calman/internal/connection"
	"github.com/hitoshi/calman/internal/database"
	"github.com/hitoshi/calman/internal/handler"
	"github.com/hitoshi/calman/internal/logger"
	"github.com/hitoshi/calman/internal/metrics"
	"github.com/hitoshi/calman/internal/middleware"
	"github.com/hitoshi/calman/internal/model"
	"github.com/hitoshi/calman/internal/provider"
	"github.com/hitoshi/calman/internal/repository"
	"github.com/hitoshi/calman/internal/security"
	"github.com/hitoshi/calman/internal/vault"
	"github.com/hitoshi/calman/internal/worker/cleanup"
	"github.com/hitoshi/calman/internal/worker/syncer"
)

// Init はアプリケーションの初期化を行う。
// 環境変数からConfigを読み込み、JSON構造化ログをセットアップする。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer) (*config.Config, error) {
	// 1. ログの初期化（設定読み込み前にログを使えるようにする）
	logger.SetupDefault(w)

	// 2. 環境変数から設定を読み込む
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	return cfg, nil
}

// Run はアプリケーションのメインエントリーポイント。
// コマンドライン引数からサブコマンドを解析し、対応するモードで起動する。
// argsにはos.Args[1:]を渡す。
func Run(w io.Writer, args []string) error {
	cmd := ParseCommand(args)

	// healthcheck は軽量サブコマンドのため、フル初期化をスキップする
	if cmd == CommandHealthcheck {
		port := os.Getenv("SERVER_PORT")
		if port == "" {
			port = "8080"
		}
		return runHealthcheck(port)
	}

	cfg, err := Init(w)
	if err != nil {
		return fmt.Errorf("initialization failed: %w", err)
	}

	slog.Info("starting application",
		slog.String("command", string(cmd)),
		slog.String("port", cfg.ServerPort),
	)

	switch cmd {
	case CommandServe:
		return runServe(cfg)
	case CommandWorker:
		return runWorker(cfg)
	case CommandMigrate:
		return runMigrate(cfg)
	default:
		return runServe(cfg)
	}
}

// syncStack は同期コアの依存一式。serveとworkerの両モードで共有する。
type syncStack struct {
	connRepo  repository.ConnectionRepository
	eventRepo repository.EventRepository
	vault     *vault.Vault
	scheduler *syncer.Scheduler
	collector *metrics.Collector
	registry  *prometheus.Registry
}

// buildSyncStack はボールト、プロバイダー、同期エンジン、スケジューラーを組み立てる。
func buildSyncStack(cfg *config.Config, db *sql.DB) (*syncStack, error) {
	connRepo := repository.NewPostgresConnectionRepo(db)
	eventRepo := repository.NewPostgresEventRepo(db)
	credRepo := repository.NewPostgresCredentialRepo(db)

	promRegistry := prometheus.NewRegistry()
	collector := metrics.NewCollector(promRegistry)

	// Token Vault
	cipher, err := vault.NewCipher(cfg.TokenEncKey)
	if err != nil {
		return nil, fmt.Errorf("failed to create token cipher: %w", err)
	}
	googleRefresher := vault.NewGoogleRefresher(cfg.GoogleClientID, cfg.GoogleClientSecret)
	staticRefresher := vault.NewStaticRefresher()
	resolver := func(vendor model.Vendor) (vault.TokenRefresher, error) {
		switch vendor {
		case model.VendorGoogle:
			return googleRefresher, nil
		case model.VendorCalDAV:
			return staticRefresher, nil
		default:
			return nil, fmt.Errorf("unsupported vendor: %s", vendor)
		}
	}
	tokenVault := vault.New(credRepo, connRepo, cipher, resolver, cfg.TokenRefreshMargin, slog.Default())

	// プロバイダーレジストリ
	registry := provider.NewRegistry()
	registry.Register(model.VendorGoogle, provider.NewGoogleClient(slog.Default(), cfg.SyncWindow))

	if cfg.CalDAVEndpoint != "" {
		ssrfGuard := security.NewSSRFGuard()
		caldavClient, err := provider.NewCalDAVClient(
			slog.Default(), ssrfGuard, cfg.CalDAVEndpoint, cfg.SyncWindow, cfg.ProviderTimeout,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to create CalDAV client: %w", err)
		}
		registry.Register(model.VendorCalDAV, caldavClient)
	}

	// 同期エンジンとスケジューラー
	sanitizer := security.NewEventSanitizer()
	engine := syncer.NewEngine(
		connRepo, eventRepo, tokenVault, registry, sanitizer,
		collector, slog.Default(), cfg.SyncMaxAttempts, cfg.SyncFullResyncInterval,
	)
	scheduler := syncer.NewScheduler(
		connRepo, engine, slog.Default(), cfg.SyncMaxConcurrent, cfg.SyncRunTimeout,
	)

	return &syncStack{
		connRepo:  connRepo,
		eventRepo: eventRepo,
		vault:     tokenVault,
		scheduler: scheduler,
		collector: collector,
		registry:  promRegistry,
	}, nil
}

// runServe はAPIサーバーモードで起動する。
// DB接続を開き、全依存関係をワイヤリングし、HTTPサーバーを起動する。
// SIGINTまたはSIGTERMシグナルを受信するとグレースフルシャットダウンを行う。
func runServe(cfg *config.Config) error {
	// 1. DB接続
	db, err := database.Open(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	if err := db.Ping(); err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}

	slog.Info("database connection established")

	// 2. 同期コアの組み立て
	stack, err := buildSyncStack(cfg, db)
	if err != nil {
		return err
	}

	// 3. 空き時間計算サービス
	bookingRepo := repository.NewPostgresBookingRepo(db)
	workingHoursRepo := repository.NewPostgresWorkingHoursRepo(db)
	availabilityService := availability.NewService(
		stack.eventRepo, bookingRepo, workingHoursRepo,
		stack.collector, slog.Default(),
		time.Duration(cfg.SlotGranularityMinutes)*time.Minute,
		time.Duration(cfg.SlotBufferMinutes)*time.Minute,
	)

	// 4. 接続管理サービス
	credRepo := repository.NewPostgresCredentialRepo(db)
	connectionService := connection.NewService(
		stack.connRepo, credRepo, stack.eventRepo, stack.vault, slog.Default(),
	)

	// 5. ルーターの構築
	rateLimiter := middleware.NewRateLimiter(
		middleware.NewRateLimiterConfig(cfg.RateLimitGeneral, cfg.RateLimitSync),
	)
	defer rateLimiter.Stop()

	deps := &handler.RouterDeps{
		APIKey:            cfg.APIKey,
		CORSAllowedOrigin: cfg.CORSAllowedOrigin,
		RateLimiter:       rateLimiter,
		Logger:            slog.Default(),

		AvailabilityService: availabilityService,
		SyncScheduler:       stack.scheduler,
		ConnectionService:   connectionService,
		ConnectionFinder:    connectionService,

		MetricsHandler: metrics.Handler(stack.registry),
		HealthChecker: func(w http.ResponseWriter, r *http.Request) {
			if err := db.PingContext(r.Context()); err != nil {
				http.Error(w, `{"status":"unhealthy"}`, http.StatusServiceUnavailable)
				return
			}
			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(`{"status":"ok"}`))
		},
	}

	router := handler.NewRouter(deps)

	// 6. HTTPサーバーの起動
	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// グレースフルシャットダウンのためのシグナルハンドリング
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		slog.Info("API server starting",
			slog.String("addr", server.Addr),
		)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server listen error", slog.String("error", err.Error()))
		}
	}()

	<-stop
	slog.Info("shutting down API server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	slog.Info("API server stopped gracefully")
	return nil
}

// runWorker はワーカーモードで起動する。
// DB接続を開き、同期スケジューラーとクリーンアップジョブを起動する。
// SIGINTまたはSIGTERMシグナルを受信するとシャットダウンする。
func runWorker(cfg *config.Config) error {
	// 1. DB接続
	db, err := database.Open(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	if err := db.Ping(); err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}

	slog.Info("database connection established (worker)")

	// 2. 同期コアの組み立て
	stack, err := buildSyncStack(cfg, db)
	if err != nil {
		return err
	}

	// 3. クリーンアップジョブの初期化
	cleanupJob := cleanup.NewCleanupJob(stack.eventRepo, slog.Default())
	cleanupJob.RetentionDays = cfg.EventRetentionDays

	// グレースフルシャットダウンのためのシグナルハンドリング
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-stop
		slog.Info("shutting down worker...")
		cancel()
	}()

	slog.Info("worker starting",
		slog.Duration("sync_interval", cfg.SyncInterval),
		slog.Int("max_concurrent", cfg.SyncMaxConcurrent),
	)

	// クリーンアップジョブを日次でバックグラウンド実行
	go func() {
		// 起動直後に1回実行
		if err := cleanupJob.Run(ctx); err != nil {
			slog.Error("cleanup job failed", slog.String("error", err.Error()))
		}

		ticker := time.NewTicker(24 * time.Hour)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := cleanupJob.Run(ctx); err != nil {
					slog.Error("cleanup job failed", slog.String("error", err.Error()))
				}
			}
		}
	}()

	// 同期スケジューラーをメインgoroutineで実行（ブロッキング）
	stack.scheduler.Start(ctx, cfg.SyncInterval)

	slog.Info("worker stopped gracefully")
	return nil
}

// runMigrate はデータベースマイグレーションを実行する。
// すべての未適用マイグレーションを順番に適用する。
func runMigrate(cfg *config.Config) error {
	slog.Info("running database migrations",
		slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
	)

	if err := database.RunMigrations(cfg.DatabaseURL); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	slog.Info("database migrations completed successfully")
	return nil
}

// runHealthcheck はヘルスチェックを実行する。
// distroless環境でのDockerヘルスチェック用サブコマンド。
// /health エンドポイントにHTTPリクエストを送り、結果を返す。
func runHealthcheck(port string) error {
	url := fmt.Sprintf("http://localhost:%s/health", port)
	client := &http.Client{Timeout: 5 * time.Second}

	resp, err := client.Get(url)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}

	return nil
}

// maskDatabaseURL はデータベースURLの認証情報をマスクする。
func maskDatabaseURL(url string) string {
	if len(url) > 20 {
		return url[:12] + "***@..."
	}
	return "***"
}
