// Package app はアプリケーションの起動と依存関係のワイヤリングを行う。
package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/time/rate"

	"github.com/hitoshi/feedbot/internal/adapter"
	"github.com/hitoshi/feedbot/internal/config"
	"github.com/hitoshi/feedbot/internal/database"
	"github.com/hitoshi/feedbot/internal/dispatch"
	"github.com/hitoshi/feedbot/internal/fingerprint"
	"github.com/hitoshi/feedbot/internal/handler"
	"github.com/hitoshi/feedbot/internal/health"
	"github.com/hitoshi/feedbot/internal/logger"
	"github.com/hitoshi/feedbot/internal/metrics"
	"github.com/hitoshi/feedbot/internal/middleware"
	"github.com/hitoshi/feedbot/internal/model"
	"github.com/hitoshi/feedbot/internal/repository"
	"github.com/hitoshi/feedbot/internal/security"
	"github.com/hitoshi/feedbot/internal/telegram"
	"github.com/hitoshi/feedbot/internal/worker/check"
	"github.com/hitoshi/feedbot/internal/worker/cleanup"
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
	case CommandMigrate:
		return runMigrate(cfg)
	default:
		return runServe(cfg)
	}
}

// runServe はチェックパイプラインと運用APIサーバーを起動する。
// DB接続を開き、全依存関係をワイヤリングし、スケジューラ・クリーンアップ
// ジョブ・HTTPサーバーを起動する。
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

	// 2. リポジトリの初期化
	sourceRepo := repository.NewPostgresSourceRepo(db)
	fingerprintRepo := repository.NewPostgresFingerprintRepo(db)
	subRepo := repository.NewPostgresSubscriptionRepo(db)

	// 3. セキュリティサービスの初期化
	ssrfGuard := security.NewSSRFGuard()
	sanitizer := security.NewContentSanitizer()

	// 4. アダプタの初期化
	client := adapter.NewClient(ssrfGuard, cfg.UserAgent, cfg.FetchTimeout, cfg.FetchMaxSize)
	feedAdapter := adapter.NewFeedAdapter(client)

	adapterRegistry := adapter.NewRegistry()
	adapterRegistry.Register(model.SourceKindFeed, feedAdapter)
	adapterRegistry.Register(model.SourceKindPage, adapter.NewPageAdapter(client))
	adapterRegistry.Register(model.SourceKindProxy, adapter.NewProxyAdapter(feedAdapter))

	detector := adapter.NewDetector(client)

	// 5. フィンガープリントストアの初期化
	fpStore := fingerprint.NewStore(fingerprintRepo, slog.Default())

	// 6. 配信系の初期化
	channel, err := telegram.NewChannel(cfg.BotToken)
	if err != nil {
		return fmt.Errorf("failed to initialize telegram channel: %w", err)
	}

	// 全送信で共有するトークンバケット
	sendLimiter := rate.NewLimiter(rate.Limit(cfg.SendRatePerSec), cfg.SendBurst)

	formatter := dispatch.NewFormatter(sanitizer, cfg.MaxMessageLength)
	dispatcher := dispatch.NewDispatcher(
		subRepo, channel, formatter, sendLimiter,
		slog.Default(), cfg.MaxItemsPerCheck, cfg.SendRetryMax,
	)

	// 7. 健全性ポリシー
	policy := health.Policy{
		BackoffBase:      cfg.BackoffBase,
		BackoffCap:       cfg.BackoffCap,
		DisableThreshold: cfg.DisableThreshold,
		RateLimitedFloor: cfg.RateLimitedFloor,
	}

	// 8. メトリクスの初期化
	promRegistry := prometheus.NewRegistry()
	collector := metrics.NewCollector(promRegistry)

	// 9. チェッカーとスケジューラの初期化
	checker := check.NewChecker(
		sourceRepo, adapterRegistry, fpStore, dispatcher,
		policy, collector, slog.Default(),
		cfg.FetchTimeout,
		time.Duration(cfg.DefaultIntervalMinutes)*time.Minute,
	)
	scheduler := check.NewScheduler(sourceRepo, checker, slog.Default(), cfg.WorkerBudget)

	// 10. クリーンアップジョブの初期化
	cleanupJob := cleanup.NewCleanupJob(fpStore, collector, slog.Default(), cfg.FingerprintTTL)

	// 11. 運用APIルーターの構築
	rateLimiter := middleware.NewRateLimiter(middleware.DefaultRateLimiterConfig())
	defer rateLimiter.Stop()

	router := handler.NewRouter(&handler.RouterDeps{
		Logger:           slog.Default(),
		RateLimiter:      rateLimiter,
		SourceRepo:       sourceRepo,
		SubscriptionRepo: subRepo,
		Detector:         detector,
		HealthPolicy:     policy,
		MetricsHandler:   metrics.Handler(promRegistry),
		DB:               db,
	})

	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// グレースフルシャットダウンのためのシグナルハンドリング
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// バックグラウンドジョブの起動
	var jobs sync.WaitGroup
	jobs.Add(2)
	go func() {
		defer jobs.Done()
		scheduler.Start(ctx, cfg.TickInterval)
	}()
	go func() {
		defer jobs.Done()
		cleanupJob.Start(ctx, cfg.CleanupInterval)
	}()

	go func() {
		slog.Info("ops server starting",
			slog.String("addr", server.Addr),
		)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server listen error", slog.String("error", err.Error()))
		}
	}()

	<-ctx.Done()
	slog.Info("shutting down...")

	// 実行中のチェックサイクルと配信の完了を待つ
	jobs.Wait()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	slog.Info("stopped gracefully")
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
// /healthz エンドポイントにHTTPリクエストを送り、結果を返す。
func runHealthcheck(port string) error {
	url := fmt.Sprintf("http://localhost:%s/healthz", port)
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
