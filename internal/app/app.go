package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/time/rate"

	"github.com/productica/creditd/internal/account"
	"github.com/productica/creditd/internal/auth"
	"github.com/productica/creditd/internal/config"
	"github.com/productica/creditd/internal/database"
	"github.com/productica/creditd/internal/demo"
	"github.com/productica/creditd/internal/gate"
	"github.com/productica/creditd/internal/handler"
	"github.com/productica/creditd/internal/inference"
	"github.com/productica/creditd/internal/logger"
	"github.com/productica/creditd/internal/metrics"
	"github.com/productica/creditd/internal/middleware"
	"github.com/productica/creditd/internal/repository"
	"github.com/productica/creditd/internal/security"
	"github.com/productica/creditd/internal/worker/cleanup"
	"github.com/productica/creditd/internal/worker/reconcile"
)

// Init はアプリケーションの初期化を行う。
// 環境変数からConfigを読み込み、JSON構造化ログをセットアップする。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer) (*config.Config, error) {
	// 1. ログの初期化（設定読み込み前にログを使えるようにする）
	logger.SetupDefault(w, os.Getenv("LOG_LEVEL"))

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
		slog.String("base_url", cfg.BaseURL),
	)

	switch cmd {
	case CommandServe:
		return runServe(cfg)
	case CommandWorker:
		return runWorker(cfg)
	case CommandMigrate:
		return runMigrate(cfg)
	case CommandReconcile:
		return runReconcileOnce(cfg)
	default:
		return runServe(cfg)
	}
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

	// 2. リポジトリの初期化
	accountRepo := repository.NewPostgresAccountRepo(db)
	txnRepo := repository.NewPostgresTransactionRepo(db)
	identRepo := repository.NewPostgresIdentityRepo(db)
	sessionRepo := repository.NewPostgresSessionRepo(db)

	// 3. メトリクスの初期化
	registry := prometheus.NewRegistry()
	collector := metrics.NewCollector(registry)

	// 4. クレジットドメインの初期化
	manager := account.NewManager(accountRepo, txnRepo, collector, cfg.StartingGrant)
	demoRegistry := demo.NewRegistry(cfg.DemoGrant)
	creditGate := gate.NewGate(manager, demoRegistry, collector)

	// 5. 認証サービスの初期化
	oauthProvider := auth.NewGoogleOAuthProvider(auth.GoogleOAuthConfig{
		ClientID:     cfg.GoogleClientID,
		ClientSecret: cfg.GoogleClientSecret,
		RedirectURL:  cfg.GoogleRedirectURL,
	})
	authService := auth.NewService(
		oauthProvider, manager, identRepo, sessionRepo, accountRepo,
		auth.ServiceConfig{SessionMaxAge: cfg.SessionMaxAge},
	)

	// 6. 分析バックエンドクライアントの初期化
	// 推論エンドポイントは外部URLのため、SSRF防止付きクライアント経由で呼び出す
	ssrfGuard := security.NewSSRFGuard()
	inferenceClient := inference.NewClient(
		ssrfGuard.NewSafeClient(cfg.InferenceTimeout, cfg.InferenceMaxSize),
		slog.Default(), collector,
		cfg.InferenceURL, cfg.InferenceAPIKey,
	)
	sanitizer := security.NewContentSanitizer()

	// 7. レート制限の初期化（configはreq/min単位、rate.Limitはreq/sec単位）
	rateLimiterCfg := middleware.DefaultRateLimiterConfig()
	rateLimiterCfg.GeneralRate = rate.Limit(float64(cfg.RateLimitGeneral) / 60.0)
	rateLimiterCfg.GeneralBurst = cfg.RateLimitGeneral
	rateLimiterCfg.AnalyzeRate = rate.Limit(float64(cfg.RateLimitAnalyze) / 60.0)
	rateLimiterCfg.AnalyzeBurst = cfg.RateLimitAnalyze

	// 8. ルーターの構築
	deps := &handler.RouterDeps{
		SessionFinder:     sessionRepo,
		CORSAllowedOrigin: cfg.CORSAllowedOrigin,
		RateLimiter:       middleware.NewRateLimiter(rateLimiterCfg),

		HealthChecker:  db,
		MetricsHandler: metrics.Handler(registry),
		StatusRecorder: collector,

		AuthService: authService,
		AuthConfig: handler.AuthHandlerConfig{
			BaseURL:       cfg.BaseURL,
			CookieDomain:  cfg.CookieDomain,
			CookieSecure:  cfg.CookieSecure,
			SessionMaxAge: cfg.SessionMaxAge,
		},

		CreditManager: manager,

		DemoRegistry: demoRegistry,
		DemoConfig: handler.DemoHandlerConfig{
			CookieSecure: cfg.CookieSecure,
			CookieMaxAge: cfg.SessionMaxAge,
		},

		CreditGate:      creditGate,
		InferenceClient: inferenceClient,
		Sanitizer:       sanitizer,
	}

	router := handler.NewRouter(deps)

	// 9. HTTPサーバーの起動
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
// DB接続を開き、台帳整合性検査とセッションクリーンアップを起動する。
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

	// 2. リポジトリとメトリクスの初期化
	accountRepo := repository.NewPostgresAccountRepo(db)
	txnRepo := repository.NewPostgresTransactionRepo(db)

	registry := prometheus.NewRegistry()
	collector := metrics.NewCollector(registry)

	// 3. 台帳整合性検査ジョブの初期化
	reconcileJob := reconcile.NewJob(accountRepo, txnRepo, collector, slog.Default(), 10)

	// 4. セッションクリーンアップジョブの初期化
	cleanupJob := cleanup.NewCleanupJob(db, slog.Default())

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
		slog.Duration("reconcile_interval", cfg.ReconcileInterval),
		slog.Duration("session_cleanup_interval", cfg.SessionCleanupInterval),
	)

	// セッションクリーンアップをバックグラウンドで定期実行
	go func() {
		// 起動直後に1回実行
		if err := cleanupJob.Run(ctx); err != nil {
			slog.Error("session cleanup job failed", slog.String("error", err.Error()))
		}

		ticker := time.NewTicker(cfg.SessionCleanupInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := cleanupJob.Run(ctx); err != nil {
					slog.Error("session cleanup job failed", slog.String("error", err.Error()))
				}
			}
		}
	}()

	// 整合性検査をメインgoroutineで実行（ブロッキング）
	reconcileJob.Start(ctx, cfg.ReconcileInterval)

	slog.Info("worker stopped gracefully")
	return nil
}

// runReconcileOnce は台帳整合性検査を1回だけ実行して終了する。
// 常駐せず、ドリフト件数を記録したうえで即座に戻る。運用時の手動確認用。
func runReconcileOnce(cfg *config.Config) error {
	db, err := database.Open(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	if err := db.Ping(); err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}

	accountRepo := repository.NewPostgresAccountRepo(db)
	txnRepo := repository.NewPostgresTransactionRepo(db)

	registry := prometheus.NewRegistry()
	collector := metrics.NewCollector(registry)

	job := reconcile.NewJob(accountRepo, txnRepo, collector, slog.Default(), 10)
	if err := job.RunOnce(context.Background()); err != nil {
		return fmt.Errorf("reconcile failed: %w", err)
	}

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
