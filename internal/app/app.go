// Package app はサブコマンドごとの依存関係の組み立てと起動を行う。
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

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"

	"github.com/hitoshi/eventgarden/internal/auth"
	"github.com/hitoshi/eventgarden/internal/config"
	"github.com/hitoshi/eventgarden/internal/database"
	"github.com/hitoshi/eventgarden/internal/event"
	"github.com/hitoshi/eventgarden/internal/handler"
	"github.com/hitoshi/eventgarden/internal/logger"
	"github.com/hitoshi/eventgarden/internal/membership"
	"github.com/hitoshi/eventgarden/internal/metrics"
	"github.com/hitoshi/eventgarden/internal/middleware"
	"github.com/hitoshi/eventgarden/internal/notify"
	"github.com/hitoshi/eventgarden/internal/repository"
	"github.com/hitoshi/eventgarden/internal/security"
	"github.com/hitoshi/eventgarden/internal/storage"
	"github.com/hitoshi/eventgarden/internal/tracing"
	"github.com/hitoshi/eventgarden/internal/user"
	"github.com/hitoshi/eventgarden/internal/worker"
	"github.com/hitoshi/eventgarden/internal/worker/cleanup"
	"github.com/hitoshi/eventgarden/internal/worker/reconcile"
)

const serviceName = "eventgarden"

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
			port = "9000"
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
	case CommandWorker:
		return runWorker(cfg)
	case CommandMigrate:
		return runMigrate(cfg)
	default:
		return runServe(cfg)
	}
}

// signalContext はSIGINTまたはSIGTERMでキャンセルされるコンテキストを返す。
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

// openDatabase はDB接続を開き、疎通を確認する。
func openDatabase(ctx context.Context, databaseURL string) (*sql.DB, error) {
	db, err := database.Open(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	slog.Info("database connection established")
	return db, nil
}

// newMetrics は専用レジストリとCollectorを生成する。
func newMetrics() (*prometheus.Registry, *metrics.Collector) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg, metrics.NewCollector(reg)
}

// newDenylist はREDIS_URLが設定されていればRedisDenylistを返す。
// 戻り値のcloseは常に呼び出してよい。
func newDenylist(ctx context.Context, redisURL string) (auth.Denylist, func() error, error) {
	if redisURL == "" {
		slog.Info("REDIS_URL is not set; logout only clears the cookie")
		return auth.NopDenylist{}, func() error { return nil }, nil
	}

	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, nil, fmt.Errorf("invalid REDIS_URL: %w", err)
	}
	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	slog.Info("redis denylist enabled")
	return auth.NewRedisDenylist(client), client.Close, nil
}

// newPublisher はNATS_URLが設定されていればNATSPublisherを返す。
func newPublisher(natsURL string) (notify.Publisher, func() error, error) {
	if natsURL == "" {
		return notify.NopPublisher{}, func() error { return nil }, nil
	}

	p, err := notify.NewNATSPublisher(natsURL)
	if err != nil {
		return nil, nil, err
	}

	slog.Info("membership events will be published to nats")
	return p, p.Close, nil
}

// newAvatarPresigner はS3_BUCKET_NAMEが設定されていれば署名付きURL発行者を返す。
// 未設定の場合はnilを返し、アバターアップロードは無効になる。
func newAvatarPresigner(ctx context.Context, cfg *config.Config) (user.AvatarPresigner, error) {
	if cfg.S3Bucket == "" {
		return nil, nil
	}

	p, err := storage.NewS3Presigner(ctx, storage.S3Config{
		Bucket:       cfg.S3Bucket,
		Endpoint:     cfg.S3Endpoint,
		Region:       cfg.S3Region,
		UsePathStyle: cfg.S3UsePathStyle,
		AccessKey:    cfg.S3AccessKey,
		SecretKey:    cfg.S3SecretKey,
	})
	if err != nil {
		return nil, err
	}
	return p, nil
}

// runServe はAPIサーバーモードで起動する。
// DB接続を開き、全依存関係をワイヤリングし、HTTPサーバーを起動する。
// SIGINTまたはSIGTERMシグナルを受信するとグレースフルシャットダウンを行う。
func runServe(cfg *config.Config) error {
	ctx, stop := signalContext()
	defer stop()

	// 1. トレーシング
	shutdownTracing, err := tracing.Init(ctx, serviceName, cfg.OTLPEndpoint)
	if err != nil {
		return fmt.Errorf("failed to initialize tracing: %w", err)
	}
	defer func() {
		if err := shutdownTracing(context.Background()); err != nil {
			slog.Error("tracing shutdown failed", slog.String("error", err.Error()))
		}
	}()

	// 2. DB接続
	db, err := openDatabase(ctx, cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer db.Close()

	// 3. 外部サービス
	denylist, closeDenylist, err := newDenylist(ctx, cfg.RedisURL)
	if err != nil {
		return err
	}
	defer closeDenylist()

	publisher, closePublisher, err := newPublisher(cfg.NATSURL)
	if err != nil {
		return err
	}
	defer closePublisher()

	presigner, err := newAvatarPresigner(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize avatar storage: %w", err)
	}

	reg, collector := newMetrics()

	// 4. リポジトリの初期化
	userRepo := repository.NewPostgresUserRepo(db)
	eventRepo := repository.NewPostgresEventRepo(db)

	// 5. ドメインサービスの初期化
	authority, err := auth.NewSessionAuthority(auth.AuthorityConfig{
		TokenFormat:    cfg.TokenFormat,
		Secret:         cfg.SessionSecret,
		PreviousSecret: cfg.SessionSecretPrevious,
		MaxAge:         time.Duration(cfg.SessionMaxAge) * time.Second,
		Denylist:       denylist,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize session authority: %w", err)
	}

	authService := auth.NewService(userRepo, authority, auth.NewBcryptHasher(cfg.BcryptCost))
	eventService := event.NewService(eventRepo, userRepo, security.NewContentSanitizer(), cfg.Location)
	coordinator := membership.NewCoordinator(userRepo, eventRepo, eventRepo, publisher, collector, membership.Config{
		CounterMode:   cfg.CounterMode,
		AllowHostJoin: cfg.AllowHostJoin,
	})
	userService := user.NewService(userRepo, presigner)

	// 6. ルーターの構築
	rateLimiter := middleware.NewRateLimiter(
		middleware.NewRateLimiterConfig(cfg.RateLimitGeneral, cfg.RateLimitAuth),
	)
	defer rateLimiter.Stop()

	router := handler.NewRouter(&handler.RouterDeps{
		SessionVerifier:   authority,
		CORSAllowedOrigin: cfg.CORSAllowedOrigin,
		RateLimiter:       rateLimiter,
		Logger:            slog.Default(),
		StatusRecorder:    collector,
		DB:                db,
		MetricsHandler:    metrics.Handler(reg),

		AuthService: authService,
		AuthConfig: handler.AuthHandlerConfig{
			CookieDomain:   cfg.CookieDomain,
			CookieSecure:   cfg.CookieSecure,
			CookieSameSite: cfg.CookieSameSite,
		},
		EventService:      eventService,
		MembershipService: coordinator,
		UserService:       userService,
	})

	// 7. HTTPサーバーの起動
	server := &http.Server{
		Addr:              ":" + cfg.ServerPort,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		slog.Info("API server starting",
			slog.String("addr", server.Addr),
			slog.String("counter_mode", cfg.CounterMode),
			slog.Bool("allow_host_join", cfg.AllowHostJoin),
		)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
		close(serverErr)
	}()

	select {
	case err, ok := <-serverErr:
		if ok {
			return fmt.Errorf("server listen error: %w", err)
		}
	case <-ctx.Done():
	}

	slog.Info("shutting down API server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	slog.Info("API server stopped gracefully")
	return nil
}

// runWorker はワーカーモードで起動する。
// 参加者数の整合ジョブと参加記録のクリーンアップジョブを定期実行する。
// SIGINTまたはSIGTERMシグナルを受信するとシャットダウンする。
func runWorker(cfg *config.Config) error {
	ctx, stop := signalContext()
	defer stop()

	shutdownTracing, err := tracing.Init(ctx, serviceName+"-worker", cfg.OTLPEndpoint)
	if err != nil {
		return fmt.Errorf("failed to initialize tracing: %w", err)
	}
	defer func() {
		if err := shutdownTracing(context.Background()); err != nil {
			slog.Error("tracing shutdown failed", slog.String("error", err.Error()))
		}
	}()

	db, err := openDatabase(ctx, cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer db.Close()

	reg, collector := newMetrics()

	logger := slog.Default()
	scheduler := worker.NewScheduler(logger,
		worker.Schedule{Job: reconcile.NewJob(db, repository.NewPostgresEventRepo(db), logger, collector), Interval: cfg.ReconcileInterval},
		worker.Schedule{Job: cleanup.NewCleanupJob(db, logger, collector), Interval: cfg.CleanupInterval},
	)

	// 修復件数などのメトリクスとヘルスチェックを公開する
	metricsServer := &http.Server{
		Addr:              ":" + cfg.ServerPort,
		Handler:           newWorkerRouter(db, metrics.Handler(reg)),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("worker metrics server error", slog.String("error", err.Error()))
		}
	}()

	slog.Info("worker starting",
		slog.Duration("reconcile_interval", cfg.ReconcileInterval),
		slog.Duration("cleanup_interval", cfg.CleanupInterval),
		slog.String("metrics_addr", metricsServer.Addr),
	)

	// コンテキストがキャンセルされるまでブロックする
	scheduler.Start(ctx)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := metricsServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("worker metrics server shutdown failed", slog.String("error", err.Error()))
	}

	slog.Info("worker stopped gracefully")
	return nil
}

// newWorkerRouter はワーカー用の/healthと/metricsのみを持つルーター。
func newWorkerRouter(db handler.Pinger, metricsHandler http.Handler) http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.Recoverer)
	r.Get("/health", handler.NewHealthHandler(db))
	r.Method(http.MethodGet, "/metrics", metricsHandler)
	return r
}

// runMigrate はデータベースマイグレーションを実行する。
// すべての未適用マイグレーションを順番に適用する。
func runMigrate(cfg *config.Config) error {
	slog.Info("running database migrations",
		slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
	)

	version, err := database.RunMigrations(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	slog.Info("database migrations completed successfully", slog.Uint64("version", uint64(version)))
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
