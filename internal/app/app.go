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
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"

	"github.com/hitoshi/pitchcheck/internal/auth"
	"github.com/hitoshi/pitchcheck/internal/bypass"
	"github.com/hitoshi/pitchcheck/internal/config"
	"github.com/hitoshi/pitchcheck/internal/database"
	"github.com/hitoshi/pitchcheck/internal/evaluator"
	"github.com/hitoshi/pitchcheck/internal/handler"
	"github.com/hitoshi/pitchcheck/internal/logger"
	"github.com/hitoshi/pitchcheck/internal/metrics"
	"github.com/hitoshi/pitchcheck/internal/middleware"
	"github.com/hitoshi/pitchcheck/internal/repository"
	"github.com/hitoshi/pitchcheck/internal/security"
	"github.com/hitoshi/pitchcheck/internal/session"
	"github.com/hitoshi/pitchcheck/internal/supabase"
	"github.com/hitoshi/pitchcheck/internal/video"
	"github.com/hitoshi/pitchcheck/internal/web"
	"github.com/hitoshi/pitchcheck/internal/worker/evaluation"
)

const (
	// 評価結果の取得に使うURLガードの設定
	resultsFetchTimeout = 30 * time.Second
	resultsMaxBytes     = 50 << 20

	bypassCleanupInterval = time.Minute
)

// Init はアプリケーションの初期化を行う。
// 環境変数からConfigを読み込み、JSON構造化ログをセットアップする。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer) (*config.Config, error) {
	// 1. ログの初期化（設定読み込み前にログを使えるようにする）
	level := new(slog.LevelVar)
	logger.SetupDefault(w, level)

	// 2. 環境変数から設定を読み込む
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	level.Set(logger.ParseLevel(cfg.LogLevel))
	return cfg, nil
}

// Run はアプリケーションのメインエントリーポイント。
// コマンドライン引数からサブコマンドを解析し、対応するモードで起動する。
// argsにはos.Args[1:]を渡す。
func Run(w io.Writer, args []string) error {
	cmd, err := ParseCommand(args)
	if err != nil {
		return err
	}

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
		slog.Bool("auth_configured", cfg.AuthConfigured()),
		slog.Bool("evaluator_configured", cfg.EvaluatorConfigured()),
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

// openDB はDB接続を開き、疎通を確認する。
func openDB(cfg *config.Config) (*sql.DB, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return database.Connect(ctx, cfg.DatabaseURL)
}

// domain はserveとworkerで共有するドメインサービス群。
type domain struct {
	repo      *repository.PostgresVideoRepo
	supabase  *supabase.Client
	evaluator *evaluator.Client
	videos    *video.Service
}

func newDomain(cfg *config.Config, db *sql.DB, collector *metrics.Collector, log *slog.Logger) *domain {
	repo := repository.NewPostgresVideoRepo(db)

	// アップロード本体の転送時間は制限せず、応答ヘッダーの待ち時間だけを制限する
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.ResponseHeaderTimeout = cfg.SupabaseTimeout
	sb := supabase.NewClient(
		&http.Client{Transport: transport},
		log,
		supabase.Config{
			URL:            cfg.SupabaseURL,
			AnonKey:        cfg.SupabaseAnonKey,
			ServiceRoleKey: cfg.SupabaseServiceRoleKey,
		},
	)

	evalClient := evaluator.NewClient(
		&http.Client{Timeout: cfg.EvaluatorTimeout},
		log,
		cfg.EvaluatorURL,
		collector,
	)

	videos := video.NewService(
		repo,
		sb,
		evalClient,
		security.NewURLGuard(resultsFetchTimeout, resultsMaxBytes),
		collector,
		video.Config{
			Bucket:   cfg.VideoBucket,
			MaxBytes: cfg.UploadMaxBytes,
		},
		log,
	)

	return &domain{
		repo:      repo,
		supabase:  sb,
		evaluator: evalClient,
		videos:    videos,
	}
}

// newBypassStore はREDIS_URLが設定されていればRedis、なければプロセス内メモリのストアを返す。
// 戻り値のcloseは終了時に呼び出す。
func newBypassStore(cfg *config.Config) (bypass.Store, func(), error) {
	if cfg.RedisURL == "" {
		store := bypass.NewMemoryStore(bypassCleanupInterval)
		slog.Warn("REDIS_URL is not set, bypass markers are kept in process memory")
		return store, store.Stop, nil
	}

	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to parse REDIS_URL: %w", err)
	}
	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	slog.Info("redis connection established")
	return bypass.NewRedisStore(client), func() { client.Close() }, nil
}

// runServe はAPIサーバーモードで起動する。
// DB接続を開き、全依存関係をワイヤリングし、HTTPサーバーを起動する。
// SIGINTまたはSIGTERMシグナルを受信するとグレースフルシャットダウンを行う。
func runServe(cfg *config.Config) error {
	// 1. DB接続
	db, err := openDB(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	slog.Info("database connection established")

	log := slog.Default()

	// 2. メトリクス
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	collector := metrics.NewCollector(reg)

	// 3. ドメインサービスの初期化
	d := newDomain(cfg, db, collector, log)

	// 4. ログイン直後のバイパスマーカー
	store, closeStore, err := newBypassStore(cfg)
	if err != nil {
		return err
	}
	defer closeStore()

	markers, err := bypass.NewManager([]byte(cfg.SessionSecret), cfg.BypassTTL, store)
	if err != nil {
		return fmt.Errorf("failed to create bypass manager: %w", err)
	}

	// 5. 認証
	authService := auth.NewService(
		d.supabase, d.supabase, markers, collector,
		auth.ServiceConfig{
			CallbackURL:         cfg.BaseURL + "/auth/callback",
			JWTSecret:           cfg.SupabaseJWTSecret,
			SignupRedirectDelay: cfg.SignupRedirectDelay,
		},
		log,
	)

	cookies := session.NewCookies(session.CookieConfig{
		Domain: cfg.CookieDomain,
		Secure: cfg.CookieSecure,
		MaxAge: cfg.SessionMaxAge,
	})

	gate := middleware.NewSessionGate(authService, markers, cookies, collector, middleware.DefaultGateConfig(), log)

	// 6. ルーターの構築
	// configのレート制限はreq/min単位
	rateLimiter := middleware.NewRateLimiter(
		middleware.PerMinuteRateLimiterConfig(cfg.RateLimitGeneral, cfg.RateLimitAuth),
	)
	defer rateLimiter.Stop()

	renderer, err := web.NewRenderer()
	if err != nil {
		return fmt.Errorf("failed to load templates: %w", err)
	}

	deps := &handler.RouterDeps{
		Logger:         log,
		StatusRecorder: collector,

		Gate:            gate,
		SessionResolver: authService,
		Cookies:         cookies,
		CSRFConfig: middleware.CSRFConfig{
			CookieSecure: cfg.CookieSecure,
			CookieDomain: cfg.CookieDomain,
		},
		CORSAllowedOrigin: cfg.CORSAllowedOrigin,
		MediaOrigin:       cfg.SupabaseURL,
		RateLimiter:       rateLimiter,

		AuthService: authService,
		AuthConfig:  handler.AuthHandlerConfig{BypassTTL: markers.TTL()},

		AdminAPIToken: cfg.AdminAPIToken,

		VideoService:   d.videos,
		UploadMaxBytes: cfg.UploadMaxBytes,

		EvaluationApplier:      d.videos,
		EvaluatorWebhookSecret: cfg.EvaluatorWebhookSecret,

		Pages: renderer,

		HealthPinger:   db,
		MetricsHandler: metrics.Handler(reg),
	}
	if cfg.AdminConfigured() {
		deps.Confirmer = authService
	}

	router := handler.NewRouter(deps)

	// 7. HTTPサーバーの起動
	// アップロードを受け付けるため書き込みタイムアウトは長めに取る
	server := &http.Server{
		Addr:              ":" + cfg.ServerPort,
		Handler:           router,
		ReadHeaderTimeout: 15 * time.Second,
		ReadTimeout:       10 * time.Minute,
		WriteTimeout:      10 * time.Minute,
		IdleTimeout:       60 * time.Second,
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
// DB接続を開き、評価ジョブのポーラーを起動する。
// SIGINTまたはSIGTERMシグナルを受信するとシャットダウンする。
func runWorker(cfg *config.Config) error {
	// 1. DB接続
	db, err := openDB(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	slog.Info("database connection established (worker)")

	// 2. ドメインサービスの初期化
	d := newDomain(cfg, db, metrics.NewCollector(prometheus.NewRegistry()), slog.Default())

	if !d.evaluator.Configured() {
		slog.Warn("EVALUATOR_URL is not set, evaluation poller will find nothing to check")
	}

	// 3. ポーラーの初期化
	poller := evaluation.NewPoller(d.repo, d.evaluator, d.videos, slog.Default(), evaluation.Config{
		Interval:    cfg.EvaluationPollInterval,
		MaxPerCycle: cfg.EvaluationMaxPerCycle,
	})

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
		slog.Duration("poll_interval", cfg.EvaluationPollInterval),
		slog.Int("max_per_cycle", cfg.EvaluationMaxPerCycle),
	)

	// ポーラーをメインgoroutineで実行（ブロッキング）
	poller.Start(ctx)

	slog.Info("worker stopped gracefully")
	return nil
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

	slog.Info("database migrations completed successfully",
		slog.Uint64("version", uint64(version)),
	)
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
