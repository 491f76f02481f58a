package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/time/rate"

	"github.com/hitoshi/ebridge/internal/backend"
	"github.com/hitoshi/ebridge/internal/config"
	"github.com/hitoshi/ebridge/internal/database"
	"github.com/hitoshi/ebridge/internal/document"
	"github.com/hitoshi/ebridge/internal/handler"
	"github.com/hitoshi/ebridge/internal/logger"
	"github.com/hitoshi/ebridge/internal/metrics"
	"github.com/hitoshi/ebridge/internal/middleware"
	"github.com/hitoshi/ebridge/internal/profile"
	"github.com/hitoshi/ebridge/internal/repository"
	"github.com/hitoshi/ebridge/internal/security"
	"github.com/hitoshi/ebridge/internal/session"
	"github.com/hitoshi/ebridge/internal/worker/cleanup"
)

// Init はLOG_LEVELでロガーを整えてから設定を読み込む。
// ログはwに出力する。nilなら標準出力。
func Init(w io.Writer) (*config.Config, error) {
	logger.SetupDefault(w, os.Getenv("LOG_LEVEL"))

	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return cfg, nil
}

// Run はos.Args[1:]を受け取り、サブコマンドを実行する。
func Run(w io.Writer, args []string) error {
	cmd, err := ParseCommand(args)
	if err != nil {
		WriteUsage(os.Stderr)
		return err
	}

	// healthcheckは設定もDBも使わない
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
	slog.Info("ebridge starting",
		slog.String("command", string(cmd)),
		slog.String("port", cfg.ServerPort),
		slog.String("base_url", cfg.BaseURL),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	switch cmd {
	case CommandServe:
		return runServe(ctx, cfg)
	case CommandWorker:
		return runWorker(ctx, cfg)
	case CommandMigrate:
		return runMigrate(cfg)
	default:
		return fmt.Errorf("command %q cannot run here", cmd)
	}
}

// rateLimiterConfig はreq/min単位の設定値をreq/secのレート制限設定に変換する。
func rateLimiterConfig(cfg *config.Config) middleware.RateLimiterConfig {
	rl := middleware.DefaultRateLimiterConfig()
	if cfg.RateLimitGeneral > 0 {
		rl.GeneralRate = rate.Limit(float64(cfg.RateLimitGeneral) / 60.0)
		rl.GeneralBurst = cfg.RateLimitGeneral
	}
	if cfg.RateLimitAuth > 0 {
		rl.AuthRate = rate.Limit(float64(cfg.RateLimitAuth) / 60.0)
		rl.AuthBurst = cfg.RateLimitAuth
	}
	return rl
}

// newDocumentService はオブジェクトストレージが設定されていれば署名付きURLを発行する
// document.Serviceを生成する。未設定の場合はアップロードを模擬する。
func newDocumentService(ctx context.Context, cfg *config.Config) (*document.Service, error) {
	s3cfg := document.S3Config{
		Bucket:    cfg.DocumentS3Bucket,
		Region:    cfg.DocumentS3Region,
		Endpoint:  cfg.DocumentS3Endpoint,
		AccessKey: cfg.DocumentS3AccessKey,
		SecretKey: cfg.DocumentS3SecretKey,
	}
	if !s3cfg.Enabled() {
		slog.Info("document storage not configured, uploads are simulated")
		return document.NewService(nil), nil
	}

	presigner, err := document.NewS3Presigner(ctx, s3cfg)
	if err != nil {
		return nil, err
	}
	slog.Info("document storage configured",
		slog.String("bucket", s3cfg.Bucket),
		slog.String("region", s3cfg.Region),
	)
	return document.NewService(presigner), nil
}

// dbPool はプロセス種別ごとのコネクションプール設定を返す。
// ワーカーは逐次処理のため接続数を絞る。
func dbPool(cfg *config.Config, cmd Command) database.PoolConfig {
	pool := database.PoolConfig{
		MaxOpenConns:    cfg.DBMaxOpenConns,
		MaxIdleConns:    cfg.DBMaxIdleConns,
		ConnMaxLifetime: cfg.DBConnMaxLifetime,
	}
	if cmd == CommandWorker {
		pool.MaxOpenConns = 2
		pool.MaxIdleConns = 1
	}
	return pool
}

// openDB は接続を開いて疎通を確認する。
func openDB(cfg *config.Config, cmd Command) (*sql.DB, error) {
	db, err := database.Open(cfg.DatabaseURL, dbPool(cfg, cmd))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	slog.Info("database connected",
		slog.String("command", string(cmd)),
		slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
	)
	return db, nil
}

// runServe はポータルAPIを提供する。ctxがキャンセルされると
// 処理中のリクエストを待ってから終了する。
func runServe(ctx context.Context, cfg *config.Config) error {
	db, err := openDB(cfg, CommandServe)
	if err != nil {
		return err
	}
	defer db.Close()

	defaults, err := profile.LoadDefaults(cfg.ReservedIdentitiesFile)
	if err != nil {
		return fmt.Errorf("failed to load reserved identities: %w", err)
	}
	slog.Info("reserved identities loaded", slog.Int("count", defaults.Len()))

	registry := prometheus.NewRegistry()
	collector := metrics.NewCollector(registry)

	backendSvc := backend.NewService(backend.Config{
		URL:       cfg.BackendURL,
		AnonKey:   cfg.BackendAnonKey,
		Timeout:   cfg.BackendTimeout,
		JWTSecret: cfg.BackendJWTSecret,
	}, session.NewRepoStorage(
		repository.NewPostgresAuthSessionRepo(db),
		time.Duration(cfg.SessionMaxAge)*time.Second,
	))

	runCtx, cancelRun := context.WithCancel(ctx)
	defer cancelRun()

	manager := session.NewManager(backendSvc, defaults,
		session.WithIdleTimeout(cfg.SessionIdleTimeout),
		session.WithMaxRuntimes(cfg.SessionMaxRuntimes),
		session.WithRecorder(collector),
	)
	defer manager.Close()
	go manager.Run(runCtx)

	documents, err := newDocumentService(runCtx, cfg)
	if err != nil {
		return fmt.Errorf("failed to configure document storage: %w", err)
	}

	rateLimiter := middleware.NewRateLimiter(rateLimiterConfig(cfg))
	defer rateLimiter.Stop()

	router := handler.NewRouter(&handler.RouterDeps{
		Runtimes: manager,
		Session: middleware.SessionConfig{
			CookieSecure: cfg.CookieSecure,
			CookieDomain: cfg.CookieDomain,
			MaxAge:       cfg.SessionMaxAge,
		},
		CSRF: middleware.CSRFConfig{
			CookieSecure: cfg.CookieSecure,
			CookieDomain: cfg.CookieDomain,
		},
		CORSAllowedOrigin: cfg.CORSAllowedOrigin,
		RateLimiter:       rateLimiter,
		SettleTimeout:     cfg.BackendTimeout,

		DB:             db,
		Backend:        backendSvc,
		Metrics:        collector,
		MetricsHandler: metrics.Handler(registry),

		Roles: defaults,
		AuthConfig: handler.AuthHandlerConfig{
			BaseURL:          cfg.BaseURL,
			OAuthProvider:    cfg.OAuthProvider,
			OAuthRedirectURL: cfg.OAuthRedirectURL,
			SettleTimeout:    cfg.BackendTimeout,
		},

		Documents: documents,
		Avatars:   security.NewAvatarFetcher(security.NewSSRFGuard(), cfg.AvatarFetchTimeout, cfg.AvatarMaxSize),
		Sanitizer: security.NewTextSanitizer(),
	})

	server := &http.Server{
		Addr:              ":" + cfg.ServerPort,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		slog.Info("portal API listening", slog.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-serverErr:
		return fmt.Errorf("server listen error: %w", err)
	}

	slog.Info("portal API draining connections")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	slog.Info("portal API stopped")
	return nil
}

// runWorker はctxがキャンセルされるまで期限切れセッションを定期削除する。
func runWorker(ctx context.Context, cfg *config.Config) error {
	db, err := openDB(cfg, CommandWorker)
	if err != nil {
		return err
	}
	defer db.Close()

	job := cleanup.NewCleanupJob(repository.NewPostgresAuthSessionRepo(db), slog.Default())
	job.Interval = cfg.SessionCleanupInterval

	slog.Info("session cleanup worker started", slog.Duration("interval", job.Interval))
	job.Start(ctx)
	slog.Info("session cleanup worker stopped")
	return nil
}

// runMigrate は未適用のマイグレーションをすべて適用し、適用後のバージョンを記録する。
func runMigrate(cfg *config.Config) error {
	slog.Info("applying migrations", slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)))

	if err := database.RunMigrations(cfg.DatabaseURL); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}
	version, _, err := database.MigrationVersion(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}
	slog.Info("migrations applied", slog.Uint64("version", uint64(version)))
	return nil
}

// runHealthcheck はローカルの/healthを叩く。200以外は失敗。
// degradedも200で返るためコンテナは健全とみなされる。
func runHealthcheck(port string) error {
	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Get("http://localhost:" + port + "/health")
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}
	return nil
}

// maskDatabaseURL はパスワードを伏せたDSNを返す。解析できなければ全体を伏せる。
func maskDatabaseURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return "***"
	}
	return u.Redacted()
}
