// Package app はサブコマンドの解析と依存関係のワイヤリングを行う。
package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hitoshi/legaldesk/internal/config"
	"github.com/hitoshi/legaldesk/internal/database"
	"github.com/hitoshi/legaldesk/internal/handler"
	"github.com/hitoshi/legaldesk/internal/legal"
	"github.com/hitoshi/legaldesk/internal/logger"
	"github.com/hitoshi/legaldesk/internal/metrics"
	"github.com/hitoshi/legaldesk/internal/middleware"
	"github.com/hitoshi/legaldesk/internal/repository"
	"github.com/hitoshi/legaldesk/internal/security"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// shutdownTimeout はグレースフルシャットダウンの待機時間。
const shutdownTimeout = 30 * time.Second

// Init はアプリケーションの初期化を行う。
// 環境変数からConfigを読み込み、LOG_LEVELに従ってJSON構造化ログをセットアップする。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer) (*config.Config, error) {
	// 1. ログの初期化（設定読み込み前にログを使えるようにする）
	logger.SetupDefault(w, slog.LevelInfo)

	// 2. 環境変数から設定を読み込む
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	// 3. 設定されたログレベルで再構成する
	logger.SetupDefault(w, logger.ParseLevel(cfg.LogLevel))

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
		slog.String("broker", cfg.BrokerSlug),
	)

	switch cmd {
	case CommandMigrate:
		return runMigrate(cfg)
	case CommandSync:
		return runSync(cfg)
	default:
		return runServe(cfg)
	}
}

// runServe はHTTPサーバーモードで起動する。
// DB接続を開き、全依存関係をワイヤリングし、HTTPサーバーを起動する。
// SIGINTまたはSIGTERMシグナルを受信するとグレースフルシャットダウンを行う。
func runServe(cfg *config.Config) error {
	// 1. DB接続
	db, err := openDatabase(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	// 2. リポジトリの初期化
	orgRepo := repository.NewPostgresOrganizationRepo(db)
	agreementRepo := repository.NewPostgresAgreementRepo(db)
	signatureRepo := repository.NewPostgresSignatureRepo(db)
	userRepo := repository.NewPostgresUserRepo(db)
	sessionRepo := repository.NewPostgresSessionRepo(db)

	// 3. メトリクスの初期化
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	collector := metrics.NewCollector(registry)

	// 4. 規約サービスの初期化
	sources := legal.NewSourceCache(newSourceLoader(cfg.AgreementsDir))
	renderer := legal.NewRenderer(security.NewAgreementSanitizer())
	legalService := legal.NewService(
		orgRepo, agreementRepo, signatureRepo,
		sources, renderer, cfg.BrokerSlug, collector,
	)

	pages, err := handler.NewPages()
	if err != nil {
		return fmt.Errorf("failed to load page templates: %w", err)
	}

	// 5. ルーターの構築
	// configのレート制限はreq/min単位
	rateLimiter := middleware.NewRateLimiter(
		middleware.NewRateLimiterConfig(cfg.RateLimitGeneral, cfg.RateLimitSign),
	)
	defer rateLimiter.Stop()

	csrfConfig := middleware.CSRFConfig{
		CookieSecure: cfg.CookieSecure,
		CookieDomain: cfg.CookieDomain,
	}

	deps := &handler.RouterDeps{
		SessionFinder:     sessionRepo,
		SessionCookieName: cfg.SessionCookieName,
		CSRFConfig:        csrfConfig,
		CORSAllowedOrigin: cfg.CORSAllowedOrigin,
		RateLimiter:       rateLimiter,
		Logger:            slog.Default(),

		LegalService: legalService,
		UserFinder:   userRepo,
		LegalConfig: handler.LegalHandlerConfig{
			LoginURL:         cfg.LoginURL,
			LoginRedirectURL: cfg.LoginRedirectURL,
		},
		Pages: pages,

		HealthChecker: db,
		Metrics:       collector,
		Gatherer:      registry,
	}

	router := handler.NewRouter(deps)

	// 6. シグナルハンドリング
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// 7. 規約ディレクトリの監視
	if cfg.AgreementsDir != "" && cfg.AgreementsWatch {
		go func() {
			if err := sources.Watch(ctx, cfg.AgreementsDir); err != nil {
				slog.Error("agreement watcher stopped", slog.String("error", err.Error()))
			}
		}()
	}

	// 8. HTTPサーバーの起動
	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		slog.Info("HTTP server starting",
			slog.String("addr", server.Addr),
		)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	select {
	case err := <-serverErr:
		return fmt.Errorf("server listen error: %w", err)
	case <-ctx.Done():
	}
	slog.Info("shutting down HTTP server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	slog.Info("HTTP server stopped gracefully")
	return nil
}

// runMigrate はデータベースマイグレーションを実行する。
// すべての未適用マイグレーションを順番に適用する。
func runMigrate(cfg *config.Config) error {
	slog.Info("running database migrations",
		slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
	)

	status, err := database.RunMigrations(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	slog.Info("database migrations completed successfully",
		slog.Uint64("version", uint64(status.Version)),
		slog.Bool("dirty", status.Dirty),
	)
	return nil
}

// runSync はMarkdownリソースを走査し、ブローカー所有の規約レコードを作成・更新する。
func runSync(cfg *config.Config) error {
	db, err := openDatabase(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	syncer := legal.NewSyncer(
		newSourceLoader(cfg.AgreementsDir),
		repository.NewPostgresOrganizationRepo(db),
		repository.NewPostgresAgreementRepo(db),
		cfg.BrokerSlug,
		nil,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	report, err := syncer.Run(ctx)
	if err != nil {
		return fmt.Errorf("agreement sync failed: %w", err)
	}

	slog.Info("agreement sync completed",
		slog.Int("created", len(report.Created)),
		slog.Int("updated", len(report.Updated)),
		slog.Int("unchanged", len(report.Unchanged)),
		slog.Int("total", report.Total()),
	)
	return nil
}

// runHealthcheck はヘルスチェックを実行する。
// distroless環境でのDockerヘルスチェック用サブコマンド。
// /health エンドポイントにHTTPリクエストを送り、結果を返す。
func runHealthcheck(port string) error {
	target := fmt.Sprintf("http://localhost:%s/health", port)
	client := &http.Client{Timeout: 5 * time.Second}

	resp, err := client.Get(target)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}

	return nil
}

// openDatabase はDB接続を開き、疎通を確認する。
func openDatabase(cfg *config.Config) (*sql.DB, error) {
	db, err := database.Open(cfg.DatabaseURL, database.DefaultPoolConfig())
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	ctx := context.Background()
	if err := database.CheckHealth(ctx, db, 5*time.Second); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	slog.Info("database connection established")
	return db, nil
}

// newSourceLoader は規約Markdownの検索順序を構成する。
// AGREEMENTS_DIRが指定された場合はそのディレクトリを埋め込み文書より優先する。
func newSourceLoader(dir string) *legal.SourceLoader {
	var fsyss []fs.FS
	if dir != "" {
		fsyss = append(fsyss, os.DirFS(dir))
	}
	fsyss = append(fsyss, legal.DefaultAgreementsFS())
	return legal.NewSourceLoader(fsyss...)
}

// maskDatabaseURL はデータベースURLの認証情報をマスクする。
func maskDatabaseURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return "***"
	}
	return u.Redacted()
}
