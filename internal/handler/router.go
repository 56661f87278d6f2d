// Package handler はHTTPハンドラーとルーティングを提供する。
package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/hitoshi/legaldesk/internal/database"
	"github.com/hitoshi/legaldesk/internal/metrics"
	"github.com/hitoshi/legaldesk/internal/middleware"
	"github.com/prometheus/client_golang/prometheus"
)

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	// ミドルウェア依存
	SessionFinder     middleware.SessionFinder
	SessionCookieName string
	CSRFConfig        middleware.CSRFConfig
	CORSAllowedOrigin string
	RateLimiter       *middleware.RateLimiter
	Logger            *slog.Logger

	// 規約
	LegalService LegalServiceInterface
	UserFinder   UserFinder
	LegalConfig  LegalHandlerConfig
	Pages        *Pages

	// 監視
	HealthChecker database.Pinger
	Metrics       metrics.MetricsCollector
	Gatherer      prometheus.Gatherer
}

// NewRouter は全エンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	Recovery → Logging → Metrics → SecurityHeaders → CORS → StripSlashes
//	→ Session → RateLimit(General) → [RequireLogin] → CSRF
//
// /health、/metrics、/api/csrf-token はセッションとレート制限の外に配置する。
func NewRouter(deps *RouterDeps) http.Handler {
	r := chi.NewRouter()

	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	pages := deps.Pages
	if pages == nil {
		pages = MustNewPages()
	}

	r.Use(middleware.NewRecoveryMiddleware())
	r.Use(middleware.NewLoggingMiddleware(logger))
	if deps.Metrics != nil {
		r.Use(middleware.NewMetricsMiddleware(deps.Metrics))
	}
	r.Use(middleware.NewSecurityHeadersMiddleware())
	r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigin))
	// /legal/ と /legal を同一視する
	r.Use(chimw.StripSlashes)

	var recorder RedirectRecorder
	if deps.Metrics != nil {
		recorder = deps.Metrics
	}
	legalHandler := NewLegalHandler(deps.LegalService, deps.UserFinder, pages, recorder, deps.LegalConfig)
	apiHandler := NewLegalAPIHandler(deps.LegalService)
	csrf := middleware.NewCSRFMiddleware(deps.CSRFConfig)

	// --- セッション不要のルート ---
	r.Method(http.MethodGet, "/health", NewHealthHandler(deps.HealthChecker))
	if deps.Gatherer != nil {
		r.Method(http.MethodGet, "/metrics", metrics.Handler(deps.Gatherer))
	}
	r.Method(http.MethodGet, "/api/csrf-token", middleware.NewCSRFTokenHandler(deps.CSRFConfig))

	// --- セッションを読み取るルート ---
	// ミドルウェアスタック: Session → RateLimit(General)
	r.Group(func(r chi.Router) {
		r.Use(middleware.NewSessionMiddleware(deps.SessionFinder, deps.SessionCookieName))
		r.Use(deps.RateLimiter.GeneralMiddleware())

		// 公開ページ
		r.Group(func(r chi.Router) {
			r.Use(csrf)
			r.Get("/legal", legalHandler.List)
			r.Get("/providers/{provider}/legal", legalHandler.ProviderList)
			r.Get("/legal/{agreement}", legalHandler.Detail)
		})

		// 署名ページ（ログイン必須）
		r.Group(func(r chi.Router) {
			r.Use(middleware.RequireLogin(legalHandler.config.LoginURL))
			r.Use(csrf)
			r.Get("/legal/{agreement}/sign", legalHandler.SignForm)
			r.With(deps.RateLimiter.SignMiddleware()).Post("/legal/{agreement}/sign", legalHandler.Sign)
		})

		// JSON API
		r.Route("/api/legal", func(r chi.Router) {
			r.With(csrf).Get("/", apiHandler.ListAgreements)
			r.With(csrf).Get("/{agreement}", apiHandler.GetAgreement)
			r.With(middleware.RequireAPISession(), csrf, deps.RateLimiter.SignMiddleware()).
				Post("/{agreement}/sign", apiHandler.Sign)
		})
	})

	return r
}
