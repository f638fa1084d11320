package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/calman/internal/middleware"
)

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	// ミドルウェア依存
	APIKey            string
	CORSAllowedOrigin string
	RateLimiter       *middleware.RateLimiter
	Logger            *slog.Logger

	// 空き時間計算
	AvailabilityService AvailabilityServiceInterface

	// 同期
	SyncScheduler SyncTriggerInterface

	// 接続管理
	ConnectionService ConnectionServiceInterface
	ConnectionFinder  ConnectionFinder

	// Prometheusメトリクスのエクスポート
	MetricsHandler http.Handler

	// ヘルスチェック。DB疎通確認を含む。
	HealthChecker func(w http.ResponseWriter, r *http.Request)
}

// NewRouter は全APIエンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	CORSMiddleware → RecoveryMiddleware → LoggingMiddleware
//	→ APIKeyAuthMiddleware → RateLimitMiddleware(GeneralMiddleware)
//
// /health と /metrics はAPIキー認証の外に配置する。
func NewRouter(deps *RouterDeps) http.Handler {
	r := chi.NewRouter()

	// CORS ミドルウェアを最上位に適用（全ルートに効く）
	r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigin))
	r.Use(middleware.NewRecoveryMiddleware())
	r.Use(middleware.NewLoggingMiddleware(deps.Logger))

	availabilityHandler := NewAvailabilityHandler(deps.AvailabilityService)
	syncHandler := NewSyncHandler(deps.SyncScheduler, deps.ConnectionFinder)
	connectionHandler := NewConnectionHandler(deps.ConnectionService)

	// --- 認証不要のルート ---

	if deps.HealthChecker != nil {
		r.Get("/health", deps.HealthChecker)
	}
	if deps.MetricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", deps.MetricsHandler)
	}

	// --- 認証が必要なルート ---
	// ミドルウェアスタック: APIKey → RateLimit(General)
	r.Group(func(r chi.Router) {
		r.Use(middleware.NewAPIKeyAuthMiddleware(deps.APIKey))
		r.Use(deps.RateLimiter.GeneralMiddleware())

		// 空き時間計算
		r.Route("/api/availability", func(r chi.Router) {
			r.Post("/", availabilityHandler.FindSlots)
			r.Post("/confirm", availabilityHandler.ConfirmSlot)
		})

		// 手動同期（ベンダーAPIクォータを消費するため専用レート制限を追加）
		r.Route("/api/sync", func(r chi.Router) {
			r.With(deps.RateLimiter.SyncTriggerMiddleware()).Post("/connections/{id}", syncHandler.TriggerSync)
			r.With(deps.RateLimiter.SyncTriggerMiddleware()).Post("/run", syncHandler.RunOnce)
		})

		// 接続管理
		r.Route("/api/connections/{id}", func(r chi.Router) {
			r.Get("/", connectionHandler.GetConnection)
			r.Delete("/", connectionHandler.Disconnect)
		})
	})

	return r
}
