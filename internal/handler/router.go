package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/feedbot/internal/health"
	"github.com/hitoshi/feedbot/internal/middleware"
	"github.com/hitoshi/feedbot/internal/repository"
)

// Pinger はデータベース接続の生存確認インターフェース。
// *sql.DBがそのまま満たす。
type Pinger interface {
	PingContext(ctx context.Context) error
}

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	Logger      *slog.Logger
	RateLimiter *middleware.RateLimiter

	SourceRepo       repository.SourceRepository
	SubscriptionRepo repository.SubscriptionRepository
	Detector         KindDetector
	HealthPolicy     health.Policy

	// MetricsHandler はGET /metricsのハンドラー（prometheus exposition）。
	MetricsHandler http.Handler

	DB Pinger
}

// NewRouter は運用APIの全エンドポイントとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	RecoveryMiddleware → LoggingMiddleware → RateLimitMiddleware(GeneralMiddleware)
//
// /healthzと/metricsはレート制限の外に配置する（監視系からのポーリング対象のため）。
func NewRouter(deps *RouterDeps) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.NewRecoveryMiddleware())
	r.Use(middleware.NewLoggingMiddleware(deps.Logger))

	sourceHandler := NewSourceHandler(
		deps.SourceRepo,
		deps.SubscriptionRepo,
		deps.Detector,
		deps.HealthPolicy,
		deps.Logger,
	)

	// --- 監視系のルート ---

	r.Get("/healthz", newHealthzHandler(deps.DB))
	r.Method(http.MethodGet, "/metrics", deps.MetricsHandler)

	// --- 運用APIのルート ---
	// ミドルウェアスタック: RateLimit(General)
	r.Group(func(r chi.Router) {
		r.Use(deps.RateLimiter.GeneralMiddleware())

		r.Route("/api/sources", func(r chi.Router) {
			r.Get("/", sourceHandler.ListSources)

			// POST /api/sources - ソース登録（登録専用レート制限を追加）
			r.With(deps.RateLimiter.RegistrationMiddleware()).Post("/", sourceHandler.RegisterSource)

			r.Route("/{id}", func(r chi.Router) {
				r.Delete("/", sourceHandler.DeleteSource)
				r.Post("/resume", sourceHandler.ResumeSource)
				r.Post("/subscriptions", sourceHandler.AddSubscription)
			})
		})
	})

	return r
}

// newHealthzHandler はデータベース接続を確認するヘルスチェックハンドラーを返す。
func newHealthzHandler(db Pinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
		defer cancel()

		if err := db.PingContext(ctx); err != nil {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusServiceUnavailable)
			json.NewEncoder(w).Encode(map[string]string{"status": "unhealthy"})
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
	}
}
