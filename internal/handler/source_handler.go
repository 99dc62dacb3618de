// Package handler は運用APIのHTTPハンドラーを提供する。
package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/hitoshi/feedbot/internal/adapter"
	"github.com/hitoshi/feedbot/internal/health"
	"github.com/hitoshi/feedbot/internal/model"
	"github.com/hitoshi/feedbot/internal/repository"
)

// KindDetector はURLからソース種別を判定するインターフェース。
type KindDetector interface {
	Detect(ctx context.Context, inputURL string) (*adapter.Detection, error)
}

// SourceHandler はソース管理のHTTPハンドラー。
type SourceHandler struct {
	sourceRepo repository.SourceRepository
	subRepo    repository.SubscriptionRepository
	detector   KindDetector
	policy     health.Policy
	logger     *slog.Logger
}

// NewSourceHandler はSourceHandlerを生成する。
func NewSourceHandler(
	sourceRepo repository.SourceRepository,
	subRepo repository.SubscriptionRepository,
	detector KindDetector,
	policy health.Policy,
	logger *slog.Logger,
) *SourceHandler {
	return &SourceHandler{
		sourceRepo: sourceRepo,
		subRepo:    subRepo,
		detector:   detector,
		policy:     policy,
		logger:     logger,
	}
}

// registerSourceRequest はソース登録リクエストのボディ。
type registerSourceRequest struct {
	URL             string `json:"url"`
	Title           string `json:"title"`
	IntervalMinutes int    `json:"interval_minutes"`
}

// addSubscriptionRequest は購読追加リクエストのボディ。
type addSubscriptionRequest struct {
	SubscriberID int64 `json:"subscriber_id"`
}

// sourceResponse はソース情報のAPIレスポンス。
type sourceResponse struct {
	ID                  string    `json:"id"`
	URL                 string    `json:"url"`
	Kind                string    `json:"kind"`
	Title               string    `json:"title"`
	Enabled             bool      `json:"enabled"`
	IntervalMinutes     int       `json:"interval_minutes"`
	HealthStatus        string    `json:"health_status"`
	ConsecutiveFailures int       `json:"consecutive_failures"`
	NextCheckAt         time.Time `json:"next_check_at"`
	LastCheckedAt       time.Time `json:"last_checked_at"`
	CreatedAt           time.Time `json:"created_at"`
}

// ListSources はソース一覧を返す。
// GET /api/sources
func (h *SourceHandler) ListSources(w http.ResponseWriter, r *http.Request) {
	sources, err := h.sourceRepo.ListAll(r.Context())
	if err != nil {
		h.handleError(w, err)
		return
	}

	responses := make([]sourceResponse, 0, len(sources))
	for _, src := range sources {
		responses = append(responses, toSourceResponse(src))
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(responses)
}

// RegisterSource はURLの種別を判定してソースを登録する。
// POST /api/sources
func (h *SourceHandler) RegisterSource(w http.ResponseWriter, r *http.Request) {
	var req registerSourceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErrorResponse(w, http.StatusBadRequest, "invalid_request", "リクエストボディの解析に失敗しました。")
		return
	}
	if req.URL == "" {
		writeErrorResponse(w, http.StatusBadRequest, "invalid_url", "URLが空です。")
		return
	}

	// 入力URLでの重複は検出フェッチの前に弾く
	if existing, err := h.sourceRepo.FindByURL(r.Context(), req.URL); err != nil {
		h.handleError(w, err)
		return
	} else if existing != nil {
		writeErrorResponse(w, http.StatusConflict, "duplicate_source", "同じURLのソースが既に登録されています。")
		return
	}

	detection, err := h.detector.Detect(r.Context(), req.URL)
	if err != nil {
		h.handleDetectionError(w, req.URL, err)
		return
	}

	// 判定後のURL（HTMLページから検出したフィードURL等）でも重複を確認する
	if detection.URL != req.URL {
		if existing, err := h.sourceRepo.FindByURL(r.Context(), detection.URL); err != nil {
			h.handleError(w, err)
			return
		} else if existing != nil {
			writeErrorResponse(w, http.StatusConflict, "duplicate_source", "同じURLのソースが既に登録されています。")
			return
		}
	}

	now := time.Now()
	source := &model.Source{
		ID:              uuid.New().String(),
		URL:             detection.URL,
		Kind:            detection.Kind,
		Title:           req.Title,
		Enabled:         true,
		IntervalMinutes: req.IntervalMinutes,
		Health: model.HealthState{
			Status:      model.HealthStatusHealthy,
			NextCheckAt: now,
		},
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := h.sourceRepo.Create(r.Context(), source); err != nil {
		h.handleError(w, err)
		return
	}

	h.logger.Info("ソースを登録しました",
		slog.String("source_id", source.ID),
		slog.String("url", source.URL),
		slog.String("kind", string(source.Kind)),
	)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(toSourceResponse(source))
}

// ResumeSource は無効化されたソースをチェック対象に復帰させる。
// POST /api/sources/{id}/resume
func (h *SourceHandler) ResumeSource(w http.ResponseWriter, r *http.Request) {
	sourceID := chi.URLParam(r, "id")

	source, err := h.sourceRepo.FindByID(r.Context(), sourceID)
	if err != nil {
		h.handleError(w, err)
		return
	}
	if source == nil {
		writeErrorResponse(w, http.StatusNotFound, "source_not_found", "指定されたソースが見つかりません。")
		return
	}

	h.policy.Resume(&source.Health, time.Now())
	if err := h.sourceRepo.UpdateHealth(r.Context(), source.ID, source.Health); err != nil {
		h.handleError(w, err)
		return
	}

	h.logger.Info("ソースを復帰させました",
		slog.String("source_id", source.ID),
		slog.String("url", source.URL),
	)

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(toSourceResponse(source))
}

// DeleteSource はソースを削除する。
// DELETE /api/sources/{id}
func (h *SourceHandler) DeleteSource(w http.ResponseWriter, r *http.Request) {
	sourceID := chi.URLParam(r, "id")

	source, err := h.sourceRepo.FindByID(r.Context(), sourceID)
	if err != nil {
		h.handleError(w, err)
		return
	}
	if source == nil {
		writeErrorResponse(w, http.StatusNotFound, "source_not_found", "指定されたソースが見つかりません。")
		return
	}

	if err := h.sourceRepo.Delete(r.Context(), sourceID); err != nil {
		h.handleError(w, err)
		return
	}

	h.logger.Info("ソースを削除しました",
		slog.String("source_id", sourceID),
	)

	w.WriteHeader(http.StatusNoContent)
}

// AddSubscription はソースに購読者を追加する。
// POST /api/sources/{id}/subscriptions
func (h *SourceHandler) AddSubscription(w http.ResponseWriter, r *http.Request) {
	sourceID := chi.URLParam(r, "id")

	var req addSubscriptionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErrorResponse(w, http.StatusBadRequest, "invalid_request", "リクエストボディの解析に失敗しました。")
		return
	}
	if req.SubscriberID == 0 {
		writeErrorResponse(w, http.StatusBadRequest, "invalid_subscriber", "subscriber_idが必要です。")
		return
	}

	source, err := h.sourceRepo.FindByID(r.Context(), sourceID)
	if err != nil {
		h.handleError(w, err)
		return
	}
	if source == nil {
		writeErrorResponse(w, http.StatusNotFound, "source_not_found", "指定されたソースが見つかりません。")
		return
	}

	now := time.Now()
	sub := &model.Subscription{
		ID:           uuid.New().String(),
		SubscriberID: req.SubscriberID,
		SourceID:     sourceID,
		Active:       true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := h.subRepo.Create(r.Context(), sub); err != nil {
		h.handleError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(map[string]string{"id": sub.ID})
}

// --- ヘルパー関数 ---

// toSourceResponse はmodel.SourceからAPIレスポンスに変換する。
func toSourceResponse(src *model.Source) sourceResponse {
	return sourceResponse{
		ID:                  src.ID,
		URL:                 src.URL,
		Kind:                string(src.Kind),
		Title:               src.Title,
		Enabled:             src.Enabled,
		IntervalMinutes:     src.IntervalMinutes,
		HealthStatus:        string(src.Health.Status),
		ConsecutiveFailures: src.Health.ConsecutiveFailures,
		NextCheckAt:         src.Health.NextCheckAt,
		LastCheckedAt:       src.LastCheckedAt,
		CreatedAt:           src.CreatedAt,
	}
}

// writeErrorResponse は統一エラーフォーマットでエラーレスポンスを書き込む。
func writeErrorResponse(w http.ResponseWriter, statusCode int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(map[string]string{
		"code":    code,
		"message": message,
	})
}

// handleError は想定外のエラーを500レスポンスに変換する。
func (h *SourceHandler) handleError(w http.ResponseWriter, err error) {
	h.logger.Error("internal server error", slog.String("error", err.Error()))
	writeErrorResponse(w, http.StatusInternalServerError, "internal_error", "内部エラーが発生しました。")
}

// handleDetectionError は種別判定の失敗を適切なHTTPステータスコードに変換する。
func (h *SourceHandler) handleDetectionError(w http.ResponseWriter, inputURL string, err error) {
	h.logger.Warn("ソース種別の判定に失敗しました",
		slog.String("url", inputURL),
		slog.String("error", err.Error()),
	)

	switch model.ClassifyCheckError(err) {
	case model.ErrKindPermanentNotFound:
		writeErrorResponse(w, http.StatusUnprocessableEntity, "source_not_detected", "URLからソースを検出できませんでした。")
	case model.ErrKindMalformedContent:
		writeErrorResponse(w, http.StatusUnprocessableEntity, "parse_failed", "コンテンツの解析に失敗しました。")
	case model.ErrKindOriginRateLimited:
		writeErrorResponse(w, http.StatusBadGateway, "fetch_failed", "取得元にレート制限されています。")
	default:
		writeErrorResponse(w, http.StatusBadGateway, "fetch_failed", "URLの取得に失敗しました。")
	}
}
