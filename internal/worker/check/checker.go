// Package check はソースの定期チェック処理を提供する。
// スケジューラとチェッカーを含み、アダプタ・フィンガープリント・
// ディスパッチャ・健全性ポリシーを1回のチェックに束ねる。
package check

import (
	"context"
	"log/slog"
	"time"

	"github.com/hitoshi/feedbot/internal/adapter"
	"github.com/hitoshi/feedbot/internal/dispatch"
	"github.com/hitoshi/feedbot/internal/health"
	"github.com/hitoshi/feedbot/internal/metrics"
	"github.com/hitoshi/feedbot/internal/model"
	"github.com/hitoshi/feedbot/internal/repository"
)

// ItemFilter は未配信アイテムの選別インターフェース。
type ItemFilter interface {
	Filter(ctx context.Context, sourceID string, items []model.Item) ([]model.Item, error)
}

// ItemDispatcher は新着アイテムの配信インターフェース。
type ItemDispatcher interface {
	Dispatch(ctx context.Context, source *model.Source, items []model.Item) (int, error)
}

// 実装側の型がインターフェースを満たすことの確認。
var _ ItemDispatcher = (*dispatch.Dispatcher)(nil)

// Checker は1ソースのチェックサイクル全体を実行する。
// フェッチ → フィンガープリント選別 → 配信 → 健全性更新の順に処理し、
// 結果を永続化する。
type Checker struct {
	sourceRepo repository.SourceRepository
	registry   *adapter.Registry
	filter     ItemFilter
	dispatcher ItemDispatcher
	policy     health.Policy
	metrics    metrics.MetricsCollector
	logger     *slog.Logger

	fetchTimeout    time.Duration
	defaultInterval time.Duration
}

// NewChecker はCheckerの新しいインスタンスを生成する。
func NewChecker(
	sourceRepo repository.SourceRepository,
	registry *adapter.Registry,
	filter ItemFilter,
	dispatcher ItemDispatcher,
	policy health.Policy,
	collector metrics.MetricsCollector,
	logger *slog.Logger,
	fetchTimeout time.Duration,
	defaultInterval time.Duration,
) *Checker {
	return &Checker{
		sourceRepo:      sourceRepo,
		registry:        registry,
		filter:          filter,
		dispatcher:      dispatcher,
		policy:          policy,
		metrics:         collector,
		logger:          logger,
		fetchTimeout:    fetchTimeout,
		defaultInterval: defaultInterval,
	}
}

// Check はソースを1回チェックする。
// フェッチにはタイムアウトが適用され、超過はチェック失敗として扱われる。
// 配信の失敗はソースの健全性には影響しない（取得元の障害ではないため）。
func (c *Checker) Check(ctx context.Context, source *model.Source) error {
	start := time.Now()

	a, err := c.registry.Resolve(source.Kind)
	if err != nil {
		return c.recordFailure(ctx, source, model.NewMalformedContentError(err.Error(), nil), start)
	}

	fetchCtx, cancel := context.WithTimeout(ctx, c.fetchTimeout)
	result, err := a.Fetch(fetchCtx, source)
	cancel()
	if err != nil {
		return c.recordFailure(ctx, source, err, start)
	}

	now := time.Now()

	// 304: 新着なしの成功チェック
	if result.NotModified {
		c.recordSuccess(ctx, source, now, source.ETag, source.LastModified)
		c.metrics.RecordCheckLatency(time.Since(start))
		c.logger.Debug("ソースは未変更です",
			slog.String("source_id", source.ID),
			slog.String("url", source.URL),
		)
		return nil
	}

	fresh, err := c.filter.Filter(ctx, source.ID, result.Items)
	if err != nil {
		return c.recordFailure(ctx, source, model.NewTransientFetchError("新着判定に失敗しました", err), start)
	}

	sent := 0
	if len(fresh) > 0 {
		sent, err = c.dispatcher.Dispatch(ctx, source, fresh)
		if err != nil {
			// 配信系の失敗はログのみ。フィンガープリントは記録済みのため
			// 次サイクルでの重複配信はない（配信漏れ側に倒す）。
			c.logger.Error("アイテムの配信に失敗しました",
				slog.String("source_id", source.ID),
				slog.String("error", err.Error()),
			)
		}
	}

	c.recordSuccess(ctx, source, now, result.ETag, result.LastModified)
	c.metrics.RecordCheckLatency(time.Since(start))
	c.metrics.RecordItemsDelivered(sent)

	c.logger.Info("ソースチェックが完了しました",
		slog.String("source_id", source.ID),
		slog.String("url", source.URL),
		slog.String("kind", string(source.Kind)),
		slog.Int("items_total", len(result.Items)),
		slog.Int("items_fresh", len(fresh)),
		slog.Int("messages_sent", sent),
		slog.Float64("duration_ms", float64(time.Since(start).Milliseconds())),
	)

	return nil
}

// recordSuccess は成功時の健全性リセットとチェック時刻・バリデータの永続化を行う。
func (c *Checker) recordSuccess(ctx context.Context, source *model.Source, now time.Time, etag, lastModified string) {
	interval := time.Duration(source.IntervalMinutes) * time.Minute
	if interval <= 0 {
		interval = c.defaultInterval
	}

	c.policy.ApplySuccess(&source.Health, now, interval)
	c.metrics.RecordCheckSuccess(string(source.Kind))

	if err := c.sourceRepo.UpdateHealth(ctx, source.ID, source.Health); err != nil {
		c.logger.Error("ソース健全性の更新に失敗しました",
			slog.String("source_id", source.ID),
			slog.String("error", err.Error()),
		)
	}
	if err := c.sourceRepo.UpdateLastChecked(ctx, source.ID, now, etag, lastModified); err != nil {
		c.logger.Error("チェック時刻の更新に失敗しました",
			slog.String("source_id", source.ID),
			slog.String("error", err.Error()),
		)
	}
}

// recordFailure は失敗を分類して健全性に反映し、永続化する。
func (c *Checker) recordFailure(ctx context.Context, source *model.Source, checkErr error, start time.Time) error {
	now := time.Now()
	kind := model.ClassifyCheckError(checkErr)

	wasDisabled := source.Health.Status == model.HealthStatusDisabled
	c.policy.ApplyFailure(&source.Health, now, kind, checkErr.Error())

	c.metrics.RecordCheckFailure(string(source.Kind), string(kind))
	c.metrics.RecordCheckLatency(time.Since(start))

	if source.Health.Status == model.HealthStatusDisabled && !wasDisabled {
		c.metrics.RecordSourceDisabled()
		c.logger.Warn("ソースを無効化しました",
			slog.String("source_id", source.ID),
			slog.String("url", source.URL),
			slog.String("error_kind", string(kind)),
			slog.Int("consecutive_failures", source.Health.ConsecutiveFailures),
		)
	} else {
		c.logger.Warn("ソースチェックに失敗しました",
			slog.String("source_id", source.ID),
			slog.String("url", source.URL),
			slog.String("error_kind", string(kind)),
			slog.Int("consecutive_failures", source.Health.ConsecutiveFailures),
			slog.String("error", checkErr.Error()),
		)
	}

	if err := c.sourceRepo.UpdateHealth(ctx, source.ID, source.Health); err != nil {
		c.logger.Error("ソース健全性の更新に失敗しました",
			slog.String("source_id", source.ID),
			slog.String("error", err.Error()),
		)
	}

	return checkErr
}
