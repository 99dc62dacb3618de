// Package cleanup はフィンガープリントの保持期間プルーニングジョブを提供する。
// 保持期間を超過したフィンガープリントを定期バッチで削除し、
// 配信済みセットの無限成長を防ぐ。
package cleanup

import (
	"context"
	"log/slog"
	"time"

	"github.com/hitoshi/feedbot/internal/metrics"
)

// Pruner はフィンガープリントの削除処理のインターフェース。
// fingerprint.Storeを抽象化してテスタビリティを向上させる。
type Pruner interface {
	Prune(ctx context.Context, ttl time.Duration) (int64, error)
}

// CleanupJob は保持期間を超過したフィンガープリントの自動削除ジョブ。
// 冪等: 削除対象がない場合でもエラーにならない。
//
// 注意: 保持期間より古いアイテムを取得元が再掲載した場合、
// プルーニング後は新着として再配信される。保持期間は取得元の
// 実際の履歴の深さより長く設定すること。
type CleanupJob struct {
	pruner  Pruner
	metrics metrics.MetricsCollector
	logger  *slog.Logger
	ttl     time.Duration
}

// NewCleanupJob は新しいCleanupJobを生成する。
func NewCleanupJob(pruner Pruner, collector metrics.MetricsCollector, logger *slog.Logger, ttl time.Duration) *CleanupJob {
	return &CleanupJob{
		pruner:  pruner,
		metrics: collector,
		logger:  logger,
		ttl:     ttl,
	}
}

// Run はプルーニングを1回実行する。
func (j *CleanupJob) Run(ctx context.Context) error {
	start := time.Now()

	deleted, err := j.pruner.Prune(ctx, j.ttl)
	if err != nil {
		j.logger.Error("フィンガープリントのプルーニングに失敗しました",
			slog.String("error", err.Error()),
		)
		return err
	}

	j.metrics.RecordFingerprintsPruned(deleted)
	j.logger.Info("フィンガープリントのプルーニングが完了しました",
		slog.Int64("deleted_count", deleted),
		slog.Duration("ttl", j.ttl),
		slog.Float64("duration_ms", float64(time.Since(start).Milliseconds())),
	)

	return nil
}

// Start は指定間隔でプルーニングを繰り返し実行する。
// コンテキストがキャンセルされるまで実行を継続する。
func (j *CleanupJob) Start(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	j.logger.Info("クリーンアップジョブを開始しました",
		slog.Duration("interval", interval),
		slog.Duration("ttl", j.ttl),
	)

	for {
		select {
		case <-ctx.Done():
			j.logger.Info("クリーンアップジョブを停止しました")
			return
		case <-ticker.C:
			if err := j.Run(ctx); err != nil {
				// 次の周期で再試行する
				continue
			}
		}
	}
}
