package check

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/hitoshi/feedbot/internal/model"
	"github.com/hitoshi/feedbot/internal/repository"
)

// CheckerService はソースチェックの実行インターフェース。
type CheckerService interface {
	Check(ctx context.Context, source *model.Source) error
}

// Scheduler はソースチェックのスケジューリングと並列制御を行う。
// ティッカーでチェック期限の到来したソースを取得し、
// semaphoreパターンでワーカー予算を上限に並列チェックを実行する。
// 同一ソースのチェックが重なることはない: 実行中のソースは
// 後続ティックでスキップされる（競合フェッチによる重複配信の防止）。
type Scheduler struct {
	sourceRepo repository.SourceRepository
	checker    CheckerService
	logger     *slog.Logger
	budget     int

	mu       sync.Mutex
	inFlight map[string]bool
}

// NewScheduler はSchedulerの新しいインスタンスを生成する。
// budgetが0以下の場合はデフォルト値10を使用する。
func NewScheduler(
	sourceRepo repository.SourceRepository,
	checker CheckerService,
	logger *slog.Logger,
	budget int,
) *Scheduler {
	if budget <= 0 {
		budget = 10
	}
	return &Scheduler{
		sourceRepo: sourceRepo,
		checker:    checker,
		logger:     logger,
		budget:     budget,
		inFlight:   make(map[string]bool),
	}
}

// Start はティッカーでスケジューラを起動する。
// コンテキストがキャンセルされるまで実行を継続し、
// キャンセル時は実行中のチェックの完了を待ってから戻る。
func (s *Scheduler) Start(ctx context.Context, tick time.Duration) {
	ticker := time.NewTicker(tick)
	defer ticker.Stop()

	s.logger.Info("チェックスケジューラを開始しました",
		slog.Duration("tick", tick),
		slog.Int("worker_budget", s.budget),
	)

	// 起動直後に1回実行
	if err := s.RunOnce(ctx); err != nil {
		s.logger.Error("チェックサイクルの実行に失敗しました",
			slog.String("error", err.Error()),
		)
	}

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("チェックスケジューラを停止しました")
			return
		case <-ticker.C:
			if err := s.RunOnce(ctx); err != nil {
				s.logger.Error("チェックサイクルの実行に失敗しました",
					slog.String("error", err.Error()),
				)
			}
		}
	}
}

// RunOnce はチェック期限の到来したソースを1回取得し、並列でチェックを実行する。
// 全チェックの完了を待ってから戻る。
func (s *Scheduler) RunOnce(ctx context.Context) error {
	start := time.Now()

	sources, err := s.sourceRepo.ListDueForCheck(ctx, start)
	if err != nil {
		return err
	}
	if len(sources) == 0 {
		return nil
	}

	s.logger.Info("チェックサイクルを開始します",
		slog.Int("source_count", len(sources)),
	)

	sem := make(chan struct{}, s.budget)
	var wg sync.WaitGroup
	checked := 0

	for _, source := range sources {
		if !s.tryAcquire(source.ID) {
			s.logger.Debug("チェック実行中のためスキップします",
				slog.String("source_id", source.ID),
			)
			continue
		}
		checked++

		wg.Add(1)
		sem <- struct{}{} // semaphore取得（ブロック）

		go func(src *model.Source) {
			defer wg.Done()
			defer func() { <-sem }() // semaphore解放
			defer s.release(src.ID)

			if err := s.checker.Check(ctx, src); err != nil {
				s.logger.Error("ソースチェックに失敗しました",
					slog.String("source_id", src.ID),
					slog.String("url", src.URL),
					slog.String("error", err.Error()),
				)
			}
		}(source)
	}

	wg.Wait()

	s.logger.Info("チェックサイクルが完了しました",
		slog.Int("source_count", checked),
		slog.Float64("duration_ms", float64(time.Since(start).Milliseconds())),
	)

	return nil
}

// tryAcquire はソースの実行権を取得する。既に実行中の場合はfalseを返す。
func (s *Scheduler) tryAcquire(sourceID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.inFlight[sourceID] {
		return false
	}
	s.inFlight[sourceID] = true
	return true
}

// release はソースの実行権を解放する。
func (s *Scheduler) release(sourceID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.inFlight, sourceID)
}
