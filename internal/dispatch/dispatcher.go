package dispatch

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/time/rate"

	"github.com/hitoshi/feedbot/internal/model"
	"github.com/hitoshi/feedbot/internal/repository"
)

// Sender は購読者への1件送信のインターフェース。
// telegram.Channelを抽象化してテスタビリティを向上させる。
type Sender interface {
	Send(ctx context.Context, subscriberID int64, message, mediaURL string) error
}

// Dispatcher は新着アイテムをソースの全アクティブ購読者にファンアウトする。
// 全送信は共有トークンバケットで律速され、チャネル全体の
// スループット上限を超えない。
type Dispatcher struct {
	subRepo   repository.SubscriptionRepository
	sender    Sender
	formatter *Formatter
	limiter   *rate.Limiter
	logger    *slog.Logger

	maxItemsPerCheck int
	retryMax         int
	retryDelay       time.Duration
}

// NewDispatcher はDispatcherの新しいインスタンスを生成する。
// limiterは全ソースのチェックで共有される1つのインスタンスを渡すこと。
func NewDispatcher(
	subRepo repository.SubscriptionRepository,
	sender Sender,
	formatter *Formatter,
	limiter *rate.Limiter,
	logger *slog.Logger,
	maxItemsPerCheck int,
	retryMax int,
) *Dispatcher {
	return &Dispatcher{
		subRepo:          subRepo,
		sender:           sender,
		formatter:        formatter,
		limiter:          limiter,
		logger:           logger,
		maxItemsPerCheck: maxItemsPerCheck,
		retryMax:         retryMax,
		retryDelay:       time.Second,
	}
}

// Dispatch は新着アイテムを配信し、送信成功数を返す。
// itemsは新しい順で受け取り、1サイクルの上限件数に絞った上で
// 古い順に反転して送信する（購読者は時系列順に受信する）。
// 恒久的に到達不能な購読者は購読を無効化し、以降のアイテムをスキップする。
// 個々の送信失敗はソースのチェック失敗とは扱わない。
func (d *Dispatcher) Dispatch(ctx context.Context, source *model.Source, items []model.Item) (int, error) {
	if len(items) == 0 {
		return 0, nil
	}

	// フィンガープリントは配信前に記録済みのため、ファンアウトの中断は
	// 該当アイテムの恒久的な配信漏れになる。シャットダウンのキャンセルを
	// 引き継がず、開始したバッチは最後まで送り切る。
	ctx = context.WithoutCancel(ctx)

	subs, err := d.subRepo.ListActiveBySourceID(ctx, source.ID)
	if err != nil {
		return 0, err
	}
	if len(subs) == 0 {
		return 0, nil
	}

	// 新しい順の先頭N件を採用し、古い順に反転
	if len(items) > d.maxItemsPerCheck {
		items = items[:d.maxItemsPerCheck]
	}
	ordered := make([]model.Item, len(items))
	for i, item := range items {
		ordered[len(items)-1-i] = item
	}

	unreachable := make(map[int64]bool)
	sent := 0

	for _, item := range ordered {
		message := d.formatter.Format(source, item)

		for _, sub := range subs {
			if unreachable[sub.SubscriberID] {
				continue
			}

			if err := d.sendWithRetry(ctx, sub.SubscriberID, message, item.MediaURL); err != nil {
				if model.ClassifySendError(err) == model.ErrKindPermanentUnreachable {
					d.logger.Warn("購読者に到達できないため購読を無効化します",
						slog.Int64("subscriber_id", sub.SubscriberID),
						slog.String("source_id", source.ID),
						slog.String("error", err.Error()),
					)
					unreachable[sub.SubscriberID] = true
					if deactErr := d.subRepo.Deactivate(ctx, sub.SubscriberID, source.ID); deactErr != nil {
						d.logger.Error("購読の無効化に失敗しました",
							slog.Int64("subscriber_id", sub.SubscriberID),
							slog.String("error", deactErr.Error()),
						)
					}
					continue
				}

				d.logger.Error("メッセージ送信に失敗しました",
					slog.Int64("subscriber_id", sub.SubscriberID),
					slog.String("source_id", source.ID),
					slog.String("error", err.Error()),
				)
				continue
			}

			sent++
		}
	}

	return sent, nil
}

// sendWithRetry は一時的な送信失敗を短いバックオフ付きで再試行する。
// 恒久エラーは再試行せず即座に返す。
// 再試行もチャネル全体の送信レート上限を消費するため、
// 試行のたびに共有トークンバケットを待つ。
func (d *Dispatcher) sendWithRetry(ctx context.Context, subscriberID int64, message, mediaURL string) error {
	var lastErr error

	for attempt := 1; attempt <= d.retryMax; attempt++ {
		if err := d.limiter.Wait(ctx); err != nil {
			return model.NewTransientSendError("送信レート待機が中断されました", err)
		}

		lastErr = d.sender.Send(ctx, subscriberID, message, mediaURL)
		if lastErr == nil {
			return nil
		}
		if model.ClassifySendError(lastErr) == model.ErrKindPermanentUnreachable {
			return lastErr
		}
		if attempt == d.retryMax {
			break
		}

		// 1倍, 2倍, ... の線形バックオフ
		select {
		case <-ctx.Done():
			return lastErr
		case <-time.After(time.Duration(attempt) * d.retryDelay):
		}
	}

	return lastErr
}
