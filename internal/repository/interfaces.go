// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"
	"time"

	"github.com/hitoshi/feedbot/internal/model"
)

// SourceRepository はソースデータの永続化インターフェース。
type SourceRepository interface {
	// FindByID は指定IDのソースを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Source, error)

	// FindByURL はURLでソースを検索する。見つからない場合はnilを返す。
	FindByURL(ctx context.Context, url string) (*model.Source, error)

	// Create はソースを作成する。
	Create(ctx context.Context, source *model.Source) error

	// Delete は指定IDのソースを削除する。
	// 関連するfingerprints、subscriptionsはCASCADE削除される。
	Delete(ctx context.Context, id string) error

	// ListAll は全ソースを作成日時順に返す。運用APIの一覧表示用。
	ListAll(ctx context.Context) ([]*model.Source, error)

	// ListDueForCheck はチェック対象のソースを取得する。
	// enabled かつ health_status <> 'disabled' かつ next_check_at <= now のソースを
	// next_check_at順に返す。同一ソースの同時チェック防止は呼び出し側が行う。
	ListDueForCheck(ctx context.Context, now time.Time) ([]*model.Source, error)

	// UpdateHealth はソースの健全性スナップショットを更新する。
	// HealthTracker以外から呼んではならない。
	UpdateHealth(ctx context.Context, id string, health model.HealthState) error

	// UpdateLastChecked はチェック時刻と条件付きGETバリデータを更新する。
	UpdateLastChecked(ctx context.Context, id string, checkedAt time.Time, etag, lastModified string) error
}

// FingerprintRepository は配信済みフィンガープリントの永続化インターフェース。
// 参照と挿入のみを公開し、個別レコードの更新・削除は提供しない。
type FingerprintRepository interface {
	// InsertIfNew は(sourceID, fingerprint)を記録し、新規ならtrueを返す。
	// 検査と挿入はフィンガープリント単位でアトミックであること。
	// 並行する2ワーカーが同一ペアを挿入した場合、trueを受け取るのは片方のみ。
	InsertIfNew(ctx context.Context, sourceID, fingerprint string, seenAt time.Time) (bool, error)

	// DeleteOlderThan はfirst_seen_atがcutoffより古いレコードを削除し、件数を返す。
	// 保持期間プルーニングジョブ専用。
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

// SubscriptionRepository は購読データの永続化インターフェース。
// パイプラインからは読み取りと到達不能時の無効化のみ行う。
type SubscriptionRepository interface {
	// ListActiveBySourceID は指定ソースのアクティブな購読一覧を返す。
	ListActiveBySourceID(ctx context.Context, sourceID string) ([]*model.Subscription, error)

	// Deactivate は指定購読者・ソースの購読を無効化する。
	// 購読が存在しない場合もエラーにしない（冪等）。
	Deactivate(ctx context.Context, subscriberID int64, sourceID string) error

	// Create は購読を作成する。
	Create(ctx context.Context, sub *model.Subscription) error
}
