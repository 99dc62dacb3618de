package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/hitoshi/feedbot/internal/model"
)

// PostgresSubscriptionRepo はPostgreSQLを使用した購読リポジトリ。
type PostgresSubscriptionRepo struct {
	db *sql.DB
}

// NewPostgresSubscriptionRepo はPostgresSubscriptionRepoを生成する。
func NewPostgresSubscriptionRepo(db *sql.DB) *PostgresSubscriptionRepo {
	return &PostgresSubscriptionRepo{db: db}
}

// ListActiveBySourceID は指定ソースのアクティブな購読一覧を返す。
func (r *PostgresSubscriptionRepo) ListActiveBySourceID(ctx context.Context, sourceID string) ([]*model.Subscription, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, subscriber_id, source_id, active, created_at, updated_at
		 FROM subscriptions
		 WHERE source_id = $1 AND active
		 ORDER BY created_at`,
		sourceID,
	)
	if err != nil {
		return nil, fmt.Errorf("購読一覧の取得に失敗しました: %w", err)
	}
	defer rows.Close()

	var subs []*model.Subscription
	for rows.Next() {
		sub := &model.Subscription{}
		if err := rows.Scan(
			&sub.ID, &sub.SubscriberID, &sub.SourceID,
			&sub.Active, &sub.CreatedAt, &sub.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("購読一覧の読み込みに失敗しました: %w", err)
		}
		subs = append(subs, sub)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("購読一覧の読み込みに失敗しました: %w", err)
	}
	return subs, nil
}

// Deactivate は指定購読者・ソースの購読を無効化する。
// 対象が存在しない場合も成功として扱う（冪等）。
func (r *PostgresSubscriptionRepo) Deactivate(ctx context.Context, subscriberID int64, sourceID string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE subscriptions SET active = FALSE, updated_at = now()
		 WHERE subscriber_id = $1 AND source_id = $2`,
		subscriberID, sourceID,
	)
	if err != nil {
		return fmt.Errorf("購読の無効化に失敗しました: %w", err)
	}
	return nil
}

// Create は購読を作成する。
func (r *PostgresSubscriptionRepo) Create(ctx context.Context, sub *model.Subscription) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO subscriptions (id, subscriber_id, source_id, active, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		sub.ID, sub.SubscriberID, sub.SourceID, sub.Active, sub.CreatedAt, sub.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("購読の作成に失敗しました: %w", err)
	}
	return nil
}
