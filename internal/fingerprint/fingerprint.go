// Package fingerprint は配信済み判定のためのフィンガープリント導出と
// フィルタリングを提供する。
package fingerprint

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"time"

	"github.com/hitoshi/feedbot/internal/model"
	"github.com/hitoshi/feedbot/internal/repository"
)

// Derive はアイテムの安定フィンガープリントを導出する。
// 取得元が提供するGUIDがあればそれを優先し、なければ
// リンク・タイトル・公開日時のSHA-256ハッシュを使用する。
// 同一コンテンツに対して常に同一の値を返す（決定的）。
func Derive(guid, link, title string, publishedAt *time.Time) string {
	if guid != "" {
		return guid
	}

	published := ""
	if publishedAt != nil {
		published = publishedAt.UTC().Format(time.RFC3339)
	}

	hash := sha256.Sum256([]byte(link + "|" + title + "|" + published))
	return hex.EncodeToString(hash[:])
}

// Store は配信済みフィンガープリントの記録と新着判定を行う。
type Store struct {
	repo   repository.FingerprintRepository
	logger *slog.Logger
}

// NewStore はStoreの新しいインスタンスを生成する。
func NewStore(repo repository.FingerprintRepository, logger *slog.Logger) *Store {
	return &Store{repo: repo, logger: logger}
}

// Filter はアイテム列から未配信のものだけを返す。
// 各フィンガープリントはアトミックなInsertIfNewで記録されるため、
// 並行する2つのチェックが同一アイテムを観測しても、
// 新規として受け取るのは片方のみ。
// 記録は配信前に行われる: プロセスクラッシュ時は重複配信ではなく
// 配信漏れに倒す。
func (s *Store) Filter(ctx context.Context, sourceID string, items []model.Item) ([]model.Item, error) {
	now := time.Now()
	fresh := make([]model.Item, 0, len(items))

	for _, item := range items {
		isNew, err := s.repo.InsertIfNew(ctx, sourceID, item.Fingerprint, now)
		if err != nil {
			return nil, fmt.Errorf("フィンガープリントの判定に失敗しました: %w", err)
		}
		if isNew {
			fresh = append(fresh, item)
		}
	}

	if len(fresh) > 0 {
		s.logger.Debug("新着アイテムを検出しました",
			slog.String("source_id", sourceID),
			slog.Int("fresh", len(fresh)),
			slog.Int("total", len(items)),
		)
	}

	return fresh, nil
}

// Prune はfirst_seen_atがttlより古いフィンガープリントを削除する。
// クリーンアップワーカーから定期的に呼ばれる。
func (s *Store) Prune(ctx context.Context, ttl time.Duration) (int64, error) {
	cutoff := time.Now().Add(-ttl)
	deleted, err := s.repo.DeleteOlderThan(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("フィンガープリントの削除に失敗しました: %w", err)
	}
	return deleted, nil
}
