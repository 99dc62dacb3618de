package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// PostgresFingerprintRepo はPostgreSQLを使用したフィンガープリントリポジトリ。
type PostgresFingerprintRepo struct {
	db *sql.DB
}

// NewPostgresFingerprintRepo はPostgresFingerprintRepoを生成する。
func NewPostgresFingerprintRepo(db *sql.DB) *PostgresFingerprintRepo {
	return &PostgresFingerprintRepo{db: db}
}

// InsertIfNew は(sourceID, fingerprint)を記録し、新規ならtrueを返す。
// INSERT ... ON CONFLICT DO NOTHINGにより検査と挿入が1文でアトミックになる。
// 並行する2ワーカーが同一ペアを挿入しても、行が作られるのは片方のみで、
// RETURNINGが値を返すのもその片方だけ。
func (r *PostgresFingerprintRepo) InsertIfNew(ctx context.Context, sourceID, fingerprint string, seenAt time.Time) (bool, error) {
	var inserted string
	err := r.db.QueryRowContext(ctx,
		`INSERT INTO fingerprints (source_id, fingerprint, first_seen_at)
		 VALUES ($1, $2, $3)
		 ON CONFLICT (source_id, fingerprint) DO NOTHING
		 RETURNING fingerprint`,
		sourceID, fingerprint, seenAt,
	).Scan(&inserted)

	if err == sql.ErrNoRows {
		// 衝突: 既に配信済み
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("フィンガープリントの記録に失敗しました: %w", err)
	}
	return true, nil
}

// DeleteOlderThan はfirst_seen_atがcutoffより古いレコードを削除し、件数を返す。
func (r *PostgresFingerprintRepo) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx,
		`DELETE FROM fingerprints WHERE first_seen_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("フィンガープリントの削除に失敗しました: %w", err)
	}

	deleted, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("削除件数の取得に失敗しました: %w", err)
	}
	return deleted, nil
}
