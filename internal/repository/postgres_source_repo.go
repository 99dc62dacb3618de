package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/hitoshi/feedbot/internal/model"
)

// PostgresSourceRepo はPostgreSQLを使用したソースリポジトリ。
type PostgresSourceRepo struct {
	db *sql.DB
}

// NewPostgresSourceRepo はPostgresSourceRepoを生成する。
func NewPostgresSourceRepo(db *sql.DB) *PostgresSourceRepo {
	return &PostgresSourceRepo{db: db}
}

const sourceColumns = `id, url, kind, title, enabled, interval_minutes,
	        etag, last_modified, health_status, consecutive_failures,
	        next_check_at, last_error_kind, last_error_message,
	        last_checked_at, created_at, updated_at`

// scanSource は1行をmodel.Sourceに読み込む。
func scanSource(row interface {
	Scan(dest ...interface{}) error
}) (*model.Source, error) {
	source := &model.Source{}
	var title, etag, lastModified, lastErrorKind, lastErrorMessage sql.NullString
	var lastCheckedAt sql.NullTime

	err := row.Scan(
		&source.ID, &source.URL, &source.Kind, &title,
		&source.Enabled, &source.IntervalMinutes,
		&etag, &lastModified,
		&source.Health.Status, &source.Health.ConsecutiveFailures,
		&source.Health.NextCheckAt, &lastErrorKind, &lastErrorMessage,
		&lastCheckedAt, &source.CreatedAt, &source.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	source.Title = nullStringValue(title)
	source.ETag = nullStringValue(etag)
	source.LastModified = nullStringValue(lastModified)
	source.Health.LastErrorKind = model.ErrorKind(nullStringValue(lastErrorKind))
	source.Health.LastErrorMessage = nullStringValue(lastErrorMessage)
	if lastCheckedAt.Valid {
		source.LastCheckedAt = lastCheckedAt.Time
	}

	return source, nil
}

// FindByID は指定IDのソースを取得する。見つからない場合はnilを返す。
func (r *PostgresSourceRepo) FindByID(ctx context.Context, id string) (*model.Source, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+sourceColumns+` FROM sources WHERE id = $1`, id)

	source, err := scanSource(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("ソースの取得に失敗しました: %w", err)
	}
	return source, nil
}

// FindByURL はURLでソースを検索する。見つからない場合はnilを返す。
func (r *PostgresSourceRepo) FindByURL(ctx context.Context, url string) (*model.Source, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+sourceColumns+` FROM sources WHERE url = $1`, url)

	source, err := scanSource(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("URLによるソースの検索に失敗しました: %w", err)
	}
	return source, nil
}

// Create はソースを作成する。
func (r *PostgresSourceRepo) Create(ctx context.Context, source *model.Source) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO sources (id, url, kind, title, enabled, interval_minutes,
		                      etag, last_modified, health_status, consecutive_failures,
		                      next_check_at, last_error_kind, last_error_message,
		                      last_checked_at, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)`,
		source.ID, source.URL, source.Kind, nullString(source.Title),
		source.Enabled, source.IntervalMinutes,
		nullString(source.ETag), nullString(source.LastModified),
		source.Health.Status, source.Health.ConsecutiveFailures,
		source.Health.NextCheckAt,
		nullString(string(source.Health.LastErrorKind)),
		nullString(source.Health.LastErrorMessage),
		nullTime(source.LastCheckedAt), source.CreatedAt, source.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("ソースの作成に失敗しました: %w", err)
	}
	return nil
}

// Delete は指定IDのソースを削除する。
func (r *PostgresSourceRepo) Delete(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM sources WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("ソースの削除に失敗しました: %w", err)
	}
	return nil
}

// ListAll は全ソースを作成日時順に返す。
func (r *PostgresSourceRepo) ListAll(ctx context.Context) ([]*model.Source, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+sourceColumns+` FROM sources ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("ソース一覧の取得に失敗しました: %w", err)
	}
	defer rows.Close()

	var sources []*model.Source
	for rows.Next() {
		source, err := scanSource(rows)
		if err != nil {
			return nil, fmt.Errorf("ソース一覧の読み込みに失敗しました: %w", err)
		}
		sources = append(sources, source)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ソース一覧の読み込みに失敗しました: %w", err)
	}
	return sources, nil
}

// ListDueForCheck はチェック期限が到来したソースを取得する。
// 同一ソースのチェック重複はスケジューラの実行中マップで防ぐため、
// ここでは行ロックを取らない。
func (r *PostgresSourceRepo) ListDueForCheck(ctx context.Context, now time.Time) ([]*model.Source, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+sourceColumns+`
		 FROM sources
		 WHERE enabled
		   AND health_status <> 'disabled'
		   AND next_check_at <= $1
		 ORDER BY next_check_at`,
		now,
	)
	if err != nil {
		return nil, fmt.Errorf("チェック対象ソースの取得に失敗しました: %w", err)
	}
	defer rows.Close()

	var sources []*model.Source
	for rows.Next() {
		source, err := scanSource(rows)
		if err != nil {
			return nil, fmt.Errorf("チェック対象ソースの読み込みに失敗しました: %w", err)
		}
		sources = append(sources, source)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("チェック対象ソースの読み込みに失敗しました: %w", err)
	}
	return sources, nil
}

// UpdateHealth はソースの健全性スナップショットを更新する。
func (r *PostgresSourceRepo) UpdateHealth(ctx context.Context, id string, health model.HealthState) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE sources SET
		    health_status = $2, consecutive_failures = $3,
		    next_check_at = $4, last_error_kind = $5,
		    last_error_message = $6, updated_at = now()
		 WHERE id = $1`,
		id, health.Status, health.ConsecutiveFailures,
		health.NextCheckAt,
		nullString(string(health.LastErrorKind)),
		nullString(health.LastErrorMessage),
	)
	if err != nil {
		return fmt.Errorf("ソース健全性の更新に失敗しました: %w", err)
	}
	return nil
}

// UpdateLastChecked はチェック時刻と条件付きGETバリデータを更新する。
func (r *PostgresSourceRepo) UpdateLastChecked(ctx context.Context, id string, checkedAt time.Time, etag, lastModified string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE sources SET
		    last_checked_at = $2, etag = $3, last_modified = $4, updated_at = now()
		 WHERE id = $1`,
		id, checkedAt, nullString(etag), nullString(lastModified),
	)
	if err != nil {
		return fmt.Errorf("チェック時刻の更新に失敗しました: %w", err)
	}
	return nil
}

// nullString は空文字列をNULLに変換する。
func nullString(v string) sql.NullString {
	return sql.NullString{String: v, Valid: v != ""}
}

// nullStringValue はNULLを空文字列に変換する。
func nullStringValue(v sql.NullString) string {
	if v.Valid {
		return v.String
	}
	return ""
}

// nullTime はゼロ値をNULLに変換する。
func nullTime(t time.Time) sql.NullTime {
	return sql.NullTime{Time: t, Valid: !t.IsZero()}
}
