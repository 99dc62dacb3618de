// Package model はドメインモデルを定義する。
package model

import "time"

// SourceKind はソースの種別を表す。
type SourceKind string

const (
	// SourceKindFeed はRSS/Atomなどのシンジケーションフィード。
	SourceKindFeed SourceKind = "feed"
	// SourceKindPage はフィードを持たない汎用Webページ。
	SourceKindPage SourceKind = "page"
	// SourceKindProxy はプラットフォーム固有URL（YouTube/Reddit等）を
	// 実フィードに解決してからフェッチするソース。
	SourceKindProxy SourceKind = "proxy"
)

// HealthStatus はソースの健全性状態を表す。
// 状態遷移: healthy → degraded → disabled。
// disabledからの復帰はオペレーター操作（resume）のみ。
type HealthStatus string

const (
	// HealthStatusHealthy は連続失敗0、通常間隔でチェックされる状態。
	HealthStatusHealthy HealthStatus = "healthy"
	// HealthStatusDegraded は連続失敗中でバックオフが適用されている状態。
	HealthStatusDegraded HealthStatus = "degraded"
	// HealthStatusDisabled はスケジューラの選択対象から外れた状態。
	HealthStatusDisabled HealthStatus = "disabled"
)

// HealthState はソースごとの健全性スナップショット。
// HealthTrackerのみが更新し、スケジューラは参照のみ行う。
type HealthState struct {
	Status              HealthStatus
	ConsecutiveFailures int
	NextCheckAt         time.Time
	LastErrorKind       ErrorKind
	LastErrorMessage    string
}

// Source は定期チェック対象として登録されたコンテンツの取得元を表す。
type Source struct {
	ID              string
	URL             string
	Kind            SourceKind
	Title           string
	Enabled         bool
	IntervalMinutes int

	// 条件付きGET用のバリデータキャッシュ。最適化であり正当性には関与しない。
	ETag         string
	LastModified string

	Health        HealthState
	LastCheckedAt time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Subscription は購読者とソースの購読関係を表す。
// チャット側の購読管理が所有し、パイプラインからは読み取りと
// 到達不能時の無効化のみ行う。
type Subscription struct {
	ID           string
	SubscriberID int64
	SourceID     string
	Active       bool
	CreatedAt    time.Time
	UpdatedAt    time.Time
}
