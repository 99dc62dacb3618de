// Package model はドメインモデルを定義する。
package model

import "time"

// Item はアダプタが正規化した1件のコンテンツを表す。
// アダプタ呼び出しごとに生成される一時的な値オブジェクトであり、
// フィンガープリント以外は永続化されない。
type Item struct {
	// Fingerprint は配信済み判定に使う安定識別子。
	// 同一コンテンツの再フェッチ・プロセス再起動をまたいで不変であること。
	Fingerprint string
	SourceID    string
	Title       string
	Summary     string // 未サニタイズのHTMLまたはテキスト
	Link        string
	MediaURL    string // 任意。画像などの添付候補
	PublishedAt *time.Time
}
