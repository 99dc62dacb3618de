// Package security はアプリケーションのセキュリティ機能を提供する。
//
// ContentSanitizerService は取得した記事のHTMLをサニタイズし、
// Telegram Bot APIのHTMLパースモードが受理するタグのみを通過させる。
// 未知のタグが1つでも残るとTelegramはメッセージ全体を拒否するため、
// 許可リストベースのポリシーで厳密に除去する。
package security

import (
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

// ContentSanitizerService はHTMLコンテンツのサニタイズ機能のインターフェースを定義する。
// 配信メッセージの組み立て時に使用される。
type ContentSanitizerService interface {
	// Sanitize はHTMLをTelegramが受理する形にサニタイズする。
	// 許可タグ（b, strong, i, em, u, s, a, code, pre, blockquote）のみを通過させ、
	// script, img, iframe等のタグおよび全てのon*イベント属性を除去する。
	// aタグのhrefはhttp/httpsスキームのみ許可される。
	// 空文字列の入力には空文字列を返す。
	// 同一入力に対して常に同一出力を返す（冪等）。
	Sanitize(rawHTML string) string

	// StripTags は全てのタグを除去してプレーンテキストを返す。
	// タイトルなど、タグを一切含めたくない箇所で使用する。
	StripTags(rawHTML string) string
}

// contentSanitizer はContentSanitizerServiceの実装。
// bluemondayのポリシーを保持し、スレッドセーフにサニタイズ処理を行う。
type contentSanitizer struct {
	policy *bluemonday.Policy
	strict *bluemonday.Policy
}

// NewContentSanitizer はContentSanitizerServiceの新しいインスタンスを生成する。
// 初期化時にbluemondayのカスタムポリシーを構築する。
// ポリシーの内容:
//   - 許可タグ: b, strong, i, em, u, s, a, code, pre, blockquote
//     （Telegram HTMLパースモードの対応タグ）
//   - 禁止タグ: 上記以外の全て。p, br, imgもTelegramでは不正なため除去される
//   - aタグ: href属性のみ許可、http/httpsスキームに限定
func NewContentSanitizer() *contentSanitizer {
	p := bluemonday.NewPolicy()

	p.AllowElements(
		"b", "strong", "i", "em",
		"u", "s", "code", "pre", "blockquote",
	)

	// aタグの設定:
	// - href属性を許可
	// - 相対URLは不許可（Telegramでは解決できない）
	// - target/rel等の属性はTelegramが拒否するため付与しない
	p.AllowAttrs("href").OnElements("a")
	p.AllowRelativeURLs(false)
	p.AllowURLSchemes("http", "https")

	return &contentSanitizer{
		policy: p,
		strict: bluemonday.StrictPolicy(),
	}
}

// Sanitize はHTMLをTelegramが受理する形にサニタイズする。
func (s *contentSanitizer) Sanitize(rawHTML string) string {
	return strings.TrimSpace(s.policy.Sanitize(rawHTML))
}

// StripTags は全てのタグを除去してプレーンテキストを返す。
func (s *contentSanitizer) StripTags(rawHTML string) string {
	return strings.TrimSpace(s.strict.Sanitize(rawHTML))
}
