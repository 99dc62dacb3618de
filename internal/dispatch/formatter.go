// Package dispatch は新着アイテムの整形と購読者へのファンアウト配信を提供する。
package dispatch

import (
	"fmt"
	"html"
	"net/url"
	"strings"

	"github.com/hitoshi/feedbot/internal/model"
)

// Sanitizer はHTMLサニタイズのインターフェース。
// security.ContentSanitizerServiceを抽象化してテスタビリティを向上させる。
type Sanitizer interface {
	Sanitize(rawHTML string) string
	StripTags(rawHTML string) string
}

// Formatter はアイテムをTelegram向けHTMLメッセージに整形する。
type Formatter struct {
	sanitizer Sanitizer
	maxLength int
}

// NewFormatter はFormatterの新しいインスタンスを生成する。
func NewFormatter(sanitizer Sanitizer, maxLength int) *Formatter {
	return &Formatter{sanitizer: sanitizer, maxLength: maxLength}
}

// Format はアイテムを整形済みHTMLメッセージに変換する。
// 種別絵文字 + 太字タイトル + 本文 + Read moreリンク + 公開日時の構成。
// 最大長を超える場合は本文をプレーンテキスト化して切り詰める
// （HTMLタグの途中で切るとTelegramがメッセージ全体を拒否するため）。
func (f *Formatter) Format(source *model.Source, item model.Item) string {
	title := f.sanitizer.StripTags(item.Title)
	if title == "" {
		title = item.Link
	}

	body := f.sanitizer.Sanitize(item.Summary)

	msg := f.compose(source, item, title, body)
	if utf8Len(msg) <= f.maxLength {
		return msg
	}

	// 超過分は本文で吸収する。固定部（タイトル・リンク・日時）の長さを
	// 本文なしで測り、残りをプレーンテキスト本文に割り当てる。
	// -2 は本文を囲む改行の分
	fixed := utf8Len(f.compose(source, item, title, "")) + 2
	budget := f.maxLength - fixed
	if budget < 0 {
		budget = 0
	}
	plain := truncateRunes(f.sanitizer.StripTags(item.Summary), budget)
	return f.compose(source, item, title, plain)
}

// compose はメッセージの各部を組み立てる。
func (f *Formatter) compose(source *model.Source, item model.Item, title, body string) string {
	var b strings.Builder

	b.WriteString(kindEmoji(source))
	b.WriteString(" <b>")
	b.WriteString(html.EscapeString(title))
	b.WriteString("</b>\n")

	if body != "" {
		b.WriteString("\n")
		b.WriteString(body)
		b.WriteString("\n")
	}

	if item.Link != "" {
		b.WriteString(fmt.Sprintf("\n🔗 <a href=\"%s\">Read more</a>\n", html.EscapeString(item.Link)))
	}

	if item.PublishedAt != nil {
		b.WriteString(fmt.Sprintf("⏰ %s\n", item.PublishedAt.UTC().Format("2006-01-02 15:04 UTC")))
	}

	return b.String()
}

// kindEmoji はソース種別に対応する絵文字を返す。
// プロキシソースはホスト名からプラットフォームを判別する。
func kindEmoji(source *model.Source) string {
	switch source.Kind {
	case model.SourceKindFeed:
		return "📰"
	case model.SourceKindPage:
		return "🌐"
	case model.SourceKindProxy:
		return proxyEmoji(source.URL)
	default:
		return "📄"
	}
}

// proxyEmoji はプロキシソースのURLからプラットフォーム絵文字を返す。
func proxyEmoji(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "📄"
	}
	host := strings.ToLower(strings.TrimPrefix(u.Hostname(), "www."))

	switch {
	case strings.Contains(host, "youtube") || host == "youtu.be":
		return "📺"
	case strings.Contains(host, "reddit"):
		return "🔴"
	case host == "twitter.com" || host == "x.com":
		return "🐦"
	case strings.Contains(host, "facebook"):
		return "📘"
	case strings.Contains(host, "instagram"):
		return "📸"
	default:
		return "📄"
	}
}

// utf8Len は文字数（rune数）を返す。Telegramの長さ制限は文字数基準。
func utf8Len(s string) int {
	return len([]rune(s))
}

// truncateRunes はsを最大n文字に切り詰める。切り詰めた場合は末尾に…を付ける。
func truncateRunes(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	if n <= 1 {
		return ""
	}
	return string(runes[:n-1]) + "…"
}
