package adapter

import (
	"bytes"
	"context"
	"strings"

	readability "github.com/mackee/go-readability"
	"golang.org/x/net/html"

	"github.com/hitoshi/feedbot/internal/fingerprint"
	"github.com/hitoshi/feedbot/internal/model"
)

// pageAccept はページフェッチ時のAcceptヘッダ。
const pageAccept = "text/html, application/xhtml+xml, */*"

// PageAdapter はフィードを持たない汎用Webページをフェッチする。
// readabilityで本文を抽出し、ページのスナップショットを1件のアイテムとして返す。
// フィンガープリントはURLとタイトルから導出されるため、
// タイトルが変わらない限り再配信されない。
type PageAdapter struct {
	client *Client
}

// NewPageAdapter はPageAdapterの新しいインスタンスを生成する。
func NewPageAdapter(client *Client) *PageAdapter {
	return &PageAdapter{client: client}
}

// Fetch はページをフェッチし、スナップショットアイテムを返す。
func (a *PageAdapter) Fetch(ctx context.Context, source *model.Source) (*Result, error) {
	resp, err := a.client.Get(ctx, source.URL, source.ETag, source.LastModified, pageAccept)
	if err != nil {
		return nil, err
	}
	if resp.NotModified {
		return &Result{NotModified: true}, nil
	}

	title, summary := extractPageContent(resp.Body)
	if title == "" {
		return nil, model.NewMalformedContentError("ページからタイトルを抽出できませんでした", nil)
	}

	item := model.Item{
		SourceID: source.ID,
		Title:    title,
		Link:     source.URL,
		Summary:  summary,
	}
	item.Fingerprint = fingerprint.Derive("", source.URL, title, nil)

	return &Result{
		Items:        []model.Item{item},
		Title:        title,
		ETag:         resp.ETag,
		LastModified: resp.LastModified,
	}, nil
}

// extractPageContent はHTMLからタイトルと本文HTMLを抽出する。
// readabilityによる抽出を試み、失敗した場合はtitleタグのマイニングに
// フォールバックする（本文は空になる）。
func extractPageContent(body []byte) (title, summary string) {
	article, err := readability.Extract(string(body), readability.DefaultOptions())
	if err == nil {
		title = strings.TrimSpace(article.Title)
		if article.Root != nil {
			summary = readability.ToHTML(article.Root)
		}
	}

	if title == "" {
		title = extractTitleTag(body)
	}
	return title, summary
}

// extractTitleTag はHTMLのtitleタグからタイトルを取り出す。
func extractTitleTag(body []byte) string {
	tokenizer := html.NewTokenizer(bytes.NewReader(body))
	inTitle := false

	for {
		tt := tokenizer.Next()
		switch tt {
		case html.ErrorToken:
			return ""

		case html.StartTagToken:
			tn, _ := tokenizer.TagName()
			if string(tn) == "title" {
				inTitle = true
			}
			if string(tn) == "body" {
				// titleはheadにしか現れない
				return ""
			}

		case html.TextToken:
			if inTitle {
				return strings.TrimSpace(string(tokenizer.Text()))
			}

		case html.EndTagToken:
			tn, _ := tokenizer.TagName()
			if string(tn) == "title" {
				inTitle = false
			}
		}
	}
}
