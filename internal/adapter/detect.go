package adapter

import (
	"bytes"
	"context"
	"mime"
	"net/url"
	"strings"

	"golang.org/x/net/html"

	"github.com/hitoshi/feedbot/internal/model"
)

// proxyHosts はプロキシアダプタで処理するプラットフォームのホスト名。
var proxyHosts = map[string]bool{
	"youtube.com":    true,
	"m.youtube.com":  true,
	"youtu.be":       true,
	"reddit.com":     true,
	"old.reddit.com": true,
	"twitter.com":    true,
	"x.com":          true,
	"facebook.com":   true,
	"instagram.com":  true,
}

// Detector はソース登録時の種別判定を行う。
// プラットフォームURLは静的に判定し、それ以外はフェッチして
// Content-Typeとボディからフィードかページかを判定する。
type Detector struct {
	client *Client
}

// NewDetector はDetectorの新しいインスタンスを生成する。
func NewDetector(client *Client) *Detector {
	return &Detector{client: client}
}

// Detection は種別判定の結果を表す。
type Detection struct {
	Kind model.SourceKind
	// URL は判定後のソースURL。HTMLページからフィードリンクが
	// 検出された場合は入力URLではなくフィードURLになる。
	URL string
}

// Detect は入力URLのソース種別を判定する。
//  1. プラットフォームホストは静的にproxyと判定する
//  2. URLをフェッチし、Content-Typeとボディでフィード直接判定を行う
//  3. HTMLの場合はheadタグのalternateリンクからフィードを探し、
//     見つかればそのフィードURLでfeedと判定する
//  4. フィードが見つからないHTMLはpageと判定する
func (d *Detector) Detect(ctx context.Context, inputURL string) (*Detection, error) {
	u, err := url.Parse(inputURL)
	if err != nil {
		return nil, model.NewMalformedContentError("URLのパースに失敗しました", err)
	}

	host := strings.ToLower(strings.TrimPrefix(u.Hostname(), "www."))
	if proxyHosts[host] {
		return &Detection{Kind: model.SourceKindProxy, URL: inputURL}, nil
	}

	resp, err := d.client.Get(ctx, inputURL, "", "", feedAccept+", text/html")
	if err != nil {
		return nil, err
	}

	if isDirectFeed(resp.ContentType, resp.Body) {
		return &Detection{Kind: model.SourceKindFeed, URL: inputURL}, nil
	}

	mediaType, _, _ := mime.ParseMediaType(resp.ContentType)
	if !strings.Contains(strings.ToLower(mediaType), "html") {
		return nil, model.NewMalformedContentError(
			"フィードでもHTMLでもないコンテンツです: "+mediaType, nil)
	}

	if feedURL := findFeedLink(resp.Body, inputURL); feedURL != "" {
		return &Detection{Kind: model.SourceKindFeed, URL: feedURL}, nil
	}

	return &Detection{Kind: model.SourceKindPage, URL: inputURL}, nil
}

// feedContentTypes はフィードとして認識するContent-Typeのリスト。
var feedContentTypes = []string{
	"application/rss+xml",
	"application/atom+xml",
}

// xmlContentTypes はXMLとして認識するContent-Type（ボディ解析が必要）。
var xmlContentTypes = []string{
	"text/xml",
	"application/xml",
}

// isDirectFeed はContent-Typeとボディからレスポンスが
// RSS/Atomフィードかどうかを判定する。
func isDirectFeed(contentType string, body []byte) bool {
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		mediaType = strings.TrimSpace(strings.Split(contentType, ";")[0])
	}
	mediaType = strings.ToLower(mediaType)

	for _, feedCT := range feedContentTypes {
		if mediaType == feedCT {
			return true
		}
	}

	isXML := false
	for _, xmlCT := range xmlContentTypes {
		if mediaType == xmlCT {
			isXML = true
			break
		}
	}
	if !isXML || len(body) == 0 {
		return false
	}

	return isRSSOrAtomXML(body)
}

// isRSSOrAtomXML はXMLボディの先頭部分を解析してRSS/Atomフィードかを判定する。
func isRSSOrAtomXML(body []byte) bool {
	// 先頭4KBを検査（XMLプロローグ + ルート要素が含まれるのに十分）
	checkSize := 4096
	if len(body) < checkSize {
		checkSize = len(body)
	}
	prefix := strings.ToLower(string(body[:checkSize]))

	if strings.Contains(prefix, "<rss") {
		return true
	}
	if strings.Contains(prefix, "<rdf:rdf") {
		return true
	}
	if strings.Contains(prefix, "<feed") && strings.Contains(prefix, "http://www.w3.org/2005/atom") {
		return true
	}
	return false
}

// findFeedLink はHTMLのheadタグからRSS/Atomのalternateリンクを探し、
// 最初に見つかった同一ホストのフィードURL（なければ先頭の候補）を返す。
// 相対URLはbaseURLを基準に絶対URLに解決される。
func findFeedLink(htmlBody []byte, baseURL string) string {
	baseU, err := url.Parse(baseURL)
	if err != nil {
		return ""
	}
	baseHost := strings.ToLower(baseU.Hostname())

	var candidates []string
	tokenizer := html.NewTokenizer(bytes.NewReader(htmlBody))
	inHead := false

loop:
	for {
		tt := tokenizer.Next()
		switch tt {
		case html.ErrorToken:
			break loop

		case html.StartTagToken, html.SelfClosingTagToken:
			tn, hasAttr := tokenizer.TagName()
			tagName := string(tn)

			if tagName == "head" {
				inHead = true
				continue
			}
			if tagName == "body" {
				break loop
			}
			if !inHead || tagName != "link" || !hasAttr {
				continue
			}

			var rel, linkType, href string
			for {
				key, val, more := tokenizer.TagAttr()
				switch strings.ToLower(string(key)) {
				case "rel":
					rel = strings.ToLower(string(val))
				case "type":
					linkType = strings.ToLower(string(val))
				case "href":
					href = string(val)
				}
				if !more {
					break
				}
			}

			if rel != "alternate" || href == "" {
				continue
			}
			if linkType != "application/rss+xml" && linkType != "application/atom+xml" {
				continue
			}

			ref, err := url.Parse(href)
			if err != nil {
				continue
			}
			resolved := baseU.ResolveReference(ref)

			// 同一ホストの候補を即採用
			if strings.ToLower(resolved.Hostname()) == baseHost {
				return resolved.String()
			}
			candidates = append(candidates, resolved.String())

		case html.EndTagToken:
			tn, _ := tokenizer.TagName()
			if string(tn) == "head" {
				break loop
			}
		}
	}

	if len(candidates) > 0 {
		return candidates[0]
	}
	return ""
}
