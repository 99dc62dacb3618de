package adapter

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/hitoshi/feedbot/internal/model"
)

// ProxyAdapter はプラットフォーム固有URLを実フィードURLに解決し、
// フィードアダプタに委譲する。
// YouTube・Reddit・Twitterは公開RSSフィードに変換できる。
// FacebookとInstagramは公式API以外でのフィード提供がないため、
// 恒久的な取得不能として扱う。
type ProxyAdapter struct {
	delegate Adapter
}

// NewProxyAdapter はProxyAdapterの新しいインスタンスを生成する。
// delegateには解決後のフィードURLを処理するアダプタ（通常はFeedAdapter）を渡す。
func NewProxyAdapter(delegate Adapter) *ProxyAdapter {
	return &ProxyAdapter{delegate: delegate}
}

// Fetch はソースURLをフィードURLに解決してからdelegateに委譲する。
// 解決後のURLでの条件付きGETバリデータはソースのものをそのまま使う。
func (a *ProxyAdapter) Fetch(ctx context.Context, source *model.Source) (*Result, error) {
	feedURL, err := ResolveProxyURL(source.URL)
	if err != nil {
		return nil, err
	}

	resolved := *source
	resolved.URL = feedURL
	return a.delegate.Fetch(ctx, &resolved)
}

// ResolveProxyURL はプラットフォームURLを対応するRSSフィードURLに変換する。
//   - YouTube: /channel/<id> → feeds/videos.xml?channel_id=<id>
//   - Reddit: サブレディットURL + .rss
//   - Twitter/X: nitter.netのユーザーRSS
//   - Facebook/Instagram: permanent_not_found（公開フィードが存在しない）
func ResolveProxyURL(rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", model.NewMalformedContentError("URLのパースに失敗しました", err)
	}

	host := strings.ToLower(strings.TrimPrefix(u.Hostname(), "www."))

	switch host {
	case "youtube.com", "m.youtube.com", "youtu.be":
		return resolveYouTubeURL(u)

	case "reddit.com", "old.reddit.com":
		// Redditは任意のリスティングURLのパス末尾に.rssを付けるとフィードになる。
		// クエリ文字列（?sort=new等）を壊さないようパスに対して付加する。
		if strings.HasSuffix(u.Path, "/") {
			u.Path += ".rss"
		} else {
			u.Path += "/.rss"
		}
		return u.String(), nil

	case "twitter.com", "x.com":
		username := strings.TrimPrefix(strings.Trim(u.Path, "/"), "@")
		if username == "" || strings.Contains(username, "/") {
			return "", model.NewMalformedContentError(
				fmt.Sprintf("TwitterのユーザーURLではありません: %s", rawURL), nil)
		}
		return fmt.Sprintf("https://nitter.net/%s/rss", username), nil

	case "facebook.com", "instagram.com":
		return "", model.NewPermanentNotFoundError(
			fmt.Sprintf("%s は公開フィードを提供していません", host))

	default:
		return "", model.NewMalformedContentError(
			fmt.Sprintf("フィードURLに解決できないホストです: %s", host), nil)
	}
}

// resolveYouTubeURL はYouTubeチャンネルURLをRSSフィードURLに変換する。
// チャンネルIDを静的に特定できるのは /channel/<id> 形式のみ。
// カスタムURL（/c/, /@handle）の解決にはページフェッチが必要なため対応しない。
func resolveYouTubeURL(u *url.URL) (string, error) {
	path := strings.Trim(u.Path, "/")

	if strings.HasPrefix(path, "channel/") {
		channelID := strings.SplitN(strings.TrimPrefix(path, "channel/"), "/", 2)[0]
		if channelID != "" {
			return "https://www.youtube.com/feeds/videos.xml?channel_id=" + channelID, nil
		}
	}

	if strings.HasPrefix(path, "user/") {
		username := strings.SplitN(strings.TrimPrefix(path, "user/"), "/", 2)[0]
		if username != "" {
			return "https://www.youtube.com/feeds/videos.xml?user=" + username, nil
		}
	}

	if listID := u.Query().Get("list"); listID != "" {
		return "https://www.youtube.com/feeds/videos.xml?playlist_id=" + listID, nil
	}

	return "", model.NewMalformedContentError(
		fmt.Sprintf("YouTubeのチャンネルIDを特定できません: %s", u.String()), nil)
}
