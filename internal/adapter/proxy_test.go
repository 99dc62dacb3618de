package adapter

import (
	"context"
	"testing"

	"github.com/hitoshi/feedbot/internal/model"
)

func TestResolveProxyURL(t *testing.T) {
	tests := []struct {
		name     string
		url      string
		want     string
		wantKind model.ErrorKind
	}{
		{
			name: "YouTubeチャンネルURL",
			url:  "https://www.youtube.com/channel/UCxxxxxxxxxxxxx",
			want: "https://www.youtube.com/feeds/videos.xml?channel_id=UCxxxxxxxxxxxxx",
		},
		{
			name: "YouTubeユーザーURL",
			url:  "https://www.youtube.com/user/example",
			want: "https://www.youtube.com/feeds/videos.xml?user=example",
		},
		{
			name: "YouTubeプレイリストURL",
			url:  "https://www.youtube.com/playlist?list=PLxxxx",
			want: "https://www.youtube.com/feeds/videos.xml?playlist_id=PLxxxx",
		},
		{
			name:     "YouTubeハンドルURLは解決できない",
			url:      "https://www.youtube.com/@somehandle",
			wantKind: model.ErrKindMalformedContent,
		},
		{
			name: "サブレディットURL末尾スラッシュあり",
			url:  "https://reddit.com/r/technology/",
			want: "https://reddit.com/r/technology/.rss",
		},
		{
			name: "サブレディットURL末尾スラッシュなし",
			url:  "https://reddit.com/r/technology",
			want: "https://reddit.com/r/technology/.rss",
		},
		{
			name: "サブレディットURLクエリ付き",
			url:  "https://reddit.com/r/golang/?sort=new",
			want: "https://reddit.com/r/golang/.rss?sort=new",
		},
		{
			name: "TwitterユーザーURL",
			url:  "https://twitter.com/someuser",
			want: "https://nitter.net/someuser/rss",
		},
		{
			name: "X.comユーザーURL",
			url:  "https://x.com/@someuser",
			want: "https://nitter.net/someuser/rss",
		},
		{
			name:     "Facebookは恒久エラー",
			url:      "https://www.facebook.com/somepage",
			wantKind: model.ErrKindPermanentNotFound,
		},
		{
			name:     "Instagramは恒久エラー",
			url:      "https://www.instagram.com/someuser",
			wantKind: model.ErrKindPermanentNotFound,
		},
		{
			name:     "未知のホストは解決できない",
			url:      "https://example.com/whatever",
			wantKind: model.ErrKindMalformedContent,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ResolveProxyURL(tt.url)
			if tt.wantKind != "" {
				if err == nil {
					t.Fatalf("ResolveProxyURL(%q) error = nil, want error", tt.url)
				}
				if kind := model.ClassifyCheckError(err); kind != tt.wantKind {
					t.Errorf("ClassifyCheckError() = %v, want %v", kind, tt.wantKind)
				}
				return
			}
			if err != nil {
				t.Fatalf("ResolveProxyURL(%q) error = %v", tt.url, err)
			}
			if got != tt.want {
				t.Errorf("ResolveProxyURL(%q) = %q, want %q", tt.url, got, tt.want)
			}
		})
	}
}

// captureAdapter は委譲先に渡されたソースを記録するモック。
type captureAdapter struct {
	gotURL string
	result *Result
}

func (c *captureAdapter) Fetch(ctx context.Context, source *model.Source) (*Result, error) {
	c.gotURL = source.URL
	return c.result, nil
}

func TestProxyAdapter_Fetch_DelegatesWithResolvedURL(t *testing.T) {
	delegate := &captureAdapter{result: &Result{Title: "resolved"}}
	a := NewProxyAdapter(delegate)

	source := &model.Source{
		ID:   "src-1",
		URL:  "https://www.youtube.com/channel/UCabc",
		Kind: model.SourceKindProxy,
	}

	result, err := a.Fetch(context.Background(), source)
	if err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}

	wantURL := "https://www.youtube.com/feeds/videos.xml?channel_id=UCabc"
	if delegate.gotURL != wantURL {
		t.Errorf("delegate URL = %q, want %q", delegate.gotURL, wantURL)
	}
	if result.Title != "resolved" {
		t.Errorf("Title = %q, want %q", result.Title, "resolved")
	}

	// 元のソースは変更されない
	if source.URL != "https://www.youtube.com/channel/UCabc" {
		t.Errorf("source.URL was mutated: %q", source.URL)
	}
}

func TestProxyAdapter_Fetch_UnresolvableURL_DoesNotDelegate(t *testing.T) {
	delegate := &captureAdapter{result: &Result{}}
	a := NewProxyAdapter(delegate)

	source := &model.Source{
		ID:   "src-1",
		URL:  "https://www.facebook.com/somepage",
		Kind: model.SourceKindProxy,
	}

	_, err := a.Fetch(context.Background(), source)
	if err == nil {
		t.Fatal("Fetch() error = nil, want error")
	}
	if kind := model.ClassifyCheckError(err); kind != model.ErrKindPermanentNotFound {
		t.Errorf("ClassifyCheckError() = %v, want %v", kind, model.ErrKindPermanentNotFound)
	}
	if delegate.gotURL != "" {
		t.Errorf("delegate was called with %q, want no call", delegate.gotURL)
	}
}
