package security

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestSSRFGuard_ImplementsService(t *testing.T) {
	var _ SSRFGuardService = NewSSRFGuard()
}

func TestSSRFGuard_NewSafeClient_AppliesTimeout(t *testing.T) {
	guard := NewSSRFGuard()
	timeout := 5 * time.Second
	client := guard.NewSafeClient(timeout, 5*1024*1024)

	if client == nil {
		t.Fatal("NewSafeClient() returned nil")
	}
	if client.Timeout != timeout {
		t.Errorf("Timeout = %v, want %v", client.Timeout, timeout)
	}
}

// ダイヤラレベルの検証が効いているかはTransportの差し替えで確認する。
func TestSSRFGuard_NewSafeClient_ReplacesTransport(t *testing.T) {
	guard := NewSSRFGuard()
	client := guard.NewSafeClient(5*time.Second, 5*1024*1024)

	if client.Transport == nil {
		t.Fatal("Transport = nil, want custom transport")
	}
	if client.Transport == http.DefaultTransport {
		t.Fatal("Transport = http.DefaultTransport, want custom transport")
	}
}

func TestSSRFGuard_NewSafeClient_BlocksLoopbackFetch(t *testing.T) {
	// httptestサーバーは127.0.0.1で待ち受けるため、接続は拒否されるはず
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer ts.Close()

	guard := NewSSRFGuard()
	client := guard.NewSafeClient(5*time.Second, 5*1024*1024)

	if _, err := client.Get(ts.URL); err == nil {
		t.Fatal("Get(loopback) error = nil, want blocked")
	}
}

func TestSSRFGuard_ValidateURL_AllowsPublicFeedURLs(t *testing.T) {
	guard := NewSSRFGuard()

	urls := []string{
		"https://example.com",
		"https://blog.example.com/index.xml",
		"http://news.example.org/rss",
		"https://www.youtube.com/feeds/videos.xml?channel_id=UCabc",
	}

	for _, u := range urls {
		t.Run(u, func(t *testing.T) {
			if err := guard.ValidateURL(u); err != nil {
				t.Errorf("ValidateURL(%q) error = %v, want nil", u, err)
			}
		})
	}
}

func TestSSRFGuard_ValidateURL_BlocksInternalAddresses(t *testing.T) {
	guard := NewSSRFGuard()

	tests := []struct {
		name string
		url  string
	}{
		{"プライベート10系", "http://10.0.0.1/rss"},
		{"プライベート172系", "http://172.16.0.1/rss"},
		{"プライベート192系", "http://192.168.1.100/rss"},
		{"ループバック", "http://127.0.0.1/rss"},
		{"localhost", "http://localhost/rss"},
		{"リンクローカル", "http://169.254.0.1/rss"},
		{"クラウドメタデータ", "http://169.254.169.254/latest/meta-data/"},
		{"ゼロアドレス", "http://0.0.0.0/rss"},
		{"IPv6ループバック", "http://[::1]/rss"},
		{"IPv6リンクローカル", "http://[fe80::1]/rss"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := guard.ValidateURL(tt.url); err == nil {
				t.Errorf("ValidateURL(%q) error = nil, want blocked", tt.url)
			}
		})
	}
}

func TestSSRFGuard_ValidateURL_RejectsMalformedInput(t *testing.T) {
	guard := NewSSRFGuard()

	tests := []struct {
		name string
		url  string
	}{
		{"空文字列", ""},
		{"スキームなし", "not-a-url"},
		{"FTP", "ftp://example.com/feed"},
		{"file", "file:///etc/passwd"},
		{"gopher", "gopher://example.com"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := guard.ValidateURL(tt.url); err == nil {
				t.Errorf("ValidateURL(%q) error = nil, want error", tt.url)
			}
		})
	}
}
