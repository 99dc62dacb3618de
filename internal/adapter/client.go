package adapter

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/hitoshi/feedbot/internal/model"
)

// SSRFValidator はSSRF検証のインターフェース。
// security.SSRFGuardServiceを抽象化してテスタビリティを向上させる。
type SSRFValidator interface {
	ValidateURL(rawURL string) error
	NewSafeClient(timeout time.Duration, maxResponseSize int64) *http.Client
}

// Client は全アダプタが共有するHTTPフェッチ層。
// SSRF検証、条件付きGET、サイズ制限付きボディ読み込み、
// HTTPステータスのエラー分類を行う。
type Client struct {
	ssrfGuard   SSRFValidator
	userAgent   string
	timeout     time.Duration
	maxBodySize int64
}

// NewClient はClientの新しいインスタンスを生成する。
func NewClient(ssrfGuard SSRFValidator, userAgent string, timeout time.Duration, maxBodySize int64) *Client {
	return &Client{
		ssrfGuard:   ssrfGuard,
		userAgent:   userAgent,
		timeout:     timeout,
		maxBodySize: maxBodySize,
	}
}

// fetchResponse はGetの結果を表す。
type fetchResponse struct {
	Body         []byte
	ETag         string
	LastModified string
	NotModified  bool
	ContentType  string
}

// Get はURLをフェッチし、ボディとバリデータを返す。
// etag/lastModifiedが非空の場合は条件付きGETヘッダを付与する。
// 失敗はmodel.CheckErrorとして分類される:
//   - SSRF検証失敗・URL不正: permanent_not_found
//   - ネットワーク障害・5xx・読み取り失敗: transient_fetch
//   - 404/410/401/403: permanent_not_found
//   - 429: origin_rate_limited
func (c *Client) Get(ctx context.Context, rawURL, etag, lastModified, accept string) (*fetchResponse, error) {
	if err := c.ssrfGuard.ValidateURL(rawURL); err != nil {
		return nil, model.NewPermanentNotFoundError(fmt.Sprintf("URL検証に失敗しました: %v", err))
	}

	client := c.ssrfGuard.NewSafeClient(c.timeout, c.maxBodySize)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, model.NewPermanentNotFoundError(fmt.Sprintf("リクエスト作成に失敗しました: %v", err))
	}

	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Accept", accept)
	if etag != "" {
		req.Header.Set("If-None-Match", etag)
	}
	if lastModified != "" {
		req.Header.Set("If-Modified-Since", lastModified)
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, model.NewTransientFetchError("HTTPリクエストに失敗しました", err)
	}
	defer resp.Body.Close()

	if err := classifyStatus(resp.StatusCode); err != nil {
		return nil, err
	}

	if resp.StatusCode == http.StatusNotModified {
		return &fetchResponse{NotModified: true}, nil
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, c.maxBodySize))
	if err != nil {
		return nil, model.NewTransientFetchError("レスポンスボディの読み取りに失敗しました", err)
	}

	return &fetchResponse{
		Body:         body,
		ETag:         resp.Header.Get("ETag"),
		LastModified: resp.Header.Get("Last-Modified"),
		ContentType:  resp.Header.Get("Content-Type"),
	}, nil
}

// classifyStatus はHTTPステータスコードをチェックエラーに分類する。
// 200と304はnilを返す。
func classifyStatus(statusCode int) error {
	switch {
	case statusCode == http.StatusOK:
		return nil
	case statusCode == http.StatusNotModified:
		return nil
	case statusCode == http.StatusNotFound || statusCode == http.StatusGone:
		return model.NewPermanentNotFoundError(fmt.Sprintf("コンテンツが存在しません (HTTP %d)", statusCode))
	case statusCode == http.StatusUnauthorized || statusCode == http.StatusForbidden:
		return model.NewPermanentNotFoundError(fmt.Sprintf("アクセスが拒否されました (HTTP %d)", statusCode))
	case statusCode == http.StatusTooManyRequests:
		return model.NewOriginRateLimitedError("取得元のレート制限を受けました (HTTP 429)")
	case statusCode >= 500:
		return model.NewTransientFetchError(fmt.Sprintf("サーバエラー (HTTP %d)", statusCode), nil)
	default:
		return model.NewTransientFetchError(fmt.Sprintf("予期しないHTTPステータス: %d", statusCode), nil)
	}
}
