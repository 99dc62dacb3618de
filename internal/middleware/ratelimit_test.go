package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"
)

// newRequestFrom は指定したクライアントIPからのリクエストを生成する。
func newRequestFrom(method, target, remoteAddr string) *http.Request {
	req := httptest.NewRequest(method, target, nil)
	req.RemoteAddr = remoteAddr
	return req
}

// --- GeneralMiddleware のテスト ---

func TestRateLimitMiddleware_AllowsWithinBurst(t *testing.T) {
	cfg := RateLimiterConfig{
		GeneralRate:       2, // 2 req/sec
		GeneralBurst:      5, // バースト5
		RegistrationRate:  1,
		RegistrationBurst: 10,
		CleanupInterval:   1 * time.Minute,
	}

	rl := NewRateLimiter(cfg)
	defer rl.Stop()

	mw := rl.GeneralMiddleware()

	handlerCallCount := 0
	handler := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		handlerCallCount++
		w.WriteHeader(http.StatusOK)
	}))

	// バースト内の5リクエストは全て通る
	for i := 0; i < 5; i++ {
		req := newRequestFrom(http.MethodGet, "/api/sources", "10.0.0.1:40000")
		w := httptest.NewRecorder()

		handler.ServeHTTP(w, req)

		if w.Result().StatusCode != http.StatusOK {
			t.Errorf("request %d: status = %d, want %d", i, w.Result().StatusCode, http.StatusOK)
		}
	}

	if handlerCallCount != 5 {
		t.Errorf("handler call count = %d, want 5", handlerCallCount)
	}
}

func TestRateLimitMiddleware_Returns429OverLimit(t *testing.T) {
	cfg := RateLimiterConfig{
		GeneralRate:       1, // 1 req/sec
		GeneralBurst:      2, // バースト2
		RegistrationRate:  1,
		RegistrationBurst: 10,
		CleanupInterval:   1 * time.Minute,
	}

	rl := NewRateLimiter(cfg)
	defer rl.Stop()

	mw := rl.GeneralMiddleware()

	handler := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	// バースト分（2回）は通る
	for i := 0; i < 2; i++ {
		req := newRequestFrom(http.MethodGet, "/api/sources", "10.0.0.2:40000")
		w := httptest.NewRecorder()

		handler.ServeHTTP(w, req)

		if w.Result().StatusCode != http.StatusOK {
			t.Errorf("request %d: status = %d, want %d", i, w.Result().StatusCode, http.StatusOK)
		}
	}

	// 3回目はレート制限に引っかかる
	req := newRequestFrom(http.MethodGet, "/api/sources", "10.0.0.2:40000")
	w := httptest.NewRecorder()

	handler.ServeHTTP(w, req)

	if w.Result().StatusCode != http.StatusTooManyRequests {
		t.Errorf("status = %d, want %d", w.Result().StatusCode, http.StatusTooManyRequests)
	}

	retryAfter := w.Result().Header.Get("Retry-After")
	if retryAfter == "" {
		t.Fatal("expected Retry-After header to be present")
	}

	// Retry-Afterは数値（秒）であること
	retrySeconds, err := strconv.Atoi(retryAfter)
	if err != nil {
		t.Errorf("Retry-After header should be a number, got %q", retryAfter)
	}
	if retrySeconds < 1 {
		t.Errorf("Retry-After = %d, should be at least 1", retrySeconds)
	}
}

func TestRateLimitMiddleware_IndependentPerClientIP(t *testing.T) {
	cfg := RateLimiterConfig{
		GeneralRate:       1, // 1 req/sec
		GeneralBurst:      1, // バースト1
		RegistrationRate:  1,
		RegistrationBurst: 10,
		CleanupInterval:   1 * time.Minute,
	}

	rl := NewRateLimiter(cfg)
	defer rl.Stop()

	mw := rl.GeneralMiddleware()

	handler := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	// クライアントAの1回目は通る
	wA := httptest.NewRecorder()
	handler.ServeHTTP(wA, newRequestFrom(http.MethodGet, "/api/sources", "10.0.0.10:40000"))

	if wA.Result().StatusCode != http.StatusOK {
		t.Errorf("client A first request: status = %d, want %d", wA.Result().StatusCode, http.StatusOK)
	}

	// クライアントAの2回目は429
	wA2 := httptest.NewRecorder()
	handler.ServeHTTP(wA2, newRequestFrom(http.MethodGet, "/api/sources", "10.0.0.10:40001"))

	if wA2.Result().StatusCode != http.StatusTooManyRequests {
		t.Errorf("client A second request: status = %d, want %d", wA2.Result().StatusCode, http.StatusTooManyRequests)
	}

	// クライアントBの1回目は通る（クライアントAのレートに影響されない）
	wB := httptest.NewRecorder()
	handler.ServeHTTP(wB, newRequestFrom(http.MethodGet, "/api/sources", "10.0.0.11:40000"))

	if wB.Result().StatusCode != http.StatusOK {
		t.Errorf("client B first request: status = %d, want %d", wB.Result().StatusCode, http.StatusOK)
	}
}

// --- RegistrationMiddleware のテスト ---

func TestRegistrationRateLimit_IndependentFromGeneralLimit(t *testing.T) {
	cfg := RateLimiterConfig{
		GeneralRate:       1,
		GeneralBurst:      1,
		RegistrationRate:  1,
		RegistrationBurst: 1,
		CleanupInterval:   1 * time.Minute,
	}

	rl := NewRateLimiter(cfg)
	defer rl.Stop()

	generalHandler := rl.GeneralMiddleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	regHandler := rl.RegistrationMiddleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	// 一般APIのバーストを消費
	w1 := httptest.NewRecorder()
	generalHandler.ServeHTTP(w1, newRequestFrom(http.MethodGet, "/api/sources", "10.0.0.20:40000"))

	// 一般の制限は使い果たした。登録の制限はまだ使える
	w2 := httptest.NewRecorder()
	regHandler.ServeHTTP(w2, newRequestFrom(http.MethodPost, "/api/sources", "10.0.0.20:40000"))

	if w2.Result().StatusCode != http.StatusOK {
		t.Errorf("registration should still be allowed: status = %d, want %d",
			w2.Result().StatusCode, http.StatusOK)
	}
}

func TestRegistrationRateLimit_Returns429OverLimit(t *testing.T) {
	cfg := RateLimiterConfig{
		GeneralRate:       100,
		GeneralBurst:      200,
		RegistrationRate:  1, // 1 req/sec
		RegistrationBurst: 1, // バースト1
		CleanupInterval:   1 * time.Minute,
	}

	rl := NewRateLimiter(cfg)
	defer rl.Stop()

	handler := rl.RegistrationMiddleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	// 1回目は通る
	w1 := httptest.NewRecorder()
	handler.ServeHTTP(w1, newRequestFrom(http.MethodPost, "/api/sources", "10.0.0.30:40000"))

	if w1.Result().StatusCode != http.StatusOK {
		t.Errorf("request 1: status = %d, want %d", w1.Result().StatusCode, http.StatusOK)
	}

	// 2回目は429
	w2 := httptest.NewRecorder()
	handler.ServeHTTP(w2, newRequestFrom(http.MethodPost, "/api/sources", "10.0.0.30:40000"))

	if w2.Result().StatusCode != http.StatusTooManyRequests {
		t.Errorf("request 2: status = %d, want %d", w2.Result().StatusCode, http.StatusTooManyRequests)
	}
}

// --- 429レスポンスフォーマットのテスト ---

func TestRateLimitMiddleware_429ResponseIsJSON(t *testing.T) {
	cfg := RateLimiterConfig{
		GeneralRate:       1,
		GeneralBurst:      1,
		RegistrationRate:  1,
		RegistrationBurst: 10,
		CleanupInterval:   1 * time.Minute,
	}

	rl := NewRateLimiter(cfg)
	defer rl.Stop()

	handler := rl.GeneralMiddleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	// バースト消費
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, newRequestFrom(http.MethodGet, "/api/sources", "10.0.0.40:40000"))

	// 429レスポンス
	w2 := httptest.NewRecorder()
	handler.ServeHTTP(w2, newRequestFrom(http.MethodGet, "/api/sources", "10.0.0.40:40000"))

	resp := w2.Result()
	if resp.StatusCode != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want %d", resp.StatusCode, http.StatusTooManyRequests)
	}

	contentType := resp.Header.Get("Content-Type")
	if contentType != "application/json" {
		t.Errorf("Content-Type = %q, want %q", contentType, "application/json")
	}

	var body map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}

	if body["code"] == "" {
		t.Error("expected 'code' field in error response")
	}
	if body["message"] == "" {
		t.Error("expected 'message' field in error response")
	}
}

// --- クリーンアップのテスト ---

func TestRateLimiter_EvictsExpiredEntries(t *testing.T) {
	cfg := RateLimiterConfig{
		GeneralRate:       2,
		GeneralBurst:      5,
		RegistrationRate:  1,
		RegistrationBurst: 10,
		CleanupInterval:   50 * time.Millisecond, // テスト用に短く
	}

	rl := NewRateLimiter(cfg)
	defer rl.Stop()

	handler := rl.GeneralMiddleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	// リクエストを発行してエントリを作成
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, newRequestFrom(http.MethodGet, "/api/sources", "10.0.0.50:40000"))

	if rl.GeneralLimiterCount() == 0 {
		t.Fatal("expected at least one limiter entry")
	}

	// TTLはCleanupIntervalの2倍（100ms）。200ms待てば削除される
	time.Sleep(200 * time.Millisecond)

	if count := rl.GeneralLimiterCount(); count != 0 {
		t.Errorf("expected 0 limiter entries after cleanup, got %d", count)
	}
}

// --- デフォルト設定値のテスト ---

func TestDefaultRateLimiterConfig(t *testing.T) {
	cfg := DefaultRateLimiterConfig()

	if cfg.GeneralRate != 2.0 { // 120/60 = 2
		t.Errorf("GeneralRate = %f, want 2.0", cfg.GeneralRate)
	}
	if cfg.GeneralBurst != 120 {
		t.Errorf("GeneralBurst = %d, want 120", cfg.GeneralBurst)
	}
	if cfg.RegistrationRate == 0 {
		t.Error("RegistrationRate should not be 0")
	}
	if cfg.RegistrationBurst != 10 {
		t.Errorf("RegistrationBurst = %d, want 10", cfg.RegistrationBurst)
	}
}
