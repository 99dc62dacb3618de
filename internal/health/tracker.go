// Package health はソース健全性の状態遷移を提供する。
//
// 状態機械: Healthy → Degraded(k) → Disabled。
// 全ての遷移はmodel.HealthStateへの純粋な適用関数として表現され、
// 時刻を引数で受け取るためテストで時間をシミュレートできる。
// HealthStateを変更するのはこのパッケージのみ。
package health

import (
	"math/rand"
	"time"

	"github.com/hitoshi/feedbot/internal/model"
)

// Policy はバックオフと無効化の設定を保持する。
type Policy struct {
	// BackoffBase は初回失敗時のバックオフ遅延。
	BackoffBase time.Duration
	// BackoffCap はバックオフ遅延の上限。
	BackoffCap time.Duration
	// DisableThreshold は無効化までの連続失敗回数。
	DisableThreshold int
	// RateLimitedFloor は取得元レート制限時に強制される最小遅延。
	// 現在の失敗回数によるバックオフがこれより短い場合に引き上げられる。
	RateLimitedFloor time.Duration
}

// CalculateBackoff は連続失敗回数kに対する遅延 base * 2^(k-1) を返す。
// BackoffCapで頭打ちになる。k <= 0の場合はBackoffBaseを返す。
func (p Policy) CalculateBackoff(failures int) time.Duration {
	delay := p.BackoffBase
	for i := 1; i < failures; i++ {
		delay *= 2
		if delay >= p.BackoffCap {
			return p.BackoffCap
		}
	}
	if delay > p.BackoffCap {
		return p.BackoffCap
	}
	return delay
}

// ApplySuccess はチェック成功を記録する。
// 連続失敗回数を0にリセットしてHealthyに戻し、
// 次回チェックを now + interval に設定する。
func (p Policy) ApplySuccess(h *model.HealthState, now time.Time, interval time.Duration) {
	h.Status = model.HealthStatusHealthy
	h.ConsecutiveFailures = 0
	h.LastErrorKind = ""
	h.LastErrorMessage = ""
	h.NextCheckAt = now.Add(interval)
}

// ApplyFailure はチェック失敗を記録し、次回チェック時刻と状態を決定する。
//   - permanent_not_found: Degradedを経ずに即時Disabled
//     （消失が確定したリソースの再試行はワーカー予算の浪費）
//   - origin_rate_limited: バックオフにRateLimitedFloorの下限を適用
//   - 連続失敗回数が閾値に達したらDisabled
//
// バックオフには同期的な再試行の集中を避けるため最大10%のジッタが加わる。
func (p Policy) ApplyFailure(h *model.HealthState, now time.Time, kind model.ErrorKind, message string) {
	h.LastErrorKind = kind
	h.LastErrorMessage = message

	if kind == model.ErrKindPermanentNotFound {
		h.Status = model.HealthStatusDisabled
		h.ConsecutiveFailures++
		return
	}

	h.ConsecutiveFailures++
	k := h.ConsecutiveFailures

	delay := p.CalculateBackoff(k)
	if kind == model.ErrKindOriginRateLimited && delay < p.RateLimitedFloor {
		delay = p.RateLimitedFloor
	}
	h.NextCheckAt = now.Add(delay + jitter(delay))

	if k >= p.DisableThreshold {
		h.Status = model.HealthStatusDisabled
		return
	}
	h.Status = model.HealthStatusDegraded
}

// Resume はオペレーター操作によるDisabledからの復帰を記録する。
// 失敗回数をリセットしてHealthyに戻し、即時チェック対象にする。
// Disabledからの復帰パスはこの操作のみ。
func (p Policy) Resume(h *model.HealthState, now time.Time) {
	h.Status = model.HealthStatusHealthy
	h.ConsecutiveFailures = 0
	h.LastErrorKind = ""
	h.LastErrorMessage = ""
	h.NextCheckAt = now
}

// jitter は遅延の最大10%の乱数を返す。
func jitter(delay time.Duration) time.Duration {
	if delay <= 0 {
		return 0
	}
	max := int64(delay / 10)
	if max <= 0 {
		return 0
	}
	return time.Duration(rand.Int63n(max))
}
