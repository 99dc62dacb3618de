// Package model はドメインモデルを定義する。
package model

import (
	"errors"
	"fmt"
)

// ErrorKind はパイプラインの失敗分類を表す。
// HealthTrackerのバックオフ判断とDispatcherの再試行判断に使われる。
type ErrorKind string

const (
	// ErrKindTransientFetch は一時的なネットワーク障害。バックオフ後に再試行される。
	ErrKindTransientFetch ErrorKind = "transient_fetch"
	// ErrKindMalformedContent はパース不能なコンテンツ。失敗としてカウントするが即停止しない。
	ErrKindMalformedContent ErrorKind = "malformed_content"
	// ErrKindPermanentNotFound は恒久的な消失（404/410等）。ソースを即時無効化する。
	ErrKindPermanentNotFound ErrorKind = "permanent_not_found"
	// ErrKindOriginRateLimited は取得元によるレート制限。長めのバックオフ下限を強制する。
	ErrKindOriginRateLimited ErrorKind = "origin_rate_limited"
	// ErrKindTransientSend は配信の一時的失敗。短い再試行の対象。
	ErrKindTransientSend ErrorKind = "transient_send"
	// ErrKindPermanentUnreachable は購読者への恒久的な到達不能（ブロック等）。
	// 該当購読を無効化する。
	ErrKindPermanentUnreachable ErrorKind = "permanent_unreachable"
)

// CheckError はソースチェック（フェッチ・パース）の失敗を表す。
type CheckError struct {
	Kind    ErrorKind
	Message string
	Err     error
}

// Error はerrorインターフェースを実装する。
func (e *CheckError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Kind, e.Message)
}

// Unwrap はラップされた原因エラーを返す。
func (e *CheckError) Unwrap() error { return e.Err }

// NewTransientFetchError は一時的なフェッチ失敗エラーを生成する。
func NewTransientFetchError(msg string, err error) *CheckError {
	return &CheckError{Kind: ErrKindTransientFetch, Message: msg, Err: err}
}

// NewMalformedContentError はコンテンツ不正エラーを生成する。
func NewMalformedContentError(msg string, err error) *CheckError {
	return &CheckError{Kind: ErrKindMalformedContent, Message: msg, Err: err}
}

// NewPermanentNotFoundError は恒久的消失エラーを生成する。
func NewPermanentNotFoundError(msg string) *CheckError {
	return &CheckError{Kind: ErrKindPermanentNotFound, Message: msg}
}

// NewOriginRateLimitedError は取得元レート制限エラーを生成する。
func NewOriginRateLimitedError(msg string) *CheckError {
	return &CheckError{Kind: ErrKindOriginRateLimited, Message: msg}
}

// SendError は購読者への配信失敗を表す。
type SendError struct {
	Kind    ErrorKind
	Message string
	Err     error
}

// Error はerrorインターフェースを実装する。
func (e *SendError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Kind, e.Message)
}

// Unwrap はラップされた原因エラーを返す。
func (e *SendError) Unwrap() error { return e.Err }

// NewTransientSendError は一時的な配信失敗エラーを生成する。
func NewTransientSendError(msg string, err error) *SendError {
	return &SendError{Kind: ErrKindTransientSend, Message: msg, Err: err}
}

// NewPermanentUnreachableError は購読者到達不能エラーを生成する。
func NewPermanentUnreachableError(msg string, err error) *SendError {
	return &SendError{Kind: ErrKindPermanentUnreachable, Message: msg, Err: err}
}

// ClassifyCheckError はエラーからErrorKindを取り出す。
// CheckErrorでない場合は一時的なフェッチ失敗として扱う
// （未知の失敗を恒久扱いして誤って無効化しないため）。
func ClassifyCheckError(err error) ErrorKind {
	var ce *CheckError
	if errors.As(err, &ce) {
		return ce.Kind
	}
	return ErrKindTransientFetch
}

// ClassifySendError はエラーからErrorKindを取り出す。
// SendErrorでない場合は一時的な配信失敗として扱う。
func ClassifySendError(err error) ErrorKind {
	var se *SendError
	if errors.As(err, &se) {
		return se.Kind
	}
	return ErrKindTransientSend
}
