// Package telegram はTelegram Bot APIへの配信チャネルを提供する。
package telegram

import (
	"context"
	"errors"
	"fmt"

	tele "gopkg.in/telebot.v4"

	"github.com/hitoshi/feedbot/internal/model"
)

// photoCaptionLimit はTelegramの写真キャプションの最大長。
// これを超えるメッセージはテキストのみで送信される。
const photoCaptionLimit = 1024

// Channel はtelebotを使用した配信チャネルの実装。
// 送信専用のためポーリングは開始しない。
type Channel struct {
	bot *tele.Bot
}

// NewChannel はChannelの新しいインスタンスを生成する。
// トークン検証（getMe）のためBot API呼び出しが1回発生する。
func NewChannel(token string) (*Channel, error) {
	bot, err := tele.NewBot(tele.Settings{Token: token})
	if err != nil {
		return nil, fmt.Errorf("Telegramボットの初期化に失敗しました: %w", err)
	}
	return &Channel{bot: bot}, nil
}

// Send は購読者にHTML形式のメッセージを送信する。
// mediaURLが指定されキャプション長に収まる場合は写真付きで送信を試み、
// 失敗した場合はテキストのみで再送する（添付はベストエフォート）。
// 失敗はmodel.SendErrorとして分類される。
func (c *Channel) Send(ctx context.Context, subscriberID int64, message, mediaURL string) error {
	if err := ctx.Err(); err != nil {
		return model.NewTransientSendError("コンテキストがキャンセルされました", err)
	}

	chat := &tele.Chat{ID: subscriberID}
	opts := &tele.SendOptions{ParseMode: tele.ModeHTML}

	if mediaURL != "" && len(message) <= photoCaptionLimit {
		photo := &tele.Photo{File: tele.FromURL(mediaURL), Caption: message}
		if _, err := c.bot.Send(chat, photo, opts); err == nil {
			return nil
		}
		// 写真送信の失敗（取得不能な画像等）はテキスト送信にフォールバック
	}

	if _, err := c.bot.Send(chat, message, opts); err != nil {
		return classifySendFailure(subscriberID, err)
	}
	return nil
}

// classifySendFailure はtelebotのエラーをSendErrorに分類する。
//   - ブロック・チャット不在・アカウント削除: permanent_unreachable
//   - フラッド制限・その他（ネットワーク障害、5xx）: transient_send
func classifySendFailure(subscriberID int64, err error) error {
	if errors.Is(err, tele.ErrBlockedByUser) ||
		errors.Is(err, tele.ErrChatNotFound) ||
		errors.Is(err, tele.ErrUserIsDeactivated) {
		return model.NewPermanentUnreachableError(
			fmt.Sprintf("購読者 %d に到達できません", subscriberID), err)
	}

	var flood tele.FloodError
	if errors.As(err, &flood) {
		return model.NewTransientSendError(
			fmt.Sprintf("送信レート制限を受けました (retry after %ds)", flood.RetryAfter), err)
	}

	return model.NewTransientSendError("メッセージ送信に失敗しました", err)
}
