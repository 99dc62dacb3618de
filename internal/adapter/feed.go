package adapter

import (
	"context"
	"strings"

	"github.com/mmcdole/gofeed"

	"github.com/hitoshi/feedbot/internal/fingerprint"
	"github.com/hitoshi/feedbot/internal/model"
)

// feedAccept はフィードフェッチ時のAcceptヘッダ。
const feedAccept = "application/rss+xml, application/atom+xml, application/xml, text/xml, */*"

// FeedAdapter はRSS/Atomフィードのフェッチとパースを行う。
// ETag/Last-Modifiedを使用した条件付きGETに対応する。
type FeedAdapter struct {
	client *Client
}

// NewFeedAdapter はFeedAdapterの新しいインスタンスを生成する。
func NewFeedAdapter(client *Client) *FeedAdapter {
	return &FeedAdapter{client: client}
}

// Fetch はフィードをフェッチし、正規化済みのアイテム列を返す。
// 304応答はNotModifiedの成功結果として返す。
// パース失敗はmalformed_contentとして分類される。
func (a *FeedAdapter) Fetch(ctx context.Context, source *model.Source) (*Result, error) {
	resp, err := a.client.Get(ctx, source.URL, source.ETag, source.LastModified, feedAccept)
	if err != nil {
		return nil, err
	}
	if resp.NotModified {
		return &Result{NotModified: true}, nil
	}

	parser := gofeed.NewParser()
	parsed, err := parser.ParseString(string(resp.Body))
	if err != nil {
		return nil, model.NewMalformedContentError("フィードのパースに失敗しました", err)
	}

	return &Result{
		Items:        convertFeedItems(source.ID, parsed.Items),
		Title:        parsed.Title,
		ETag:         resp.ETag,
		LastModified: resp.LastModified,
	}, nil
}

// convertFeedItems はgofeedの記事をmodel.Itemに変換する。
// nil記事はスキップされる。
func convertFeedItems(sourceID string, items []*gofeed.Item) []model.Item {
	converted := make([]model.Item, 0, len(items))

	for _, item := range items {
		if item == nil {
			continue
		}

		m := model.Item{
			SourceID: sourceID,
			Title:    item.Title,
			Link:     item.Link,
			Summary:  item.Description,
		}

		// Descriptionが空の場合はContentを使用
		if m.Summary == "" {
			m.Summary = item.Content
		}

		// 公開日時: PublishedParsedを優先、なければUpdatedParsed
		if item.PublishedParsed != nil {
			t := *item.PublishedParsed
			m.PublishedAt = &t
		} else if item.UpdatedParsed != nil {
			t := *item.UpdatedParsed
			m.PublishedAt = &t
		}

		// LinkがなくGUIDがURL形式の場合はGUIDをLinkとして使用
		if m.Link == "" && item.GUID != "" &&
			(strings.HasPrefix(item.GUID, "http://") || strings.HasPrefix(item.GUID, "https://")) {
			m.Link = item.GUID
		}

		// 添付画像: 最初の画像enclosureを採用
		if item.Image != nil && item.Image.URL != "" {
			m.MediaURL = item.Image.URL
		} else {
			for _, enc := range item.Enclosures {
				if enc != nil && strings.HasPrefix(enc.Type, "image/") && enc.URL != "" {
					m.MediaURL = enc.URL
					break
				}
			}
		}

		m.Fingerprint = fingerprint.Derive(item.GUID, m.Link, m.Title, m.PublishedAt)

		converted = append(converted, m)
	}

	return converted
}
