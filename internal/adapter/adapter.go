// Package adapter はソース種別ごとのコンテンツ取得と正規化を提供する。
//
// 各アダプタはソースのURLをフェッチし、正規化済みのアイテム列に変換する。
// 失敗はmodel.CheckErrorとして分類して返し、健全性の判断は呼び出し側
// （HealthTracker）に委ねる。
package adapter

import (
	"context"
	"fmt"

	"github.com/hitoshi/feedbot/internal/model"
)

// Result はアダプタの1回のフェッチ結果を表す。
type Result struct {
	// Items は正規化済みのアイテム列。取得元の順序（通常は新しい順）を保持する。
	Items []model.Item

	// Title は取得元が自己申告するタイトル。空の場合もある。
	Title string

	// ETag / LastModified は次回の条件付きGETに使うバリデータ。
	ETag         string
	LastModified string

	// NotModified は304応答（コンテンツ未変更）を示す。
	// trueの場合Itemsは空で、チェックとしては成功扱い。
	NotModified bool
}

// Adapter はソース種別ごとのフェッチ処理のインターフェース。
type Adapter interface {
	// Fetch はソースをフェッチして正規化済みの結果を返す。
	// 失敗はmodel.CheckErrorで分類して返す。
	Fetch(ctx context.Context, source *model.Source) (*Result, error)
}

// Registry はソース種別からアダプタを解決する。
type Registry struct {
	adapters map[model.SourceKind]Adapter
}

// NewRegistry は空のRegistryを生成する。
func NewRegistry() *Registry {
	return &Registry{adapters: make(map[model.SourceKind]Adapter)}
}

// Register は種別にアダプタを登録する。同一種別への再登録は上書きする。
func (r *Registry) Register(kind model.SourceKind, a Adapter) {
	r.adapters[kind] = a
}

// Resolve は種別に対応するアダプタを返す。
// 未登録の種別はエラーを返す（登録時に検証済みのため通常は起こらない）。
func (r *Registry) Resolve(kind model.SourceKind) (Adapter, error) {
	a, ok := r.adapters[kind]
	if !ok {
		return nil, fmt.Errorf("未対応のソース種別です: %s", kind)
	}
	return a, nil
}
