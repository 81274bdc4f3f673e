package retrieval

import "context"

// Embedder はテキストや画像を埋め込みベクトルに変換するインターフェース
type Embedder interface {
	// EmbedText は単一テキストの埋め込みを生成する
	EmbedText(ctx context.Context, text string) ([]float32, error)

	// EmbedImage は画像バイト列の埋め込みを生成する
	EmbedImage(ctx context.Context, image []byte, mimeType string) ([]float32, error)

	// ModelName はモデル名を返す
	ModelName() string
}

// Index は近傍検索を提供する外部ベクトルストアのインターフェース
type Index interface {
	// Query は vector に近い順に最大 k 件のヒットを返す
	Query(ctx context.Context, vector []float32, k int) ([]Hit, error)
}

// Writer はオフライン取り込みで使用する書き込み側のインターフェース
type Writer interface {
	// Upsert は records を挿入または更新する
	Upsert(ctx context.Context, records []Record) error
}

// Store は Index と Writer の両方を実装するバックエンド
type Store interface {
	Index
	Writer
}
