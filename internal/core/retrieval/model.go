package retrieval

const (
	// DefaultK は k 未指定時の取得件数
	DefaultK = 5
	// MaxK は1回の検索で取得できる最大件数
	MaxK = 100

	// UnknownCraft はメタデータに craft が無い場合の既定値
	UnknownCraft = "unknown"

	// MetadataCraft はクラフト種別を保持するメタデータキー
	MetadataCraft = "craft"
	// MetadataPath は元画像のパスを保持するメタデータキー
	MetadataPath = "path"
	// MetadataFile は旧形式のインデックスでパスを保持していたメタデータキー
	MetadataFile = "file"
)

// Hit はベクトルインデックスが返す1件の近傍結果を表す
type Hit struct {
	ID       string
	Metadata map[string]any
	Score    float64
}

// Record はインデックスに upsert する1件のエントリを表す
type Record struct {
	ID        string
	Embedding []float32
	Metadata  map[string]any
}

// Item はクエリ結果として返す1件の画像を表す
type Item struct {
	ID    string  `json:"id"`
	Craft string  `json:"craft"`
	Path  string  `json:"path"`
	Score float64 `json:"score"`
}

// Result は類似度の降順に並んだ検索結果
type Result struct {
	Items []Item `json:"results"`
}

// itemFromHit はインデックスのヒットを出力スキーマに変換する。
// メタデータが欠けていても既定値で埋め、ヒット自体は落とさない。
func itemFromHit(hit Hit) Item {
	item := Item{
		ID:    hit.ID,
		Craft: UnknownCraft,
		Score: hit.Score,
	}

	if craft, ok := stringValue(hit.Metadata, MetadataCraft); ok {
		item.Craft = craft
	}

	if path, ok := stringValue(hit.Metadata, MetadataPath); ok {
		item.Path = path
	} else if file, ok := stringValue(hit.Metadata, MetadataFile); ok {
		item.Path = file
	}

	return item
}

func stringValue(metadata map[string]any, key string) (string, bool) {
	if metadata == nil {
		return "", false
	}
	v, ok := metadata[key]
	if !ok || v == nil {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}
