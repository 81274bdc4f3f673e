package ingestion

import (
	"context"
	"errors"
)

// ErrNoImages はデータセットに対象画像が1枚も無い場合のエラー
var ErrNoImages = errors.New("no images found in dataset")

// ImageDocument はデータセットから取得された画像ファイルを表す
type ImageDocument struct {
	Craft    string // 工芸名（データセットの第1階層ディレクトリ名）
	Filename string // ファイル名
	Path     string // 画像のパス
	MIMEType string // 拡張子から推定した MIME タイプ
}

// ID はインデックス上の識別子 "<craft>_<filename>" を返す
func (d ImageDocument) ID() string {
	return d.Craft + "_" + d.Filename
}

// Metadata はインデックスに保存するメタデータを返す
func (d ImageDocument) Metadata() map[string]any {
	return map[string]any{
		"craft": d.Craft,
		"path":  d.Path,
	}
}

// ImageSource は画像データセットを列挙・読み込みするインターフェース
// ファイルシステム以外（オブジェクトストレージ等）に差し替えるための拡張ポイント
type ImageSource interface {
	// List はデータセット内の画像を決定的な順序で返す
	List(ctx context.Context) ([]ImageDocument, error)

	// Read は画像のバイト列を返す
	Read(ctx context.Context, doc ImageDocument) ([]byte, error)
}
