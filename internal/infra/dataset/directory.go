// Package dataset は <root>/<craft>/<image> 形式のディレクトリを ingestion.ImageSource として提供する。
package dataset

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/jinford/textile-rag/internal/core/ingestion"
)

// mimeTypes は取り込み対象の拡張子と MIME タイプ
var mimeTypes = map[string]string{
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".png":  "image/png",
	".webp": "image/webp",
}

// Directory はローカルディレクトリ上のデータセット
type Directory struct {
	root string
}

// NewDirectory は新しい Directory を作成する
func NewDirectory(root string) *Directory {
	return &Directory{root: root}
}

var _ ingestion.ImageSource = (*Directory)(nil)

// Root はデータセットのルートディレクトリを返す
func (d *Directory) Root() string {
	return d.root
}

// List は工芸ディレクトリ直下の画像を工芸名・ファイル名の順で返す。
// 隠しファイルと対象外の拡張子は無視する。
func (d *Directory) List(ctx context.Context) ([]ingestion.ImageDocument, error) {
	crafts, err := os.ReadDir(d.root)
	if err != nil {
		return nil, fmt.Errorf("failed to read dataset root %s: %w", d.root, err)
	}

	var docs []ingestion.ImageDocument
	for _, craft := range crafts {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if !craft.IsDir() || isHidden(craft.Name()) {
			continue
		}

		craftDir := filepath.Join(d.root, craft.Name())
		entries, err := os.ReadDir(craftDir)
		if err != nil {
			return nil, fmt.Errorf("failed to read craft directory %s: %w", craftDir, err)
		}

		for _, entry := range entries {
			if entry.IsDir() || isHidden(entry.Name()) {
				continue
			}
			mimeType, ok := MIMEType(entry.Name())
			if !ok {
				continue
			}
			docs = append(docs, ingestion.ImageDocument{
				Craft:    craft.Name(),
				Filename: entry.Name(),
				Path:     filepath.Join(craftDir, entry.Name()),
				MIMEType: mimeType,
			})
		}
	}

	sort.SliceStable(docs, func(i, j int) bool {
		if docs[i].Craft != docs[j].Craft {
			return docs[i].Craft < docs[j].Craft
		}
		return docs[i].Filename < docs[j].Filename
	})

	return docs, nil
}

// Read は画像ファイルを読み込む
func (d *Directory) Read(ctx context.Context, doc ingestion.ImageDocument) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(doc.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to read image: %w", err)
	}
	return data, nil
}

// MIMEType は拡張子（大文字小文字を区別しない）から MIME タイプを返す
func MIMEType(name string) (string, bool) {
	mimeType, ok := mimeTypes[strings.ToLower(filepath.Ext(name))]
	return mimeType, ok
}

func isHidden(name string) bool {
	return strings.HasPrefix(name, ".")
}
