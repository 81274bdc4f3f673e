package openai

import "errors"

// ErrDimensionMismatch はモデルの出力次元が設定と異なる場合のエラー
var ErrDimensionMismatch = errors.New("embedding dimension mismatch")
