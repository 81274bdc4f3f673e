package retrieval

import (
	"errors"
	"math"
)

// NormTolerance は正規化済みベクトルのノルムと 1.0 の許容誤差
const NormTolerance = 1e-3

var (
	// ErrZeroVector はノルムが 0 のため正規化できないベクトルを表す
	ErrZeroVector = errors.New("cannot normalize zero vector")

	// ErrEmptyEmbedding はエンコーダが空のベクトルを返した場合のエラー
	ErrEmptyEmbedding = errors.New("empty embedding")
)

// Norm はベクトルの L2 ノルムを返す
func Norm(v []float32) float64 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	return math.Sqrt(sum)
}

// Normalize は v を単位ノルムに正規化した新しいスライスを返す
func Normalize(v []float32) ([]float32, error) {
	if len(v) == 0 {
		return nil, ErrEmptyEmbedding
	}

	norm := Norm(v)
	if norm == 0 || math.IsNaN(norm) || math.IsInf(norm, 0) {
		return nil, ErrZeroVector
	}

	out := make([]float32, len(v))
	for i, x := range v {
		out[i] = float32(float64(x) / norm)
	}
	return out, nil
}

// IsNormalized は v のノルムが 1.0 から NormTolerance 以内かを返す
func IsNormalized(v []float32) bool {
	return math.Abs(Norm(v)-1.0) <= NormTolerance
}
