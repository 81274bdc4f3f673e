package ingestion

const (
	// DefaultEmbeddingWorkerCount はデフォルトのEmbeddingワーカー数（I/O バウンド）
	DefaultEmbeddingWorkerCount = 8
	// DefaultUpsertBatchSize はインデックスへ一度に書き込むレコード数
	DefaultUpsertBatchSize = 64
	// MinBatchSize は最小バッチサイズ
	MinBatchSize = 1
)

// PipelineConfig はパイプライン処理の設定
type PipelineConfig struct {
	// EmbeddingWorkerCount はEmbedding生成ワーカー数
	EmbeddingWorkerCount int
	// UpsertBatchSize はUpsertのバッチサイズ
	UpsertBatchSize int
	// FailOnEmbeddingError はEmbeddingエラー時にパイプラインを停止するかどうか
	FailOnEmbeddingError bool
}

// DefaultPipelineConfig はデフォルトのパイプライン設定を返す
func DefaultPipelineConfig() *PipelineConfig {
	return &PipelineConfig{
		EmbeddingWorkerCount: DefaultEmbeddingWorkerCount,
		UpsertBatchSize:      DefaultUpsertBatchSize,
	}
}

func (c *PipelineConfig) workers() int {
	if c.EmbeddingWorkerCount <= 0 {
		return 1
	}
	return c.EmbeddingWorkerCount
}

func (c *PipelineConfig) batchSize() int {
	if c.UpsertBatchSize < MinBatchSize {
		return MinBatchSize
	}
	return c.UpsertBatchSize
}
