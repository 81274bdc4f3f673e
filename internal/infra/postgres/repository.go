package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	pgvector "github.com/pgvector/pgvector-go"

	"github.com/jinford/textile-rag/internal/core/retrieval"
	"github.com/jinford/textile-rag/internal/platform/database"
)

// DefaultTableName はデフォルトのコレクション（テーブル）名
const DefaultTableName = "textile_images"

// DBTX は *pgxpool.Pool と pgx.Tx の共通インターフェース
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
	BeginTx(ctx context.Context, txOptions pgx.TxOptions) (pgx.Tx, error)
}

// ImageRepository は retrieval.Store を実装する pgvector リポジトリです
type ImageRepository struct {
	db    DBTX
	table string
}

// NewImageRepository は新しい ImageRepository を作成します。table が空ならデフォルト名を使用します
func NewImageRepository(db DBTX, table string) *ImageRepository {
	if table == "" {
		table = DefaultTableName
	}
	return &ImageRepository{db: db, table: table}
}

// コンパイル時の型チェック
var _ retrieval.Store = (*ImageRepository)(nil)

func (r *ImageRepository) ident() string {
	return pgx.Identifier{r.table}.Sanitize()
}

// EnsureSchema は vector 拡張とテーブルを作成します（存在する場合は何もしない）
func (r *ImageRepository) EnsureSchema(ctx context.Context, dimension int) error {
	if dimension <= 0 {
		return fmt.Errorf("invalid embedding dimension: %d", dimension)
	}

	// 複数プロセスが同時に index コマンドを実行しても DDL が競合しないよう直列化する
	_, err := database.Transact(ctx, r.db, func(tx pgx.Tx) (struct{}, error) {
		if err := acquireXactLock(ctx, tx, schemaLockID(r.table)); err != nil {
			return struct{}{}, err
		}
		if _, err := tx.Exec(ctx, `CREATE EXTENSION IF NOT EXISTS vector`); err != nil {
			return struct{}{}, fmt.Errorf("failed to create vector extension: %w", err)
		}

		ddl := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	id text PRIMARY KEY,
	embedding vector(%d) NOT NULL,
	metadata jsonb NOT NULL DEFAULT '{}'::jsonb
)`, r.ident(), dimension)
		if _, err := tx.Exec(ctx, ddl); err != nil {
			return struct{}{}, fmt.Errorf("failed to create table %s: %w", r.table, err)
		}
		return struct{}{}, nil
	})
	return err
}

// Query はコサイン距離の昇順（類似度の降順）に最大 k 件を返します
func (r *ImageRepository) Query(ctx context.Context, vector []float32, k int) ([]retrieval.Hit, error) {
	sql := fmt.Sprintf(
		`SELECT id, metadata, 1 - (embedding <=> $1) AS score FROM %s ORDER BY embedding <=> $1 LIMIT $2`,
		r.ident(),
	)

	rows, err := r.db.Query(ctx, sql, pgvector.NewVector(vector), k)
	if err != nil {
		return nil, fmt.Errorf("failed to query %s: %w", r.table, err)
	}
	defer rows.Close()

	hits := make([]retrieval.Hit, 0, k)
	for rows.Next() {
		var (
			id       string
			metadata []byte
			score    float64
		)
		if err := rows.Scan(&id, &metadata, &score); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}

		hit := retrieval.Hit{ID: id, Score: score}
		if len(metadata) > 0 {
			if err := json.Unmarshal(metadata, &hit.Metadata); err != nil {
				return nil, fmt.Errorf("failed to decode metadata for %s: %w", id, err)
			}
		}
		hits = append(hits, hit)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate rows: %w", err)
	}

	return hits, nil
}

// Upsert は records をバッチで挿入または更新します
func (r *ImageRepository) Upsert(ctx context.Context, records []retrieval.Record) error {
	if len(records) == 0 {
		return nil
	}

	sql := fmt.Sprintf(`INSERT INTO %s (id, embedding, metadata) VALUES ($1, $2, $3::jsonb)
ON CONFLICT (id) DO UPDATE SET embedding = EXCLUDED.embedding, metadata = EXCLUDED.metadata`, r.ident())

	batch := &pgx.Batch{}
	for _, rec := range records {
		metadata, err := MetadataToJSON(rec.Metadata)
		if err != nil {
			return fmt.Errorf("failed to encode metadata for %s: %w", rec.ID, err)
		}
		batch.Queue(sql, rec.ID, pgvector.NewVector(rec.Embedding), metadata)
	}

	results := r.db.SendBatch(ctx, batch)
	defer results.Close()

	for _, rec := range records {
		if _, err := results.Exec(); err != nil {
			return fmt.Errorf("failed to upsert %s: %w", rec.ID, err)
		}
	}
	return nil
}

// Count はテーブルの行数を返します
func (r *ImageRepository) Count(ctx context.Context) (int64, error) {
	var count int64
	if err := r.db.QueryRow(ctx, fmt.Sprintf(`SELECT count(*) FROM %s`, r.ident())).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count %s: %w", r.table, err)
	}
	return count, nil
}
