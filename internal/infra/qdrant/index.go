// Package qdrant は Qdrant を retrieval.Store として使用するアダプタを提供する。
package qdrant

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"

	"github.com/jinford/textile-rag/internal/core/retrieval"
)

// PayloadID は元の文字列IDを保持するペイロードキー
const PayloadID = "id"

// pointNamespace は文字列IDから決定的なポイントUUIDを導出する名前空間
var pointNamespace = uuid.MustParse("6f1c9a52-3b0e-4d1e-9f5a-7c2b8e4d0a13")

// pointsClient は Index が使用する qdrant.Client のメソッド
type pointsClient interface {
	CollectionExists(ctx context.Context, collectionName string) (bool, error)
	CreateCollection(ctx context.Context, request *qdrant.CreateCollection) error
	Query(ctx context.Context, request *qdrant.QueryPoints) ([]*qdrant.ScoredPoint, error)
	Upsert(ctx context.Context, request *qdrant.UpsertPoints) (*qdrant.UpdateResult, error)
}

// Config は Index の設定
type Config struct {
	// Collection は Qdrant のコレクション名
	Collection string
}

// Index は retrieval.Store の Qdrant 実装
type Index struct {
	client pointsClient
	config Config
}

// New は qdrant.Client から Index を作成する
func New(client *qdrant.Client, config Config) *Index {
	return newIndex(client, config)
}

func newIndex(client pointsClient, config Config) *Index {
	return &Index{client: client, config: config}
}

// NewClient は host:port に接続する qdrant.Client を作成する
func NewClient(host string, port int, apiKey string, useTLS bool) (*qdrant.Client, error) {
	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   host,
		Port:   port,
		APIKey: apiKey,
		UseTLS: useTLS,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create qdrant client: %w", err)
	}
	return client, nil
}

var _ retrieval.Store = (*Index)(nil)

// PointID は文字列IDを Qdrant のポイントID（UUIDv5）に変換する
func PointID(id string) *qdrant.PointId {
	return qdrant.NewID(uuid.NewSHA1(pointNamespace, []byte(id)).String())
}

// EnsureCollection はコサイン距離のコレクションが無ければ作成する
func (x *Index) EnsureCollection(ctx context.Context, dimension int) error {
	if dimension <= 0 {
		return fmt.Errorf("invalid embedding dimension: %d", dimension)
	}

	exists, err := x.client.CollectionExists(ctx, x.config.Collection)
	if err != nil {
		return fmt.Errorf("failed to check collection %s: %w", x.config.Collection, err)
	}
	if exists {
		return nil
	}

	err = x.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: x.config.Collection,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     uint64(dimension),
			Distance: qdrant.Distance_Cosine,
		}),
	})
	if err != nil {
		return fmt.Errorf("failed to create collection %s: %w", x.config.Collection, err)
	}
	return nil
}

// Query は vector に近い順に最大 k 件を返す
func (x *Index) Query(ctx context.Context, vector []float32, k int) ([]retrieval.Hit, error) {
	resp, err := x.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: x.config.Collection,
		Query:          qdrant.NewQuery(vector...),
		Limit:          qdrant.PtrOf(uint64(k)),
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to query %s: %w", x.config.Collection, err)
	}

	hits := make([]retrieval.Hit, 0, len(resp))
	for _, scored := range resp {
		metadata := fromPayload(scored.GetPayload())
		id, _ := metadata[PayloadID].(string)
		delete(metadata, PayloadID)
		if id == "" {
			id = scored.GetId().GetUuid()
		}
		hits = append(hits, retrieval.Hit{
			ID:       id,
			Metadata: metadata,
			Score:    float64(scored.GetScore()),
		})
	}
	return hits, nil
}

// Upsert はレコードをまとめて書き込み、反映を待つ
func (x *Index) Upsert(ctx context.Context, records []retrieval.Record) error {
	if len(records) == 0 {
		return nil
	}

	points := make([]*qdrant.PointStruct, len(records))
	for i, rec := range records {
		payload, err := toPayload(rec.Metadata)
		if err != nil {
			return fmt.Errorf("record %s: %w", rec.ID, err)
		}
		payload[PayloadID] = qdrant.NewValueString(rec.ID)
		points[i] = &qdrant.PointStruct{
			Id:      PointID(rec.ID),
			Vectors: qdrant.NewVectors(rec.Embedding...),
			Payload: payload,
		}
	}

	_, err := x.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: x.config.Collection,
		Points:         points,
		Wait:           qdrant.PtrOf(true),
	})
	if err != nil {
		return fmt.Errorf("failed to upsert into %s: %w", x.config.Collection, err)
	}
	return nil
}
