package postgres

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// schemaLockID はテーブル名から DDL 用のアドバイザリロック ID を生成します
func schemaLockID(table string) int64 {
	sum := sha256.Sum256([]byte("textile-rag:schema:" + table))
	return int64(binary.BigEndian.Uint64(sum[:8]))
}

// acquireXactLock はトランザクションスコープのアドバイザリロックを取得します。
// ロックはトランザクション終了時に自動的に解放されます
func acquireXactLock(ctx context.Context, tx pgx.Tx, lockID int64) error {
	if _, err := tx.Exec(ctx, "SELECT pg_advisory_xact_lock($1)", lockID); err != nil {
		return fmt.Errorf("failed to acquire advisory lock: %w", err)
	}
	return nil
}
