package storage

import (
	"context"

	"safeconnect/internal/dataset"
)

// Store 只读：每次请求返回三个数据集的一致快照。
type Store interface {
	Load(ctx context.Context) (*dataset.Snapshot, error)
	Close() error
}
