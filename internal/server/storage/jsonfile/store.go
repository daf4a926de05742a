package jsonfile

import (
	"context"

	"github.com/rs/zerolog"

	"safeconnect/internal/dataset"
)

// Store 每次 Load 都重新读取 agent 写下的 JSON 文件。
// 文件总是被原子替换，读到的要么是旧版本要么是新版本。
type Store struct {
	paths  dataset.Paths
	logger zerolog.Logger
}

func NewStore(paths dataset.Paths, logger zerolog.Logger) *Store {
	return &Store{paths: paths, logger: logger}
}

func (s *Store) Load(ctx context.Context) (*dataset.Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return dataset.LoadAll(s.paths, s.logger)
}

func (s *Store) Close() error { return nil }
