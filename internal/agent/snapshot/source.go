package snapshot

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"safeconnect/internal/config"
)

// Open 按配置构造连接来源。
func Open(ctx context.Context, cfg config.SnapshotConfig, logger zerolog.Logger) (Source, error) {
	switch cfg.Source {
	case config.SourceNetstat, "":
		return NewNetstat(), nil
	case config.SourceEBPF:
		src, err := NewEBPF()
		if err != nil {
			return nil, fmt.Errorf("启动 eBPF 连接跟踪失败：%w", err)
		}
		return src, nil
	case config.SourceCapture:
		return NewCapture(ctx, cfg.Interface, cfg.FlowTTL, cfg.EBPFPID, logger)
	default:
		return nil, fmt.Errorf("未知的快照来源：%q", cfg.Source)
	}
}
