package snapshot

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"safeconnect/internal/dataset"
	"safeconnect/internal/metrics"
	"safeconnect/pkg/model"
)

// Conn 是一条已建立的出站 TCP 连接。
type Conn struct {
	LocalIP    string
	LocalPort  int
	RemoteIP   string
	RemotePort int
	PID        int
}

// Source 枚举当前的出站连接。
type Source interface {
	Snapshot(ctx context.Context) ([]Conn, error)
	Close() error
}

type Table interface {
	Replace(next dataset.Connections) error
}

type Snapshotter struct {
	src     Source
	table   Table
	logger  zerolog.Logger
	metrics *metrics.Agent

	ready     chan struct{}
	readyOnce sync.Once
}

func New(src Source, table Table, logger zerolog.Logger, m *metrics.Agent) *Snapshotter {
	return &Snapshotter{src: src, table: table, logger: logger, metrics: m, ready: make(chan struct{})}
}

// Ready 在 Run 的第一次采集结束后关闭（无论成功与否）。
func (s *Snapshotter) Ready() <-chan struct{} {
	return s.ready
}

// RunOnce 采集一次快照并整体替换 Connection Record。
func (s *Snapshotter) RunOnce(ctx context.Context) (int, error) {
	conns, err := s.src.Snapshot(ctx)
	if err != nil {
		s.metrics.Snapshot(false)
		return 0, fmt.Errorf("采集连接失败：%w", err)
	}
	next := Reduce(conns)
	if err := s.table.Replace(next); err != nil {
		s.metrics.Snapshot(false)
		s.metrics.PersistFailure("connections")
		return len(next), fmt.Errorf("写入 connections 失败：%w", err)
	}
	s.metrics.Snapshot(true)
	s.metrics.Tracked("connections", len(next))
	return len(next), nil
}

// Run 立即执行一次，之后每收到一次 tick 执行一次，直到 ctx 取消。
func (s *Snapshotter) Run(ctx context.Context, ticks <-chan time.Time) error {
	s.runOnce(ctx)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticks:
			s.runOnce(ctx)
		}
	}
}

func (s *Snapshotter) runOnce(ctx context.Context) {
	n, err := s.RunOnce(ctx)
	s.readyOnce.Do(func() { close(s.ready) })
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		s.logger.Error().Err(err).Msg("连接快照失败")
		return
	}
	s.logger.Debug().Int("remote_ips", n).Msg("连接快照完成")
}

// Reduce 过滤回环/未指定地址并按远端 IP 去重，同一 IP 以最后出现的连接为准。
func Reduce(conns []Conn) dataset.Connections {
	out := make(dataset.Connections, len(conns))
	for _, c := range conns {
		ip := net.ParseIP(c.RemoteIP)
		if ip == nil || ip.IsLoopback() || ip.IsUnspecified() {
			continue
		}
		out[ip.String()] = model.ConnectionRecord{
			RemotePort: c.RemotePort,
			LocalIP:    c.LocalIP,
			LocalPort:  c.LocalPort,
			PID:        c.PID,
		}
	}
	return out
}
