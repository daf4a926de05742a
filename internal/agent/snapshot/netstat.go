package snapshot

import (
	"context"
	"fmt"

	gnet "github.com/shirou/gopsutil/v4/net"
)

// connectionsFunc 便于测试替换。
type connectionsFunc func(ctx context.Context, kind string) ([]gnet.ConnectionStat, error)

// Netstat 读取内核连接表；本地端口处于 LISTEN 的连接视为入站，排除在外。
type Netstat struct {
	list connectionsFunc
}

func NewNetstat() *Netstat {
	return &Netstat{list: gnet.ConnectionsWithContext}
}

func (n *Netstat) Snapshot(ctx context.Context) ([]Conn, error) {
	stats, err := n.list(ctx, "tcp")
	if err != nil {
		return nil, fmt.Errorf("读取 TCP 连接表失败：%w", err)
	}

	listening := make(map[uint32]struct{})
	for _, s := range stats {
		if s.Status == "LISTEN" {
			listening[s.Laddr.Port] = struct{}{}
		}
	}

	var out []Conn
	for _, s := range stats {
		if s.Status != "ESTABLISHED" || s.Raddr.IP == "" {
			continue
		}
		if _, inbound := listening[s.Laddr.Port]; inbound {
			continue
		}
		out = append(out, Conn{
			LocalIP:    s.Laddr.IP,
			LocalPort:  int(s.Laddr.Port),
			RemoteIP:   s.Raddr.IP,
			RemotePort: int(s.Raddr.Port),
			PID:        int(s.Pid),
		})
	}
	return out, nil
}

func (n *Netstat) Close() error { return nil }
