package snapshot

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/rs/zerolog"
	gnet "github.com/shirou/gopsutil/v4/net"

	"safeconnect/internal/agent/capture"
	"safeconnect/internal/agent/filter"
	"safeconnect/internal/agent/pidmap"
)

// Capture 在后台抓取 TCP 控制报文，Snapshot 返回 Tracker 当前认为存活的连接。
type Capture struct {
	tracker *capture.Tracker
	handle  *capture.AFPacketHandle
	pids    *pidmap.Tracker
	cancel  context.CancelFunc
	done    chan struct{}
	once    sync.Once
}

func NewCapture(ctx context.Context, iface string, ttl time.Duration, withPID bool, logger zerolog.Logger) (*Capture, error) {
	local, err := LocalAddrs(ctx)
	if err != nil {
		return nil, err
	}

	var pids *pidmap.Tracker
	var resolver capture.PIDResolver
	if withPID {
		pids, err = pidmap.NewTracker()
		if err != nil {
			// PID 只是附加信息，失败时降级为 0。
			logger.Warn().Err(err).Msg("eBPF PID 解析不可用")
		} else {
			resolver = pids
		}
	}

	h, err := capture.NewAFPacketHandle(iface, capture.DefaultSnaplen)
	if err != nil {
		closePIDs(pids)
		return nil, err
	}
	ins, err := filter.TCPControlBPF()
	if err != nil {
		h.Close()
		closePIDs(pids)
		return nil, err
	}
	if err := h.SetBPF(ins); err != nil {
		h.Close()
		closePIDs(pids)
		return nil, fmt.Errorf("设置 BPF 过滤器失败：%w", err)
	}

	runCtx, cancel := context.WithCancel(ctx)
	c := &Capture{
		tracker: capture.NewTracker(local, ttl, resolver),
		handle:  h,
		pids:    pids,
		cancel:  cancel,
		done:    make(chan struct{}),
	}
	go func() {
		defer close(c.done)
		if err := c.tracker.Run(runCtx, h); err != nil {
			logger.Error().Err(err).Msg("抓包退出")
		}
	}()
	logger.Info().Str("iface", iface).Strs("local", local).Msg("capture 已启动")
	return c, nil
}

func closePIDs(p *pidmap.Tracker) {
	if p != nil {
		_ = p.Close()
	}
}

func (c *Capture) Snapshot(context.Context) ([]Conn, error) {
	flows := c.tracker.Flows(time.Now())
	out := make([]Conn, 0, len(flows))
	for _, f := range flows {
		out = append(out, Conn{
			LocalIP:    f.LocalIP,
			LocalPort:  f.LocalPort,
			RemoteIP:   f.RemoteIP,
			RemotePort: f.RemotePort,
			PID:        f.PID,
		})
	}
	return out, nil
}

func (c *Capture) Close() error {
	var err error
	c.once.Do(func() {
		c.cancel()
		<-c.done
		c.handle.Close()
		if c.pids != nil {
			err = c.pids.Close()
		}
	})
	return err
}

// LocalAddrs 返回本机所有接口上的 IPv4 地址。
func LocalAddrs(ctx context.Context) ([]string, error) {
	ifaces, err := gnet.InterfacesWithContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("读取网卡地址失败：%w", err)
	}
	var out []string
	for _, iface := range ifaces {
		for _, a := range iface.Addrs {
			ip, _, err := net.ParseCIDR(a.Addr)
			if err != nil {
				ip = net.ParseIP(a.Addr)
			}
			if ip == nil || ip.To4() == nil {
				continue
			}
			out = append(out, ip.String())
		}
	}
	return out, nil
}
