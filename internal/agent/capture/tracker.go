package capture

import (
	"context"
	"errors"
	"net"
	"sort"
	"sync"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
)

// PIDResolver 按 本地 -> 远端 四元组查询所属进程。
type PIDResolver interface {
	Lookup(localIP string, localPort int, remoteIP string, remotePort int) int
}

type PacketReader interface {
	ReadPacket(ctx context.Context) ([]byte, gopacket.CaptureInfo, error)
}

type Flow struct {
	LocalIP    string
	LocalPort  int
	RemoteIP   string
	RemotePort int
	PID        int
	LastSeen   time.Time
}

type flowKey struct {
	localIP    string
	localPort  uint16
	remoteIP   string
	remotePort uint16
}

// Tracker 从控制报文推断当前的出站连接：
// 发往本机的 SYN-ACK 说明本机是发起方，FIN/RST 结束连接。
// 错过 FIN/RST 的连接在 ttl 后过期。
type Tracker struct {
	mu       sync.Mutex
	local    map[string]struct{}
	flows    map[flowKey]*Flow
	ttl      time.Duration
	resolver PIDResolver

	parser  *gopacket.DecodingLayerParser
	eth     layers.Ethernet
	ip4     layers.IPv4
	tcp     layers.TCP
	decoded []gopacket.LayerType
}

// NewTracker resolver 可以为 nil，此时 PID 记为 0。
func NewTracker(localIPs []string, ttl time.Duration, resolver PIDResolver) *Tracker {
	t := &Tracker{
		local:    make(map[string]struct{}, len(localIPs)),
		flows:    make(map[flowKey]*Flow),
		ttl:      ttl,
		resolver: resolver,
	}
	for _, ip := range localIPs {
		if p := net.ParseIP(ip); p != nil {
			t.local[p.String()] = struct{}{}
		}
	}
	t.parser = gopacket.NewDecodingLayerParser(layers.LayerTypeEthernet, &t.eth, &t.ip4, &t.tcp)
	t.parser.IgnoreUnsupported = true
	return t
}

// Handle 处理一帧以太网数据；非 IPv4 TCP 报文直接忽略。
func (t *Tracker) Handle(data []byte, ts time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if err := t.parser.DecodeLayers(data, &t.decoded); err != nil {
		return
	}
	if len(t.decoded) < 3 || t.decoded[2] != layers.LayerTypeTCP {
		return
	}

	src, dst := t.ip4.SrcIP.String(), t.ip4.DstIP.String()
	sport, dport := uint16(t.tcp.SrcPort), uint16(t.tcp.DstPort)
	_, dstLocal := t.local[dst]
	_, srcLocal := t.local[src]

	switch {
	case t.tcp.RST || t.tcp.FIN:
		if dstLocal {
			delete(t.flows, flowKey{dst, dport, src, sport})
		}
		if srcLocal {
			delete(t.flows, flowKey{src, sport, dst, dport})
		}
	case t.tcp.SYN && t.tcp.ACK && dstLocal && !srcLocal:
		key := flowKey{dst, dport, src, sport}
		f, ok := t.flows[key]
		if !ok {
			f = &Flow{LocalIP: dst, LocalPort: int(dport), RemoteIP: src, RemotePort: int(sport)}
			t.flows[key] = f
		}
		f.LastSeen = ts
		if f.PID == 0 && t.resolver != nil {
			f.PID = t.resolver.Lookup(f.LocalIP, f.LocalPort, f.RemoteIP, f.RemotePort)
		}
	}
}

// Flows 先清理过期连接，再按远端地址排序返回副本。
func (t *Tracker) Flows(now time.Time) []Flow {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]Flow, 0, len(t.flows))
	for k, f := range t.flows {
		if t.ttl > 0 && now.Sub(f.LastSeen) > t.ttl {
			delete(t.flows, k)
			continue
		}
		if f.PID == 0 && t.resolver != nil {
			f.PID = t.resolver.Lookup(f.LocalIP, f.LocalPort, f.RemoteIP, f.RemotePort)
		}
		out = append(out, *f)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].RemoteIP != out[j].RemoteIP {
			return out[i].RemoteIP < out[j].RemoteIP
		}
		return out[i].LocalPort < out[j].LocalPort
	})
	return out
}

// Run 持续读包直到 ctx 取消。
func (t *Tracker) Run(ctx context.Context, r PacketReader) error {
	for {
		data, ci, err := r.ReadPacket(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		}
		ts := ci.Timestamp
		if ts.IsZero() {
			ts = time.Now()
		}
		t.Handle(data, ts)
	}
}
