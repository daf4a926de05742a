package capture

import (
	"context"
	"io"
	"net"
	"testing"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const localIP = "192.168.1.10"

type segment struct {
	src, dst     string
	sport, dport uint16
	syn, ack     bool
	fin, rst     bool
}

func frame(t *testing.T, s segment) []byte {
	t.Helper()
	eth := &layers.Ethernet{
		SrcMAC:       net.HardwareAddr{0, 1, 2, 3, 4, 5},
		DstMAC:       net.HardwareAddr{6, 7, 8, 9, 10, 11},
		EthernetType: layers.EthernetTypeIPv4,
	}
	ip := &layers.IPv4{
		Version:  4,
		TTL:      64,
		Protocol: layers.IPProtocolTCP,
		SrcIP:    net.ParseIP(s.src).To4(),
		DstIP:    net.ParseIP(s.dst).To4(),
	}
	tcp := &layers.TCP{
		SrcPort: layers.TCPPort(s.sport),
		DstPort: layers.TCPPort(s.dport),
		SYN:     s.syn,
		ACK:     s.ack,
		FIN:     s.fin,
		RST:     s.rst,
		Window:  1024,
	}
	require.NoError(t, tcp.SetNetworkLayerForChecksum(ip))
	buf := gopacket.NewSerializeBuffer()
	require.NoError(t, gopacket.SerializeLayers(buf, gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true}, eth, ip, tcp))
	return buf.Bytes()
}

type staticResolver map[int]int

func (r staticResolver) Lookup(_ string, localPort int, _ string, _ int) int {
	return r[localPort]
}

func TestTracker_OutboundSynAck(t *testing.T) {
	tr := NewTracker([]string{localIP}, time.Hour, staticResolver{51514: 777})
	now := time.Now()

	// 本机发出的 SYN 本身不建立连接
	tr.Handle(frame(t, segment{src: localIP, dst: "203.0.113.7", sport: 51514, dport: 443, syn: true}), now)
	assert.Empty(t, tr.Flows(now))

	tr.Handle(frame(t, segment{src: "203.0.113.7", dst: localIP, sport: 443, dport: 51514, syn: true, ack: true}), now)
	flows := tr.Flows(now)
	require.Len(t, flows, 1)
	assert.Equal(t, Flow{
		LocalIP: localIP, LocalPort: 51514,
		RemoteIP: "203.0.113.7", RemotePort: 443,
		PID: 777, LastSeen: now,
	}, flows[0])
}

func TestTracker_InboundIgnored(t *testing.T) {
	tr := NewTracker([]string{localIP}, time.Hour, nil)
	now := time.Now()
	// 本机作为服务端回 SYN-ACK：目的地址不是本机
	tr.Handle(frame(t, segment{src: localIP, dst: "198.51.100.2", sport: 22, dport: 40000, syn: true, ack: true}), now)
	assert.Empty(t, tr.Flows(now))
}

func TestTracker_FinAndRstRemove(t *testing.T) {
	tr := NewTracker([]string{localIP}, time.Hour, nil)
	now := time.Now()
	tr.Handle(frame(t, segment{src: "203.0.113.7", dst: localIP, sport: 443, dport: 50000, syn: true, ack: true}), now)
	tr.Handle(frame(t, segment{src: "198.51.100.2", dst: localIP, sport: 80, dport: 50001, syn: true, ack: true}), now)
	require.Len(t, tr.Flows(now), 2)

	// 本机发出的 FIN
	tr.Handle(frame(t, segment{src: localIP, dst: "203.0.113.7", sport: 50000, dport: 443, fin: true, ack: true}), now)
	// 对端发来的 RST
	tr.Handle(frame(t, segment{src: "198.51.100.2", dst: localIP, sport: 80, dport: 50001, rst: true}), now)
	assert.Empty(t, tr.Flows(now))
}

func TestTracker_TTLExpiry(t *testing.T) {
	tr := NewTracker([]string{localIP}, time.Minute, nil)
	start := time.Now()
	tr.Handle(frame(t, segment{src: "203.0.113.7", dst: localIP, sport: 443, dport: 50000, syn: true, ack: true}), start)

	assert.Len(t, tr.Flows(start.Add(time.Minute)), 1)
	assert.Empty(t, tr.Flows(start.Add(time.Minute+time.Second)))
}

func TestTracker_IgnoresGarbage(t *testing.T) {
	tr := NewTracker([]string{localIP}, time.Hour, nil)
	tr.Handle([]byte{0x01, 0x02}, time.Now())
	tr.Handle(nil, time.Now())
	assert.Empty(t, tr.Flows(time.Now()))
}

type fakeReader struct {
	frames [][]byte
	ts     time.Time
}

func (r *fakeReader) ReadPacket(ctx context.Context) ([]byte, gopacket.CaptureInfo, error) {
	if len(r.frames) == 0 {
		return nil, gopacket.CaptureInfo{}, io.EOF
	}
	f := r.frames[0]
	r.frames = r.frames[1:]
	return f, gopacket.CaptureInfo{Timestamp: r.ts, CaptureLength: len(f), Length: len(f)}, nil
}

func TestTracker_RunFeedsFrames(t *testing.T) {
	ts := time.Now()
	r := &fakeReader{ts: ts, frames: [][]byte{
		frame(t, segment{src: "203.0.113.7", dst: localIP, sport: 443, dport: 50000, syn: true, ack: true}),
		frame(t, segment{src: "203.0.113.8", dst: localIP, sport: 443, dport: 50001, syn: true, ack: true}),
	}}
	tr := NewTracker([]string{localIP}, time.Hour, nil)

	err := tr.Run(context.Background(), r)
	assert.ErrorIs(t, err, io.EOF)
	flows := tr.Flows(ts)
	require.Len(t, flows, 2)
	assert.Equal(t, "203.0.113.7", flows[0].RemoteIP)
	assert.Equal(t, "203.0.113.8", flows[1].RemoteIP)
}

func TestTracker_RunStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	tr := NewTracker(nil, time.Hour, nil)
	assert.NoError(t, tr.Run(ctx, &fakeReader{}))
}
