package pidmap

import (
	"encoding/binary"
	"errors"
	"fmt"
	"net"

	"github.com/cilium/ebpf"
	"github.com/cilium/ebpf/asm"
	"github.com/cilium/ebpf/btf"
	"github.com/cilium/ebpf/link"
	"github.com/cilium/ebpf/rlimit"
)

// Tracker 挂在 sock/inet_sock_set_state 上，只记录本机主动发起（经过 SYN_SENT）的 TCP 连接：
//   - SYN_SENT：在 connect() 所在进程上下文记下 sock -> pid
//   - ESTABLISHED：sock 已有记录才提升为 flow -> pid
//   - CLOSE：两张表都删除
//
// 只能看到 agent 启动之后建立的连接。
type Tracker struct {
	socks *ebpf.Map
	flows *ebpf.Map
	prog  *ebpf.Program
	tp    link.Link
}

// Flow 中的地址方向固定为 本地 -> 远端。
type Flow struct {
	LocalIP    string
	LocalPort  int
	RemoteIP   string
	RemotePort int
	PID        int
}

type flowKey struct {
	SrcIP   uint32
	DstIP   uint32
	SrcPort uint16
	DstPort uint16
	Pad     uint32
}

type offsets struct {
	skaddr   int16
	family   int16
	newstate int16
	sport    int16
	dport    int16
	saddr    int16
	daddr    int16
}

const maxFlows = 65535

func NewTracker() (*Tracker, error) {
	if err := rlimit.RemoveMemlock(); err != nil {
		return nil, fmt.Errorf("设置 memlock 失败：%w", err)
	}
	spec, err := btf.LoadKernelSpec()
	if err != nil {
		return nil, fmt.Errorf("加载 BTF 失败：%w", err)
	}
	var st *btf.Struct
	if err := spec.TypeByName("trace_event_raw_inet_sock_set_state", &st); err != nil {
		return nil, fmt.Errorf("查找 tracepoint 结构失败：%w", err)
	}
	off, err := resolveOffsets(st)
	if err != nil {
		return nil, err
	}

	socks, err := ebpf.NewMap(&ebpf.MapSpec{
		Name:       "sock_pid_map",
		Type:       ebpf.LRUHash,
		KeySize:    8,
		ValueSize:  4,
		MaxEntries: maxFlows,
	})
	if err != nil {
		return nil, fmt.Errorf("创建 sock map 失败：%w", err)
	}
	flows, err := ebpf.NewMap(&ebpf.MapSpec{
		Name:       "flow_pid_map",
		Type:       ebpf.LRUHash,
		KeySize:    16,
		ValueSize:  4,
		MaxEntries: maxFlows,
	})
	if err != nil {
		socks.Close()
		return nil, fmt.Errorf("创建 flow map 失败：%w", err)
	}

	prog, err := ebpf.NewProgram(&ebpf.ProgramSpec{
		Type:         ebpf.TracePoint,
		Instructions: buildProgram(socks.FD(), flows.FD(), off),
		License:      "GPL",
	})
	if err != nil {
		flows.Close()
		socks.Close()
		return nil, fmt.Errorf("加载 eBPF 程序失败：%w", err)
	}
	tp, err := link.Tracepoint("sock", "inet_sock_set_state", prog, nil)
	if err != nil {
		prog.Close()
		flows.Close()
		socks.Close()
		return nil, fmt.Errorf("挂载 tracepoint 失败：%w", err)
	}
	return &Tracker{socks: socks, flows: flows, prog: prog, tp: tp}, nil
}

// Lookup 返回连接所属进程的 PID，查不到返回 0。
func (t *Tracker) Lookup(localIP string, localPort int, remoteIP string, remotePort int) int {
	if t == nil || t.flows == nil {
		return 0
	}
	key, ok := makeKey(localIP, localPort, remoteIP, remotePort)
	if !ok {
		return 0
	}
	var pid uint32
	if err := t.flows.Lookup(&key, &pid); err != nil {
		return 0
	}
	return int(pid)
}

// Flows 遍历当前仍处于 ESTABLISHED 的主动连接。
func (t *Tracker) Flows() ([]Flow, error) {
	if t == nil || t.flows == nil {
		return nil, nil
	}
	var (
		key flowKey
		pid uint32
		out []Flow
	)
	iter := t.flows.Iterate()
	for iter.Next(&key, &pid) {
		out = append(out, decodeKey(key, pid))
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("遍历 flow map 失败：%w", err)
	}
	return out, nil
}

func (t *Tracker) Close() error {
	var errs []error
	if t.tp != nil {
		errs = append(errs, t.tp.Close())
	}
	if t.prog != nil {
		errs = append(errs, t.prog.Close())
	}
	if t.flows != nil {
		errs = append(errs, t.flows.Close())
	}
	if t.socks != nil {
		errs = append(errs, t.socks.Close())
	}
	return errors.Join(errs...)
}

// tracepoint 中 saddr/daddr 是网络序字节数组，按 4 字节整体读出后在小端机器上
// 与 binary.LittleEndian.Uint32(ip) 一致；sport/dport 已是主机序。
func makeKey(srcIP string, srcPort int, dstIP string, dstPort int) (flowKey, bool) {
	sip := net.ParseIP(srcIP).To4()
	dip := net.ParseIP(dstIP).To4()
	if sip == nil || dip == nil {
		return flowKey{}, false
	}
	return flowKey{
		SrcIP:   binary.LittleEndian.Uint32(sip),
		DstIP:   binary.LittleEndian.Uint32(dip),
		SrcPort: uint16(srcPort),
		DstPort: uint16(dstPort),
	}, true
}

func decodeKey(k flowKey, pid uint32) Flow {
	src := make(net.IP, 4)
	binary.LittleEndian.PutUint32(src, k.SrcIP)
	dst := make(net.IP, 4)
	binary.LittleEndian.PutUint32(dst, k.DstIP)
	return Flow{
		LocalIP:    src.String(),
		LocalPort:  int(k.SrcPort),
		RemoteIP:   dst.String(),
		RemotePort: int(k.DstPort),
		PID:        int(pid),
	}
}

func resolveOffsets(st *btf.Struct) (offsets, error) {
	var out offsets
	fields := []struct {
		name string
		dst  *int16
	}{
		{"skaddr", &out.skaddr},
		{"family", &out.family},
		{"newstate", &out.newstate},
		{"sport", &out.sport},
		{"dport", &out.dport},
		{"saddr", &out.saddr},
		{"daddr", &out.daddr},
	}
	for _, f := range fields {
		v, err := memberOffset(st, f.name)
		if err != nil {
			return offsets{}, err
		}
		*f.dst = v
	}
	return out, nil
}

func memberOffset(st *btf.Struct, name string) (int16, error) {
	for _, m := range st.Members {
		if m.Name == name {
			return int16(m.Offset / 8), nil
		}
	}
	return 0, fmt.Errorf("成员缺失：%s", name)
}

const (
	afInet         = 2
	tcpEstablished = 1
	tcpSynSent     = 2
	tcpClose       = 7
)

func buildProgram(socksFD, flowsFD int, off offsets) asm.Instructions {
	const (
		sockKeyOffset  = -8
		valueOffset    = -16
		keyOffset      = -40
		keySrcIPOffset = keyOffset
		keyDstIPOffset = keyOffset + 4
		keySrcPOffset  = keyOffset + 8
		keyDstPOffset  = keyOffset + 10
		keyPadOffset   = keyOffset + 12
	)

	// fillKey 把四元组写到栈上 keyOffset 处；helper 调用会破坏 R1-R5，每次都从 R6 重新读取。
	fillKey := asm.Instructions{
		asm.LoadMem(asm.R2, asm.R6, off.sport, asm.Half),
		asm.LoadMem(asm.R3, asm.R6, off.dport, asm.Half),
		asm.LoadMem(asm.R4, asm.R6, off.saddr, asm.Word),
		asm.LoadMem(asm.R5, asm.R6, off.daddr, asm.Word),
		asm.StoreMem(asm.RFP, keySrcIPOffset, asm.R4, asm.Word),
		asm.StoreMem(asm.RFP, keyDstIPOffset, asm.R5, asm.Word),
		asm.StoreMem(asm.RFP, keySrcPOffset, asm.R2, asm.Half),
		asm.StoreMem(asm.RFP, keyDstPOffset, asm.R3, asm.Half),
		asm.StoreImm(asm.RFP, keyPadOffset, 0, asm.Word),
	}

	ins := asm.Instructions{
		asm.Mov.Reg(asm.R6, asm.R1),
		asm.LoadMem(asm.R1, asm.R6, off.family, asm.Half),
		asm.JNE.Imm(asm.R1, afInet, "exit"),
		asm.LoadMem(asm.R7, asm.R6, off.newstate, asm.Word),
		asm.LoadMem(asm.R8, asm.R6, off.skaddr, asm.DWord),
		asm.StoreMem(asm.RFP, sockKeyOffset, asm.R8, asm.DWord),
		asm.JEq.Imm(asm.R7, tcpSynSent, "syn_sent"),
		asm.JEq.Imm(asm.R7, tcpEstablished, "established"),
		asm.JEq.Imm(asm.R7, tcpClose, "close"),
		asm.Ja.Label("exit"),

		// SYN_SENT：记录发起 connect() 的进程
		asm.FnGetCurrentPidTgid.Call().WithSymbol("syn_sent"),
		asm.RSh.Imm(asm.R0, 32),
		asm.StoreMem(asm.RFP, valueOffset, asm.R0, asm.Word),
		asm.LoadMapPtr(asm.R1, socksFD),
		asm.Mov.Reg(asm.R2, asm.RFP),
		asm.Add.Imm(asm.R2, sockKeyOffset),
		asm.Mov.Reg(asm.R3, asm.RFP),
		asm.Add.Imm(asm.R3, valueOffset),
		asm.Mov.Imm(asm.R4, 0),
		asm.FnMapUpdateElem.Call(),
		asm.Ja.Label("exit"),

		// ESTABLISHED：被动连接在 sock map 中没有记录，直接忽略
		asm.LoadMapPtr(asm.R1, socksFD).WithSymbol("established"),
		asm.Mov.Reg(asm.R2, asm.RFP),
		asm.Add.Imm(asm.R2, sockKeyOffset),
		asm.FnMapLookupElem.Call(),
		asm.JEq.Imm(asm.R0, 0, "exit"),
		asm.LoadMem(asm.R1, asm.R0, 0, asm.Word),
		asm.StoreMem(asm.RFP, valueOffset, asm.R1, asm.Word),
	}
	ins = append(ins, fillKey...)
	ins = append(ins,
		asm.LoadMapPtr(asm.R1, flowsFD),
		asm.Mov.Reg(asm.R2, asm.RFP),
		asm.Add.Imm(asm.R2, keyOffset),
		asm.Mov.Reg(asm.R3, asm.RFP),
		asm.Add.Imm(asm.R3, valueOffset),
		asm.Mov.Imm(asm.R4, 0),
		asm.FnMapUpdateElem.Call(),
		asm.Ja.Label("exit"),

		asm.LoadMapPtr(asm.R1, socksFD).WithSymbol("close"),
		asm.Mov.Reg(asm.R2, asm.RFP),
		asm.Add.Imm(asm.R2, sockKeyOffset),
		asm.FnMapDeleteElem.Call(),
	)
	ins = append(ins, fillKey...)
	ins = append(ins,
		asm.LoadMapPtr(asm.R1, flowsFD),
		asm.Mov.Reg(asm.R2, asm.RFP),
		asm.Add.Imm(asm.R2, keyOffset),
		asm.FnMapDeleteElem.Call(),

		asm.Mov.Imm(asm.R0, 0).WithSymbol("exit"),
		asm.Return(),
	)
	return ins
}
