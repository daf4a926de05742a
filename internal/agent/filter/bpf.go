package filter

import (
	"fmt"

	"golang.org/x/net/bpf"
)

const (
	tcpFlagFIN = 0x01
	tcpFlagSYN = 0x02
	tcpFlagRST = 0x04
)

// TCPControlBPF 只放行携带 SYN/FIN/RST 的 IPv4 TCP 报文，用于跟踪连接的建立与拆除。
func TCPControlBPF() ([]bpf.RawInstruction, error) {
	raw, err := bpf.Assemble(tcpControlProgram())
	if err != nil {
		return nil, fmt.Errorf("组装 BPF 失败：%w", err)
	}
	return raw, nil
}

// classic BPF，假设链路层为 Ethernet：
//
//	X = 4 * (ip[0] & 0x0f)，TCP flags 位于 [14+X+13]
//
// 非首片分片没有 TCP 头，直接丢弃。
func tcpControlProgram() []bpf.Instruction {
	return []bpf.Instruction{
		bpf.LoadAbsolute{Off: 12, Size: 2},                         // EtherType
		bpf.JumpIf{Cond: bpf.JumpEqual, Val: 0x0800, SkipFalse: 7}, // IPv4? 否则 drop

		bpf.LoadAbsolute{Off: 23, Size: 1},                    // IPv4 protocol
		bpf.JumpIf{Cond: bpf.JumpEqual, Val: 6, SkipFalse: 5}, // TCP? 否则 drop

		bpf.LoadAbsolute{Off: 20, Size: 2},                          // flags + fragment offset
		bpf.JumpIf{Cond: bpf.JumpBitsSet, Val: 0x1fff, SkipTrue: 3}, // 非首片 -> drop

		bpf.LoadMemShift{Off: 14},          // X = 4*(ip[0]&0xf)
		bpf.LoadIndirect{Off: 27, Size: 1}, // tcp flags
		bpf.JumpIf{Cond: bpf.JumpBitsSet, Val: tcpFlagFIN | tcpFlagSYN | tcpFlagRST, SkipTrue: 1},

		bpf.RetConstant{Val: 0},      // drop
		bpf.RetConstant{Val: 0xFFFF}, // accept
	}
}
