package snapshot

import (
	"context"

	"safeconnect/internal/agent/pidmap"
)

type flowLister interface {
	Flows() ([]pidmap.Flow, error)
	Close() error
}

// EBPF 直接读取 tracepoint 维护的 flow 表。
type EBPF struct {
	tracker flowLister
}

func NewEBPF() (*EBPF, error) {
	tr, err := pidmap.NewTracker()
	if err != nil {
		return nil, err
	}
	return &EBPF{tracker: tr}, nil
}

func (e *EBPF) Snapshot(context.Context) ([]Conn, error) {
	flows, err := e.tracker.Flows()
	if err != nil {
		return nil, err
	}
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

func (e *EBPF) Close() error { return e.tracker.Close() }
