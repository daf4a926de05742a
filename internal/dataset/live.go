package dataset

import (
	"sync"

	"github.com/rs/zerolog"
)

// LiveTable 是进程内唯一持有 Connection Record 的对象。
// 快照器整体替换记录，reconcile 引擎只能置位 Checked；两者通过 mu 串行化写盘。
type LiveTable struct {
	mu   sync.Mutex
	path string
	recs Connections
}

func OpenLiveTable(path string, logger zerolog.Logger) (*LiveTable, error) {
	recs, err := LoadConnections(path, logger)
	if err != nil {
		return nil, err
	}
	return &LiveTable{path: path, recs: recs}, nil
}

// Replace 用最新快照覆盖记录：沿用已存在 IP 的 Checked，新 IP 一律为 false，
// 未出现的 IP 直接删除。内存状态总是更新，写盘失败只返回错误。
func (t *LiveTable) Replace(next Connections) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	merged := make(Connections, len(next))
	for ip, rec := range next {
		prev, ok := t.recs.Find(ip)
		rec.Checked = ok && prev.Checked
		merged[ip] = rec
	}
	t.recs = merged
	return SaveConnections(t.path, t.recs)
}

func (t *LiveTable) Snapshot() Connections {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.recs.Clone()
}

// MarkChecked 只对仍然存在的 IP 置位，随后写盘。
func (t *LiveTable) MarkChecked(ips []string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	for _, ip := range ips {
		if rec, ok := t.recs.Find(ip); ok {
			rec.Checked = true
			t.recs[ip] = rec
		}
	}
	return SaveConnections(t.path, t.recs)
}

func (t *LiveTable) Path() string {
	return t.path
}
