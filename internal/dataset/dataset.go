package dataset

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/rs/zerolog"

	"safeconnect/pkg/model"
)

type Connections map[string]model.ConnectionRecord

type Reputation map[string]model.ReputationRecord

type History map[string]model.HistoryEntry

func (c Connections) Find(ip string) (model.ConnectionRecord, bool) {
	r, ok := c[ip]
	return r, ok
}

func (c Connections) Clone() Connections {
	out := make(Connections, len(c))
	for ip, r := range c {
		out[ip] = r
	}
	return out
}

func (r Reputation) Find(ip string) (model.ReputationRecord, bool) {
	rec, ok := r[ip]
	return rec, ok
}

func (r Reputation) Clone() Reputation {
	out := make(Reputation, len(r))
	for ip, rec := range r {
		out[ip] = rec
	}
	return out
}

func (h History) Find(ip string) (model.HistoryEntry, bool) {
	e, ok := h[ip]
	return e, ok
}

func (h History) Clone() History {
	out := make(History, len(h))
	for ip, e := range h {
		out[ip] = e
	}
	return out
}

// Paths 三个数据集文件路径。
type Paths struct {
	Connections string
	Reputation  string
	History     string
}

// Snapshot 某一时刻三个数据集的只读副本。
type Snapshot struct {
	Connections Connections
	Reputation  Reputation
	History     History
}

func LoadConnections(path string, logger zerolog.Logger) (Connections, error) {
	m, err := load[model.ConnectionRecord](path, logger)
	return Connections(m), err
}

func LoadReputation(path string, logger zerolog.Logger) (Reputation, error) {
	m, err := load[model.ReputationRecord](path, logger)
	return Reputation(m), err
}

func LoadHistory(path string, logger zerolog.Logger) (History, error) {
	m, err := load[model.HistoryEntry](path, logger)
	if err != nil {
		return History(m), err
	}
	for ip, e := range m {
		if !e.RiskLevel.Valid() {
			e.RiskLevel = model.RiskUnknown
			m[ip] = e
		}
	}
	return History(m), nil
}

// LoadAll 任一文件读取出现 I/O 错误时返回错误；缺失或格式损坏按空数据集处理。
func LoadAll(p Paths, logger zerolog.Logger) (*Snapshot, error) {
	conns, err := LoadConnections(p.Connections, logger)
	if err != nil {
		return nil, err
	}
	rep, err := LoadReputation(p.Reputation, logger)
	if err != nil {
		return nil, err
	}
	hist, err := LoadHistory(p.History, logger)
	if err != nil {
		return nil, err
	}
	return &Snapshot{Connections: conns, Reputation: rep, History: hist}, nil
}

func SaveConnections(path string, c Connections) error { return save(path, c) }

func SaveReputation(path string, r Reputation) error { return save(path, r) }

func SaveHistory(path string, h History) error { return save(path, h) }

func load[T any](path string, logger zerolog.Logger) (map[string]T, error) {
	out := make(map[string]T)
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return out, nil
		}
		return out, fmt.Errorf("读取 %s 失败：%w", path, err)
	}
	if len(data) == 0 {
		return out, nil
	}
	if err := json.Unmarshal(data, &out); err != nil {
		logger.Warn().Err(err).Str("path", path).Msg("数据文件格式损坏，按空数据集处理")
		return make(map[string]T), nil
	}
	return out, nil
}

func save(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("序列化 %s 失败：%w", path, err)
	}
	data = append(data, '\n')
	return WriteFileAtomic(path, data, 0o644)
}
