package model

// ConnectionRecord 以远端 IP 为 key，每个快照周期整体覆盖。
// Checked 是 reconcile 引擎唯一允许修改的字段。
type ConnectionRecord struct {
	RemotePort int    `json:"remote_port"`
	LocalIP    string `json:"local_ip"`
	LocalPort  int    `json:"local_port"`
	PID        int    `json:"pid"`
	Checked    bool   `json:"is_checked"`
}

// ReputationRecord 是最近一次成功查询的缓存，只会被新的成功查询覆盖。
type ReputationRecord struct {
	IP                string         `json:"ip"`
	ConfidenceScore   *int           `json:"abuse_confidence_score"`
	CountryCode       string         `json:"country_code,omitempty"`
	ASN               *int           `json:"asn,omitempty"`
	Hostname          string         `json:"hostname,omitempty"`
	LastAnalysisStats map[string]int `json:"last_analysis_stats,omitempty"`
	UpdatedAt         Timestamp      `json:"updated_at"`
}

type HistoryEntry struct {
	FirstSeen   Timestamp `json:"first_seen"`
	LastSeen    Timestamp `json:"last_seen"`
	TimesSeen   int       `json:"times_seen"`
	RiskLevel   RiskLevel `json:"risk_level"`
	LastScanned Timestamp `json:"last_scanned"`
}
