package model

const (
	PlaceholderNA    = "N/A"
	PlaceholderNever = "Never"
)

type ConnectionView struct {
	IP          string    `json:"ip"`
	LocalIP     string    `json:"local_ip"`
	LocalPort   int       `json:"local_port"`
	RemotePort  int       `json:"remote_port"`
	PID         int       `json:"pid"`
	RiskLevel   RiskLevel `json:"risk_level"`
	Country     string    `json:"country"`
	Hostname    string    `json:"hostname"`
	ASN         string    `json:"asn"`
	AbuseScore  string    `json:"abuse_score"`
	LastScanned string    `json:"last_scanned"`
}

type Stats struct {
	All        int `json:"all"`
	Safe       int `json:"safe"`
	Suspicious int `json:"suspicious"`
	Malicious  int `json:"malicious"`
	Unknown    int `json:"unknown"`
}

type DashboardData struct {
	Stats           Stats            `json:"stats"`
	Total           int              `json:"total"`
	UniqueCountries int              `json:"unique_countries"`
	Connections     []ConnectionView `json:"connections"`
}

type HistoryView struct {
	IP          string    `json:"ip"`
	FirstSeen   string    `json:"first_seen"`
	LastSeen    string    `json:"last_seen"`
	LastScanned string    `json:"last_scanned"`
	TimesSeen   int       `json:"times_seen"`
	RiskLevel   RiskLevel `json:"risk_level"`
	Hostname    string    `json:"hostname"`
	Country     string    `json:"country"`
	AbuseScore  string    `json:"abuse_score"`
	IsActive    bool      `json:"is_active"`
}
