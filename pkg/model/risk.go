package model

type RiskLevel string

const (
	RiskSafe       RiskLevel = "SAFE"
	RiskSuspicious RiskLevel = "SUSPICIOUS"
	RiskMalicious  RiskLevel = "MALICIOUS"
	RiskUnknown    RiskLevel = "UNKNOWN"
)

// ParseRiskLevel 对未知或空字符串一律返回 UNKNOWN。
func ParseRiskLevel(s string) RiskLevel {
	switch RiskLevel(s) {
	case RiskSafe, RiskSuspicious, RiskMalicious:
		return RiskLevel(s)
	default:
		return RiskUnknown
	}
}

func (r RiskLevel) Valid() bool {
	switch r {
	case RiskSafe, RiskSuspicious, RiskMalicious, RiskUnknown:
		return true
	}
	return false
}
