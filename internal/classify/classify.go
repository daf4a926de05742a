package classify

import (
	"fmt"

	"safeconnect/pkg/model"
)

// Classifier 把 0-100 的置信度映射为风险等级。
type Classifier struct {
	Safe      int
	Malicious int
}

func New(safe, malicious int) (Classifier, error) {
	if safe < 0 {
		return Classifier{}, fmt.Errorf("safe_threshold 不能小于 0：%d", safe)
	}
	if malicious > 100 {
		return Classifier{}, fmt.Errorf("malicious_threshold 不能大于 100：%d", malicious)
	}
	if safe >= malicious {
		return Classifier{}, fmt.Errorf("safe_threshold(%d) 必须小于 malicious_threshold(%d)", safe, malicious)
	}
	return Classifier{Safe: safe, Malicious: malicious}, nil
}

func (c Classifier) Classify(score *int) model.RiskLevel {
	if score == nil {
		return model.RiskUnknown
	}
	s := *score
	switch {
	case s <= c.Safe:
		return model.RiskSafe
	case s < c.Malicious:
		return model.RiskSuspicious
	default:
		return model.RiskMalicious
	}
}
