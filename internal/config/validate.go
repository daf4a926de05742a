package config

import (
	"errors"
	"fmt"

	"safeconnect/internal/classify"
)

// ValidateAgent 在 agent 启动时调用，任何错误都应直接退出进程。
func ValidateAgent(cfg Config) error {
	var errs []error

	if _, err := Thresholds(cfg); err != nil {
		errs = append(errs, err)
	}
	if cfg.Engine.RescanInterval <= 0 {
		errs = append(errs, fmt.Errorf("engine.rescan_interval (RESCAN_INTERVAL) 必须为正数"))
	}
	switch cfg.Engine.RescanBasis {
	case RescanFromLastScanned, RescanFromLastSeen:
	default:
		errs = append(errs, fmt.Errorf("engine.rescan_basis 非法：%q", cfg.Engine.RescanBasis))
	}
	if cfg.Engine.Workers < 1 {
		errs = append(errs, fmt.Errorf("engine.workers 必须 >= 1"))
	}
	if cfg.Reputation.AbuseIPDB.APIKey == "" {
		errs = append(errs, fmt.Errorf("reputation.abuseipdb.api_key (ABUSEAPI) 不能为空"))
	}
	switch cfg.Snapshot.Source {
	case SourceNetstat, SourceEBPF:
	case SourceCapture:
		if cfg.Snapshot.Interface == "" {
			errs = append(errs, fmt.Errorf("snapshot.source=capture 时必须指定 snapshot.interface"))
		}
	default:
		errs = append(errs, fmt.Errorf("snapshot.source 非法：%q", cfg.Snapshot.Source))
	}
	if err := validateDataPaths(cfg.Data); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// ValidateServer 只检查只读投影需要的部分。
func ValidateServer(cfg Config) error {
	if cfg.Server.Listen == "" {
		return fmt.Errorf("server.listen 不能为空")
	}
	return validateDataPaths(cfg.Data)
}

// Thresholds 校验并构造分类器。
func Thresholds(cfg Config) (classify.Classifier, error) {
	if cfg.Classify.SafeThreshold == nil {
		return classify.Classifier{}, fmt.Errorf("classify.safe_threshold (SAFE_THRESHOLD) 未配置")
	}
	if cfg.Classify.MaliciousThreshold == nil {
		return classify.Classifier{}, fmt.Errorf("classify.malicious_threshold (MALICIOUS_THRESHOLD) 未配置")
	}
	return classify.New(*cfg.Classify.SafeThreshold, *cfg.Classify.MaliciousThreshold)
}

func validateDataPaths(d DataConfig) error {
	seen := map[string]string{}
	for name, p := range map[string]string{
		"connections_file": d.ConnectionsFile,
		"reputation_file":  d.ReputationFile,
		"history_file":     d.HistoryFile,
	} {
		if p == "" {
			return fmt.Errorf("data.%s 不能为空", name)
		}
		if other, ok := seen[p]; ok {
			return fmt.Errorf("data.%s 与 data.%s 指向同一文件：%s", name, other, p)
		}
		seen[p] = name
	}
	return nil
}
