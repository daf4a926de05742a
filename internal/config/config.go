package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"safeconnect/internal/logging"
)

const (
	DefaultConnectionsFile = "connections.json"
	DefaultReputationFile  = "abuseip.json"
	DefaultHistoryFile     = "history.json"

	DefaultCycleInterval    = time.Hour
	DefaultSnapshotInterval = 5 * time.Minute
	DefaultLookupDelay      = time.Second
	DefaultLookupTimeout    = 30 * time.Second
	DefaultFlowTTL          = 24 * time.Hour
	DefaultMaxAgeInDays     = 90

	DefaultAbuseURL = "https://api.abuseipdb.com/api/v2/check"
	DefaultVTURL    = "https://www.virustotal.com/api/v3/ip_addresses"

	DefaultServerListen = ":5000"

	SourceNetstat = "netstat"
	SourceEBPF    = "ebpf"
	SourceCapture = "capture"

	RescanFromLastScanned = "last_scanned"
	RescanFromLastSeen    = "last_seen"
)

type Config struct {
	Data       DataConfig       `yaml:"data"`
	Classify   ClassifyConfig   `yaml:"classify"`
	Engine     EngineConfig     `yaml:"engine"`
	Snapshot   SnapshotConfig   `yaml:"snapshot"`
	Reputation ReputationConfig `yaml:"reputation"`
	Agent      AgentConfig      `yaml:"agent"`
	Server     ServerConfig     `yaml:"server"`
	Log        logging.Config   `yaml:"log"`
}

// DataConfig 三个数据集文件的位置。
type DataConfig struct {
	ConnectionsFile string `yaml:"connections_file" env:"CONN_RECORD_FILE"`
	ReputationFile  string `yaml:"reputation_file" env:"ABUSEIP_INFO_FILE"`
	HistoryFile     string `yaml:"history_file" env:"HISTORY_FILE"`
}

// ClassifyConfig 阈值没有默认值，缺失即启动失败。
type ClassifyConfig struct {
	SafeThreshold      *int `yaml:"safe_threshold" env:"SAFE_THRESHOLD"`
	MaliciousThreshold *int `yaml:"malicious_threshold" env:"MALICIOUS_THRESHOLD"`
}

type EngineConfig struct {
	RescanInterval time.Duration `yaml:"rescan_interval" env:"RESCAN_INTERVAL"`
	RescanBasis    string        `yaml:"rescan_basis" env:"RESCAN_BASIS"`
	CycleInterval  time.Duration `yaml:"cycle_interval" env:"CYCLE_INTERVAL"`
	LookupDelay    time.Duration `yaml:"lookup_delay" env:"LOOKUP_DELAY"`
	Workers        int           `yaml:"workers" env:"LOOKUP_WORKERS"`
}

type SnapshotConfig struct {
	Interval  time.Duration `yaml:"interval" env:"SNAPSHOT_INTERVAL"`
	Source    string        `yaml:"source" env:"SNAPSHOT_SOURCE"`
	Interface string        `yaml:"interface" env:"SNAPSHOT_INTERFACE"`
	FlowTTL   time.Duration `yaml:"flow_ttl" env:"SNAPSHOT_FLOW_TTL"`
	// EBPFPID 让 capture 模式借助 eBPF tracepoint 解析 PID。
	EBPFPID bool `yaml:"ebpf_pid" env:"SNAPSHOT_EBPF_PID"`
}

type ReputationConfig struct {
	AbuseIPDB      AbuseIPDBConfig  `yaml:"abuseipdb"`
	VirusTotal     VirusTotalConfig `yaml:"virustotal"`
	Timeout        time.Duration    `yaml:"timeout" env:"LOOKUP_TIMEOUT"`
	SkipReverseDNS bool             `yaml:"skip_reverse_dns" env:"SKIP_REVERSE_DNS"`
	// DNSServer 形如 1.1.1.1:53；为空时读取 /etc/resolv.conf。
	DNSServer string `yaml:"dns_server" env:"DNS_SERVER"`
}

type AbuseIPDBConfig struct {
	URL          string `yaml:"url" env:"ABUSE_URL"`
	APIKey       string `yaml:"api_key" env:"ABUSEAPI"`
	MaxAgeInDays int    `yaml:"max_age_in_days" env:"ABUSE_MAX_AGE_DAYS"`
}

type VirusTotalConfig struct {
	URL    string `yaml:"url" env:"VT_URL"`
	APIKey string `yaml:"api_key" env:"VTAPI"`
}

type AgentConfig struct {
	// MetricsListen 为空则不暴露 /metrics。
	MetricsListen string `yaml:"metrics_listen" env:"AGENT_METRICS_LISTEN"`
}

type ServerConfig struct {
	Listen string `yaml:"listen" env:"SERVER_LISTEN"`
}

// Load 读取 YAML（path 为空则跳过），再叠加环境变量，最后补默认值。
func Load(path string) (Config, error) {
	var cfg Config
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("读取配置文件失败：%w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("解析配置文件失败：%w", err)
		}
	}
	if err := LoadFromEnv(&cfg); err != nil {
		return Config{}, err
	}
	ApplyDefaults(&cfg)
	return cfg, nil
}

func ApplyDefaults(cfg *Config) {
	if cfg.Data.ConnectionsFile == "" {
		cfg.Data.ConnectionsFile = DefaultConnectionsFile
	}
	if cfg.Data.ReputationFile == "" {
		cfg.Data.ReputationFile = DefaultReputationFile
	}
	if cfg.Data.HistoryFile == "" {
		cfg.Data.HistoryFile = DefaultHistoryFile
	}
	if cfg.Engine.RescanBasis == "" {
		cfg.Engine.RescanBasis = RescanFromLastScanned
	}
	if cfg.Engine.CycleInterval == 0 {
		cfg.Engine.CycleInterval = DefaultCycleInterval
	}
	if cfg.Engine.LookupDelay == 0 {
		cfg.Engine.LookupDelay = DefaultLookupDelay
	}
	if cfg.Engine.Workers == 0 {
		cfg.Engine.Workers = 1
	}
	if cfg.Snapshot.Interval == 0 {
		cfg.Snapshot.Interval = DefaultSnapshotInterval
	}
	if cfg.Snapshot.Source == "" {
		cfg.Snapshot.Source = SourceNetstat
	}
	if cfg.Snapshot.FlowTTL == 0 {
		cfg.Snapshot.FlowTTL = DefaultFlowTTL
	}
	if cfg.Reputation.AbuseIPDB.URL == "" {
		cfg.Reputation.AbuseIPDB.URL = DefaultAbuseURL
	}
	if cfg.Reputation.AbuseIPDB.MaxAgeInDays == 0 {
		cfg.Reputation.AbuseIPDB.MaxAgeInDays = DefaultMaxAgeInDays
	}
	if cfg.Reputation.VirusTotal.URL == "" {
		cfg.Reputation.VirusTotal.URL = DefaultVTURL
	}
	if cfg.Reputation.Timeout == 0 {
		cfg.Reputation.Timeout = DefaultLookupTimeout
	}
	if cfg.Server.Listen == "" {
		cfg.Server.Listen = DefaultServerListen
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
}
