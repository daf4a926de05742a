package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"safeconnect/internal/dataset"
	"safeconnect/pkg/model"
)

var riskLevels = []model.RiskLevel{model.RiskSafe, model.RiskSuspicious, model.RiskMalicious, model.RiskUnknown}

// RiskCollector 在每次抓取时读取数据集，输出各风险等级的 IP 数量。
type RiskCollector struct {
	load func() (*dataset.Snapshot, error)

	activeDesc  *prometheus.Desc
	historyDesc *prometheus.Desc
	upDesc      *prometheus.Desc
}

func NewRiskCollector(load func() (*dataset.Snapshot, error)) *RiskCollector {
	return &RiskCollector{
		load: load,
		activeDesc: prometheus.NewDesc(namespace+"_active_connections",
			"Currently connected remote IPs by risk level.", []string{"risk_level"}, nil),
		historyDesc: prometheus.NewDesc(namespace+"_history_ips",
			"IPs in the history ledger by risk level.", []string{"risk_level"}, nil),
		upDesc: prometheus.NewDesc(namespace+"_datasets_up",
			"1 if the datasets could be read during this scrape.", nil, nil),
	}
}

func (c *RiskCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.activeDesc
	ch <- c.historyDesc
	ch <- c.upDesc
}

func (c *RiskCollector) Collect(ch chan<- prometheus.Metric) {
	snap, err := c.load()
	if err != nil {
		ch <- prometheus.MustNewConstMetric(c.upDesc, prometheus.GaugeValue, 0)
		return
	}
	ch <- prometheus.MustNewConstMetric(c.upDesc, prometheus.GaugeValue, 1)

	active := make(map[model.RiskLevel]int, len(riskLevels))
	for ip := range snap.Connections {
		level := model.RiskUnknown
		if e, ok := snap.History.Find(ip); ok {
			level = e.RiskLevel
		}
		active[level]++
	}
	history := make(map[model.RiskLevel]int, len(riskLevels))
	for _, e := range snap.History {
		history[e.RiskLevel]++
	}

	for _, level := range riskLevels {
		ch <- prometheus.MustNewConstMetric(c.activeDesc, prometheus.GaugeValue, float64(active[level]), string(level))
		ch <- prometheus.MustNewConstMetric(c.historyDesc, prometheus.GaugeValue, float64(history[level]), string(level))
	}
}
