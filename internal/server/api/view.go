package api

import (
	"sort"
	"strconv"

	"safeconnect/internal/dataset"
	"safeconnect/pkg/model"
)

// HistoryFilter 为 nil 的字段表示不过滤。
type HistoryFilter struct {
	Risk   *model.RiskLevel
	Active *bool
}

// BuildDashboard 把当前连接与 History / Reputation 合并，按 IP 排序。
// 任何缺失字段都以占位符输出，不会报错。
func BuildDashboard(snap *dataset.Snapshot) model.DashboardData {
	out := model.DashboardData{Connections: make([]model.ConnectionView, 0, len(snap.Connections))}
	countries := map[string]struct{}{}

	for ip, rec := range snap.Connections {
		h, hasHistory := snap.History.Find(ip)
		rep, _ := snap.Reputation.Find(ip)

		risk := model.RiskUnknown
		lastScanned := model.PlaceholderNever
		if hasHistory {
			risk = h.RiskLevel
			lastScanned = h.LastScanned.Display(model.PlaceholderNever)
		}
		if rep.CountryCode != "" {
			countries[rep.CountryCode] = struct{}{}
		}

		out.Connections = append(out.Connections, model.ConnectionView{
			IP:          ip,
			LocalIP:     orNA(rec.LocalIP),
			LocalPort:   rec.LocalPort,
			RemotePort:  rec.RemotePort,
			PID:         rec.PID,
			RiskLevel:   risk,
			Country:     orNA(rep.CountryCode),
			Hostname:    orNA(rep.Hostname),
			ASN:         intOrNA(rep.ASN),
			AbuseScore:  intOrNA(rep.ConfidenceScore),
			LastScanned: lastScanned,
		})
		countStat(&out.Stats, risk)
	}

	sort.Slice(out.Connections, func(i, j int) bool { return out.Connections[i].IP < out.Connections[j].IP })
	out.Total = len(out.Connections)
	out.UniqueCountries = len(countries)
	return out
}

// BuildHistory 输出完整账本，is_active 表示该 IP 当前仍在连接表中。按 last_seen 倒序，其次按 IP。
func BuildHistory(snap *dataset.Snapshot, f HistoryFilter) []model.HistoryView {
	out := make([]model.HistoryView, 0, len(snap.History))
	lastSeen := make(map[string]int64, len(snap.History))

	for ip, h := range snap.History {
		_, active := snap.Connections.Find(ip)
		if f.Risk != nil && h.RiskLevel != *f.Risk {
			continue
		}
		if f.Active != nil && active != *f.Active {
			continue
		}
		rep, _ := snap.Reputation.Find(ip)
		out = append(out, model.HistoryView{
			IP:          ip,
			FirstSeen:   h.FirstSeen.Display(model.PlaceholderNA),
			LastSeen:    h.LastSeen.Display(model.PlaceholderNA),
			LastScanned: h.LastScanned.Display(model.PlaceholderNever),
			TimesSeen:   h.TimesSeen,
			RiskLevel:   h.RiskLevel,
			Hostname:    orNA(rep.Hostname),
			Country:     orNA(rep.CountryCode),
			AbuseScore:  intOrNA(rep.ConfidenceScore),
			IsActive:    active,
		})
		lastSeen[ip] = h.LastSeen.UnixNano()
		if h.LastSeen.IsZero() {
			lastSeen[ip] = 0
		}
	}

	sort.Slice(out, func(i, j int) bool {
		a, b := lastSeen[out[i].IP], lastSeen[out[j].IP]
		if a != b {
			return a > b
		}
		return out[i].IP < out[j].IP
	})
	return out
}

func countStat(s *model.Stats, r model.RiskLevel) {
	s.All++
	switch r {
	case model.RiskSafe:
		s.Safe++
	case model.RiskSuspicious:
		s.Suspicious++
	case model.RiskMalicious:
		s.Malicious++
	default:
		s.Unknown++
	}
}

func orNA(s string) string {
	if s == "" {
		return model.PlaceholderNA
	}
	return s
}

func intOrNA(v *int) string {
	if v == nil {
		return model.PlaceholderNA
	}
	return strconv.Itoa(*v)
}
