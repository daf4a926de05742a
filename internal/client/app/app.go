package app

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"time"

	"github.com/olekukonko/tablewriter"

	"safeconnect/pkg/model"
)

type Config struct {
	Server  string
	Timeout time.Duration
	Out     io.Writer
}

// HistoryQuery 空字符串表示不过滤。
type HistoryQuery struct {
	Risk   string
	Active string
}

func Connections(ctx context.Context, cfg Config) error {
	var data model.DashboardData
	if err := fetch(ctx, cfg, "/api/data", nil, &data); err != nil {
		return err
	}
	renderConnections(out(cfg), data)
	return nil
}

func History(ctx context.Context, cfg Config, q HistoryQuery) error {
	params := url.Values{}
	if q.Risk != "" {
		params.Set("risk", q.Risk)
	}
	if q.Active != "" {
		params.Set("active", q.Active)
	}
	var rows []model.HistoryView
	if err := fetch(ctx, cfg, "/api/history", params, &rows); err != nil {
		return err
	}
	renderHistory(out(cfg), rows)
	return nil
}

func fetch(ctx context.Context, cfg Config, path string, params url.Values, v any) error {
	u, err := url.Parse(cfg.Server)
	if err != nil || u.Host == "" {
		return fmt.Errorf("server 参数非法：%q", cfg.Server)
	}
	u.Path = path
	u.RawQuery = params.Encode()

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return fmt.Errorf("构造请求失败：%w", err)
	}
	client := &http.Client{Timeout: timeout}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("请求失败：%w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("查询失败：status=%s body=%s", resp.Status, string(b))
	}
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return fmt.Errorf("解析响应 JSON 失败：%w", err)
	}
	return nil
}

func out(cfg Config) io.Writer {
	if cfg.Out != nil {
		return cfg.Out
	}
	return os.Stdout
}

func renderConnections(w io.Writer, data model.DashboardData) {
	t := tablewriter.NewWriter(w)
	t.SetHeader([]string{"Remote IP", "Port", "Local", "PID", "Risk", "Score", "Country", "ASN", "Hostname", "Last Scanned"})
	t.SetAutoWrapText(false)
	t.SetRowLine(false)

	for _, c := range data.Connections {
		t.Append([]string{
			c.IP,
			strconv.Itoa(c.RemotePort),
			fmt.Sprintf("%s:%d", c.LocalIP, c.LocalPort),
			strconv.Itoa(c.PID),
			string(c.RiskLevel),
			c.AbuseScore,
			c.Country,
			c.ASN,
			c.Hostname,
			c.LastScanned,
		})
	}
	s := data.Stats
	t.SetFooter([]string{
		"total " + strconv.Itoa(data.Total), "", "", "",
		fmt.Sprintf("S%d/U%d/M%d/?%d", s.Safe, s.Suspicious, s.Malicious, s.Unknown),
		"", strconv.Itoa(data.UniqueCountries) + " countries", "", "", "",
	})
	t.Render()
}

func renderHistory(w io.Writer, rows []model.HistoryView) {
	t := tablewriter.NewWriter(w)
	t.SetHeader([]string{"IP", "Active", "Risk", "Score", "Country", "Hostname", "Seen", "First Seen", "Last Seen", "Last Scanned"})
	t.SetAutoWrapText(false)
	t.SetRowLine(false)

	for _, r := range rows {
		active := "no"
		if r.IsActive {
			active = "yes"
		}
		t.Append([]string{
			r.IP,
			active,
			string(r.RiskLevel),
			r.AbuseScore,
			r.Country,
			r.Hostname,
			strconv.Itoa(r.TimesSeen),
			r.FirstSeen,
			r.LastSeen,
			r.LastScanned,
		})
	}
	t.Render()
}
