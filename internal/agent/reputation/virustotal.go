package reputation

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// VirusTotal 次要信誉源：补充 ASN、国家与最近一次分析统计。
type VirusTotal struct {
	endpoint string
	apiKey   string
	client   *http.Client
}

type VTResult struct {
	ASN     *int
	Country string
	Stats   map[string]int
}

type vtResponse struct {
	Data *struct {
		Attributes struct {
			ASN               *int           `json:"asn"`
			Country           string         `json:"country"`
			LastAnalysisStats map[string]int `json:"last_analysis_stats"`
		} `json:"attributes"`
	} `json:"data"`
}

func NewVirusTotal(endpoint, apiKey string, timeout time.Duration) *VirusTotal {
	return &VirusTotal{
		endpoint: strings.TrimRight(endpoint, "/"),
		apiKey:   apiKey,
		client:   &http.Client{Timeout: timeout},
	}
}

func (c *VirusTotal) Check(ctx context.Context, ip string) (VTResult, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint+"/"+url.PathEscape(ip), nil)
	if err != nil {
		return VTResult{}, fmt.Errorf("构造 VirusTotal 请求失败：%w", err)
	}
	req.Header.Set("x-apikey", c.apiKey)

	resp, err := c.client.Do(req)
	if err != nil {
		return VTResult{}, classifyNetErr(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return VTResult{}, fmt.Errorf("%w：VirusTotal status=%s body=%s", ErrStatus, resp.Status, string(b))
	}

	var body vtResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return VTResult{}, fmt.Errorf("%w：解析 VirusTotal 响应失败：%v", ErrBadResponse, classifyNetErr(err))
	}
	if body.Data == nil {
		return VTResult{}, fmt.Errorf("%w：VirusTotal 响应缺少 data", ErrBadResponse)
	}
	a := body.Data.Attributes
	return VTResult{ASN: a.ASN, Country: a.Country, Stats: a.LastAnalysisStats}, nil
}
