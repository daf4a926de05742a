package reputation

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

// AbuseIPDB 主信誉源：提供置信度与国家代码。
type AbuseIPDB struct {
	endpoint   string
	apiKey     string
	maxAgeDays int
	client     *http.Client
}

type AbuseResult struct {
	Score       *int
	CountryCode string
}

type abuseResponse struct {
	Data *struct {
		AbuseConfidenceScore *int    `json:"abuseConfidenceScore"`
		CountryCode          *string `json:"countryCode"`
	} `json:"data"`
}

func NewAbuseIPDB(endpoint, apiKey string, maxAgeDays int, timeout time.Duration) *AbuseIPDB {
	return &AbuseIPDB{
		endpoint:   endpoint,
		apiKey:     apiKey,
		maxAgeDays: maxAgeDays,
		client:     &http.Client{Timeout: timeout},
	}
}

func (c *AbuseIPDB) Check(ctx context.Context, ip string) (AbuseResult, error) {
	u, err := url.Parse(c.endpoint)
	if err != nil {
		return AbuseResult{}, fmt.Errorf("AbuseIPDB 地址非法：%w", err)
	}
	q := u.Query()
	q.Set("ipAddress", ip)
	q.Set("maxAgeInDays", strconv.Itoa(c.maxAgeDays))
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return AbuseResult{}, fmt.Errorf("构造 AbuseIPDB 请求失败：%w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Key", c.apiKey)

	resp, err := c.client.Do(req)
	if err != nil {
		return AbuseResult{}, classifyNetErr(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return AbuseResult{}, fmt.Errorf("%w：AbuseIPDB status=%s body=%s", ErrStatus, resp.Status, string(b))
	}

	var body abuseResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return AbuseResult{}, fmt.Errorf("%w：解析 AbuseIPDB 响应失败：%v", ErrBadResponse, classifyNetErr(err))
	}
	if body.Data == nil {
		return AbuseResult{}, fmt.Errorf("%w：AbuseIPDB 响应缺少 data", ErrBadResponse)
	}

	out := AbuseResult{Score: body.Data.AbuseConfidenceScore}
	if body.Data.CountryCode != nil {
		out.CountryCode = *body.Data.CountryCode
	}
	return out, nil
}
