package reputation

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"safeconnect/pkg/model"
)

// Lookuper 由 reconcile 引擎调用；返回错误时引擎按 UNKNOWN 处理。
type Lookuper interface {
	Lookup(ctx context.Context, ip string) (Result, error)
}

type Result struct {
	Score       *int
	CountryCode string
	ASN         *int
	Hostname    string
	Stats       map[string]int
}

func (r Result) Record(ip string, now time.Time) model.ReputationRecord {
	return model.ReputationRecord{
		IP:                ip,
		ConfidenceScore:   r.Score,
		CountryCode:       r.CountryCode,
		ASN:               r.ASN,
		Hostname:          r.Hostname,
		LastAnalysisStats: r.Stats,
		UpdatedAt:         model.At(now),
	}
}

type Provider struct {
	abuse  *AbuseIPDB
	vt     *VirusTotal
	rdns   *ReverseDNS
	logger zerolog.Logger
}

// NewProvider vt 与 rdns 可以为 nil。
func NewProvider(abuse *AbuseIPDB, vt *VirusTotal, rdns *ReverseDNS, logger zerolog.Logger) *Provider {
	return &Provider{abuse: abuse, vt: vt, rdns: rdns, logger: logger}
}

// Lookup 只有主信誉源失败才返回错误；次要信誉源和 PTR 失败仅记录告警。
func (p *Provider) Lookup(ctx context.Context, ip string) (Result, error) {
	ar, err := p.abuse.Check(ctx, ip)
	if err != nil {
		return Result{}, err
	}
	out := Result{Score: ar.Score, CountryCode: ar.CountryCode}

	if p.vt != nil {
		vr, err := p.vt.Check(ctx, ip)
		if err != nil {
			p.logger.Warn().Err(err).Str("ip", ip).Str("kind", Kind(err)).Msg("VirusTotal 查询失败，忽略")
		} else {
			out.ASN = vr.ASN
			out.Stats = vr.Stats
			if out.CountryCode == "" {
				out.CountryCode = vr.Country
			}
		}
	}

	if p.rdns != nil {
		host, err := p.rdns.LookupPTR(ctx, ip)
		if err != nil {
			p.logger.Debug().Err(err).Str("ip", ip).Msg("反向解析失败")
		} else {
			out.Hostname = host
		}
	}
	return out, nil
}
