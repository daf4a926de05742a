package reputation

import (
	"context"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/miekg/dns"
)

const resolvConf = "/etc/resolv.conf"

// ReverseDNS 通过 PTR 查询取得主机名。
type ReverseDNS struct {
	server string
	client *dns.Client
}

// NewReverseDNS server 为空时使用 /etc/resolv.conf 的第一个 nameserver。
func NewReverseDNS(server string, timeout time.Duration) (*ReverseDNS, error) {
	if server == "" {
		cc, err := dns.ClientConfigFromFile(resolvConf)
		if err != nil {
			return nil, fmt.Errorf("读取 %s 失败：%w", resolvConf, err)
		}
		if len(cc.Servers) == 0 {
			return nil, fmt.Errorf("%s 中没有 nameserver", resolvConf)
		}
		server = net.JoinHostPort(cc.Servers[0], cc.Port)
	} else if _, _, err := net.SplitHostPort(server); err != nil {
		server = net.JoinHostPort(server, "53")
	}
	return &ReverseDNS{
		server: server,
		client: &dns.Client{Timeout: timeout},
	}, nil
}

func (r *ReverseDNS) LookupPTR(ctx context.Context, ip string) (string, error) {
	arpa, err := dns.ReverseAddr(ip)
	if err != nil {
		return "", fmt.Errorf("构造 PTR 名称失败：%w", err)
	}
	m := new(dns.Msg)
	m.SetQuestion(arpa, dns.TypePTR)
	m.RecursionDesired = true

	in, _, err := r.client.ExchangeContext(ctx, m, r.server)
	if err != nil {
		return "", classifyNetErr(err)
	}
	if in.Rcode != dns.RcodeSuccess {
		return "", fmt.Errorf("PTR 查询失败：%s", dns.RcodeToString[in.Rcode])
	}
	for _, rr := range in.Answer {
		if ptr, ok := rr.(*dns.PTR); ok {
			return strings.TrimSuffix(ptr.Ptr, "."), nil
		}
	}
	return "", fmt.Errorf("PTR 查询无结果：%s", ip)
}
