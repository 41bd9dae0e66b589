package dns

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"time"

	"github.com/miekg/dns"

	"github.com/hmgle/sourcewatch/pkg/logger"
)

// DefaultResolvConf is consulted when no resolver address is configured.
const DefaultResolvConf = "/etc/resolv.conf"

// ErrNoAddress is returned when a name resolves to no A or AAAA record.
var ErrNoAddress = errors.New("no addresses found")

// Resolver performs the preflight lookup of the navigation target
type Resolver struct {
	server string
	client *dns.Client
	logger logger.Logger
}

// NewResolver creates a resolver querying server (host:port). An empty
// server falls back to the first nameserver in resolv.conf.
func NewResolver(server string, log logger.Logger) (*Resolver, error) {
	if server == "" {
		cc, err := dns.ClientConfigFromFile(DefaultResolvConf)
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", DefaultResolvConf, err)
		}
		if len(cc.Servers) == 0 {
			return nil, fmt.Errorf("no nameservers in %s", DefaultResolvConf)
		}
		server = net.JoinHostPort(cc.Servers[0], cc.Port)
	}

	return &Resolver{
		server: server,
		client: &dns.Client{Net: "udp", Timeout: 5 * time.Second},
		logger: log,
	}, nil
}

// Server returns the nameserver address in use.
func (r *Resolver) Server() string { return r.server }

// Lookup resolves host to its IPv4 and IPv6 addresses. IP literals are
// returned as is.
func (r *Resolver) Lookup(ctx context.Context, host string) ([]net.IP, error) {
	if ip := net.ParseIP(host); ip != nil {
		return []net.IP{ip}, nil
	}

	var ips []net.IP
	for _, qtype := range []uint16{dns.TypeA, dns.TypeAAAA} {
		msg := new(dns.Msg)
		msg.SetQuestion(dns.Fqdn(host), qtype)
		msg.RecursionDesired = true

		resp, rtt, err := r.client.ExchangeContext(ctx, msg, r.server)
		if err != nil {
			return nil, fmt.Errorf("%s query for %s: %w", dns.TypeToString[qtype], host, err)
		}
		r.logger.Debug("DNS %s %s via %s -> %s (%v)", dns.TypeToString[qtype], host, r.server, dns.RcodeToString[resp.Rcode], rtt)

		if resp.Rcode != dns.RcodeSuccess {
			if qtype == dns.TypeA {
				return nil, fmt.Errorf("%s query for %s: %s", dns.TypeToString[qtype], host, dns.RcodeToString[resp.Rcode])
			}
			continue
		}

		for _, rr := range resp.Answer {
			switch v := rr.(type) {
			case *dns.A:
				ips = append(ips, v.A)
			case *dns.AAAA:
				ips = append(ips, v.AAAA)
			}
		}
	}

	if len(ips) == 0 {
		return nil, fmt.Errorf("%s: %w", host, ErrNoAddress)
	}
	return ips, nil
}

// Preflight resolves the host of targetURL.
func (r *Resolver) Preflight(ctx context.Context, targetURL string) (string, []net.IP, error) {
	u, err := url.Parse(targetURL)
	if err != nil {
		return "", nil, fmt.Errorf("invalid target URL: %w", err)
	}
	host := u.Hostname()
	if host == "" {
		return "", nil, fmt.Errorf("target URL %q has no host", targetURL)
	}
	ips, err := r.Lookup(ctx, host)
	return host, ips, err
}
