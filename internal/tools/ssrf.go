package tools

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"
)

// IsForbiddenIP reports whether an IP falls in a range outbound tool traffic
// must never reach: loopback, RFC 1918, link-local, and their IPv6
// equivalents (unique-local, link-local).
func IsForbiddenIP(ip net.IP) bool {
	return ip.IsLoopback() ||
		ip.IsPrivate() ||
		ip.IsLinkLocalUnicast() ||
		ip.IsLinkLocalMulticast() ||
		ip.IsUnspecified()
}

// NewSafeTransport returns an http.Transport whose dialer validates resolved
// addresses against forbidden ranges. The check happens at dial time, after
// DNS resolution, so a rebinding hostname cannot slip past a URL-level check.
func NewSafeTransport() *http.Transport {
	return &http.Transport{
		DialContext: func(ctx context.Context, network, addr string) (net.Conn, error) {
			host, port, err := net.SplitHostPort(addr)
			if err != nil {
				return nil, fmt.Errorf("ssrf guard: invalid address %q: %w", addr, err)
			}

			ips, err := net.DefaultResolver.LookupIPAddr(ctx, host)
			if err != nil {
				return nil, fmt.Errorf("ssrf guard: resolve %q: %w", host, err)
			}

			for _, ip := range ips {
				if IsForbiddenIP(ip.IP) {
					return nil, fmt.Errorf("ssrf guard: access to %s (%s) denied", host, ip.IP)
				}
			}

			dialer := &net.Dialer{Timeout: 10 * time.Second}
			return dialer.DialContext(ctx, network, net.JoinHostPort(ips[0].IP.String(), port))
		},
	}
}
