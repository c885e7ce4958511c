package security

import (
	"net"
	"net/http"
	"strings"
)

// GetClientIP resolves the originating client address for a request.
//
// With trustProxy false the peer address is used as-is. With trustProxy
// true the X-Forwarded-For chain is consulted first, then X-Real-IP,
// falling back to the peer address. trustedProxyCount is the number of
// reverse proxies under our control that append to the chain; entries
// to the left of those are client-supplied and cannot be trusted beyond
// the position arithmetic below.
func GetClientIP(r *http.Request, trustProxy bool, trustedProxyCount int) string {
	if trustProxy {
		if ip := clientIPFromChain(r.Header.Get("X-Forwarded-For"), trustedProxyCount); ip != "" {
			return ip
		}
		if ip := r.Header.Get("X-Real-IP"); net.ParseIP(ip) != nil {
			return ip
		}
	}
	return peerAddress(r.RemoteAddr)
}

// clientIPFromChain picks the client entry out of an X-Forwarded-For
// list. The chain reads "client, proxy1, proxy2" with our own proxies
// appended rightmost, so the client sits trustedProxyCount entries from
// the right, one position further left. A zero count is treated as one
// proxy since the header only exists when at least one proxy wrote it.
func clientIPFromChain(xff string, trustedProxyCount int) string {
	if xff == "" {
		return ""
	}

	hops := strings.Split(xff, ",")

	proxies := trustedProxyCount
	if proxies == 0 {
		proxies = 1
	}
	idx := len(hops) - proxies - 1
	if idx < 0 {
		idx = 0
	}

	candidate := strings.TrimSpace(hops[idx])
	if net.ParseIP(candidate) == nil {
		return ""
	}
	return candidate
}

// peerAddress strips the port from a RemoteAddr host:port pair.
func peerAddress(remoteAddr string) string {
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		return remoteAddr
	}
	return host
}
