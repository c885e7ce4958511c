package util

import "net"

// IPClassification buckets an address by how dangerous it is as a
// redirect target. Registration uses this to keep server-side requests
// and browser redirects away from internal infrastructure.
type IPClassification int

const (
	IPClassificationPublic IPClassification = iota
	// IPClassificationLoopback covers 127.0.0.0/8 and ::1. Permitted
	// for native-app redirect URIs per RFC 8252 section 7.3.
	IPClassificationLoopback
	// IPClassificationPrivate covers RFC 1918 ranges and fc00::/7.
	IPClassificationPrivate
	// IPClassificationLinkLocal covers 169.254.0.0/16 and fe80::/10,
	// which includes cloud instance metadata endpoints.
	IPClassificationLinkLocal
	// IPClassificationUnspecified covers 0.0.0.0 and ::.
	IPClassificationUnspecified
)

func (c IPClassification) String() string {
	switch c {
	case IPClassificationPublic:
		return "public"
	case IPClassificationLoopback:
		return "loopback"
	case IPClassificationPrivate:
		return "private"
	case IPClassificationLinkLocal:
		return "link_local"
	case IPClassificationUnspecified:
		return "unspecified"
	}
	return "unknown"
}

// ClassifyIP places an address into exactly one classification. A nil
// IP is reported as unspecified so callers reject it by default.
func ClassifyIP(ip net.IP) IPClassification {
	switch {
	case ip == nil, ip.IsUnspecified():
		return IPClassificationUnspecified
	case ip.IsLoopback():
		return IPClassificationLoopback
	case IsLinkLocal(ip):
		return IPClassificationLinkLocal
	case ip.IsPrivate():
		return IPClassificationPrivate
	}
	return IPClassificationPublic
}

// IsLinkLocal reports whether ip is link-local unicast or multicast.
// 169.254.169.254, the usual cloud metadata address, falls in here.
func IsLinkLocal(ip net.IP) bool {
	return ip.IsLinkLocalUnicast() || ip.IsLinkLocalMulticast()
}

// IsPrivateOrInternal reports whether ip is anything other than a
// publicly routable address.
func IsPrivateOrInternal(ip net.IP) bool {
	return ClassifyIP(ip) != IPClassificationPublic
}

// IsLoopbackHostname reports whether hostname (without port, as from
// url.Hostname) names a loopback address. "localhost" counts; 0.0.0.0
// does not, since it is unspecified rather than loopback.
func IsLoopbackHostname(hostname string) bool {
	if hostname == "localhost" {
		return true
	}

	// url.Hostname leaves brackets off IPv6, but accept both forms.
	if len(hostname) > 2 && hostname[0] == '[' && hostname[len(hostname)-1] == ']' {
		hostname = hostname[1 : len(hostname)-1]
	}

	if ip := net.ParseIP(hostname); ip != nil {
		return ip.IsLoopback()
	}
	return false
}
