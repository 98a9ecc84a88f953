package security

import (
	"net"
	"net/http"
	"strings"
)

// GetClientIP extracts the client IP for rate limiting and audit events.
// Proxy headers are only consulted when trustProxy is set; trustedProxyCount
// says how many entries at the right end of X-Forwarded-For belong to
// infrastructure we control.
func GetClientIP(r *http.Request, trustProxy bool, trustedProxyCount int) string {
	if trustProxy {
		if ip := extractIPFromXFF(r.Header.Get("X-Forwarded-For"), trustedProxyCount); ip != "" {
			return ip
		}
		if ip := extractIPFromXRealIP(r.Header.Get("X-Real-IP")); ip != "" {
			return ip
		}
	}
	return extractIPFromRemoteAddr(r.RemoteAddr)
}

// extractIPFromXFF picks the client entry out of an X-Forwarded-For list.
// The header reads "client, proxy1, proxy2, ..."; everything a caller can
// forge sits to the left of the trusted proxies, so the client is the entry
// just before the trusted tail.
func extractIPFromXFF(xff string, trustedProxyCount int) string {
	if xff == "" {
		return ""
	}

	ips := strings.Split(xff, ",")
	if len(ips) == 0 {
		return ""
	}

	clientIP := strings.TrimSpace(ips[clientIPIndex(len(ips), trustedProxyCount)])
	if net.ParseIP(clientIP) != nil {
		return clientIP
	}
	return ""
}

// clientIPIndex is len(ips) - proxyCount - 1, clamped to the leftmost entry
// when the list is shorter than the configured proxy depth. A zero proxy
// count is treated as one proxy.
func clientIPIndex(numIPs, trustedProxyCount int) int {
	proxyCount := trustedProxyCount
	if proxyCount == 0 {
		proxyCount = 1
	}

	clientIndex := numIPs - proxyCount - 1
	if clientIndex < 0 {
		return 0
	}
	return clientIndex
}

func extractIPFromXRealIP(xri string) string {
	if xri == "" {
		return ""
	}
	if net.ParseIP(xri) != nil {
		return xri
	}
	return ""
}

// extractIPFromRemoteAddr handles direct connections; the address is the
// peer's, which is a proxy when one sits in front.
func extractIPFromRemoteAddr(remoteAddr string) string {
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		return remoteAddr
	}
	return host
}
