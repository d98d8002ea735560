// Package httputil holds small helpers shared by HTTP handlers.
package httputil

import (
	"net"
	"net/http"
	"net/netip"
	"strings"
)

// ClientIP returns the address used in request logs. With trustProxy the
// first X-Forwarded-For entry, then X-Real-IP, is preferred over RemoteAddr.
// Header values that do not parse as an address are ignored.
func ClientIP(r *http.Request, trustProxy bool) string {
	if trustProxy {
		first, _, _ := strings.Cut(r.Header.Get("X-Forwarded-For"), ",")
		if ip, ok := parseAddr(first); ok {
			return ip
		}
		if ip, ok := parseAddr(r.Header.Get("X-Real-IP")); ok {
			return ip
		}
	}
	if ip, ok := parseAddr(r.RemoteAddr); ok {
		return ip
	}
	return r.RemoteAddr
}

// parseAddr accepts a bare address or host:port and returns the address.
func parseAddr(s string) (string, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", false
	}
	if host, _, err := net.SplitHostPort(s); err == nil {
		s = host
	}
	addr, err := netip.ParseAddr(s)
	if err != nil {
		return "", false
	}
	return addr.Unmap().String(), true
}
