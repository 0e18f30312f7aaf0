// Package identity derives the opaque client key that quota usage is
// bucketed under.
package identity

import (
	"net"
	"net/http"
	"strings"
)

// Unknown is returned when a request carries no usable address.
const Unknown = "unknown"

// Resolve returns the client identity for r. When header is set and present
// on the request, its first comma-separated entry wins; otherwise the host
// part of the peer address is used. No validation is applied, so spoofed
// forwarded values are taken at face value.
func Resolve(r *http.Request, header string) string {
	if header != "" {
		if forwarded := r.Header.Get(header); forwarded != "" {
			first, _, _ := strings.Cut(forwarded, ",")
			if first = strings.TrimSpace(first); first != "" {
				return first
			}
		}
	}

	return peer(r.RemoteAddr)
}

func peer(remoteAddr string) string {
	if remoteAddr == "" {
		return Unknown
	}
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		return remoteAddr
	}
	if host == "" {
		return Unknown
	}
	return host
}
