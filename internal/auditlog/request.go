package auditlog

import (
	"net"
	"net/http"
	"strings"
)

// RequestMeta is the request-derived context attached to an entry.
type RequestMeta struct {
	SourceIP string
	ActorID  string
	Path     string
}

// MetaFromRequest extracts the audit metadata of an inbound request.
func MetaFromRequest(r *http.Request) RequestMeta {
	return RequestMeta{
		SourceIP: ClientIP(r),
		ActorID:  ActorID(r),
		Path:     RequestPath(r),
	}
}

// ClientIP resolves the best-effort client IP. The first X-Forwarded-For hop
// wins, then X-Real-IP, then the connection's remote address.
func ClientIP(r *http.Request) string {
	if r == nil {
		return ""
	}

	if xff := strings.TrimSpace(r.Header.Get("X-Forwarded-For")); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		return strings.TrimSpace(first)
	}
	if rip := strings.TrimSpace(r.Header.Get("X-Real-IP")); rip != "" {
		return strings.Trim(rip, "[]")
	}

	return RemoteIP(r)
}

// RemoteIP returns the host of the connection's remote address, ignoring
// forwarding headers the sender controls.
func RemoteIP(r *http.Request) string {
	if r == nil {
		return ""
	}
	addr := strings.TrimSpace(r.RemoteAddr)
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return addr
	}
	return host
}

// ActorID returns the caller identifier forwarded by the frontend, if any.
func ActorID(r *http.Request) string {
	if r == nil {
		return ""
	}
	for _, header := range []string{"X-Actor-ID", "X-User-ID"} {
		if v := strings.TrimSpace(r.Header.Get(header)); v != "" {
			return v
		}
	}
	return ""
}

// RequestPath returns a stable request path.
func RequestPath(r *http.Request) string {
	if r == nil || r.URL == nil {
		return ""
	}
	if p := strings.TrimSpace(r.URL.Path); p != "" {
		return p
	}
	return "/"
}
