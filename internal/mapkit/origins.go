package mapkit

import (
	"net"
	"net/http"
	"net/url"
	"strings"
)

// OriginList is the set of web origins allowed to receive browser tokens.
// Entries are compared as scheme://host[:port], case-insensitively, with
// default ports dropped.
type OriginList struct {
	entries []string
	set     map[string]struct{}
}

func NewOriginList(origins []string) (*OriginList, error) {
	list := &OriginList{set: make(map[string]struct{})}
	for _, raw := range origins {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		normalized, ok := NormalizeOrigin(raw)
		if !ok {
			return nil, &ConfigError{Field: "allowed origins", Reason: "invalid origin " + raw}
		}
		if _, seen := list.set[normalized]; seen {
			continue
		}
		list.set[normalized] = struct{}{}
		list.entries = append(list.entries, normalized)
	}

	if len(list.entries) == 0 {
		return nil, &ConfigError{Field: "allowed origins", Reason: "at least one origin is required"}
	}

	return list, nil
}

func (l *OriginList) Allowed(origin string) bool {
	normalized, ok := NormalizeOrigin(origin)
	if !ok {
		return false
	}
	_, allowed := l.set[normalized]
	return allowed
}

// Claim is the value of the origin claim: every allowed origin, comma joined.
func (l *OriginList) Claim() string {
	return strings.Join(l.entries, ",")
}

func (l *OriginList) Entries() []string {
	return append([]string(nil), l.entries...)
}

func NormalizeOrigin(raw string) (string, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" || raw == "null" {
		return "", false
	}

	u, err := url.Parse(raw)
	if err != nil || u.Host == "" || u.User != nil {
		return "", false
	}

	scheme := strings.ToLower(u.Scheme)
	if scheme != "http" && scheme != "https" {
		return "", false
	}

	host := strings.ToLower(u.Hostname())
	if host == "" {
		return "", false
	}
	port := u.Port()
	if (scheme == "http" && port == "80") || (scheme == "https" && port == "443") {
		port = ""
	}
	if port != "" {
		host = net.JoinHostPort(host, port)
	} else if strings.Contains(host, ":") {
		host = "[" + host + "]"
	}

	return scheme + "://" + host, true
}

// RequestOrigin returns the origin the browser declared, falling back to the
// origin of the Referer for same-origin requests that omit the header.
func RequestOrigin(r *http.Request) string {
	if origin := strings.TrimSpace(r.Header.Get("Origin")); origin != "" {
		return origin
	}

	referer := strings.TrimSpace(r.Header.Get("Referer"))
	if referer == "" {
		return ""
	}
	u, err := url.Parse(referer)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return ""
	}
	return u.Scheme + "://" + u.Host
}
