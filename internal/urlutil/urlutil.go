package urlutil

import (
	"net"
	"net/url"
	"strings"
)

// EscapeComponent percent-encodes every byte of s outside the RFC 3986
// unreserved set (A-Z a-z 0-9 - _ . ~). Spaces become %20, never '+'.
func EscapeComponent(s string) string {
	// QueryEscape already keeps exactly the unreserved set; only its
	// form-style space needs rewriting. A literal '+' is escaped to %2B first.
	return strings.ReplaceAll(url.QueryEscape(s), "+", "%20")
}

// StripDefaultPort drops ":80" from http hosts and ":443" from https hosts.
func StripDefaultPort(scheme, host string) string {
	h, port, err := net.SplitHostPort(host)
	if err != nil {
		return host
	}
	if (scheme == "http" && port == "80") || (scheme == "https" && port == "443") {
		if strings.Contains(h, ":") {
			return "[" + h + "]"
		}
		return h
	}
	return host
}

// Query is an ordered list of query parameters. Unlike url.Values it encodes
// in insertion order.
type Query []Param

// Param is a single query parameter.
type Param struct {
	Key   string
	Value string
}

// Add appends a parameter.
func (q Query) Add(key, value string) Query {
	return append(q, Param{Key: key, Value: value})
}

// Encode renders the parameters as key=value pairs joined by '&', escaping
// both sides with EscapeComponent.
func (q Query) Encode() string {
	var b strings.Builder
	for i, p := range q {
		if i > 0 {
			b.WriteByte('&')
		}
		b.WriteString(EscapeComponent(p.Key))
		b.WriteByte('=')
		b.WriteString(EscapeComponent(p.Value))
	}
	return b.String()
}
