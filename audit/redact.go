package audit

import (
	"net/http"
	"net/url"
	"strings"
)

const redacted = "[REDACTED]"

// sensitiveHeaders carry credentials and never reach an audit context verbatim.
var sensitiveHeaders = map[string]bool{
	"Authorization":          true,
	"Cookie":                 true,
	"Proxy-Authorization":    true,
	"Sec-Websocket-Protocol": true,
	"X-Api-Key":              true,
}

var sensitiveParams = map[string]bool{
	"token":        true,
	"access_token": true,
	"accesstoken":  true,
}

// RedactHeaders flattens h into a map suitable for an audit context with
// credential-bearing headers masked. extra names further headers to mask,
// such as a custom admin key header.
func RedactHeaders(h http.Header, extra ...string) map[string]string {
	out := make(map[string]string, len(h))
	for k, v := range h {
		key := http.CanonicalHeaderKey(k)
		if sensitiveHeaders[key] || containsHeader(extra, key) {
			out[key] = redacted
			continue
		}
		out[key] = strings.Join(v, ", ")
	}
	return out
}

func containsHeader(names []string, key string) bool {
	for _, n := range names {
		if http.CanonicalHeaderKey(n) == key {
			return true
		}
	}
	return false
}

// RedactQuery does the same for query parameters.
func RedactQuery(q url.Values) map[string]string {
	out := make(map[string]string, len(q))
	for k, v := range q {
		if sensitiveParams[strings.ToLower(k)] {
			out[k] = redacted
			continue
		}
		out[k] = strings.Join(v, ",")
	}
	return out
}
