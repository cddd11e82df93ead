// Package auth extracts bearer tokens from connection handshakes and verifies
// them as HMAC-signed JWTs.
package auth

import (
	"net/http"
	"net/url"
	"strings"
)

// CookieName is the cookie consulted when no header or query token is present.
const CookieName = "accessToken"

// QueryParam is the query parameter consulted after the Authorization header.
const QueryParam = "token"

// Source says where a token was found.
type Source string

const (
	SourceNone   Source = ""
	SourceHeader Source = "header"
	SourceQuery  Source = "query"
	SourceCookie Source = "cookie"
)

// ExtractToken returns the bearer token presented at handshake time.
// Priority: Authorization header, then the token query parameter, then the
// accessToken cookie (URL-decoded). cookie is the raw Cookie header value.
func ExtractToken(header http.Header, query url.Values, cookie string) (string, Source) {
	if tok := bearer(header.Get("Authorization")); tok != "" {
		return tok, SourceHeader
	}
	if tok := strings.TrimSpace(query.Get(QueryParam)); tok != "" {
		return tok, SourceQuery
	}
	if tok := cookieToken(cookie); tok != "" {
		return tok, SourceCookie
	}
	return "", SourceNone
}

func bearer(v string) string {
	const prefix = "bearer "
	if len(v) < len(prefix) || !strings.EqualFold(v[:len(prefix)], prefix) {
		return ""
	}
	return strings.TrimSpace(v[len(prefix):])
}

func cookieToken(raw string) string {
	if raw == "" {
		return ""
	}
	cookies, err := http.ParseCookie(raw)
	if err != nil {
		return ""
	}
	for _, c := range cookies {
		if c.Name != CookieName {
			continue
		}
		v, err := url.QueryUnescape(c.Value)
		if err != nil {
			return ""
		}
		return strings.TrimSpace(v)
	}
	return ""
}
