package auth

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func TestExtractToken_Priority(t *testing.T) {
	tests := []struct {
		name   string
		header http.Header
		query  url.Values
		cookie string
		want   string
		source Source
	}{
		{
			name:   "header wins over everything",
			header: http.Header{"Authorization": {"Bearer h-tok"}},
			query:  url.Values{"token": {"q-tok"}},
			cookie: "accessToken=c-tok",
			want:   "h-tok",
			source: SourceHeader,
		},
		{
			name:   "lowercase scheme",
			header: http.Header{"Authorization": {"bearer h-tok"}},
			want:   "h-tok",
			source: SourceHeader,
		},
		{
			name:   "non bearer header falls through to query",
			header: http.Header{"Authorization": {"Basic abc"}},
			query:  url.Values{"token": {"q-tok"}},
			want:   "q-tok",
			source: SourceQuery,
		},
		{
			name:   "cookie is url decoded",
			cookie: "theme=dark; accessToken=a%2Bb%3Dc",
			want:   "a+b=c",
			source: SourceCookie,
		},
		{
			name:   "nothing",
			header: http.Header{},
			cookie: "other=1",
			want:   "",
			source: SourceNone,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := tt.header
			if h == nil {
				h = http.Header{}
			}
			got, src := ExtractToken(h, tt.query, tt.cookie)
			if got != tt.want || src != tt.source {
				t.Errorf("got (%q, %q), want (%q, %q)", got, src, tt.want, tt.source)
			}
		})
	}
}

func TestJWT_SignVerify(t *testing.T) {
	j := NewJWT("s3cret", "group-planner")
	tok, err := j.Sign("user-1", time.Minute)
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	c, err := j.Verify(context.Background(), tok)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if c.Subject != "user-1" {
		t.Errorf("subject = %q, want user-1", c.Subject)
	}
	if c.ExpiresAt.IsZero() {
		t.Error("expiry not populated")
	}
}

func TestJWT_Rejects(t *testing.T) {
	good := NewJWT("s3cret", "group-planner")

	expired := NewJWT("s3cret", "group-planner")
	expired.now = func() time.Time { return time.Now().Add(-time.Hour) }
	expiredTok, _ := expired.Sign("user-1", time.Minute)

	otherKey, _ := NewJWT("different", "group-planner").Sign("user-1", time.Minute)
	otherIssuer, _ := NewJWT("s3cret", "someone-else").Sign("user-1", time.Minute)

	noneTok, _ := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.RegisteredClaims{
		Subject:   "user-1",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Minute)),
	}).SignedString(jwt.UnsafeAllowNoneSignatureType)

	noSub, _ := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Issuer:    "group-planner",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Minute)),
	}).SignedString([]byte("s3cret"))

	tests := []struct {
		name string
		tok  string
		want error
	}{
		{"garbage", "not-a-jwt", ErrInvalidToken},
		{"expired", expiredTok, ErrInvalidToken},
		{"wrong key", otherKey, ErrInvalidToken},
		{"wrong issuer", otherIssuer, ErrInvalidToken},
		{"alg none", noneTok, ErrInvalidToken},
		{"no subject", noSub, ErrMissingSubject},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := good.Verify(context.Background(), tt.tok)
			if !errors.Is(err, tt.want) {
				t.Errorf("got %v, want %v", err, tt.want)
			}
		})
	}
}

func TestJWT_SignRequiresSubject(t *testing.T) {
	if _, err := NewJWT("k", "").Sign("", time.Minute); !errors.Is(err, ErrMissingSubject) {
		t.Errorf("got %v, want ErrMissingSubject", err)
	}
}
