package ptz

import (
	"crypto/md5" //nolint:gosec // mandated by RFC 2617
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync/atomic"
)

// digestChallenge holds the fields of a WWW-Authenticate: Digest header.
type digestChallenge struct {
	realm     string
	nonce     string
	qop       string
	opaque    string
	algorithm string
}

// digestTransport implements RFC 2617 HTTP Digest authentication as a
// round-tripper: requests go out unauthenticated, and a 401 challenge is
// answered exactly once with the computed Authorization header. CGI control
// requests are bodyless GETs, so the single retry is always safe.
type digestTransport struct {
	username string
	password string
	next     http.RoundTripper
	nc       atomic.Uint64
}

func newDigestTransport(username, password string, next http.RoundTripper) *digestTransport {
	if next == nil {
		next = http.DefaultTransport
	}
	return &digestTransport{username: username, password: password, next: next}
}

func (t *digestTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	resp, err := t.next.RoundTrip(req)
	if err != nil || resp.StatusCode != http.StatusUnauthorized {
		return resp, err
	}

	challenge, ok := parseDigestChallenge(resp.Header.Get("WWW-Authenticate"))
	if !ok {
		return resp, nil
	}

	// Drain the challenge body so the connection can be reused.
	_, _ = io.Copy(io.Discard, resp.Body)
	_ = resp.Body.Close()

	cnonce, err := newCnonce()
	if err != nil {
		return nil, err
	}
	nc := fmt.Sprintf("%08x", t.nc.Add(1))

	retry := req.Clone(req.Context())
	retry.Header.Set("Authorization", buildAuthorization(
		challenge, req.Method, req.URL.RequestURI(), t.username, t.password, cnonce, nc))

	return t.next.RoundTrip(retry)
}

// parseDigestChallenge extracts the quoted and unquoted key=value pairs of
// a Digest challenge. Returns false for non-Digest schemes.
func parseDigestChallenge(header string) (digestChallenge, bool) {
	const prefix = "Digest "
	if !strings.HasPrefix(header, prefix) {
		return digestChallenge{}, false
	}

	var c digestChallenge
	for _, part := range splitChallengeParams(header[len(prefix):]) {
		key, value, found := strings.Cut(part, "=")
		if !found {
			continue
		}
		value = strings.Trim(strings.TrimSpace(value), `"`)
		switch strings.ToLower(strings.TrimSpace(key)) {
		case "realm":
			c.realm = value
		case "nonce":
			c.nonce = value
		case "qop":
			// Servers may advertise "auth,auth-int"; auth is enough here.
			if strings.Contains(value, "auth") {
				c.qop = "auth"
			}
		case "opaque":
			c.opaque = value
		case "algorithm":
			c.algorithm = value
		}
	}
	if c.nonce == "" {
		return digestChallenge{}, false
	}
	return c, true
}

// splitChallengeParams splits on commas that are outside quoted strings.
func splitChallengeParams(s string) []string {
	var parts []string
	var sb strings.Builder
	inQuotes := false
	for _, r := range s {
		switch {
		case r == '"':
			inQuotes = !inQuotes
			sb.WriteRune(r)
		case r == ',' && !inQuotes:
			parts = append(parts, strings.TrimSpace(sb.String()))
			sb.Reset()
		default:
			sb.WriteRune(r)
		}
	}
	if sb.Len() > 0 {
		parts = append(parts, strings.TrimSpace(sb.String()))
	}
	return parts
}

// buildAuthorization computes the Authorization header for a challenge.
// With qop: response = MD5(HA1:nonce:nc:cnonce:qop:HA2); without:
// response = MD5(HA1:nonce:HA2).
func buildAuthorization(c digestChallenge, method, uri, username, password, cnonce, nc string) string {
	ha1 := md5Hex(username + ":" + c.realm + ":" + password)
	ha2 := md5Hex(method + ":" + uri)

	var response string
	if c.qop != "" {
		response = md5Hex(strings.Join([]string{ha1, c.nonce, nc, cnonce, c.qop, ha2}, ":"))
	} else {
		response = md5Hex(ha1 + ":" + c.nonce + ":" + ha2)
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, `Digest username="%s", realm="%s", nonce="%s", uri="%s", response="%s"`,
		username, c.realm, c.nonce, uri, response)
	if c.qop != "" {
		fmt.Fprintf(&sb, `, qop=%s, nc=%s, cnonce="%s"`, c.qop, nc, cnonce)
	}
	if c.opaque != "" {
		fmt.Fprintf(&sb, `, opaque="%s"`, c.opaque)
	}
	if c.algorithm != "" {
		fmt.Fprintf(&sb, `, algorithm=%s`, c.algorithm)
	}
	return sb.String()
}

func md5Hex(s string) string {
	sum := md5.Sum([]byte(s)) //nolint:gosec
	return hex.EncodeToString(sum[:])
}

func newCnonce() (string, error) {
	buf := make([]byte, 8)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate cnonce: %w", err)
	}
	return hex.EncodeToString(buf), nil
}
