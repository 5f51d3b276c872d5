package ptz

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Reference vector from RFC 2617 section 3.5.
func TestBuildAuthorization_ReferenceVector(t *testing.T) {
	challenge, ok := parseDigestChallenge(`Digest realm="testrealm@host.com", qop="auth,auth-int", nonce="dcd98b7102dd2f0e8b11d0f600bfb0c093", opaque="5ccc069c403ebaf9f0171e9517f40e41"`)
	require.True(t, ok)
	assert.Equal(t, "testrealm@host.com", challenge.realm)
	assert.Equal(t, "auth", challenge.qop)
	assert.Equal(t, "5ccc069c403ebaf9f0171e9517f40e41", challenge.opaque)

	header := buildAuthorization(challenge, "GET", "/dir/index.html",
		"Mufasa", "Circle Of Life", "0a4f113b", "00000001")

	assert.Contains(t, header, `response="6629fae49393a05397450978507c4ef1"`)
	assert.Contains(t, header, `username="Mufasa"`)
	assert.Contains(t, header, `uri="/dir/index.html"`)
	assert.Contains(t, header, `qop=auth`)
	assert.Contains(t, header, `nc=00000001`)
	assert.Contains(t, header, `cnonce="0a4f113b"`)
	assert.Contains(t, header, `opaque="5ccc069c403ebaf9f0171e9517f40e41"`)
}

func TestBuildAuthorization_WithoutQop(t *testing.T) {
	challenge, ok := parseDigestChallenge(`Digest realm="cam", nonce="abc123"`)
	require.True(t, ok)
	require.Empty(t, challenge.qop)

	header := buildAuthorization(challenge, "GET", "/cgi-bin/ptz.cgi?action=start",
		"admin", "pw", "ignored", "ignored")

	// Legacy form: response = MD5(HA1:nonce:HA2), no qop/nc/cnonce fields.
	want := md5Hex(md5Hex("admin:cam:pw") + ":abc123:" + md5Hex("GET:/cgi-bin/ptz.cgi?action=start"))
	assert.Contains(t, header, `response="`+want+`"`)
	assert.NotContains(t, header, "qop")
	assert.NotContains(t, header, "cnonce")
}

func TestParseDigestChallenge_Rejections(t *testing.T) {
	_, ok := parseDigestChallenge(`Basic realm="cam"`)
	assert.False(t, ok)

	_, ok = parseDigestChallenge(`Digest realm="cam"`)
	assert.False(t, ok, "challenge without a nonce is unusable")
}

func TestSplitChallengeParams_QuotedCommas(t *testing.T) {
	parts := splitChallengeParams(`realm="a,b", nonce="n", qop="auth,auth-int"`)
	assert.Equal(t, []string{`realm="a,b"`, `nonce="n"`, `qop="auth,auth-int"`}, parts)
}
