package etrade

import (
	"net/url"
	"strings"
	"testing"
	"time"

	"brokerhub/internal/infrastructure/venue"
)

func fixedSigner(nonce string) *oauthSigner {
	s := newOAuthSigner(venue.Credentials{
		ConsumerKey:      "consumer-key",
		ConsumerSecret:   "consumer-secret",
		OAuthToken:       "access-token",
		OAuthTokenSecret: "token-secret",
	})
	s.nonceFunc = func() string { return nonce }
	s.nowFunc = func() time.Time { return time.Unix(1700000000, 0) }
	return s
}

func parseOAuthHeader(t *testing.T, header string) map[string]string {
	t.Helper()
	if !strings.HasPrefix(header, "OAuth ") {
		t.Fatalf("header lacks OAuth prefix: %q", header)
	}
	out := map[string]string{}
	for _, part := range strings.Split(strings.TrimPrefix(header, "OAuth "), ", ") {
		k, v, ok := strings.Cut(part, "=")
		if !ok {
			t.Fatalf("malformed header part %q", part)
		}
		dec, err := url.QueryUnescape(strings.Trim(v, `"`))
		if err != nil {
			t.Fatalf("unescape %q: %v", v, err)
		}
		out[k] = dec
	}
	return out
}

// 固定 nonce 和时钟后，签名必须逐字节可复现
func TestOAuthHeaderSignsAccountsList(t *testing.T) {
	s := fixedSigner("fixed-nonce")

	header, err := s.header("GET", "https://api.etrade.com/v1/accounts/list")
	if err != nil {
		t.Fatalf("header: %v", err)
	}

	fields := parseOAuthHeader(t, header)
	want := map[string]string{
		"oauth_consumer_key":     "consumer-key",
		"oauth_nonce":            "fixed-nonce",
		"oauth_signature_method": "HMAC-SHA1",
		"oauth_timestamp":        "1700000000",
		"oauth_token":            "access-token",
		"oauth_version":          "1.0",
		"oauth_signature":        "MrYGQU/XXHgUURVG+ExVuglj8D4=",
	}
	for k, v := range want {
		if fields[k] != v {
			t.Errorf("%s = %q, want %q", k, fields[k], v)
		}
	}
	if len(fields) != len(want) {
		t.Errorf("header has %d fields, want %d: %v", len(fields), len(want), fields)
	}
}

// 查询参数参与签名但不进请求头
func TestOAuthHeaderSignsQueryParams(t *testing.T) {
	s := fixedSigner("n0")

	header, err := s.header("GET", "https://api.etrade.com/v1/market/quote/GOOG?detailFlag=ALL")
	if err != nil {
		t.Fatalf("header: %v", err)
	}

	fields := parseOAuthHeader(t, header)
	if got, want := fields["oauth_signature"], "poNvI7iSz8KItZPTIwp0YElrx6k="; got != want {
		t.Errorf("oauth_signature = %q, want %q", got, want)
	}
	if _, ok := fields["detailFlag"]; ok {
		t.Error("query parameter leaked into Authorization header")
	}
}

func TestSignatureBase(t *testing.T) {
	u, err := url.Parse("https://api.etrade.com/v1/market/quote/GOOG?detailFlag=ALL")
	if err != nil {
		t.Fatal(err)
	}

	params := url.Values{}
	params.Set("detailFlag", "ALL")
	params.Set("oauth_consumer_key", "consumer-key")
	params.Set("oauth_nonce", "n0")
	params.Set("oauth_signature_method", "HMAC-SHA1")
	params.Set("oauth_timestamp", "1700000000")
	params.Set("oauth_token", "access-token")
	params.Set("oauth_version", "1.0")

	got := signatureBase("get", u, params)
	want := "GET&https%3A%2F%2Fapi.etrade.com%2Fv1%2Fmarket%2Fquote%2FGOOG&" +
		"detailFlag%3DALL" +
		"%26oauth_consumer_key%3Dconsumer-key" +
		"%26oauth_nonce%3Dn0" +
		"%26oauth_signature_method%3DHMAC-SHA1" +
		"%26oauth_timestamp%3D1700000000" +
		"%26oauth_token%3Daccess-token" +
		"%26oauth_version%3D1.0"
	if got != want {
		t.Errorf("signature base mismatch\n got %s\nwant %s", got, want)
	}
}

func TestPercentEncode(t *testing.T) {
	cases := []struct {
		in, want string
	}{
		{"abcXYZ019", "abcXYZ019"},
		{"-._~", "-._~"},
		{" ", "%20"},
		{"+", "%2B"},
		{"/", "%2F"},
		{"=", "%3D"},
		{"a b&c", "a%20b%26c"},
		{"ü", "%C3%BC"},
	}
	for _, tc := range cases {
		if got := percentEncode(tc.in); got != tc.want {
			t.Errorf("percentEncode(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestRandomNonce(t *testing.T) {
	a, b := randomNonce(), randomNonce()
	if len(a) != 32 {
		t.Errorf("nonce length = %d, want 32", len(a))
	}
	if a == b {
		t.Error("two nonces should differ")
	}
}
