// Package etrade adapts an E*TRADE-style stock venue onto the broker
// contract: OAuth 1.0a signed REST and fixed-interval quote polling.
package etrade

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha1"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"brokerhub/internal/infrastructure/venue"
)

// oauthSigner 按 RFC 5849 生成 OAuth 1.0a 请求头。
// nonce 和时钟可注入，方便测试固定签名。
type oauthSigner struct {
	consumerKey    string
	consumerSecret string
	token          string
	tokenSecret    string

	nonceFunc func() string
	nowFunc   func() time.Time
}

func newOAuthSigner(creds venue.Credentials) *oauthSigner {
	return &oauthSigner{
		consumerKey:    creds.ConsumerKey,
		consumerSecret: creds.ConsumerSecret,
		token:          creds.OAuthToken,
		tokenSecret:    creds.OAuthTokenSecret,
		nonceFunc:      randomNonce,
		nowFunc:        time.Now,
	}
}

func randomNonce() string {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return strconv.FormatInt(time.Now().UnixNano(), 10)
	}
	return hex.EncodeToString(b)
}

// header builds the Authorization value for one request. Query parameters
// take part in the signature; JSON bodies do not.
func (s *oauthSigner) header(method, rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", err
	}

	oauth := map[string]string{
		"oauth_consumer_key":     s.consumerKey,
		"oauth_nonce":            s.nonceFunc(),
		"oauth_signature_method": "HMAC-SHA1",
		"oauth_timestamp":        strconv.FormatInt(s.nowFunc().Unix(), 10),
		"oauth_token":            s.token,
		"oauth_version":          "1.0",
	}

	params := url.Values{}
	for k, vs := range u.Query() {
		for _, v := range vs {
			params.Add(k, v)
		}
	}
	for k, v := range oauth {
		params.Set(k, v)
	}

	oauth["oauth_signature"] = s.sign(signatureBase(method, u, params))

	keys := make([]string, 0, len(oauth))
	for k := range oauth {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString("OAuth ")
	for i, k := range keys {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(k)
		b.WriteString(`="`)
		b.WriteString(percentEncode(oauth[k]))
		b.WriteString(`"`)
	}
	return b.String(), nil
}

// signatureBase 拼签名基串：METHOD & 编码后的 URL & 编码后的有序参数串
func signatureBase(method string, u *url.URL, params url.Values) string {
	baseURL := strings.ToLower(u.Scheme) + "://" + strings.ToLower(u.Host) + u.Path

	pairs := make([]string, 0, len(params))
	for k, vs := range params {
		for _, v := range vs {
			pairs = append(pairs, percentEncode(k)+"="+percentEncode(v))
		}
	}
	sort.Strings(pairs)

	return strings.ToUpper(method) + "&" + percentEncode(baseURL) + "&" + percentEncode(strings.Join(pairs, "&"))
}

func (s *oauthSigner) sign(base string) string {
	key := percentEncode(s.consumerSecret) + "&" + percentEncode(s.tokenSecret)
	mac := hmac.New(sha1.New, []byte(key))
	mac.Write([]byte(base))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

// percentEncode 按 RFC 3986 编码，保留字符只有字母数字和 -._~
func percentEncode(s string) string {
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c >= 'A' && c <= 'Z', c >= 'a' && c <= 'z', c >= '0' && c <= '9',
			c == '-', c == '.', c == '_', c == '~':
			b.WriteByte(c)
		default:
			fmt.Fprintf(&b, "%%%02X", c)
		}
	}
	return b.String()
}
