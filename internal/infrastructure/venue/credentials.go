package venue

import "time"

// Credentials is the superset of secrets the supported venues need. Each
// adapter reads only its own fields. Instances live inside adapters for the
// lifetime of a session and are never handed to the storage layer.
type Credentials struct {
	// Signed-REST venues (API key + HMAC secret).
	APIKey    string
	APISecret string

	// Token-auth venues (username/password exchanged for a bearer token).
	Username     string
	Password     string
	AppID        string
	AppVersion   string
	DeviceID     string
	ClientID     string
	ClientSecret string

	// OAuth 1.0a venues.
	ConsumerKey      string
	ConsumerSecret   string
	OAuthToken       string
	OAuthTokenSecret string
}

// Settings carries the non-secret knobs of a venue session.
type Settings struct {
	HTTPURL      string
	WSURL        string
	PollInterval time.Duration
	// Symbols scoped to this venue: the watch list for streaming and the
	// scan set for order history on venues that require a symbol parameter.
	Symbols []string
}

// Config is what a factory receives to build an adapter.
type Config struct {
	Name        string
	Credentials Credentials
	Settings    Settings
}
