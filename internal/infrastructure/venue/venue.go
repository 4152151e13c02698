// Package venue holds the plumbing shared by every adapter: the factory
// registry keyed by venue type, the credential/settings carriers, HTTP
// response classification into the broker error taxonomy, and the WebSocket
// read loop used by streaming venues.
package venue

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"brokerhub/internal/application/port"
)

// NewHTTPClient returns the shared REST client shape: one client per
// adapter, hard request timeout included.
func NewHTTPClient() *http.Client {
	return &http.Client{Timeout: 10 * time.Second}
}

// ClassifyStatus converts a non-2xx venue response into the error taxonomy.
// 401/403 表示凭证被拒，5xx 表示场所不可用，其余原样带上截断后的响应体
func ClassifyStatus(venue string, status int, body []byte) error {
	msg := strings.TrimSpace(string(body))
	if len(msg) > 256 {
		msg = msg[:256]
	}
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return &port.AuthenticationError{Venue: venue, Err: fmt.Errorf("http %d: %s", status, msg)}
	case status >= 500:
		return &port.VenueUnavailableError{Venue: venue, StatusCode: status, Err: fmt.Errorf("http %d: %s", status, msg)}
	default:
		return fmt.Errorf("%s: http %d: %s", venue, status, msg)
	}
}

// WrapTransport converts a transport-level failure (dial, timeout) into a
// VenueUnavailableError.
func WrapTransport(venue string, err error) error {
	return &port.VenueUnavailableError{Venue: venue, Err: err}
}

// BuildQueryURL joins a base URL, path and raw query.
func BuildQueryURL(base, path, query string) (string, error) {
	base = strings.TrimRight(strings.TrimSpace(base), "/")
	if base == "" {
		return "", errors.New("base url is empty")
	}

	u, err := url.Parse(base)
	if err != nil {
		return "", err
	}
	u.Path = path
	u.RawQuery = query
	return u.String(), nil
}

// DialWS opens a WebSocket connection with a bounded dial.
func DialWS(ctx context.Context, wsURL string) (*websocket.Conn, error) {
	dctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	conn, _, err := websocket.DefaultDialer.DialContext(dctx, wsURL, nil)
	return conn, err
}

// ReadWithPing pumps messages from conn into onMessage until the connection
// fails or ctx is cancelled. The read deadline is refreshed on traffic and
// pongs; pings go out every 25s.
func ReadWithPing(ctx context.Context, conn *websocket.Conn, onMessage func([]byte)) error {
	_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	conn.SetPongHandler(func(string) error {
		_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	pingTicker := time.NewTicker(25 * time.Second)
	defer pingTicker.Stop()

	errCh := make(chan error, 1)
	go func() {
		defer close(errCh)
		for {
			_, b, err := conn.ReadMessage()
			if err == nil {
				_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
			}
			if err != nil {
				errCh <- err
				return
			}
			onMessage(b)
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-errCh:
			return err
		case <-pingTicker.C:
			_ = conn.WriteControl(websocket.PingMessage, []byte("ping"), time.Now().Add(5*time.Second))
		}
	}
}
