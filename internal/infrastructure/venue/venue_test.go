package venue

import (
	"errors"
	"io"
	"strings"
	"testing"

	"brokerhub/internal/application/port"
)

func TestClassifyStatus(t *testing.T) {
	tests := []struct {
		name        string
		status      int
		wantAuth    bool
		wantUnavail bool
	}{
		{"unauthorized", 401, true, false},
		{"forbidden", 403, true, false},
		{"server error", 500, false, true},
		{"bad gateway", 502, false, true},
		{"unavailable", 503, false, true},
		{"not found", 404, false, false},
		{"rate limited", 429, false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ClassifyStatus("binance", tt.status, []byte(`{"msg":"nope"}`))
			if err == nil {
				t.Fatal("expected an error")
			}
			if got := port.IsAuthentication(err); got != tt.wantAuth {
				t.Errorf("IsAuthentication = %v, want %v", got, tt.wantAuth)
			}
			if got := port.IsVenueUnavailable(err); got != tt.wantUnavail {
				t.Errorf("IsVenueUnavailable = %v, want %v", got, tt.wantUnavail)
			}
			if !strings.Contains(err.Error(), "nope") {
				t.Errorf("error should carry the response body, got %q", err.Error())
			}
		})
	}
}

func TestClassifyStatusKeepsStatusCode(t *testing.T) {
	err := ClassifyStatus("etrade", 503, nil)
	var vu *port.VenueUnavailableError
	if !errors.As(err, &vu) {
		t.Fatalf("expected VenueUnavailableError, got %T", err)
	}
	if vu.StatusCode != 503 {
		t.Errorf("StatusCode = %d, want 503", vu.StatusCode)
	}
	if vu.Venue != "etrade" {
		t.Errorf("Venue = %q, want etrade", vu.Venue)
	}
}

func TestClassifyStatusTruncatesBody(t *testing.T) {
	body := []byte(strings.Repeat("x", 300))
	err := ClassifyStatus("binance", 400, body)
	if n := strings.Count(err.Error(), "x"); n != 256 {
		t.Errorf("body not truncated to 256 bytes, got %d", n)
	}
}

func TestWrapTransport(t *testing.T) {
	err := WrapTransport("tradovate", io.ErrUnexpectedEOF)
	if !port.IsVenueUnavailable(err) {
		t.Error("transport failures should classify as venue unavailable")
	}
	if !errors.Is(err, io.ErrUnexpectedEOF) {
		t.Error("wrapped cause should survive errors.Is")
	}
}

func TestBuildQueryURL(t *testing.T) {
	tests := []struct {
		name    string
		base    string
		path    string
		query   string
		want    string
		wantErr bool
	}{
		{
			name:  "basic",
			base:  "https://api.binance.com",
			path:  "/api/v3/account",
			query: "a=1&b=2",
			want:  "https://api.binance.com/api/v3/account?a=1&b=2",
		},
		{
			name:  "trailing slash trimmed",
			base:  "https://api.binance.com/",
			path:  "/api/v3/time",
			query: "",
			want:  "https://api.binance.com/api/v3/time",
		},
		{
			name:    "empty base",
			base:    "  ",
			path:    "/x",
			query:   "",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := BuildQueryURL(tt.base, tt.path, tt.query)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}
