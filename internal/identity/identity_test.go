package identity

import (
	"net/http/httptest"
	"testing"
)

func TestResolve(t *testing.T) {
	tests := []struct {
		name       string
		header     string
		forwarded  string
		remoteAddr string
		want       string
	}{
		{
			name:       "first forwarded entry",
			header:     "X-Forwarded-For",
			forwarded:  "203.0.113.9, 10.0.0.1, 10.0.0.2",
			remoteAddr: "10.0.0.2:5555",
			want:       "203.0.113.9",
		},
		{
			name:       "forwarded entry is trimmed",
			header:     "X-Forwarded-For",
			forwarded:  "   198.51.100.4   ",
			remoteAddr: "10.0.0.2:5555",
			want:       "198.51.100.4",
		},
		{
			name:       "forwarded value is opaque",
			header:     "X-Forwarded-For",
			forwarded:  "not-an-ip",
			remoteAddr: "10.0.0.2:5555",
			want:       "not-an-ip",
		},
		{
			name:       "empty first entry falls back to peer",
			header:     "X-Forwarded-For",
			forwarded:  " , 198.51.100.4",
			remoteAddr: "192.0.2.1:1234",
			want:       "192.0.2.1",
		},
		{
			name:       "peer address without header",
			header:     "X-Forwarded-For",
			remoteAddr: "192.0.2.1:1234",
			want:       "192.0.2.1",
		},
		{
			name:       "ipv6 peer",
			header:     "X-Forwarded-For",
			remoteAddr: "[2001:db8::1]:443",
			want:       "2001:db8::1",
		},
		{
			name:       "peer without port",
			header:     "X-Forwarded-For",
			remoteAddr: "192.0.2.7",
			want:       "192.0.2.7",
		},
		{
			name:       "header lookup disabled",
			header:     "",
			forwarded:  "203.0.113.9",
			remoteAddr: "192.0.2.1:1234",
			want:       "192.0.2.1",
		},
		{
			name: "nothing known",
			want: Unknown,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest("GET", "/usage", nil)
			r.RemoteAddr = tt.remoteAddr
			if tt.forwarded != "" {
				r.Header.Set("X-Forwarded-For", tt.forwarded)
			}

			if got := Resolve(r, tt.header); got != tt.want {
				t.Errorf("Resolve() = %q, want %q", got, tt.want)
			}
		})
	}
}
