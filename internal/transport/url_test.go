package transport

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIngestURL(t *testing.T) {
	tests := []struct {
		base, prefix, key string
		want              string
	}{
		{"https://ingest.example.com", "", "abc", "wss://ingest.example.com/live/abc"},
		{"http://localhost:8080", "", "abc", "ws://localhost:8080/live/abc"},
		{"wss://ingest.example.com/", "", "abc", "wss://ingest.example.com/live/abc"},
		{"ws://10.0.0.1:9000", "/stream", "k1", "ws://10.0.0.1:9000/stream/k1"},
		{"https://example.com/api/?q=1#frag", "", "abc", "wss://example.com/api/live/abc"},
		{"HTTPS://example.com", "", "abc", "wss://example.com/live/abc"},
		{"http://localhost", "", "a b/c", "ws://localhost/live/a%20b%2Fc"},
	}
	for _, tt := range tests {
		got, err := IngestURL(tt.base, tt.prefix, tt.key)
		if assert.NoError(t, err, tt.base) {
			assert.Equal(t, tt.want, got, tt.base)
		}
	}
}

func TestIngestURLErrors(t *testing.T) {
	for _, tt := range []struct{ base, key string }{
		{"https://example.com", ""},
		{"https://example.com", ".."},
		{"ftp://example.com", "abc"},
		{"https://", "abc"},
		{"://bad", "abc"},
	} {
		_, err := IngestURL(tt.base, "", tt.key)
		assert.Error(t, err, "%s %q", tt.base, tt.key)
	}
}
