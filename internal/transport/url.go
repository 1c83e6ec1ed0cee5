package transport

import (
	"net/url"
	"path"
	"strings"

	errors "golang.org/x/xerrors"
)

// DefaultPathPrefix is the ingest path under which stream keys live.
const DefaultPathPrefix = "/live"

var errBadKey = errors.New("invalid stream key")

// IngestURL returns the websocket URL for the broadcast identified by key.
// The socket scheme mirrors base's scheme: https becomes wss and http becomes
// ws, while ws and wss pass through unchanged. Any path on base is kept in
// front of prefix.
func IngestURL(base, prefix, key string) (string, error) {
	if key == "" || key == "." || key == ".." {
		return "", errors.Errorf("stream key %q: %w", key, errBadKey)
	}
	u, err := url.Parse(base)
	if err != nil {
		return "", errors.Errorf("ingest url: %w", err)
	}

	switch strings.ToLower(u.Scheme) {
	case "https", "wss":
		u.Scheme = "wss"
	case "http", "ws":
		u.Scheme = "ws"
	default:
		return "", errors.Errorf("ingest url %q: unsupported scheme %q", base, u.Scheme)
	}
	if u.Host == "" {
		return "", errors.Errorf("ingest url %q: missing host", base)
	}

	if prefix == "" {
		prefix = DefaultPathPrefix
	}
	escaped := u.EscapedPath()
	u.Path = path.Join("/", u.Path, prefix, key)
	u.RawPath = path.Join("/", escaped, prefix, url.PathEscape(key))
	u.RawQuery = ""
	u.Fragment = ""
	return u.String(), nil
}
