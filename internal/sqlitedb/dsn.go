package sqlitedb

import (
	"fmt"
	"net/url"
	"path/filepath"
	"strings"
)

const Scheme = "sqlite://"

// IsDSN reports whether dsn names a SQLite database.
func IsDSN(dsn string) bool {
	return strings.HasPrefix(dsn, Scheme)
}

// ParseDSN turns sqlite://path[?query] into a driver DSN. Relative paths are
// anchored at the working directory; sqlite://:memory: opens a private
// in-memory database.
func ParseDSN(dsn string) (string, error) {
	if !IsDSN(dsn) {
		return "", fmt.Errorf("invalid sqlite DSN scheme, expected %s", Scheme)
	}

	rest := strings.TrimPrefix(dsn, Scheme)
	if rest == "" {
		return "", fmt.Errorf("sqlite DSN has no path")
	}
	if rest == ":memory:" || strings.HasPrefix(rest, ":memory:?") {
		return rest, nil
	}

	path, query, hasQuery := strings.Cut(rest, "?")
	unescaped, err := url.PathUnescape(path)
	if err != nil {
		return "", fmt.Errorf("unescaping path: %w", err)
	}
	path = unescaped

	if !filepath.IsAbs(path) && !strings.HasPrefix(path, "./") {
		path = "./" + path
	}
	if hasQuery {
		return path + "?" + query, nil
	}
	return path, nil
}
