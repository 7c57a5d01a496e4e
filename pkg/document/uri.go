package document

import (
	"fmt"
	"net/url"
	"path/filepath"
)

// LocalPath returns the filesystem path behind a file:// URI or a plain path.
func LocalPath(uri string) (string, error) {
	u, err := url.Parse(uri)
	if err != nil || u.Scheme == "" {
		return filepath.Clean(uri), nil
	}
	if u.Scheme != "file" {
		return "", fmt.Errorf("unsupported uri scheme %q", u.Scheme)
	}
	return filepath.Clean(u.Path), nil
}

// FileURI turns a path into a file:// URI.
func FileURI(path string) string {
	abs, err := filepath.Abs(path)
	if err != nil {
		abs = path
	}
	return (&url.URL{Scheme: "file", Path: filepath.ToSlash(abs)}).String()
}
