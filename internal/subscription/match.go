package subscription

import (
	"path"
	"strings"
)

// excluded reports whether a slash-separated relative path matches any of the
// exclude patterns. A pattern matches when it globs the full relative path,
// any single path component, or the basename. A pattern ending in "/**" also
// matches everything under the named directory.
func excluded(relPath string, patterns []string) bool {
	for _, pattern := range patterns {
		if pattern == "" {
			continue
		}
		if matchPattern(relPath, pattern) {
			return true
		}
	}
	return false
}

func matchPattern(relPath, pattern string) bool {
	if ok, _ := path.Match(pattern, relPath); ok {
		return true
	}
	for _, component := range strings.Split(relPath, "/") {
		if ok, _ := path.Match(pattern, component); ok {
			return true
		}
	}
	if ok, _ := path.Match(pattern, path.Base(relPath)); ok {
		return true
	}
	if dir, found := strings.CutSuffix(pattern, "/**"); found {
		if relPath == dir || strings.HasPrefix(relPath, dir+"/") {
			return true
		}
	}
	return false
}

// extensionAllowed reports whether a file passes the extension filter. An
// empty filter admits everything. Comparison is case-insensitive and
// tolerates a leading dot on either side.
func extensionAllowed(relPath string, extensions []string) bool {
	if len(extensions) == 0 {
		return true
	}
	ext := strings.ToLower(strings.TrimPrefix(path.Ext(relPath), "."))
	for _, allowed := range extensions {
		if strings.ToLower(strings.TrimPrefix(allowed, ".")) == ext {
			return true
		}
	}
	return false
}
