package torrent

import (
	"path/filepath"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// file patterns to ignore in source directory (case insensitive)
var ignoredPatterns = []string{
	".torrent",
	".ds_store",
	"thumbs.db",
	"desktop.ini",
}

// shouldIgnoreFile checks if a file should be ignored based on built-in
// patterns and user-defined exclude patterns. Exclude patterns are
// globs matched case-insensitively against both the file name and the
// slash-separated relative path, so "**/*.nfo" and "sample/*" both
// work. Malformed patterns simply never match.
func shouldIgnoreFile(relPath string, excludePatterns []string) bool {
	lowerPath := strings.ToLower(filepath.ToSlash(relPath))
	for _, pattern := range ignoredPatterns {
		if strings.HasSuffix(lowerPath, pattern) {
			return true
		}
	}

	lowerName := strings.ToLower(filepath.Base(relPath))
	for _, patternGroup := range excludePatterns {
		for _, pattern := range strings.Split(patternGroup, ",") {
			pattern = strings.ToLower(strings.TrimSpace(pattern))
			if pattern == "" {
				continue
			}
			if match, err := doublestar.Match(pattern, lowerName); err == nil && match {
				return true
			}
			if match, err := doublestar.Match(pattern, lowerPath); err == nil && match {
				return true
			}
		}
	}

	return false
}
