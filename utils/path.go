package utils

import (
	"path/filepath"
	"strings"
)

// JoinPath joins path elements
func JoinPath(elem ...string) string {
	return filepath.Join(elem...)
}

// IsSafePathElement checks if the given name can be used as a single
// directory entry name, without escaping its parent directory
func IsSafePathElement(name string) bool {
	if len(name) == 0 || name == "." || name == ".." {
		return false
	}

	if strings.HasPrefix(name, ".") {
		return false
	}

	if strings.ContainsAny(name, `/\`) || strings.ContainsRune(name, 0) {
		return false
	}

	return true
}
