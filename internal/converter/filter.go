package converter

import "strings"

var commentPrefixes = []string{"#", "//", ";"}

// ShouldIgnore reports whether a trimmed line is blank or a comment.
func ShouldIgnore(line string) bool {
	if line == "" {
		return true
	}
	for _, prefix := range commentPrefixes {
		if strings.HasPrefix(line, prefix) {
			return true
		}
	}
	return false
}
