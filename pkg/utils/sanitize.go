package utils

import (
	"regexp"
	"strings"
)

var invalidFilenameChars = regexp.MustCompile(`[<>:"/\\|?*\x00-\x1F]`) // Invalid in Windows/Unix filenames
var consecutiveUnderscores = regexp.MustCompile(`_+`)
const maxSanitizedLength = 100

// SanitizeFilename turns an arbitrary label (site key, host) into a single safe path component.
func SanitizeFilename(name string) string {
	sanitized := invalidFilenameChars.ReplaceAllString(name, "_")
	sanitized = consecutiveUnderscores.ReplaceAllString(sanitized, "_")
	sanitized = strings.Trim(sanitized, "_ .")
	if len(sanitized) > maxSanitizedLength {
		sanitized = strings.Trim(sanitized[:maxSanitizedLength], "_ .")
	}
	if sanitized == "" {
		return "untitled"
	}
	return sanitized
}
