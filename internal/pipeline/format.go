package pipeline

import "strings"

var allowedExtensions = map[string]bool{
	"png":  true,
	"jpg":  true,
	"jpeg": true,
}

// AllowedFile checks only the extension after the last dot, case-insensitively.
// Content is not sniffed.
func AllowedFile(filename string) bool {
	dot := strings.LastIndex(filename, ".")
	if dot < 0 {
		return false
	}
	return allowedExtensions[strings.ToLower(filename[dot+1:])]
}
