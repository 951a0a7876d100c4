package upload

import (
	"strings"
)

const minIDLength = 6

// ExtractID pulls a PixelDrain file id out of a share link, a direct link or
// a bare id. It returns false for anything else.
func ExtractID(text string) (string, bool) {
	text = strings.TrimSpace(text)
	if strings.HasPrefix(text, "http") {
		segments := strings.Split(strings.TrimSuffix(text, "/"), "/")
		id := segments[len(segments)-1]
		if idShaped(id) {
			return id, true
		}
		return "", false
	}
	if idShaped(text) {
		return text, true
	}
	return "", false
}

func idShaped(s string) bool {
	if len(s) < minIDLength {
		return false
	}
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-':
		default:
			return false
		}
	}
	return true
}
