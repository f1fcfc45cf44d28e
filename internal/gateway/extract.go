package gateway

import (
	"net/url"
	"regexp"
	"strings"
)

var (
	presentationPathRe = regexp.MustCompile(`/presentation/d/([A-Za-z0-9_-]+)`)
	bareIDRe           = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)
)

// ExtractPresentationID returns the presentation ID from a Google Slides URL
// (anything containing /presentation/d/{id}) or from a bare ID.
func ExtractPresentationID(input string) (string, bool) {
	input = strings.TrimSpace(input)
	if input == "" {
		return "", false
	}

	if m := presentationPathRe.FindStringSubmatch(input); m != nil {
		return m[1], true
	}

	// Bare IDs never contain URL syntax.
	if strings.Contains(input, "://") {
		return "", false
	}
	if bareIDRe.MatchString(input) {
		return input, true
	}
	if unescaped, err := url.PathUnescape(input); err == nil && unescaped != input {
		return ExtractPresentationID(unescaped)
	}
	return "", false
}
