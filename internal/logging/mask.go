package logging

import (
	"regexp"
	"strings"
)

// secretPatterns match credentials embedded in free text such as error
// messages and raw response bodies.
var secretPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)("?(?:access_token|refresh_token|client_secret|id_token|password)"?\s*[=:]\s*"?)([^\s"&,}]+)`),
	regexp.MustCompile(`(?i)(bearer\s+)([A-Za-z0-9\-._~+/]+=*)`),
	regexp.MustCompile(`(?i)(bot\s+)([A-Za-z0-9\-._]{20,})`),
}

// Mask hides all but the edges of a credential.
func Mask(value string) string {
	if len(value) == 0 {
		return ""
	}
	if len(value) <= 4 {
		return strings.Repeat("*", len(value))
	}
	if len(value) <= 8 {
		return value[:2] + strings.Repeat("*", len(value)-2)
	}
	return value[:4] + strings.Repeat("*", len(value)-8) + value[len(value)-4:]
}

// MaskSecrets masks every credential-looking value in input.
func MaskSecrets(input string) string {
	result := input
	for _, pattern := range secretPatterns {
		result = pattern.ReplaceAllStringFunc(result, func(match string) string {
			parts := pattern.FindStringSubmatch(match)
			if len(parts) != 3 {
				return Mask(match)
			}
			return parts[1] + Mask(parts[2])
		})
	}
	return result
}
