// Package security masks credentials before they reach logs, the terminal or
// the audit trail.
package security

import (
	"net/url"
	"regexp"
	"strings"
)

// sensitiveFields contains field names whose values are always masked.
var sensitiveFields = map[string]bool{
	"api_key":      true,
	"secret":       true,
	"password":     true,
	"token":        true,
	"bot_token":    true,
	"access_token": true,
	"auth_token":   true,
	"bearer":       true,
	"credential":   true,
	"credentials":  true,
}

// sensitivePatterns contains regex patterns for credentials embedded in text.
var sensitivePatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)(api[_-]?key|secret|access[_-]?token|auth[_-]?token|bot[_-]?token|password)[=:]\s*["']?([^\s"'&]+)["']?`),
	// Telegram bot tokens, including inside /bot<token>/ URL paths.
	regexp.MustCompile(`\d{6,}:[A-Za-z0-9_-]{20,}`),
}

// MaskCredential masks all but the first and last four characters of value.
func MaskCredential(value string) string {
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

// IsSensitiveField reports whether a field of this name holds a credential.
func IsSensitiveField(field string) bool {
	return sensitiveFields[strings.ToLower(field)]
}

// MaskField masks val when key names a credential and scrubs embedded
// credentials otherwise.
func MaskField(key, val string) string {
	if IsSensitiveField(key) {
		return MaskCredential(val)
	}
	return MaskString(val)
}

// MaskString masks credentials embedded in free text such as error messages.
func MaskString(input string) string {
	result := input

	for _, pattern := range sensitivePatterns {
		result = pattern.ReplaceAllStringFunc(result, func(match string) string {
			for _, sep := range []string{"=", ":"} {
				parts := strings.SplitN(match, sep, 2)
				if len(parts) == 2 && !isDigits(parts[0]) {
					return parts[0] + sep + MaskCredential(strings.Trim(parts[1], "\"' "))
				}
			}
			return MaskCredential(match)
		})
	}

	return result
}

// MaskURL keeps the scheme and host of a webhook URL and masks its path and
// query, which commonly carry the hook's secret.
func MaskURL(raw string) string {
	if raw == "" {
		return ""
	}
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return MaskCredential(raw)
	}
	masked := u.Scheme + "://" + u.Host
	if rest := strings.TrimPrefix(u.RequestURI(), "/"); rest != "" {
		masked += "/" + MaskCredential(rest)
	}
	return masked
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
