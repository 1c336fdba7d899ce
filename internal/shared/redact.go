package shared

import (
	"regexp"
	"strings"
)

const redactedPlaceholder = "[REDACTED]"

// secretRule is one credential shape that must never reach a log line, a
// task description, or an API error. When keepPrefix is set, capture group 1
// survives so the reader still sees which field was scrubbed.
type secretRule struct {
	re         *regexp.Regexp
	keepPrefix bool
}

var secretRules = []secretRule{
	{re: regexp.MustCompile(`sk-ant-[A-Za-z0-9_\-]{20,}`)},
	{re: regexp.MustCompile(`sk-or-(?:v1-)?[A-Za-z0-9]{20,}`)},
	{re: regexp.MustCompile(`sk-[A-Za-z0-9_\-]{20,}`)},
	{re: regexp.MustCompile(`AIza[A-Za-z0-9_\-]{30,}`)},
	{re: regexp.MustCompile(`(?i)(bearer\s+)[A-Za-z0-9_\-./+=]{16,}`), keepPrefix: true},
	{re: regexp.MustCompile(`(?i)((?:api[_-]?key|secret(?:[_-]?key)?|auth[_-]?token|access[_-]?token|password)\s*[:=]\s*"?)[^\s"&]{8,}`), keepPrefix: true},
	{re: regexp.MustCompile(`(?i)([?&](?:token|key|api_key|access_token)=)[^&\s#]+`), keepPrefix: true},
}

// Redact scrubs provider API keys, bearer tokens and token query parameters
// out of free text.
func Redact(input string) string {
	if input == "" {
		return input
	}
	out := input
	for _, rule := range secretRules {
		if rule.keepPrefix {
			out = rule.re.ReplaceAllString(out, "${1}"+redactedPlaceholder)
			continue
		}
		out = rule.re.ReplaceAllLiteralString(out, redactedPlaceholder)
	}
	return out
}

var sensitiveKeyParts = []string{"token", "secret", "password", "authorization", "api_key", "apikey", "bearer", "credential"}

// SensitiveKey reports whether a field or variable name implies its value is
// a credential, e.g. "auth_token" or "OPENAI_API_KEY".
func SensitiveKey(key string) bool {
	lower := strings.ToLower(strings.TrimSpace(key))
	if lower == "" {
		return false
	}
	for _, part := range sensitiveKeyParts {
		if strings.Contains(lower, part) {
			return true
		}
	}
	return false
}
