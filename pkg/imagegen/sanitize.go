package imagegen

import "regexp"

// Provider errors can echo back request headers or URLs containing API
// keys. These patterns strip anything credential-shaped before a message
// is stored or returned to a caller.
var sanitizePatterns = []*regexp.Regexp{
	regexp.MustCompile(`sk-[A-Za-z0-9_-]+`),
	regexp.MustCompile(`Bearer\s+\S+`),
	regexp.MustCompile(`(?i)(api[_-]?key|x-key|token)[=:]\s*\S+`),
	regexp.MustCompile(`\b[A-Za-z0-9]{32,}\b`),
}

// SanitizeError redacts credential-shaped substrings from an error
// message. Safe to call with nil.
func SanitizeError(err error) string {
	if err == nil {
		return ""
	}
	msg := err.Error()
	for _, p := range sanitizePatterns {
		msg = p.ReplaceAllString(msg, "[redacted]")
	}
	return msg
}
