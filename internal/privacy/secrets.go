// Package privacy scrubs credentials from message text before it leaves the
// process.
package privacy

import (
	"regexp"
	"strings"
)

// Marker replaces every redacted value.
const Marker = "[REDACTED]"

var secretPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)(api[_-]?key|apikey)\s*[:=]\s*['"]?[a-zA-Z0-9_-]{20,}['"]?`),
	regexp.MustCompile(`(?i)(password|passwd|pwd)\s*[:=]\s*['"][^'"]{8,}['"]`),
	regexp.MustCompile(`(?i)(secret[_-]?key|secret[_-]?token|auth[_-]?token)\s*[:=]\s*['"]?[a-zA-Z0-9_-]{20,}['"]?`),
	regexp.MustCompile(`sk-(ant-)?[a-zA-Z0-9-]{20,}`),
	regexp.MustCompile(`gh[pous]_[a-zA-Z0-9]{36,}`),
	regexp.MustCompile(`github_pat_[a-zA-Z0-9_]{22,}`),
	regexp.MustCompile(`AKIA[0-9A-Z]{16}`),
	regexp.MustCompile(`-----BEGIN (RSA |EC |DSA |OPENSSH )?PRIVATE KEY-----`),
	regexp.MustCompile(`eyJ[a-zA-Z0-9_-]+\.eyJ[a-zA-Z0-9_-]+\.[a-zA-Z0-9_-]+`),
	regexp.MustCompile(`(?i)bearer\s+[a-zA-Z0-9_-]{20,}`),
	// Card-like digit runs.
	regexp.MustCompile(`\b(?:\d[ -]?){13,16}\b`),
}

// ContainsSecrets reports whether text holds anything that looks like a
// credential.
func ContainsSecrets(text string) bool {
	if text == "" {
		return false
	}
	for _, p := range secretPatterns {
		if p.MatchString(text) {
			return true
		}
	}
	return false
}

// Redact replaces detected secrets and returns the scrubbed text with the
// number of replacements. Assignments keep their key name so the sentence
// still reads naturally.
func Redact(text string) (string, int) {
	if text == "" {
		return text, 0
	}
	n := 0
	for _, p := range secretPatterns {
		text = p.ReplaceAllStringFunc(text, func(match string) string {
			n++
			if idx := strings.IndexAny(match, "=:"); idx != -1 && !strings.HasPrefix(match, "-----") {
				return match[:idx+1] + Marker
			}
			return Marker
		})
	}
	return text, n
}
