// Package security masks credentials before they reach logs, errors or
// the console.
package security

import (
	"regexp"
	"sort"
	"strings"
)

// sensitiveFields contains field names that should be masked.
var sensitiveFields = map[string]bool{
	"api_key":      true,
	"apikey":       true,
	"secret":       true,
	"password":     true,
	"token":        true,
	"bot_token":    true,
	"access_token": true,
	"auth_token":   true,
	"bearer":       true,
	"credential":   true,
	"credentials":  true,
	"private_key":  true,
	"secret_key":   true,
}

// sensitivePatterns contains regex patterns for sensitive data.
var sensitivePatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)(api[_-]?key|secret[_-]?key|access[_-]?token|auth[_-]?token|bot[_-]?token|bearer|password)[=:\s]+["']?([^\s"']+)["']?`),
	regexp.MustCompile(`\d{6,12}:[A-Za-z0-9_-]{30,}`), // Telegram bot tokens
	regexp.MustCompile(`(?i)sk-[A-Za-z0-9_-]{20,}`),   // OpenAI keys
	regexp.MustCompile(`AIza[0-9A-Za-z_-]{35}`),       // Google API keys
}

// IsSensitiveField reports whether a field name holds a credential.
func IsSensitiveField(field string) bool {
	field = strings.ToLower(field)
	if i := strings.LastIndexByte(field, '.'); i >= 0 {
		field = field[i+1:]
	}
	return sensitiveFields[field]
}

// MaskCredential masks a credential, keeping a few characters at each end
// of long values.
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

// Redact replaces every known secret and every credential-looking token in
// input.
func Redact(input string, secrets ...string) string {
	result := input
	for _, s := range secrets {
		if len(s) >= 4 {
			result = strings.ReplaceAll(result, s, "[REDACTED]")
		}
	}

	for _, pattern := range sensitivePatterns {
		result = pattern.ReplaceAllStringFunc(result, func(match string) string {
			if strings.Contains(match, "[REDACTED]") {
				return match
			}
			for _, sep := range []string{"=", ":"} {
				if parts := strings.SplitN(match, sep, 2); len(parts) == 2 && !isDigits(parts[0]) {
					return parts[0] + sep + MaskCredential(strings.Trim(parts[1], "\"' "))
				}
			}
			return MaskCredential(match)
		})
	}
	return result
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

type redactedError struct {
	msg string
	err error
}

func (e *redactedError) Error() string { return e.msg }
func (e *redactedError) Unwrap() error { return e.err }

// RedactError returns err with secrets masked in its message. errors.Is and
// errors.As still see the original chain.
func RedactError(err error, secrets ...string) error {
	if err == nil {
		return nil
	}
	msg := Redact(err.Error(), secrets...)
	if msg == err.Error() {
		return err
	}
	return &redactedError{msg: msg, err: err}
}

// MaskSettings returns a copy of a flattened settings map with credentials
// masked, sorted keys first for stable output.
func MaskSettings(settings map[string]interface{}) map[string]interface{} {
	keys := make([]string, 0, len(settings))
	for k := range settings {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	result := make(map[string]interface{}, len(settings))
	for _, k := range keys {
		v := settings[k]
		switch {
		case IsSensitiveField(k):
			if s, ok := v.(string); ok {
				result[k] = MaskCredential(s)
			} else {
				result[k] = "***"
			}
		default:
			if s, ok := v.(string); ok {
				result[k] = Redact(s)
			} else {
				result[k] = v
			}
		}
	}
	return result
}
