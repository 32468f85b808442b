package logger

import (
	"log/slog"
	"strings"
)

// Keys whose values are credentials and are hidden entirely.
var secretKeyPatterns = []string{
	"api_key",
	"apikey",
	"secret",
	"password",
	"private_key",
	"encryption_key",
	"credential",
	"bearer",
}

// Keys whose values are session or install tokens. These keep a short
// prefix so log lines can be correlated without exposing the token.
var tokenKeyPatterns = []string{
	"token",
	"auth",
}

// redactedValue is the placeholder for redacted sensitive data.
const redactedValue = "***REDACTED***"

// tokenVisiblePrefix is how many leading characters of a token are kept.
const tokenVisiblePrefix = 5

// redactSensitive masks an attribute when its key or value looks sensitive.
func redactSensitive(a slog.Attr) slog.Attr {
	if a.Value.Kind() == slog.KindGroup {
		attrs := a.Value.Group()
		newAttrs := make([]slog.Attr, len(attrs))
		for i, attr := range attrs {
			newAttrs[i] = redactSensitive(attr)
		}
		return slog.Attr{Key: a.Key, Value: slog.GroupValue(newAttrs...)}
	}

	if a.Value.Kind() != slog.KindString {
		return a
	}
	strVal := a.Value.String()
	if strVal == "" {
		return a
	}

	// PEM material never reaches the log, whatever the key.
	if strings.Contains(strVal, "PRIVATE KEY-----") {
		return slog.String(a.Key, redactedValue)
	}

	keyLower := strings.ToLower(a.Key)
	if matchesAny(keyLower, secretKeyPatterns) {
		return slog.String(a.Key, redactedValue)
	}
	if matchesAny(keyLower, tokenKeyPatterns) {
		return slog.String(a.Key, MaskToken(strVal))
	}
	return a
}

func matchesAny(s string, patterns []string) bool {
	for _, p := range patterns {
		if strings.Contains(s, p) {
			return true
		}
	}
	return false
}

// MaskToken keeps the first five characters of a token and hides the
// rest. Tokens too short to keep a prefix are hidden entirely.
func MaskToken(token string) string {
	if len(token) <= tokenVisiblePrefix*2 {
		return "***"
	}
	return token[:tokenVisiblePrefix] + "***"
}

// IsSensitiveKey checks if a key name suggests sensitive content.
func IsSensitiveKey(key string) bool {
	keyLower := strings.ToLower(key)
	return matchesAny(keyLower, secretKeyPatterns) || matchesAny(keyLower, tokenKeyPatterns)
}
