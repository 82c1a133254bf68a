package cliutil

import (
	"regexp"
	"strings"
)

const redactedPlaceholder = "[redacted]"

var (
	templateVarPattern = regexp.MustCompile(`\$\{[^}]+\}`)
	secretKeyPattern   = regexp.MustCompile(`(?i)\b(` + strings.Join(secretKeys(), "|") + `)\b(\s*[:=]\s*)(["']?)([^"'\s]+)(["']?)`)
)

func secretKeys() []string {
	keys := []string{
		"AWS_SECRET_ACCESS_KEY",
		"OPENWEATHER_API_KEY",
		"WEATHER_API_KEY",
		"OPENAI_API_KEY",
		"DATABASE_URL",
		"DB_PASSWORD",
		"API_KEY",
		"password",
		"ACCESS_TOKEN",
		"REFRESH_TOKEN",
		"CLIENT_SECRET",
	}
	escaped := make([]string, len(keys))
	for i, key := range keys {
		escaped[i] = regexp.QuoteMeta(key)
	}
	return escaped
}

// RedactSecrets masks ${VAR} references and known secret assignments in a
// backend output line before it is persisted or shown.
func RedactSecrets(message string) string {
	if message == "" {
		return message
	}
	redacted := templateVarPattern.ReplaceAllStringFunc(message, func(match string) string {
		return "${" + redactedPlaceholder + "}"
	})
	return secretKeyPattern.ReplaceAllString(redacted, "$1$2$3"+redactedPlaceholder+"$5")
}
