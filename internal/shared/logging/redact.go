package logging

import "regexp"

var (
	bearerPattern = regexp.MustCompile(`(?i)(authorization:\s*bearer\s+)[A-Za-z0-9._\-]+`)
	apiKeyPattern = regexp.MustCompile(`\b(sk-[A-Za-z0-9]{4})[A-Za-z0-9_\-]{8,}`)
)

func redact(line string) string {
	line = bearerPattern.ReplaceAllString(line, "${1}***")
	return apiKeyPattern.ReplaceAllString(line, "${1}***")
}

// SanitizeAPIKey masks an API key for display.
func SanitizeAPIKey(key string) string {
	if len(key) <= 12 {
		return "***"
	}
	return key[:8] + "..." + key[len(key)-4:]
}
