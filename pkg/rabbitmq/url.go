package rabbitmq

import (
	"fmt"
	"net/url"
	"strings"
)

// sanitizeURL strips quotes and stray prefixes that .env files tend to leave
// around AMQP_URL and insists on an amqp or amqps scheme.
func sanitizeURL(raw string) (string, error) {
	clean := strings.Trim(strings.TrimSpace(raw), "\"'")
	if idx := strings.Index(strings.ToLower(clean), "amqp"); idx > 0 {
		clean = clean[idx:]
	}
	u, err := url.Parse(clean)
	if err != nil {
		return "", err
	}
	if u.Scheme != "amqp" && u.Scheme != "amqps" {
		return "", fmt.Errorf("invalid AMQP scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return "", fmt.Errorf("AMQP URL has no host")
	}
	return clean, nil
}

// redact hides the password for logging.
func redact(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return "amqp://***"
	}
	return u.Redacted()
}
