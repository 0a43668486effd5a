package domain

import (
	"regexp"
	"strings"
)

var (
	emailPattern = regexp.MustCompile(`\b[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}\b`)
	phonePattern = regexp.MustCompile(`\b(?:\+?1[-.\s]?)?\(?[0-9]{3}\)?[-.\s]?[0-9]{3}[-.\s]?[0-9]{4}\b`)
	ssnPattern   = regexp.MustCompile(`\b\d{3}-\d{2}-\d{4}\b`)
)

var sensitiveQueryTerms = []string{"password", "credit card", "ssn", "secret", "private key"}

// RedactPII masks emails, phone numbers, and SSNs in answer text before it
// leaves the pipeline.
func RedactPII(text string) string {
	if text == "" {
		return text
	}
	out := emailPattern.ReplaceAllString(text, "[EMAIL_REDACTED]")
	out = ssnPattern.ReplaceAllString(out, "[SSN_REDACTED]")
	out = phonePattern.ReplaceAllString(out, "[PHONE_REDACTED]")
	return out
}

// IsSensitiveQuery flags queries that must not enter the pipeline.
func IsSensitiveQuery(text string) bool {
	lower := strings.ToLower(text)
	for _, term := range sensitiveQueryTerms {
		if strings.Contains(lower, term) {
			return true
		}
	}
	return false
}
