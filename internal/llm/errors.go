package llm

import (
	"regexp"
	"strings"
)

var (
	rateLimitHintRe = regexp.MustCompile(`(?i)rate limit|too many requests|requests per (?:minute|hour|day)|quota|throttl|429\b`)
	authHintRe      = regexp.MustCompile(`(?i)invalid.*(api.?key|x-api-key)|authentication|unauthorized|401\b|403\b`)
	overflowHintRe  = regexp.MustCompile(`(?i)context (?:window|length).*(too (?:large|long)|exceed|limit|max)|prompt is too long|maximum context length|request_too_large`)
)

func IsRateLimitError(err error) bool {
	return err != nil && rateLimitHintRe.MatchString(err.Error())
}

func IsAuthError(err error) bool {
	return err != nil && authHintRe.MatchString(err.Error())
}

func IsContextOverflowError(err error) bool {
	return err != nil && overflowHintRe.MatchString(err.Error())
}

// FriendlyError maps raw provider errors onto short messages fit for a chat
// reply. Unrecognized errors pass through with provider noise trimmed.
func FriendlyError(err error) string {
	if err == nil {
		return ""
	}
	switch {
	case IsRateLimitError(err):
		return "The model provider is rate limiting requests. Try again in a moment."
	case IsAuthError(err):
		return "The model provider rejected the configured API key."
	case IsContextOverflowError(err):
		return "The conversation is too long for the model's context window."
	}
	msg := strings.TrimSpace(err.Error())
	if len(msg) > 300 {
		msg = msg[:300] + "..."
	}
	return msg
}
