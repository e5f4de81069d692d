package fetch

import (
	"regexp"
	"strings"

	"github.com/workrecap/workrecap/internal/ghes"
)

// Rubber-stamp comments carry no recap signal and only bloat prompts.
var noisePatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)^LGTM!?$`),
	regexp.MustCompile(`^\+1$`),
	regexp.MustCompile(`^:shipit:$`),
	regexp.MustCompile(`(?i)^Ship it!?$`),
}

var botSuffixes = []string{"[bot]", "-bot"}

func isBotLogin(login string) bool {
	lower := strings.ToLower(login)
	for _, suffix := range botSuffixes {
		if strings.HasSuffix(lower, suffix) {
			return true
		}
	}
	return false
}

func isNoiseComment(c ghes.IssueComment) bool {
	if isBotLogin(c.User.Login) {
		return true
	}
	body := strings.TrimSpace(c.Body)
	if body == "" {
		return true
	}
	for _, pattern := range noisePatterns {
		if pattern.MatchString(body) {
			return true
		}
	}
	return false
}

func isNoiseReview(r ghes.PRReview) bool {
	return isBotLogin(r.User.Login)
}
