package pipeline

import (
	"regexp"
	"strings"
)

// matchTrigger implements §4.7's trigger-pattern matching rule, applied
// only to POST_RESPONSE modules not already referenced by the template:
// a literal "*" always matches; otherwise a pattern that parses as a
// valid regular expression is matched against message; otherwise the
// pattern is treated as a case-insensitive, whitespace-separated keyword
// set and matches if any keyword occurs as a substring of message.
func matchTrigger(pattern, message string) bool {
	if pattern == "" {
		return false
	}
	if pattern == "*" {
		return true
	}
	if re, err := regexp.Compile(pattern); err == nil {
		return re.MatchString(message)
	}

	lower := strings.ToLower(message)
	for _, keyword := range strings.Fields(strings.ToLower(pattern)) {
		if strings.Contains(lower, keyword) {
			return true
		}
	}
	return false
}
