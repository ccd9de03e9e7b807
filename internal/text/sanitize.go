// Package text provides PII redaction and username anonymization for
// message content before it is stored or forwarded.
package text

import (
	"fmt"
	"hash/fnv"
	"regexp"
)

// redactionRule pairs a sensitive-data pattern with its replacement placeholder.
type redactionRule struct {
	re   *regexp.Regexp
	repl string
}

var redactionRules = compileRules([]struct {
	pattern string
	repl    string
}{
	{`\b\d{4}[-\s]?\d{4}[-\s]?\d{4}[-\s]?\d{4}\b`, "[CARD_NUMBER]"},
	{`\b\d{3}-\d{2}-\d{4}\b`, "[SSN]"},
	{`\b[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}\b`, "[EMAIL]"},
	{`\b(?:\d{1,3}\.){3}\d{1,3}\b`, "[IP_ADDRESS]"},
	{`\b[A-Fa-f0-9]{8}-[A-Fa-f0-9]{4}-[A-Fa-f0-9]{4}-[A-Fa-f0-9]{4}-[A-Fa-f0-9]{12}\b`, "[UUID]"},
	{`\b(?:sk-|pk_|rk_)[A-Za-z0-9_-]+\b`, "[API_KEY]"},
	{`\beyJ[A-Za-z0-9+/=._-]+\b`, "[TOKEN]"},
	{`\b[A-Za-z0-9+/]{40,}={0,2}\b`, "[TOKEN]"},
})

// compileRules compiles the redaction patterns. A pattern that fails to
// compile is skipped so the remaining rules still apply.
func compileRules(specs []struct {
	pattern string
	repl    string
},
) []redactionRule {
	rules := make([]redactionRule, 0, len(specs))
	for _, spec := range specs {
		re, err := regexp.Compile(spec.pattern)
		if err != nil {
			continue
		}
		rules = append(rules, redactionRule{re: re, repl: spec.repl})
	}
	return rules
}

// Sanitize redacts sensitive patterns (card numbers, SSNs, emails, IPv4
// addresses, UUIDs, API-key-shaped and JWT-shaped tokens) from message text.
// Applying Sanitize to already-sanitized text returns it unchanged.
func Sanitize(input string) string {
	if input == "" {
		return input
	}

	for _, rule := range redactionRules {
		input = rule.re.ReplaceAllString(input, rule.repl)
	}

	return input
}

// AnonymizeUsername replaces a username with a stable pseudonym when
// anonymization is enabled. The same username always maps to the same
// pseudonym within and across runs.
func AnonymizeUsername(username string, anonymize bool) string {
	if !anonymize {
		return username
	}
	if username == "" || username == "Unknown" {
		return "User"
	}

	h := fnv.New32a()
	h.Write([]byte(username))

	return fmt.Sprintf("User_%d", h.Sum32()%1000)
}
