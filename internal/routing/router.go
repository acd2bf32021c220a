// Package routing classifies requests onto domains by keyword and regex rules.
package routing

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/fentz26/conductor/internal/models"
)

// Match is one domain selected for a request and why.
type Match struct {
	Domain string `json:"domain"`
	Rule   string `json:"rule"`
}

type rule struct {
	domain   string
	keywords []string
	pattern  *regexp.Regexp
}

// KeywordRouter implements keyword-based relevance for domains.
type KeywordRouter struct {
	rules []rule
}

// NewRouter builds one rule per domain that declares keywords or a pattern.
// Synthesis domains are never matched directly.
func NewRouter(domains []models.DomainTask) (*KeywordRouter, error) {
	r := &KeywordRouter{}
	for _, d := range domains {
		if d.Synthesis || (len(d.Keywords) == 0 && d.Pattern == "") {
			continue
		}
		ru := rule{domain: d.Name}
		for _, kw := range d.Keywords {
			ru.keywords = append(ru.keywords, strings.ToLower(kw))
		}
		if d.Pattern != "" {
			re, err := regexp.Compile("(?i)" + d.Pattern)
			if err != nil {
				return nil, fmt.Errorf("domain %s: invalid pattern: %w", d.Name, err)
			}
			ru.pattern = re
		}
		r.rules = append(r.rules, ru)
	}
	return r, nil
}

// Route returns the matching domains in declaration order.
func (r *KeywordRouter) Route(request string) []Match {
	text := strings.ToLower(request)
	var matches []Match
	for _, ru := range r.rules {
		if reason, ok := ru.matches(text); ok {
			matches = append(matches, Match{Domain: ru.domain, Rule: reason})
		}
	}
	return matches
}

// Match returns the names of the matching domains.
func (r *KeywordRouter) Match(request string) []string {
	var names []string
	for _, m := range r.Route(request) {
		names = append(names, m.Domain)
	}
	return names
}

// matches checks the pattern first, then keywords with word boundaries.
func (ru rule) matches(text string) (string, bool) {
	if ru.pattern != nil && ru.pattern.MatchString(text) {
		return "pattern:" + ru.pattern.String()[len("(?i)"):], true
	}
	for _, kw := range ru.keywords {
		if containsWord(text, kw) {
			return "keyword:" + kw, true
		}
	}
	return "", false
}

// containsWord checks if text contains keyword as a whole word.
func containsWord(text, keyword string) bool {
	// Multi-word keywords like "price target" use simple contains
	if strings.Contains(keyword, " ") {
		return strings.Contains(text, keyword)
	}

	for _, word := range strings.Fields(text) {
		cleaned := strings.Trim(word, ".,;:!?\"'()[]{}")
		if cleaned == keyword {
			return true
		}
	}
	return false
}
