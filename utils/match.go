package utils

import (
	"regexp"
	"strings"
	"sync"
)

// globCache holds compiled glob patterns keyed by the raw pattern.
var globCache sync.Map // map[string]*regexp.Regexp

// MatchGlob reports whether value matches pattern. The bare "*" matches
// anything; a pattern containing '*' is anchored at both ends with every
// other character taken literally; anything else needs exact equality.
//
//	MatchGlob("documents:*", "documents:123") == true
//	MatchGlob("documents:*", "folders:123")   == false
func MatchGlob(pattern, value string) bool {
	if pattern == "*" {
		return true
	}
	if !strings.Contains(pattern, "*") {
		return pattern == value
	}
	return compileGlob(pattern).MatchString(value)
}

// MatchAnyGlob reports whether any pattern matches any of the values.
func MatchAnyGlob(patterns []string, values ...string) bool {
	for _, p := range patterns {
		for _, v := range values {
			if MatchGlob(p, v) {
				return true
			}
		}
	}
	return false
}

// ContainsAction reports whether actions holds "*" or the exact action.
func ContainsAction(actions []string, action string) bool {
	for _, a := range actions {
		if a == "*" || a == action {
			return true
		}
	}
	return false
}

func compileGlob(pattern string) *regexp.Regexp {
	if re, ok := globCache.Load(pattern); ok {
		return re.(*regexp.Regexp)
	}
	parts := strings.Split(pattern, "*")
	for i, p := range parts {
		parts[i] = regexp.QuoteMeta(p)
	}
	re := regexp.MustCompile("(?s)^" + strings.Join(parts, ".*") + "$")
	actual, _ := globCache.LoadOrStore(pattern, re)
	return actual.(*regexp.Regexp)
}
