// Package access evaluates allow/deny rules over (platform, scope, user)
// triples. Rules are ordered; the first match wins and the default is
// allow.
package access

import (
	"github.com/tallystack/tally/internal/config"
)

// Checker evaluates access rules loaded from configuration.
type Checker struct {
	rules []config.RuleConfig
}

// NewChecker creates a Checker from the configured rule list.
func NewChecker(cfg config.AccessConfig) *Checker {
	return &Checker{rules: cfg.Rules}
}

// Allowed reports whether activity from the given (platform, scope, user)
// triple may be recorded.
func (c *Checker) Allowed(platform, scope, user string) bool {
	for _, r := range c.rules {
		if matches(r.Platform, platform) && matches(r.Scope, scope) && matches(r.User, user) {
			return r.Action == "allow"
		}
	}
	return true
}

// matches reports whether a rule field matches a value. Empty and "*"
// match anything.
func matches(pattern, value string) bool {
	return pattern == "" || pattern == "*" || pattern == value
}
