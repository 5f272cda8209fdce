package access

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/tallystack/tally/internal/config"
)

func TestAllowed_DefaultIsAllow(t *testing.T) {
	c := NewChecker(config.AccessConfig{})
	assert.True(t, c.Allowed("discord", "g1", "u1"))
}

func TestAllowed_FirstMatchWins(t *testing.T) {
	c := NewChecker(config.AccessConfig{Rules: []config.RuleConfig{
		{Platform: "discord", Scope: "g1", User: "u1", Action: "allow"},
		{Platform: "discord", Scope: "g1", Action: "deny"},
	}})

	// u1 hits the specific allow rule before the scope-wide deny.
	assert.True(t, c.Allowed("discord", "g1", "u1"))
	assert.False(t, c.Allowed("discord", "g1", "u2"))
	assert.True(t, c.Allowed("discord", "g2", "u2"))
}

func TestAllowed_Wildcards(t *testing.T) {
	c := NewChecker(config.AccessConfig{Rules: []config.RuleConfig{
		{Platform: "telegram", Scope: "*", User: "*", Action: "deny"},
	}})

	assert.False(t, c.Allowed("telegram", "anything", "anyone"))
	assert.True(t, c.Allowed("discord", "anything", "anyone"))
}

func TestAllowed_EmptyFieldMatchesAnything(t *testing.T) {
	c := NewChecker(config.AccessConfig{Rules: []config.RuleConfig{
		{User: "banned", Action: "deny"},
	}})

	assert.False(t, c.Allowed("discord", "g1", "banned"))
	assert.False(t, c.Allowed("telegram", "g9", "banned"))
	assert.True(t, c.Allowed("discord", "g1", "u1"))
}
