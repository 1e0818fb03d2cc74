package rules

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/handoff-hub/handoff-hub/internal/domain/rule"
)

const sampleDoc = `
[[rules]]
id = "trusted-instant"
name = "Instant validation for trusted pairs"
action = "instant_validate"
priority = 100
enabled = true

  [[rules.conditions]]
  kind = "trust_score"
  target = "min"
  operator = ">="
  threshold = 0.85

  [[rules.conditions]]
  kind = "transaction_count"
  operator = ">"
  threshold = 20

[[rules]]
id = "repeat-auto-approve"
name = "Delayed approval for repeat shipments"
action = "auto_approve"
delay = "5m"
priority = 50
enabled = true

  [[rules.conditions]]
  kind = "pattern"
  pattern = "repeat_shipment"

[[rules]]
id = "shrink-window"
name = "Tighter window for low-value expressions"
action = "reduce_timeout"
multiplier = 0.5
priority = 10
enabled = false

  [[rules.conditions]]
  kind = "expression"
  expr = "value < 100"
`

func TestParse(t *testing.T) {
	rules, err := Parse([]byte(sampleDoc))
	require.NoError(t, err)
	require.Len(t, rules, 3)

	assert.Equal(t, "trusted-instant", rules[0].ID, "sorted by priority, highest first")
	assert.Equal(t, "repeat-auto-approve", rules[1].ID)
	assert.Equal(t, "shrink-window", rules[2].ID)

	assert.Equal(t, rule.ActionInstantValidate, rules[0].Action)
	require.Len(t, rules[0].Conditions, 2)
	assert.Equal(t, rule.TargetMinOfBoth, rules[0].Conditions[0].Target)

	assert.Equal(t, 5*time.Minute, rules[1].Delay)
	assert.Equal(t, 0.5, rules[2].Multiplier)
	assert.False(t, rules[2].Enabled)
}

func TestParseRejections(t *testing.T) {
	t.Run("malformed toml", func(t *testing.T) {
		_, err := Parse([]byte(`[[rules]`))
		assert.Error(t, err)
	})

	t.Run("invalid delay", func(t *testing.T) {
		doc := `
[[rules]]
id = "x"
action = "auto_approve"
delay = "five minutes"
  [[rules.conditions]]
  kind = "pattern"
  pattern = "repeat_shipment"
`
		_, err := Parse([]byte(doc))
		assert.ErrorContains(t, err, "invalid delay")
	})

	t.Run("invalid rule", func(t *testing.T) {
		doc := `
[[rules]]
id = "x"
action = "make_it_so"
  [[rules.conditions]]
  kind = "pattern"
  pattern = "repeat_shipment"
`
		_, err := Parse([]byte(doc))
		assert.ErrorIs(t, err, rule.ErrInvalidRule)
	})
}

func TestLoad(t *testing.T) {
	t.Run("missing file is an empty rule set", func(t *testing.T) {
		rules, err := Load(filepath.Join(t.TempDir(), "absent.toml"))
		require.NoError(t, err)
		assert.Empty(t, rules)
	})

	t.Run("empty path is an empty rule set", func(t *testing.T) {
		rules, err := Load("")
		require.NoError(t, err)
		assert.Empty(t, rules)
	})

	t.Run("reads from disk", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "rules.toml")
		require.NoError(t, os.WriteFile(path, []byte(sampleDoc), 0o644))

		rules, err := Load(path)
		require.NoError(t, err)
		assert.Len(t, rules, 3)
	})
}
