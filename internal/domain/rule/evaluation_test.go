package rule

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func baseMetrics() RelationshipMetrics {
	return RelationshipMetrics{
		SenderScore:      0.9,
		ReceiverScore:    0.85,
		TransactionCount: 25,
		SuccessRate:      0.96,
		RelationshipAge:  90 * 24 * time.Hour,
		TotalValue:       50000,
		RepeatShipment:   true,
		CurrentTransaction: TransactionFacts{
			Quantity: 10,
			Value:    1200,
			ItemType: "pallet",
		},
	}
}

func TestValidate(t *testing.T) {
	t.Run("valid rule", func(t *testing.T) {
		r := AutomationRule{
			ID:     "trusted-pair",
			Action: ActionInstantValidate,
			Conditions: []Condition{
				{Kind: KindTrustScore, Target: TargetMinOfBoth, Operator: ">=", Threshold: 0.8},
			},
			Enabled: true,
		}
		assert.NoError(t, r.Validate())
	})

	t.Run("rejections", func(t *testing.T) {
		cond := []Condition{{Kind: KindTransactionCount, Operator: ">", Threshold: 5}}
		cases := []struct {
			name string
			r    AutomationRule
		}{
			{"missing id", AutomationRule{Action: ActionAutoApprove, Conditions: cond}},
			{"unknown action", AutomationRule{ID: "x", Action: "approve", Conditions: cond}},
			{"reduce_timeout without multiplier", AutomationRule{ID: "x", Action: ActionReduceTimeout, Conditions: cond}},
			{"no conditions", AutomationRule{ID: "x", Action: ActionAutoApprove}},
			{"bad operator", AutomationRule{ID: "x", Action: ActionAutoApprove,
				Conditions: []Condition{{Kind: KindTrustScore, Target: TargetSender, Operator: "!="}}}},
			{"trust_score without target", AutomationRule{ID: "x", Action: ActionAutoApprove,
				Conditions: []Condition{{Kind: KindTrustScore, Operator: ">"}}}},
			{"pattern without pattern", AutomationRule{ID: "x", Action: ActionAutoApprove,
				Conditions: []Condition{{Kind: KindPattern}}}},
			{"expression without expr", AutomationRule{ID: "x", Action: ActionAutoApprove,
				Conditions: []Condition{{Kind: KindExpression}}}},
			{"unknown kind", AutomationRule{ID: "x", Action: ActionAutoApprove,
				Conditions: []Condition{{Kind: "velocity", Operator: ">"}}}},
		}
		for _, tc := range cases {
			t.Run(tc.name, func(t *testing.T) {
				assert.Error(t, tc.r.Validate())
			})
		}
	})
}

func TestMatches(t *testing.T) {
	m := baseMetrics()

	t.Run("conditions are AND-combined", func(t *testing.T) {
		r := AutomationRule{
			ID: "combo", Action: ActionAutoApprove, Enabled: true,
			Conditions: []Condition{
				{Kind: KindTrustScore, Target: TargetMinOfBoth, Operator: ">=", Threshold: 0.8},
				{Kind: KindTransactionCount, Operator: ">", Threshold: 20},
			},
		}
		ok, err := r.Matches(m)
		require.NoError(t, err)
		assert.True(t, ok)

		r.Conditions[1].Threshold = 30
		ok, err = r.Matches(m)
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("disabled rule never matches", func(t *testing.T) {
		r := AutomationRule{
			ID: "off", Action: ActionAutoApprove, Enabled: false,
			Conditions: []Condition{{Kind: KindTransactionCount, Operator: ">", Threshold: 0}},
		}
		ok, err := r.Matches(m)
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("trust score targets", func(t *testing.T) {
		min := Condition{Kind: KindTrustScore, Target: TargetMinOfBoth, Operator: "==", Threshold: 0.85}
		ok, err := min.holds(m)
		require.NoError(t, err)
		assert.True(t, ok, "min of both reads the lower score")

		sender := Condition{Kind: KindTrustScore, Target: TargetSender, Operator: "==", Threshold: 0.9}
		ok, err = sender.holds(m)
		require.NoError(t, err)
		assert.True(t, ok)
	})

	t.Run("relationship age in days", func(t *testing.T) {
		c := Condition{Kind: KindRelationshipAge, Operator: ">=", Threshold: 90}
		ok, err := c.holds(m)
		require.NoError(t, err)
		assert.True(t, ok)
	})

	t.Run("pattern", func(t *testing.T) {
		c := Condition{Kind: KindPattern, Pattern: PatternRepeatShipment}
		ok, err := c.holds(m)
		require.NoError(t, err)
		assert.True(t, ok)

		m2 := m
		m2.RepeatShipment = false
		ok, err = c.holds(m2)
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("expression", func(t *testing.T) {
		c := Condition{
			Kind: KindExpression,
			Expr: "sender_score >= 0.9 && transaction_count > 20 && item_type == 'pallet'",
		}
		ok, err := c.holds(m)
		require.NoError(t, err)
		assert.True(t, ok)
	})

	t.Run("non-boolean expression errors", func(t *testing.T) {
		c := Condition{Kind: KindExpression, Expr: "sender_score + 1"}
		_, err := c.holds(m)
		assert.Error(t, err)
	})
}

func TestFirstMatch(t *testing.T) {
	m := baseMetrics()
	countAbove := func(id string, threshold float64, priority int) AutomationRule {
		return AutomationRule{
			ID: id, Action: ActionAutoApprove, Enabled: true, Priority: priority,
			Conditions: []Condition{{Kind: KindTransactionCount, Operator: ">", Threshold: threshold}},
		}
	}

	t.Run("highest priority wins", func(t *testing.T) {
		rules := []AutomationRule{
			countAbove("low", 0, 1),
			countAbove("high", 0, 10),
		}
		SortByPriority(rules)
		matched, err := FirstMatch(rules, m)
		require.NoError(t, err)
		require.NotNil(t, matched)
		assert.Equal(t, "high", matched.ID)
	})

	t.Run("id breaks priority ties deterministically", func(t *testing.T) {
		rules := []AutomationRule{
			countAbove("beta", 0, 5),
			countAbove("alpha", 0, 5),
		}
		SortByPriority(rules)
		matched, err := FirstMatch(rules, m)
		require.NoError(t, err)
		assert.Equal(t, "alpha", matched.ID)
	})

	t.Run("erroring rule is skipped", func(t *testing.T) {
		broken := AutomationRule{
			ID: "broken", Action: ActionAutoApprove, Enabled: true, Priority: 10,
			Conditions: []Condition{{Kind: KindExpression, Expr: "((("}},
		}
		rules := []AutomationRule{broken, countAbove("fallback", 0, 1)}
		SortByPriority(rules)
		matched, err := FirstMatch(rules, m)
		require.NotNil(t, matched)
		assert.Equal(t, "fallback", matched.ID)
		assert.Error(t, err, "skipped rule error surfaces for logging")
	})

	t.Run("no match", func(t *testing.T) {
		matched, err := FirstMatch([]AutomationRule{countAbove("never", 1e6, 1)}, m)
		require.NoError(t, err)
		assert.Nil(t, matched)
	})
}

func TestDynamicTimeout(t *testing.T) {
	base := 48 * time.Hour

	t.Run("boosted for high trust", func(t *testing.T) {
		m := baseMetrics()
		assert.Equal(t, 72*time.Hour, DynamicTimeout(base, m))
	})

	t.Run("shrunk for low trust", func(t *testing.T) {
		m := baseMetrics()
		m.SenderScore, m.ReceiverScore = 0.3, 0.6
		assert.Equal(t, 24*time.Hour, DynamicTimeout(base, m))
	})

	t.Run("poor history and high value compound", func(t *testing.T) {
		m := baseMetrics()
		m.SenderScore, m.ReceiverScore = 0.6, 0.6
		m.SuccessRate = 0.5
		m.CurrentTransaction.Value = 20000
		assert.Equal(t, 27*time.Hour, DynamicTimeout(base, m))
	})

	t.Run("clamped to bounds", func(t *testing.T) {
		m := baseMetrics()
		assert.Equal(t, MaxTimeout, DynamicTimeout(200*time.Hour, m))

		m.SenderScore = 0.1
		assert.Equal(t, MinTimeout, DynamicTimeout(30*time.Hour, m))
	})
}
