package rule

import (
	"fmt"
	"sort"
	"time"

	"github.com/Knetic/govaluate"
)

// Matches reports whether every condition of the rule holds against the
// snapshot. Conditions are AND-combined; a disabled rule never matches.
func (r *AutomationRule) Matches(m RelationshipMetrics) (bool, error) {
	if !r.Enabled {
		return false, nil
	}
	for i := range r.Conditions {
		ok, err := r.Conditions[i].holds(m)
		if err != nil {
			return false, fmt.Errorf("rule %s condition %d: %w", r.ID, i, err)
		}
		if !ok {
			return false, nil
		}
	}
	return true, nil
}

func (c *Condition) holds(m RelationshipMetrics) (bool, error) {
	switch c.Kind {
	case KindTrustScore:
		var score float64
		switch c.Target {
		case TargetSender:
			score = m.SenderScore
		case TargetReceiver:
			score = m.ReceiverScore
		case TargetMinOfBoth:
			score = m.SenderScore
			if m.ReceiverScore < score {
				score = m.ReceiverScore
			}
		}
		return compare(score, c.Operator, c.Threshold), nil
	case KindTransactionCount:
		return compare(float64(m.TransactionCount), c.Operator, c.Threshold), nil
	case KindRelationshipAge:
		return compare(m.RelationshipAge.Hours()/24, c.Operator, c.Threshold), nil
	case KindTransactionValue:
		return compare(m.CurrentTransaction.Value, c.Operator, c.Threshold), nil
	case KindPattern:
		switch c.Pattern {
		case PatternRepeatShipment:
			return m.RepeatShipment, nil
		}
		return false, nil
	case KindExpression:
		return evaluateExpression(c.Expr, m)
	}
	return false, fmt.Errorf("%w: %q", ErrInvalidCondition, c.Kind)
}

func compare(v float64, op string, threshold float64) bool {
	switch op {
	case ">":
		return v > threshold
	case ">=":
		return v >= threshold
	case "<":
		return v < threshold
	case "<=":
		return v <= threshold
	case "==":
		return v == threshold
	}
	return false
}

// evaluateExpression runs a boolean expression over the metrics snapshot.
func evaluateExpression(expr string, m RelationshipMetrics) (bool, error) {
	e, err := govaluate.NewEvaluableExpression(expr)
	if err != nil {
		return false, err
	}
	params := map[string]interface{}{
		"sender_score":          m.SenderScore,
		"receiver_score":        m.ReceiverScore,
		"transaction_count":     m.TransactionCount,
		"success_rate":          m.SuccessRate,
		"relationship_age_days": m.RelationshipAge.Hours() / 24,
		"total_value":           m.TotalValue,
		"quantity":              m.CurrentTransaction.Quantity,
		"value":                 m.CurrentTransaction.Value,
		"item_type":             m.CurrentTransaction.ItemType,
		"repeat_shipment":       m.RepeatShipment,
	}
	result, err := e.Evaluate(params)
	if err != nil {
		return false, err
	}
	b, ok := result.(bool)
	if !ok {
		return false, fmt.Errorf("%w: expression did not evaluate to boolean", ErrInvalidCondition)
	}
	return b, nil
}

// SortByPriority orders rules highest priority first, id as tiebreaker so
// evaluation order is deterministic.
func SortByPriority(rules []AutomationRule) {
	sort.SliceStable(rules, func(i, j int) bool {
		if rules[i].Priority != rules[j].Priority {
			return rules[i].Priority > rules[j].Priority
		}
		return rules[i].ID < rules[j].ID
	})
}

// FirstMatch returns the highest-priority fully-matching enabled rule, or
// nil. Rules whose conditions error are skipped; the error of the last
// skipped rule is returned alongside a later match for logging.
func FirstMatch(rules []AutomationRule, m RelationshipMetrics) (*AutomationRule, error) {
	var lastErr error
	for i := range rules {
		ok, err := rules[i].Matches(m)
		if err != nil {
			lastErr = err
			continue
		}
		if ok {
			return &rules[i], lastErr
		}
	}
	return nil, lastErr
}

// Dynamic timeout bounds.
const (
	MinTimeout = 24 * time.Hour
	MaxTimeout = 168 * time.Hour

	highTrustThreshold  = 0.8
	lowTrustThreshold   = 0.4
	lowSuccessThreshold = 0.7
	highValueThreshold  = 10000
)

// DynamicTimeout computes a per-transaction confirmation window from the
// base window: boosted for high-trust pairs, shrunk for low trust, poor
// historical success, or high-value transfers, clamped to [MinTimeout,
// MaxTimeout].
func DynamicTimeout(base time.Duration, m RelationshipMetrics) time.Duration {
	mult := 1.0
	minScore := m.SenderScore
	if m.ReceiverScore < minScore {
		minScore = m.ReceiverScore
	}
	switch {
	case minScore >= highTrustThreshold:
		mult *= 1.5
	case minScore < lowTrustThreshold:
		mult *= 0.5
	}
	if m.TransactionCount > 0 && m.SuccessRate < lowSuccessThreshold {
		mult *= 0.75
	}
	if m.CurrentTransaction.Value >= highValueThreshold {
		mult *= 0.75
	}
	d := time.Duration(float64(base) * mult)
	if d < MinTimeout {
		return MinTimeout
	}
	if d > MaxTimeout {
		return MaxTimeout
	}
	return d
}
