package rule

import (
	"errors"
	"fmt"
	"time"
)

// Action is the side effect a matched rule applies.
type Action string

const (
	// ActionInstantValidate skips manual confirmation entirely.
	ActionInstantValidate Action = "instant_validate"
	// ActionAutoApprove schedules a delayed transition to VALIDATED once the
	// transaction reaches RECEIVED.
	ActionAutoApprove Action = "auto_approve"
	// ActionReduceTimeout rescales the confirmation window by Multiplier.
	ActionReduceTimeout Action = "reduce_timeout"
	// ActionSkipEvidence flags the transaction so disputes proceed without
	// mandatory evidence.
	ActionSkipEvidence Action = "skip_evidence"
	// ActionBatchApprove flags eligibility for bulk external processing.
	ActionBatchApprove Action = "batch_approve"
)

// ConditionKind selects what a condition inspects.
type ConditionKind string

const (
	KindTrustScore       ConditionKind = "trust_score"
	KindTransactionCount ConditionKind = "transaction_count"
	KindRelationshipAge  ConditionKind = "relationship_age_days"
	KindTransactionValue ConditionKind = "transaction_value"
	KindPattern          ConditionKind = "pattern"
	// KindExpression evaluates an arbitrary boolean expression against the
	// metrics snapshot.
	KindExpression ConditionKind = "expression"
)

// Target selects whose trust score a trust_score condition reads.
type Target string

const (
	TargetSender    Target = "sender"
	TargetReceiver  Target = "receiver"
	TargetMinOfBoth Target = "min"
)

// Pattern names a detected relationship pattern.
type Pattern string

const (
	PatternRepeatShipment Pattern = "repeat_shipment"
)

var (
	ErrInvalidRule      = errors.New("invalid automation rule")
	ErrInvalidCondition = errors.New("invalid rule condition")
)

// Condition is one AND-combined predicate of a rule.
type Condition struct {
	Kind      ConditionKind `toml:"kind" json:"kind"`
	Target    Target        `toml:"target,omitempty" json:"target,omitempty"`
	Operator  string        `toml:"operator,omitempty" json:"operator,omitempty"` // >, >=, <, <=, ==
	Threshold float64       `toml:"threshold,omitempty" json:"threshold,omitempty"`
	Pattern   Pattern       `toml:"pattern,omitempty" json:"pattern,omitempty"`
	Expr      string        `toml:"expr,omitempty" json:"expr,omitempty"`
}

// AutomationRule is a priority-ordered policy that can short-circuit the
// manual confirmation protocol. Rules are loaded at orchestrator start and
// read-only afterwards.
type AutomationRule struct {
	ID         string      `toml:"id" json:"id"`
	Name       string      `toml:"name" json:"name"`
	Conditions []Condition `toml:"conditions" json:"conditions"`
	Action     Action      `toml:"action" json:"action"`
	// Multiplier rescales the timeout window for reduce_timeout.
	Multiplier float64 `toml:"multiplier,omitempty" json:"multiplier,omitempty"`
	// Delay postpones the auto_approve transition.
	Delay    time.Duration `toml:"-" json:"delay,omitempty"`
	Priority int           `toml:"priority" json:"priority"`
	Enabled  bool          `toml:"enabled" json:"enabled"`
}

// Validate checks the rule shape before it is admitted to the engine.
func (r *AutomationRule) Validate() error {
	if r.ID == "" {
		return fmt.Errorf("%w: id is required", ErrInvalidRule)
	}
	switch r.Action {
	case ActionInstantValidate, ActionAutoApprove, ActionReduceTimeout, ActionSkipEvidence, ActionBatchApprove:
	default:
		return fmt.Errorf("%w: unknown action %q", ErrInvalidRule, r.Action)
	}
	if r.Action == ActionReduceTimeout && r.Multiplier <= 0 {
		return fmt.Errorf("%w: reduce_timeout requires a positive multiplier", ErrInvalidRule)
	}
	if len(r.Conditions) == 0 {
		return fmt.Errorf("%w: at least one condition is required", ErrInvalidRule)
	}
	for i := range r.Conditions {
		if err := r.Conditions[i].validate(); err != nil {
			return fmt.Errorf("condition %d: %w", i, err)
		}
	}
	return nil
}

func (c *Condition) validate() error {
	switch c.Kind {
	case KindTrustScore:
		switch c.Target {
		case TargetSender, TargetReceiver, TargetMinOfBoth:
		default:
			return fmt.Errorf("%w: trust_score needs target sender|receiver|min", ErrInvalidCondition)
		}
		return validateOperator(c.Operator)
	case KindTransactionCount, KindRelationshipAge, KindTransactionValue:
		return validateOperator(c.Operator)
	case KindPattern:
		if c.Pattern == "" {
			return fmt.Errorf("%w: pattern is required", ErrInvalidCondition)
		}
		return nil
	case KindExpression:
		if c.Expr == "" {
			return fmt.Errorf("%w: expr is required", ErrInvalidCondition)
		}
		return nil
	default:
		return fmt.Errorf("%w: unknown kind %q", ErrInvalidCondition, c.Kind)
	}
}

func validateOperator(op string) error {
	switch op {
	case ">", ">=", "<", "<=", "==":
		return nil
	}
	return fmt.Errorf("%w: unknown operator %q", ErrInvalidCondition, op)
}

// RelationshipMetrics is the live snapshot conditions evaluate against for
// one (sender, receiver) pair.
type RelationshipMetrics struct {
	SenderScore        float64
	ReceiverScore      float64
	TransactionCount   int
	SuccessRate        float64
	AverageSettlement  time.Duration
	RelationshipAge    time.Duration
	TotalValue         float64
	LastItemType       string
	RepeatShipment     bool
	CurrentTransaction TransactionFacts
}

// TransactionFacts carries the per-transaction inputs a rule may inspect.
type TransactionFacts struct {
	Quantity int
	Value    float64
	ItemType string
}
