package strategy

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"main/internal/event"
)

var (
	// ErrMissingIndicator marks a transient evaluation fault: the snapshot
	// did not carry a value the strategy needs. The pass is skipped, state
	// is unchanged.
	ErrMissingIndicator = errors.New("indicator value missing from snapshot")

	// ErrUnknownOperator and ErrUnknownLogic are structural faults. A machine
	// hitting one stops evaluating until explicitly reset.
	ErrUnknownOperator = errors.New("unknown comparison operator")
	ErrUnknownLogic    = errors.New("unknown group logic")
)

// Logic combines the conditions of a group.
type Logic string

const (
	LogicAnd Logic = "AND"
	LogicOr  Logic = "OR"
)

// CompareOp compares an indicator value against a threshold.
type CompareOp string

const (
	OpGT  CompareOp = ">"
	OpLT  CompareOp = "<"
	OpGTE CompareOp = ">="
	OpLTE CompareOp = "<="
	OpEQ  CompareOp = "=="
	OpNEQ CompareOp = "!="
)

// Condition is a single indicator threshold check.
type Condition struct {
	Indicator string
	Op        CompareOp
	Threshold float64
}

func (c Condition) validate() error {
	if c.Indicator == "" {
		return fmt.Errorf("condition has empty indicator")
	}
	switch c.Op {
	case OpGT, OpLT, OpGTE, OpLTE, OpEQ, OpNEQ:
		return nil
	default:
		return fmt.Errorf("%w: %q", ErrUnknownOperator, c.Op)
	}
}

func (c Condition) evaluate(values map[string]float64) (event.ConditionSnapshot, error) {
	snap := event.ConditionSnapshot{
		Indicator: c.Indicator,
		Operator:  string(c.Op),
		Threshold: c.Threshold,
	}
	value, ok := values[c.Indicator]
	if !ok {
		return snap, fmt.Errorf("%w: %s", ErrMissingIndicator, c.Indicator)
	}
	snap.Value = value

	switch c.Op {
	case OpGT:
		snap.Satisfied = value > c.Threshold
	case OpLT:
		snap.Satisfied = value < c.Threshold
	case OpGTE:
		snap.Satisfied = value >= c.Threshold
	case OpLTE:
		snap.Satisfied = value <= c.Threshold
	case OpEQ:
		snap.Satisfied = value == c.Threshold
	case OpNEQ:
		snap.Satisfied = value != c.Threshold
	default:
		return snap, fmt.Errorf("%w: %q", ErrUnknownOperator, c.Op)
	}
	return snap, nil
}

// Group is an ordered list of conditions combined by a logic operator.
type Group struct {
	Logic      Logic
	Conditions []Condition
}

func (g Group) validate() error {
	if len(g.Conditions) == 0 {
		return nil
	}
	switch g.Logic {
	case LogicAnd, LogicOr:
	default:
		return fmt.Errorf("%w: %q", ErrUnknownLogic, g.Logic)
	}
	for _, c := range g.Conditions {
		if err := c.validate(); err != nil {
			return err
		}
	}
	return nil
}

// Empty reports whether the group has no conditions. An empty group is never
// satisfied.
func (g Group) Empty() bool { return len(g.Conditions) == 0 }

// Evaluate checks the group against the given indicator snapshot. A missing
// indicator value aborts the pass with ErrMissingIndicator.
func (g Group) Evaluate(values map[string]float64) (bool, []event.ConditionSnapshot, error) {
	if g.Empty() {
		return false, nil, nil
	}

	snaps := make([]event.ConditionSnapshot, 0, len(g.Conditions))
	satisfied := 0
	for _, c := range g.Conditions {
		snap, err := c.evaluate(values)
		if err != nil {
			return false, nil, err
		}
		snaps = append(snaps, snap)
		if snap.Satisfied {
			satisfied++
		}
	}

	switch g.Logic {
	case LogicAnd:
		return satisfied == len(g.Conditions), snaps, nil
	case LogicOr:
		return satisfied > 0, snaps, nil
	default:
		return false, nil, fmt.Errorf("%w: %q", ErrUnknownLogic, g.Logic)
	}
}

// Strategy is an immutable pump-trading rule set: five ordered condition
// groups plus the timing and sizing parameters of the detect → confirm →
// enter → exit cycle. Mutation of a running strategy means loading a new
// version with a new id.
type Strategy struct {
	ID string

	Detect     Group // S1: pump detection
	Cancel     Group // O1: detection cancelled before entry
	Confirm    Group // Z1: entry confirmation
	TakeProfit Group // ZE1: profit exit
	Emergency  Group // E1: emergency exit

	Quantity     decimal.Decimal
	EntryTimeout time.Duration // max wait in SIGNAL_DETECTED for Z1
	Cooldown     time.Duration // pause in EXITED before re-arming
}

// Validate checks the strategy is structurally usable.
func (s Strategy) Validate() error {
	if s.ID == "" {
		return fmt.Errorf("strategy has empty id")
	}
	if s.Detect.Empty() {
		return fmt.Errorf("strategy %s: detection group S1 has no conditions", s.ID)
	}
	if !s.Quantity.IsPositive() {
		return fmt.Errorf("strategy %s: quantity must be > 0", s.ID)
	}
	if s.EntryTimeout <= 0 {
		return fmt.Errorf("strategy %s: entry timeout must be > 0", s.ID)
	}
	if s.Cooldown <= 0 {
		return fmt.Errorf("strategy %s: cooldown must be > 0", s.ID)
	}
	for name, g := range map[string]Group{
		"S1": s.Detect, "O1": s.Cancel, "Z1": s.Confirm, "ZE1": s.TakeProfit, "E1": s.Emergency,
	} {
		if err := g.validate(); err != nil {
			return fmt.Errorf("strategy %s group %s: %w", s.ID, name, err)
		}
	}
	return nil
}
