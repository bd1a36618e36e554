package digital

import "strings"

// Level describes the logical state of a digital line: either Low or High.
type Level bool

const (
	Low  Level = false
	High Level = true
)

func (l Level) String() string {
	if l {
		return "high"
	}
	return "low"
}

// Edge selects which transitions a backend must detect.
type Edge uint8

const (
	EdgeNone Edge = iota
	EdgeRising
	EdgeFalling
	EdgeBoth
)

func (e Edge) String() string {
	switch e {
	case EdgeRising:
		return "rising"
	case EdgeFalling:
		return "falling"
	case EdgeBoth:
		return "both"
	default:
		return "none"
	}
}

// Matches reports whether a transition from prev to cur qualifies for e.
func (e Edge) Matches(prev, cur Level) bool {
	switch {
	case prev == cur:
		return false
	case e == EdgeBoth:
		return true
	case e == EdgeRising:
		return cur == High
	case e == EdgeFalling:
		return cur == Low
	default:
		return false
	}
}

// Accepts reports whether an observed transition in direction got qualifies
// for e. Used by backends whose hardware reports the direction directly.
func (e Edge) Accepts(got Edge) bool {
	return got != EdgeNone && (e == EdgeBoth || e == got)
}

// ParseEdge converts a string to an Edge.
// Accepts: "rising", "falling", "both", "none" (case-insensitive).
func ParseEdge(s string) Edge {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "rising":
		return EdgeRising
	case "falling":
		return EdgeFalling
	case "both", "any":
		return EdgeBoth
	default:
		return EdgeNone
	}
}

// Condition is what a single wait is waiting for.
type Condition uint8

const (
	condInvalid Condition = iota
	CondHigh
	CondLow
	CondRisingEdge
	CondFallingEdge
	CondAnyEdge
)

func (c Condition) String() string {
	switch c {
	case CondHigh:
		return "high"
	case CondLow:
		return "low"
	case CondRisingEdge:
		return "rising"
	case CondFallingEdge:
		return "falling"
	case CondAnyEdge:
		return "any"
	default:
		return "invalid"
	}
}

// Valid reports whether c names one of the five wait operations.
func (c Condition) Valid() bool { return c >= CondHigh && c <= CondAnyEdge }

// IsLevel reports whether c is a level condition. Level conditions may be
// satisfied at arm time; edge conditions always wait for the next transition.
func (c Condition) IsLevel() bool { return c == CondHigh || c == CondLow }

// Level is the requested level for level conditions. Meaningless for edges.
func (c Condition) Level() Level { return c == CondHigh }

// Edge is the transition a backend must arm to observe c.
func (c Condition) Edge() Edge {
	switch c {
	case CondHigh, CondRisingEdge:
		return EdgeRising
	case CondLow, CondFallingEdge:
		return EdgeFalling
	case CondAnyEdge:
		return EdgeBoth
	default:
		return EdgeNone
	}
}

// ParseCondition converts a string to a Condition.
func ParseCondition(s string) (Condition, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "high":
		return CondHigh, nil
	case "low":
		return CondLow, nil
	case "rising", "rising_edge":
		return CondRisingEdge, nil
	case "falling", "falling_edge":
		return CondFallingEdge, nil
	case "any", "both", "any_edge":
		return CondAnyEdge, nil
	default:
		return condInvalid, ErrInvalidCondition
	}
}

// State is the lifecycle position of one wait.
type State uint8

const (
	Armed State = iota
	Satisfied
	Failed
	Resolved
	Abandoned
)

func (s State) String() string {
	switch s {
	case Armed:
		return "armed"
	case Satisfied:
		return "satisfied"
	case Failed:
		return "failed"
	case Resolved:
		return "resolved"
	case Abandoned:
		return "abandoned"
	default:
		return "unknown"
	}
}
