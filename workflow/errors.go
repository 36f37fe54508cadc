package workflow

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinels for errors.Is checks against the typed errors below.
var (
	ErrGraphValidation  = errors.New("graph validation failed")
	ErrExecutionLimit   = errors.New("execution limit exceeded")
	ErrInvalidState     = errors.New("invalid initial state")
	ErrRouting          = errors.New("routing failed")
	ErrConflictingWrite = errors.New("conflicting writes")
)

// GraphValidationError is returned by Build when the graph is malformed.
type GraphValidationError struct {
	Node   string
	Edge   string
	Reason string
}

func (e *GraphValidationError) Error() string {
	var b strings.Builder
	b.WriteString("graph validation failed")
	if e.Node != "" {
		fmt.Fprintf(&b, ": node %q", e.Node)
	}
	if e.Edge != "" {
		fmt.Fprintf(&b, ": edge %s", e.Edge)
	}
	b.WriteString(": ")
	b.WriteString(e.Reason)
	return b.String()
}

func (e *GraphValidationError) Is(target error) bool { return target == ErrGraphValidation }

// NodeExecutionError describes a node failure. The executor recovers it,
// records it in the run log and continues with the node's fallback delta.
type NodeExecutionError struct {
	Node     string
	Step     int
	Attempts int
	Cause    error
}

func (e *NodeExecutionError) Error() string {
	return fmt.Sprintf("node %q failed at step %d after %d attempt(s): %v", e.Node, e.Step, e.Attempts, e.Cause)
}

func (e *NodeExecutionError) Unwrap() error { return e.Cause }

// ExecutionLimitExceeded aborts a run whose frontier is still non-empty
// after MaxSteps steps.
type ExecutionLimitExceeded struct {
	MaxSteps int
	Pending  []string
}

func (e *ExecutionLimitExceeded) Error() string {
	return fmt.Sprintf("execution limit exceeded: %d steps, pending nodes [%s]", e.MaxSteps, strings.Join(e.Pending, ", "))
}

func (e *ExecutionLimitExceeded) Is(target error) bool { return target == ErrExecutionLimit }

// InitialStateError rejects caller input that does not fit the schema.
type InitialStateError struct {
	Field  string
	Reason string
}

func (e *InitialStateError) Error() string {
	return fmt.Sprintf("invalid initial state: field %q: %s", e.Field, e.Reason)
}

func (e *InitialStateError) Is(target error) bool { return target == ErrInvalidState }

// RoutingError aborts a run when a router fails or returns a target
// outside its declared set.
type RoutingError struct {
	Source string
	Target string
	Cause  error
}

func (e *RoutingError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("routing from %q failed: %v", e.Source, e.Cause)
	}
	return fmt.Sprintf("routing from %q returned undeclared target %q", e.Source, e.Target)
}

func (e *RoutingError) Unwrap() error { return e.Cause }

func (e *RoutingError) Is(target error) bool { return target == ErrRouting }

// ConflictingWritesError aborts a run when two nodes of the same frontier
// write the same state field.
type ConflictingWritesError struct {
	Step  int
	Field string
	Nodes []string
}

func (e *ConflictingWritesError) Error() string {
	return fmt.Sprintf("step %d: field %q written by multiple nodes [%s]", e.Step, e.Field, strings.Join(e.Nodes, ", "))
}

func (e *ConflictingWritesError) Is(target error) bool { return target == ErrConflictingWrite }

// RevisionLimitReached is a condition, not a failure: the revision loop hit
// its round ceiling and approvals were forced. It is logged and recorded in
// the run log but never returned from Run.
type RevisionLimitReached struct {
	Reviewer   string
	Round      int
	Unapproved []string
}

func (e *RevisionLimitReached) Error() string {
	return fmt.Sprintf("revision limit reached at round %d; forced approval of [%s]", e.Round, strings.Join(e.Unapproved, ", "))
}
