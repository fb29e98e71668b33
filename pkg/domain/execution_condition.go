package domain

import (
	"strings"

	"github.com/gatehouse-id/gatehouse/pkg/errs"
)

// ExecutionKind is the trigger class of an execution node.
type ExecutionKind string

const (
	ExecutionKindEvent    ExecutionKind = "event"
	ExecutionKindRequest  ExecutionKind = "request"
	ExecutionKindResponse ExecutionKind = "response"
	ExecutionKindFunction ExecutionKind = "function"
)

// ExecutionCondition selects what fires an execution node. Exactly one of
// Event, Group or All must be set for the event kind; exactly Method or All
// for request/response; Name for function.
type ExecutionCondition struct {
	Kind ExecutionKind

	Event  string // a single event type, e.g. "user.added"
	Group  string // an event-type prefix, e.g. "user"
	Method string // a grpc method for request/response kinds
	Name   string // a function name for the function kind
	All    bool
}

// Validate enforces the exactly-one rule per kind.
func (c ExecutionCondition) Validate() error {
	switch c.Kind {
	case ExecutionKindEvent:
		if exactlyOne(c.Event != "", c.Group != "", c.All) {
			return nil
		}
		return errs.ThrowInvalid(nil, "EXEC-cond-event", "exactly one of event, group or all must be set")
	case ExecutionKindRequest, ExecutionKindResponse:
		if exactlyOne(c.Method != "", c.All) {
			return nil
		}
		return errs.ThrowInvalid(nil, "EXEC-cond-method", "exactly one of method or all must be set")
	case ExecutionKindFunction:
		if c.Name != "" {
			return nil
		}
		return errs.ThrowInvalid(nil, "EXEC-cond-func", "function name must be set")
	default:
		return errs.ThrowInvalid(nil, "EXEC-cond-kind", "unknown execution kind %q", c.Kind)
	}
}

// ID composes the aggregate id of the execution node, e.g. "event-user.added",
// "request-/gatehouse.v1.UserService/AddUser", "event-all", "function-preauth".
func (c ExecutionCondition) ID() string {
	var suffix string
	switch {
	case c.All:
		suffix = "all"
	case c.Event != "":
		suffix = c.Event
	case c.Group != "":
		suffix = c.Group + ".*"
	case c.Method != "":
		suffix = c.Method
	case c.Name != "":
		suffix = c.Name
	}
	return string(c.Kind) + "-" + suffix
}

// ParseExecutionID splits a composed execution id back into kind and suffix.
func ParseExecutionID(id string) (ExecutionKind, string, error) {
	kind, suffix, ok := strings.Cut(id, "-")
	if !ok || suffix == "" {
		return "", "", errs.ThrowInvalid(nil, "EXEC-id", "malformed execution id %q", id)
	}
	switch ExecutionKind(kind) {
	case ExecutionKindEvent, ExecutionKindRequest, ExecutionKindResponse, ExecutionKindFunction:
		return ExecutionKind(kind), suffix, nil
	}
	return "", "", errs.ThrowInvalid(nil, "EXEC-id-kind", "unknown execution kind in id %q", id)
}

func exactlyOne(flags ...bool) bool {
	n := 0
	for _, f := range flags {
		if f {
			n++
		}
	}
	return n == 1
}
